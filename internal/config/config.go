/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "YGGMAILSTORE"

type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Sequences SequencesConfig `mapstructure:"sequences"`
	Redis     RedisConfig     `mapstructure:"redis"`
	IMAP      IMAPConfig      `mapstructure:"imap"`
	Events    EventsConfig    `mapstructure:"events"`
	Log       LogConfig       `mapstructure:"log"`
}

// StorageConfig selects where mailboxes and messages live. Driver is one
// of "sqlite3", "sqlite", "postgres" or "memory".
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Path   string `mapstructure:"path"` // SQLite database file when DSN is empty
}

// SequencesConfig selects the backend of the uid/modseq allocators and
// aggregate counters: "storage" to keep them with the messages, or
// "redis" to share them between nodes.
type SequencesConfig struct {
	Backend string `mapstructure:"backend"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type IMAPConfig struct {
	Listen       string `mapstructure:"listen"`
	Insecure     bool   `mapstructure:"insecure"`
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Delimiter    string `mapstructure:"delimiter"`
}

type EventsConfig struct {
	Retries int `mapstructure:"retries"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.driver", "sqlite3")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.path", "yggmailstore.db")
	v.SetDefault("sequences.backend", "storage")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("imap.listen", "127.0.0.1:1143")
	v.SetDefault("imap.insecure", true)
	v.SetDefault("imap.username", "")
	v.SetDefault("imap.password_hash", "")
	v.SetDefault("imap.delimiter", "/")
	v.SetDefault("events.retries", 3)
	v.SetDefault("log.level", "info")
}

// Load reads the YAML file at path, if any, over the built-in defaults.
// Variables from a .env file in the working directory and the process
// environment, named YGGMAILSTORE_<SECTION>_<KEY>, override both.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("godotenv.Load: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite3", "sqlite":
		if c.Storage.DSN == "" && c.Storage.Path == "" {
			return fmt.Errorf("storage.path or storage.dsn is required for %s", c.Storage.Driver)
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	switch c.Sequences.Backend {
	case "storage":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for redis sequences")
		}
	default:
		return fmt.Errorf("unknown sequences.backend %q", c.Sequences.Backend)
	}
	if c.IMAP.Delimiter == "" {
		return fmt.Errorf("imap.delimiter must not be empty")
	}
	if c.Events.Retries < 0 {
		return fmt.Errorf("events.retries must not be negative")
	}
	return nil
}
