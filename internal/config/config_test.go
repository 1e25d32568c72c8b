/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}
	if cfg.Storage.Driver != "sqlite3" || cfg.Sequences.Backend != "storage" {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}
	if cfg.IMAP.Delimiter != "/" || cfg.Events.Retries != 3 {
		t.Errorf("Unexpected defaults: %+v", cfg.IMAP)
	}
}

func TestLoadFileAndEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, `
storage:
  driver: postgres
  dsn: postgres://mail@localhost/mail?sslmode=disable
sequences:
  backend: redis
redis:
  addr: redis:6379
imap:
  username: alice
log:
  level: debug
`)
	t.Setenv("YGGMAILSTORE_IMAP_USERNAME", "bob")
	t.Setenv("YGGMAILSTORE_REDIS_DB", "2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Redis.Addr != "redis:6379" {
		t.Errorf("Expected file values, got %+v", cfg)
	}
	if cfg.IMAP.Username != "bob" || cfg.Redis.DB != 2 {
		t.Errorf("Expected environment overrides, got username=%q db=%d", cfg.IMAP.Username, cfg.Redis.DB)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug, got %q", cfg.Log.Level)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("YGGMAILSTORE_STORAGE_DRIVER=memory\n"), 0o600); err != nil {
		t.Fatalf("Failed to write .env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("YGGMAILSTORE_STORAGE_DRIVER") })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("Expected driver from .env, got %q", cfg.Storage.Driver)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(c *Config)
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres"; c.Storage.DSN = "" }},
		{"unknown sequences", func(c *Config) { c.Sequences.Backend = "zookeeper" }},
		{"empty delimiter", func(c *Config) { c.IMAP.Delimiter = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Storage:   StorageConfig{Driver: "sqlite3", Path: "x.db"},
				Sequences: SequencesConfig{Backend: "storage"},
				IMAP:      IMAPConfig{Delimiter: "/"},
			}
			tt.edit(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Expected validation error")
			}
		})
	}
}
