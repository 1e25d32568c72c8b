/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/JB-SelfCompany/yggmailstore/internal/config"
	"github.com/JB-SelfCompany/yggmailstore/internal/logging"
	"github.com/JB-SelfCompany/yggmailstore/mobile"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	password := flag.Bool("password", false, "prompt for a password and print its hash for imap.password_hash")
	flag.Parse()

	log := logging.New(color.Output, "yggmailstore", "info")

	if *password {
		log.Println("Please enter your new password:")
		password1, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			panic(err)
		}
		fmt.Println()
		log.Println("Please enter your new password again:")
		password2, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			panic(err)
		}
		fmt.Println()
		if !bytes.Equal(password1, password2) {
			log.Println("The supplied passwords do not match")
			os.Exit(1)
		}
		hash, err := bcrypt.GenerateFromPassword(bytes.TrimSpace(password1), bcrypt.DefaultCost)
		if err != nil {
			panic(err)
		}
		fmt.Println(string(hash))
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %s", err)
	}
	if cfg.IMAP.Username == "" || cfg.IMAP.PasswordHash == "" {
		log.Fatalf("imap.username and imap.password_hash must be set, use -password to generate a hash")
	}

	service := mobile.NewServiceWithConfig(cfg, color.Output)
	if err := service.Initialize(); err != nil {
		log.Fatalf("Failed to initialize: %s", err)
	}
	if err := service.Start(); err != nil {
		service.Close()
		log.Fatalf("Failed to start: %s", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	log.Println("Shutting down")

	if err := service.Stop(); err != nil {
		log.Errorf("Failed to stop: %s", err)
	}
	if err := service.Close(); err != nil {
		log.Errorf("Failed to close storage: %s", err)
	}
}
