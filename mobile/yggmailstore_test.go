/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package mobile

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/google/go-cmp/cmp"

	"github.com/JB-SelfCompany/yggmailstore/internal/config"
	"github.com/JB-SelfCompany/yggmailstore/internal/storage/types"
)

type mailRecorder struct {
	mu    sync.Mutex
	mails []string
}

func (r *mailRecorder) OnNewMail(mailbox, from, subject string, uid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mails = append(r.mails, mailbox+": "+subject)
}

func (r *mailRecorder) received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.mails...)
}

func testConfig(driver, path string) *config.Config {
	return &config.Config{
		Storage:   config.StorageConfig{Driver: driver, Path: path},
		Sequences: config.SequencesConfig{Backend: "storage"},
		IMAP: config.IMAPConfig{
			Listen:    "127.0.0.1:0",
			Insecure:  true,
			Delimiter: "/",
		},
		Events: config.EventsConfig{Retries: 1},
		Log:    config.LogConfig{Level: "error"},
	}
}

func startService(t *testing.T, cfg *config.Config) *YggmailStoreService {
	t.Helper()
	s := NewServiceWithConfig(cfg, io.Discard)
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Fatal("Start without an account should fail")
	}
	if err := s.SetAccount("alice", "secret"); err != nil {
		t.Fatalf("SetAccount failed: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		if s.IsRunning() {
			s.Stop()
		}
		s.Close()
	})
	return s
}

func TestServiceLifecycle(t *testing.T) {
	for _, driver := range []string{"memory", "sqlite3"} {
		t.Run(driver, func(t *testing.T) {
			s := startService(t, testConfig(driver, filepath.Join(t.TempDir(), "test.db")))
			recorder := &mailRecorder{}
			s.SetMailCallback(recorder)

			if ok, err := s.VerifyPassword("secret"); err != nil || !ok {
				t.Errorf("VerifyPassword(secret) = %v, %v", ok, err)
			}
			if ok, _ := s.VerifyPassword("wrong"); ok {
				t.Error("VerifyPassword accepted a wrong password")
			}
			if err := s.CreateMailbox("Archive"); err != nil {
				t.Fatalf("CreateMailbox failed: %v", err)
			}
			names, err := s.GetMailboxList()
			if err != nil {
				t.Fatalf("GetMailboxList failed: %v", err)
			}
			if diff := cmp.Diff([]string{"Archive", "INBOX"}, names); diff != "" {
				t.Errorf("mailboxes mismatch (-want +got):\n%s", diff)
			}

			c, err := client.Dial(s.GetIMAPAddress())
			if err != nil {
				t.Fatalf("client.Dial failed: %v", err)
			}
			defer c.Logout()
			if err := c.Login("alice", "secret"); err != nil {
				t.Fatalf("Login failed: %v", err)
			}
			for _, subject := range []string{"one", "two", "three"} {
				body := "Subject: " + subject + "\r\nFrom: bob@example.com\r\n\r\nbody\r\n"
				if err := c.Append("INBOX", nil, time.Now(), bytes.NewBufferString(body)); err != nil {
					t.Fatalf("Append failed: %v", err)
				}
			}

			if diff := cmp.Diff([]string{"INBOX: one", "INBOX: two", "INBOX: three"}, recorder.received()); diff != "" {
				t.Errorf("callbacks mismatch (-want +got):\n%s", diff)
			}
			if n, _ := s.GetMailCount("INBOX"); n != 3 {
				t.Errorf("expected 3 mails, got %d", n)
			}
			if err := s.MarkMailSeen("INBOX", 1, true); err != nil {
				t.Fatalf("MarkMailSeen failed: %v", err)
			}
			if err := s.MarkMailFlagged("INBOX", 2, true); err != nil {
				t.Fatalf("MarkMailFlagged failed: %v", err)
			}
			if err := s.MarkMailSeen("INBOX", 42, true); !errors.Is(err, types.ErrMessageNotFound) {
				t.Errorf("expected ErrMessageNotFound, got %v", err)
			}
			if n, _ := s.GetUnseenCount("INBOX"); n != 2 {
				t.Errorf("expected 2 unseen mails, got %d", n)
			}

			mails, err := s.GetMailList("INBOX")
			if err != nil {
				t.Fatalf("GetMailList failed: %v", err)
			}
			want := []*MailInfo{
				{UID: 1, From: "bob@example.com", Subject: "one", Seen: true},
				{UID: 2, From: "bob@example.com", Subject: "two", Flagged: true},
				{UID: 3, From: "bob@example.com", Subject: "three"},
			}
			if diff := cmp.Diff(want, mails); diff != "" {
				t.Errorf("mail list mismatch (-want +got):\n%s", diff)
			}

			content, err := s.GetMailContent("INBOX", 3)
			if err != nil || content != "Subject: three\r\nFrom: bob@example.com\r\n\r\nbody\r\n" {
				t.Errorf("GetMailContent = %q, %v", content, err)
			}
			if err := s.DeleteMail("INBOX", 3); err != nil {
				t.Fatalf("DeleteMail failed: %v", err)
			}
			if n, _ := s.GetMailCount("INBOX"); n != 2 {
				t.Errorf("expected 2 mails after delete, got %d", n)
			}

			if err := s.Stop(); err != nil {
				t.Fatalf("Stop failed: %v", err)
			}
			if err := s.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}
		})
	}
}
