/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package utils

import "testing"

func TestNormalizeMailboxName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"inbox lower case", "inbox", "INBOX"},
		{"inbox mixed case", "InBoX", "INBOX"},
		{"inbox child", "inbox/Receipts", "INBOX/Receipts"},
		{"trailing delimiter", "Work/", "Work"},
		{"surrounding space", " Work ", "Work"},
		{"other names keep case", "Archive", "Archive"},
		{"inbox prefix only", "Inboxes", "Inboxes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeMailboxName(tt.in, "/"); got != tt.want {
				t.Errorf("NormalizeMailboxName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidateMailboxName(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"simple", "Work", false},
		{"nested", "Work/2024", false},
		{"empty", "", true},
		{"wildcard", "Work/%", true},
		{"star", "W*", true},
		{"empty level", "Work//2024", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMailboxName(tt.in, "/")
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMailboxName(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
		})
	}
}

func TestParseUsername(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"alice", "alice", false},
		{" Alice@Example.org ", "alice", false},
		{"@example.org", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseUsername(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseUsername(%q) = %q, %v", tt.in, got, err)
		}
	}
}
