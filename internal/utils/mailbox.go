/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package utils

import (
	"fmt"
	"strings"
)

const Inbox = "INBOX"

// PrivateNamespace is the namespace of every user's own mailboxes.
const PrivateNamespace = "#private"

// NormalizeMailboxName trims surrounding space and a trailing delimiter,
// and folds any case of "inbox" to INBOX as IMAP requires.
func NormalizeMailboxName(name, delimiter string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimSuffix(name, delimiter)
	if strings.EqualFold(name, Inbox) {
		return Inbox
	}
	if head, rest, ok := strings.Cut(name, delimiter); ok && strings.EqualFold(head, Inbox) {
		return Inbox + delimiter + rest
	}
	return name
}

// ValidateMailboxName rejects names that cannot be stored: empty names,
// empty hierarchy levels and names containing list wildcards.
func ValidateMailboxName(name, delimiter string) error {
	if name == "" {
		return fmt.Errorf("empty mailbox name")
	}
	if strings.ContainsAny(name, "%*") {
		return fmt.Errorf("mailbox name %q contains a wildcard", name)
	}
	for _, part := range strings.Split(name, delimiter) {
		if part == "" {
			return fmt.Errorf("mailbox name %q has an empty hierarchy level", name)
		}
	}
	return nil
}

// ParseUsername returns the canonical account name for an IMAP login,
// which may be given as a bare name or as an address.
func ParseUsername(login string) (string, error) {
	login = strings.ToLower(strings.TrimSpace(login))
	if at := strings.LastIndex(login, "@"); at >= 0 {
		login = login[:at]
	}
	if login == "" {
		return "", fmt.Errorf("invalid username")
	}
	return login, nil
}
