/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package memory provides in-process storage drivers. They satisfy the
// same single-row atomicity contract as the persistent drivers and are
// suited to single-node deployments and tests.
package memory

import (
	"github.com/JB-SelfCompany/yggmailstore/internal/store"
)

type Storage struct {
	Messages  *Messages
	UIDs      *Sequences
	ModSeqs   *Sequences
	Counters  *Counters
	Mailboxes *Mailboxes
}

func New() *Storage {
	return &Storage{
		Messages:  NewMessages(),
		UIDs:      &Sequences{},
		ModSeqs:   &Sequences{},
		Counters:  &Counters{},
		Mailboxes: NewMailboxes(),
	}
}

func (s *Storage) Drivers() store.Drivers {
	return store.Drivers{
		Rows:     s.Messages,
		UIDs:     s.UIDs,
		ModSeqs:  s.ModSeqs,
		Counters: s.Counters,
	}
}
