/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package store

import (
	"context"

	"github.com/JB-SelfCompany/yggmailstore/internal/events"
	"github.com/JB-SelfCompany/yggmailstore/internal/storage/msgrange"
	"github.com/JB-SelfCompany/yggmailstore/internal/storage/types"
)

// Query selects message rows of one mailbox. Rows must carry every flag in
// With and none of the flags in Without. A Limit of zero or less returns
// every matching row.
type Query struct {
	MailboxID string
	Predicate msgrange.Predicate
	Fetch     types.FetchType
	With      types.Flags
	Without   types.Flags
	Limit     int
}

// MessageRows is the row storage the message store writes through. None
// of its operations may span more than one row.
type MessageRows interface {
	// Put upserts the row keyed by (MailboxID, UID).
	Put(ctx context.Context, msg *types.Message) error
	// PutFlags rewrites the flags and modseq of an existing row. It
	// returns types.ErrMessageNotFound if the row does not exist.
	PutFlags(ctx context.Context, mailboxID string, uid uint32, modSeq uint64, flags types.Flags) error
	// Remove deletes a row and returns the flags it carried. It returns
	// types.ErrMessageNotFound if the row does not exist.
	Remove(ctx context.Context, mailboxID string, uid uint32) (types.Flags, error)
	// Scan returns the matching rows in ascending uid order.
	Scan(ctx context.Context, q Query) ([]*types.Message, error)
}

// Sequencer is an atomic per-mailbox counter.
type Sequencer interface {
	// Increment atomically adds one and returns the new value.
	Increment(ctx context.Context, mailboxID string) (uint64, error)
	// Current returns the value without changing it, 0 if unset.
	Current(ctx context.Context, mailboxID string) (uint64, error)
}

// CounterStore keeps the per-mailbox aggregate totals.
type CounterStore interface {
	Add(ctx context.Context, mailboxID string, counter types.Counter, delta int64) error
	Get(ctx context.Context, mailboxID string, counter types.Counter) (int64, error)
}

// Publisher receives the change feed of the store.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// Drivers binds the storage primitives a Store composes. Rows, sequences
// and counters may come from different backends.
type Drivers struct {
	Rows     MessageRows
	UIDs     Sequencer
	ModSeqs  Sequencer
	Counters CounterStore
}
