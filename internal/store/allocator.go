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
	"fmt"
	"math"

	"github.com/JB-SelfCompany/yggmailstore/internal/storage/types"
)

// Allocator hands out per-mailbox identifiers from a Sequencer. Values are
// unique and increasing per mailbox; gaps are allowed.
type Allocator struct {
	name  string
	seq   Sequencer
	limit uint64
}

func NewUIDAllocator(seq Sequencer) *Allocator {
	return &Allocator{name: "uid", seq: seq, limit: math.MaxUint32}
}

func NewModSeqAllocator(seq Sequencer) *Allocator {
	return &Allocator{name: "modseq", seq: seq, limit: math.MaxInt64}
}

// Next allocates a new value for the mailbox. The first value is 1.
func (a *Allocator) Next(ctx context.Context, mailboxID string) (uint64, error) {
	v, err := a.seq.Increment(ctx, mailboxID)
	if err != nil {
		return 0, types.Unavailable(a.name+".Increment", err)
	}
	switch {
	case v == 0:
		return 0, types.Unavailable(a.name+".Increment", fmt.Errorf("sequence for %s returned 0", mailboxID))
	case v > a.limit:
		return 0, fmt.Errorf("%s %d for mailbox %s: %w", a.name, v, mailboxID, types.ErrUIDSpaceExhausted)
	}
	return v, nil
}

// Last returns the most recently allocated value, or 0.
func (a *Allocator) Last(ctx context.Context, mailboxID string) (uint64, error) {
	v, err := a.seq.Current(ctx, mailboxID)
	if err != nil {
		return 0, types.Unavailable(a.name+".Current", err)
	}
	return v, nil
}
