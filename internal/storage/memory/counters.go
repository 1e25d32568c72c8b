/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package memory

import (
	"context"
	"sync"

	"go.uber.org/atomic"

	"github.com/JB-SelfCompany/yggmailstore/internal/storage/types"
)

// Sequences is a set of per-mailbox atomic counters.
type Sequences struct {
	values sync.Map // map[string]*atomic.Uint64
}

func (s *Sequences) counter(mailboxID string) *atomic.Uint64 {
	v, _ := s.values.LoadOrStore(mailboxID, atomic.NewUint64(0))
	return v.(*atomic.Uint64)
}

func (s *Sequences) Increment(ctx context.Context, mailboxID string) (uint64, error) {
	return s.counter(mailboxID).Inc(), nil
}

func (s *Sequences) Current(ctx context.Context, mailboxID string) (uint64, error) {
	if v, ok := s.values.Load(mailboxID); ok {
		return v.(*atomic.Uint64).Load(), nil
	}
	return 0, nil
}

type counterKey struct {
	mailboxID string
	counter   types.Counter
}

// Counters holds the per-mailbox aggregate totals.
type Counters struct {
	values sync.Map // map[counterKey]*atomic.Int64
}

func (c *Counters) Add(ctx context.Context, mailboxID string, counter types.Counter, delta int64) error {
	v, _ := c.values.LoadOrStore(counterKey{mailboxID, counter}, atomic.NewInt64(0))
	v.(*atomic.Int64).Add(delta)
	return nil
}

func (c *Counters) Get(ctx context.Context, mailboxID string, counter types.Counter) (int64, error) {
	if v, ok := c.values.Load(counterKey{mailboxID, counter}); ok {
		return v.(*atomic.Int64).Load(), nil
	}
	return 0, nil
}
