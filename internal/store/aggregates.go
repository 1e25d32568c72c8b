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

	"github.com/JB-SelfCompany/yggmailstore/internal/storage/types"
)

// Aggregates maintains the denormalised per-mailbox totals. They are only
// ever moved by atomic increments and are not tied to the row writes, so
// a failure between the two leaves them drifted until reconciled.
type Aggregates struct {
	counters CounterStore
}

func NewAggregates(counters CounterStore) *Aggregates {
	return &Aggregates{counters: counters}
}

func (a *Aggregates) Increment(ctx context.Context, mailboxID string, counter types.Counter) error {
	return types.Unavailable("counters.Add", a.counters.Add(ctx, mailboxID, counter, 1))
}

func (a *Aggregates) Decrement(ctx context.Context, mailboxID string, counter types.Counter) error {
	return types.Unavailable("counters.Add", a.counters.Add(ctx, mailboxID, counter, -1))
}

// Read returns the counter value, 0 if it was never written.
func (a *Aggregates) Read(ctx context.Context, mailboxID string, counter types.Counter) (int64, error) {
	v, err := a.counters.Get(ctx, mailboxID, counter)
	if err != nil {
		return 0, types.Unavailable("counters.Get", err)
	}
	return v, nil
}
