/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package logging

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// RangeOperation tracks a single multi-row operation (flag update,
// expunge) so that a failure can report how much of it was applied.
type RangeOperation struct {
	OpID      string
	Kind      string
	Mailbox   string
	Range     string
	Total     int
	StartTime time.Time
	applied   int
	lastUID   uint32
	mu        sync.Mutex
}

// Applied returns the number of rows applied so far and the uid of the
// last one.
func (op *RangeOperation) Applied() (int, uint32) {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.applied, op.lastUID
}

// RangeTracker keeps the set of in-flight range operations.
type RangeTracker struct {
	log        Logger
	nextID     atomic.Uint64
	operations sync.Map // map[string]*RangeOperation
}

func NewRangeTracker(log Logger) *RangeTracker {
	return &RangeTracker{log: log}
}

// Start begins tracking an operation of kind over total matched rows.
func (t *RangeTracker) Start(kind, mailbox, rng string, total int) *RangeOperation {
	op := &RangeOperation{
		OpID:      fmt.Sprintf("%s-%d", kind, t.nextID.Inc()),
		Kind:      kind,
		Mailbox:   mailbox,
		Range:     rng,
		Total:     total,
		StartTime: time.Now(),
	}
	t.operations.Store(op.OpID, op)
	t.log.Debugf("[%s] START mailbox=%s range=%s rows=%d", op.OpID, mailbox, rng, total)
	return op
}

// Step records that the row with the given uid has been applied.
func (t *RangeTracker) Step(op *RangeOperation, uid uint32) {
	op.mu.Lock()
	op.applied++
	op.lastUID = uid
	op.mu.Unlock()
}

// End stops tracking op. A non-nil err is logged together with the
// applied prefix.
func (t *RangeTracker) End(op *RangeOperation, err error) {
	t.operations.Delete(op.OpID)
	applied, last := op.Applied()
	elapsed := time.Since(op.StartTime).Round(time.Millisecond)
	if err != nil {
		t.log.Warnf("[%s] FAILED mailbox=%s range=%s applied=%d/%d last_uid=%d duration=%v: %v",
			op.OpID, op.Mailbox, op.Range, applied, op.Total, last, elapsed, err)
		return
	}
	t.log.Debugf("[%s] DONE mailbox=%s applied=%d duration=%v", op.OpID, op.Mailbox, applied, elapsed)
}

// InFlight returns the operations that have started but not ended,
// oldest first.
func (t *RangeTracker) InFlight() []*RangeOperation {
	var ops []*RangeOperation
	t.operations.Range(func(_, value any) bool {
		ops = append(ops, value.(*RangeOperation))
		return true
	})
	sort.Slice(ops, func(i, j int) bool {
		return ops[i].StartTime.Before(ops[j].StartTime)
	})
	return ops
}
