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
	"sort"
	"sync"

	"github.com/JB-SelfCompany/yggmailstore/internal/storage/types"
	"github.com/JB-SelfCompany/yggmailstore/internal/store"
)

type Messages struct {
	mu   sync.RWMutex
	rows map[string]map[uint32]*types.Message
}

func NewMessages() *Messages {
	return &Messages{rows: map[string]map[uint32]*types.Message{}}
}

func (t *Messages) Put(ctx context.Context, msg *types.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	mailbox, ok := t.rows[msg.MailboxID]
	if !ok {
		mailbox = map[uint32]*types.Message{}
		t.rows[msg.MailboxID] = mailbox
	}
	mailbox[msg.UID] = msg.Clone()
	return nil
}

func (t *Messages) PutFlags(ctx context.Context, mailboxID string, uid uint32, modSeq uint64, flags types.Flags) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	row, ok := t.rows[mailboxID][uid]
	if !ok {
		return types.ErrMessageNotFound
	}
	row.Flags = flags
	row.ModSeq = modSeq
	return nil
}

func (t *Messages) Remove(ctx context.Context, mailboxID string, uid uint32) (types.Flags, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	row, ok := t.rows[mailboxID][uid]
	if !ok {
		return 0, types.ErrMessageNotFound
	}
	delete(t.rows[mailboxID], uid)
	return row.Flags, nil
}

func (t *Messages) Scan(ctx context.Context, q store.Query) ([]*types.Message, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var uids []uint32
	for uid, row := range t.rows[q.MailboxID] {
		if !q.Predicate.Match(uid) || !row.Flags.Has(q.With) || row.Flags&q.Without != 0 {
			continue
		}
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if q.Limit > 0 && len(uids) > q.Limit {
		uids = uids[:q.Limit]
	}

	msgs := make([]*types.Message, 0, len(uids))
	for _, uid := range uids {
		m := t.rows[q.MailboxID][uid].Clone()
		if !q.Fetch.WantsHeader() {
			m.Header = nil
		}
		if !q.Fetch.WantsBody() {
			m.Body = nil
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
