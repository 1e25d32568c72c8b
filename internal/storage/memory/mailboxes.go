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
)

type Mailboxes struct {
	mu     sync.RWMutex
	byID   map[string]types.Mailbox
	byPath map[types.MailboxPath]string
}

func NewMailboxes() *Mailboxes {
	return &Mailboxes{
		byID:   map[string]types.Mailbox{},
		byPath: map[types.MailboxPath]string{},
	}
}

func (t *Mailboxes) Insert(ctx context.Context, mb *types.Mailbox) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byID[mb.ID]; ok {
		return types.ErrMailboxExists
	}
	if _, ok := t.byPath[mb.Path]; ok {
		return types.ErrMailboxExists
	}
	t.byID[mb.ID] = *mb
	t.byPath[mb.Path] = mb.ID
	return nil
}

func (t *Mailboxes) Update(ctx context.Context, mb *types.Mailbox) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	old, ok := t.byID[mb.ID]
	if !ok {
		return types.ErrMailboxNotFound
	}
	if id, ok := t.byPath[mb.Path]; ok && id != mb.ID {
		return types.ErrMailboxExists
	}
	delete(t.byPath, old.Path)
	t.byID[mb.ID] = *mb
	t.byPath[mb.Path] = mb.ID
	return nil
}

func (t *Mailboxes) SelectByID(ctx context.Context, id string) (*types.Mailbox, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	mb, ok := t.byID[id]
	if !ok {
		return nil, types.ErrMailboxNotFound
	}
	return &mb, nil
}

func (t *Mailboxes) SelectByPath(ctx context.Context, path types.MailboxPath) (*types.Mailbox, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byPath[path]
	if !ok {
		return nil, types.ErrMailboxNotFound
	}
	mb := t.byID[id]
	return &mb, nil
}

func (t *Mailboxes) SelectAll(ctx context.Context) ([]*types.Mailbox, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	all := make([]*types.Mailbox, 0, len(t.byID))
	for _, mb := range t.byID {
		mb := mb
		all = append(all, &mb)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Path.String() < all[j].Path.String()
	})
	return all, nil
}

func (t *Mailboxes) Delete(ctx context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	mb, ok := t.byID[id]
	if !ok {
		return types.ErrMailboxNotFound
	}
	delete(t.byID, id)
	delete(t.byPath, mb.Path)
	return nil
}
