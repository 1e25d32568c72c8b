/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package imapserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend"

	"github.com/JB-SelfCompany/yggmailstore/internal/storage/msgrange"
	"github.com/JB-SelfCompany/yggmailstore/internal/storage/types"
)

type Mailbox struct {
	backend *Backend
	user    *User
	mailbox *types.Mailbox
}

// listing returns the ascending uid list that defines message sequence
// numbers, along with the inverse mapping.
func (mbox *Mailbox) listing(ctx context.Context) ([]uint32, map[uint32]uint32, error) {
	all, err := mbox.backend.Store.FindInMailbox(ctx, mbox.mailbox, msgrange.All(), types.FetchMetadata, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("mbox.backend.Store.FindInMailbox: %w", err)
	}
	uids := make([]uint32, len(all))
	seqs := make(map[uint32]uint32, len(all))
	for i, m := range all {
		uids[i] = m.UID
		seqs[m.UID] = uint32(i + 1)
	}
	return uids, seqs, nil
}

func (mbox *Mailbox) ranges(ctx context.Context, uid bool, seqSet *imap.SeqSet, uids []uint32) ([]msgrange.Range, error) {
	if !uid {
		return seqRanges(seqSet, uids), nil
	}
	last, err := mbox.backend.Store.LastUID(ctx, mbox.mailbox)
	if err != nil {
		return nil, fmt.Errorf("mbox.backend.Store.LastUID: %w", err)
	}
	return uidRanges(seqSet, last), nil
}

// each visits every message selected by seqSet once, in ascending order
// within each range.
func (mbox *Mailbox) each(ctx context.Context, uid bool, seqSet *imap.SeqSet, fetch types.FetchType, fn func(m *types.Message, seqNum uint32) error) error {
	uids, seqs, err := mbox.listing(ctx)
	if err != nil {
		return err
	}
	ranges, err := mbox.ranges(ctx, uid, seqSet, uids)
	if err != nil {
		return err
	}
	visited := make(map[uint32]struct{})
	for _, r := range ranges {
		msgs, err := mbox.backend.Store.FindInMailbox(ctx, mbox.mailbox, r, fetch, 0)
		if err != nil {
			return fmt.Errorf("mbox.backend.Store.FindInMailbox: %w", err)
		}
		for _, m := range msgs {
			seqNum, ok := seqs[m.UID]
			if !ok {
				continue
			}
			if _, dup := visited[m.UID]; dup {
				continue
			}
			visited[m.UID] = struct{}{}
			if err := fn(m, seqNum); err != nil {
				return err
			}
		}
	}
	return nil
}

func (mbox *Mailbox) Name() string {
	return mbox.mailbox.Path.Name
}

func (mbox *Mailbox) Info() (*imap.MailboxInfo, error) {
	info := &imap.MailboxInfo{
		Attributes: []string{imap.HasNoChildrenAttr},
		Delimiter:  mbox.backend.Delimiter,
		Name:       mbox.mailbox.Path.Name,
	}
	children, err := mbox.backend.Directory.HasChildren(context.Background(), mbox.mailbox, mbox.backend.Delimiter)
	if err != nil {
		return nil, fmt.Errorf("mbox.backend.Directory.HasChildren: %w", err)
	}
	if children {
		info.Attributes = []string{imap.HasChildrenAttr}
	}
	return info, nil
}

func (mbox *Mailbox) Status(items []imap.StatusItem) (*imap.MailboxStatus, error) {
	ctx := context.Background()
	status := imap.NewMailboxStatus(mbox.Name(), items)
	status.PermanentFlags = []string{
		imap.SeenFlag, imap.AnsweredFlag, imap.FlaggedFlag, imap.DeletedFlag, imap.DraftFlag,
	}
	status.Flags = status.PermanentFlags

	for _, name := range items {
		switch name {
		case imap.StatusMessages:
			count, err := mbox.backend.Store.CountMessages(ctx, mbox.mailbox)
			if err != nil {
				return nil, fmt.Errorf("mbox.backend.Store.CountMessages: %w", err)
			}
			status.Messages = uint32(count)

		case imap.StatusUidNext:
			last, err := mbox.backend.Store.LastUID(ctx, mbox.mailbox)
			if err != nil {
				return nil, fmt.Errorf("mbox.backend.Store.LastUID: %w", err)
			}
			status.UidNext = last + 1

		case imap.StatusUidValidity:
			status.UidValidity = mbox.mailbox.UIDValidity

		case imap.StatusRecent:
			recent, err := mbox.backend.Store.FindRecentMessageUIDs(ctx, mbox.mailbox)
			if err != nil {
				return nil, fmt.Errorf("mbox.backend.Store.FindRecentMessageUIDs: %w", err)
			}
			status.Recent = uint32(len(recent))

		case imap.StatusUnseen:
			unseen, err := mbox.backend.Store.CountUnseen(ctx, mbox.mailbox)
			if err != nil {
				return nil, fmt.Errorf("mbox.backend.Store.CountUnseen: %w", err)
			}
			status.Unseen = uint32(unseen)
			first, ok, err := mbox.backend.Store.FindFirstUnseenMessageUID(ctx, mbox.mailbox)
			if err != nil {
				return nil, fmt.Errorf("mbox.backend.Store.FindFirstUnseenMessageUID: %w", err)
			}
			if ok {
				_, seqs, err := mbox.listing(ctx)
				if err != nil {
					return nil, err
				}
				status.UnseenSeqNum = seqs[first]
			}
		}
	}

	return status, nil
}

func (mbox *Mailbox) SetSubscribed(subscribed bool) error {
	mbox.backend.Log.Debugf("Subscription for %q set to %v (not persisted)", mbox.Name(), subscribed)
	return nil
}

func (mbox *Mailbox) Check() error {
	return nil
}

func (mbox *Mailbox) ListMessages(uid bool, seqSet *imap.SeqSet, items []imap.FetchItem, ch chan<- *imap.Message) error {
	defer close(ch)

	ctx := context.Background()
	markSeen := needsSeen(items)
	return mbox.each(ctx, uid, seqSet, fetchTypeFor(items), func(m *types.Message, seqNum uint32) error {
		if markSeen && !m.Flags.Has(types.FlagSeen) {
			if _, err := mbox.backend.Store.UpdateFlags(ctx, mbox.mailbox, msgrange.One(m.UID), types.FlagSeen, true, false); err != nil {
				return fmt.Errorf("mbox.backend.Store.UpdateFlags: %w", err)
			}
			m.Flags = m.Flags.Union(types.FlagSeen)
		}
		ch <- fetchMessage(m, seqNum, items)
		return nil
	})
}

func (mbox *Mailbox) SearchMessages(uid bool, criteria *imap.SearchCriteria) ([]uint32, error) {
	ctx := context.Background()
	all, err := mbox.backend.Store.FindInMailbox(ctx, mbox.mailbox, msgrange.All(), types.FetchFull, 0)
	if err != nil {
		return nil, fmt.Errorf("mbox.backend.Store.FindInMailbox: %w", err)
	}
	var ids []uint32
	for i, m := range all {
		seqNum := uint32(i + 1)
		ok, err := matches(m, seqNum, criteria)
		if err != nil {
			mbox.backend.Log.Warnf("Skipping message %d in search: %s", m.UID, err)
			continue
		}
		if !ok {
			continue
		}
		if uid {
			ids = append(ids, m.UID)
		} else {
			ids = append(ids, seqNum)
		}
	}
	return ids, nil
}

func (mbox *Mailbox) CreateMessage(flags []string, date time.Time, body imap.Literal) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read message body: %w", err)
	}
	msg, err := parseMessage(raw, date, types.ParseFlags(flags).Union(types.FlagRecent))
	if err != nil {
		return fmt.Errorf("parseMessage: %w", err)
	}
	if _, err := mbox.backend.Store.Add(context.Background(), mbox.mailbox, msg); err != nil {
		return fmt.Errorf("mbox.backend.Store.Add: %w", err)
	}
	return nil
}

func (mbox *Mailbox) UpdateMessagesFlags(uid bool, seqSet *imap.SeqSet, op imap.FlagsOp, flags []string) error {
	ctx := context.Background()
	// \Recent is managed by the server only.
	parsed := types.ParseFlags(flags).Without(types.FlagRecent)

	var value, replace bool
	switch op {
	case imap.SetFlags:
		replace = true
	case imap.AddFlags:
		value = true
	case imap.RemoveFlags:
		value = false
	default:
		return fmt.Errorf("unsupported flags operation %q", op)
	}

	uids, _, err := mbox.listing(ctx)
	if err != nil {
		return err
	}
	ranges, err := mbox.ranges(ctx, uid, seqSet, uids)
	if err != nil {
		return err
	}
	for _, r := range ranges {
		updated, err := mbox.backend.Store.UpdateFlags(ctx, mbox.mailbox, r, parsed, value, replace)
		if err != nil {
			return fmt.Errorf("mbox.backend.Store.UpdateFlags (%d applied): %w", len(updated), err)
		}
	}
	return nil
}

func (mbox *Mailbox) destination(name string) (*types.Mailbox, error) {
	dest, err := mbox.backend.Directory.FindByPath(context.Background(), mbox.user.path(name))
	if errors.Is(err, types.ErrMailboxNotFound) {
		return nil, backend.ErrNoSuchMailbox
	}
	return dest, err
}

func (mbox *Mailbox) CopyMessages(uid bool, seqSet *imap.SeqSet, destName string) error {
	dest, err := mbox.destination(destName)
	if err != nil {
		return err
	}
	ctx := context.Background()
	return mbox.each(ctx, uid, seqSet, types.FetchFull, func(m *types.Message, _ uint32) error {
		if _, err := mbox.backend.Store.Copy(ctx, dest, m); err != nil {
			return fmt.Errorf("mbox.backend.Store.Copy: %w", err)
		}
		return nil
	})
}

func (mbox *Mailbox) Expunge() error {
	removed, err := mbox.backend.Store.ExpungeMarkedForDeletion(context.Background(), mbox.mailbox, msgrange.All())
	if err != nil {
		return fmt.Errorf("mbox.backend.Store.ExpungeMarkedForDeletion (%d removed): %w", len(removed), err)
	}
	return nil
}

// MoveMessages uses the store's native move when it has one and otherwise
// falls back to copying each message and deleting the source.
func (mbox *Mailbox) MoveMessages(uid bool, seqSet *imap.SeqSet, destName string) error {
	dest, err := mbox.destination(destName)
	if err != nil {
		return err
	}
	ctx := context.Background()
	native := true
	return mbox.each(ctx, uid, seqSet, types.FetchFull, func(m *types.Message, _ uint32) error {
		if native {
			_, err := mbox.backend.Store.Move(ctx, dest, m)
			if err == nil {
				return nil
			}
			if !errors.Is(err, types.ErrOperationUnsupported) {
				return fmt.Errorf("mbox.backend.Store.Move: %w", err)
			}
			native = false
		}
		if _, err := mbox.backend.Store.Copy(ctx, dest, m); err != nil {
			return fmt.Errorf("mbox.backend.Store.Copy: %w", err)
		}
		if err := mbox.backend.Store.Delete(ctx, mbox.mailbox, m); err != nil {
			return fmt.Errorf("mbox.backend.Store.Delete: %w", err)
		}
		return nil
	})
}
