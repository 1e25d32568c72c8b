/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package store implements the message store of a mailbox: identifier
// allocation, flag mutation, expunge and ordered range queries over row
// storage that offers no cross-row transactions.
//
// A Store holds no per-mailbox state. Every operation takes the mailbox it
// applies to, and concurrent callers are serialised only by the atomic
// primitives of the storage drivers.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/JB-SelfCompany/yggmailstore/internal/events"
	"github.com/JB-SelfCompany/yggmailstore/internal/logging"
	"github.com/JB-SelfCompany/yggmailstore/internal/storage/msgrange"
	"github.com/JB-SelfCompany/yggmailstore/internal/storage/types"
)

type Store struct {
	rows     MessageRows
	uids     *Allocator
	modSeqs  *Allocator
	counters *Aggregates
	events   Publisher
	log      logging.Logger
	tracker  *logging.RangeTracker
}

// New builds a Store over the given drivers. A nil publisher disables the
// change feed.
func New(d Drivers, publisher Publisher, log logging.Logger) *Store {
	return &Store{
		rows:     d.Rows,
		uids:     NewUIDAllocator(d.UIDs),
		modSeqs:  NewModSeqAllocator(d.ModSeqs),
		counters: NewAggregates(d.Counters),
		events:   publisher,
		log:      log,
		tracker:  logging.NewRangeTracker(log),
	}
}

// Add stores msg in mailbox under a freshly allocated uid and modseq.
func (s *Store) Add(ctx context.Context, mailbox *types.Mailbox, msg *types.Message) (types.MessageMetaData, error) {
	md, err := s.insert(ctx, mailbox, msg)
	if err != nil {
		return types.MessageMetaData{}, fmt.Errorf("store.Add: %w", err)
	}
	return md, nil
}

// Copy stores a copy of msg, with the same content and flags, in the
// destination mailbox under new identifiers.
func (s *Store) Copy(ctx context.Context, dest *types.Mailbox, msg *types.Message) (types.MessageMetaData, error) {
	md, err := s.insert(ctx, dest, msg)
	if err != nil {
		return types.MessageMetaData{}, fmt.Errorf("store.Copy: %w", err)
	}
	return md, nil
}

// Move is not supported. Callers wanting move semantics copy and then
// delete the source.
func (s *Store) Move(ctx context.Context, dest *types.Mailbox, msg *types.Message) (types.MessageMetaData, error) {
	return types.MessageMetaData{}, fmt.Errorf("store.Move: %w", types.ErrOperationUnsupported)
}

func (s *Store) insert(ctx context.Context, mailbox *types.Mailbox, msg *types.Message) (types.MessageMetaData, error) {
	uid, err := s.uids.Next(ctx, mailbox.ID)
	if err != nil {
		return types.MessageMetaData{}, err
	}
	modSeq, err := s.modSeqs.Next(ctx, mailbox.ID)
	if err != nil {
		return types.MessageMetaData{}, err
	}

	row := msg.Clone()
	row.MailboxID = mailbox.ID
	row.UID = uint32(uid)
	row.ModSeq = modSeq
	if err := s.rows.Put(ctx, row); err != nil {
		return types.MessageMetaData{}, types.Unavailable("rows.Put", err)
	}
	if err := s.counters.Increment(ctx, mailbox.ID, types.CounterTotal); err != nil {
		return types.MessageMetaData{}, err
	}
	if !row.Flags.Has(types.FlagSeen) {
		if err := s.counters.Increment(ctx, mailbox.ID, types.CounterUnseen); err != nil {
			return types.MessageMetaData{}, err
		}
	}

	s.log.Debugf("Stored message %s/%d modseq=%d flags=%s", mailbox.ID, row.UID, row.ModSeq, row.Flags)
	s.publish(ctx, events.Event{
		Kind:    events.Added,
		Mailbox: *mailbox,
		UID:     row.UID,
		ModSeq:  row.ModSeq,
		Message: row,
	})
	return row.Metadata(), nil
}

// FindInMailbox returns the messages selected by r in ascending uid order,
// populated according to fetch. A max of zero or less means no limit.
func (s *Store) FindInMailbox(ctx context.Context, mailbox *types.Mailbox, r msgrange.Range, fetch types.FetchType, max int) ([]*types.Message, error) {
	msgs, err := s.rows.Scan(ctx, Query{
		MailboxID: mailbox.ID,
		Predicate: r.Predicate(),
		Fetch:     fetch,
		Limit:     max,
	})
	if err != nil {
		return nil, fmt.Errorf("store.FindInMailbox(%s): %w", r, types.Unavailable("rows.Scan", err))
	}
	return msgs, nil
}

// FindByUID returns a single message or types.ErrMessageNotFound.
func (s *Store) FindByUID(ctx context.Context, mailbox *types.Mailbox, uid uint32, fetch types.FetchType) (*types.Message, error) {
	msgs, err := s.FindInMailbox(ctx, mailbox, msgrange.One(uid), fetch, 1)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("store.FindByUID(%d): %w", uid, types.ErrMessageNotFound)
	}
	return msgs[0], nil
}

// FindRecentMessageUIDs returns the uids of messages flagged recent, in
// ascending order.
func (s *Store) FindRecentMessageUIDs(ctx context.Context, mailbox *types.Mailbox) ([]uint32, error) {
	msgs, err := s.rows.Scan(ctx, Query{
		MailboxID: mailbox.ID,
		Predicate: msgrange.All().Predicate(),
		Fetch:     types.FetchMetadata,
		With:      types.FlagRecent,
	})
	if err != nil {
		return nil, fmt.Errorf("store.FindRecentMessageUIDs: %w", types.Unavailable("rows.Scan", err))
	}
	uids := make([]uint32, 0, len(msgs))
	for _, m := range msgs {
		uids = append(uids, m.UID)
	}
	return uids, nil
}

// FindFirstUnseenMessageUID returns the lowest uid without the seen flag.
// The boolean is false when every message has been seen.
func (s *Store) FindFirstUnseenMessageUID(ctx context.Context, mailbox *types.Mailbox) (uint32, bool, error) {
	msgs, err := s.rows.Scan(ctx, Query{
		MailboxID: mailbox.ID,
		Predicate: msgrange.All().Predicate(),
		Fetch:     types.FetchMetadata,
		Without:   types.FlagSeen,
		Limit:     1,
	})
	if err != nil {
		return 0, false, fmt.Errorf("store.FindFirstUnseenMessageUID: %w", types.Unavailable("rows.Scan", err))
	}
	if len(msgs) == 0 {
		return 0, false, nil
	}
	return msgs[0].UID, true, nil
}

// UpdateFlags applies a flag mutation to every message selected by r and
// returns one record per touched message, including those whose flags did
// not change. Rows are processed in ascending uid order; on error the
// records of the rows already written are returned with it.
func (s *Store) UpdateFlags(ctx context.Context, mailbox *types.Mailbox, r msgrange.Range, flags types.Flags, value, replace bool) ([]types.UpdatedFlags, error) {
	msgs, err := s.rows.Scan(ctx, Query{
		MailboxID: mailbox.ID,
		Predicate: r.Predicate(),
		Fetch:     types.FetchMetadata,
	})
	if err != nil {
		return nil, fmt.Errorf("store.UpdateFlags(%s): %w", r, types.Unavailable("rows.Scan", err))
	}

	op := s.tracker.Start("flags", mailbox.ID, r.String(), len(msgs))
	updated := make([]types.UpdatedFlags, 0, len(msgs))
	for _, m := range msgs {
		u, err := s.updateRowFlags(ctx, mailbox, m, flags, value, replace)
		if errors.Is(err, types.ErrMessageNotFound) {
			s.log.Debugf("Message %s/%d vanished during flag update", mailbox.ID, m.UID)
			continue
		}
		if err != nil {
			s.tracker.End(op, err)
			return updated, fmt.Errorf("store.UpdateFlags(%s) uid %d: %w", r, m.UID, err)
		}
		s.tracker.Step(op, m.UID)
		updated = append(updated, u)
	}
	s.tracker.End(op, nil)
	return updated, nil
}

func (s *Store) updateRowFlags(ctx context.Context, mailbox *types.Mailbox, m *types.Message, flags types.Flags, value, replace bool) (types.UpdatedFlags, error) {
	oldFlags := m.Flags
	newFlags := oldFlags.Apply(flags, value, replace)
	modSeq, err := s.modSeqs.Next(ctx, mailbox.ID)
	if err != nil {
		return types.UpdatedFlags{}, err
	}
	if err := s.rows.PutFlags(ctx, mailbox.ID, m.UID, modSeq, newFlags); err != nil {
		return types.UpdatedFlags{}, types.Unavailable("rows.PutFlags", err)
	}

	wasSeen, isSeen := oldFlags.Has(types.FlagSeen), newFlags.Has(types.FlagSeen)
	switch {
	case wasSeen && !isSeen:
		err = s.counters.Increment(ctx, mailbox.ID, types.CounterUnseen)
	case !wasSeen && isSeen:
		err = s.counters.Decrement(ctx, mailbox.ID, types.CounterUnseen)
	}
	if err != nil {
		return types.UpdatedFlags{}, err
	}

	u := types.UpdatedFlags{UID: m.UID, ModSeq: modSeq, OldFlags: oldFlags, NewFlags: newFlags}
	s.publish(ctx, events.Event{
		Kind:    events.FlagsUpdated,
		Mailbox: *mailbox,
		UID:     m.UID,
		ModSeq:  modSeq,
		Flags:   &u,
	})
	return u, nil
}

// ExpungeMarkedForDeletion removes every message selected by r that
// carries the deleted flag and returns exactly the removed set. On error
// the messages already removed are returned with it.
func (s *Store) ExpungeMarkedForDeletion(ctx context.Context, mailbox *types.Mailbox, r msgrange.Range) (map[uint32]types.MessageMetaData, error) {
	msgs, err := s.rows.Scan(ctx, Query{
		MailboxID: mailbox.ID,
		Predicate: r.Predicate(),
		Fetch:     types.FetchMetadata,
		With:      types.FlagDeleted,
	})
	if err != nil {
		return nil, fmt.Errorf("store.ExpungeMarkedForDeletion(%s): %w", r, types.Unavailable("rows.Scan", err))
	}

	op := s.tracker.Start("expunge", mailbox.ID, r.String(), len(msgs))
	removed := make(map[uint32]types.MessageMetaData, len(msgs))
	for _, m := range msgs {
		md, err := s.remove(ctx, mailbox, m)
		if errors.Is(err, types.ErrMessageNotFound) {
			continue
		}
		if err != nil {
			s.tracker.End(op, err)
			return removed, fmt.Errorf("store.ExpungeMarkedForDeletion(%s) uid %d: %w", r, m.UID, err)
		}
		s.tracker.Step(op, m.UID)
		removed[m.UID] = md
	}
	s.tracker.End(op, nil)
	return removed, nil
}

// Delete removes a single message regardless of its flags.
func (s *Store) Delete(ctx context.Context, mailbox *types.Mailbox, msg *types.Message) error {
	if _, err := s.remove(ctx, mailbox, msg); err != nil {
		return fmt.Errorf("store.Delete(%d): %w", msg.UID, err)
	}
	return nil
}

// Purge removes every message of the mailbox, for use when the mailbox
// itself is being deleted.
func (s *Store) Purge(ctx context.Context, mailbox *types.Mailbox) (int, error) {
	msgs, err := s.rows.Scan(ctx, Query{
		MailboxID: mailbox.ID,
		Predicate: msgrange.All().Predicate(),
		Fetch:     types.FetchMetadata,
	})
	if err != nil {
		return 0, fmt.Errorf("store.Purge: %w", types.Unavailable("rows.Scan", err))
	}
	op := s.tracker.Start("purge", mailbox.ID, "ALL", len(msgs))
	count := 0
	for _, m := range msgs {
		_, err := s.remove(ctx, mailbox, m)
		if errors.Is(err, types.ErrMessageNotFound) {
			continue
		}
		if err != nil {
			s.tracker.End(op, err)
			return count, fmt.Errorf("store.Purge uid %d: %w", m.UID, err)
		}
		s.tracker.Step(op, m.UID)
		count++
	}
	s.tracker.End(op, nil)
	return count, nil
}

func (s *Store) remove(ctx context.Context, mailbox *types.Mailbox, m *types.Message) (types.MessageMetaData, error) {
	flags, err := s.rows.Remove(ctx, mailbox.ID, m.UID)
	if err != nil {
		return types.MessageMetaData{}, types.Unavailable("rows.Remove", err)
	}
	if err := s.counters.Decrement(ctx, mailbox.ID, types.CounterTotal); err != nil {
		return types.MessageMetaData{}, err
	}
	if !flags.Has(types.FlagSeen) {
		if err := s.counters.Decrement(ctx, mailbox.ID, types.CounterUnseen); err != nil {
			return types.MessageMetaData{}, err
		}
	}

	md := m.Metadata()
	md.Flags = flags
	s.publish(ctx, events.Event{
		Kind:    events.Deleted,
		Mailbox: *mailbox,
		UID:     m.UID,
		ModSeq:  m.ModSeq,
	})
	return md, nil
}

func (s *Store) CountMessages(ctx context.Context, mailbox *types.Mailbox) (int64, error) {
	n, err := s.counters.Read(ctx, mailbox.ID, types.CounterTotal)
	if err != nil {
		return 0, fmt.Errorf("store.CountMessages: %w", err)
	}
	return n, nil
}

func (s *Store) CountUnseen(ctx context.Context, mailbox *types.Mailbox) (int64, error) {
	n, err := s.counters.Read(ctx, mailbox.ID, types.CounterUnseen)
	if err != nil {
		return 0, fmt.Errorf("store.CountUnseen: %w", err)
	}
	return n, nil
}

// LastUID returns the last uid allocated in the mailbox, 0 if none.
func (s *Store) LastUID(ctx context.Context, mailbox *types.Mailbox) (uint32, error) {
	v, err := s.uids.Last(ctx, mailbox.ID)
	if err != nil {
		return 0, fmt.Errorf("store.LastUID: %w", err)
	}
	return uint32(v), nil
}

// HighestModSeq returns the last modseq allocated in the mailbox, 0 if
// none.
func (s *Store) HighestModSeq(ctx context.Context, mailbox *types.Mailbox) (uint64, error) {
	v, err := s.modSeqs.Last(ctx, mailbox.ID)
	if err != nil {
		return 0, fmt.Errorf("store.HighestModSeq: %w", err)
	}
	return v, nil
}

// publish hands ev to the change feed. The change is already stored, so a
// feed failure is logged and not returned.
func (s *Store) publish(ctx context.Context, ev events.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warnf("Failed to publish %s: %v", ev, err)
	}
}
