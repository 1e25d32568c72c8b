/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package store_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/JB-SelfCompany/yggmailstore/internal/events"
	"github.com/JB-SelfCompany/yggmailstore/internal/logging"
	"github.com/JB-SelfCompany/yggmailstore/internal/storage/memory"
	"github.com/JB-SelfCompany/yggmailstore/internal/storage/msgrange"
	"github.com/JB-SelfCompany/yggmailstore/internal/storage/sqldb"
	"github.com/JB-SelfCompany/yggmailstore/internal/storage/types"
	"github.com/JB-SelfCompany/yggmailstore/internal/store"
)

// recorder collects the change feed.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(ctx context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kinds []events.Kind
	for _, ev := range r.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

type backend struct {
	name string
	open func(t *testing.T) store.Drivers
}

var backends = []backend{
	{"memory", func(t *testing.T) store.Drivers {
		return memory.New().Drivers()
	}},
	{"sqlite3", func(t *testing.T) store.Drivers {
		return openSQL(t, sqldb.DialectSQLite3)
	}},
	{"sqlite", func(t *testing.T) store.Drivers {
		return openSQL(t, sqldb.DialectSQLite)
	}},
}

func openSQL(t *testing.T, dialect sqldb.Dialect) store.Drivers {
	t.Helper()
	s, err := sqldb.Open(dialect, sqldb.SQLiteDSN(dialect, filepath.Join(t.TempDir(), "test.db")), logging.Discard())
	if err != nil {
		t.Fatalf("Failed to open storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s.Drivers()
}

type fixture struct {
	store   *store.Store
	mailbox *types.Mailbox
	feed    *recorder
}

func forEachBackend(t *testing.T, f func(t *testing.T, fx *fixture)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			feed := &recorder{}
			f(t, &fixture{
				store:   store.New(b.open(t), feed, logging.Discard()),
				mailbox: &types.Mailbox{ID: "mailbox-1", UIDValidity: 1},
				feed:    feed,
			})
		})
	}
}

func newMessage(flags types.Flags) *types.Message {
	header := "Subject: test\r\n\r\n"
	body := "hello\r\n"
	return &types.Message{
		InternalDate:      time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		MediaType:         "text",
		SubType:           "plain",
		FullContentOctets: int64(len(header) + len(body)),
		BodyOctets:        int64(len(body)),
		BodyStartOctet:    int64(len(header)),
		Flags:             flags,
		Header:            []byte(header),
		Body:              []byte(body),
	}
}

func (fx *fixture) add(t *testing.T, flags types.Flags) types.MessageMetaData {
	t.Helper()
	md, err := fx.store.Add(context.Background(), fx.mailbox, newMessage(flags))
	if err != nil {
		t.Fatalf("Failed to add message: %v", err)
	}
	return md
}

func (fx *fixture) uids(t *testing.T, r msgrange.Range) []uint32 {
	t.Helper()
	msgs, err := fx.store.FindInMailbox(context.Background(), fx.mailbox, r, types.FetchMetadata, 0)
	if err != nil {
		t.Fatalf("Failed to find messages: %v", err)
	}
	var uids []uint32
	for _, m := range msgs {
		uids = append(uids, m.UID)
	}
	return uids
}

func (fx *fixture) counts(t *testing.T) (int64, int64) {
	t.Helper()
	ctx := context.Background()
	total, err := fx.store.CountMessages(ctx, fx.mailbox)
	if err != nil {
		t.Fatalf("Failed to count messages: %v", err)
	}
	unseen, err := fx.store.CountUnseen(ctx, fx.mailbox)
	if err != nil {
		t.Fatalf("Failed to count unseen: %v", err)
	}
	return total, unseen
}

func TestEmptyMailbox(t *testing.T) {
	forEachBackend(t, func(t *testing.T, fx *fixture) {
		ctx := context.Background()
		if uid, err := fx.store.LastUID(ctx, fx.mailbox); err != nil || uid != 0 {
			t.Errorf("Expected last uid 0, got %d (%v)", uid, err)
		}
		if modSeq, err := fx.store.HighestModSeq(ctx, fx.mailbox); err != nil || modSeq != 0 {
			t.Errorf("Expected highest modseq 0, got %d (%v)", modSeq, err)
		}
		if total, unseen := fx.counts(t); total != 0 || unseen != 0 {
			t.Errorf("Expected zero counters, got %d/%d", total, unseen)
		}
		if _, ok, err := fx.store.FindFirstUnseenMessageUID(ctx, fx.mailbox); err != nil || ok {
			t.Errorf("Expected no unseen message, got ok=%v (%v)", ok, err)
		}
	})
}

func TestExpungeScenario(t *testing.T) {
	forEachBackend(t, func(t *testing.T, fx *fixture) {
		ctx := context.Background()
		for want := uint32(1); want <= 3; want++ {
			if md := fx.add(t, 0); md.UID != want {
				t.Fatalf("Expected uid %d, got %d", want, md.UID)
			}
		}
		if _, err := fx.store.UpdateFlags(ctx, fx.mailbox, msgrange.One(2), types.FlagDeleted, true, false); err != nil {
			t.Fatalf("Failed to flag message: %v", err)
		}
		if total, _ := fx.counts(t); total != 3 {
			t.Fatalf("Expected 3 messages, got %d", total)
		}

		removed, err := fx.store.ExpungeMarkedForDeletion(ctx, fx.mailbox, msgrange.All())
		if err != nil {
			t.Fatalf("Failed to expunge: %v", err)
		}
		if len(removed) != 1 {
			t.Fatalf("Expected one expunged message, got %v", removed)
		}
		md, ok := removed[2]
		if !ok || md.UID != 2 || !md.Flags.Has(types.FlagDeleted) {
			t.Errorf("Expected metadata for uid 2, got %+v", removed)
		}
		if total, unseen := fx.counts(t); total != 2 || unseen != 2 {
			t.Errorf("Expected 2 messages and 2 unseen, got %d/%d", total, unseen)
		}
		if diff := cmp.Diff([]uint32{1, 3}, fx.uids(t, msgrange.All())); diff != "" {
			t.Errorf("Remaining uids mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestMarkSeenScenario(t *testing.T) {
	forEachBackend(t, func(t *testing.T, fx *fixture) {
		ctx := context.Background()
		added := fx.add(t, 0)
		_, unseenBefore := fx.counts(t)

		updated, err := fx.store.UpdateFlags(ctx, fx.mailbox, msgrange.One(1), types.FlagSeen, true, false)
		if err != nil {
			t.Fatalf("Failed to update flags: %v", err)
		}
		if len(updated) != 1 {
			t.Fatalf("Expected one update, got %d", len(updated))
		}
		u := updated[0]
		if u.OldFlags.Has(types.FlagSeen) || !u.NewFlags.Has(types.FlagSeen) {
			t.Errorf("Expected seen to flip, got %s -> %s", u.OldFlags, u.NewFlags)
		}
		if u.ModSeq <= added.ModSeq {
			t.Errorf("Expected modseq above %d, got %d", added.ModSeq, u.ModSeq)
		}
		if _, unseen := fx.counts(t); unseen != unseenBefore-1 {
			t.Errorf("Expected unseen %d, got %d", unseenBefore-1, unseen)
		}
		if highest, _ := fx.store.HighestModSeq(ctx, fx.mailbox); highest != u.ModSeq {
			t.Errorf("Expected highest modseq %d, got %d", u.ModSeq, highest)
		}
	})
}

func TestUpdateFlagsSemantics(t *testing.T) {
	prior := types.FlagAnswered | types.FlagFlagged
	tests := []struct {
		name    string
		flags   types.Flags
		value   bool
		replace bool
		want    types.Flags
	}{
		{"replace", types.FlagSeen | types.FlagDraft, false, true, types.FlagSeen | types.FlagDraft},
		{"union", types.FlagSeen, true, false, prior | types.FlagSeen},
		{"difference", types.FlagFlagged | types.FlagSeen, false, false, types.FlagAnswered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forEachBackend(t, func(t *testing.T, fx *fixture) {
				ctx := context.Background()
				fx.add(t, prior)
				if _, err := fx.store.UpdateFlags(ctx, fx.mailbox, msgrange.All(), tt.flags, tt.value, tt.replace); err != nil {
					t.Fatalf("Failed to update flags: %v", err)
				}
				m, err := fx.store.FindByUID(ctx, fx.mailbox, 1, types.FetchMetadata)
				if err != nil {
					t.Fatalf("Failed to find message: %v", err)
				}
				if m.Flags != tt.want {
					t.Errorf("Expected %s, got %s", tt.want, m.Flags)
				}
			})
		})
	}
}

func TestUpdateFlagsReportsUnchangedRows(t *testing.T) {
	forEachBackend(t, func(t *testing.T, fx *fixture) {
		ctx := context.Background()
		fx.add(t, types.FlagSeen)
		fx.add(t, 0)

		updated, err := fx.store.UpdateFlags(ctx, fx.mailbox, msgrange.All(), types.FlagSeen, true, false)
		if err != nil {
			t.Fatalf("Failed to update flags: %v", err)
		}
		if len(updated) != 2 {
			t.Fatalf("Expected a record for every touched row, got %d", len(updated))
		}
		if updated[0].Changed() || !updated[1].Changed() {
			t.Errorf("Expected only the second update to change flags: %+v", updated)
		}
		if updated[0].UID != 1 || updated[1].UID != 2 || updated[1].ModSeq <= updated[0].ModSeq {
			t.Errorf("Expected ascending uids with increasing modseqs: %+v", updated)
		}
		if _, unseen := fx.counts(t); unseen != 0 {
			t.Errorf("Expected no unseen messages, got %d", unseen)
		}
	})
}

func TestFindInMailboxRanges(t *testing.T) {
	forEachBackend(t, func(t *testing.T, fx *fixture) {
		ctx := context.Background()
		for i := 0; i < 6; i++ {
			fx.add(t, 0)
		}
		tests := []struct {
			r    msgrange.Range
			want []uint32
		}{
			{msgrange.All(), []uint32{1, 2, 3, 4, 5, 6}},
			{msgrange.From(4), []uint32{5, 6}},
			{msgrange.Between(2, 5), []uint32{3, 4}},
			{msgrange.Between(2, 3), nil},
			{msgrange.One(6), []uint32{6}},
			{msgrange.One(9), nil},
		}
		for _, tt := range tests {
			if diff := cmp.Diff(tt.want, fx.uids(t, tt.r)); diff != "" {
				t.Errorf("%s mismatch (-want +got):\n%s", tt.r, diff)
			}
		}

		limited, err := fx.store.FindInMailbox(ctx, fx.mailbox, msgrange.From(1), types.FetchMetadata, 2)
		if err != nil {
			t.Fatalf("Failed to find messages: %v", err)
		}
		if len(limited) != 2 || limited[0].UID != 2 || limited[1].UID != 3 {
			t.Errorf("Expected the two lowest uids above 1, got %d messages", len(limited))
		}

		for _, fetch := range []types.FetchType{types.FetchMetadata, types.FetchHeaders, types.FetchBody, types.FetchFull} {
			msgs, err := fx.store.FindInMailbox(ctx, fx.mailbox, msgrange.Between(1, 4), fetch, 0)
			if err != nil {
				t.Fatalf("Failed to find messages with %s: %v", fetch, err)
			}
			if len(msgs) != 2 {
				t.Errorf("Expected fetch %s to return 2 messages, got %d", fetch, len(msgs))
				continue
			}
			if got := len(msgs[0].Header) > 0; got != fetch.WantsHeader() {
				t.Errorf("Fetch %s: header loaded = %v", fetch, got)
			}
			if got := len(msgs[0].Body) > 0; got != fetch.WantsBody() {
				t.Errorf("Fetch %s: body loaded = %v", fetch, got)
			}
		}
	})
}

func TestRecentAndFirstUnseen(t *testing.T) {
	forEachBackend(t, func(t *testing.T, fx *fixture) {
		ctx := context.Background()
		fx.add(t, types.FlagSeen)
		fx.add(t, types.FlagRecent)
		fx.add(t, types.FlagSeen|types.FlagRecent)
		fx.add(t, 0)

		recent, err := fx.store.FindRecentMessageUIDs(ctx, fx.mailbox)
		if err != nil {
			t.Fatalf("Failed to find recent: %v", err)
		}
		if diff := cmp.Diff([]uint32{2, 3}, recent); diff != "" {
			t.Errorf("Recent mismatch (-want +got):\n%s", diff)
		}
		uid, ok, err := fx.store.FindFirstUnseenMessageUID(ctx, fx.mailbox)
		if err != nil || !ok || uid != 2 {
			t.Errorf("Expected first unseen uid 2, got %d ok=%v (%v)", uid, ok, err)
		}
	})
}

func TestCopyDeleteAndMove(t *testing.T) {
	forEachBackend(t, func(t *testing.T, fx *fixture) {
		ctx := context.Background()
		dest := &types.Mailbox{ID: "mailbox-2", UIDValidity: 2}
		fx.add(t, 0)
		src := fx.add(t, types.FlagSeen|types.FlagFlagged)

		msg, err := fx.store.FindByUID(ctx, fx.mailbox, src.UID, types.FetchFull)
		if err != nil {
			t.Fatalf("Failed to find message: %v", err)
		}
		copied, err := fx.store.Copy(ctx, dest, msg)
		if err != nil {
			t.Fatalf("Failed to copy: %v", err)
		}
		if copied.UID != 1 || copied.Flags != msg.Flags {
			t.Errorf("Expected copy to be uid 1 with flags %s, got %d %s", msg.Flags, copied.UID, copied.Flags)
		}
		got, err := fx.store.FindByUID(ctx, dest, 1, types.FetchFull)
		if err != nil {
			t.Fatalf("Failed to find copy: %v", err)
		}
		if string(got.Content()) != string(msg.Content()) {
			t.Errorf("Expected copied content to match")
		}

		if _, err := fx.store.Move(ctx, dest, msg); !errors.Is(err, types.ErrOperationUnsupported) {
			t.Errorf("Expected ErrOperationUnsupported, got %v", err)
		}

		if err := fx.store.Delete(ctx, fx.mailbox, msg); err != nil {
			t.Fatalf("Failed to delete: %v", err)
		}
		if err := fx.store.Delete(ctx, fx.mailbox, msg); !errors.Is(err, types.ErrMessageNotFound) {
			t.Errorf("Expected ErrMessageNotFound deleting twice, got %v", err)
		}
		if total, unseen := fx.counts(t); total != 1 || unseen != 1 {
			t.Errorf("Expected 1 message and 1 unseen in source, got %d/%d", total, unseen)
		}
		destStore := &fixture{store: fx.store, mailbox: dest}
		if total, unseen := destStore.counts(t); total != 1 || unseen != 0 {
			t.Errorf("Expected 1 seen message in destination, got %d/%d", total, unseen)
		}

		if diff := cmp.Diff([]events.Kind{events.Added, events.Added, events.Added, events.Deleted}, fx.feed.kinds()); diff != "" {
			t.Errorf("Event feed mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestConcurrentAdds(t *testing.T) {
	forEachBackend(t, func(t *testing.T, fx *fixture) {
		ctx := context.Background()
		const workers = 24
		results := make([]types.MessageMetaData, workers)
		var g errgroup.Group
		for i := 0; i < workers; i++ {
			g.Go(func() error {
				md, err := fx.store.Add(ctx, fx.mailbox, newMessage(types.Flags(i%2)*types.FlagSeen))
				results[i] = md
				return err
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatalf("Failed to add concurrently: %v", err)
		}

		uids := map[uint32]bool{}
		modSeqs := map[uint64]bool{}
		for _, md := range results {
			if md.UID < 1 || uids[md.UID] {
				t.Errorf("Duplicate or invalid uid %d", md.UID)
			}
			if modSeqs[md.ModSeq] {
				t.Errorf("Duplicate modseq %d", md.ModSeq)
			}
			uids[md.UID] = true
			modSeqs[md.ModSeq] = true
		}
		total, unseen := fx.counts(t)
		if total != workers || unseen != workers/2 {
			t.Errorf("Expected %d messages with %d unseen, got %d/%d", workers, workers/2, total, unseen)
		}
		stored := fx.uids(t, msgrange.All())
		if !sort.SliceIsSorted(stored, func(i, j int) bool { return stored[i] < stored[j] }) || len(stored) != workers {
			t.Errorf("Expected %d ascending uids, got %v", workers, stored)
		}
	})
}

func TestModSeqStrictlyIncreases(t *testing.T) {
	forEachBackend(t, func(t *testing.T, fx *fixture) {
		ctx := context.Background()
		var observed []uint64
		for i := 0; i < 3; i++ {
			observed = append(observed, fx.add(t, 0).ModSeq)
		}
		updated, err := fx.store.UpdateFlags(ctx, fx.mailbox, msgrange.All(), types.FlagFlagged, true, false)
		if err != nil {
			t.Fatalf("Failed to update flags: %v", err)
		}
		for _, u := range updated {
			observed = append(observed, u.ModSeq)
		}
		msg, _ := fx.store.FindByUID(ctx, fx.mailbox, 1, types.FetchFull)
		copied, err := fx.store.Copy(ctx, fx.mailbox, msg)
		if err != nil {
			t.Fatalf("Failed to copy: %v", err)
		}
		observed = append(observed, copied.ModSeq)

		for i := 1; i < len(observed); i++ {
			if observed[i] <= observed[i-1] {
				t.Fatalf("Expected strictly increasing modseqs, got %v", observed)
			}
		}
	})
}

func TestUnseenTracksFlags(t *testing.T) {
	forEachBackend(t, func(t *testing.T, fx *fixture) {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			fx.add(t, 0)
		}
		steps := []struct {
			r       msgrange.Range
			value   bool
			replace bool
			flags   types.Flags
		}{
			{msgrange.Between(0, 4), true, false, types.FlagSeen},
			{msgrange.One(2), false, false, types.FlagSeen},
			{msgrange.From(3), false, true, types.FlagSeen | types.FlagDeleted},
			{msgrange.One(1), false, true, types.FlagDeleted},
		}
		for _, step := range steps {
			if _, err := fx.store.UpdateFlags(ctx, fx.mailbox, step.r, step.flags, step.value, step.replace); err != nil {
				t.Fatalf("Failed to update flags: %v", err)
			}
		}
		if _, err := fx.store.ExpungeMarkedForDeletion(ctx, fx.mailbox, msgrange.From(3)); err != nil {
			t.Fatalf("Failed to expunge: %v", err)
		}

		msgs, err := fx.store.FindInMailbox(ctx, fx.mailbox, msgrange.All(), types.FetchMetadata, 0)
		if err != nil {
			t.Fatalf("Failed to find messages: %v", err)
		}
		var wantUnseen int64
		for _, m := range msgs {
			if !m.Flags.Has(types.FlagSeen) {
				wantUnseen++
			}
		}
		total, unseen := fx.counts(t)
		if total != int64(len(msgs)) || unseen != wantUnseen {
			t.Errorf("Expected counters %d/%d, got %d/%d", len(msgs), wantUnseen, total, unseen)
		}
		if diff := cmp.Diff([]uint32{1, 2, 3}, fx.uids(t, msgrange.All())); diff != "" {
			t.Errorf("Remaining uids mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestPurge(t *testing.T) {
	forEachBackend(t, func(t *testing.T, fx *fixture) {
		for i := 0; i < 3; i++ {
			fx.add(t, 0)
		}
		n, err := fx.store.Purge(context.Background(), fx.mailbox)
		if err != nil || n != 3 {
			t.Fatalf("Expected 3 messages purged, got %d (%v)", n, err)
		}
		if total, unseen := fx.counts(t); total != 0 || unseen != 0 {
			t.Errorf("Expected empty counters, got %d/%d", total, unseen)
		}
	})
}

// flakyRows fails PutFlags and Remove after a number of successful calls.
type flakyRows struct {
	store.MessageRows
	mu    sync.Mutex
	after int
}

func (r *flakyRows) fail() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.after == 0 {
		return fmt.Errorf("connection reset")
	}
	r.after--
	return nil
}

func (r *flakyRows) PutFlags(ctx context.Context, mailboxID string, uid uint32, modSeq uint64, flags types.Flags) error {
	if err := r.fail(); err != nil {
		return err
	}
	return r.MessageRows.PutFlags(ctx, mailboxID, uid, modSeq, flags)
}

func (r *flakyRows) Remove(ctx context.Context, mailboxID string, uid uint32) (types.Flags, error) {
	if err := r.fail(); err != nil {
		return 0, err
	}
	return r.MessageRows.Remove(ctx, mailboxID, uid)
}

func TestRangeFailureLeavesPrefix(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	drivers := mem.Drivers()
	rows := &flakyRows{MessageRows: drivers.Rows, after: 1 << 30}
	drivers.Rows = rows
	s := store.New(drivers, nil, logging.Discard())
	mb := &types.Mailbox{ID: "mb"}

	for i := 0; i < 3; i++ {
		if _, err := s.Add(ctx, mb, newMessage(types.FlagDeleted)); err != nil {
			t.Fatalf("Failed to add message: %v", err)
		}
	}

	rows.after = 1
	updated, err := s.UpdateFlags(ctx, mb, msgrange.All(), types.FlagSeen, true, false)
	if !errors.Is(err, types.ErrStorageUnavailable) {
		t.Fatalf("Expected a retryable storage error, got %v", err)
	}
	if len(updated) != 1 || updated[0].UID != 1 {
		t.Fatalf("Expected the first row to be reported as applied, got %+v", updated)
	}
	seen, _ := s.FindInMailbox(ctx, mb, msgrange.All(), types.FetchMetadata, 0)
	if !seen[0].Flags.Has(types.FlagSeen) || seen[1].Flags.Has(types.FlagSeen) || seen[2].Flags.Has(types.FlagSeen) {
		t.Errorf("Expected only uid 1 to be seen after the failure")
	}
	if unseen, _ := s.CountUnseen(ctx, mb); unseen != 2 {
		t.Errorf("Expected 2 unseen after partial update, got %d", unseen)
	}

	rows.after = 2
	removed, err := s.ExpungeMarkedForDeletion(ctx, mb, msgrange.All())
	if !types.IsRetryable(err) {
		t.Fatalf("Expected a retryable storage error, got %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("Expected uids 1 and 2 expunged, got %v", removed)
	}
	if total, _ := s.CountMessages(ctx, mb); total != 1 {
		t.Errorf("Expected 1 message left, got %d", total)
	}
}
