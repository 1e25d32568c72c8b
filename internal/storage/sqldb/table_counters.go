/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/JB-SelfCompany/yggmailstore/internal/storage/types"
)

// TableCounters keeps one row per mailbox holding its sequences and
// aggregate totals. Every change is a single upsert, so concurrent
// writers never lose an update.
type TableCounters struct {
	db      *sql.DB
	writer  *Writer
	uids    *CounterColumn
	modSeqs *CounterColumn
	total   *CounterColumn
	unseen  *CounterColumn
}

// CounterColumn moves and reads one column of the counters row. As a
// sequence it satisfies store.Sequencer.
type CounterColumn struct {
	column    string
	writer    *Writer
	increment *sql.Stmt
	add       *sql.Stmt
	current   *sql.Stmt
}

const incrementCounterStmt = `
	INSERT INTO mailbox_counters (mailbox_id, %[1]s) VALUES ($1, 1)
	ON CONFLICT (mailbox_id) DO UPDATE SET %[1]s = mailbox_counters.%[1]s + 1
	RETURNING %[1]s
`

const addCounterStmt = `
	INSERT INTO mailbox_counters (mailbox_id, %[1]s) VALUES ($1, $2)
	ON CONFLICT (mailbox_id) DO UPDATE SET %[1]s = mailbox_counters.%[1]s + $2
`

const selectCounterStmt = `
	SELECT %[1]s FROM mailbox_counters WHERE mailbox_id = $1
`

func newColumnCounter(db *sql.DB, writer *Writer, column string) (*CounterColumn, error) {
	c := &CounterColumn{column: column, writer: writer}
	var err error
	c.increment, err = db.Prepare(fmt.Sprintf(incrementCounterStmt, column))
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(incrementCounterStmt %s): %w", column, err)
	}
	c.add, err = db.Prepare(fmt.Sprintf(addCounterStmt, column))
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(addCounterStmt %s): %w", column, err)
	}
	c.current, err = db.Prepare(fmt.Sprintf(selectCounterStmt, column))
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(selectCounterStmt %s): %w", column, err)
	}
	return c, nil
}

func NewTableCounters(db *sql.DB, writer *Writer) (*TableCounters, error) {
	t := &TableCounters{
		db:     db,
		writer: writer,
	}
	var err error
	if t.uids, err = newColumnCounter(db, writer, "last_uid"); err != nil {
		return nil, err
	}
	if t.modSeqs, err = newColumnCounter(db, writer, "highest_modseq"); err != nil {
		return nil, err
	}
	if t.total, err = newColumnCounter(db, writer, "message_count"); err != nil {
		return nil, err
	}
	if t.unseen, err = newColumnCounter(db, writer, "unseen_count"); err != nil {
		return nil, err
	}
	return t, nil
}

// Increment atomically bumps the column and returns the new value.
func (c *CounterColumn) Increment(ctx context.Context, mailboxID string) (uint64, error) {
	var v int64
	err := c.writer.Do(func() error {
		return c.increment.QueryRowContext(ctx, mailboxID).Scan(&v)
	})
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", c.column, err)
	}
	return uint64(v), nil
}

func (c *CounterColumn) Current(ctx context.Context, mailboxID string) (uint64, error) {
	v, err := c.get(ctx, mailboxID)
	return uint64(v), err
}

func (c *CounterColumn) get(ctx context.Context, mailboxID string) (int64, error) {
	var v int64
	err := c.current.QueryRowContext(ctx, mailboxID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("select %s: %w", c.column, err)
	}
	return v, nil
}

func (c *CounterColumn) addDelta(ctx context.Context, mailboxID string, delta int64) error {
	return c.writer.Do(func() error {
		if _, err := c.add.ExecContext(ctx, mailboxID, delta); err != nil {
			return fmt.Errorf("add %s: %w", c.column, err)
		}
		return nil
	})
}

// UIDs is the uid sequence of each mailbox.
func (t *TableCounters) UIDs() *CounterColumn {
	return t.uids
}

// ModSeqs is the modseq sequence of each mailbox.
func (t *TableCounters) ModSeqs() *CounterColumn {
	return t.modSeqs
}

func (t *TableCounters) column(counter types.Counter) (*CounterColumn, error) {
	switch counter {
	case types.CounterTotal:
		return t.total, nil
	case types.CounterUnseen:
		return t.unseen, nil
	default:
		return nil, fmt.Errorf("unknown counter %s", counter)
	}
}

func (t *TableCounters) Add(ctx context.Context, mailboxID string, counter types.Counter, delta int64) error {
	c, err := t.column(counter)
	if err != nil {
		return err
	}
	return c.addDelta(ctx, mailboxID, delta)
}

func (t *TableCounters) Get(ctx context.Context, mailboxID string, counter types.Counter) (int64, error) {
	c, err := t.column(counter)
	if err != nil {
		return 0, err
	}
	return c.get(ctx, mailboxID)
}
