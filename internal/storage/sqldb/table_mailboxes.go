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

type TableMailboxes struct {
	db                *sql.DB
	writer            *Writer
	dialect           Dialect
	insertMailbox     *sql.Stmt
	updateMailbox     *sql.Stmt
	selectMailboxID   *sql.Stmt
	selectMailboxPath *sql.Stmt
	selectMailboxes   *sql.Stmt
	deleteMailbox     *sql.Stmt
}

const insertMailboxStmt = `
	INSERT INTO mailboxes (id, namespace, username, name, uid_validity) VALUES ($1, $2, $3, $4, $5)
`

const updateMailboxStmt = `
	UPDATE mailboxes SET namespace = $1, username = $2, name = $3, uid_validity = $4 WHERE id = $5
`

const selectMailboxIDStmt = `
	SELECT id, namespace, username, name, uid_validity FROM mailboxes WHERE id = $1
`

const selectMailboxPathStmt = `
	SELECT id, namespace, username, name, uid_validity FROM mailboxes
	WHERE namespace = $1 AND username = $2 AND name = $3
`

const selectMailboxesStmt = `
	SELECT id, namespace, username, name, uid_validity FROM mailboxes
	ORDER BY namespace, username, name
`

const deleteMailboxStmt = `
	DELETE FROM mailboxes WHERE id = $1
`

func NewTableMailboxes(db *sql.DB, writer *Writer, dialect Dialect) (*TableMailboxes, error) {
	t := &TableMailboxes{
		db:      db,
		writer:  writer,
		dialect: dialect,
	}
	var err error
	t.insertMailbox, err = db.Prepare(insertMailboxStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(insertMailboxStmt): %w", err)
	}
	t.updateMailbox, err = db.Prepare(updateMailboxStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(updateMailboxStmt): %w", err)
	}
	t.selectMailboxID, err = db.Prepare(selectMailboxIDStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(selectMailboxIDStmt): %w", err)
	}
	t.selectMailboxPath, err = db.Prepare(selectMailboxPathStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(selectMailboxPathStmt): %w", err)
	}
	t.selectMailboxes, err = db.Prepare(selectMailboxesStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(selectMailboxesStmt): %w", err)
	}
	t.deleteMailbox, err = db.Prepare(deleteMailboxStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(deleteMailboxStmt): %w", err)
	}
	return t, nil
}

func (t *TableMailboxes) Insert(ctx context.Context, mb *types.Mailbox) error {
	return t.writer.Do(func() error {
		_, err := t.insertMailbox.ExecContext(ctx, mb.ID, mb.Path.Namespace, mb.Path.User, mb.Path.Name, int64(mb.UIDValidity))
		if t.dialect.isUniqueViolation(err) {
			return types.ErrMailboxExists
		}
		return err
	})
}

func (t *TableMailboxes) Update(ctx context.Context, mb *types.Mailbox) error {
	return t.writer.Do(func() error {
		res, err := t.updateMailbox.ExecContext(ctx, mb.Path.Namespace, mb.Path.User, mb.Path.Name, int64(mb.UIDValidity), mb.ID)
		if t.dialect.isUniqueViolation(err) {
			return types.ErrMailboxExists
		}
		if err != nil {
			return err
		}
		return expectRow(res, types.ErrMailboxNotFound)
	})
}

func scanMailbox(row interface{ Scan(...any) error }) (*types.Mailbox, error) {
	var mb types.Mailbox
	var validity int64
	if err := row.Scan(&mb.ID, &mb.Path.Namespace, &mb.Path.User, &mb.Path.Name, &validity); err != nil {
		return nil, err
	}
	mb.UIDValidity = uint32(validity)
	return &mb, nil
}

func (t *TableMailboxes) SelectByID(ctx context.Context, id string) (*types.Mailbox, error) {
	mb, err := scanMailbox(t.selectMailboxID.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrMailboxNotFound
	}
	return mb, err
}

func (t *TableMailboxes) SelectByPath(ctx context.Context, path types.MailboxPath) (*types.Mailbox, error) {
	mb, err := scanMailbox(t.selectMailboxPath.QueryRowContext(ctx, path.Namespace, path.User, path.Name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrMailboxNotFound
	}
	return mb, err
}

func (t *TableMailboxes) SelectAll(ctx context.Context) ([]*types.Mailbox, error) {
	rows, err := t.selectMailboxes.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("t.selectMailboxes.Query: %w", err)
	}
	defer rows.Close()
	var mailboxes []*types.Mailbox
	for rows.Next() {
		mb, err := scanMailbox(rows)
		if err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		mailboxes = append(mailboxes, mb)
	}
	return mailboxes, rows.Err()
}

func (t *TableMailboxes) Delete(ctx context.Context, id string) error {
	return t.writer.Do(func() error {
		res, err := t.deleteMailbox.ExecContext(ctx, id)
		if err != nil {
			return err
		}
		return expectRow(res, types.ErrMailboxNotFound)
	})
}

// expectRow returns notFound if res affected no rows.
func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("res.RowsAffected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
