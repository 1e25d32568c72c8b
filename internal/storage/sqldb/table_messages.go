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
	"strings"
	"time"

	"github.com/JB-SelfCompany/yggmailstore/internal/storage/types"
	"github.com/JB-SelfCompany/yggmailstore/internal/store"
)

type TableMessages struct {
	db                 *sql.DB
	writer             *Writer
	upsertMessage      *sql.Stmt
	updateMessageFlags *sql.Stmt
	deleteMessage      *sql.Stmt
}

// flagColumns lists the flag columns in a fixed order shared by every
// statement below.
var flagColumns = []struct {
	name string
	flag types.Flags
}{
	{"answered", types.FlagAnswered},
	{"deleted", types.FlagDeleted},
	{"draft", types.FlagDraft},
	{"flagged", types.FlagFlagged},
	{"recent", types.FlagRecent},
	{"seen", types.FlagSeen},
	{"user_flag", types.FlagUser},
}

const metadataColumns = `uid, modseq, internal_date, media_type, sub_type,
	full_content_octets, body_octets, body_start_octet, textual_line_count,
	answered, deleted, draft, flagged, recent, seen, user_flag`

const upsertMessageStmt = `
	INSERT INTO messages (
		mailbox_id, uid, modseq, internal_date, media_type, sub_type,
		full_content_octets, body_octets, body_start_octet, textual_line_count,
		answered, deleted, draft, flagged, recent, seen, user_flag, header, body
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	ON CONFLICT (mailbox_id, uid) DO UPDATE SET
		modseq = excluded.modseq, internal_date = excluded.internal_date,
		media_type = excluded.media_type, sub_type = excluded.sub_type,
		full_content_octets = excluded.full_content_octets, body_octets = excluded.body_octets,
		body_start_octet = excluded.body_start_octet, textual_line_count = excluded.textual_line_count,
		answered = excluded.answered, deleted = excluded.deleted, draft = excluded.draft,
		flagged = excluded.flagged, recent = excluded.recent, seen = excluded.seen,
		user_flag = excluded.user_flag, header = excluded.header, body = excluded.body
`

const updateMessageFlagsStmt = `
	UPDATE messages SET
		modseq = $1, answered = $2, deleted = $3, draft = $4,
		flagged = $5, recent = $6, seen = $7, user_flag = $8
	WHERE mailbox_id = $9 AND uid = $10
`

const deleteMessageStmt = `
	DELETE FROM messages WHERE mailbox_id = $1 AND uid = $2
	RETURNING answered, deleted, draft, flagged, recent, seen, user_flag
`

func NewTableMessages(db *sql.DB, writer *Writer) (*TableMessages, error) {
	t := &TableMessages{
		db:     db,
		writer: writer,
	}
	var err error
	t.upsertMessage, err = db.Prepare(upsertMessageStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(upsertMessageStmt): %w", err)
	}
	t.updateMessageFlags, err = db.Prepare(updateMessageFlagsStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(updateMessageFlagsStmt): %w", err)
	}
	t.deleteMessage, err = db.Prepare(deleteMessageStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(deleteMessageStmt): %w", err)
	}
	return t, nil
}

func flagArgs(f types.Flags) []any {
	args := make([]any, 0, len(flagColumns))
	for _, c := range flagColumns {
		args = append(args, f.Has(c.flag))
	}
	return args
}

func (t *TableMessages) Put(ctx context.Context, msg *types.Message) error {
	var lines sql.NullInt64
	if msg.TextualLineCount != nil {
		lines = sql.NullInt64{Int64: *msg.TextualLineCount, Valid: true}
	}
	args := []any{
		msg.MailboxID, int64(msg.UID), int64(msg.ModSeq), msg.InternalDate.UnixNano(),
		msg.MediaType, msg.SubType, msg.FullContentOctets, msg.BodyOctets,
		msg.BodyStartOctet, lines,
	}
	args = append(args, flagArgs(msg.Flags)...)
	args = append(args, msg.Header, msg.Body)
	return t.writer.Do(func() error {
		_, err := t.upsertMessage.ExecContext(ctx, args...)
		return err
	})
}

func (t *TableMessages) PutFlags(ctx context.Context, mailboxID string, uid uint32, modSeq uint64, flags types.Flags) error {
	args := append([]any{int64(modSeq)}, flagArgs(flags)...)
	args = append(args, mailboxID, int64(uid))
	return t.writer.Do(func() error {
		res, err := t.updateMessageFlags.ExecContext(ctx, args...)
		if err != nil {
			return err
		}
		return expectRow(res, types.ErrMessageNotFound)
	})
}

func (t *TableMessages) Remove(ctx context.Context, mailboxID string, uid uint32) (types.Flags, error) {
	var flags types.Flags
	err := t.writer.Do(func() error {
		var err error
		flags, err = scanFlags(t.deleteMessage.QueryRowContext(ctx, mailboxID, int64(uid)))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return 0, types.ErrMessageNotFound
	}
	return flags, err
}

func scanFlags(row interface{ Scan(...any) error }) (types.Flags, error) {
	values := make([]bool, len(flagColumns))
	dest := make([]any, len(values))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := row.Scan(dest...); err != nil {
		return 0, err
	}
	var f types.Flags
	for i, c := range flagColumns {
		if values[i] {
			f |= c.flag
		}
	}
	return f, nil
}

// Scan builds the query for q on each call since the projection and
// filters vary.
func (t *TableMessages) Scan(ctx context.Context, q store.Query) ([]*types.Message, error) {
	columns := metadataColumns
	if q.Fetch.WantsHeader() {
		columns += ", header"
	}
	if q.Fetch.WantsBody() {
		columns += ", body"
	}

	where := []string{"mailbox_id = $1"}
	args := []any{q.MailboxID}
	if cond, condArgs := q.Predicate.SQL("uid", len(args)+1); cond != "" {
		where = append(where, cond)
		args = append(args, condArgs...)
	}
	for _, c := range flagColumns {
		switch {
		case q.With.Has(c.flag):
			where = append(where, c.name)
		case q.Without.Has(c.flag):
			where = append(where, "NOT "+c.name)
		}
	}
	query := fmt.Sprintf("SELECT %s FROM messages WHERE %s ORDER BY uid", columns, strings.Join(where, " AND "))
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("t.db.Query: %w", err)
	}
	defer rows.Close()

	var msgs []*types.Message
	for rows.Next() {
		m := &types.Message{MailboxID: q.MailboxID}
		var uid, modSeq, date int64
		var lines sql.NullInt64
		flags := make([]bool, len(flagColumns))
		dest := []any{
			&uid, &modSeq, &date, &m.MediaType, &m.SubType,
			&m.FullContentOctets, &m.BodyOctets, &m.BodyStartOctet, &lines,
		}
		for i := range flags {
			dest = append(dest, &flags[i])
		}
		if q.Fetch.WantsHeader() {
			dest = append(dest, &m.Header)
		}
		if q.Fetch.WantsBody() {
			dest = append(dest, &m.Body)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		m.UID = uint32(uid)
		m.ModSeq = uint64(modSeq)
		m.InternalDate = time.Unix(0, date)
		if lines.Valid {
			m.TextualLineCount = &lines.Int64
		}
		for i, c := range flagColumns {
			if flags[i] {
				m.Flags |= c.flag
			}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}
	return msgs, nil
}
