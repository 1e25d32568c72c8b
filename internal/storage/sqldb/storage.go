/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package sqldb stores mailboxes, messages and their counters in an SQL
// database. No operation spans more than one statement; counters are
// moved with single-statement upserts.
package sqldb

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"modernc.org/sqlite"

	"github.com/JB-SelfCompany/yggmailstore/internal/logging"
	"github.com/JB-SelfCompany/yggmailstore/internal/store"
)

type Dialect string

const (
	DialectSQLite3  Dialect = "sqlite3"  // github.com/mattn/go-sqlite3
	DialectSQLite   Dialect = "sqlite"   // modernc.org/sqlite
	DialectPostgres Dialect = "postgres" // github.com/lib/pq
)

func (d Dialect) blobType() string {
	if d == DialectPostgres {
		return "BYTEA"
	}
	return "BLOB"
}

func (d Dialect) isSQLite() bool {
	return d == DialectSQLite3 || d == DialectSQLite
}

// isUniqueViolation reports whether err is a unique or primary key
// constraint failure.
func (d Dialect) isUniqueViolation(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var moderncErr *sqlite.Error
	if errors.As(err, &moderncErr) {
		// SQLITE_CONSTRAINT_UNIQUE, SQLITE_CONSTRAINT_PRIMARYKEY
		return moderncErr.Code() == 2067 || moderncErr.Code() == 1555
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

type Storage struct {
	DB        *sql.DB
	Dialect   Dialect
	Writer    *Writer
	Mailboxes *TableMailboxes
	Messages  *TableMessages
	Counters  *TableCounters
	log       logging.Logger
}

// Open connects to dsn with the driver of dialect, brings the schema up
// to date and prepares the tables.
func Open(dialect Dialect, dsn string, log logging.Logger) (*Storage, error) {
	switch dialect {
	case DialectSQLite3, DialectSQLite, DialectPostgres:
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", dialect)
	}
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("db.Ping: %w", err)
	}
	s := &Storage{
		DB:      db,
		Dialect: dialect,
		Writer:  NewDummyWriter(),
		log:     log,
	}
	if dialect.isSQLite() {
		s.Writer = NewExclusiveWriter()
	}
	if err := RunMigrations(db, dialect, log); err != nil {
		db.Close()
		return nil, fmt.Errorf("RunMigrations: %w", err)
	}
	if s.Mailboxes, err = NewTableMailboxes(db, s.Writer, dialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("NewTableMailboxes: %w", err)
	}
	if s.Messages, err = NewTableMessages(db, s.Writer); err != nil {
		db.Close()
		return nil, fmt.Errorf("NewTableMessages: %w", err)
	}
	if s.Counters, err = NewTableCounters(db, s.Writer); err != nil {
		db.Close()
		return nil, fmt.Errorf("NewTableCounters: %w", err)
	}
	log.Infof("Opened %s storage", dialect)
	return s, nil
}

// Drivers returns the row, sequence and counter drivers backed by this
// database.
func (s *Storage) Drivers() store.Drivers {
	return store.Drivers{
		Rows:     s.Messages,
		UIDs:     s.Counters.UIDs(),
		ModSeqs:  s.Counters.ModSeqs(),
		Counters: s.Counters,
	}
}

func (s *Storage) Close() error {
	return s.DB.Close()
}

// SQLiteDSN returns a data source name for the database file at path with
// WAL journaling and a busy timeout, in the parameter syntax of dialect.
func SQLiteDSN(dialect Dialect, path string) string {
	if dialect == DialectSQLite {
		return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	return "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL"
}
