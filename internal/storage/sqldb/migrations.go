/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package sqldb

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/JB-SelfCompany/yggmailstore/internal/logging"
)

const (
	currentSchemaVersion = 2
)

const schemaVersionSchema = `
	CREATE TABLE IF NOT EXISTS schema_version (
		version    INTEGER NOT NULL,
		applied_at BIGINT NOT NULL
	)
`

// The message row carries one boolean column per flag; "user_flag" marks
// the presence of any user keyword.
const baseSchema = `
	CREATE TABLE IF NOT EXISTS mailboxes (
		id           TEXT NOT NULL PRIMARY KEY,
		namespace    TEXT NOT NULL,
		username     TEXT NOT NULL,
		name         TEXT NOT NULL,
		uid_validity BIGINT NOT NULL,
		UNIQUE (namespace, username, name)
	);

	CREATE TABLE IF NOT EXISTS messages (
		mailbox_id          TEXT NOT NULL,
		uid                 BIGINT NOT NULL,
		modseq              BIGINT NOT NULL,
		internal_date       BIGINT NOT NULL,
		media_type          TEXT NOT NULL DEFAULT '',
		sub_type            TEXT NOT NULL DEFAULT '',
		full_content_octets BIGINT NOT NULL DEFAULT 0,
		body_octets         BIGINT NOT NULL DEFAULT 0,
		body_start_octet    BIGINT NOT NULL DEFAULT 0,
		textual_line_count  BIGINT,
		answered            BOOLEAN NOT NULL DEFAULT FALSE,
		deleted             BOOLEAN NOT NULL DEFAULT FALSE,
		draft               BOOLEAN NOT NULL DEFAULT FALSE,
		flagged             BOOLEAN NOT NULL DEFAULT FALSE,
		recent              BOOLEAN NOT NULL DEFAULT FALSE,
		seen                BOOLEAN NOT NULL DEFAULT FALSE,
		user_flag           BOOLEAN NOT NULL DEFAULT FALSE,
		header              %[1]s,
		body                %[1]s,
		PRIMARY KEY (mailbox_id, uid)
	);

	CREATE TABLE IF NOT EXISTS mailbox_counters (
		mailbox_id     TEXT NOT NULL PRIMARY KEY,
		last_uid       BIGINT NOT NULL DEFAULT 0,
		highest_modseq BIGINT NOT NULL DEFAULT 0,
		message_count  BIGINT NOT NULL DEFAULT 0,
		unseen_count   BIGINT NOT NULL DEFAULT 0
	);
`

const flagIndexSchema = `
	CREATE INDEX IF NOT EXISTS messages_unseen ON messages (mailbox_id, seen, uid);
	CREATE INDEX IF NOT EXISTS messages_recent ON messages (mailbox_id, recent, uid);
	CREATE INDEX IF NOT EXISTS messages_deleted ON messages (mailbox_id, deleted, uid);
`

// GetSchemaVersion returns the schema version recorded in the database,
// 0 for an empty database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	if _, err := db.Exec(schemaVersionSchema); err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to query schema version: %w", err)
	}
	return version, nil
}

// SetSchemaVersion records that version has been applied.
func SetSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec("INSERT INTO schema_version (version, applied_at) VALUES ($1, $2)", version, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to insert schema version: %w", err)
	}
	return nil
}

// execScript runs each statement of script in turn. Some drivers only
// accept one statement per Exec.
func execScript(db *sql.DB, script string) error {
	for _, stmt := range strings.Split(script, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// migrateV0toV1 creates the base tables.
func migrateV0toV1(db *sql.DB, dialect Dialect) error {
	if err := execScript(db, fmt.Sprintf(baseSchema, dialect.blobType())); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// migrateV1toV2 adds the indexes used by the unseen, recent and expunge
// scans.
func migrateV1toV2(db *sql.DB) error {
	if err := execScript(db, flagIndexSchema); err != nil {
		return fmt.Errorf("failed to create flag indexes: %w", err)
	}
	return nil
}

// RunMigrations executes all necessary migrations to bring the database to the current schema version
func RunMigrations(db *sql.DB, dialect Dialect, log logging.Logger) error {
	version, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	log.Infof("Current database schema version: %d, target version: %d", version, currentSchemaVersion)

	if version >= currentSchemaVersion {
		log.Debugf("Database schema is up to date")
		return nil
	}

	for v := version; v < currentSchemaVersion; v++ {
		switch v {
		case 0:
			if err := migrateV0toV1(db, dialect); err != nil {
				return fmt.Errorf("migration v0->v1 failed: %w", err)
			}
		case 1:
			if err := migrateV1toV2(db); err != nil {
				return fmt.Errorf("migration v1->v2 failed: %w", err)
			}
		default:
			return fmt.Errorf("unknown migration version: %d", v)
		}
		if err := SetSchemaVersion(db, v+1); err != nil {
			return fmt.Errorf("failed to set schema version to %d: %w", v+1, err)
		}
		log.Infof("Migrated database schema to v%d", v+1)
	}

	return nil
}
