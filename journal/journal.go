// go-otaflash
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-otaflash.
//
// go-otaflash is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-otaflash is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-otaflash; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package journal records firmware update attempts in a local sqlite database
// so an operator can see what was flashed where, and how it ended.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/ZaparooProject/go-otaflash"
)

// ErrNotFound is returned when a session ID has no journal row
var ErrNotFound = errors.New("journal entry not found")

// Results stored in the result column
const (
	ResultRunning  = "running"
	ResultComplete = "complete"
	ResultFailed   = "failed"
)

// timeLayout is fixed width so that text order in sqlite is time order
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB wraps the sqlite journal.
type DB struct {
	*sql.DB
}

// Open opens the journal at path (":memory:" for a throwaway one) and runs
// migrations.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", path, err)
	}
	// One connection: sqlite has a single writer, and every ":memory:"
	// connection would otherwise be a separate database.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating journal %s: %w", path, err)
	}
	return &DB{db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS updates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL UNIQUE,
			device TEXT NOT NULL,
			firmware TEXT NOT NULL,
			image_size INTEGER NOT NULL,
			image_checksum INTEGER NOT NULL,
			checksum TEXT NOT NULL,
			chunk_size INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			result TEXT NOT NULL,
			cause TEXT,
			stage TEXT,
			attempts INTEGER,
			bytes_sent INTEGER,
			error TEXT,
			finished_at TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_updates_started ON updates(started_at);
	`)
	return err
}

// Attempt describes an update as it starts
type Attempt struct {
	StartedAt     time.Time
	SessionID     string
	Device        string
	Firmware      string
	Checksum      string
	ImageSize     int
	ChunkSize     int
	ImageChecksum uint32
}

// Outcome describes how an update ended
type Outcome struct {
	Result    string
	Cause     string
	Stage     string
	Error     string
	Attempts  int
	BytesSent int
}

// OutcomeOf builds the outcome of a session from the error Run returned
func OutcomeOf(err error, bytesSent int) Outcome {
	if err == nil {
		return Outcome{Result: ResultComplete, BytesSent: bytesSent}
	}

	out := Outcome{
		Result:    ResultFailed,
		Cause:     otaflash.CauseTransport.String(),
		Error:     err.Error(),
		BytesSent: bytesSent,
	}
	var ue *otaflash.UpdateError
	if errors.As(err, &ue) {
		out.Cause = ue.Cause.String()
		out.Stage = ue.Stage.String()
		out.Attempts = ue.Attempts
	}
	return out
}

// Entry is one journal row
type Entry struct {
	FinishedAt *time.Time
	Outcome
	Attempt
	ID int64
}

// Begin records that an update has started.
func (db *DB) Begin(a Attempt) error {
	if a.StartedAt.IsZero() {
		a.StartedAt = time.Now()
	}
	_, err := db.Exec(`INSERT INTO updates
		(session_id, device, firmware, image_size, image_checksum, checksum, chunk_size, started_at, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.SessionID, a.Device, a.Firmware, a.ImageSize, int64(a.ImageChecksum), a.Checksum, a.ChunkSize,
		a.StartedAt.UTC().Format(timeLayout), ResultRunning)
	if err != nil {
		return fmt.Errorf("recording start of %s: %w", a.SessionID, err)
	}
	return nil
}

// Finish records how the update with sessionID ended.
func (db *DB) Finish(sessionID string, o Outcome) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := db.Exec(`UPDATE updates
		SET result = ?, cause = ?, stage = ?, attempts = ?, bytes_sent = ?, error = ?, finished_at = ?
		WHERE session_id = ?`,
		o.Result, nullString(o.Cause), nullString(o.Stage), o.Attempts, o.BytesSent, nullString(o.Error), now, sessionID)
	if err != nil {
		return fmt.Errorf("recording end of %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (db *DB) Recent(limit int) ([]Entry, error) {
	rows, err := db.Query(`SELECT id, session_id, device, firmware, image_size, image_checksum, checksum,
		chunk_size, started_at, result, cause, stage, attempts, bytes_sent, error, finished_at
		FROM updates ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e                 Entry
		checksum          int64
		started           string
		cause, stage, msg sql.NullString
		finished          sql.NullString
		attempts, sent    sql.NullInt64
	)
	err := rows.Scan(&e.ID, &e.SessionID, &e.Device, &e.Firmware, &e.ImageSize, &checksum, &e.Checksum,
		&e.ChunkSize, &started, &e.Result, &cause, &stage, &attempts, &sent, &msg, &finished)
	if err != nil {
		return Entry{}, err
	}

	e.ImageChecksum = uint32(checksum) //nolint:gosec // stored from a uint32
	e.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	e.Cause = cause.String
	e.Stage = stage.String
	e.Error = msg.String
	e.Attempts = int(attempts.Int64)
	e.BytesSent = int(sent.Int64)
	if finished.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finished.String); err == nil {
			e.FinishedAt = &t
		}
	}
	return e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
