// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLitePersister stores index entries in a SQLite table.
type SQLitePersister struct {
	db *sql.DB
}

// OpenSQLite opens or creates the index database at path.
// Special value ":memory:" creates an in-memory database.
func OpenSQLite(path string) (*SQLitePersister, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// SQLite connection string with WAL mode for better concurrency
	connStr := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
		connStr += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent and writes
	// serialized; the in-memory index serves all reads.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	p := &SQLitePersister{db: db}
	if err := p.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return p, nil
}

// migrate creates the database schema.
func (p *SQLitePersister) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trace_index (
			trace_id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			type_set INTEGER NOT NULL DEFAULT 0,
			name TEXT NOT NULL,
			start_time INTEGER NOT NULL,
			end_time INTEGER,
			status_code INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		)`,
		// Index for recency ordering
		`CREATE INDEX IF NOT EXISTS idx_trace_index_start ON trace_index(start_time DESC, trace_id)`,
	}

	for _, migration := range migrations {
		if _, err := p.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

const upsertEntry = `
	INSERT INTO trace_index (trace_id, type, type_set, name, start_time, end_time, status_code, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(trace_id) DO UPDATE SET
		type = excluded.type,
		type_set = excluded.type_set,
		name = excluded.name,
		start_time = excluded.start_time,
		end_time = excluded.end_time,
		status_code = excluded.status_code,
		updated_at = excluded.updated_at
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putEntry(ctx context.Context, db execer, e Entry) error {
	var end *int64
	if e.End != nil {
		v := *e.End
		end = &v
	}
	typeSet := 0
	if e.TypeSet {
		typeSet = 1
	}
	_, err := db.ExecContext(ctx, upsertEntry,
		e.ID, e.Type, typeSet, e.Name, e.Start, end, e.Status, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to store index entry: %w", err)
	}
	return nil
}

// Put implements Persister.
func (p *SQLitePersister) Put(ctx context.Context, e Entry) error {
	return putEntry(ctx, p.db, e)
}

// Load implements Persister.
func (p *SQLitePersister) Load(ctx context.Context) ([]Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT trace_id, type, type_set, name, start_time, end_time, status_code
		FROM trace_index ORDER BY start_time DESC, trace_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list index entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			typeSet int
			end     sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.Type, &typeSet, &e.Name, &e.Start, &end, &e.Status); err != nil {
			return nil, fmt.Errorf("failed to scan index entry: %w", err)
		}
		e.TypeSet = typeSet != 0
		if end.Valid {
			v := end.Int64
			e.End = &v
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read index entries: %w", err)
	}

	return entries, nil
}

// Replace implements Persister.
func (p *SQLitePersister) Replace(ctx context.Context, entries []Entry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM trace_index`); err != nil {
		return fmt.Errorf("failed to clear index: %w", err)
	}
	for _, e := range entries {
		if err := putEntry(ctx, tx, e); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit index: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (p *SQLitePersister) Close() error {
	return p.db.Close()
}
