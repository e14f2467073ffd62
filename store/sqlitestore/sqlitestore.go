// Package sqlitestore keeps the submission corpus in a SQLite database.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	designcheck "github.com/anatolykoptev/go-designcheck"
	"github.com/anatolykoptev/go-designcheck/store"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS records (
	record_id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS fingerprints (
	record_id TEXT NOT NULL REFERENCES records(record_id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	value TEXT NOT NULL,
	algorithm TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (record_id, position)
);
CREATE INDEX IF NOT EXISTS idx_records_owner ON records(owner_id);
CREATE INDEX IF NOT EXISTS idx_records_status ON records(status);`

// Store is a store.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// One connection: SQLite serialises writers anyway, and an in-memory
	// database exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

// Put inserts rec or replaces the stored record with the same id.
func (s *Store) Put(ctx context.Context, rec store.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM fingerprints WHERE record_id = ?`, rec.RecordID); err != nil {
		return fmt.Errorf("sqlitestore: clear fingerprints of %s: %w", rec.RecordID, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO records (record_id, owner_id, status, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(record_id) DO UPDATE SET owner_id = excluded.owner_id, status = excluded.status`,
		rec.RecordID, rec.OwnerID, rec.Status, now); err != nil {
		return fmt.Errorf("sqlitestore: store record %s: %w", rec.RecordID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fingerprints (record_id, position, value, algorithm) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlitestore: prepare fingerprint insert: %w", err)
	}
	defer stmt.Close()

	for i, fp := range rec.Fingerprints {
		algo := ""
		if fp.Algorithm() != designcheck.AlgorithmUnspecified {
			algo = fp.Algorithm().String()
		}
		if _, err := stmt.ExecContext(ctx, rec.RecordID, i, fp.String(), algo); err != nil {
			return fmt.Errorf("sqlitestore: store fingerprint %d of %s: %w", i, rec.RecordID, err)
		}
	}

	return tx.Commit()
}

// SetStatus changes the review status of a stored record.
func (s *Store) SetStatus(ctx context.Context, recordID, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE records SET status = ? WHERE record_id = ?`, status, recordID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlitestore: record %s: %w", recordID, sql.ErrNoRows)
	}
	return nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n)
	return n, err
}

// CorpusEntries returns the records matching filter in insertion order.
// Records whose stored fingerprints cannot be parsed are skipped with a warning.
func (s *Store) CorpusEntries(ctx context.Context, filter designcheck.CorpusFilter) ([]designcheck.CorpusEntry, error) {
	query, args := corpusQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: query corpus: %w", err)
	}
	defer rows.Close()

	var (
		out     []designcheck.CorpusEntry
		current *store.Record
		broken  bool
	)
	flush := func() {
		if current != nil && !broken && len(current.Fingerprints) > 0 {
			out = append(out, current.Entry())
		}
	}

	for rows.Next() {
		var recordID, value, algo string
		var position int
		if err := rows.Scan(&recordID, &position, &value, &algo); err != nil {
			return nil, err
		}
		if current == nil || current.RecordID != recordID {
			flush()
			current = &store.Record{RecordID: recordID}
			broken = false
		}
		if broken {
			continue
		}
		fp, err := store.DecodeFingerprint(value, algo)
		if err != nil {
			slog.Warn("sqlitestore: skipping record with malformed fingerprint",
				"record", recordID, "position", position, "error", err.Error())
			broken = true
			continue
		}
		current.Fingerprints = append(current.Fingerprints, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	flush()

	return out, nil
}

// corpusQuery builds the corpus SELECT for filter.
func corpusQuery(filter designcheck.CorpusFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if filter.OwnerID != "" {
		where = append(where, "r.owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "r.status IN ("+strings.TrimSuffix(strings.Repeat("?,", len(filter.Statuses)), ",")+")")
		for _, st := range filter.Statuses {
			args = append(args, st)
		}
	}
	if filter.ExcludeRecordID != "" {
		where = append(where, "r.record_id <> ?")
		args = append(args, filter.ExcludeRecordID)
	}

	q := `SELECT r.record_id, f.position, f.value, f.algorithm
		FROM records r JOIN fingerprints f ON f.record_id = r.record_id`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY r.rowid, f.position"
	return q, args
}
