package sink

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// dialect holds the statements that differ between SQL backends
type dialect struct {
	name        string
	schema      string
	placeholder func(n int) string
	// serialize writes through a single transaction at a time
	serialize bool
}

// sqlSink stores records in two tables: one row per window in
// timing_records and one row per exported key in timing_values
type sqlSink struct {
	db      *sql.DB
	dialect dialect

	writeMu sync.Mutex
	closed  atomic.Bool
}

func newSQLSink(db *sql.DB, d dialect) (*sqlSink, error) {
	s := &sqlSink{db: db, dialect: d}
	if _, err := db.Exec(d.schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// rebind rewrites ? placeholders for the dialect
func (s *sqlSink) rebind(query string) string {
	if s.dialect.placeholder == nil {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.dialect.placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Write upserts the record for (run, epoch) and replaces its values
func (s *sqlSink) Write(ctx context.Context, r Record) error {
	if s.dialect.serialize {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}
	if s.closed.Load() {
		return ErrClosed
	}

	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO timing_records (run_id, epoch, recorded_at, prefix, cumulative)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id, epoch) DO UPDATE SET
			recorded_at = excluded.recorded_at,
			prefix = excluded.prefix,
			cumulative = excluded.cumulative
	`), r.RunID, r.Epoch, ts.UTC(), r.Prefix, r.Cumulative)
	if err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM timing_values WHERE run_id = ? AND epoch = ?`), r.RunID, r.Epoch); err != nil {
		return fmt.Errorf("failed to clear values: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO timing_values (run_id, epoch, key, value) VALUES (?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare values insert: %w", err)
	}
	defer stmt.Close()

	keys := make([]string, 0, len(r.Values))
	for k := range r.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, r.RunID, r.Epoch, k, r.Values[k]); err != nil {
			return fmt.Errorf("failed to write value %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit record: %w", err)
	}
	return nil
}

// Records reads every record for runID ordered by run and epoch
func (s *sqlSink) Records(ctx context.Context, runID string) ([]Record, error) {
	query := `
		SELECT r.run_id, r.epoch, r.recorded_at, r.prefix, r.cumulative, v.key, v.value
		FROM timing_records r
		LEFT JOIN timing_values v ON v.run_id = r.run_id AND v.epoch = r.epoch`
	var args []interface{}
	if runID != "" {
		query += ` WHERE r.run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY r.recorded_at, r.run_id, r.epoch`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec   Record
			key   sql.NullString
			value sql.NullFloat64
		)
		if err := rows.Scan(&rec.RunID, &rec.Epoch, &rec.Timestamp, &rec.Prefix, &rec.Cumulative, &key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		n := len(records)
		if n == 0 || records[n-1].RunID != rec.RunID || records[n-1].Epoch != rec.Epoch {
			rec.Values = make(map[string]float64)
			records = append(records, rec)
			n++
		}
		if key.Valid {
			records[n-1].Values[key.String] = value.Float64
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Runs lists run IDs ordered by their first record
func (s *sqlSink) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id FROM timing_records
		GROUP BY run_id
		ORDER BY MIN(recorded_at), run_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		runs = append(runs, id)
	}
	return runs, rows.Err()
}

// Close closes the database
func (s *sqlSink) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
