package sink

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS timing_records (
	run_id TEXT NOT NULL,
	epoch INTEGER NOT NULL,
	recorded_at DATETIME NOT NULL,
	prefix TEXT NOT NULL,
	cumulative BOOLEAN NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, epoch)
);

CREATE TABLE IF NOT EXISTS timing_values (
	run_id TEXT NOT NULL,
	epoch INTEGER NOT NULL,
	key TEXT NOT NULL,
	value REAL NOT NULL,
	PRIMARY KEY (run_id, epoch, key)
);

CREATE INDEX IF NOT EXISTS idx_timing_records_recorded_at ON timing_records(recorded_at);
`

// SQLiteSink stores records in a SQLite database
type SQLiteSink struct {
	*sqlSink
	path string
}

// NewSQLiteSink opens or creates the database at path
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	// WAL with a busy timeout lets a reporter read while a run is writing
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_txlock=immediate", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	s, err := newSQLSink(db, dialect{name: "sqlite", schema: sqliteSchema, serialize: true})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteSink{sqlSink: s, path: path}, nil
}

// Path returns the database file
func (s *SQLiteSink) Path() string {
	return s.path
}
