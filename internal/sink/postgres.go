package sink

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS timing_records (
	run_id TEXT NOT NULL,
	epoch INTEGER NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL,
	prefix TEXT NOT NULL,
	cumulative BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (run_id, epoch)
);

CREATE TABLE IF NOT EXISTS timing_values (
	run_id TEXT NOT NULL,
	epoch INTEGER NOT NULL,
	key TEXT NOT NULL,
	value DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, epoch, key),
	FOREIGN KEY (run_id, epoch) REFERENCES timing_records(run_id, epoch) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_timing_records_recorded_at ON timing_records(recorded_at);
`

// PostgresSink stores records in PostgreSQL
type PostgresSink struct {
	*sqlSink
}

// NewPostgresSink connects to cfg.DSN and creates the tables if needed
func NewPostgresSink(cfg Config) (*PostgresSink, error) {
	if cfg.DSN == "" {
		return nil, errors.New("PostgreSQL DSN is required")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	db.SetMaxIdleConns(2)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s, err := newSQLSink(db, dialect{
		name:   "postgres",
		schema: postgresSchema,
		placeholder: func(n int) string {
			return "$" + strconv.Itoa(n)
		},
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresSink{sqlSink: s}, nil
}
