package durablelog

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLAuditSink mirrors propagated commands into a MySQL table, an
// additional durable-log consumer alongside the file-backed AOF-equivalent.
// It runs one append per propagated command through a pooled connection,
// configured with the same idle/open/lifetime knobs any pooled SQL
// consumer needs.
type MySQLAuditSink struct {
	db *sql.DB

	mu       sync.Mutex
	degraded bool
	lastErr  error
}

// MySQLAuditConfig configures connection-pool sizing for the audit sink.
type MySQLAuditConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// NewMySQLAuditSink opens a connection pool and ensures the audit table
// exists.
func NewMySQLAuditSink(ctx context.Context, cfg MySQLAuditConfig) (*MySQLAuditSink, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	const createTable = `
CREATE TABLE IF NOT EXISTS kvcore_command_log (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	command TEXT NOT NULL,
	recorded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`
	if _, err := db.ExecContext(ctx, createTable); err != nil {
		db.Close()
		return nil, err
	}

	return &MySQLAuditSink{db: db}, nil
}

// Append inserts one row per entry, space-joining argv into a readable
// command line (sufficient for audit, not intended to be replay-exact —
// the file-backed FileLog is the replay source of truth).
func (s *MySQLAuditSink) Append(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.markDegraded(err)
		return err
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO kvcore_command_log (command) VALUES (?)")
	if err != nil {
		tx.Rollback()
		s.markDegraded(err)
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		parts := make([]string, len(e.Argv))
		for i, a := range e.Argv {
			parts[i] = string(a)
		}
		if _, err := stmt.ExecContext(ctx, strings.Join(parts, " ")); err != nil {
			tx.Rollback()
			s.markDegraded(err)
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		s.markDegraded(err)
		return err
	}
	s.clearDegraded()
	return nil
}

// Flush is a no-op: Append already commits per batch. Present to satisfy
// the Sink interface uniformly with FileLog.
func (s *MySQLAuditSink) Flush() error { return nil }

// Close releases the connection pool.
func (s *MySQLAuditSink) Close() error { return s.db.Close() }

// Degraded reports whether the most recent Append failed.
func (s *MySQLAuditSink) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

func (s *MySQLAuditSink) markDegraded(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded = true
	s.lastErr = err
}

func (s *MySQLAuditSink) clearDegraded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded = false
}
