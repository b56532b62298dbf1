// Package store persists pipeline state to SQLite.
//
// Pull request and commit identifiers are stored in their printable form
// and reparsed on read, so the store stays generic over the forge types.
// Composite operations run in a single transaction; a crash never leaves
// half an operation behind.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/shunt-ci/shunt/internal/pipeline"
)

// SQLite is a durable pipeline.Store backed by a SQLite database.
type SQLite[P pipeline.Pr, C pipeline.Commit] struct {
	db          *sql.DB
	parsePr     func(string) (P, error)
	parseCommit func(string) (C, error)
}

// New creates a SQLite store on an existing connection and runs migrations.
// parsePr and parseCommit must invert the String methods of P and C.
func New[P pipeline.Pr, C pipeline.Commit](db *sql.DB, parsePr func(string) (P, error), parseCommit func(string) (C, error)) (*SQLite[P, C], error) {
	s := &SQLite[P, C]{db: db, parsePr: parsePr, parseCommit: parseCommit}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store migration failed: %w", err)
	}
	return s, nil
}

// Open opens (or creates) the database at path and runs migrations.
// Use ":memory:" for tests.
func Open[P pipeline.Pr, C pipeline.Commit](path string, parsePr func(string) (P, error), parseCommit func(string) (C, error)) (*SQLite[P, C], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite has a single writer anyway; one pooled connection also keeps
	// ":memory:" databases from silently forking per connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		return nil, fmt.Errorf("failed to set database pragmas: %w", err)
	}
	return New(db, parsePr, parseCommit)
}

// Close closes the underlying database.
func (s *SQLite[P, C]) Close() error {
	return s.db.Close()
}

func (s *SQLite[P, C]) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pipeline_id INTEGER NOT NULL,
			pr TEXT NOT NULL,
			pull_commit TEXT NOT NULL,
			message TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_pipeline ON queue(pipeline_id)`,
		`CREATE TABLE IF NOT EXISTS running (
			pipeline_id INTEGER PRIMARY KEY,
			pr TEXT NOT NULL,
			pull_commit TEXT NOT NULL,
			merge_commit TEXT,
			message TEXT NOT NULL,
			canceled INTEGER NOT NULL DEFAULT 0,
			built INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS pending (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pipeline_id INTEGER NOT NULL,
			pr TEXT NOT NULL,
			pull_commit TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_pipeline_pr ON pending(pipeline_id, pr)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// withTx runs fn in a transaction, rolling back on error.
func (s *SQLite[P, C]) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLite[P, C]) queueEntry(pr, commit, message string) (*pipeline.QueueEntry[P, C], error) {
	p, err := s.parsePr(pr)
	if err != nil {
		return nil, fmt.Errorf("corrupt queue row: pr %q: %w", pr, err)
	}
	c, err := s.parseCommit(commit)
	if err != nil {
		return nil, fmt.Errorf("corrupt queue row: commit %q: %w", commit, err)
	}
	return &pipeline.QueueEntry[P, C]{Pr: p, Commit: c, Message: message}, nil
}

func (s *SQLite[P, C]) runningEntry(pr, pull string, merge sql.NullString, message string, canceled, built int) (*pipeline.RunningEntry[P, C], error) {
	p, err := s.parsePr(pr)
	if err != nil {
		return nil, fmt.Errorf("corrupt running row: pr %q: %w", pr, err)
	}
	c, err := s.parseCommit(pull)
	if err != nil {
		return nil, fmt.Errorf("corrupt running row: commit %q: %w", pull, err)
	}
	entry := &pipeline.RunningEntry[P, C]{
		Pr:         p,
		PullCommit: c,
		Message:    message,
		Canceled:   canceled != 0,
		Built:      built != 0,
	}
	if merge.Valid {
		m, err := s.parseCommit(merge.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt running row: merge commit %q: %w", merge.String, err)
		}
		entry.MergeCommit = &m
	}
	return entry, nil
}

func (s *SQLite[P, C]) pendingEntry(pr, commit string) (*pipeline.PendingEntry[P, C], error) {
	p, err := s.parsePr(pr)
	if err != nil {
		return nil, fmt.Errorf("corrupt pending row: pr %q: %w", pr, err)
	}
	c, err := s.parseCommit(commit)
	if err != nil {
		return nil, fmt.Errorf("corrupt pending row: commit %q: %w", commit, err)
	}
	return &pipeline.PendingEntry[P, C]{Pr: p, Commit: c}, nil
}

// PushQueue appends an entry to the pipeline's queue.
func (s *SQLite[P, C]) PushQueue(id pipeline.PipelineID, entry pipeline.QueueEntry[P, C]) error {
	_, err := s.db.Exec(
		`INSERT INTO queue (pipeline_id, pr, pull_commit, message) VALUES (?, ?, ?, ?)`,
		int(id), entry.Pr.String(), entry.Commit.String(), entry.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to push queue entry: %w", err)
	}
	return nil
}

// PopQueue removes and returns the queue head, or nil when empty.
func (s *SQLite[P, C]) PopQueue(id pipeline.PipelineID) (*pipeline.QueueEntry[P, C], error) {
	var entry *pipeline.QueueEntry[P, C]
	err := s.withTx(func(tx *sql.Tx) error {
		var (
			rowID               int64
			pr, commit, message string
		)
		row := tx.QueryRow(
			`SELECT id, pr, pull_commit, message FROM queue WHERE pipeline_id = ? ORDER BY id LIMIT 1`,
			int(id),
		)
		if err := row.Scan(&rowID, &pr, &commit, &message); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to read queue head: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM queue WHERE id = ?`, rowID); err != nil {
			return fmt.Errorf("failed to remove queue head: %w", err)
		}
		e, err := s.queueEntry(pr, commit, message)
		if err != nil {
			return err
		}
		entry = e
		return nil
	})
	return entry, err
}

// ListQueue returns the queue in FIFO order.
func (s *SQLite[P, C]) ListQueue(id pipeline.PipelineID) ([]pipeline.QueueEntry[P, C], error) {
	rows, err := s.db.Query(
		`SELECT pr, pull_commit, message FROM queue WHERE pipeline_id = ? ORDER BY id`,
		int(id),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	var entries []pipeline.QueueEntry[P, C]
	for rows.Next() {
		var pr, commit, message string
		if err := rows.Scan(&pr, &commit, &message); err != nil {
			return nil, fmt.Errorf("failed to scan queue row: %w", err)
		}
		entry, err := s.queueEntry(pr, commit, message)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	return entries, nil
}

// PutRunning upserts the pipeline's running slot.
func (s *SQLite[P, C]) PutRunning(id pipeline.PipelineID, entry pipeline.RunningEntry[P, C]) error {
	var merge sql.NullString
	if entry.MergeCommit != nil {
		merge = sql.NullString{String: (*entry.MergeCommit).String(), Valid: true}
	}
	_, err := s.db.Exec(
		`INSERT INTO running (pipeline_id, pr, pull_commit, merge_commit, message, canceled, built)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(pipeline_id) DO UPDATE SET
		   pr = excluded.pr,
		   pull_commit = excluded.pull_commit,
		   merge_commit = excluded.merge_commit,
		   message = excluded.message,
		   canceled = excluded.canceled,
		   built = excluded.built`,
		int(id), entry.Pr.String(), entry.PullCommit.String(), merge,
		entry.Message, boolInt(entry.Canceled), boolInt(entry.Built),
	)
	if err != nil {
		return fmt.Errorf("failed to put running entry: %w", err)
	}
	return nil
}

// TakeRunning removes and returns the running entry, or nil when empty.
func (s *SQLite[P, C]) TakeRunning(id pipeline.PipelineID) (*pipeline.RunningEntry[P, C], error) {
	var entry *pipeline.RunningEntry[P, C]
	err := s.withTx(func(tx *sql.Tx) error {
		var (
			pr, pull, message string
			merge             sql.NullString
			canceled, built   int
		)
		row := tx.QueryRow(
			`SELECT pr, pull_commit, merge_commit, message, canceled, built FROM running WHERE pipeline_id = ?`,
			int(id),
		)
		if err := row.Scan(&pr, &pull, &merge, &message, &canceled, &built); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to read running entry: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM running WHERE pipeline_id = ?`, int(id)); err != nil {
			return fmt.Errorf("failed to remove running entry: %w", err)
		}
		e, err := s.runningEntry(pr, pull, merge, message, canceled, built)
		if err != nil {
			return err
		}
		entry = e
		return nil
	})
	return entry, err
}

// PeekRunning returns the running entry without removing it.
func (s *SQLite[P, C]) PeekRunning(id pipeline.PipelineID) (*pipeline.RunningEntry[P, C], error) {
	var (
		pr, pull, message string
		merge             sql.NullString
		canceled, built   int
	)
	row := s.db.QueryRow(
		`SELECT pr, pull_commit, merge_commit, message, canceled, built FROM running WHERE pipeline_id = ?`,
		int(id),
	)
	if err := row.Scan(&pr, &pull, &merge, &message, &canceled, &built); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read running entry: %w", err)
	}
	return s.runningEntry(pr, pull, merge, message, canceled, built)
}

// AddPending records a PR head, replacing any previous entry for the PR.
func (s *SQLite[P, C]) AddPending(id pipeline.PipelineID, entry pipeline.PendingEntry[P, C]) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`DELETE FROM pending WHERE pipeline_id = ? AND pr = ?`,
			int(id), entry.Pr.String(),
		); err != nil {
			return fmt.Errorf("failed to replace pending entry: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO pending (pipeline_id, pr, pull_commit) VALUES (?, ?, ?)`,
			int(id), entry.Pr.String(), entry.Commit.String(),
		); err != nil {
			return fmt.Errorf("failed to insert pending entry: %w", err)
		}
		return nil
	})
}

// PeekPendingByPr returns the pending entry for a PR, or nil.
func (s *SQLite[P, C]) PeekPendingByPr(id pipeline.PipelineID, pr P) (*pipeline.PendingEntry[P, C], error) {
	var commit string
	row := s.db.QueryRow(
		`SELECT pull_commit FROM pending WHERE pipeline_id = ? AND pr = ?`,
		int(id), pr.String(),
	)
	if err := row.Scan(&commit); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read pending entry: %w", err)
	}
	return s.pendingEntry(pr.String(), commit)
}

// TakePendingByPr removes and returns the pending entry for a PR, or nil.
func (s *SQLite[P, C]) TakePendingByPr(id pipeline.PipelineID, pr P) (*pipeline.PendingEntry[P, C], error) {
	var entry *pipeline.PendingEntry[P, C]
	err := s.withTx(func(tx *sql.Tx) error {
		var commit string
		row := tx.QueryRow(
			`SELECT pull_commit FROM pending WHERE pipeline_id = ? AND pr = ?`,
			int(id), pr.String(),
		)
		if err := row.Scan(&commit); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to read pending entry: %w", err)
		}
		if _, err := tx.Exec(
			`DELETE FROM pending WHERE pipeline_id = ? AND pr = ?`,
			int(id), pr.String(),
		); err != nil {
			return fmt.Errorf("failed to remove pending entry: %w", err)
		}
		e, err := s.pendingEntry(pr.String(), commit)
		if err != nil {
			return err
		}
		entry = e
		return nil
	})
	return entry, err
}

// ListPending returns all pending entries for the pipeline.
func (s *SQLite[P, C]) ListPending(id pipeline.PipelineID) ([]pipeline.PendingEntry[P, C], error) {
	rows, err := s.db.Query(
		`SELECT pr, pull_commit FROM pending WHERE pipeline_id = ? ORDER BY id`,
		int(id),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending: %w", err)
	}
	defer rows.Close()

	var entries []pipeline.PendingEntry[P, C]
	for rows.Next() {
		var pr, commit string
		if err := rows.Scan(&pr, &commit); err != nil {
			return nil, fmt.Errorf("failed to scan pending row: %w", err)
		}
		entry, err := s.pendingEntry(pr, commit)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list pending: %w", err)
	}
	return entries, nil
}

// CancelByPr marks the PR's running entry canceled and deletes its queue rows.
func (s *SQLite[P, C]) CancelByPr(id pipeline.PipelineID, pr P) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`UPDATE running SET canceled = 1 WHERE pipeline_id = ? AND pr = ?`,
			int(id), pr.String(),
		); err != nil {
			return fmt.Errorf("failed to cancel running entry: %w", err)
		}
		if _, err := tx.Exec(
			`DELETE FROM queue WHERE pipeline_id = ? AND pr = ?`,
			int(id), pr.String(),
		); err != nil {
			return fmt.Errorf("failed to remove queue entries: %w", err)
		}
		return nil
	})
}

// CancelByPrDifferentCommit cancels the PR's entries whose commit differs
// from the given one, reporting whether anything was affected.
func (s *SQLite[P, C]) CancelByPrDifferentCommit(id pipeline.PipelineID, pr P, commit C) (bool, error) {
	affected := false
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE running SET canceled = 1 WHERE pipeline_id = ? AND pr = ? AND pull_commit <> ?`,
			int(id), pr.String(), commit.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to cancel running entry: %w", err)
		}
		canceled, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to count canceled rows: %w", err)
		}

		res, err = tx.Exec(
			`DELETE FROM queue WHERE pipeline_id = ? AND pr = ? AND pull_commit <> ?`,
			int(id), pr.String(), commit.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to remove queue entries: %w", err)
		}
		removed, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to count removed rows: %w", err)
		}

		affected = canceled+removed > 0
		return nil
	})
	return affected, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
