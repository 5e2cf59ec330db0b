package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/tutor-core/internal/domain"
	"github.com/ashureev/tutor-core/internal/shared"
)

// Append stores snapshot as the next checkpoint of the session. The sequence
// is computed and inserted inside one transaction; a concurrent writer that
// wins the race makes the insert fail on UNIQUE(session_id, seq) and the
// append is retried.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, snapshot []byte) (int64, error) {
	var seq int64
	err := shared.Retry(ctx, appendPolicy, "append checkpoint", func() error {
		var err error
		seq, err = s.appendOnce(ctx, sessionID, snapshot)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("append checkpoint for %s: %w", sessionID, err)
	}
	return seq, nil
}

func (s *SQLiteStore) appendOnce(ctx context.Context, sessionID string, snapshot []byte) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM checkpoints WHERE session_id = ?`, sessionID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO checkpoints (session_id, seq, snapshot, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, seq, snapshot, s.now().UnixMilli(),
	)
	if shared.IsSQLiteUniqueError(err) {
		return 0, ErrSequenceConflict
	}
	if err != nil {
		return 0, fmt.Errorf("insert checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}
	return seq, nil
}

// Latest returns the newest checkpoint of the session, or nil.
func (s *SQLiteStore) Latest(ctx context.Context, sessionID string) (*domain.Checkpoint, error) {
	query := `
		SELECT session_id, seq, snapshot, created_at FROM checkpoints
		WHERE session_id = ? ORDER BY seq DESC LIMIT 1`

	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}
	return &cp, nil
}

// List returns up to limit checkpoints of the session, newest first.
func (s *SQLiteStore) List(ctx context.Context, sessionID string, limit int) ([]domain.Checkpoint, error) {
	query := `
		SELECT session_id, seq, snapshot, created_at FROM checkpoints
		WHERE session_id = ? ORDER BY seq DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close checkpoint rows", "error", closeErr)
		}
	}()

	var out []domain.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return out, nil
}

func scanCheckpoint(row rowScanner) (domain.Checkpoint, error) {
	var cp domain.Checkpoint
	var createdAt int64
	if err := row.Scan(&cp.SessionID, &cp.Seq, &cp.Snapshot, &createdAt); err != nil {
		return domain.Checkpoint{}, err
	}
	cp.CreatedAt = time.UnixMilli(createdAt).UTC()
	return cp, nil
}
