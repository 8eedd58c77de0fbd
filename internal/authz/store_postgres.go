package authz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"consent-manager/pkg/platform/sentinel"
	txctx "consent-manager/pkg/platform/tx"
)

// PostgresStore persists HipActions in the hip_actions table. Calls join the
// transaction bound to ctx when there is one.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, a *HipAction) error {
	_, err := txctx.Execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO hip_actions (session_id, requester_id, patient_id, purpose, expires_at, allowed_repeat, counter, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.SessionID, a.RequesterID, a.PatientID, string(a.Purpose), a.ExpiresAt, a.AllowedRepeat, a.Counter, a.CreatedAt,
	)
	if err != nil {
		var pgErr interface{ SQLState() string }
		if errors.As(err, &pgErr) && pgErr.SQLState() == "23505" {
			return sentinel.ErrAlreadyExists
		}
		return fmt.Errorf("insert hip action: %w", err)
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, sessionID string) (*HipAction, error) {
	var (
		a       HipAction
		purpose string
	)
	err := txctx.Execer(ctx, s.db).QueryRowContext(ctx, `
		SELECT session_id, requester_id, patient_id, purpose, expires_at, allowed_repeat, counter, created_at
		FROM hip_actions WHERE session_id = $1`, sessionID,
	).Scan(&a.SessionID, &a.RequesterID, &a.PatientID, &purpose, &a.ExpiresAt, &a.AllowedRepeat, &a.Counter, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find hip action: %w", err)
	}
	a.Purpose = Purpose(purpose)
	return &a, nil
}

// IncrementCounter spends one repeat. The update only matches an unexpired
// action with budget left; matching no row is reported as ErrConflict.
func (s *PostgresStore) IncrementCounter(ctx context.Context, sessionID string, now time.Time) error {
	res, err := txctx.Execer(ctx, s.db).ExecContext(ctx, `
		UPDATE hip_actions SET counter = counter + 1
		WHERE session_id = $1 AND counter < allowed_repeat AND expires_at > $2`,
		sessionID, now,
	)
	if err != nil {
		return fmt.Errorf("increment hip action counter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment hip action counter: %w", err)
	}
	if n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}
