package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"consent-manager/internal/consent/models"
	"consent-manager/internal/consent/service"
	"consent-manager/pkg/platform/sentinel"
	txctx "consent-manager/pkg/platform/tx"
)

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// PostgresStore persists consent requests and artefacts in PostgreSQL.
type PostgresStore struct {
	db txctx.Executor
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresTx binds a store to an open transaction.
func NewPostgresTx(tx *sql.Tx) *PostgresStore {
	return &PostgresStore{db: tx}
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	return errors.As(err, &pgErr) && pgErr.SQLState() == uniqueViolation
}

const requestColumns = `id, requester, patient_id, hiu_id, hiu_name, hip_id, hip_name,
	purpose_code, purpose_text, hi_types, permission, status, created_at, updated_at`

func (s *PostgresStore) CreateRequest(ctx context.Context, req *models.ConsentRequest) error {
	requester, err := json.Marshal(req.Requester)
	if err != nil {
		return fmt.Errorf("marshal requester: %w", err)
	}
	permission, err := json.Marshal(req.Permission)
	if err != nil {
		return fmt.Errorf("marshal permission: %w", err)
	}
	var hipID, hipName sql.NullString
	if req.HIP != nil {
		hipID = sql.NullString{String: req.HIP.ID, Valid: true}
		hipName = sql.NullString{String: req.HIP.Name, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO consent_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		req.ID, requester, req.PatientID, req.HIU.ID, req.HIU.Name, hipID, hipName,
		req.Purpose.Code, req.Purpose.Text, pq.Array(req.HITypes), permission,
		string(req.Status), req.CreatedAt, req.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert consent request: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.ConsentRequest, error) {
	var (
		r               models.ConsentRequest
		requester, perm []byte
		hipID, hipName  sql.NullString
		status          string
		hiTypes         pq.StringArray
	)
	if err := row.Scan(&r.ID, &requester, &r.PatientID, &r.HIU.ID, &r.HIU.Name, &hipID, &hipName,
		&r.Purpose.Code, &r.Purpose.Text, &hiTypes, &perm, &status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(requester, &r.Requester); err != nil {
		return nil, fmt.Errorf("unmarshal requester: %w", err)
	}
	if err := json.Unmarshal(perm, &r.Permission); err != nil {
		return nil, fmt.Errorf("unmarshal permission: %w", err)
	}
	if hipID.Valid {
		r.HIP = &models.Party{ID: hipID.String, Name: hipName.String}
	}
	r.HITypes = hiTypes
	r.Status = models.Status(status)
	return &r, nil
}

func (s *PostgresStore) FindRequest(ctx context.Context, id string) (*models.ConsentRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM consent_requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find consent request: %w", err)
	}
	return r, nil
}

// UpdateRequestStatus is a compare-and-set on status.
func (s *PostgresStore) UpdateRequestStatus(ctx context.Context, id string, from, to models.Status, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE consent_requests SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2`, id, string(from), string(to), at)
	if err != nil {
		return fmt.Errorf("update consent request status: %w", err)
	}
	return s.casResult(ctx, res, `SELECT 1 FROM consent_requests WHERE id = $1`, id)
}

// casResult distinguishes a lost race from a missing row.
func (s *PostgresStore) casResult(ctx context.Context, res sql.Result, existsQuery, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, existsQuery, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check row exists: %w", err)
	}
	return sentinel.ErrConflict
}

const artefactColumns = `id, consent_request_id, patient_id, hip_id, hip_name, hiu_id, hiu_name,
	requester, purpose_code, purpose_text, care_contexts, hi_types, permission, signature,
	status, expires_at, created_at, updated_at`

func (s *PostgresStore) CreateArtefacts(ctx context.Context, artefacts []*models.ConsentArtefact) error {
	for _, a := range artefacts {
		requester, err := json.Marshal(a.Requester)
		if err != nil {
			return fmt.Errorf("marshal requester: %w", err)
		}
		careContexts, err := json.Marshal(a.CareContexts)
		if err != nil {
			return fmt.Errorf("marshal care contexts: %w", err)
		}
		permission, err := json.Marshal(a.Permission)
		if err != nil {
			return fmt.Errorf("marshal permission: %w", err)
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO consent_artefacts (`+artefactColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			a.ID, a.ConsentRequestID, a.PatientID, a.HIP.ID, a.HIP.Name, a.HIU.ID, a.HIU.Name,
			requester, a.Purpose.Code, a.Purpose.Text, careContexts, pq.Array(a.HITypes), permission,
			a.Signature, string(a.Status), a.ExpiresAt, a.CreatedAt, a.UpdatedAt,
		)
		if isUniqueViolation(err) {
			return sentinel.ErrAlreadyExists
		}
		if err != nil {
			return fmt.Errorf("insert consent artefact: %w", err)
		}
	}
	return nil
}

func scanArtefact(row rowScanner) (*models.ConsentArtefact, error) {
	var (
		a                             models.ConsentArtefact
		requester, careContexts, perm []byte
		status                        string
		hiTypes                       pq.StringArray
	)
	if err := row.Scan(&a.ID, &a.ConsentRequestID, &a.PatientID, &a.HIP.ID, &a.HIP.Name, &a.HIU.ID, &a.HIU.Name,
		&requester, &a.Purpose.Code, &a.Purpose.Text, &careContexts, &hiTypes, &perm, &a.Signature,
		&status, &a.ExpiresAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(requester, &a.Requester); err != nil {
		return nil, fmt.Errorf("unmarshal requester: %w", err)
	}
	if err := json.Unmarshal(careContexts, &a.CareContexts); err != nil {
		return nil, fmt.Errorf("unmarshal care contexts: %w", err)
	}
	if err := json.Unmarshal(perm, &a.Permission); err != nil {
		return nil, fmt.Errorf("unmarshal permission: %w", err)
	}
	a.HITypes = hiTypes
	a.Status = models.Status(status)
	return &a, nil
}

func (s *PostgresStore) FindArtefact(ctx context.Context, id string) (*models.ConsentArtefact, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+artefactColumns+` FROM consent_artefacts WHERE id = $1`, id)
	a, err := scanArtefact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find consent artefact: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListArtefactsByRequest(ctx context.Context, requestID string) ([]*models.ConsentArtefact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+artefactColumns+` FROM consent_artefacts WHERE consent_request_id = $1 ORDER BY id`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list consent artefacts: %w", err)
	}
	return collectArtefacts(rows)
}

func (s *PostgresStore) UpdateArtefactStatus(ctx context.Context, id string, from, to models.Status, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE consent_artefacts SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2`, id, string(from), string(to), at)
	if err != nil {
		return fmt.Errorf("update consent artefact status: %w", err)
	}
	return s.casResult(ctx, res, `SELECT 1 FROM consent_artefacts WHERE id = $1`, id)
}

func (s *PostgresStore) ListRequestsCreatedBefore(ctx context.Context, status models.Status, cutoff time.Time, cur models.Cursor, limit int) ([]*models.ConsentRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM consent_requests
		WHERE status = $1 AND created_at < $2
		  AND (created_at, id) > ($3, $4)
		ORDER BY created_at, id
		LIMIT $5`, string(status), cutoff, cursorTime(cur), cursorID(cur), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale consent requests: %w", err)
	}
	defer rows.Close()
	var out []*models.ConsentRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consent request: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consent requests: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListArtefactsExpiringBefore(ctx context.Context, status models.Status, cutoff time.Time, cur models.Cursor, limit int) ([]*models.ConsentArtefact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+artefactColumns+` FROM consent_artefacts
		WHERE status = $1 AND expires_at < $2
		  AND (expires_at, id) > ($3, $4)
		ORDER BY expires_at, id
		LIMIT $5`, string(status), cutoff, cursorTime(cur), cursorID(cur), limit)
	if err != nil {
		return nil, fmt.Errorf("list expiring consent artefacts: %w", err)
	}
	return collectArtefacts(rows)
}

func collectArtefacts(rows *sql.Rows) ([]*models.ConsentArtefact, error) {
	defer rows.Close()
	var out []*models.ConsentArtefact
	for rows.Next() {
		a, err := scanArtefact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consent artefact: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consent artefacts: %w", err)
	}
	return out, nil
}

// The zero cursor sorts before every row.
func cursorTime(c models.Cursor) time.Time {
	if c.At.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return c.At
}

func cursorID(c models.Cursor) string {
	if c.ID == "" {
		return "00000000-0000-0000-0000-000000000000"
	}
	return c.ID
}

// PostgresTx runs consent mutations in one database transaction.
type PostgresTx struct {
	db *sql.DB
}

func NewPostgresTxRunner(db *sql.DB) *PostgresTx {
	return &PostgresTx{db: db}
}

func (t *PostgresTx) RunInTx(ctx context.Context, fn func(store service.Store) error) error {
	return txctx.Run(ctx, t.db, func(ctx context.Context) error {
		tx, _ := txctx.From(ctx)
		return fn(NewPostgresTx(tx))
	})
}
