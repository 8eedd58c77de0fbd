package authz

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "consent-manager/pkg/domain-errors"
	"consent-manager/pkg/platform/sentinel"
	"consent-manager/pkg/requestcontext"
)

const DefaultActionTTL = 10 * time.Minute

// Store persists HipActions.
type Store interface {
	Create(ctx context.Context, a *HipAction) error
	Find(ctx context.Context, sessionID string) (*HipAction, error)
	// IncrementCounter spends one repeat, or returns sentinel.ErrConflict when
	// the action is missing, expired or out of budget.
	IncrementCounter(ctx context.Context, sessionID string, now time.Time) error
}

// actionClaims is the payload of a HIP action token.
type actionClaims struct {
	SessionID string  `json:"sid"`
	Purpose   Purpose `json:"purpose"`
	jwt.RegisteredClaims
}

// Validator issues and checks HIP action tokens.
type Validator struct {
	store      Store
	signingKey []byte
	ttl        time.Duration
	logger     *slog.Logger
}

type Option func(*Validator)

func WithActionTTL(d time.Duration) Option {
	return func(v *Validator) { v.ttl = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) { v.logger = logger }
}

func New(store Store, signingKey string, opts ...Option) (*Validator, error) {
	if store == nil {
		return nil, errors.New("hip action store is required")
	}
	if len(signingKey) < 16 {
		return nil, errors.New("action signing key must be at least 16 bytes")
	}
	v := &Validator{
		store:      store,
		signingKey: []byte(signingKey),
		ttl:        DefaultActionTTL,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.ttl <= 0 {
		return nil, errors.New("action ttl must be positive")
	}
	return v, nil
}

// Issue stores action and returns the token that presents it. A blank
// session id is generated and a zero expiry defaults to now plus the ttl.
func (v *Validator) Issue(ctx context.Context, action *HipAction) (string, error) {
	if action == nil {
		return "", dErrors.New(dErrors.CodeBadRequest, "hip action is required")
	}
	if err := action.validate(); err != nil {
		return "", err
	}
	now := requestcontext.Now(ctx)
	if action.SessionID == "" {
		action.SessionID = uuid.NewString()
	}
	if action.ExpiresAt.IsZero() {
		action.ExpiresAt = now.Add(v.ttl)
	}
	if !action.ExpiresAt.After(now) {
		return "", dErrors.New(dErrors.CodeValidation, "hip action expiry must be in the future")
	}
	action.Counter = 0
	action.CreatedAt = now

	if err := v.store.Create(ctx, action); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyExists) {
			return "", dErrors.Wrap(err, dErrors.CodeConflict, "hip action session already exists")
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to save hip action")
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, actionClaims{
		SessionID: action.SessionID,
		Purpose:   action.Purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   action.RequesterID,
			ExpiresAt: jwt.NewNumericDate(action.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}).SignedString(v.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign hip action token")
	}
	v.logger.InfoContext(ctx, "hip action issued",
		"session_id", action.SessionID,
		"requester_id", action.RequesterID,
		"purpose", string(action.Purpose),
		"allowed_repeat", action.AllowedRepeat,
	)
	return token, nil
}

// Validate checks token against its stored action without spending a
// repeat. Checks run in order: token and action validity, repeat budget,
// then purpose.
func (v *Validator) Validate(ctx context.Context, token string, expected Purpose) (*HipAction, error) {
	now := requestcontext.Now(ctx)
	claims := &actionClaims{}
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims, func(t *jwt.Token) (any, error) {
		return v.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil || !parsed.Valid || claims.SessionID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidOrExpired, "hip action token is invalid or expired")
	}

	action, err := v.store.Find(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidOrExpired, "hip action is invalid or expired")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load hip action")
	}
	if !now.Before(action.ExpiresAt) || claims.Purpose != action.Purpose {
		return nil, dErrors.New(dErrors.CodeInvalidOrExpired, "hip action is invalid or expired")
	}
	if action.exhausted() {
		return nil, dErrors.New(dErrors.CodeRepeatExceeded, "hip action repeat budget exhausted")
	}
	if action.Purpose != expected {
		return nil, dErrors.New(dErrors.CodePurposeMismatch, "hip action purpose does not match the operation")
	}
	return action, nil
}

// Consume spends one repeat of the action.
func (v *Validator) Consume(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return dErrors.New(dErrors.CodeBadRequest, "session id is required")
	}
	if err := v.store.IncrementCounter(ctx, sessionID, requestcontext.Now(ctx)); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.Wrap(err, dErrors.CodeRepeatExceeded, "hip action repeat budget exhausted")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume hip action")
	}
	v.logger.DebugContext(ctx, "hip action consumed", "session_id", sessionID)
	return nil
}
