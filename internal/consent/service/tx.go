package service

import "context"

// ConsentStoreTx provides a transactional boundary for consent store
// mutations. Either every write inside fn is applied or none is.
type ConsentStoreTx interface {
	RunInTx(ctx context.Context, fn func(store Store) error) error
}

type txKey struct{}

var txKeyCtx = txKey{}

// WithTxKey names the consent request a transaction works on. In-memory
// implementations use it to serialize transactions per request.
func WithTxKey(ctx context.Context, consentRequestID string) context.Context {
	return context.WithValue(ctx, txKeyCtx, consentRequestID)
}

// TxKey returns the key set by WithTxKey, or "".
func TxKey(ctx context.Context) string {
	if key, ok := ctx.Value(txKeyCtx).(string); ok {
		return key
	}
	return ""
}
