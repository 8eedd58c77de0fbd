package testutil

import (
	"context"
	"time"

	"consent-manager/pkg/requestcontext"
)

// Ctx returns a background context pinned to now.
func Ctx(now time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), now)
}
