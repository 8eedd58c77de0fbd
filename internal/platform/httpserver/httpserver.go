// Package httpserver builds the HTTP server and its readiness endpoint.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"consent-manager/pkg/platform/httputil"
)

// New builds an HTTP server with the timeouts every listener in this project uses.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Checker is a dependency the readiness endpoint pings.
type Checker interface {
	Name() string
	Health(ctx context.Context) error
}

type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HealthHandler pings every checker concurrently, each bounded by timeout.
// Any failure turns the response into a 503.
func HealthHandler(timeout time.Duration, checkers ...Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		results := make([]string, len(checkers))
		var g errgroup.Group
		for i, c := range checkers {
			g.Go(func() error {
				if err := c.Health(ctx); err != nil {
					results[i] = err.Error()
					return err
				}
				results[i] = "ok"
				return nil
			})
		}
		err := g.Wait()

		report := healthReport{Status: "ok", Checks: make(map[string]string, len(checkers))}
		for i, c := range checkers {
			report.Checks[c.Name()] = results[i]
		}
		status := http.StatusOK
		if err != nil {
			report.Status = "unavailable"
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, report)
	}
}
