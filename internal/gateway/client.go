// Package gateway talks to the central Gateway: outbound requests routed to
// HIPs and HIUs, and the inbound on-* callbacks that answer them.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"consent-manager/internal/consent/models"
	dErrors "consent-manager/pkg/domain-errors"
	"consent-manager/pkg/requestcontext"
)

// Routing headers the Gateway reads to pick the destination.
const (
	HeaderCMID  = "X-CM-ID"
	HeaderHIPID = "X-HIP-ID"
	HeaderHIUID = "X-HIU-ID"
)

// Gateway paths used by this service.
const (
	PathConsentRequestOnInit = "/v0.5/consent-requests/on-init"
	PathHIUConsentNotify     = "/v0.5/consents/hiu/notify"
	PathHIPConsentNotify     = "/v0.5/consents/hip/notify"
	PathHIPDataFlowRequest   = "/v0.5/health-information/hip/request"
	PathDiscover             = "/v0.5/care-contexts/discover"
	PathLinkInit             = "/v0.5/links/link/init"
	PathLinkConfirm          = "/v0.5/links/link/confirm"
)

const maxErrorBody = 4 << 10

// Client posts JSON to the Gateway.
type Client struct {
	baseURL    string
	clientID   string
	httpClient *http.Client
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) { cl.logger = logger }
}

func NewClient(baseURL, clientID string, timeout time.Duration, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("gateway base url is required")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		clientID:   clientID,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Target names the party a request is routed to.
type Target struct {
	Kind models.PartyKind
	ID   string
}

func (t Target) header() string {
	if t.Kind == models.PartyHIP {
		return HeaderHIPID
	}
	return HeaderHIUID
}

// Post sends body to path. The Gateway acknowledges with 2xx; the real answer
// arrives later as a callback. 5xx and transport failures are unavailable,
// other statuses are partner errors.
func (c *Client) Post(ctx context.Context, path string, target Target, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode gateway request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderCMID, c.clientID)
	if target.ID != "" {
		req.Header.Set(target.header(), target.ID)
	}
	if id := requestcontext.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "gateway unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	c.logger.WarnContext(ctx, "gateway rejected request",
		"path", path,
		"status", resp.StatusCode,
		"target_id", target.ID,
		"body", string(snippet),
	)
	cause := fmt.Errorf("gateway %s returned %d", path, resp.StatusCode)
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return dErrors.Wrap(cause, dErrors.CodeUnavailable, "gateway unavailable")
	}
	return dErrors.Wrap(cause, dErrors.CodePartnerError, "gateway rejected request")
}

func newRequestID() string {
	return uuid.NewString()
}
