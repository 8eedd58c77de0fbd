package correlation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	dErrors "consent-manager/pkg/domain-errors"
)

// RespRef names the request a callback answers.
type RespRef struct {
	RequestID string `json:"requestId"`
}

// PartnerError is the error member of a callback.
type PartnerError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *PartnerError) Error() string {
	return fmt.Sprintf("partner error %d: %s", e.Code, e.Message)
}

// Callback is the envelope every Gateway on-* callback carries. Result
// members are flow specific and decoded separately.
type Callback struct {
	RequestID string        `json:"requestId"`
	Timestamp time.Time     `json:"timestamp"`
	Resp      *RespRef      `json:"resp"`
	Error     *PartnerError `json:"error,omitempty"`
}

// AnsweredRequestID returns resp.requestId, or "" when missing.
func (c *Callback) AnsweredRequestID() string {
	if c.Resp == nil {
		return ""
	}
	return c.Resp.RequestID
}

// Decode parses a callback payload into T after checking its error member.
// A present error becomes CodePartnerError wrapping *PartnerError.
func Decode[T any](payload []byte) (*T, error) {
	var env Callback
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePartnerError, "malformed gateway callback")
	}
	if env.Error != nil {
		return nil, dErrors.Wrap(env.Error, dErrors.CodePartnerError, env.Error.Message)
	}
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePartnerError, "malformed gateway callback result")
	}
	return &out, nil
}

// Await correlates requestID and decodes the callback into T.
func Await[T any](ctx context.Context, c *Correlator, requestID string, dispatch DispatchFunc, timeout time.Duration) (*T, error) {
	payload, err := c.Correlate(ctx, requestID, dispatch, timeout)
	if err != nil {
		return nil, err
	}
	return Decode[T](payload)
}
