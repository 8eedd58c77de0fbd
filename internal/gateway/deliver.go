package gateway

import (
	"context"
	"encoding/json"
	"time"

	"consent-manager/internal/consent/models"
	"consent-manager/internal/notification"
)

type ack struct {
	RequestID string `json:"requestId"`
}

type consentRequestOnInit struct {
	RequestID      string    `json:"requestId"`
	Timestamp      time.Time `json:"timestamp"`
	ConsentRequest struct {
		ID string `json:"id"`
	} `json:"consentRequest"`
	Resp ack `json:"resp"`
}

type hiuNotification struct {
	ConsentRequestID string               `json:"consentRequestId"`
	Status           models.Status        `json:"status"`
	ConsentArtefacts []models.ArtefactRef `json:"consentArtefacts"`
}

type hiuNotify struct {
	RequestID    string          `json:"requestId"`
	Timestamp    time.Time       `json:"timestamp"`
	Notification hiuNotification `json:"notification"`
}

type hipNotification struct {
	Status        models.Status           `json:"status"`
	ConsentID     string                  `json:"consentId"`
	ConsentDetail *models.ConsentArtefact `json:"consentDetail,omitempty"`
	Signature     string                  `json:"signature,omitempty"`
}

type hipNotify struct {
	RequestID    string          `json:"requestId"`
	Timestamp    time.Time       `json:"timestamp"`
	Notification hipNotification `json:"notification"`
}

type hiRequest struct {
	Consent struct {
		ID string `json:"id"`
	} `json:"consent"`
	DateRange   models.DateRange `json:"dateRange"`
	DataPushURL string           `json:"dataPushUrl"`
	KeyMaterial json.RawMessage  `json:"keyMaterial,omitempty"`
}

type hipDataFlowRequest struct {
	RequestID     string    `json:"requestId"`
	Timestamp     time.Time `json:"timestamp"`
	TransactionID string    `json:"transactionId"`
	HIRequest     hiRequest `json:"hiRequest"`
}

// Deliver forwards a notification envelope through the Gateway. Each call
// mints a fresh Gateway request id; partners dedupe on the payload.
func (c *Client) Deliver(ctx context.Context, env *notification.Envelope) error {
	target := Target{Kind: env.TargetKind, ID: env.TargetID}
	now := time.Now().UTC()

	switch {
	case env.DataFlow != nil:
		body := hipDataFlowRequest{
			RequestID:     newRequestID(),
			Timestamp:     now,
			TransactionID: env.DataFlow.TransactionID,
			HIRequest: hiRequest{
				DateRange:   env.DataFlow.DateRange,
				DataPushURL: env.DataFlow.DataPushURL,
				KeyMaterial: env.DataFlow.KeyMaterial,
			},
		}
		body.HIRequest.Consent.ID = env.DataFlow.ConsentArtefactID
		return c.Post(ctx, PathHIPDataFlowRequest, target, body)

	case env.TargetKind == models.PartyHIP:
		n := hipNotification{Status: env.Status}
		switch {
		case env.Artefact != nil:
			n.ConsentID = env.Artefact.ID
			n.ConsentDetail = env.Artefact
			n.Signature = env.Artefact.Signature
		case env.Notice != nil:
			n.ConsentID = env.Notice.ArtefactID
		}
		return c.Post(ctx, PathHIPConsentNotify, target, hipNotify{
			RequestID:    newRequestID(),
			Timestamp:    now,
			Notification: n,
		})

	case env.Status == models.StatusRequested:
		body := consentRequestOnInit{
			RequestID: newRequestID(),
			Timestamp: now,
			Resp:      ack{RequestID: env.ConsentRequestID},
		}
		body.ConsentRequest.ID = env.ConsentRequestID
		return c.Post(ctx, PathConsentRequestOnInit, target, body)

	default:
		refs := env.Artefacts
		if refs == nil {
			refs = []models.ArtefactRef{}
		}
		return c.Post(ctx, PathHIUConsentNotify, target, hiuNotify{
			RequestID: newRequestID(),
			Timestamp: now,
			Notification: hiuNotification{
				ConsentRequestID: env.ConsentRequestID,
				Status:           env.Status,
				ConsentArtefacts: refs,
			},
		})
	}
}
