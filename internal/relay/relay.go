package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kayquelen/tiktoktracking/internal/metrics"
	"github.com/kayquelen/tiktoktracking/internal/store"
	"github.com/kayquelen/tiktoktracking/internal/stripe"
	"github.com/kayquelen/tiktoktracking/internal/tiktok"
)

// Sender delivers a purchase event to the pixel API.
type Sender interface {
	SendPurchase(ctx context.Context, pixelCode, accessToken string, p tiktok.Purchase) (json.RawMessage, error)
}

// Disposition classifies what the pipeline did with a webhook.
type Disposition string

const (
	// Delivered means the purchase reached the pixel API and was accepted.
	Delivered Disposition = "delivered"
	// Ignored means the event type is not handled. Not an error.
	Ignored Disposition = "ignored"
	// Accepted is the dry-run terminal state: the event verified,
	// normalized and resolved a credential, but nothing was sent.
	Accepted Disposition = "accepted"

	InvalidSignature Disposition = "invalid_signature"
	MalformedPayload Disposition = "malformed_payload"
	MissingManager   Disposition = "missing_manager"
	UnknownManager   Disposition = "unknown_manager"
	DeliveryFailed   Disposition = "delivery_failed"
	InternalError    Disposition = "internal_error"
)

// Result is the outcome of one pipeline run.
type Result struct {
	Disposition Disposition `json:"disposition"`
	EventID     string      `json:"event_id,omitempty"`
	EventType   string      `json:"event_type,omitempty"`
	ManagerID   string      `json:"manager_id,omitempty"`
	PixelID     string      `json:"pixel_id,omitempty"`
	Detail      string      `json:"detail,omitempty"`
	DurationMs  int64       `json:"duration_ms"`
}

// Pipeline runs the webhook-to-pixel translation: verify the signature,
// normalize the payload, resolve the credential, deliver, record the
// outcome. One synchronous run per request; no retries, no shared state.
type Pipeline struct {
	secret     string
	normalizer *stripe.Normalizer
	creds      store.CredentialStore
	log        store.EventLog
	sender     Sender
}

// New wires a Pipeline. An empty secret disables signature verification;
// callers should only run that way outside production.
func New(secret, defaultManagerID string, creds store.CredentialStore, log store.EventLog, sender Sender) *Pipeline {
	return &Pipeline{
		secret:     secret,
		normalizer: &stripe.Normalizer{DefaultManagerID: defaultManagerID},
		creds:      creds,
		log:        log,
		sender:     sender,
	}
}

// Process runs the full pipeline for one webhook request. It never returns
// an error: every failure mode is a Result the handler can map to a status
// code, and the process keeps serving.
func (p *Pipeline) Process(ctx context.Context, body []byte, signatureHeader string) *Result {
	start := time.Now()

	res, ev, purchase, cred := p.prepare(ctx, body, signatureHeader)
	if res != nil {
		res.DurationMs = time.Since(start).Milliseconds()
		return res
	}

	outcome := &store.DeliveryOutcome{
		ID:              uuid.New().String(),
		PixelID:         cred.PixelID,
		SourceEventID:   ev.ID,
		SourceEventType: ev.Type,
		CreatedAt:       time.Now().UTC(),
	}

	raw, err := p.sender.SendPurchase(ctx, cred.PixelID, cred.AccessToken, tiktok.Purchase{
		EventID:    purchase.SourceEventID,
		Value:      purchase.Value(),
		Currency:   purchase.Currency,
		PageURL:    purchase.SuccessPageURL,
		Email:      purchase.Email,
		Phone:      purchase.Phone,
		ExternalID: purchase.ExternalID,
	})

	result := &Result{
		EventID:   ev.ID,
		EventType: ev.Type,
		ManagerID: purchase.ManagerID,
		PixelID:   cred.PixelID,
	}

	if err != nil {
		outcome.Status = store.StatusError
		outcome.ErrorDetail = err.Error()
		var upstream *tiktok.UpstreamError
		if errors.As(err, &upstream) {
			outcome.UpstreamResponse = string(upstream.Body)
		}
		result.Disposition = DeliveryFailed
		result.Detail = err.Error()
		slog.Warn("pixel delivery failed",
			"event_id", ev.ID, "manager_id", purchase.ManagerID, "err", err)
	} else {
		outcome.Status = store.StatusSuccess
		outcome.UpstreamResponse = string(raw)
		result.Disposition = Delivered
		slog.Info("pixel delivery succeeded",
			"event_id", ev.ID, "manager_id", purchase.ManagerID, "pixel_id", cred.PixelID)
	}

	// The outcome is recorded before the caller sees the response, so
	// observability never depends on webhook redelivery.
	if appendErr := p.log.Append(ctx, outcome); appendErr != nil {
		slog.Error("delivery outcome not recorded", "event_id", ev.ID, "err", appendErr)
	}

	metrics.Deliveries.WithLabelValues(outcome.Status).Inc()
	result.DurationMs = time.Since(start).Milliseconds()
	metrics.DeliveryDuration.Observe(float64(result.DurationMs))
	return result
}

// DryRun verifies, normalizes and resolves the credential but sends nothing
// and records nothing. Backs the webhook test endpoint.
func (p *Pipeline) DryRun(ctx context.Context, body []byte, signatureHeader string) *Result {
	start := time.Now()

	res, ev, purchase, cred := p.prepare(ctx, body, signatureHeader)
	if res != nil {
		res.DurationMs = time.Since(start).Milliseconds()
		return res
	}

	return &Result{
		Disposition: Accepted,
		EventID:     ev.ID,
		EventType:   ev.Type,
		ManagerID:   purchase.ManagerID,
		PixelID:     cred.PixelID,
		DurationMs:  time.Since(start).Milliseconds(),
	}
}

// prepare runs the shared front half of the pipeline. A non-nil Result is
// terminal; otherwise the event, purchase and credential are all set.
func (p *Pipeline) prepare(ctx context.Context, body []byte, signatureHeader string) (*Result, *stripe.Event, *stripe.PurchaseEvent, *store.PixelCredential) {
	if p.secret != "" && !stripe.VerifySignature(body, signatureHeader, p.secret) {
		metrics.WebhooksRejected.WithLabelValues("invalid_signature").Inc()
		return &Result{Disposition: InvalidSignature, Detail: "signature verification failed"}, nil, nil, nil
	}

	ev, err := stripe.ParseEvent(body)
	if err != nil {
		metrics.WebhooksRejected.WithLabelValues("malformed_payload").Inc()
		return &Result{Disposition: MalformedPayload, Detail: err.Error()}, nil, nil, nil
	}
	metrics.WebhooksReceived.WithLabelValues(ev.Type).Inc()

	if !p.normalizer.Accepts(ev.Type) {
		metrics.EventsIgnored.Inc()
		return &Result{Disposition: Ignored, EventID: ev.ID, EventType: ev.Type}, nil, nil, nil
	}

	purchase, err := p.normalizer.Normalize(ev)
	if err != nil {
		if errors.Is(err, stripe.ErrMissingManagerID) {
			metrics.WebhooksRejected.WithLabelValues("missing_manager").Inc()
			return &Result{Disposition: MissingManager, EventID: ev.ID, EventType: ev.Type, Detail: err.Error()}, nil, nil, nil
		}
		metrics.WebhooksRejected.WithLabelValues("malformed_payload").Inc()
		return &Result{Disposition: MalformedPayload, EventID: ev.ID, EventType: ev.Type, Detail: err.Error()}, nil, nil, nil
	}

	cred, err := p.creds.Lookup(ctx, purchase.ManagerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.WebhooksRejected.WithLabelValues("unknown_manager").Inc()
			return &Result{
				Disposition: UnknownManager,
				EventID:     ev.ID,
				EventType:   ev.Type,
				ManagerID:   purchase.ManagerID,
				Detail:      "no active pixel registered for manager " + purchase.ManagerID,
			}, nil, nil, nil
		}
		slog.Error("credential lookup failed", "manager_id", purchase.ManagerID, "err", err)
		return &Result{
			Disposition: InternalError,
			EventID:     ev.ID,
			EventType:   ev.Type,
			ManagerID:   purchase.ManagerID,
			Detail:      "credential store unavailable",
		}, nil, nil, nil
	}

	return nil, ev, purchase, cred
}
