package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound means no active credential exists for the manager id.
	ErrNotFound = errors.New("pixel credential not found")
	// ErrDuplicate means the manager id is already registered.
	ErrDuplicate = errors.New("manager id already registered")
	// ErrUnsupported is returned by backends that cannot perform an
	// operation (the file store is read-only for credentials).
	ErrUnsupported = errors.New("operation not supported by this backend")
)

// PixelCredential maps a manager id to a TikTok pixel and its access token.
// Credentials are soft-deactivated, never physically deleted.
type PixelCredential struct {
	ManagerID   string    `json:"manager_id" yaml:"manager_id"`
	PixelID     string    `json:"pixel_id" yaml:"pixel_id"`
	AccessToken string    `json:"-" yaml:"access_token"`
	DisplayName string    `json:"display_name" yaml:"display_name"`
	Active      bool      `json:"active" yaml:"active"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
}

// Delivery statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// DeliveryOutcome is one immutable record of a delivery attempt.
type DeliveryOutcome struct {
	ID               string    `json:"id"`
	PixelID          string    `json:"pixel_id"`
	SourceEventID    string    `json:"source_event_id"`
	SourceEventType  string    `json:"source_event_type"`
	Status           string    `json:"status"`
	ErrorDetail      string    `json:"error_detail,omitempty"`
	UpstreamResponse string    `json:"upstream_response,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Stats aggregates delivery history for the stats endpoint.
type Stats struct {
	ActivePixels int     `json:"total_pixels"`
	TotalEvents  int     `json:"total_events"`
	SuccessRate  float64 `json:"success_rate"`
}

// CredentialUpdate carries rotation fields; empty strings leave the stored
// value untouched.
type CredentialUpdate struct {
	PixelID     string
	AccessToken string
	DisplayName string
}

// CredentialStore resolves manager ids to active pixel credentials.
type CredentialStore interface {
	Lookup(ctx context.Context, managerID string) (*PixelCredential, error)
}

// EventLog is the append-only record of delivery outcomes.
type EventLog interface {
	Append(ctx context.Context, outcome *DeliveryOutcome) error
}

// Store is the full backend surface the HTTP API needs.
type Store interface {
	CredentialStore
	EventLog

	CreateCredential(ctx context.Context, cred *PixelCredential) error
	UpdateCredential(ctx context.Context, managerID string, upd CredentialUpdate) (*PixelCredential, error)
	ListCredentials(ctx context.Context) ([]*PixelCredential, error)
	RecentOutcomes(ctx context.Context, pixelID string, limit int) ([]*DeliveryOutcome, error)
	Stats(ctx context.Context) (*Stats, error)

	Ping(ctx context.Context) error
	Close()
}
