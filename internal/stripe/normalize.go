package stripe

import (
	"errors"
	"strings"
)

// Accepted webhook event types. Everything else is ignored without error.
const (
	TypePaymentSucceeded  = "payment_intent.succeeded"
	TypeCheckoutCompleted = "checkout.session.completed"
)

// DefaultCurrency is assumed when the payload carries no currency code.
const DefaultCurrency = "BRL"

// managerIDMetadataKey is where the checkout flow stashes the manager id.
// Historical artifact of the original campaign setup: the id rides in the
// utm_term metadata field.
const managerIDMetadataKey = "utm_term"

var (
	// ErrMissingManagerID means the payload carried no manager id and no
	// default is configured.
	ErrMissingManagerID = errors.New("manager id metadata not found")
)

// PurchaseEvent is the canonical purchase extracted from a webhook payload.
// It is transient: built per request, handed to the sender, never persisted.
type PurchaseEvent struct {
	SourceEventID string
	SourceType    string
	AmountMinor   int64  // minor currency units (cents)
	Currency      string // uppercase ISO code
	ManagerID     string

	// Identity fields. Empty means absent, not empty-string identity.
	Email      string
	Phone      string
	ExternalID string

	SuccessPageURL string
}

// Value returns the amount in major currency units.
func (p *PurchaseEvent) Value() float64 {
	return float64(p.AmountMinor) / 100
}

// Normalizer extracts PurchaseEvents from heterogeneous webhook payloads.
type Normalizer struct {
	// DefaultManagerID attributes events with no manager id metadata.
	// Empty makes a missing manager id a normalization error instead.
	DefaultManagerID string
}

// Accepts reports whether eventType is one of the purchase event types the
// relay handles. Callers treat a false return as "ignore", not as an error.
func (n *Normalizer) Accepts(eventType string) bool {
	return eventType == TypePaymentSucceeded || eventType == TypeCheckoutCompleted
}

// Normalize builds a PurchaseEvent from an accepted event. The caller must
// have checked Accepts first; an unexpected type falls through the
// payment_intent amount field and normalizes to a zero amount.
func (n *Normalizer) Normalize(ev *Event) (*PurchaseEvent, error) {
	obj := ev.Object()
	metadata := subMap(obj, "metadata")

	managerID := strings.TrimSpace(stringField(metadata, managerIDMetadataKey))
	if managerID == "" {
		if n.DefaultManagerID == "" {
			return nil, ErrMissingManagerID
		}
		managerID = n.DefaultManagerID
	}

	// The amount field name differs by event type; both are minor units.
	amountKey := "amount"
	if ev.Type == TypeCheckoutCompleted {
		amountKey = "amount_total"
	}
	amount, _ := numberField(obj, amountKey)

	currency := strings.ToUpper(strings.TrimSpace(stringField(obj, "currency")))
	if currency == "" {
		currency = DefaultCurrency
	}

	billing := subMap(obj, "billing_details")
	customer := subMap(obj, "customer_details")

	return &PurchaseEvent{
		SourceEventID:  ev.ID,
		SourceType:     ev.Type,
		AmountMinor:    int64(amount),
		Currency:       currency,
		ManagerID:      managerID,
		Email:          firstNonEmpty(stringField(metadata, "customer_email"), stringField(billing, "email"), stringField(customer, "email")),
		Phone:          firstNonEmpty(stringField(metadata, "customer_phone"), stringField(billing, "phone"), stringField(customer, "phone")),
		ExternalID:     stringField(obj, "customer"),
		SuccessPageURL: stringField(obj, "success_url"),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
