package billing

import (
	"errors"
	"time"
)

// Subscription statuses as reported by the payment provider.
const (
	StatusIncomplete = "incomplete"
	StatusTrialing   = "trialing"
	StatusActive     = "active"
	StatusPastDue    = "past_due"
	StatusCanceled   = "canceled"
	StatusUnpaid     = "unpaid"
)

// Trigger identifies which entry point initiated a reconciliation.
type Trigger string

const (
	TriggerWebhook Trigger = "webhook"
	TriggerSweep   Trigger = "sweep"
	TriggerRefresh Trigger = "refresh"
)

var (
	// ErrNotConfigured signals a missing required secret or credential.
	// Invocations fail immediately, before any partial write.
	ErrNotConfigured = errors.New("billing: required configuration missing")
	// ErrUnresolved is returned when no customer/user identity pair can be
	// determined. Callers must treat it as "no fact available", never as a
	// confirmed non-premium state.
	ErrUnresolved = errors.New("billing: identity could not be resolved")
	// ErrNoCustomer is returned when a user has no payment-provider
	// customer linked at all.
	ErrNoCustomer = errors.New("billing: no customer id on file")
)

// SubscriptionFact is one observed subscription state from the payment
// provider. Facts are read-only inputs to the merge engine.
type SubscriptionFact struct {
	CustomerID        string
	SubscriptionID    string
	Status            string
	PriceID           string
	PlanTag           string // price-level plan tag supplied by the provider
	RecurringInterval string
	CreatedAt         time.Time
}

// Observation bundles the facts gathered for one reconciliation pass.
//
// Definitive distinguishes "the provider answered authoritatively for this
// customer, possibly with zero facts" from "we could not look, or could not
// tell whose facts to fetch". Only a definitive empty observation may demote
// a user; anything else is an absence of evidence.
type Observation struct {
	Facts      []SubscriptionFact
	Definitive bool

	// CheckoutPaymentMode marks a one-time-payment checkout session, which
	// outranks interval-derived payment types (it means lifetime).
	CheckoutPaymentMode bool
	// SuppliedPaymentType is an explicit tag carried by checkout session
	// metadata; highest derivation priority when present.
	SuppliedPaymentType string

	Trigger Trigger
	// RemovalReason is stamped on the document when this observation causes
	// a demotion. Defaults per trigger when empty.
	RemovalReason string
}

// RefreshResult is the payload a synchronous refresh returns to the caller.
type RefreshResult struct {
	UserID             string `json:"userId"`
	IsPremium          bool   `json:"isPremium"`
	StripeCustomerID   string `json:"stripeCustomerId,omitempty"`
	SubscriptionID     string `json:"subscriptionId,omitempty"`
	SubscriptionStatus string `json:"subscriptionStatus,omitempty"`
	PaymentType        string `json:"paymentType,omitempty"`
}
