package billing

import (
	"context"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"

	"github.com/FelixBrandt/FocusTape/internal/pkg/env"
)

// Customer is the slice of a payment-provider customer the reconciliation
// core cares about.
type Customer struct {
	ID    string
	Email string
}

// CheckoutSession is the normalized view of a completed checkout.
type CheckoutSession struct {
	ID            string
	CustomerID    string
	CustomerEmail string
	PaymentMode   bool // one-time payment (lifetime), not a subscription
	Metadata      map[string]string
	Fact          *SubscriptionFact // present when the session created a subscription
}

// Provider is the payment-provider API surface. Stripe is the production
// implementation; tests substitute fakes.
type Provider interface {
	ListFacts(ctx context.Context, customerID string) ([]SubscriptionFact, error)
	RetrieveCustomer(ctx context.Context, customerID string) (*Customer, error)
	SearchCustomersByEmail(ctx context.Context, email string) ([]Customer, error)
	RetrieveCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
}

// StripeProvider implements Provider against the Stripe API.
type StripeProvider struct {
	apiKey string
}

// NewStripeProviderFromEnv reads STRIPE_SECRET_KEY. Returns ErrNotConfigured
// when the key is missing so triggers can fail before any I/O.
func NewStripeProviderFromEnv() (*StripeProvider, error) {
	key := strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", ""))
	if key == "" {
		return nil, ErrNotConfigured
	}
	stripe.Key = key
	return &StripeProvider{apiKey: key}, nil
}

// ListFacts fetches all subscriptions for a customer, any status, and
// normalizes them. An empty result with a nil error is an authoritative
// "this customer has no subscriptions".
func (p *StripeProvider) ListFacts(ctx context.Context, customerID string) ([]SubscriptionFact, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(10)

	facts := make([]SubscriptionFact, 0, 4)
	iter := subscription.List(params)
	for iter.Next() {
		facts = append(facts, normalizeSubscription(iter.Subscription()))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return facts, nil
}

func (p *StripeProvider) RetrieveCustomer(ctx context.Context, customerID string) (*Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	c, err := customer.Get(customerID, params)
	if err != nil {
		return nil, err
	}
	return &Customer{ID: c.ID, Email: c.Email}, nil
}

func (p *StripeProvider) SearchCustomersByEmail(ctx context.Context, email string) ([]Customer, error) {
	params := &stripe.CustomerListParams{
		Email: stripe.String(email),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(10)

	customers := make([]Customer, 0, 4)
	iter := customer.List(params)
	for iter.Next() {
		c := iter.Customer()
		customers = append(customers, Customer{ID: c.ID, Email: c.Email})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (p *StripeProvider) RetrieveCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("subscription")
	params.AddExpand("customer")

	s, err := session.Get(sessionID, params)
	if err != nil {
		return nil, err
	}
	return normalizeEventCheckoutSession(s), nil
}

// normalizeEventCheckoutSession maps a raw Stripe checkout session (from an
// API fetch or a webhook payload) to the normalized form.
func normalizeEventCheckoutSession(s *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:          s.ID,
		PaymentMode: s.Mode == stripe.CheckoutSessionModePayment,
		Metadata:    s.Metadata,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
		out.CustomerEmail = s.Customer.Email
	}
	if s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
		out.CustomerEmail = s.CustomerDetails.Email
	}
	if s.Subscription != nil && s.Subscription.ID != "" {
		fact := normalizeSubscription(s.Subscription)
		if fact.CustomerID == "" {
			fact.CustomerID = out.CustomerID
		}
		out.Fact = &fact
	}
	return out
}

func normalizeSubscription(sub *stripe.Subscription) SubscriptionFact {
	fact := SubscriptionFact{
		SubscriptionID: sub.ID,
		Status:         string(sub.Status),
	}
	if sub.Customer != nil {
		fact.CustomerID = sub.Customer.ID
	}
	if sub.Created > 0 {
		fact.CreatedAt = time.Unix(sub.Created, 0).UTC()
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		if price := sub.Items.Data[0].Price; price != nil {
			fact.PriceID = price.ID
			fact.PlanTag = price.Metadata["plan_type"]
			if price.Recurring != nil {
				fact.RecurringInterval = string(price.Recurring.Interval)
			}
		}
	}
	return fact
}
