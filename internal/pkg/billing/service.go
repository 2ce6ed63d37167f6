package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	stripe "github.com/stripe/stripe-go/v82"

	"github.com/FelixBrandt/FocusTape/app/models"
	"github.com/FelixBrandt/FocusTape/internal/pkg/directory"
	"github.com/FelixBrandt/FocusTape/internal/pkg/metadata"
)

// Service executes reconciliation passes for the three triggers. It owns no
// state of its own: every pass re-derives entitlement from provider facts
// and writes through the budget pruner.
type Service struct {
	provider Provider
	dir      directory.Client
	resolver *Resolver

	budget int
	now    func() time.Time
}

func NewService(provider Provider, dir directory.Client, resolver *Resolver) *Service {
	return &Service{
		provider: provider,
		dir:      dir,
		resolver: resolver,
		budget:   models.ProfileSafeBudgetBytes,
		now:      time.Now,
	}
}

// RefreshUser is the synchronous, user-triggered reconciliation. It
// resolves the user's customer link, fetches current facts and writes the
// merged document back.
func (s *Service) RefreshUser(ctx context.Context, userID string) (*RefreshResult, error) {
	res, err := s.resolver.Resolve(ctx, ResolveInput{UserID: userID})
	if err != nil {
		return nil, err
	}

	obs := Observation{Trigger: TriggerRefresh}
	if res.CustomerID != "" {
		facts, err := s.provider.ListFacts(ctx, res.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("list subscriptions for %s: %w", res.CustomerID, err)
		}
		obs.Facts = facts
		obs.Definitive = true
	}
	// With no customer id at all the observation stays non-definitive:
	// we could not look, so nothing may be demoted.

	merged := Merge(res.User.PublicMetadata, obs, s.now())
	if err := s.persistProfile(ctx, res.UserID, merged); err != nil {
		return nil, err
	}

	out := &RefreshResult{
		UserID:           res.UserID,
		IsPremium:        merged.IsPremium,
		StripeCustomerID: merged.StripeCustomerID,
		PaymentType:      merged.PaymentType,
	}
	if matched := FirstEntitlingFact(obs.Facts); matched != nil {
		out.SubscriptionID = matched.SubscriptionID
		out.SubscriptionStatus = matched.Status
	} else if len(obs.Facts) > 0 {
		out.SubscriptionStatus = obs.Facts[0].Status
	}
	return out, nil
}

// ConfirmResult is returned to the frontend after a checkout confirmation.
type ConfirmResult struct {
	UserID           string `json:"userId"`
	StripeCustomerID string `json:"stripeCustomerId,omitempty"`
	PaymentType      string `json:"paymentType,omitempty"`
	SubscriptionID   string `json:"subscriptionId,omitempty"`
}

// ConfirmCheckout applies a completed checkout session to the buyer's
// profile. Header hints help when the session metadata carries no user id.
func (s *Service) ConfirmCheckout(ctx context.Context, sessionID, hintUserID, hintEmail string) (*ConfirmResult, error) {
	cs, err := s.provider.RetrieveCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("retrieve checkout session: %w", err)
	}
	return s.applyCheckout(ctx, cs, hintUserID, hintEmail)
}

func (s *Service) applyCheckout(ctx context.Context, cs *CheckoutSession, hintUserID, hintEmail string) (*ConfirmResult, error) {
	userID := strings.TrimSpace(cs.Metadata["user_id"])
	if userID == "" {
		userID = strings.TrimSpace(hintUserID)
	}
	email := strings.TrimSpace(hintEmail)
	if email == "" {
		email = cs.CustomerEmail
	}

	res, err := s.resolver.Resolve(ctx, ResolveInput{
		CustomerID: cs.CustomerID,
		UserID:     userID,
		Email:      email,
	})
	if err != nil {
		return nil, err
	}

	obs := Observation{
		Trigger:             TriggerWebhook,
		Definitive:          true,
		CheckoutPaymentMode: cs.PaymentMode,
		SuppliedPaymentType: checkoutPaymentTypeTag(cs.Metadata),
	}
	switch {
	case cs.Fact != nil && cs.Fact.Status != "":
		obs.Facts = []SubscriptionFact{*cs.Fact}
	case cs.PaymentMode:
		// A completed one-time-payment session is itself proof of payment:
		// there is no subscription object to observe.
		obs.Facts = []SubscriptionFact{{
			CustomerID: cs.CustomerID,
			Status:     StatusActive,
		}}
	default:
		// Webhook payloads carry the subscription unexpanded; re-list the
		// provider's current truth instead of trusting the snapshot.
		if res.CustomerID == "" {
			return nil, ErrNoCustomer
		}
		facts, err := s.provider.ListFacts(ctx, res.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("list subscriptions for %s: %w", res.CustomerID, err)
		}
		obs.Facts = facts
	}

	merged := Merge(res.User.PublicMetadata, obs, s.now())
	merged.ConfirmedByCheckout = true
	merged.ConfirmedSessionID = cs.ID

	if err := s.persistProfile(ctx, res.UserID, merged); err != nil {
		return nil, err
	}

	out := &ConfirmResult{
		UserID:           res.UserID,
		StripeCustomerID: merged.StripeCustomerID,
		PaymentType:      merged.PaymentType,
	}
	if cs.Fact != nil {
		out.SubscriptionID = cs.Fact.SubscriptionID
	}
	return out, nil
}

func checkoutPaymentTypeTag(md map[string]string) string {
	if md == nil {
		return ""
	}
	if t := md["payment_type"]; t != "" {
		return t
	}
	return md["plan_type"]
}

// ProcessWebhookEvent dispatches one verified provider event. Events arrive
// at least once and possibly out of order, so every handler re-derives from
// the provider's current state instead of trusting the event snapshot.
func (s *Service) ProcessWebhookEvent(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("decode checkout.session: %w", err)
		}
		cs := normalizeEventCheckoutSession(&session)
		_, err := s.applyCheckout(ctx, cs, "", "")
		if errors.Is(err, ErrUnresolved) || errors.Is(err, ErrNoCustomer) {
			// Nobody to attach the purchase to yet; a later refresh or the
			// sweep will pick it up once the account exists.
			log.Warnf("checkout session %s completed but no user resolved", cs.ID)
			return nil
		}
		return err

	case "invoice.payment_succeeded":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		if invoice.Customer == nil || invoice.Customer.ID == "" {
			return nil
		}
		return s.reconcileCustomer(ctx, invoice.Customer.ID, TriggerWebhook)

	case "customer.subscription.updated",
		"customer.subscription.deleted",
		"customer.subscription.created":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		if sub.Customer == nil || sub.Customer.ID == "" {
			return nil
		}
		return s.reconcileCustomer(ctx, sub.Customer.ID, TriggerWebhook)

	default:
		log.Debugf("ignoring webhook event type %s", event.Type)
		return nil
	}
}

// reconcileCustomer re-derives entitlement for whoever owns customerID from
// the provider's full current subscription list.
func (s *Service) reconcileCustomer(ctx context.Context, customerID string, trigger Trigger) error {
	res, err := s.resolver.Resolve(ctx, ResolveInput{CustomerID: customerID})
	if err != nil {
		if errors.Is(err, ErrUnresolved) {
			log.Warnf("no user resolved for customer %s, skipping", customerID)
			return nil
		}
		return err
	}

	facts, err := s.provider.ListFacts(ctx, customerID)
	if err != nil {
		return fmt.Errorf("list subscriptions for %s: %w", customerID, err)
	}

	merged := Merge(res.User.PublicMetadata, Observation{
		Facts:      facts,
		Definitive: true,
		Trigger:    trigger,
	}, s.now())
	return s.persistProfile(ctx, res.UserID, merged)
}

// persistProfile writes a document through the budget pruner. Every write
// path funnels through here so the size invariant holds unconditionally.
func (s *Service) persistProfile(ctx context.Context, userID string, doc models.ProfileDocument) error {
	pruned := metadata.PruneToBudget(doc, s.budget)
	if _, err := s.dir.UpdateUserMetadata(ctx, userID, pruned); err != nil {
		return fmt.Errorf("update profile for %s: %w", userID, err)
	}
	return nil
}

// StatusReport is the read-only diagnostic comparing the stored document
// against the provider's view.
type StatusReport struct {
	UserID             string     `json:"userId"`
	Email              string     `json:"email"`
	IsPremium          bool       `json:"isPremium"`
	PaymentType        string     `json:"paymentType"`
	IsLifetime         bool       `json:"isLifetime"`
	IsTrial            bool       `json:"isTrial"`
	PremiumSince       *time.Time `json:"premiumSince,omitempty"`
	StripeCustomerID   string     `json:"stripeCustomerId,omitempty"`
	SubscriptionID     string     `json:"subscriptionId,omitempty"`
	SubscriptionStatus string     `json:"subscriptionStatus,omitempty"`
	StatusMatch        *bool      `json:"statusMatch,omitempty"`
}

// StatusForEmail reports how a user's stored entitlement compares to the
// provider without mutating anything.
func (s *Service) StatusForEmail(ctx context.Context, email string) (*StatusReport, error) {
	user, err := s.dir.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	doc := user.PublicMetadata
	report := &StatusReport{
		UserID:           user.ID,
		Email:            user.PrimaryEmail(),
		IsPremium:        doc.IsPremium,
		PaymentType:      paymentTypeOrNone(doc.PaymentType),
		IsLifetime:       doc.IsLifetime,
		IsTrial:          doc.IsTrial,
		PremiumSince:     doc.PremiumSince,
		StripeCustomerID: doc.StripeCustomerID,
	}

	if doc.StripeCustomerID == "" {
		return report, nil
	}
	facts, err := s.provider.ListFacts(ctx, doc.StripeCustomerID)
	if err != nil {
		log.Warnf("status check could not list subscriptions for %s: %v", doc.StripeCustomerID, err)
		return report, nil
	}
	match := FirstEntitlingFact(facts) != nil
	statusMatch := match == doc.IsPremium
	report.StatusMatch = &statusMatch
	if len(facts) > 0 {
		report.SubscriptionID = facts[0].SubscriptionID
		report.SubscriptionStatus = facts[0].Status
	}
	if matched := FirstEntitlingFact(facts); matched != nil {
		report.SubscriptionID = matched.SubscriptionID
		report.SubscriptionStatus = matched.Status
	}
	return report, nil
}

func paymentTypeOrNone(t string) string {
	if t == "" {
		return models.PaymentTypeNone
	}
	return t
}
