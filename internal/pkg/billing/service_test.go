package billing

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/FelixBrandt/FocusTape/app/models"
)

var serviceNow = time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)

func newTestService(provider Provider, dir *fakeDirectory) *Service {
	resolver, _ := newTestResolver(provider, dir)
	svc := NewService(provider, dir, resolver)
	svc.now = func() time.Time { return serviceNow }
	return svc
}

func TestRefreshUserPromotes(t *testing.T) {
	provider := newFakeProvider()
	provider.facts["cus_1"] = []SubscriptionFact{{
		CustomerID:        "cus_1",
		SubscriptionID:    "sub_1",
		Status:            StatusActive,
		RecurringInterval: "month",
	}}
	dir := newFakeDirectory(testUser("user_1", "a@example.com", models.ProfileDocument{StripeCustomerID: "cus_1"}))
	svc := newTestService(provider, dir)

	res, err := svc.RefreshUser(context.Background(), "user_1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsPremium || res.PaymentType != models.PaymentTypeMonthly {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.SubscriptionID != "sub_1" || res.SubscriptionStatus != StatusActive {
		t.Fatalf("expected matched subscription in result, got %+v", res)
	}

	doc := dir.users["user_1"].PublicMetadata
	if !doc.IsPremium {
		t.Fatal("expected the promoted document persisted")
	}
	if dir.writes["user_1"] != 1 {
		t.Fatalf("expected exactly one write, got %d", dir.writes["user_1"])
	}
}

func TestRefreshUserDemotesOnDefinitiveEmptyAnswer(t *testing.T) {
	provider := newFakeProvider()
	provider.facts["cus_1"] = []SubscriptionFact{{CustomerID: "cus_1", Status: StatusCanceled}}
	since := serviceNow.AddDate(-1, 0, 0)
	dir := newFakeDirectory(testUser("user_1", "a@example.com", models.ProfileDocument{
		IsPremium:        true,
		PaymentType:      models.PaymentTypeMonthly,
		PremiumSince:     &since,
		StripeCustomerID: "cus_1",
	}))
	svc := newTestService(provider, dir)

	res, err := svc.RefreshUser(context.Background(), "user_1")
	if err != nil {
		t.Fatal(err)
	}
	if res.IsPremium {
		t.Fatal("expected demotion")
	}
	if res.SubscriptionStatus != StatusCanceled {
		t.Fatalf("expected the observed status reported, got %q", res.SubscriptionStatus)
	}

	doc := dir.users["user_1"].PublicMetadata
	if doc.IsPremium || doc.PremiumRemovedAt == nil {
		t.Fatalf("expected demoted document persisted, got %+v", doc)
	}
	if doc.PremiumRemovedReason != models.RemovedReasonRefreshNoActiveSubscription {
		t.Fatalf("unexpected removal reason %q", doc.PremiumRemovedReason)
	}
	if doc.StripeCustomerID != "cus_1" {
		t.Fatal("customer link must survive demotion")
	}
}

func TestRefreshUserWithoutCustomerDoesNotDemote(t *testing.T) {
	provider := newFakeProvider()
	dir := newFakeDirectory(testUser("user_1", "a@example.com", models.ProfileDocument{
		IsPremium:   true,
		PaymentType: models.PaymentTypePremium,
	}))
	svc := newTestService(provider, dir)

	res, err := svc.RefreshUser(context.Background(), "user_1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsPremium {
		t.Fatal("a user we could not check must keep premium")
	}
}

func TestConfirmCheckoutOneTimePayment(t *testing.T) {
	provider := newFakeProvider()
	provider.sessions["cs_1"] = &CheckoutSession{
		ID:          "cs_1",
		CustomerID:  "cus_1",
		PaymentMode: true,
		Metadata:    map[string]string{"user_id": "user_1"},
	}
	dir := newFakeDirectory(testUser("user_1", "a@example.com", models.ProfileDocument{}))
	svc := newTestService(provider, dir)

	res, err := svc.ConfirmCheckout(context.Background(), "cs_1", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.PaymentType != models.PaymentTypeLifetime {
		t.Fatalf("one-time payment must grant lifetime, got %q", res.PaymentType)
	}

	doc := dir.users["user_1"].PublicMetadata
	if !doc.IsPremium || !doc.IsLifetime {
		t.Fatalf("expected lifetime document, got %+v", doc)
	}
	if !doc.ConfirmedByCheckout || doc.ConfirmedSessionID != "cs_1" {
		t.Fatalf("expected checkout confirmation markers, got %+v", doc)
	}
}

func TestConfirmCheckoutSubscriptionSession(t *testing.T) {
	provider := newFakeProvider()
	provider.sessions["cs_2"] = &CheckoutSession{
		ID:         "cs_2",
		CustomerID: "cus_1",
		Metadata:   map[string]string{"user_id": "user_1", "plan_type": "monthly"},
		Fact: &SubscriptionFact{
			CustomerID:     "cus_1",
			SubscriptionID: "sub_1",
			Status:         StatusActive,
		},
	}
	dir := newFakeDirectory(testUser("user_1", "a@example.com", models.ProfileDocument{}))
	svc := newTestService(provider, dir)

	res, err := svc.ConfirmCheckout(context.Background(), "cs_2", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.PaymentType != models.PaymentTypeMonthly || res.SubscriptionID != "sub_1" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestConfirmCheckoutUnexpandedSubscriptionRelists(t *testing.T) {
	// Webhook payloads carry the subscription as a bare id; the service
	// must re-list instead of demoting off the incomplete snapshot.
	provider := newFakeProvider()
	provider.facts["cus_1"] = []SubscriptionFact{{CustomerID: "cus_1", Status: StatusActive, RecurringInterval: "month"}}
	provider.sessions["cs_3"] = &CheckoutSession{
		ID:         "cs_3",
		CustomerID: "cus_1",
		Metadata:   map[string]string{"user_id": "user_1"},
	}
	dir := newFakeDirectory(testUser("user_1", "a@example.com", models.ProfileDocument{}))
	svc := newTestService(provider, dir)

	res, err := svc.ConfirmCheckout(context.Background(), "cs_3", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.PaymentType != models.PaymentTypeMonthly {
		t.Fatalf("expected promotion from re-listed facts, got %+v", res)
	}
	if provider.listCalls == 0 {
		t.Fatal("expected the provider to be re-listed")
	}
}

func TestProcessWebhookEventSubscriptionUpdate(t *testing.T) {
	provider := newFakeProvider()
	provider.customers["cus_1"] = &Customer{ID: "cus_1", Email: "a@example.com"}
	provider.facts["cus_1"] = []SubscriptionFact{{CustomerID: "cus_1", Status: StatusCanceled}}
	dir := newFakeDirectory(testUser("user_1", "a@example.com", models.ProfileDocument{
		IsPremium:        true,
		PaymentType:      models.PaymentTypeMonthly,
		StripeCustomerID: "cus_1",
	}))
	svc := newTestService(provider, dir)

	event := &stripe.Event{
		Type: "customer.subscription.deleted",
		Data: &stripe.EventData{Raw: json.RawMessage(`{"id":"sub_1","customer":{"id":"cus_1"}}`)},
	}
	if err := svc.ProcessWebhookEvent(context.Background(), event); err != nil {
		t.Fatal(err)
	}

	doc := dir.users["user_1"].PublicMetadata
	if doc.IsPremium {
		t.Fatal("expected demotion after subscription deletion")
	}
	if doc.PremiumRemovedReason != models.RemovedReasonWebhookSubscriptionEnded {
		t.Fatalf("unexpected removal reason %q", doc.PremiumRemovedReason)
	}
}

func TestProcessWebhookEventUnresolvedCheckoutIsTolerated(t *testing.T) {
	provider := newFakeProvider()
	dir := newFakeDirectory()
	svc := newTestService(provider, dir)

	event := &stripe.Event{
		Type: "checkout.session.completed",
		Data: &stripe.EventData{Raw: json.RawMessage(`{"id":"cs_x","mode":"payment"}`)},
	}
	if err := svc.ProcessWebhookEvent(context.Background(), event); err != nil {
		t.Fatalf("an unresolvable checkout must be tolerated, got %v", err)
	}
}

func TestProcessWebhookEventIgnoresUnknownTypes(t *testing.T) {
	svc := newTestService(newFakeProvider(), newFakeDirectory())
	event := &stripe.Event{
		Type: "payout.paid",
		Data: &stripe.EventData{Raw: json.RawMessage(`{}`)},
	}
	if err := svc.ProcessWebhookEvent(context.Background(), event); err != nil {
		t.Fatal(err)
	}
}

func TestPersistProfilePrunesOversizedDocuments(t *testing.T) {
	provider := newFakeProvider()
	provider.facts["cus_1"] = []SubscriptionFact{{CustomerID: "cus_1", Status: StatusActive}}

	doc := models.ProfileDocument{StripeCustomerID: "cus_1"}
	for i := 0; i < 400; i++ {
		doc.PublicCassettes = append(doc.PublicCassettes, models.Cassette{
			ID:          strings.Repeat("c", 8) + string(rune('a'+i%26)) + string(rune('a'+i/26)),
			Title:       strings.Repeat("deep work session ", 3),
			Description: strings.Repeat("lorem ipsum ", 8),
		})
	}
	dir := newFakeDirectory(testUser("user_1", "a@example.com", doc))
	svc := newTestService(provider, dir)

	if _, err := svc.RefreshUser(context.Background(), "user_1"); err != nil {
		t.Fatal(err)
	}

	stored := dir.users["user_1"].PublicMetadata
	if stored.SizeBytes() > models.ProfileSafeBudgetBytes {
		t.Fatalf("persisted document exceeds the safe budget: %d bytes", stored.SizeBytes())
	}
	if !stored.IsPremium {
		t.Fatal("entitlement must survive pruning")
	}
}

func TestStatusForEmail(t *testing.T) {
	provider := newFakeProvider()
	provider.facts["cus_1"] = []SubscriptionFact{{CustomerID: "cus_1", SubscriptionID: "sub_1", Status: StatusActive}}
	dir := newFakeDirectory(testUser("user_1", "a@example.com", models.ProfileDocument{
		IsPremium:        true,
		PaymentType:      models.PaymentTypeMonthly,
		StripeCustomerID: "cus_1",
	}))
	svc := newTestService(provider, dir)

	report, err := svc.StatusForEmail(context.Background(), "a@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if report.StatusMatch == nil || !*report.StatusMatch {
		t.Fatalf("expected status match, got %+v", report)
	}
	if report.SubscriptionID != "sub_1" {
		t.Fatalf("unexpected subscription id %q", report.SubscriptionID)
	}

	// Mismatch: document claims premium but the provider disagrees.
	provider.facts["cus_1"] = []SubscriptionFact{{CustomerID: "cus_1", Status: StatusCanceled}}
	report, err = svc.StatusForEmail(context.Background(), "a@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if report.StatusMatch == nil || *report.StatusMatch {
		t.Fatalf("expected status mismatch, got %+v", report)
	}

	// No customer on file: nothing to compare against.
	dir.users["user_1"].PublicMetadata.StripeCustomerID = ""
	report, err = svc.StatusForEmail(context.Background(), "a@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if report.StatusMatch != nil {
		t.Fatal("expected no status comparison without a customer id")
	}
}
