package billing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/FelixBrandt/FocusTape/app/models"
	"github.com/FelixBrandt/FocusTape/internal/pkg/directory"
)

type fakeNotifier struct {
	sent []string
}

func (n *fakeNotifier) Configured() bool { return true }

func (n *fakeNotifier) Send(_ context.Context, _, message string) error {
	n.sent = append(n.sent, message)
	return nil
}

func newTestSweeper(provider Provider, dir *fakeDirectory) (*Sweeper, *fakeNotifier) {
	svc := newTestService(provider, dir)
	notifier := &fakeNotifier{}
	sw := NewSweeper(svc, provider, dir, nil, notifier)
	sw.now = func() time.Time { return serviceNow }
	return sw, notifier
}

func premiumDoc(customerID string) models.ProfileDocument {
	since := serviceNow.AddDate(0, -6, 0)
	return models.ProfileDocument{
		IsPremium:        true,
		PaymentType:      models.PaymentTypeMonthly,
		PremiumSince:     &since,
		StripeCustomerID: customerID,
	}
}

func TestSweepCountsOnlyPremiumUsers(t *testing.T) {
	provider := newFakeProvider()
	provider.facts["cus_1"] = []SubscriptionFact{{CustomerID: "cus_1", Status: StatusActive}}
	dir := newFakeDirectory(
		testUser("user_free", "free@example.com", models.ProfileDocument{}),
		testUser("user_paid", "paid@example.com", premiumDoc("cus_1")),
	)
	sw, _ := newTestSweeper(provider, dir)

	report, err := sw.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Checked != 1 || report.Valid != 1 || report.Fixed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.MonthlyUsers != 1 {
		t.Fatalf("expected one monthly user, got %d", report.MonthlyUsers)
	}
}

func TestSweepDemotesWithoutBackingSubscription(t *testing.T) {
	provider := newFakeProvider()
	provider.facts["cus_1"] = []SubscriptionFact{{CustomerID: "cus_1", Status: StatusCanceled}}
	dir := newFakeDirectory(testUser("user_1", "a@example.com", premiumDoc("cus_1")))
	sw, notifier := newTestSweeper(provider, dir)

	report, err := sw.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Fixed != 1 {
		t.Fatalf("expected one fix, got %+v", report)
	}
	if len(report.InvalidUsers) != 1 || report.InvalidUsers[0].Issue != "no active subscription" {
		t.Fatalf("unexpected invalid users %+v", report.InvalidUsers)
	}

	doc := dir.users["user_1"].PublicMetadata
	if doc.IsPremium {
		t.Fatal("expected demotion")
	}
	if doc.PremiumRemovedReason != models.RemovedReasonSweepNoActiveSubscription {
		t.Fatalf("unexpected removal reason %q", doc.PremiumRemovedReason)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("expected one summary notification, got %d", len(notifier.sent))
	}
}

func TestSweepNeverDemotesLifetimeUsers(t *testing.T) {
	provider := newFakeProvider()
	provider.customers["cus_life"] = &Customer{ID: "cus_life", Email: "life@example.com"}
	dir := newFakeDirectory(testUser("user_life", "life@example.com", models.ProfileDocument{
		IsPremium:        true,
		PaymentType:      models.PaymentTypeLifetime,
		IsLifetime:       true,
		StripeCustomerID: "cus_life",
	}))
	sw, _ := newTestSweeper(provider, dir)

	report, err := sw.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.LifetimeUsers != 1 || report.Valid != 1 || report.Fixed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if !dir.users["user_life"].PublicMetadata.IsPremium {
		t.Fatal("lifetime user must keep premium")
	}
}

func TestSweepFlagsLifetimeUserWithBrokenCustomerLink(t *testing.T) {
	provider := newFakeProvider()
	dir := newFakeDirectory(testUser("user_life", "life@example.com", models.ProfileDocument{
		IsPremium:   true,
		PaymentType: models.PaymentTypeLifetime,
		IsLifetime:  true,
	}))
	sw, _ := newTestSweeper(provider, dir)

	report, err := sw.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Errors) != 1 || report.Errors[0].Issue != "lifetime user missing customer id" {
		t.Fatalf("unexpected errors %+v", report.Errors)
	}
	if !dir.users["user_life"].PublicMetadata.IsPremium {
		t.Fatal("a broken link must never demote a lifetime user")
	}
}

func TestSweepRelinksStaleCustomerID(t *testing.T) {
	provider := newFakeProvider()
	provider.facts["cus_stale"] = []SubscriptionFact{{CustomerID: "cus_stale", Status: StatusCanceled}}
	provider.facts["cus_live"] = []SubscriptionFact{{
		CustomerID:        "cus_live",
		SubscriptionID:    "sub_live",
		Status:            StatusActive,
		RecurringInterval: "month",
	}}
	provider.byEmail["a@example.com"] = []Customer{
		{ID: "cus_stale", Email: "a@example.com"},
		{ID: "cus_live", Email: "a@example.com"},
	}
	dir := newFakeDirectory(testUser("user_1", "a@example.com", premiumDoc("cus_stale")))
	sw, _ := newTestSweeper(provider, dir)

	report, err := sw.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Valid != 1 || report.Fixed != 0 {
		t.Fatalf("a relinked user is valid, not fixed: %+v", report)
	}

	doc := dir.users["user_1"].PublicMetadata
	if !doc.IsPremium {
		t.Fatal("relinked user must stay premium")
	}
	if doc.StripeCustomerID != "cus_live" {
		t.Fatalf("expected the customer link repaired, got %q", doc.StripeCustomerID)
	}
}

func TestSweepSummaryListsOnlyDemotedUsers(t *testing.T) {
	provider := newFakeProvider()
	provider.facts["cus_gone"] = []SubscriptionFact{{CustomerID: "cus_gone", Status: StatusCanceled}}
	provider.facts["cus_stale"] = []SubscriptionFact{{CustomerID: "cus_stale", Status: StatusCanceled}}
	provider.facts["cus_live"] = []SubscriptionFact{{
		CustomerID:        "cus_live",
		SubscriptionID:    "sub_live",
		Status:            StatusActive,
		RecurringInterval: "month",
	}}
	provider.byEmail["stale@example.com"] = []Customer{
		{ID: "cus_stale", Email: "stale@example.com"},
		{ID: "cus_live", Email: "stale@example.com"},
	}
	dir := newFakeDirectory(
		testUser("user_gone", "gone@example.com", premiumDoc("cus_gone")),
		testUser("user_stale", "stale@example.com", premiumDoc("cus_stale")),
	)
	sw, notifier := newTestSweeper(provider, dir)

	report, err := sw.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Fixed != 1 || report.Valid != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("expected one summary, got %d", len(notifier.sent))
	}
	summary := notifier.sent[0]
	if !strings.Contains(summary, "Fixed users: gone@example.com") {
		t.Fatalf("summary must name the demoted user: %q", summary)
	}
	if strings.Contains(summary, "stale@example.com") {
		t.Fatalf("relinked users do not belong in the fixed list: %q", summary)
	}
}

func TestSweepMissingCustomerIDIsFlaggedNotDemoted(t *testing.T) {
	provider := newFakeProvider()
	doc := premiumDoc("")
	dir := newFakeDirectory(testUser("user_1", "a@example.com", doc))
	sw, _ := newTestSweeper(provider, dir)

	report, err := sw.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.InvalidUsers) != 1 || report.InvalidUsers[0].Issue != "missing customer id" {
		t.Fatalf("unexpected invalid users %+v", report.InvalidUsers)
	}
	if report.Fixed != 0 {
		t.Fatal("ambiguous absence must not demote")
	}
	if !dir.users["user_1"].PublicMetadata.IsPremium {
		t.Fatal("user must keep premium")
	}
}

func TestSweepCollectsPerUserErrors(t *testing.T) {
	provider := newFakeProvider()
	provider.listErr = context.DeadlineExceeded
	dir := newFakeDirectory(
		testUser("user_1", "a@example.com", premiumDoc("cus_1")),
		testUser("user_2", "b@example.com", premiumDoc("cus_2")),
	)
	sw, _ := newTestSweeper(provider, dir)

	report, err := sw.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Errors) != 2 {
		t.Fatalf("expected both failures captured, got %+v", report.Errors)
	}
	if report.Fixed != 0 {
		t.Fatal("a provider outage must not demote anyone")
	}
	for _, u := range dir.users {
		if !u.PublicMetadata.IsPremium {
			t.Fatal("no user may lose premium during an outage")
		}
	}
}

func TestSweepPaginatesTheDirectory(t *testing.T) {
	provider := newFakeProvider()
	var users []*directory.User
	for _, id := range []string{"u1", "u2", "u3", "u4", "u5"} {
		provider.facts["cus_"+id] = []SubscriptionFact{{CustomerID: "cus_" + id, Status: StatusActive}}
		users = append(users, testUser(id, id+"@example.com", premiumDoc("cus_"+id)))
	}
	dir := newFakeDirectory(users...)
	sw, _ := newTestSweeper(provider, dir)
	sw.PageSize = 2

	report, err := sw.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Checked != 5 || report.Valid != 5 {
		t.Fatalf("pagination missed users: %+v", report)
	}
}
