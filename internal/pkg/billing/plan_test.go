package billing

import (
	"testing"

	"github.com/FelixBrandt/FocusTape/app/models"
)

func TestNormalizePaymentType(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "monthly", want: "monthly"},
		{in: "lifetime", want: "lifetime"},
		{in: "premium", want: "premium"},
		{in: "trial", want: "trial"},
		{in: "LIFETIME", want: "lifetime"},
		{in: "  monthly ", want: "monthly"},
		{in: "yearly", want: ""},
		{in: "", want: ""},
	}

	for _, tt := range tests {
		if got := normalizePaymentType(tt.in); got != tt.want {
			t.Fatalf("normalizePaymentType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsEntitlingStatus(t *testing.T) {
	for _, status := range []string{"active", "trialing", "past_due", "ACTIVE"} {
		if !IsEntitlingStatus(status) {
			t.Fatalf("expected status %q to be entitling", status)
		}
	}
	for _, status := range []string{"canceled", "incomplete", "unpaid", "paused", ""} {
		if IsEntitlingStatus(status) {
			t.Fatalf("expected status %q to be non-entitling", status)
		}
	}
}

func TestFirstEntitlingFact(t *testing.T) {
	facts := []SubscriptionFact{
		{SubscriptionID: "sub_1", Status: StatusCanceled},
		{SubscriptionID: "sub_2", Status: StatusPastDue},
		{SubscriptionID: "sub_3", Status: StatusActive},
	}
	got := FirstEntitlingFact(facts)
	if got == nil || got.SubscriptionID != "sub_2" {
		t.Fatalf("expected the first entitling fact sub_2, got %+v", got)
	}

	if FirstEntitlingFact(nil) != nil {
		t.Fatal("expected nil for empty fact list")
	}
	if FirstEntitlingFact([]SubscriptionFact{{Status: StatusCanceled}}) != nil {
		t.Fatal("expected nil when no fact is entitling")
	}
}

func TestDerivePaymentType(t *testing.T) {
	monthlySub := &SubscriptionFact{RecurringInterval: "month"}

	tests := []struct {
		name        string
		supplied    string
		paymentMode bool
		fact        *SubscriptionFact
		want        string
	}{
		{name: "explicit tag wins", supplied: "lifetime", paymentMode: false, fact: monthlySub, want: models.PaymentTypeLifetime},
		{name: "payment mode means lifetime", paymentMode: true, fact: monthlySub, want: models.PaymentTypeLifetime},
		{name: "price plan tag", fact: &SubscriptionFact{PlanTag: "monthly"}, want: models.PaymentTypeMonthly},
		{name: "monthly interval", fact: monthlySub, want: models.PaymentTypeMonthly},
		{name: "unknown interval falls back", fact: &SubscriptionFact{RecurringInterval: "year"}, want: models.PaymentTypePremium},
		{name: "no fact falls back", want: models.PaymentTypePremium},
		{name: "invalid tag ignored", supplied: "gold", fact: monthlySub, want: models.PaymentTypeMonthly},
	}

	for _, tt := range tests {
		if got := derivePaymentType(tt.supplied, tt.paymentMode, tt.fact); got != tt.want {
			t.Fatalf("%s: derivePaymentType = %q, want %q", tt.name, got, tt.want)
		}
	}
}
