package billing

import (
	"strings"

	"github.com/FelixBrandt/FocusTape/app/models"
)

func normalizePaymentType(paymentType string) string {
	switch strings.ToLower(strings.TrimSpace(paymentType)) {
	case models.PaymentTypeMonthly:
		return models.PaymentTypeMonthly
	case models.PaymentTypeLifetime:
		return models.PaymentTypeLifetime
	case models.PaymentTypePremium:
		return models.PaymentTypePremium
	case models.PaymentTypeTrial:
		return models.PaymentTypeTrial
	default:
		return ""
	}
}

// IsEntitlingStatus reports whether a subscription status grants premium
// access. past_due stays entitled to bridge payment retries.
func IsEntitlingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case StatusActive, StatusTrialing, StatusPastDue:
		return true
	default:
		return false
	}
}

// FirstEntitlingFact returns the first fact with an entitling status.
func FirstEntitlingFact(facts []SubscriptionFact) *SubscriptionFact {
	for i := range facts {
		if IsEntitlingStatus(facts[i].Status) {
			return &facts[i]
		}
	}
	return nil
}

// derivePaymentType picks the stored payment type for a premium grant, by
// priority: explicit tag, one-time checkout mode, price-level plan tag,
// recurring interval, then the generic fallback.
func derivePaymentType(supplied string, checkoutPaymentMode bool, fact *SubscriptionFact) string {
	if t := normalizePaymentType(supplied); t != "" {
		return t
	}
	if checkoutPaymentMode {
		return models.PaymentTypeLifetime
	}
	if fact != nil {
		if t := normalizePaymentType(fact.PlanTag); t != "" {
			return t
		}
		if strings.EqualFold(fact.RecurringInterval, "month") {
			return models.PaymentTypeMonthly
		}
	}
	return models.PaymentTypePremium
}
