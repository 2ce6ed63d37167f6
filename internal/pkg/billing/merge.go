package billing

import (
	"time"

	"github.com/FelixBrandt/FocusTape/app/models"
)

// Merge computes the next profile document from the current one and an
// observation of the payment provider's state. It is a pure function: no
// I/O, no clock reads, and identical inputs produce byte-identical output.
//
// Concurrent triggers may each compute from a stale current document, but
// since every writer derives from the same external truth and the lifetime
// override is absolute, the worst outcome of a race is a redundant write.
func Merge(doc models.ProfileDocument, obs Observation, now time.Time) models.ProfileDocument {
	next := doc.Clone()
	stamp := now.UTC()

	// A lifetime grant is a total override: nothing below may revoke it.
	if next.IsLifetime || normalizePaymentType(next.PaymentType) == models.PaymentTypeLifetime {
		next.IsPremium = true
		next.PaymentType = models.PaymentTypeLifetime
		next.IsLifetime = true
		next.IsTrial = false
		next.LastUpdated = &stamp
		return next
	}

	matched := FirstEntitlingFact(obs.Facts)
	if matched != nil {
		next.IsPremium = true
		next.PaymentType = derivePaymentType(obs.SuppliedPaymentType, obs.CheckoutPaymentMode, matched)
		if next.PaymentType == models.PaymentTypeLifetime {
			next.IsLifetime = true
		}
		next.IsTrial = matched.Status == StatusTrialing
		if next.PremiumSince == nil {
			since := stamp
			if !matched.CreatedAt.IsZero() {
				since = matched.CreatedAt.UTC()
			}
			next.PremiumSince = &since
		}
		// Always overwrite: the matched fact is the source of truth and
		// this corrects stale or mis-linked customer ids.
		next.StripeCustomerID = matched.CustomerID
		next.PremiumRemovedAt = nil
		next.PremiumRemovedReason = ""
		next.LastUpdated = &stamp
		return next
	}

	// No entitling fact. Only a definitive observation may demote;
	// otherwise absence of evidence leaves entitlement untouched.
	if obs.Definitive {
		next.IsPremium = false
		next.IsTrial = false
		next.PremiumSince = nil
		next.PremiumRemovedAt = &stamp
		next.PremiumRemovedReason = removalReason(obs)
		// StripeCustomerID stays: the link itself was not disproven and is
		// needed for future re-checks.
	}
	next.LastUpdated = &stamp
	return next
}

func removalReason(obs Observation) string {
	if obs.RemovalReason != "" {
		return obs.RemovalReason
	}
	switch obs.Trigger {
	case TriggerSweep:
		return models.RemovedReasonSweepNoActiveSubscription
	case TriggerWebhook:
		return models.RemovedReasonWebhookSubscriptionEnded
	default:
		return models.RemovedReasonRefreshNoActiveSubscription
	}
}
