package metadata

import (
	"sort"

	"github.com/gofiber/fiber/v2/log"

	"github.com/FelixBrandt/FocusTape/app/models"
)

// SanitizeOptions controls how cassette lists are reduced.
type SanitizeOptions struct {
	// Minimal keeps only the fields needed to render a cassette card.
	Minimal bool
	// MaxCount caps the list to its most recent entries. Zero means 200.
	MaxCount int
}

// SanitizeCassette drops the deprecated per-viewer list and normalizes
// counters. Returns nil for entries without an id.
func SanitizeCassette(c models.Cassette, minimal bool) *models.Cassette {
	if c.ID == "" {
		return nil
	}

	out := c
	out.ViewedBy = nil
	if out.Views < 0 {
		out.Views = 0
	}
	if out.WebsiteClicks < 0 {
		out.WebsiteClicks = 0
	}

	if minimal {
		out = models.Cassette{
			ID:          c.ID,
			Title:       c.Title,
			Description: c.Description,
			ImageURL:    c.ImageURL,
			IsPublic:    c.IsPublic,
			Views:       out.Views,
			CreatedAt:   c.CreatedAt,
			UpdatedAt:   c.UpdatedAt,
		}
	}
	return &out
}

// SanitizeCassettes dedupes by id, sanitizes each entry and keeps the most
// recent MaxCount entries (lists are append-ordered).
func SanitizeCassettes(cassettes []models.Cassette, opts SanitizeOptions) []models.Cassette {
	maxCount := opts.MaxCount
	if maxCount <= 0 {
		maxCount = 200
	}

	seen := make(map[string]struct{}, len(cassettes))
	sanitized := make([]models.Cassette, 0, len(cassettes))
	for _, c := range cassettes {
		s := SanitizeCassette(c, opts.Minimal)
		if s == nil {
			continue
		}
		if _, dup := seen[s.ID]; dup {
			continue
		}
		seen[s.ID] = struct{}{}
		sanitized = append(sanitized, *s)
	}

	if len(sanitized) <= maxCount {
		return sanitized
	}
	return sanitized[len(sanitized)-maxCount:]
}

// trimDailyMap keeps the maxEntries newest date keys (keys sort as dates).
func trimDailyMap[V int64 | float64](input map[string]V, maxEntries int) map[string]V {
	if len(input) <= maxEntries {
		return input
	}
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	out := make(map[string]V, maxEntries)
	for _, k := range keys[:maxEntries] {
		out[k] = input[k]
	}
	return out
}

// PruneToBudget reduces a profile document to fit budgetBytes through a
// fixed sequence of lossy stages, cheapest data first. Entitlement fields
// are never dropped before auxiliary data. The input is not mutated.
func PruneToBudget(doc models.ProfileDocument, budgetBytes int) models.ProfileDocument {
	if budgetBytes <= 0 {
		budgetBytes = models.ProfileSafeBudgetBytes
	}

	next := doc.Clone()
	fits := func() bool { return next.SizeBytes() <= budgetBytes }

	// Stage 1: sanitize cassette lists regardless of size, then re-check.
	if next.PublicCassettes != nil {
		next.PublicCassettes = SanitizeCassettes(next.PublicCassettes, SanitizeOptions{MaxCount: 200})
	}
	if next.PrivateCassettes != nil {
		next.PrivateCassettes = SanitizeCassettes(next.PrivateCassettes, SanitizeOptions{MaxCount: 50})
	}
	if fits() {
		return next
	}

	// Stage 2: trim focus-stats daily maps to the recent window.
	if next.FocusStatsBackup != nil {
		next.FocusStatsBackup.Daily = trimDailyMap(next.FocusStatsBackup.Daily, 45)
		next.FocusStatsBackup.DailySessions = trimDailyMap(next.FocusStatsBackup.DailySessions, 30)
		next.FocusStatsBackup.DailyBreaks = trimDailyMap(next.FocusStatsBackup.DailyBreaks, 30)
	}
	if fits() {
		return next
	}

	// Stage 3: collapse the backup to a summary.
	if next.FocusStatsBackup != nil {
		totalHours := next.FocusStatsBackup.TotalHours
		if totalHours == 0 {
			totalHours = next.TotalFocusHours
		}
		next.FocusStatsBackup = &models.FocusStatsBackup{
			TotalHours:      totalHours,
			CompletedCycles: next.FocusStatsBackup.CompletedCycles,
			LastBackup:      next.FocusStatsBackup.LastBackup,
		}
	}
	if fits() {
		return next
	}

	// Stage 4: private cassettes down to a minimal field subset.
	if next.PrivateCassettes != nil {
		next.PrivateCassettes = SanitizeCassettes(next.PrivateCassettes, SanitizeOptions{Minimal: true, MaxCount: 12})
	}
	if fits() {
		return next
	}

	// Stage 5: cap custom techniques.
	if len(next.CustomTechniques) > 25 {
		next.CustomTechniques = next.CustomTechniques[len(next.CustomTechniques)-25:]
	}
	if fits() {
		return next
	}

	// Stage 6: streak history is strictly optional.
	next.StreakData = nil
	if fits() {
		return next
	}

	// Stage 7: public cassettes down to a minimal field subset.
	if next.PublicCassettes != nil {
		next.PublicCassettes = SanitizeCassettes(next.PublicCassettes, SanitizeOptions{Minimal: true, MaxCount: 40})
	}
	if fits() {
		return next
	}

	// Stage 8: entitlement-critical whitelist only.
	critical := models.ProfileDocument{
		IsPremium:            next.IsPremium,
		PaymentType:          next.PaymentType,
		IsLifetime:           next.IsLifetime,
		IsTrial:              next.IsTrial,
		PremiumSince:         next.PremiumSince,
		LastUpdated:          next.LastUpdated,
		StripeCustomerID:     next.StripeCustomerID,
		ConfirmedByCheckout:  next.ConfirmedByCheckout,
		ConfirmedSessionID:   next.ConfirmedSessionID,
		PremiumRemovedAt:     next.PremiumRemovedAt,
		PremiumRemovedReason: next.PremiumRemovedReason,
		TotalFocusHours:      next.TotalFocusHours,
		StatsLastUpdated:     next.StatsLastUpdated,
	}
	if critical.SizeBytes() <= models.ProfileMaxBytes {
		return critical
	}

	// The whitelist itself exceeding the hard cap means the critical schema
	// is broken. Persisting the smallest safe payload still beats dropping
	// the write entirely.
	log.Errorf("profile whitelist exceeds hard cap (%d bytes > %d), writing minimum payload",
		critical.SizeBytes(), models.ProfileMaxBytes)

	return models.ProfileDocument{
		IsPremium:        next.IsPremium,
		PaymentType:      next.PaymentType,
		TotalFocusHours:  next.TotalFocusHours,
		StatsLastUpdated: next.StatsLastUpdated,
	}
}
