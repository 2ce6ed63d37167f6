package models

import (
	"encoding/json"
	"time"
)

// Profile document size limits imposed by the identity directory. Writers
// target the safe budget so provider-side envelope overhead never pushes a
// payload over the hard cap.
const (
	ProfileMaxBytes        = 8192
	ProfileSafeBudgetBytes = 7600
)

// Payment types stored on the profile document.
const (
	PaymentTypeNone     = "none"
	PaymentTypeMonthly  = "monthly"
	PaymentTypeLifetime = "lifetime"
	PaymentTypePremium  = "premium"
	PaymentTypeTrial    = "trial"
)

// Reason codes stamped when a reconciliation path removes premium.
const (
	RemovedReasonSweepNoActiveSubscription   = "cron_sync_no_active_subscription"
	RemovedReasonRefreshNoActiveSubscription = "refresh_no_active_subscription"
	RemovedReasonWebhookSubscriptionEnded    = "webhook_subscription_ended"
)

// Cassette is a shared focus-session playlist entry. Cassettes live inside
// the profile document and compete with entitlement fields for the same
// byte budget.
type Cassette struct {
	ID            string   `json:"id"`
	Title         string   `json:"title,omitempty"`
	Description   string   `json:"description,omitempty"`
	ImageURL      string   `json:"imageUrl,omitempty"`
	WebsiteURL    string   `json:"websiteUrl,omitempty"`
	IsPublic      bool     `json:"isPublic,omitempty"`
	Views         int64    `json:"views,omitempty"`
	WebsiteClicks int64    `json:"websiteClicks,omitempty"`
	CreatedAt     string   `json:"createdAt,omitempty"`
	UpdatedAt     string   `json:"updatedAt,omitempty"`
	Tracks        []string `json:"tracks,omitempty"`

	// ViewedBy is a deprecated per-viewer list that older clients wrote
	// directly into the document. The pruner strips it; unique views are
	// tracked in the cache store instead.
	ViewedBy []string `json:"viewedBy,omitempty"`
}

// FocusStatsBackup is a client-written backup of focus statistics. The daily
// maps are keyed by date (YYYY-MM-DD) and grow without bound unless trimmed.
type FocusStatsBackup struct {
	TotalHours      float64            `json:"totalHours,omitempty"`
	CompletedCycles int64              `json:"completedCycles,omitempty"`
	LastBackup      string             `json:"lastBackup,omitempty"`
	Daily           map[string]float64 `json:"daily,omitempty"`
	DailySessions   map[string]int64   `json:"dailySessions,omitempty"`
	DailyBreaks     map[string]int64   `json:"dailyBreaks,omitempty"`
}

// ProfileDocument is the per-user metadata blob owned by the identity
// directory. Entitlement fields are authoritative for premium access;
// everything else is application data that shares the same size budget.
//
// Unknown keys written by other product features round-trip through Extra so
// a reconciliation write never drops data it does not understand.
type ProfileDocument struct {
	// Entitlement-critical fields.
	IsPremium            bool       `json:"isPremium"`
	PaymentType          string     `json:"paymentType,omitempty"`
	IsLifetime           bool       `json:"isLifetime,omitempty"`
	IsTrial              bool       `json:"isTrial,omitempty"`
	PremiumSince         *time.Time `json:"premiumSince,omitempty"`
	LastUpdated          *time.Time `json:"lastUpdated,omitempty"`
	StripeCustomerID     string     `json:"stripeCustomerId,omitempty"`
	ConfirmedByCheckout  bool       `json:"confirmedByCheckout,omitempty"`
	ConfirmedSessionID   string     `json:"confirmedSessionId,omitempty"`
	PremiumRemovedAt     *time.Time `json:"premiumRemovedAt,omitempty"`
	PremiumRemovedReason string     `json:"premiumRemovedReason,omitempty"`

	// Auxiliary application data sharing the byte budget.
	PublicCassettes  []Cassette        `json:"publicCassettes,omitempty"`
	PrivateCassettes []Cassette        `json:"privateCassettes,omitempty"`
	FocusStatsBackup *FocusStatsBackup `json:"focusStatsBackup,omitempty"`
	CustomTechniques []json.RawMessage `json:"customTechniques,omitempty"`
	StreakData       json.RawMessage   `json:"streakData,omitempty"`
	TotalFocusHours  float64           `json:"totalFocusHours,omitempty"`
	StatsLastUpdated string            `json:"statsLastUpdated,omitempty"`

	// Extra carries unknown co-resident keys verbatim.
	Extra map[string]json.RawMessage `json:"-"`
}

// profileAlias avoids MarshalJSON/UnmarshalJSON recursion.
type profileAlias ProfileDocument

var profileKnownKeys = []string{
	"isPremium", "paymentType", "isLifetime", "isTrial", "premiumSince",
	"lastUpdated", "stripeCustomerId", "confirmedByCheckout",
	"confirmedSessionId", "premiumRemovedAt", "premiumRemovedReason",
	"publicCassettes", "privateCassettes", "focusStatsBackup",
	"customTechniques", "streakData", "totalFocusHours", "statsLastUpdated",
}

// MarshalJSON emits known fields plus preserved unknown keys. Map-based
// marshaling keeps the key order sorted, so identical documents serialize
// byte-identically.
func (p ProfileDocument) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(profileAlias(p))
	if err != nil {
		return nil, err
	}
	if len(p.Extra) == 0 {
		// Re-encode through a map anyway so key ordering does not depend
		// on whether Extra was populated.
		var flat map[string]json.RawMessage
		if err := json.Unmarshal(raw, &flat); err != nil {
			return nil, err
		}
		return json.Marshal(flat)
	}

	var flat map[string]json.RawMessage
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, err
	}
	for k, v := range p.Extra {
		if _, known := flat[k]; known {
			continue
		}
		flat[k] = v
	}
	return json.Marshal(flat)
}

// UnmarshalJSON fills known fields and captures the rest in Extra.
func (p *ProfileDocument) UnmarshalJSON(data []byte) error {
	var alias profileAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	for _, k := range profileKnownKeys {
		delete(flat, k)
	}
	if len(flat) == 0 {
		flat = nil
	}
	*p = ProfileDocument(alias)
	p.Extra = flat
	return nil
}

// SizeBytes returns the serialized size of the document, which is what the
// directory enforces its cap against. Marshal failures count as oversized so
// a broken document can never sneak past a budget check.
func (p ProfileDocument) SizeBytes() int {
	raw, err := json.Marshal(p)
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return len(raw)
}

// Clone returns a deep copy via JSON round-trip.
func (p ProfileDocument) Clone() ProfileDocument {
	raw, err := json.Marshal(p)
	if err != nil {
		return ProfileDocument{}
	}
	var out ProfileDocument
	if err := json.Unmarshal(raw, &out); err != nil {
		return ProfileDocument{}
	}
	return out
}
