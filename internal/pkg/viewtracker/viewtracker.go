package viewtracker

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/FelixBrandt/FocusTape/internal/pkg/cache"
)

const (
	viewerKeyPrefix  = "cassette_viewers:"
	clickerKeyPrefix = "cassette_clickers:"

	// Viewer sets expire after 180 days; losing one only means a repeat
	// view can count again, never a correctness failure.
	setTTL = 180 * 24 * time.Hour
)

// Tracker provides idempotent first-time-only event counting for a
// (cassette, actor) pair, backed by the shared cache store.
type Tracker struct {
	store *cache.Store
}

func New(store *cache.Store) *Tracker {
	return &Tracker{store: store}
}

// MarkUniqueView reports whether this viewer is seeing the cassette for the
// first time within the tracking window. Anonymous viewers are never
// counted and never hit the cache.
func (t *Tracker) MarkUniqueView(ctx context.Context, cassetteID, viewerID string) bool {
	return t.markUnique(ctx, viewerKeyPrefix+cassetteID, cassetteID, viewerID)
}

// MarkUniqueClick is the website-click twin of MarkUniqueView.
func (t *Tracker) MarkUniqueClick(ctx context.Context, cassetteID, viewerID string) bool {
	return t.markUnique(ctx, clickerKeyPrefix+cassetteID, cassetteID, viewerID)
}

func (t *Tracker) markUnique(ctx context.Context, key, cassetteID, actorID string) bool {
	if cassetteID == "" || actorID == "" {
		return false
	}

	added, err := t.store.AddToSet(ctx, key, actorID)
	if err != nil {
		log.Warnf("unique event tracking degraded for %s: %v", key, err)
		return false
	}
	if added {
		// Refresh the window only when the set actually grew, so repeat
		// events do not keep a set alive forever.
		if err := t.store.Expire(ctx, key, setTTL); err != nil {
			log.Warnf("could not set TTL on %s: %v", key, err)
		}
	}
	return added
}
