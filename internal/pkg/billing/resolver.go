package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/FelixBrandt/FocusTape/internal/pkg/cache"
	"github.com/FelixBrandt/FocusTape/internal/pkg/directory"
)

const (
	customerMapKeyPrefix = "stripe_cust:"
	// Mappings are a best-effort cache, not a source of truth; expiry only
	// costs a re-resolution.
	customerMapTTL = 90 * 24 * time.Hour
)

// Resolver turns partial identity information into a (customer, user) pair.
// Explicit stored links win over the mapping cache, which wins over
// heuristic email search.
type Resolver struct {
	store    *cache.Store
	provider Provider
	dir      directory.Client
}

func NewResolver(store *cache.Store, provider Provider, dir directory.Client) *Resolver {
	return &Resolver{store: store, provider: provider, dir: dir}
}

// ResolveInput is any subset of the three identity handles.
type ResolveInput struct {
	CustomerID string
	UserID     string
	Email      string
}

// Resolution is a best-effort resolved pair. CustomerID may be empty when
// the user has never paid; User is always set.
type Resolution struct {
	UserID     string
	CustomerID string
	User       *directory.User
}

// Resolve resolves as much of the pair as the inputs allow. It returns
// ErrUnresolved instead of guessing: callers must treat that as "no fact
// available", never as confirmed non-premium.
func (r *Resolver) Resolve(ctx context.Context, in ResolveInput) (*Resolution, error) {
	customerID := strings.TrimSpace(in.CustomerID)
	email := strings.TrimSpace(in.Email)

	var user *directory.User
	if id := strings.TrimSpace(in.UserID); id != "" {
		u, err := r.dir.GetUser(ctx, id)
		if err != nil && !errors.Is(err, directory.ErrUserNotFound) {
			return nil, err
		}
		user = u
	}

	// (a) Explicit link already on the profile document.
	if user != nil && customerID == "" {
		customerID = user.PublicMetadata.StripeCustomerID
	}

	// (b) Mapping cache by customer id.
	if user == nil && customerID != "" {
		if mappedUserID, err := r.store.Get(ctx, customerMapKeyPrefix+customerID); err == nil && mappedUserID != "" {
			u, err := r.dir.GetUser(ctx, mappedUserID)
			if err == nil {
				user = u
			} else if !errors.Is(err, directory.ErrUserNotFound) {
				return nil, err
			}
		}
	}

	// Widen the email pool before heuristic search.
	if email == "" && user != nil {
		email = user.PrimaryEmail()
	}
	if email == "" && customerID != "" {
		if c, err := r.provider.RetrieveCustomer(ctx, customerID); err == nil {
			email = c.Email
		} else {
			log.Warnf("could not retrieve customer %s for email lookup: %v", customerID, err)
		}
	}

	// (c) Provider search by email, preferring a customer that actually has
	// an entitling subscription over namesakes without one.
	if customerID == "" && email != "" {
		id, err := r.searchCustomerByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		customerID = id
	}

	// (d) Directory search by email.
	if user == nil && email != "" {
		u, err := r.dir.FindUserByEmail(ctx, email)
		if err != nil && !errors.Is(err, directory.ErrUserNotFound) {
			return nil, err
		}
		user = u
	}

	if user == nil {
		return nil, ErrUnresolved
	}

	if customerID != "" {
		r.PersistMapping(ctx, customerID, user.ID)
	}

	return &Resolution{UserID: user.ID, CustomerID: customerID, User: user}, nil
}

// PersistMapping stores a discovered customer→user link for O(1) future
// lookups. Failures are logged and swallowed; the mapping is best-effort.
func (r *Resolver) PersistMapping(ctx context.Context, customerID, userID string) {
	if customerID == "" || userID == "" {
		return
	}
	if err := r.store.Set(ctx, customerMapKeyPrefix+customerID, userID, customerMapTTL); err != nil {
		log.Warnf("could not persist customer mapping %s -> %s: %v", customerID, userID, err)
	}
}

func (r *Resolver) searchCustomerByEmail(ctx context.Context, email string) (string, error) {
	customers, err := r.provider.SearchCustomersByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if len(customers) == 0 {
		return "", nil
	}

	for _, c := range customers {
		facts, err := r.provider.ListFacts(ctx, c.ID)
		if err != nil {
			log.Warnf("could not list subscriptions for candidate customer %s: %v", c.ID, err)
			continue
		}
		if FirstEntitlingFact(facts) != nil {
			return c.ID, nil
		}
	}
	// No candidate has an entitling subscription; keep the first match so
	// the link survives for later re-checks.
	return customers[0].ID, nil
}
