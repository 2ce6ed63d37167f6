package billing

import (
	"context"
	"fmt"

	"github.com/FelixBrandt/FocusTape/app/models"
	"github.com/FelixBrandt/FocusTape/internal/pkg/directory"
)

// fakeProvider is an in-memory Provider for tests.
type fakeProvider struct {
	facts     map[string][]SubscriptionFact
	customers map[string]*Customer
	byEmail   map[string][]Customer
	sessions  map[string]*CheckoutSession

	listErr   error
	listCalls int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		facts:     make(map[string][]SubscriptionFact),
		customers: make(map[string]*Customer),
		byEmail:   make(map[string][]Customer),
		sessions:  make(map[string]*CheckoutSession),
	}
}

func (p *fakeProvider) ListFacts(_ context.Context, customerID string) ([]SubscriptionFact, error) {
	p.listCalls++
	if p.listErr != nil {
		return nil, p.listErr
	}
	return p.facts[customerID], nil
}

func (p *fakeProvider) RetrieveCustomer(_ context.Context, customerID string) (*Customer, error) {
	c, ok := p.customers[customerID]
	if !ok {
		return nil, fmt.Errorf("no such customer: %s", customerID)
	}
	return c, nil
}

func (p *fakeProvider) SearchCustomersByEmail(_ context.Context, email string) ([]Customer, error) {
	return p.byEmail[email], nil
}

func (p *fakeProvider) RetrieveCheckoutSession(_ context.Context, sessionID string) (*CheckoutSession, error) {
	cs, ok := p.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("no such checkout session: %s", sessionID)
	}
	return cs, nil
}

// fakeDirectory is an in-memory directory.Client for tests. Writes land in
// the user map so follow-up reads observe them.
type fakeDirectory struct {
	order []string
	users map[string]*directory.User

	writes map[string]int
}

func newFakeDirectory(users ...*directory.User) *fakeDirectory {
	d := &fakeDirectory{
		users:  make(map[string]*directory.User),
		writes: make(map[string]int),
	}
	for _, u := range users {
		d.order = append(d.order, u.ID)
		d.users[u.ID] = u
	}
	return d
}

func (d *fakeDirectory) GetUser(_ context.Context, id string) (*directory.User, error) {
	u, ok := d.users[id]
	if !ok {
		return nil, directory.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (d *fakeDirectory) UpdateUserMetadata(_ context.Context, id string, doc models.ProfileDocument) (*directory.User, error) {
	u, ok := d.users[id]
	if !ok {
		return nil, directory.ErrUserNotFound
	}
	if doc.SizeBytes() > models.ProfileMaxBytes {
		return nil, directory.ErrPayloadTooLarge
	}
	u.PublicMetadata = doc
	d.writes[id]++
	copied := *u
	return &copied, nil
}

func (d *fakeDirectory) ListUsers(_ context.Context, limit, offset int) (*directory.UserPage, error) {
	page := &directory.UserPage{TotalCount: int64(len(d.order))}
	for i := offset; i < len(d.order) && i < offset+limit; i++ {
		page.Data = append(page.Data, *d.users[d.order[i]])
	}
	return page, nil
}

func (d *fakeDirectory) FindUserByEmail(_ context.Context, email string) (*directory.User, error) {
	for _, id := range d.order {
		u := d.users[id]
		for _, e := range u.EmailAddresses {
			if e.EmailAddress == email {
				copied := *u
				return &copied, nil
			}
		}
	}
	return nil, directory.ErrUserNotFound
}

func testUser(id, email string, doc models.ProfileDocument) *directory.User {
	return &directory.User{
		ID:             id,
		EmailAddresses: []directory.EmailAddress{{EmailAddress: email, Primary: true}},
		PublicMetadata: doc,
	}
}
