package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/FelixBrandt/FocusTape/app/models"
	"github.com/FelixBrandt/FocusTape/internal/pkg/directory"
)

const defaultSweepPageSize = 100

// issueNoActiveSubscription marks the one issue kind that demotes a user;
// every other issue is flagged without touching the profile.
const issueNoActiveSubscription = "no active subscription"

// Notifier is the outbound channel for sweep summaries.
type Notifier interface {
	Configured() bool
	Send(ctx context.Context, title, message string) error
}

// SweepIssue describes one user the sweep flagged.
type SweepIssue struct {
	UserID               string   `json:"userId"`
	Email                string   `json:"email,omitempty"`
	StripeCustomerID     string   `json:"stripeCustomerId,omitempty"`
	Issue                string   `json:"issue"`
	SubscriptionStatuses []string `json:"subscriptionStatuses,omitempty"`
}

// SweepReport aggregates one full-population sweep.
type SweepReport struct {
	RunID         string       `json:"runId"`
	Checked       int          `json:"checked"`
	Valid         int          `json:"valid"`
	Fixed         int          `json:"fixed"`
	LifetimeUsers int          `json:"lifetimeUsers"`
	MonthlyUsers  int          `json:"monthlyUsers"`
	InvalidUsers  []SweepIssue `json:"invalidUsers"`
	Errors        []SweepIssue `json:"errors"`
	StartedAt     time.Time    `json:"startedAt"`
	FinishedAt    time.Time    `json:"finishedAt"`
}

// Sweeper walks the whole user population and verifies that everyone who
// claims premium still has a backing subscription. A single user's failure
// never aborts the run; it lands in the report instead.
type Sweeper struct {
	service  *Service
	provider Provider
	dir      directory.Client
	repo     Repository // optional run persistence
	notifier Notifier   // optional summary push

	// AdminEmail, when set, receives the summary by mail as well.
	AdminEmail string
	SendMail   func(to, subject, body string) error

	PageSize int
	now      func() time.Time
}

func NewSweeper(service *Service, provider Provider, dir directory.Client, repo Repository, notifier Notifier) *Sweeper {
	return &Sweeper{
		service:  service,
		provider: provider,
		dir:      dir,
		repo:     repo,
		notifier: notifier,
		PageSize: defaultSweepPageSize,
		now:      time.Now,
	}
}

// Run executes one sweep over the full population.
func (s *Sweeper) Run(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{
		RunID:        uuid.NewString(),
		InvalidUsers: []SweepIssue{},
		Errors:       []SweepIssue{},
		StartedAt:    s.now().UTC(),
	}

	users, err := s.listAllUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	log.Infof("entitlement sweep %s: %d users in directory", report.RunID, len(users))

	for i := range users {
		user := &users[i]
		if !user.PublicMetadata.IsPremium {
			continue
		}
		report.Checked++

		if err := s.checkPremiumUser(ctx, user, report); err != nil {
			report.Errors = append(report.Errors, SweepIssue{
				UserID: user.ID,
				Email:  user.PrimaryEmail(),
				Issue:  err.Error(),
			})
		}
	}

	report.FinishedAt = s.now().UTC()
	s.persistRun(report)
	if report.Fixed > 0 || len(report.Errors) > 0 {
		s.sendSummary(ctx, report)
	}
	log.Infof("entitlement sweep %s finished: checked=%d valid=%d fixed=%d errors=%d",
		report.RunID, report.Checked, report.Valid, report.Fixed, len(report.Errors))
	return report, nil
}

func (s *Sweeper) listAllUsers(ctx context.Context) ([]directory.User, error) {
	pageSize := s.PageSize
	if pageSize <= 0 {
		pageSize = defaultSweepPageSize
	}

	var all []directory.User
	offset := 0
	for {
		page, err := s.dir.ListUsers(ctx, pageSize, offset)
		if err != nil {
			return nil, err
		}
		if len(page.Data) == 0 {
			break
		}
		all = append(all, page.Data...)
		offset += pageSize
		if page.TotalCount > 0 && int64(offset) >= page.TotalCount {
			break
		}
		if len(page.Data) < pageSize {
			break
		}
	}
	return all, nil
}

func (s *Sweeper) checkPremiumUser(ctx context.Context, user *directory.User, report *SweepReport) error {
	doc := &user.PublicMetadata

	// Lifetime users are protected: validate the customer link, never demote.
	if doc.IsLifetime || doc.PaymentType == models.PaymentTypeLifetime {
		report.LifetimeUsers++
		if doc.StripeCustomerID == "" {
			report.Errors = append(report.Errors, SweepIssue{
				UserID: user.ID,
				Email:  user.PrimaryEmail(),
				Issue:  "lifetime user missing customer id",
			})
			return nil
		}
		if _, err := s.provider.RetrieveCustomer(ctx, doc.StripeCustomerID); err != nil {
			report.Errors = append(report.Errors, SweepIssue{
				UserID:           user.ID,
				Email:            user.PrimaryEmail(),
				StripeCustomerID: doc.StripeCustomerID,
				Issue:            "lifetime user has invalid customer id",
			})
			return nil
		}
		report.Valid++
		return nil
	}

	report.MonthlyUsers++

	if doc.StripeCustomerID == "" {
		// Nothing to check against; ambiguous absence, not a demotion.
		report.InvalidUsers = append(report.InvalidUsers, SweepIssue{
			UserID: user.ID,
			Email:  user.PrimaryEmail(),
			Issue:  "missing customer id",
		})
		return nil
	}

	facts, err := s.provider.ListFacts(ctx, doc.StripeCustomerID)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	if FirstEntitlingFact(facts) != nil {
		report.Valid++
		return nil
	}

	// Secondary confirmation before demoting: the stored customer id may be
	// stale while the real subscription lives under a namesake customer.
	if relinked, err := s.relinkByEmail(ctx, user); err == nil && relinked {
		report.Valid++
		report.InvalidUsers = append(report.InvalidUsers, SweepIssue{
			UserID:           user.ID,
			Email:            user.PrimaryEmail(),
			StripeCustomerID: doc.StripeCustomerID,
			Issue:            "stale customer id, relinked to active subscription",
		})
		return nil
	} else if err != nil {
		return err
	}

	// Definitive: provider answered for the stored id and the email
	// cross-check found nothing either.
	statuses := make([]string, 0, len(facts))
	for _, f := range facts {
		statuses = append(statuses, f.Status)
	}
	report.InvalidUsers = append(report.InvalidUsers, SweepIssue{
		UserID:               user.ID,
		Email:                user.PrimaryEmail(),
		StripeCustomerID:     doc.StripeCustomerID,
		Issue:                issueNoActiveSubscription,
		SubscriptionStatuses: statuses,
	})

	merged := Merge(*doc, Observation{
		Facts:      facts,
		Definitive: true,
		Trigger:    TriggerSweep,
	}, s.service.now())
	if err := s.service.persistProfile(ctx, user.ID, merged); err != nil {
		return err
	}
	report.Fixed++
	log.Infof("sweep removed premium for user %s (no active subscription)", user.ID)
	return nil
}

// relinkByEmail looks for an entitling subscription under another customer
// with the user's email and, if found, repairs the link instead of demoting.
func (s *Sweeper) relinkByEmail(ctx context.Context, user *directory.User) (bool, error) {
	email := user.PrimaryEmail()
	if email == "" {
		return false, nil
	}
	customers, err := s.provider.SearchCustomersByEmail(ctx, email)
	if err != nil {
		return false, fmt.Errorf("search customers by email: %w", err)
	}
	for _, c := range customers {
		if c.ID == user.PublicMetadata.StripeCustomerID {
			continue
		}
		facts, err := s.provider.ListFacts(ctx, c.ID)
		if err != nil {
			log.Warnf("sweep could not list subscriptions for candidate %s: %v", c.ID, err)
			continue
		}
		if FirstEntitlingFact(facts) == nil {
			continue
		}
		merged := Merge(user.PublicMetadata, Observation{
			Facts:      facts,
			Definitive: true,
			Trigger:    TriggerSweep,
		}, s.service.now())
		if err := s.service.persistProfile(ctx, user.ID, merged); err != nil {
			return false, err
		}
		s.service.resolver.PersistMapping(ctx, c.ID, user.ID)
		return true, nil
	}
	return false, nil
}

func (s *Sweeper) persistRun(report *SweepReport) {
	if s.repo == nil {
		return
	}
	raw, err := json.Marshal(report)
	if err != nil {
		log.Errorf("could not marshal sweep report: %v", err)
		return
	}
	run := &models.SweepRun{
		RunID:         report.RunID,
		Checked:       report.Checked,
		Valid:         report.Valid,
		Fixed:         report.Fixed,
		LifetimeUsers: report.LifetimeUsers,
		MonthlyUsers:  report.MonthlyUsers,
		ErrorCount:    len(report.Errors),
		ReportJSON:    string(raw),
		StartedAt:     report.StartedAt,
		FinishedAt:    report.FinishedAt,
	}
	if err := s.repo.RecordSweepRun(run); err != nil {
		log.Errorf("could not persist sweep run %s: %v", report.RunID, err)
	}
}

// sendSummary pushes the run summary. Notification failures are logged and
// never fail the sweep.
func (s *Sweeper) sendSummary(ctx context.Context, report *SweepReport) {
	lines := []string{
		fmt.Sprintf("Checked: %d users", report.Checked),
		fmt.Sprintf("Valid: %d", report.Valid),
		fmt.Sprintf("Fixed: %d", report.Fixed),
		fmt.Sprintf("Errors: %d", len(report.Errors)),
	}
	if report.Fixed > 0 {
		emails := make([]string, 0, report.Fixed)
		for _, u := range report.InvalidUsers {
			if u.Issue == issueNoActiveSubscription && u.Email != "" {
				emails = append(emails, u.Email)
			}
		}
		lines = append(lines, "", "Fixed users: "+strings.Join(emails, ", "))
	}
	message := strings.Join(lines, "\n")

	if s.notifier != nil && s.notifier.Configured() {
		if err := s.notifier.Send(ctx, "Premium Sync Alert", message); err != nil {
			log.Warnf("sweep summary notification failed: %v", err)
		}
	}
	if s.AdminEmail != "" && s.SendMail != nil {
		body := "<pre>" + message + "</pre>"
		if err := s.SendMail(s.AdminEmail, "Entitlement sweep summary", body); err != nil {
			log.Warnf("sweep summary mail failed: %v", err)
		}
	}
}
