package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/FelixBrandt/FocusTape/app/models"
	"github.com/FelixBrandt/FocusTape/internal/pkg/env"
)

const defaultAPIBaseURL = "https://api.directory.focustape.app"

var (
	// ErrUserNotFound is returned when the directory has no such user.
	ErrUserNotFound = errors.New("directory: user not found")
	// ErrPayloadTooLarge is returned before any network call when a profile
	// document would exceed the directory's hard size cap.
	ErrPayloadTooLarge = errors.New("directory: profile document exceeds size cap")
)

// User is a directory user record. The profile document rides along as the
// user's public metadata.
type User struct {
	ID             string                 `json:"id"`
	EmailAddresses []EmailAddress         `json:"email_addresses"`
	PublicMetadata models.ProfileDocument `json:"public_metadata"`
}

type EmailAddress struct {
	EmailAddress string `json:"email_address"`
	Primary      bool   `json:"primary"`
}

// PrimaryEmail returns the user's primary address, or the first one on file.
func (u *User) PrimaryEmail() string {
	for _, e := range u.EmailAddresses {
		if e.Primary {
			return e.EmailAddress
		}
	}
	if len(u.EmailAddresses) > 0 {
		return u.EmailAddresses[0].EmailAddress
	}
	return ""
}

// UserPage is one page of a paginated user listing.
type UserPage struct {
	Data       []User `json:"data"`
	TotalCount int64  `json:"total_count"`
}

// Client is the identity-directory API surface the reconciliation core
// depends on.
type Client interface {
	GetUser(ctx context.Context, id string) (*User, error)
	UpdateUserMetadata(ctx context.Context, id string, doc models.ProfileDocument) (*User, error)
	ListUsers(ctx context.Context, limit, offset int) (*UserPage, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
}

// HTTPClient talks to the directory's REST API.
type HTTPClient struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

// NewClientFromEnv builds a directory client from DIRECTORY_API_URL and
// DIRECTORY_SECRET_KEY.
func NewClientFromEnv() *HTTPClient {
	return &HTTPClient{
		BaseURL:   strings.TrimRight(env.GetEnv("DIRECTORY_API_URL", defaultAPIBaseURL), "/"),
		SecretKey: strings.TrimSpace(env.GetEnv("DIRECTORY_SECRET_KEY", "")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Configured reports whether the client has the credentials it needs.
func (c *HTTPClient) Configured() bool {
	return strings.TrimSpace(c.SecretKey) != ""
}

func (c *HTTPClient) GetUser(ctx context.Context, id string) (*User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("user id is required")
	}
	var user User
	if err := c.do(ctx, http.MethodGet, "/v1/users/"+url.PathEscape(id), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *HTTPClient) UpdateUserMetadata(ctx context.Context, id string, doc models.ProfileDocument) (*User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("user id is required")
	}
	if doc.SizeBytes() > models.ProfileMaxBytes {
		return nil, ErrPayloadTooLarge
	}

	body := struct {
		PublicMetadata models.ProfileDocument `json:"public_metadata"`
	}{PublicMetadata: doc}

	var user User
	if err := c.do(ctx, http.MethodPatch, "/v1/users/"+url.PathEscape(id)+"/metadata", body, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *HTTPClient) ListUsers(ctx context.Context, limit, offset int) (*UserPage, error) {
	if limit <= 0 {
		limit = 100
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var page UserPage
	if err := c.do(ctx, http.MethodGet, "/v1/users?"+q.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *HTTPClient) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, errors.New("email is required")
	}
	q := url.Values{}
	q.Set("email_address", email)
	q.Set("limit", "1")

	var page UserPage
	if err := c.do(ctx, http.MethodGet, "/v1/users?"+q.Encode(), nil, &page); err != nil {
		return nil, err
	}
	if len(page.Data) == 0 {
		return nil, ErrUserNotFound
	}
	return &page.Data[0], nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload, out interface{}) error {
	if !c.Configured() {
		return errors.New("DIRECTORY_SECRET_KEY is not configured")
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusNotFound {
		return ErrUserNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("directory request %s %s failed: status=%d body=%s", method, path, resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("directory response decode failed: %w", err)
		}
	}
	return nil
}
