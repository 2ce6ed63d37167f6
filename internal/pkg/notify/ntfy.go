package notify

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/FelixBrandt/FocusTape/internal/pkg/env"
)

const defaultNtfyBaseURL = "https://ntfy.sh"

// NtfyNotifier pushes operator notifications to an ntfy.sh topic. Sending is
// always best-effort: callers log failures and move on.
type NtfyNotifier struct {
	Topic    string
	Password string
	BaseURL  string

	HTTPClient *http.Client
}

func NewNtfyFromEnv() *NtfyNotifier {
	return &NtfyNotifier{
		Topic:    strings.TrimSpace(env.GetEnv("NTFY_TOPIC", "")),
		Password: strings.TrimSpace(env.GetEnv("NTFY_PASSWORD", "")),
		BaseURL:  strings.TrimRight(env.GetEnv("NTFY_BASE_URL", defaultNtfyBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (n *NtfyNotifier) Configured() bool {
	return n.Topic != ""
}

// Send publishes one message. Returns an error only for the caller to log.
func (n *NtfyNotifier) Send(ctx context.Context, title, message string) error {
	if !n.Configured() {
		return fmt.Errorf("NTFY_TOPIC is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.BaseURL+"/"+n.Topic, strings.NewReader(message))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Title", strings.TrimSpace(title))
	req.Header.Set("Priority", "default")
	req.Header.Set("Tags", "sync,premium")
	if n.Password != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(":" + n.Password))
		req.Header.Set("Authorization", "Basic "+auth)
	}

	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy publish failed: status=%d", resp.StatusCode)
	}
	return nil
}
