package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"drivelog/config"
	"drivelog/errs"
)

const userAgent = "BotDriveLogistic/1.0"

// UserInfo is attached to daily reports when known.
type UserInfo struct {
	ID        int64  `json:"user_id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

type payload struct {
	Type      string    `json:"type"`
	Timestamp string    `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	User      *UserInfo `json:"user,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Client posts daily reports to the configured URL. Attempt n waits
// backoffBase*2^n before the next one.
type Client struct {
	settings    config.Provider
	httpClient  *http.Client
	backoffBase time.Duration
	now         func() time.Time
}

func New(settings config.Provider) *Client {
	return &Client{
		settings:    settings,
		httpClient:  &http.Client{},
		backoffBase: time.Second,
		now:         time.Now,
	}
}

// WithBackoffBase shortens the retry delays, for tests.
func (c *Client) WithBackoffBase(d time.Duration) *Client {
	c.backoffBase = d
	return c
}

func accepted(status int) bool {
	return status == http.StatusOK || status == http.StatusCreated || status == http.StatusAccepted
}

func (c *Client) post(ctx context.Context, url string, timeout time.Duration, body []byte) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if !accepted(resp.StatusCode) {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

// SendDailyReport delivers data with retries. A disabled webhook or an empty
// URL counts as delivered. Failure is an ExternalService error.
func (c *Client) SendDailyReport(ctx context.Context, data any, timestamp string, user *UserInfo) error {
	cfg := c.settings.Current().Webhook
	if cfg.DailyReportURL == "" {
		log.Printf("webhook: no URL configured, skipping")
		return nil
	}
	if !cfg.Enabled {
		log.Printf("webhook: sending disabled, skipping")
		return nil
	}

	body, err := json.Marshal(payload{Type: "daily_report", Timestamp: timestamp, Data: data, User: user})
	if err != nil {
		return fmt.Errorf("failed to marshal daily report: %w", err)
	}

	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(c.backoffBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		log.Printf("webhook: sending daily report (attempt %d/%d)", attempt, attempts)
		if err := c.post(ctx, cfg.DailyReportURL, cfg.Timeout.Duration, body); err != nil {
			log.Printf("warning: webhook attempt %d failed: %v", attempt, err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		log.Printf("warning: daily report webhook failed after %d attempts", attempts)
		return errs.External("webhook", err)
	}
	log.Printf("webhook: daily report delivered")
	return nil
}

// Test sends a probe without retries.
func (c *Client) Test(ctx context.Context) error {
	cfg := c.settings.Current().Webhook
	if cfg.DailyReportURL == "" {
		return errs.Preconditionf("webhook", "webhook URL is not configured")
	}
	body, err := json.Marshal(payload{
		Type:      "test",
		Timestamp: c.now().Format("2006-01-02 15:04:05"),
		Message:   "Тест вебхука от BotDriveLogistic",
	})
	if err != nil {
		return err
	}
	if err := c.post(ctx, cfg.DailyReportURL, cfg.Timeout.Duration, body); err != nil {
		return errs.External("webhook", err)
	}
	return nil
}
