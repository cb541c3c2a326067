package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"drivelog/config"
)

const (
	fetchRetries = 2
	fetchBackoff = 300 * time.Millisecond
)

// RemonlineClient talks to the Remonline orders API.
type RemonlineClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	backoff    time.Duration
}

// NewRemonlineClient returns nil when no API key is configured, which callers
// treat as "CRM unavailable".
func NewRemonlineClient(cfg config.Catalog) *RemonlineClient {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		log.Printf("warning: %s is not set, catalog uses static objects only", cfg.APIKeyEnv)
		return nil
	}
	return NewRemonlineClientWithKey(cfg, key)
}

func NewRemonlineClientWithKey(cfg config.Catalog, apiKey string) *RemonlineClient {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemonlineClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		backoff:    fetchBackoff,
	}
}

type remonlineOrder struct {
	ID        json.RawMessage `json:"id"`
	IDLabel   json.RawMessage `json:"id_label"`
	CreatedAt json.RawMessage `json:"created_at"`
	Status    *struct {
		ID   json.RawMessage `json:"id"`
		Name string          `json:"name"`
	} `json:"status"`
	Client *struct {
		Name string `json:"name"`
	} `json:"client"`
}

// rawString renders a JSON scalar as plain text.
func rawString(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	if unq, err := strconv.Unquote(s); err == nil {
		return unq
	}
	return s
}

// ListOrders fetches the first page of orders, unfiltered. Orders without an
// id or a client name are skipped.
func (c *RemonlineClient) ListOrders(ctx context.Context, limit int) ([]Object, error) {
	q := url.Values{}
	q.Set("page", "1")
	q.Set("limit", strconv.Itoa(limit))
	endpoint := c.baseURL + "/orders?" + q.Encode()

	var body []byte
	err := retry.Do(ctx, retry.WithMaxRetries(fetchRetries, retry.NewExponential(c.backoff)), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}
		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return fmt.Errorf("remonline: unauthorized, check API key")
		case resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("remonline: HTTP %d", resp.StatusCode))
		case resp.StatusCode >= 300:
			return fmt.Errorf("remonline: HTTP %d", resp.StatusCode)
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	orders, err := unwrapOrders(body)
	if err != nil {
		return nil, err
	}
	out := make([]Object, 0, len(orders))
	for _, o := range orders {
		id := rawString(o.ID)
		if id == "" || o.Client == nil || o.Client.Name == "" {
			continue
		}
		obj := Object{
			ID:        id,
			Name:      o.Client.Name,
			IDLabel:   rawString(o.IDLabel),
			CreatedAt: rawString(o.CreatedAt),
			Source:    SourceRemonline,
		}
		if o.Status != nil {
			obj.StatusName = o.Status.Name
			obj.StatusID, _ = strconv.ParseInt(rawString(o.Status.ID), 10, 64)
		}
		out = append(out, obj)
	}
	return out, nil
}

// unwrapOrders accepts a bare list or an object wrapping it under data,
// orders, results or, failing those, the first key holding a list.
func unwrapOrders(body []byte) ([]remonlineOrder, error) {
	var orders []remonlineOrder
	if err := json.Unmarshal(body, &orders); err == nil {
		return orders, nil
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("remonline: failed to decode response: %w", err)
	}
	for _, key := range []string{"data", "orders", "results"} {
		if raw, ok := wrapped[key]; ok {
			if err := json.Unmarshal(raw, &orders); err != nil {
				return nil, fmt.Errorf("remonline: %q is not a list: %w", key, err)
			}
			return orders, nil
		}
	}
	keys := make([]string, 0, len(wrapped))
	for k := range wrapped {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !bytes.HasPrefix(bytes.TrimSpace(wrapped[k]), []byte("[")) {
			continue
		}
		if err := json.Unmarshal(wrapped[k], &orders); err == nil {
			log.Printf("remonline: using list found under %q", k)
			return orders, nil
		}
	}
	return nil, fmt.Errorf("remonline: unexpected response format, keys %v", keys)
}

// AddComment posts a private comment to an order.
func (c *RemonlineClient) AddComment(ctx context.Context, orderID, text string) error {
	payload, err := json.Marshal(map[string]any{"comment": text, "is_private": true})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders/"+url.PathEscape(orderID)+"/comments", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("remonline: comment on order %s: HTTP %d: %s", orderID, resp.StatusCode, string(b))
	}
	return nil
}
