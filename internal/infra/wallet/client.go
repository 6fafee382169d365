package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/vietddude/txengine/internal/core/domain"
	"github.com/vietddude/txengine/internal/engine/metrics"
)

// Config holds the wallet daemon settings.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// Client talks to the wallet daemon that owns keys, addresses and chain
// access for the user's non-custodial accounts.
type Client struct {
	cfg    Config
	client *http.Client
	log    *slog.Logger
}

// NewClient creates a wallet daemon client.
func NewClient(cfg Config, log *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

// Health checks daemon reachability.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/status", nil, nil, "status")
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, call string) error {
	start := time.Now()
	defer func() {
		metrics.CollaboratorLatency.WithLabelValues("wallet", call).Observe(time.Since(start).Seconds())
	}()

	var body *bytes.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", call, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s returned %d", call, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid %s response: %w", call, err)
	}
	return nil
}

func accountQuery(account domain.Account) string {
	return url.QueryEscape(account.Label())
}

func parseMinor(asset domain.Asset, value string) (domain.Money, error) {
	minor, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return domain.Money{}, fmt.Errorf("invalid amount %q", value)
	}
	return domain.NewMoney(asset, minor), nil
}
