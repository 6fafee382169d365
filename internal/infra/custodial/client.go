package custodial

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/vietddude/txengine/internal/core/domain"
	"github.com/vietddude/txengine/internal/engine/metrics"
	"github.com/vietddude/txengine/internal/engine/trade"
)

// Config holds the custodial API settings.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// Client is the HTTP client for the custodial wallet manager: quotes,
// order creation, transfer limits and KYC tiers.
type Client struct {
	cfg    Config
	client *http.Client
	log    *slog.Logger
}

// NewClient creates a custodial API client.
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

// Health checks API reachability.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/status", nil, nil, "status")
}

type quoteRequest struct {
	Direction string `json:"direction"`
	Pair      string `json:"pair"`
	Volume    string `json:"volume"`
}

type quoteResponse struct {
	ID                   string `json:"id"`
	Price                string `json:"price"`
	SampleDepositAddress string `json:"sampleDepositAddress"`
	NetworkFee           string `json:"networkFee"`
	StaticFee            string `json:"staticFee"`
	ExpiresAt            string `json:"expiresAt"`
	CreatedAt            string `json:"createdAt"`
}

// FetchQuote requests a priced quote sized to the amount.
func (c *Client) FetchQuote(ctx context.Context, direction domain.TransferDirection, pair trade.QuotePair, amount domain.Money) (domain.Quote, error) {
	req := quoteRequest{
		Direction: string(direction),
		Pair:      pair.String(),
		Volume:    amount.Minor().String(),
	}
	var resp quoteResponse
	if err := c.do(ctx, http.MethodPost, "/brokerage/quote", req, &resp, "fetch_quote"); err != nil {
		return domain.Quote{}, err
	}

	price, ok := new(big.Rat).SetString(resp.Price)
	if !ok || price.Sign() <= 0 {
		return domain.Quote{}, fmt.Errorf("invalid quote price %q", resp.Price)
	}
	networkFee, ok := new(big.Int).SetString(resp.NetworkFee, 10)
	if !ok {
		networkFee = new(big.Int)
	}
	staticFee, ok := new(big.Int).SetString(resp.StaticFee, 10)
	if !ok {
		staticFee = new(big.Int)
	}

	quote := domain.Quote{
		ID:                   resp.ID,
		Price:                domain.NewExchangeRate(pair.From, pair.To, price),
		SampleDepositAddress: resp.SampleDepositAddress,
		NetworkFee:           domain.NewMoney(pair.To, networkFee),
		StaticFee:            domain.NewMoney(pair.To, staticFee),
	}
	if t, err := time.Parse(time.RFC3339, resp.ExpiresAt); err == nil {
		quote.ExpiresAt = t
	}
	if t, err := time.Parse(time.RFC3339, resp.CreatedAt); err == nil {
		quote.CreatedAt = t
	}
	return quote, nil
}

type orderRequest struct {
	Direction          string `json:"direction"`
	QuoteID            string `json:"quoteId"`
	Volume             string `json:"volume"`
	RefundAddress      string `json:"refundAddress,omitempty"`
	DestinationAddress string `json:"destinationAddress,omitempty"`
}

type orderResponse struct {
	ID             string `json:"id"`
	State          string `json:"state"`
	DepositAddress string `json:"depositAddress"`
}

// CreateOrder places a custodial order against a quote.
func (c *Client) CreateOrder(ctx context.Context, req trade.OrderRequest) (trade.Order, error) {
	body := orderRequest{
		Direction:          string(req.Direction),
		QuoteID:            req.QuoteID,
		Volume:             req.Volume.Minor().String(),
		RefundAddress:      req.RefundAddress,
		DestinationAddress: req.DestinationAddress,
	}
	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/custodial/trades", body, &resp, "create_order"); err != nil {
		return trade.Order{}, err
	}
	return trade.Order{
		ID:             resp.ID,
		State:          resp.State,
		Amount:         req.Volume,
		DepositAddress: resp.DepositAddress,
	}, nil
}

// RefreshBalances invalidates the server-side balance cache.
func (c *Client) RefreshBalances(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/accounts/refresh", nil, nil, "refresh_balances")
}

type limitsResponse struct {
	Currency string `json:"currency"`
	MinOrder string `json:"minOrder"`
	MaxOrder string `json:"maxOrder"`
}

// SwapLimits fetches the tier transfer limits in the given fiat currency.
func (c *Client) SwapLimits(ctx context.Context, fiat domain.Asset) (domain.TransferLimits, error) {
	var resp limitsResponse
	path := fmt.Sprintf("/trades/limits?currency=%s", fiat)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, "swap_limits"); err != nil {
		return domain.TransferLimits{}, err
	}

	min, ok := new(big.Int).SetString(resp.MinOrder, 10)
	if !ok {
		return domain.TransferLimits{}, fmt.Errorf("invalid min limit %q", resp.MinOrder)
	}
	max, ok := new(big.Int).SetString(resp.MaxOrder, 10)
	if !ok {
		return domain.TransferLimits{}, fmt.Errorf("invalid max limit %q", resp.MaxOrder)
	}
	return domain.TransferLimits{
		Min: domain.NewMoney(fiat, min),
		Max: domain.NewMoney(fiat, max),
	}, nil
}

type tiersResponse struct {
	Current  int          `json:"current"`
	Approved map[int]bool `json:"approved"`
}

// Tiers fetches the user's KYC tier state.
func (c *Client) Tiers(ctx context.Context) (domain.KycTiers, error) {
	var resp tiersResponse
	if err := c.do(ctx, http.MethodGet, "/kyc/tiers", nil, &resp, "tiers"); err != nil {
		return domain.KycTiers{}, err
	}

	approved := make(map[domain.KycTier]bool, len(resp.Approved))
	for tier, ok := range resp.Approved {
		approved[domain.KycTier(tier)] = ok
	}
	return domain.KycTiers{Current: domain.KycTier(resp.Current), Approved: approved}, nil
}

type sddResponse struct {
	Eligible bool `json:"eligible"`
}

// IsSDDEligible reports simplified-due-diligence eligibility.
func (c *Client) IsSDDEligible(ctx context.Context) (bool, error) {
	var resp sddResponse
	if err := c.do(ctx, http.MethodGet, "/sdd/eligible", nil, &resp, "sdd_eligible"); err != nil {
		return false, err
	}
	return resp.Eligible, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, call string) error {
	start := time.Now()
	defer func() {
		metrics.CollaboratorLatency.WithLabelValues("custodial", call).Observe(time.Since(start).Seconds())
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
