package rates

import (
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

// Config holds the market-data source settings.
type Config struct {
	URL      string        `yaml:"url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Service implements engine.RateSource over a market-data HTTP API with an
// optional Redis cache in front of it.
type Service struct {
	cfg    Config
	client *http.Client
	cache  *Cache
	log    *slog.Logger
}

// NewService creates a rate service. cache may be nil.
func NewService(cfg Config, cache *Cache, log *slog.Logger) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		cache:  cache,
		log:    log,
	}
}

type priceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// LastPrice returns the last traded price of the asset in the fiat
// currency, as an asset->fiat exchange rate.
func (s *Service) LastPrice(ctx context.Context, asset, fiat domain.Asset) (domain.ExchangeRate, error) {
	if s.cache != nil {
		if cached, ok, err := s.cache.GetPrice(ctx, string(asset), string(fiat)); err == nil && ok {
			if rate, err := parseRate(asset, fiat, cached); err == nil {
				return rate, nil
			}
		}
	}

	price, err := s.fetch(ctx, asset, fiat)
	if err != nil {
		return domain.ExchangeRate{}, err
	}

	if s.cache != nil {
		if err := s.cache.SetPrice(ctx, string(asset), string(fiat), price, s.cfg.CacheTTL); err != nil {
			s.log.Warn("failed to cache price", "pair", fmt.Sprintf("%s-%s", asset, fiat), "error", err)
		}
	}
	return parseRate(asset, fiat, price)
}

func (s *Service) fetch(ctx context.Context, asset, fiat domain.Asset) (string, error) {
	start := time.Now()
	defer func() {
		metrics.CollaboratorLatency.WithLabelValues("rates", "last_price").Observe(time.Since(start).Seconds())
	}()

	u := fmt.Sprintf("%s/price?base=%s&quote=%s",
		s.cfg.URL, url.QueryEscape(string(asset)), url.QueryEscape(string(fiat)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build price request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("price request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("price request returned %d", resp.StatusCode)
	}

	var body priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("invalid price response: %w", err)
	}
	if body.Price == "" {
		return "", fmt.Errorf("empty price for %s-%s", asset, fiat)
	}
	return body.Price, nil
}

func parseRate(asset, fiat domain.Asset, price string) (domain.ExchangeRate, error) {
	r, ok := new(big.Rat).SetString(price)
	if !ok || r.Sign() <= 0 {
		return domain.ExchangeRate{}, fmt.Errorf("invalid price %q for %s-%s", price, asset, fiat)
	}
	return domain.NewExchangeRate(asset, fiat, r), nil
}
