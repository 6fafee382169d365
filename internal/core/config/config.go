package config

import (
	"time"

	"github.com/vietddude/txengine/internal/core/domain"
	"github.com/vietddude/txengine/internal/infra/custodial"
	"github.com/vietddude/txengine/internal/infra/rates"
	"github.com/vietddude/txengine/internal/infra/storage/postgres"
	"github.com/vietddude/txengine/internal/infra/wallet"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig      `yaml:"server"`
	Logging   LoggingConfig     `yaml:"logging"`
	Fiat      string            `yaml:"fiat"`
	Redis     rates.CacheConfig `yaml:"redis"`
	Database  postgres.Config   `yaml:"database"`
	Rates     rates.Config      `yaml:"rates"`
	Custodial custodial.Config  `yaml:"custodial"`
	Wallet    wallet.Config     `yaml:"wallet"`
	Quotes    QuoteConfig       `yaml:"quotes"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// QuoteConfig holds quote polling settings.
type QuoteConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// DisplayFiat returns the configured display currency.
func (c *AppConfig) DisplayFiat() domain.Asset {
	return domain.Asset(c.Fiat)
}
