package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"

	"github.com/vietddude/txengine/internal/core/config"
	"github.com/vietddude/txengine/internal/core/domain"
	"github.com/vietddude/txengine/internal/engine"
	"github.com/vietddude/txengine/internal/engine/btc"
	"github.com/vietddude/txengine/internal/engine/eth"
	"github.com/vietddude/txengine/internal/engine/metrics"
	"github.com/vietddude/txengine/internal/engine/trade"
	"github.com/vietddude/txengine/internal/engine/xlm"
	"github.com/vietddude/txengine/internal/flow"
	"github.com/vietddude/txengine/internal/health"
	"github.com/vietddude/txengine/internal/infra/custodial"
	"github.com/vietddude/txengine/internal/infra/rates"
	"github.com/vietddude/txengine/internal/infra/storage/postgres"
)

// UTXOBackend bundles the wallet collaborators a UTXO engine needs.
type UTXOBackend struct {
	Unspent  btc.UnspentProvider
	Fees     btc.FeeService
	Payments btc.PaymentService
}

// Collaborators holds the per-chain wallet backends. The service owns the
// shared infrastructure (rates, custodial API, storage); chain backends
// are injected because they carry wallet credentials.
type Collaborators struct {
	UTXO    map[domain.Asset]UTXOBackend
	ETHNode eth.NodeService
	Horizon xlm.HorizonService

	// WalletHealth probes the wallet daemon backing the chain backends.
	WalletHealth health.CheckFunc
}

// Service is the main application struct that wires the transaction
// engines to their collaborators and manages their lifecycle.
type Service struct {
	cfg    *config.AppConfig
	collab Collaborators

	db           *postgres.DB
	cache        *rates.Cache
	ratesSvc     *rates.Service
	custodialAPI *custodial.Client
	journal      flow.Journal
	journalRepo  *postgres.JournalRepo
	healthMon    *health.Monitor
	healthServer *health.Server
	log          *slog.Logger
}

// NewService creates a service with all shared dependencies initialized.
// Postgres and Redis are optional: without a database URL the journal is
// disabled, without Redis prices are fetched uncached.
func NewService(ctx context.Context, cfg *config.AppConfig, collab Collaborators) (*Service, error) {
	log := slog.Default()
	healthMon := health.NewMonitor()

	var db *postgres.DB
	var journal flow.Journal
	var journalRepo *postgres.JournalRepo
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		// Goose needs the raw *sql.DB that sqlx wraps
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		journalRepo = postgres.NewJournalRepo(db)
		journal = journalRepo
		healthMon.Register("postgres", true, db.Health)
		log.Info("Using PostgreSQL journal")
	} else {
		log.Info("No database configured, journal disabled")
	}

	var cache *rates.Cache
	if cfg.Redis.URL != "" {
		var err error
		cache, err = rates.NewCache(cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, price cache disabled", "error", err)
		} else {
			healthMon.Register("redis", false, cache.Health)
		}
	}

	ratesSvc := rates.NewService(cfg.Rates, cache, log)
	custodialAPI := custodial.NewClient(cfg.Custodial, log)
	healthMon.Register("custodial", true, custodialAPI.Health)
	if collab.WalletHealth != nil {
		healthMon.Register("wallet", true, collab.WalletHealth)
	}

	return &Service{
		cfg:          cfg,
		collab:       collab,
		db:           db,
		cache:        cache,
		ratesSvc:     ratesSvc,
		custodialAPI: custodialAPI,
		journal:      journal,
		journalRepo:  journalRepo,
		healthMon:    healthMon,
		healthServer: health.NewServer(healthMon, cfg.Server.Port),
		log:          log,
	}, nil
}

// Rates exposes the shared rate source.
func (s *Service) Rates() engine.RateSource {
	return s.ratesSvc
}

// RecentActivity lists the latest journalled transactions, newest first. An
// empty asset spans all assets; without a configured journal the history is
// empty.
func (s *Service) RecentActivity(ctx context.Context, asset domain.Asset, limit int) ([]flow.JournalEntry, error) {
	if s.journalRepo == nil {
		return nil, nil
	}
	return s.journalRepo.Recent(ctx, string(asset), limit)
}

// Start starts the background components.
func (s *Service) Start(ctx context.Context) error {
	go func() {
		if err := s.healthServer.Start(); err != nil {
			s.log.Error("Health server failed", "error", err)
		}
	}()

	if s.db != nil {
		s.db.StartMetricsCollector(ctx)
	}
	return nil
}

// Stop stops the service.
func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("Stopping service...")

	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("Failed to close database", "error", err)
		}
	}
	return s.healthServer.Stop(ctx)
}

// NewFlow builds a flow processor for one user transaction: it selects the
// engine for the action and source chain, starts it against the source and
// target, and wraps it in a processor. The caller owns the returned
// processor and must Close it.
func (s *Service) NewFlow(source domain.Account, target domain.TransactionTarget, action engine.Action) (*flow.Processor, error) {
	eng, err := s.buildEngine(source, target, action)
	if err != nil {
		return nil, err
	}
	if err := eng.Start(source, target, s.ratesSvc); err != nil {
		return nil, err
	}
	metrics.FlowsStarted.WithLabelValues(string(action), string(source.TargetAsset())).Inc()
	return flow.New(action, eng, s.journal, s.log), nil
}

func (s *Service) buildEngine(source domain.Account, target domain.TransactionTarget, action engine.Action) (engine.Engine, error) {
	switch action {
	case engine.ActionSend, engine.ActionDeposit:
		return s.onChainEngine(source.TargetAsset())

	case engine.ActionSwap, engine.ActionSell:
		direction := directionFor(source, target)

		var onchain engine.Engine
		if direction.RequiresRefundAddress() {
			var err error
			onchain, err = s.onChainEngine(source.TargetAsset())
			if err != nil {
				return nil, err
			}
		}

		cfg := trade.Config{
			Action:        action,
			Direction:     direction,
			Fiat:          s.cfg.DisplayFiat(),
			QuoteInterval: s.cfg.Quotes.RefreshInterval,
		}
		return trade.NewEngine(cfg, onchain, s.custodialAPI, s.custodialAPI, s.custodialAPI, s.custodialAPI, s.log), nil

	default:
		return nil, fmt.Errorf("%w: unknown action %q", engine.ErrInvalidInputs, action)
	}
}

func (s *Service) onChainEngine(asset domain.Asset) (engine.Engine, error) {
	switch asset {
	case domain.AssetBTC, domain.AssetBCH:
		backend, ok := s.collab.UTXO[asset]
		if !ok {
			return nil, fmt.Errorf("%w: no wallet backend for %s", engine.ErrInvalidInputs, asset)
		}
		return btc.NewEngine(asset, s.cfg.DisplayFiat(), backend.Unspent, backend.Fees, backend.Payments, s.log), nil

	case domain.AssetETH:
		if s.collab.ETHNode == nil {
			return nil, fmt.Errorf("%w: no node backend for %s", engine.ErrInvalidInputs, asset)
		}
		return eth.NewEngine(s.cfg.DisplayFiat(), s.collab.ETHNode, s.log), nil

	case domain.AssetXLM:
		if s.collab.Horizon == nil {
			return nil, fmt.Errorf("%w: no horizon backend for %s", engine.ErrInvalidInputs, asset)
		}
		return xlm.NewEngine(s.cfg.DisplayFiat(), s.collab.Horizon, s.log), nil

	default:
		return nil, fmt.Errorf("%w: no on-chain engine for %s", engine.ErrInvalidInputs, asset)
	}
}

// directionFor derives the transfer direction from the account kinds on
// each side of the trade.
func directionFor(source domain.Account, target domain.TransactionTarget) domain.TransferDirection {
	sourceCustodial := source.Kind() == domain.KindCustodial

	targetCustodial := true
	if acct, ok := target.(domain.Account); ok {
		targetCustodial = acct.Kind() == domain.KindCustodial
	}

	switch {
	case sourceCustodial && targetCustodial:
		return domain.DirectionInternal
	case sourceCustodial && !targetCustodial:
		return domain.DirectionToUserKey
	case !sourceCustodial && targetCustodial:
		return domain.DirectionFromUserKey
	default:
		return domain.DirectionOnChain
	}
}
