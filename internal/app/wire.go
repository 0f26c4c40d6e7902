package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/synthex/internal/blob/s3"
	"github.com/alanyoungcy/synthex/internal/cache/redis"
	"github.com/alanyoungcy/synthex/internal/config"
	"github.com/alanyoungcy/synthex/internal/crypto"
	"github.com/alanyoungcy/synthex/internal/domain"
	"github.com/alanyoungcy/synthex/internal/history"
	"github.com/alanyoungcy/synthex/internal/ledger"
	"github.com/alanyoungcy/synthex/internal/metadata"
	"github.com/alanyoungcy/synthex/internal/notify"
	"github.com/alanyoungcy/synthex/internal/orchestrator"
	"github.com/alanyoungcy/synthex/internal/positions"
	"github.com/alanyoungcy/synthex/internal/risk"
	"github.com/alanyoungcy/synthex/internal/store/postgres"
)

// Dependencies bundles everything the modes need. Optional infrastructure
// (postgres, redis, s3) leaves its fields nil when disabled; interface fields
// are only assigned when a concrete value exists.
type Dependencies struct {
	// Ledger
	Ledger *ethclient.Client
	Reader *ledger.Reader
	// Session is nil when no wallet is configured, read-only with an
	// address only, and signing with a key.
	Session *orchestrator.Session

	// Core
	Resolver     *metadata.Resolver
	Reconciler   *positions.Reconciler
	History      *history.Index
	Orchestrator *orchestrator.Orchestrator

	// Stores
	Postgres       *postgres.Client
	MarketStore    domain.MarketStore
	ExecutionStore domain.ExecutionStore
	AuditStore     domain.AuditStore

	// Caches
	Redis         *redis.Client
	MarketCache   domain.MarketCache
	SnapshotCache domain.SnapshotCache
	RateLimiter   domain.RateLimiter
	SignalBus     domain.SignalBus

	// Blob storage
	S3      *s3blob.Client
	Journal domain.Journal

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- Ledger ---
	client, err := ledger.Dial(ctx, cfg.Ledger.RPCURL, cfg.Ledger.ChainID)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	closers = append(closers, client.Close)
	deps.Ledger = client
	deps.Reader = ledger.NewReader(client, cfg.Ledger.LogChunkSize, logger)

	session, err := buildSession(cfg, client, logger)
	if err != nil {
		return fail(err)
	}
	deps.Session = session

	// --- PostgreSQL ---
	if cfg.Supabase.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.Postgres = pgClient
		deps.ExecutionStore = postgres.NewExecutionStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		if strings.EqualFold(cfg.Metadata.Source, "postgres") {
			deps.MarketStore = postgres.NewMarketStore(pool)
		}
	}
	if deps.MarketStore == nil {
		deps.MarketStore = metadata.NewStaticStore(cfg.Catalogue())
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Redis = redisClient
		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Metadata.CacheTTL.Duration)
		deps.SnapshotCache = redis.NewSnapshotCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	// --- S3 execution journal ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.S3 = s3Client

		var source s3blob.ExecutionSource
		if deps.ExecutionStore != nil {
			source = deps.ExecutionStore
		}
		deps.Journal = s3blob.NewJournal(s3blob.NewStore(s3Client), source, deps.AuditStore)
	}

	// --- Metadata, positions, history ---
	var cache domain.MarketCache
	if deps.MarketCache != nil {
		cache = deps.MarketCache
	}
	deps.Resolver = metadata.NewResolver(deps.MarketStore, cache, logger)
	deps.Reconciler = positions.NewReconciler(deps.Reader, logger)

	var querier history.Querier
	if cfg.History.GraphQLURL != "" {
		querier = history.NewClient(cfg.History.GraphQLURL, cfg.History.APIKey, cfg.History.Timeout.Duration)
	}
	deps.History = history.NewIndex(querier, logger)

	// --- Orchestrator ---
	deps.Orchestrator = orchestrator.New(orchestratorConfig(cfg), orchestrator.Deps{
		Reader:    deps.Reader,
		Markets:   deps.Resolver,
		Positions: deps.Reconciler,
		History:   deps.History,
		Snapshots: deps.SnapshotCache,
	}, logger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// buildSession returns a signing session when a key is configured, a
// read-only one for a bare address, and nil otherwise.
func buildSession(cfg *config.Config, client *ethclient.Client, logger *slog.Logger) (*orchestrator.Session, error) {
	if !cfg.Wallet.HasKey() {
		if cfg.Wallet.Address == "" {
			return nil, nil
		}
		return orchestrator.ReadOnlySession(common.HexToAddress(cfg.Wallet.Address)), nil
	}

	signer, err := crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: signer: %w", err)
	}
	if cfg.Wallet.Address != "" && common.HexToAddress(cfg.Wallet.Address) != signer.Address() {
		return nil, fmt.Errorf("wire: wallet address %s does not match the signing key (%s)",
			cfg.Wallet.Address, signer.Address().Hex())
	}

	writer := ledger.NewWriter(client, signer, big.NewInt(cfg.Ledger.ChainID), ledger.WriterConfig{
		GasLimitBufferPct: int64(cfg.Ledger.GasLimitBufferPct),
		GasPriceBumpPct:   int64(cfg.Ledger.GasPriceBumpPct),
		ConfirmTimeout:    cfg.Ledger.ConfirmTimeout.Duration,
		ReceiptPoll:       cfg.Ledger.ReceiptPoll.Duration,
	}, logger)
	return orchestrator.NewSession(writer, crypto.NewPermitSigner(signer)), nil
}

// orchestratorConfig maps the trading section onto the orchestrator.
func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	oc.MinLeverage = cfg.Trading.MinLeverage
	oc.MaxLeverage = cfg.Trading.MaxLeverage
	oc.PermitTTL = cfg.Trading.PermitTTL.Duration
	oc.Production = cfg.Trading.Production
	oc.InvalidationGrace = cfg.Trading.InvalidationGrace.Duration
	if poll := cfg.Trading.PollInterval.Duration; poll > 0 {
		oc.SnapshotMaxAge = 2 * poll
	}
	oc.Thresholds = risk.Thresholds{
		High:   decimal.NewFromFloat(cfg.Trading.RiskHighPct),
		Medium: decimal.NewFromFloat(cfg.Trading.RiskMediumPct),
	}
	return oc
}
