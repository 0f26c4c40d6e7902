// Package config defines synthex's configuration tree, its defaults and
// validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/synthex/internal/domain"
)

// Config is the root configuration. Fields come from a TOML file merged over
// Defaults and are then overridden by SYNTHEX_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Trading  TradingConfig  `toml:"trading"`
	Metadata MetadataConfig `toml:"metadata"`
	Markets  []MarketConfig `toml:"markets"`
	History  HistoryConfig  `toml:"history"`
	Supabase SupabaseConfig `toml:"supabase"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the signing key. Address alone gives a read-only
// session (views and the positions mode work, trades fail with NO_SIGNER).
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	Address          string `toml:"address"`
}

// HasKey reports whether a signing key source is configured.
func (w WalletConfig) HasKey() bool {
	return w.PrivateKey != "" || w.EncryptedKeyPath != ""
}

// LedgerConfig holds the RPC endpoint and transaction submission tuning.
type LedgerConfig struct {
	RPCURL  string `toml:"rpc_url"`
	ChainID int64  `toml:"chain_id"`
	// LogChunkSize splits event scans into windows of this many blocks. Zero
	// scans from the deployment block to head in one request.
	LogChunkSize      uint64   `toml:"log_chunk_size"`
	GasLimitBufferPct int      `toml:"gas_limit_buffer_pct"`
	GasPriceBumpPct   int      `toml:"gas_price_bump_pct"`
	ConfirmTimeout    duration `toml:"confirm_timeout"`
	ReceiptPoll       duration `toml:"receipt_poll"`
}

// TradingConfig holds client-side trade validation and refresh cadence.
type TradingConfig struct {
	MinLeverage int64    `toml:"min_leverage"`
	MaxLeverage int64    `toml:"max_leverage"`
	PermitTTL   duration `toml:"permit_ttl"`
	// Production signs permits for the exact shortfall. Outside production the
	// permit value is the maximum uint256 so repeated test trades reuse it.
	Production        bool     `toml:"production"`
	InvalidationGrace duration `toml:"invalidation_grace"`
	PollInterval      duration `toml:"poll_interval"`
	RiskHighPct       float64  `toml:"risk_high_pct"`
	RiskMediumPct     float64  `toml:"risk_medium_pct"`
}

// MetadataConfig selects where market metadata and contracts come from.
type MetadataConfig struct {
	Source   string   `toml:"source"`
	CacheTTL duration `toml:"cache_ttl"`
}

// MarketConfig is one entry of the static market catalogue.
type MarketConfig struct {
	ID               string `toml:"id"`
	Slug             string `toml:"slug"`
	Name             string `toml:"name"`
	Description      string `toml:"description"`
	Category         string `toml:"category"`
	ImageURL         string `toml:"image_url"`
	Engine           string `toml:"engine"`
	VAMM             string `toml:"vamm"`
	PositionRegistry string `toml:"position_registry"`
	ChainID          int64  `toml:"chain_id"`
	DeploymentBlock  uint64 `toml:"deployment_block"`
}

// HistoryConfig points at the GraphQL history index.
type HistoryConfig struct {
	GraphQLURL string   `toml:"graphql_url"`
	APIKey     string   `toml:"api_key"`
	Timeout    duration `toml:"timeout"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds object storage parameters for the execution journal.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// ExportAfterDays triggers a daily JSONL export of executions older than
	// this many days. Zero disables the export loop.
	ExportAfterDays int `toml:"export_after_days"`
}

// duration wraps time.Duration so TOML strings like "3s" decode.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns the built-in configuration; config.example.toml mirrors it.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			RPCURL:            "http://localhost:8545",
			ChainID:           31337,
			GasLimitBufferPct: 20,
			GasPriceBumpPct:   10,
			ReceiptPoll:       duration{2 * time.Second},
		},
		Trading: TradingConfig{
			MinLeverage:       1,
			MaxLeverage:       10,
			PermitTTL:         duration{20 * time.Minute},
			InvalidationGrace: duration{2 * time.Second},
			PollInterval:      duration{3 * time.Second},
			RiskHighPct:       5,
			RiskMediumPct:     15,
		},
		Metadata: MetadataConfig{
			Source:   "static",
			CacheTTL: duration{5 * time.Minute},
		},
		History: HistoryConfig{
			Timeout: duration{10 * time.Second},
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "synthex-journal",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "execution_failed", "liquidation_risk"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server":    true,
	"watch":     true,
	"positions": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSources = map[string]bool{
	"static":   true,
	"postgres": true,
}

// Validate checks c and returns one error listing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: server, watch, positions)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Wallet
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		add("wallet: key_password is required when encrypted_key_path is set")
	}
	if c.Wallet.Address != "" && !common.IsHexAddress(c.Wallet.Address) {
		add("wallet: address %q is not a hex address", c.Wallet.Address)
	}
	if strings.EqualFold(c.Mode, "positions") && !c.Wallet.HasKey() && c.Wallet.Address == "" {
		add("wallet: positions mode needs private_key, encrypted_key_path or address")
	}

	// Ledger
	if c.Ledger.RPCURL == "" {
		add("ledger: rpc_url must not be empty")
	}
	if c.Ledger.ChainID <= 0 {
		add("ledger: chain_id must be positive")
	}
	if c.Ledger.GasLimitBufferPct < 0 || c.Ledger.GasPriceBumpPct < 0 {
		add("ledger: gas_limit_buffer_pct and gas_price_bump_pct must be >= 0")
	}
	if c.Ledger.ConfirmTimeout.Duration < 0 {
		add("ledger: confirm_timeout must be >= 0 (0 waits indefinitely)")
	}

	// Trading
	if c.Trading.MinLeverage < 1 {
		add("trading: min_leverage must be >= 1")
	}
	if c.Trading.MaxLeverage < c.Trading.MinLeverage {
		add("trading: max_leverage must be >= min_leverage")
	}
	if c.Trading.PermitTTL.Duration <= 0 {
		add("trading: permit_ttl must be > 0")
	}
	if c.Trading.PollInterval.Duration <= 0 {
		add("trading: poll_interval must be > 0")
	}
	if c.Trading.InvalidationGrace.Duration < 0 {
		add("trading: invalidation_grace must be >= 0")
	}
	if c.Trading.RiskHighPct <= 0 || c.Trading.RiskMediumPct <= c.Trading.RiskHighPct {
		add("trading: need 0 < risk_high_pct < risk_medium_pct")
	}

	// Metadata and the static catalogue
	source := strings.ToLower(c.Metadata.Source)
	if !validSources[source] {
		add("metadata: unknown source %q (valid: static, postgres)", c.Metadata.Source)
	}
	if source == "postgres" && !c.Supabase.Enabled {
		add("metadata: source postgres requires supabase.enabled")
	}
	seen := make(map[string]bool, len(c.Markets))
	for i, m := range c.Markets {
		if m.Slug == "" {
			add("markets[%d]: slug must not be empty", i)
			continue
		}
		if seen[m.Slug] {
			add("markets[%d]: duplicate slug %q", i, m.Slug)
		}
		seen[m.Slug] = true
		for field, addr := range map[string]string{
			"engine":            m.Engine,
			"vamm":              m.VAMM,
			"position_registry": m.PositionRegistry,
		} {
			if !common.IsHexAddress(addr) {
				add("markets[%d] %s: %s is not a hex address", i, m.Slug, field)
			}
		}
	}

	// Supabase
	if c.Supabase.Enabled {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				add("supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				add("supabase: port must be 1-65535, got %d", c.Supabase.Port)
			}
			if c.Supabase.Database == "" {
				add("supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			add("supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 || c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			add("supabase: pool_min_conns must be within 0..pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			add("s3: region must not be empty")
		}
		if c.S3.ExportAfterDays > 0 && !c.Supabase.Enabled {
			add("s3: export_after_days requires supabase.enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			add("server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ToDomain converts a catalogue entry. The id defaults to the slug and the
// chain id to the ledger's.
func (m MarketConfig) ToDomain(defaultChainID int64) domain.Market {
	id := m.ID
	if id == "" {
		id = m.Slug
	}
	chainID := m.ChainID
	if chainID == 0 {
		chainID = defaultChainID
	}
	return domain.Market{
		MarketMetadata: domain.MarketMetadata{
			ID:          id,
			Slug:        m.Slug,
			Name:        m.Name,
			Description: m.Description,
			Category:    m.Category,
			ImageURL:    m.ImageURL,
		},
		Contracts: domain.Contracts{
			Engine:           common.HexToAddress(m.Engine),
			VAMM:             common.HexToAddress(m.VAMM),
			PositionRegistry: common.HexToAddress(m.PositionRegistry),
			ChainID:          chainID,
			DeploymentBlock:  m.DeploymentBlock,
		},
	}
}

// Catalogue converts every configured market.
func (c *Config) Catalogue() []domain.Market {
	out := make([]domain.Market, 0, len(c.Markets))
	for _, m := range c.Markets {
		out = append(out, m.ToDomain(c.Ledger.ChainID))
	}
	return out
}
