package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults, loads a .env file when one
// exists and applies SYNTHEX_* overrides. An empty path skips the file. The
// result is not validated; call Config.Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose SYNTHEX_* variable is set and
// non-empty, so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "SYNTHEX_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "SYNTHEX_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "SYNTHEX_WALLET_KEY_PASSWORD")
	setStr(&cfg.Wallet.Address, "SYNTHEX_WALLET_ADDRESS")

	// ── Ledger ──
	setStr(&cfg.Ledger.RPCURL, "SYNTHEX_LEDGER_RPC_URL")
	setInt64(&cfg.Ledger.ChainID, "SYNTHEX_LEDGER_CHAIN_ID")
	setUint64(&cfg.Ledger.LogChunkSize, "SYNTHEX_LEDGER_LOG_CHUNK_SIZE")
	setInt(&cfg.Ledger.GasLimitBufferPct, "SYNTHEX_LEDGER_GAS_LIMIT_BUFFER_PCT")
	setInt(&cfg.Ledger.GasPriceBumpPct, "SYNTHEX_LEDGER_GAS_PRICE_BUMP_PCT")
	setDuration(&cfg.Ledger.ConfirmTimeout, "SYNTHEX_LEDGER_CONFIRM_TIMEOUT")
	setDuration(&cfg.Ledger.ReceiptPoll, "SYNTHEX_LEDGER_RECEIPT_POLL")

	// ── Trading ──
	setInt64(&cfg.Trading.MinLeverage, "SYNTHEX_TRADING_MIN_LEVERAGE")
	setInt64(&cfg.Trading.MaxLeverage, "SYNTHEX_TRADING_MAX_LEVERAGE")
	setDuration(&cfg.Trading.PermitTTL, "SYNTHEX_TRADING_PERMIT_TTL")
	setBool(&cfg.Trading.Production, "SYNTHEX_TRADING_PRODUCTION")
	setDuration(&cfg.Trading.InvalidationGrace, "SYNTHEX_TRADING_INVALIDATION_GRACE")
	setDuration(&cfg.Trading.PollInterval, "SYNTHEX_TRADING_POLL_INTERVAL")
	setFloat64(&cfg.Trading.RiskHighPct, "SYNTHEX_TRADING_RISK_HIGH_PCT")
	setFloat64(&cfg.Trading.RiskMediumPct, "SYNTHEX_TRADING_RISK_MEDIUM_PCT")

	// ── Metadata ──
	setStr(&cfg.Metadata.Source, "SYNTHEX_METADATA_SOURCE")
	setDuration(&cfg.Metadata.CacheTTL, "SYNTHEX_METADATA_CACHE_TTL")

	// ── History ──
	setStr(&cfg.History.GraphQLURL, "SYNTHEX_HISTORY_GRAPHQL_URL")
	setStr(&cfg.History.APIKey, "SYNTHEX_HISTORY_API_KEY")
	setDuration(&cfg.History.Timeout, "SYNTHEX_HISTORY_TIMEOUT")

	// ── Supabase ──
	setBool(&cfg.Supabase.Enabled, "SYNTHEX_SUPABASE_ENABLED")
	setStr(&cfg.Supabase.DSN, "SYNTHEX_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "SYNTHEX_SUPABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "SYNTHEX_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "SYNTHEX_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "SYNTHEX_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "SYNTHEX_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "SYNTHEX_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "SYNTHEX_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "SYNTHEX_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "SYNTHEX_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "SYNTHEX_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SYNTHEX_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SYNTHEX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SYNTHEX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SYNTHEX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SYNTHEX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SYNTHEX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SYNTHEX_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SYNTHEX_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SYNTHEX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SYNTHEX_S3_REGION")
	setStr(&cfg.S3.Bucket, "SYNTHEX_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SYNTHEX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SYNTHEX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SYNTHEX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SYNTHEX_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.ExportAfterDays, "SYNTHEX_S3_EXPORT_AFTER_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SYNTHEX_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SYNTHEX_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SYNTHEX_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SYNTHEX_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SYNTHEX_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SYNTHEX_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SYNTHEX_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SYNTHEX_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SYNTHEX_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SYNTHEX_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SYNTHEX_MODE")
	setStr(&cfg.LogLevel, "SYNTHEX_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
