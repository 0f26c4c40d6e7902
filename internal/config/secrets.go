package config

import (
	"net/url"
	"strings"
)

const redacted = "***"

// RedactedConfig returns a copy of cfg that is safe to log. Plain secrets
// become "***"; endpoint URLs keep scheme and host but lose userinfo, query
// and any path, since hosted RPC and indexer URLs carry their API key there.
// Slices are copied so the result cannot alias cfg.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	for _, s := range []*string{
		&out.Wallet.PrivateKey,
		&out.Wallet.KeyPassword,
		&out.History.APIKey,
		&out.Supabase.DSN,
		&out.Supabase.Password,
		&out.Redis.Password,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Server.APIKey,
		&out.Notify.TelegramToken,
		&out.Notify.DiscordWebhookURL,
	} {
		if *s != "" {
			*s = redacted
		}
	}

	out.Ledger.RPCURL = redactURL(out.Ledger.RPCURL)
	out.History.GraphQLURL = redactURL(out.History.GraphQLURL)
	if strings.Contains(out.Redis.Addr, "://") {
		out.Redis.Addr = redactURL(out.Redis.Addr)
	}

	out.Markets = append([]MarketConfig(nil), cfg.Markets...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	return out
}

func redactURL(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return redacted
	}
	base := u.Scheme + "://" + u.Host
	if u.User != nil || u.RawQuery != "" || strings.Trim(u.Path, "/") != "" {
		return base + "/" + redacted
	}
	return base
}
