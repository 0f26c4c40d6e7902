// Package metadata resolves market slugs to descriptive metadata and the
// ledger contracts behind them, through an optional cache in front of a
// backing store.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/synthex/internal/domain"
)

// Resolver reads markets through the cache, falling back to the store.
type Resolver struct {
	store  domain.MarketStore
	cache  domain.MarketCache
	logger *slog.Logger
}

// NewResolver wires a resolver. cache may be nil.
func NewResolver(store domain.MarketStore, cache domain.MarketCache, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  store,
		cache:  cache,
		logger: logger.With(slog.String("component", "metadata")),
	}
}

// Resolve returns the market with its contracts. A slug the store does not
// know, or one without a complete contract set, yields a MARKET_NOT_FOUND
// TradeError; store failures yield NETWORK.
func (r *Resolver) Resolve(ctx context.Context, slug string) (domain.Market, error) {
	if slug == "" {
		return domain.Market{}, domain.Preflight(domain.CodeUnsupported, "market slug is required")
	}

	if r.cache != nil {
		m, err := r.cache.Get(ctx, slug)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Debug("metadata: cache read failed", slog.String("slug", slug), slog.String("error", err.Error()))
		}
	}

	md, err := r.store.GetMetadata(ctx, slug)
	if err != nil {
		return domain.Market{}, storeError(err, "market "+slug+" not found")
	}
	contracts, err := r.GetMarketContractInfo(ctx, md.ID)
	if err != nil {
		return domain.Market{}, err
	}

	m := domain.Market{MarketMetadata: md, Contracts: contracts}
	if r.cache != nil {
		if err := r.cache.Set(ctx, m); err != nil {
			r.logger.Warn("metadata: cache write failed", slog.String("slug", slug), slog.String("error", err.Error()))
		}
	}
	return m, nil
}

// GetMarketMetadata never fails: when the store cannot answer it returns a
// placeholder named after the slug so views still render.
func (r *Resolver) GetMarketMetadata(ctx context.Context, slug string) domain.MarketMetadata {
	if r.cache != nil {
		if m, err := r.cache.Get(ctx, slug); err == nil {
			return m.MarketMetadata
		}
	}
	md, err := r.store.GetMetadata(ctx, slug)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("metadata: degraded to defaults", slog.String("slug", slug), slog.String("error", err.Error()))
		}
		return DefaultMetadata(slug)
	}
	return md
}

// GetMarketContractInfo returns the ledger contracts for a market id. Ledger
// work cannot proceed without them, so absence is a MARKET_NOT_FOUND error.
func (r *Resolver) GetMarketContractInfo(ctx context.Context, marketID string) (domain.Contracts, error) {
	c, err := r.store.GetContracts(ctx, marketID)
	if err != nil {
		return domain.Contracts{}, storeError(err, "no contracts for market "+marketID)
	}
	if !c.Valid() {
		return domain.Contracts{}, domain.Preflight(domain.CodeMarketNotFound,
			fmt.Sprintf("market %s has an incomplete contract set", marketID))
	}
	return c, nil
}

// List returns every market the store knows about.
func (r *Resolver) List(ctx context.Context) ([]domain.Market, error) {
	markets, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("metadata: list: %w", err)
	}
	return markets, nil
}

// Invalidate drops the cached entry for slug.
func (r *Resolver) Invalidate(ctx context.Context, slug string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Invalidate(ctx, slug); err != nil {
		r.logger.Warn("metadata: cache invalidate failed", slog.String("slug", slug), slog.String("error", err.Error()))
	}
}

// DefaultMetadata is the placeholder used when the store has no record.
func DefaultMetadata(slug string) domain.MarketMetadata {
	return domain.MarketMetadata{ID: slug, Slug: slug, Name: slug}
}

func storeError(err error, notFoundMsg string) error {
	if errors.Is(err, domain.ErrNotFound) {
		te := domain.Preflight(domain.CodeMarketNotFound, notFoundMsg)
		te.Cause = err
		return te
	}
	return &domain.TradeError{
		Kind:    domain.KindConnectivity,
		Code:    domain.CodeNetwork,
		Message: "metadata store unavailable",
		Cause:   err,
	}
}
