package metadata

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/synthex/internal/domain"
)

// StaticStore is an in-memory domain.MarketStore seeded from the config
// catalogue. It serves local chains and deployments without a metadata
// database.
type StaticStore struct {
	mu     sync.RWMutex
	bySlug map[string]domain.Market
	byID   map[string]string
}

// NewStaticStore indexes markets by slug and id. Later entries win.
func NewStaticStore(markets []domain.Market) *StaticStore {
	s := &StaticStore{
		bySlug: make(map[string]domain.Market, len(markets)),
		byID:   make(map[string]string, len(markets)),
	}
	for _, m := range markets {
		s.put(m)
	}
	return s
}

func (s *StaticStore) put(m domain.Market) {
	if m.ID == "" {
		m.ID = m.Slug
	}
	if old, ok := s.bySlug[m.Slug]; ok && old.ID != m.ID {
		delete(s.byID, old.ID)
	}
	s.bySlug[m.Slug] = m
	s.byID[m.ID] = m.Slug
}

// GetMetadata implements domain.MarketStore.
func (s *StaticStore) GetMetadata(_ context.Context, slug string) (domain.MarketMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.bySlug[slug]
	if !ok {
		return domain.MarketMetadata{}, fmt.Errorf("metadata: market %s: %w", slug, domain.ErrNotFound)
	}
	return m.MarketMetadata, nil
}

// GetContracts implements domain.MarketStore.
func (s *StaticStore) GetContracts(_ context.Context, marketID string) (domain.Contracts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slug, ok := s.byID[marketID]
	if !ok {
		return domain.Contracts{}, fmt.Errorf("metadata: contracts for %s: %w", marketID, domain.ErrNotFound)
	}
	return s.bySlug[slug].Contracts, nil
}

// List implements domain.MarketStore, ordered by slug.
func (s *StaticStore) List(_ context.Context) ([]domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Market, 0, len(s.bySlug))
	for _, m := range s.bySlug {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// Upsert implements domain.MarketStore.
func (s *StaticStore) Upsert(_ context.Context, m domain.Market) error {
	if m.Slug == "" {
		return fmt.Errorf("metadata: upsert: empty slug")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(m)
	return nil
}

var _ domain.MarketStore = (*StaticStore)(nil)
