package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/synthex/internal/domain"
	"github.com/alanyoungcy/synthex/internal/ledger"
)

// StateReader fans market reads out. *ledger.Reader satisfies it.
type StateReader interface {
	ReadMarketStates(ctx context.Context, refs []ledger.MarketRef) []ledger.MarketStateResult
}

// SnapshotMessage is the payload published on domain.MarketChannel.
type SnapshotMessage struct {
	Type  string             `json:"type"`
	Slug  string             `json:"slug"`
	Seq   uint64             `json:"seq"`
	State domain.MarketState `json:"state"`
}

// PollerConfig configures a Poller. Cache and Bus are optional.
type PollerConfig struct {
	Interval time.Duration
	// ReadTimeout bounds one tick's reads. Zero uses twice the interval.
	ReadTimeout time.Duration
	Cache       domain.SnapshotCache
	Bus         domain.SignalBus
	// OnState, when set, receives every accepted snapshot.
	OnState func(domain.MarketState)
}

type watchEntry struct {
	ref    ledger.MarketRef
	gen    uint64
	landed uint64 // seq of the newest tick applied
}

// Poller reads the watched markets every interval. Reads are not aborted by
// Unwatch or by Run returning; each result carries its tick sequence and is
// dropped if the poller has stopped, the market is no longer watched under
// the same generation, or a newer tick has already landed.
type Poller struct {
	reader StateReader
	cfg    PollerConfig
	logger *slog.Logger

	mu      sync.Mutex
	watched map[string]*watchEntry
	latest  map[string]domain.MarketState
	seq     uint64
	gen     uint64
	stopped bool
	wg      sync.WaitGroup
}

// NewPoller creates a Poller.
func NewPoller(reader StateReader, cfg PollerConfig, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 2 * cfg.Interval
	}
	return &Poller{
		reader:  reader,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "market_poller")),
		watched: make(map[string]*watchEntry),
		latest:  make(map[string]domain.MarketState),
	}
}

// Watch adds market to the poll set. Re-watching starts a new generation so
// results from an earlier watch are never applied.
func (p *Poller) Watch(market domain.Market) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	p.watched[market.Slug] = &watchEntry{
		ref: ledger.MarketRef{Slug: market.Slug, Contracts: market.Contracts},
		gen: p.gen,
	}
}

// Unwatch removes slug and forgets its last state.
func (p *Poller) Unwatch(slug string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.watched, slug)
	delete(p.latest, slug)
}

// Watched returns the watched slugs in order.
func (p *Poller) Watched() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.watched))
	for slug := range p.watched {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

// Latest returns the newest accepted state for slug.
func (p *Poller) Latest(slug string) (domain.MarketState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.latest[slug]
	return st, ok
}

// Run ticks until ctx is cancelled. The first tick fires immediately. Reads
// still in flight when Run returns are discarded; Wait drains them.
func (p *Poller) Run(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = false
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()
	}()

	p.logger.Info("poller: started", slog.Duration("interval", p.cfg.Interval))
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller: stopped")
			return nil
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// Wait blocks until in-flight reads have been applied or dropped.
func (p *Poller) Wait() { p.wg.Wait() }

// tick dispatches one round of reads without waiting for them.
func (p *Poller) tick(ctx context.Context) {
	p.mu.Lock()
	if len(p.watched) == 0 {
		p.mu.Unlock()
		return
	}
	p.seq++
	seq := p.seq
	refs := make([]ledger.MarketRef, 0, len(p.watched))
	gens := make(map[string]uint64, len(p.watched))
	for slug, w := range p.watched {
		refs = append(refs, w.ref)
		gens[slug] = w.gen
	}
	p.mu.Unlock()

	readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.ReadTimeout)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		results := p.reader.ReadMarketStates(readCtx, refs)
		p.apply(readCtx, seq, gens, results)
	}()
}

// apply commits the results of tick seq that are still live.
func (p *Poller) apply(ctx context.Context, seq uint64, gens map[string]uint64, results []ledger.MarketStateResult) {
	var accepted []domain.MarketState

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.logger.Debug("poller: dropping results after stop", slog.Uint64("seq", seq))
		return
	}
	for _, r := range results {
		if r.Err != nil {
			p.logger.Warn("poller: market read failed",
				slog.String("market", r.Slug),
				slog.Uint64("seq", seq),
				slog.String("error", r.Err.Error()),
			)
			continue
		}
		w, ok := p.watched[r.Slug]
		if !ok || w.gen != gens[r.Slug] || w.landed >= seq {
			p.logger.Debug("poller: dropping stale result",
				slog.String("market", r.Slug),
				slog.Uint64("seq", seq),
			)
			continue
		}
		w.landed = seq
		p.latest[r.Slug] = r.State
		accepted = append(accepted, r.State)
	}
	p.mu.Unlock()

	for _, st := range accepted {
		p.publish(ctx, seq, st)
	}
}

func (p *Poller) publish(ctx context.Context, seq uint64, st domain.MarketState) {
	if p.cfg.Cache != nil {
		if err := p.cfg.Cache.SetState(ctx, st, 2*p.cfg.Interval); err != nil {
			p.logger.Warn("poller: snapshot cache write failed",
				slog.String("market", st.Slug),
				slog.String("error", err.Error()),
			)
		}
	}
	if p.cfg.Bus != nil {
		payload, err := json.Marshal(SnapshotMessage{Type: "snapshot", Slug: st.Slug, Seq: seq, State: st})
		if err == nil {
			err = p.cfg.Bus.Publish(ctx, domain.MarketChannel(st.Slug), payload)
		}
		if err != nil {
			p.logger.Warn("poller: publish failed",
				slog.String("market", st.Slug),
				slog.String("error", err.Error()),
			)
		}
	}
	if p.cfg.OnState != nil {
		p.cfg.OnState(st)
	}
}
