package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/btree"

	"stanksmarket/internal/market"
)

// DefaultSeriesCap keeps roughly a day of 30s ticks per symbol.
const DefaultSeriesCap = 2880

func pointLess(a, b market.PricePoint) bool {
	if !a.At.Equal(b.At) {
		return a.At.Before(b.At)
	}
	return a.PriceMicros < b.PriceMicros
}

// Memory is a thread-safe in-process market.Store. Price series are kept
// per symbol in a B-tree ordered by time so chart reads are range scans.
type Memory struct {
	mu         sync.RWMutex
	stocks     map[string]*market.BotStock
	ipos       map[string]*market.PlayerIPO // id → ipo
	indices    map[string]*market.MarketIndex
	events     map[string]market.ActiveEvent // id → live event
	eventLog   []market.ActiveEvent
	halts      map[string]market.Halt
	marketHalt *market.Halt
	lastHalt   time.Time
	series     map[string]*btree.BTreeG[market.PricePoint]
	seriesCap  int
	awards     []market.IPOResult

	fault func(op, key string) error
}

func NewMemory() *Memory {
	return &Memory{
		stocks:    make(map[string]*market.BotStock),
		ipos:      make(map[string]*market.PlayerIPO),
		indices:   make(map[string]*market.MarketIndex),
		events:    make(map[string]market.ActiveEvent),
		halts:     make(map[string]market.Halt),
		series:    make(map[string]*btree.BTreeG[market.PricePoint]),
		seriesCap: DefaultSeriesCap,
	}
}

// InjectFault makes every write consult fn first; a non-nil error fails
// the write without side effects. Passing nil clears the hook.
func (m *Memory) InjectFault(fn func(op, key string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = fn
}

func (m *Memory) check(op, key string) error {
	if m.fault == nil {
		return nil
	}
	return m.fault(op, key)
}

func (m *Memory) Snapshot(ctx context.Context) (market.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return market.Snapshot{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var snap market.Snapshot
	for _, s := range m.stocks {
		snap.Stocks = append(snap.Stocks, s.Clone())
	}
	sort.Slice(snap.Stocks, func(i, j int) bool {
		if snap.Stocks[i].SortOrder != snap.Stocks[j].SortOrder {
			return snap.Stocks[i].SortOrder < snap.Stocks[j].SortOrder
		}
		return snap.Stocks[i].State.Symbol < snap.Stocks[j].State.Symbol
	})
	for _, p := range m.ipos {
		if p.State.IsActive {
			snap.IPOs = append(snap.IPOs, p.Clone())
		}
	}
	sort.Slice(snap.IPOs, func(i, j int) bool { return snap.IPOs[i].State.Symbol < snap.IPOs[j].State.Symbol })
	for _, ix := range m.indices {
		snap.Indices = append(snap.Indices, ix.Clone())
	}
	sort.Slice(snap.Indices, func(i, j int) bool { return snap.Indices[i].Symbol < snap.Indices[j].Symbol })
	for _, ev := range m.events {
		snap.Events = append(snap.Events, ev)
	}
	sort.Slice(snap.Events, func(i, j int) bool {
		if !snap.Events[i].ActivatedAt.Equal(snap.Events[j].ActivatedAt) {
			return snap.Events[i].ActivatedAt.Before(snap.Events[j].ActivatedAt)
		}
		return snap.Events[i].ID < snap.Events[j].ID
	})
	for _, h := range m.halts {
		snap.Halts = append(snap.Halts, h)
	}
	sort.Slice(snap.Halts, func(i, j int) bool { return snap.Halts[i].Symbol < snap.Halts[j].Symbol })
	if m.marketHalt != nil {
		h := *m.marketHalt
		snap.MarketHalt = &h
	}
	snap.LastMarketHaltAt = m.lastHalt
	return snap, nil
}

func (m *Memory) ApplyInstrument(ctx context.Context, d market.InstrumentDelta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("instrument", d.Symbol); err != nil {
		return err
	}

	var q *market.Quote
	var ipo *market.PlayerIPO
	switch d.Kind {
	case market.KindPlayerIPO:
		ipo = m.activeIPO(d.Symbol)
		if ipo == nil {
			return fmt.Errorf("apply %s: %w", d.Symbol, market.ErrInstrumentNotFound)
		}
		q = &ipo.State
	default:
		s, ok := m.stocks[d.Symbol]
		if !ok {
			return fmt.Errorf("apply %s: %w", d.Symbol, market.ErrInstrumentNotFound)
		}
		q = &s.State
	}

	if d.Quote != nil {
		*q = *d.Quote
	}
	if d.HaltChanged {
		if d.Halt == nil {
			delete(m.halts, d.Symbol)
		} else {
			m.halts[d.Symbol] = *d.Halt
		}
	}
	if d.Sample != nil {
		m.appendSeries(d.Symbol, *d.Sample)
		if ipo != nil {
			ipo.PriceHistory = market.AppendHistory(ipo.PriceHistory, *d.Sample)
		}
	}
	if d.Event != nil && ipo != nil {
		ipo.ActiveEventSlug = d.Event.Slug
		ipo.EventExpiresAt = nil
		if d.Event.ExpiresAt != nil {
			t := *d.Event.ExpiresAt
			ipo.EventExpiresAt = &t
		}
	}
	return nil
}

func (m *Memory) ApplyIndex(ctx context.Context, d market.IndexDelta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("index", d.Index.Symbol); err != nil {
		return err
	}
	m.indices[d.Index.Symbol] = d.Index.Clone()
	return nil
}

func (m *Memory) RecordEvents(ctx context.Context, activated, expired []market.ActiveEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("events", ""); err != nil {
		return err
	}
	for _, ev := range expired {
		if _, ok := m.events[ev.ID]; ok {
			delete(m.events, ev.ID)
			m.eventLog = append(m.eventLog, ev)
		}
	}
	for _, ev := range activated {
		m.events[ev.ID] = ev
	}
	return nil
}

func (m *Memory) SetMarketHalt(ctx context.Context, h *market.Halt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("market_halt", ""); err != nil {
		return err
	}
	if h == nil {
		m.marketHalt = nil
		return nil
	}
	c := *h
	m.marketHalt = &c
	if c.HaltedAt.After(m.lastHalt) {
		m.lastHalt = c.HaltedAt
	}
	return nil
}

func (m *Memory) CreateIPO(ctx context.Context, ipo *market.PlayerIPO) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("create_ipo", ipo.State.Symbol); err != nil {
		return err
	}
	for _, p := range m.ipos {
		if !p.State.IsActive {
			continue
		}
		if p.OwnerUserID == ipo.OwnerUserID {
			return market.ErrIPOAlreadyActive
		}
		if p.State.Symbol == ipo.State.Symbol {
			return fmt.Errorf("ticker %s already active: %w", ipo.State.Symbol, market.ErrInvalidSymbol)
		}
	}
	if _, ok := m.stocks[ipo.State.Symbol]; ok {
		return fmt.Errorf("ticker %s already listed: %w", ipo.State.Symbol, market.ErrInvalidSymbol)
	}
	m.ipos[ipo.ID] = ipo.Clone()
	for _, p := range ipo.PriceHistory {
		m.appendSeries(ipo.State.Symbol, p)
	}
	return nil
}

func (m *Memory) RetireIPO(ctx context.Context, res market.IPOResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("retire", res.Symbol); err != nil {
		return err
	}
	p, ok := m.ipos[res.IPOID]
	if !ok {
		return market.ErrIPONotFound
	}
	p.State.IsActive = false
	p.PotentialPoints = res.PotentialPoints
	p.Delisted = res.Delisted
	p.ActiveEventSlug = ""
	p.EventExpiresAt = nil
	delete(m.halts, p.State.Symbol)
	return nil
}

// IPO prefers the active holder of a ticker, then the most recent one.
func (m *Memory) IPO(ctx context.Context, symbol string) (*market.PlayerIPO, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p := m.activeIPO(symbol); p != nil {
		return p.Clone(), nil
	}
	var best *market.PlayerIPO
	for _, p := range m.ipos {
		if p.State.Symbol != symbol {
			continue
		}
		if best == nil || p.StartsAt.After(best.StartsAt) {
			best = p
		}
	}
	if best == nil {
		return nil, market.ErrIPONotFound
	}
	return best.Clone(), nil
}

func (m *Memory) PriceSeries(ctx context.Context, symbol string, since time.Time, limit int) ([]market.PricePoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []market.PricePoint{}
	tree, ok := m.series[symbol]
	if !ok {
		return out, nil
	}
	tree.AscendGreaterOrEqual(market.PricePoint{At: since}, func(p market.PricePoint) bool {
		out = append(out, p)
		return true
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Seed inserts stocks and indices that are not already present.
func (m *Memory) Seed(ctx context.Context, stocks []*market.BotStock, indices []*market.MarketIndex) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range stocks {
		if _, ok := m.stocks[s.State.Symbol]; ok {
			continue
		}
		m.stocks[s.State.Symbol] = s.Clone()
		m.appendSeries(s.State.Symbol, market.PricePoint{At: s.State.LastTickAt, PriceMicros: s.State.CurrentPriceMicros})
	}
	for _, ix := range indices {
		if _, ok := m.indices[ix.Symbol]; ok {
			continue
		}
		m.indices[ix.Symbol] = ix.Clone()
	}
	return nil
}

// AwardIPO records the reward hand-off so callers can inspect it.
func (m *Memory) AwardIPO(ctx context.Context, res market.IPOResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.awards = append(m.awards, res)
	return nil
}

func (m *Memory) Awards() []market.IPOResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]market.IPOResult(nil), m.awards...)
}

// EventLog returns expired events in expiry order.
func (m *Memory) EventLog() []market.ActiveEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]market.ActiveEvent(nil), m.eventLog...)
}

func (m *Memory) activeIPO(symbol string) *market.PlayerIPO {
	for _, p := range m.ipos {
		if p.State.Symbol == symbol && p.State.IsActive {
			return p
		}
	}
	return nil
}

func (m *Memory) appendSeries(symbol string, p market.PricePoint) {
	const degree = 16
	tree, ok := m.series[symbol]
	if !ok {
		tree = btree.NewG[market.PricePoint](degree, pointLess)
		m.series[symbol] = tree
	}
	tree.ReplaceOrInsert(p)
	for m.seriesCap > 0 && tree.Len() > m.seriesCap {
		tree.DeleteMin()
	}
}
