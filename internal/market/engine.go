package market

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	TickEvery        time.Duration
	Profile          Profile
	Halt             HaltPolicy
	Catalog          []MarketEvent
	EventProbability float64
	IPOWindow        time.Duration
	StoreRetries     int
	RetryDelay       time.Duration
	Workers          int
}

func DefaultConfig() Config {
	p := ProfileFor("mor")
	return Config{
		TickEvery:        30 * time.Second,
		Profile:          p,
		Halt:             DefaultHaltPolicy(),
		Catalog:          DefaultCatalog(),
		EventProbability: p.EventProbability,
		IPOWindow:        DefaultIPOWindow,
		StoreRetries:     3,
		RetryDelay:       75 * time.Millisecond,
		Workers:          4,
	}
}

// TickReport summarises what one tick committed.
type TickReport struct {
	At            time.Time   `json:"at"`
	Skipped       bool        `json:"skipped"`
	Ticked        []string    `json:"ticked"`
	Stale         []string    `json:"stale,omitempty"`
	Halted        []Halt      `json:"halted,omitempty"`
	Resumed       []string    `json:"resumed,omitempty"`
	MarketHalt    *Halt       `json:"market_halt,omitempty"`
	MarketResumed bool        `json:"market_resumed,omitempty"`
	Activated     []EventView `json:"activated,omitempty"`
	Expired       []EventView `json:"expired,omitempty"`
	Indices       []string    `json:"indices,omitempty"`
	Retired       []IPOResult `json:"retired,omitempty"`
}

// Publisher fans a committed tick out to downstream consumers.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, rep TickReport, view *View) error
}

type Option func(*Engine)

func WithRand(r Rand) Option { return func(e *Engine) { e.rng = r } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithMetrics(m *Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithRewardSink(r RewardSink) Option { return func(e *Engine) { e.rewards = r } }

func WithPublisher(p ...Publisher) Option {
	return func(e *Engine) { e.pubs = append(e.pubs, p...) }
}

// Engine is the market clock. It is the only writer of prices, halts,
// events and indices; admin commands take the same lock and so land
// strictly between ticks.
type Engine struct {
	store    Store
	rewards  RewardSink
	log      *slog.Logger
	cfg      Config
	model    PriceModel
	director *EventDirector
	metrics  *Metrics
	pubs     []Publisher
	now      func() time.Time

	mu   sync.Mutex
	rng  Rand
	view atomic.Pointer[View]
}

func NewEngine(store Store, cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TickEvery <= 0 {
		cfg.TickEvery = 30 * time.Second
	}
	if cfg.Profile.Name == "" {
		cfg.Profile = ProfileFor("mor")
	}
	if cfg.Halt.BreakerPct <= 0 {
		cfg.Halt = DefaultHaltPolicy()
	}
	if len(cfg.Catalog) == 0 {
		cfg.Catalog = DefaultCatalog()
	}
	if cfg.EventProbability < 0 {
		cfg.EventProbability = cfg.Profile.EventProbability
	}
	if cfg.IPOWindow <= 0 {
		cfg.IPOWindow = DefaultIPOWindow
	}
	if cfg.StoreRetries < 1 {
		cfg.StoreRetries = 1
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	e := &Engine{
		store:    store,
		log:      logger,
		cfg:      cfg,
		model:    NewPriceModel(cfg.Profile),
		director: NewEventDirector(cfg.Catalog, cfg.EventProbability),
		now:      time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if sink, ok := store.(RewardSink); ok {
		e.rewards = sink
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Config() Config { return e.cfg }

// View returns the last committed read model. It never blocks on a tick.
func (e *Engine) View() *View {
	if v := e.view.Load(); v != nil {
		return v
	}
	return &View{Status: MarketStatus{Profile: e.cfg.Profile.Name}}
}

// Load builds the initial view from the store.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refreshView(ctx, e.now())
}

// Run ticks on the configured period until ctx is cancelled. Cancellation
// is only observed between ticks.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TickEvery)
	defer ticker.Stop()

	e.log.Info("market clock started", "tick_every", e.cfg.TickEvery.String(), "volatility", e.cfg.Profile.Name)
	for {
		select {
		case <-ctx.Done():
			e.log.Info("market clock stopped")
			return nil
		case <-ticker.C:
			_, _ = e.Tick(context.WithoutCancel(ctx), e.now())
		}
	}
}

// Tick advances the market by one step as of now.
func (e *Engine) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	rep, err := e.tick(ctx, now)
	switch {
	case err != nil:
		e.metrics.observeTick(time.Since(start).Seconds(), "error")
		e.log.Error("market tick failed", "err", err)
		return rep, err
	case rep.Skipped:
		e.metrics.observeTick(time.Since(start).Seconds(), "halted")
	default:
		e.metrics.observeTick(time.Since(start).Seconds(), "ok")
	}
	e.log.Info("market tick complete",
		"ticked", len(rep.Ticked),
		"halted", len(rep.Halted),
		"stale", len(rep.Stale),
		"events", len(rep.Activated),
		"retired", len(rep.Retired),
		"market_halted", rep.Skipped || rep.MarketHalt != nil,
	)
	if err := e.refreshView(ctx, now); err != nil {
		e.log.Warn("market view refresh failed", "err", err)
	}
	e.publish(ctx, rep)
	return rep, nil
}

type pendingMove struct {
	prev    int64
	quote   Quote
	effects Effects
	tripped bool
}

func (e *Engine) tick(ctx context.Context, now time.Time) (TickReport, error) {
	rep := TickReport{At: now}
	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return rep, fmt.Errorf("load market snapshot: %w", err)
	}
	halts := NewHaltController(e.cfg.Halt, snap.Halts, snap.MarketHalt)
	halts.CountTripsAfter(snap.LastMarketHaltAt)
	live := liveInstruments(snap, now)

	// 1. halts
	resumed, marketResumed := halts.ResumeDue(now)
	var opened []Halt
	for _, inst := range live {
		q := inst.Quote()
		if q.CurrentPriceMicros > 0 || halts.Status(q.Symbol) == StatusHalted {
			continue
		}
		opened = append(opened, halts.HaltInstrument(q.Symbol,
			fmt.Sprintf("invalid state: current price %d micros", q.CurrentPriceMicros),
			HaltCauseInvalidState, now, true))
	}

	// 2. events
	var tradeable []Instrument
	for _, inst := range live {
		if halts.CanTrade(inst.Quote().Symbol) {
			tradeable = append(tradeable, inst)
		}
	}
	var evt EventTick
	if halts.MarketHalted() {
		evt = e.director.Expire(now, snap.Events)
	} else {
		evt = e.director.Tick(now, snap.Events, Universe{Instruments: tradeable}, e.rng)
	}

	if len(evt.Activated) > 0 || len(evt.Expired) > 0 {
		attempts, err := withRetry(ctx, e.cfg.StoreRetries, e.cfg.RetryDelay, func(ctx context.Context) error {
			return e.store.RecordEvents(ctx, evt.Activated, evt.Expired)
		})
		e.metrics.retries("events", attempts)
		if err != nil {
			e.log.Warn("event update skipped", "attempts", attempts, "err", err)
			// price against what is still live; the expiry is retried next tick
			evt = EventTick{Live: e.director.Expire(now, snap.Events).Live}
		} else {
			for _, ev := range evt.Activated {
				e.metrics.event("activated", ev.EffectType)
				rep.Activated = append(rep.Activated, NewEventView(ev))
				e.log.Info("market event activated", "slug", ev.Slug, "scope", ScopeKey(ev.Scope))
			}
			for _, ev := range evt.Expired {
				e.metrics.event("expired", ev.EffectType)
				rep.Expired = append(rep.Expired, NewEventView(ev))
			}
		}
	}

	// 3. prices through the breaker
	var moves []pendingMove
	if halts.MarketHalted() {
		rep.Skipped = true
	} else {
		moves = e.computeMoves(tradeable, evt.Live, now)
		for i := range moves {
			m := &moves[i]
			if len(m.effects.Sources) > 0 {
				e.log.Debug("event bias applied", "symbol", m.quote.Symbol, "events", m.effects.Sources)
			}
			if h, tripped := halts.CheckMove(m.quote.Symbol, m.prev, m.quote.CurrentPriceMicros, now); tripped {
				m.tripped = true
				opened = append(opened, h)
			}
		}
		if h, ok := halts.Escalate(now, len(live)); ok {
			rep.MarketHalt = &h
			kept := moves[:0]
			for _, m := range moves {
				if m.tripped {
					kept = append(kept, m)
				}
			}
			moves = kept
		}
	}

	// 4. commit
	if halts.MarketChanged() {
		var mh *Halt
		if h, ok := halts.Market(); ok {
			mh = &h
		}
		attempts, err := withRetry(ctx, e.cfg.StoreRetries, e.cfg.RetryDelay, func(ctx context.Context) error {
			return e.store.SetMarketHalt(ctx, mh)
		})
		e.metrics.retries("market_halt", attempts)
		if err != nil {
			e.log.Error("market halt update failed", "attempts", attempts, "err", err)
			rep.MarketHalt = nil
		} else {
			rep.MarketResumed = marketResumed && mh == nil
			if rep.MarketHalt != nil {
				e.metrics.halt(rep.MarketHalt.Cause)
				e.log.Warn("market halted", "reason", rep.MarketHalt.Reason)
			}
			e.metrics.setMarketHalted(mh != nil)
		}
	}

	deltas := e.instrumentDeltas(snap, moves, halts, evt.Live, now)
	stale := map[string]struct{}{}
	committed := map[string]int64{}
	touched := map[string]struct{}{}
	for _, s := range snap.Stocks {
		committed[s.State.Symbol] = s.State.CurrentPriceMicros
	}
	stocks := make(map[string]*BotStock, len(snap.Stocks))
	for _, s := range snap.Stocks {
		stocks[s.State.Symbol] = s
	}
	for _, d := range deltas {
		attempts, err := withRetry(ctx, e.cfg.StoreRetries, e.cfg.RetryDelay, func(ctx context.Context) error {
			return e.store.ApplyInstrument(ctx, d)
		})
		e.metrics.retries("instrument", attempts)
		if err != nil {
			e.log.Warn("instrument update skipped", "symbol", d.Symbol, "attempts", attempts, "err", err)
			e.metrics.instrument("stale")
			stale[d.Symbol] = struct{}{}
			rep.Stale = append(rep.Stale, d.Symbol)
			continue
		}
		if d.Quote != nil {
			e.metrics.instrument("ticked")
			rep.Ticked = append(rep.Ticked, d.Symbol)
			if s, ok := stocks[d.Symbol]; ok {
				s.State = *d.Quote
				committed[d.Symbol] = d.Quote.CurrentPriceMicros
				touched[d.Symbol] = struct{}{}
			}
		}
	}
	for _, h := range opened {
		if _, failed := stale[h.Symbol]; failed {
			continue
		}
		e.metrics.halt(h.Cause)
		e.log.Warn("instrument halted", "symbol", h.Symbol, "cause", h.Cause, "reason", h.Reason)
		rep.Halted = append(rep.Halted, h)
	}
	for _, sym := range resumed {
		if _, failed := stale[sym]; !failed {
			rep.Resumed = append(rep.Resumed, sym)
		}
	}

	// 5. indices over committed prices
	for _, ix := range snap.Indices {
		rebalanced := Rebalance(ix, snap.Stocks)
		if !rebalanced && !indexTouched(ix, touched) {
			continue
		}
		ApplyValue(ix, Recompute(ix, committed), now)
		d := IndexDelta{Index: *ix.Clone()}
		attempts, err := withRetry(ctx, e.cfg.StoreRetries, e.cfg.RetryDelay, func(ctx context.Context) error {
			return e.store.ApplyIndex(ctx, d)
		})
		e.metrics.retries("index", attempts)
		if err != nil {
			e.log.Warn("index update skipped", "symbol", ix.Symbol, "attempts", attempts, "err", err)
			continue
		}
		e.metrics.index(ix.Symbol, ix.CurrentValueMicros)
		rep.Indices = append(rep.Indices, ix.Symbol)
	}

	// 6. retire expired IPOs
	for _, p := range snap.IPOs {
		if !p.State.IsActive || !p.Expired(now) {
			continue
		}
		if res, ok := e.retire(ctx, p.Clone(), now, false); ok {
			rep.Retired = append(rep.Retired, res)
		}
	}
	return rep, nil
}

// computeMoves runs the price model for every instrument in parallel. Seeds
// are drawn in symbol order first so a seeded engine replays exactly.
func (e *Engine) computeMoves(insts []Instrument, live []ActiveEvent, now time.Time) []pendingMove {
	out := make([]pendingMove, len(insts))
	if len(insts) == 0 {
		return out
	}
	seeds := make([]int64, len(insts))
	for i := range insts {
		seeds[i] = e.rng.Int63()
	}
	workers := e.cfg.Workers
	if workers > len(insts) {
		workers = len(insts)
	}
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out[i] = e.computeMove(insts[i], live, now, rand.New(rand.NewSource(seeds[i])))
			}
		}()
	}
	for i := range insts {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return out
}

func (e *Engine) computeMove(inst Instrument, live []ActiveEvent, now time.Time, rng Rand) pendingMove {
	q := *inst.Quote()
	prev := q.CurrentPriceMicros
	rollWindow(q.CurrentPriceMicros, &q.PreviousCloseMicros, &q.High24hMicros, &q.Low24hMicros, &q.WindowStartedAt, now)
	eff := EffectsFor(inst, live, now)
	mv := e.model.Next(q, eff, rng)
	q.CurrentPriceMicros = mv.PriceMicros
	q.High24hMicros = mv.HighMicros
	q.Low24hMicros = mv.LowMicros
	if now.After(q.LastTickAt) {
		q.LastTickAt = now
	}
	return pendingMove{prev: prev, quote: q, effects: eff}
}

// instrumentDeltas folds moves, halt transitions and IPO event marks into
// one write per instrument, ordered by symbol.
func (e *Engine) instrumentDeltas(snap Snapshot, moves []pendingMove, halts *HaltController, live []ActiveEvent, now time.Time) []InstrumentDelta {
	kinds := map[string]InstrumentKind{}
	for _, s := range snap.Stocks {
		kinds[s.State.Symbol] = KindBotStock
	}
	for _, p := range snap.IPOs {
		kinds[p.State.Symbol] = KindPlayerIPO
	}
	byID := map[string]*InstrumentDelta{}
	get := func(sym string) *InstrumentDelta {
		if d, ok := byID[sym]; ok {
			return d
		}
		kind, ok := kinds[sym]
		if !ok {
			kind = KindBotStock
		}
		d := &InstrumentDelta{Symbol: sym, Kind: kind}
		byID[sym] = d
		return d
	}

	for _, m := range moves {
		if m.tripped {
			continue
		}
		d := get(m.quote.Symbol)
		q := m.quote
		d.Quote = &q
		d.Sample = &PricePoint{At: now, PriceMicros: q.CurrentPriceMicros}
	}
	for sym, h := range halts.Changes() {
		d := get(sym)
		d.HaltChanged = true
		d.Halt = h
	}
	for _, p := range snap.IPOs {
		if !p.State.IsActive || p.Expired(now) {
			continue
		}
		mark := ipoEventMark(p.State.Symbol, live)
		if mark.Slug == p.ActiveEventSlug && sameTime(mark.ExpiresAt, p.EventExpiresAt) {
			continue
		}
		get(p.State.Symbol).Event = &mark
	}

	out := make([]InstrumentDelta, 0, len(byID))
	for _, d := range byID {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// retire commits an IPO's terminal state and hands the result to the reward
// sink. Delisted IPOs forfeit the reward and are not awarded.
func (e *Engine) retire(ctx context.Context, ipo *PlayerIPO, now time.Time, delisted bool) (IPOResult, bool) {
	res := Retire(ipo, now, delisted)
	attempts, err := withRetry(ctx, e.cfg.StoreRetries, e.cfg.RetryDelay, func(ctx context.Context) error {
		return e.store.RetireIPO(ctx, res)
	})
	e.metrics.retries("retire", attempts)
	if err != nil {
		e.log.Warn("ipo retirement deferred", "symbol", res.Symbol, "attempts", attempts, "err", err)
		return res, false
	}
	e.metrics.retiredIPO(delisted)
	e.log.Info("ipo retired", "symbol", res.Symbol, "owner", res.OwnerUserID, "multiplier", res.Multiplier, "potential_points", res.PotentialPoints, "delisted", delisted)
	if !delisted && e.rewards != nil {
		if err := e.rewards.AwardIPO(ctx, res); err != nil {
			e.log.Error("ipo reward hand-off failed", "symbol", res.Symbol, "err", err)
		}
	}
	return res, true
}

func (e *Engine) refreshView(ctx context.Context, now time.Time) error {
	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return err
	}
	e.view.Store(BuildView(snap, e.cfg.Profile.Name, now))
	return nil
}

func (e *Engine) publish(ctx context.Context, rep TickReport) {
	if len(e.pubs) == 0 {
		return
	}
	v := e.View()
	for _, p := range e.pubs {
		if err := p.Publish(ctx, rep, v); err != nil {
			e.log.Warn("publish tick failed", "publisher", p.Name(), "err", err)
		}
	}
}

// liveInstruments are the active instruments still inside their window,
// sorted by symbol.
func liveInstruments(snap Snapshot, now time.Time) []Instrument {
	var out []Instrument
	for _, s := range snap.Stocks {
		if s.State.IsActive {
			out = append(out, s)
		}
	}
	for _, p := range snap.IPOs {
		if p.State.IsActive && !p.Expired(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Quote().Symbol < out[j].Quote().Symbol })
	return out
}

func indexTouched(ix *MarketIndex, touched map[string]struct{}) bool {
	for _, c := range ix.Components {
		if _, ok := touched[c.Symbol]; ok {
			return true
		}
	}
	return false
}

func ipoEventMark(symbol string, live []ActiveEvent) EventMark {
	for _, ev := range live {
		if s, ok := ev.Scope.(InstrumentScope); ok && s.Symbol == symbol {
			return EventMark{Slug: ev.Slug, ExpiresAt: ev.ExpiresAt}
		}
	}
	return EventMark{}
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
