package market_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stanksmarket/internal/market"
	"stanksmarket/internal/store"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	eng *market.Engine
	mem *store.Memory
	reg *prometheus.Registry
	now time.Time
}

func newFixture(t *testing.T, mutate func(*market.Config), opts ...market.Option) *fixture {
	t.Helper()
	cfg := market.DefaultConfig()
	cfg.EventProbability = 0
	cfg.RetryDelay = time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	f := &fixture{mem: store.NewMemory(), reg: prometheus.NewRegistry(), now: start}
	opts = append([]market.Option{
		market.WithClock(func() time.Time { return f.now }),
		market.WithRand(rand.New(rand.NewSource(7))),
		market.WithMetrics(market.NewMetrics(f.reg)),
	}, opts...)
	f.eng = market.NewEngine(f.mem, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	if err := f.eng.SeedDefaults(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return f
}

// tick advances the fixture clock by d and runs one tick at the new time.
func (f *fixture) tick(t *testing.T, d time.Duration) market.TickReport {
	t.Helper()
	f.now = f.now.Add(d)
	rep, err := f.eng.Tick(context.Background(), f.now)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	return rep
}

func (f *fixture) price(t *testing.T, sym string) int64 {
	t.Helper()
	inst, ok := f.eng.View().Instrument(sym)
	if !ok {
		t.Fatalf("instrument %s missing from view", sym)
	}
	return inst.CurrentPriceMicros
}

func metricValue(t *testing.T, reg *prometheus.Registry, name, labelValue string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := labelValue == ""
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == labelValue {
					match = true
				}
			}
			if !match {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
		}
	}
	return 0
}

type recordingPublisher struct {
	reports []market.TickReport
	views   []*market.View
}

func (p *recordingPublisher) Name() string { return "recording" }

func (p *recordingPublisher) Publish(_ context.Context, rep market.TickReport, v *market.View) error {
	p.reports = append(p.reports, rep)
	p.views = append(p.views, v)
	return nil
}

func TestTickAdvancesMarket(t *testing.T) {
	pub := &recordingPublisher{}
	f := newFixture(t, nil, market.WithPublisher(pub))

	rep := f.tick(t, 30*time.Second)
	if rep.Skipped || len(rep.Ticked) != 20 || len(rep.Stale) != 0 {
		t.Fatalf("got skipped=%v ticked=%d stale=%v", rep.Skipped, len(rep.Ticked), rep.Stale)
	}
	if len(rep.Indices) != 6 {
		t.Fatalf("got %d indices updated want 6", len(rep.Indices))
	}
	if len(rep.Halted) != 0 {
		t.Fatalf("ordinary tick tripped breakers: %+v", rep.Halted)
	}
	v := f.eng.View()
	if !v.Status.LastTickAt.Equal(f.now) {
		t.Fatalf("got last tick %v want %v", v.Status.LastTickAt, f.now)
	}
	for _, inst := range v.Instruments {
		if inst.CurrentPriceMicros < market.MinPriceMicros {
			t.Fatalf("%s below floor: %d", inst.Symbol, inst.CurrentPriceMicros)
		}
	}
	series, err := f.eng.PriceSeries(context.Background(), "nimbus", time.Time{}, 0)
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	if len(series) != 2 || !series[1].At.Equal(f.now) {
		t.Fatalf("got series %+v", series)
	}
	if len(pub.reports) != 1 || pub.views[0] != v {
		t.Fatalf("publisher got %d reports", len(pub.reports))
	}
	if got := metricValue(t, f.reg, "stanks_market_ticks_total", "ok"); got != 1 {
		t.Fatalf("got %v ok ticks want 1", got)
	}
	if got := metricValue(t, f.reg, "stanks_market_instrument_updates_total", "ticked"); got != 20 {
		t.Fatalf("got %v ticked updates want 20", got)
	}
}

func TestTickMarksFailedWritesStale(t *testing.T) {
	f := newFixture(t, nil)
	before := f.price(t, "NIMBUS")
	f.mem.InjectFault(func(op, key string) error {
		if op == "instrument" && key == "NIMBUS" {
			return errors.New("disk full")
		}
		return nil
	})

	rep := f.tick(t, 30*time.Second)
	if len(rep.Stale) != 1 || rep.Stale[0] != "NIMBUS" {
		t.Fatalf("got stale %v want [NIMBUS]", rep.Stale)
	}
	if len(rep.Ticked) != 19 {
		t.Fatalf("got %d ticked want 19", len(rep.Ticked))
	}
	if got := f.price(t, "NIMBUS"); got != before {
		t.Fatalf("stale instrument moved: got %d want %d", got, before)
	}
}

func TestInvalidPriceForcesHalt(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	stocks := market.DefaultStocks(start)
	for _, s := range stocks {
		if s.State.Symbol == "NIMBUS" {
			s.State.CurrentPriceMicros = 0
		}
	}
	if err := mem.Seed(ctx, stocks, market.DefaultIndices(stocks, start)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cfg := market.DefaultConfig()
	cfg.EventProbability = 0
	eng := market.NewEngine(mem, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)),
		market.WithRand(rand.New(rand.NewSource(7))),
		market.WithClock(func() time.Time { return start.Add(45 * time.Second) }))

	rep, err := eng.Tick(ctx, start.Add(30*time.Second))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(rep.Halted) != 1 || rep.Halted[0].Symbol != "NIMBUS" || rep.Halted[0].Cause != market.HaltCauseInvalidState {
		t.Fatalf("got halted %+v want NIMBUS invalid_state", rep.Halted)
	}
	if rep.Halted[0].ResumesAt != nil {
		t.Fatalf("invalid state halt should wait for an admin resume")
	}
	if len(rep.Ticked) != 19 {
		t.Fatalf("got %d ticked want 19", len(rep.Ticked))
	}
	inst, ok := eng.View().Instrument("NIMBUS")
	if !ok || inst.Status != market.StatusHalted || inst.CurrentPriceMicros != 0 {
		t.Fatalf("got %+v want halted at 0", inst)
	}

	res, err := eng.ResetPrice(ctx, "NIMBUS")
	if err != nil || !res.Applied {
		t.Fatalf("reset: %+v %v", res, err)
	}
	if res.Instrument == nil || res.Instrument.Status != market.StatusTrading || res.Instrument.CurrentPriceMicros != 95*market.MicrosPerStonky {
		t.Fatalf("got %+v want trading at base price", res.Instrument)
	}
	rep, err = eng.Tick(ctx, start.Add(time.Minute))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(rep.Ticked) != 20 {
		t.Fatalf("got %d ticked after reset want 20", len(rep.Ticked))
	}
}

func TestTickRetriesConflicts(t *testing.T) {
	f := newFixture(t, nil)
	calls := 0
	f.mem.InjectFault(func(op, key string) error {
		if op != "instrument" || key != "VECTRA" {
			return nil
		}
		calls++
		if calls == 1 {
			return market.ErrStoreConflict
		}
		return nil
	})

	rep := f.tick(t, 30*time.Second)
	if len(rep.Stale) != 0 || len(rep.Ticked) != 20 {
		t.Fatalf("got stale %v ticked %d", rep.Stale, len(rep.Ticked))
	}
	if calls != 2 {
		t.Fatalf("got %d write attempts want 2", calls)
	}
	if got := metricValue(t, f.reg, "stanks_market_store_retries_total", "instrument"); got != 1 {
		t.Fatalf("got %v retries want 1", got)
	}
}

func TestMarketHaltSkipsPricing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if _, err := f.eng.HaltMarket(ctx, "maintenance", true); err != nil {
		t.Fatalf("halt market: %v", err)
	}
	before := f.price(t, "ARCANE")

	rep := f.tick(t, time.Hour)
	if !rep.Skipped || len(rep.Ticked) != 0 || rep.MarketResumed {
		t.Fatalf("got %+v want skipped tick", rep)
	}
	if got := f.price(t, "ARCANE"); got != before {
		t.Fatalf("price moved during market halt")
	}
	if _, err := f.eng.ResetPrice(ctx, "ARCANE"); !errors.Is(err, market.ErrMarketHalted) {
		t.Fatalf("reset during halt: got %v want ErrMarketHalted", err)
	}

	res, err := f.eng.Resume(ctx, "market")
	if err != nil || !res.Applied {
		t.Fatalf("resume: %+v %v", res, err)
	}
	if res, _ = f.eng.Resume(ctx, "market"); res.Applied {
		t.Fatalf("second resume applied")
	}
	if rep = f.tick(t, 30*time.Second); rep.Skipped || len(rep.Ticked) != 20 {
		t.Fatalf("after resume got skipped=%v ticked=%d", rep.Skipped, len(rep.Ticked))
	}
}

func TestTimedMarketHaltAutoResumes(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.eng.HaltMarket(context.Background(), "", false); err != nil {
		t.Fatalf("halt market: %v", err)
	}
	st := f.eng.View().Status
	if !st.TradingHalted || st.ResumesAt == nil || !st.ResumesAt.Equal(start.Add(45*time.Minute)) {
		t.Fatalf("got status %+v", st)
	}
	if rep := f.tick(t, 44*time.Minute); !rep.Skipped {
		t.Fatalf("market resumed early")
	}
	rep := f.tick(t, time.Minute)
	if !rep.MarketResumed || rep.Skipped || len(rep.Ticked) != 20 {
		t.Fatalf("got resumed=%v skipped=%v ticked=%d", rep.MarketResumed, rep.Skipped, len(rep.Ticked))
	}
	if f.eng.View().Status.TradingHalted {
		t.Fatalf("view still halted")
	}
}

func TestInstrumentHalts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if _, err := f.eng.HaltInstrument(ctx, "NIMBUS", "audit", true); err != nil {
		t.Fatalf("halt NIMBUS: %v", err)
	}
	res, err := f.eng.HaltInstrument(ctx, "vectra", "", false)
	if err != nil {
		t.Fatalf("halt VECTRA: %v", err)
	}
	if res.Instrument == nil || res.Instrument.Status != market.StatusHalted || res.Halt.Reason != "halted by administrator" {
		t.Fatalf("got %+v", res)
	}
	if _, err := f.eng.HaltInstrument(ctx, "ZZZZZZ", "", false); !errors.Is(err, market.ErrInstrumentNotFound) {
		t.Fatalf("got %v want ErrInstrumentNotFound", err)
	}
	nimbus := f.price(t, "NIMBUS")

	rep := f.tick(t, 10*time.Minute)
	if len(rep.Resumed) != 1 || rep.Resumed[0] != "VECTRA" {
		t.Fatalf("got resumed %v want [VECTRA]", rep.Resumed)
	}
	if len(rep.Ticked) != 19 {
		t.Fatalf("got %d ticked want 19", len(rep.Ticked))
	}
	for _, sym := range rep.Ticked {
		if sym == "NIMBUS" {
			t.Fatalf("halted instrument was priced")
		}
	}
	if got := f.price(t, "NIMBUS"); got != nimbus {
		t.Fatalf("halted price moved")
	}

	f.tick(t, 24*time.Hour)
	if inst, _ := f.eng.View().Instrument("NIMBUS"); inst.Status != market.StatusHalted {
		t.Fatalf("persistent halt lapsed")
	}
	if res, err = f.eng.Resume(ctx, "NIMBUS"); err != nil || !res.Applied {
		t.Fatalf("resume: %+v %v", res, err)
	}
	if res, _ = f.eng.Resume(ctx, "NIMBUS"); res.Applied {
		t.Fatalf("resuming a trading instrument applied")
	}
}

func TestEscalationHaltsMarket(t *testing.T) {
	meltUp := market.MarketEvent{Slug: "melt-up", Name: "Melt up", EffectType: market.EffectInstantSpike, EffectValue: 50, IsPositive: true, Rarity: 1, Scope: market.ScopeGlobal}
	f := newFixture(t, func(c *market.Config) {
		c.Catalog = []market.MarketEvent{meltUp}
		c.EventProbability = 1
	})
	before := f.price(t, "ARCANE")

	rep := f.tick(t, 30*time.Second)
	if len(rep.Activated) != 1 || rep.Activated[0].Slug != "melt-up" {
		t.Fatalf("got activated %+v", rep.Activated)
	}
	if rep.MarketHalt == nil || rep.MarketHalt.Cause != market.HaltCauseEscalation {
		t.Fatalf("got market halt %+v want escalation", rep.MarketHalt)
	}
	if len(rep.Halted) != 20 || len(rep.Ticked) != 0 {
		t.Fatalf("got halted=%d ticked=%d", len(rep.Halted), len(rep.Ticked))
	}
	for _, h := range rep.Halted {
		if h.Cause != market.HaltCauseCircuitBreaker {
			t.Fatalf("got cause %s want circuit_breaker", h.Cause)
		}
	}
	if got := f.price(t, "ARCANE"); got != before {
		t.Fatalf("tripped move committed: got %d want %d", got, before)
	}
	if !f.eng.View().Status.TradingHalted {
		t.Fatalf("view not halted")
	}
	if got := metricValue(t, f.reg, "stanks_market_halted", ""); got != 1 {
		t.Fatalf("got halted gauge %v want 1", got)
	}

	rep = f.tick(t, 30*time.Second)
	if !rep.Skipped || len(rep.Expired) != 1 || len(rep.Activated) != 0 {
		t.Fatalf("halted tick got skipped=%v expired=%d activated=%d", rep.Skipped, len(rep.Expired), len(rep.Activated))
	}
	if len(f.mem.EventLog()) != 1 {
		t.Fatalf("expired event not logged")
	}
}

func TestAdminResumeAfterEscalationHolds(t *testing.T) {
	meltUp := market.MarketEvent{Slug: "melt-up", Name: "Melt up", EffectType: market.EffectInstantSpike, EffectValue: 50, IsPositive: true, Rarity: 1, Scope: market.ScopeGlobal}
	f := newFixture(t, func(c *market.Config) {
		c.Catalog = []market.MarketEvent{meltUp}
		c.EventProbability = 1
	})
	ctx := context.Background()

	if rep := f.tick(t, 30*time.Second); rep.MarketHalt == nil {
		t.Fatalf("expected escalation")
	}
	res, err := f.eng.Resume(ctx, "market")
	if err != nil || !res.Applied {
		t.Fatalf("resume: %+v %v", res, err)
	}

	for i := 0; i < 3; i++ {
		rep := f.tick(t, 30*time.Second)
		if rep.MarketHalt != nil || rep.Skipped {
			t.Fatalf("tick %d: market re-halted: %+v", i, rep.MarketHalt)
		}
		if f.eng.View().Status.TradingHalted {
			t.Fatalf("tick %d: view halted after admin resume", i)
		}
	}
}

func TestResetRejectedWhileInstrumentHalted(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.tick(t, 30*time.Second)
	if _, err := f.eng.HaltInstrument(ctx, "VECTRA", "audit", true); err != nil {
		t.Fatalf("halt: %v", err)
	}
	before, _ := f.eng.View().Instrument("VECTRA")

	if _, err := f.eng.ResetPrice(ctx, "VECTRA"); !errors.Is(err, market.ErrInstrumentHalted) {
		t.Fatalf("got %v want ErrInstrumentHalted", err)
	}
	after, _ := f.eng.View().Instrument("VECTRA")
	if after.CurrentPriceMicros != before.CurrentPriceMicros || after.High24hMicros != before.High24hMicros || after.Low24hMicros != before.Low24hMicros {
		t.Fatalf("frozen quote changed: got %+v want %+v", after, before)
	}
	if after.Status != market.StatusHalted {
		t.Fatalf("got status %s want halted", after.Status)
	}
}

func TestExpiredEventIgnoredWhenEventWriteFails(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	expired := start.Add(-time.Minute)
	surge := market.ActiveEvent{
		ID:          "ev-old",
		Slug:        "surge",
		EffectType:  market.EffectTickModifier,
		EffectValue: 500,
		IsPositive:  true,
		Scope:       market.GlobalScope{},
		ActivatedAt: start.Add(-time.Hour),
		ExpiresAt:   &expired,
	}
	if err := f.mem.RecordEvents(ctx, []market.ActiveEvent{surge}, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	f.mem.InjectFault(func(op, _ string) error {
		if op == "events" {
			return errors.New("events table locked")
		}
		return nil
	})

	rep := f.tick(t, 30*time.Second)
	if len(rep.Halted) != 0 || len(rep.Ticked) != 20 {
		t.Fatalf("expired surge still applied: halted=%d ticked=%d", len(rep.Halted), len(rep.Ticked))
	}

	f.mem.InjectFault(nil)
	rep = f.tick(t, 30*time.Second)
	if len(rep.Expired) != 1 || rep.Expired[0].Slug != "surge" {
		t.Fatalf("got expired %+v want surge retried", rep.Expired)
	}
}

func TestIPOLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	in := market.StartIPOInput{OwnerUserID: "u-1", OwnerName: "Alice", NetWorthMicros: 1_000_000 * market.MicrosPerStonky}

	st, err := f.eng.StartIPO(ctx, in)
	if err != nil {
		t.Fatalf("start ipo: %v", err)
	}
	if st.IPOPriceMicros != 100*market.MicrosPerStonky || st.BasePoints != 1_000 || st.RemainingSeconds != int64((12*time.Hour)/time.Second) {
		t.Fatalf("got %+v", st)
	}
	dup, err := f.eng.StartIPO(ctx, in)
	if !errors.Is(err, market.ErrIPOAlreadyActive) || dup.Symbol != st.Symbol {
		t.Fatalf("duplicate got %q %v", dup.Symbol, err)
	}
	other, err := f.eng.StartIPO(ctx, market.StartIPOInput{OwnerUserID: "u-2", OwnerName: "Alicia"})
	if err != nil || other.Symbol == st.Symbol {
		t.Fatalf("second owner got %q %v", other.Symbol, err)
	}

	rep := f.tick(t, 30*time.Second)
	if len(rep.Ticked) != 22 {
		t.Fatalf("got %d ticked want 22", len(rep.Ticked))
	}
	live, err := f.eng.IPOStatus(ctx, st.Symbol)
	if err != nil {
		t.Fatalf("ipo status: %v", err)
	}
	if len(live.PriceHistory) != 2 {
		t.Fatalf("got %d history samples want 2", len(live.PriceHistory))
	}

	rep = f.tick(t, 13*time.Hour)
	if len(rep.Retired) != 2 {
		t.Fatalf("got %d retired want 2", len(rep.Retired))
	}
	var retired market.IPOResult
	for _, r := range rep.Retired {
		if r.Symbol == st.Symbol {
			retired = r
		}
	}
	want := market.PotentialPoints(1_000, st.IPOPriceMicros, live.CurrentPriceMicros)
	if retired.PotentialPoints != want || retired.Delisted {
		t.Fatalf("got %+v want %d points", retired, want)
	}
	if len(f.mem.Awards()) != 2 {
		t.Fatalf("got %d awards want 2", len(f.mem.Awards()))
	}
	after, err := f.eng.IPOStatus(ctx, st.Symbol)
	if err != nil {
		t.Fatalf("retired status: %v", err)
	}
	if after.IsActive || after.PotentialPoints != want || after.RemainingSeconds != 0 {
		t.Fatalf("got %+v", after)
	}
	if _, ok := f.eng.View().Instrument(st.Symbol); ok {
		t.Fatalf("retired ipo still listed")
	}

	if _, err := f.eng.StartIPO(ctx, in); err != nil {
		t.Fatalf("owner could not relist after retirement: %v", err)
	}
}

func TestDelist(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	st, err := f.eng.StartIPO(ctx, market.StartIPOInput{OwnerUserID: "u-3", OwnerName: "Bob"})
	if err != nil {
		t.Fatalf("start ipo: %v", err)
	}
	if _, err := f.eng.Delist(ctx, "NIMBUS", ""); !errors.Is(err, market.ErrNotDelistable) {
		t.Fatalf("got %v want ErrNotDelistable", err)
	}
	res, err := f.eng.Delist(ctx, st.Symbol, "abuse")
	if err != nil {
		t.Fatalf("delist: %v", err)
	}
	if res.Retired == nil || !res.Retired.Delisted || res.Retired.PotentialPoints != 0 || res.Retired.Multiplier != "0.0000" {
		t.Fatalf("got %+v", res.Retired)
	}
	if len(f.mem.Awards()) != 0 {
		t.Fatalf("delisted ipo was awarded")
	}
	if _, err := f.eng.Delist(ctx, st.Symbol, ""); !errors.Is(err, market.ErrInstrumentNotFound) {
		t.Fatalf("second delist got %v want ErrInstrumentNotFound", err)
	}
	if got := metricValue(t, f.reg, "stanks_market_ipos_retired_total", "delisted"); got != 1 {
		t.Fatalf("got %v delisted want 1", got)
	}
}

func TestResetPrice(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f.tick(t, 30*time.Second)
	}
	f.now = f.now.Add(time.Second)
	res, err := f.eng.ResetPrice(ctx, "NIMBUS")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if res.Instrument == nil || res.Instrument.CurrentPriceMicros != 95*market.MicrosPerStonky {
		t.Fatalf("got %+v", res.Instrument)
	}
	series, err := f.eng.PriceSeries(ctx, "NIMBUS", time.Time{}, 0)
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	if len(series) != 7 || series[6].PriceMicros != 95*market.MicrosPerStonky {
		t.Fatalf("got %d samples, last %+v", len(series), series[len(series)-1])
	}
	if _, err := f.eng.PriceSeries(ctx, "ZZZZZZ", time.Time{}, 0); !errors.Is(err, market.ErrInstrumentNotFound) {
		t.Fatalf("got %v want ErrInstrumentNotFound", err)
	}
}

func TestApplyRejectsBadCommands(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tests := []struct {
		name string
		cmd  market.Command
		want error
	}{
		{"short symbol", market.Command{Action: market.ActionHalt, Target: "NIM"}, market.ErrInstrumentNotFound},
		{"lowercase unknown", market.Command{Action: market.ActionResume, Target: "abc"}, market.ErrInstrumentNotFound},
		{"missing target", market.Command{Action: market.ActionHalt, Target: "  "}, market.ErrInvalidCommand},
		{"reset market", market.Command{Action: market.ActionReset, Target: "market"}, market.ErrInvalidCommand},
		{"delist market", market.Command{Action: market.ActionDelist, Target: "MARKET"}, market.ErrInvalidCommand},
		{"unknown action", market.Command{Action: "freeze", Target: "NIMBUS"}, market.ErrInvalidCommand},
	}
	for _, tc := range tests {
		if _, err := f.eng.Apply(ctx, tc.cmd); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v want %v", tc.name, err, tc.want)
		}
	}
}

func TestTicksAreDeterministicAcrossWorkerCounts(t *testing.T) {
	prices := func(workers int) map[string]int64 {
		f := newFixture(t, func(c *market.Config) {
			c.Workers = workers
			c.EventProbability = 0.5
		})
		for i := 0; i < 4; i++ {
			f.tick(t, 30*time.Second)
		}
		out := map[string]int64{}
		for _, inst := range f.eng.View().Instruments {
			out[inst.Symbol] = inst.CurrentPriceMicros
		}
		return out
	}
	serial, parallel := prices(1), prices(8)
	for sym, p := range serial {
		if parallel[sym] != p {
			t.Fatalf("%s: got %d with 8 workers want %d", sym, parallel[sym], p)
		}
	}
}
