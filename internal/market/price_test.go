package market

import (
	"math"
	"testing"
	"time"
)

// fixedRand replays the same draws every call.
type fixedRand struct {
	norm float64
	f    float64
	n    int
}

func (r fixedRand) Float64() float64     { return r.f }
func (r fixedRand) NormFloat64() float64 { return r.norm }
func (r fixedRand) Intn(n int) int       { return r.n % n }
func (r fixedRand) Int63() int64         { return 42 }

func flatQuote(price int64, vol float64) Quote {
	return Quote{
		Symbol:             "NIMBUS",
		CurrentPriceMicros: price,
		High24hMicros:      price,
		Low24hMicros:       price,
		BasePriceMicros:    price,
		Volatility:         vol,
		Trend:              TrendNeutral,
		IsActive:           true,
	}
}

func TestNextNoiseClampedToThreeSigma(t *testing.T) {
	m := NewPriceModel(ProfileFor("mor"))
	price := 100 * MicrosPerStonky
	tests := []struct {
		name string
		norm float64
		want int64
	}{
		{"flat", 0, price},
		{"up clamp", 10, 106 * MicrosPerStonky},
		{"down clamp", -10, 94 * MicrosPerStonky},
		{"inside", 1, 102 * MicrosPerStonky},
	}
	for _, tc := range tests {
		mv := m.Next(flatQuote(price, 0.02), NoEffects(), fixedRand{norm: tc.norm})
		if mv.PriceMicros != tc.want {
			t.Fatalf("%s: got %d want %d", tc.name, mv.PriceMicros, tc.want)
		}
	}
}

func TestNextHonoursFloor(t *testing.T) {
	m := NewPriceModel(ProfileFor("wild"))
	q := flatQuote(MinPriceMicros, 0.05)
	mv := m.Next(q, NoEffects(), fixedRand{norm: -10})
	if mv.PriceMicros != MinPriceMicros {
		t.Fatalf("got %d want floor %d", mv.PriceMicros, MinPriceMicros)
	}
	if mv.LowMicros != MinPriceMicros {
		t.Fatalf("got low %d want %d", mv.LowMicros, MinPriceMicros)
	}

	crash := Effects{SpikeMultiplier: 0.0001}
	mv = m.Next(flatQuote(20_000, 0.02), crash, fixedRand{})
	if mv.PriceMicros != MinPriceMicros {
		t.Fatalf("spike below floor: got %d want %d", mv.PriceMicros, MinPriceMicros)
	}
}

func TestNextTracksHighLow(t *testing.T) {
	m := NewPriceModel(ProfileFor("mor"))
	q := flatQuote(100*MicrosPerStonky, 0.02)
	up := m.Next(q, NoEffects(), fixedRand{norm: 2})
	if up.HighMicros != up.PriceMicros || up.LowMicros != q.Low24hMicros {
		t.Fatalf("up move: got high=%d low=%d price=%d", up.HighMicros, up.LowMicros, up.PriceMicros)
	}
	down := m.Next(q, NoEffects(), fixedRand{norm: -2})
	if down.LowMicros != down.PriceMicros || down.HighMicros != q.High24hMicros {
		t.Fatalf("down move: got high=%d low=%d price=%d", down.HighMicros, down.LowMicros, down.PriceMicros)
	}
}

func TestTrendAndReversion(t *testing.T) {
	tests := []struct {
		name     string
		trend    Trend
		strength int32
		want     float64
	}{
		{"neutral", TrendNeutral, 3, 0},
		{"bullish", TrendBullish, 2, 0.004},
		{"bearish", TrendBearish, 1, -0.002},
		{"negative strength", TrendBullish, -4, 0},
	}
	for _, tc := range tests {
		got := trendShift(tc.trend, tc.strength, 0.02)
		if math.Abs(got-tc.want) > 1e-12 {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}

	// price 20% above base pulls down by k*0.2
	if got := meanReversion(120, 100, 0.018); math.Abs(got-(-0.0036)) > 1e-12 {
		t.Fatalf("reversion got %v want -0.0036", got)
	}
	if got := meanReversion(120, 0, 0.018); got != 0 {
		t.Fatalf("reversion without base got %v want 0", got)
	}
}

func TestProfiles(t *testing.T) {
	tests := []struct {
		mode string
		name string
		k    float64
		p    float64
	}{
		{"calm", "calm", 0.03, 0.01},
		{"MOR", "mor", 0.018, 0.02},
		{"wild", "wild", 0.01, 0.03},
		{"unknown", "mor", 0.018, 0.02},
	}
	for _, tc := range tests {
		p := ProfileFor(tc.mode)
		if p.Name != tc.name || p.MeanReversion != tc.k || p.EventProbability != tc.p {
			t.Fatalf("%s: got %+v", tc.mode, p)
		}
	}
}

func TestEffectsFor(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	energy := &BotStock{State: Quote{Symbol: "FUSION", Volatility: 0.04}, Sector: "energy"}
	tech := &BotStock{State: Quote{Symbol: "NIMBUS", Volatility: 0.02}, Sector: "technology"}
	live := []ActiveEvent{
		{Slug: "sector-boom", EffectType: EffectTickModifier, EffectValue: 3, Scope: SectorScope{Sector: "energy"}, ActivatedAt: now.Add(-time.Minute)},
		{Slug: "rate-cut", EffectType: EffectTrendBias, EffectValue: 10, Scope: GlobalScope{}, ActivatedAt: now.Add(-time.Minute)},
		{Slug: "earnings-beat", EffectType: EffectInstantSpike, EffectValue: 8, Scope: InstrumentScope{Symbol: "NIMBUS"}, ActivatedAt: now},
		{Slug: "old-spike", EffectType: EffectInstantSpike, EffectValue: 50, Scope: GlobalScope{}, ActivatedAt: now.Add(-30 * time.Second)},
	}

	e := EffectsFor(energy, live, now)
	if want := 0.003 + 0.10*0.04; math.Abs(e.MeanShift-want) > 1e-12 {
		t.Fatalf("energy shift got %v want %v", e.MeanShift, want)
	}
	if e.SpikeMultiplier != 1 {
		t.Fatalf("energy spike got %v want 1", e.SpikeMultiplier)
	}

	e = EffectsFor(tech, live, now)
	if want := 0.10 * 0.02; math.Abs(e.MeanShift-want) > 1e-12 {
		t.Fatalf("tech shift got %v want %v", e.MeanShift, want)
	}
	if math.Abs(e.SpikeMultiplier-1.08) > 1e-12 {
		t.Fatalf("tech spike got %v want 1.08", e.SpikeMultiplier)
	}
	if len(e.Sources) != 2 {
		t.Fatalf("tech sources got %v", e.Sources)
	}
}
