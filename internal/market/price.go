package market

import (
	"math"
	"strings"
	"time"
)

const (
	defaultVolatility = 0.02
	noiseClampSigmas  = 3.0
	trendUnit         = 0.10
)

// Rand is the randomness a tick draws from. *math/rand.Rand satisfies it.
type Rand interface {
	Float64() float64
	NormFloat64() float64
	Intn(n int) int
	Int63() int64
}

// Profile tunes noise, reversion and event frequency for a volatility mode.
type Profile struct {
	Name             string
	NoiseScale       float64
	MeanReversion    float64
	EventProbability float64
}

func ProfileFor(mode string) Profile {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "calm":
		return Profile{
			Name:             "calm",
			NoiseScale:       0.60,
			MeanReversion:    0.030,
			EventProbability: 0.01,
		}
	case "wild":
		return Profile{
			Name:             "wild",
			NoiseScale:       1.60,
			MeanReversion:    0.010,
			EventProbability: 0.03,
		}
	default:
		return Profile{
			Name:             "mor",
			NoiseScale:       1.00,
			MeanReversion:    0.018,
			EventProbability: 0.02,
		}
	}
}

// Effects is the folded event bias acting on one instrument for one tick.
type Effects struct {
	MeanShift       float64
	SpikeMultiplier float64
	Sources         []string
}

func NoEffects() Effects {
	return Effects{SpikeMultiplier: 1}
}

// EffectsFor folds every live event covering inst into one bias.
// Instant spikes only count on the tick that activated them.
func EffectsFor(inst Instrument, live []ActiveEvent, now time.Time) Effects {
	eff := NoEffects()
	vol := effectiveVolatility(inst.Quote().Volatility)
	for _, ev := range live {
		if !Covers(ev.Scope, inst) {
			continue
		}
		switch ev.EffectType {
		case EffectTickModifier:
			eff.MeanShift += float64(ev.EffectValue) / 1000
		case EffectTrendBias:
			eff.MeanShift += float64(ev.EffectValue) / 100 * vol
		case EffectInstantSpike:
			if !ev.ActivatedAt.Equal(now) {
				continue
			}
			eff.SpikeMultiplier *= 1 + float64(ev.EffectValue)/100
		default:
			continue
		}
		eff.Sources = append(eff.Sources, ev.Slug)
	}
	return eff
}

// Move is the outcome of one PriceModel step.
type Move struct {
	PriceMicros int64
	HighMicros  int64
	LowMicros   int64
	Noise       float64
	Drift       float64
	Reversion   float64
}

// PriceModel is a pure function of quote, effects and the injected random source.
type PriceModel struct {
	Profile Profile
}

func NewPriceModel(p Profile) PriceModel {
	if p.NoiseScale <= 0 {
		p = ProfileFor(p.Name)
	}
	return PriceModel{Profile: p}
}

func (m PriceModel) Next(q Quote, eff Effects, rng Rand) Move {
	vol := effectiveVolatility(q.Volatility)
	bound := noiseClampSigmas * vol
	noise := clampFloat(rng.NormFloat64()*vol*m.Profile.NoiseScale, -bound, bound)

	drift := trendShift(q.Trend, q.TrendStrength, vol) + eff.MeanShift
	rev := meanReversion(q.CurrentPriceMicros, q.BasePriceMicros, m.Profile.MeanReversion)

	spike := eff.SpikeMultiplier
	if spike <= 0 {
		spike = 1
	}
	next := evolvePrice(q.CurrentPriceMicros, noise+drift+rev, spike)

	high, low := q.High24hMicros, q.Low24hMicros
	if high < next {
		high = next
	}
	if low <= 0 || low > next {
		low = next
	}
	return Move{
		PriceMicros: next,
		HighMicros:  high,
		LowMicros:   low,
		Noise:       noise,
		Drift:       drift,
		Reversion:   rev,
	}
}

func trendShift(t Trend, strength int32, vol float64) float64 {
	if strength < 0 {
		strength = 0
	}
	shift := float64(strength) * vol * trendUnit
	switch t {
	case TrendBullish:
		return shift
	case TrendBearish:
		return -shift
	default:
		return 0
	}
}

func meanReversion(price, base int64, strength float64) float64 {
	if base <= 0 {
		return 0
	}
	return strength * (float64(base-price) / float64(base))
}

func evolvePrice(priceMicros int64, ret, spike float64) int64 {
	if priceMicros <= 0 {
		return MinPriceMicros
	}
	factor := (1 + ret) * spike
	if factor <= 0 {
		return MinPriceMicros
	}
	next := float64(priceMicros) * factor
	if next >= float64(MaxPriceMicros) {
		return MaxPriceMicros
	}
	return clampPrice(int64(math.Round(next)))
}

func effectiveVolatility(v float64) float64 {
	if v <= 0 || math.IsNaN(v) {
		return defaultVolatility
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
