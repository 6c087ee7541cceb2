package market

import (
	"math"
	"sort"
	"time"
)

const (
	capWeightShare   = 0.7
	equalWeightShare = 0.3

	// WeightEpsilon bounds how far component weights may sum away from 1.
	WeightEpsilon = 1e-9
)

// Constituents returns the active bot stocks an index should hold, sorted by symbol.
// Master indices hold every active bot stock; sector indices hold their sector.
func Constituents(ix *MarketIndex, stocks []*BotStock) []*BotStock {
	var out []*BotStock
	for _, s := range stocks {
		if !s.State.IsActive {
			continue
		}
		if ix.IndexType == IndexSector && s.Sector != ix.Sector {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].State.Symbol < out[j].State.Symbol })
	return out
}

// HybridWeights blends capitalization and equal weighting:
// w = 0.7*cap/totalCap + 0.3/n.
func HybridWeights(stocks []*BotStock) []IndexComponent {
	n := len(stocks)
	if n == 0 {
		return nil
	}
	var totalCap float64
	for _, s := range stocks {
		totalCap += math.Max(s.MarketCapMicros(), 0)
	}
	if totalCap <= 0 {
		return EqualWeights(stocks)
	}
	out := make([]IndexComponent, 0, n)
	for _, s := range stocks {
		w := capWeightShare*(math.Max(s.MarketCapMicros(), 0)/totalCap) + equalWeightShare/float64(n)
		out = append(out, IndexComponent{Symbol: s.State.Symbol, Weight: w, BasePriceMicros: s.State.BasePriceMicros})
	}
	return normalizeWeights(out)
}

func EqualWeights(stocks []*BotStock) []IndexComponent {
	n := len(stocks)
	if n == 0 {
		return nil
	}
	out := make([]IndexComponent, 0, n)
	for _, s := range stocks {
		out = append(out, IndexComponent{Symbol: s.State.Symbol, Weight: 1 / float64(n), BasePriceMicros: s.State.BasePriceMicros})
	}
	return normalizeWeights(out)
}

func normalizeWeights(cs []IndexComponent) []IndexComponent {
	var sum float64
	for _, c := range cs {
		sum += c.Weight
	}
	if sum <= 0 {
		return cs
	}
	for i := range cs {
		cs[i].Weight /= sum
	}
	return cs
}

func WeightSum(cs []IndexComponent) float64 {
	var sum float64
	for _, c := range cs {
		sum += c.Weight
	}
	return sum
}

// Rebalance recomputes weights only when the constituent set changed, so
// price noise alone never churns the weights.
func Rebalance(ix *MarketIndex, stocks []*BotStock) bool {
	members := Constituents(ix, stocks)
	if sameMembers(ix.Components, members) {
		return false
	}
	switch ix.IndexType {
	case IndexSector:
		ix.Components = EqualWeights(members)
	default:
		ix.Components = HybridWeights(members)
	}
	return true
}

func sameMembers(cs []IndexComponent, stocks []*BotStock) bool {
	if len(cs) != len(stocks) {
		return false
	}
	set := make(map[string]struct{}, len(cs))
	for _, c := range cs {
		set[c.Symbol] = struct{}{}
	}
	for _, s := range stocks {
		if _, ok := set[s.State.Symbol]; !ok {
			return false
		}
	}
	return true
}

// Recompute is the weighted average of each component's move from its own
// base, scaled to the index base value. A component missing from prices
// counts as flat.
func Recompute(ix *MarketIndex, prices map[string]int64) int64 {
	base := ix.BaseValueMicros
	if base <= 0 {
		base = IndexBaseMicros
	}
	if len(ix.Components) == 0 {
		if ix.CurrentValueMicros > 0 {
			return ix.CurrentValueMicros
		}
		return base
	}
	var acc float64
	for _, c := range ix.Components {
		rel := 1.0
		if p, ok := prices[c.Symbol]; ok && p > 0 && c.BasePriceMicros > 0 {
			rel = float64(p) / float64(c.BasePriceMicros)
		}
		acc += rel * c.Weight
	}
	v := int64(math.Round(acc * float64(base)))
	if v < 1 {
		v = 1
	}
	return v
}

// ApplyValue commits a recomputed value, rolling the 24h window first.
func ApplyValue(ix *MarketIndex, value int64, now time.Time) {
	rollWindow(ix.CurrentValueMicros, &ix.PreviousCloseMicros, &ix.High24hMicros, &ix.Low24hMicros, &ix.WindowStartedAt, now)
	ix.CurrentValueMicros = value
	if value > ix.High24hMicros {
		ix.High24hMicros = value
	}
	if ix.Low24hMicros <= 0 || value < ix.Low24hMicros {
		ix.Low24hMicros = value
	}
	ix.UpdatedAt = now
}
