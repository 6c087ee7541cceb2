package market

import (
	"context"
	"strings"
	"time"
)

const MasterIndexSymbol = "STNK20"

type seedStock struct {
	Symbol     string
	Name       string
	Sector     string
	Price      int64
	Volatility float64
	Shares     int64
	Trend      Trend
	Strength   int32
}

var defaultSeed = []seedStock{
	{"NIMBUS", "Nimbus Labs", "technology", 95 * MicrosPerStonky, 0.025, 4_000_000, TrendBullish, 2},
	{"RUSTIC", "Rustic Systems", "technology", 115 * MicrosPerStonky, 0.020, 3_500_000, TrendNeutral, 0},
	{"KOTLIN", "Kotlin Forge", "technology", 90 * MicrosPerStonky, 0.030, 2_800_000, TrendBullish, 1},
	{"VECTRA", "Vectra AI", "technology", 165 * MicrosPerStonky, 0.045, 5_200_000, TrendBullish, 3},
	{"PYLONS", "Pylon Networks", "infrastructure", 80 * MicrosPerStonky, 0.018, 6_000_000, TrendNeutral, 0},
	{"JAVOLT", "Javolt Cloud", "infrastructure", 105 * MicrosPerStonky, 0.022, 4_400_000, TrendNeutral, 1},
	{"NODEON", "Nodeon Runtime", "infrastructure", 120 * MicrosPerStonky, 0.027, 3_000_000, TrendBearish, 1},
	{"QUARKX", "Quarkx Compute", "infrastructure", 135 * MicrosPerStonky, 0.035, 2_600_000, TrendBullish, 2},
	{"COBOLT", "Cobalt Dynamics", "energy", 130 * MicrosPerStonky, 0.030, 3_800_000, TrendNeutral, 0},
	{"FUSION", "Fusion Grid", "energy", 110 * MicrosPerStonky, 0.040, 4_100_000, TrendBullish, 2},
	{"NEBULA", "Nebula Energy", "energy", 92 * MicrosPerStonky, 0.050, 3_300_000, TrendBearish, 2},
	{"ORBITZ", "Orbitz Space", "energy", 180 * MicrosPerStonky, 0.060, 1_900_000, TrendNeutral, 1},
	{"ARCANE", "Arcane Finance", "finance", 145 * MicrosPerStonky, 0.020, 5_000_000, TrendNeutral, 0},
	{"DATUMX", "Datumx Data", "finance", 85 * MicrosPerStonky, 0.024, 3_600_000, TrendBullish, 1},
	{"ELIXIR", "Elixir Ops", "finance", 125 * MicrosPerStonky, 0.019, 2_900_000, TrendNeutral, 0},
	{"CYBRON", "Cybron Secure", "finance", 140 * MicrosPerStonky, 0.033, 2_200_000, TrendBearish, 1},
	{"SWIFTR", "Swiftr Mobile", "consumer", 150 * MicrosPerStonky, 0.028, 4_700_000, TrendBullish, 1},
	{"RUBYIX", "Rubyix Core", "consumer", 70 * MicrosPerStonky, 0.015, 6_500_000, TrendNeutral, 0},
	{"ZENITH", "Zenith Retail", "consumer", 75 * MicrosPerStonky, 0.021, 5_800_000, TrendBearish, 1},
	{"LUMINA", "Lumina Health", "consumer", 102 * MicrosPerStonky, 0.026, 3_100_000, TrendBullish, 1},
}

var sectorIndexSymbols = map[string]string{
	"technology":     "STKTEC",
	"infrastructure": "STKINF",
	"energy":         "STKENR",
	"finance":        "STKFIN",
	"consumer":       "STKCON",
}

// DefaultStocks returns the built-in bot stock universe.
func DefaultStocks(now time.Time) []*BotStock {
	out := make([]*BotStock, 0, len(defaultSeed))
	for i, s := range defaultSeed {
		out = append(out, &BotStock{
			State: Quote{
				Symbol:              s.Symbol,
				CurrentPriceMicros:  s.Price,
				PreviousCloseMicros: s.Price,
				High24hMicros:       s.Price,
				Low24hMicros:        s.Price,
				BasePriceMicros:     s.Price,
				Volatility:          s.Volatility,
				Trend:               s.Trend,
				TrendStrength:       s.Strength,
				IsActive:            true,
				WindowStartedAt:     now,
				LastTickAt:          now,
			},
			CompanyName:       s.Name,
			Sector:            s.Sector,
			SortOrder:         int32(i + 1),
			SharesOutstanding: s.Shares,
		})
	}
	return out
}

// DefaultIndices builds the master index and one equal-weighted index per
// sector, all starting at the base value.
func DefaultIndices(stocks []*BotStock, now time.Time) []*MarketIndex {
	master := newIndex(MasterIndexSymbol, "Stanks 20", IndexMaster, "", now)
	Rebalance(master, stocks)
	out := []*MarketIndex{master}

	seen := map[string]struct{}{}
	for _, s := range stocks {
		if _, ok := seen[s.Sector]; ok || s.Sector == "" {
			continue
		}
		seen[s.Sector] = struct{}{}
		sym, ok := sectorIndexSymbols[s.Sector]
		if !ok {
			sym = sectorIndexSymbol(s.Sector)
		}
		ix := newIndex(sym, strings.ToUpper(s.Sector[:1])+s.Sector[1:]+" Sector", IndexSector, s.Sector, now)
		Rebalance(ix, stocks)
		out = append(out, ix)
	}
	return out
}

func newIndex(symbol, name string, t IndexType, sector string, now time.Time) *MarketIndex {
	return &MarketIndex{
		Symbol:              symbol,
		Name:                name,
		IndexType:           t,
		Sector:              sector,
		BaseValueMicros:     IndexBaseMicros,
		CurrentValueMicros:  IndexBaseMicros,
		PreviousCloseMicros: IndexBaseMicros,
		High24hMicros:       IndexBaseMicros,
		Low24hMicros:        IndexBaseMicros,
		WindowStartedAt:     now,
		UpdatedAt:           now,
	}
}

func sectorIndexSymbol(sector string) string {
	letters := []byte("STK")
	for _, r := range strings.ToUpper(sector) {
		if r >= 'A' && r <= 'Z' {
			letters = append(letters, byte(r))
		}
		if len(letters) == 6 {
			break
		}
	}
	for len(letters) < 6 {
		letters = append(letters, 'X')
	}
	return string(letters)
}

// SeedDefaults fills an empty store with the default universe. It is a
// no-op once any bot stock exists.
func (e *Engine) SeedDefaults(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return err
	}
	if len(snap.Stocks) > 0 {
		return nil
	}
	now := e.now()
	stocks := DefaultStocks(now)
	if err := e.store.Seed(ctx, stocks, DefaultIndices(stocks, now)); err != nil {
		return err
	}
	e.log.Info("seeded market", "stocks", len(stocks))
	return e.refreshView(ctx, now)
}
