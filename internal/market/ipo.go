package market

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DefaultIPOWindow   = 12 * time.Hour
	MaxPriceHistory    = 288
	ipoVolatility      = 0.04
	ipoTrendStrength   = 1
	tickerAttempts     = 64
	minIPOPriceStonky  = 5
	maxIPOPriceStonky  = 500
	minIPOBasePoints   = 10
	maxIPOBasePoints   = 100_000
	netWorthPriceRatio = 0.0001
)

var (
	MinRewardMultiplier = decimal.NewFromFloat(0.25)
	MaxRewardMultiplier = decimal.NewFromInt(3)
)

type StartIPOInput struct {
	OwnerUserID    string `json:"owner_user_id"`
	OwnerName      string `json:"display_name"`
	NetWorthMicros int64  `json:"net_worth_micros"`
}

// IPOResult is what the reward collaborator receives when an IPO retires.
type IPOResult struct {
	IPOID            string    `json:"ipo_id"`
	Symbol           string    `json:"symbol"`
	OwnerUserID      string    `json:"owner_user_id"`
	IPOPriceMicros   int64     `json:"ipo_price_micros"`
	FinalPriceMicros int64     `json:"final_price_micros"`
	BasePoints       int64     `json:"base_points"`
	Multiplier       string    `json:"multiplier"`
	PotentialPoints  int64     `json:"potential_points"`
	Delisted         bool      `json:"delisted"`
	RetiredAt        time.Time `json:"retired_at"`
}

// IPOBasePrice maps qualifying net worth to an issue price.
func IPOBasePrice(netWorthMicros int64) int64 {
	stonky := MicrosToStonky(netWorthMicros) * netWorthPriceRatio
	stonky = clampFloat(stonky, minIPOPriceStonky, maxIPOPriceStonky)
	return StonkyToMicros(stonky)
}

func IPOBasePoints(netWorthMicros int64) int64 {
	if netWorthMicros <= 0 {
		return minIPOBasePoints
	}
	pts := int64(math.Floor(math.Sqrt(MicrosToStonky(netWorthMicros))))
	if pts < minIPOBasePoints {
		return minIPOBasePoints
	}
	if pts > maxIPOBasePoints {
		return maxIPOBasePoints
	}
	return pts
}

// NewIPO builds a fresh IPO. taken reports symbols already held by an
// active instrument; the ticker is retried until it is free.
func NewIPO(in StartIPOInput, now time.Time, window time.Duration, taken func(string) bool, rng Rand) (*PlayerIPO, error) {
	in.OwnerUserID = strings.TrimSpace(in.OwnerUserID)
	if in.OwnerUserID == "" {
		return nil, fmt.Errorf("%w: owner_user_id is required", ErrInvalidCommand)
	}
	if in.NetWorthMicros < 0 {
		return nil, fmt.Errorf("%w: net worth must be >= 0", ErrInvalidCommand)
	}
	if window <= 0 {
		window = DefaultIPOWindow
	}
	symbol, err := GenerateTicker(in.OwnerName, taken, rng)
	if err != nil {
		return nil, err
	}
	price := IPOBasePrice(in.NetWorthMicros)
	name := strings.TrimSpace(in.OwnerName)
	if name == "" {
		name = symbol
	}
	return &PlayerIPO{
		ID: uuid.NewString(),
		State: Quote{
			Symbol:              symbol,
			CurrentPriceMicros:  price,
			PreviousCloseMicros: price,
			High24hMicros:       price,
			Low24hMicros:        price,
			BasePriceMicros:     price,
			Volatility:          ipoVolatility,
			Trend:               TrendNeutral,
			TrendStrength:       ipoTrendStrength,
			IsActive:            true,
			WindowStartedAt:     now,
			LastTickAt:          now,
		},
		OwnerUserID:    in.OwnerUserID,
		OwnerName:      name,
		IPOPriceMicros: price,
		BasePoints:     IPOBasePoints(in.NetWorthMicros),
		PriceHistory:   []PricePoint{{At: now, PriceMicros: price}},
		StartsAt:       now,
		ExpiresAt:      now.Add(window),
	}, nil
}

// GenerateTicker takes up to three letters from name and pads with random
// letters to six.
func GenerateTicker(name string, taken func(string) bool, rng Rand) (string, error) {
	var prefix []byte
	for _, r := range strings.ToUpper(name) {
		if r >= 'A' && r <= 'Z' {
			prefix = append(prefix, byte(r))
		}
		if len(prefix) == 3 {
			break
		}
	}
	for attempt := 0; attempt < tickerAttempts; attempt++ {
		keep := len(prefix)
		// fall back to fully random tickers once the prefix space looks crowded
		if attempt >= tickerAttempts/2 {
			keep = 0
		}
		buf := make([]byte, 0, 6)
		buf = append(buf, prefix[:keep]...)
		for len(buf) < 6 {
			buf = append(buf, byte('A'+rng.Intn(26)))
		}
		sym := string(buf)
		if taken == nil || !taken(sym) {
			return sym, nil
		}
	}
	return "", ErrSymbolSpaceExhausted
}

// AppendHistory appends a sample and drops the oldest beyond MaxPriceHistory.
func AppendHistory(h []PricePoint, p PricePoint) []PricePoint {
	h = append(h, p)
	if len(h) > MaxPriceHistory {
		h = append([]PricePoint(nil), h[len(h)-MaxPriceHistory:]...)
	}
	return h
}

// RewardMultiplier is finalPrice/ipoPrice bounded to [0.25, 3].
func RewardMultiplier(ipoPriceMicros, finalPriceMicros int64) decimal.Decimal {
	if ipoPriceMicros <= 0 {
		return decimal.NewFromInt(1)
	}
	m := decimal.NewFromInt(finalPriceMicros).DivRound(decimal.NewFromInt(ipoPriceMicros), 8)
	if m.LessThan(MinRewardMultiplier) {
		return MinRewardMultiplier
	}
	if m.GreaterThan(MaxRewardMultiplier) {
		return MaxRewardMultiplier
	}
	return m
}

func PotentialPoints(basePoints, ipoPriceMicros, finalPriceMicros int64) int64 {
	m := RewardMultiplier(ipoPriceMicros, finalPriceMicros)
	return decimal.NewFromInt(basePoints).Mul(m).Round(0).IntPart()
}

// PotentialPointsFromHistory replays the reward from the last history sample.
func PotentialPointsFromHistory(basePoints, ipoPriceMicros int64, history []PricePoint) int64 {
	if len(history) == 0 {
		return PotentialPoints(basePoints, ipoPriceMicros, ipoPriceMicros)
	}
	return PotentialPoints(basePoints, ipoPriceMicros, history[len(history)-1].PriceMicros)
}

// Retire moves an IPO to its terminal state. Delisted IPOs forfeit the reward.
func Retire(ipo *PlayerIPO, now time.Time, delisted bool) IPOResult {
	final := ipo.State.CurrentPriceMicros
	mult := RewardMultiplier(ipo.IPOPriceMicros, final)
	points := PotentialPoints(ipo.BasePoints, ipo.IPOPriceMicros, final)
	if delisted {
		mult = decimal.Zero
		points = 0
	}
	ipo.State.IsActive = false
	ipo.Delisted = delisted
	ipo.PotentialPoints = points
	ipo.ActiveEventSlug = ""
	ipo.EventExpiresAt = nil
	return IPOResult{
		IPOID:            ipo.ID,
		Symbol:           ipo.State.Symbol,
		OwnerUserID:      ipo.OwnerUserID,
		IPOPriceMicros:   ipo.IPOPriceMicros,
		FinalPriceMicros: final,
		BasePoints:       ipo.BasePoints,
		Multiplier:       mult.StringFixed(4),
		PotentialPoints:  points,
		Delisted:         delisted,
		RetiredAt:        now,
	}
}

// LivePotentialPoints is the reward the IPO would pay if it expired now.
func LivePotentialPoints(ipo *PlayerIPO) int64 {
	if !ipo.State.IsActive {
		return ipo.PotentialPoints
	}
	return PotentialPoints(ipo.BasePoints, ipo.IPOPriceMicros, ipo.State.CurrentPriceMicros)
}
