package market

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIPOBasePriceAndPoints(t *testing.T) {
	tests := []struct {
		name      string
		netWorth  int64
		price     int64
		basePoint int64
	}{
		{"zero", 0, 5 * MicrosPerStonky, 10},
		{"small", 50_000 * MicrosPerStonky, 5 * MicrosPerStonky, 223},
		{"mid", 1_000_000 * MicrosPerStonky, 100 * MicrosPerStonky, 1_000},
		{"huge", 1_000_000_000_000 * MicrosPerStonky, 500 * MicrosPerStonky, 100_000},
	}
	for _, tc := range tests {
		if got := IPOBasePrice(tc.netWorth); got != tc.price {
			t.Fatalf("%s: got price %d want %d", tc.name, got, tc.price)
		}
		if got := IPOBasePoints(tc.netWorth); got != tc.basePoint {
			t.Fatalf("%s: got points %d want %d", tc.name, got, tc.basePoint)
		}
	}
}

func TestPotentialPoints(t *testing.T) {
	tests := []struct {
		name  string
		base  int64
		ipo   int64
		final int64
		want  int64
	}{
		{"flat", 100, 50, 50, 100},
		{"up half", 100, 50, 75, 150},
		{"floor", 100, 100, 10, 25},
		{"cap", 100, 100, 1000, 300},
		{"no ipo price", 100, 0, 40, 100},
	}
	for _, tc := range tests {
		if got := PotentialPoints(tc.base, tc.ipo, tc.final); got != tc.want {
			t.Fatalf("%s: got %d want %d", tc.name, got, tc.want)
		}
	}
	hist := []PricePoint{{PriceMicros: 50}, {PriceMicros: 75}}
	if got := PotentialPointsFromHistory(100, 50, hist); got != 150 {
		t.Fatalf("from history got %d want 150", got)
	}
}

func TestGenerateTicker(t *testing.T) {
	rng := fixedRand{n: 0}
	sym, err := GenerateTicker("alice cooper", nil, rng)
	if err != nil || sym != "ALIAAA" {
		t.Fatalf("got %q %v want ALIAAA", sym, err)
	}
	if sym, _ = GenerateTicker("42", nil, rng); sym != "AAAAAA" {
		t.Fatalf("no letters: got %q want AAAAAA", sym)
	}

	crowded := func(s string) bool { return strings.HasPrefix(s, "ALI") }
	sym, err = GenerateTicker("Alice", crowded, rng)
	if err != nil || sym != "AAAAAA" {
		t.Fatalf("crowded prefix: got %q %v want AAAAAA", sym, err)
	}

	_, err = GenerateTicker("Alice", func(string) bool { return true }, rng)
	if !errors.Is(err, ErrSymbolSpaceExhausted) {
		t.Fatalf("got %v want ErrSymbolSpaceExhausted", err)
	}
}

func TestNewIPO(t *testing.T) {
	in := StartIPOInput{OwnerUserID: " user-1 ", OwnerName: "Alice", NetWorthMicros: 1_000_000 * MicrosPerStonky}
	ipo, err := NewIPO(in, t0, 0, nil, fixedRand{})
	if err != nil {
		t.Fatalf("new ipo: %v", err)
	}
	if ipo.OwnerUserID != "user-1" || ipo.State.Symbol != "ALIAAA" {
		t.Fatalf("got owner %q symbol %q", ipo.OwnerUserID, ipo.State.Symbol)
	}
	if !ipo.ExpiresAt.Equal(t0.Add(DefaultIPOWindow)) {
		t.Fatalf("got expiry %v", ipo.ExpiresAt)
	}
	if ipo.IPOPriceMicros != 100*MicrosPerStonky || ipo.BasePoints != 1_000 || len(ipo.PriceHistory) != 1 {
		t.Fatalf("got %+v", ipo)
	}
	if ipo.Expired(t0.Add(11*time.Hour)) || !ipo.Expired(t0.Add(12*time.Hour)) {
		t.Fatalf("expiry boundary wrong")
	}

	if _, err := NewIPO(StartIPOInput{OwnerName: "Nobody"}, t0, 0, nil, fixedRand{}); !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("got %v want ErrInvalidCommand", err)
	}
	if _, err := NewIPO(StartIPOInput{OwnerUserID: "u", NetWorthMicros: -1}, t0, 0, nil, fixedRand{}); !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("negative net worth: got %v want ErrInvalidCommand", err)
	}
}

func TestAppendHistoryCaps(t *testing.T) {
	var h []PricePoint
	for i := 0; i < MaxPriceHistory+10; i++ {
		h = AppendHistory(h, PricePoint{At: t0.Add(time.Duration(i) * time.Minute), PriceMicros: int64(i)})
	}
	if len(h) != MaxPriceHistory {
		t.Fatalf("got %d samples want %d", len(h), MaxPriceHistory)
	}
	if h[0].PriceMicros != 10 || h[len(h)-1].PriceMicros != int64(MaxPriceHistory+9) {
		t.Fatalf("got first=%d last=%d", h[0].PriceMicros, h[len(h)-1].PriceMicros)
	}
}

func TestRetire(t *testing.T) {
	newIPO := func() *PlayerIPO {
		ipo, err := NewIPO(StartIPOInput{OwnerUserID: "u-1", OwnerName: "Bob", NetWorthMicros: 1_000_000 * MicrosPerStonky}, t0, time.Hour, nil, fixedRand{})
		if err != nil {
			t.Fatalf("new ipo: %v", err)
		}
		return ipo
	}

	ipo := newIPO()
	ipo.State.CurrentPriceMicros = 150 * MicrosPerStonky
	if got := LivePotentialPoints(ipo); got != 1_500 {
		t.Fatalf("live points got %d want 1500", got)
	}
	res := Retire(ipo, t0.Add(time.Hour), false)
	if res.Multiplier != "1.5000" || res.PotentialPoints != 1_500 || res.Delisted {
		t.Fatalf("got %+v", res)
	}
	if ipo.State.IsActive || ipo.PotentialPoints != 1_500 || LivePotentialPoints(ipo) != 1_500 {
		t.Fatalf("retired ipo state %+v", ipo)
	}

	ipo = newIPO()
	ipo.ActiveEventSlug = "earnings-beat"
	res = Retire(ipo, t0, true)
	if res.Multiplier != "0.0000" || res.PotentialPoints != 0 || !res.Delisted {
		t.Fatalf("delisted got %+v", res)
	}
	if ipo.ActiveEventSlug != "" || !ipo.Delisted {
		t.Fatalf("delisted ipo state %+v", ipo)
	}
}
