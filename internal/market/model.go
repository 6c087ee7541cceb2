package market

import (
	"errors"
	"math"
	"regexp"
	"strings"
)

const (
	MicrosPerStonky = int64(1_000_000)

	// MinPriceMicros is the price floor: 0.01 stonky.
	MinPriceMicros = int64(10_000)
	MaxPriceMicros = int64(2_000_000_000_000_000)

	IndexBaseMicros = int64(1_000) * MicrosPerStonky
)

var (
	ErrInvalidSymbol        = errors.New("symbol must be exactly 6 uppercase letters")
	ErrInstrumentNotFound   = errors.New("instrument not found")
	ErrInstrumentInactive   = errors.New("instrument is not active")
	ErrIPOAlreadyActive     = errors.New("player already has an active ipo")
	ErrIPONotFound          = errors.New("ipo not found")
	ErrMarketHalted         = errors.New("market is halted")
	ErrInstrumentHalted     = errors.New("instrument is halted")
	ErrNotDelistable        = errors.New("only player ipo stocks can be delisted")
	ErrInvalidCommand       = errors.New("invalid admin command")
	ErrStoreConflict        = errors.New("store write conflict")
	ErrSymbolSpaceExhausted = errors.New("could not allocate a unique ticker")
)

var symbolRE = regexp.MustCompile(`^[A-Z]{6}$`)

func ValidateSymbol(symbol string) error {
	if !symbolRE.MatchString(strings.TrimSpace(symbol)) {
		return ErrInvalidSymbol
	}
	return nil
}

// NormalizeSymbol upper-cases and trims a user supplied ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func StonkyToMicros(v float64) int64 {
	return int64(math.Round(v * float64(MicrosPerStonky)))
}

func MicrosToStonky(v int64) float64 {
	return float64(v) / float64(MicrosPerStonky)
}

func clampPrice(p int64) int64 {
	if p < MinPriceMicros {
		return MinPriceMicros
	}
	if p > MaxPriceMicros {
		return MaxPriceMicros
	}
	return p
}

// PercentChange returns the fractional move from prev to next.
func PercentChange(prev, next int64) float64 {
	if prev <= 0 {
		return 0
	}
	return float64(next-prev) / float64(prev)
}
