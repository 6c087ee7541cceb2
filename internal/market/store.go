package market

import (
	"context"
	"errors"
	"time"
)

// Snapshot is everything one tick reads, as of a single point in time.
type Snapshot struct {
	Stocks     []*BotStock
	IPOs       []*PlayerIPO
	Indices    []*MarketIndex
	Events     []ActiveEvent
	Halts      []Halt
	MarketHalt *Halt
	// LastMarketHaltAt is when the most recent market-wide halt began, kept
	// after that halt is cleared.
	LastMarketHaltAt time.Time
}

// EventMark is the event an IPO currently displays; an empty Slug clears it.
type EventMark struct {
	Slug      string
	ExpiresAt *time.Time
}

// InstrumentDelta is one instrument's write for a tick or admin command.
// Nil pointer fields leave the stored value untouched.
type InstrumentDelta struct {
	Symbol string
	Kind   InstrumentKind
	Quote  *Quote

	HaltChanged bool
	Halt        *Halt

	Sample *PricePoint
	Event  *EventMark
}

type IndexDelta struct {
	Index MarketIndex
}

// Store is the durable state the engine reads and writes. Writes are keyed
// by symbol or id and must be individually atomic.
type Store interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	ApplyInstrument(ctx context.Context, d InstrumentDelta) error
	ApplyIndex(ctx context.Context, d IndexDelta) error
	RecordEvents(ctx context.Context, activated, expired []ActiveEvent) error
	SetMarketHalt(ctx context.Context, h *Halt) error
	CreateIPO(ctx context.Context, ipo *PlayerIPO) error
	RetireIPO(ctx context.Context, res IPOResult) error
	IPO(ctx context.Context, symbol string) (*PlayerIPO, error)
	PriceSeries(ctx context.Context, symbol string, since time.Time, limit int) ([]PricePoint, error)
	Seed(ctx context.Context, stocks []*BotStock, indices []*MarketIndex) error
}

// RewardSink receives the terminal result of every expired IPO.
type RewardSink interface {
	AwardIPO(ctx context.Context, res IPOResult) error
}

const (
	storeWriteTimeout = 5 * time.Second
	maxRetryDelay     = 1200 * time.Millisecond
)

// IsTransient reports whether a store error is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreConflict) || errors.Is(err, context.DeadlineExceeded)
}

// withRetry runs fn up to attempts times while it fails transiently,
// doubling the delay between attempts. It returns the attempts used.
func withRetry(ctx context.Context, attempts int, delay time.Duration, fn func(context.Context) error) (int, error) {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = func() error {
			wctx, cancel := context.WithTimeout(ctx, storeWriteTimeout)
			defer cancel()
			return fn(wctx)
		}()
		if err == nil || !IsTransient(err) {
			return attempt, err
		}
		if attempt == attempts {
			return attempt, err
		}
		if serr := sleepWithContext(ctx, delay); serr != nil {
			return attempt, err
		}
		if delay < maxRetryDelay {
			delay *= 2
		}
	}
	return attempts, err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
