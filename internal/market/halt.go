package market

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

type TradingStatus string

const (
	StatusTrading TradingStatus = "trading"
	StatusHalted  TradingStatus = "halted"
)

type HaltPolicy struct {
	BreakerPct         float64
	Cooldown           time.Duration
	MarketCooldown     time.Duration
	EscalationFraction float64
	EscalationWindow   time.Duration
}

func DefaultHaltPolicy() HaltPolicy {
	return HaltPolicy{
		BreakerPct:         0.20,
		Cooldown:           10 * time.Minute,
		MarketCooldown:     45 * time.Minute,
		EscalationFraction: 0.30,
		EscalationWindow:   5 * time.Minute,
	}
}

// HaltController holds one Trading/Halted machine per instrument plus the
// market-wide flag. It records which halts changed so the caller can
// persist only those.
type HaltController struct {
	policy HaltPolicy
	halts  map[string]Halt
	market *Halt
	// trips at or before this instant already fed a market-wide halt
	tripsAfter time.Time

	dirty       map[string]struct{}
	marketDirty bool
}

func NewHaltController(policy HaltPolicy, halts []Halt, market *Halt) *HaltController {
	c := &HaltController{
		policy: policy,
		halts:  make(map[string]Halt, len(halts)),
		dirty:  map[string]struct{}{},
	}
	for _, h := range halts {
		if h.MarketWide() {
			continue
		}
		c.halts[h.Symbol] = h
	}
	if market != nil {
		m := *market
		m.Symbol = ""
		c.market = &m
	}
	return c
}

func (c *HaltController) Policy() HaltPolicy { return c.policy }

// CountTripsAfter excludes breaker trips at or before t from escalation.
// Callers pass the start of the most recent market-wide halt so a resumed
// market is not re-halted by the trips that halted it.
func (c *HaltController) CountTripsAfter(t time.Time) {
	if t.After(c.tripsAfter) {
		c.tripsAfter = t
	}
}

func (c *HaltController) Status(symbol string) TradingStatus {
	if _, ok := c.halts[symbol]; ok {
		return StatusHalted
	}
	return StatusTrading
}

func (c *HaltController) Halt(symbol string) (Halt, bool) {
	h, ok := c.halts[symbol]
	return h, ok
}

func (c *HaltController) Market() (Halt, bool) {
	if c.market == nil {
		return Halt{}, false
	}
	return *c.market, true
}

func (c *HaltController) MarketHalted() bool { return c.market != nil }

// CanTrade is false while the instrument or the whole market is halted.
func (c *HaltController) CanTrade(symbol string) bool {
	return c.market == nil && c.Status(symbol) == StatusTrading
}

// ResumeDue clears every auto-resuming halt whose resumesAt <= now.
func (c *HaltController) ResumeDue(now time.Time) (symbols []string, market bool) {
	for sym, h := range c.halts {
		if h.Due(now) {
			delete(c.halts, sym)
			c.dirty[sym] = struct{}{}
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)
	if c.market != nil && c.market.Due(now) {
		c.market = nil
		c.marketDirty = true
		market = true
	}
	return symbols, market
}

// CheckMove is the circuit breaker. A move beyond the threshold is rejected
// and the instrument halts instead.
func (c *HaltController) CheckMove(symbol string, prev, next int64, now time.Time) (Halt, bool) {
	pct := PercentChange(prev, next)
	if math.Abs(pct) <= c.policy.BreakerPct {
		return Halt{}, false
	}
	resumes := now.Add(c.policy.Cooldown)
	h := Halt{
		Symbol:    symbol,
		Reason:    fmt.Sprintf("circuit breaker: %+.1f%% move in one tick", pct*100),
		Cause:     HaltCauseCircuitBreaker,
		HaltedAt:  now,
		ResumesAt: &resumes,
	}
	c.put(h)
	return h, true
}

// Escalate opens a market-wide halt when more than the configured fraction
// of active instruments tripped the breaker inside the rolling window.
func (c *HaltController) Escalate(now time.Time, activeCount int) (Halt, bool) {
	if c.market != nil || activeCount <= 0 {
		return Halt{}, false
	}
	tripped := c.TrippedWithin(now)
	if float64(tripped)/float64(activeCount) <= c.policy.EscalationFraction {
		return Halt{}, false
	}
	resumes := now.Add(c.policy.MarketCooldown)
	h := Halt{
		Reason:    fmt.Sprintf("market-wide halt: %d of %d instruments tripped circuit breakers", tripped, activeCount),
		Cause:     HaltCauseEscalation,
		HaltedAt:  now,
		ResumesAt: &resumes,
	}
	c.market = &h
	c.marketDirty = true
	c.CountTripsAfter(now)
	return h, true
}

func (c *HaltController) TrippedWithin(now time.Time) int {
	n := 0
	cutoff := now.Add(-c.policy.EscalationWindow)
	for _, h := range c.halts {
		if h.Cause != HaltCauseCircuitBreaker || !h.HaltedAt.After(c.tripsAfter) {
			continue
		}
		if !h.HaltedAt.Before(cutoff) {
			n++
		}
	}
	return n
}

// HaltInstrument sets or replaces an instrument halt. The price is never touched.
func (c *HaltController) HaltInstrument(symbol, reason string, cause HaltCause, now time.Time, persistent bool) Halt {
	h := Halt{
		Symbol:   symbol,
		Reason:   haltReason(reason, cause),
		Cause:    cause,
		HaltedAt: now,
	}
	if !persistent {
		resumes := now.Add(c.policy.Cooldown)
		h.ResumesAt = &resumes
	}
	c.put(h)
	return h
}

func (c *HaltController) HaltMarket(reason string, cause HaltCause, now time.Time, persistent bool) Halt {
	h := Halt{
		Reason:   haltReason(reason, cause),
		Cause:    cause,
		HaltedAt: now,
	}
	if !persistent {
		resumes := now.Add(c.policy.MarketCooldown)
		h.ResumesAt = &resumes
	}
	c.market = &h
	c.marketDirty = true
	c.CountTripsAfter(now)
	return h
}

// ResumeInstrument returns false when the instrument was already trading.
func (c *HaltController) ResumeInstrument(symbol string) bool {
	if _, ok := c.halts[symbol]; !ok {
		return false
	}
	delete(c.halts, symbol)
	c.dirty[symbol] = struct{}{}
	return true
}

func (c *HaltController) ResumeMarket() bool {
	if c.market == nil {
		return false
	}
	c.market = nil
	c.marketDirty = true
	return true
}

// Changes reports the instrument halts touched since construction; a nil
// value means the halt was cleared.
func (c *HaltController) Changes() map[string]*Halt {
	out := make(map[string]*Halt, len(c.dirty))
	for sym := range c.dirty {
		if h, ok := c.halts[sym]; ok {
			out[sym] = &h
		} else {
			out[sym] = nil
		}
	}
	return out
}

func (c *HaltController) MarketChanged() bool { return c.marketDirty }

func (c *HaltController) Halts() []Halt {
	out := make([]Halt, 0, len(c.halts))
	for _, h := range c.halts {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (c *HaltController) put(h Halt) {
	c.halts[h.Symbol] = h
	c.dirty[h.Symbol] = struct{}{}
}

func haltReason(reason string, cause HaltCause) string {
	reason = strings.TrimSpace(reason)
	if reason != "" {
		return reason
	}
	switch cause {
	case HaltCauseAdmin:
		return "halted by administrator"
	case HaltCauseInvalidState:
		return "invalid instrument state"
	default:
		return string(cause)
	}
}
