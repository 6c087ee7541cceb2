package market

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Action string

const (
	ActionHalt   Action = "halt"
	ActionResume Action = "resume"
	ActionReset  Action = "reset"
	ActionDelist Action = "delist"
)

// MarketTarget addresses the market-wide halt in halt/resume commands.
const MarketTarget = "market"

// Command is an administrative override. Commands are applied under the
// tick lock, so they land before or after a tick, never inside one.
type Command struct {
	Action     Action `json:"action"`
	Target     string `json:"target"`
	Reason     string `json:"reason,omitempty"`
	Persistent bool   `json:"persistent,omitempty"`
}

type CommandResult struct {
	Action     Action              `json:"action"`
	Target     string              `json:"target"`
	Applied    bool                `json:"applied"`
	Halt       *Halt               `json:"halt,omitempty"`
	Instrument *InstrumentSnapshot `json:"instrument,omitempty"`
	Retired    *IPOResult          `json:"retired,omitempty"`
}

func (e *Engine) Apply(ctx context.Context, cmd Command) (CommandResult, error) {
	cmd.Action = Action(strings.ToLower(strings.TrimSpace(string(cmd.Action))))
	cmd.Target = strings.TrimSpace(cmd.Target)
	marketWide := strings.EqualFold(cmd.Target, MarketTarget)
	switch {
	case cmd.Target == "":
		return CommandResult{}, fmt.Errorf("%w: missing target", ErrInvalidCommand)
	case !marketWide:
		cmd.Target = NormalizeSymbol(cmd.Target)
		// no instrument can carry a malformed symbol
		if err := ValidateSymbol(cmd.Target); err != nil {
			return CommandResult{}, fmt.Errorf("%s: %w", cmd.Target, ErrInstrumentNotFound)
		}
	default:
		cmd.Target = MarketTarget
	}

	switch {
	case cmd.Action == ActionHalt && marketWide:
		return e.haltMarket(ctx, cmd)
	case cmd.Action == ActionHalt:
		return e.haltInstrument(ctx, cmd)
	case cmd.Action == ActionResume && marketWide:
		return e.resumeMarket(ctx, cmd)
	case cmd.Action == ActionResume:
		return e.resumeInstrument(ctx, cmd)
	case cmd.Action == ActionReset && !marketWide:
		return e.resetPrice(ctx, cmd)
	case cmd.Action == ActionDelist && !marketWide:
		return e.delist(ctx, cmd)
	default:
		return CommandResult{}, fmt.Errorf("%w: %s %s", ErrInvalidCommand, cmd.Action, cmd.Target)
	}
}

func (e *Engine) HaltMarket(ctx context.Context, reason string, persistent bool) (CommandResult, error) {
	return e.Apply(ctx, Command{Action: ActionHalt, Target: MarketTarget, Reason: reason, Persistent: persistent})
}

func (e *Engine) HaltInstrument(ctx context.Context, symbol, reason string, persistent bool) (CommandResult, error) {
	return e.Apply(ctx, Command{Action: ActionHalt, Target: symbol, Reason: reason, Persistent: persistent})
}

func (e *Engine) Resume(ctx context.Context, target string) (CommandResult, error) {
	return e.Apply(ctx, Command{Action: ActionResume, Target: target})
}

func (e *Engine) ResetPrice(ctx context.Context, symbol string) (CommandResult, error) {
	return e.Apply(ctx, Command{Action: ActionReset, Target: symbol})
}

func (e *Engine) Delist(ctx context.Context, symbol, reason string) (CommandResult, error) {
	return e.Apply(ctx, Command{Action: ActionDelist, Target: symbol, Reason: reason})
}

func (e *Engine) haltMarket(ctx context.Context, cmd Command) (CommandResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return CommandResult{}, err
	}
	now := e.now()
	ctl := NewHaltController(e.cfg.Halt, snap.Halts, snap.MarketHalt)
	h := ctl.HaltMarket(cmd.Reason, HaltCauseAdmin, now, cmd.Persistent)
	if err := e.write(ctx, "market_halt", func(ctx context.Context) error {
		return e.store.SetMarketHalt(ctx, &h)
	}); err != nil {
		return CommandResult{}, err
	}
	e.metrics.halt(HaltCauseAdmin)
	e.metrics.setMarketHalted(true)
	e.log.Warn("market halted by admin", "reason", h.Reason, "persistent", cmd.Persistent)
	e.refresh(ctx, now)
	return CommandResult{Action: cmd.Action, Target: cmd.Target, Applied: true, Halt: &h}, nil
}

func (e *Engine) resumeMarket(ctx context.Context, cmd Command) (CommandResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return CommandResult{}, err
	}
	now := e.now()
	ctl := NewHaltController(e.cfg.Halt, snap.Halts, snap.MarketHalt)
	if !ctl.ResumeMarket() {
		return CommandResult{Action: cmd.Action, Target: cmd.Target}, nil
	}
	if err := e.write(ctx, "market_halt", func(ctx context.Context) error {
		return e.store.SetMarketHalt(ctx, nil)
	}); err != nil {
		return CommandResult{}, err
	}
	e.metrics.setMarketHalted(false)
	e.log.Info("market resumed by admin")
	e.refresh(ctx, now)
	return CommandResult{Action: cmd.Action, Target: cmd.Target, Applied: true}, nil
}

func (e *Engine) haltInstrument(ctx context.Context, cmd Command) (CommandResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return CommandResult{}, err
	}
	inst, err := findInstrument(snap, cmd.Target)
	if err != nil {
		return CommandResult{}, err
	}
	if !inst.Quote().IsActive {
		return CommandResult{}, ErrInstrumentInactive
	}
	now := e.now()
	ctl := NewHaltController(e.cfg.Halt, snap.Halts, snap.MarketHalt)
	h := ctl.HaltInstrument(cmd.Target, cmd.Reason, HaltCauseAdmin, now, cmd.Persistent)
	if err := e.write(ctx, "instrument", func(ctx context.Context) error {
		return e.store.ApplyInstrument(ctx, InstrumentDelta{Symbol: cmd.Target, Kind: inst.Kind(), HaltChanged: true, Halt: &h})
	}); err != nil {
		return CommandResult{}, err
	}
	e.metrics.halt(HaltCauseAdmin)
	e.log.Warn("instrument halted by admin", "symbol", cmd.Target, "reason", h.Reason, "persistent", cmd.Persistent)
	e.refresh(ctx, now)
	return e.resultFor(cmd, true, &h), nil
}

// resumeInstrument is a no-op when the instrument is already trading.
func (e *Engine) resumeInstrument(ctx context.Context, cmd Command) (CommandResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return CommandResult{}, err
	}
	inst, err := findInstrument(snap, cmd.Target)
	if err != nil {
		return CommandResult{}, err
	}
	ctl := NewHaltController(e.cfg.Halt, snap.Halts, snap.MarketHalt)
	if !ctl.ResumeInstrument(cmd.Target) {
		return e.resultFor(cmd, false, nil), nil
	}
	now := e.now()
	if err := e.write(ctx, "instrument", func(ctx context.Context) error {
		return e.store.ApplyInstrument(ctx, InstrumentDelta{Symbol: cmd.Target, Kind: inst.Kind(), HaltChanged: true})
	}); err != nil {
		return CommandResult{}, err
	}
	e.log.Info("instrument resumed by admin", "symbol", cmd.Target)
	e.refresh(ctx, now)
	return e.resultFor(cmd, true, nil), nil
}

// resetPrice restores the base price, widening high/low to include it.
// A halted instrument keeps its frozen price unless the halt is an
// invalid-state halt, which the reset clears in the same write.
func (e *Engine) resetPrice(ctx context.Context, cmd Command) (CommandResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return CommandResult{}, err
	}
	if snap.MarketHalt != nil {
		return CommandResult{}, ErrMarketHalted
	}
	inst, err := findInstrument(snap, cmd.Target)
	if err != nil {
		return CommandResult{}, err
	}
	q := *inst.Quote()
	if !q.IsActive {
		return CommandResult{}, ErrInstrumentInactive
	}
	ctl := NewHaltController(e.cfg.Halt, snap.Halts, nil)
	h, halted := ctl.Halt(cmd.Target)
	if halted && h.Cause != HaltCauseInvalidState {
		return CommandResult{}, fmt.Errorf("reset %s: %w", cmd.Target, ErrInstrumentHalted)
	}
	now := e.now()
	q.CurrentPriceMicros = clampPrice(q.BasePriceMicros)
	if q.CurrentPriceMicros > q.High24hMicros {
		q.High24hMicros = q.CurrentPriceMicros
	}
	if q.Low24hMicros <= 0 || q.CurrentPriceMicros < q.Low24hMicros {
		q.Low24hMicros = q.CurrentPriceMicros
	}
	if now.After(q.LastTickAt) {
		q.LastTickAt = now
	}
	d := InstrumentDelta{
		Symbol: cmd.Target,
		Kind:   inst.Kind(),
		Quote:  &q,
		Sample: &PricePoint{At: now, PriceMicros: q.CurrentPriceMicros},
	}
	if halted {
		// nil Halt with HaltChanged clears it
		d.HaltChanged = true
	}
	if err := e.write(ctx, "instrument", func(ctx context.Context) error {
		return e.store.ApplyInstrument(ctx, d)
	}); err != nil {
		return CommandResult{}, err
	}
	e.log.Info("instrument price reset by admin", "symbol", cmd.Target, "price_micros", q.CurrentPriceMicros, "cleared_halt", halted)
	e.refresh(ctx, now)
	return e.resultFor(cmd, true, nil), nil
}

func (e *Engine) delist(ctx context.Context, cmd Command) (CommandResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return CommandResult{}, err
	}
	inst, err := findInstrument(snap, cmd.Target)
	if err != nil {
		return CommandResult{}, err
	}
	ipo, ok := inst.(*PlayerIPO)
	if !ok {
		return CommandResult{}, ErrNotDelistable
	}
	if !ipo.State.IsActive {
		return CommandResult{}, ErrInstrumentInactive
	}
	now := e.now()
	res, ok := e.retire(ctx, ipo.Clone(), now, true)
	if !ok {
		return CommandResult{}, fmt.Errorf("delist %s: %w", cmd.Target, ErrStoreConflict)
	}
	e.log.Warn("ipo delisted by admin", "symbol", cmd.Target, "reason", strings.TrimSpace(cmd.Reason))
	e.refresh(ctx, now)
	return CommandResult{Action: cmd.Action, Target: cmd.Target, Applied: true, Retired: &res}, nil
}

// StartIPO lists a new player IPO. A player with an active IPO gets that
// IPO back together with ErrIPOAlreadyActive.
func (e *Engine) StartIPO(ctx context.Context, in StartIPOInput) (IPOStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return IPOStatus{}, err
	}
	now := e.now()
	in.OwnerUserID = strings.TrimSpace(in.OwnerUserID)
	taken := map[string]struct{}{}
	for _, s := range snap.Stocks {
		taken[s.State.Symbol] = struct{}{}
	}
	for _, p := range snap.IPOs {
		if !p.State.IsActive {
			continue
		}
		if p.OwnerUserID == in.OwnerUserID {
			return NewIPOStatus(p, now), ErrIPOAlreadyActive
		}
		taken[p.State.Symbol] = struct{}{}
	}
	ipo, err := NewIPO(in, now, e.cfg.IPOWindow, func(sym string) bool {
		_, ok := taken[sym]
		return ok
	}, e.rng)
	if err != nil {
		return IPOStatus{}, err
	}
	if err := e.write(ctx, "create_ipo", func(ctx context.Context) error {
		return e.store.CreateIPO(ctx, ipo)
	}); err != nil {
		return IPOStatus{}, err
	}
	e.log.Info("ipo started", "symbol", ipo.State.Symbol, "owner", ipo.OwnerUserID, "ipo_price_micros", ipo.IPOPriceMicros, "base_points", ipo.BasePoints, "expires_at", ipo.ExpiresAt)
	e.refresh(ctx, now)
	return NewIPOStatus(ipo, now), nil
}

// IPOStatus serves active IPOs from the view and retired ones from the store.
func (e *Engine) IPOStatus(ctx context.Context, symbol string) (IPOStatus, error) {
	symbol = NormalizeSymbol(symbol)
	if err := ValidateSymbol(symbol); err != nil {
		return IPOStatus{}, err
	}
	if st, ok := e.View().IPO(symbol); ok {
		return st, nil
	}
	ipo, err := e.store.IPO(ctx, symbol)
	if err != nil {
		return IPOStatus{}, err
	}
	return NewIPOStatus(ipo, e.now()), nil
}

func (e *Engine) PriceSeries(ctx context.Context, symbol string, since time.Time, limit int) ([]PricePoint, error) {
	symbol = NormalizeSymbol(symbol)
	if err := ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	if _, ok := e.View().Instrument(symbol); !ok {
		return nil, ErrInstrumentNotFound
	}
	return e.store.PriceSeries(ctx, symbol, since, limit)
}

func (e *Engine) write(ctx context.Context, op string, fn func(context.Context) error) error {
	attempts, err := withRetry(ctx, e.cfg.StoreRetries, e.cfg.RetryDelay, fn)
	e.metrics.retries(op, attempts)
	return err
}

func (e *Engine) refresh(ctx context.Context, now time.Time) {
	if err := e.refreshView(ctx, now); err != nil {
		e.log.Warn("market view refresh failed", "err", err)
	}
}

func (e *Engine) resultFor(cmd Command, applied bool, h *Halt) CommandResult {
	res := CommandResult{Action: cmd.Action, Target: cmd.Target, Applied: applied, Halt: h}
	if snap, ok := e.View().Instrument(cmd.Target); ok {
		res.Instrument = &snap
	}
	return res
}

func findInstrument(snap Snapshot, symbol string) (Instrument, error) {
	for _, s := range snap.Stocks {
		if s.State.Symbol == symbol {
			return s, nil
		}
	}
	for _, p := range snap.IPOs {
		if p.State.Symbol == symbol && p.State.IsActive {
			return p, nil
		}
	}
	return nil, ErrInstrumentNotFound
}
