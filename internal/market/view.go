package market

import (
	"sort"
	"time"
)

type MarketStatus struct {
	TradingHalted bool       `json:"trading_halted"`
	HaltReason    *string    `json:"halt_reason"`
	ResumesAt     *time.Time `json:"resumes_at"`
	Profile       string     `json:"profile"`
	LastTickAt    time.Time  `json:"last_tick_at"`
}

type InstrumentSnapshot struct {
	Symbol              string         `json:"symbol"`
	Kind                InstrumentKind `json:"kind"`
	Name                string         `json:"name"`
	Sector              string         `json:"sector,omitempty"`
	CurrentPriceMicros  int64          `json:"current_price_micros"`
	PreviousCloseMicros int64          `json:"previous_close_micros"`
	High24hMicros       int64          `json:"high_24h_micros"`
	Low24hMicros        int64          `json:"low_24h_micros"`
	ChangePct           float64        `json:"change_pct"`
	Trend               Trend          `json:"trend"`
	TrendStrength       int32          `json:"trend_strength"`
	IsActive            bool           `json:"is_active"`
	Status              TradingStatus  `json:"status"`
	HaltReason          string         `json:"halt_reason,omitempty"`
	ResumesAt           *time.Time     `json:"resumes_at,omitempty"`
	LastTickAt          time.Time      `json:"last_tick_at"`
}

type IPOStatus struct {
	Symbol             string       `json:"symbol"`
	OwnerUserID        string       `json:"owner_user_id"`
	OwnerName          string       `json:"owner_name"`
	IPOPriceMicros     int64        `json:"ipo_price_micros"`
	CurrentPriceMicros int64        `json:"current_price_micros"`
	ChangePct          float64      `json:"change_pct"`
	BasePoints         int64        `json:"base_points"`
	PotentialPoints    int64        `json:"potential_points"`
	ActiveEvent        *string      `json:"active_event"`
	EventExpiresAt     *time.Time   `json:"event_expires_at,omitempty"`
	PriceHistory       []PricePoint `json:"price_history"`
	StartsAt           time.Time    `json:"starts_at"`
	ExpiresAt          time.Time    `json:"expires_at"`
	RemainingSeconds   int64        `json:"remaining_seconds"`
	IsActive           bool         `json:"is_active"`
	Delisted           bool         `json:"delisted"`
}

type IndexSnapshot struct {
	Symbol              string           `json:"symbol"`
	Name                string           `json:"name"`
	IndexType           IndexType        `json:"index_type"`
	Sector              string           `json:"sector,omitempty"`
	CurrentValueMicros  int64            `json:"current_value_micros"`
	PreviousCloseMicros int64            `json:"previous_close_micros"`
	High24hMicros       int64            `json:"high_24h_micros"`
	Low24hMicros        int64            `json:"low_24h_micros"`
	ChangePct           float64          `json:"change_pct"`
	Components          []IndexComponent `json:"components"`
}

type EventView struct {
	ID          string     `json:"id"`
	Slug        string     `json:"slug"`
	EffectType  EffectType `json:"effect_type"`
	EffectValue int32      `json:"effect_value"`
	IsPositive  bool       `json:"is_positive"`
	Scope       ScopeKind  `json:"scope"`
	ScopeID     string     `json:"scope_id,omitempty"`
	ActivatedAt time.Time  `json:"activated_at"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// View is an immutable read model of the last committed tick.
type View struct {
	GeneratedAt time.Time            `json:"generated_at"`
	Status      MarketStatus         `json:"status"`
	Instruments []InstrumentSnapshot `json:"instruments"`
	IPOs        []IPOStatus          `json:"ipos"`
	Indices     []IndexSnapshot      `json:"indices"`
	Events      []EventView          `json:"events"`
}

func (v *View) Instrument(symbol string) (InstrumentSnapshot, bool) {
	for _, s := range v.Instruments {
		if s.Symbol == symbol {
			return s, true
		}
	}
	return InstrumentSnapshot{}, false
}

func (v *View) IPO(symbol string) (IPOStatus, bool) {
	for _, s := range v.IPOs {
		if s.Symbol == symbol {
			return s, true
		}
	}
	return IPOStatus{}, false
}

// BuildView renders a snapshot. Inactive bot stocks stay listed but frozen;
// only active IPOs are shown.
func BuildView(snap Snapshot, profile string, now time.Time) *View {
	halts := make(map[string]Halt, len(snap.Halts))
	for _, h := range snap.Halts {
		halts[h.Symbol] = h
	}
	v := &View{GeneratedAt: now}
	v.Status = marketStatus(snap.MarketHalt, profile)

	for _, s := range snap.Stocks {
		v.Instruments = append(v.Instruments, instrumentSnapshot(s, halts))
		if s.State.LastTickAt.After(v.Status.LastTickAt) {
			v.Status.LastTickAt = s.State.LastTickAt
		}
	}
	for _, p := range snap.IPOs {
		if !p.State.IsActive {
			continue
		}
		v.Instruments = append(v.Instruments, instrumentSnapshot(p, halts))
		v.IPOs = append(v.IPOs, NewIPOStatus(p, now))
	}
	sort.Slice(v.Instruments, func(i, j int) bool { return v.Instruments[i].Symbol < v.Instruments[j].Symbol })
	sort.Slice(v.IPOs, func(i, j int) bool { return v.IPOs[i].Symbol < v.IPOs[j].Symbol })

	for _, ix := range snap.Indices {
		v.Indices = append(v.Indices, IndexSnapshot{
			Symbol:              ix.Symbol,
			Name:                ix.Name,
			IndexType:           ix.IndexType,
			Sector:              ix.Sector,
			CurrentValueMicros:  ix.CurrentValueMicros,
			PreviousCloseMicros: ix.PreviousCloseMicros,
			High24hMicros:       ix.High24hMicros,
			Low24hMicros:        ix.Low24hMicros,
			ChangePct:           PercentChange(ix.PreviousCloseMicros, ix.CurrentValueMicros) * 100,
			Components:          append([]IndexComponent(nil), ix.Components...),
		})
	}
	sort.Slice(v.Indices, func(i, j int) bool { return v.Indices[i].Symbol < v.Indices[j].Symbol })

	for _, ev := range snap.Events {
		v.Events = append(v.Events, NewEventView(ev))
	}
	sort.Slice(v.Events, func(i, j int) bool { return v.Events[i].ActivatedAt.Before(v.Events[j].ActivatedAt) })
	return v
}

func marketStatus(h *Halt, profile string) MarketStatus {
	st := MarketStatus{Profile: profile}
	if h == nil {
		return st
	}
	reason := h.Reason
	st.TradingHalted = true
	st.HaltReason = &reason
	if h.ResumesAt != nil {
		t := *h.ResumesAt
		st.ResumesAt = &t
	}
	return st
}

func instrumentSnapshot(inst Instrument, halts map[string]Halt) InstrumentSnapshot {
	q := inst.Quote()
	out := InstrumentSnapshot{
		Symbol:              q.Symbol,
		Kind:                inst.Kind(),
		Name:                inst.DisplayName(),
		Sector:              inst.SectorKey(),
		CurrentPriceMicros:  q.CurrentPriceMicros,
		PreviousCloseMicros: q.PreviousCloseMicros,
		High24hMicros:       q.High24hMicros,
		Low24hMicros:        q.Low24hMicros,
		ChangePct:           PercentChange(q.PreviousCloseMicros, q.CurrentPriceMicros) * 100,
		Trend:               q.Trend,
		TrendStrength:       q.TrendStrength,
		IsActive:            q.IsActive,
		Status:              StatusTrading,
		LastTickAt:          q.LastTickAt,
	}
	if h, ok := halts[q.Symbol]; ok {
		out.Status = StatusHalted
		out.HaltReason = h.Reason
		out.ResumesAt = h.ResumesAt
	}
	return out
}

func NewIPOStatus(p *PlayerIPO, now time.Time) IPOStatus {
	st := IPOStatus{
		Symbol:             p.State.Symbol,
		OwnerUserID:        p.OwnerUserID,
		OwnerName:          p.OwnerName,
		IPOPriceMicros:     p.IPOPriceMicros,
		CurrentPriceMicros: p.State.CurrentPriceMicros,
		ChangePct:          PercentChange(p.IPOPriceMicros, p.State.CurrentPriceMicros) * 100,
		BasePoints:         p.BasePoints,
		PotentialPoints:    LivePotentialPoints(p),
		EventExpiresAt:     p.EventExpiresAt,
		PriceHistory:       append([]PricePoint(nil), p.PriceHistory...),
		StartsAt:           p.StartsAt,
		ExpiresAt:          p.ExpiresAt,
		IsActive:           p.State.IsActive,
		Delisted:           p.Delisted,
	}
	if p.ActiveEventSlug != "" {
		slug := p.ActiveEventSlug
		st.ActiveEvent = &slug
	}
	if p.State.IsActive && p.ExpiresAt.After(now) {
		st.RemainingSeconds = int64(p.ExpiresAt.Sub(now) / time.Second)
	}
	return st
}

func NewEventView(ev ActiveEvent) EventView {
	return EventView{
		ID:          ev.ID,
		Slug:        ev.Slug,
		EffectType:  ev.EffectType,
		EffectValue: ev.EffectValue,
		IsPositive:  ev.IsPositive,
		Scope:       KindOf(ev.Scope),
		ScopeID:     ScopeID(ev.Scope),
		ActivatedAt: ev.ActivatedAt,
		ExpiresAt:   ev.ExpiresAt,
	}
}
