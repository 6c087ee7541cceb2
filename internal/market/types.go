package market

import "time"

type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
	TrendNeutral Trend = "neutral"
)

func (t Trend) Valid() bool {
	switch t {
	case TrendBullish, TrendBearish, TrendNeutral:
		return true
	}
	return false
}

type InstrumentKind string

const (
	KindBotStock  InstrumentKind = "bot"
	KindPlayerIPO InstrumentKind = "ipo"
)

// Quote is the simulated price state shared by every instrument.
type Quote struct {
	Symbol              string    `json:"symbol"`
	CurrentPriceMicros  int64     `json:"current_price_micros"`
	PreviousCloseMicros int64     `json:"previous_close_micros"`
	High24hMicros       int64     `json:"high_24h_micros"`
	Low24hMicros        int64     `json:"low_24h_micros"`
	BasePriceMicros     int64     `json:"base_price_micros"`
	Volatility          float64   `json:"volatility"`
	Trend               Trend     `json:"trend"`
	TrendStrength       int32     `json:"trend_strength"`
	IsActive            bool      `json:"is_active"`
	WindowStartedAt     time.Time `json:"window_started_at"`
	LastTickAt          time.Time `json:"last_tick_at"`
}

// Instrument is the capability shared by bot stocks and player IPOs.
// PriceModel, EventDirector and HaltController only ever see this.
type Instrument interface {
	Quote() *Quote
	Kind() InstrumentKind
	SectorKey() string
	DisplayName() string
}

type BotStock struct {
	State             Quote  `json:"quote"`
	CompanyName       string `json:"company_name"`
	Sector            string `json:"sector"`
	SortOrder         int32  `json:"sort_order"`
	SharesOutstanding int64  `json:"shares_outstanding"`
}

func (b *BotStock) Quote() *Quote        { return &b.State }
func (b *BotStock) Kind() InstrumentKind { return KindBotStock }
func (b *BotStock) SectorKey() string    { return b.Sector }
func (b *BotStock) DisplayName() string  { return b.CompanyName }

// MarketCapMicros is price times shares outstanding, in float to avoid overflow.
func (b *BotStock) MarketCapMicros() float64 {
	return float64(b.State.CurrentPriceMicros) * float64(b.SharesOutstanding)
}

func (b *BotStock) Clone() *BotStock {
	c := *b
	return &c
}

type PricePoint struct {
	At          time.Time `json:"at"`
	PriceMicros int64     `json:"price_micros"`
}

type PlayerIPO struct {
	ID              string       `json:"id"`
	State           Quote        `json:"quote"`
	OwnerUserID     string       `json:"owner_user_id"`
	OwnerName       string       `json:"owner_name"`
	IPOPriceMicros  int64        `json:"ipo_price_micros"`
	BasePoints      int64        `json:"base_points"`
	PotentialPoints int64        `json:"potential_points"`
	PriceHistory    []PricePoint `json:"price_history"`
	StartsAt        time.Time    `json:"starts_at"`
	ExpiresAt       time.Time    `json:"expires_at"`
	ActiveEventSlug string       `json:"active_event_slug,omitempty"`
	EventExpiresAt  *time.Time   `json:"event_expires_at,omitempty"`
	Delisted        bool         `json:"delisted"`
}

func (p *PlayerIPO) Quote() *Quote        { return &p.State }
func (p *PlayerIPO) Kind() InstrumentKind { return KindPlayerIPO }
func (p *PlayerIPO) SectorKey() string    { return "" }
func (p *PlayerIPO) DisplayName() string  { return p.OwnerName }

// Expired reports whether the IPO window has closed at now.
func (p *PlayerIPO) Expired(now time.Time) bool {
	return !p.ExpiresAt.After(now)
}

func (p *PlayerIPO) Clone() *PlayerIPO {
	c := *p
	c.PriceHistory = append([]PricePoint(nil), p.PriceHistory...)
	if p.EventExpiresAt != nil {
		t := *p.EventExpiresAt
		c.EventExpiresAt = &t
	}
	return &c
}

type EffectType string

const (
	EffectTrendBias    EffectType = "trend_bias"
	EffectInstantSpike EffectType = "instant_spike"
	EffectTickModifier EffectType = "tick_modifier"
)

func (e EffectType) Valid() bool {
	switch e {
	case EffectTrendBias, EffectInstantSpike, EffectTickModifier:
		return true
	}
	return false
}

// MarketEvent is an immutable catalog template.
type MarketEvent struct {
	Slug            string     `json:"slug" yaml:"slug"`
	Name            string     `json:"name" yaml:"name"`
	EffectType      EffectType `json:"effect_type" yaml:"effect_type"`
	EffectValue     int32      `json:"effect_value" yaml:"effect_value"`
	DurationMinutes int32      `json:"duration_minutes" yaml:"duration_minutes"`
	IsPositive      bool       `json:"is_positive" yaml:"is_positive"`
	Rarity          int32      `json:"rarity" yaml:"rarity"`
	Scope           ScopeKind  `json:"scope" yaml:"scope"`
}

// Instantaneous events apply once and carry no expiry.
func (e MarketEvent) Instantaneous() bool {
	return e.EffectType == EffectInstantSpike || e.DurationMinutes <= 0
}

// ActiveEvent is one firing of a MarketEvent against a scope.
type ActiveEvent struct {
	ID          string
	Slug        string
	EffectType  EffectType
	EffectValue int32
	IsPositive  bool
	Scope       Scope
	ActivatedAt time.Time
	ExpiresAt   *time.Time
}

// slotKey identifies the (scope, effect type) pair that may hold one live event.
func (a ActiveEvent) slotKey() string {
	return ScopeKey(a.Scope) + "|" + string(a.EffectType)
}

type HaltCause string

const (
	HaltCauseCircuitBreaker HaltCause = "circuit_breaker"
	HaltCauseEscalation     HaltCause = "escalation"
	HaltCauseAdmin          HaltCause = "admin"
	HaltCauseInvalidState   HaltCause = "invalid_state"
)

// Halt is either market-wide (Symbol == "") or scoped to one instrument.
// A nil ResumesAt means the halt only clears on an explicit resume.
type Halt struct {
	Symbol    string     `json:"symbol,omitempty"`
	Reason    string     `json:"reason"`
	Cause     HaltCause  `json:"cause"`
	HaltedAt  time.Time  `json:"halted_at"`
	ResumesAt *time.Time `json:"resumes_at,omitempty"`
}

func (h Halt) MarketWide() bool { return h.Symbol == "" }

// Due reports whether an auto-resuming halt has reached its resume time.
func (h Halt) Due(now time.Time) bool {
	return h.ResumesAt != nil && !h.ResumesAt.After(now)
}

type IndexType string

const (
	IndexMaster IndexType = "master"
	IndexSector IndexType = "sector"
)

type IndexComponent struct {
	Symbol          string  `json:"symbol"`
	Weight          float64 `json:"weight"`
	BasePriceMicros int64   `json:"base_price_micros"`
}

type MarketIndex struct {
	Symbol              string           `json:"symbol"`
	Name                string           `json:"name"`
	IndexType           IndexType        `json:"index_type"`
	Sector              string           `json:"sector,omitempty"`
	BaseValueMicros     int64            `json:"base_value_micros"`
	CurrentValueMicros  int64            `json:"current_value_micros"`
	PreviousCloseMicros int64            `json:"previous_close_micros"`
	High24hMicros       int64            `json:"high_24h_micros"`
	Low24hMicros        int64            `json:"low_24h_micros"`
	WindowStartedAt     time.Time        `json:"window_started_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
	Components          []IndexComponent `json:"components"`
}

func (ix *MarketIndex) Clone() *MarketIndex {
	c := *ix
	c.Components = append([]IndexComponent(nil), ix.Components...)
	return &c
}
