package market

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Universe is what the director may target on a tick: active, non-halted
// instruments and the sectors they belong to.
type Universe struct {
	Instruments []Instrument
}

func (u Universe) sectors() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, inst := range u.Instruments {
		s := inst.SectorKey()
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (u Universe) kindOf(symbol string) (InstrumentKind, bool) {
	for _, inst := range u.Instruments {
		if inst.Quote().Symbol == symbol {
			return inst.Kind(), true
		}
	}
	return "", false
}

// EventTick is the outcome of one director step.
type EventTick struct {
	Expired   []ActiveEvent
	Activated []ActiveEvent
	Live      []ActiveEvent
}

type EventDirector struct {
	catalog     []MarketEvent
	probability float64
	newID       func() string
}

func NewEventDirector(catalog []MarketEvent, probability float64) *EventDirector {
	if probability < 0 {
		probability = 0
	}
	if probability > 1 {
		probability = 1
	}
	return &EventDirector{
		catalog:     append([]MarketEvent(nil), catalog...),
		probability: probability,
		newID:       uuid.NewString,
	}
}

func (d *EventDirector) Catalog() []MarketEvent {
	return append([]MarketEvent(nil), d.catalog...)
}

// Tick expires finished events and, with the configured probability,
// activates one new event drawn from the catalog.
func (d *EventDirector) Tick(now time.Time, live []ActiveEvent, u Universe, rng Rand) EventTick {
	out := d.Expire(now, live)
	if rng.Float64() >= d.probability {
		return out
	}
	tmpl, ok := d.pickTemplate(u, rng)
	if !ok {
		return out
	}
	scope, ok := pickScope(tmpl.Scope, u, rng)
	if !ok {
		return out
	}
	ev := NewActiveEvent(tmpl, scope, now, d.newID())
	var replaced []ActiveEvent
	out.Live, replaced = Activate(out.Live, ev, u)
	out.Expired = append(out.Expired, replaced...)
	out.Activated = append(out.Activated, ev)
	return out
}

// Expire drops finished events without considering a new activation.
func (d *EventDirector) Expire(now time.Time, live []ActiveEvent) EventTick {
	var out EventTick
	for _, ev := range live {
		if eventDone(ev, now) {
			out.Expired = append(out.Expired, ev)
			continue
		}
		out.Live = append(out.Live, ev)
	}
	return out
}

func NewActiveEvent(tmpl MarketEvent, scope Scope, now time.Time, id string) ActiveEvent {
	ev := ActiveEvent{
		ID:          id,
		Slug:        tmpl.Slug,
		EffectType:  tmpl.EffectType,
		EffectValue: tmpl.EffectValue,
		IsPositive:  tmpl.IsPositive,
		Scope:       scope,
		ActivatedAt: now,
	}
	if !tmpl.Instantaneous() {
		exp := now.Add(time.Duration(tmpl.DurationMinutes) * time.Minute)
		ev.ExpiresAt = &exp
	}
	return ev
}

// Activate records ev, expiring whatever already holds its (scope, effect)
// slot. A player IPO holds at most one instrument event of any type.
func Activate(live []ActiveEvent, ev ActiveEvent, u Universe) (kept, replaced []ActiveEvent) {
	ipoTarget := false
	if s, ok := ev.Scope.(InstrumentScope); ok {
		if kind, found := u.kindOf(s.Symbol); found && kind == KindPlayerIPO {
			ipoTarget = true
		}
	}
	slot := ev.slotKey()
	scopeKey := ScopeKey(ev.Scope)
	for _, cur := range live {
		if cur.slotKey() == slot || (ipoTarget && ScopeKey(cur.Scope) == scopeKey) {
			replaced = append(replaced, cur)
			continue
		}
		kept = append(kept, cur)
	}
	kept = append(kept, ev)
	return kept, replaced
}

func eventDone(ev ActiveEvent, now time.Time) bool {
	if ev.ExpiresAt == nil {
		return ev.ActivatedAt.Before(now)
	}
	return !ev.ExpiresAt.After(now)
}

// pickTemplate draws a template with probability proportional to 1/rarity,
// skipping templates whose scope has nothing to target.
func (d *EventDirector) pickTemplate(u Universe, rng Rand) (MarketEvent, bool) {
	hasSectors := len(u.sectors()) > 0
	hasInstruments := len(u.Instruments) > 0
	var candidates []MarketEvent
	var total float64
	for _, tmpl := range d.catalog {
		switch tmpl.Scope {
		case ScopeSector:
			if !hasSectors {
				continue
			}
		case ScopeInstrument:
			if !hasInstruments {
				continue
			}
		case ScopeGlobal:
			if !hasInstruments {
				continue
			}
		default:
			continue
		}
		candidates = append(candidates, tmpl)
		total += rarityWeight(tmpl.Rarity)
	}
	if len(candidates) == 0 || total <= 0 {
		return MarketEvent{}, false
	}
	target := rng.Float64() * total
	for _, tmpl := range candidates {
		target -= rarityWeight(tmpl.Rarity)
		if target < 0 {
			return tmpl, true
		}
	}
	return candidates[len(candidates)-1], true
}

func rarityWeight(rarity int32) float64 {
	if rarity < 1 {
		rarity = 1
	}
	return 1 / float64(rarity)
}

func pickScope(kind ScopeKind, u Universe, rng Rand) (Scope, bool) {
	switch kind {
	case ScopeGlobal:
		return GlobalScope{}, true
	case ScopeSector:
		sectors := u.sectors()
		if len(sectors) == 0 {
			return nil, false
		}
		return SectorScope{Sector: sectors[rng.Intn(len(sectors))]}, true
	case ScopeInstrument:
		if len(u.Instruments) == 0 {
			return nil, false
		}
		inst := u.Instruments[rng.Intn(len(u.Instruments))]
		return InstrumentScope{Symbol: inst.Quote().Symbol}, true
	default:
		return nil, false
	}
}
