package market

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Events []MarketEvent `yaml:"events"`
}

// DefaultCatalog is used when no catalog file is configured.
func DefaultCatalog() []MarketEvent {
	return []MarketEvent{
		{Slug: "rate-cut", Name: "Central bank cuts rates", EffectType: EffectTrendBias, EffectValue: 10, DurationMinutes: 60, IsPositive: true, Rarity: 3, Scope: ScopeGlobal},
		{Slug: "recession-fears", Name: "Recession fears grip traders", EffectType: EffectTrendBias, EffectValue: -10, DurationMinutes: 60, Rarity: 3, Scope: ScopeGlobal},
		{Slug: "flash-crash", Name: "Flash crash", EffectType: EffectInstantSpike, EffectValue: -6, Rarity: 12, Scope: ScopeGlobal},
		{Slug: "sector-boom", Name: "Sector boom", EffectType: EffectTickModifier, EffectValue: 3, DurationMinutes: 30, IsPositive: true, Rarity: 2, Scope: ScopeSector},
		{Slug: "sector-scandal", Name: "Sector scandal", EffectType: EffectTickModifier, EffectValue: -3, DurationMinutes: 30, Rarity: 2, Scope: ScopeSector},
		{Slug: "supply-shock", Name: "Supply shock", EffectType: EffectTrendBias, EffectValue: -8, DurationMinutes: 45, Rarity: 4, Scope: ScopeSector},
		{Slug: "earnings-beat", Name: "Earnings beat", EffectType: EffectInstantSpike, EffectValue: 8, IsPositive: true, Rarity: 1, Scope: ScopeInstrument},
		{Slug: "earnings-miss", Name: "Earnings miss", EffectType: EffectInstantSpike, EffectValue: -8, Rarity: 1, Scope: ScopeInstrument},
		{Slug: "analyst-upgrade", Name: "Analyst upgrade", EffectType: EffectTrendBias, EffectValue: 15, DurationMinutes: 20, IsPositive: true, Rarity: 2, Scope: ScopeInstrument},
		{Slug: "short-squeeze", Name: "Short squeeze", EffectType: EffectInstantSpike, EffectValue: 15, IsPositive: true, Rarity: 8, Scope: ScopeInstrument},
	}
}

// LoadCatalog reads event templates from a YAML file of the form
// `events: [{slug, effect_type, effect_value, ...}]`.
func LoadCatalog(path string) ([]MarketEvent, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read event catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse event catalog: %w", err)
	}
	if err := ValidateCatalog(f.Events); err != nil {
		return nil, err
	}
	return f.Events, nil
}

func ValidateCatalog(events []MarketEvent) error {
	if len(events) == 0 {
		return fmt.Errorf("event catalog is empty")
	}
	seen := make(map[string]struct{}, len(events))
	for i, ev := range events {
		slug := strings.TrimSpace(ev.Slug)
		if slug == "" {
			return fmt.Errorf("event %d: slug is required", i)
		}
		if _, dup := seen[slug]; dup {
			return fmt.Errorf("event %q: duplicate slug", slug)
		}
		seen[slug] = struct{}{}
		if !ev.EffectType.Valid() {
			return fmt.Errorf("event %q: unknown effect type %q", slug, ev.EffectType)
		}
		if !ev.Scope.Valid() {
			return fmt.Errorf("event %q: unknown scope %q", slug, ev.Scope)
		}
		if ev.Rarity < 1 {
			return fmt.Errorf("event %q: rarity must be >= 1", slug)
		}
		if ev.DurationMinutes < 0 {
			return fmt.Errorf("event %q: duration must be >= 0", slug)
		}
		if ev.EffectType != EffectInstantSpike && ev.DurationMinutes == 0 {
			return fmt.Errorf("event %q: %s requires a duration", slug, ev.EffectType)
		}
	}
	return nil
}
