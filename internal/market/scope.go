package market

import "fmt"

type ScopeKind string

const (
	ScopeGlobal     ScopeKind = "global"
	ScopeSector     ScopeKind = "sector"
	ScopeInstrument ScopeKind = "instrument"
)

func (k ScopeKind) Valid() bool {
	switch k {
	case ScopeGlobal, ScopeSector, ScopeInstrument:
		return true
	}
	return false
}

// Scope is a closed union: GlobalScope, SectorScope or InstrumentScope.
type Scope interface {
	scopeKind() ScopeKind
}

type GlobalScope struct{}

type SectorScope struct {
	Sector string
}

type InstrumentScope struct {
	Symbol string
}

func (GlobalScope) scopeKind() ScopeKind     { return ScopeGlobal }
func (SectorScope) scopeKind() ScopeKind     { return ScopeSector }
func (InstrumentScope) scopeKind() ScopeKind { return ScopeInstrument }

func KindOf(s Scope) ScopeKind {
	if s == nil {
		return ScopeGlobal
	}
	return s.scopeKind()
}

// ScopeID is the persisted identifier of the scoped entity ("" for global).
func ScopeID(s Scope) string {
	switch v := s.(type) {
	case SectorScope:
		return v.Sector
	case InstrumentScope:
		return v.Symbol
	default:
		return ""
	}
}

func ScopeKey(s Scope) string {
	return string(KindOf(s)) + ":" + ScopeID(s)
}

// ParseScope rebuilds a Scope from its persisted kind/id pair.
func ParseScope(kind ScopeKind, id string) (Scope, error) {
	switch kind {
	case ScopeGlobal:
		return GlobalScope{}, nil
	case ScopeSector:
		if id == "" {
			return nil, fmt.Errorf("sector scope requires a sector id")
		}
		return SectorScope{Sector: id}, nil
	case ScopeInstrument:
		if id == "" {
			return nil, fmt.Errorf("instrument scope requires a symbol")
		}
		return InstrumentScope{Symbol: id}, nil
	default:
		return nil, fmt.Errorf("unknown scope kind %q", kind)
	}
}

// Covers reports whether an event scoped to s applies to inst.
func Covers(s Scope, inst Instrument) bool {
	switch v := s.(type) {
	case GlobalScope:
		return true
	case SectorScope:
		return inst.SectorKey() != "" && inst.SectorKey() == v.Sector
	case InstrumentScope:
		return inst.Quote().Symbol == v.Symbol
	default:
		return false
	}
}
