package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"stanksmarket/internal/market"
)

type TapeKind string

const (
	TapeQuote      TapeKind = "quote"
	TapeHalt       TapeKind = "halt"
	TapeResume     TapeKind = "resume"
	TapeIndex      TapeKind = "index"
	TapeMarket     TapeKind = "market"
	TapeEvent      TapeKind = "event"
	TapeIPORetired TapeKind = "ipo_retired"
)

// TapeEntry is one line of the market tape. Symbol is the partition key:
// an instrument or index ticker, or "market" for market-wide entries.
type TapeEntry struct {
	Kind        TapeKind             `json:"kind"`
	Symbol      string               `json:"symbol"`
	At          time.Time            `json:"at"`
	PriceMicros int64                `json:"price_micros,omitempty"`
	ChangePct   float64              `json:"change_pct,omitempty"`
	Status      market.TradingStatus `json:"status,omitempty"`
	Reason      string               `json:"reason,omitempty"`
	Event       *market.EventView    `json:"event,omitempty"`
	Transition  string               `json:"transition,omitempty"`
	Retired     *market.IPOResult    `json:"retired,omitempty"`
}

// Kafka writes the tape, keyed by symbol so each instrument's updates stay
// ordered within one partition.
type Kafka struct {
	writer *kafka.Writer
	topic  string
}

func NewKafka(brokers []string, topic string) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &Kafka{writer: w, topic: topic}, nil
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Publish(ctx context.Context, rep market.TickReport, view *market.View) error {
	entries := Tape(rep, view)
	if len(entries) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(entries))
	for _, e := range entries {
		v, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal tape entry: %w", err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(e.Symbol), Value: v, Time: e.At})
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d tape entries to %s: %w", len(msgs), k.topic, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

// Tape flattens a tick into ordered entries: event transitions first,
// then instrument quotes and halt changes, index values, the market-wide
// state and finally retired IPOs.
func Tape(rep market.TickReport, view *market.View) []TapeEntry {
	if view == nil {
		view = &market.View{}
	}
	var out []TapeEntry
	for _, ev := range rep.Expired {
		out = append(out, eventEntry(rep.At, ev, "expired"))
	}
	for _, ev := range rep.Activated {
		out = append(out, eventEntry(rep.At, ev, "activated"))
	}

	quote := func(kind TapeKind, sym, reason string) {
		e := TapeEntry{Kind: kind, Symbol: sym, At: rep.At, Reason: reason}
		if inst, ok := view.Instrument(sym); ok {
			e.PriceMicros = inst.CurrentPriceMicros
			e.ChangePct = inst.ChangePct
			e.Status = inst.Status
		}
		out = append(out, e)
	}
	for _, sym := range rep.Ticked {
		quote(TapeQuote, sym, "")
	}
	for _, h := range rep.Halted {
		quote(TapeHalt, h.Symbol, h.Reason)
	}
	for _, sym := range rep.Resumed {
		quote(TapeResume, sym, "")
	}

	for _, sym := range rep.Indices {
		for _, ix := range view.Indices {
			if ix.Symbol == sym {
				out = append(out, TapeEntry{
					Kind:        TapeIndex,
					Symbol:      sym,
					At:          rep.At,
					PriceMicros: ix.CurrentValueMicros,
					ChangePct:   ix.ChangePct,
				})
			}
		}
	}

	switch {
	case rep.MarketHalt != nil:
		out = append(out, TapeEntry{Kind: TapeMarket, Symbol: market.MarketTarget, At: rep.At, Status: market.StatusHalted, Reason: rep.MarketHalt.Reason})
	case rep.MarketResumed:
		out = append(out, TapeEntry{Kind: TapeMarket, Symbol: market.MarketTarget, At: rep.At, Status: market.StatusTrading})
	}

	for i := range rep.Retired {
		res := rep.Retired[i]
		out = append(out, TapeEntry{Kind: TapeIPORetired, Symbol: res.Symbol, At: rep.At, PriceMicros: res.FinalPriceMicros, Retired: &res})
	}
	return out
}

func eventEntry(at time.Time, ev market.EventView, transition string) TapeEntry {
	key := ev.ScopeID
	if key == "" {
		key = market.MarketTarget
	}
	return TapeEntry{Kind: TapeEvent, Symbol: key, At: at, Event: &ev, Transition: transition}
}
