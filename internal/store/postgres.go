package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"stanksmarket/internal/market"
)

//go:embed schema.sql
var schemaSQL string

const quoteCols = `current_price_micros, previous_close_micros, high_24h_micros, low_24h_micros,
	base_price_micros, volatility, trend, trend_strength, is_active, window_started_at, last_tick_at`

const ipoCols = `id, symbol, owner_user_id, owner_name, ` + quoteCols + `,
	ipo_price_micros, base_points, potential_points, price_history, starts_at, expires_at,
	active_event_slug, event_expires_at, delisted`

const maxSeriesRows = 10_000

// Postgres is the durable market.Store. Every write runs in its own
// transaction so one instrument's failure never rolls back another's.
type Postgres struct {
	db        *pgxpool.Pool
	log       *slog.Logger
	seriesCap int
}

func NewPostgres(db *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: db, log: logger, seriesCap: DefaultSeriesCap}
}

// Migrate creates the market schema if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate market schema: %w", err)
	}
	return nil
}

func (p *Postgres) Snapshot(ctx context.Context) (market.Snapshot, error) {
	var snap market.Snapshot
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return snap, mapErr(err)
	}
	defer tx.Rollback(ctx)

	if snap.Stocks, err = loadStocks(ctx, tx); err != nil {
		return snap, mapErr(err)
	}
	if snap.IPOs, err = loadIPOs(ctx, tx, `WHERE is_active ORDER BY symbol`); err != nil {
		return snap, mapErr(err)
	}
	if snap.Indices, err = loadIndices(ctx, tx); err != nil {
		return snap, mapErr(err)
	}
	if snap.Events, err = loadEvents(ctx, tx); err != nil {
		return snap, mapErr(err)
	}
	halts, err := loadHalts(ctx, tx)
	if err != nil {
		return snap, mapErr(err)
	}
	for _, h := range halts {
		if h.MarketWide() {
			snap.MarketHalt = &h
			continue
		}
		snap.Halts = append(snap.Halts, h)
	}
	var last *time.Time
	if err := tx.QueryRow(ctx, `SELECT max(halted_at) FROM market.market_halt_log`).Scan(&last); err != nil {
		return snap, mapErr(err)
	}
	if last != nil {
		snap.LastMarketHaltAt = *last
	}
	return snap, mapErr(tx.Commit(ctx))
}

func (p *Postgres) ApplyInstrument(ctx context.Context, d market.InstrumentDelta) error {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback(ctx)

	ipo := d.Kind == market.KindPlayerIPO
	var rawHistory []byte
	if ipo {
		err = tx.QueryRow(ctx, `SELECT price_history FROM market.ipos WHERE symbol = $1 AND is_active FOR UPDATE`, d.Symbol).Scan(&rawHistory)
	} else {
		err = tx.QueryRow(ctx, `SELECT 1 FROM market.stocks WHERE symbol = $1 FOR UPDATE`, d.Symbol).Scan(new(int))
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("apply %s: %w", d.Symbol, market.ErrInstrumentNotFound)
	}
	if err != nil {
		return mapErr(err)
	}

	if d.Quote != nil {
		q := d.Quote
		table, extra := "market.stocks", ""
		if ipo {
			table, extra = "market.ipos", " AND is_active"
		}
		if _, err := tx.Exec(ctx, `
			UPDATE `+table+`
			SET current_price_micros = $1,
			    previous_close_micros = $2,
			    high_24h_micros = $3,
			    low_24h_micros = $4,
			    trend = $5,
			    trend_strength = $6,
			    window_started_at = $7,
			    last_tick_at = $8
			WHERE symbol = $9`+extra,
			q.CurrentPriceMicros, q.PreviousCloseMicros, q.High24hMicros, q.Low24hMicros,
			string(q.Trend), q.TrendStrength, q.WindowStartedAt, q.LastTickAt, d.Symbol); err != nil {
			return mapErr(err)
		}
	}
	if d.HaltChanged {
		if err := putHalt(ctx, tx, d.Symbol, d.Halt); err != nil {
			return mapErr(err)
		}
	}
	if d.Sample != nil {
		if _, err := tx.Exec(ctx, `
			INSERT INTO market.price_ticks (symbol, tick_at, price_micros)
			VALUES ($1, $2, $3)
			ON CONFLICT (symbol, tick_at) DO UPDATE SET price_micros = EXCLUDED.price_micros
		`, d.Symbol, d.Sample.At, d.Sample.PriceMicros); err != nil {
			return mapErr(err)
		}
		if err := pruneSeries(ctx, tx, d.Symbol, p.seriesCap); err != nil {
			return mapErr(err)
		}
		if ipo {
			var history []market.PricePoint
			if len(rawHistory) > 0 {
				if err := json.Unmarshal(rawHistory, &history); err != nil {
					return fmt.Errorf("decode price history for %s: %w", d.Symbol, err)
				}
			}
			raw, err := json.Marshal(market.AppendHistory(history, *d.Sample))
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `UPDATE market.ipos SET price_history = $1 WHERE symbol = $2 AND is_active`, string(raw), d.Symbol); err != nil {
				return mapErr(err)
			}
		}
	}
	if d.Event != nil && ipo {
		if _, err := tx.Exec(ctx, `
			UPDATE market.ipos SET active_event_slug = $1, event_expires_at = $2
			WHERE symbol = $3 AND is_active
		`, d.Event.Slug, d.Event.ExpiresAt, d.Symbol); err != nil {
			return mapErr(err)
		}
	}
	return mapErr(tx.Commit(ctx))
}

func (p *Postgres) ApplyIndex(ctx context.Context, d market.IndexDelta) error {
	ix := d.Index
	components, err := json.Marshal(ix.Components)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO market.indices (symbol, name, index_type, sector, base_value_micros, current_value_micros,
			previous_close_micros, high_24h_micros, low_24h_micros, window_started_at, updated_at, components)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (symbol) DO UPDATE
		SET current_value_micros = EXCLUDED.current_value_micros,
		    previous_close_micros = EXCLUDED.previous_close_micros,
		    high_24h_micros = EXCLUDED.high_24h_micros,
		    low_24h_micros = EXCLUDED.low_24h_micros,
		    window_started_at = EXCLUDED.window_started_at,
		    updated_at = EXCLUDED.updated_at,
		    components = EXCLUDED.components
	`, ix.Symbol, ix.Name, string(ix.IndexType), ix.Sector, ix.BaseValueMicros, ix.CurrentValueMicros,
		ix.PreviousCloseMicros, ix.High24hMicros, ix.Low24hMicros, ix.WindowStartedAt, ix.UpdatedAt, string(components))
	return mapErr(err)
}

func (p *Postgres) RecordEvents(ctx context.Context, activated, expired []market.ActiveEvent) error {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback(ctx)

	for _, ev := range expired {
		if _, err := tx.Exec(ctx, `UPDATE market.active_events SET expired_at = now() WHERE id = $1 AND expired_at IS NULL`, ev.ID); err != nil {
			return mapErr(err)
		}
	}
	for _, ev := range activated {
		if _, err := tx.Exec(ctx, `
			INSERT INTO market.active_events (id, slug, effect_type, effect_value, is_positive, scope_kind, scope_id, activated_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, ev.ID, ev.Slug, string(ev.EffectType), ev.EffectValue, ev.IsPositive,
			string(market.KindOf(ev.Scope)), market.ScopeID(ev.Scope), ev.ActivatedAt, ev.ExpiresAt); err != nil {
			return mapErr(err)
		}
	}
	return mapErr(tx.Commit(ctx))
}

func (p *Postgres) SetMarketHalt(ctx context.Context, h *market.Halt) error {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback(ctx)
	if err := putHalt(ctx, tx, "", h); err != nil {
		return mapErr(err)
	}
	if h != nil {
		if _, err := tx.Exec(ctx, `
			INSERT INTO market.market_halt_log (halted_at, reason, cause)
			VALUES ($1, $2, $3)
			ON CONFLICT (halted_at) DO NOTHING
		`, h.HaltedAt, h.Reason, string(h.Cause)); err != nil {
			return mapErr(err)
		}
	}
	return mapErr(tx.Commit(ctx))
}

func (p *Postgres) CreateIPO(ctx context.Context, ipo *market.PlayerIPO) error {
	history, err := json.Marshal(ipo.PriceHistory)
	if err != nil {
		return err
	}
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback(ctx)

	var listed bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM market.stocks WHERE symbol = $1)`, ipo.State.Symbol).Scan(&listed); err != nil {
		return mapErr(err)
	}
	if listed {
		return fmt.Errorf("ticker %s already listed: %w", ipo.State.Symbol, market.ErrInvalidSymbol)
	}

	q := ipo.State
	if _, err := tx.Exec(ctx, `
		INSERT INTO market.ipos (id, symbol, owner_user_id, owner_name, `+quoteCols+`,
			ipo_price_micros, base_points, potential_points, price_history, starts_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`, ipo.ID, q.Symbol, ipo.OwnerUserID, ipo.OwnerName,
		q.CurrentPriceMicros, q.PreviousCloseMicros, q.High24hMicros, q.Low24hMicros, q.BasePriceMicros,
		q.Volatility, string(q.Trend), q.TrendStrength, q.IsActive, q.WindowStartedAt, q.LastTickAt,
		ipo.IPOPriceMicros, ipo.BasePoints, ipo.PotentialPoints, string(history), ipo.StartsAt, ipo.ExpiresAt); err != nil {
		return mapErr(err)
	}
	for _, pt := range ipo.PriceHistory {
		if _, err := tx.Exec(ctx, `
			INSERT INTO market.price_ticks (symbol, tick_at, price_micros)
			VALUES ($1, $2, $3)
			ON CONFLICT (symbol, tick_at) DO UPDATE SET price_micros = EXCLUDED.price_micros
		`, q.Symbol, pt.At, pt.PriceMicros); err != nil {
			return mapErr(err)
		}
	}
	return mapErr(tx.Commit(ctx))
}

func (p *Postgres) RetireIPO(ctx context.Context, res market.IPOResult) error {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback(ctx)

	cmd, err := tx.Exec(ctx, `
		UPDATE market.ipos
		SET is_active = false,
		    potential_points = $1,
		    delisted = $2,
		    retired_at = $3,
		    active_event_slug = '',
		    event_expires_at = NULL
		WHERE id = $4 AND is_active
	`, res.PotentialPoints, res.Delisted, res.RetiredAt, res.IPOID)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return market.ErrIPONotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM market.halts WHERE symbol = $1`, res.Symbol); err != nil {
		return mapErr(err)
	}
	return mapErr(tx.Commit(ctx))
}

func (p *Postgres) IPO(ctx context.Context, symbol string) (*market.PlayerIPO, error) {
	ipos, err := loadIPOs(ctx, p.db, `WHERE symbol = $1 ORDER BY is_active DESC, starts_at DESC LIMIT 1`, symbol)
	if err != nil {
		return nil, mapErr(err)
	}
	if len(ipos) == 0 {
		return nil, market.ErrIPONotFound
	}
	return ipos[0], nil
}

func (p *Postgres) PriceSeries(ctx context.Context, symbol string, since time.Time, limit int) ([]market.PricePoint, error) {
	if limit <= 0 || limit > maxSeriesRows {
		limit = maxSeriesRows
	}
	rows, err := p.db.Query(ctx, `
		SELECT tick_at, price_micros FROM (
			SELECT tick_at, price_micros
			FROM market.price_ticks
			WHERE symbol = $1 AND tick_at >= $2
			ORDER BY tick_at DESC
			LIMIT $3
		) recent
		ORDER BY tick_at ASC
	`, symbol, since, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := []market.PricePoint{}
	for rows.Next() {
		var pt market.PricePoint
		if err := rows.Scan(&pt.At, &pt.PriceMicros); err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, mapErr(rows.Err())
}

func (p *Postgres) Seed(ctx context.Context, stocks []*market.BotStock, indices []*market.MarketIndex) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback(ctx)

	for _, s := range stocks {
		q := s.State
		if _, err := tx.Exec(ctx, `
			INSERT INTO market.stocks (symbol, company_name, sector, sort_order, shares_outstanding, `+quoteCols+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			ON CONFLICT (symbol) DO NOTHING
		`, q.Symbol, s.CompanyName, s.Sector, s.SortOrder, s.SharesOutstanding,
			q.CurrentPriceMicros, q.PreviousCloseMicros, q.High24hMicros, q.Low24hMicros, q.BasePriceMicros,
			q.Volatility, string(q.Trend), q.TrendStrength, q.IsActive, q.WindowStartedAt, q.LastTickAt); err != nil {
			return mapErr(err)
		}
	}
	for _, ix := range indices {
		components, err := json.Marshal(ix.Components)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO market.indices (symbol, name, index_type, sector, base_value_micros, current_value_micros,
				previous_close_micros, high_24h_micros, low_24h_micros, window_started_at, updated_at, components)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (symbol) DO NOTHING
		`, ix.Symbol, ix.Name, string(ix.IndexType), ix.Sector, ix.BaseValueMicros, ix.CurrentValueMicros,
			ix.PreviousCloseMicros, ix.High24hMicros, ix.Low24hMicros, ix.WindowStartedAt, ix.UpdatedAt, string(components)); err != nil {
			return mapErr(err)
		}
	}
	return mapErr(tx.Commit(ctx))
}

// AwardIPO records the reward exactly once per IPO.
func (p *Postgres) AwardIPO(ctx context.Context, res market.IPOResult) error {
	mult, err := decimal.NewFromString(res.Multiplier)
	if err != nil {
		return fmt.Errorf("parse multiplier %q: %w", res.Multiplier, err)
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO market.ipo_rewards (ipo_id, symbol, owner_user_id, ipo_price_micros, final_price_micros,
			base_points, multiplier_bps, potential_points, awarded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (ipo_id) DO NOTHING
	`, res.IPOID, res.Symbol, res.OwnerUserID, res.IPOPriceMicros, res.FinalPriceMicros,
		res.BasePoints, mult.Shift(4).Round(0).IntPart(), res.PotentialPoints, res.RetiredAt)
	if err != nil {
		return mapErr(err)
	}
	p.log.Info("ipo reward recorded", "symbol", res.Symbol, "owner", res.OwnerUserID, "points", res.PotentialPoints)
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func quoteDest(q *market.Quote, trend *string) []any {
	return []any{
		&q.CurrentPriceMicros, &q.PreviousCloseMicros, &q.High24hMicros, &q.Low24hMicros,
		&q.BasePriceMicros, &q.Volatility, trend, &q.TrendStrength, &q.IsActive, &q.WindowStartedAt, &q.LastTickAt,
	}
}

func loadStocks(ctx context.Context, q querier) ([]*market.BotStock, error) {
	rows, err := q.Query(ctx, `
		SELECT symbol, company_name, sector, sort_order, shares_outstanding, `+quoteCols+`
		FROM market.stocks
		ORDER BY sort_order, symbol
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*market.BotStock
	for rows.Next() {
		s := &market.BotStock{}
		var trend string
		dest := append([]any{&s.State.Symbol, &s.CompanyName, &s.Sector, &s.SortOrder, &s.SharesOutstanding}, quoteDest(&s.State, &trend)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		s.State.Trend = market.Trend(trend)
		out = append(out, s)
	}
	return out, rows.Err()
}

func loadIPOs(ctx context.Context, q querier, where string, args ...any) ([]*market.PlayerIPO, error) {
	rows, err := q.Query(ctx, `SELECT `+ipoCols+` FROM market.ipos `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*market.PlayerIPO
	for rows.Next() {
		p := &market.PlayerIPO{}
		var trend string
		var history []byte
		dest := []any{&p.ID, &p.State.Symbol, &p.OwnerUserID, &p.OwnerName}
		dest = append(dest, quoteDest(&p.State, &trend)...)
		dest = append(dest, &p.IPOPriceMicros, &p.BasePoints, &p.PotentialPoints, &history,
			&p.StartsAt, &p.ExpiresAt, &p.ActiveEventSlug, &p.EventExpiresAt, &p.Delisted)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		p.State.Trend = market.Trend(trend)
		if len(history) > 0 {
			if err := json.Unmarshal(history, &p.PriceHistory); err != nil {
				return nil, fmt.Errorf("decode price history for %s: %w", p.State.Symbol, err)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func loadIndices(ctx context.Context, q querier) ([]*market.MarketIndex, error) {
	rows, err := q.Query(ctx, `
		SELECT symbol, name, index_type, sector, base_value_micros, current_value_micros,
		       previous_close_micros, high_24h_micros, low_24h_micros, window_started_at, updated_at, components
		FROM market.indices
		ORDER BY symbol
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*market.MarketIndex
	for rows.Next() {
		ix := &market.MarketIndex{}
		var indexType string
		var components []byte
		if err := rows.Scan(&ix.Symbol, &ix.Name, &indexType, &ix.Sector, &ix.BaseValueMicros, &ix.CurrentValueMicros,
			&ix.PreviousCloseMicros, &ix.High24hMicros, &ix.Low24hMicros, &ix.WindowStartedAt, &ix.UpdatedAt, &components); err != nil {
			return nil, err
		}
		ix.IndexType = market.IndexType(indexType)
		if len(components) > 0 {
			if err := json.Unmarshal(components, &ix.Components); err != nil {
				return nil, fmt.Errorf("decode components for %s: %w", ix.Symbol, err)
			}
		}
		out = append(out, ix)
	}
	return out, rows.Err()
}

func loadEvents(ctx context.Context, q querier) ([]market.ActiveEvent, error) {
	rows, err := q.Query(ctx, `
		SELECT id, slug, effect_type, effect_value, is_positive, scope_kind, scope_id, activated_at, expires_at
		FROM market.active_events
		WHERE expired_at IS NULL
		ORDER BY activated_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.ActiveEvent
	for rows.Next() {
		var ev market.ActiveEvent
		var effectType, scopeKind, scopeID string
		if err := rows.Scan(&ev.ID, &ev.Slug, &effectType, &ev.EffectValue, &ev.IsPositive,
			&scopeKind, &scopeID, &ev.ActivatedAt, &ev.ExpiresAt); err != nil {
			return nil, err
		}
		ev.EffectType = market.EffectType(effectType)
		scope, err := market.ParseScope(market.ScopeKind(scopeKind), scopeID)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", ev.ID, err)
		}
		ev.Scope = scope
		out = append(out, ev)
	}
	return out, rows.Err()
}

func loadHalts(ctx context.Context, q querier) ([]market.Halt, error) {
	rows, err := q.Query(ctx, `SELECT symbol, reason, cause, halted_at, resumes_at FROM market.halts ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.Halt
	for rows.Next() {
		var h market.Halt
		var cause string
		if err := rows.Scan(&h.Symbol, &h.Reason, &cause, &h.HaltedAt, &h.ResumesAt); err != nil {
			return nil, err
		}
		h.Cause = market.HaltCause(cause)
		out = append(out, h)
	}
	return out, rows.Err()
}

// pruneSeries keeps only the newest keep samples of one symbol.
func pruneSeries(ctx context.Context, tx pgx.Tx, symbol string, keep int) error {
	_, err := tx.Exec(ctx, `
		DELETE FROM market.price_ticks
		WHERE symbol = $1 AND tick_at <= (
			SELECT tick_at FROM market.price_ticks
			WHERE symbol = $1
			ORDER BY tick_at DESC
			OFFSET $2 LIMIT 1
		)
	`, symbol, keep)
	return err
}

func putHalt(ctx context.Context, tx pgx.Tx, symbol string, h *market.Halt) error {
	if h == nil {
		_, err := tx.Exec(ctx, `DELETE FROM market.halts WHERE symbol = $1`, symbol)
		return err
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO market.halts (symbol, reason, cause, halted_at, resumes_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (symbol) DO UPDATE
		SET reason = EXCLUDED.reason,
		    cause = EXCLUDED.cause,
		    halted_at = EXCLUDED.halted_at,
		    resumes_at = EXCLUDED.resumes_at
	`, symbol, h.Reason, string(h.Cause), h.HaltedAt, h.ResumesAt)
	return err
}

// mapErr turns Postgres serialization and uniqueness failures into the
// market sentinels the engine retries or reports.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", market.ErrStoreConflict, pgErr.Message)
	case "23505":
		if pgErr.ConstraintName == "ipos_active_owner" {
			return market.ErrIPOAlreadyActive
		}
		return fmt.Errorf("%w: %s", market.ErrInvalidSymbol, pgErr.Detail)
	default:
		return err
	}
}
