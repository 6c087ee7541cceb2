package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"stanksmarket/internal/market"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultSeriesLimit = 288
	maxSeriesLimit     = 2880
	replayCacheSize    = 256
)

type Config struct {
	// AdminToken guards /v1/admin. Empty leaves the admin routes unmounted.
	AdminToken string
	Gatherer   prometheus.Gatherer
}

type Server struct {
	cfg     Config
	log     *slog.Logger
	market  *market.Engine
	mux     *chi.Mux
	replays *replayCache
}

func New(cfg Config, logger *slog.Logger, engine *market.Engine) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		cfg:     cfg,
		log:     logger,
		market:  engine,
		mux:     chi.NewRouter(),
		replays: newReplayCache(replayCacheSize),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/market/status", s.handleMarketStatus)
		r.Get("/instruments", s.handleInstrumentsList)
		r.Get("/instruments/{symbol}", s.handleInstrumentDetail)
		r.Get("/instruments/{symbol}/series", s.handleInstrumentSeries)
		r.Get("/indices", s.handleIndices)
		r.Get("/events", s.handleEvents)
		r.Post("/ipos", s.handleStartIPO)
		r.Get("/ipos/{symbol}", s.handleIPOStatus)

		if s.cfg.AdminToken != "" {
			r.Route("/admin", func(r chi.Router) {
				r.Use(s.adminMiddleware)
				r.Post("/halt", s.handleAdminHalt)
				r.Post("/resume", s.handleAdminResume)
				r.Post("/reset", s.handleAdminReset)
				r.Post("/delist", s.handleAdminDelist)
			})
		}
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleMarketStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.market.View().Status)
}

func (s *Server) handleInstrumentsList(w http.ResponseWriter, r *http.Request) {
	kind := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("kind")))
	sector := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("sector")))
	view := s.market.View()
	out := make([]market.InstrumentSnapshot, 0, len(view.Instruments))
	for _, inst := range view.Instruments {
		if kind != "" && string(inst.Kind) != kind {
			continue
		}
		if sector != "" && inst.Sector != sector {
			continue
		}
		out = append(out, inst)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      view.Status,
		"instruments": out,
	})
}

func (s *Server) handleInstrumentDetail(w http.ResponseWriter, r *http.Request) {
	symbol := market.NormalizeSymbol(chi.URLParam(r, "symbol"))
	if err := market.ValidateSymbol(symbol); err != nil {
		writeDomainError(w, err)
		return
	}
	inst, ok := s.market.View().Instrument(symbol)
	if !ok {
		writeDomainError(w, market.ErrInstrumentNotFound)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleInstrumentSeries(w http.ResponseWriter, r *http.Request) {
	symbol := market.NormalizeSymbol(chi.URLParam(r, "symbol"))
	q := r.URL.Query()
	limit := defaultSeriesLimit
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxSeriesLimit)
	}
	var since time.Time
	if v := strings.TrimSpace(q.Get("since")); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		since = t
	}
	points, err := s.market.PriceSeries(r.Context(), symbol, since, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "points": points})
}

func (s *Server) handleIndices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"indices": s.market.View().Indices})
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"events": s.market.View().Events})
}

func (s *Server) handleStartIPO(w http.ResponseWriter, r *http.Request) {
	var in market.StartIPOInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.market.StartIPO(r.Context(), in)
	if errors.Is(err, market.ErrIPOAlreadyActive) && out.Symbol != "" {
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "ipo": out})
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleIPOStatus(w http.ResponseWriter, r *http.Request) {
	out, err := s.market.IPOStatus(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminHalt(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Target     string `json:"target"`
		Reason     string `json:"reason"`
		Persistent bool   `json:"persistent"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.applyCommand(w, r, market.Command{Action: market.ActionHalt, Target: in.Target, Reason: in.Reason, Persistent: in.Persistent})
}

func (s *Server) handleAdminResume(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Target string `json:"target"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.applyCommand(w, r, market.Command{Action: market.ActionResume, Target: in.Target})
}

func (s *Server) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Symbol string `json:"symbol"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.applyCommand(w, r, market.Command{Action: market.ActionReset, Target: in.Symbol})
}

func (s *Server) handleAdminDelist(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Symbol string `json:"symbol"`
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.applyCommand(w, r, market.Command{Action: market.ActionDelist, Target: in.Symbol, Reason: in.Reason})
}

// applyCommand runs an admin command once per Idempotency-Key; a replayed
// key gets the first result back without touching the market again.
func (s *Server) applyCommand(w http.ResponseWriter, r *http.Request, cmd market.Command) {
	key := idempotencyKey(r)
	res, state := s.replays.reserve(key)
	switch state {
	case replayDone:
		w.Header().Set("Idempotent-Replay", "true")
		writeJSON(w, http.StatusOK, res)
		return
	case replayPending:
		writeError(w, http.StatusConflict, "a request with this idempotency key is still in progress")
		return
	}
	res, err := s.market.Apply(r.Context(), cmd)
	if err != nil {
		s.replays.release(key)
		s.log.Warn("admin command rejected", "action", cmd.Action, "target", cmd.Target, "request_id", middleware.GetReqID(r.Context()), "err", err)
		writeDomainError(w, err)
		return
	}
	s.replays.complete(key, res)
	s.log.Info("admin command applied", "action", res.Action, "target", res.Target, "applied", res.Applied, "idempotency_key", key)
	writeJSON(w, http.StatusOK, res)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, market.ErrInstrumentNotFound), errors.Is(err, market.ErrIPONotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, market.ErrIPOAlreadyActive), errors.Is(err, market.ErrMarketHalted),
		errors.Is(err, market.ErrInstrumentHalted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, market.ErrStoreConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, market.ErrInvalidSymbol), errors.Is(err, market.ErrInvalidCommand),
		errors.Is(err, market.ErrInstrumentInactive):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, market.ErrNotDelistable):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, market.ErrSymbolSpaceExhausted):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

type replayState int

const (
	replayNew replayState = iota
	replayPending
	replayDone
)

type replayEntry struct {
	done bool
	res  market.CommandResult
}

// replayCache remembers the last n admin results by idempotency key. A key
// is reserved before the command runs so concurrent duplicates cannot both
// apply it.
type replayCache struct {
	mu    sync.Mutex
	n     int
	order []string
	byKey map[string]*replayEntry
}

func newReplayCache(n int) *replayCache {
	return &replayCache{n: n, byKey: make(map[string]*replayEntry, n)}
}

// reserve claims key when it is unseen. Otherwise it reports whether the
// earlier request is still running or has a result to replay.
func (c *replayCache) reserve(key string) (market.CommandResult, replayState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.byKey[key]; ok {
		if e.done {
			return e.res, replayDone
		}
		return market.CommandResult{}, replayPending
	}
	c.byKey[key] = &replayEntry{}
	return market.CommandResult{}, replayNew
}

// release forgets a reservation whose command failed so it can be retried.
func (c *replayCache) release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.byKey[key]; ok && !e.done {
		delete(c.byKey, key)
	}
}

func (c *replayCache) complete(key string, res market.CommandResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byKey[key]
	if !ok {
		e = &replayEntry{}
		c.byKey[key] = e
	}
	if e.done {
		return
	}
	e.done, e.res = true, res
	c.order = append(c.order, key)
	if len(c.order) > c.n {
		delete(c.byKey, c.order[0])
		c.order = c.order[1:]
	}
}
