package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"stanksmarket/internal/api"
	"stanksmarket/internal/market"
	"stanksmarket/internal/store"
)

func newMarketAPI(t *testing.T, token string) *httptest.Server {
	t.Helper()
	engine := market.NewEngine(store.NewMemory(), market.DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := engine.SeedDefaults(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	srv := httptest.NewServer(api.New(api.Config{AdminToken: token, Gatherer: prometheus.NewRegistry()}, slog.New(slog.NewTextHandler(io.Discard, nil)), engine).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestClientReadsMarket(t *testing.T) {
	srv := newMarketAPI(t, "tok")
	c := NewClient(srv.URL+"/", "")
	ctx := context.Background()

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.TradingHalted || st.Profile != "mor" {
		t.Fatalf("got status %+v", st)
	}
	insts, err := c.Instruments(ctx, "bot", "finance")
	if err != nil {
		t.Fatalf("instruments: %v", err)
	}
	if len(insts) != 4 {
		t.Fatalf("got %d finance stocks want 4", len(insts))
	}
	ixs, err := c.Indices(ctx)
	if err != nil {
		t.Fatalf("indices: %v", err)
	}
	if len(ixs) != 6 {
		t.Fatalf("got %d indices want 6", len(ixs))
	}
	points, err := c.Series(ctx, "ARCANE", 10)
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	if len(points) != 1 || points[0].PriceMicros != 145*market.MicrosPerStonky {
		t.Fatalf("got series %+v", points)
	}

	_, err = c.Instrument(ctx, "ZZZZZZ")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("got %v want 404 APIError", err)
	}
}

func TestClientAdminCommands(t *testing.T) {
	srv := newMarketAPI(t, "tok")
	ctx := context.Background()

	if _, err := NewClient(srv.URL, "").Halt(ctx, "market", "", false); !errors.Is(err, ErrNoAdminToken) {
		t.Fatalf("got %v want ErrNoAdminToken", err)
	}
	_, err := NewClient(srv.URL, "wrong").Halt(ctx, "market", "", false)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("got %v want 401", err)
	}

	c := NewClient(srv.URL, "tok")
	res, err := c.Halt(ctx, "market", "maintenance", true)
	if err != nil {
		t.Fatalf("halt: %v", err)
	}
	if !res.Applied || res.Halt == nil || res.Halt.Reason != "maintenance" {
		t.Fatalf("got %+v", res)
	}
	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.TradingHalted || st.ResumesAt != nil {
		t.Fatalf("got %+v want persistent market halt", st)
	}
	if res, err = c.Resume(ctx, "market"); err != nil || !res.Applied {
		t.Fatalf("resume: %+v %v", res, err)
	}

	body := HaltRequest("NIMBUS", "replayed", false)
	first, err := c.Admin(ctx, "halt", body, "fixed-key")
	if err != nil || !first.Applied {
		t.Fatalf("admin halt: %+v %v", first, err)
	}
	if _, err := c.Resume(ctx, "NIMBUS"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, err := c.Admin(ctx, "halt", body, "fixed-key"); err != nil {
		t.Fatalf("replay: %v", err)
	}
	inst, err := c.Instrument(ctx, "NIMBUS")
	if err != nil || inst.Status != market.StatusTrading {
		t.Fatalf("replayed key re-applied halt: %+v %v", inst, err)
	}

	ipo, err := c.StartIPO(ctx, market.StartIPOInput{OwnerUserID: "u-9", OwnerName: "Carol"})
	if err != nil {
		t.Fatalf("start ipo: %v", err)
	}
	if res, err = c.Delist(ctx, ipo.Symbol, "test"); err != nil || res.Retired == nil {
		t.Fatalf("delist: %+v %v", res, err)
	}
	got, err := c.IPO(ctx, ipo.Symbol)
	if err != nil {
		t.Fatalf("ipo: %v", err)
	}
	if !got.Delisted {
		t.Fatalf("got %+v want delisted", got)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	dirOverride = t.TempDir()
	t.Cleanup(func() { dirOverride = "" })

	if _, err := LoadSession(); err == nil {
		t.Fatalf("expected error without a saved session")
	}
	want := Session{APIBaseURL: "http://localhost:8080", AdminToken: "tok"}
	if err := SaveSession(want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := LoadSession()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
	if err := ClearSession(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := LoadSession(); err == nil {
		t.Fatalf("expected error after clear")
	}
}
