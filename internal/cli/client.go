package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"stanksmarket/internal/market"
)

// APIError is a non-2xx response from the market API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	BaseURL    string
	AdminToken string
	HTTP       *http.Client
}

func NewClient(baseURL, adminToken string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		AdminToken: adminToken,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Status(ctx context.Context) (market.MarketStatus, error) {
	var out market.MarketStatus
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/market/status", false, nil, &out, "")
	return out, err
}

func (c *Client) Instruments(ctx context.Context, kind, sector string) ([]market.InstrumentSnapshot, error) {
	q := url.Values{}
	if kind != "" {
		q.Set("kind", kind)
	}
	if sector != "" {
		q.Set("sector", sector)
	}
	path := "/v1/instruments"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Instruments []market.InstrumentSnapshot `json:"instruments"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, false, nil, &out, "")
	return out.Instruments, err
}

func (c *Client) Instrument(ctx context.Context, symbol string) (market.InstrumentSnapshot, error) {
	var out market.InstrumentSnapshot
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/instruments/"+url.PathEscape(symbol), false, nil, &out, "")
	return out, err
}

func (c *Client) Series(ctx context.Context, symbol string, limit int) ([]market.PricePoint, error) {
	path := "/v1/instruments/" + url.PathEscape(symbol) + "/series"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Points []market.PricePoint `json:"points"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, false, nil, &out, "")
	return out.Points, err
}

func (c *Client) Indices(ctx context.Context) ([]market.IndexSnapshot, error) {
	var out struct {
		Indices []market.IndexSnapshot `json:"indices"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/indices", false, nil, &out, "")
	return out.Indices, err
}

func (c *Client) Events(ctx context.Context) ([]market.EventView, error) {
	var out struct {
		Events []market.EventView `json:"events"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/events", false, nil, &out, "")
	return out.Events, err
}

func (c *Client) StartIPO(ctx context.Context, in market.StartIPOInput) (market.IPOStatus, error) {
	var out market.IPOStatus
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/ipos", false, in, &out, "")
	return out, err
}

func (c *Client) IPO(ctx context.Context, symbol string) (market.IPOStatus, error) {
	var out market.IPOStatus
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/ipos/"+url.PathEscape(symbol), false, nil, &out, "")
	return out, err
}

// ErrNoAdminToken is returned by admin calls made without a token.
var ErrNoAdminToken = errors.New("admin token is not set; run `mkt login` or export STANKS_ADMIN_TOKEN")

// HaltRequest targets market.MarketTarget or a symbol.
func HaltRequest(target, reason string, persistent bool) map[string]any {
	return map[string]any{"target": target, "reason": reason, "persistent": persistent}
}

func ResumeRequest(target string) map[string]any {
	return map[string]any{"target": target}
}

func ResetRequest(symbol string) map[string]any {
	return map[string]any{"symbol": symbol}
}

func DelistRequest(symbol, reason string) map[string]any {
	return map[string]any{"symbol": symbol, "reason": reason}
}

func (c *Client) Halt(ctx context.Context, target, reason string, persistent bool) (market.CommandResult, error) {
	return c.Admin(ctx, "halt", HaltRequest(target, reason, persistent), uuid.NewString())
}

func (c *Client) Resume(ctx context.Context, target string) (market.CommandResult, error) {
	return c.Admin(ctx, "resume", ResumeRequest(target), uuid.NewString())
}

func (c *Client) Reset(ctx context.Context, symbol string) (market.CommandResult, error) {
	return c.Admin(ctx, "reset", ResetRequest(symbol), uuid.NewString())
}

func (c *Client) Delist(ctx context.Context, symbol, reason string) (market.CommandResult, error) {
	return c.Admin(ctx, "delist", DelistRequest(symbol, reason), uuid.NewString())
}

// Admin posts one admin command. Reusing idem replays the first response
// instead of applying the command again.
func (c *Client) Admin(ctx context.Context, action string, body map[string]any, idem string) (market.CommandResult, error) {
	var out market.CommandResult
	if strings.TrimSpace(c.AdminToken) == "" {
		return out, ErrNoAdminToken
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/"+action, true, body, &out, idem)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, authed bool, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+c.AdminToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
