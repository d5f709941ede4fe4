package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rentwatch/listing-guard/internal/model"
)

// HTTPClient talks to a per-platform gateway that speaks a small JSON envelope
// protocol: every call is a POST returning {"code":0,"msg":"","data":...}.
type HTTPClient struct {
	platform model.Platform
	baseURL  string
	hc       *http.Client
}

// NewHTTPClient constructs a gateway client for platform p.
func NewHTTPClient(p model.Platform, baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		platform: p,
		baseURL:  strings.TrimRight(baseURL, "/"),
		hc:       &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type request struct {
	Credential json.RawMessage `json:"credential"`
	AccountID  string          `json:"account_id,omitempty"`
	Game       string          `json:"game,omitempty"`
	ItemID     string          `json:"item_id,omitempty"`
	On         *bool           `json:"on,omitempty"`
	Enabled    *bool           `json:"enabled,omitempty"`
	Since      *time.Time      `json:"since,omitempty"`
}

type wireListing struct {
	AccountID   string            `json:"account_id"`
	Game        string            `json:"game"`
	ItemID      string            `json:"item_id"`
	Status      string            `json:"status"`
	AuditReason string            `json:"audit_reason"`
	SubCode     int               `json:"sub_code"`
	Metadata    map[string]string `json:"metadata"`
}

type wireOrder struct {
	OrderID   string    `json:"order_id"`
	AccountID string    `json:"account_id"`
	Game      string    `json:"game"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Status    string    `json:"status"`
}

type flagResult struct {
	OK      bool `json:"success"`
	Online  bool `json:"online"`
	Enabled bool `json:"enabled"`
}

func (c *HTTPClient) call(ctx context.Context, op, path string, req request, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return CallError(c.platform, op, err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return CallError(c.platform, op, err)
	}
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(hreq)
	if err != nil {
		return CallError(c.platform, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return CallError(c.platform, op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return CallError(c.platform, op, fmt.Errorf("http status %d", resp.StatusCode))
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return CallError(c.platform, op, fmt.Errorf("malformed payload: %w", err))
	}
	if env.Code != 0 {
		return CallError(c.platform, op, fmt.Errorf("business error %d: %s", env.Code, env.Msg))
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return CallError(c.platform, op, fmt.Errorf("malformed data: %w", err))
	}
	return nil
}

// ListListings implements Client.
func (c *HTTPClient) ListListings(ctx context.Context, cred model.Credential) ([]model.Listing, error) {
	var rows []wireListing
	if err := c.call(ctx, "list_listings", "/listings", request{Credential: cred.Payload}, &rows); err != nil {
		return nil, err
	}
	out := make([]model.Listing, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Listing{
			AccountID:   r.AccountID,
			Game:        r.Game,
			ItemID:      r.ItemID,
			Raw:         r.Status,
			AuditReason: r.AuditReason,
			SubCode:     r.SubCode,
			Metadata:    r.Metadata,
		})
	}
	return out, nil
}

// SetListing implements Client.
func (c *HTTPClient) SetListing(ctx context.Context, cred model.Credential, itemID string, on bool) (bool, error) {
	var res flagResult
	err := c.call(ctx, "set_listing", "/listing/set", request{Credential: cred.Payload, ItemID: itemID, On: &on}, &res)
	return res.OK, err
}

// QueryOnline implements Client.
func (c *HTTPClient) QueryOnline(ctx context.Context, cred model.Credential, accountID, game string) (bool, error) {
	var res flagResult
	err := c.call(ctx, "query_online", "/online", request{Credential: cred.Payload, AccountID: accountID, Game: game}, &res)
	return res.Online, err
}

// QueryForcedPlayBlock implements Client.
func (c *HTTPClient) QueryForcedPlayBlock(ctx context.Context, cred model.Credential, accountID, game string) (bool, error) {
	var res flagResult
	err := c.call(ctx, "query_forced_play_block", "/forbid/query",
		request{Credential: cred.Payload, AccountID: accountID, Game: game}, &res)
	return res.Enabled, err
}

// SetForcedPlayBlock implements Client.
func (c *HTTPClient) SetForcedPlayBlock(ctx context.Context, cred model.Credential, accountID, game string, enabled bool) (bool, error) {
	var res flagResult
	err := c.call(ctx, "set_forced_play_block", "/forbid/set",
		request{Credential: cred.Payload, AccountID: accountID, Game: game, Enabled: &enabled}, &res)
	return res.Enabled, err
}

// ListOrders implements Client.
func (c *HTTPClient) ListOrders(ctx context.Context, cred model.Credential, since time.Time) ([]model.Order, error) {
	var rows []wireOrder
	s := since.UTC()
	if err := c.call(ctx, "list_orders", "/orders", request{Credential: cred.Payload, Since: &s}, &rows); err != nil {
		return nil, err
	}
	out := make([]model.Order, 0, len(rows))
	for i, r := range rows {
		st, ok := model.ParseOrderStatus(r.Status)
		if !ok {
			return nil, CallError(c.platform, "list_orders", fmt.Errorf("malformed payload: order %d: unknown status %q", i, r.Status))
		}
		if r.OrderID == "" || r.AccountID == "" {
			return nil, CallError(c.platform, "list_orders", fmt.Errorf("malformed payload: order %d: missing order or account id", i))
		}
		out = append(out, model.Order{
			Owner:     cred.Owner,
			Platform:  c.platform,
			OrderID:   r.OrderID,
			AccountID: r.AccountID,
			Game:      r.Game,
			StartTime: r.StartTime,
			EndTime:   r.EndTime,
			Status:    st,
		})
	}
	return out, nil
}
