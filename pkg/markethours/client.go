// Package markethours is a Go SDK for the market-hours oracle REST API.
package markethours

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
	"time"
)

// Validation results as reported by the API.
const (
	Approved = "Approved"
	Rejected = "Rejected"
	Pass     = "Pass"
)

// Actions gated by the oracle.
const (
	ActionTransfer = "transfer"
	ActionCreate   = "create"
	ActionUpdate   = "update"
	ActionBurn     = "burn"
)

var (
	// ErrNotInitialized is returned by Permits when the oracle does not exist yet.
	ErrNotInitialized = errors.New("markethours: oracle not initialized")
	// ErrUnknownVersion is returned by Permits for a record layout this client
	// cannot interpret.
	ErrUnknownVersion = errors.New("markethours: unknown record version")
)

// RecordVersion is the only record layout Permits understands.
const RecordVersion = 0

// Record is the oracle record.
type Record struct {
	Version   uint8  `json:"version"`
	Transfer  string `json:"transfer"`
	Create    string `json:"create"`
	Update    string `json:"update"`
	Burn      string `json:"burn"`
	Bump      uint8  `json:"bump"`
	VaultBump uint8  `json:"vault_bump"`
}

// Result returns the validation result for an action, or "" if unknown.
func (r *Record) Result(action string) string {
	switch action {
	case ActionTransfer:
		return r.Transfer
	case ActionCreate:
		return r.Create
	case ActionUpdate:
		return r.Update
	case ActionBurn:
		return r.Burn
	default:
		return ""
	}
}

// ClockView is the market clock at one instant.
type ClockView struct {
	UnixTimestamp   int64  `json:"unix_timestamp"`
	Weekday         string `json:"weekday"`
	BusinessDay     bool   `json:"business_day"`
	Open            bool   `json:"open"`
	NearOpenOrClose bool   `json:"near_open_or_close"`
	NextOpen        int64  `json:"next_open"`
	NextClose       int64  `json:"next_close"`
}

// Status is the oracle status.
type Status struct {
	ProgramID      string    `json:"program_id"`
	Oracle         string    `json:"oracle"`
	RewardVault    string    `json:"reward_vault"`
	Initialized    bool      `json:"initialized"`
	Record         *Record   `json:"record,omitempty"`
	VaultBalance   uint64    `json:"vault_balance"`
	RewardLamports uint64    `json:"reward_lamports"`
	RewardEligible bool      `json:"reward_eligible"`
	Clock          ClockView `json:"clock"`
}

// Receipt records one executed call.
type Receipt struct {
	ID            string    `json:"id"`
	Instruction   string    `json:"instruction"`
	Signer        string    `json:"signer"`
	Payer         string    `json:"payer"`
	UnixTimestamp int64     `json:"unix_timestamp"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
	Logs          []string  `json:"logs"`
	Reward        uint64    `json:"reward"`
	CreatedAt     time.Time `json:"created_at"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	Receipt    *Receipt
}

func (e *APIError) Error() string {
	return fmt.Sprintf("markethours: %d: %s", e.StatusCode, e.Message)
}

// Client provides a Go SDK for interacting with the oracle server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new oracle API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Status retrieves the oracle status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.do(ctx, http.MethodGet, "/api/v1/oracle", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Permits reports whether the oracle currently allows action.
func (c *Client) Permits(ctx context.Context, action string) (bool, error) {
	st, err := c.Status(ctx)
	if err != nil {
		return false, err
	}
	if !st.Initialized || st.Record == nil {
		return false, ErrNotInitialized
	}
	if st.Record.Version != RecordVersion {
		return false, fmt.Errorf("%w %d", ErrUnknownVersion, st.Record.Version)
	}
	switch st.Record.Result(action) {
	case Approved, Pass:
		return true, nil
	case Rejected:
		return false, nil
	default:
		return false, fmt.Errorf("markethours: unknown action %q", action)
	}
}

// CreateOracle creates the oracle record. An empty payer means the signer pays.
func (c *Client) CreateOracle(ctx context.Context, signer, payer string) (*Receipt, error) {
	body := map[string]string{"signer": signer}
	if payer != "" {
		body["payer"] = payer
	}
	var rc Receipt
	if err := c.do(ctx, http.MethodPost, "/api/v1/oracle", body, &rc); err != nil {
		return nil, err
	}
	return &rc, nil
}

// CrankOracle refreshes the oracle on behalf of signer.
func (c *Client) CrankOracle(ctx context.Context, signer string) (*Receipt, error) {
	var rc Receipt
	if err := c.do(ctx, http.MethodPost, "/api/v1/oracle/crank", map[string]string{"signer": signer}, &rc); err != nil {
		return nil, err
	}
	return &rc, nil
}

// Airdrop credits lamports to an address.
func (c *Client) Airdrop(ctx context.Context, address string, lamports uint64) (*Receipt, error) {
	body := map[string]any{"address": address, "lamports": lamports}
	var rc Receipt
	if err := c.do(ctx, http.MethodPost, "/api/v1/airdrop", body, &rc); err != nil {
		return nil, err
	}
	return &rc, nil
}

// Balance returns the lamports held at address.
func (c *Client) Balance(ctx context.Context, address string) (uint64, error) {
	var resp struct {
		Lamports uint64 `json:"lamports"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+url.PathEscape(address)+"/balance", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Lamports, nil
}

// Clock returns the market clock now, or at the given unix time when at is
// non-nil.
func (c *Client) Clock(ctx context.Context, at *int64) (*ClockView, error) {
	path := "/api/v1/clock"
	if at != nil {
		path += "?at=" + strconv.FormatInt(*at, 10)
	}
	var v ClockView
	if err := c.do(ctx, http.MethodGet, path, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Receipts lists receipts created in [start, end), newest first.
func (c *Client) Receipts(ctx context.Context, start, end time.Time, limit int) ([]Receipt, error) {
	q := url.Values{}
	if !start.IsZero() {
		q.Set("start", start.UTC().Format(time.RFC3339))
	}
	if !end.IsZero() {
		q.Set("end", end.UTC().Format(time.RFC3339))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/receipts"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp struct {
		Receipts []Receipt `json:"receipts"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Receipts, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error   string   `json:"error"`
			Receipt *Receipt `json:"receipt"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error, Receipt: e.Receipt}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
