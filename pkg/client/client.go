// Package client provides the Vaultline Go SDK for submitting transactions
// and querying the settlement ledger over the HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrSecurityAlert is returned when the server discards a transaction for an
// integrity-seal mismatch. The transaction is gone; retrying cannot succeed.
var ErrSecurityAlert = errors.New("integrity hash mismatch: transaction discarded by server")

// PendingTransaction mirrors a queued transaction as returned by the API.
type PendingTransaction struct {
	ID            string          `json:"id"`
	Sender        string          `json:"sender"`
	Receiver      string          `json:"receiver"`
	Amount        decimal.Decimal `json:"amount"`
	Mode          string          `json:"mode"`
	SubmittedAt   string          `json:"submitted_at"`
	IntegrityHash string          `json:"integrity_hash,omitempty"`
}

// LedgerRecord mirrors a settled ledger record as returned by the API.
type LedgerRecord struct {
	ID             string          `json:"id"`
	Sender         string          `json:"sender"`
	Receiver       string          `json:"receiver"`
	OriginalAmount decimal.Decimal `json:"original_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
	Adjustment     decimal.Decimal `json:"adjustment"`
	Mode           string          `json:"mode"`
	SubmittedAt    string          `json:"submitted_at"`
	Status         string          `json:"status"`
	ApproverID     string          `json:"approver_id"`
	PrevHash       string          `json:"previous_hash"`
	Hash           string          `json:"hash"`
	IntegrityHash  string          `json:"integrity_hash,omitempty"`
}

// LedgerOverview is returned by Ledger.
type LedgerOverview struct {
	Records    []LedgerRecord `json:"records"`
	Length     int            `json:"length"`
	MerkleRoot string         `json:"merkle_root"`
}

// VerifyResult is returned by VerifyChain.
type VerifyResult struct {
	Valid      bool   `json:"valid"`
	Length     int    `json:"length"`
	MerkleRoot string `json:"merkle_root"`
	BrokenAt   *int   `json:"broken_at,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Balance is returned by AccountBalance.
type Balance struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
}

// Client is the Vaultline SDK entry point.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the request timeout on the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitTransaction queues a transfer. mode is "fast" or "standard"; empty
// defaults to fast on the server.
func (c *Client) SubmitTransaction(ctx context.Context, sender, receiver string, amount decimal.Decimal, mode string) (*PendingTransaction, error) {
	body := map[string]any{
		"sender":   sender,
		"receiver": receiver,
		"amount":   amount,
		"mode":     mode,
	}
	var tx PendingTransaction
	if err := c.do(ctx, http.MethodPost, "/api/v1/transactions", body, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Queue lists the pending transactions.
func (c *Client) Queue(ctx context.Context) ([]PendingTransaction, error) {
	var queue []PendingTransaction
	if err := c.do(ctx, http.MethodGet, "/api/v1/transactions", nil, &queue); err != nil {
		return nil, err
	}
	return queue, nil
}

// ApproveTransaction settles a queued transaction. finalAmount may be nil to
// settle at the original amount.
func (c *Client) ApproveTransaction(ctx context.Context, id, approverID string, finalAmount *decimal.Decimal) (*LedgerRecord, error) {
	body := map[string]any{"approver_id": approverID}
	if finalAmount != nil {
		body["final_amount"] = *finalAmount
	}
	var rec LedgerRecord
	if err := c.do(ctx, http.MethodPost, "/api/v1/transactions/"+id+"/approve", body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// RejectTransaction retires a queued transaction without settling it.
func (c *Client) RejectTransaction(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/transactions/"+id+"/reject", map[string]any{}, nil)
}

// Ledger returns the full ledger with its Merkle root.
func (c *Client) Ledger(ctx context.Context) (*LedgerOverview, error) {
	var overview LedgerOverview
	if err := c.do(ctx, http.MethodGet, "/api/v1/ledger", nil, &overview); err != nil {
		return nil, err
	}
	return &overview, nil
}

// MerkleRoot returns the current ledger Merkle root.
func (c *Client) MerkleRoot(ctx context.Context) (string, error) {
	var resp struct {
		MerkleRoot string `json:"merkle_root"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/ledger/root", nil, &resp); err != nil {
		return "", err
	}
	return resp.MerkleRoot, nil
}

// VerifyChain asks the server to rescan the full hash chain.
func (c *Client) VerifyChain(ctx context.Context) (*VerifyResult, error) {
	var result VerifyResult
	if err := c.do(ctx, http.MethodGet, "/api/v1/ledger/verify", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// LedgerRecordAt fetches a single ledger record by position.
func (c *Client) LedgerRecordAt(ctx context.Context, idx int) (*LedgerRecord, error) {
	var rec LedgerRecord
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/ledger/records/%d", idx), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// AccountBalance returns an account's current balance. The server settles
// every eligible Fast transaction before answering.
func (c *Client) AccountBalance(ctx context.Context, accountID string) (*Balance, error) {
	var balance Balance
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+accountID+"/balance", nil, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// AccountHistory returns an account's settled transactions, newest first.
func (c *Client) AccountHistory(ctx context.Context, accountID string) ([]LedgerRecord, error) {
	var history []LedgerRecord
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+accountID+"/history", nil, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// do executes one API request and decodes the response into out (unless nil).
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error         string `json:"error"`
			SecurityAlert bool   `json:"security_alert"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.SecurityAlert {
				return fmt.Errorf("%w: %s", ErrSecurityAlert, apiErr.Error)
			}
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
