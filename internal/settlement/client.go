package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is the narrow capability this service needs from the settlement
// network: read the hot wallet's sequence number, submit signed transfers
// from it, and query account balances. All calls are remote and fallible.
type Client interface {
	GetSequence(ctx context.Context) (uint64, error)
	SubmitTransfer(ctx context.Context, dest string, amount, seq uint64) (string, error)
	GetBalance(ctx context.Context, address string) (uint64, error)
}

// HTTPClient talks to the settlement network's HTTP API on behalf of one
// hot wallet.
type HTTPClient struct {
	baseURL  string
	walletID string
	client   *http.Client
	headers  map[string]string
}

// NewHTTPClient creates a settlement API client for the given hot wallet.
// The API key may be empty for unauthenticated test networks.
func NewHTTPClient(baseURL, walletID, apiKey string) *HTTPClient {
	c := &HTTPClient{
		baseURL:  baseURL,
		walletID: walletID,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
	if apiKey != "" {
		c.headers["Authorization"] = "Bearer " + apiKey
	}
	return c
}

// SetTimeout overrides the HTTP timeout for all calls.
func (c *HTTPClient) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

func (c *HTTPClient) makeRequest(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("settlement API returned status %d for %s", resp.StatusCode, endpoint)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return data, nil
}

// GetSequence reads the hot wallet's current sequence number. Every
// transfer must carry the sequence observed right before submission.
func (c *HTTPClient) GetSequence(ctx context.Context) (uint64, error) {
	data, err := c.makeRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/wallets/%s/seqno", c.walletID), nil)
	if err != nil {
		return 0, err
	}

	var out struct {
		Seqno uint64 `json:"seqno"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, fmt.Errorf("failed to decode seqno response: %w", err)
	}
	return out.Seqno, nil
}

// SubmitTransfer submits a signed transfer of amount (smallest unit) from
// the hot wallet to dest and returns the transaction id.
func (c *HTTPClient) SubmitTransfer(ctx context.Context, dest string, amount, seq uint64) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"destination": dest,
		"amount":      amount,
		"seqno":       seq,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode transfer: %w", err)
	}

	data, err := c.makeRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/wallets/%s/transfers", c.walletID), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}

	var out struct {
		TxID string `json:"txId"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to decode transfer response: %w", err)
	}
	return out.TxID, nil
}

// GetBalance reads an account's balance in the network's smallest unit.
func (c *HTTPClient) GetBalance(ctx context.Context, address string) (uint64, error) {
	data, err := c.makeRequest(ctx, http.MethodGet, "/v1/accounts/"+address+"/balance", nil)
	if err != nil {
		return 0, err
	}

	var out struct {
		Balance uint64 `json:"balance"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, fmt.Errorf("failed to decode balance response: %w", err)
	}
	return out.Balance, nil
}
