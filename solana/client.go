// Copyright (c) 2025 OpenDEX Contributors
// SPDX-License-Identifier: MIT

package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/opendex/indexer/decoder"
)

// Commitment is the finality level requested for ledger reads.
const Commitment = "confirmed"

// Client is a JSON-RPC client for a Solana node.
type Client struct {
	url    string
	client *http.Client
}

// NewClient creates a client for the given RPC endpoint.
func NewClient(url string) *Client {
	return &Client{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// rpcCall makes a single JSON-RPC request and returns the raw result.
func (c *Client) rpcCall(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	body := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      uuid.NewString(),
		"method":  method,
		"params":  params,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", method, err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("%s: RPC error %d: %s", method, result.Error.Code, result.Error.Message)
	}
	return result.Result, nil
}

// GetSlot returns the node's current slot at the configured commitment.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	raw, err := c.rpcCall(ctx, "getSlot", []interface{}{
		map[string]interface{}{"commitment": Commitment},
	})
	if err != nil {
		return 0, err
	}
	var slot uint64
	if err := json.Unmarshal(raw, &slot); err != nil {
		return 0, fmt.Errorf("getSlot: invalid slot response: %w", err)
	}
	return slot, nil
}

// GetSignaturesForAddress returns up to limit signature infos for the given
// address, older than before when before is non-empty. Results come newest
// first.
func (c *Client) GetSignaturesForAddress(ctx context.Context, address, before string, limit int) ([]SignatureInfo, error) {
	cfg := map[string]interface{}{
		"limit":      limit,
		"commitment": Commitment,
	}
	if before != "" {
		cfg["before"] = before
	}

	raw, err := c.rpcCall(ctx, "getSignaturesForAddress", []interface{}{address, cfg})
	if err != nil {
		return nil, err
	}

	var sigs []SignatureInfo
	if err := json.Unmarshal(raw, &sigs); err != nil {
		return nil, fmt.Errorf("getSignaturesForAddress: %w", err)
	}
	return sigs, nil
}

// GetTransaction fetches a confirmed transaction in json encoding with
// versioned transaction support.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	raw, err := c.rpcCall(ctx, "getTransaction", []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "json",
			"commitment":                     Commitment,
			"maxSupportedTransactionVersion": 0,
		},
	})
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return nil, fmt.Errorf("getTransaction: %s not found", signature)
	}

	var tx Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("getTransaction: %w", err)
	}
	return &tx, nil
}

// GetProgramAccounts enumerates accounts owned by the program whose data
// begins with the given discriminator; pass nil to fetch all. Account data
// is returned decoded from base64.
func (c *Client) GetProgramAccounts(ctx context.Context, program string, discriminator []byte) ([]ProgramAccount, error) {
	cfg := map[string]interface{}{
		"encoding":   "base64",
		"commitment": Commitment,
	}
	if len(discriminator) > 0 {
		cfg["filters"] = []interface{}{
			map[string]interface{}{
				"memcmp": map[string]interface{}{
					"offset": 0,
					"bytes":  decoder.Base58Encode(discriminator),
				},
			},
		}
	}

	raw, err := c.rpcCall(ctx, "getProgramAccounts", []interface{}{program, cfg})
	if err != nil {
		return nil, err
	}

	var entries []struct {
		Pubkey  string `json:"pubkey"`
		Account struct {
			Owner string   `json:"owner"`
			Data  []string `json:"data"` // [payload, encoding]
		} `json:"account"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("getProgramAccounts: %w", err)
	}

	accounts := make([]ProgramAccount, 0, len(entries))
	for _, e := range entries {
		if len(e.Account.Data) == 0 {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(e.Account.Data[0])
		if err != nil {
			return nil, fmt.Errorf("getProgramAccounts: account %s: %w", e.Pubkey, err)
		}
		accounts = append(accounts, ProgramAccount{
			Address: e.Pubkey,
			Owner:   e.Account.Owner,
			Data:    data,
		})
	}
	return accounts, nil
}
