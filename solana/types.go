// Copyright (c) 2025 OpenDEX Contributors
// SPDX-License-Identifier: MIT

// Package solana provides the thin upstream clients this indexer needs: a
// JSON-RPC client for signatures, transactions, program accounts and slots,
// and a WebSocket client for the program log subscription.
package solana

// Transaction is a confirmed transaction in the json encoding, with the
// metadata fields the indexer reads.
type Transaction struct {
	Slot        uint64          `json:"slot"`
	BlockTime   *int64          `json:"blockTime"`
	Transaction TransactionBody `json:"transaction"`
	Meta        *Meta           `json:"meta"`
}

// TransactionBody carries the signed message and its signatures.
type TransactionBody struct {
	Signatures []string `json:"signatures"`
	Message    Message  `json:"message"`
}

// Message is the raw-format transaction message.
type Message struct {
	AccountKeys     []string      `json:"accountKeys"`
	Instructions    []Instruction `json:"instructions"`
	RecentBlockhash string        `json:"recentBlockhash"`
}

// Instruction references accounts by index into the message account keys and
// carries base58-encoded data.
type Instruction struct {
	ProgramIDIndex int    `json:"programIdIndex"`
	Accounts       []int  `json:"accounts"`
	Data           string `json:"data"`
}

// Meta is the transaction metadata; only log messages and the error status
// matter for ingestion.
type Meta struct {
	Err         interface{} `json:"err"`
	Fee         uint64      `json:"fee"`
	LogMessages []string    `json:"logMessages"`
}

// LogMessages returns the transaction's log lines, or nil when metadata is
// missing.
func (t *Transaction) LogMessages() []string {
	if t.Meta == nil {
		return nil
	}
	return t.Meta.LogMessages
}

// AccountKeys returns the message account keys.
func (t *Transaction) AccountKeys() []string {
	return t.Transaction.Message.AccountKeys
}

// BlockTimeMillis returns the block time in milliseconds, 0 when unknown.
func (t *Transaction) BlockTimeMillis() int64 {
	if t.BlockTime == nil {
		return 0
	}
	return *t.BlockTime * 1000
}

// SignatureInfo is one entry of a getSignaturesForAddress page.
type SignatureInfo struct {
	Signature string      `json:"signature"`
	Slot      uint64      `json:"slot"`
	BlockTime *int64      `json:"blockTime"`
	Err       interface{} `json:"err"`
}

// BlockTimeMillis returns the signature's block time in milliseconds,
// 0 when unknown.
func (s *SignatureInfo) BlockTimeMillis() int64 {
	if s.BlockTime == nil {
		return 0
	}
	return *s.BlockTime * 1000
}

// ProgramAccount is one account returned by getProgramAccounts, with its
// data already base64-decoded.
type ProgramAccount struct {
	Address string
	Owner   string
	Data    []byte
}

// LogsEvent is one tuple delivered by the logsSubscribe stream.
type LogsEvent struct {
	Slot      uint64
	Signature string
	Logs      []string
	Err       interface{}
}
