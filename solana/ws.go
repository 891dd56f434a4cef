// Copyright (c) 2025 OpenDEX Contributors
// SPDX-License-Identifier: MIT

package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// LogsClient subscribes to program log notifications over WebSocket.
type LogsClient struct {
	url string

	// ReadTimeout bounds how long a read blocks before the stream is
	// declared dead. Zero means no deadline.
	ReadTimeout time.Duration
}

// NewLogsClient creates a client for the given WebSocket endpoint.
func NewLogsClient(url string) *LogsClient {
	return &LogsClient{url: url, ReadTimeout: 120 * time.Second}
}

// LogsStream is an open logsSubscribe subscription.
type LogsStream struct {
	conn        *websocket.Conn
	readTimeout time.Duration
}

// Subscribe opens a subscription to log notifications for transactions
// mentioning the given program address, at confirmed commitment.
func (c *LogsClient) Subscribe(ctx context.Context, program string) (*LogsStream, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial %s: %w", c.url, err)
	}

	sub := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "logsSubscribe",
		"params": []interface{}{
			map[string]interface{}{"mentions": []string{program}},
			map[string]interface{}{"commitment": Commitment},
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("logsSubscribe request: %w", err)
	}

	return &LogsStream{conn: conn, readTimeout: c.ReadTimeout}, nil
}

// logsNotification is the wire shape of a logsNotification message.
type logsNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Signature string      `json:"signature"`
				Logs      []string    `json:"logs"`
				Err       interface{} `json:"err"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

// Recv blocks for the next log event. Subscription confirmations and
// unrelated frames are skipped. A transport error ends the stream; the
// caller owns reconnecting.
func (s *LogsStream) Recv() (*LogsEvent, error) {
	for {
		if s.readTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("ws read: %w", err)
		}

		var note logsNotification
		if err := json.Unmarshal(msg, &note); err != nil {
			continue
		}
		if note.Method != "logsNotification" {
			continue
		}

		return &LogsEvent{
			Slot:      note.Params.Result.Context.Slot,
			Signature: note.Params.Result.Value.Signature,
			Logs:      note.Params.Result.Value.Logs,
			Err:       note.Params.Result.Value.Err,
		}, nil
	}
}

// Close tears down the subscription connection.
func (s *LogsStream) Close() error {
	return s.conn.Close()
}
