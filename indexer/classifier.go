// Copyright (c) 2025 OpenDEX Contributors
// SPDX-License-Identifier: MIT

// Package indexer drives ingestion: it scans market accounts, backfills
// transaction history, consumes the live log feed, and routes decoded
// events into storage.
package indexer

import "strings"

// Event types recognized in program log output.
const (
	EventPlaceOrder              = "PlaceOrder"
	EventFill                    = "Fill"
	EventCancelOrder             = "CancelOrder"
	EventSettleFunds             = "SettleFunds"
	EventConsumeEvents           = "ConsumeEvents"
	EventCreateOpenOrdersAccount = "CreateOpenOrdersAccount"
	EventCreateOpenOrdersIndexer = "CreateOpenOrdersIndexer"
	EventCreateMarket            = "CreateMarket"
)

// logPatterns maps log substrings to event types. Order matters:
// "Instruction: FillEvent" contains "Instruction: Fill", so the longer
// pattern is checked first.
var logPatterns = []struct {
	substr string
	event  string
}{
	{"Instruction: PlaceOrder", EventPlaceOrder},
	{"Instruction: FillEvent", EventFill},
	{"Instruction: Fill", EventFill},
	{"Instruction: CancelOrder", EventCancelOrder},
	{"Instruction: SettleFunds", EventSettleFunds},
	{"Instruction: ConsumeEvents", EventConsumeEvents},
	{"Instruction: CreateOpenOrdersAccount", EventCreateOpenOrdersAccount},
	{"Instruction: CreateOpenOrdersIndexer", EventCreateOpenOrdersIndexer},
	{"Instruction: CreateMarket", EventCreateMarket},
}

// ClassifyLogs extracts event types from transaction log lines, in
// order of appearance. A line yields at most one event.
func ClassifyLogs(logs []string) []string {
	var events []string
	for _, line := range logs {
		for _, p := range logPatterns {
			if strings.Contains(line, p.substr) {
				events = append(events, p.event)
				break
			}
		}
	}
	return events
}
