// Copyright (c) 2025 OpenDEX Contributors
// SPDX-License-Identifier: MIT

package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// MarketDiscriminator is the 8-byte account discriminator identifying a
// market account owned by the DEX program.
var MarketDiscriminator = [8]byte{219, 190, 213, 55, 0, 227, 198, 154}

// minMarketAccountSize is the smallest byte length a real market account can
// have; anything shorter is not a market.
const minMarketAccountSize = 500

const marketNameLen = 16

var (
	// ErrTooSmall is returned when the account buffer is under the minimum
	// market record size.
	ErrTooSmall = errors.New("account data too small to be a market")

	// ErrBadDiscriminator is returned when the first 8 bytes do not match
	// the market discriminator.
	ErrBadDiscriminator = errors.New("invalid market discriminator")
)

// Default decimal precision used when the true mint precision has not been
// fetched from the token program.
const (
	DefaultBaseDecimals  = 8
	DefaultQuoteDecimals = 6
)

type fieldKind int

const (
	fieldBytes fieldKind = iota
	fieldPubkey
	fieldOptionPubkey // 1-byte presence tag + 32-byte payload, always 33 bytes
)

type layoutField struct {
	name string
	kind fieldKind
	size int // only for fieldBytes
}

func (f layoutField) width() int {
	switch f.kind {
	case fieldPubkey:
		return 32
	case fieldOptionPubkey:
		return 33
	default:
		return f.size
	}
}

// marketLayout is the ordered field list of the market account, after the
// 8-byte discriminator. Offsets are computed from this table so a layout
// change upstream is a one-line edit here.
var marketLayout = []layoutField{
	{name: "admin", kind: fieldPubkey},
	{name: "market_authority", kind: fieldPubkey},
	{name: "bids", kind: fieldPubkey},
	{name: "asks", kind: fieldPubkey},
	{name: "event_heap", kind: fieldPubkey},
	{name: "oracle_a", kind: fieldOptionPubkey},
	{name: "oracle_b", kind: fieldOptionPubkey},
	{name: "collect_fee_admin", kind: fieldOptionPubkey},
	{name: "open_orders_admin", kind: fieldOptionPubkey},
	{name: "consume_events_admin", kind: fieldOptionPubkey},
	{name: "close_market_admin", kind: fieldOptionPubkey},
	{name: "name", kind: fieldBytes, size: marketNameLen},
	{name: "base_mint", kind: fieldPubkey},
	{name: "quote_mint", kind: fieldPubkey},
}

// layoutOffset returns the byte offset of a named field, counting the
// discriminator prefix.
func layoutOffset(name string) int {
	off := len(MarketDiscriminator)
	for _, f := range marketLayout {
		if f.name == name {
			return off
		}
		off += f.width()
	}
	panic(fmt.Sprintf("unknown market layout field %q", name))
}

// MarketAccount is the decoded subset of a market account needed for indexing.
type MarketAccount struct {
	Address       string
	Name          string
	BaseMint      string
	QuoteMint     string
	BaseDecimals  int32
	QuoteDecimals int32
}

// DecodeMarketAccount decodes a raw market account buffer. The address is the
// account's own key, used to synthesize a name when the on-chain name is
// blank.
func DecodeMarketAccount(data []byte, address string) (*MarketAccount, error) {
	if len(data) < minMarketAccountSize {
		return nil, ErrTooSmall
	}
	if !bytes.Equal(data[:8], MarketDiscriminator[:]) {
		return nil, ErrBadDiscriminator
	}

	nameOff := layoutOffset("name")
	name := strings.TrimRight(string(data[nameOff:nameOff+marketNameLen]), "\x00")
	if strings.TrimSpace(name) == "" {
		name = "Market-" + shortAddr(address)
	}

	baseOff := layoutOffset("base_mint")
	quoteOff := layoutOffset("quote_mint")

	return &MarketAccount{
		Address:       address,
		Name:          name,
		BaseMint:      Base58Encode(data[baseOff : baseOff+32]),
		QuoteMint:     Base58Encode(data[quoteOff : quoteOff+32]),
		BaseDecimals:  DefaultBaseDecimals,
		QuoteDecimals: DefaultQuoteDecimals,
	}, nil
}

func shortAddr(addr string) string {
	if len(addr) > 8 {
		return addr[:8]
	}
	return addr
}
