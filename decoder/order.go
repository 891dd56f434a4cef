// Copyright (c) 2025 OpenDEX Contributors
// SPDX-License-Identifier: MIT

package decoder

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// Order sides as stored.
const (
	SideBid = "bid"
	SideAsk = "ask"
)

var (
	// ErrTooShort is returned when an instruction payload is shorter than
	// the place-order argument block.
	ErrTooShort = errors.New("instruction data too short for order args")

	// ErrBadSideTag is returned when the side byte is neither 0 nor 1.
	ErrBadSideTag = errors.New("invalid side tag")
)

// OrderArgs are the decoded arguments of a place-order instruction.
type OrderArgs struct {
	Side        string
	PriceLots   int64
	MaxBaseLots int64
}

// DecodeOrderArgs decodes place-order arguments from raw instruction data:
// an 8-byte discriminator, a 1-byte side tag (0 = bid, 1 = ask), then two
// little-endian i64s (price lots, max base lots).
func DecodeOrderArgs(data []byte) (*OrderArgs, error) {
	if len(data) < 8+1+8+8 {
		return nil, ErrTooShort
	}

	r := NewBorshReader(data)
	if err := r.Skip(8); err != nil {
		return nil, ErrTooShort
	}

	tag, err := r.ReadU8()
	if err != nil {
		return nil, ErrTooShort
	}
	var side string
	switch tag {
	case 0:
		side = SideBid
	case 1:
		side = SideAsk
	default:
		return nil, fmt.Errorf("%w: %d", ErrBadSideTag, tag)
	}

	price, err := r.ReadI64()
	if err != nil {
		return nil, ErrTooShort
	}
	qty, err := r.ReadI64()
	if err != nil {
		return nil, ErrTooShort
	}

	return &OrderArgs{Side: side, PriceLots: price, MaxBaseLots: qty}, nil
}

// fillEventDiscriminator tags a FillEvent payload emitted through
// "Program data:" log lines. Anchor event discriminators are the first
// 8 bytes of sha256("event:<Name>").
var fillEventDiscriminator = eventDiscriminator("FillEvent")

func eventDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("event:" + name))
	return sum[:8]
}

// FillEvent is a decoded program fill event: the matched maker and taker,
// the fill price and quantity in lots, and the taker's side.
type FillEvent struct {
	Maker     string
	Taker     string
	PriceLots int64
	QtyLots   int64
	TakerSide string // "buy" when the taker bid, "sell" when the taker asked
}

const programDataPrefix = "Program data: "

// DecodeFillEventFromLogs scans transaction log lines for base64 "Program
// data:" payloads carrying a FillEvent and returns the decoded events in
// encountered order. Malformed payloads are skipped.
func DecodeFillEventFromLogs(logs []string) []*FillEvent {
	var fills []*FillEvent
	for _, line := range logs {
		if len(line) <= len(programDataPrefix) || line[:len(programDataPrefix)] != programDataPrefix {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(line[len(programDataPrefix):])
		if err != nil {
			continue
		}
		if fill, err := decodeFillEvent(raw); err == nil {
			fills = append(fills, fill)
		}
	}
	return fills
}

func decodeFillEvent(data []byte) (*FillEvent, error) {
	r := NewBorshReader(data)

	disc, err := r.ReadBytes(8)
	if err != nil {
		return nil, err
	}
	if string(disc) != string(fillEventDiscriminator) {
		return nil, errors.New("not a fill event")
	}

	maker, err := r.ReadPubkey()
	if err != nil {
		return nil, err
	}
	taker, err := r.ReadPubkey()
	if err != nil {
		return nil, err
	}
	price, err := r.ReadI64()
	if err != nil {
		return nil, err
	}
	qty, err := r.ReadI64()
	if err != nil {
		return nil, err
	}
	sideTag, err := r.ReadU8()
	if err != nil {
		return nil, err
	}

	side := "buy"
	if sideTag == 1 {
		side = "sell"
	}

	return &FillEvent{
		Maker:     maker,
		Taker:     taker,
		PriceLots: price,
		QtyLots:   qty,
		TakerSide: side,
	}, nil
}

// EncodeFillEvent builds the wire form of a fill event. Used by tests and
// tooling to construct synthetic log lines.
func EncodeFillEvent(f *FillEvent) (string, error) {
	makerKey, err := Base58Decode(f.Maker)
	if err != nil || len(makerKey) != 32 {
		return "", fmt.Errorf("bad maker pubkey %q", f.Maker)
	}
	takerKey, err := Base58Decode(f.Taker)
	if err != nil || len(takerKey) != 32 {
		return "", fmt.Errorf("bad taker pubkey %q", f.Taker)
	}

	buf := make([]byte, 0, 89)
	buf = append(buf, fillEventDiscriminator...)
	buf = append(buf, makerKey...)
	buf = append(buf, takerKey...)
	buf = appendI64(buf, f.PriceLots)
	buf = appendI64(buf, f.QtyLots)
	if f.TakerSide == "sell" {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return programDataPrefix + base64.StdEncoding.EncodeToString(buf), nil
}

func appendI64(buf []byte, v int64) []byte {
	u := uint64(v)
	return append(buf,
		byte(u), byte(u>>8), byte(u>>16), byte(u>>24),
		byte(u>>32), byte(u>>40), byte(u>>48), byte(u>>56))
}
