// Copyright (c) 2025 OpenDEX Contributors
// SPDX-License-Identifier: MIT

package decoder

import (
	"encoding/binary"
	"fmt"
)

// BorshReader reads Borsh-encoded values from an instruction or event payload.
type BorshReader struct {
	data []byte
	pos  int
}

// NewBorshReader creates a reader over raw bytes.
func NewBorshReader(data []byte) *BorshReader {
	return &BorshReader{data: data}
}

// NewBorshReaderBase58 creates a reader over base58-encoded instruction data.
func NewBorshReaderBase58(encoded string) (*BorshReader, error) {
	data, err := Base58Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("base58 decode failed: %w", err)
	}
	return &BorshReader{data: data}, nil
}

// Remaining returns the number of unread bytes.
func (r *BorshReader) Remaining() int {
	return len(r.data) - r.pos
}

// ReadU8 reads a single byte.
func (r *BorshReader) ReadU8() (uint8, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("buffer underflow: need 1 byte, have %d", r.Remaining())
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

// ReadU16 reads a little-endian uint16.
func (r *BorshReader) ReadU16() (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, fmt.Errorf("buffer underflow: need 2 bytes, have %d", r.Remaining())
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

// ReadU32 reads a little-endian uint32.
func (r *BorshReader) ReadU32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("buffer underflow: need 4 bytes, have %d", r.Remaining())
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

// ReadU64 reads a little-endian uint64.
func (r *BorshReader) ReadU64() (uint64, error) {
	if r.pos+8 > len(r.data) {
		return 0, fmt.Errorf("buffer underflow: need 8 bytes, have %d", r.Remaining())
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

// ReadI64 reads a little-endian int64.
func (r *BorshReader) ReadI64() (int64, error) {
	v, err := r.ReadU64()
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

// ReadPubkey reads a 32-byte public key and returns it base58 encoded.
func (r *BorshReader) ReadPubkey() (string, error) {
	if r.pos+32 > len(r.data) {
		return "", fmt.Errorf("buffer underflow: need 32 bytes for pubkey, have %d", r.Remaining())
	}
	key := r.data[r.pos : r.pos+32]
	r.pos += 32
	return Base58Encode(key), nil
}

// ReadOptionPubkey reads a Borsh Option<Pubkey>: a 1-byte presence tag
// followed by the key when present. Absent options return "".
func (r *BorshReader) ReadOptionPubkey() (string, error) {
	tag, err := r.ReadU8()
	if err != nil {
		return "", err
	}
	if tag == 0 {
		return "", nil
	}
	return r.ReadPubkey()
}

// ReadString reads a u32 length-prefixed UTF-8 string.
func (r *BorshReader) ReadString() (string, error) {
	n, err := r.ReadU32()
	if err != nil {
		return "", err
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadBytes reads a fixed number of bytes.
func (r *BorshReader) ReadBytes(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf("buffer underflow: need %d bytes, have %d", n, r.Remaining())
	}
	b := make([]byte, n)
	copy(b, r.data[r.pos:r.pos+n])
	r.pos += n
	return b, nil
}

// Skip skips n bytes.
func (r *BorshReader) Skip(n int) error {
	if r.pos+n > len(r.data) {
		return fmt.Errorf("buffer underflow: cannot skip %d bytes, have %d", n, r.Remaining())
	}
	r.pos += n
	return nil
}
