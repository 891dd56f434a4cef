// Copyright (c) 2025 OpenDEX Contributors
// SPDX-License-Identifier: MIT

// Package decoder turns raw account bytes and instruction payloads from the
// DEX program into typed records. All layouts are fixed-offset Borsh
// encodings; decoding is best-effort and never panics on short input.
package decoder

import "fmt"

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var base58AlphabetIdx [256]int

func init() {
	for i := range base58AlphabetIdx {
		base58AlphabetIdx[i] = -1
	}
	for i, c := range base58Alphabet {
		base58AlphabetIdx[c] = i
	}
}

// Base58Decode decodes a base58-encoded string (Bitcoin alphabet).
func Base58Decode(s string) ([]byte, error) {
	if len(s) == 0 {
		return []byte{}, nil
	}

	zeros := 0
	for _, c := range s {
		if c != '1' {
			break
		}
		zeros++
	}

	result := make([]byte, 0, len(s))
	for _, c := range s {
		idx := base58AlphabetIdx[c]
		if idx == -1 {
			return nil, fmt.Errorf("invalid base58 character: %c", c)
		}

		carry := idx
		for i := len(result) - 1; i >= 0; i-- {
			carry += 58 * int(result[i])
			result[i] = byte(carry & 0xff)
			carry >>= 8
		}
		for carry > 0 {
			result = append([]byte{byte(carry & 0xff)}, result...)
			carry >>= 8
		}
	}

	for i := 0; i < zeros; i++ {
		result = append([]byte{0}, result...)
	}
	return result, nil
}

// Base58Encode encodes bytes to a base58 string.
func Base58Encode(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	zeros := 0
	for _, b := range data {
		if b != 0 {
			break
		}
		zeros++
	}

	result := make([]byte, 0, len(data)*138/100+1)
	for _, b := range data {
		carry := int(b)
		for i := len(result) - 1; i >= 0; i-- {
			carry += 256 * int(result[i])
			result[i] = byte(carry % 58)
			carry /= 58
		}
		for carry > 0 {
			result = append([]byte{byte(carry % 58)}, result...)
			carry /= 58
		}
	}

	for i, b := range result {
		result[i] = base58Alphabet[b]
	}

	prefix := make([]byte, zeros)
	for i := range prefix {
		prefix[i] = '1'
	}
	return string(append(prefix, result...))
}
