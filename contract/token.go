// Copyright (C) 2025, Dozer Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package contract

import (
	"bytes"
	"encoding/hex"
	"errors"
)

// TokenID is a 32-byte token identifier. The native token HTR is the zero
// value; every custom token carries its creation-transaction hash.
type TokenID [32]byte

// HTR is the native token of the host ledger. The engine treats it as any
// other token except where the HTR/USD price mapping references it.
var HTR = TokenID{}

var ErrInvalidTokenID = errors.New("invalid token id")

// TokenIDFromHex parses a bare (no 0x prefix) 64-character hex token id.
// The native token may also be written as the single byte "00".
func TokenIDFromHex(s string) (TokenID, error) {
	if s == "00" {
		return HTR, nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return TokenID{}, ErrInvalidTokenID
	}
	var id TokenID
	copy(id[:], raw)
	return id, nil
}

// TokenIDFromBytes copies a 32-byte identifier from storage.
func TokenIDFromBytes(data []byte) (TokenID, error) {
	if len(data) != 32 {
		return TokenID{}, ErrInvalidTokenID
	}
	var id TokenID
	copy(id[:], data)
	return id, nil
}

// Hex returns the bare hex encoding used inside pool keys. HTR encodes as "00".
func (t TokenID) Hex() string {
	if t == HTR {
		return "00"
	}
	return hex.EncodeToString(t[:])
}

// IsNative reports whether the token is HTR.
func (t TokenID) IsNative() bool {
	return t == HTR
}

// Less orders tokens lexicographically on their raw bytes. Pool keys store
// the smaller token first.
func (t TokenID) Less(other TokenID) bool {
	return bytes.Compare(t[:], other[:]) < 0
}

// Bytes returns the raw identifier for storage hashing.
func (t TokenID) Bytes() []byte {
	return t[:]
}
