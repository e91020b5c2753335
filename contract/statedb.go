// Copyright (C) 2025, Dozer Labs. All rights reserved.
// See the file LICENSE for licensing terms.

// Package contract defines the host-facing interfaces of the AMM precompile:
// the state access surface the host runtime provides, and the per-call
// transaction context (caller, block timestamp, action bundle).
package contract

import (
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

// StateDB is the narrow state interface the engine requires from the host.
// The host serializes access: exactly one operation runs at a time and its
// writes commit atomically or roll back wholly on error.
type StateDB interface {
	GetState(addr common.Address, key common.Hash) common.Hash
	SetState(addr common.Address, key common.Hash, value common.Hash)
	GetBalance(addr common.Address) *uint256.Int
	AddBalance(addr common.Address, amount *uint256.Int)
	SubBalance(addr common.Address, amount *uint256.Int)
	Exist(addr common.Address) bool
	CreateAccount(addr common.Address)
	GetBlockTimestamp() uint64
}

// AccessibleState is what the precompile dispatch receives from the EVM.
type AccessibleState interface {
	GetStateDB() StateDB
}
