// Copyright (C) 2025, Dozer Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package contract

import "github.com/luxfi/geth/common"

// StatefulPrecompiledContract is the execution surface a precompile exposes
// to the host EVM.
type StatefulPrecompiledContract interface {
	Run(
		accessibleState AccessibleState,
		caller common.Address,
		addr common.Address,
		input []byte,
		suppliedGas uint64,
		readOnly bool,
	) (ret []byte, remainingGas uint64, err error)

	RequiredGas(input []byte) uint64
}

// Config is the precompile activation config shape hosts deserialize from
// their chain config.
type Config interface {
	Key() string
	Timestamp() *uint64
	IsDisabled() bool
	Equal(Config) bool
	Verify() error
}

// Upgrade carries the activation fields every precompile config embeds.
type Upgrade struct {
	BlockTimestamp *uint64 `json:"blockTimestamp,omitempty"`
	Disable        bool    `json:"disable,omitempty"`
}

// Timestamp returns the activation timestamp.
func (u *Upgrade) Timestamp() *uint64 { return u.BlockTimestamp }

// Equal compares two upgrades field by field.
func (u *Upgrade) Equal(other *Upgrade) bool {
	if other == nil {
		return false
	}
	if (u.BlockTimestamp == nil) != (other.BlockTimestamp == nil) {
		return false
	}
	if u.BlockTimestamp != nil && *u.BlockTimestamp != *other.BlockTimestamp {
		return false
	}
	return u.Disable == other.Disable
}
