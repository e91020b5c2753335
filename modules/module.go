// Copyright (C) 2025, Dozer Labs. All rights reserved.
// See the file LICENSE for licensing terms.

// Package modules keeps the registry of stateful precompile modules mounted
// by dozerd-style hosts. Registration validates reserved address ranges and
// iteration order is deterministic (sorted by address).
package modules

import (
	"bytes"

	"github.com/luxfi/geth/common"

	"github.com/dozerfi/amm/contract"
)

// Module pairs a precompile with its config key and mount address.
type Module struct {
	// ConfigKey names this precompile in json chain configs.
	ConfigKey string

	// Address is the account the precompile is mounted at.
	Address common.Address

	// Contract is the executable precompile.
	Contract contract.StatefulPrecompiledContract
}

type moduleArray []Module

func (m moduleArray) Len() int      { return len(m) }
func (m moduleArray) Swap(i, j int) { m[i], m[j] = m[j], m[i] }
func (m moduleArray) Less(i, j int) bool {
	return bytes.Compare(m[i].Address.Bytes(), m[j].Address.Bytes()) < 0
}
