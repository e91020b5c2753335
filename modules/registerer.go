// Copyright (C) 2025, Dozer Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package modules

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/luxfi/geth/common"
)

// AddressRange is a continuous, inclusive range of addresses.
type AddressRange struct {
	Start common.Address
	End   common.Address
}

// Contains reports whether addr falls inside the range.
func (a *AddressRange) Contains(addr common.Address) bool {
	addrBytes := addr.Bytes()
	return bytes.Compare(addrBytes, a.Start[:]) >= 0 && bytes.Compare(addrBytes, a.End[:]) <= 0
}

// BlackholeAddr is the address where assets are burned.
var BlackholeAddr = common.Address{
	1, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

var (
	// registeredModules preserves insertion sorted by address for
	// deterministic iteration.
	registeredModules = make([]Module, 0)

	// Reserved address ranges for stateful precompiles:
	// 0x0400-0x04FF: markets (AMM engine and future market precompiles)
	// 0x0500-0x05FF: query/graph layer
	// 0x...9000-0x...9FFF: low-byte market addresses (EIP-collision-free)
	reservedRanges = []AddressRange{
		{
			Start: common.HexToAddress("0x0400000000000000000000000000000000000000"),
			End:   common.HexToAddress("0x04000000000000000000000000000000000000ff"),
		},
		{
			Start: common.HexToAddress("0x0500000000000000000000000000000000000000"),
			End:   common.HexToAddress("0x05000000000000000000000000000000000000ff"),
		},
		{
			Start: common.HexToAddress("0x0000000000000000000000000000000000009000"),
			End:   common.HexToAddress("0x0000000000000000000000000000000000009fff"),
		},
	}
)

// ReservedAddress reports whether addr lies in a reserved precompile range.
func ReservedAddress(addr common.Address) bool {
	for _, reservedRange := range reservedRanges {
		if reservedRange.Contains(addr) {
			return true
		}
	}
	return false
}

// RegisterModule registers a stateful precompile module. Addresses must be
// reserved and config keys unique.
func RegisterModule(stm Module) error {
	address := stm.Address
	key := stm.ConfigKey

	if address == BlackholeAddr {
		return fmt.Errorf("address %s overlaps with blackhole address", address)
	}
	if !ReservedAddress(address) {
		return fmt.Errorf("address %s not in a reserved range", address)
	}

	for _, registeredModule := range registeredModules {
		if registeredModule.ConfigKey == key {
			return fmt.Errorf("name %s already used by a stateful precompile", key)
		}
		if registeredModule.Address == address {
			return fmt.Errorf("address %s already used by a stateful precompile", address)
		}
	}
	registeredModules = insertSortedByAddress(registeredModules, stm)
	return nil
}

// GetPrecompileModuleByAddress looks a module up by mount address.
func GetPrecompileModuleByAddress(address common.Address) (Module, bool) {
	for _, stm := range registeredModules {
		if stm.Address == address {
			return stm, true
		}
	}
	return Module{}, false
}

// GetPrecompileModule looks a module up by config key.
func GetPrecompileModule(key string) (Module, bool) {
	for _, stm := range registeredModules {
		if stm.ConfigKey == key {
			return stm, true
		}
	}
	return Module{}, false
}

// RegisteredModules returns all modules sorted by address.
func RegisteredModules() []Module {
	return registeredModules
}

func insertSortedByAddress(data []Module, stm Module) []Module {
	data = append(data, stm)
	sort.Sort(moduleArray(data))
	return data
}
