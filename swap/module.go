// Copyright (C) 2025, Dozer Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package swap

import (
	"fmt"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/dozerfi/amm/contract"
	"github.com/dozerfi/amm/modules"
)

var _ contract.StatefulPrecompiledContract = (*Contract)(nil)
var _ contract.Config = (*Config)(nil)

// ConfigKey names this precompile in json chain configs.
const ConfigKey = "ammConfig"

// ContractAddress is the mount address of the AMM engine.
var ContractAddress = common.HexToAddress("0x0400000000000000000000000000000000000000")

// Precompile is the singleton instance hosts execute against.
var Precompile = NewContract(log.NewTestLogger(log.InfoLevel))

// Module is the registration record for dozerd-style hosts.
var Module = modules.Module{
	ConfigKey: ConfigKey,
	Address:   ContractAddress,
	Contract:  Precompile,
}

func init() {
	if err := modules.RegisterModule(Module); err != nil {
		panic(err)
	}
}

// Method selectors. Mutators occupy 0x01-0x3F, views 0x40 and up.
const (
	SelectorInitialize            uint32 = 0x01000000
	SelectorCreatePool            uint32 = 0x02000000
	SelectorAddLiquidity          uint32 = 0x03000000
	SelectorRemoveLiquidity       uint32 = 0x04000000
	SelectorAddLiquiditySingle    uint32 = 0x05000000
	SelectorRemoveLiquiditySingle uint32 = 0x06000000
	SelectorSwapExactIn           uint32 = 0x07000000
	SelectorSwapExactOut          uint32 = 0x08000000
	SelectorSwapExactInPath       uint32 = 0x09000000
	SelectorSwapExactOutPath      uint32 = 0x0a000000
	SelectorWithdrawCashback      uint32 = 0x0b000000
	SelectorSetProtocolFee        uint32 = 0x10000000
	SelectorSetTWAPWindow         uint32 = 0x11000000
	SelectorAddSigner             uint32 = 0x12000000
	SelectorRemoveSigner          uint32 = 0x13000000
	SelectorSignPool              uint32 = 0x14000000
	SelectorUnsignPool            uint32 = 0x15000000
	SelectorSetHTRUSDPool         uint32 = 0x16000000
	SelectorPause                 uint32 = 0x17000000
	SelectorUnpause               uint32 = 0x18000000
	SelectorTransferOwnership     uint32 = 0x19000000
	SelectorUpgradeContract       uint32 = 0x1a000000

	SelectorQuoteExactIn           uint32 = 0x40000000
	SelectorQuoteExactOut          uint32 = 0x41000000
	SelectorGetReserves            uint32 = 0x42000000
	SelectorTWAPPrice              uint32 = 0x43000000
	SelectorFindBestPath           uint32 = 0x44000000
	SelectorFindBestPathReverse    uint32 = 0x45000000
	SelectorTokenPriceInHTR        uint32 = 0x46000000
	SelectorTokenPriceInUSD        uint32 = 0x47000000
	SelectorFrontQuoteAddSingle    uint32 = 0x48000000
	SelectorFrontQuoteRemoveSingle uint32 = 0x49000000
	SelectorPoolInfo               uint32 = 0x4a000000
	SelectorUserInfo               uint32 = 0x4b000000
)

// Gas costs per operation class.
const (
	GasInitialize uint64 = 50_000
	GasPoolCreate uint64 = 100_000
	GasLiquidity  uint64 = 60_000
	GasSwap       uint64 = 40_000
	GasSwapPath   uint64 = 90_000
	GasCashback   uint64 = 30_000
	GasAdmin      uint64 = 20_000
	GasView       uint64 = 5_000
	GasPathfind   uint64 = 50_000
)

// Config activates and parameterizes the AMM precompile.
type Config struct {
	Upgrade contract.Upgrade `json:"upgrade,omitempty"`

	// InitialOwner receives ownership when the host runs Initialize on
	// behalf of the config. Zero means the first Initialize caller wins.
	InitialOwner common.Address `json:"initialOwner,omitempty"`

	// ProtocolFeePct overrides the default owner-share percentage.
	ProtocolFeePct *uint64 `json:"protocolFeePct,omitempty"`

	// DefaultTWAPWindow overrides the default oracle window in seconds.
	DefaultTWAPWindow *uint64 `json:"defaultTwapWindow,omitempty"`
}

func (c *Config) Key() string { return ConfigKey }

func (c *Config) Timestamp() *uint64 { return c.Upgrade.Timestamp() }

func (c *Config) IsDisabled() bool { return c.Upgrade.Disable }

func (c *Config) Equal(cfg contract.Config) bool {
	other, ok := cfg.(*Config)
	if !ok {
		return false
	}
	if !c.Upgrade.Equal(&other.Upgrade) || c.InitialOwner != other.InitialOwner {
		return false
	}
	if (c.ProtocolFeePct == nil) != (other.ProtocolFeePct == nil) {
		return false
	}
	if c.ProtocolFeePct != nil && *c.ProtocolFeePct != *other.ProtocolFeePct {
		return false
	}
	if (c.DefaultTWAPWindow == nil) != (other.DefaultTWAPWindow == nil) {
		return false
	}
	if c.DefaultTWAPWindow != nil && *c.DefaultTWAPWindow != *other.DefaultTWAPWindow {
		return false
	}
	return true
}

func (c *Config) Verify() error {
	if c.ProtocolFeePct != nil && *c.ProtocolFeePct > MaxProtocolFeePct {
		return fmt.Errorf("%w: protocol fee %d exceeds %d", ErrInvalidFee, *c.ProtocolFeePct, MaxProtocolFeePct)
	}
	if c.DefaultTWAPWindow != nil && *c.DefaultTWAPWindow == 0 {
		return fmt.Errorf("%w: zero twap window", ErrInvalidAction)
	}
	return nil
}
