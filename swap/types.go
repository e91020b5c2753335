// Copyright (C) 2025, Dozer Labs. All rights reserved.
// See the file LICENSE for licensing terms.

// Package swap implements the multi-pool constant-product AMM engine: pool
// creation, proportional and single-sided liquidity, exact-in and exact-out
// swaps over single pools or multi-hop paths, protocol-fee accrual as minted
// shares, and the windowed TWAP oracle. A single Manager instance holds every
// pool of the contract; the host runtime serializes calls and commits or
// rolls back each operation atomically.
package swap

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/dozerfi/amm/contract"
)

// Engine constants.
const (
	// FeeDenominator fixes the LP fee scale: fee numerators are per-mille.
	FeeDenominator uint64 = 1000

	// MaxFeeNumerator caps the LP fee at 5%.
	MaxFeeNumerator uint64 = 50

	// MinimumLiquidity is the share multiplier burned forever at creation.
	MinimumLiquidity = 1000

	// DefaultProtocolFeePct is the percentage of the LP fee converted into
	// owner shares.
	DefaultProtocolFeePct uint64 = 40

	// MaxProtocolFeePct bounds SetProtocolFee.
	MaxProtocolFeePct uint64 = 50

	// DefaultTWAPWindow is the moving-average window in seconds.
	DefaultTWAPWindow uint64 = 14400

	// MaxPriceImpactBp caps the internal swap of single-sided liquidity
	// operations at 5%.
	MaxPriceImpactBp uint32 = 500

	// MaxSwapPathLength is the hop cap for path swaps.
	MaxSwapPathLength = 3
)

var (
	// Precision is the share scale: one reserve token corresponds to 1e20
	// shares at pool creation.
	Precision = new(big.Int).Exp(big.NewInt(10), big.NewInt(20), nil)

	// PricePrecision scales spot and TWAP prices (1e8).
	PricePrecision = new(big.Int).Exp(big.NewInt(10), big.NewInt(8), nil)
)

// Errors. Every failure aborts the invoking operation; the host rolls back
// all of its state changes.
var (
	ErrPoolExists            = errors.New("pool already exists")
	ErrPoolNotFound          = errors.New("pool not found")
	ErrInvalidTokens         = errors.New("invalid tokens")
	ErrInvalidFee            = errors.New("invalid fee")
	ErrInvalidAction         = errors.New("invalid action")
	ErrInvalidPath           = errors.New("invalid path")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInvalidState          = errors.New("invalid state")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrInvalidVersion        = errors.New("invalid version")
	ErrNotInitialized        = errors.New("contract not initialized")
)

// PoolKey identifies a pool by its ordered token pair and fee tier.
// TokenA < TokenB always holds for stored keys.
type PoolKey struct {
	TokenA contract.TokenID
	TokenB contract.TokenID
	Fee    uint64
}

// NewPoolKey orders the tokens and returns the canonical key.
func NewPoolKey(t0, t1 contract.TokenID, fee uint64) (PoolKey, error) {
	if t0 == t1 {
		return PoolKey{}, fmt.Errorf("%w: %s twice", ErrInvalidTokens, t0.Hex())
	}
	if t1.Less(t0) {
		t0, t1 = t1, t0
	}
	return PoolKey{TokenA: t0, TokenB: t1, Fee: fee}, nil
}

// String renders the public pool identifier "<hexA>/<hexB>/<fee>".
func (k PoolKey) String() string {
	return k.TokenA.Hex() + "/" + k.TokenB.Hex() + "/" + strconv.FormatUint(k.Fee, 10)
}

// ParsePoolKey parses the public pool identifier.
func ParsePoolKey(s string) (PoolKey, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return PoolKey{}, fmt.Errorf("%w: %q", ErrPoolNotFound, s)
	}
	tokenA, err := contract.TokenIDFromHex(parts[0])
	if err != nil {
		return PoolKey{}, fmt.Errorf("%w: token %q", ErrInvalidTokens, parts[0])
	}
	tokenB, err := contract.TokenIDFromHex(parts[1])
	if err != nil {
		return PoolKey{}, fmt.Errorf("%w: token %q", ErrInvalidTokens, parts[1])
	}
	fee, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return PoolKey{}, fmt.Errorf("%w: fee %q", ErrInvalidFee, parts[2])
	}
	if !tokenA.Less(tokenB) {
		return PoolKey{}, fmt.Errorf("%w: unordered key %q", ErrInvalidTokens, s)
	}
	return PoolKey{TokenA: tokenA, TokenB: tokenB, Fee: fee}, nil
}

// ID hashes the key into the 32-byte storage identifier.
func (k PoolKey) ID() [32]byte {
	h := blake3.New()
	h.Write(k.TokenA.Bytes())
	h.Write(k.TokenB.Bytes())
	var fee [8]byte
	for i := 0; i < 8; i++ {
		fee[i] = byte(k.Fee >> (56 - 8*i))
	}
	h.Write(fee[:])
	var id [32]byte
	h.Digest().Read(id[:])
	return id
}

// Contains reports whether token is one side of the pool.
func (k PoolKey) Contains(token contract.TokenID) bool {
	return token == k.TokenA || token == k.TokenB
}

// Other returns the counterpart of token within the pool.
func (k PoolKey) Other(token contract.TokenID) contract.TokenID {
	if token == k.TokenA {
		return k.TokenB
	}
	return k.TokenA
}

// PoolState is the full persistent record of one pool.
type PoolState struct {
	Key PoolKey

	ReserveA *big.Int
	ReserveB *big.Int

	// TotalLiquidity includes BurnedLiquidity, the permanently
	// unredeemable minimum minted at creation.
	TotalLiquidity  *big.Int
	BurnedLiquidity *big.Int

	// Pending refundable credits summed across users.
	TotalChangeA *big.Int
	TotalChangeB *big.Int

	// Monotone statistics.
	Transactions uint64
	VolumeA      *big.Int
	VolumeB      *big.Int

	// Cumulative LP fee taken in, per token. Reserves already include
	// these amounts; the counters exist for reporting.
	AccruedFeeA *big.Int
	AccruedFeeB *big.Int

	// TWAP window sums, one per direction, and the timestamp at which
	// they were last materialized. BlockTimestampLast > 0 from creation.
	PriceAWindowSum    *big.Int
	PriceBWindowSum    *big.Int
	BlockTimestampLast uint64
	TWAPWindow         uint64

	LastActivity uint64
}

// reserves returns the pool reserves oriented so that tokenIn is first.
func (p *PoolState) reserves(tokenIn contract.TokenID) (rIn, rOut *big.Int) {
	if tokenIn == p.Key.TokenA {
		return p.ReserveA, p.ReserveB
	}
	return p.ReserveB, p.ReserveA
}

// ChangeBalance is a user's pending refundable credit in one pool.
type ChangeBalance struct {
	AmountA *big.Int
	AmountB *big.Int
}

// ProfitSnapshot records a user's position value after their last action.
type ProfitSnapshot struct {
	USDValue  *big.Int
	Timestamp uint64
}

// LiquidityResult reports a proportional liquidity operation.
type LiquidityResult struct {
	ShareDelta *big.Int
	AmountA    *big.Int
	AmountB    *big.Int
	ChangeA    *big.Int
	ChangeB    *big.Int
}

// SwapResult reports a swap operation. Change is the slippage credit: the
// surplus over the requested minimum (exact-in) or under the declared
// maximum (exact-out), held on ChangeToken.
type SwapResult struct {
	AmountIn    *big.Int
	AmountOut   *big.Int
	Change      *big.Int
	ChangeToken contract.TokenID
}

// SingleSideQuote reports the full plan of a single-sided liquidity add or
// remove. Commit and quote paths produce identical values for identical
// inputs.
type SingleSideQuote struct {
	SwapIn        *big.Int
	SwapOut       *big.Int
	FeeAmount     *big.Int
	FeeShares     *big.Int
	ShareDelta    *big.Int
	AmountA       *big.Int
	AmountB       *big.Int
	ChangeA       *big.Int
	ChangeB       *big.Int
	AmountOut     *big.Int
	PriceImpactBp uint32
}

// PoolInfo is the display view of a pool. Missing pools yield the zero value.
type PoolInfo struct {
	Key                string
	TokenA             contract.TokenID
	TokenB             contract.TokenID
	Fee                uint64
	ReserveA           *big.Int
	ReserveB           *big.Int
	TotalLiquidity     *big.Int
	VolumeA            *big.Int
	VolumeB            *big.Int
	AccruedFeeA        *big.Int
	AccruedFeeB        *big.Int
	Transactions       uint64
	TWAPWindow         uint64
	TWAPPriceA         *big.Int
	TWAPPriceB         *big.Int
	Signed             bool
	LastActivity       uint64
	BlockTimestampLast uint64
}

// UserInfo is the display view of a user position in one pool.
type UserInfo struct {
	Shares       *big.Int
	MaxWithdrawA *big.Int
	MaxWithdrawB *big.Int
	ChangeA      *big.Int
	ChangeB      *big.Int
	USDValue     *big.Int
	LastAction   uint64
}
