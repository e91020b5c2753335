// Copyright (C) 2025, Dozer Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package swap

import (
	"math/big"

	"github.com/dozerfi/amm/contract"
	"github.com/dozerfi/amm/curve"
)

var hundred = big.NewInt(100)

// lpFee returns the LP fee retained from a swap input: ceil(amountIn*fn/fd).
func lpFee(amountIn *big.Int, feeNum, feeDen uint64) *big.Int {
	if feeNum == 0 {
		return new(big.Int)
	}
	f := new(big.Int).Mul(amountIn, new(big.Int).SetUint64(feeNum))
	return curve.CeilDiv(f, new(big.Int).SetUint64(feeDen))
}

// protocolFeePortion converts an LP fee amount into the protocol's token
// share. Sub-unit portions round up to one so small swaps still accrue.
func protocolFeePortion(fee *big.Int, pct uint64) *big.Int {
	if pct == 0 || fee.Sign() == 0 {
		return new(big.Int)
	}
	scaled := new(big.Int).Mul(fee, new(big.Int).SetUint64(pct))
	if scaled.Cmp(hundred) < 0 {
		return big.NewInt(1)
	}
	return scaled.Div(scaled, hundred)
}

// protocolFeeShares returns the owner shares minted for one swap: the
// geometric-mean growth of the pre-swap reserves with the protocol portion
// added on the input side only, scaled by Precision. Pure; used identically
// by simulation and commit paths.
func protocolFeeShares(p *PoolState, tokenIn contract.TokenID, feeAmount *big.Int, pct uint64) (*big.Int, error) {
	pf := protocolFeePortion(feeAmount, pct)
	if pf.Sign() == 0 {
		return new(big.Int), nil
	}

	before, err := curve.Isqrt(new(big.Int).Mul(p.ReserveA, p.ReserveB))
	if err != nil {
		return nil, err
	}

	ra := new(big.Int).Set(p.ReserveA)
	rb := new(big.Int).Set(p.ReserveB)
	if tokenIn == p.Key.TokenA {
		ra.Add(ra, pf)
	} else {
		rb.Add(rb, pf)
	}
	after, err := curve.Isqrt(new(big.Int).Mul(ra, rb))
	if err != nil {
		return nil, err
	}

	delta := after.Sub(after, before)
	return delta.Mul(delta, Precision), nil
}

// accrueSwapFee records the LP fee of one swap and mints the protocol share
// to the owner. Must run on pre-swap reserves; the caller mutates reserves
// afterwards. The pool record is mutated but persisted by the caller.
func (m *Manager) accrueSwapFee(db contract.StateDB, r *registry, p *PoolState, tokenIn contract.TokenID, amountIn *big.Int) (*big.Int, error) {
	fee := lpFee(amountIn, p.Key.Fee, FeeDenominator)
	if fee.Sign() == 0 {
		return fee, nil
	}

	shares, err := protocolFeeShares(p, tokenIn, fee, r.protocolFeePct)
	if err != nil {
		return nil, err
	}

	if tokenIn == p.Key.TokenA {
		p.AccruedFeeA = new(big.Int).Add(p.AccruedFeeA, fee)
	} else {
		p.AccruedFeeB = new(big.Int).Add(p.AccruedFeeB, fee)
	}

	if shares.Sign() > 0 {
		if err := m.updateUserLiquidity(db, p.Key, r.owner, shares); err != nil {
			return nil, err
		}
		p.TotalLiquidity = new(big.Int).Add(p.TotalLiquidity, shares)
	}
	return fee, nil
}
