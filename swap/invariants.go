// Copyright (C) 2025, Dozer Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package swap

import (
	"fmt"
	"math/big"
)

// ppm tolerance for the price-ratio continuity check, by pool size. Small
// pools tolerate more integer-rounding drift.
func ratioTolerancePpm(minReserve *big.Int) uint64 {
	switch {
	case minReserve.Cmp(big.NewInt(1000)) < 0:
		return 5000
	case minReserve.Cmp(big.NewInt(10000)) < 0:
		return 2000
	default:
		return 100
	}
}

var million = big.NewInt(1_000_000)

// checkKInvariant asserts the constant product did not shrink across a swap.
// Failure indicates a defect, not bad user input.
func checkKInvariant(raBefore, rbBefore, raAfter, rbAfter *big.Int) error {
	kBefore := new(big.Int).Mul(raBefore, rbBefore)
	kAfter := new(big.Int).Mul(raAfter, rbAfter)
	if kAfter.Cmp(kBefore) < 0 {
		return fmt.Errorf("%w: k decreased %s -> %s", ErrInvalidState, kBefore, kAfter)
	}
	return nil
}

// checkRatioInvariant asserts a proportional liquidity operation preserved
// the reserve ratio within the size-dependent tolerance:
//
//	|Ra*Rb' - Ra'*Rb| * 1e6 <= max(Ra*Rb', Ra'*Rb) * tol_ppm
func checkRatioInvariant(raBefore, rbBefore, raAfter, rbAfter *big.Int) error {
	cross1 := new(big.Int).Mul(raBefore, rbAfter)
	cross2 := new(big.Int).Mul(raAfter, rbBefore)

	diff := new(big.Int).Sub(cross1, cross2)
	diff.Abs(diff)
	diff.Mul(diff, million)

	bound := cross1
	if cross2.Cmp(cross1) > 0 {
		bound = cross2
	}

	minReserve := raAfter
	if rbAfter.Cmp(minReserve) < 0 {
		minReserve = rbAfter
	}
	tol := new(big.Int).SetUint64(ratioTolerancePpm(minReserve))

	if diff.Cmp(new(big.Int).Mul(bound, tol)) > 0 {
		return fmt.Errorf("%w: reserve ratio drifted %s/%s -> %s/%s",
			ErrInvalidState, raBefore, rbBefore, raAfter, rbAfter)
	}
	return nil
}
