// Copyright (C) 2025, Dozer Labs. All rights reserved.
// See the file LICENSE for licensing terms.

// Package curve implements the integer math kernel of the constant-product
// AMM: exact square roots, ceiling division and the V2-style amount formulas.
// Everything operates on math/big integers; there is no floating point.
package curve

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrNoConvergence         = errors.New("sqrt iteration did not converge")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInvalidAmount         = errors.New("invalid amount")
)

// isqrtMaxIterations bounds Newton's method. Convergence is quadratic, so a
// correctly seeded iteration finishes in well under 200 rounds even for
// 512-bit inputs; hitting the cap indicates a defect.
const isqrtMaxIterations = 200

var (
	one = big.NewInt(1)
	two = big.NewInt(2)
)

// Isqrt returns the largest x with x*x <= n. Negative input is a programmer
// error and panics.
func Isqrt(n *big.Int) (*big.Int, error) {
	if n.Sign() < 0 {
		panic("curve: Isqrt of negative number")
	}
	if n.Cmp(big.NewInt(3)) <= 0 {
		if n.Sign() == 0 {
			return new(big.Int), nil
		}
		return big.NewInt(1), nil
	}

	// Seed n/2+1 for small inputs; for n > 2^128 a bit-length based seed
	// keeps the iteration count flat.
	x := new(big.Int)
	if n.BitLen() > 128 {
		x.Lsh(one, uint(n.BitLen()+1)/2)
	} else {
		x.Rsh(n, 1)
		x.Add(x, one)
	}

	y := new(big.Int)
	t := new(big.Int)
	for i := 0; i < isqrtMaxIterations; i++ {
		// y = (x + n/x) / 2
		t.Div(n, x)
		y.Add(x, t)
		y.Rsh(y, 1)
		if y.Cmp(x) >= 0 {
			return x, nil
		}
		x.Set(y)
	}
	return nil, fmt.Errorf("%w: input %s", ErrNoConvergence, n)
}

// CeilDiv returns ceil(num/den) for positive den.
func CeilDiv(num, den *big.Int) *big.Int {
	r := new(big.Int).Add(num, den)
	r.Sub(r, one)
	return r.Div(r, den)
}

// Quote returns amount * reserveOut / reserveIn, the linear price quote
// ignoring fees.
func Quote(amount, reserveIn, reserveOut *big.Int) *big.Int {
	q := new(big.Int).Mul(amount, reserveOut)
	return q.Div(q, reserveIn)
}

// GetAmountOut returns the output of an exact-in swap:
//
//	out = reserveOut * amountIn * k / (reserveIn * feeDen + amountIn * k)
//
// with k = feeDen - feeNum. The result is floored and always < reserveOut.
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int, feeNum, feeDen uint64) (*big.Int, error) {
	if amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount in %s", ErrInvalidAmount, amountIn)
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, fmt.Errorf("%w: reserves %s/%s", ErrInsufficientLiquidity, reserveIn, reserveOut)
	}
	k := new(big.Int).SetUint64(feeDen - feeNum)
	inWithFee := new(big.Int).Mul(amountIn, k)
	num := new(big.Int).Mul(reserveOut, inWithFee)
	den := new(big.Int).Mul(reserveIn, new(big.Int).SetUint64(feeDen))
	den.Add(den, inWithFee)
	return num.Div(num, den), nil
}

// GetAmountIn returns the input an exact-out swap requires:
//
//	in = ceil(reserveIn * amountOut * feeDen / ((reserveOut - amountOut) * k))
//
// Fails when the requested output reaches the reserve.
func GetAmountIn(amountOut, reserveIn, reserveOut *big.Int, feeNum, feeDen uint64) (*big.Int, error) {
	if amountOut.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount out %s", ErrInvalidAmount, amountOut)
	}
	if amountOut.Cmp(reserveOut) >= 0 {
		return nil, fmt.Errorf("%w: requested %s of reserve %s", ErrInsufficientLiquidity, amountOut, reserveOut)
	}
	k := new(big.Int).SetUint64(feeDen - feeNum)
	num := new(big.Int).Mul(reserveIn, amountOut)
	num.Mul(num, new(big.Int).SetUint64(feeDen))
	den := new(big.Int).Sub(reserveOut, amountOut)
	den.Mul(den, k)
	return CeilDiv(num, den), nil
}

// OptimalSingleSideSwap returns the portion x of a one-sided deposit that,
// swapped through the pool, leaves the remainder and the swap output in
// exact reserve ratio:
//
//	x = (sqrt(rIn * (rIn*fd^2 + a*fd*k)) - rIn*fd) / k
//
// with k = fd - fn. Minimizes the residual credited back as change.
func OptimalSingleSideSwap(amount, reserveIn *big.Int, feeNum, feeDen uint64) (*big.Int, error) {
	fd := new(big.Int).SetUint64(feeDen)
	k := new(big.Int).SetUint64(feeDen - feeNum)

	// rIn * fd^2 + a * fd * k
	inner := new(big.Int).Mul(reserveIn, fd)
	inner.Mul(inner, fd)
	t := new(big.Int).Mul(amount, fd)
	t.Mul(t, k)
	inner.Add(inner, t)
	inner.Mul(inner, reserveIn)

	root, err := Isqrt(inner)
	if err != nil {
		return nil, err
	}
	x := root.Sub(root, new(big.Int).Mul(reserveIn, fd))
	if x.Sign() < 0 {
		x.SetInt64(0)
	}
	return x.Div(x, k), nil
}
