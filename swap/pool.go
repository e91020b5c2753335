// Copyright (C) 2025, Dozer Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package swap

import (
	"fmt"
	"math/big"

	"github.com/dozerfi/amm/contract"
	"github.com/dozerfi/amm/curve"
)

// CreatePool creates a new pool from a deposit bundle of exactly two distinct
// tokens. The caller receives the initial shares; a minimum is burned forever.
// Returns the public pool key.
func (m *Manager) CreatePool(db contract.StateDB, ctx *contract.Context, fee uint64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.requireReady(db, ctx)
	if err != nil {
		return "", err
	}
	if fee > MaxFeeNumerator {
		return "", fmt.Errorf("%w: %d not in [0, %d]", ErrInvalidFee, fee, MaxFeeNumerator)
	}

	deposits := ctx.Deposits()
	if len(deposits) != 2 || len(ctx.Withdrawals()) != 0 {
		return "", fmt.Errorf("%w: pool creation needs exactly two deposits", ErrInvalidAction)
	}
	for _, d := range deposits {
		if d.Amount == nil || d.Amount.Sign() <= 0 {
			return "", fmt.Errorf("%w: non-positive deposit of %s", ErrInvalidAction, d.Token.Hex())
		}
	}

	key, err := NewPoolKey(deposits[0].Token, deposits[1].Token, fee)
	if err != nil {
		return "", err
	}
	if m.getPool(db, key) != nil {
		return "", fmt.Errorf("%w: %s", ErrPoolExists, key)
	}

	amountA, amountB := deposits[0].Amount, deposits[1].Amount
	if deposits[0].Token != key.TokenA {
		amountA, amountB = amountB, amountA
	}

	s, err := curve.Isqrt(new(big.Int).Mul(amountA, amountB))
	if err != nil {
		return "", err
	}
	if s.Sign() == 0 {
		return "", fmt.Errorf("%w: deposits too small for %s", ErrInsufficientLiquidity, key)
	}

	initial := new(big.Int).Mul(s, Precision)
	burned := new(big.Int).Mul(s, big.NewInt(MinimumLiquidity))

	p := &PoolState{
		Key:             key,
		ReserveA:        new(big.Int).Set(amountA),
		ReserveB:        new(big.Int).Set(amountB),
		TotalLiquidity:  new(big.Int).Add(initial, burned),
		BurnedLiquidity: burned,
		TotalChangeA:    new(big.Int),
		TotalChangeB:    new(big.Int),
		VolumeA:         new(big.Int),
		VolumeB:         new(big.Int),
		AccruedFeeA:     new(big.Int),
		AccruedFeeB:     new(big.Int),
		TWAPWindow:      r.defaultTWAPWindow,
		LastActivity:    ctx.Timestamp,
	}
	seedTWAP(p, ctx.Timestamp)

	m.setShares(db, key, ctx.Caller, initial)
	m.setPool(db, p)
	m.appendPool(db, r, key)
	m.recordProfit(db, ctx, key)
	return key.String(), nil
}
