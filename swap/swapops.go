// Copyright (C) 2025, Dozer Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package swap

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/dozerfi/amm/contract"
	"github.com/dozerfi/amm/curve"
)

// checkDeadline rejects expired transactions before any state change.
func checkDeadline(ctx *contract.Context, deadline uint64) error {
	if ctx.Timestamp > deadline {
		return fmt.Errorf("%w: deadline %d passed at %d", ErrInvalidAction, deadline, ctx.Timestamp)
	}
	return nil
}

// swapActions extracts the single deposit and single withdrawal of a swap
// bundle.
func swapActions(ctx *contract.Context) (deposit, withdrawal contract.Action, err error) {
	deposits := ctx.Deposits()
	withdrawals := ctx.Withdrawals()
	if len(deposits) != 1 || len(withdrawals) != 1 {
		return contract.Action{}, contract.Action{}, fmt.Errorf("%w: swap needs one deposit and one withdrawal", ErrInvalidAction)
	}
	if deposits[0].Amount == nil || deposits[0].Amount.Sign() <= 0 ||
		withdrawals[0].Amount == nil || withdrawals[0].Amount.Sign() <= 0 {
		return contract.Action{}, contract.Action{}, fmt.Errorf("%w: non-positive swap amount", ErrInvalidAction)
	}
	return deposits[0], withdrawals[0], nil
}

// executeSwap moves an exact (amountIn, amountOut) pair through one pool:
// TWAP update, fee accrual on pre-swap reserves, reserve moves, K check and
// statistics. The caller has already validated the amounts.
func (m *Manager) executeSwap(db contract.StateDB, r *registry, p *PoolState, tokenIn contract.TokenID, amountIn, amountOut *big.Int, now uint64) error {
	updateTWAP(p, now)

	if _, err := m.accrueSwapFee(db, r, p, tokenIn, amountIn); err != nil {
		return err
	}

	raBefore := new(big.Int).Set(p.ReserveA)
	rbBefore := new(big.Int).Set(p.ReserveB)
	rIn, rOut := p.reserves(tokenIn)
	rIn.Add(rIn, amountIn)
	rOut.Sub(rOut, amountOut)
	if rOut.Sign() <= 0 {
		return fmt.Errorf("%w: swap drains pool %s", ErrInsufficientLiquidity, p.Key)
	}
	if err := checkKInvariant(raBefore, rbBefore, p.ReserveA, p.ReserveB); err != nil {
		return err
	}

	if tokenIn == p.Key.TokenA {
		p.VolumeA = new(big.Int).Add(p.VolumeA, amountIn)
		p.VolumeB = new(big.Int).Add(p.VolumeB, amountOut)
	} else {
		p.VolumeB = new(big.Int).Add(p.VolumeB, amountIn)
		p.VolumeA = new(big.Int).Add(p.VolumeA, amountOut)
	}
	p.Transactions++
	p.LastActivity = now
	m.setPool(db, p)
	return nil
}

// SwapExactTokensForTokens swaps a fixed input for as much output as the pool
// yields. The withdrawal declares the minimum acceptable output; any surplus
// is credited as change on the output token. Returns the produced output.
func (m *Manager) SwapExactTokensForTokens(db contract.StateDB, ctx *contract.Context, fee, deadline uint64) (res *SwapResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.dropCachesOnError(&err)

	r, err := m.requireReady(db, ctx)
	if err != nil {
		return nil, err
	}
	if err := checkDeadline(ctx, deadline); err != nil {
		return nil, err
	}
	deposit, withdrawal, err := swapActions(ctx)
	if err != nil {
		return nil, err
	}

	key, err := NewPoolKey(deposit.Token, withdrawal.Token, fee)
	if err != nil {
		return nil, err
	}
	p, err := m.requirePool(db, key)
	if err != nil {
		return nil, err
	}

	rIn, rOut := p.reserves(deposit.Token)
	out, err := curve.GetAmountOut(deposit.Amount, rIn, rOut, fee, FeeDenominator)
	if err != nil {
		return nil, err
	}
	if out.Cmp(withdrawal.Amount) < 0 {
		return nil, fmt.Errorf("%w: output %s below minimum %s", ErrInvalidAction, out, withdrawal.Amount)
	}

	if err := m.executeSwap(db, r, p, deposit.Token, deposit.Amount, out, ctx.Timestamp); err != nil {
		return nil, err
	}

	surplus := new(big.Int).Sub(out, withdrawal.Amount)
	if surplus.Sign() > 0 {
		if withdrawal.Token == key.TokenA {
			m.updateChange(db, p, ctx.Caller, surplus, new(big.Int))
		} else {
			m.updateChange(db, p, ctx.Caller, new(big.Int), surplus)
		}
		m.setPool(db, p)
	}
	m.recordProfit(db, ctx, key)

	return &SwapResult{
		AmountIn:    deposit.Amount,
		AmountOut:   out,
		Change:      surplus,
		ChangeToken: withdrawal.Token,
	}, nil
}

// SwapTokensForExactTokens swaps for a fixed output. The deposit declares the
// maximum input; the unused part is credited as change on the input token.
func (m *Manager) SwapTokensForExactTokens(db contract.StateDB, ctx *contract.Context, fee, deadline uint64) (res *SwapResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.dropCachesOnError(&err)

	r, err := m.requireReady(db, ctx)
	if err != nil {
		return nil, err
	}
	if err := checkDeadline(ctx, deadline); err != nil {
		return nil, err
	}
	deposit, withdrawal, err := swapActions(ctx)
	if err != nil {
		return nil, err
	}

	key, err := NewPoolKey(deposit.Token, withdrawal.Token, fee)
	if err != nil {
		return nil, err
	}
	p, err := m.requirePool(db, key)
	if err != nil {
		return nil, err
	}

	rIn, rOut := p.reserves(deposit.Token)
	required, err := curve.GetAmountIn(withdrawal.Amount, rIn, rOut, fee, FeeDenominator)
	if err != nil {
		return nil, err
	}
	if deposit.Amount.Cmp(required) < 0 {
		return nil, fmt.Errorf("%w: provided %s, swap requires %s", ErrInvalidAction, deposit.Amount, required)
	}

	if err := m.executeSwap(db, r, p, deposit.Token, required, withdrawal.Amount, ctx.Timestamp); err != nil {
		return nil, err
	}

	surplus := new(big.Int).Sub(deposit.Amount, required)
	if surplus.Sign() > 0 {
		if deposit.Token == key.TokenA {
			m.updateChange(db, p, ctx.Caller, surplus, new(big.Int))
		} else {
			m.updateChange(db, p, ctx.Caller, new(big.Int), surplus)
		}
		m.setPool(db, p)
	}
	m.recordProfit(db, ctx, key)

	return &SwapResult{
		AmountIn:    required,
		AmountOut:   withdrawal.Amount,
		Change:      surplus,
		ChangeToken: deposit.Token,
	}, nil
}

// parsePath splits a comma-separated pool-key list and validates that the
// hops connect, starting from tokenIn. Returns the keys and the token
// sequence (len(keys)+1 entries ending at the output token).
func (m *Manager) parsePath(db contract.StateDB, pathStr string, tokenIn contract.TokenID) ([]PoolKey, []contract.TokenID, error) {
	parts := strings.Split(pathStr, ",")
	if len(parts) == 0 || len(parts) > MaxSwapPathLength {
		return nil, nil, fmt.Errorf("%w: %d hops, want 1..%d", ErrInvalidPath, len(parts), MaxSwapPathLength)
	}

	keys := make([]PoolKey, len(parts))
	tokens := make([]contract.TokenID, len(parts)+1)
	tokens[0] = tokenIn
	seen := make(map[[32]byte]bool)

	current := tokenIn
	for i, part := range parts {
		key, err := ParsePoolKey(strings.TrimSpace(part))
		if err != nil {
			return nil, nil, err
		}
		if !key.Contains(current) {
			return nil, nil, fmt.Errorf("%w: hop %d pool %s does not carry %s", ErrInvalidPath, i, key, current.Hex())
		}
		id := key.ID()
		if seen[id] {
			return nil, nil, fmt.Errorf("%w: pool %s appears twice", ErrInvalidPath, key)
		}
		seen[id] = true
		keys[i] = key
		current = key.Other(current)
		tokens[i+1] = current
	}
	return keys, tokens, nil
}

// SwapExactTokensForTokensThroughPath routes a fixed input through up to
// three pools. Intermediate amounts thread exactly; the surplus over the
// declared minimum lands as change on the final pool. By convention the
// result reports the requested minimum as AmountOut, with the surplus in
// Change.
func (m *Manager) SwapExactTokensForTokensThroughPath(db contract.StateDB, ctx *contract.Context, pathStr string, deadline uint64) (res *SwapResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.dropCachesOnError(&err)

	r, err := m.requireReady(db, ctx)
	if err != nil {
		return nil, err
	}
	if err := checkDeadline(ctx, deadline); err != nil {
		return nil, err
	}
	deposit, withdrawal, err := swapActions(ctx)
	if err != nil {
		return nil, err
	}

	keys, tokens, err := m.parsePath(db, pathStr, deposit.Token)
	if err != nil {
		return nil, err
	}
	if tokens[len(tokens)-1] != withdrawal.Token {
		return nil, fmt.Errorf("%w: path ends at %s, withdrawal wants %s", ErrInvalidPath, tokens[len(tokens)-1].Hex(), withdrawal.Token.Hex())
	}

	// Plan every hop on the untouched pools before executing anything, so a
	// missed minimum or a dust hop aborts with no state change. Duplicate
	// pools are rejected above, so hop i's planning reserves equal its
	// execution reserves.
	pools := make([]*PoolState, len(keys))
	amounts := make([]*big.Int, len(keys)+1)
	amounts[0] = deposit.Amount
	for i, key := range keys {
		p, err := m.requirePool(db, key)
		if err != nil {
			return nil, err
		}
		rIn, rOut := p.reserves(tokens[i])
		out, err := curve.GetAmountOut(amounts[i], rIn, rOut, key.Fee, FeeDenominator)
		if err != nil {
			return nil, err
		}
		if out.Sign() == 0 {
			return nil, fmt.Errorf("%w: hop %d of %s yields no output", ErrInsufficientLiquidity, i, key)
		}
		pools[i] = p
		amounts[i+1] = out
	}
	amount := amounts[len(keys)]
	if amount.Cmp(withdrawal.Amount) < 0 {
		return nil, fmt.Errorf("%w: output %s below minimum %s", ErrInvalidAction, amount, withdrawal.Amount)
	}

	for i, p := range pools {
		if err := m.executeSwap(db, r, p, tokens[i], amounts[i], amounts[i+1], ctx.Timestamp); err != nil {
			return nil, err
		}
	}
	last := pools[len(pools)-1]

	surplus := new(big.Int).Sub(amount, withdrawal.Amount)
	if surplus.Sign() > 0 {
		if withdrawal.Token == last.Key.TokenA {
			m.updateChange(db, last, ctx.Caller, surplus, new(big.Int))
		} else {
			m.updateChange(db, last, ctx.Caller, new(big.Int), surplus)
		}
		m.setPool(db, last)
	}
	m.recordProfit(db, ctx, last.Key)

	return &SwapResult{
		AmountIn:    deposit.Amount,
		AmountOut:   withdrawal.Amount,
		Change:      surplus,
		ChangeToken: withdrawal.Token,
	}, nil
}

// SwapTokensForExactTokensThroughPath routes towards a fixed output: required
// inputs are computed backward hop by hop, then the swaps execute forward
// with exact pairs. Unused input is credited as change on the first pool.
func (m *Manager) SwapTokensForExactTokensThroughPath(db contract.StateDB, ctx *contract.Context, pathStr string, deadline uint64) (res *SwapResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.dropCachesOnError(&err)

	r, err := m.requireReady(db, ctx)
	if err != nil {
		return nil, err
	}
	if err := checkDeadline(ctx, deadline); err != nil {
		return nil, err
	}
	deposit, withdrawal, err := swapActions(ctx)
	if err != nil {
		return nil, err
	}

	keys, tokens, err := m.parsePath(db, pathStr, deposit.Token)
	if err != nil {
		return nil, err
	}
	if tokens[len(tokens)-1] != withdrawal.Token {
		return nil, fmt.Errorf("%w: path ends at %s, withdrawal wants %s", ErrInvalidPath, tokens[len(tokens)-1].Hex(), withdrawal.Token.Hex())
	}

	// Backward pass: amounts[i] is the input of hop i, amounts[i+1] its output.
	amounts := make([]*big.Int, len(keys)+1)
	amounts[len(keys)] = withdrawal.Amount
	for i := len(keys) - 1; i >= 0; i-- {
		p, err := m.requirePool(db, keys[i])
		if err != nil {
			return nil, err
		}
		rIn, rOut := p.reserves(tokens[i])
		in, err := curve.GetAmountIn(amounts[i+1], rIn, rOut, keys[i].Fee, FeeDenominator)
		if err != nil {
			return nil, err
		}
		amounts[i] = in
	}
	if deposit.Amount.Cmp(amounts[0]) < 0 {
		return nil, fmt.Errorf("%w: provided %s, path requires %s", ErrInvalidAction, deposit.Amount, amounts[0])
	}

	// Forward pass with the exact precomputed pairs.
	var first *PoolState
	for i, key := range keys {
		p, err := m.requirePool(db, key)
		if err != nil {
			return nil, err
		}
		if err := m.executeSwap(db, r, p, tokens[i], amounts[i], amounts[i+1], ctx.Timestamp); err != nil {
			return nil, err
		}
		if i == 0 {
			first = p
		}
	}

	surplus := new(big.Int).Sub(deposit.Amount, amounts[0])
	if surplus.Sign() > 0 {
		if deposit.Token == first.Key.TokenA {
			m.updateChange(db, first, ctx.Caller, surplus, new(big.Int))
		} else {
			m.updateChange(db, first, ctx.Caller, new(big.Int), surplus)
		}
		m.setPool(db, first)
	}
	m.recordProfit(db, ctx, keys[len(keys)-1])

	return &SwapResult{
		AmountIn:    amounts[0],
		AmountOut:   withdrawal.Amount,
		Change:      surplus,
		ChangeToken: deposit.Token,
	}, nil
}
