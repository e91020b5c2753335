// Copyright (C) 2025, Dozer Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package swap

import (
	"fmt"
	"math/big"

	"github.com/dozerfi/amm/contract"
	"github.com/dozerfi/amm/curve"
)

var bpDenominator = big.NewInt(10000)

// fitProportional splits a two-sided deposit into the absorbed amounts that
// match the reserve ratio and the residual credited as change. At most one
// residual is non-zero.
func fitProportional(ra, rb, amountA, amountB *big.Int) (absA, absB, chgA, chgB *big.Int, err error) {
	zero := new(big.Int)
	q := curve.Quote(amountA, ra, rb)
	if q.Cmp(amountB) <= 0 {
		// token A limits
		return amountA, q, zero, new(big.Int).Sub(amountB, q), nil
	}
	q = curve.Quote(amountB, rb, ra)
	if q.Cmp(amountA) > 0 {
		return nil, nil, nil, nil, fmt.Errorf("%w: deposit does not fit pool ratio", ErrInvalidAction)
	}
	return q, amountB, new(big.Int).Sub(amountA, q), zero, nil
}

// AddLiquidity deposits both pool tokens proportionally. The non-limiting
// side's excess is credited to the caller's change.
func (m *Manager) AddLiquidity(db contract.StateDB, ctx *contract.Context, fee uint64) (res *LiquidityResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.dropCachesOnError(&err)

	_, err = m.requireReady(db, ctx)
	if err != nil {
		return nil, err
	}

	deposits := ctx.Deposits()
	if len(deposits) != 2 || len(ctx.Withdrawals()) != 0 {
		return nil, fmt.Errorf("%w: liquidity add needs exactly two deposits", ErrInvalidAction)
	}
	key, err := NewPoolKey(deposits[0].Token, deposits[1].Token, fee)
	if err != nil {
		return nil, err
	}
	p, err := m.requirePool(db, key)
	if err != nil {
		return nil, err
	}

	amountA, amountB := deposits[0].Amount, deposits[1].Amount
	if deposits[0].Token != key.TokenA {
		amountA, amountB = amountB, amountA
	}
	if amountA.Sign() <= 0 || amountB.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive deposit", ErrInvalidAction)
	}

	updateTWAP(p, ctx.Timestamp)
	raBefore := new(big.Int).Set(p.ReserveA)
	rbBefore := new(big.Int).Set(p.ReserveB)

	absA, absB, chgA, chgB, err := fitProportional(p.ReserveA, p.ReserveB, amountA, amountB)
	if err != nil {
		return nil, err
	}

	shareDelta := new(big.Int).Mul(p.TotalLiquidity, absA)
	shareDelta.Div(shareDelta, p.ReserveA)
	if shareDelta.Sign() == 0 {
		return nil, fmt.Errorf("%w: deposit too small to mint shares", ErrInsufficientLiquidity)
	}

	p.ReserveA = new(big.Int).Add(p.ReserveA, absA)
	p.ReserveB = new(big.Int).Add(p.ReserveB, absB)
	p.TotalLiquidity = new(big.Int).Add(p.TotalLiquidity, shareDelta)
	if err := m.updateUserLiquidity(db, key, ctx.Caller, shareDelta); err != nil {
		return nil, err
	}
	m.updateChange(db, p, ctx.Caller, chgA, chgB)

	if err := checkRatioInvariant(raBefore, rbBefore, p.ReserveA, p.ReserveB); err != nil {
		return nil, err
	}

	p.Transactions++
	p.LastActivity = ctx.Timestamp
	m.setPool(db, p)
	m.recordProfit(db, ctx, key)

	return &LiquidityResult{
		ShareDelta: shareDelta,
		AmountA:    absA,
		AmountB:    absB,
		ChangeA:    chgA,
		ChangeB:    chgB,
	}, nil
}

// RemoveLiquidity burns shares against two declared withdrawals. The
// token-B side may come out ahead of the request; the difference is credited
// as change.
func (m *Manager) RemoveLiquidity(db contract.StateDB, ctx *contract.Context, fee uint64) (res *LiquidityResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.dropCachesOnError(&err)

	_, err = m.requireReady(db, ctx)
	if err != nil {
		return nil, err
	}

	withdrawals := ctx.Withdrawals()
	if len(withdrawals) != 2 || len(ctx.Deposits()) != 0 {
		return nil, fmt.Errorf("%w: liquidity remove needs exactly two withdrawals", ErrInvalidAction)
	}
	key, err := NewPoolKey(withdrawals[0].Token, withdrawals[1].Token, fee)
	if err != nil {
		return nil, err
	}
	p, err := m.requirePool(db, key)
	if err != nil {
		return nil, err
	}

	amountA, amountB := withdrawals[0].Amount, withdrawals[1].Amount
	if withdrawals[0].Token != key.TokenA {
		amountA, amountB = amountB, amountA
	}
	if amountA.Sign() <= 0 || amountB.Sign() < 0 {
		return nil, fmt.Errorf("%w: non-positive withdrawal", ErrInvalidAction)
	}

	shares := m.sharesOf(db, key, ctx.Caller)
	if shares.Sign() <= 0 {
		return nil, fmt.Errorf("%w: no position in %s", ErrInvalidAction, key)
	}

	updateTWAP(p, ctx.Timestamp)
	raBefore := new(big.Int).Set(p.ReserveA)
	rbBefore := new(big.Int).Set(p.ReserveB)

	maxA := new(big.Int).Mul(shares, p.ReserveA)
	maxA.Div(maxA, p.TotalLiquidity)
	if amountA.Cmp(maxA) > 0 {
		return nil, fmt.Errorf("%w: requested %s exceeds position max %s", ErrInvalidAction, amountA, maxA)
	}

	optimalB := curve.Quote(amountA, p.ReserveA, p.ReserveB)
	if optimalB.Cmp(amountB) < 0 {
		return nil, fmt.Errorf("%w: requested %s of token b, proportional share is %s", ErrInvalidAction, amountB, optimalB)
	}
	chgB := new(big.Int).Sub(optimalB, amountB)

	shareDelta := curve.CeilDiv(new(big.Int).Mul(p.TotalLiquidity, amountA), p.ReserveA)

	p.ReserveA = new(big.Int).Sub(p.ReserveA, amountA)
	p.ReserveB = new(big.Int).Sub(p.ReserveB, optimalB)
	if p.ReserveA.Sign() <= 0 || p.ReserveB.Sign() <= 0 {
		return nil, fmt.Errorf("%w: withdrawal would drain pool %s", ErrInsufficientLiquidity, key)
	}
	p.TotalLiquidity = new(big.Int).Sub(p.TotalLiquidity, shareDelta)
	if err := m.updateUserLiquidity(db, key, ctx.Caller, new(big.Int).Neg(shareDelta)); err != nil {
		return nil, err
	}
	m.updateChange(db, p, ctx.Caller, new(big.Int), chgB)

	if err := checkRatioInvariant(raBefore, rbBefore, p.ReserveA, p.ReserveB); err != nil {
		return nil, err
	}

	p.Transactions++
	p.LastActivity = ctx.Timestamp
	m.setPool(db, p)
	m.recordProfit(db, ctx, key)

	return &LiquidityResult{
		ShareDelta: new(big.Int).Neg(shareDelta),
		AmountA:    amountA,
		AmountB:    amountB,
		ChangeA:    new(big.Int),
		ChangeB:    chgB,
	}, nil
}

// planSingleSideAdd computes the full effect of a one-sided deposit: the
// optimal internal swap, fee accrual, proportional absorption at post-swap
// reserves and the residual change. Pure with respect to the pool; the quote
// view and the commit path both call it, so their numbers are identical.
func planSingleSideAdd(p *PoolState, tokenIn contract.TokenID, amount *big.Int, protocolFeePct uint64) (*SingleSideQuote, error) {
	rIn, rOut := p.reserves(tokenIn)

	x, err := curve.OptimalSingleSideSwap(amount, rIn, p.Key.Fee, FeeDenominator)
	if err != nil {
		return nil, err
	}
	if x.Sign() <= 0 || x.Cmp(amount) > 0 {
		return nil, fmt.Errorf("%w: deposit too small to split", ErrInvalidAction)
	}
	y, err := curve.GetAmountOut(x, rIn, rOut, p.Key.Fee, FeeDenominator)
	if err != nil {
		return nil, err
	}
	if y.Sign() <= 0 {
		return nil, fmt.Errorf("%w: internal swap yields nothing", ErrInsufficientLiquidity)
	}

	// Price-impact cap on the internal swap.
	noFee := curve.Quote(x, rIn, rOut)
	impact := new(big.Int).Sub(noFee, y)
	impact.Mul(impact, bpDenominator)
	impact.Div(impact, noFee)
	impactBp := uint32(impact.Uint64())
	if impactBp > uint32(MaxPriceImpactBp) {
		return nil, fmt.Errorf("%w: internal swap impact %d bp exceeds cap %d", ErrInvalidAction, impactBp, MaxPriceImpactBp)
	}

	feeAmount := lpFee(x, p.Key.Fee, FeeDenominator)
	feeShares, err := protocolFeeShares(p, tokenIn, feeAmount, protocolFeePct)
	if err != nil {
		return nil, err
	}

	// Post-swap reserves and total supply including the minted fee shares.
	newRIn := new(big.Int).Add(rIn, x)
	newROut := new(big.Int).Sub(rOut, y)
	total := new(big.Int).Add(p.TotalLiquidity, feeShares)

	rest := new(big.Int).Sub(amount, x)
	absIn, absOut, chgIn, chgOut, err := fitProportional(newRIn, newROut, rest, y)
	if err != nil {
		return nil, err
	}
	if chgIn.Sign() > 0 && chgOut.Sign() > 0 {
		return nil, fmt.Errorf("%w: both residuals non-zero", ErrInvalidState)
	}

	shareDelta := new(big.Int).Mul(total, absIn)
	shareDelta.Div(shareDelta, newRIn)
	if shareDelta.Sign() == 0 {
		return nil, fmt.Errorf("%w: deposit too small to mint shares", ErrInsufficientLiquidity)
	}

	q := &SingleSideQuote{
		SwapIn:        x,
		SwapOut:       y,
		FeeAmount:     feeAmount,
		FeeShares:     feeShares,
		ShareDelta:    shareDelta,
		PriceImpactBp: impactBp,
	}
	if tokenIn == p.Key.TokenA {
		q.AmountA, q.AmountB = absIn, absOut
		q.ChangeA, q.ChangeB = chgIn, chgOut
	} else {
		q.AmountA, q.AmountB = absOut, absIn
		q.ChangeA, q.ChangeB = chgOut, chgIn
	}
	return q, nil
}

// AddLiquiditySingleToken deposits one token; the engine swaps the optimal
// portion internally so the split lands on the pool ratio. tokenOut names the
// pool's other token.
func (m *Manager) AddLiquiditySingleToken(db contract.StateDB, ctx *contract.Context, tokenOut contract.TokenID, fee uint64) (q *SingleSideQuote, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.dropCachesOnError(&err)

	r, err := m.requireReady(db, ctx)
	if err != nil {
		return nil, err
	}

	deposits := ctx.Deposits()
	if len(deposits) != 1 || len(ctx.Withdrawals()) != 0 {
		return nil, fmt.Errorf("%w: single-sided add needs exactly one deposit", ErrInvalidAction)
	}
	tokenIn := deposits[0].Token
	amount := deposits[0].Amount
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive deposit", ErrInvalidAction)
	}

	key, err := NewPoolKey(tokenIn, tokenOut, fee)
	if err != nil {
		return nil, err
	}
	p, err := m.requirePool(db, key)
	if err != nil {
		return nil, err
	}

	updateTWAP(p, ctx.Timestamp)

	plan, err := planSingleSideAdd(p, tokenIn, amount, r.protocolFeePct)
	if err != nil {
		return nil, err
	}

	// Internal swap: fee accrual on pre-swap reserves, then reserve moves.
	if _, err := m.accrueSwapFee(db, r, p, tokenIn, plan.SwapIn); err != nil {
		return nil, err
	}
	rIn, rOut := p.reserves(tokenIn)
	raBefore := new(big.Int).Set(p.ReserveA)
	rbBefore := new(big.Int).Set(p.ReserveB)
	rIn.Add(rIn, plan.SwapIn)
	rOut.Sub(rOut, plan.SwapOut)
	if err := checkKInvariant(raBefore, rbBefore, p.ReserveA, p.ReserveB); err != nil {
		return nil, err
	}
	if tokenIn == p.Key.TokenA {
		p.VolumeA = new(big.Int).Add(p.VolumeA, plan.SwapIn)
		p.VolumeB = new(big.Int).Add(p.VolumeB, plan.SwapOut)
	} else {
		p.VolumeB = new(big.Int).Add(p.VolumeB, plan.SwapIn)
		p.VolumeA = new(big.Int).Add(p.VolumeA, plan.SwapOut)
	}

	// Proportional absorption at post-swap reserves.
	raSwap := new(big.Int).Set(p.ReserveA)
	rbSwap := new(big.Int).Set(p.ReserveB)
	p.ReserveA = new(big.Int).Add(p.ReserveA, plan.AmountA)
	p.ReserveB = new(big.Int).Add(p.ReserveB, plan.AmountB)
	p.TotalLiquidity = new(big.Int).Add(p.TotalLiquidity, plan.ShareDelta)
	if err := m.updateUserLiquidity(db, key, ctx.Caller, plan.ShareDelta); err != nil {
		return nil, err
	}
	m.updateChange(db, p, ctx.Caller, plan.ChangeA, plan.ChangeB)

	if err := checkRatioInvariant(raSwap, rbSwap, p.ReserveA, p.ReserveB); err != nil {
		return nil, err
	}

	p.Transactions++
	p.LastActivity = ctx.Timestamp
	m.setPool(db, p)
	m.recordProfit(db, ctx, key)
	return plan, nil
}

// planSingleSideRemove computes the effect of burning a percentage of the
// caller's shares and swapping the unwanted side into tokenOut. Pure; shared
// by the quote view and the commit path.
func planSingleSideRemove(p *PoolState, shares *big.Int, tokenOut contract.TokenID, percentage uint64, protocolFeePct uint64) (*SingleSideQuote, error) {
	if percentage == 0 || percentage > 10000 {
		return nil, fmt.Errorf("%w: percentage %d not in (0, 10000]", ErrInvalidAction, percentage)
	}
	if shares.Sign() <= 0 {
		return nil, fmt.Errorf("%w: no position in %s", ErrInvalidAction, p.Key)
	}

	burn := new(big.Int).Mul(shares, new(big.Int).SetUint64(percentage))
	burn.Div(burn, bpDenominator)
	if burn.Sign() == 0 {
		return nil, fmt.Errorf("%w: position too small", ErrInsufficientLiquidity)
	}

	outA := new(big.Int).Mul(p.ReserveA, burn)
	outA.Div(outA, p.TotalLiquidity)
	outB := new(big.Int).Mul(p.ReserveB, burn)
	outB.Div(outB, p.TotalLiquidity)

	// Post-withdrawal reserves.
	ra := new(big.Int).Sub(p.ReserveA, outA)
	rb := new(big.Int).Sub(p.ReserveB, outB)
	if ra.Sign() <= 0 || rb.Sign() <= 0 {
		return nil, fmt.Errorf("%w: withdrawal would drain pool %s", ErrInsufficientLiquidity, p.Key)
	}

	// Swap the unwanted side into tokenOut at the post-withdrawal reserves.
	swapIn, keep := outA, outB
	rSwapIn, rSwapOut := ra, rb
	if tokenOut == p.Key.TokenA {
		swapIn, keep = outB, outA
		rSwapIn, rSwapOut = rb, ra
	}

	q := &SingleSideQuote{
		ShareDelta: new(big.Int).Neg(burn),
		AmountA:    outA,
		AmountB:    outB,
		ChangeA:    new(big.Int),
		ChangeB:    new(big.Int),
		SwapIn:     new(big.Int),
		SwapOut:    new(big.Int),
		FeeAmount:  new(big.Int),
		FeeShares:  new(big.Int),
		AmountOut:  new(big.Int).Set(keep),
	}
	if swapIn.Sign() == 0 {
		return q, nil
	}

	y, err := curve.GetAmountOut(swapIn, rSwapIn, rSwapOut, p.Key.Fee, FeeDenominator)
	if err != nil {
		return nil, err
	}
	noFee := curve.Quote(swapIn, rSwapIn, rSwapOut)
	if noFee.Sign() > 0 {
		impact := new(big.Int).Sub(noFee, y)
		impact.Mul(impact, bpDenominator)
		impact.Div(impact, noFee)
		q.PriceImpactBp = uint32(impact.Uint64())
		if q.PriceImpactBp > uint32(MaxPriceImpactBp) {
			return nil, fmt.Errorf("%w: internal swap impact %d bp exceeds cap %d", ErrInvalidAction, q.PriceImpactBp, MaxPriceImpactBp)
		}
	}

	q.SwapIn = swapIn
	q.SwapOut = y
	q.FeeAmount = lpFee(swapIn, p.Key.Fee, FeeDenominator)

	// Fee shares are computed on the post-withdrawal reserves, the state the
	// internal swap actually sees.
	sim := &PoolState{Key: p.Key, ReserveA: ra, ReserveB: rb}
	tokenIn := p.Key.Other(tokenOut)
	q.FeeShares, err = protocolFeeShares(sim, tokenIn, q.FeeAmount, protocolFeePct)
	if err != nil {
		return nil, err
	}
	q.AmountOut = new(big.Int).Add(keep, y)
	return q, nil
}

// RemoveLiquiditySingleToken burns a percentage of the caller's shares and
// pays everything out in the single declared withdrawal token. Surplus over
// the declared amount is credited as change.
func (m *Manager) RemoveLiquiditySingleToken(db contract.StateDB, ctx *contract.Context, poolKey string, percentage uint64) (q *SingleSideQuote, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.dropCachesOnError(&err)

	r, err := m.requireReady(db, ctx)
	if err != nil {
		return nil, err
	}

	withdrawals := ctx.Withdrawals()
	if len(withdrawals) != 1 || len(ctx.Deposits()) != 0 {
		return nil, fmt.Errorf("%w: single-sided remove needs exactly one withdrawal", ErrInvalidAction)
	}
	tokenOut := withdrawals[0].Token
	requested := withdrawals[0].Amount

	key, err := ParsePoolKey(poolKey)
	if err != nil {
		return nil, err
	}
	if !key.Contains(tokenOut) {
		return nil, fmt.Errorf("%w: %s not in pool %s", ErrInvalidTokens, tokenOut.Hex(), poolKey)
	}
	p, err := m.requirePool(db, key)
	if err != nil {
		return nil, err
	}

	updateTWAP(p, ctx.Timestamp)

	shares := m.sharesOf(db, key, ctx.Caller)
	plan, err := planSingleSideRemove(p, shares, tokenOut, percentage, r.protocolFeePct)
	if err != nil {
		return nil, err
	}
	if requested == nil || requested.Sign() <= 0 || requested.Cmp(plan.AmountOut) > 0 {
		return nil, fmt.Errorf("%w: requested %s, position yields %s", ErrInvalidAction, requested, plan.AmountOut)
	}

	// Burn and withdraw proportionally.
	burn := new(big.Int).Neg(plan.ShareDelta)
	p.TotalLiquidity = new(big.Int).Sub(p.TotalLiquidity, burn)
	if err := m.updateUserLiquidity(db, key, ctx.Caller, plan.ShareDelta); err != nil {
		return nil, err
	}
	p.ReserveA = new(big.Int).Sub(p.ReserveA, plan.AmountA)
	p.ReserveB = new(big.Int).Sub(p.ReserveB, plan.AmountB)

	// Internal swap of the unwanted side.
	if plan.SwapIn.Sign() > 0 {
		tokenIn := key.Other(tokenOut)
		if _, err := m.accrueSwapFee(db, r, p, tokenIn, plan.SwapIn); err != nil {
			return nil, err
		}
		raBefore := new(big.Int).Set(p.ReserveA)
		rbBefore := new(big.Int).Set(p.ReserveB)
		rIn, rOut := p.reserves(tokenIn)
		rIn.Add(rIn, plan.SwapIn)
		rOut.Sub(rOut, plan.SwapOut)
		if err := checkKInvariant(raBefore, rbBefore, p.ReserveA, p.ReserveB); err != nil {
			return nil, err
		}
		if tokenIn == key.TokenA {
			p.VolumeA = new(big.Int).Add(p.VolumeA, plan.SwapIn)
			p.VolumeB = new(big.Int).Add(p.VolumeB, plan.SwapOut)
		} else {
			p.VolumeB = new(big.Int).Add(p.VolumeB, plan.SwapIn)
			p.VolumeA = new(big.Int).Add(p.VolumeA, plan.SwapOut)
		}
	}

	// Surplus over the declared withdrawal becomes change on tokenOut.
	surplus := new(big.Int).Sub(plan.AmountOut, requested)
	if surplus.Sign() > 0 {
		if tokenOut == key.TokenA {
			m.updateChange(db, p, ctx.Caller, surplus, new(big.Int))
		} else {
			m.updateChange(db, p, ctx.Caller, new(big.Int), surplus)
		}
	}

	p.Transactions++
	p.LastActivity = ctx.Timestamp
	m.setPool(db, p)
	m.recordProfit(db, ctx, key)
	return plan, nil
}
