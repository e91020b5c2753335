// Copyright (C) 2025, Dozer Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package swap

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"

	"github.com/dozerfi/amm/contract"
	"github.com/dozerfi/amm/curve"
	"github.com/dozerfi/amm/router"
)

// QuoteExactIn simulates an exact-in swap without touching state.
func (m *Manager) QuoteExactIn(db contract.StateDB, tokenIn, tokenOut contract.TokenID, fee uint64, amountIn *big.Int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, err := NewPoolKey(tokenIn, tokenOut, fee)
	if err != nil {
		return nil, err
	}
	p, err := m.requirePool(db, key)
	if err != nil {
		return nil, err
	}
	rIn, rOut := p.reserves(tokenIn)
	return curve.GetAmountOut(amountIn, rIn, rOut, fee, FeeDenominator)
}

// QuoteExactOut simulates an exact-out swap without touching state.
func (m *Manager) QuoteExactOut(db contract.StateDB, tokenIn, tokenOut contract.TokenID, fee uint64, amountOut *big.Int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, err := NewPoolKey(tokenIn, tokenOut, fee)
	if err != nil {
		return nil, err
	}
	p, err := m.requirePool(db, key)
	if err != nil {
		return nil, err
	}
	rIn, rOut := p.reserves(tokenIn)
	return curve.GetAmountIn(amountOut, rIn, rOut, fee, FeeDenominator)
}

// FrontQuoteAddLiquiditySingleToken previews a one-sided add. Committing the
// same inputs in the same block yields exactly these values.
func (m *Manager) FrontQuoteAddLiquiditySingleToken(db contract.StateDB, tokenIn, tokenOut contract.TokenID, fee uint64, amount *big.Int) (*SingleSideQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.loadRegistry(db)
	if !r.initialized {
		return nil, ErrNotInitialized
	}
	key, err := NewPoolKey(tokenIn, tokenOut, fee)
	if err != nil {
		return nil, err
	}
	p, err := m.requirePool(db, key)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive amount", ErrInvalidAction)
	}
	return planSingleSideAdd(p, tokenIn, amount, r.protocolFeePct)
}

// FrontQuoteRemoveLiquiditySingleToken previews a one-sided remove for the
// given user. Committing the same inputs in the same block yields exactly
// these values.
func (m *Manager) FrontQuoteRemoveLiquiditySingleToken(db contract.StateDB, user common.Address, poolKey string, tokenOut contract.TokenID, percentage uint64) (*SingleSideQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.loadRegistry(db)
	if !r.initialized {
		return nil, ErrNotInitialized
	}
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
	shares := m.sharesOf(db, key, user)
	return planSingleSideRemove(p, shares, tokenOut, percentage, r.protocolFeePct)
}

// GetReserves returns the pool reserves in key order.
func (m *Manager) GetReserves(db contract.StateDB, poolKey string) (*big.Int, *big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, err := ParsePoolKey(poolKey)
	if err != nil {
		return nil, nil, err
	}
	p, err := m.requirePool(db, key)
	if err != nil {
		return nil, nil, err
	}
	return new(big.Int).Set(p.ReserveA), new(big.Int).Set(p.ReserveB), nil
}

// poolInfo assembles the display view of one loaded pool.
func (m *Manager) poolInfo(db contract.StateDB, r *registry, p *PoolState, now uint64) *PoolInfo {
	sumA, sumB := foldTWAP(p, now)
	w := new(big.Int).SetUint64(p.TWAPWindow)
	id := p.Key.ID()
	return &PoolInfo{
		Key:                p.Key.String(),
		TokenA:             p.Key.TokenA,
		TokenB:             p.Key.TokenB,
		Fee:                p.Key.Fee,
		ReserveA:           new(big.Int).Set(p.ReserveA),
		ReserveB:           new(big.Int).Set(p.ReserveB),
		TotalLiquidity:     new(big.Int).Set(p.TotalLiquidity),
		VolumeA:            new(big.Int).Set(p.VolumeA),
		VolumeB:            new(big.Int).Set(p.VolumeB),
		AccruedFeeA:        new(big.Int).Set(p.AccruedFeeA),
		AccruedFeeB:        new(big.Int).Set(p.AccruedFeeB),
		Transactions:       p.Transactions,
		TWAPWindow:         p.TWAPWindow,
		TWAPPriceA:         new(big.Int).Div(sumA, w),
		TWAPPriceB:         new(big.Int).Div(sumB, w),
		Signed:             r.signed[id],
		LastActivity:       p.LastActivity,
		BlockTimestampLast: p.BlockTimestampLast,
	}
}

// GetPoolInfo returns the display view of a pool, or the zero value when the
// pool does not exist.
func (m *Manager) GetPoolInfo(db contract.StateDB, poolKey string, now uint64) (*PoolInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, err := ParsePoolKey(poolKey)
	if err != nil {
		return nil, err
	}
	p := m.getPool(db, key)
	if p == nil {
		return &PoolInfo{}, nil
	}
	return m.poolInfo(db, m.loadRegistry(db), p, now), nil
}

// AllPools lists every pool in creation order.
func (m *Manager) AllPools(db contract.StateDB, now uint64) []*PoolInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.loadRegistry(db)
	out := make([]*PoolInfo, 0, len(r.poolKeys))
	for _, key := range r.poolKeys {
		if p := m.getPool(db, key); p != nil {
			out = append(out, m.poolInfo(db, r, p, now))
		}
	}
	return out
}

// PoolsForToken lists the pools carrying a token.
func (m *Manager) PoolsForToken(db contract.StateDB, token contract.TokenID, now uint64) []*PoolInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.loadRegistry(db)
	keys := r.tokenIndex[token]
	out := make([]*PoolInfo, 0, len(keys))
	for _, key := range keys {
		if p := m.getPool(db, key); p != nil {
			out = append(out, m.poolInfo(db, r, p, now))
		}
	}
	return out
}

// GetUserInfo returns the caller-visible position in one pool, or the zero
// value when there is none.
func (m *Manager) GetUserInfo(db contract.StateDB, poolKey string, user common.Address) (*UserInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, err := ParsePoolKey(poolKey)
	if err != nil {
		return nil, err
	}
	p := m.getPool(db, key)
	if p == nil {
		return &UserInfo{}, nil
	}
	return m.userInfo(db, p, user), nil
}

func (m *Manager) userInfo(db contract.StateDB, p *PoolState, user common.Address) *UserInfo {
	shares := m.sharesOf(db, p.Key, user)
	c := m.changeOf(db, p.Key, user)
	snap := m.profitOf(db, p.Key, user)

	maxA := new(big.Int).Mul(shares, p.ReserveA)
	maxA.Div(maxA, p.TotalLiquidity)
	maxB := new(big.Int).Mul(shares, p.ReserveB)
	maxB.Div(maxB, p.TotalLiquidity)

	return &UserInfo{
		Shares:       new(big.Int).Set(shares),
		MaxWithdrawA: maxA,
		MaxWithdrawB: maxB,
		ChangeA:      new(big.Int).Set(c.AmountA),
		ChangeB:      new(big.Int).Set(c.AmountB),
		USDValue:     m.positionUSDValue(db, p.Key, user),
		LastAction:   snap.Timestamp,
	}
}

// UserPositions lists every pool where the user holds shares or change.
func (m *Manager) UserPositions(db contract.StateDB, user common.Address) map[string]*UserInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.loadRegistry(db)
	out := make(map[string]*UserInfo)
	for _, key := range r.poolKeys {
		p := m.getPool(db, key)
		if p == nil {
			continue
		}
		shares := m.sharesOf(db, key, user)
		c := m.changeOf(db, key, user)
		if shares.Sign() == 0 && c.AmountA.Sign() == 0 && c.AmountB.Sign() == 0 {
			continue
		}
		out[key.String()] = m.userInfo(db, p, user)
	}
	return out
}

// signedSnapshots builds the router's read-only view of the signed pool set.
func (m *Manager) signedSnapshots(db contract.StateDB, r *registry) []router.PoolSnapshot {
	out := make([]router.PoolSnapshot, 0, len(r.signed))
	for _, key := range r.poolKeys {
		if !r.signed[key.ID()] {
			continue
		}
		p := m.getPool(db, key)
		if p == nil {
			continue
		}
		out = append(out, router.PoolSnapshot{
			Key:      key.String(),
			TokenA:   key.TokenA,
			TokenB:   key.TokenB,
			ReserveA: new(big.Int).Set(p.ReserveA),
			ReserveB: new(big.Int).Set(p.ReserveB),
			FeeNum:   key.Fee,
			FeeDen:   FeeDenominator,
		})
	}
	return out
}

// FindBestPath searches the signed pool graph for the route that maximizes
// output for amountIn.
func (m *Manager) FindBestPath(db contract.StateDB, tokenIn, tokenOut contract.TokenID, amountIn *big.Int, maxHops int) (*router.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.loadRegistry(db)
	g := router.BuildForwardGraph(m.signedSnapshots(db, r), amountIn)
	return g.FindBestRoute(tokenIn, tokenOut, amountIn, maxHops)
}

// FindBestPathReverse searches for the route that minimizes the input
// required to obtain amountOut.
func (m *Manager) FindBestPathReverse(db contract.StateDB, tokenIn, tokenOut contract.TokenID, amountOut *big.Int, maxHops int) (*router.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.loadRegistry(db)
	g := router.BuildReverseGraph(m.signedSnapshots(db, r), amountOut)
	return g.FindBestRouteReverse(tokenIn, tokenOut, amountOut, maxHops)
}

// tokenPriceInHTR prices one token in the native token, scaled by
// PricePrecision, chaining spot quotes along the best signed route. Returns
// zero when no signed route exists; callers treat that as data, not error.
func (m *Manager) tokenPriceInHTR(db contract.StateDB, r *registry, token contract.TokenID) *big.Int {
	if token == contract.HTR {
		return new(big.Int).Set(PricePrecision)
	}

	// Fast path: the lowest-fee direct HTR pool is the canonical price
	// source when it is signed. Otherwise fall back to the routed search.
	if key, ok := r.htrPools[token]; ok && r.signed[key.ID()] {
		if p := m.getPool(db, key); p != nil {
			rIn, rOut := p.reserves(token)
			return curve.Quote(new(big.Int).Set(PricePrecision), rIn, rOut)
		}
	}

	g := router.BuildForwardGraph(m.signedSnapshots(db, r), PricePrecision)
	route, err := g.FindBestRoute(token, contract.HTR, PricePrecision, router.MaxHops)
	if err != nil {
		return new(big.Int)
	}

	amount := new(big.Int).Set(PricePrecision)
	current := token
	for _, poolKey := range route.Pools {
		key, err := ParsePoolKey(poolKey)
		if err != nil {
			return new(big.Int)
		}
		p := m.getPool(db, key)
		if p == nil {
			return new(big.Int)
		}
		rIn, rOut := p.reserves(current)
		amount = curve.Quote(amount, rIn, rOut)
		current = key.Other(current)
	}
	return amount
}

// tokenPriceInUSD prices a token in the USD token of the designated HTR/USD
// pool, scaled by PricePrecision. Zero when unset or unroutable.
func (m *Manager) tokenPriceInUSD(db contract.StateDB, r *registry, token contract.TokenID) *big.Int {
	if !r.htrUSDPoolSet {
		return new(big.Int)
	}
	usdPool := m.getPool(db, r.htrUSDPool)
	if usdPool == nil {
		return new(big.Int)
	}

	rHTR, rUSD := usdPool.reserves(contract.HTR)
	htrUSD := curve.Quote(PricePrecision, rHTR, rUSD)

	inHTR := m.tokenPriceInHTR(db, r, token)
	usd := new(big.Int).Mul(inHTR, htrUSD)
	return usd.Div(usd, PricePrecision)
}

// TokenPriceInHTR is the public price view.
func (m *Manager) TokenPriceInHTR(db contract.StateDB, token contract.TokenID) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokenPriceInHTR(db, m.loadRegistry(db), token)
}

// TokenPriceInUSD is the public price view.
func (m *Manager) TokenPriceInUSD(db contract.StateDB, token contract.TokenID) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokenPriceInUSD(db, m.loadRegistry(db), token)
}

// positionUSDValue values a user's redeemable reserves in the USD token.
func (m *Manager) positionUSDValue(db contract.StateDB, key PoolKey, user common.Address) *big.Int {
	r := m.loadRegistry(db)
	p := m.getPool(db, key)
	if p == nil || p.TotalLiquidity.Sign() == 0 {
		return new(big.Int)
	}
	shares := m.sharesOf(db, key, user)
	if shares.Sign() == 0 {
		return new(big.Int)
	}

	maxA := new(big.Int).Mul(shares, p.ReserveA)
	maxA.Div(maxA, p.TotalLiquidity)
	maxB := new(big.Int).Mul(shares, p.ReserveB)
	maxB.Div(maxB, p.TotalLiquidity)

	valueA := new(big.Int).Mul(maxA, m.tokenPriceInUSD(db, r, key.TokenA))
	valueB := new(big.Int).Mul(maxB, m.tokenPriceInUSD(db, r, key.TokenB))
	total := valueA.Add(valueA, valueB)
	return total.Div(total, PricePrecision)
}
