// Copyright (C) 2025, Dozer Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package swap

import (
	"fmt"
	"math/big"

	"github.com/dozerfi/amm/contract"
)

// spotPrices returns the pool's instantaneous prices scaled by PricePrecision:
// the price of one A in B and of one B in A.
func spotPrices(p *PoolState) (priceA, priceB *big.Int) {
	priceA = new(big.Int).Mul(p.ReserveB, PricePrecision)
	priceA.Div(priceA, p.ReserveA)
	priceB = new(big.Int).Mul(p.ReserveA, PricePrecision)
	priceB.Div(priceB, p.ReserveB)
	return priceA, priceB
}

// seedTWAP initializes the window sums to spot * window so the average is
// well-defined from the first block.
func seedTWAP(p *PoolState, now uint64) {
	priceA, priceB := spotPrices(p)
	w := new(big.Int).SetUint64(p.TWAPWindow)
	p.PriceAWindowSum = new(big.Int).Mul(priceA, w)
	p.PriceBWindowSum = new(big.Int).Mul(priceB, w)
	p.BlockTimestampLast = now
}

// foldTWAP computes the window sums as of now without touching the pool.
// The spot price is weighted by elapsed time capped at the window; the old
// sum decays by the remaining fraction of the window.
func foldTWAP(p *PoolState, now uint64) (sumA, sumB *big.Int) {
	if now <= p.BlockTimestampLast {
		return p.PriceAWindowSum, p.PriceBWindowSum
	}
	if p.ReserveA.Sign() == 0 || p.ReserveB.Sign() == 0 {
		return p.PriceAWindowSum, p.PriceBWindowSum
	}

	dt := now - p.BlockTimestampLast
	tNew := dt
	if tNew > p.TWAPWindow {
		tNew = p.TWAPWindow
	}
	var tRem uint64
	if p.TWAPWindow > dt {
		tRem = p.TWAPWindow - dt
	}

	priceA, priceB := spotPrices(p)
	w := new(big.Int).SetUint64(p.TWAPWindow)

	sumA = new(big.Int).Mul(priceA, new(big.Int).SetUint64(tNew))
	decayA := new(big.Int).Mul(p.PriceAWindowSum, new(big.Int).SetUint64(tRem))
	sumA.Add(sumA, decayA.Div(decayA, w))

	sumB = new(big.Int).Mul(priceB, new(big.Int).SetUint64(tNew))
	decayB := new(big.Int).Mul(p.PriceBWindowSum, new(big.Int).SetUint64(tRem))
	sumB.Add(sumB, decayB.Div(decayB, w))
	return sumA, sumB
}

// updateTWAP materializes the window sums before a mutation. Recorded spot
// prices therefore always correspond to pre-operation reserves. Idempotent
// within a block.
func updateTWAP(p *PoolState, now uint64) {
	if now <= p.BlockTimestampLast {
		return
	}
	if p.ReserveA.Sign() > 0 && p.ReserveB.Sign() > 0 {
		p.PriceAWindowSum, p.PriceBWindowSum = foldTWAP(p, now)
	}
	p.BlockTimestampLast = now
}

// TWAPPrice returns the time-weighted price of token in terms of the pool's
// other token, scaled by PricePrecision. The pending window update is
// simulated but not committed.
func (m *Manager) TWAPPrice(db contract.StateDB, poolKey string, token contract.TokenID, now uint64) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, err := ParsePoolKey(poolKey)
	if err != nil {
		return nil, err
	}
	p, err := m.requirePool(db, key)
	if err != nil {
		return nil, err
	}
	if !key.Contains(token) {
		return nil, fmt.Errorf("%w: %s not in pool %s", ErrInvalidTokens, token.Hex(), poolKey)
	}

	sumA, sumB := foldTWAP(p, now)
	sum := sumA
	if token == key.TokenB {
		sum = sumB
	}
	return new(big.Int).Div(sum, new(big.Int).SetUint64(p.TWAPWindow)), nil
}
