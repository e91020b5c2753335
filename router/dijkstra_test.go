// Copyright (C) 2025, Dozer Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dozerfi/amm/contract"
)

var (
	tokenA = testToken(0xaa)
	tokenB = testToken(0xbb)
	tokenC = testToken(0xcc)
	tokenD = testToken(0xdd)
)

func testToken(b byte) contract.TokenID {
	var id contract.TokenID
	for i := range id {
		id[i] = b
	}
	return id
}

func pool(key string, a, b contract.TokenID, ra, rb int64, fee uint64) PoolSnapshot {
	return PoolSnapshot{
		Key: key, TokenA: a, TokenB: b,
		ReserveA: big.NewInt(ra), ReserveB: big.NewInt(rb),
		FeeNum: fee, FeeDen: 1000,
	}
}

func TestFindBestRoute_TwoHop(t *testing.T) {
	pools := []PoolSnapshot{
		pool("ab/1", tokenA, tokenB, 1_000_000, 2_000_000, 1),
		pool("bc/5", tokenB, tokenC, 2_000_000, 3_000_000, 5),
	}

	g := BuildForwardGraph(pools, big.NewInt(1000))
	route, err := g.FindBestRoute(tokenA, tokenC, big.NewInt(1000), 3)
	require.NoError(t, err)

	require.Equal(t, []string{"ab/1", "bc/5"}, route.Pools)
	require.EqualValues(t, 1996, route.Amounts[0].Int64())
	require.EqualValues(t, 2976, route.Amounts[1].Int64())
	require.EqualValues(t, 2976, route.AmountOut.Int64())
}

func TestFindBestRoute_PicksBetterPath(t *testing.T) {
	// Direct A->C pool is thin; the A->B->C detour pays more.
	pools := []PoolSnapshot{
		pool("ac/3", tokenA, tokenC, 1_000, 1_000, 3),
		pool("ab/3", tokenA, tokenB, 1_000_000, 1_000_000, 3),
		pool("bc/3", tokenB, tokenC, 1_000_000, 1_000_000, 3),
	}

	g := BuildForwardGraph(pools, big.NewInt(10_000))
	route, err := g.FindBestRoute(tokenA, tokenC, big.NewInt(10_000), 3)
	require.NoError(t, err)
	require.Equal(t, []string{"ab/3", "bc/3"}, route.Pools)
}

func TestFindBestRoute_RespectsHopCap(t *testing.T) {
	// Only route A->B->C->D needs 3 hops.
	pools := []PoolSnapshot{
		pool("ab/3", tokenA, tokenB, 1_000_000, 1_000_000, 3),
		pool("bc/3", tokenB, tokenC, 1_000_000, 1_000_000, 3),
		pool("cd/3", tokenC, tokenD, 1_000_000, 1_000_000, 3),
	}

	g := BuildForwardGraph(pools, big.NewInt(1000))

	_, err := g.FindBestRoute(tokenA, tokenD, big.NewInt(1000), 2)
	require.ErrorIs(t, err, ErrNoRouteFound)

	route, err := g.FindBestRoute(tokenA, tokenD, big.NewInt(1000), 3)
	require.NoError(t, err)
	require.Len(t, route.Pools, 3)
}

func TestFindBestRoute_InvalidHops(t *testing.T) {
	g := BuildForwardGraph(nil, big.NewInt(1))
	_, err := g.FindBestRoute(tokenA, tokenB, big.NewInt(1), 0)
	require.ErrorIs(t, err, ErrInvalidHops)
	_, err = g.FindBestRoute(tokenA, tokenB, big.NewInt(1), 4)
	require.ErrorIs(t, err, ErrInvalidHops)
}

func TestFindBestRouteReverse_TwoHop(t *testing.T) {
	pools := []PoolSnapshot{
		pool("ab/1", tokenA, tokenB, 1_000_000, 2_000_000, 1),
		pool("bc/5", tokenB, tokenC, 2_000_000, 3_000_000, 5),
	}

	g := BuildReverseGraph(pools, big.NewInt(2976))
	route, err := g.FindBestRouteReverse(tokenA, tokenC, big.NewInt(2976), 3)
	require.NoError(t, err)

	require.Equal(t, []string{"ab/1", "bc/5"}, route.Pools)
	// The required input must reproduce at least the requested output when
	// executed forward.
	require.LessOrEqual(t, route.AmountIn.Int64(), int64(1001))
	require.GreaterOrEqual(t, route.Amounts[len(route.Amounts)-1].Int64(), int64(2976))
}

func TestFindBestRouteReverse_MinimizesInput(t *testing.T) {
	pools := []PoolSnapshot{
		pool("ac/50", tokenA, tokenC, 1_000_000, 1_000_000, 50),
		pool("ab/1", tokenA, tokenB, 10_000_000, 10_000_000, 1),
		pool("bc/1", tokenB, tokenC, 10_000_000, 10_000_000, 1),
	}

	g := BuildReverseGraph(pools, big.NewInt(5000))
	route, err := g.FindBestRouteReverse(tokenA, tokenC, big.NewInt(5000), 3)
	require.NoError(t, err)
	require.Equal(t, []string{"ab/1", "bc/1"}, route.Pools)
}

func TestBuildForwardGraph_KeepsBestEdgePerPair(t *testing.T) {
	// Two A/B pools with different fees; the graph must keep the cheaper one.
	pools := []PoolSnapshot{
		pool("ab/30", tokenA, tokenB, 1_000_000, 1_000_000, 30),
		pool("ab/1", tokenA, tokenB, 1_000_000, 1_000_000, 1),
	}

	g := BuildForwardGraph(pools, big.NewInt(1000))
	route, err := g.FindBestRoute(tokenA, tokenB, big.NewInt(1000), 1)
	require.NoError(t, err)
	require.Equal(t, []string{"ab/1"}, route.Pools)
}

func TestPriceImpact_SingleHop(t *testing.T) {
	e := Edge{
		PoolKey: "ab/3", From: tokenA, To: tokenB,
		ReserveIn: big.NewInt(10_000), ReserveOut: big.NewInt(10_000),
		FeeNum: 3, FeeDen: 1000,
	}
	out, err := e.amountOut(big.NewInt(100))
	require.NoError(t, err)

	// Quote without fees is 100; fee plus slippage leave out short of it.
	impact := PriceImpact([]Edge{e}, big.NewInt(100), out)
	require.EqualValues(t, 10000*(100-out.Int64())/100, int64(impact))
	require.LessOrEqual(t, impact, uint32(10000))
}

func TestPriceImpact_Clamped(t *testing.T) {
	e := Edge{
		PoolKey: "ab/3", From: tokenA, To: tokenB,
		ReserveIn: big.NewInt(100), ReserveOut: big.NewInt(100),
		FeeNum: 3, FeeDen: 1000,
	}
	// Integer math floors: one unit out of a theoretical million is 9999 bp.
	impact := PriceImpact([]Edge{e}, big.NewInt(1_000_000), big.NewInt(1))
	require.EqualValues(t, 9999, impact)

	// Zero output is total impact.
	impact = PriceImpact([]Edge{e}, big.NewInt(1_000_000), big.NewInt(0))
	require.EqualValues(t, 10000, impact)
}

func TestBuildGraph_PoolIterationCap(t *testing.T) {
	pools := make([]PoolSnapshot, MaxPoolsToIterate+10)
	for i := range pools {
		pools[i] = pool("ab/3", tokenA, tokenB, 1000, 1000, 3)
	}
	// The pool past the cap has far better liquidity but must be ignored.
	pools[MaxPoolsToIterate+5] = pool("ab/best", tokenA, tokenB, 1_000_000, 1_000_000, 1)

	g := BuildForwardGraph(pools, big.NewInt(100))
	route, err := g.FindBestRoute(tokenA, tokenB, big.NewInt(100), 1)
	require.NoError(t, err)
	require.Equal(t, "ab/3", route.Pools[0])
}
