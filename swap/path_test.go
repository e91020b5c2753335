// Copyright (C) 2025, Dozer Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package swap

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dozerfi/amm/contract"
)

// twoHopSetup creates HTR/B and B/C pools of a million units each.
func twoHopSetup(t *testing.T) (*MockStateDB, *Manager, string, string) {
	t.Helper()
	db := NewMockStateDB()
	m := newTestManager(t, db)
	key1 := mustCreatePool(t, m, db, contract.HTR, tokenB, 1_000_000, 1_000_000, 3, 1000)
	key2 := mustCreatePool(t, m, db, tokenB, tokenC, 1_000_000, 1_000_000, 3, 1000)
	return db, m, key1, key2
}

func TestSwapExactInThroughPath(t *testing.T) {
	db, m, key1, key2 := twoHopSetup(t)

	// 1000 HTR -> 996 B -> 992 C; minimum 990 leaves 2 as change.
	res, err := m.SwapExactTokensForTokensThroughPath(db,
		callCtx(testUser, 2000, deposit(contract.HTR, 1000), withdrawal(tokenC, 990)),
		key1+","+key2, 3000)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1000), res.AmountIn)
	require.Equal(t, big.NewInt(990), res.AmountOut)
	require.Equal(t, big.NewInt(2), res.Change)
	require.Equal(t, tokenC, res.ChangeToken)

	// Intermediate amounts thread exactly through both pools.
	ra1, rb1, err := m.GetReserves(db, key1)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_001_000), ra1)
	require.Equal(t, big.NewInt(999_004), rb1)

	ra2, rb2, err := m.GetReserves(db, key2)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_000_996), ra2)
	require.Equal(t, big.NewInt(999_008), rb2)

	// The surplus lives on the final pool.
	pk2, err := ParsePoolKey(key2)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(2), m.changeOf(db, pk2, testUser).AmountB)
}

func TestSwapExactOutThroughPath(t *testing.T) {
	db, m, key1, key2 := twoHopSetup(t)

	// Wanting 992 C requires 996 B which requires 1000 HTR; the extra 5
	// deposited comes back as change on the input token.
	res, err := m.SwapTokensForExactTokensThroughPath(db,
		callCtx(testUser, 2000, deposit(contract.HTR, 1005), withdrawal(tokenC, 992)),
		key1+","+key2, 3000)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1000), res.AmountIn)
	require.Equal(t, big.NewInt(992), res.AmountOut)
	require.Equal(t, big.NewInt(5), res.Change)
	require.Equal(t, contract.HTR, res.ChangeToken)

	// Change sits on the first pool's input token.
	pk1, err := ParsePoolKey(key1)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(5), m.changeOf(db, pk1, testUser).AmountA)
}

func TestPathSingleHopMatchesDirectSwap(t *testing.T) {
	db, m, key1, _ := twoHopSetup(t)

	res, err := m.SwapExactTokensForTokensThroughPath(db,
		callCtx(testUser, 2000, deposit(contract.HTR, 1000), withdrawal(tokenB, 990)),
		key1, 3000)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(990), res.AmountOut)
	require.Equal(t, big.NewInt(6), res.Change) // 996 produced

	ra, rb, err := m.GetReserves(db, key1)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_001_000), ra)
	require.Equal(t, big.NewInt(999_004), rb)
}

func TestPathValidation(t *testing.T) {
	db, m, key1, key2 := twoHopSetup(t)

	t.Run("disconnected hops", func(t *testing.T) {
		// key2 does not carry HTR.
		_, err := m.SwapExactTokensForTokensThroughPath(db,
			callCtx(testUser, 2000, deposit(contract.HTR, 1000), withdrawal(tokenC, 1)),
			key2, 3000)
		require.ErrorIs(t, err, ErrInvalidPath)
	})

	t.Run("duplicate pool", func(t *testing.T) {
		_, err := m.SwapExactTokensForTokensThroughPath(db,
			callCtx(testUser, 2000, deposit(contract.HTR, 1000), withdrawal(contract.HTR, 1)),
			key1+","+key1, 3000)
		require.ErrorIs(t, err, ErrInvalidPath)
	})

	t.Run("path ends at wrong token", func(t *testing.T) {
		_, err := m.SwapExactTokensForTokensThroughPath(db,
			callCtx(testUser, 2000, deposit(contract.HTR, 1000), withdrawal(tokenC, 1)),
			key1, 3000)
		require.ErrorIs(t, err, ErrInvalidPath)
	})

	t.Run("too many hops", func(t *testing.T) {
		db2 := NewMockStateDB()
		m2 := newTestManager(t, db2)
		k1 := mustCreatePool(t, m2, db2, contract.HTR, tokenB, 1_000_000, 1_000_000, 3, 1000)
		k2 := mustCreatePool(t, m2, db2, tokenB, tokenC, 1_000_000, 1_000_000, 3, 1000)
		k3 := mustCreatePool(t, m2, db2, tokenC, tokenUSD, 1_000_000, 1_000_000, 3, 1000)
		k4 := mustCreatePool(t, m2, db2, tokenUSD, contract.HTR, 1_000_000, 1_000_000, 5, 1000)

		_, err := m2.SwapExactTokensForTokensThroughPath(db2,
			callCtx(testUser, 2000, deposit(contract.HTR, 1000), withdrawal(contract.HTR, 1)),
			k1+","+k2+","+k3+","+k4, 3000)
		require.ErrorIs(t, err, ErrInvalidPath)
	})

	t.Run("malformed pool key", func(t *testing.T) {
		_, err := m.SwapExactTokensForTokensThroughPath(db,
			callCtx(testUser, 2000, deposit(contract.HTR, 1000), withdrawal(tokenB, 1)),
			"not-a-pool-key", 3000)
		require.Error(t, err)
	})

	t.Run("expired deadline", func(t *testing.T) {
		_, err := m.SwapExactTokensForTokensThroughPath(db,
			callCtx(testUser, 2000, deposit(contract.HTR, 1000), withdrawal(tokenC, 1)),
			key1+","+key2, 1999)
		require.ErrorIs(t, err, ErrInvalidAction)
	})
}

func TestPathExactOutInsufficientDeposit(t *testing.T) {
	db, m, key1, key2 := twoHopSetup(t)

	_, err := m.SwapTokensForExactTokensThroughPath(db,
		callCtx(testUser, 2000, deposit(contract.HTR, 999), withdrawal(tokenC, 992)),
		key1+","+key2, 3000)
	require.ErrorIs(t, err, ErrInvalidAction)
}

func TestPathThreeHops(t *testing.T) {
	db := NewMockStateDB()
	m := newTestManager(t, db)
	k1 := mustCreatePool(t, m, db, contract.HTR, tokenB, 1_000_000, 1_000_000, 3, 1000)
	k2 := mustCreatePool(t, m, db, tokenB, tokenC, 1_000_000, 1_000_000, 3, 1000)
	k3 := mustCreatePool(t, m, db, tokenC, tokenUSD, 1_000_000, 1_000_000, 3, 1000)

	// 1000 -> 996 -> 992 -> 988
	res, err := m.SwapExactTokensForTokensThroughPath(db,
		callCtx(testUser, 2000, deposit(contract.HTR, 1000), withdrawal(tokenUSD, 980)),
		k1+","+k2+","+k3, 3000)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(980), res.AmountOut)
	require.Equal(t, big.NewInt(8), res.Change)
}

func TestPathFailedMinimumLeavesPoolsIntact(t *testing.T) {
	db, m, key1, key2 := twoHopSetup(t)

	// A two-hop swap of 1000 units can never pay out a million.
	_, err := m.SwapExactTokensForTokensThroughPath(db,
		callCtx(testUser, 2000, deposit(contract.HTR, 1000), withdrawal(tokenC, 1_000_000)),
		key1+","+key2, 3000)
	require.ErrorIs(t, err, ErrInvalidAction)

	// Neither hop touched the pools: the long-lived manager and a fresh one
	// reading the same state agree on the original reserves.
	fresh := NewManager(ContractAddress)
	for _, key := range []string{key1, key2} {
		ra, rb, err := m.GetReserves(db, key)
		require.NoError(t, err)
		require.Equal(t, big.NewInt(1_000_000), ra)
		require.Equal(t, big.NewInt(1_000_000), rb)

		fra, frb, err := fresh.GetReserves(db, key)
		require.NoError(t, err)
		require.Equal(t, ra, fra)
		require.Equal(t, rb, frb)
	}
}
