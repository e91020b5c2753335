// Copyright (C) 2025, Dozer Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package contract

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContextActionLookup(t *testing.T) {
	var tokenX TokenID
	tokenX[0] = 0xaa

	ctx := &Context{
		Actions: []Action{
			{Kind: ActionDeposit, Token: HTR, Amount: big.NewInt(100)},
			{Kind: ActionWithdrawal, Token: tokenX, Amount: big.NewInt(50)},
		},
	}

	dep, ok := ctx.DepositOf(HTR)
	require.True(t, ok)
	require.Equal(t, big.NewInt(100), dep.Amount)

	_, ok = ctx.DepositOf(tokenX)
	require.False(t, ok)

	wd, ok := ctx.WithdrawalOf(tokenX)
	require.True(t, ok)
	require.Equal(t, big.NewInt(50), wd.Amount)

	require.Len(t, ctx.Deposits(), 1)
	require.Len(t, ctx.Withdrawals(), 1)
}

func TestActionKindString(t *testing.T) {
	require.Equal(t, "deposit", ActionDeposit.String())
	require.Equal(t, "withdrawal", ActionWithdrawal.String())
	require.Equal(t, "unknown", ActionKind(9).String())
}
