// Copyright (C) 2025, Dozer Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package swap

import (
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/dozerfi/amm/contract"
)

func newTestContract() *Contract {
	return NewContract(log.NewTestLogger(log.InfoLevel))
}

// callInput assembles selector || actions || args.
func callInput(selector uint32, actions []contract.Action, args ...[]byte) []byte {
	input := make([]byte, 4)
	binary.BigEndian.PutUint32(input, selector)
	input = append(input, byte(len(actions)))
	for _, a := range actions {
		input = append(input, byte(a.Kind))
		input = append(input, a.Token.Bytes()...)
		var amount [32]byte
		a.Amount.FillBytes(amount[:])
		input = append(input, amount[:]...)
	}
	for _, arg := range args {
		input = append(input, arg...)
	}
	return input
}

// viewInput assembles selector || args with no action bundle.
func viewInput(selector uint32, args ...[]byte) []byte {
	input := make([]byte, 4)
	binary.BigEndian.PutUint32(input, selector)
	for _, arg := range args {
		input = append(input, arg...)
	}
	return input
}

func argUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func argAmount(v int64) []byte {
	var b [32]byte
	big.NewInt(v).FillBytes(b[:])
	return b[:]
}

func argString(s string) []byte {
	b := make([]byte, 2+len(s))
	binary.BigEndian.PutUint16(b, uint16(len(s)))
	copy(b[2:], s)
	return b
}

func runOK(t *testing.T, c *Contract, state *mockAccessibleState, caller common.Address, input []byte) []byte {
	t.Helper()
	ret, remaining, err := c.Run(state, caller, ContractAddress, input, 1_000_000, false)
	require.NoError(t, err)
	require.Less(t, remaining, uint64(1_000_000))
	return ret
}

func TestContractLifecycleDispatch(t *testing.T) {
	db := NewMockStateDB()
	db.timestamp = 1000
	state := &mockAccessibleState{db: db}
	c := newTestContract()

	// Initialize carries an empty action bundle.
	runOK(t, c, state, testOwner, callInput(SelectorInitialize, nil))

	// CreatePool returns the length-prefixed pool key.
	ret := runOK(t, c, state, testUser, callInput(SelectorCreatePool,
		[]contract.Action{deposit(contract.HTR, 10000), deposit(tokenB, 1000)},
		argUint64(3)))
	n := binary.BigEndian.Uint16(ret[:2])
	key := string(ret[2 : 2+n])
	require.Equal(t, "00/"+tokenB.Hex()+"/3", key)

	// A swap through the dispatch layer: 1000 HTR for at least 85 B.
	db.timestamp = 2000
	ret = runOK(t, c, state, testUser, callInput(SelectorSwapExactIn,
		[]contract.Action{deposit(contract.HTR, 1000), withdrawal(tokenB, 85)},
		argUint64(3), argUint64(3000)))
	require.Len(t, ret, 96+32)
	require.Equal(t, big.NewInt(1000), new(big.Int).SetBytes(ret[:32]))
	require.Equal(t, big.NewInt(90), new(big.Int).SetBytes(ret[32:64]))
	require.Equal(t, big.NewInt(5), new(big.Int).SetBytes(ret[64:96]))

	// View: reserves after the swap.
	ret = runOK(t, c, state, testUser, viewInput(SelectorGetReserves, argString(key)))
	require.Equal(t, big.NewInt(11000), new(big.Int).SetBytes(ret[:32]))
	require.Equal(t, big.NewInt(910), new(big.Int).SetBytes(ret[32:64]))

	// View: quote matches the executed swap shape.
	ret = runOK(t, c, state, testUser, viewInput(SelectorQuoteExactIn,
		tokenB.Bytes(), contract.HTR.Bytes(), argUint64(3), argAmount(90)))
	require.True(t, new(big.Int).SetBytes(ret[:32]).Sign() > 0)
}

func TestContractReadOnlyGuard(t *testing.T) {
	db := NewMockStateDB()
	db.timestamp = 1000
	state := &mockAccessibleState{db: db}
	c := newTestContract()

	_, _, err := c.Run(state, testOwner, ContractAddress,
		callInput(SelectorInitialize, nil), 1_000_000, true)
	require.ErrorContains(t, err, "read-only")

	// Views run fine read-only.
	runOKInit := callInput(SelectorInitialize, nil)
	_, _, err = c.Run(state, testOwner, ContractAddress, runOKInit, 1_000_000, false)
	require.NoError(t, err)

	_, _, err = c.Run(state, testUser, ContractAddress,
		viewInput(SelectorTokenPriceInHTR, contract.HTR.Bytes()), 1_000_000, true)
	require.NoError(t, err)
}

func TestContractGasAccounting(t *testing.T) {
	db := NewMockStateDB()
	db.timestamp = 1000
	state := &mockAccessibleState{db: db}
	c := newTestContract()

	input := callInput(SelectorInitialize, nil)
	require.Equal(t, GasInitialize, c.RequiredGas(input))

	// Not enough gas.
	_, remaining, err := c.Run(state, testOwner, ContractAddress, input, GasInitialize-1, false)
	require.Error(t, err)
	require.Equal(t, uint64(0), remaining)

	// Exact gas runs with zero left over.
	_, remaining, err = c.Run(state, testOwner, ContractAddress, input, GasInitialize, false)
	require.NoError(t, err)
	require.Equal(t, uint64(0), remaining)

	require.Equal(t, GasPoolCreate, c.RequiredGas(viewInput(SelectorCreatePool)))
	require.Equal(t, GasSwap, c.RequiredGas(viewInput(SelectorSwapExactIn)))
	require.Equal(t, GasSwapPath, c.RequiredGas(viewInput(SelectorSwapExactInPath)))
	require.Equal(t, GasAdmin, c.RequiredGas(viewInput(SelectorPause)))
	require.Equal(t, GasView, c.RequiredGas(viewInput(SelectorGetReserves)))
	require.Equal(t, GasPathfind, c.RequiredGas(viewInput(SelectorFindBestPath)))
}

func TestContractMalformedInput(t *testing.T) {
	db := NewMockStateDB()
	state := &mockAccessibleState{db: db}
	c := newTestContract()

	_, _, err := c.Run(state, testUser, ContractAddress, []byte{0x01}, 1_000_000, false)
	require.Error(t, err)

	_, _, err = c.Run(state, testUser, ContractAddress,
		viewInput(0xdead0000), 1_000_000, false)
	require.ErrorContains(t, err, "unknown method selector")

	// Truncated action bundle.
	_, _, err = c.Run(state, testUser, ContractAddress,
		callInput(SelectorCreatePool, nil), 1_000_000, false)
	require.Error(t, err)

	// Bad action kind.
	bad := viewInput(SelectorCreatePool)
	bad = append(bad, 1)    // one action
	bad = append(bad, 0xff) // unknown kind
	bad = append(bad, make([]byte, 64)...)
	bad = append(bad, argUint64(3)...)
	_, _, err = c.Run(state, testUser, ContractAddress, bad, 1_000_000, false)
	require.ErrorIs(t, err, contract.ErrActionShape)
}

func TestContractAdminDispatch(t *testing.T) {
	db := NewMockStateDB()
	db.timestamp = 1000
	state := &mockAccessibleState{db: db}
	c := newTestContract()

	runOK(t, c, state, testOwner, callInput(SelectorInitialize, nil))
	runOK(t, c, state, testOwner, callInput(SelectorSetProtocolFee, nil, argUint64(30)))
	require.Equal(t, uint64(30), c.manager.loadRegistry(db).protocolFeePct)

	runOK(t, c, state, testOwner, callInput(SelectorAddSigner, nil, testSigner.Bytes()))
	require.True(t, c.manager.loadRegistry(db).signers[testSigner])

	runOK(t, c, state, testOwner, callInput(SelectorPause, nil))
	require.True(t, c.manager.loadRegistry(db).paused)
	runOK(t, c, state, testOwner, callInput(SelectorUnpause, nil))
	require.False(t, c.manager.loadRegistry(db).paused)

	runOK(t, c, state, testOwner, callInput(SelectorUpgradeContract, nil, argString("1.1.0")))
	require.Equal(t, "1.1.0", c.manager.loadRegistry(db).version)

	// Unauthorized callers surface the manager error through Run.
	_, _, err := c.Run(state, testUser, ContractAddress,
		callInput(SelectorPause, nil), 1_000_000, false)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestContractInfoViews(t *testing.T) {
	db := NewMockStateDB()
	db.timestamp = 1000
	state := &mockAccessibleState{db: db}
	c := newTestContract()

	runOK(t, c, state, testOwner, callInput(SelectorInitialize, nil))
	ret := runOK(t, c, state, testUser, callInput(SelectorCreatePool,
		[]contract.Action{deposit(contract.HTR, 10000), deposit(tokenB, 1000)},
		argUint64(3)))
	n := binary.BigEndian.Uint16(ret[:2])
	key := string(ret[2 : 2+n])

	ret = runOK(t, c, state, testUser, viewInput(SelectorPoolInfo, argString(key)))
	require.Equal(t, big.NewInt(10000), new(big.Int).SetBytes(ret[:32]), "reserve A")
	require.Equal(t, big.NewInt(1000), new(big.Int).SetBytes(ret[32:64]), "reserve B")
	require.Positive(t, new(big.Int).SetBytes(ret[64:96]).Sign(), "total liquidity")
	// Tokens follow the nine words.
	require.Equal(t, contract.HTR.Bytes(), ret[288:320])
	require.Equal(t, tokenB.Bytes(), ret[320:352])
	require.Equal(t, uint64(3), binary.BigEndian.Uint64(ret[352:360]), "fee")
	// Key string closes the record.
	tailN := binary.BigEndian.Uint16(ret[len(ret)-2-len(key) : len(ret)-len(key)])
	require.Equal(t, key, string(ret[len(ret)-int(tailN):]))

	// Unknown pool yields the zero record, not an error.
	ret = runOK(t, c, state, testUser, viewInput(SelectorPoolInfo, argString("00/"+tokenC.Hex()+"/3")))
	require.Equal(t, 0, new(big.Int).SetBytes(ret[:32]).Sign())

	ret = runOK(t, c, state, testUser, viewInput(SelectorUserInfo, testUser.Bytes(), argString(key)))
	require.Positive(t, new(big.Int).SetBytes(ret[:32]).Sign(), "shares")
	require.Equal(t, big.NewInt(9999), new(big.Int).SetBytes(ret[32:64]), "max withdraw A")
	require.Len(t, ret, 6*32+8)

	// A stranger gets the zero record.
	ret = runOK(t, c, state, testSigner, viewInput(SelectorUserInfo, testSigner.Bytes(), argString(key)))
	require.Equal(t, 0, new(big.Int).SetBytes(ret[:32]).Sign())
}
