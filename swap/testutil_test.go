// Copyright (C) 2025, Dozer Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package swap

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/dozerfi/amm/contract"
)

// MockStateDB implements contract.StateDB for testing.
type MockStateDB struct {
	storage   map[common.Address]map[common.Hash]common.Hash
	balances  map[common.Address]*uint256.Int
	accounts  map[common.Address]bool
	timestamp uint64
}

func NewMockStateDB() *MockStateDB {
	return &MockStateDB{
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
		balances: make(map[common.Address]*uint256.Int),
		accounts: make(map[common.Address]bool),
	}
}

func (m *MockStateDB) GetState(addr common.Address, key common.Hash) common.Hash {
	if m.storage[addr] == nil {
		return common.Hash{}
	}
	return m.storage[addr][key]
}

func (m *MockStateDB) SetState(addr common.Address, key, value common.Hash) {
	if m.storage[addr] == nil {
		m.storage[addr] = make(map[common.Hash]common.Hash)
	}
	m.storage[addr][key] = value
}

func (m *MockStateDB) GetBalance(addr common.Address) *uint256.Int {
	if bal, ok := m.balances[addr]; ok {
		return bal.Clone()
	}
	return uint256.NewInt(0)
}

func (m *MockStateDB) AddBalance(addr common.Address, amount *uint256.Int) {
	if m.balances[addr] == nil {
		m.balances[addr] = uint256.NewInt(0)
	}
	m.balances[addr] = new(uint256.Int).Add(m.balances[addr], amount)
}

func (m *MockStateDB) SubBalance(addr common.Address, amount *uint256.Int) {
	if m.balances[addr] == nil {
		m.balances[addr] = uint256.NewInt(0)
	}
	m.balances[addr] = new(uint256.Int).Sub(m.balances[addr], amount)
}

func (m *MockStateDB) Exist(addr common.Address) bool    { return m.accounts[addr] }
func (m *MockStateDB) CreateAccount(addr common.Address) { m.accounts[addr] = true }
func (m *MockStateDB) GetBlockTimestamp() uint64         { return m.timestamp }

type mockAccessibleState struct {
	db *MockStateDB
}

func (m *mockAccessibleState) GetStateDB() contract.StateDB { return m.db }

var (
	testOwner  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	testUser   = common.HexToAddress("0x2000000000000000000000000000000000000002")
	testSigner = common.HexToAddress("0x3000000000000000000000000000000000000003")
)

func testToken(fill byte) contract.TokenID {
	var id contract.TokenID
	for i := range id {
		id[i] = fill
	}
	return id
}

var (
	tokenB   = testToken(0xbb)
	tokenC   = testToken(0xcc)
	tokenUSD = testToken(0xdd)
)

func newTestManager(t *testing.T, db *MockStateDB) *Manager {
	t.Helper()
	m := NewManager(ContractAddress)
	err := m.Initialize(db, &contract.Context{Caller: testOwner, Timestamp: 1000})
	require.NoError(t, err)
	return m
}

func deposit(token contract.TokenID, amount int64) contract.Action {
	return contract.Action{Kind: contract.ActionDeposit, Token: token, Amount: big.NewInt(amount)}
}

func withdrawal(token contract.TokenID, amount int64) contract.Action {
	return contract.Action{Kind: contract.ActionWithdrawal, Token: token, Amount: big.NewInt(amount)}
}

func uint256FromInt64(v int64) *uint256.Int {
	return uint256.NewInt(uint64(v))
}

func callCtx(caller common.Address, ts uint64, actions ...contract.Action) *contract.Context {
	return &contract.Context{Caller: caller, Timestamp: ts, Actions: actions}
}

// mustCreatePool creates a pool funded by testUser and returns its public key.
func mustCreatePool(t *testing.T, m *Manager, db *MockStateDB, a, b contract.TokenID, amountA, amountB int64, fee uint64, ts uint64) string {
	t.Helper()
	key, err := m.CreatePool(db, callCtx(testUser, ts, deposit(a, amountA), deposit(b, amountB)), fee)
	require.NoError(t, err)
	return key
}
