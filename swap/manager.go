// Copyright (C) 2025, Dozer Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package swap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"

	"github.com/dozerfi/amm/contract"
)

// Storage key prefixes. Every persistent slot is BLAKE3(prefix || id).
var (
	globalPrefix  = []byte("glob")
	poolPrefix    = []byte("pool")
	poolIdxPrefix = []byte("pidx")
	signedPrefix  = []byte("sgnd")
	signerPrefix  = []byte("sidx")
	sharePrefix   = []byte("shar")
	changeAPrefix = []byte("usca")
	changeBPrefix = []byte("uscb")
	profitPrefix  = []byte("prof")
)

// Pool field tags appended to the pool id inside storage keys.
var (
	fieldReserveA     = []byte("ra")
	fieldReserveB     = []byte("rb")
	fieldLiquidity    = []byte("tl")
	fieldBurned       = []byte("bl")
	fieldChangeA      = []byte("ca")
	fieldChangeB      = []byte("cb")
	fieldTransactions = []byte("tx")
	fieldVolumeA      = []byte("va")
	fieldVolumeB      = []byte("vb")
	fieldFeeA         = []byte("fa")
	fieldFeeB         = []byte("fb")
	fieldTWAPSumA     = []byte("sa")
	fieldTWAPSumB     = []byte("sb")
	fieldTimestamp    = []byte("ts")
	fieldWindow       = []byte("tw")
	fieldActivity     = []byte("la")
)

// Global registry field tags.
var (
	globInit      = []byte("init")
	globOwner     = []byte("ownr")
	globPaused    = []byte("paus")
	globVersion   = []byte("vers")
	globFeePct    = []byte("pfee")
	globWindow    = []byte("twin")
	globPoolCount = []byte("pcnt")
	globSignerCnt = []byte("scnt")
	globUSDPool   = []byte("usdp")
)

// ledgerKey addresses a per-user, per-pool sidecar entry.
type ledgerKey struct {
	pool [32]byte
	user common.Address
}

// registry is the in-memory image of the global contract state. The token
// index and the lowest-fee HTR map are derived from the pool list on load and
// maintained on create; only the pool list itself is persisted.
type registry struct {
	initialized       bool
	owner             common.Address
	paused            bool
	version           string
	protocolFeePct    uint64
	defaultTWAPWindow uint64

	poolKeys   []PoolKey
	tokenIndex map[contract.TokenID][]PoolKey
	signed     map[[32]byte]bool
	signers    map[common.Address]bool

	// lowest-fee pool against HTR per counterpart token
	htrPools map[contract.TokenID]PoolKey

	htrUSDPool    PoolKey
	htrUSDPoolSet bool
}

// Manager is the singleton AMM engine. All pools live in this one contract;
// state is cached in memory and written through to the host StateDB so a
// fresh Manager over the same state reproduces the same answers. Reads fill
// the caches too, so every entry point serializes on the one mutex.
type Manager struct {
	mu sync.Mutex

	// address is the precompile account holding all storage and balances.
	address common.Address

	pools  map[[32]byte]*PoolState
	shares map[ledgerKey]*big.Int
	change map[ledgerKey]*ChangeBalance
	profit map[ledgerKey]*ProfitSnapshot

	reg *registry
}

// NewManager creates a manager bound to the precompile address.
func NewManager(addr common.Address) *Manager {
	return &Manager{
		address: addr,
		pools:   make(map[[32]byte]*PoolState),
		shares:  make(map[ledgerKey]*big.Int),
		change:  make(map[ledgerKey]*ChangeBalance),
		profit:  make(map[ledgerKey]*ProfitSnapshot),
	}
}

// makeStorageKey derives a slot from prefix and identifier.
func makeStorageKey(prefix, id []byte) common.Hash {
	h := blake3.New()
	h.Write(prefix)
	h.Write(id)
	var key common.Hash
	h.Digest().Read(key[:])
	return key
}

func poolFieldKey(poolID [32]byte, field []byte) common.Hash {
	return makeStorageKey(poolPrefix, append(poolID[:], field...))
}

func globalKey(field []byte) common.Hash {
	return makeStorageKey(globalPrefix, field)
}

// invalidate drops every in-memory cache. Called when an operation fails
// after a mutating step: the host rolls the StateDB back on error, and the
// caches must not outlive the discarded writes.
func (m *Manager) invalidate() {
	m.pools = make(map[[32]byte]*PoolState)
	m.shares = make(map[ledgerKey]*big.Int)
	m.change = make(map[ledgerKey]*ChangeBalance)
	m.profit = make(map[ledgerKey]*ProfitSnapshot)
	m.reg = nil
}

// dropCachesOnError invalidates the caches when the guarded operation is
// returning an error. Deferred by every operation that can fail after
// mutating a cached record.
func (m *Manager) dropCachesOnError(err *error) {
	if *err != nil {
		m.invalidate()
	}
}

// ---- slot codecs ----

var (
	maxSlotValue   = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	maxProfitValue = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 192), big.NewInt(1))
)

// hashFromBig packs a value into one slot, saturating at the slot width
// instead of letting FillBytes panic on oversized input.
func hashFromBig(v *big.Int) common.Hash {
	var h common.Hash
	if v.BitLen() > 256 {
		v = maxSlotValue
	}
	v.FillBytes(h[:])
	return h
}

func bigFromHash(h common.Hash) *big.Int {
	return new(big.Int).SetBytes(h[:])
}

func hashFromUint64(v uint64) common.Hash {
	var h common.Hash
	binary.BigEndian.PutUint64(h[24:], v)
	return h
}

func uint64FromHash(h common.Hash) uint64 {
	return binary.BigEndian.Uint64(h[24:])
}

func hashFromAddress(a common.Address) common.Hash {
	var h common.Hash
	copy(h[12:], a[:])
	return h
}

func addressFromHash(h common.Hash) common.Address {
	var a common.Address
	copy(a[:], h[12:])
	return a
}

// hashFromString packs a short string (length byte + payload, max 31 bytes).
func hashFromString(s string) common.Hash {
	var h common.Hash
	if len(s) > 31 {
		s = s[:31]
	}
	h[0] = byte(len(s))
	copy(h[1:], s)
	return h
}

func stringFromHash(h common.Hash) string {
	n := int(h[0])
	if n > 31 {
		n = 31
	}
	return string(h[1 : 1+n])
}

// ---- pool persistence ----

// getPool loads a pool through the cache. Returns nil when the pool does not
// exist (existence is keyed on TotalLiquidity > 0, pools are never destroyed).
func (m *Manager) getPool(db contract.StateDB, key PoolKey) *PoolState {
	id := key.ID()
	if p, ok := m.pools[id]; ok {
		return p
	}

	total := bigFromHash(db.GetState(m.address, poolFieldKey(id, fieldLiquidity)))
	if total.Sign() == 0 {
		return nil
	}

	p := &PoolState{
		Key:                key,
		ReserveA:           bigFromHash(db.GetState(m.address, poolFieldKey(id, fieldReserveA))),
		ReserveB:           bigFromHash(db.GetState(m.address, poolFieldKey(id, fieldReserveB))),
		TotalLiquidity:     total,
		BurnedLiquidity:    bigFromHash(db.GetState(m.address, poolFieldKey(id, fieldBurned))),
		TotalChangeA:       bigFromHash(db.GetState(m.address, poolFieldKey(id, fieldChangeA))),
		TotalChangeB:       bigFromHash(db.GetState(m.address, poolFieldKey(id, fieldChangeB))),
		Transactions:       uint64FromHash(db.GetState(m.address, poolFieldKey(id, fieldTransactions))),
		VolumeA:            bigFromHash(db.GetState(m.address, poolFieldKey(id, fieldVolumeA))),
		VolumeB:            bigFromHash(db.GetState(m.address, poolFieldKey(id, fieldVolumeB))),
		AccruedFeeA:        bigFromHash(db.GetState(m.address, poolFieldKey(id, fieldFeeA))),
		AccruedFeeB:        bigFromHash(db.GetState(m.address, poolFieldKey(id, fieldFeeB))),
		PriceAWindowSum:    bigFromHash(db.GetState(m.address, poolFieldKey(id, fieldTWAPSumA))),
		PriceBWindowSum:    bigFromHash(db.GetState(m.address, poolFieldKey(id, fieldTWAPSumB))),
		BlockTimestampLast: uint64FromHash(db.GetState(m.address, poolFieldKey(id, fieldTimestamp))),
		TWAPWindow:         uint64FromHash(db.GetState(m.address, poolFieldKey(id, fieldWindow))),
		LastActivity:       uint64FromHash(db.GetState(m.address, poolFieldKey(id, fieldActivity))),
	}
	m.pools[id] = p
	return p
}

// setPool writes the pool through the cache to storage.
func (m *Manager) setPool(db contract.StateDB, p *PoolState) {
	id := p.Key.ID()
	m.pools[id] = p

	db.SetState(m.address, poolFieldKey(id, fieldReserveA), hashFromBig(p.ReserveA))
	db.SetState(m.address, poolFieldKey(id, fieldReserveB), hashFromBig(p.ReserveB))
	db.SetState(m.address, poolFieldKey(id, fieldLiquidity), hashFromBig(p.TotalLiquidity))
	db.SetState(m.address, poolFieldKey(id, fieldBurned), hashFromBig(p.BurnedLiquidity))
	db.SetState(m.address, poolFieldKey(id, fieldChangeA), hashFromBig(p.TotalChangeA))
	db.SetState(m.address, poolFieldKey(id, fieldChangeB), hashFromBig(p.TotalChangeB))
	db.SetState(m.address, poolFieldKey(id, fieldTransactions), hashFromUint64(p.Transactions))
	db.SetState(m.address, poolFieldKey(id, fieldVolumeA), hashFromBig(p.VolumeA))
	db.SetState(m.address, poolFieldKey(id, fieldVolumeB), hashFromBig(p.VolumeB))
	db.SetState(m.address, poolFieldKey(id, fieldFeeA), hashFromBig(p.AccruedFeeA))
	db.SetState(m.address, poolFieldKey(id, fieldFeeB), hashFromBig(p.AccruedFeeB))
	db.SetState(m.address, poolFieldKey(id, fieldTWAPSumA), hashFromBig(p.PriceAWindowSum))
	db.SetState(m.address, poolFieldKey(id, fieldTWAPSumB), hashFromBig(p.PriceBWindowSum))
	db.SetState(m.address, poolFieldKey(id, fieldTimestamp), hashFromUint64(p.BlockTimestampLast))
	db.SetState(m.address, poolFieldKey(id, fieldWindow), hashFromUint64(p.TWAPWindow))
	db.SetState(m.address, poolFieldKey(id, fieldActivity), hashFromUint64(p.LastActivity))
}

// ---- sidecar ledgers ----

func ledgerID(poolID [32]byte, user common.Address) []byte {
	id := make([]byte, 0, 52)
	id = append(id, poolID[:]...)
	id = append(id, user[:]...)
	return id
}

// sharesOf returns the user's share balance (zero when absent).
func (m *Manager) sharesOf(db contract.StateDB, key PoolKey, user common.Address) *big.Int {
	lk := ledgerKey{pool: key.ID(), user: user}
	if s, ok := m.shares[lk]; ok {
		return s
	}
	s := bigFromHash(db.GetState(m.address, makeStorageKey(sharePrefix, ledgerID(lk.pool, user))))
	m.shares[lk] = s
	return s
}

func (m *Manager) setShares(db contract.StateDB, key PoolKey, user common.Address, amount *big.Int) {
	lk := ledgerKey{pool: key.ID(), user: user}
	m.shares[lk] = amount
	db.SetState(m.address, makeStorageKey(sharePrefix, ledgerID(lk.pool, user)), hashFromBig(amount))
}

// updateUserLiquidity applies a signed share delta to the user's balance.
func (m *Manager) updateUserLiquidity(db contract.StateDB, key PoolKey, user common.Address, delta *big.Int) error {
	next := new(big.Int).Add(m.sharesOf(db, key, user), delta)
	if next.Sign() < 0 {
		return fmt.Errorf("%w: share balance below zero for %s", ErrInsufficientLiquidity, user.Hex())
	}
	m.setShares(db, key, user, next)
	return nil
}

// changeOf returns the user's pending change balances (zeros when absent).
func (m *Manager) changeOf(db contract.StateDB, key PoolKey, user common.Address) *ChangeBalance {
	lk := ledgerKey{pool: key.ID(), user: user}
	if c, ok := m.change[lk]; ok {
		return c
	}
	c := &ChangeBalance{
		AmountA: bigFromHash(db.GetState(m.address, makeStorageKey(changeAPrefix, ledgerID(lk.pool, user)))),
		AmountB: bigFromHash(db.GetState(m.address, makeStorageKey(changeBPrefix, ledgerID(lk.pool, user)))),
	}
	m.change[lk] = c
	return c
}

func (m *Manager) setChange(db contract.StateDB, key PoolKey, user common.Address, c *ChangeBalance) {
	lk := ledgerKey{pool: key.ID(), user: user}
	m.change[lk] = c
	db.SetState(m.address, makeStorageKey(changeAPrefix, ledgerID(lk.pool, user)), hashFromBig(c.AmountA))
	db.SetState(m.address, makeStorageKey(changeBPrefix, ledgerID(lk.pool, user)), hashFromBig(c.AmountB))
}

// updateChange credits deltas to the user's change and the pool totals.
// The pool record is mutated but not persisted; the caller commits via setPool.
func (m *Manager) updateChange(db contract.StateDB, p *PoolState, user common.Address, deltaA, deltaB *big.Int) {
	c := m.changeOf(db, p.Key, user)
	next := &ChangeBalance{
		AmountA: new(big.Int).Add(c.AmountA, deltaA),
		AmountB: new(big.Int).Add(c.AmountB, deltaB),
	}
	m.setChange(db, p.Key, user, next)
	p.TotalChangeA = new(big.Int).Add(p.TotalChangeA, deltaA)
	p.TotalChangeB = new(big.Int).Add(p.TotalChangeB, deltaB)
}

// profitOf returns the user's last profit snapshot (zero value when absent).
func (m *Manager) profitOf(db contract.StateDB, key PoolKey, user common.Address) *ProfitSnapshot {
	lk := ledgerKey{pool: key.ID(), user: user}
	if s, ok := m.profit[lk]; ok {
		return s
	}
	raw := db.GetState(m.address, makeStorageKey(profitPrefix, ledgerID(lk.pool, user)))
	s := &ProfitSnapshot{
		USDValue:  new(big.Int).SetBytes(raw[:24]),
		Timestamp: uint64FromHash(raw),
	}
	m.profit[lk] = s
	return s
}

func (m *Manager) setProfit(db contract.StateDB, key PoolKey, user common.Address, s *ProfitSnapshot) {
	lk := ledgerKey{pool: key.ID(), user: user}
	// Saturate at the 24-byte slot width so cache and storage agree.
	if s.USDValue.BitLen() > 192 {
		s = &ProfitSnapshot{USDValue: new(big.Int).Set(maxProfitValue), Timestamp: s.Timestamp}
	}
	m.profit[lk] = s
	var raw common.Hash
	s.USDValue.FillBytes(raw[:24])
	binary.BigEndian.PutUint64(raw[24:], s.Timestamp)
	db.SetState(m.address, makeStorageKey(profitPrefix, ledgerID(lk.pool, user)), raw)
}

// recordProfit stores the caller's post-operation position value.
func (m *Manager) recordProfit(db contract.StateDB, ctx *contract.Context, key PoolKey) {
	usd := m.positionUSDValue(db, key, ctx.Caller)
	m.setProfit(db, key, ctx.Caller, &ProfitSnapshot{USDValue: usd, Timestamp: ctx.Timestamp})
}

// ---- registry persistence ----

// poolIdxID addresses one slot of the persisted pool list entry i.
func poolIdxID(i uint64, sub byte) []byte {
	id := make([]byte, 9)
	binary.BigEndian.PutUint64(id, i)
	id[8] = sub
	return id
}

// loadRegistry materializes the global state, deriving the token index and
// the lowest-fee HTR map from the persisted pool list.
func (m *Manager) loadRegistry(db contract.StateDB) *registry {
	if m.reg != nil {
		return m.reg
	}

	r := &registry{
		tokenIndex: make(map[contract.TokenID][]PoolKey),
		signed:     make(map[[32]byte]bool),
		signers:    make(map[common.Address]bool),
		htrPools:   make(map[contract.TokenID]PoolKey),
	}
	r.initialized = db.GetState(m.address, globalKey(globInit)) != (common.Hash{})
	if r.initialized {
		r.owner = addressFromHash(db.GetState(m.address, globalKey(globOwner)))
		r.paused = db.GetState(m.address, globalKey(globPaused)) != (common.Hash{})
		r.version = stringFromHash(db.GetState(m.address, globalKey(globVersion)))
		r.protocolFeePct = uint64FromHash(db.GetState(m.address, globalKey(globFeePct)))
		r.defaultTWAPWindow = uint64FromHash(db.GetState(m.address, globalKey(globWindow)))

		count := uint64FromHash(db.GetState(m.address, globalKey(globPoolCount)))
		for i := uint64(0); i < count; i++ {
			a, _ := contract.TokenIDFromBytes(db.GetState(m.address, makeStorageKey(poolIdxPrefix, poolIdxID(i, 0))).Bytes())
			b, _ := contract.TokenIDFromBytes(db.GetState(m.address, makeStorageKey(poolIdxPrefix, poolIdxID(i, 1))).Bytes())
			fee := uint64FromHash(db.GetState(m.address, makeStorageKey(poolIdxPrefix, poolIdxID(i, 2))))
			key := PoolKey{TokenA: a, TokenB: b, Fee: fee}
			r.poolKeys = append(r.poolKeys, key)
			m.indexPool(r, key)
			id := key.ID()
			if db.GetState(m.address, makeStorageKey(signedPrefix, id[:])) != (common.Hash{}) {
				r.signed[id] = true
			}
		}

		signerCount := uint64FromHash(db.GetState(m.address, globalKey(globSignerCnt)))
		for i := uint64(0); i < signerCount; i++ {
			addr := addressFromHash(db.GetState(m.address, makeStorageKey(signerPrefix, poolIdxID(i, 0))))
			if addr != (common.Address{}) {
				r.signers[addr] = true
			}
		}

		usdRaw := db.GetState(m.address, globalKey(globUSDPool))
		if usdRaw != (common.Hash{}) {
			a, _ := contract.TokenIDFromBytes(db.GetState(m.address, makeStorageKey(globUSDPool, []byte{0})).Bytes())
			b, _ := contract.TokenIDFromBytes(db.GetState(m.address, makeStorageKey(globUSDPool, []byte{1})).Bytes())
			fee := uint64FromHash(db.GetState(m.address, makeStorageKey(globUSDPool, []byte{2})))
			r.htrUSDPool = PoolKey{TokenA: a, TokenB: b, Fee: fee}
			r.htrUSDPoolSet = true
		}
	}

	m.reg = r
	return r
}

// indexPool maintains the derived token index and lowest-fee HTR map.
func (m *Manager) indexPool(r *registry, key PoolKey) {
	r.tokenIndex[key.TokenA] = append(r.tokenIndex[key.TokenA], key)
	r.tokenIndex[key.TokenB] = append(r.tokenIndex[key.TokenB], key)
	if key.Contains(contract.HTR) {
		other := key.Other(contract.HTR)
		if prev, ok := r.htrPools[other]; !ok || key.Fee < prev.Fee {
			r.htrPools[other] = key
		}
	}
}

// persistConfig writes the scalar registry fields.
func (m *Manager) persistConfig(db contract.StateDB, r *registry) {
	var init common.Hash
	if r.initialized {
		init[31] = 1
	}
	db.SetState(m.address, globalKey(globInit), init)
	db.SetState(m.address, globalKey(globOwner), hashFromAddress(r.owner))
	var paused common.Hash
	if r.paused {
		paused[31] = 1
	}
	db.SetState(m.address, globalKey(globPaused), paused)
	db.SetState(m.address, globalKey(globVersion), hashFromString(r.version))
	db.SetState(m.address, globalKey(globFeePct), hashFromUint64(r.protocolFeePct))
	db.SetState(m.address, globalKey(globWindow), hashFromUint64(r.defaultTWAPWindow))
}

// appendPool persists a new pool-list entry and updates the derived indexes.
func (m *Manager) appendPool(db contract.StateDB, r *registry, key PoolKey) {
	i := uint64(len(r.poolKeys))
	r.poolKeys = append(r.poolKeys, key)
	m.indexPool(r, key)

	var a, b common.Hash
	copy(a[:], key.TokenA.Bytes())
	copy(b[:], key.TokenB.Bytes())
	db.SetState(m.address, makeStorageKey(poolIdxPrefix, poolIdxID(i, 0)), a)
	db.SetState(m.address, makeStorageKey(poolIdxPrefix, poolIdxID(i, 1)), b)
	db.SetState(m.address, makeStorageKey(poolIdxPrefix, poolIdxID(i, 2)), hashFromUint64(key.Fee))
	db.SetState(m.address, globalKey(globPoolCount), hashFromUint64(i+1))
}

// persistSigners rewrites the signer list in address order so identical
// operation sequences produce identical storage on every node.
func (m *Manager) persistSigners(db contract.StateDB, r *registry) {
	addrs := make([]common.Address, 0, len(r.signers))
	for addr := range r.signers {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})
	for i, addr := range addrs {
		db.SetState(m.address, makeStorageKey(signerPrefix, poolIdxID(uint64(i), 0)), hashFromAddress(addr))
	}
	db.SetState(m.address, globalKey(globSignerCnt), hashFromUint64(uint64(len(addrs))))
}

// persistSigned writes one pool's routing flag.
func (m *Manager) persistSigned(db contract.StateDB, key PoolKey, signed bool) {
	id := key.ID()
	var v common.Hash
	if signed {
		v[31] = 1
	}
	db.SetState(m.address, makeStorageKey(signedPrefix, id[:]), v)
}

// persistUSDPool writes the HTR/USD reference pool designation.
func (m *Manager) persistUSDPool(db contract.StateDB, r *registry) {
	var flag common.Hash
	if r.htrUSDPoolSet {
		flag[31] = 1
		var a, b common.Hash
		copy(a[:], r.htrUSDPool.TokenA.Bytes())
		copy(b[:], r.htrUSDPool.TokenB.Bytes())
		db.SetState(m.address, makeStorageKey(globUSDPool, []byte{0}), a)
		db.SetState(m.address, makeStorageKey(globUSDPool, []byte{1}), b)
		db.SetState(m.address, makeStorageKey(globUSDPool, []byte{2}), hashFromUint64(r.htrUSDPool.Fee))
	}
	db.SetState(m.address, globalKey(globUSDPool), flag)
}

// ---- lifecycle ----

// Initialize sets the contract owner and defaults. Runs exactly once.
func (m *Manager) Initialize(db contract.StateDB, ctx *contract.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.loadRegistry(db)
	if r.initialized {
		return fmt.Errorf("%w: already initialized", ErrInvalidState)
	}
	r.initialized = true
	r.owner = ctx.Caller
	r.version = "1.0.0"
	r.protocolFeePct = DefaultProtocolFeePct
	r.defaultTWAPWindow = DefaultTWAPWindow
	m.persistConfig(db, r)

	if !db.Exist(m.address) {
		db.CreateAccount(m.address)
	}
	return nil
}

// requireReady gates user operations: the contract must be initialized and,
// while paused, only the owner may act.
func (m *Manager) requireReady(db contract.StateDB, ctx *contract.Context) (*registry, error) {
	r := m.loadRegistry(db)
	if !r.initialized {
		return nil, ErrNotInitialized
	}
	if r.paused && ctx.Caller != r.owner {
		return nil, fmt.Errorf("%w: contract is paused", ErrInvalidState)
	}
	return r, nil
}

// requirePool fetches an existing pool or fails.
func (m *Manager) requirePool(db contract.StateDB, key PoolKey) (*PoolState, error) {
	p := m.getPool(db, key)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, key)
	}
	return p, nil
}
