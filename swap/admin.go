// Copyright (C) 2025, Dozer Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package swap

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/dozerfi/amm/contract"
)

// requireOwner gates administrative mutators.
func (m *Manager) requireOwner(db contract.StateDB, ctx *contract.Context) (*registry, error) {
	r := m.loadRegistry(db)
	if !r.initialized {
		return nil, ErrNotInitialized
	}
	if ctx.Caller != r.owner {
		return nil, fmt.Errorf("%w: caller %s is not the owner", ErrUnauthorized, ctx.Caller.Hex())
	}
	return r, nil
}

// requireSigner gates pool signing. The owner is always a signer.
func (m *Manager) requireSigner(db contract.StateDB, ctx *contract.Context) (*registry, error) {
	r := m.loadRegistry(db)
	if !r.initialized {
		return nil, ErrNotInitialized
	}
	if ctx.Caller != r.owner && !r.signers[ctx.Caller] {
		return nil, fmt.Errorf("%w: caller %s is not an authorized signer", ErrUnauthorized, ctx.Caller.Hex())
	}
	return r, nil
}

// SetProtocolFee changes the percentage of the LP fee minted as owner shares.
func (m *Manager) SetProtocolFee(db contract.StateDB, ctx *contract.Context, pct uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.requireOwner(db, ctx)
	if err != nil {
		return err
	}
	if pct > MaxProtocolFeePct {
		return fmt.Errorf("%w: protocol fee %d exceeds %d", ErrInvalidFee, pct, MaxProtocolFeePct)
	}
	r.protocolFeePct = pct
	m.persistConfig(db, r)
	return nil
}

// SetPoolTWAPWindow changes one pool's oracle window. The window sums are
// reseeded from the current spot so the average restarts cleanly.
func (m *Manager) SetPoolTWAPWindow(db contract.StateDB, ctx *contract.Context, poolKey string, window uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.requireOwner(db, ctx)
	if err != nil {
		return err
	}
	if window == 0 {
		return fmt.Errorf("%w: zero window", ErrInvalidAction)
	}
	key, err := ParsePoolKey(poolKey)
	if err != nil {
		return err
	}
	p, err := m.requirePool(db, key)
	if err != nil {
		return err
	}

	p.TWAPWindow = window
	seedTWAP(p, ctx.Timestamp)
	m.setPool(db, p)
	return nil
}

// AddSigner authorizes an address to sign pools for routing.
func (m *Manager) AddSigner(db contract.StateDB, ctx *contract.Context, signer common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.requireOwner(db, ctx)
	if err != nil {
		return err
	}
	if signer == (common.Address{}) {
		return fmt.Errorf("%w: zero signer address", ErrInvalidAction)
	}
	r.signers[signer] = true
	m.persistSigners(db, r)
	return nil
}

// RemoveSigner revokes a signer.
func (m *Manager) RemoveSigner(db contract.StateDB, ctx *contract.Context, signer common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.requireOwner(db, ctx)
	if err != nil {
		return err
	}
	if !r.signers[signer] {
		return fmt.Errorf("%w: %s is not a signer", ErrInvalidAction, signer.Hex())
	}
	delete(r.signers, signer)
	m.persistSigners(db, r)
	return nil
}

// SignPool marks a pool routable.
func (m *Manager) SignPool(db contract.StateDB, ctx *contract.Context, poolKey string) error {
	return m.setPoolSigned(db, ctx, poolKey, true)
}

// UnsignPool removes a pool from the routing set.
func (m *Manager) UnsignPool(db contract.StateDB, ctx *contract.Context, poolKey string) error {
	return m.setPoolSigned(db, ctx, poolKey, false)
}

func (m *Manager) setPoolSigned(db contract.StateDB, ctx *contract.Context, poolKey string, signed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.requireSigner(db, ctx)
	if err != nil {
		return err
	}
	key, err := ParsePoolKey(poolKey)
	if err != nil {
		return err
	}
	if _, err := m.requirePool(db, key); err != nil {
		return err
	}

	id := key.ID()
	if signed {
		r.signed[id] = true
	} else {
		delete(r.signed, id)
	}
	m.persistSigned(db, key, signed)
	return nil
}

// SetHTRUSDPool designates the reference pool that prices HTR in the USD
// token. The pool must exist and carry the native token.
func (m *Manager) SetHTRUSDPool(db contract.StateDB, ctx *contract.Context, poolKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.requireOwner(db, ctx)
	if err != nil {
		return err
	}
	key, err := ParsePoolKey(poolKey)
	if err != nil {
		return err
	}
	if !key.Contains(contract.HTR) {
		return fmt.Errorf("%w: pool %s has no native side", ErrInvalidTokens, poolKey)
	}
	if _, err := m.requirePool(db, key); err != nil {
		return err
	}

	r.htrUSDPool = key
	r.htrUSDPoolSet = true
	m.persistUSDPool(db, r)
	return nil
}

// Pause blocks all user operations. The owner can still act.
func (m *Manager) Pause(db contract.StateDB, ctx *contract.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.requireOwner(db, ctx)
	if err != nil {
		return err
	}
	r.paused = true
	m.persistConfig(db, r)
	return nil
}

// Unpause resumes user operations.
func (m *Manager) Unpause(db contract.StateDB, ctx *contract.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.requireOwner(db, ctx)
	if err != nil {
		return err
	}
	r.paused = false
	m.persistConfig(db, r)
	return nil
}

// TransferOwnership hands the contract to a new owner.
func (m *Manager) TransferOwnership(db contract.StateDB, ctx *contract.Context, newOwner common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.requireOwner(db, ctx)
	if err != nil {
		return err
	}
	if newOwner == (common.Address{}) {
		return fmt.Errorf("%w: zero owner address", ErrInvalidAction)
	}
	r.owner = newOwner
	m.persistConfig(db, r)
	return nil
}

// parseVersion splits a "major.minor.patch" string.
func parseVersion(v string) ([3]uint64, error) {
	var out [3]uint64
	parts := strings.Split(v, ".")
	if len(parts) != 3 {
		return out, fmt.Errorf("%w: %q is not major.minor.patch", ErrInvalidVersion, v)
	}
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return out, fmt.Errorf("%w: %q", ErrInvalidVersion, v)
		}
		out[i] = n
	}
	return out, nil
}

// compareVersions returns -1, 0 or 1.
func compareVersions(a, b [3]uint64) int {
	for i := 0; i < 3; i++ {
		if a[i] < b[i] {
			return -1
		}
		if a[i] > b[i] {
			return 1
		}
	}
	return 0
}

// UpgradeContract records a new contract version. Only strictly higher
// semantic versions are accepted.
func (m *Manager) UpgradeContract(db contract.StateDB, ctx *contract.Context, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.requireOwner(db, ctx)
	if err != nil {
		return err
	}
	next, err := parseVersion(version)
	if err != nil {
		return err
	}
	current, err := parseVersion(r.version)
	if err != nil {
		return err
	}
	if compareVersions(next, current) <= 0 {
		return fmt.Errorf("%w: %s does not supersede %s", ErrInvalidVersion, version, r.version)
	}
	r.version = version
	m.persistConfig(db, r)
	return nil
}

// WithdrawCashback pays out the caller's pending change in one pool and
// zeroes the ledger entry. The native side moves through account balances;
// custom-token sides are credited by the host against the returned amounts.
func (m *Manager) WithdrawCashback(db contract.StateDB, ctx *contract.Context, poolKey string) (*ChangeBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.requireReady(db, ctx)
	if err != nil {
		return nil, err
	}
	key, err := ParsePoolKey(poolKey)
	if err != nil {
		return nil, err
	}
	p, err := m.requirePool(db, key)
	if err != nil {
		return nil, err
	}

	c := m.changeOf(db, key, ctx.Caller)
	if c.AmountA.Sign() == 0 && c.AmountB.Sign() == 0 {
		return nil, fmt.Errorf("%w: no pending change in %s", ErrInvalidAction, poolKey)
	}
	paid := &ChangeBalance{AmountA: c.AmountA, AmountB: c.AmountB}

	m.updateChange(db, p, ctx.Caller,
		new(big.Int).Neg(c.AmountA), new(big.Int).Neg(c.AmountB))

	if key.TokenA == contract.HTR && paid.AmountA.Sign() > 0 {
		if amount, overflow := uint256.FromBig(paid.AmountA); !overflow {
			db.SubBalance(m.address, amount)
			db.AddBalance(ctx.Caller, amount)
		}
	}

	p.LastActivity = ctx.Timestamp
	m.setPool(db, p)
	return paid, nil
}
