// Copyright (C) 2025, Dozer Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package contract

import (
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"
)

// ActionKind tags the direction of a declared token movement. The engine
// matches exhaustively on the tag; there is no other variant.
type ActionKind uint8

const (
	ActionDeposit ActionKind = iota
	ActionWithdrawal
)

func (k ActionKind) String() string {
	switch k {
	case ActionDeposit:
		return "deposit"
	case ActionWithdrawal:
		return "withdrawal"
	default:
		return "unknown"
	}
}

// Action is one declared token movement in a call. The engine never observes
// transfers directly; it trusts the host to debit declared deposits from and
// credit declared withdrawals to the caller.
type Action struct {
	Kind   ActionKind
	Token  TokenID
	Amount *big.Int
}

// Context carries everything the host supplies for a single public operation.
type Context struct {
	Caller    common.Address
	Timestamp uint64
	Actions   []Action
}

var ErrActionShape = errors.New("invalid action bundle")

// DepositOf returns the single deposit action for token, if present.
func (c *Context) DepositOf(token TokenID) (Action, bool) {
	return c.actionOf(ActionDeposit, token)
}

// WithdrawalOf returns the single withdrawal action for token, if present.
func (c *Context) WithdrawalOf(token TokenID) (Action, bool) {
	return c.actionOf(ActionWithdrawal, token)
}

func (c *Context) actionOf(kind ActionKind, token TokenID) (Action, bool) {
	for _, a := range c.Actions {
		if a.Kind == kind && a.Token == token {
			return a, true
		}
	}
	return Action{}, false
}

// Deposits returns all deposit actions in bundle order.
func (c *Context) Deposits() []Action {
	return c.filter(ActionDeposit)
}

// Withdrawals returns all withdrawal actions in bundle order.
func (c *Context) Withdrawals() []Action {
	return c.filter(ActionWithdrawal)
}

func (c *Context) filter(kind ActionKind) []Action {
	var out []Action
	for _, a := range c.Actions {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}
