// Copyright (C) 2025, Dozer Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package swap

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/dozerfi/amm/contract"
)

// Contract adapts the Manager to the stateful-precompile surface: selector
// dispatch, input codecs and gas accounting. The engine itself never logs;
// administrative transitions are logged here.
type Contract struct {
	manager *Manager
	log     log.Logger
}

// NewContract builds the precompile around a fresh manager.
func NewContract(logger log.Logger) *Contract {
	return &Contract{
		manager: NewManager(ContractAddress),
		log:     logger,
	}
}

// Manager exposes the engine for hosts that call it directly.
func (c *Contract) Manager() *Manager { return c.manager }

// RequiredGas returns the charge for the given input.
func (c *Contract) RequiredGas(input []byte) uint64 {
	if len(input) < 4 {
		return GasView
	}
	switch binary.BigEndian.Uint32(input[:4]) {
	case SelectorInitialize:
		return GasInitialize
	case SelectorCreatePool:
		return GasPoolCreate
	case SelectorAddLiquidity, SelectorRemoveLiquidity,
		SelectorAddLiquiditySingle, SelectorRemoveLiquiditySingle:
		return GasLiquidity
	case SelectorSwapExactIn, SelectorSwapExactOut:
		return GasSwap
	case SelectorSwapExactInPath, SelectorSwapExactOutPath:
		return GasSwapPath
	case SelectorWithdrawCashback:
		return GasCashback
	case SelectorSetProtocolFee, SelectorSetTWAPWindow, SelectorAddSigner,
		SelectorRemoveSigner, SelectorSignPool, SelectorUnsignPool,
		SelectorSetHTRUSDPool, SelectorPause, SelectorUnpause,
		SelectorTransferOwnership, SelectorUpgradeContract:
		return GasAdmin
	case SelectorFindBestPath, SelectorFindBestPathReverse,
		SelectorTokenPriceInHTR, SelectorTokenPriceInUSD:
		return GasPathfind
	default:
		return GasView
	}
}

// Run dispatches one call.
func (c *Contract) Run(
	accessibleState contract.AccessibleState,
	caller common.Address,
	addr common.Address,
	input []byte,
	suppliedGas uint64,
	readOnly bool,
) ([]byte, uint64, error) {
	if len(input) < 4 {
		return nil, suppliedGas, fmt.Errorf("input too short")
	}
	selector := binary.BigEndian.Uint32(input[:4])
	data := input[4:]

	cost := c.RequiredGas(input)
	if suppliedGas < cost {
		return nil, 0, fmt.Errorf("out of gas")
	}
	remaining := suppliedGas - cost

	if selector < SelectorQuoteExactIn && readOnly {
		return nil, remaining, fmt.Errorf("cannot write in read-only mode")
	}

	db := accessibleState.GetStateDB()
	ret, err := c.dispatch(db, caller, selector, data)
	return ret, remaining, err
}

func (c *Contract) dispatch(db contract.StateDB, caller common.Address, selector uint32, data []byte) ([]byte, error) {
	switch selector {
	case SelectorInitialize:
		ctx, _, err := decodeContext(db, caller, data)
		if err != nil {
			return nil, err
		}
		if err := c.manager.Initialize(db, ctx); err != nil {
			return nil, err
		}
		c.log.Info("amm initialized", "owner", caller.Hex())
		return nil, nil

	case SelectorCreatePool:
		ctx, rest, err := decodeContext(db, caller, data)
		if err != nil {
			return nil, err
		}
		fee, _, err := decodeUint64(rest)
		if err != nil {
			return nil, err
		}
		key, err := c.manager.CreatePool(db, ctx, fee)
		if err != nil {
			return nil, err
		}
		return encodeString(key), nil

	case SelectorAddLiquidity, SelectorRemoveLiquidity:
		ctx, rest, err := decodeContext(db, caller, data)
		if err != nil {
			return nil, err
		}
		fee, _, err := decodeUint64(rest)
		if err != nil {
			return nil, err
		}
		var res *LiquidityResult
		if selector == SelectorAddLiquidity {
			res, err = c.manager.AddLiquidity(db, ctx, fee)
		} else {
			res, err = c.manager.RemoveLiquidity(db, ctx, fee)
		}
		if err != nil {
			return nil, err
		}
		return encodeWords(new(big.Int).Abs(res.ShareDelta), res.AmountA, res.AmountB, res.ChangeA, res.ChangeB), nil

	case SelectorAddLiquiditySingle:
		ctx, rest, err := decodeContext(db, caller, data)
		if err != nil {
			return nil, err
		}
		tokenOut, rest, err := decodeToken(rest)
		if err != nil {
			return nil, err
		}
		fee, _, err := decodeUint64(rest)
		if err != nil {
			return nil, err
		}
		q, err := c.manager.AddLiquiditySingleToken(db, ctx, tokenOut, fee)
		if err != nil {
			return nil, err
		}
		return encodeSingleSideQuote(q), nil

	case SelectorRemoveLiquiditySingle:
		ctx, rest, err := decodeContext(db, caller, data)
		if err != nil {
			return nil, err
		}
		poolKey, rest, err := decodeString(rest)
		if err != nil {
			return nil, err
		}
		pct, _, err := decodeUint64(rest)
		if err != nil {
			return nil, err
		}
		q, err := c.manager.RemoveLiquiditySingleToken(db, ctx, poolKey, pct)
		if err != nil {
			return nil, err
		}
		return encodeSingleSideQuote(q), nil

	case SelectorSwapExactIn, SelectorSwapExactOut:
		ctx, rest, err := decodeContext(db, caller, data)
		if err != nil {
			return nil, err
		}
		fee, rest, err := decodeUint64(rest)
		if err != nil {
			return nil, err
		}
		deadline, _, err := decodeUint64(rest)
		if err != nil {
			return nil, err
		}
		var res *SwapResult
		if selector == SelectorSwapExactIn {
			res, err = c.manager.SwapExactTokensForTokens(db, ctx, fee, deadline)
		} else {
			res, err = c.manager.SwapTokensForExactTokens(db, ctx, fee, deadline)
		}
		if err != nil {
			return nil, err
		}
		return encodeSwapResult(res), nil

	case SelectorSwapExactInPath, SelectorSwapExactOutPath:
		ctx, rest, err := decodeContext(db, caller, data)
		if err != nil {
			return nil, err
		}
		path, rest, err := decodeString(rest)
		if err != nil {
			return nil, err
		}
		deadline, _, err := decodeUint64(rest)
		if err != nil {
			return nil, err
		}
		var res *SwapResult
		if selector == SelectorSwapExactInPath {
			res, err = c.manager.SwapExactTokensForTokensThroughPath(db, ctx, path, deadline)
		} else {
			res, err = c.manager.SwapTokensForExactTokensThroughPath(db, ctx, path, deadline)
		}
		if err != nil {
			return nil, err
		}
		return encodeSwapResult(res), nil

	case SelectorWithdrawCashback:
		ctx, rest, err := decodeContext(db, caller, data)
		if err != nil {
			return nil, err
		}
		poolKey, _, err := decodeString(rest)
		if err != nil {
			return nil, err
		}
		paid, err := c.manager.WithdrawCashback(db, ctx, poolKey)
		if err != nil {
			return nil, err
		}
		return encodeWords(paid.AmountA, paid.AmountB), nil

	case SelectorSetProtocolFee:
		ctx, rest, err := decodeContext(db, caller, data)
		if err != nil {
			return nil, err
		}
		pct, _, err := decodeUint64(rest)
		if err != nil {
			return nil, err
		}
		if err := c.manager.SetProtocolFee(db, ctx, pct); err != nil {
			return nil, err
		}
		c.log.Info("protocol fee updated", "pct", pct, "by", caller.Hex())
		return nil, nil

	case SelectorSetTWAPWindow:
		ctx, rest, err := decodeContext(db, caller, data)
		if err != nil {
			return nil, err
		}
		poolKey, rest, err := decodeString(rest)
		if err != nil {
			return nil, err
		}
		window, _, err := decodeUint64(rest)
		if err != nil {
			return nil, err
		}
		if err := c.manager.SetPoolTWAPWindow(db, ctx, poolKey, window); err != nil {
			return nil, err
		}
		c.log.Info("twap window updated", "pool", poolKey, "window", window)
		return nil, nil

	case SelectorAddSigner, SelectorRemoveSigner, SelectorTransferOwnership:
		ctx, rest, err := decodeContext(db, caller, data)
		if err != nil {
			return nil, err
		}
		target, _, err := decodeAddress(rest)
		if err != nil {
			return nil, err
		}
		switch selector {
		case SelectorAddSigner:
			err = c.manager.AddSigner(db, ctx, target)
		case SelectorRemoveSigner:
			err = c.manager.RemoveSigner(db, ctx, target)
		default:
			err = c.manager.TransferOwnership(db, ctx, target)
			if err == nil {
				c.log.Info("ownership transferred", "to", target.Hex())
			}
		}
		return nil, err

	case SelectorSignPool, SelectorUnsignPool, SelectorSetHTRUSDPool:
		ctx, rest, err := decodeContext(db, caller, data)
		if err != nil {
			return nil, err
		}
		poolKey, _, err := decodeString(rest)
		if err != nil {
			return nil, err
		}
		switch selector {
		case SelectorSignPool:
			err = c.manager.SignPool(db, ctx, poolKey)
		case SelectorUnsignPool:
			err = c.manager.UnsignPool(db, ctx, poolKey)
		default:
			err = c.manager.SetHTRUSDPool(db, ctx, poolKey)
		}
		return nil, err

	case SelectorPause, SelectorUnpause:
		ctx, _, err := decodeContext(db, caller, data)
		if err != nil {
			return nil, err
		}
		if selector == SelectorPause {
			err = c.manager.Pause(db, ctx)
		} else {
			err = c.manager.Unpause(db, ctx)
		}
		if err == nil {
			c.log.Info("pause state changed", "paused", selector == SelectorPause, "by", caller.Hex())
		}
		return nil, err

	case SelectorUpgradeContract:
		ctx, rest, err := decodeContext(db, caller, data)
		if err != nil {
			return nil, err
		}
		version, _, err := decodeString(rest)
		if err != nil {
			return nil, err
		}
		if err := c.manager.UpgradeContract(db, ctx, version); err != nil {
			return nil, err
		}
		c.log.Info("contract upgraded", "version", version)
		return nil, nil

	case SelectorQuoteExactIn, SelectorQuoteExactOut:
		tokenIn, rest, err := decodeToken(data)
		if err != nil {
			return nil, err
		}
		tokenOut, rest, err := decodeToken(rest)
		if err != nil {
			return nil, err
		}
		fee, rest, err := decodeUint64(rest)
		if err != nil {
			return nil, err
		}
		amount, _, err := decodeAmount(rest)
		if err != nil {
			return nil, err
		}
		var out *big.Int
		if selector == SelectorQuoteExactIn {
			out, err = c.manager.QuoteExactIn(db, tokenIn, tokenOut, fee, amount)
		} else {
			out, err = c.manager.QuoteExactOut(db, tokenIn, tokenOut, fee, amount)
		}
		if err != nil {
			return nil, err
		}
		return encodeWords(out), nil

	case SelectorGetReserves:
		poolKey, _, err := decodeString(data)
		if err != nil {
			return nil, err
		}
		ra, rb, err := c.manager.GetReserves(db, poolKey)
		if err != nil {
			return nil, err
		}
		return encodeWords(ra, rb), nil

	case SelectorTWAPPrice:
		poolKey, rest, err := decodeString(data)
		if err != nil {
			return nil, err
		}
		token, _, err := decodeToken(rest)
		if err != nil {
			return nil, err
		}
		price, err := c.manager.TWAPPrice(db, poolKey, token, db.GetBlockTimestamp())
		if err != nil {
			return nil, err
		}
		return encodeWords(price), nil

	case SelectorFindBestPath, SelectorFindBestPathReverse:
		tokenIn, rest, err := decodeToken(data)
		if err != nil {
			return nil, err
		}
		tokenOut, rest, err := decodeToken(rest)
		if err != nil {
			return nil, err
		}
		amount, rest, err := decodeAmount(rest)
		if err != nil {
			return nil, err
		}
		hops, _, err := decodeUint64(rest)
		if err != nil {
			return nil, err
		}
		var route routeResult
		if selector == SelectorFindBestPath {
			r, err := c.manager.FindBestPath(db, tokenIn, tokenOut, amount, int(hops))
			if err != nil {
				return nil, err
			}
			route = routeResult{pools: r.Pools, amountIn: r.AmountIn, amountOut: r.AmountOut, impact: r.PriceImpactBp}
		} else {
			r, err := c.manager.FindBestPathReverse(db, tokenIn, tokenOut, amount, int(hops))
			if err != nil {
				return nil, err
			}
			route = routeResult{pools: r.Pools, amountIn: r.AmountIn, amountOut: r.AmountOut, impact: r.PriceImpactBp}
		}
		return encodeRoute(route), nil

	case SelectorTokenPriceInHTR, SelectorTokenPriceInUSD:
		token, _, err := decodeToken(data)
		if err != nil {
			return nil, err
		}
		var price *big.Int
		if selector == SelectorTokenPriceInHTR {
			price = c.manager.TokenPriceInHTR(db, token)
		} else {
			price = c.manager.TokenPriceInUSD(db, token)
		}
		return encodeWords(price), nil

	case SelectorFrontQuoteAddSingle:
		tokenIn, rest, err := decodeToken(data)
		if err != nil {
			return nil, err
		}
		tokenOut, rest, err := decodeToken(rest)
		if err != nil {
			return nil, err
		}
		fee, rest, err := decodeUint64(rest)
		if err != nil {
			return nil, err
		}
		amount, _, err := decodeAmount(rest)
		if err != nil {
			return nil, err
		}
		q, err := c.manager.FrontQuoteAddLiquiditySingleToken(db, tokenIn, tokenOut, fee, amount)
		if err != nil {
			return nil, err
		}
		return encodeSingleSideQuote(q), nil

	case SelectorFrontQuoteRemoveSingle:
		user, rest, err := decodeAddress(data)
		if err != nil {
			return nil, err
		}
		poolKey, rest, err := decodeString(rest)
		if err != nil {
			return nil, err
		}
		tokenOut, rest, err := decodeToken(rest)
		if err != nil {
			return nil, err
		}
		pct, _, err := decodeUint64(rest)
		if err != nil {
			return nil, err
		}
		q, err := c.manager.FrontQuoteRemoveLiquiditySingleToken(db, user, poolKey, tokenOut, pct)
		if err != nil {
			return nil, err
		}
		return encodeSingleSideQuote(q), nil

	case SelectorPoolInfo:
		poolKey, _, err := decodeString(data)
		if err != nil {
			return nil, err
		}
		info, err := c.manager.GetPoolInfo(db, poolKey, db.GetBlockTimestamp())
		if err != nil {
			return nil, err
		}
		return encodePoolInfo(info), nil

	case SelectorUserInfo:
		user, rest, err := decodeAddress(data)
		if err != nil {
			return nil, err
		}
		poolKey, _, err := decodeString(rest)
		if err != nil {
			return nil, err
		}
		info, err := c.manager.GetUserInfo(db, poolKey, user)
		if err != nil {
			return nil, err
		}
		return encodeUserInfo(info), nil

	default:
		return nil, fmt.Errorf("unknown method selector: %x", selector)
	}
}

type routeResult struct {
	pools     []string
	amountIn  *big.Int
	amountOut *big.Int
	impact    uint32
}

// ---- input codecs ----

// decodeContext reads the action bundle: count byte, then per action one
// kind byte, a 32-byte token and a 32-byte amount. The block timestamp comes
// from the host state.
func decodeContext(db contract.StateDB, caller common.Address, data []byte) (*contract.Context, []byte, error) {
	if len(data) < 1 {
		return nil, nil, fmt.Errorf("%w: missing action count", contract.ErrActionShape)
	}
	n := int(data[0])
	data = data[1:]
	const actionSize = 1 + 32 + 32
	if len(data) < n*actionSize {
		return nil, nil, fmt.Errorf("%w: truncated action bundle", contract.ErrActionShape)
	}

	actions := make([]contract.Action, n)
	for i := 0; i < n; i++ {
		chunk := data[i*actionSize : (i+1)*actionSize]
		kind := contract.ActionKind(chunk[0])
		if kind != contract.ActionDeposit && kind != contract.ActionWithdrawal {
			return nil, nil, fmt.Errorf("%w: unknown action kind %d", contract.ErrActionShape, chunk[0])
		}
		token, err := contract.TokenIDFromBytes(chunk[1:33])
		if err != nil {
			return nil, nil, err
		}
		actions[i] = contract.Action{
			Kind:   kind,
			Token:  token,
			Amount: new(big.Int).SetBytes(chunk[33:65]),
		}
	}

	ctx := &contract.Context{
		Caller:    caller,
		Timestamp: db.GetBlockTimestamp(),
		Actions:   actions,
	}
	return ctx, data[n*actionSize:], nil
}

func decodeUint64(data []byte) (uint64, []byte, error) {
	if len(data) < 8 {
		return 0, nil, fmt.Errorf("input too short for uint64")
	}
	return binary.BigEndian.Uint64(data[:8]), data[8:], nil
}

func decodeAmount(data []byte) (*big.Int, []byte, error) {
	if len(data) < 32 {
		return nil, nil, fmt.Errorf("input too short for amount")
	}
	return new(big.Int).SetBytes(data[:32]), data[32:], nil
}

func decodeToken(data []byte) (contract.TokenID, []byte, error) {
	if len(data) < 32 {
		return contract.TokenID{}, nil, fmt.Errorf("input too short for token")
	}
	token, err := contract.TokenIDFromBytes(data[:32])
	return token, data[32:], err
}

func decodeAddress(data []byte) (common.Address, []byte, error) {
	if len(data) < 20 {
		return common.Address{}, nil, fmt.Errorf("input too short for address")
	}
	return common.BytesToAddress(data[:20]), data[20:], nil
}

func decodeString(data []byte) (string, []byte, error) {
	if len(data) < 2 {
		return "", nil, fmt.Errorf("input too short for string length")
	}
	n := int(binary.BigEndian.Uint16(data[:2]))
	data = data[2:]
	if len(data) < n {
		return "", nil, fmt.Errorf("input too short for string body")
	}
	return string(data[:n]), data[n:], nil
}

// ---- output codecs ----

// encodeWords packs each value into a 32-byte big-endian word.
func encodeWords(values ...*big.Int) []byte {
	out := make([]byte, 32*len(values))
	for i, v := range values {
		v.FillBytes(out[i*32 : (i+1)*32])
	}
	return out
}

func encodeString(s string) []byte {
	out := make([]byte, 2+len(s))
	binary.BigEndian.PutUint16(out, uint16(len(s)))
	copy(out[2:], s)
	return out
}

func encodeSwapResult(r *SwapResult) []byte {
	out := encodeWords(r.AmountIn, r.AmountOut, r.Change)
	return append(out, r.ChangeToken.Bytes()...)
}

func encodeSingleSideQuote(q *SingleSideQuote) []byte {
	abs := new(big.Int).Abs(q.ShareDelta)
	out := encodeWords(q.SwapIn, q.SwapOut, q.FeeAmount, q.FeeShares, abs,
		q.AmountA, q.AmountB, q.ChangeA, q.ChangeB, q.AmountOut)
	var impact [4]byte
	binary.BigEndian.PutUint32(impact[:], q.PriceImpactBp)
	return append(out, impact[:]...)
}

// zeroIfNil lets encoders treat the zero-value info structs uniformly.
func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func encodePoolInfo(p *PoolInfo) []byte {
	out := encodeWords(
		zeroIfNil(p.ReserveA), zeroIfNil(p.ReserveB), zeroIfNil(p.TotalLiquidity),
		zeroIfNil(p.VolumeA), zeroIfNil(p.VolumeB),
		zeroIfNil(p.AccruedFeeA), zeroIfNil(p.AccruedFeeB),
		zeroIfNil(p.TWAPPriceA), zeroIfNil(p.TWAPPriceB),
	)
	out = append(out, p.TokenA.Bytes()...)
	out = append(out, p.TokenB.Bytes()...)
	var tail [41]byte
	binary.BigEndian.PutUint64(tail[0:8], p.Fee)
	binary.BigEndian.PutUint64(tail[8:16], p.Transactions)
	binary.BigEndian.PutUint64(tail[16:24], p.TWAPWindow)
	binary.BigEndian.PutUint64(tail[24:32], p.LastActivity)
	binary.BigEndian.PutUint64(tail[32:40], p.BlockTimestampLast)
	if p.Signed {
		tail[40] = 1
	}
	out = append(out, tail[:]...)
	return append(out, encodeString(p.Key)...)
}

func encodeUserInfo(u *UserInfo) []byte {
	out := encodeWords(
		zeroIfNil(u.Shares), zeroIfNil(u.MaxWithdrawA), zeroIfNil(u.MaxWithdrawB),
		zeroIfNil(u.ChangeA), zeroIfNil(u.ChangeB), zeroIfNil(u.USDValue),
	)
	var tail [8]byte
	binary.BigEndian.PutUint64(tail[:], u.LastAction)
	return append(out, tail[:]...)
}

func encodeRoute(r routeResult) []byte {
	path := ""
	for i, p := range r.pools {
		if i > 0 {
			path += ","
		}
		path += p
	}
	out := encodeWords(r.amountIn, r.amountOut)
	var impact [4]byte
	binary.BigEndian.PutUint32(impact[:], r.impact)
	out = append(out, impact[:]...)
	return append(out, encodeString(path)...)
}
