// Copyright (C) 2025, Dozer Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"container/heap"
	"math/big"

	"github.com/dozerfi/amm/contract"
	"github.com/dozerfi/amm/curve"
)

// Route is a discovered path through the pool graph. Amounts holds the
// output of every hop in execution order; for reverse routes AmountIn is the
// minimal required input and AmountOut the requested output.
type Route struct {
	Pools         []string
	Amounts       []*big.Int
	AmountIn      *big.Int
	AmountOut     *big.Int
	PriceImpactBp uint32
}

// routeNode is an entry in the search frontier.
type routeNode struct {
	token  contract.TokenID
	amount *big.Int
	path   []Edge
	index  int
}

// maxHeap pops the node with the largest amount first (forward search).
type maxHeap []*routeNode

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].amount.Cmp(h[j].amount) > 0 }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *maxHeap) Push(x interface{}) { n := *h; x.(*routeNode).index = len(n); *h = append(n, x.(*routeNode)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// minHeap pops the node with the smallest amount first (reverse search).
type minHeap []*routeNode

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].amount.Cmp(h[j].amount) < 0 }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *minHeap) Push(x interface{}) { n := *h; x.(*routeNode).index = len(n); *h = append(n, x.(*routeNode)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// FindBestRoute searches the forward graph for the route that maximizes the
// output of amountIn tokenIn. Each relaxation recomputes the hop output at
// the accumulated amount rather than reusing the reference simulation.
func (g *Graph) FindBestRoute(tokenIn, tokenOut contract.TokenID, amountIn *big.Int, maxHops int) (*Route, error) {
	if maxHops < 1 || maxHops > MaxHops {
		return nil, ErrInvalidHops
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, curve.ErrInvalidAmount
	}

	pq := make(maxHeap, 0)
	heap.Init(&pq)
	heap.Push(&pq, &routeNode{token: tokenIn, amount: new(big.Int).Set(amountIn)})

	best := make(map[contract.TokenID]*big.Int)
	var winner *routeNode

	for pq.Len() > 0 {
		current := heap.Pop(&pq).(*routeNode)

		if current.token == tokenOut {
			if winner == nil || current.amount.Cmp(winner.amount) > 0 {
				winner = current
			}
			continue
		}
		if prev, ok := best[current.token]; ok && prev.Cmp(current.amount) >= 0 {
			continue
		}
		best[current.token] = current.amount
		if len(current.path) >= maxHops {
			continue
		}

		for _, edge := range g.adjacency[current.token] {
			if revisits(current.path, edge.To, tokenOut) {
				continue
			}
			out, err := edge.amountOut(current.amount)
			if err != nil || out.Sign() <= 0 {
				continue
			}
			heap.Push(&pq, &routeNode{
				token:  edge.To,
				amount: out,
				path:   extend(current.path, edge),
			})
		}
	}

	if winner == nil {
		return nil, ErrNoRouteFound
	}
	return g.assemble(winner, amountIn, winner.amount, true)
}

// FindBestRouteReverse searches the reverse graph for the route that
// minimizes the input required to obtain amountOut tokenOut. The search runs
// from the target token backwards; the assembled route is in execution order.
func (g *Graph) FindBestRouteReverse(tokenIn, tokenOut contract.TokenID, amountOut *big.Int, maxHops int) (*Route, error) {
	if maxHops < 1 || maxHops > MaxHops {
		return nil, ErrInvalidHops
	}
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, curve.ErrInvalidAmount
	}

	pq := make(minHeap, 0)
	heap.Init(&pq)
	heap.Push(&pq, &routeNode{token: tokenOut, amount: new(big.Int).Set(amountOut)})

	best := make(map[contract.TokenID]*big.Int)
	var winner *routeNode

	for pq.Len() > 0 {
		current := heap.Pop(&pq).(*routeNode)

		if current.token == tokenIn {
			if winner == nil || current.amount.Cmp(winner.amount) < 0 {
				winner = current
			}
			continue
		}
		if prev, ok := best[current.token]; ok && prev.Cmp(current.amount) <= 0 {
			continue
		}
		best[current.token] = current.amount
		if len(current.path) >= maxHops {
			continue
		}

		// Walking backwards: relax edges that terminate at current.token.
		for _, edge := range g.adjacency[current.token] {
			if revisits(current.path, edge.From, tokenIn) {
				continue
			}
			in, err := edge.amountIn(current.amount)
			if err != nil || in.Sign() <= 0 {
				continue
			}
			heap.Push(&pq, &routeNode{
				token:  edge.From,
				amount: in,
				path:   extend(current.path, edge),
			})
		}
	}

	if winner == nil {
		return nil, ErrNoRouteFound
	}
	return g.assemble(winner, winner.amount, amountOut, false)
}

// assemble converts a finished search node into a Route. Reverse paths were
// collected back-to-front and are flipped into execution order.
func (g *Graph) assemble(node *routeNode, amountIn, amountOut *big.Int, forward bool) (*Route, error) {
	path := node.path
	if !forward {
		path = make([]Edge, len(node.path))
		for i, e := range node.path {
			path[len(node.path)-1-i] = e
		}
	}

	r := &Route{
		Pools:     make([]string, len(path)),
		Amounts:   make([]*big.Int, len(path)),
		AmountIn:  new(big.Int).Set(amountIn),
		AmountOut: new(big.Int).Set(amountOut),
	}

	// Recompute per-hop amounts in execution order so callers can thread
	// them without slack.
	amount := new(big.Int).Set(amountIn)
	for i := range path {
		out, err := path[i].amountOut(amount)
		if err != nil {
			return nil, err
		}
		r.Pools[i] = path[i].PoolKey
		r.Amounts[i] = out
		amount = out
	}
	if forward {
		r.AmountOut.Set(amount)
	}

	r.PriceImpactBp = PriceImpact(path, r.AmountIn, r.AmountOut)
	return r, nil
}

// revisits reports whether token already appears in the path. The final
// destination is exempt so two-token cycles cannot form mid-route.
func revisits(path []Edge, token, destination contract.TokenID) bool {
	if token == destination {
		return false
	}
	for _, e := range path {
		if e.From == token || e.To == token {
			return true
		}
	}
	return false
}

func extend(path []Edge, e Edge) []Edge {
	next := make([]Edge, len(path)+1)
	copy(next, path)
	next[len(path)] = e
	return next
}

// PriceImpact returns the basis-point difference between the fee-less
// theoretical output and the actual output, clamped to [0, 10000]. For a
// single hop the theoretical output is the linear quote; for multi-hop
// routes it chains the spot-price ratios at full precision.
func PriceImpact(path []Edge, amountIn, amountOut *big.Int) uint32 {
	if len(path) == 0 || amountIn.Sign() <= 0 {
		return 0
	}

	// theo = amountIn * prod(reserveOut_i) / prod(reserveIn_i), dividing
	// once at the end so intermediate rounding cannot accumulate.
	num := new(big.Int).Set(amountIn)
	den := big.NewInt(1)
	for i := range path {
		num.Mul(num, path[i].ReserveOut)
		den.Mul(den, path[i].ReserveIn)
	}
	theo := num.Div(num, den)
	if theo.Sign() <= 0 {
		return 0
	}
	if amountOut.Cmp(theo) >= 0 {
		return 0
	}

	impact := new(big.Int).Sub(theo, amountOut)
	impact.Mul(impact, big.NewInt(10000))
	impact.Div(impact, theo)
	if !impact.IsUint64() || impact.Uint64() > 10000 {
		return 10000
	}
	return uint32(impact.Uint64())
}
