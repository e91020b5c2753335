// Copyright (C) 2025, Dozer Labs. All rights reserved.
// See the file LICENSE for licensing terms.

// Package router builds a directed token graph over the signed pool set and
// finds optimal swap routes with a hop-capped Dijkstra search: forward to
// maximize output for a given input, reverse to minimize input for a desired
// output.
package router

import (
	"errors"
	"math/big"

	"github.com/dozerfi/amm/contract"
	"github.com/dozerfi/amm/curve"
)

var (
	ErrNoRouteFound = errors.New("no route found")
	ErrInvalidHops  = errors.New("max hops must be between 1 and 3")
)

const (
	// MaxPoolsToIterate bounds graph construction.
	MaxPoolsToIterate = 1000

	// MaxHops is the hop cap for any route.
	MaxHops = 3
)

// PoolSnapshot is the read-only pool view the engine hands to the router.
type PoolSnapshot struct {
	Key      string
	TokenA   contract.TokenID
	TokenB   contract.TokenID
	ReserveA *big.Int
	ReserveB *big.Int
	FeeNum   uint64
	FeeDen   uint64
}

// Edge is one direction of one pool.
type Edge struct {
	PoolKey    string
	From, To   contract.TokenID
	ReserveIn  *big.Int
	ReserveOut *big.Int
	FeeNum     uint64
	FeeDen     uint64
}

// amountOut simulates the edge at the given input.
func (e *Edge) amountOut(amountIn *big.Int) (*big.Int, error) {
	return curve.GetAmountOut(amountIn, e.ReserveIn, e.ReserveOut, e.FeeNum, e.FeeDen)
}

// amountIn simulates the input the edge requires for the given output.
func (e *Edge) amountIn(amountOut *big.Int) (*big.Int, error) {
	return curve.GetAmountIn(amountOut, e.ReserveIn, e.ReserveOut, e.FeeNum, e.FeeDen)
}

// Graph holds the best edge per ordered token pair, selected at a reference
// amount. Forward graphs keep the edge with the highest simulated output,
// reverse graphs the edge with the lowest required input.
type Graph struct {
	// out-edges by source token (forward) or by destination token (reverse)
	adjacency map[contract.TokenID][]Edge
	reverse   bool
}

// BuildForwardGraph indexes the pools for an exact-in search with reference
// input amount.
func BuildForwardGraph(pools []PoolSnapshot, reference *big.Int) *Graph {
	g := &Graph{adjacency: make(map[contract.TokenID][]Edge)}
	best := make(map[[2]contract.TokenID]*big.Int)

	n := len(pools)
	if n > MaxPoolsToIterate {
		n = MaxPoolsToIterate
	}
	for i := 0; i < n; i++ {
		for _, e := range directedEdges(&pools[i]) {
			out, err := e.amountOut(reference)
			if err != nil || out.Sign() <= 0 {
				continue
			}
			pair := [2]contract.TokenID{e.From, e.To}
			if prev, ok := best[pair]; ok && prev.Cmp(out) >= 0 {
				continue
			}
			best[pair] = out
			g.replaceEdge(e.From, e)
		}
	}
	return g
}

// BuildReverseGraph indexes the pools for an exact-out search with reference
// output amount. Edges are indexed by destination token.
func BuildReverseGraph(pools []PoolSnapshot, reference *big.Int) *Graph {
	g := &Graph{adjacency: make(map[contract.TokenID][]Edge), reverse: true}
	best := make(map[[2]contract.TokenID]*big.Int)

	n := len(pools)
	if n > MaxPoolsToIterate {
		n = MaxPoolsToIterate
	}
	for i := 0; i < n; i++ {
		for _, e := range directedEdges(&pools[i]) {
			in, err := e.amountIn(reference)
			if err != nil || in.Sign() <= 0 {
				continue
			}
			pair := [2]contract.TokenID{e.From, e.To}
			if prev, ok := best[pair]; ok && prev.Cmp(in) <= 0 {
				continue
			}
			best[pair] = in
			g.replaceEdge(e.To, e)
		}
	}
	return g
}

// replaceEdge swaps out a previously recorded edge for the same ordered pair,
// keeping one edge per (from, to).
func (g *Graph) replaceEdge(index contract.TokenID, e Edge) {
	edges := g.adjacency[index]
	for i := range edges {
		if edges[i].From == e.From && edges[i].To == e.To {
			edges[i] = e
			return
		}
	}
	g.adjacency[index] = append(edges, e)
}

func directedEdges(p *PoolSnapshot) [2]Edge {
	return [2]Edge{
		{
			PoolKey: p.Key, From: p.TokenA, To: p.TokenB,
			ReserveIn: p.ReserveA, ReserveOut: p.ReserveB,
			FeeNum: p.FeeNum, FeeDen: p.FeeDen,
		},
		{
			PoolKey: p.Key, From: p.TokenB, To: p.TokenA,
			ReserveIn: p.ReserveB, ReserveOut: p.ReserveA,
			FeeNum: p.FeeNum, FeeDen: p.FeeDen,
		},
	}
}
