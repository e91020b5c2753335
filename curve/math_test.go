// Copyright (C) 2025, Dozer Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package curve

import (
	"math/big"
	"testing"
)

func bigInt(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad literal " + s)
	}
	return n
}

func TestIsqrt_Small(t *testing.T) {
	cases := []struct {
		in, want int64
	}{
		{0, 0}, {1, 1}, {2, 1}, {3, 1}, {4, 2}, {8, 2}, {9, 3},
		{15, 3}, {16, 4}, {99980001, 9999}, {99980002, 9999},
	}
	for _, c := range cases {
		got, err := Isqrt(big.NewInt(c.in))
		if err != nil {
			t.Fatalf("Isqrt(%d): %v", c.in, err)
		}
		if got.Int64() != c.want {
			t.Errorf("Isqrt(%d) = %v, want %d", c.in, got, c.want)
		}
	}
}

func TestIsqrt_MatchesStdlib(t *testing.T) {
	// Cross-check against big.Int.Sqrt over a spread of magnitudes,
	// including inputs past the 2^128 seed switch.
	inputs := []*big.Int{
		bigInt("123456789"),
		bigInt("10000000000000000000000000000000000000000"), // 1e40
		new(big.Int).Lsh(big.NewInt(1), 127),
		new(big.Int).Lsh(big.NewInt(1), 129),
		new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)),
		bigInt("340282366920938463463374607431768211457"), // 2^128 + 1
	}
	for _, n := range inputs {
		got, err := Isqrt(n)
		if err != nil {
			t.Fatalf("Isqrt(%v): %v", n, err)
		}
		want := new(big.Int).Sqrt(n)
		if got.Cmp(want) != 0 {
			t.Errorf("Isqrt(%v) = %v, want %v", n, got, want)
		}
	}
}

func TestIsqrt_NegativePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on negative input")
		}
	}()
	Isqrt(big.NewInt(-1)) //nolint:errcheck
}

func TestCeilDiv(t *testing.T) {
	cases := []struct {
		num, den, want int64
	}{
		{10, 5, 2}, {11, 5, 3}, {1, 1000, 1}, {0, 7, 0}, {999, 1000, 1},
	}
	for _, c := range cases {
		got := CeilDiv(big.NewInt(c.num), big.NewInt(c.den))
		if got.Int64() != c.want {
			t.Errorf("CeilDiv(%d,%d) = %v, want %d", c.num, c.den, got, c.want)
		}
	}
}

func TestGetAmountOut_KnownVectors(t *testing.T) {
	// Pool 10000/10000, fee 3/1000, swap 100 in:
	// out = 10000*100*997 / (10000*1000 + 100*997) = 997000000/10099700 = 98.
	out, err := GetAmountOut(big.NewInt(100), big.NewInt(10000), big.NewInt(10000), 3, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if out.Int64() != 98 {
		t.Fatalf("got %v, want 98", out)
	}

	// Asymmetric pool 10000/1000, same fee, 100 in: out = 9.
	out, err = GetAmountOut(big.NewInt(100), big.NewInt(10000), big.NewInt(1000), 3, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if out.Int64() != 9 {
		t.Fatalf("got %v, want 9", out)
	}
}

func TestGetAmountIn_KnownVectors(t *testing.T) {
	// Pool 10000/10000, fee 3/1000, want 500 out: in = ceil(10000*500*1000/(9500*997)) = 528.
	in, err := GetAmountIn(big.NewInt(500), big.NewInt(10000), big.NewInt(10000), 3, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if in.Int64() != 528 {
		t.Fatalf("got %v, want 528", in)
	}
}

func TestGetAmountIn_InsufficientLiquidity(t *testing.T) {
	_, err := GetAmountIn(big.NewInt(10000), big.NewInt(10000), big.NewInt(10000), 3, 1000)
	if err == nil {
		t.Fatal("expected error when amount out reaches reserve")
	}
	_, err = GetAmountIn(big.NewInt(10001), big.NewInt(10000), big.NewInt(10000), 3, 1000)
	if err == nil {
		t.Fatal("expected error when amount out exceeds reserve")
	}
}

func TestGetAmountOut_NeverExceedsReserve(t *testing.T) {
	reserveOut := big.NewInt(5000)
	for _, in := range []int64{1, 100, 1_000_000, 1_000_000_000_000} {
		out, err := GetAmountOut(big.NewInt(in), big.NewInt(10000), reserveOut, 3, 1000)
		if err != nil {
			t.Fatal(err)
		}
		if out.Cmp(reserveOut) >= 0 {
			t.Fatalf("out %v >= reserve %v for in %d", out, reserveOut, in)
		}
	}
}

func TestGetAmountOutIn_RoundTrip(t *testing.T) {
	// in' = GetAmountIn(GetAmountOut(in)) must satisfy in' <= in and
	// produce at least the same output.
	rIn, rOut := big.NewInt(1_000_000), big.NewInt(2_000_000)
	for _, amt := range []int64{100, 999, 12345, 500_000} {
		out, err := GetAmountOut(big.NewInt(amt), rIn, rOut, 5, 1000)
		if err != nil {
			t.Fatal(err)
		}
		if out.Sign() == 0 {
			continue
		}
		in, err := GetAmountIn(out, rIn, rOut, 5, 1000)
		if err != nil {
			t.Fatal(err)
		}
		if in.Cmp(big.NewInt(amt)) > 0 {
			t.Errorf("round trip for %d: required %v > original", amt, in)
		}
		out2, err := GetAmountOut(in, rIn, rOut, 5, 1000)
		if err != nil {
			t.Fatal(err)
		}
		if out2.Cmp(out) < 0 {
			t.Errorf("round trip for %d: out %v < %v", amt, out2, out)
		}
	}
}

func TestQuote(t *testing.T) {
	q := Quote(big.NewInt(1000), big.NewInt(1000), big.NewInt(2000))
	if q.Int64() != 2000 {
		t.Fatalf("got %v, want 2000", q)
	}
}

func TestOptimalSingleSideSwap_ExactRatio(t *testing.T) {
	// Pool 5000/10000, fee 5/1000, deposit 300 of the 10000-side: the swap
	// portion is ~148 and the post-swap remainder matches pool ratio within
	// integer rounding.
	amount := big.NewInt(300)
	rIn, rOut := big.NewInt(10000), big.NewInt(5000)

	x, err := OptimalSingleSideSwap(amount, rIn, 5, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if x.Int64() < 146 || x.Int64() > 150 {
		t.Fatalf("optimal swap %v outside expected band", x)
	}

	y, err := GetAmountOut(x, rIn, rOut, 5, 1000)
	if err != nil {
		t.Fatal(err)
	}
	// Remaining deposit vs swap output should quote into each other within
	// one unit against the post-swap reserves.
	rest := new(big.Int).Sub(amount, x)
	newRIn := new(big.Int).Add(rIn, x)
	newROut := new(big.Int).Sub(rOut, y)
	q := Quote(rest, newRIn, newROut)
	diff := new(big.Int).Sub(q, y)
	if diff.CmpAbs(big.NewInt(1)) > 0 {
		t.Fatalf("residual ratio mismatch: quote %v vs output %v", q, y)
	}
}

func BenchmarkIsqrt512(b *testing.B) {
	n := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 512), big.NewInt(12345))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Isqrt(n); err != nil {
			b.Fatal(err)
		}
	}
}
