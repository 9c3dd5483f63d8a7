package hlac

import (
	"slices"
)

// NumPairs is the number of second-order terms.
const NumPairs = 20

// Offset is a neighbour displacement in rows and columns.
type Offset struct{ DY, DX int }

// Neighbors lists the eight 3x3 neighbours in raster order. Pair indices
// refer to this order.
var Neighbors = [8]Offset{
	{-1, -1}, {-1, 0}, {-1, 1},
	{0, -1}, {0, 1},
	{1, -1}, {1, 0}, {1, 1},
}

// Pair is an unordered pair of neighbour indices, A <= B.
type Pair struct{ A, B int }

// d4 holds the 8 symmetries of the square as 2x2 integer matrices acting on
// (dy, dx).
var d4 = [8][2][2]int{
	{{1, 0}, {0, 1}},   // identity
	{{0, -1}, {1, 0}},  // rot90
	{{-1, 0}, {0, -1}}, // rot180
	{{0, 1}, {-1, 0}},  // rot270
	{{-1, 0}, {0, 1}},  // reflect y
	{{1, 0}, {0, -1}},  // reflect x
	{{0, 1}, {1, 0}},   // diagonal
	{{0, -1}, {-1, 0}}, // anti-diagonal
}

type key [4]int

func (k key) less(o key) bool {
	for i := range k {
		if k[i] != o[i] {
			return k[i] < o[i]
		}
	}
	return false
}

func apply(m [2][2]int, o Offset) Offset {
	return Offset{
		DY: m[0][0]*o.DY + m[0][1]*o.DX,
		DX: m[1][0]*o.DY + m[1][1]*o.DX,
	}
}

func offsetGreater(a, b Offset) bool {
	return a.DY > b.DY || (a.DY == b.DY && a.DX > b.DX)
}

// canonicalKey returns the lexicographically smallest (dy1,dx1,dy2,dx2)
// the pair reaches under the symmetry group.
func canonicalKey(a, b Offset) key {
	best := key{127, 127, 127, 127}
	for _, m := range d4 {
		a2, b2 := apply(m, a), apply(m, b)
		if offsetGreater(a2, b2) {
			a2, b2 = b2, a2
		}
		k := key{a2.DY, a2.DX, b2.DY, b2.DX}
		if k.less(best) {
			best = k
		}
	}
	return best
}

// PairTable is the immutable set of neighbour pairs the second-order terms
// correlate. Build it once with NewPairTable and share it.
type PairTable struct {
	pairs    [NumPairs]Pair
	orbits   int
	fallback bool
}

// NewPairTable enumerates the 36 neighbour pairs (with repetition), groups
// them by symmetry orbit and keeps one representative per orbit. When the
// orbit count is not NumPairs the table is the first NumPairs pairs in
// enumeration order instead. The 3x3 neighbourhood has 8 orbits, so that
// selection is what extractors and trained models see.
func NewPairTable() *PairTable {
	type rec struct {
		p Pair
		k key
	}
	recs := make([]rec, 0, 36)
	for i := 0; i < len(Neighbors); i++ {
		for j := i; j < len(Neighbors); j++ {
			recs = append(recs, rec{Pair{i, j}, canonicalKey(Neighbors[i], Neighbors[j])})
		}
	}
	raw := make([]Pair, len(recs))
	for i, r := range recs {
		raw[i] = r.p
	}

	slices.SortStableFunc(recs, func(a, b rec) int {
		switch {
		case a.k.less(b.k):
			return -1
		case b.k.less(a.k):
			return 1
		}
		return 0
	})
	var reps []Pair
	for i, r := range recs {
		if i == 0 || r.k != recs[i-1].k {
			reps = append(reps, r.p)
		}
	}

	t := &PairTable{orbits: len(reps)}
	if len(reps) == NumPairs {
		copy(t.pairs[:], reps)
	} else {
		copy(t.pairs[:], raw[:NumPairs])
		t.fallback = true
	}
	return t
}

// Pairs returns the table entries.
func (t *PairTable) Pairs() []Pair {
	out := t.pairs
	return out[:]
}

// Orbits returns how many symmetry classes the enumeration produced.
func (t *PairTable) Orbits() int { return t.orbits }

// Fallback reports whether the table is the enumeration-order selection.
func (t *PairTable) Fallback() bool { return t.fallback }
