package selftest

import (
	"fmt"
	"math"
)

// Pattern is a deterministic test signal for transform round trips.
type Pattern int

const (
	Linear Pattern = iota
	Quadratic
	Sine2D
	PseudoRandom
	Step
)

// Patterns lists every pattern in the order the suite runs them.
var Patterns = []Pattern{Linear, Quadratic, Sine2D, PseudoRandom, Step}

func (p Pattern) String() string {
	switch p {
	case Linear:
		return "linear"
	case Quadratic:
		return "quadratic"
	case Sine2D:
		return "sine-2d"
	case PseudoRandom:
		return "pseudo-random"
	case Step:
		return "step"
	}
	return fmt.Sprintf("Pattern(%d)", int(p))
}

// Value returns the sample at (x, y) of an n x n matrix.
func (p Pattern) Value(x, y, n int) float32 {
	i := y*n + x
	switch p {
	case Linear:
		return float32(i%100) / 100
	case Quadratic:
		return float32((i*i)%200) / 200
	case Sine2D:
		const k = 2 * math.Pi / 16
		return float32(math.Sin(k*float64(x)) * math.Sin(k*float64(y)))
	case PseudoRandom:
		return float32((i*17+31)%100) / 100
	case Step:
		block := max(1, n/8)
		if (x/block)%2 == 0 && (y/block)%2 == 0 {
			return 1
		}
		return 0
	}
	return 0
}

// Row fills dst with row y of an n x n matrix.
func (p Pattern) Row(dst []float32, y, n int) {
	for x := range dst {
		dst[x] = p.Value(x, y, n)
	}
}
