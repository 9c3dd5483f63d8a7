// Package fft implements the radix-2 transform engine used by the
// frequency-domain diagnostics, and the 2D orchestration that runs it over
// matrices held locally or in external memory.
package fft

import (
	"errors"
	"fmt"
	"math"
	"math/bits"

	"github.com/banshee-data/rover/internal/monitoring"
)

// MaxSize is the largest transform length a default Engine accepts.
const MaxSize = 256

var (
	// ErrSize is returned for lengths that are not a power of two or exceed the engine limit.
	ErrSize = errors.New("fft: length must be a power of two within the engine limit")
	// ErrCapacity is returned when a matrix does not fit the local working buffers.
	ErrCapacity = errors.New("fft: matrix exceeds local buffer capacity")
)

var logf = monitoring.Tagged("fft")

// Engine holds the twiddle and bit-reversal tables for one transform task.
// The tables grow on demand and are reused across calls. An Engine is not
// safe for concurrent use; give each task its own.
type Engine struct {
	maxSize int
	block   BlockProcessor

	// cos/sin hold tableSize/2 entries of exp(2πik/tableSize).
	cos, sin  []float32
	tableSize int

	bitrev map[int][]uint16
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxSize overrides MaxSize.
func WithMaxSize(n int) Option {
	return func(e *Engine) { e.maxSize = n }
}

// WithBlockProcessor selects the butterfly implementation.
func WithBlockProcessor(bp BlockProcessor) Option {
	return func(e *Engine) { e.block = bp }
}

// NewEngine returns an Engine using the 4-wide butterfly by default.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		maxSize: MaxSize,
		block:   Vec4{},
		bitrev:  make(map[int][]uint16),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// MaxSize returns the largest length the engine accepts.
func (e *Engine) MaxSize() int { return e.maxSize }

// TableSize returns the length the twiddle table was last built for.
func (e *Engine) TableSize() int { return e.tableSize }

// CheckSize reports whether n is a length the engine can transform.
func (e *Engine) CheckSize(n int) error {
	if n < 1 || n > e.maxSize || n&(n-1) != 0 {
		return fmt.Errorf("%w: n=%d max=%d", ErrSize, n, e.maxSize)
	}
	return nil
}

// ensureTable builds the twiddle table for n unless one at least that large
// already exists. A table built for T serves every power of two N <= T.
func (e *Engine) ensureTable(n int) {
	if e.tableSize >= n {
		return
	}
	half := n / 2
	e.cos = make([]float32, half)
	e.sin = make([]float32, half)
	step := 2 * math.Pi / float64(n)
	for k := 0; k < half; k++ {
		e.cos[k] = float32(math.Cos(step * float64(k)))
		e.sin[k] = float32(math.Sin(step * float64(k)))
	}
	e.tableSize = n
}

func (e *Engine) reversal(n int) []uint16 {
	if t, ok := e.bitrev[n]; ok {
		return t
	}
	shift := 32 - bits.TrailingZeros(uint(n))
	t := make([]uint16, n)
	for i := range t {
		t[i] = uint16(bits.Reverse32(uint32(i)) >> shift)
	}
	e.bitrev[n] = t
	return t
}

// Transform runs an in-place radix-2 decimation-in-time FFT over re and im.
// The forward transform is unscaled; the inverse scales by 1/N so that a
// forward/inverse pair is the identity.
func (e *Engine) Transform(re, im []float32, inverse bool) error {
	n := len(re)
	if len(im) != n {
		return fmt.Errorf("%w: real/imag length mismatch %d != %d", ErrSize, n, len(im))
	}
	if err := e.CheckSize(n); err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	e.ensureTable(n)

	rev := e.reversal(n)
	for i := 0; i < n; i++ {
		j := int(rev[i])
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}

	tw := Twiddles{Cos: e.cos, Sin: e.sin, Sign: -1}
	if inverse {
		tw.Sign = 1
	}
	for step := 2; step <= n; step <<= 1 {
		half := step / 2
		tw.Stride = e.tableSize / step
		for k := 0; k < n; k += step {
			e.block.Butterflies(re[k:k+step], im[k:k+step], half, tw)
		}
	}

	if inverse {
		scale := 1 / float32(n)
		for i := range re {
			re[i] *= scale
			im[i] *= scale
		}
	}
	return nil
}
