// Package hlac computes 25-dimensional higher-order local auto-correlation
// features over 8-bit images streamed from external memory.
package hlac

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/rowring"
	"github.com/banshee-data/rover/internal/xmem"
)

const (
	// NumFeatures is the length of a feature vector: one zeroth-order,
	// four first-order and NumPairs second-order terms.
	NumFeatures = 1 + 4 + NumPairs
	// MaxWidth is the widest image a default Extractor accepts.
	MaxWidth = 320
	// DefaultYieldRows is how many rows are processed between yields.
	DefaultYieldRows = 10
)

// ErrDimensions is returned for empty images or images wider than the limit.
var ErrDimensions = errors.New("hlac: invalid image dimensions")

var logf = monitoring.Tagged("hlac")

// Vector is an HLAC feature vector. Index 0 is the mean intensity, 1-4 the
// right, down, down-right and up-right correlations, 5-24 the pair terms.
type Vector [NumFeatures]float64

// Sums holds the raw integer accumulators before normalisation.
type Sums struct {
	Zero   int64
	First  [4]int64
	Second [NumPairs]int64
}

// Add accumulates o into s.
func (s *Sums) Add(o Sums) {
	s.Zero += o.Zero
	for i := range s.First {
		s.First[i] += o.First[i]
	}
	for i := range s.Second {
		s.Second[i] += o.Second[i]
	}
}

// Normalize divides the sums by the pixel count and by 255 raised to the
// order of each term.
func (s Sums) Normalize(pixels int) Vector {
	var v Vector
	if pixels <= 0 {
		return v
	}
	n := float64(pixels)
	const r = 255.0
	v[0] = float64(s.Zero) / (n * r)
	for i, x := range s.First {
		v[1+i] = float64(x) / (n * r * r)
	}
	for i, x := range s.Second {
		v[5+i] = float64(x) / (n * r * r * r)
	}
	return v
}

// Extractor computes HLAC features. It is safe for concurrent use; all
// per-call state lives on the stack of Extract.
type Extractor struct {
	pairs     []Pair
	maxWidth  int
	yieldRows int
	kernel    RowKernel
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxWidth overrides MaxWidth.
func WithMaxWidth(w int) Option { return func(e *Extractor) { e.maxWidth = w } }

// WithYieldRows sets how many rows pass between context checks and
// scheduler yields. Zero disables yielding.
func WithYieldRows(n int) Option { return func(e *Extractor) { e.yieldRows = n } }

// WithKernel selects the interior-pixel kernel.
func WithKernel(k RowKernel) Option { return func(e *Extractor) { e.kernel = k } }

// NewExtractor returns an Extractor using the pairs of t.
func NewExtractor(t *PairTable, opts ...Option) *Extractor {
	e := &Extractor{
		pairs:     t.Pairs(),
		maxWidth:  MaxWidth,
		yieldRows: DefaultYieldRows,
		kernel:    Vec4Kernel{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract reads a width x height 8-bit image stored row-major at base and
// returns its feature vector. Invalid dimensions yield a zero vector and
// ErrDimensions. A storage failure aborts the pass.
func (e *Extractor) Extract(ctx context.Context, s xmem.Store, base uint32, width, height int) (Vector, error) {
	return e.ExtractRows(ctx, width, height, rowring.StoreRows(s, base, width))
}

// ExtractRows is Extract over an arbitrary row source.
func (e *Extractor) ExtractRows(ctx context.Context, width, height int, load rowring.Loader) (Vector, error) {
	if width <= 0 || height <= 0 || width > e.maxWidth {
		err := fmt.Errorf("%w: %dx%d (max width %d)", ErrDimensions, width, height, e.maxWidth)
		logf("%v", err)
		return Vector{}, err
	}

	win, err := rowring.New(width, height, load)
	if err != nil {
		return Vector{}, err
	}

	var sums Sums
	for y := 0; y < height; y++ {
		if y > 0 {
			if err := win.Advance(); err != nil {
				return Vector{}, err
			}
		}
		prev, cur, next := win.Rows()
		e.accumulateRow(prev, cur, next, &sums)

		if e.yieldRows > 0 && (y+1)%e.yieldRows == 0 {
			if err := ctx.Err(); err != nil {
				return Vector{}, err
			}
			runtime.Gosched()
		}
	}
	return sums.Normalize(width * height), nil
}

// accumulateRow adds one centre row's contribution to sums.
func (e *Extractor) accumulateRow(prev, cur, next []byte, sums *Sums) {
	w := len(cur)
	for x := 0; x < w; x++ {
		c := int64(cur[x])
		sums.Zero += c
		sums.First[1] += c * int64(next[x])
		if x+1 < w {
			sums.First[0] += c * int64(cur[x+1])
			sums.First[2] += c * int64(next[x+1])
			sums.First[3] += c * int64(prev[x+1])
		}
	}

	switch w {
	case 1:
		e.narrow1(prev, cur, next, &sums.Second)
	case 2:
		e.narrow2(prev, cur, next, &sums.Second)
	default:
		e.edge(prev, cur, next, 0, &sums.Second)
		e.kernel.Interior(prev, cur, next, e.pairs, &sums.Second)
		e.edge(prev, cur, next, w-1, &sums.Second)
	}
}

func accumulatePairs(c int64, nb *[8]int64, pairs []Pair, acc *[NumPairs]int64) {
	if c == 0 {
		return
	}
	for p, pr := range pairs {
		acc[p] += c * nb[pr.A] * nb[pr.B]
	}
}

// edge handles x=0 or x=w-1 of a row at least three pixels wide, with the
// out-of-image column zeroed.
func (e *Extractor) edge(prev, cur, next []byte, x int, acc *[NumPairs]int64) {
	var nb [8]int64
	if x == 0 {
		nb[1], nb[2] = int64(prev[0]), int64(prev[1])
		nb[4] = int64(cur[1])
		nb[6], nb[7] = int64(next[0]), int64(next[1])
	} else {
		nb[0], nb[1] = int64(prev[x-1]), int64(prev[x])
		nb[3] = int64(cur[x-1])
		nb[5], nb[6] = int64(next[x-1]), int64(next[x])
	}
	accumulatePairs(int64(cur[x]), &nb, e.pairs, acc)
}

// narrow1 handles single-column images: only the vertical neighbours exist.
func (e *Extractor) narrow1(prev, cur, next []byte, acc *[NumPairs]int64) {
	var nb [8]int64
	nb[1] = int64(prev[0])
	nb[6] = int64(next[0])
	accumulatePairs(int64(cur[0]), &nb, e.pairs, acc)
}

// narrow2 handles two-column images, where every pixel is an edge pixel.
func (e *Extractor) narrow2(prev, cur, next []byte, acc *[NumPairs]int64) {
	var nb [8]int64
	nb[1], nb[2] = int64(prev[0]), int64(prev[1])
	nb[4] = int64(cur[1])
	nb[6], nb[7] = int64(next[0]), int64(next[1])
	accumulatePairs(int64(cur[0]), &nb, e.pairs, acc)

	nb = [8]int64{}
	nb[0], nb[1] = int64(prev[0]), int64(prev[1])
	nb[3] = int64(cur[0])
	nb[5], nb[6] = int64(next[0]), int64(next[1])
	accumulatePairs(int64(cur[1]), &nb, e.pairs, acc)
}
