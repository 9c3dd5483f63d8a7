// Package depth integrates surface slopes into a relative depth map with
// the Frankot-Chellappa projection. The slope planes are packed into one
// complex matrix, transformed through a scratch region of external memory,
// integrated in the frequency domain and transformed back.
package depth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/banshee-data/rover/internal/fft"
	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/xmem"
)

// DefaultSize is the edge of the exported depth map.
const DefaultSize = 128

var (
	// ErrSize reports slope planes or grids the reconstructor cannot use.
	ErrSize = errors.New("depth: invalid grid size")
	// ErrBusy is returned while another reconstruction holds the scratch
	// region.
	ErrBusy = errors.New("depth: reconstruction already running")
)

var logf = monitoring.Tagged("depth")

// Map is a size x size relative depth map, row-major. Depth is only known
// up to an offset; the values average to zero over the transform grid.
type Map struct {
	Seq  uint64    `json:"seq,omitempty"`
	Size int       `json:"size"`
	Grid int       `json:"grid"`
	Min  float32   `json:"min"`
	Max  float32   `json:"max"`
	Z    []float32 `json:"z"`
}

// At returns the depth at column x, row y.
func (m *Map) At(x, y int) float32 { return m.Z[y*m.Size+x] }

// RegionBytes is the scratch a grid x grid reconstruction needs: the
// packed spectrum and its transpose, real and imaginary.
func RegionBytes(grid int) uint32 {
	return 4 * fft.PlaneBytes(grid, grid)
}

// Reconstructor owns a scratch region and an engine. One reconstruction
// runs at a time.
type Reconstructor struct {
	mu       sync.Mutex
	engine   *fft.Engine
	scratch  *xmem.View
	size     int
	grid     int
	pad      bool
	capacity int
}

// Option configures a Reconstructor.
type Option func(*Reconstructor)

// WithPadding doubles the transform grid. The slopes occupy the top-left
// quarter and the rest is zero, which keeps opposite borders from wrapping
// into each other.
func WithPadding() Option {
	return func(r *Reconstructor) { r.pad = true }
}

// WithTransposeCapacity sets the local transpose buffer of the stored
// spectrum. Grids larger than it go through the external transpose.
func WithTransposeCapacity(n int) Option {
	return func(r *Reconstructor) { r.capacity = n }
}

// New returns a reconstructor for size x size slope planes staged in
// scratch. The engine is used only by this reconstructor.
func New(e *fft.Engine, scratch *xmem.View, size int, opts ...Option) (*Reconstructor, error) {
	r := &Reconstructor{
		engine:   e,
		scratch:  scratch,
		size:     size,
		capacity: fft.DefaultTransposeCapacity,
	}
	for _, o := range opts {
		o(r)
	}
	if size < 2 || size&(size-1) != 0 {
		return nil, fmt.Errorf("%w: size %d is not a power of two of at least 2", ErrSize, size)
	}
	r.grid = size
	if r.pad {
		r.grid = 2 * size
	}
	if err := e.CheckSize(r.grid); err != nil {
		return nil, fmt.Errorf("depth grid %d: %w", r.grid, err)
	}
	if reg, need := scratch.Region(), RegionBytes(r.grid); reg.Size < need {
		return nil, fmt.Errorf("depth region %q holds %d bytes, need %d", reg.Name, reg.Size, need)
	}
	return r, nil
}

// Size returns the edge of the slope planes and the depth map.
func (r *Reconstructor) Size() int { return r.size }

// Grid returns the edge of the transform grid.
func (r *Reconstructor) Grid() int { return r.grid }

// Integrate reconstructs depth from p = dz/dx and q = dz/dy, both
// size x size and row-major. It returns ErrBusy instead of waiting when
// another reconstruction is running.
func (r *Reconstructor) Integrate(ctx context.Context, p, q []float32) (*Map, error) {
	n := r.size
	if len(p) != n*n || len(q) != n*n {
		return nil, fmt.Errorf("%w: got %d and %d slopes, want %d", ErrSize, len(p), len(q), n*n)
	}
	if !r.mu.TryLock() {
		return nil, ErrBusy
	}
	defer r.mu.Unlock()

	m := r.matrix()
	if err := r.pack(m, p, q); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := r.engine.Transform2D(m, false, fft.Options{}); err != nil {
		return nil, fmt.Errorf("forward transform: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.integrateSpectrum(m); err != nil {
		return nil, err
	}
	if _, err := r.engine.Transform2D(m, true, fft.Options{}); err != nil {
		return nil, fmt.Errorf("inverse transform: %w", err)
	}
	return r.unpack(m)
}

func (r *Reconstructor) matrix() *fft.Stored {
	planes := fft.Contiguous(0, r.grid, r.grid)
	opts := []fft.StoredOption{fft.WithTransposeCapacity(r.capacity)}
	if r.grid*r.grid > r.capacity {
		opts = append(opts, fft.WithScratch(fft.Contiguous(planes.Imag+fft.PlaneBytes(r.grid, r.grid), r.grid, r.grid)))
	}
	return fft.NewStored(r.scratch, r.grid, r.grid, planes, opts...)
}

// pack writes p into the real plane and q into the imaginary plane, zero
// padded to the grid.
func (r *Reconstructor) pack(m *fft.Stored, p, q []float32) error {
	re := make([]float32, r.grid)
	im := make([]float32, r.grid)
	for y := 0; y < r.grid; y++ {
		clear(re)
		clear(im)
		if y < r.size {
			copy(re, p[y*r.size:(y+1)*r.size])
			copy(im, q[y*r.size:(y+1)*r.size])
		}
		if err := m.WriteRow(y, re, im); err != nil {
			return fmt.Errorf("pack slope row %d: %w", y, err)
		}
	}
	return nil
}

// frequencies returns the angular frequency of every bin, with the upper
// half wrapped to negative frequencies.
func frequencies(n int) []float32 {
	w := make([]float32, n)
	for k := range w {
		kk := k
		if k >= n/2 {
			kk = k - n
		}
		w[k] = float32(2 * math.Pi * float64(kk) / float64(n))
	}
	return w
}

// integrateSpectrum replaces the packed spectrum C = FFT(p + jq) with the
// depth spectrum Z = -j(uP + vQ)/(u² + v²), with Z = 0 at DC. P and Q are
// recovered from C and its mirror C(-u, -v), so rows are processed in
// mirrored pairs and both are read before either is written.
func (r *Reconstructor) integrateSpectrum(m *fft.Stored) error {
	n := r.grid
	w := frequencies(n)
	cRe, cIm := make([]float32, n), make([]float32, n)
	mRe, mIm := make([]float32, n), make([]float32, n)
	zRe, zIm := make([]float32, n), make([]float32, n)

	for y := 0; y <= n/2; y++ {
		yn := (n - y) % n
		if err := m.ReadRow(y, cRe, cIm); err != nil {
			return fmt.Errorf("read spectrum: %w", err)
		}
		if yn == y {
			copy(mRe, cRe)
			copy(mIm, cIm)
		} else if err := m.ReadRow(yn, mRe, mIm); err != nil {
			return fmt.Errorf("read spectrum: %w", err)
		}

		depthRow(cRe, cIm, mRe, mIm, w, w[y], zRe, zIm)
		if err := m.WriteRow(y, zRe, zIm); err != nil {
			return fmt.Errorf("write depth spectrum: %w", err)
		}
		if yn == y {
			continue
		}
		depthRow(mRe, mIm, cRe, cIm, w, w[yn], zRe, zIm)
		if err := m.WriteRow(yn, zRe, zIm); err != nil {
			return fmt.Errorf("write depth spectrum: %w", err)
		}
	}
	return nil
}

// depthRow computes one row of the depth spectrum from the packed row c,
// the mirrored row m and the row frequency v.
func depthRow(cRe, cIm, mRe, mIm, u []float32, v float32, zRe, zIm []float32) {
	n := len(cRe)
	for x := 0; x < n; x++ {
		xn := (n - x) % n
		pRe := 0.5 * (cRe[x] + mRe[xn])
		pIm := 0.5 * (cIm[x] - mIm[xn])
		qRe := 0.5 * (cIm[x] + mIm[xn])
		qIm := 0.5 * (mRe[xn] - cRe[x])

		d := u[x]*u[x] + v*v
		if d == 0 {
			zRe[x], zIm[x] = 0, 0
			continue
		}
		zRe[x] = (u[x]*pIm + v*qIm) / d
		zIm[x] = -(u[x]*pRe + v*qRe) / d
	}
}

// unpack reads the real part of the top-left size x size block.
func (r *Reconstructor) unpack(m *fft.Stored) (*Map, error) {
	out := &Map{Size: r.size, Grid: r.grid, Z: make([]float32, r.size*r.size)}
	re := make([]float32, r.grid)
	im := make([]float32, r.grid)
	for y := 0; y < r.size; y++ {
		if err := m.ReadRow(y, re, im); err != nil {
			return nil, fmt.Errorf("read depth row %d: %w", y, err)
		}
		copy(out.Z[y*r.size:], re[:r.size])
	}
	out.Min, out.Max = out.Z[0], out.Z[0]
	for _, z := range out.Z {
		out.Min = min(out.Min, z)
		out.Max = max(out.Max, z)
	}
	return out, nil
}
