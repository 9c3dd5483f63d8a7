package fft

import (
	"fmt"

	"github.com/banshee-data/rover/internal/xmem"
)

// Matrix is the storage strategy behind a rows x cols complex grid. The
// orchestrator only ever moves whole rows through it.
type Matrix interface {
	Dims() (rows, cols int)
	ReadRow(r int, re, im []float32) error
	WriteRow(r int, re, im []float32) error
	// Capacity is the number of complex samples the strategy can stage
	// locally at once for the column pass.
	Capacity() int
}

// ColumnAccessor is implemented by matrices whose columns can be gathered
// directly, which lets the column pass skip the transpose buffer.
type ColumnAccessor interface {
	ReadCol(c int, re, im []float32) error
	WriteCol(c int, re, im []float32) error
}

// Transposer is implemented by matrices that can stage their transpose in
// external scratch memory. Transpose returns the transposed matrix and
// Restore copies it back over the original.
type Transposer interface {
	CanTranspose() bool
	Transpose() (Matrix, error)
	Restore(t Matrix) error
}

// Dense is a matrix held entirely in local memory, row-major.
type Dense struct {
	Rows, Cols int
	Re, Im     []float32
}

// NewDense allocates a zeroed rows x cols matrix.
func NewDense(rows, cols int) *Dense {
	return &Dense{
		Rows: rows,
		Cols: cols,
		Re:   make([]float32, rows*cols),
		Im:   make([]float32, rows*cols),
	}
}

// Dims implements Matrix.
func (d *Dense) Dims() (int, int) { return d.Rows, d.Cols }

// Capacity implements Matrix. A dense matrix can always stage itself.
func (d *Dense) Capacity() int { return d.Rows * d.Cols }

// At returns the sample at (r, c).
func (d *Dense) At(r, c int) (re, im float32) {
	i := r*d.Cols + c
	return d.Re[i], d.Im[i]
}

// Set stores a sample at (r, c).
func (d *Dense) Set(r, c int, re, im float32) {
	i := r*d.Cols + c
	d.Re[i], d.Im[i] = re, im
}

// ReadRow implements Matrix.
func (d *Dense) ReadRow(r int, re, im []float32) error {
	copy(re, d.Re[r*d.Cols:(r+1)*d.Cols])
	copy(im, d.Im[r*d.Cols:(r+1)*d.Cols])
	return nil
}

// WriteRow implements Matrix.
func (d *Dense) WriteRow(r int, re, im []float32) error {
	copy(d.Re[r*d.Cols:(r+1)*d.Cols], re)
	copy(d.Im[r*d.Cols:(r+1)*d.Cols], im)
	return nil
}

// ReadCol implements ColumnAccessor.
func (d *Dense) ReadCol(c int, re, im []float32) error {
	for r := 0; r < d.Rows; r++ {
		re[r], im[r] = d.Re[r*d.Cols+c], d.Im[r*d.Cols+c]
	}
	return nil
}

// WriteCol implements ColumnAccessor.
func (d *Dense) WriteCol(c int, re, im []float32) error {
	for r := 0; r < d.Rows; r++ {
		d.Re[r*d.Cols+c], d.Im[r*d.Cols+c] = re[r], im[r]
	}
	return nil
}

// Planes locates a matrix stored as a row-major real plane and a row-major
// imaginary plane of float32 samples.
type Planes struct {
	Real, Imag uint32
}

// Contiguous returns planes for a matrix whose imaginary plane directly
// follows its real plane at base.
func Contiguous(base uint32, rows, cols int) Planes {
	return Planes{Real: base, Imag: base + PlaneBytes(rows, cols)}
}

// PlaneBytes is the size of one rows x cols float32 plane.
func PlaneBytes(rows, cols int) uint32 {
	return uint32(rows*cols) * xmem.FloatSize
}

// TransposeTile is the edge of the square tile the external transpose stages
// through local memory.
const TransposeTile = 32

// DefaultTransposeCapacity is the local transpose buffer size in complex
// samples.
const DefaultTransposeCapacity = 256

// Stored is a matrix resident in external memory, streamed one row at a
// time. Columns are not contiguous in the store, so the column pass either
// gathers the whole matrix into a local transpose buffer (bounded by
// Capacity) or, when scratch planes are configured, transposes tile by tile
// through external memory.
type Stored struct {
	store      xmem.Store
	rows, cols int
	planes     Planes
	capacity   int
	scratch    *Planes
}

// StoredOption configures a Stored matrix.
type StoredOption func(*Stored)

// WithTransposeCapacity sets the local transpose buffer size in samples.
func WithTransposeCapacity(n int) StoredOption {
	return func(s *Stored) { s.capacity = n }
}

// WithScratch enables the external transpose through the given planes,
// which must hold a cols x rows matrix and not overlap the matrix itself.
func WithScratch(p Planes) StoredOption {
	return func(s *Stored) { s.scratch = &p }
}

// NewStored describes a rows x cols matrix at p in store.
func NewStored(store xmem.Store, rows, cols int, p Planes, opts ...StoredOption) *Stored {
	s := &Stored{store: store, rows: rows, cols: cols, planes: p, capacity: DefaultTransposeCapacity}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dims implements Matrix.
func (s *Stored) Dims() (int, int) { return s.rows, s.cols }

// Capacity implements Matrix. It is the local transpose buffer size set by
// WithTransposeCapacity.
func (s *Stored) Capacity() int { return s.capacity }

// Planes returns where the matrix lives in the store.
func (s *Stored) Planes() Planes { return s.planes }

func (s *Stored) rowAddr(base uint32, r, c int) uint32 {
	return base + uint32(r*s.cols+c)*xmem.FloatSize
}

// ReadRow implements Matrix. Only the first cols samples of re and im are
// filled.
func (s *Stored) ReadRow(r int, re, im []float32) error {
	return s.readSpan(r, 0, re[:s.cols], im[:s.cols])
}

// WriteRow implements Matrix.
func (s *Stored) WriteRow(r int, re, im []float32) error {
	return s.writeSpan(r, 0, re[:s.cols], im[:s.cols])
}

func (s *Stored) readSpan(r, c int, re, im []float32) error {
	if err := xmem.ReadFloats(s.store, s.rowAddr(s.planes.Real, r, c), re); err != nil {
		return fmt.Errorf("read real row %d: %w", r, err)
	}
	if err := xmem.ReadFloats(s.store, s.rowAddr(s.planes.Imag, r, c), im); err != nil {
		return fmt.Errorf("read imag row %d: %w", r, err)
	}
	return nil
}

func (s *Stored) writeSpan(r, c int, re, im []float32) error {
	if err := xmem.WriteFloats(s.store, s.rowAddr(s.planes.Real, r, c), re); err != nil {
		return fmt.Errorf("write real row %d: %w", r, err)
	}
	if err := xmem.WriteFloats(s.store, s.rowAddr(s.planes.Imag, r, c), im); err != nil {
		return fmt.Errorf("write imag row %d: %w", r, err)
	}
	return nil
}

// CanTranspose reports whether scratch planes were configured.
func (s *Stored) CanTranspose() bool { return s.scratch != nil }

// Transpose copies the matrix into the scratch planes as cols x rows.
func (s *Stored) Transpose() (Matrix, error) {
	if s.scratch == nil {
		return nil, fmt.Errorf("%w: no scratch planes for external transpose", ErrCapacity)
	}
	t := &Stored{store: s.store, rows: s.cols, cols: s.rows, planes: *s.scratch, capacity: s.capacity}
	if err := transposeTiled(s, t); err != nil {
		return nil, fmt.Errorf("transpose to scratch: %w", err)
	}
	return t, nil
}

// Restore transposes t back over the matrix.
func (s *Stored) Restore(t Matrix) error {
	src, ok := t.(*Stored)
	if !ok {
		return fmt.Errorf("restore from %T: not a stored matrix", t)
	}
	if err := transposeTiled(src, s); err != nil {
		return fmt.Errorf("transpose from scratch: %w", err)
	}
	return nil
}

// transposeTiled writes dst[c][r] = src[r][c], staging one tile at a time.
func transposeTiled(src, dst *Stored) error {
	var tileRe, tileIm [TransposeTile * TransposeTile]float32
	var colRe, colIm [TransposeTile]float32

	for tr := 0; tr < src.rows; tr += TransposeTile {
		th := min(TransposeTile, src.rows-tr)
		for tc := 0; tc < src.cols; tc += TransposeTile {
			tw := min(TransposeTile, src.cols-tc)
			for r := 0; r < th; r++ {
				row := r * TransposeTile
				if err := src.readSpan(tr+r, tc, tileRe[row:row+tw], tileIm[row:row+tw]); err != nil {
					return err
				}
			}
			for c := 0; c < tw; c++ {
				for r := 0; r < th; r++ {
					colRe[r] = tileRe[r*TransposeTile+c]
					colIm[r] = tileIm[r*TransposeTile+c]
				}
				if err := dst.writeSpan(tc+c, tr, colRe[:th], colIm[:th]); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
