package fft

import (
	"fmt"
)

// Pass selects which halves of the separable 2D transform run.
type Pass int

const (
	// PassBoth runs the row pass followed by the column pass.
	PassBoth Pass = iota
	// PassRows runs only the row transforms.
	PassRows
	// PassCols runs only the column transforms.
	PassCols
)

func (p Pass) String() string {
	switch p {
	case PassBoth:
		return "both"
	case PassRows:
		return "rows"
	case PassCols:
		return "cols"
	default:
		return fmt.Sprintf("Pass(%d)", int(p))
	}
}

// Options tune a 2D transform.
type Options struct {
	Pass Pass
	// Sanitize zeroes non-finite and out-of-range samples before and after
	// every 1D transform.
	Sanitize bool
}

// columnRoute is how the column pass reaches the columns of a matrix.
type columnRoute int

const (
	routeDirect columnRoute = iota
	routeBuffer
	routeExternal
)

func (e *Engine) columnRoute(m Matrix) (columnRoute, error) {
	rows, cols := m.Dims()
	if _, ok := m.(ColumnAccessor); ok {
		return routeDirect, nil
	}
	if rows*cols <= m.Capacity() {
		return routeBuffer, nil
	}
	if t, ok := m.(Transposer); ok && t.CanTranspose() {
		return routeExternal, nil
	}
	return 0, fmt.Errorf("%w: %dx%d needs %d samples, transpose buffer holds %d",
		ErrCapacity, rows, cols, rows*cols, m.Capacity())
}

// Transform2D applies the 1D transform to every row and then to every
// column of m, in place. Sizes are validated before any sample is touched.
// A storage failure aborts the pass; rows already written back stay
// transformed.
func (e *Engine) Transform2D(m Matrix, inverse bool, opts Options) (SanitizeStats, error) {
	var san SanitizeStats
	rows, cols := m.Dims()

	if opts.Pass != PassCols {
		if err := e.CheckSize(cols); err != nil {
			logf("row length rejected for %dx%d: %v", rows, cols, err)
			return san, err
		}
	}
	route := routeDirect
	if opts.Pass != PassRows {
		if err := e.CheckSize(rows); err != nil {
			logf("column length rejected for %dx%d: %v", rows, cols, err)
			return san, err
		}
		r, err := e.columnRoute(m)
		if err != nil {
			logf("%v", err)
			return san, err
		}
		route = r
	}

	if opts.Pass != PassCols {
		if err := e.rowPass(m, inverse, opts.Sanitize, &san); err != nil {
			logf("row pass aborted: %v", err)
			return san, err
		}
	}
	if opts.Pass == PassRows {
		return san, nil
	}

	var err error
	switch route {
	case routeDirect:
		err = e.columnsDirect(m, inverse, opts.Sanitize, &san)
	case routeBuffer:
		err = e.columnsBuffered(m, inverse, opts.Sanitize, &san)
	case routeExternal:
		err = e.columnsExternal(m.(Transposer), inverse, opts.Sanitize, &san)
	}
	if err != nil {
		logf("column pass aborted: %v", err)
		return san, err
	}
	if san.NonFinite != 0 || san.Clipped != 0 {
		logf("%s sanitized nonfinite=%d clipped=%d", direction(inverse), san.NonFinite, san.Clipped)
	}
	return san, nil
}

func direction(inverse bool) string {
	if inverse {
		return "inverse"
	}
	return "forward"
}

// transform1 runs one vector through the engine, sanitizing around it.
func (e *Engine) transform1(re, im []float32, inverse, sanitize bool, san *SanitizeStats) error {
	if sanitize {
		san.Add(Sanitize(re, im))
	}
	if err := e.Transform(re, im, inverse); err != nil {
		return err
	}
	if sanitize {
		san.Add(Sanitize(re, im))
	}
	return nil
}

func (e *Engine) rowPass(m Matrix, inverse, sanitize bool, san *SanitizeStats) error {
	rows, cols := m.Dims()
	re := make([]float32, cols)
	im := make([]float32, cols)
	for r := 0; r < rows; r++ {
		if err := m.ReadRow(r, re, im); err != nil {
			return err
		}
		if err := e.transform1(re, im, inverse, sanitize, san); err != nil {
			return err
		}
		if err := m.WriteRow(r, re, im); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) columnsDirect(m Matrix, inverse, sanitize bool, san *SanitizeStats) error {
	ca := m.(ColumnAccessor)
	rows, cols := m.Dims()
	re := make([]float32, rows)
	im := make([]float32, rows)
	for c := 0; c < cols; c++ {
		if err := ca.ReadCol(c, re, im); err != nil {
			return err
		}
		if err := e.transform1(re, im, inverse, sanitize, san); err != nil {
			return err
		}
		if err := ca.WriteCol(c, re, im); err != nil {
			return err
		}
	}
	return nil
}

// columnsBuffered gathers the whole matrix column-major into a local
// buffer, transforms each now-contiguous column and writes the rows back.
func (e *Engine) columnsBuffered(m Matrix, inverse, sanitize bool, san *SanitizeStats) error {
	rows, cols := m.Dims()
	tRe := make([]float32, rows*cols)
	tIm := make([]float32, rows*cols)
	re := make([]float32, cols)
	im := make([]float32, cols)

	for r := 0; r < rows; r++ {
		if err := m.ReadRow(r, re, im); err != nil {
			return err
		}
		for c := 0; c < cols; c++ {
			tRe[c*rows+r] = re[c]
			tIm[c*rows+r] = im[c]
		}
	}
	for c := 0; c < cols; c++ {
		if err := e.transform1(tRe[c*rows:(c+1)*rows], tIm[c*rows:(c+1)*rows], inverse, sanitize, san); err != nil {
			return err
		}
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			re[c] = tRe[c*rows+r]
			im[c] = tIm[c*rows+r]
		}
		if err := m.WriteRow(r, re, im); err != nil {
			return err
		}
	}
	return nil
}

// columnsExternal transposes into scratch, runs the columns as rows there
// and transposes back.
func (e *Engine) columnsExternal(tp Transposer, inverse, sanitize bool, san *SanitizeStats) error {
	t, err := tp.Transpose()
	if err != nil {
		return err
	}
	if err := e.rowPass(t, inverse, sanitize, san); err != nil {
		return err
	}
	return tp.Restore(t)
}
