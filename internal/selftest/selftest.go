// Package selftest exercises the transform engine end to end: known
// spectra, in-memory round trips and round trips through external memory
// with every column strategy.
package selftest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/rover/internal/fft"
	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/timeutil"
	"github.com/banshee-data/rover/internal/xmem"
)

const (
	// SmallSize is the edge of the quick checks.
	SmallSize = 16
	// DefaultTolerance is the largest round-trip RMSE that passes.
	DefaultTolerance = 1e-3
	// impulseTolerance bounds the error of each bin of the impulse spectrum.
	impulseTolerance = 1e-4
)

var logf = monitoring.Tagged("selftest")

// Check is the outcome of one diagnostic.
type Check struct {
	Name     string            `json:"name"`
	Pattern  string            `json:"pattern,omitempty"`
	Size     int               `json:"size"`
	Route    string            `json:"route"`
	Passed   bool              `json:"passed"`
	RMSE     float64           `json:"rmse"`
	Forward  time.Duration     `json:"forward_ns"`
	Inverse  time.Duration     `json:"inverse_ns,omitempty"`
	Sanitize fft.SanitizeStats `json:"sanitize"`
	Detail   string            `json:"detail,omitempty"`
	Peaks    []fft.Peak        `json:"peaks,omitempty"`
}

// Stats summarises round-trip errors.
type Stats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summarize computes Stats over xs.
func Summarize(xs []float64) Stats {
	if len(xs) == 0 {
		return Stats{}
	}
	s := Stats{
		Count: len(xs),
		Mean:  stat.Mean(xs, nil),
		Min:   floats.Min(xs),
		Max:   floats.Max(xs),
	}
	if len(xs) > 1 {
		s.StdDev = stat.StdDev(xs, nil)
	}
	return s
}

// Report is the result of one suite run.
type Report struct {
	ID        uuid.UUID     `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	Checks    []Check       `json:"checks"`
	RoundTrip Stats         `json:"round_trip"`
	Passed    bool          `json:"passed"`

	// Spectrum is the magnitude of the row holding the full-size peak,
	// kept for plotting.
	Spectrum []float64 `json:"spectrum,omitempty"`
}

// Failed returns the checks that did not pass.
func (r *Report) Failed() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// Suite runs the diagnostics against an engine and a scratch region of
// external memory. A Suite runs one Run at a time.
type Suite struct {
	engine  *fft.Engine
	scratch *xmem.View
	clock   timeutil.Clock

	// LargeSize is the edge of the full-size external round trip; 0 skips it.
	LargeSize int
	Tolerance float64
	// TransposeCapacity bounds the in-memory transpose of stored matrices.
	TransposeCapacity int

	lastSpectrum []float64
}

// NewSuite returns a suite staging its stored matrices in scratch. The
// full-size check runs at the engine's maximum size.
func NewSuite(e *fft.Engine, scratch *xmem.View, clock timeutil.Clock) *Suite {
	return &Suite{
		engine:            e,
		scratch:           scratch,
		clock:             clock,
		LargeSize:         e.MaxSize(),
		Tolerance:         DefaultTolerance,
		TransposeCapacity: fft.DefaultTransposeCapacity,
	}
}

// RegionBytes is the scratch an n x n external round trip needs: data and
// transpose planes, real and imaginary.
func RegionBytes(n int) uint32 {
	return 4 * fft.PlaneBytes(n, n)
}

// Run executes every check. Failing checks are reported, not returned; the
// error is for cancellation and misconfiguration.
func (s *Suite) Run(ctx context.Context) (*Report, error) {
	if reg, need := s.scratch.Region(), RegionBytes(max(SmallSize, s.LargeSize)); reg.Size < need {
		return nil, fmt.Errorf("selftest region %q holds %d bytes, need %d", reg.Name, reg.Size, need)
	}

	r := &Report{ID: uuid.New(), StartedAt: s.clock.Now()}
	s.lastSpectrum = nil
	steps := []func() (Check, error){
		s.impulse,
		s.sinePeak,
		s.denseRoundTrip,
	}
	for _, p := range Patterns {
		steps = append(steps, func() (Check, error) { return s.storedRoundTrip(p, SmallSize, false) })
	}
	if s.LargeSize > 0 {
		steps = append(steps, func() (Check, error) { return s.storedRoundTrip(Sine2D, s.LargeSize, true) })
	}

	var rmses []float64
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := step()
		if err != nil {
			c.Passed = false
			c.Detail = err.Error()
		}
		logf("%s %s n=%d route=%s rmse=%.3g passed=%v", c.Name, c.Pattern, c.Size, c.Route, c.RMSE, c.Passed)
		if c.Name == "round-trip" && err == nil {
			rmses = append(rmses, c.RMSE)
		}
		r.Checks = append(r.Checks, c)
	}

	r.Spectrum = s.lastSpectrum
	r.RoundTrip = Summarize(rmses)
	r.Passed = len(r.Failed()) == 0
	r.Elapsed = s.clock.Since(r.StartedAt)
	return r, nil
}

func routeName(m fft.Matrix) string {
	rows, cols := m.Dims()
	switch {
	case isDense(m):
		return "direct"
	case rows*cols <= m.Capacity():
		return "buffer"
	default:
		return "external"
	}
}

func isDense(m fft.Matrix) bool {
	_, ok := m.(fft.ColumnAccessor)
	return ok
}

// impulse checks that a unit impulse at the centre transforms to the
// (-1)^(u+v) checkerboard.
func (s *Suite) impulse() (Check, error) {
	n := SmallSize
	c := Check{Name: "impulse", Size: n, Route: "direct"}
	m := fft.NewDense(n, n)
	m.Set(n/2, n/2, 1, 0)

	start := s.clock.Now()
	if _, err := s.engine.Transform2D(m, false, fft.Options{}); err != nil {
		return c, err
	}
	c.Forward = s.clock.Since(start)

	var worst float64
	for u := 0; u < n; u++ {
		for v := 0; v < n; v++ {
			want := 1.0
			if (u+v)%2 == 1 {
				want = -1
			}
			re, im := m.At(u, v)
			worst = math.Max(worst, math.Hypot(float64(re)-want, float64(im)))
		}
	}
	c.RMSE = worst
	c.Passed = worst < impulseTolerance
	if dc, _ := m.At(0, 0); !c.Passed {
		c.Detail = fmt.Sprintf("max bin error %.3g, dc %.4f", worst, dc)
	}
	return c, nil
}

// sinePeak checks that two cycles along x land in bin (0, 2) or its mirror.
func (s *Suite) sinePeak() (Check, error) {
	n := SmallSize
	c := Check{Name: "sine-peak", Size: n, Route: "direct"}
	m := fft.NewDense(n, n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			m.Set(y, x, float32(math.Sin(4*math.Pi*float64(x)/float64(n))), 0)
		}
	}

	start := s.clock.Now()
	if _, err := s.engine.Transform2D(m, false, fft.Options{}); err != nil {
		return c, err
	}
	c.Forward = s.clock.Since(start)

	sp, err := fft.TopPeaks(m, 2)
	if err != nil {
		return c, err
	}
	c.Peaks = sp.Peaks
	if len(sp.Peaks) == 0 {
		c.Detail = "no peaks"
		return c, nil
	}
	top := sp.Peaks[0]
	c.Passed = top.KY == 0 && (top.KX == 2 || top.KX == n-2)
	if !c.Passed {
		c.Detail = fmt.Sprintf("peak at (%d,%d) mag %.2f", top.KY, top.KX, top.Mag)
	}
	return c, nil
}

// denseRoundTrip runs forward and inverse on an in-memory matrix.
func (s *Suite) denseRoundTrip() (Check, error) {
	n := SmallSize
	p := PseudoRandom
	c := Check{Name: "dense-round-trip", Pattern: p.String(), Size: n, Route: "direct"}
	m := fft.NewDense(n, n)
	orig := make([]float32, n*n)
	for y := 0; y < n; y++ {
		p.Row(orig[y*n:(y+1)*n], y, n)
		copy(m.Re[y*n:(y+1)*n], orig[y*n:(y+1)*n])
	}

	if err := s.forwardInverse(m, &c); err != nil {
		return c, err
	}
	c.RMSE = fft.RMSE(orig, m.Re)
	c.Passed = c.RMSE < s.Tolerance
	return c, nil
}

// storedRoundTrip writes pattern p as an n x n matrix into the scratch
// region, runs forward and inverse there and compares the real plane with
// the input. external selects the tiled transpose route.
func (s *Suite) storedRoundTrip(p Pattern, n int, external bool) (Check, error) {
	c := Check{Name: "round-trip", Pattern: p.String(), Size: n}
	if external {
		c.Name = "full-size-round-trip"
	}

	planes := fft.Contiguous(0, n, n)
	opts := []fft.StoredOption{fft.WithTransposeCapacity(s.TransposeCapacity)}
	if external {
		scratch := fft.Contiguous(planes.Imag+fft.PlaneBytes(n, n), n, n)
		opts = append(opts, fft.WithScratch(scratch))
	}
	m := fft.NewStored(s.scratch, n, n, planes, opts...)
	c.Route = routeName(m)

	orig := make([]float32, n*n)
	zero := make([]float32, n)
	for y := 0; y < n; y++ {
		p.Row(orig[y*n:(y+1)*n], y, n)
		if err := m.WriteRow(y, orig[y*n:(y+1)*n], zero); err != nil {
			return c, fmt.Errorf("write input row %d: %w", y, err)
		}
	}

	if external {
		if err := s.forwardOnly(m, &c); err != nil {
			return c, err
		}
		if err := s.captureSpectrum(m, &c); err != nil {
			return c, err
		}
		start := s.clock.Now()
		san, err := s.engine.Transform2D(m, true, fft.Options{Sanitize: true})
		c.Sanitize.Add(san)
		if err != nil {
			return c, err
		}
		c.Inverse = s.clock.Since(start)
	} else if err := s.forwardInverse(m, &c); err != nil {
		return c, err
	}

	got := make([]float32, n*n)
	im := make([]float32, n)
	for y := 0; y < n; y++ {
		if err := m.ReadRow(y, got[y*n:(y+1)*n], im); err != nil {
			return c, fmt.Errorf("read output row %d: %w", y, err)
		}
	}
	c.RMSE = fft.RMSE(orig, got)
	c.Passed = c.RMSE < s.Tolerance && c.Sanitize.NonFinite == 0
	if !c.Passed {
		c.Detail = fmt.Sprintf("rmse %.3g, %d non-finite", c.RMSE, c.Sanitize.NonFinite)
	}
	return c, nil
}

func (s *Suite) forwardOnly(m fft.Matrix, c *Check) error {
	start := s.clock.Now()
	san, err := s.engine.Transform2D(m, false, fft.Options{Sanitize: true})
	c.Sanitize.Add(san)
	if err != nil {
		return err
	}
	c.Forward = s.clock.Since(start)
	return nil
}

func (s *Suite) forwardInverse(m fft.Matrix, c *Check) error {
	if err := s.forwardOnly(m, c); err != nil {
		return err
	}
	start := s.clock.Now()
	san, err := s.engine.Transform2D(m, true, fft.Options{Sanitize: true})
	c.Sanitize.Add(san)
	if err != nil {
		return err
	}
	c.Inverse = s.clock.Since(start)
	return nil
}

// captureSpectrum records the strongest bins of a forward transform and
// the magnitudes of the row holding the strongest one.
func (s *Suite) captureSpectrum(m fft.Matrix, c *Check) error {
	sp, err := fft.TopPeaks(m, 4)
	if err != nil {
		return err
	}
	c.Peaks = sp.Peaks
	if len(sp.Peaks) == 0 {
		return nil
	}
	_, cols := m.Dims()
	re := make([]float32, cols)
	im := make([]float32, cols)
	if err := m.ReadRow(sp.Peaks[0].KY, re, im); err != nil {
		return err
	}
	s.lastSpectrum = make([]float64, cols)
	for x := range re {
		s.lastSpectrum[x] = math.Hypot(float64(re[x]), float64(im[x]))
	}
	return nil
}
