package selftest

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rover/internal/fft"
	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/timeutil"
	"github.com/banshee-data/rover/internal/xmem"
)

func init() {
	monitoring.SetLogger(nil)
}

func newSuite(t *testing.T, s xmem.Store, large int) *Suite {
	t.Helper()
	region := xmem.Region{Name: "fft", Base: 0x1000, Size: RegionBytes(max(SmallSize, large))}
	suite := NewSuite(fft.NewEngine(), region.Bind(s), timeutil.NewMockClock(time.Unix(0, 0)))
	suite.LargeSize = large
	return suite
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, Stats{}, Summarize(nil))
	got := Summarize([]float64{1, 2, 3})
	assert.Equal(t, 3, got.Count)
	assert.InDelta(t, 2, got.Mean, 1e-12)
	assert.InDelta(t, 1, got.StdDev, 1e-12)
	assert.Equal(t, 1.0, got.Min)
	assert.Equal(t, 3.0, got.Max)
	assert.Equal(t, 0.0, Summarize([]float64{5}).StdDev)
}

func TestPatterns(t *testing.T) {
	assert.Len(t, Patterns, 5)
	assert.Equal(t, float32(0.01), Linear.Value(1, 0, 16))
	assert.Equal(t, float32(1), Step.Value(0, 0, 16))
	assert.Equal(t, float32(0), Step.Value(2, 0, 16))
	assert.Equal(t, float32(0), Sine2D.Value(0, 5, 16))
	assert.InDelta(t, 1, Sine2D.Value(4, 4, 16), 1e-6)

	row := make([]float32, 4)
	PseudoRandom.Row(row, 0, 4)
	assert.Equal(t, []float32{0.31, 0.48, 0.65, 0.82}, row)
	assert.Equal(t, "pseudo-random", PseudoRandom.String())
}

func TestRunPasses(t *testing.T) {
	suite := newSuite(t, xmem.NewMemStore(1<<20), 32)
	r, err := suite.Run(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, r.ID)
	assert.True(t, r.Passed, "failed checks: %+v", r.Failed())
	require.Len(t, r.Checks, 3+len(Patterns)+1)

	names := map[string]int{}
	routes := map[string]string{}
	for _, c := range r.Checks {
		names[c.Name]++
		routes[c.Name] = c.Route
	}
	assert.Equal(t, map[string]int{
		"impulse":              1,
		"sine-peak":            1,
		"dense-round-trip":     1,
		"round-trip":           len(Patterns),
		"full-size-round-trip": 1,
	}, names)
	assert.Equal(t, "buffer", routes["round-trip"])
	assert.Equal(t, "external", routes["full-size-round-trip"])

	assert.Equal(t, len(Patterns), r.RoundTrip.Count)
	assert.Less(t, r.RoundTrip.Max, DefaultTolerance)

	full := r.Checks[len(r.Checks)-1]
	require.NotEmpty(t, full.Peaks)
	assert.Contains(t, []int{2, 30}, full.Peaks[0].KY)
	assert.Contains(t, []int{2, 30}, full.Peaks[0].KX)
	assert.Len(t, r.Spectrum, 32)
}

func TestRunStaysInsideScratchRegion(t *testing.T) {
	mem := xmem.NewMemStore(1 << 16)
	fill := bytes.Repeat([]byte{0xA5}, 1<<16)
	require.NoError(t, mem.WriteAt(fill, 0))

	suite := newSuite(t, mem, 0)
	r, err := suite.Run(context.Background())
	require.NoError(t, err)
	require.True(t, r.Passed, "failed checks: %+v", r.Failed())

	reg := suite.scratch.Region()
	assert.Equal(t, uint32(0x1000), reg.Base)
	got := make([]byte, 1<<16)
	require.NoError(t, mem.ReadAt(got, 0))
	assert.Equal(t, fill[:reg.Base], got[:reg.Base], "below the scratch region")
	assert.Equal(t, fill[reg.End():], got[reg.End():], "above the scratch region")
	assert.NotEqual(t, fill[reg.Base:reg.End()], got[reg.Base:reg.End()])
}

func TestRunSkipsLarge(t *testing.T) {
	suite := newSuite(t, xmem.NewMemStore(1<<16), 0)
	r, err := suite.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, r.Checks, 3+len(Patterns))
	assert.Empty(t, r.Spectrum)
}

func TestRunReportsStoreFailures(t *testing.T) {
	s := xmem.NewFaultyStore(xmem.NewMemStore(1 << 20))
	s.FailWritesFrom(1)
	suite := newSuite(t, s, 32)

	r, err := suite.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, r.Passed)

	failed := r.Failed()
	require.Len(t, failed, len(Patterns)+1, "every stored check fails, in-memory ones pass")
	for _, c := range failed {
		assert.Contains(t, c.Detail, "injected")
	}
	assert.Equal(t, 0, r.RoundTrip.Count)
}

func TestRunRejectsSmallRegion(t *testing.T) {
	scratch := xmem.Region{Name: "fft", Size: 64}.Bind(xmem.NewMemStore(1 << 16))
	suite := NewSuite(fft.NewEngine(), scratch, timeutil.RealClock{})
	_, err := suite.Run(context.Background())
	assert.ErrorContains(t, err, `selftest region "fft" holds 64 bytes`)
}

func TestRunCancelled(t *testing.T) {
	suite := newSuite(t, xmem.NewMemStore(1<<16), 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := suite.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWritePlots(t *testing.T) {
	suite := newSuite(t, xmem.NewMemStore(1<<20), 32)
	r, err := suite.Run(context.Background())
	require.NoError(t, err)

	files, err := WritePlots(t.TempDir(), r)
	require.NoError(t, err)
	require.Len(t, files, 2)
	for _, f := range files {
		info, err := os.Stat(f)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}
}
