package classify

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rover/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func testParams(classes int) Params {
	p := Params{
		NumClasses: classes,
		W:          make([][]float64, NumFeatures),
		B:          make([]float64, classes),
		Mean:       make([]float64, NumFeatures),
		Std:        make([]float64, NumFeatures),
	}
	for i := range p.W {
		p.W[i] = make([]float64, classes)
		p.Std[i] = 1
	}
	return p
}

func TestStubModelPredictsClassZero(t *testing.T) {
	m := StubModel(4)
	feats := make([]float64, NumFeatures)
	for i := range feats {
		feats[i] = float64(i) * 0.37
	}
	class, score, err := m.Predict(feats)
	require.NoError(t, err)
	assert.Equal(t, 0, class)
	assert.Equal(t, 0.0, score)
}

func TestPredictScoresAndArgMax(t *testing.T) {
	p := testParams(3)
	p.Mean[0] = 0.5
	p.Std[0] = 0.25
	p.W[0] = []float64{1, -1, 2}
	p.W[1] = []float64{0, 3, 0}
	p.B = []float64{0.1, 0.2, -0.5}
	m, err := NewModel(p)
	require.NoError(t, err)

	feats := make([]float64, NumFeatures)
	feats[0] = 1.0 // z = (1-0.5)/0.25 = 2
	feats[1] = 0.5 // z = 0.5

	scores, err := m.Scores(feats)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2.1, -0.3, 3.5}, scores, 1e-12)

	class, score, err := m.Predict(feats)
	require.NoError(t, err)
	assert.Equal(t, 2, class)
	assert.InDelta(t, 3.5, score, 1e-12)
}

func TestPredictTiesGoToLowestIndex(t *testing.T) {
	p := testParams(3)
	p.B = []float64{1, 5, 5}
	m, err := NewModel(p)
	require.NoError(t, err)

	class, score, err := m.Predict(make([]float64, NumFeatures))
	require.NoError(t, err)
	assert.Equal(t, 1, class)
	assert.Equal(t, 5.0, score)
}

func TestDegenerateStdIsReplaced(t *testing.T) {
	p := testParams(1)
	p.Std[3] = 1e-15
	p.Mean[3] = 2
	p.W[3] = []float64{1}
	m, err := NewModel(p)
	require.NoError(t, err)

	feats := make([]float64, NumFeatures)
	feats[3] = 5
	_, score, err := m.Predict(feats)
	require.NoError(t, err)
	assert.Equal(t, 3.0, score, "(5-2)/1")
	assert.False(t, math.IsInf(score, 0))
}

func TestPredictErrors(t *testing.T) {
	class, _, err := StubModel(2).Predict(nil)
	assert.ErrorIs(t, err, ErrNoFeatures)
	assert.Equal(t, -1, class)

	class, _, err = StubModel(2).Predict(make([]float64, 3))
	assert.ErrorIs(t, err, ErrNoFeatures)
	assert.Equal(t, -1, class)

	class, _, err = StubModel(0).Predict(make([]float64, NumFeatures))
	assert.ErrorIs(t, err, ErrNoClasses)
	assert.Equal(t, -1, class)
}

func TestClassCountCapped(t *testing.T) {
	p := testParams(12)
	p.B[11] = 100
	p.B[9] = 1
	m, err := NewModel(p)
	require.NoError(t, err)
	assert.Equal(t, MaxClasses, m.Classes())

	class, _, err := m.Predict(make([]float64, NumFeatures))
	require.NoError(t, err)
	assert.Equal(t, 9, class, "classes past the cap are never scored")
}

func TestPredictDeterministic(t *testing.T) {
	p := testParams(5)
	for i := range p.W {
		for c := range p.W[i] {
			p.W[i][c] = math.Sin(float64(i*7 + c))
		}
	}
	m, err := NewModel(p)
	require.NoError(t, err)
	feats := make([]float64, NumFeatures)
	for i := range feats {
		feats[i] = math.Cos(float64(i))
	}

	c0, s0, err := m.Predict(feats)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		c, s, err := m.Predict(feats)
		require.NoError(t, err)
		assert.Equal(t, c0, c)
		assert.Equal(t, s0, s)
	}
}

func TestNewModelValidation(t *testing.T) {
	p := testParams(2)
	p.Mean = p.Mean[:3]
	_, err := NewModel(p)
	assert.ErrorContains(t, err, "mean/std")

	p = testParams(2)
	p.W = p.W[:10]
	_, err = NewModel(p)
	assert.ErrorContains(t, err, "w must have")

	p = testParams(2)
	p.W[4] = []float64{1}
	_, err = NewModel(p)
	assert.ErrorContains(t, err, "w row 4")

	_, err = NewModel(Params{NumClasses: -1})
	assert.Error(t, err)
}

func TestLoadModel(t *testing.T) {
	dir := t.TempDir()
	p := testParams(2)
	p.B = []float64{0, 1}
	data, err := json.Marshal(p)
	require.NoError(t, err)
	path := filepath.Join(dir, "model.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	m, err := LoadModel(path)
	require.NoError(t, err)
	class, _, err := m.Predict(make([]float64, NumFeatures))
	require.NoError(t, err)
	assert.Equal(t, 1, class)

	_, err = LoadModel(filepath.Join(dir, "model.txt"))
	assert.ErrorContains(t, err, ".json")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	_, err = LoadModel(bad)
	assert.ErrorContains(t, err, "parse")
}
