// Package classify scores HLAC feature vectors with a linear discriminant
// model trained offline.
package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/rover/internal/hlac"
	"github.com/banshee-data/rover/internal/monitoring"
)

const (
	// NumFeatures is the feature vector length the model consumes.
	NumFeatures = hlac.NumFeatures
	// MaxClasses caps the number of discriminants evaluated.
	MaxClasses = 10
	// stdEpsilon is the smallest standard deviation used as a divisor.
	stdEpsilon = 1e-12
	// maxModelFileSize guards LoadModel against oversized files.
	maxModelFileSize = 1 * 1024 * 1024
)

var (
	// ErrNoFeatures is returned when Predict is given no feature vector.
	ErrNoFeatures = errors.New("classify: missing feature vector")
	// ErrNoClasses is returned when the model has no classes configured.
	ErrNoClasses = errors.New("classify: model has no classes")
)

var logf = monitoring.Tagged("classify")

// Params is the serialised form of a model. W has NumFeatures rows of
// NumClasses weights each.
type Params struct {
	NumClasses int         `json:"num_classes"`
	W          [][]float64 `json:"w"`
	B          []float64   `json:"b"`
	Mean       []float64   `json:"mean"`
	Std        []float64   `json:"std"`
}

// Model is an immutable linear classifier:
//
//	score[c] = b[c] + sum_i W[i][c] * (f[i]-mean[i]) / std[i]
type Model struct {
	classes int
	w       *mat.Dense
	b       *mat.VecDense
	mean    []float64
	std     []float64
}

// NewModel validates p and builds a Model. A class count above MaxClasses
// is capped; the extra columns are ignored.
func NewModel(p Params) (*Model, error) {
	c := p.NumClasses
	if c < 0 {
		return nil, fmt.Errorf("num_classes must be non-negative, got %d", c)
	}
	if c > MaxClasses {
		logf("num_classes %d exceeds %d, extra classes ignored", c, MaxClasses)
		c = MaxClasses
	}
	if len(p.Mean) != NumFeatures || len(p.Std) != NumFeatures {
		return nil, fmt.Errorf("mean/std must have %d entries, got %d/%d", NumFeatures, len(p.Mean), len(p.Std))
	}
	m := &Model{
		classes: c,
		mean:    append([]float64(nil), p.Mean...),
		std:     make([]float64, NumFeatures),
	}
	for i, s := range p.Std {
		if math.Abs(s) < stdEpsilon {
			s = 1
		}
		m.std[i] = s
	}
	if c == 0 {
		return m, nil
	}

	if len(p.W) != NumFeatures {
		return nil, fmt.Errorf("w must have %d rows, got %d", NumFeatures, len(p.W))
	}
	if len(p.B) < c {
		return nil, fmt.Errorf("b must have at least %d entries, got %d", c, len(p.B))
	}
	w := mat.NewDense(NumFeatures, c, nil)
	for i, row := range p.W {
		if len(row) < c {
			return nil, fmt.Errorf("w row %d has %d weights, need %d", i, len(row), c)
		}
		w.SetRow(i, row[:c])
	}
	m.w = w
	m.b = mat.NewVecDense(c, append([]float64(nil), p.B[:c]...))
	return m, nil
}

// StubModel returns a model with all parameters zero and unit deviations.
// Every input scores 0 for every class, so Predict always returns class 0.
func StubModel(classes int) *Model {
	p := Params{
		NumClasses: classes,
		W:          make([][]float64, NumFeatures),
		B:          make([]float64, classes),
		Mean:       make([]float64, NumFeatures),
		Std:        make([]float64, NumFeatures),
	}
	for i := range p.W {
		p.W[i] = make([]float64, classes)
	}
	m, err := NewModel(p)
	if err != nil {
		panic(err)
	}
	return m
}

// LoadModel reads model parameters from a JSON file.
func LoadModel(path string) (*Model, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("model file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat model file: %w", err)
	}
	if info.Size() > maxModelFileSize {
		return nil, fmt.Errorf("model file too large: %d bytes (max %d)", info.Size(), maxModelFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}
	var p Params
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse model JSON: %w", err)
	}
	m, err := NewModel(p)
	if err != nil {
		return nil, fmt.Errorf("invalid model: %w", err)
	}
	return m, nil
}

// Classes returns the number of classes evaluated.
func (m *Model) Classes() int { return m.classes }

// Scores returns the discriminant score of every class.
func (m *Model) Scores(feats []float64) ([]float64, error) {
	if feats == nil {
		return nil, ErrNoFeatures
	}
	if len(feats) != NumFeatures {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrNoFeatures, len(feats), NumFeatures)
	}
	if m.classes == 0 {
		return nil, ErrNoClasses
	}
	z := mat.NewVecDense(NumFeatures, nil)
	for i, f := range feats {
		z.SetVec(i, (f-m.mean[i])/m.std[i])
	}
	var s mat.VecDense
	s.MulVec(m.w.T(), z)
	s.AddVec(&s, m.b)
	return append([]float64(nil), s.RawVector().Data...), nil
}

// Predict returns the highest-scoring class and its score. Ties go to the
// lowest class index. On error the class is -1.
func (m *Model) Predict(feats []float64) (int, float64, error) {
	scores, err := m.Scores(feats)
	if err != nil {
		logf("predict rejected: %v", err)
		return -1, 0, err
	}
	best, bestScore := ArgMax(scores)
	return best, bestScore, nil
}

// ArgMax returns the index and value of the largest score, preferring the
// first on ties. An empty slice yields (0, -Inf).
func ArgMax(scores []float64) (int, float64) {
	best, bestScore := 0, math.Inf(-1)
	for c, s := range scores {
		if s > bestScore {
			best, bestScore = c, s
		}
	}
	return best, bestScore
}
