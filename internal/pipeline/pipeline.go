// Package pipeline runs the operational loop: every new frame is reduced
// to an edge image, described by its HLAC features, classified, and the
// resulting command is posted to the motor task.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/rover/internal/actuate"
	"github.com/banshee-data/rover/internal/classify"
	"github.com/banshee-data/rover/internal/db"
	"github.com/banshee-data/rover/internal/frames"
	"github.com/banshee-data/rover/internal/gradient"
	"github.com/banshee-data/rover/internal/hlac"
	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/timeutil"
	"github.com/banshee-data/rover/internal/xmem"
)

var logf = monitoring.Tagged("pipeline")

// Recorder stores predictions. *db.DB implements it.
type Recorder interface {
	RecordPrediction(p *db.Prediction) error
}

// Result is the outcome of one processed frame.
type Result struct {
	Frame    frames.Frame  `json:"frame"`
	Command  string        `json:"command"`
	Label    int           `json:"label"`
	Score    float64       `json:"score"`
	Scores   []float64     `json:"scores"`
	Features hlac.Vector   `json:"features"`
	Elapsed  time.Duration `json:"elapsed_ns"`
	At       time.Time     `json:"at"`
}

// Stats counts processed and skipped frames.
type Stats struct {
	Processed    uint64 `json:"processed"`
	Skipped      uint64 `json:"skipped"`
	RecordErrors uint64 `json:"record_errors"`
}

// Config wires a Pipeline to its collaborators.
type Config struct {
	Frames       *frames.Publisher
	Gradient     *gradient.Stage
	Extractor    *hlac.Extractor
	Model        *classify.Model
	Mailbox      *actuate.Mailbox
	Clock        timeutil.Clock

	// Gradient reads frames at Frame.Offset, so its source is the
	// publisher's View. It writes the edge image at GradientBase of Store,
	// where the extractor reads it back.
	GradientBase uint32
	Store        xmem.Store

	// Recorder, when set, receives every prediction.
	Recorder Recorder
	// RepeatBelow, when set, posts RepeatLast instead of a label whose
	// score falls below it.
	RepeatBelow *float64
	// SessionID tags recorded predictions; a random one is used when empty.
	SessionID string
}

// Pipeline is the capture-to-command loop.
type Pipeline struct {
	cfg Config

	mu        sync.Mutex
	latest    Result
	hasLatest bool
	stats     Stats
}

// New validates cfg and returns a pipeline.
func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Frames == nil:
		return nil, errors.New("pipeline: no frame publisher")
	case cfg.Gradient == nil || cfg.Extractor == nil || cfg.Store == nil:
		return nil, errors.New("pipeline: missing image stages")
	case cfg.Model == nil:
		return nil, errors.New("pipeline: no model")
	case cfg.Mailbox == nil:
		return nil, errors.New("pipeline: no mailbox")
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	return &Pipeline{cfg: cfg}, nil
}

// SessionID returns the identifier stamped on recorded predictions.
func (p *Pipeline) SessionID() string { return p.cfg.SessionID }

// Process handles the first frame newer than afterSeq. The frame is held
// while the edge image is computed so the camera cannot overwrite it.
func (p *Pipeline) Process(ctx context.Context, afterSeq uint64) (Result, error) {
	f, release, err := p.cfg.Frames.Acquire(ctx, afterSeq)
	if err != nil {
		return Result{}, err
	}
	start := p.cfg.Clock.Now()
	res := Result{Frame: f, Label: -1}

	err = p.cfg.Gradient.Run(ctx, f.Offset, p.cfg.GradientBase, f.Width, f.Height)
	release()
	if err != nil {
		return res, fmt.Errorf("frame %d gradient: %w", f.Seq, err)
	}

	res.Features, err = p.cfg.Extractor.Extract(ctx, p.cfg.Store, p.cfg.GradientBase, f.Width, f.Height)
	if err != nil {
		return res, fmt.Errorf("frame %d features: %w", f.Seq, err)
	}

	res.Scores, err = p.cfg.Model.Scores(res.Features[:])
	if err != nil {
		return res, fmt.Errorf("frame %d classify: %w", f.Seq, err)
	}
	res.Label, res.Score = classify.ArgMax(res.Scores)

	cmd := actuate.Predicted(res.Label)
	if p.cfg.RepeatBelow != nil && res.Score < *p.cfg.RepeatBelow {
		cmd = actuate.RepeatLast()
	}
	p.cfg.Mailbox.Post(cmd)
	res.Command = cmd.String()
	res.At = p.cfg.Clock.Now()
	res.Elapsed = res.At.Sub(start)

	p.mu.Lock()
	p.latest, p.hasLatest = res, true
	p.stats.Processed++
	p.mu.Unlock()

	if p.cfg.Recorder != nil {
		pred := &db.Prediction{
			SessionID: p.cfg.SessionID,
			FrameSeq:  f.Seq,
			Label:     res.Label,
			Score:     res.Score,
			Features:  res.Features[:],
			Elapsed:   res.Elapsed,
			CreatedAt: res.At,
		}
		if err := p.cfg.Recorder.RecordPrediction(pred); err != nil {
			p.mu.Lock()
			p.stats.RecordErrors++
			p.mu.Unlock()
			logf("record frame %d: %v", f.Seq, err)
		}
	}
	return res, nil
}

// Run processes frames until ctx is done. A frame that fails is logged
// and skipped; the loop carries on with the next one.
func (p *Pipeline) Run(ctx context.Context) error {
	var seq uint64
	for {
		res, err := p.Process(ctx, seq)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			p.mu.Lock()
			p.stats.Skipped++
			p.mu.Unlock()
			logf("skipping frame: %v", err)
		}
		if res.Frame.Seq > seq {
			seq = res.Frame.Seq
		}
	}
}

// Latest returns the most recent result; ok is false before the first.
func (p *Pipeline) Latest() (Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest, p.hasLatest
}

// Stats returns the counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
