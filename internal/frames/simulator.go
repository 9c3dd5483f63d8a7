package frames

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/rover/internal/timeutil"
)

// Scene is a synthetic luma pattern.
type Scene int

const (
	VerticalBars Scene = iota
	HorizontalBars
	Diagonal
	Checker
	numScenes
)

func (s Scene) String() string {
	switch s {
	case VerticalBars:
		return "vertical-bars"
	case HorizontalBars:
		return "horizontal-bars"
	case Diagonal:
		return "diagonal"
	case Checker:
		return "checker"
	}
	return "unknown"
}

// Luma returns the scene's brightness at (x, y) shifted by phase pixels.
func (s Scene) Luma(x, y, phase int) byte {
	const period = 16
	on := false
	switch s {
	case VerticalBars:
		on = ((x+phase)/period)%2 == 0
	case HorizontalBars:
		on = ((y+phase)/period)%2 == 0
	case Diagonal:
		on = ((x+y+phase)/period)%2 == 0
	case Checker:
		on = ((x+phase)/period+(y/period))%2 == 0
	}
	if on {
		return 200
	}
	return 30
}

// Render fills a UYVY frame buffer with the scene.
func (s Scene) Render(buf []byte, width, height, phase int) {
	for y := 0; y < height; y++ {
		row := buf[y*width*BytesPerPixel : (y+1)*width*BytesPerPixel]
		for x := 0; x < width; x++ {
			row[2*x] = 0x80
			row[2*x+1] = s.Luma(x, y, phase)
		}
	}
}

// Simulator stands in for the camera in development mode. It renders a
// scene per frame, moving the pattern each frame and switching scenes every
// FramesPerScene frames.
type Simulator struct {
	pub            *Publisher
	clock          timeutil.Clock
	interval       time.Duration
	FramesPerScene int

	n   int
	buf []byte
}

// NewSimulator publishes a frame to pub every interval.
func NewSimulator(pub *Publisher, clock timeutil.Clock, interval time.Duration) *Simulator {
	w, h := pub.Dims()
	return &Simulator{
		pub:            pub,
		clock:          clock,
		interval:       interval,
		FramesPerScene: 20,
		buf:            make([]byte, w*h*BytesPerPixel),
	}
}

// Scene returns the scene of the next frame.
func (s *Simulator) Scene() Scene {
	per := max(1, s.FramesPerScene)
	return Scene((s.n / per) % int(numScenes))
}

// Capture renders and publishes one frame.
func (s *Simulator) Capture() (Frame, error) {
	w, h := s.pub.Dims()
	s.Scene().Render(s.buf, w, h, s.n*2)
	s.n++
	return s.pub.Publish(s.buf, s.clock.Now())
}

// Run captures frames until ctx is done. A frame that cannot be published
// is logged and skipped.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}
		if _, err := s.Capture(); err != nil {
			if errors.Is(err, ErrNoFreeSlot) {
				continue
			}
			logf("capture failed: %v", err)
		}
	}
}
