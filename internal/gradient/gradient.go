// Package gradient turns camera frames into the 8-bit edge image the
// feature extractor consumes.
package gradient

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"

	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/rowring"
	"github.com/banshee-data/rover/internal/xmem"
)

const (
	// BytesPerPixel is the UYVY 4:2:2 frame density.
	BytesPerPixel = 2
	// Threshold is the smallest magnitude kept; weaker edges read as 0.
	Threshold = 20
	// DefaultYieldRows is how many rows are processed between yields.
	DefaultYieldRows = 10
)

// ErrDimensions reports a frame geometry the stage cannot process.
var ErrDimensions = errors.New("gradient: invalid frame dimensions")

var logf = monitoring.Tagged("gradient")

// LumaFromUYVY copies the Y samples of a UYVY line into out. The line
// holds len(out) pixels in U Y0 V Y1 order.
func LumaFromUYVY(line, out []byte) {
	for x := range out {
		out[x] = line[2*x+1]
	}
}

// LumaRows loads luma rows from UYVY frame rows stored contiguously at base.
func LumaRows(s xmem.Store, base uint32, width int) rowring.Loader {
	line := make([]byte, width*BytesPerPixel)
	stride := width * BytesPerPixel
	return func(y int, dst []byte) error {
		if err := s.ReadAt(line, base+uint32(y*stride)); err != nil {
			return err
		}
		LumaFromUYVY(line, dst)
		return nil
	}
}

// SobelRow writes the edge magnitude of cur into out. The first and last
// pixels copy the centre row, since the 3x3 kernel does not fit there.
func SobelRow(prev, cur, next, out []byte) {
	w := len(cur)
	if w == 0 {
		return
	}
	out[0] = cur[0]
	out[w-1] = cur[w-1]
	for x := 1; x < w-1; x++ {
		gx := -int(prev[x-1]) + int(prev[x+1]) -
			2*int(cur[x-1]) + 2*int(cur[x+1]) -
			int(next[x-1]) + int(next[x+1])
		gy := -int(prev[x-1]) - 2*int(prev[x]) - int(prev[x+1]) +
			int(next[x-1]) + 2*int(next[x]) + int(next[x+1])
		out[x] = magnitude(gx, gy)
	}
}

func magnitude(gx, gy int) byte {
	m := int(math.Sqrt(float64(gx*gx+gy*gy))) / 2
	switch {
	case m < Threshold:
		return 0
	case m > 255:
		return 255
	}
	return byte(m)
}

// Stage computes edge images from frames in one store into another.
type Stage struct {
	src, dst  xmem.Store
	yieldRows int
}

// NewStage returns a stage reading frames from src and writing edge images
// to dst. They are usually the frame and gradient views of one store.
// yieldRows <= 0 selects DefaultYieldRows.
func NewStage(src, dst xmem.Store, yieldRows int) *Stage {
	if yieldRows <= 0 {
		yieldRows = DefaultYieldRows
	}
	return &Stage{src: src, dst: dst, yieldRows: yieldRows}
}

// Run reads the width x height UYVY frame at frameAddr of the source and
// writes its 8-bit edge image, row-major, at dstAddr of the destination. Rows already written stay
// written when a later row fails.
func (g *Stage) Run(ctx context.Context, frameAddr, dstAddr uint32, width, height int) error {
	if width <= 0 || height <= 0 {
		err := fmt.Errorf("%w: %dx%d", ErrDimensions, width, height)
		logf("%v", err)
		return err
	}
	win, err := rowring.New(width, height, LumaRows(g.src, frameAddr, width))
	if err != nil {
		return err
	}

	out := make([]byte, width)
	for y := 0; y < height; y++ {
		if y > 0 {
			if err := win.Advance(); err != nil {
				return err
			}
		}
		prev, cur, next := win.Rows()
		SobelRow(prev, cur, next, out)
		if err := g.dst.WriteAt(out, dstAddr+uint32(y*width)); err != nil {
			return fmt.Errorf("write gradient row %d: %w", y, err)
		}

		if (y+1)%g.yieldRows == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			runtime.Gosched()
		}
	}
	return nil
}
