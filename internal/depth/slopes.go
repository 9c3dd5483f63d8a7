package depth

import (
	"context"
	"fmt"
	"math"

	"github.com/banshee-data/rover/internal/frames"
	"github.com/banshee-data/rover/internal/gradient"
	"github.com/banshee-data/rover/internal/xmem"
)

const (
	// TaperWidth is how many samples from each border the slopes are
	// faded out over.
	TaperWidth = 16
	// lumaEps keeps the normalized difference finite on black pixels.
	lumaEps = 1
)

// ReadLuma copies the luma plane of f out of src, which addresses frames by
// Frame.Offset.
func ReadLuma(src xmem.Store, f frames.Frame) ([]byte, error) {
	load := gradient.LumaRows(src, f.Offset, f.Width)
	luma := make([]byte, f.Width*f.Height)
	for y := 0; y < f.Height; y++ {
		if err := load(y, luma[y*f.Width:(y+1)*f.Width]); err != nil {
			return nil, fmt.Errorf("read luma row %d of frame %d: %w", y, f.Seq, err)
		}
	}
	return luma, nil
}

// Taper is the raised-cosine weight of sample i on an n-sample axis: 0 at
// the border, rising to 1 at TaperWidth samples in.
func Taper(i, n int) float32 {
	d := min(i, n-1-i)
	if d >= TaperWidth || n <= 2*TaperWidth {
		return 1
	}
	t := float64(d) / TaperWidth
	return float32(0.5 - 0.5*math.Cos(math.Pi*t))
}

// Slopes samples a width x height luma image onto a size x size grid and
// estimates the surface slopes as normalized intensity differences,
// (I1 - I0) / (I1 + I0). The last column of p and last row of q are zero.
func Slopes(luma []byte, width, height, size int) (p, q []float32, err error) {
	if width <= 0 || height <= 0 || len(luma) != width*height {
		return nil, nil, fmt.Errorf("%w: %d luma samples for %dx%d", ErrSize, len(luma), width, height)
	}
	if size < 2 {
		return nil, nil, fmt.Errorf("%w: size %d", ErrSize, size)
	}
	grid := make([]float32, size*size)
	for y := 0; y < size; y++ {
		sy := y * height / size
		for x := 0; x < size; x++ {
			grid[y*size+x] = float32(luma[sy*width+x*width/size])
		}
	}

	p = make([]float32, size*size)
	q = make([]float32, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := y*size + x
			w := Taper(x, size) * Taper(y, size)
			if x+1 < size {
				p[i] = w * normDiff(grid[i], grid[i+1])
			}
			if y+1 < size {
				q[i] = w * normDiff(grid[i], grid[i+size])
			}
		}
	}
	return p, q, nil
}

func normDiff(i0, i1 float32) float32 {
	return (i1 - i0) / (i1 + i0 + lumaEps)
}

// FromLuma reconstructs depth from a luma image.
func (r *Reconstructor) FromLuma(ctx context.Context, luma []byte, width, height int) (*Map, error) {
	p, q, err := Slopes(luma, width, height, r.size)
	if err != nil {
		return nil, err
	}
	m, err := r.Integrate(ctx, p, q)
	if err != nil {
		logf("reconstruction from %dx%d luma failed: %v", width, height, err)
		return nil, err
	}
	return m, nil
}
