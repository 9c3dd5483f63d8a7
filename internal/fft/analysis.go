package fft

import (
	"fmt"
	"math"
)

// MaxPeaks caps TopPeaks.
const MaxPeaks = 8

// Peak is one spectrum bin.
type Peak struct {
	KY  int     `json:"ky"`
	KX  int     `json:"kx"`
	Mag float32 `json:"mag"`
}

// Spectrum summarises a transformed matrix.
type Spectrum struct {
	DC        float32
	Peaks     []Peak
	NonFinite int
}

// TopPeaks streams m row by row and returns the DC magnitude and the k
// largest non-DC magnitudes, largest first. Non-finite bins are counted and
// skipped. k is capped at MaxPeaks.
func TopPeaks(m Matrix, k int) (Spectrum, error) {
	rows, cols := m.Dims()
	if rows <= 0 || cols <= 0 {
		return Spectrum{}, fmt.Errorf("%w: invalid dims %dx%d", ErrSize, rows, cols)
	}
	k = max(0, min(k, MaxPeaks))

	var sp Spectrum
	peaks := make([]Peak, 0, k+1)
	re := make([]float32, cols)
	im := make([]float32, cols)
	for y := 0; y < rows; y++ {
		if err := m.ReadRow(y, re, im); err != nil {
			return sp, fmt.Errorf("spectrum scan: %w", err)
		}
		for x := 0; x < cols; x++ {
			if !finite(re[x]) || !finite(im[x]) {
				sp.NonFinite++
				continue
			}
			mag := float32(math.Hypot(float64(re[x]), float64(im[x])))
			if y == 0 && x == 0 {
				sp.DC = mag
				continue
			}
			peaks = considerPeak(peaks, k, Peak{KY: y, KX: x, Mag: mag})
		}
	}
	sp.Peaks = peaks
	return sp, nil
}

// considerPeak inserts p into the descending list when it beats the
// smallest kept entry. Ties keep the earlier bin.
func considerPeak(peaks []Peak, k int, p Peak) []Peak {
	if k == 0 || (len(peaks) == k && !(p.Mag > peaks[k-1].Mag)) {
		return peaks
	}
	i := len(peaks)
	for i > 0 && p.Mag > peaks[i-1].Mag {
		i--
	}
	peaks = append(peaks, Peak{})
	copy(peaks[i+1:], peaks[i:])
	peaks[i] = p
	if len(peaks) > k {
		peaks = peaks[:k]
	}
	return peaks
}

// RMSE returns the root-mean-square difference of a and b over the pairs
// where both values are finite. It returns 0 when no pair qualifies.
func RMSE(a, b []float32) float64 {
	n := min(len(a), len(b))
	var sum float64
	valid := 0
	for i := 0; i < n; i++ {
		if !finite(a[i]) || !finite(b[i]) {
			continue
		}
		d := float64(a[i]) - float64(b[i])
		sum += d * d
		valid++
	}
	if valid == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(valid))
}

func finite(x float32) bool {
	return (math.Float32bits(x)>>23)&0xFF != 0xFF
}
