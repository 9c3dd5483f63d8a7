package fft

import "math"

// sanitizeMaxExp is the largest biased float32 exponent kept by Sanitize.
// 0x93 is about 2^20, far above any magnitude an unscaled 256x256
// transform of unit-range input produces.
const sanitizeMaxExp = 0x93

// SanitizeStats counts samples zeroed by Sanitize.
type SanitizeStats struct {
	NonFinite int `json:"non_finite"`
	Clipped   int `json:"clipped"`
}

// Add accumulates o into s.
func (s *SanitizeStats) Add(o SanitizeStats) {
	s.NonFinite += o.NonFinite
	s.Clipped += o.Clipped
}

// Sanitize zeroes NaN and Inf samples and any finite sample whose exponent
// exceeds the clip limit, so one corrupted value cannot spread across a row.
func Sanitize(re, im []float32) SanitizeStats {
	var st SanitizeStats
	sanitizePlane(re, &st)
	sanitizePlane(im, &st)
	return st
}

func sanitizePlane(v []float32, st *SanitizeStats) {
	for i, x := range v {
		exp := (math.Float32bits(x) >> 23) & 0xFF
		switch {
		case exp == 0xFF:
			v[i] = 0
			st.NonFinite++
		case exp > sanitizeMaxExp:
			v[i] = 0
			st.Clipped++
		}
	}
}
