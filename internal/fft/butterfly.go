package fft

// Twiddles addresses the engine's table for one butterfly stage. Entry m of
// the stage is (Cos[m*Stride], Sign*Sin[m*Stride]); Sign is -1 for the
// forward transform and +1 for the inverse.
type Twiddles struct {
	Cos, Sin []float32
	Stride   int
	Sign     float32
}

// BlockProcessor applies the butterflies of one block. re and im hold
// exactly 2*half samples; sample m is combined with sample m+half.
type BlockProcessor interface {
	Butterflies(re, im []float32, half int, tw Twiddles)
}

// Scalar is the reference butterfly, one pair at a time.
type Scalar struct{}

// Butterflies implements BlockProcessor.
func (Scalar) Butterflies(re, im []float32, half int, tw Twiddles) {
	for m := 0; m < half; m++ {
		butterfly(re, im, m, half, tw)
	}
}

func butterfly(re, im []float32, m, half int, tw Twiddles) {
	wr := tw.Cos[m*tw.Stride]
	wi := tw.Sign * tw.Sin[m*tw.Stride]
	j := m + half
	tr := wr*re[j] - wi*im[j]
	ti := wr*im[j] + wi*re[j]
	re[j] = re[m] - tr
	im[j] = im[m] - ti
	re[m] += tr
	im[m] += ti
}

// Vec4 processes four butterflies per iteration with the lanes laid out in
// local arrays, the shape a 4-wide SIMD unit consumes. Blocks narrower than
// four pairs and any remainder fall back to the scalar butterfly.
type Vec4 struct{}

// Butterflies implements BlockProcessor.
func (Vec4) Butterflies(re, im []float32, half int, tw Twiddles) {
	m := 0
	for ; m+4 <= half; m += 4 {
		var wr, wi, tr, ti [4]float32
		for l := 0; l < 4; l++ {
			wr[l] = tw.Cos[(m+l)*tw.Stride]
			wi[l] = tw.Sign * tw.Sin[(m+l)*tw.Stride]
		}
		hr := re[m+half : m+half+4 : m+half+4]
		hi := im[m+half : m+half+4 : m+half+4]
		lr := re[m : m+4 : m+4]
		li := im[m : m+4 : m+4]
		for l := 0; l < 4; l++ {
			tr[l] = wr[l]*hr[l] - wi[l]*hi[l]
			ti[l] = wr[l]*hi[l] + wi[l]*hr[l]
		}
		for l := 0; l < 4; l++ {
			hr[l] = lr[l] - tr[l]
			hi[l] = li[l] - ti[l]
			lr[l] += tr[l]
			li[l] += ti[l]
		}
	}
	for ; m < half; m++ {
		butterfly(re, im, m, half, tw)
	}
}
