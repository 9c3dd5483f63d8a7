package hlac

// RowKernel accumulates the second-order terms of the interior pixels
// x in [1, w-1) of a centre row at least three pixels wide. Kernels differ
// only in evaluation order; all produce identical integer sums.
type RowKernel interface {
	Interior(prev, cur, next []byte, pairs []Pair, acc *[NumPairs]int64)
}

// ScalarKernel is the reference kernel, one pixel at a time.
type ScalarKernel struct{}

// Interior implements RowKernel.
func (ScalarKernel) Interior(prev, cur, next []byte, pairs []Pair, acc *[NumPairs]int64) {
	for x := 1; x < len(cur)-1; x++ {
		nb := gather(prev, cur, next, x)
		accumulatePairs(int64(cur[x]), &nb, pairs, acc)
	}
}

func gather(prev, cur, next []byte, x int) [8]int64 {
	return [8]int64{
		int64(prev[x-1]), int64(prev[x]), int64(prev[x+1]),
		int64(cur[x-1]), int64(cur[x+1]),
		int64(next[x-1]), int64(next[x]), int64(next[x+1]),
	}
}

// Vec4Kernel gathers four neighbourhoods at once and evaluates each pair
// across the four lanes before moving to the next pair.
type Vec4Kernel struct{}

// Interior implements RowKernel.
func (Vec4Kernel) Interior(prev, cur, next []byte, pairs []Pair, acc *[NumPairs]int64) {
	end := len(cur) - 1
	x := 1
	for ; x+4 <= end; x += 4 {
		var c [4]int64
		var nb [8][4]int64
		for l := 0; l < 4; l++ {
			g := gather(prev, cur, next, x+l)
			c[l] = int64(cur[x+l])
			for k := range g {
				nb[k][l] = g[k]
			}
		}
		for p, pr := range pairs {
			a, b := &nb[pr.A], &nb[pr.B]
			acc[p] += c[0]*a[0]*b[0] + c[1]*a[1]*b[1] + c[2]*a[2]*b[2] + c[3]*a[3]*b[3]
		}
	}
	for ; x < end; x++ {
		nb := gather(prev, cur, next, x)
		accumulatePairs(int64(cur[x]), &nb, pairs, acc)
	}
}
