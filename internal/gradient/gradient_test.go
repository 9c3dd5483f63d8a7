package gradient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/xmem"
)

func init() {
	monitoring.SetLogger(nil)
}

const dstBase = 0x1000

// putFrame stores a UYVY frame whose luma is given row by row.
func putFrame(t *testing.T, s xmem.Store, luma [][]byte) {
	t.Helper()
	for y, row := range luma {
		line := make([]byte, len(row)*BytesPerPixel)
		for x, v := range row {
			line[2*x] = 0x80
			line[2*x+1] = v
		}
		require.NoError(t, s.WriteAt(line, uint32(y*len(line))))
	}
}

func filled(w, h int, f func(x, y int) byte) [][]byte {
	rows := make([][]byte, h)
	for y := range rows {
		rows[y] = make([]byte, w)
		for x := range rows[y] {
			rows[y][x] = f(x, y)
		}
	}
	return rows
}

func readImage(t *testing.T, s xmem.Store, w, h int) [][]byte {
	t.Helper()
	rows := make([][]byte, h)
	for y := range rows {
		rows[y] = make([]byte, w)
		require.NoError(t, s.ReadAt(rows[y], dstBase+uint32(y*w)))
	}
	return rows
}

func TestLumaFromUYVY(t *testing.T) {
	line := []byte{10, 1, 20, 2, 30, 3, 40, 4}
	out := make([]byte, 4)
	LumaFromUYVY(line, out)
	assert.Equal(t, []byte{1, 2, 3, 4}, out)
}

func TestConstantFrame(t *testing.T) {
	s := xmem.NewMemStore(1 << 16)
	putFrame(t, s, filled(5, 4, func(int, int) byte { return 100 }))

	require.NoError(t, NewStage(s, s, 0).Run(context.Background(), 0, dstBase, 5, 4))

	// The zero rows above and below the image make the outer rows edges.
	want := [][]byte{
		{100, 200, 200, 200, 100},
		{100, 0, 0, 0, 100},
		{100, 0, 0, 0, 100},
		{100, 200, 200, 200, 100},
	}
	assert.Equal(t, want, readImage(t, s, 5, 4))
}

func TestSobelRow(t *testing.T) {
	cases := []struct {
		name string
		step byte
		want byte
	}{
		{"strong edge clamps", 200, 255},
		{"at threshold", 10, 20},
		{"below threshold", 9, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			row := []byte{50, 50, 50 + tc.step, 50 + tc.step}
			out := make([]byte, 4)
			SobelRow(row, row, row, out)
			assert.Equal(t, []byte{50, tc.want, tc.want, 50 + tc.step}, out)
		})
	}

	narrow := make([]byte, 1)
	SobelRow([]byte{7}, []byte{9}, []byte{11}, narrow)
	assert.Equal(t, []byte{9}, narrow)
}

func TestRunWriteFailureKeepsEarlierRows(t *testing.T) {
	mem := xmem.NewMemStore(1 << 16)
	putFrame(t, mem, filled(4, 6, func(x, y int) byte { return byte(40 * x) }))
	s := xmem.NewFaultyStore(mem)
	s.FailWritesFrom(3)

	err := NewStage(s, s, 0).Run(context.Background(), 0, dstBase, 4, 6)
	require.ErrorIs(t, err, xmem.ErrInjected)

	img := readImage(t, mem, 4, 6)
	assert.NotEqual(t, []byte{0, 0, 0, 0}, img[1], "row 1 was written before the failure")
	assert.Equal(t, []byte{0, 0, 0, 0}, img[2])
}

func TestRunReadFailure(t *testing.T) {
	s := xmem.NewFaultyStore(xmem.NewMemStore(1 << 16))
	s.FailReadsFrom(1)
	err := NewStage(s, s, 0).Run(context.Background(), 0, dstBase, 4, 4)
	assert.ErrorIs(t, err, xmem.ErrInjected)
}

func TestRunInvalidDimensions(t *testing.T) {
	s := xmem.NewMemStore(1 << 12)
	assert.ErrorIs(t, NewStage(s, s, 0).Run(context.Background(), 0, 0, 0, 10), ErrDimensions)
	assert.ErrorIs(t, NewStage(s, s, 0).Run(context.Background(), 0, 0, 10, -1), ErrDimensions)
}

func TestRunCancelled(t *testing.T) {
	s := xmem.NewMemStore(1 << 16)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewStage(s, s, 1).Run(ctx, 0, dstBase, 8, 8)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunBetweenRegionViews(t *testing.T) {
	mem := xmem.NewMemStore(1 << 12)
	frameRegion := xmem.Region{Name: "frames", Base: 0x200, Size: 5 * 4 * BytesPerPixel}
	gradRegion := xmem.Region{Name: "gradient", Base: 0x400, Size: 5 * 4}
	src, dst := frameRegion.Bind(mem), gradRegion.Bind(mem)
	putFrame(t, src, filled(5, 4, func(int, int) byte { return 100 }))

	require.NoError(t, NewStage(src, dst, 0).Run(context.Background(), 0, 0, 5, 4))

	row := make([]byte, 5)
	require.NoError(t, mem.ReadAt(row, gradRegion.Base))
	assert.Equal(t, []byte{100, 200, 200, 200, 100}, row)
	require.NoError(t, mem.ReadAt(row, gradRegion.Base+15))
	assert.Equal(t, []byte{100, 200, 200, 200, 100}, row)

	err := NewStage(src, dst, 0).Run(context.Background(), 0, 1, 5, 4)
	assert.ErrorIs(t, err, xmem.ErrOutOfRange, "the last row would leave the gradient region")
	err = NewStage(src, dst, 0).Run(context.Background(), 0, 0, 5, 5)
	assert.ErrorIs(t, err, xmem.ErrOutOfRange, "the fifth frame row lies past the frame region")
}
