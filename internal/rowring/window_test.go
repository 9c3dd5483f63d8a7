package rowring

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rover/internal/xmem"
)

func TestWindow_SlidesWithZeroFill(t *testing.T) {
	mem := xmem.NewMemStore(64)
	img := []byte{
		1, 2,
		3, 4,
		5, 6,
	}
	require.NoError(t, mem.WriteAt(img, 16))

	w, err := New(2, 3, StoreRows(mem, 16, 2))
	require.NoError(t, err)

	want := [][3][]byte{
		{{0, 0}, {1, 2}, {3, 4}},
		{{1, 2}, {3, 4}, {5, 6}},
		{{3, 4}, {5, 6}, {0, 0}},
	}
	for y, rows := range want {
		if y > 0 {
			require.NoError(t, w.Advance())
		}
		assert.Equal(t, y, w.Y())
		prev, cur, next := w.Rows()
		assert.Equal(t, rows[0], prev, "prev at y=%d", y)
		assert.Equal(t, rows[1], cur, "cur at y=%d", y)
		assert.Equal(t, rows[2], next, "next at y=%d", y)
	}
}

func TestWindow_SingleRow(t *testing.T) {
	w, err := New(3, 1, func(y int, dst []byte) error {
		copy(dst, []byte{7, 8, 9})
		return nil
	})
	require.NoError(t, err)
	prev, cur, next := w.Rows()
	assert.Equal(t, []byte{0, 0, 0}, prev)
	assert.Equal(t, []byte{7, 8, 9}, cur)
	assert.Equal(t, []byte{0, 0, 0}, next)
}

func TestWindow_LoadError(t *testing.T) {
	boom := errors.New("boom")
	w, err := New(4, 4, func(y int, dst []byte) error {
		if y == 2 {
			return boom
		}
		return nil
	})
	require.NoError(t, err)
	err = w.Advance()
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "load row 2")
}
