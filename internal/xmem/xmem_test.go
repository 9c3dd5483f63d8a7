package xmem

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingStore logs every transaction it receives.
type recordingStore struct {
	Store
	ops []span
}

type span struct {
	addr uint32
	n    int
}

func (r *recordingStore) ReadAt(dst []byte, addr uint32) error {
	r.ops = append(r.ops, span{addr, len(dst)})
	return r.Store.ReadAt(dst, addr)
}

func (r *recordingStore) WriteAt(src []byte, addr uint32) error {
	r.ops = append(r.ops, span{addr, len(src)})
	return r.Store.WriteAt(src, addr)
}

func TestMemStore_RoundTrip(t *testing.T) {
	s := NewMemStore(64)
	require.NoError(t, s.WriteAt([]byte{1, 2, 3, 4}, 10))

	got := make([]byte, 6)
	require.NoError(t, s.ReadAt(got, 9))
	assert.Equal(t, []byte{0, 1, 2, 3, 4, 0}, got)

	st := s.Stats()
	assert.Equal(t, uint64(1), st.Reads)
	assert.Equal(t, uint64(1), st.Writes)
	assert.Equal(t, uint64(6), st.BytesRead)
	assert.Equal(t, uint64(4), st.BytesWritten)
}

func TestMemStore_OutOfRange(t *testing.T) {
	s := NewMemStore(32)
	err := s.WriteAt(make([]byte, 8), 28)
	assert.ErrorIs(t, err, ErrOutOfRange)

	err = s.ReadAt(make([]byte, 1), math.MaxUint32)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestMemStore_LockTimeout(t *testing.T) {
	s := NewMemStore(32)
	s.SetLockTimeout(10 * time.Millisecond)

	release := s.Hold()
	err := s.ReadAt(make([]byte, 4), 0)
	release()
	assert.ErrorIs(t, err, ErrTimeout)

	assert.NoError(t, s.ReadAt(make([]byte, 4), 0))
}

func TestBlockStore_NeverCrossesBlock(t *testing.T) {
	rec := &recordingStore{Store: NewMemStore(256)}
	b := NewBlockStore(rec)

	src := make([]byte, 50)
	for i := range src {
		src[i] = byte(i)
	}
	require.NoError(t, b.WriteAt(src, 7))

	want := []span{{7, 9}, {16, 16}, {32, 16}, {48, 9}}
	assert.Equal(t, want, rec.ops)
	for _, op := range rec.ops {
		assert.LessOrEqual(t, op.n, BlockSize)
		assert.Equal(t, op.addr/BlockSize, (op.addr+uint32(op.n)-1)/BlockSize, "transfer %+v crosses a block", op)
	}

	got := make([]byte, 50)
	require.NoError(t, b.ReadAt(got, 7))
	assert.Equal(t, src, got)
}

func TestBlockStore_AbortsOnFailure(t *testing.T) {
	mem := NewMemStore(64)
	f := NewFaultyStore(mem)
	f.FailWritesFrom(2)
	b := NewBlockStore(f)

	src := []byte("0123456789abcdefXYZ")
	err := b.WriteAt(src, 0)
	require.ErrorIs(t, err, ErrInjected)

	got := make([]byte, len(src))
	require.NoError(t, mem.ReadAt(got, 0))
	assert.Equal(t, "0123456789abcdef", string(got[:16]), "first block is flushed")
	assert.Equal(t, []byte{0, 0, 0}, got[16:], "second block never written")
}

func TestLayout(t *testing.T) {
	l := NewLayout(0x1000)

	frames, err := l.Add("frames", 0, 0x400)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x400), frames.End())

	_, err = l.Add("overlap", 0x3F0, 0x20)
	assert.ErrorContains(t, err, "overlaps")

	_, err = l.Add("frames", 0x800, 0x10)
	assert.ErrorContains(t, err, "already defined")

	_, err = l.Add("huge", 0xF00, 0x200)
	assert.ErrorContains(t, err, "exceeds store size")

	grad, err := l.Append("gradient", 100)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x400), grad.Base)

	fft, err := l.Append("fft", 16)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x470), fft.Base, "appended regions are block aligned")

	r, ok := l.Region("gradient")
	require.True(t, ok)
	assert.Equal(t, grad, r)
	assert.Len(t, l.Regions(), 3)
}

func TestView_ConfinedToRegion(t *testing.T) {
	mem := NewMemStore(128)
	v := Region{Name: "scratch", Base: 32, Size: 16}.Bind(mem)

	require.NoError(t, v.WriteAt([]byte{0xAA, 0xBB}, 14))
	got := make([]byte, 2)
	require.NoError(t, mem.ReadAt(got, 46))
	assert.Equal(t, []byte{0xAA, 0xBB}, got)

	err := v.WriteAt([]byte{1, 2, 3}, 14)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.ErrorContains(t, err, "scratch")
}

func TestFloats_RoundTripLittleEndian(t *testing.T) {
	mem := NewMemStore(64)
	src := []float32{1, -2.5, float32(math.Inf(1)), 3.25e-7}
	require.NoError(t, WriteFloats(mem, 8, src))

	raw := make([]byte, 4)
	require.NoError(t, mem.ReadAt(raw, 8))
	assert.Equal(t, []byte{0x00, 0x00, 0x80, 0x3F}, raw, "1.0 little endian")

	got := make([]float32, len(src))
	require.NoError(t, ReadFloats(mem, 8, got))
	assert.Equal(t, src, got)
}

func TestFaultyStore_Heal(t *testing.T) {
	f := NewFaultyStore(NewMemStore(16))
	f.Err = errors.New("bus fault")
	f.FailReadsFrom(1)

	assert.EqualError(t, f.ReadAt(make([]byte, 1), 0), "bus fault")
	assert.EqualError(t, f.ReadAt(make([]byte, 1), 0), "bus fault")

	f.Heal()
	assert.NoError(t, f.ReadAt(make([]byte, 1), 0))
	assert.NoError(t, f.WriteAt([]byte{1}, 0))
}
