package frames

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/timeutil"
	"github.com/banshee-data/rover/internal/xmem"
)

func init() {
	monitoring.SetLogger(nil)
}

var epoch = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func newPublisher(t *testing.T, s xmem.Store, w, h, slots int) *Publisher {
	t.Helper()
	region := xmem.Region{Name: "frames", Base: 0x100, Size: SlotBytes(w, h) * uint32(slots)}
	p, err := NewPublisher(s, region, w, h)
	require.NoError(t, err)
	require.Equal(t, slots, p.Slots())
	return p
}

func frameOf(w, h int, v byte) []byte {
	return bytes.Repeat([]byte{v}, w*h*BytesPerPixel)
}

func TestSlotBytes(t *testing.T) {
	assert.Equal(t, uint32(153600), SlotBytes(320, 240))
	assert.Equal(t, uint32(16), SlotBytes(3, 1))
	assert.Equal(t, uint32(32), SlotBytes(9, 1))
}

func TestNewPublisherRejects(t *testing.T) {
	s := xmem.NewMemStore(1 << 12)
	_, err := NewPublisher(s, xmem.Region{Name: "tiny", Size: 8}, 4, 4)
	assert.Error(t, err)
	_, err = NewPublisher(s, xmem.Region{Name: "frames", Size: 1024}, 0, 4)
	assert.ErrorIs(t, err, ErrFrameSize)
}

func TestNewPublisherRequiresTwoSlots(t *testing.T) {
	s := xmem.NewMemStore(1 << 12)
	stride := SlotBytes(4, 2)

	_, err := NewPublisher(s, xmem.Region{Name: "frames", Size: stride}, 4, 2)
	assert.ErrorContains(t, err, "need at least 2")
	_, err = NewPublisher(s, xmem.Region{Name: "frames", Size: 2*stride - 1}, 4, 2)
	assert.ErrorContains(t, err, "need at least 2")

	p, err := NewPublisher(s, xmem.Region{Name: "frames", Size: MinSlots * stride}, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, MinSlots, p.Slots())

	// With the minimum rotation a reader holding the latest frame never
	// blocks the next capture.
	_, err = p.Publish(frameOf(4, 2, 1), epoch)
	require.NoError(t, err)
	_, release, err := p.Acquire(context.Background(), 0)
	require.NoError(t, err)
	defer release()
	f, err := p.Publish(frameOf(4, 2, 2), epoch)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f.Seq)
	assert.Zero(t, p.Stats().Dropped)
}

func TestFramesAddressedThroughView(t *testing.T) {
	s := xmem.NewMemStore(1 << 12)
	p := newPublisher(t, s, 4, 2, 2)
	assert.Equal(t, xmem.Region{Name: "frames", Base: 0x100, Size: 2 * SlotBytes(4, 2)}, p.View().Region())

	_, err := p.Publish(frameOf(4, 2, 7), epoch)
	require.NoError(t, err)
	f, err := p.Publish(frameOf(4, 2, 9), epoch)
	require.NoError(t, err)
	assert.Equal(t, SlotBytes(4, 2), f.Offset)
	assert.Equal(t, p.View().Region().Base+f.Offset, f.Base)

	got := make([]byte, f.Bytes())
	require.NoError(t, p.View().ReadAt(got, f.Offset))
	assert.Equal(t, frameOf(4, 2, 9), got)

	err = p.View().ReadAt(got, f.Offset+1)
	assert.ErrorIs(t, err, xmem.ErrOutOfRange, "the view ends with the last slot")
}

func TestPublishRotatesSlots(t *testing.T) {
	s := xmem.NewMemStore(1 << 16)
	p := newPublisher(t, s, 4, 2, 3)

	_, ok := p.Latest()
	assert.False(t, ok)

	var bases []uint32
	for i := 1; i <= 4; i++ {
		f, err := p.Publish(frameOf(4, 2, byte(i)), epoch)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), f.Seq)
		bases = append(bases, f.Base)

		got := make([]byte, f.Bytes())
		require.NoError(t, s.ReadAt(got, f.Base))
		assert.Equal(t, frameOf(4, 2, byte(i)), got)
	}
	assert.Equal(t, []uint32{0x100, 0x110, 0x120, 0x100}, bases)

	latest, ok := p.Latest()
	require.True(t, ok)
	assert.Equal(t, Frame{Seq: 4, Base: 0x100, Width: 4, Height: 2, At: epoch}, latest)

	_, err := p.Publish([]byte{1, 2, 3}, epoch)
	assert.ErrorIs(t, err, ErrFrameSize)
}

func TestHeldSlotIsNotOverwritten(t *testing.T) {
	s := xmem.NewMemStore(1 << 16)
	p := newPublisher(t, s, 4, 2, 2)

	_, err := p.Publish(frameOf(4, 2, 1), epoch)
	require.NoError(t, err)
	held, release, err := p.Acquire(context.Background(), 0)
	require.NoError(t, err)

	_, err = p.Publish(frameOf(4, 2, 2), epoch)
	require.NoError(t, err)
	_, err = p.Publish(frameOf(4, 2, 3), epoch)
	require.ErrorIs(t, err, ErrNoFreeSlot, "one slot is held, the other is published")
	assert.Equal(t, uint64(1), p.Stats().Dropped)

	got := make([]byte, held.Bytes())
	require.NoError(t, s.ReadAt(got, held.Base))
	assert.Equal(t, frameOf(4, 2, 1), got)

	release()
	release()
	f, err := p.Publish(frameOf(4, 2, 3), epoch)
	require.NoError(t, err)
	assert.Equal(t, held.Base, f.Base)
}

func TestFailedWriteKeepsPreviousFrame(t *testing.T) {
	s := xmem.NewFaultyStore(xmem.NewMemStore(1 << 16))
	p := newPublisher(t, s, 4, 2, 2)

	first, err := p.Publish(frameOf(4, 2, 1), epoch)
	require.NoError(t, err)

	s.FailWritesFrom(1)
	_, err = p.Publish(frameOf(4, 2, 2), epoch)
	require.ErrorIs(t, err, xmem.ErrInjected)

	latest, _ := p.Latest()
	assert.Equal(t, first, latest)
	assert.Equal(t, Stats{Published: 1, WriteErrors: 1}, p.Stats())

	s.Heal()
	next, err := p.Publish(frameOf(4, 2, 3), epoch)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next.Seq)
}

func TestWait(t *testing.T) {
	p := newPublisher(t, xmem.NewMemStore(1<<16), 4, 2, 2)

	got := make(chan Frame, 1)
	go func() {
		f, err := p.Wait(context.Background(), 0)
		if err == nil {
			got <- f
		}
	}()

	_, err := p.Publish(frameOf(4, 2, 1), epoch)
	require.NoError(t, err)
	select {
	case f := <-got:
		assert.Equal(t, uint64(1), f.Seq)
	case <-time.After(time.Second):
		t.Fatal("Wait did not observe the published frame")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Wait(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSceneRender(t *testing.T) {
	buf := make([]byte, 32*2*BytesPerPixel)
	VerticalBars.Render(buf, 32, 2, 0)
	assert.Equal(t, byte(0x80), buf[0])
	assert.Equal(t, byte(200), buf[1], "x=0 is in a bright bar")
	assert.Equal(t, byte(30), buf[2*16+1], "x=16 is in a dark bar")

	assert.Equal(t, byte(30), VerticalBars.Luma(0, 0, 16), "phase shifts the pattern")
	assert.Equal(t, byte(30), HorizontalBars.Luma(0, 20, 0))
	assert.Equal(t, "checker", Checker.String())
}

func TestSimulatorCapture(t *testing.T) {
	s := xmem.NewMemStore(1 << 16)
	p := newPublisher(t, s, 32, 4, 2)
	clock := timeutil.NewMockClock(epoch)
	sim := NewSimulator(p, clock, 100*time.Millisecond)
	sim.FramesPerScene = 1

	var scenes []Scene
	for i := 0; i < 5; i++ {
		scenes = append(scenes, sim.Scene())
		f, err := sim.Capture()
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), f.Seq)
	}
	assert.Equal(t, []Scene{VerticalBars, HorizontalBars, Diagonal, Checker, VerticalBars}, scenes)
}

func TestSimulatorRun(t *testing.T) {
	p := newPublisher(t, xmem.NewMemStore(1<<16), 8, 2, 2)
	clock := timeutil.NewMockClock(epoch)
	sim := NewSimulator(p, clock, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()

	require.Eventually(t, func() bool {
		clock.Advance(100 * time.Millisecond)
		return p.Stats().Published >= 3
	}, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
