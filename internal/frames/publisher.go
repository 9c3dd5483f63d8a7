// Package frames publishes camera frames written to external memory.
//
// The writer rotates through a fixed number of slots. A frame becomes
// visible only after every byte has been written, and a slot is never
// reused while it is the published frame or a reader holds it.
package frames

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/xmem"
)

// BytesPerPixel is the UYVY 4:2:2 frame density.
const BytesPerPixel = 2

// MinSlots is the smallest rotation that lets the writer fill one slot
// while the other stays published.
const MinSlots = 2

var (
	// ErrFrameSize reports a frame whose length does not match the geometry.
	ErrFrameSize = errors.New("frames: frame size mismatch")
	// ErrNoFreeSlot reports that every slot is published or held by a reader.
	ErrNoFreeSlot = errors.New("frames: no free slot")
)

var logf = monitoring.Tagged("frames")

// Frame locates a published frame. Base is the store address and Offset
// the same position relative to the frame region.
type Frame struct {
	Seq    uint64    `json:"seq"`
	Base   uint32    `json:"base"`
	Offset uint32    `json:"offset"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
	At     time.Time `json:"at"`
}

// Bytes returns the frame length.
func (f Frame) Bytes() int { return f.Width * f.Height * BytesPerPixel }

// SlotBytes returns the 16-byte aligned size of one frame slot.
func SlotBytes(width, height int) uint32 {
	n := uint32(width * height * BytesPerPixel)
	return (n + xmem.BlockSize - 1) &^ (xmem.BlockSize - 1)
}

// Stats counts publisher activity.
type Stats struct {
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	WriteErrors uint64 `json:"write_errors"`
}

type slot struct {
	off     uint32
	leases  int
	writing bool
}

// Publisher owns the frame region of a store.
type Publisher struct {
	view          *xmem.View
	width, height int

	mu        sync.Mutex
	slots     []slot
	next      int
	latest    Frame
	published int // slot index of latest, -1 before the first frame
	changed   chan struct{}
	stats     Stats
}

// NewPublisher divides region into as many frame slots as fit. The region
// must hold at least MinSlots frames.
func NewPublisher(s xmem.Store, region xmem.Region, width, height int) (*Publisher, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrFrameSize, width, height)
	}
	stride := SlotBytes(width, height)
	n := int(region.Size / stride)
	if n < MinSlots {
		return nil, fmt.Errorf("region %q (%d bytes) holds %d %dx%d frames, need at least %d",
			region.Name, region.Size, n, width, height, MinSlots)
	}
	p := &Publisher{
		view:      region.Bind(s),
		width:     width,
		height:    height,
		slots:     make([]slot, n),
		published: -1,
		changed:   make(chan struct{}),
	}
	for i := range p.slots {
		p.slots[i].off = uint32(i) * stride
	}
	return p, nil
}

// Slots returns the number of frame slots.
func (p *Publisher) Slots() int { return len(p.slots) }

// View returns the frame region. Readers address frames in it by
// Frame.Offset.
func (p *Publisher) View() *xmem.View { return p.view }

// Dims returns the frame geometry.
func (p *Publisher) Dims() (width, height int) { return p.width, p.height }

// claim picks the next slot that is neither published, held nor being
// written.
func (p *Publisher) claim() (int, bool) {
	for i := 0; i < len(p.slots); i++ {
		idx := (p.next + i) % len(p.slots)
		sl := &p.slots[idx]
		if idx == p.published || sl.leases > 0 || sl.writing {
			continue
		}
		sl.writing = true
		p.next = (idx + 1) % len(p.slots)
		return idx, true
	}
	return 0, false
}

// Publish writes data into a free slot and, once the write succeeded,
// makes it the latest frame. On failure the previous frame stays
// published.
func (p *Publisher) Publish(data []byte, at time.Time) (Frame, error) {
	if len(data) != p.width*p.height*BytesPerPixel {
		return Frame{}, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(data), p.width*p.height*BytesPerPixel)
	}

	p.mu.Lock()
	idx, ok := p.claim()
	if !ok {
		p.stats.Dropped++
		p.mu.Unlock()
		return Frame{}, ErrNoFreeSlot
	}
	off := p.slots[idx].off
	p.mu.Unlock()

	err := p.view.WriteAt(data, off)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.slots[idx].writing = false
	if err != nil {
		p.stats.WriteErrors++
		return Frame{}, fmt.Errorf("write frame slot %d: %w", idx, err)
	}
	p.published = idx
	p.latest = Frame{
		Seq:    p.latest.Seq + 1,
		Base:   p.view.Region().Base + off,
		Offset: off,
		Width:  p.width,
		Height: p.height,
		At:     at,
	}
	p.stats.Published++
	close(p.changed)
	p.changed = make(chan struct{})
	return p.latest, nil
}

// Latest returns the most recent frame; ok is false before the first one.
func (p *Publisher) Latest() (Frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest, p.published >= 0
}

// Wait blocks until a frame newer than afterSeq is published.
func (p *Publisher) Wait(ctx context.Context, afterSeq uint64) (Frame, error) {
	f, release, err := p.Acquire(ctx, afterSeq)
	if err != nil {
		return Frame{}, err
	}
	release()
	return f, nil
}

// Acquire waits like Wait and holds the frame's slot until release is
// called, so the writer cannot overwrite it while it is being read.
func (p *Publisher) Acquire(ctx context.Context, afterSeq uint64) (Frame, func(), error) {
	for {
		p.mu.Lock()
		if p.published >= 0 && p.latest.Seq > afterSeq {
			idx := p.published
			p.slots[idx].leases++
			f := p.latest
			p.mu.Unlock()
			var once sync.Once
			return f, func() {
				once.Do(func() {
					p.mu.Lock()
					p.slots[idx].leases--
					p.mu.Unlock()
				})
			}, nil
		}
		changed := p.changed
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return Frame{}, nil, ctx.Err()
		case <-changed:
		}
	}
}

// Stats returns the counters.
func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
