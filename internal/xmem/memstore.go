package xmem

import (
	"sync/atomic"
	"time"
)

const (
	// DefaultSize matches the 8 MiB part fitted to the board.
	DefaultSize = 8 << 20
	// DefaultLockTimeout bounds how long a transfer waits for the device.
	DefaultLockTimeout = 5 * time.Second
)

// Stats counts completed transactions on a MemStore.
type Stats struct {
	Reads        uint64
	Writes       uint64
	BytesRead    uint64
	BytesWritten uint64
}

// MemStore is an in-process emulation of the external RAM. Every transfer
// takes the device lock, mirroring the driver's mutex; a transfer that cannot
// take the lock within the timeout fails with ErrTimeout instead of hanging.
type MemStore struct {
	lock    chan struct{}
	data    []byte
	timeout time.Duration

	reads, writes           atomic.Uint64
	bytesRead, bytesWritten atomic.Uint64
}

// NewMemStore allocates a zeroed store of size bytes.
func NewMemStore(size uint32) *MemStore {
	return &MemStore{
		lock:    make(chan struct{}, 1),
		data:    make([]byte, size),
		timeout: DefaultLockTimeout,
	}
}

// SetLockTimeout changes how long transfers wait for the device lock.
func (s *MemStore) SetLockTimeout(d time.Duration) {
	s.timeout = d
}

// Size returns the capacity of the store in bytes.
func (s *MemStore) Size() uint32 { return uint32(len(s.data)) }

func (s *MemStore) acquire() error {
	select {
	case s.lock <- struct{}{}:
		return nil
	default:
	}
	t := time.NewTimer(s.timeout)
	defer t.Stop()
	select {
	case s.lock <- struct{}{}:
		return nil
	case <-t.C:
		return ErrTimeout
	}
}

func (s *MemStore) release() { <-s.lock }

// ReadAt copies len(dst) bytes starting at addr into dst.
func (s *MemStore) ReadAt(dst []byte, addr uint32) error {
	if err := checkRange(addr, len(dst), s.Size()); err != nil {
		return err
	}
	if err := s.acquire(); err != nil {
		return err
	}
	copy(dst, s.data[addr:])
	s.release()
	s.reads.Add(1)
	s.bytesRead.Add(uint64(len(dst)))
	return nil
}

// WriteAt copies src into the store starting at addr.
func (s *MemStore) WriteAt(src []byte, addr uint32) error {
	if err := checkRange(addr, len(src), s.Size()); err != nil {
		return err
	}
	if err := s.acquire(); err != nil {
		return err
	}
	copy(s.data[addr:], src)
	s.release()
	s.writes.Add(1)
	s.bytesWritten.Add(uint64(len(src)))
	return nil
}

// Stats returns a snapshot of the transaction counters.
func (s *MemStore) Stats() Stats {
	return Stats{
		Reads:        s.reads.Load(),
		Writes:       s.writes.Load(),
		BytesRead:    s.bytesRead.Load(),
		BytesWritten: s.bytesWritten.Load(),
	}
}

// Hold takes the device lock and returns a function releasing it. Tests use
// it to simulate a transfer stuck on the bus.
func (s *MemStore) Hold() (release func()) {
	s.lock <- struct{}{}
	return s.release
}
