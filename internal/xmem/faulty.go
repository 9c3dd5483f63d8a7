package xmem

import (
	"errors"
	"sync"
)

// ErrInjected is the default failure returned by FaultyStore.
var ErrInjected = errors.New("xmem: injected transfer failure")

// FaultyStore wraps a Store and fails transfers on demand. ReadFailAt and
// WriteFailAt are 1-based transfer counts; once a counter reaches its
// threshold every following transfer of that kind fails too. Zero disables.
type FaultyStore struct {
	Store

	mu          sync.Mutex
	reads       int
	writes      int
	ReadFailAt  int
	WriteFailAt int
	Err         error
}

// NewFaultyStore wraps s with no failures armed.
func NewFaultyStore(s Store) *FaultyStore {
	return &FaultyStore{Store: s}
}

// FailReadsFrom arms read failures starting at the n-th read from now.
func (f *FaultyStore) FailReadsFrom(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ReadFailAt = f.reads + n
}

// FailWritesFrom arms write failures starting at the n-th write from now.
func (f *FaultyStore) FailWritesFrom(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.WriteFailAt = f.writes + n
}

// Heal disarms all failures.
func (f *FaultyStore) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ReadFailAt, f.WriteFailAt = 0, 0
}

func (f *FaultyStore) err() error {
	if f.Err != nil {
		return f.Err
	}
	return ErrInjected
}

// ReadAt fails once the read threshold is reached, otherwise forwards.
func (f *FaultyStore) ReadAt(dst []byte, addr uint32) error {
	f.mu.Lock()
	f.reads++
	fail := f.ReadFailAt > 0 && f.reads >= f.ReadFailAt
	f.mu.Unlock()
	if fail {
		return f.err()
	}
	return f.Store.ReadAt(dst, addr)
}

// WriteAt fails once the write threshold is reached, otherwise forwards.
func (f *FaultyStore) WriteAt(src []byte, addr uint32) error {
	f.mu.Lock()
	f.writes++
	fail := f.WriteFailAt > 0 && f.writes >= f.WriteFailAt
	f.mu.Unlock()
	if fail {
		return f.err()
	}
	return f.Store.WriteAt(src, addr)
}
