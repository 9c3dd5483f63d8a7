// Package rowring provides the three-row sliding window the image stages
// use to see a pixel's vertical neighbours while streaming rows out of
// external memory.
package rowring

import (
	"fmt"

	"github.com/banshee-data/rover/internal/xmem"
)

// Loader fills dst with image row y.
type Loader func(y int, dst []byte) error

// StoreRows loads 8-bit rows of stride bytes laid out contiguously at base.
func StoreRows(s xmem.Store, base uint32, stride int) Loader {
	return func(y int, dst []byte) error {
		return s.ReadAt(dst, base+uint32(y*stride))
	}
}

// Window holds rows y-1, y and y+1 of an image. Rows outside the image
// read as zeros. Rows must be visited strictly in order.
type Window struct {
	load          Loader
	width, height int
	y             int

	prev, cur, next []byte
}

// New primes a window on row 0 of a width x height image.
func New(width, height int, load Loader) (*Window, error) {
	w := &Window{
		load:   load,
		width:  width,
		height: height,
		prev:   make([]byte, width),
		cur:    make([]byte, width),
		next:   make([]byte, width),
	}
	if err := w.fill(w.cur, 0); err != nil {
		return nil, err
	}
	if err := w.fill(w.next, 1); err != nil {
		return nil, err
	}
	return w, nil
}

// Y returns the index of the centre row.
func (w *Window) Y() int { return w.y }

// Rows returns the row above, the centre row and the row below. The slices
// are reused by Advance.
func (w *Window) Rows() (prev, cur, next []byte) {
	return w.prev, w.cur, w.next
}

// Advance slides the window down one row.
func (w *Window) Advance() error {
	w.prev, w.cur, w.next = w.cur, w.next, w.prev
	w.y++
	return w.fill(w.next, w.y+1)
}

func (w *Window) fill(dst []byte, y int) error {
	if y < 0 || y >= w.height {
		clear(dst)
		return nil
	}
	if err := w.load(y, dst); err != nil {
		return fmt.Errorf("load row %d: %w", y, err)
	}
	return nil
}
