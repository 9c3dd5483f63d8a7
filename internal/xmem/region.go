package xmem

import (
	"fmt"
	"sort"
)

// Region is a named, contiguous span of the store owned by one concern
// (camera frames, gradient scratch, transform scratch).
type Region struct {
	Name string
	Base uint32
	Size uint32
}

// End returns the first address past the region.
func (r Region) End() uint32 { return r.Base + r.Size }

func (r Region) overlaps(o Region) bool {
	return r.Base < o.End() && o.Base < r.End()
}

// Layout partitions a store into disjoint regions. Concurrent stages never
// share a region, which is what keeps the unlocked store safe to share.
type Layout struct {
	limit   uint32
	regions []Region
}

// NewLayout returns an empty layout for a store of limit bytes.
func NewLayout(limit uint32) *Layout {
	return &Layout{limit: limit}
}

// Add places a region at base. It fails when the region leaves the store,
// overlaps an existing region or reuses a name.
func (l *Layout) Add(name string, base, size uint32) (Region, error) {
	r := Region{Name: name, Base: base, Size: size}
	if size == 0 {
		return Region{}, fmt.Errorf("region %q: zero size", name)
	}
	if uint64(base)+uint64(size) > uint64(l.limit) {
		return Region{}, fmt.Errorf("region %q [0x%06x,0x%06x) exceeds store size 0x%06x", name, base, uint64(base)+uint64(size), l.limit)
	}
	for _, o := range l.regions {
		if o.Name == name {
			return Region{}, fmt.Errorf("region %q already defined", name)
		}
		if r.overlaps(o) {
			return Region{}, fmt.Errorf("region %q [0x%06x,0x%06x) overlaps %q [0x%06x,0x%06x)",
				name, r.Base, r.End(), o.Name, o.Base, o.End())
		}
	}
	l.regions = append(l.regions, r)
	sort.Slice(l.regions, func(i, j int) bool { return l.regions[i].Base < l.regions[j].Base })
	return r, nil
}

// Append places a region at the first BlockSize-aligned address after the
// highest region so far.
func (l *Layout) Append(name string, size uint32) (Region, error) {
	var base uint32
	if n := len(l.regions); n > 0 {
		base = l.regions[n-1].End()
	}
	base = (base + BlockSize - 1) &^ (BlockSize - 1)
	return l.Add(name, base, size)
}

// Region looks up a region by name.
func (l *Layout) Region(name string) (Region, bool) {
	for _, r := range l.regions {
		if r.Name == name {
			return r, true
		}
	}
	return Region{}, false
}

// Regions returns the regions ordered by base address.
func (l *Layout) Regions() []Region {
	out := make([]Region, len(l.regions))
	copy(out, l.regions)
	return out
}

// View is a Store confined to one region. Addresses are relative to the
// region base and transfers that leave the region fail with ErrOutOfRange.
type View struct {
	store  Store
	region Region
}

// Bind returns a View of r over s.
func (r Region) Bind(s Store) *View {
	return &View{store: s, region: r}
}

// Region returns the region the view is confined to.
func (v *View) Region() Region { return v.region }

// ReadAt reads relative to the region base.
func (v *View) ReadAt(dst []byte, off uint32) error {
	if err := checkRange(off, len(dst), v.region.Size); err != nil {
		return fmt.Errorf("region %q: %w", v.region.Name, err)
	}
	return v.store.ReadAt(dst, v.region.Base+off)
}

// WriteAt writes relative to the region base.
func (v *View) WriteAt(src []byte, off uint32) error {
	if err := checkRange(off, len(src), v.region.Size); err != nil {
		return fmt.Errorf("region %q: %w", v.region.Name, err)
	}
	return v.store.WriteAt(src, v.region.Base+off)
}
