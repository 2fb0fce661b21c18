package dm

import "sync"

// numSizeClasses and classWidth implement the spec's free-space index:
// 40 classes of (8192/40) bytes each, so an insert can scan its class
// and above instead of every page in the file.
const (
	numSizeClasses = 40
	classWidth     = pageSize / numSizeClasses
)

func sizeClass(freeBytes int) int {
	c := freeBytes / classWidth
	if c >= numSizeClasses {
		c = numSizeClasses - 1
	}
	return c
}

// pageIndex tracks, per size class, the set of pages known to have at
// least that much free space. It is rebuilt from the database file's
// current free offsets on DataManager.Open rather than persisted.
type pageIndex struct {
	mu      sync.Mutex
	classes [numSizeClasses]map[uint32]struct{}
}

func newPageIndex() *pageIndex {
	pi := &pageIndex{}
	for i := range pi.classes {
		pi.classes[i] = make(map[uint32]struct{})
	}
	return pi
}

// Add records pageNo in the single size class its freeBytes floors
// into. SelectAndRemove does the fan-out instead, scanning upward from
// a need's class through every larger one — a page only ever needs to
// live in its own bucket.
func (pi *pageIndex) Add(pageNo uint32, freeBytes int) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	c := sizeClass(freeBytes)
	pi.classes[c][pageNo] = struct{}{}
}

// Remove drops pageNo from every class; callers re-Add it with its new
// free space after a successful insert.
func (pi *pageIndex) Remove(pageNo uint32) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	for _, m := range pi.classes {
		delete(m, pageNo)
	}
}

// SelectAndRemove returns a page believed to have at least need bytes
// free, removing it from the index (the caller re-Adds after use). ok is
// false if the index has no candidate — the caller must allocate a new
// page.
func (pi *pageIndex) SelectAndRemove(need int) (pageNo uint32, ok bool) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	start := sizeClass(need)
	for c := start; c < numSizeClasses; c++ {
		for pn := range pi.classes[c] {
			delete(pi.classes[c], pn)
			return pn, true
		}
	}
	return 0, false
}
