// Package pager fronts the database file with the generic page cache,
// pinning fixed 8KiB pages in memory and fsyncing them back on eviction
// or close. It is adapted from the teacher's Pager (container/list LRU
// over a map, metadata page at a fixed offset) generalized onto the
// spec's byte layout: a free-space offset header per data page and a
// two-slot validity-code witness on page 1 for crash detection.
package pager

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/intellect4all/durastore/cache"
	"github.com/intellect4all/durastore/common"
	"github.com/intellect4all/durastore/internal/telemetry"
)

const (
	// PageSize is the fixed page size the whole engine speaks in.
	PageSize = 8192

	// Page 1 is reserved for the clean-shutdown witness.
	MetaPageNo uint32 = 1

	vcLen     = 8
	vc1Offset = 0
	vc2Offset = vcLen
)

// Page is a fixed 8KiB block identified by a 1-based page number. The
// first two bytes of an ordinary data page are the little-endian
// free-space offset; Page 1 instead carries the VC witness.
type Page struct {
	No    uint32
	Data  [PageSize]byte
	dirty bool
}

// FreeOffset reads the little-endian free-space offset at the page head.
func (p *Page) FreeOffset() uint16 {
	return binary.LittleEndian.Uint16(p.Data[0:2])
}

// SetFreeOffset rewrites the free-space offset and marks the page dirty.
func (p *Page) SetFreeOffset(off uint16) {
	binary.LittleEndian.PutUint16(p.Data[0:2], off)
	p.dirty = true
}

// MarkDirty flags the page for write-back on eviction/close.
func (p *Page) MarkDirty() { p.dirty = true }

// Pager owns the database file and the page cache fronting it.
type Pager struct {
	file     *os.File
	cache    *cache.Cache[uint32, *Page]
	numPages atomic.Uint32
	extendMu sync.Mutex
}

// Open opens or creates the database file at path. metrics may be nil;
// when set, every page-cache hit/miss/eviction is reported to it. It
// returns the pager and whether the previous session shut down cleanly
// (false means the caller must run crash recovery before trusting page
// contents).
func Open(path string, cacheCapacity int, metrics *telemetry.Metrics) (p *Pager, cleanShutdown bool, err error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, false, common.Wrap("pager.Open", common.KindFileCrit, err)
	}

	pg := &Pager{file: f}
	pg.cache = cache.New[uint32, *Page](cacheCapacity, pg.loadPage, pg.writeBackPage)
	if metrics != nil {
		pg.cache.SetHooks(metrics.CacheHits.Inc, metrics.CacheMisses.Inc, metrics.CacheEvictions.Inc)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, common.Wrap("pager.Open", common.KindFileCrit, err)
	}

	freshlyCreated := stat.Size() == 0
	if freshlyCreated {
		pg.numPages.Store(0)
		if _, err := pg.newPageLocked(make([]byte, PageSize)); err != nil {
			f.Close()
			return nil, false, err
		}
	} else {
		pg.numPages.Store(uint32(stat.Size() / PageSize))
	}

	// checkWitness runs even for a freshly created file: vc1==vc2==0
	// there trivially matches, so cleanShutdown correctly reports true,
	// but it also stamps a fresh vc2 so a crash before the next Close
	// is detectable on the open after that one.
	cleanShutdown, err = pg.checkWitness()
	if err != nil {
		f.Close()
		return nil, false, err
	}

	return pg, cleanShutdown, nil
}

// checkWitness compares vc1/vc2 on page 1 and desynchronizes them so a
// crash before the next clean Close is detectable on the following Open.
func (p *Pager) checkWitness() (cleanShutdown bool, err error) {
	buf := make([]byte, PageSize)
	if _, err := p.file.ReadAt(buf, int64(MetaPageNo-1)*PageSize); err != nil {
		return false, common.Wrap("pager.checkWitness", common.KindFileCrit, err)
	}

	vc1 := buf[vc1Offset : vc1Offset+vcLen]
	vc2 := buf[vc2Offset : vc2Offset+vcLen]
	cleanShutdown = string(vc1) == string(vc2)

	newVC2 := make([]byte, vcLen)
	if _, err := rand.Read(newVC2); err != nil {
		return false, common.Wrap("pager.checkWitness", common.KindFileCrit, err)
	}
	copy(buf[vc2Offset:vc2Offset+vcLen], newVC2)

	if _, err := p.file.WriteAt(buf, int64(MetaPageNo-1)*PageSize); err != nil {
		return false, common.Wrap("pager.checkWitness", common.KindFileCrit, err)
	}
	if err := p.file.Sync(); err != nil {
		return false, common.Wrap("pager.checkWitness", common.KindFileCrit, err)
	}
	return cleanShutdown, nil
}

// restampWitness is called on a clean Close to resynchronize vc1 with
// the current vc2, marking this session's shutdown as clean.
func (p *Pager) restampWitness() error {
	buf := make([]byte, PageSize)
	if _, err := p.file.ReadAt(buf, int64(MetaPageNo-1)*PageSize); err != nil {
		return common.Wrap("pager.restampWitness", common.KindFileCrit, err)
	}
	copy(buf[vc1Offset:vc1Offset+vcLen], buf[vc2Offset:vc2Offset+vcLen])
	if _, err := p.file.WriteAt(buf, int64(MetaPageNo-1)*PageSize); err != nil {
		return common.Wrap("pager.restampWitness", common.KindFileCrit, err)
	}
	return p.file.Sync()
}

func (p *Pager) loadPage(pageNo uint32) (*Page, error) {
	page := &Page{No: pageNo}
	off := int64(pageNo-1) * PageSize
	if _, err := p.file.ReadAt(page.Data[:], off); err != nil {
		return nil, common.Wrap("pager.loadPage", common.KindFileCrit, err)
	}
	return page, nil
}

func (p *Pager) writeBackPage(_ uint32, page *Page) error {
	if !page.dirty {
		return nil
	}
	off := int64(page.No-1) * PageSize
	if _, err := p.file.WriteAt(page.Data[:], off); err != nil {
		return common.Wrap("pager.writeBackPage", common.KindFileCrit, err)
	}
	if err := p.file.Sync(); err != nil {
		return common.Wrap("pager.writeBackPage", common.KindFileCrit, err)
	}
	page.dirty = false
	return nil
}

// NewPage extends the file by one page, seeding it with initial (padded
// or truncated to PageSize), and returns its page number.
func (p *Pager) NewPage(initial []byte) (uint32, error) {
	p.extendMu.Lock()
	defer p.extendMu.Unlock()
	return p.newPageLocked(initial)
}

func (p *Pager) newPageLocked(initial []byte) (uint32, error) {
	pageNo := p.numPages.Add(1)
	page := &Page{No: pageNo, dirty: true}
	copy(page.Data[:], initial)

	off := int64(pageNo-1) * PageSize
	if _, err := p.file.WriteAt(page.Data[:], off); err != nil {
		return 0, common.Wrap("pager.NewPage", common.KindFileCrit, err)
	}
	return pageNo, nil
}

// GetPage pins and returns the page. The caller MUST call ReleasePage
// exactly once per successful GetPage. If pinning this page evicted
// another whose write-back to disk failed, that page's content is
// already lost; GetPage surfaces the failure here, on the very next
// call, rather than leaving it unreported.
func (p *Pager) GetPage(pageNo uint32) (*Page, error) {
	page, err := p.cache.Get(pageNo)
	if err != nil {
		return nil, fmt.Errorf("pager.GetPage(%d): %w", pageNo, err)
	}
	if evictErr := p.cache.TakeLastEvictError(); evictErr != nil {
		p.cache.Release(pageNo)
		return nil, fmt.Errorf("pager.GetPage(%d): prior page eviction failed to write back: %w", pageNo, evictErr)
	}
	return page, nil
}

// ReleasePage releases a page obtained via GetPage.
func (p *Pager) ReleasePage(pageNo uint32) {
	p.cache.Release(pageNo)
}

// FlushPage forces the page's current content to disk immediately,
// independent of cache eviction.
func (p *Pager) FlushPage(page *Page) error {
	return p.writeBackPage(page.No, page)
}

// NumPages returns the number of pages currently allocated in the file.
func (p *Pager) NumPages() uint32 {
	return p.numPages.Load()
}

// TruncateByPgNo truncates the file so only pages [1, n] remain.
func (p *Pager) TruncateByPgNo(n uint32) error {
	p.extendMu.Lock()
	defer p.extendMu.Unlock()
	if err := p.file.Truncate(int64(n) * PageSize); err != nil {
		return common.Wrap("pager.TruncateByPgNo", common.KindFileCrit, err)
	}
	p.numPages.Store(n)
	return nil
}

// MarkCleanNow re-stamps the witness immediately, outside of Close. The
// recovery pass calls this once it has finished redo/undo and truncation
// so a second crash before the next graceful Close does not re-trigger
// a full recovery of work already repaired.
func (p *Pager) MarkCleanNow() error {
	return p.restampWitness()
}

// Close drains the cache (writing back every dirty page), re-stamps the
// clean-shutdown witness, and closes the file.
func (p *Pager) Close() error {
	if err := p.cache.Close(); err != nil {
		return err
	}
	if err := p.restampWitness(); err != nil {
		return err
	}
	if err := p.file.Close(); err != nil {
		return common.Wrap("pager.Close", common.KindFileCrit, err)
	}
	return nil
}
