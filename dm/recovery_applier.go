package dm

import (
	"encoding/binary"

	"github.com/intellect4all/durastore/wal"
)

// The four methods below satisfy recovery.Applier. They run only during
// DataManager.Open's recovery pass, before the page index or any latch
// has been built, so they touch page bytes directly through the pager
// rather than through the ordinary Insert/DataItem paths.

func (d *DataManager) ApplyInsertRedo(pageNo uint32, offset uint16, raw []byte) error {
	page, err := d.pgr.GetPage(pageNo)
	if err != nil {
		return err
	}
	defer d.pgr.ReleasePage(pageNo)

	page.Data[offset] = 1
	binary.LittleEndian.PutUint16(page.Data[offset+1:offset+3], uint16(len(raw)))
	copy(page.Data[offset+3:offset+3+uint16(len(raw))], raw)
	page.MarkDirty()
	return nil
}

func (d *DataManager) ApplyUpdateRedo(uid uint64, newBytes []byte) error {
	return d.applyInPlace(uid, newBytes)
}

func (d *DataManager) ApplyUpdateUndo(uid uint64, oldBytes []byte) error {
	return d.applyInPlace(uid, oldBytes)
}

func (d *DataManager) applyInPlace(uid uint64, data []byte) error {
	pageNo, offset := wal.UidPageOffset(uid)
	page, err := d.pgr.GetPage(pageNo)
	if err != nil {
		return err
	}
	defer d.pgr.ReleasePage(pageNo)

	size := binary.LittleEndian.Uint16(page.Data[offset+1 : offset+3])
	n := len(data)
	if n > int(size) {
		n = int(size)
	}
	copy(page.Data[offset+3:offset+3+uint16(n)], data[:n])
	page.MarkDirty()
	return nil
}

func (d *DataManager) ApplyInsertUndo(pageNo uint32, offset uint16) error {
	page, err := d.pgr.GetPage(pageNo)
	if err != nil {
		return err
	}
	defer d.pgr.ReleasePage(pageNo)

	page.Data[offset] = 0
	page.MarkDirty()
	return nil
}
