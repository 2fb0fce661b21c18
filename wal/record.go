package wal

import "encoding/binary"

// Kind distinguishes the two record payloads the core ever logs.
type Kind byte

const (
	KindInsert Kind = 0
	KindUpdate Kind = 1
)

// InsertRecord is emitted by DataManager.Insert: enough to redo the
// write (pageNo, offset, raw bytes) during recovery.
type InsertRecord struct {
	Xid    uint64
	PageNo uint32
	Offset uint16
	Raw    []byte
}

// Encode lays out [kind=0][xid:8][pageNo:4][offset:2][raw bytes].
func (r InsertRecord) Encode() []byte {
	buf := make([]byte, 1+8+4+2+len(r.Raw))
	buf[0] = byte(KindInsert)
	binary.LittleEndian.PutUint64(buf[1:9], r.Xid)
	binary.LittleEndian.PutUint32(buf[9:13], r.PageNo)
	binary.LittleEndian.PutUint16(buf[13:15], r.Offset)
	copy(buf[15:], r.Raw)
	return buf
}

// DecodeInsertRecord parses the body of an Insert record (kind byte
// already stripped by the caller).
func DecodeInsertRecord(body []byte) (InsertRecord, bool) {
	if len(body) < 8+4+2 {
		return InsertRecord{}, false
	}
	r := InsertRecord{
		Xid:    binary.LittleEndian.Uint64(body[0:8]),
		PageNo: binary.LittleEndian.Uint32(body[8:12]),
		Offset: binary.LittleEndian.Uint16(body[12:14]),
	}
	r.Raw = append([]byte(nil), body[14:]...)
	return r, true
}

// UpdateRecord is emitted by DataItem.After: the before/after snapshot
// needed to redo or undo an in-place mutation.
type UpdateRecord struct {
	Xid      uint64
	Uid      uint64
	OldBytes []byte
	NewBytes []byte
}

// Encode lays out [kind=1][xid:8][uid:8][oldLen:4][oldBytes][newBytes];
// newBytes length is inferred from the surrounding record size.
func (r UpdateRecord) Encode() []byte {
	buf := make([]byte, 1+8+8+4+len(r.OldBytes)+len(r.NewBytes))
	buf[0] = byte(KindUpdate)
	binary.LittleEndian.PutUint64(buf[1:9], r.Xid)
	binary.LittleEndian.PutUint64(buf[9:17], r.Uid)
	binary.LittleEndian.PutUint32(buf[17:21], uint32(len(r.OldBytes)))
	off := 21
	off += copy(buf[off:], r.OldBytes)
	copy(buf[off:], r.NewBytes)
	return buf
}

// DecodeUpdateRecord parses the body of an Update record (kind byte
// already stripped by the caller).
func DecodeUpdateRecord(body []byte) (UpdateRecord, bool) {
	if len(body) < 8+8+4 {
		return UpdateRecord{}, false
	}
	xid := binary.LittleEndian.Uint64(body[0:8])
	uid := binary.LittleEndian.Uint64(body[8:16])
	oldLen := binary.LittleEndian.Uint32(body[16:20])
	rest := body[20:]
	if uint32(len(rest)) < oldLen {
		return UpdateRecord{}, false
	}
	r := UpdateRecord{
		Xid:      xid,
		Uid:      uid,
		OldBytes: append([]byte(nil), rest[:oldLen]...),
		NewBytes: append([]byte(nil), rest[oldLen:]...),
	}
	return r, true
}

// UidPageOffset splits a 64-bit item UID into its page number and
// in-page byte offset, matching (pageNo<<32)|offset.
func UidPageOffset(uid uint64) (pageNo uint32, offset uint16) {
	return uint32(uid >> 32), uint16(uid)
}

// MakeUid packs a page number and offset into a 64-bit item UID.
func MakeUid(pageNo uint32, offset uint16) uint64 {
	return uint64(pageNo)<<32 | uint64(offset)
}
