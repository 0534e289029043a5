package btree

import (
	"encoding/binary"
	"fmt"

	"minikvstore/internal/buffer"
	"minikvstore/internal/diskmgr"
	"minikvstore/internal/page"
)

// scanHeaderRecords decodes the header page's index_name -> root_page_id
// records, a flat sequence of EncodeHeaderRecord entries terminated by a
// zero-length name (the page starts zeroed, so an empty page decodes to
// no records).
func scanHeaderRecords(buf []byte) map[string]uint32 {
	records := make(map[string]uint32)
	offset := 0
	for offset+2 <= len(buf) {
		nameLen := int(binary.LittleEndian.Uint16(buf[offset : offset+2]))
		if nameLen == 0 {
			break
		}
		if offset+2+nameLen+4 > len(buf) {
			break
		}
		name := string(buf[offset+2 : offset+2+nameLen])
		rootID := binary.LittleEndian.Uint32(buf[offset+2+nameLen : offset+2+nameLen+4])
		records[name] = rootID
		offset += 2 + nameLen + 4
	}
	return records
}

// writeHeaderRecords serializes records back into buf, zeroing it first.
func writeHeaderRecords(buf []byte, records map[string]uint32) error {
	for i := range buf {
		buf[i] = 0
	}
	offset := 0
	for name, rootID := range records {
		rec := page.EncodeHeaderRecord(name, rootID)
		if offset+len(rec) > len(buf) {
			return fmt.Errorf("btree: header page has no room for %d index records", len(records))
		}
		copy(buf[offset:], rec)
		offset += len(rec)
	}
	return nil
}

func readHeaderRecords(bpm *buffer.PoolManager) (map[string]uint32, error) {
	data, err := bpm.FetchPage(diskmgr.HeaderPageID)
	if err != nil {
		return nil, fmt.Errorf("btree: fetch header page: %w", err)
	}
	records := scanHeaderRecords(data)
	if err := bpm.UnpinPage(diskmgr.HeaderPageID, false); err != nil {
		return nil, err
	}
	return records, nil
}

func (t *Index) persistRoot() error {
	data, err := t.bpm.FetchPage(diskmgr.HeaderPageID)
	if err != nil {
		return fmt.Errorf("btree: fetch header page: %w", err)
	}
	records := scanHeaderRecords(data)
	records[t.name] = t.rootPageID
	if err := writeHeaderRecords(data, records); err != nil {
		_ = t.bpm.UnpinPage(diskmgr.HeaderPageID, false)
		return err
	}
	return t.bpm.UnpinPage(diskmgr.HeaderPageID, true)
}
