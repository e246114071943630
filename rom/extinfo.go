package rom

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"time"

	"golang.org/x/text/encoding/japanese"
)

// The extinfo blob holds a sequence of variable size records per file, each
// led by a 4-byte header.
const (
	extDate    = 1
	extVersion = 2
	extComment = 3
	extNull    = 0x7f
)

// ExtInfo is the extended metadata a rom file may carry.
type ExtInfo struct {
	Date    time.Time // release date, zero if absent
	Version uint16    // BCD encoded
	Comment string
}

// ExtInfo returns the extended metadata of the named file.
func (fsys *FS) ExtInfo(name string) (*ExtInfo, error) {
	e := fsys.lookup(name)
	if e == nil {
		return nil, &fs.PathError{Op: "extinfo", Path: name, Err: fs.ErrNotExist}
	}

	if int(e.extOff)+int(e.extSize) > len(fsys.ext) {
		return nil, fmt.Errorf("rom: extinfo of %s out of bounds", name)
	}
	raw := fsys.ext[e.extOff : e.extOff+int64(e.extSize)]

	info := &ExtInfo{}
	for len(raw) >= 4 {
		value := binary.LittleEndian.Uint16(raw)
		size := int(raw[2])
		typ := raw[3]
		raw = raw[4:]
		if size > len(raw) {
			return nil, fmt.Errorf("rom: extinfo of %s truncated", name)
		}
		data := raw[:size]
		raw = raw[size:]

		switch typ {
		case extDate:
			if size == 4 {
				info.Date = bcdDate(binary.LittleEndian.Uint32(data))
			}
		case extVersion:
			info.Version = value
		case extComment:
			if i := len(data); i > 0 && data[i-1] == 0 {
				data = data[:i-1]
			}
			info.Comment = decodeComment(data)
		case extNull:
			// alignment record
		}
	}
	return info, nil
}

// decodeComment converts a comment to utf-8.  Comments are shift-jis, of
// which plain ascii is a subset.
func decodeComment(data []byte) string {
	s, err := japanese.ShiftJIS.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(s)
}

// bcdDate converts a packed BCD yyyymmdd value.
func bcdDate(v uint32) time.Time {
	bcd := func(x uint32) int {
		return int(x>>4)*10 + int(x&0xf)
	}
	year := bcd(v>>24)*100 + bcd(v>>16&0xff)
	return time.Date(year, time.Month(bcd(v>>8&0xff)), bcd(v&0xff),
		0, 0, 0, 0, time.UTC)
}
