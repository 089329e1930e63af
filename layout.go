package hboxpack

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// field is one named, fixed-size member of a packed record.
type field struct {
	name string
	size int
}

// recordLayout is a packed (no padding) little-endian record description.
// Offsets are derived from field order.
type recordLayout struct {
	fields  []field
	offsets map[string]int
	sizes   map[string]int
	total   int
}

func newLayout(fields ...field) *recordLayout {
	l := &recordLayout{
		fields:  fields,
		offsets: make(map[string]int, len(fields)),
		sizes:   make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		if _, dup := l.offsets[f.name]; dup {
			panic(fmt.Sprintf("duplicate field %q in record layout", f.name))
		}
		l.offsets[f.name] = l.total
		l.sizes[f.name] = f.size
		l.total += f.size
	}
	return l
}

func (l *recordLayout) offset(name string) int {
	off, ok := l.offsets[name]
	if !ok {
		panic(fmt.Sprintf("no field %q in record layout", name))
	}
	return off
}

func (l *recordLayout) size(name string) int {
	size, ok := l.sizes[name]
	if !ok {
		panic(fmt.Sprintf("no field %q in record layout", name))
	}
	return size
}

func (l *recordLayout) slice(buf []byte, name string) []byte {
	off := l.offset(name)
	return buf[off : off+l.size(name)]
}

func (l *recordLayout) putUint32(buf []byte, name string, v uint32) {
	binary.LittleEndian.PutUint32(l.slice(buf, name), v)
}

func (l *recordLayout) uint32(buf []byte, name string) uint32 {
	return binary.LittleEndian.Uint32(l.slice(buf, name))
}

func (l *recordLayout) uint16(buf []byte, name string) uint16 {
	return binary.LittleEndian.Uint16(l.slice(buf, name))
}

// putString copies s into a NUL-padded field, truncating so that at least one
// terminating NUL remains.
func (l *recordLayout) putString(buf []byte, name string, s string) {
	dst := l.slice(buf, name)
	n := copy(dst[:len(dst)-1], s)
	if n < len(s) {
		pkgLog.Warnf("%s %q truncated to %d bytes", name, s, n)
	}
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func (l *recordLayout) string(buf []byte, name string) string {
	b := l.slice(buf, name)
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// Record sizes expected by the bootloader.
const (
	ComponentSize      = 170
	MetadataSize       = 807
	MaxComponents      = 3
	sha256HexFieldSize = 65
)

var componentLayout = newLayout(
	field{"name", 32},
	field{"file", 64},
	field{"address", 4},
	field{"size", 4},
	field{"sha256", sha256HexFieldSize},
	field{"active", 1},
)

var metadataLayout = newLayout(
	field{"magic", 4},
	field{"metadata_version_major", 4},
	field{"metadata_version_minor", 4},
	field{"metadata_size", 4},
	field{"metadata_crc32", 4},
	field{"firmware_version", 32},
	field{"target_slot", 1},
	field{"build_date", 32},
	field{"build_timestamp", 4},
	field{"device_model", 32},
	field{"hardware_version", 4},
	field{"bootloader_min_version", 4},
	field{"component_count", 4},
	field{"components", MaxComponents * ComponentSize},
	field{"firmware_hash", 32},
	field{"signature", 64},
	field{"signature_algorithm", 4},
	field{"reserved", 64},
)

func init() {
	if componentLayout.total != ComponentSize {
		panic(&MetadataSizeError{Expected: ComponentSize, Actual: componentLayout.total})
	}
	if metadataLayout.total != MetadataSize {
		panic(&MetadataSizeError{Expected: MetadataSize, Actual: metadataLayout.total})
	}
}
