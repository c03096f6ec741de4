package store

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/golang/snappy"
	"github.com/zeebo/xxh3"
)

// File layout:
//
//	header: "DAMC" | version u8 | 3 reserved bytes
//	frame:  flags u8 | keyLen u32 | valLen u32 | xxh3(key||value) u64 | key | value
//
// All integers are little endian. Frames are only ever appended; the last frame for a key wins.
const (
	headerSize      = 8
	frameHeaderSize = 1 + 4 + 4 + 8
	formatVersion   = 1

	maxKeyLen   = 1 << 20
	maxValueLen = 1 << 30
)

const (
	flagTombstone byte = 1 << iota
	flagSnappy
)

var magic = [4]byte{'D', 'A', 'M', 'C'}

var hasherPool = sync.Pool{New: func() any { return xxh3.New() }}

func checksum(key, value []byte) uint64 {
	hasher := hasherPool.Get().(*xxh3.Hasher)
	hasher.Reset()
	_, _ = hasher.Write(key)
	_, _ = hasher.Write(value)
	sum := hasher.Sum64()
	hasherPool.Put(hasher)
	return sum
}

func fileHeader() []byte {
	h := make([]byte, headerSize)
	copy(h, magic[:])
	h[4] = formatVersion
	return h
}

func checkFileHeader(h []byte) error {
	if len(h) != headerSize || [4]byte(h[:4]) != magic {
		return fmt.Errorf("unrecognized file header")
	}
	if h[4] != formatVersion {
		return fmt.Errorf("unsupported format version %d", h[4])
	}
	return nil
}

// encodeFrame builds a frame. Values are compressed when compress is set; tombstones carry no value.
func encodeFrame(flags byte, key, value []byte, compress bool) []byte {
	if compress && flags&flagTombstone == 0 {
		value = snappy.Encode(nil, value)
		flags |= flagSnappy
	}
	buf := make([]byte, frameHeaderSize+len(key)+len(value))
	buf[0] = flags
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(key)))
	binary.LittleEndian.PutUint32(buf[5:9], uint32(len(value)))
	binary.LittleEndian.PutUint64(buf[9:17], checksum(key, value))
	copy(buf[frameHeaderSize:], key)
	copy(buf[frameHeaderSize+len(key):], value)
	return buf
}

type frameHeader struct {
	flags  byte
	keyLen uint32
	valLen uint32
	sum    uint64
}

func (h frameHeader) size() int64 {
	return frameHeaderSize + int64(h.keyLen) + int64(h.valLen)
}

func parseFrameHeader(b []byte) (frameHeader, error) {
	h := frameHeader{
		flags:  b[0],
		keyLen: binary.LittleEndian.Uint32(b[1:5]),
		valLen: binary.LittleEndian.Uint32(b[5:9]),
		sum:    binary.LittleEndian.Uint64(b[9:17]),
	}
	if h.keyLen == 0 || h.keyLen > maxKeyLen {
		return h, fmt.Errorf("key length %d out of range", h.keyLen)
	}
	if h.valLen > maxValueLen {
		return h, fmt.Errorf("value length %d out of range", h.valLen)
	}
	return h, nil
}

// decodeFrame verifies a whole frame and returns its key and the plain (decompressed) value.
func decodeFrame(b []byte) (flags byte, key, value []byte, err error) {
	if len(b) < frameHeaderSize {
		return 0, nil, nil, fmt.Errorf("short frame: %d bytes", len(b))
	}
	h, err := parseFrameHeader(b)
	if err != nil {
		return 0, nil, nil, err
	}
	if int64(len(b)) != h.size() {
		return 0, nil, nil, fmt.Errorf("frame size mismatch: have %d, want %d", len(b), h.size())
	}
	key = b[frameHeaderSize : frameHeaderSize+h.keyLen]
	value = b[frameHeaderSize+h.keyLen:]
	if checksum(key, value) != h.sum {
		return 0, nil, nil, fmt.Errorf("checksum mismatch")
	}
	if h.flags&flagSnappy != 0 {
		if value, err = snappy.Decode(nil, value); err != nil {
			return 0, nil, nil, fmt.Errorf("snappy decode: %w", err)
		}
	}
	return h.flags, key, value, nil
}
