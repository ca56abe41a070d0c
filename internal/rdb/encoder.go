// Package rdb implements the binary snapshot format of spec.md §4.G:
// a magic header, per-database sections of typed key/value entries
// with optional expiry markers, variable-width length prefixes with
// special integer and compressed-block encodings, and a trailing EOF
// byte. The writer side also owns the temp-file/fsync/rename protocol
// SAVE and BGSAVE share.
package rdb

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"strconv"

	"github.com/pierrec/lz4/v4"
)

// Value-type bytes of a typed entry.
const (
	TypeString byte = 0
	TypeList   byte = 1
	TypeSet    byte = 2
	TypeZSet   byte = 3
	TypeHash   byte = 4
)

// Section opcodes.
const (
	opExpiry   byte = 0xFD
	opSelectDB byte = 0xFE
	opEOF      byte = 0xFF
)

// Length-prefix forms, selected by the two high bits of the first byte.
const (
	len6Bit    = 0
	len14Bit   = 1
	len32Bit   = 2
	lenSpecial = 3
)

// Special-encoding selector tags (the low 6 bits under lenSpecial).
const (
	encInt8  = 0
	encInt16 = 1
	encInt32 = 2
	encLZF   = 3
)

const header = "REDIS0001"

// minCompressLen is the shortest string worth handing to the block
// compressor; anything smaller can't win back its two length prefixes.
const minCompressLen = 20

// Encoder writes one snapshot stream.
type Encoder struct {
	w        *bufio.Writer
	compress bool
}

func NewEncoder(w io.Writer, compress bool) *Encoder {
	return &Encoder{w: bufio.NewWriter(w), compress: compress}
}

func (e *Encoder) WriteHeader() error {
	_, err := e.w.WriteString(header)
	return err
}

// WriteDBSelector starts the section for database n.
func (e *Encoder) WriteDBSelector(n int) error {
	if err := e.w.WriteByte(opSelectDB); err != nil {
		return err
	}
	return e.WriteLength(uint32(n))
}

// WriteExpiry emits the 0xFD marker prefixing the next entry with an
// absolute expiry in seconds (int32, little-endian).
func (e *Encoder) WriteExpiry(unixSeconds int64) error {
	if err := e.w.WriteByte(opExpiry); err != nil {
		return err
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(unixSeconds))
	_, err := e.w.Write(buf[:])
	return err
}

func (e *Encoder) WriteType(t byte) error {
	return e.w.WriteByte(t)
}

// WriteLength emits n in the shortest of the three plain forms.
func (e *Encoder) WriteLength(n uint32) error {
	switch {
	case n < 1<<6:
		return e.w.WriteByte(byte(len6Bit<<6) | byte(n))
	case n < 1<<14:
		if err := e.w.WriteByte(byte(len14Bit<<6) | byte(n>>8)); err != nil {
			return err
		}
		return e.w.WriteByte(byte(n))
	default:
		if err := e.w.WriteByte(byte(len32Bit << 6)); err != nil {
			return err
		}
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], n)
		_, err := e.w.Write(buf[:])
		return err
	}
}

// WriteString emits b, preferring the special integer encodings for
// canonical i8/i16/i32 decimals, then a compressed block when
// compression is on and the payload is long enough to plausibly win,
// then the raw length-prefixed form.
func (e *Encoder) WriteString(b []byte) error {
	if n, ok := canonicalInt32(b); ok {
		return e.writeIntString(n)
	}
	if e.compress && len(b) > minCompressLen {
		if done, err := e.writeCompressed(b); done || err != nil {
			return err
		}
	}
	if err := e.WriteLength(uint32(len(b))); err != nil {
		return err
	}
	_, err := e.w.Write(b)
	return err
}

func canonicalInt32(b []byte) (int32, bool) {
	if len(b) == 0 || len(b) > 11 {
		return 0, false
	}
	n, err := strconv.ParseInt(string(b), 10, 32)
	if err != nil {
		return 0, false
	}
	if strconv.FormatInt(n, 10) != string(b) {
		return 0, false
	}
	return int32(n), true
}

func (e *Encoder) writeIntString(n int32) error {
	switch {
	case n >= math.MinInt8 && n <= math.MaxInt8:
		if err := e.w.WriteByte(byte(lenSpecial<<6) | encInt8); err != nil {
			return err
		}
		return e.w.WriteByte(byte(int8(n)))
	case n >= math.MinInt16 && n <= math.MaxInt16:
		if err := e.w.WriteByte(byte(lenSpecial<<6) | encInt16); err != nil {
			return err
		}
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(int16(n)))
		_, err := e.w.Write(buf[:])
		return err
	default:
		if err := e.w.WriteByte(byte(lenSpecial<<6) | encInt32); err != nil {
			return err
		}
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(n))
		_, err := e.w.Write(buf[:])
		return err
	}
}

// writeCompressed emits b as an LZ4 block under the compressed-block
// selector, or reports done=false (writing nothing) when compression
// would not shrink the payload.
func (e *Encoder) writeCompressed(b []byte) (done bool, err error) {
	dst := make([]byte, lz4.CompressBlockBound(len(b)))
	n, err := lz4.CompressBlock(b, dst, nil)
	if err != nil || n == 0 || n >= len(b) {
		return false, nil
	}
	if err := e.w.WriteByte(byte(lenSpecial<<6) | encLZF); err != nil {
		return true, err
	}
	if err := e.WriteLength(uint32(n)); err != nil {
		return true, err
	}
	if err := e.WriteLength(uint32(len(b))); err != nil {
		return true, err
	}
	_, err = e.w.Write(dst[:n])
	return true, err
}

// WriteDouble emits a score: a single sentinel byte for the three
// non-finite values, else the length-prefixed 17-significant-digit
// decimal text (%.17g in the original's terms), which round-trips
// exactly.
func (e *Encoder) WriteDouble(f float64) error {
	switch {
	case math.IsNaN(f):
		return e.w.WriteByte(253)
	case math.IsInf(f, 1):
		return e.w.WriteByte(254)
	case math.IsInf(f, -1):
		return e.w.WriteByte(255)
	}
	text := strconv.FormatFloat(f, 'g', 17, 64)
	if err := e.w.WriteByte(byte(len(text))); err != nil {
		return err
	}
	_, err := e.w.WriteString(text)
	return err
}

func (e *Encoder) WriteEOF() error {
	if err := e.w.WriteByte(opEOF); err != nil {
		return err
	}
	return e.w.Flush()
}

func (e *Encoder) Flush() error {
	return e.w.Flush()
}
