package rdb

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/pierrec/lz4/v4"
)

var errBadHeader = errors.New("rdb: bad magic header")

// Entry is one decoded keyspace record.
type Entry struct {
	DB       int
	Type     byte
	Key      []byte
	ExpireAt int64 // unix seconds, 0 when the entry has no expiry
}

// Decoder reads one snapshot stream, yielding opcodes and entries
// through the primitive Read* methods; the keyspace loader in
// internal/database drives the type-specific bodies itself since it
// owns the value constructors.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

func (d *Decoder) ReadHeader() error {
	buf := make([]byte, len(header))
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return err
	}
	if string(buf[:5]) != "REDIS" {
		return errBadHeader
	}
	return nil
}

// Next returns the next entry, or io.EOF after the EOF opcode. It
// consumes db-selector and expiry markers internally, folding them
// into the returned Entry.
func (d *Decoder) Next(currentDB *int) (*Entry, error) {
	var expireAt int64
	for {
		op, err := d.r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch op {
		case opEOF:
			return nil, io.EOF
		case opSelectDB:
			n, err := d.ReadLength()
			if err != nil {
				return nil, err
			}
			*currentDB = int(n)
		case opExpiry:
			var buf [4]byte
			if _, err := io.ReadFull(d.r, buf[:]); err != nil {
				return nil, err
			}
			expireAt = int64(int32(binary.LittleEndian.Uint32(buf[:])))
		default:
			if op > TypeHash {
				return nil, fmt.Errorf("rdb: unknown entry type %d", op)
			}
			key, err := d.ReadString()
			if err != nil {
				return nil, err
			}
			return &Entry{DB: *currentDB, Type: op, Key: key, ExpireAt: expireAt}, nil
		}
	}
}

// ReadLength reads a plain length prefix, failing on the special
// forms (those belong to ReadString).
func (d *Decoder) ReadLength() (uint32, error) {
	n, special, _, err := d.readLengthOrSpecial()
	if err != nil {
		return 0, err
	}
	if special {
		return 0, errors.New("rdb: unexpected special encoding")
	}
	return n, nil
}

func (d *Decoder) readLengthOrSpecial() (n uint32, special bool, tag byte, err error) {
	first, err := d.r.ReadByte()
	if err != nil {
		return 0, false, 0, err
	}
	switch first >> 6 {
	case len6Bit:
		return uint32(first & 0x3F), false, 0, nil
	case len14Bit:
		second, err := d.r.ReadByte()
		if err != nil {
			return 0, false, 0, err
		}
		return uint32(first&0x3F)<<8 | uint32(second), false, 0, nil
	case len32Bit:
		var buf [4]byte
		if _, err := io.ReadFull(d.r, buf[:]); err != nil {
			return 0, false, 0, err
		}
		return binary.BigEndian.Uint32(buf[:]), false, 0, nil
	default:
		return 0, true, first & 0x3F, nil
	}
}

// ReadString decodes a length-prefixed string in any of its forms:
// raw, int8/16/32 special, or compressed block.
func (d *Decoder) ReadString() ([]byte, error) {
	n, special, tag, err := d.readLengthOrSpecial()
	if err != nil {
		return nil, err
	}
	if !special {
		buf := make([]byte, n)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return nil, err
		}
		return buf, nil
	}
	switch tag {
	case encInt8:
		b, err := d.r.ReadByte()
		if err != nil {
			return nil, err
		}
		return []byte(strconv.FormatInt(int64(int8(b)), 10)), nil
	case encInt16:
		var buf [2]byte
		if _, err := io.ReadFull(d.r, buf[:]); err != nil {
			return nil, err
		}
		return []byte(strconv.FormatInt(int64(int16(binary.LittleEndian.Uint16(buf[:]))), 10)), nil
	case encInt32:
		var buf [4]byte
		if _, err := io.ReadFull(d.r, buf[:]); err != nil {
			return nil, err
		}
		return []byte(strconv.FormatInt(int64(int32(binary.LittleEndian.Uint32(buf[:]))), 10)), nil
	case encLZF:
		compressedLen, err := d.ReadLength()
		if err != nil {
			return nil, err
		}
		uncompressedLen, err := d.ReadLength()
		if err != nil {
			return nil, err
		}
		src := make([]byte, compressedLen)
		if _, err := io.ReadFull(d.r, src); err != nil {
			return nil, err
		}
		dst := make([]byte, uncompressedLen)
		if _, err := lz4.UncompressBlock(src, dst); err != nil {
			return nil, fmt.Errorf("rdb: decompress: %w", err)
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("rdb: unknown string encoding %d", tag)
	}
}

// ReadDouble decodes a score written by WriteDouble.
func (d *Decoder) ReadDouble() (float64, error) {
	n, err := d.r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch n {
	case 253:
		return math.NaN(), nil
	case 254:
		return math.Inf(1), nil
	case 255:
		return math.Inf(-1), nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(string(buf), 64)
}
