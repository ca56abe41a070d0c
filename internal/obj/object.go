// Package obj implements the tagged value container of spec.md §3/§4.A:
// a polymorphic object with a kind tag, an encoding tag, a refcount,
// and — once paging (internal/vm) is enabled — the storage-location
// bookkeeping fields a swapped-out value needs.
package obj

import (
	"strconv"

	"github.com/nyxkv/corekv/internal/logger"
)

// Kind discriminates the five value types spec.md §3 names.
type Kind uint8

const (
	KindString Kind = iota
	KindList
	KindSet
	KindZSet
	KindHash
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindSet:
		return "set"
	case KindZSet:
		return "zset"
	case KindHash:
		return "hash"
	default:
		return "unknown"
	}
}

// Encoding is the physical representation of a value, independent of
// its logical Kind — e.g. a string may be Raw or Int, a hash may be
// Zipmap or Hashtable.
type Encoding uint8

const (
	EncRaw Encoding = iota
	EncInt
	EncZipmap
	EncHashtable
	EncLinkedList
	EncSkiplist
	EncIntSet
	EncHashSet
)

func (e Encoding) String() string {
	switch e {
	case EncRaw:
		return "raw"
	case EncInt:
		return "int"
	case EncZipmap:
		return "zipmap"
	case EncHashtable:
		return "hashtable"
	case EncLinkedList:
		return "linkedlist"
	case EncSkiplist:
		return "skiplist"
	case EncIntSet:
		return "intset"
	case EncHashSet:
		return "hashtable"
	default:
		return "unknown"
	}
}

// Storage tracks where a value's payload currently lives. Meaningful
// only when paging (internal/vm) is enabled; plain Memory otherwise.
type Storage uint8

const (
	StorageMemory Storage = iota
	StorageSwapped
	StorageSwapping
	StorageLoading
)

// Object is the tagged-variant container of spec.md §3/§4.A. Only one
// of Bytes/IntVal/Payload is meaningful, selected by Kind and Encoding;
// unlike the original's void* payload slot, integer-encoded strings
// get an explicit field (spec.md §9 Open Question #3) instead of
// overloading a pointer-sized slot.
type Object struct {
	Kind     Kind
	Encoding Encoding
	refCount int

	// String payload. Bytes is valid when Encoding != EncInt; IntVal is
	// valid when Encoding == EncInt (the canonical decimal form of a
	// string that fits an int64, per spec.md §3).
	Bytes  []byte
	IntVal int64

	// Payload holds the type-specific structure for list/set/zset/hash
	// values (*datastruct list/set/sortedset, or a hash representation
	// — internal/database owns the concrete types to avoid an import
	// cycle between obj and datastruct).
	Payload interface{}

	// Paging bookkeeping (spec.md §3, meaningful only when Storage !=
	// StorageMemory). OOMKind records Kind at the moment of swap-out
	// since Storage no longer distinguishes it once Bytes is released.
	Storage    Storage
	OOMKind    Kind
	LastAccess int64
	FirstPage  int64
	PageCount  int64
}

// New creates an Object with refcount 1, wrapping an arbitrary
// type-specific payload (list/set/zset/hash). For strings use NewString.
func New(kind Kind, payload interface{}) *Object {
	return &Object{Kind: kind, Encoding: encodingFor(kind), Payload: payload, refCount: 1}
}

func encodingFor(kind Kind) Encoding {
	switch kind {
	case KindList:
		return EncLinkedList
	case KindSet:
		return EncHashSet
	case KindZSet:
		return EncSkiplist
	case KindHash:
		return EncHashtable
	default:
		return EncRaw
	}
}

// NewString builds a String object in raw encoding; callers that know
// the bytes may be a canonical integer should call TryEncodeInt
// afterwards.
func NewString(b []byte) *Object {
	return &Object{Kind: KindString, Encoding: EncRaw, Bytes: b, refCount: 1}
}

// Retain increments the refcount. Per spec.md §4.A, refcount
// underflow on Release is a programming bug and must assert — so
// Retain has nothing to assert, only Release does.
func (o *Object) Retain() {
	o.refCount++
}

// Release decrements the refcount, deallocating the payload once it
// reaches zero. Refcount underflow indicates a use-after-free bug in
// the caller and must abort the process immediately rather than
// silently continue (spec.md §4.A, §7).
func (o *Object) Release() {
	o.refCount--
	if o.refCount < 0 {
		logger.Fatal("object refcount underflow: double release")
	}
	if o.refCount == 0 {
		o.Bytes = nil
		o.Payload = nil
	}
}

// RefCount reports the current refcount, used by the paging subsystem
// to check the "refcount exactly 1" eligibility rule in spec.md §3/§4.J.
func (o *Object) RefCount() int {
	return o.refCount
}

// TryEncodeInt attempts to switch a raw string object to the Int
// encoding. It fails (returns false, leaving o untouched) when the
// object is shared (refcount > 1) or already encoded, per spec.md §4.A.
func (o *Object) TryEncodeInt() bool {
	if o.Kind != KindString || o.Encoding != EncRaw {
		return false
	}
	if o.refCount > 1 {
		return false
	}
	n, ok := parseCanonicalInt(o.Bytes)
	if !ok {
		return false
	}
	o.Encoding = EncInt
	o.IntVal = n
	o.Bytes = nil
	return true
}

// parseCanonicalInt reports whether b is the minimal decimal
// representation of an integer in int64 range — i.e. round-tripping
// through FormatInt reproduces b exactly byte-for-byte. Strings like
// "007" or "+5" are NOT canonical and stay raw.
func parseCanonicalInt(b []byte) (int64, bool) {
	if len(b) == 0 || len(b) > 20 {
		return 0, false
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, false
	}
	if strconv.FormatInt(n, 10) != string(b) {
		return 0, false
	}
	return n, true
}

// Decode returns a string view of a String object, allocating only
// for the Int encoding (spec.md §4.A: "decode... may allocate").
func (o *Object) Decode() []byte {
	if o.Kind != KindString {
		return nil
	}
	if o.Encoding == EncInt {
		return []byte(strconv.FormatInt(o.IntVal, 10))
	}
	return o.Bytes
}

// StringLen returns the printable width of a String object: the
// decimal width for Int encoding, else the raw byte length.
func (o *Object) StringLen() int {
	if o.Kind != KindString {
		return 0
	}
	if o.Encoding == EncInt {
		return len(strconv.FormatInt(o.IntVal, 10))
	}
	return len(o.Bytes)
}

// Equal implements spec.md §3's byte-equality rule: two string
// objects are equal iff their decoded forms are byte-equal, comparing
// integer-encoded operands via textual normalization rather than
// materializing both sides unless necessary.
func (o *Object) Equal(other *Object) bool {
	if o.Kind != KindString || other.Kind != KindString {
		return false
	}
	if o.Encoding == EncInt && other.Encoding == EncInt {
		return o.IntVal == other.IntVal
	}
	return string(o.Decode()) == string(other.Decode())
}
