// Package zipmap implements the compact key/value encoding spec.md
// §3/§4.A names for small hashes: an ordered flat sequence of
// (length-prefixed key, length-prefixed value) pairs scanned linearly,
// traded for the hashtable encoding once a hash grows past the
// configured element-count or value-size threshold. Grounded on
// original Redis's zipmap.c/zipmap.h layout idea, reimplemented as a
// slice of pairs rather than a packed byte buffer since Go gives us
// growable slices for free and the point of this encoding is avoiding
// per-entry map overhead at small sizes, not byte-for-byte parity
// with zipmap.c's own memory layout.
package zipmap

// Zipmap is a small ordered key/value store, O(n) lookup, used for
// hashes below the encoding-conversion threshold.
type Zipmap struct {
	pairs []pair
}

type pair struct {
	key, value []byte
}

func New() *Zipmap {
	return &Zipmap{}
}

func (z *Zipmap) Len() int {
	return len(z.pairs)
}

func (z *Zipmap) indexOf(key []byte) int {
	for i, p := range z.pairs {
		if bytesEqual(p.key, key) {
			return i
		}
	}
	return -1
}

// Set inserts or updates key's value, returning true if key was
// newly added.
func (z *Zipmap) Set(key, value []byte) bool {
	if i := z.indexOf(key); i >= 0 {
		z.pairs[i].value = value
		return false
	}
	z.pairs = append(z.pairs, pair{key: key, value: value})
	return true
}

func (z *Zipmap) Get(key []byte) ([]byte, bool) {
	if i := z.indexOf(key); i >= 0 {
		return z.pairs[i].value, true
	}
	return nil, false
}

func (z *Zipmap) Delete(key []byte) bool {
	i := z.indexOf(key)
	if i < 0 {
		return false
	}
	z.pairs = append(z.pairs[:i], z.pairs[i+1:]...)
	return true
}

// ForEach visits every (key, value) pair in insertion order, stopping
// early if fn returns false.
func (z *Zipmap) ForEach(fn func(key, value []byte) bool) {
	for _, p := range z.pairs {
		if !fn(p.key, p.value) {
			return
		}
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
