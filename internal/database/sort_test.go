package database

import (
	"testing"

	"github.com/nyxkv/corekv/internal/resp"
)

func TestSortNumeric(t *testing.T) {
	db := testDB()
	exec(db, "rpush", "l", "3", "1", "2")
	assertMultiBulk(t, exec(db, "sort", "l"), "1", "2", "3")
	assertMultiBulk(t, exec(db, "sort", "l", "DESC"), "3", "2", "1")
}

func TestSortAlpha(t *testing.T) {
	db := testDB()
	exec(db, "rpush", "l", "banana", "apple", "cherry")
	assertMultiBulk(t, exec(db, "sort", "l", "ALPHA"), "apple", "banana", "cherry")

	// non-numeric input without ALPHA is an error
	if !resp.IsErrorReply(exec(db, "sort", "l")) {
		t.Error("sorting non-numeric elements without ALPHA must error")
	}
}

func TestSortLimit(t *testing.T) {
	db := testDB()
	exec(db, "rpush", "l", "5", "3", "1", "4", "2")
	assertMultiBulk(t, exec(db, "sort", "l", "LIMIT", "1", "2"), "2", "3")
	assertMultiBulk(t, exec(db, "sort", "l", "LIMIT", "3", "100"), "4", "5")
}

func TestSortBy(t *testing.T) {
	db := testDB()
	exec(db, "rpush", "l", "a", "b", "c")
	exec(db, "set", "weight_a", "3")
	exec(db, "set", "weight_b", "1")
	exec(db, "set", "weight_c", "2")
	assertMultiBulk(t, exec(db, "sort", "l", "BY", "weight_*"), "b", "c", "a")
}

// a BY pattern with no '*' disables sorting entirely
func TestSortByWithoutStarSkipsSort(t *testing.T) {
	db := testDB()
	exec(db, "rpush", "l", "3", "1", "2")
	assertMultiBulk(t, exec(db, "sort", "l", "BY", "nosubst"), "3", "1", "2")
}

func TestSortByMissingPattern(t *testing.T) {
	db := testDB()
	exec(db, "rpush", "l", "a", "b", "c")
	exec(db, "set", "weight_b", "5")
	// a and c have no by-value: they sort as ties (weight 0) and keep
	// their input order ahead of b
	assertMultiBulk(t, exec(db, "sort", "l", "BY", "weight_*"), "a", "c", "b")
}

func TestSortGet(t *testing.T) {
	db := testDB()
	exec(db, "rpush", "l", "1", "2")
	exec(db, "set", "data_1", "one")
	exec(db, "set", "data_2", "two")
	assertMultiBulk(t, exec(db, "sort", "l", "GET", "data_*"), "one", "two")
	assertMultiBulk(t, exec(db, "sort", "l", "GET", "#", "GET", "data_*"),
		"1", "one", "2", "two")

	mb := exec(db, "sort", "l", "GET", "missing_*").(*resp.MultiBulkReply)
	if mb.Args[0] != nil || mb.Args[1] != nil {
		t.Error("a GET pattern with no backing key must yield nils")
	}
}

func TestSortStore(t *testing.T) {
	db := testDB()
	exec(db, "rpush", "l", "3", "1", "2")
	assertInt(t, exec(db, "sort", "l", "STORE", "dest"), 3)
	assertMultiBulk(t, exec(db, "lrange", "dest", "0", "-1"), "1", "2", "3")
	assertStatus(t, exec(db, "type", "dest"), "list")
}

func TestSortWrongType(t *testing.T) {
	db := testDB()
	exec(db, "set", "s", "v")
	if !resp.IsErrorReply(exec(db, "sort", "s")) {
		t.Error("SORT of a string must be a wrong-type error")
	}
	assertMultiBulk(t, exec(db, "sort", "missing"))
}

func TestSortSet(t *testing.T) {
	db := testDB()
	exec(db, "sadd", "s", "30", "10", "20")
	assertMultiBulk(t, exec(db, "sort", "s"), "10", "20", "30")
}

func TestPartialSortPrefix(t *testing.T) {
	items := []sortItem{
		{weight: 5, pos: 0}, {weight: 1, pos: 1}, {weight: 4, pos: 2},
		{weight: 2, pos: 3}, {weight: 3, pos: 4}, {weight: 0, pos: 5},
	}
	less := func(a, b *sortItem) bool {
		if a.weight != b.weight {
			return a.weight < b.weight
		}
		return a.pos < b.pos
	}
	partialSort(items, 3, less)
	want := []float64{0, 1, 2}
	for i, w := range want {
		if items[i].weight != w {
			t.Errorf("prefix position %d: expected %v, got %v", i, w, items[i].weight)
		}
	}
}
