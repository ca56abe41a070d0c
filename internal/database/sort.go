// SORT (spec.md §4.C): sorts a list, set or sorted set, with optional
// BY-pattern indirection, LIMIT windowing, ALPHA/ASC/DESC modifiers,
// GET projections and a STORE target. When BY+LIMIT select a strict
// prefix of the input, only that prefix is fully ordered (partial
// quicksort) rather than paying for a total sort.
package database

import (
	"sort"
	"strconv"
	"strings"

	"github.com/nyxkv/corekv/internal/datastruct/list"
	"github.com/nyxkv/corekv/internal/datastruct/set"
	"github.com/nyxkv/corekv/internal/datastruct/sortedset"
	"github.com/nyxkv/corekv/internal/obj"
	"github.com/nyxkv/corekv/internal/resp"
)

type sortItem struct {
	value   []byte
	weight  float64 // numeric sort key
	byValue []byte  // alpha sort key
	pos     int     // original position, the tie-breaker
}

type sortOptions struct {
	byPattern   string
	limitSet    bool
	offset      int64
	count       int64
	alpha       bool
	desc        bool
	getPatterns []string
	storeKey    string
	hasStore    bool
}

func parseSortOptions(args [][]byte) (*sortOptions, resp.ErrorReply) {
	opts := &sortOptions{}
	for i := 1; i < len(args); i++ {
		switch strings.ToUpper(string(args[i])) {
		case "BY":
			if i+1 >= len(args) {
				return nil, &resp.SyntaxErrReply{}
			}
			opts.byPattern = string(args[i+1])
			i++
		case "LIMIT":
			if i+2 >= len(args) {
				return nil, &resp.SyntaxErrReply{}
			}
			offset, ok1 := parseInt(args[i+1])
			count, ok2 := parseInt(args[i+2])
			if !ok1 || !ok2 {
				return nil, &resp.SyntaxErrReply{}
			}
			if offset < 0 {
				offset = 0
			}
			opts.limitSet = true
			opts.offset = offset
			opts.count = count
			i += 2
		case "ALPHA":
			opts.alpha = true
		case "ASC":
			opts.desc = false
		case "DESC":
			opts.desc = true
		case "GET":
			if i+1 >= len(args) {
				return nil, &resp.SyntaxErrReply{}
			}
			opts.getPatterns = append(opts.getPatterns, string(args[i+1]))
			i++
		case "STORE":
			if i+1 >= len(args) {
				return nil, &resp.SyntaxErrReply{}
			}
			opts.storeKey = string(args[i+1])
			opts.hasStore = true
			i++
		default:
			return nil, &resp.SyntaxErrReply{}
		}
	}
	return opts, nil
}

// substitutePattern replaces the first '*' in pattern with element,
// reporting false when pattern has no '*' at all (which disables
// sorting for BY, and makes a GET pattern other than '#' yield nil).
func substitutePattern(pattern string, element []byte) (string, bool) {
	i := strings.IndexByte(pattern, '*')
	if i < 0 {
		return pattern, false
	}
	return pattern[:i] + string(element) + pattern[i+1:], true
}

func sortableInput(db *DB, key string) ([][]byte, resp.ErrorReply) {
	entity, exists := db.GetEntity(key)
	if !exists {
		return nil, nil
	}
	switch entity.Kind {
	case obj.KindList:
		l := entity.Payload.(*list.List)
		out := make([][]byte, 0, l.Len())
		l.ForEach(func(v []byte) bool {
			out = append(out, v)
			return true
		})
		return out, nil
	case obj.KindSet:
		s := entity.Payload.(*set.Set)
		out := make([][]byte, 0, s.Len())
		s.ForEach(func(m string) bool {
			out = append(out, []byte(m))
			return true
		})
		return out, nil
	case obj.KindZSet:
		z := entity.Payload.(*sortedset.SortedSet)
		out := make([][]byte, 0, z.Len())
		z.ForEach(0, z.Len(), false, func(e *sortedset.Element) bool {
			out = append(out, []byte(e.Member))
			return true
		})
		return out, nil
	default:
		return nil, &resp.WrongTypeErrReply{}
	}
}

func execSort(db *DB, args [][]byte) resp.Reply {
	key := string(args[0])
	opts, errReply := parseSortOptions(args)
	if errReply != nil {
		return errReply
	}
	values, errReply := sortableInput(db, key)
	if errReply != nil {
		return errReply
	}

	items := make([]sortItem, len(values))
	for i, v := range values {
		items[i] = sortItem{value: v, pos: i}
	}

	dontsort := false
	if opts.byPattern != "" {
		if _, hasStar := substitutePattern(opts.byPattern, nil); !hasStar {
			dontsort = true
		}
	}

	if !dontsort {
		for i := range items {
			sortKey := items[i].value
			if opts.byPattern != "" {
				lookup, _ := substitutePattern(opts.byPattern, items[i].value)
				byVal, lookupErr := db.GetAsString(lookup)
				if lookupErr != nil {
					return lookupErr
				}
				// a missing by-value sorts as the empty string; ties
				// keep input order (stable tie-break on pos)
				sortKey = byVal
			}
			if opts.alpha {
				items[i].byValue = sortKey
			} else {
				if len(sortKey) == 0 {
					items[i].weight = 0
					continue
				}
				w, err := strconv.ParseFloat(string(sortKey), 64)
				if err != nil {
					return resp.MakeErrReply("ERR One or more scores can't be converted into double")
				}
				items[i].weight = w
			}
		}

		less := func(a, b *sortItem) bool {
			if opts.alpha {
				if c := strings.Compare(string(a.byValue), string(b.byValue)); c != 0 {
					return (c < 0) != opts.desc
				}
				return a.pos < b.pos
			}
			if a.weight != b.weight {
				return (a.weight < b.weight) != opts.desc
			}
			return a.pos < b.pos
		}

		if opts.byPattern != "" && opts.limitSet && opts.offset+opts.count < int64(len(items)) && opts.count >= 0 {
			partialSort(items, int(opts.offset+opts.count), less)
		} else {
			sort.Slice(items, func(i, j int) bool { return less(&items[i], &items[j]) })
		}
	}

	// LIMIT windowing
	selected := items
	if opts.limitSet {
		offset := opts.offset
		if offset > int64(len(selected)) {
			offset = int64(len(selected))
		}
		end := int64(len(selected))
		if opts.count >= 0 && offset+opts.count < end {
			end = offset + opts.count
		}
		selected = selected[offset:end]
	}

	// GET projection: '#' is the element itself, a '*' pattern is an
	// indirect string lookup, nil when the looked-up key is missing
	var output [][]byte
	if len(opts.getPatterns) == 0 {
		output = make([][]byte, len(selected))
		for i, item := range selected {
			output[i] = item.value
		}
	} else {
		output = make([][]byte, 0, len(selected)*len(opts.getPatterns))
		for _, item := range selected {
			for _, pattern := range opts.getPatterns {
				if pattern == "#" {
					output = append(output, item.value)
					continue
				}
				lookup, hasStar := substitutePattern(pattern, item.value)
				if !hasStar {
					output = append(output, nil)
					continue
				}
				val, lookupErr := db.GetAsString(lookup)
				if lookupErr != nil {
					return lookupErr
				}
				output = append(output, val)
			}
		}
	}

	if opts.hasStore {
		result := list.New()
		for _, v := range output {
			if v == nil {
				v = []byte{}
			}
			result.RPush(v)
		}
		if result.Len() == 0 {
			db.Removes(opts.storeKey)
		} else {
			db.PutEntity(opts.storeKey, obj.New(obj.KindList, result))
		}
		// only the STORE form mutates, so only it is journaled
		db.AddAof(toCmdLine("SORT", args...))
		return resp.MakeIntReply(int64(result.Len()))
	}
	return resp.MakeMultiBulkReply(output)
}

// partialSort orders items so that the first k positions hold the k
// smallest elements in sorted order, leaving the tail unordered: a
// quicksort that never recurses into a subarray lying wholly past k.
func partialSort(items []sortItem, k int, less func(a, b *sortItem) bool) {
	if k <= 0 || len(items) <= 1 {
		return
	}
	var qsort func(lo, hi int)
	qsort = func(lo, hi int) {
		for lo < hi {
			pivot := items[(lo+hi)/2]
			i, j := lo, hi
			for i <= j {
				for less(&items[i], &pivot) {
					i++
				}
				for less(&pivot, &items[j]) {
					j--
				}
				if i <= j {
					items[i], items[j] = items[j], items[i]
					i++
					j--
				}
			}
			qsort(lo, j)
			// the right partition is only interesting while it
			// intersects the requested prefix
			if i >= k {
				return
			}
			lo = i
		}
	}
	qsort(0, len(items)-1)
}

func prepareSort(args [][]byte) ([]string, []string) {
	key := string(args[0])
	for i := 1; i < len(args); i++ {
		if strings.EqualFold(string(args[i]), "STORE") && i+1 < len(args) {
			return []string{string(args[i+1])}, []string{key}
		}
	}
	return nil, []string{key}
}

func undoSort(db *DB, args [][]byte) []CmdLine {
	write, _ := prepareSort(args)
	if len(write) == 0 {
		return nil
	}
	return rollbackGivenKeys(db, write...)
}

func init() {
	RegisterCommand("Sort", execSort, prepareSort, undoSort, -2, FlagDenyOOM|FlagSelfAof)
}
