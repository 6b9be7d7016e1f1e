package dirstore

import (
	"encoding/json"
	"math"
	"reflect"
	"sort"
	"strconv"
)

// Record is a free-form document. Values are JSON trees: nested
// map[string]any, []any, string, bool, int64, float64, and nil.
//
// Numeric values are canonicalized at the store boundary: integral numbers
// become int64, fractional numbers become float64. A record read back from
// a collection therefore compares equal to the record that was written,
// whatever numeric types the caller used.
type Record map[string]any

// idField is the reserved primary-key field of list collections.
const idField = "id"

// ID returns the record's id field, if present.
func (r Record) ID() (int64, bool) {
	return asID(r[idField])
}

// Shape describes the top-level form of a collection.
type Shape uint8

const (
	// ShapeNone means the collection has no file yet and no operation has
	// fixed its shape.
	ShapeNone Shape = iota

	// ShapeList is a sequence of records with unique int64 ids.
	ShapeList

	// ShapeMap is a string-keyed document.
	ShapeMap
)

func (s Shape) String() string {
	switch s {
	case ShapeList:
		return "list"
	case ShapeMap:
		return "map"
	default:
		return "none"
	}
}

// Root is a collection's decoded top-level value: either a list of records
// or a single string-keyed map, never both. The zero Root has ShapeNone.
type Root struct {
	shape Shape
	list  []Record
	dict  map[string]any
}

func newListRoot(list []Record) Root {
	return Root{shape: ShapeList, list: list}
}

func newMapRoot(dict map[string]any) Root {
	if dict == nil {
		dict = map[string]any{}
	}

	return Root{shape: ShapeMap, dict: dict}
}

// emptyRoot returns an empty root of the given shape.
func emptyRoot(shape Shape) Root {
	switch shape {
	case ShapeList:
		return newListRoot(nil)
	case ShapeMap:
		return newMapRoot(nil)
	default:
		return Root{}
	}
}

// Shape returns the root's shape.
func (r Root) Shape() Shape { return r.shape }

// List returns the records of a list root, nil otherwise.
func (r Root) List() []Record { return r.list }

// Map returns the entries of a map root, nil otherwise.
func (r Root) Map() map[string]any { return r.dict }

// Len returns the number of records or top-level keys.
func (r Root) Len() int {
	if r.shape == ShapeList {
		return len(r.list)
	}

	return len(r.dict)
}

// keys returns the root's keys: decimal ids in record order for lists,
// sorted keys for maps.
func (r Root) keys() []string {
	switch r.shape {
	case ShapeList:
		out := make([]string, 0, len(r.list))
		for _, rec := range r.list {
			id, _ := rec.ID()
			out = append(out, strconv.FormatInt(id, 10))
		}

		return out
	case ShapeMap:
		out := make([]string, 0, len(r.dict))
		for k := range r.dict {
			out = append(out, k)
		}

		sort.Strings(out)

		return out
	default:
		return nil
	}
}

// values returns records in order for lists, entries in key order for maps.
func (r Root) values() []any {
	switch r.shape {
	case ShapeList:
		out := make([]any, 0, len(r.list))
		for _, rec := range r.list {
			out = append(out, map[string]any(rec))
		}

		return out
	case ShapeMap:
		keys := r.keys()
		out := make([]any, 0, len(keys))

		for _, k := range keys {
			out = append(out, r.dict[k])
		}

		return out
	default:
		return nil
	}
}

// clone returns a deep copy. Callers receive and hand over clones only, so
// cached state is never aliased by user code.
func (r Root) clone() Root {
	switch r.shape {
	case ShapeList:
		if r.list == nil {
			return newListRoot(nil)
		}

		out := make([]Record, len(r.list))
		for i, rec := range r.list {
			out[i] = cloneRecord(rec)
		}

		return newListRoot(out)
	case ShapeMap:
		return newMapRoot(cloneMap(r.dict))
	default:
		return Root{}
	}
}

// cloneValue deep-copies a JSON tree, canonicalizing numbers along the way.
func cloneValue(v any) any {
	switch t := v.(type) {
	case nil, bool, string, int64:
		return t
	case float64:
		return canonFloat(t)
	case json.Number:
		return numberValue(t)
	case Record:
		return cloneMap(t)
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}

		return out
	case []Record:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneMap(e)
		}

		return out
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return canonUint(uint64(t))
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return canonUint(t)
	case float32:
		return canonFloat(float64(t))
	default:
		// Caller-supplied structs and other exotic values pass through
		// untouched; JSON encoding handles or rejects them later.
		return v
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}

	return out
}

func cloneRecord(r Record) Record {
	return Record(cloneMap(r))
}

// canonFloat collapses integral floats to int64 so numbers written by one
// caller and decoded from JSON by another compare equal.
func canonFloat(f float64) any {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && f >= math.MinInt64 && f <= math.MaxInt64 {
		return int64(f)
	}

	return f
}

func canonUint(u uint64) any {
	if u <= math.MaxInt64 {
		return int64(u)
	}

	return float64(u)
}

func numberValue(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}

	if f, err := n.Float64(); err == nil {
		return f
	}

	return n.String()
}

// asID reads an id value in any of its canonical or caller-supplied forms.
func asID(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		if t == math.Trunc(t) {
			return int64(t), true
		}

		return 0, false
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, true
		}

		return 0, false
	default:
		return 0, false
	}
}

// deepMerge merges src into dst: maps merge recursively, any other value
// (including lists) overwrites. dst is mutated and returned.
func deepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}

	for k, v := range src {
		sv, svOK := asMap(v)
		dv, dvOK := asMap(dst[k])

		if svOK && dvOK {
			dst[k] = deepMerge(dv, sv)

			continue
		}

		dst[k] = cloneValue(v)
	}

	return dst
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Record:
		return t, true
	default:
		return nil, false
	}
}

// valueEqual compares two JSON trees after canonicalization.
func valueEqual(a, b any) bool {
	return reflect.DeepEqual(cloneValue(a), cloneValue(b))
}
