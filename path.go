package dirstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Deep-path operations address nested values with dot-separated paths:
// "scores.alice" is the "alice" key inside the "scores" map. Numeric
// segments index lists; on a list collection a leading numeric segment
// addresses a record by position.
//
// Writes auto-create missing intermediate containers: a map for a name
// segment, a nil-padded list for a numeric segment. Existing values are
// never coerced: descending through a scalar or pushing onto a non-list
// fails with [ErrPathType].

// splitPath validates and splits a dot path.
func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrPath)
	}

	segs := strings.Split(path, ".")
	for _, s := range segs {
		if s == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrPath, path)
		}
	}

	return segs, nil
}

// pathIndex reports whether a segment is a list index (decimal digits only).
func pathIndex(seg string) (int, bool) {
	for _, r := range seg {
		if r < '0' || r > '9' {
			return 0, false
		}
	}

	n, err := strconv.Atoi(seg)
	if err != nil {
		return 0, false
	}

	return n, true
}

func errPathTypef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPathType, fmt.Sprintf(format, args...))
}

// getIn walks segs down a JSON tree. Missing keys, out-of-range indexes,
// and scalar detours all report absence, never an error.
func getIn(node any, segs []string) (any, bool) {
	for _, seg := range segs {
		switch t := node.(type) {
		case map[string]any:
			v, ok := t[seg]
			if !ok {
				return nil, false
			}

			node = v
		case Record:
			v, ok := t[seg]
			if !ok {
				return nil, false
			}

			node = v
		case []any:
			idx, ok := pathIndex(seg)
			if !ok || idx >= len(t) {
				return nil, false
			}

			node = t[idx]
		default:
			return nil, false
		}
	}

	return node, true
}

// setIn writes value at segs, creating intermediate containers as needed.
// Returns the possibly reallocated node. The value must already be cloned.
func setIn(node any, segs []string, value any) (any, error) {
	seg := segs[0]
	idx, isIdx := pathIndex(seg)

	if node == nil {
		if isIdx {
			node = []any{}
		} else {
			node = map[string]any{}
		}
	}

	switch t := node.(type) {
	case Record:
		return setIn(map[string]any(t), segs, value)
	case map[string]any:
		// A numeric segment on an existing map is a plain string key.
		if len(segs) == 1 {
			t[seg] = value

			return t, nil
		}

		child, err := setIn(t[seg], segs[1:], value)
		if err != nil {
			return nil, err
		}

		t[seg] = child

		return t, nil
	case []any:
		if !isIdx {
			return nil, errPathTypef("segment %q is not an index into a list", seg)
		}

		for len(t) <= idx {
			t = append(t, nil)
		}

		if len(segs) == 1 {
			t[idx] = value

			return t, nil
		}

		child, err := setIn(t[idx], segs[1:], value)
		if err != nil {
			return nil, err
		}

		t[idx] = child

		return t, nil
	default:
		return nil, errPathTypef("cannot descend into %T at segment %q", node, seg)
	}
}

// deleteIn removes the value at segs. Reports whether anything was removed;
// absent paths and type detours are a no-op, not an error. List elements
// are spliced out, not left as holes.
func deleteIn(node any, segs []string) (any, bool) {
	seg := segs[0]

	switch t := node.(type) {
	case Record:
		return deleteIn(map[string]any(t), segs)
	case map[string]any:
		if len(segs) == 1 {
			if _, ok := t[seg]; !ok {
				return t, false
			}

			delete(t, seg)

			return t, true
		}

		child, ok := deleteIn(t[seg], segs[1:])
		if ok {
			t[seg] = child
		}

		return t, ok
	case []any:
		idx, isIdx := pathIndex(seg)
		if !isIdx || idx >= len(t) {
			return t, false
		}

		if len(segs) == 1 {
			return append(t[:idx], t[idx+1:]...), true
		}

		child, ok := deleteIn(t[idx], segs[1:])
		if ok {
			t[idx] = child
		}

		return t, ok
	default:
		return node, false
	}
}

// rootGet resolves a path against a root.
func rootGet(root Root, segs []string) (any, bool) {
	switch root.Shape() {
	case ShapeList:
		idx, ok := pathIndex(segs[0])
		if !ok || idx >= len(root.List()) {
			return nil, false
		}

		return getIn(map[string]any(root.List()[idx]), segs[1:])
	case ShapeMap:
		return getIn(root.Map(), segs)
	default:
		return nil, false
	}
}

// rootSet writes a path against a root. The root must be a private clone;
// it is mutated in place. The value is cloned here.
func rootSet(root *Root, segs []string, value any) error {
	switch root.Shape() {
	case ShapeList:
		idx, ok := pathIndex(segs[0])
		if !ok {
			return errPathTypef("segment %q is not a record position", segs[0])
		}

		if idx >= len(root.list) {
			return errPathTypef("record position %d out of range (len %d)", idx, len(root.list))
		}

		if len(segs) == 1 {
			m, ok := asMap(value)
			if !ok {
				return errPathTypef("a list collection holds records, not %T", value)
			}

			root.list[idx] = Record(cloneMap(m))

			return nil
		}

		_, err := setIn(map[string]any(root.list[idx]), segs[1:], cloneValue(value))

		return err
	case ShapeMap:
		_, err := setIn(root.dict, segs, cloneValue(value))

		return err
	default:
		return errPathTypef("no collection content to write into")
	}
}

// rootDelete removes a path from a root clone. A single-segment numeric
// path on a list root splices the record out.
func rootDelete(root *Root, segs []string) (bool, error) {
	switch root.Shape() {
	case ShapeList:
		idx, ok := pathIndex(segs[0])
		if !ok || idx >= len(root.list) {
			return false, nil
		}

		if len(segs) == 1 {
			root.list = append(root.list[:idx], root.list[idx+1:]...)

			return true, nil
		}

		_, removed := deleteIn(map[string]any(root.list[idx]), segs[1:])

		return removed, nil
	case ShapeMap:
		_, removed := deleteIn(root.dict, segs)

		return removed, nil
	default:
		return false, nil
	}
}

// rootMerge deep-merges a partial map into the value at a path. The target
// must be a map or absent.
func rootMerge(root *Root, segs []string, partial map[string]any) error {
	cur, ok := rootGet(*root, segs)
	if !ok || cur == nil {
		return rootSet(root, segs, cloneMap(partial))
	}

	m, isMap := asMap(cur)
	if !isMap {
		return errPathTypef("merge target is %T, not a map", cur)
	}

	merged := deepMerge(cloneMap(m), partial)

	return rootSet(root, segs, merged)
}

// rootPush appends values to the list at a path, creating an empty list
// when the path is absent.
func rootPush(root *Root, segs []string, values []any) error {
	cur, ok := rootGet(*root, segs)

	var list []any

	switch {
	case !ok || cur == nil:
		list = []any{}
	default:
		l, isList := cur.([]any)
		if !isList {
			return errPathTypef("push target is %T, not a list", cur)
		}

		list = l
	}

	for _, v := range values {
		list = append(list, cloneValue(v))
	}

	return rootSet(root, segs, list)
}

// rootPull removes every element of the list at a path that compares
// deep-equal to one of the given values. An absent target is a no-op.
func rootPull(root *Root, segs []string, values []any) (int, error) {
	cur, ok := rootGet(*root, segs)
	if !ok || cur == nil {
		return 0, nil
	}

	list, isList := cur.([]any)
	if !isList {
		return 0, errPathTypef("pull target is %T, not a list", cur)
	}

	kept := make([]any, 0, len(list))

	for _, e := range list {
		drop := false

		for _, v := range values {
			if valueEqual(e, v) {
				drop = true

				break
			}
		}

		if !drop {
			kept = append(kept, e)
		}
	}

	removed := len(list) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	return removed, rootSet(root, segs, kept)
}

// rootApply transforms the value at a path with fn. fn receives nil when
// the path is absent and its return value is written back.
func rootApply(root *Root, segs []string, fn func(any) (any, error)) error {
	cur, _ := rootGet(*root, segs)

	next, err := fn(cloneValue(cur))
	if err != nil {
		return err
	}

	return rootSet(root, segs, next)
}
