package dirstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/dirstore/internal/vfs"
)

// errMalformed marks a collection file whose bytes cannot be understood:
// invalid JSON, a non-container top level, or a list with non-record
// elements. Such files are quarantined, never silently discarded.
var errMalformed = errors.New("malformed collection file")

// encodeRoot marshals a root to its on-disk form: compact JSON with sorted
// keys and a trailing newline.
func encodeRoot(root Root) ([]byte, error) {
	var v any

	switch root.Shape() {
	case ShapeList:
		list := root.List()
		if list == nil {
			list = []Record{}
		}

		v = list
	case ShapeMap:
		v = root.Map()
	default:
		return nil, errors.New("cannot encode a collection without a shape")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode collection: %w", err)
	}

	return append(data, '\n'), nil
}

// decodeRoot parses collection file bytes. Strict JSON is tried first, then
// the bytes are run through hujson so hand-edited files with comments or
// trailing commas still load. Anything else is errMalformed.
func decodeRoot(data []byte) (Root, error) {
	root, err := decodeStrict(data)
	if err == nil {
		return root, nil
	}

	standardized, herr := hujson.Standardize(bytes.Clone(data))
	if herr != nil {
		return Root{}, fmt.Errorf("%w: %v", errMalformed, err)
	}

	root, serr := decodeStrict(standardized)
	if serr != nil {
		return Root{}, fmt.Errorf("%w: %v", errMalformed, err)
	}

	return root, nil
}

func decodeStrict(data []byte) (Root, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return Root{}, err
	}

	// A collection file holds exactly one JSON value.
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Root{}, errors.New("trailing data after top-level value")
	}

	switch t := v.(type) {
	case []any:
		list := make([]Record, 0, len(t))

		for i, e := range t {
			m, ok := e.(map[string]any)
			if !ok {
				return Root{}, fmt.Errorf("list element %d is %T, not a record", i, e)
			}

			list = append(list, Record(cloneMap(m)))
		}

		return newListRoot(list), nil
	case map[string]any:
		return newMapRoot(cloneMap(t)), nil
	default:
		return Root{}, fmt.Errorf("top-level value is %T, not a list or map", v)
	}
}

// quarantine moves an unreadable collection file aside, preserving its
// bytes under a timestamped name next to the original.
func quarantine(fsys vfs.FS, path string) (string, error) {
	dst := fmt.Sprintf("%s%s%d", path, quarantinePrefix, time.Now().UnixNano())

	if err := fsys.Rename(path, dst); err != nil {
		return "", fmt.Errorf("failed to quarantine corrupt file: %w", err)
	}

	return dst, nil
}
