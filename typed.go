package dirstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Docs is a typed view over a list collection. T is mapped to and from
// records through its JSON representation, so the usual struct tags apply:
//
//	type Task struct {
//		ID    int64  `json:"id,omitempty"`
//		Title string `json:"title"`
//		Done  bool   `json:"done"`
//	}
//
//	tasks := dirstore.Documents[Task](col)
//	stored, err := tasks.Insert(ctx, Task{Title: "write tests"})
//
// The untyped [Collection] surface stays available on the same data.
type Docs[T any] struct {
	c *Collection
}

// Documents returns a typed view over c.
func Documents[T any](c *Collection) Docs[T] {
	return Docs[T]{c: c}
}

// Collection returns the underlying untyped handle.
func (d Docs[T]) Collection() *Collection {
	return d.c
}

// Insert stores doc and returns it with its assigned id. A zero id field
// counts as absent and is filled by the allocator.
func (d Docs[T]) Insert(ctx context.Context, doc T) (T, error) {
	var zero T

	rec, err := toRecord(doc)
	if err != nil {
		return zero, err
	}

	stored, err := d.c.Insert(ctx, rec)
	if err != nil {
		return zero, err
	}

	return fromRecord[T](stored)
}

// ByID returns the document with the given id.
func (d Docs[T]) ByID(ctx context.Context, id int64) (T, bool, error) {
	var zero T

	rec, found, err := d.c.FindByID(ctx, id)
	if err != nil || !found {
		return zero, false, err
	}

	out, err := fromRecord[T](rec)
	if err != nil {
		return zero, false, err
	}

	return out, true, nil
}

// Find returns the documents matching q in collection order.
func (d Docs[T]) Find(ctx context.Context, q Query) ([]T, error) {
	recs, err := d.c.Find(ctx, q)
	if err != nil {
		return nil, err
	}

	return fromRecords[T](recs)
}

// All returns every document in collection order.
func (d Docs[T]) All(ctx context.Context) ([]T, error) {
	recs, err := d.c.Records(ctx)
	if err != nil {
		return nil, err
	}

	return fromRecords[T](recs)
}

func toRecord(v any) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("document must encode to a JSON object: %w", err)
	}

	return cloneRecord(m), nil
}

func fromRecord[T any](rec Record) (T, error) {
	var out T

	data, err := json.Marshal(rec)
	if err != nil {
		return out, fmt.Errorf("failed to encode record: %w", err)
	}

	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to decode record into %T: %w", out, err)
	}

	return out, nil
}

func fromRecords[T any](recs []Record) ([]T, error) {
	out := make([]T, len(recs))

	for i, rec := range recs {
		v, err := fromRecord[T](rec)
		if err != nil {
			return nil, err
		}

		out[i] = v
	}

	return out, nil
}
