package dirstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

// Backend is a pluggable document store serving collections designated
// external via [Config.External].
//
// Load reports found=false for a collection the backend has never stored.
// Store replaces the collection's entire content atomically. Errors from
// any method make the store fall back to the collection's file for that one
// operation; a Backend never needs to retry internally.
type Backend interface {
	Load(ctx context.Context, name string) (Root, bool, error)
	Store(ctx context.Context, name string, root Root) error
	Delete(ctx context.Context, name string) error
	Close() error
}

// Bucket layout: one top-level bucket per collection holding a single
// "list" or "map" sub-bucket, whichever matches the collection's shape.
var (
	boltListBucket = []byte("list")
	boltMapBucket  = []byte("map")
)

// boltBackend stores collections in a bbolt file.
//
// List collections hold one entry per record keyed by the big-endian id;
// the id field itself is stripped from the encoded value and carried by the
// key, then reinjected on load. Map collections hold one entry per key.
type boltBackend struct {
	db *bbolt.DB
}

// OpenBolt opens or creates a bbolt-backed [Backend] at path.
func OpenBolt(path string) (Backend, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt backend %s: %w", path, err)
	}

	return &boltBackend{db: db}, nil
}

func (b *boltBackend) Load(ctx context.Context, name string) (Root, bool, error) {
	if err := ctx.Err(); err != nil {
		return Root{}, false, err
	}

	var (
		root  Root
		found bool
	)

	err := b.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(name))
		if bkt == nil {
			return nil
		}

		found = true

		if lb := bkt.Bucket(boltListBucket); lb != nil {
			list, err := decodeListBucket(lb)
			if err != nil {
				return err
			}

			root = newListRoot(list)

			return nil
		}

		if mb := bkt.Bucket(boltMapBucket); mb != nil {
			dict, err := decodeMapBucket(mb)
			if err != nil {
				return err
			}

			root = newMapRoot(dict)

			return nil
		}

		return fmt.Errorf("collection bucket %q has no shape sub-bucket", name)
	})
	if err != nil {
		return Root{}, false, fmt.Errorf("bolt load %s: %w", name, err)
	}

	return root, found, nil
}

func (b *boltBackend) Store(ctx context.Context, name string, root Root) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if root.Shape() == ShapeNone {
		return errors.New("cannot store a collection without a shape")
	}

	err := b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(name)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}

		bkt, err := tx.CreateBucket([]byte(name))
		if err != nil {
			return err
		}

		switch root.Shape() {
		case ShapeList:
			lb, err := bkt.CreateBucket(boltListBucket)
			if err != nil {
				return err
			}

			return encodeListBucket(lb, root.List())
		default:
			mb, err := bkt.CreateBucket(boltMapBucket)
			if err != nil {
				return err
			}

			return encodeMapBucket(mb, root.Map())
		}
	})
	if err != nil {
		return fmt.Errorf("bolt store %s: %w", name, err)
	}

	return nil
}

func (b *boltBackend) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(name)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("bolt delete %s: %w", name, err)
	}

	return nil
}

func (b *boltBackend) Close() error {
	return b.db.Close()
}

func encodeListBucket(bkt *bbolt.Bucket, list []Record) error {
	for _, rec := range list {
		id, ok := rec.ID()
		if !ok {
			return fmt.Errorf("record without id cannot be stored externally")
		}

		// The key carries the id.
		stripped := cloneMap(rec)
		delete(stripped, idField)

		val, err := encodeDoc(stripped)
		if err != nil {
			return err
		}

		var key [8]byte
		binary.BigEndian.PutUint64(key[:], uint64(id))

		if err := bkt.Put(key[:], val); err != nil {
			return err
		}
	}

	return nil
}

func decodeListBucket(bkt *bbolt.Bucket) ([]Record, error) {
	var list []Record

	err := bkt.ForEach(func(k, v []byte) error {
		if len(k) != 8 {
			return fmt.Errorf("record key has length %d, want 8", len(k))
		}

		var doc map[string]any
		if err := decodeDoc(v, &doc); err != nil {
			return err
		}

		rec := Record(cloneMap(doc))
		rec[idField] = int64(binary.BigEndian.Uint64(k))
		list = append(list, rec)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return list, nil
}

func encodeMapBucket(bkt *bbolt.Bucket, dict map[string]any) error {
	for k, v := range dict {
		val, err := encodeDoc(v)
		if err != nil {
			return err
		}

		if err := bkt.Put([]byte(k), val); err != nil {
			return err
		}
	}

	return nil
}

func decodeMapBucket(bkt *bbolt.Bucket) (map[string]any, error) {
	dict := map[string]any{}

	err := bkt.ForEach(func(k, v []byte) error {
		var val any
		if err := decodeDoc(v, &val); err != nil {
			return err
		}

		dict[string(k)] = cloneValue(val)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return dict, nil
}

func encodeDoc(v any) ([]byte, error) {
	var buf bytes.Buffer

	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)

	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}

	return buf.Bytes(), nil
}

func decodeDoc(data []byte, out any) error {
	dec := msgpack.GetDecoder()
	dec.Reset(bytes.NewReader(data))
	err := dec.Decode(out)
	msgpack.PutDecoder(dec)

	if err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}

	return nil
}
