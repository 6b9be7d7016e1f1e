package dirstore

import (
	"context"
	"fmt"
	"testing"
)

func benchStore(b *testing.B, mutate func(*Config)) *Store {
	b.Helper()

	cfg := Config{BaseDir: b.TempDir(), Logger: discardLogger()}
	if mutate != nil {
		mutate(&cfg)
	}

	s, err := Open(cfg)
	if err != nil {
		b.Fatalf("Open() error = %v", err)
	}

	b.Cleanup(func() { _ = s.Close() })

	return s
}

func seedRecords(b *testing.B, s *Store, name string, n int) *Collection {
	b.Helper()

	col, err := s.Collection(name)
	if err != nil {
		b.Fatalf("Collection() error = %v", err)
	}

	recs := make([]Record, n)
	for i := range recs {
		recs[i] = Record{"name": fmt.Sprintf("pokemon-%04d", i), "level": i % 100}
	}

	if _, err := col.InsertMany(context.Background(), recs); err != nil {
		b.Fatalf("InsertMany() error = %v", err)
	}

	return col
}

func BenchmarkFindCached1k(b *testing.B) {
	ctx := context.Background()
	s := benchStore(b, nil)
	col := seedRecords(b, s, "pokemon", 1000)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := col.Find(ctx, Query{"level": 42}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFindUncached1k(b *testing.B) {
	ctx := context.Background()
	s := benchStore(b, func(cfg *Config) { cfg.Cache = CacheConfig{Mode: CacheOff} })
	col := seedRecords(b, s, "pokemon", 1000)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := col.Find(ctx, Query{"level": 42}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkInsert(b *testing.B) {
	ctx := context.Background()
	s := benchStore(b, nil)

	col, err := s.Collection("pokemon")
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := col.Insert(ctx, Record{"name": "Pikachu"}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSetIn(b *testing.B) {
	ctx := context.Background()
	s := benchStore(b, nil)

	col, err := s.Collection("stats")
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := col.SetIn(ctx, "scores.alice", i); err != nil {
			b.Fatal(err)
		}
	}
}
