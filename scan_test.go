package kv

import (
	"context"
	"testing"
)

func seedScanStore(t *testing.T, s orderedStore, codec Codec, keys []Key) {
	t.Helper()
	ctx := context.Background()
	for i, k := range keys {
		encoded, err := EncodeKey(k, ForWrite)
		if err != nil {
			t.Fatalf("EncodeKey(%v): %v", k, err)
		}
		value, err := codec.Encode(i)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		hash, err := hashKey(k)
		if err != nil {
			t.Fatalf("hashKey: %v", err)
		}
		if err := s.Put(ctx, hash, value, zeroVersionstamp, nil); err != nil {
			t.Fatalf("Put: %v", err)
		}
		_ = encoded
	}
}

func drainIterator(t *testing.T, it *Iterator) []Entry {
	t.Helper()
	var out []Entry
	for it.Next() {
		out = append(out, it.Entry())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	return out
}

func TestListPrefixScanOrdering(t *testing.T) {
	s := newTestSQLiteStore(t)
	codec := JSONCodec{}
	keys := []Key{
		{"a", "a"}, {"a", "b"}, {"a", "c"},
		{"b", "a"},
	}
	seedScanStore(t, s, codec, keys)

	it, err := newIterator(context.Background(), s, codec, NewPrefixSelector(Key{"a"}), ListOptions{}, 1000)
	if err != nil {
		t.Fatalf("newIterator: %v", err)
	}
	entries := drainIterator(t, it)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries under prefix a, got %d", len(entries))
	}
	want := []string{"a", "b", "c"}
	for i, e := range entries {
		if e.Key[1] != want[i] {
			t.Fatalf("entries[%d].Key = %v, want second part %s", i, e.Key, want[i])
		}
	}
}

func TestListLimitAndCursorResume(t *testing.T) {
	s := newTestSQLiteStore(t)
	codec := JSONCodec{}
	keys := []Key{{"a", "a"}, {"a", "b"}, {"a", "c"}, {"a", "d"}}
	seedScanStore(t, s, codec, keys)

	it, err := newIterator(context.Background(), s, codec, NewPrefixSelector(Key{"a"}), ListOptions{Limit: 2}, 1000)
	if err != nil {
		t.Fatalf("newIterator: %v", err)
	}
	first := drainIterator(t, it)
	if len(first) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(first))
	}
	if first[0].Key[1] != "a" || first[1].Key[1] != "b" {
		t.Fatalf("unexpected first page: %+v", first)
	}
	cursor := it.Cursor()
	if cursor == "" {
		t.Fatalf("expected a non-empty cursor after a partial drain")
	}

	it2, err := newIterator(context.Background(), s, codec, NewPrefixSelector(Key{"a"}), ListOptions{Cursor: cursor}, 1000)
	if err != nil {
		t.Fatalf("newIterator resume: %v", err)
	}
	rest := drainIterator(t, it2)
	if len(rest) != 2 {
		t.Fatalf("expected 2 remaining entries, got %d", len(rest))
	}
	if rest[0].Key[1] != "c" || rest[1].Key[1] != "d" {
		t.Fatalf("unexpected resumed page: %+v", rest)
	}
}

func TestListReverse(t *testing.T) {
	s := newTestSQLiteStore(t)
	codec := JSONCodec{}
	keys := []Key{{"a", "a"}, {"a", "b"}, {"a", "c"}}
	seedScanStore(t, s, codec, keys)

	it, err := newIterator(context.Background(), s, codec, NewPrefixSelector(Key{"a"}), ListOptions{Reverse: true}, 1000)
	if err != nil {
		t.Fatalf("newIterator: %v", err)
	}
	entries := drainIterator(t, it)
	want := []string{"c", "b", "a"}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, e := range entries {
		if e.Key[1] != want[i] {
			t.Fatalf("entries[%d].Key = %v, want second part %s", i, e.Key, want[i])
		}
	}
}

func TestListRejectsBatchSizeOverLimit(t *testing.T) {
	s := newTestSQLiteStore(t)
	_, err := newIterator(context.Background(), s, JSONCodec{}, NewPrefixSelector(Key{"a"}), ListOptions{BatchSize: maxBatchSize + 1}, 1000)
	if !Is(err, TooManyEntries) {
		t.Fatalf("expected TooManyEntries, got %v", err)
	}
}

func TestListFullScanEmptyPrefix(t *testing.T) {
	s := newTestSQLiteStore(t)
	codec := JSONCodec{}
	keys := []Key{{"a"}, {"b"}, {int64(1)}, {true}}
	seedScanStore(t, s, codec, keys)

	it, err := newIterator(context.Background(), s, codec, NewPrefixSelector(nil), ListOptions{}, 1000)
	if err != nil {
		t.Fatalf("newIterator: %v", err)
	}
	entries := drainIterator(t, it)
	if len(entries) != 4 {
		t.Fatalf("expected all 4 entries from a full scan, got %d", len(entries))
	}
}
