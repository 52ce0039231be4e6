package kv

import (
	"bytes"
	"sort"
	"testing"
)

func mustEncode(t *testing.T, parts Key) []byte {
	t.Helper()
	b, err := EncodeKey(parts, ForWrite)
	if err != nil {
		t.Fatalf("EncodeKey(%v): %v", parts, err)
	}
	return b
}

func TestKeyRoundTrip(t *testing.T) {
	cases := []Key{
		{"a"},
		{[]byte{0x01, 0x00, 0x02}},
		{"a", "b"},
		{int64(1)},
		{int64(-1)},
		{3.14},
		{false},
		{true},
		{"users", int64(42), true},
	}
	for _, k := range cases {
		enc := mustEncode(t, k)
		dec, err := DecodeKey(enc)
		if err != nil {
			t.Fatalf("DecodeKey(%v): %v", k, err)
		}
		if !k.Equal(dec) {
			t.Errorf("round trip mismatch: %v != %v", k, dec)
		}
	}
}

func TestKeyEmptyRejected(t *testing.T) {
	_, err := EncodeKey(Key{}, ForWrite)
	if !Is(err, EmptyKey) {
		t.Fatalf("expected EmptyKey, got %v", err)
	}
}

func TestKeyByteStringEmbeddedZero(t *testing.T) {
	// A zero byte inside a byte-string part must not be mistaken for the
	// terminator unless it's followed by end-of-buffer or a valid tag.
	k := Key{[]byte{0x00, 0x00, 0x09}, "tail"}
	enc := mustEncode(t, k)
	dec, err := DecodeKey(enc)
	if err != nil {
		t.Fatalf("DecodeKey: %v", err)
	}
	if !k.Equal(dec) {
		t.Fatalf("mismatch: %v != %v", k, dec)
	}
}

func TestKeySizeExceeded(t *testing.T) {
	big := make([]byte, maxWriteKeySize+1)
	_, err := EncodeKey(Key{big}, ForWrite)
	if !Is(err, KeySizeExceeded) {
		t.Fatalf("expected KeySizeExceeded, got %v", err)
	}
	// Exactly maxWriteKeySize encoded bytes is still allowed for writes.
	big2 := make([]byte, maxWriteKeySize-2) // + tag + terminator == maxWriteKeySize
	if _, err := EncodeKey(Key{big2}, ForWrite); err != nil {
		t.Fatalf("expected success at the write boundary, got %v", err)
	}
}

// TestKeyCrossTypeOrdering pins the ordering invariant: bytes < strings
// < integers < doubles < booleans, because the tag byte sorts first.
func TestKeyCrossTypeOrdering(t *testing.T) {
	keys := []Key{
		{[]byte{0x01}},
		{"a"},
		{int64(1)},
		{3.14},
		{false},
		{true},
	}
	encoded := make([][]byte, len(keys))
	for i, k := range keys {
		encoded[i] = mustEncode(t, k)
	}
	if !sort.SliceIsSorted(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	}) {
		t.Fatalf("expected encoded keys to already be in ascending order: %v", keys)
	}
}

func TestKeyOrderPreservation(t *testing.T) {
	pairs := [][2]Key{
		{{"a"}, {"b"}},
		{{"a", "a"}, {"a", "b"}},
		{{int64(1)}, {int64(2)}},
		{{[]byte{1, 2}}, {[]byte{1, 2, 0}}},
	}
	for _, p := range pairs {
		e1, e2 := mustEncode(t, p[0]), mustEncode(t, p[1])
		if bytes.Compare(e1, e2) >= 0 {
			t.Errorf("expected %v < %v, got byte order violation", p[0], p[1])
		}
	}
}

func TestKeyIntegerAliasesLowerBits(t *testing.T) {
	// Integers are encoded via their lower 64 bits, so negative
	// integers sort after all non-negative ones.
	neg := mustEncode(t, Key{int64(-1)})
	pos := mustEncode(t, Key{int64(1)})
	if bytes.Compare(neg, pos) <= 0 {
		t.Fatalf("expected -1 to encode after 1 under unsigned two's-complement ordering")
	}
}

func TestDecodeKeyRejectsUnknownTag(t *testing.T) {
	_, err := DecodeKey([]byte{0x09, 0x00})
	if !Is(err, InvalidKey) {
		t.Fatalf("expected InvalidKey, got %v", err)
	}
}
