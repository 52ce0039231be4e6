package kv

import "testing"

func TestCursorRoundTrip(t *testing.T) {
	cases := []any{"orders", int64(42), []byte{0x01, 0x00, 0x02}, 3.5, true}
	for _, part := range cases {
		c, err := encodeCursor(part)
		if err != nil {
			t.Fatalf("encodeCursor(%#v): %v", part, err)
		}
		if c == "" {
			t.Fatalf("expected a non-empty cursor for %#v", part)
		}
		got, err := decodeCursor(c)
		if err != nil {
			t.Fatalf("decodeCursor: %v", err)
		}
		if !partsEqual(got, part) {
			t.Fatalf("got %#v, want %#v", got, part)
		}
	}
}

func TestCursorIsURLSafe(t *testing.T) {
	c, err := encodeCursor([]byte{0xff, 0xfe, 0xfd, 0x00, 0x00, 0x00})
	if err != nil {
		t.Fatalf("encodeCursor: %v", err)
	}
	for _, r := range c {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			t.Fatalf("cursor contains non-URL-safe character %q", r)
		}
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	if _, err := decodeCursor("not valid base64!!"); err == nil {
		t.Fatalf("expected an error for malformed cursor input")
	}
	if _, err := decodeCursor(""); err == nil {
		t.Fatalf("expected an error for empty cursor input")
	}
}
