package kv

import "encoding/base64"

// encodeCursor renders the last-yielded key's final part as an opaque,
// URL-safe resume token: base64url(encode([lastPart])) with padding
// stripped. A resumed scan reconstructs the full key by grafting this
// part back onto the selector's own prefix or start (scan.go); the
// cursor itself carries no other positional state.
func encodeCursor(lastPart any) (string, error) {
	encoded, err := EncodeKey(Key{lastPart}, ForRead)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(encoded), nil
}

// decodeCursor is encodeCursor's inverse.
func decodeCursor(cursor string) (any, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, newErr(InvalidSelector, "malformed cursor: %v", err)
	}
	parts, err := DecodeKey(raw)
	if err != nil {
		return nil, newErr(InvalidSelector, "malformed cursor: %v", err)
	}
	if len(parts) != 1 {
		return nil, newErr(InvalidSelector, "cursor must encode exactly one key part")
	}
	return parts[0], nil
}
