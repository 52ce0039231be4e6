package kv

import "go.etcd.io/bbolt"

// boltAdvance moves a bbolt cursor forward or backward depending on
// iteration direction, keeping ascending/descending traversal symmetric.
func boltAdvance(c *bbolt.Cursor, reverse bool) ([]byte, []byte) {
	if reverse {
		return c.Prev()
	}
	return c.Next()
}
