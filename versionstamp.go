package kv

import (
	"fmt"
	"math/big"
	"sync"
	"time"
)

// zeroVersionstamp is reserved to mean "before any write".
const zeroVersionstamp = "00000000000000000000"

// Clock produces monotone, microsecond-resolution 80-bit versionstamps
// rendered as 20 lowercase hex characters. It is safe for concurrent use.
type Clock struct {
	mu   sync.Mutex
	last *big.Int
}

// NewClock returns a Clock initialized to zero.
func NewClock() *Clock {
	return &Clock{last: new(big.Int)}
}

// Next draws the next versionstamp. It is strictly greater than every
// versionstamp previously returned by this Clock, even across bursts
// faster than the clock's microsecond resolution.
func (c *Clock) Next() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := big.NewInt(time.Now().UnixMicro())
	if c.last.Cmp(now) < 0 {
		c.last = now
	} else {
		c.last = new(big.Int).Add(c.last, big.NewInt(1))
	}
	return fmt.Sprintf("%020x", c.last)
}

// isValidVersionstamp reports whether s is a 20-character lowercase hex
// string, the required shape of a non-nil versionstamp.
func isValidVersionstamp(s string) bool {
	if len(s) != 20 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}
