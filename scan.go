package kv

import (
	"context"
	"encoding/hex"
)

// defaultBatchSize and maxBatchSize are the list() page-size knobs: a
// scan fetches rows from the ordered store in pages of batchSize,
// refreshing its bounds from the last row of each page.
const (
	defaultBatchSize = 500
	maxBatchSize     = 1000
)

// ListOptions configures a list() scan.
type ListOptions struct {
	// BatchSize is the page size drawn from the store per round trip.
	// Zero means defaultBatchSize; values over maxBatchSize fail
	// TooManyEntries.
	BatchSize int

	// Limit caps the total number of entries returned. Zero means
	// unbounded ("until exhausted").
	Limit int

	// Reverse walks the selector's bounds from high to low.
	Reverse bool

	// Cursor resumes a prior scan over the same selector, as returned by
	// Iterator.Cursor from an earlier call.
	Cursor string
}

// Entry is a decoded row: the round-tripped key, the codec-decoded value,
// and the versionstamp that last wrote it.
type Entry struct {
	Key          Key
	Value        any
	Versionstamp string
}

// Iterator is a lazy sequence with a mutable cursor property: callers
// pull with Next, read the current row with Entry, and can persist
// Cursor at any point to resume later.
type Iterator struct {
	ctx    context.Context
	store  orderedStore
	codec  Codec
	sel    Selector
	b      bounds
	opts   ListOptions
	now    int64

	batchSize int
	remaining int // -1 means unbounded
	reverse   bool

	pending []storedEntry
	current Entry
	lastKey Key
	cursor  string
	done    bool
	err     error
}

// newIterator plans sel and folds any resume cursor into the bounds.
func newIterator(ctx context.Context, store orderedStore, codec Codec, sel Selector, opts ListOptions, now int64) (*Iterator, error) {
	b, err := planRange(sel)
	if err != nil {
		return nil, err
	}

	batchSize := opts.BatchSize
	if batchSize == 0 {
		batchSize = defaultBatchSize
	}
	if batchSize > maxBatchSize {
		return nil, newErr(TooManyEntries, "batchSize %d exceeds the limit of %d", batchSize, maxBatchSize)
	}

	remaining := -1
	if opts.Limit > 0 {
		remaining = opts.Limit
	}

	if opts.Cursor != "" {
		lastPart, err := decodeCursor(opts.Cursor)
		if err != nil {
			return nil, err
		}
		resumeKey, err := graftCursorPart(sel, lastPart)
		if err != nil {
			return nil, err
		}
		hash, err := hashKey(resumeKey)
		if err != nil {
			return nil, err
		}
		if opts.Reverse {
			b.endHash = resumeBound(hash, true)
		} else {
			b.startHash = resumeBound(hash, false)
		}
	}

	return &Iterator{
		ctx:       ctx,
		store:     store,
		codec:     codec,
		sel:       sel,
		b:         b,
		opts:      opts,
		now:       now,
		batchSize: batchSize,
		remaining: remaining,
		reverse:   opts.Reverse,
	}, nil
}

// graftCursorPart reconstructs the resumed key from the selector's own
// prefix or start (all parts but the last) plus the cursor's last part.
func graftCursorPart(sel Selector, lastPart any) (Key, error) {
	var base Key
	switch {
	case sel.hasPrefix:
		base = sel.Prefix
	case sel.hasStart:
		if len(sel.Start) == 0 {
			return nil, newErr(InvalidSelector, "cannot resume a start+end selector with an empty start")
		}
		base = sel.Start[:len(sel.Start)-1]
	default:
		return nil, newErr(InvalidSelector, "selector has neither a prefix nor a start to resume against")
	}
	out := make(Key, 0, len(base)+1)
	out = append(out, base...)
	out = append(out, lastPart)
	return out, nil
}

// Next advances to the next row, fetching a fresh page from the store
// when the current one is exhausted. It returns false at end-of-scan or
// on error; check Err to distinguish the two.
func (it *Iterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	if it.remaining == 0 {
		it.done = true
		return false
	}

	if len(it.pending) == 0 {
		if !it.fetchPage() {
			return false
		}
		if len(it.pending) == 0 {
			it.done = true
			return false
		}
	}

	row := it.pending[0]
	it.pending = it.pending[1:]

	decodedKey, value, derr := it.decodeRow(row)
	if derr != nil {
		it.err = derr
		it.done = true
		return false
	}

	it.lastKey = decodedKey
	it.current = Entry{Key: decodedKey, Value: value, Versionstamp: row.Versionstamp}
	c, cerr := encodeCursor(decodedKey[len(decodedKey)-1])
	if cerr != nil {
		it.err = cerr
		it.done = true
		return false
	}
	it.cursor = c

	if it.remaining > 0 {
		it.remaining--
	}
	return true
}

func (it *Iterator) decodeRow(row storedEntry) (Key, any, error) {
	raw, err := hex.DecodeString(row.KeyHash)
	if err != nil {
		return nil, nil, wrapErr(InvalidKey, err, "decoding key hash %s", row.KeyHash)
	}
	key, err := DecodeKey(raw)
	if err != nil {
		return nil, nil, err
	}
	value, err := it.codec.Decode(row.Value)
	if err != nil {
		return nil, nil, err
	}
	return key, value, nil
}

func (it *Iterator) fetchPage() bool {
	limit := it.batchSize
	if it.remaining >= 0 && it.remaining < limit {
		limit = it.remaining
	}
	rows, err := it.store.Range(it.ctx, it.b.startHash, it.b.endHash, it.b.prefixHash, it.now, limit, it.reverse)
	if err != nil {
		it.err = err
		it.done = true
		return false
	}
	it.pending = rows

	if len(rows) == 0 {
		return true
	}

	// Bounds always advance past the last row of the page, so a page that
	// drained the store for these bounds is followed by an empty fetch,
	// which ends the scan in Next.
	last := rows[len(rows)-1]
	if it.reverse {
		it.b.endHash = resumeBound(last.KeyHash, true)
	} else {
		it.b.startHash = resumeBound(last.KeyHash, false)
	}
	return true
}

// Entry returns the row Next just advanced to.
func (it *Iterator) Entry() Entry { return it.current }

// Err returns the first error encountered, if any.
func (it *Iterator) Err() error { return it.err }

// Cursor returns a resume token for the row Next last advanced to, or
// the empty string before any successful call to Next.
func (it *Iterator) Cursor() string { return it.cursor }
