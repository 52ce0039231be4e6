package kv

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Options configures Open. The zero value is usable: an in-memory
// SQLite store with MsgpackCodec.
type Options struct {
	// Path is the filesystem location of the database. With the default
	// SQLite backend, empty means in-memory (ephemeral, discarded on
	// Close); the bolt backend requires a non-empty Path.
	Path string

	// Backend selects the ordered-store adapter. Zero value is
	// BackendSQLite.
	Backend Backend

	// Codec serializes values. Nil defaults to MsgpackCodec{}.
	Codec Codec

	// Logf, if set, receives diagnostic lines. No logging framework,
	// just an injectable sink.
	Logf func(format string, args ...any)
}

// Backend names a concrete orderedStore implementation.
type Backend int

const (
	BackendSQLite Backend = iota
	BackendBolt
)

// Engine is the single public entry point, wrapping the key codec, the
// versionstamp clock, a value Codec, and an orderedStore behind
// get/getMany/set/delete/list/cleanup/atomic.
type Engine struct {
	store orderedStore
	codec Codec
	clock *Clock
	logf  func(format string, args ...any)

	closed int32

	// openBatches tracks in-flight AtomicBatch handles by an opaque
	// sequence number, backed by xsync.MapOf instead of a mutex+slice,
	// since batches may be built and committed from different goroutines.
	openBatches *xsync.MapOf[uint64, string]
	nextBatchID uint64
}

// Open acquires an Engine over the configured backend. The returned
// Engine must eventually be released with Close.
func Open(opts Options) (*Engine, error) {
	var store orderedStore
	var err error
	switch opts.Backend {
	case BackendBolt:
		path := opts.Path
		if path == "" {
			return nil, newErr(ConstructorMisuse, "the bolt backend requires a non-empty Path")
		}
		store, err = openBoltStore(path)
	default:
		path := opts.Path
		if path == "" {
			path = ":memory:"
		}
		store, err = openSQLiteStore(path)
	}
	if err != nil {
		return nil, err
	}

	codec := opts.Codec
	if codec == nil {
		codec = MsgpackCodec{}
	}
	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}

	return &Engine{
		store:       store,
		codec:       codec,
		clock:       NewClock(),
		logf:        logf,
		openBatches: xsync.NewMapOf[uint64, string](),
	}, nil
}

func (e *Engine) nowMillis() int64 {
	return time.Now().UnixMilli()
}

func (e *Engine) checkOpen() error {
	if atomic.LoadInt32(&e.closed) != 0 {
		return newErr(DatabaseClosed, "engine is closed")
	}
	return nil
}

// Close releases the underlying store. Close is idempotent; operations
// after the first Close fail DatabaseClosed.
func (e *Engine) Close() error {
	if !atomic.CompareAndSwapInt32(&e.closed, 0, 1) {
		return nil
	}
	return e.store.Close()
}

// Get fetches a single key. A missing or expired key returns a zero
// Entry and a nil error, never a NotFound error.
func (e *Engine) Get(ctx context.Context, key Key) (Entry, bool, error) {
	if err := e.checkOpen(); err != nil {
		return Entry{}, false, err
	}
	if len(key) == 0 {
		return Entry{}, false, newErr(EmptyKey, "get: key must have at least one part")
	}
	hash, err := hashKey(key)
	if err != nil {
		return Entry{}, false, err
	}
	row, err := e.store.Get(ctx, hash, e.nowMillis())
	if err != nil {
		return Entry{}, false, err
	}
	if row == nil {
		e.logf("db: GET %v => <absent>", key)
		return Entry{}, false, nil
	}
	value, err := e.codec.Decode(row.Value)
	if err != nil {
		return Entry{}, false, err
	}
	e.logf("db: GET %v => %s", key, row.Versionstamp)
	return Entry{Key: key, Value: value, Versionstamp: row.Versionstamp}, true, nil
}

const maxGetManyKeys = 10

// GetMany fetches up to 10 keys, sequentially, preserving order.
func (e *Engine) GetMany(ctx context.Context, keys []Key) ([]Entry, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if len(keys) > maxGetManyKeys {
		return nil, newErr(TooManyRanges, "getMany accepts at most %d keys, got %d", maxGetManyKeys, len(keys))
	}
	for _, k := range keys {
		if len(k) == 0 {
			return nil, newErr(EmptyKey, "getMany: key must have at least one part")
		}
	}
	out := make([]Entry, 0, len(keys))
	found := 0
	for _, k := range keys {
		entry, ok, err := e.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, entry)
			found++
		} else {
			out = append(out, Entry{Key: k})
		}
	}
	e.logf("db: GETMANY %d keys => %d found", len(keys), found)
	return out, nil
}

// SetOptions carries the optional TTL for Set.
type SetOptions struct {
	// ExpireIn is a relative TTL in milliseconds. Zero or negative means
	// no expiry.
	ExpireIn int64
}

// Set writes key/value with a freshly drawn versionstamp.
func (e *Engine) Set(ctx context.Context, key Key, value any, opts SetOptions) (CommitResult, error) {
	if err := e.checkOpen(); err != nil {
		return CommitResult{}, err
	}
	if len(key) == 0 {
		return CommitResult{}, newErr(EmptyKey, "set: key must have at least one part")
	}
	hash, err := hashKeyWrite(key)
	if err != nil {
		return CommitResult{}, err
	}
	valueBytes, err := e.codec.Encode(value)
	if err != nil {
		return CommitResult{}, err
	}
	if err := checkValueSize(value, valueBytes); err != nil {
		return CommitResult{}, err
	}

	scratch := getValueBytes()
	scratch = append(scratch, valueBytes...)
	defer releaseValueBytes(scratch)

	var expiresAt *int64
	if opts.ExpireIn > 0 {
		at := e.nowMillis() + opts.ExpireIn
		expiresAt = &at
	}

	versionstamp := e.clock.Next()
	if err := e.store.Put(ctx, hash, scratch, versionstamp, expiresAt); err != nil {
		return CommitResult{}, err
	}
	e.logf("db: SET %v => %s", key, versionstamp)
	return CommitResult{Ok: true, Versionstamp: versionstamp}, nil
}

// Delete unconditionally removes key.
func (e *Engine) Delete(ctx context.Context, key Key) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if len(key) == 0 {
		return newErr(EmptyKey, "delete: key must have at least one part")
	}
	hash, err := hashKeyWrite(key)
	if err != nil {
		return err
	}
	if err := e.store.Delete(ctx, hash); err != nil {
		return err
	}
	e.logf("db: DELETE %v", key)
	return nil
}

// List begins a scan over sel, returning an Iterator.
func (e *Engine) List(ctx context.Context, sel Selector, opts ListOptions) (*Iterator, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	it, err := newIterator(ctx, e.store, e.codec, sel, opts, e.nowMillis())
	if err != nil {
		return nil, err
	}
	e.logf("db: LIST %+v reverse=%v limit=%d", sel, opts.Reverse, opts.Limit)
	return it, nil
}

// Cleanup deletes every entry whose expiry is at or before now.
func (e *Engine) Cleanup(ctx context.Context) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if err := e.store.DeleteExpired(ctx, e.nowMillis()); err != nil {
		return err
	}
	e.logf("db: CLEANUP done")
	return nil
}

// Atomic begins a new AtomicBatch.
func (e *Engine) Atomic() (*AtomicBatch, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	b := newAtomicBatch(e)
	id := atomic.AddUint64(&e.nextBatchID, 1)
	e.openBatches.Store(id, "open")
	b.id = id
	e.logf("db: ATOMIC begin id=%d", id)
	return b, nil
}

// DescribeOpenTransactions reports the number of AtomicBatch handles
// created but not yet committed, a diagnostic for callers who suspect a
// batch was built and forgotten.
func (e *Engine) DescribeOpenTransactions() int {
	n := 0
	e.openBatches.Range(func(uint64, string) bool {
		n++
		return true
	})
	return n
}

func (e *Engine) forgetBatch(id uint64) {
	e.openBatches.Delete(id)
}

// Checksum returns a whole-store fingerprint, for backends that support
// one (currently the bolt backend only). It is meant for tests and
// operational diagnostics that want to notice "did anything change"
// without comparing full dumps.
func (e *Engine) Checksum(ctx context.Context) (uint64, error) {
	if err := e.checkOpen(); err != nil {
		return 0, err
	}
	cs, ok := e.store.(checksumStore)
	if !ok {
		return 0, newErr(ConstructorMisuse, "checksum is not supported by this backend")
	}
	sum, err := cs.Checksum(ctx)
	if err != nil {
		return 0, err
	}
	e.logf("db: CHECKSUM => %x", sum)
	return sum, nil
}
