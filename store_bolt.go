package kv

import (
	"context"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"go.etcd.io/bbolt"
)

// boltStore is the alternate ordered-store backend, adapted from
// storage_bolt.go's bucket layout: a single bucket keyed by the hex key
// hash, values framed with an expiry and a versionstamp alongside the
// opaque payload. Kept as a second orderedStore implementation so the
// engine's storage boundary is exercised by more than one backend.
type boltStore struct {
	db *bbolt.DB
}

var boltBucketName = []byte("kv_store")

func openBoltStore(path string) (*boltStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, wrapErr(ConstructorMisuse, err, "opening bolt database %q", path)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, wrapErr(ConstructorMisuse, err, "creating kv_store bucket")
	}
	return &boltStore{db: db}, nil
}

var _ orderedStore = (*boltStore)(nil)

func (s *boltStore) Close() error {
	return s.db.Close()
}

// encodeBoltValue frames a row as: 1-byte hasExpiry flag, 8-byte
// big-endian expiry (present only if the flag is set), 20-byte ASCII
// versionstamp, then the raw value bytes.
func encodeBoltValue(value []byte, versionstamp string, expiresAt *int64) []byte {
	size := 1 + len(versionstamp) + len(value)
	if expiresAt != nil {
		size += 8
	}
	buf := make([]byte, 0, size)
	if expiresAt != nil {
		buf = append(buf, 1)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(*expiresAt))
		buf = append(buf, b[:]...)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, versionstamp...)
	buf = append(buf, value...)
	return buf
}

func decodeBoltValue(frame []byte) (value []byte, versionstamp string, expiresAt *int64, err error) {
	if len(frame) < 1 {
		return nil, "", nil, newErr(SerializationFailure, "bolt value frame too short")
	}
	hasExpiry := frame[0] == 1
	rest := frame[1:]
	if hasExpiry {
		if len(rest) < 8 {
			return nil, "", nil, newErr(SerializationFailure, "bolt value frame missing expiry")
		}
		v := int64(binary.BigEndian.Uint64(rest[:8]))
		expiresAt = &v
		rest = rest[8:]
	}
	if len(rest) < versionstampLength {
		return nil, "", nil, newErr(SerializationFailure, "bolt value frame missing versionstamp")
	}
	versionstamp = string(rest[:versionstampLength])
	value = append([]byte(nil), rest[versionstampLength:]...)
	return value, versionstamp, expiresAt, nil
}

const versionstampLength = 20

func (s *boltStore) Get(ctx context.Context, keyHash string, now int64) (*storedEntry, error) {
	var out *storedEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		frame := tx.Bucket(boltBucketName).Get([]byte(keyHash))
		if frame == nil {
			return nil
		}
		value, versionstamp, expiresAt, err := decodeBoltValue(frame)
		if err != nil {
			return err
		}
		if expiresAt != nil && *expiresAt <= now {
			return nil
		}
		out = &storedEntry{KeyHash: keyHash, Value: value, Versionstamp: versionstamp, ExpiresAt: expiresAt}
		return nil
	})
	return out, err
}

func (s *boltStore) Put(ctx context.Context, keyHash string, value []byte, versionstamp string, expiresAt *int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucketName).Put([]byte(keyHash), encodeBoltValue(value, versionstamp, expiresAt))
	})
}

func (s *boltStore) Delete(ctx context.Context, keyHash string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucketName).Delete([]byte(keyHash))
	})
}

func (s *boltStore) Range(ctx context.Context, startHash, endHash, prefixHash string, now int64, limit int, reverse bool) ([]storedEntry, error) {
	var out []storedEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(boltBucketName).Cursor()
		var k, v []byte
		if reverse {
			k, v = c.Seek([]byte(endHash))
			if k == nil {
				k, v = c.Last()
			} else {
				k, v = c.Prev()
			}
		} else {
			k, v = c.Seek([]byte(startHash))
		}
		for k != nil && len(out) < limit {
			ks := string(k)
			if reverse {
				if ks < startHash {
					break
				}
			} else {
				if ks >= endHash {
					break
				}
			}
			if ks != prefixHash {
				value, versionstamp, expiresAt, err := decodeBoltValue(v)
				if err != nil {
					return err
				}
				if expiresAt == nil || *expiresAt > now {
					out = append(out, storedEntry{KeyHash: ks, Value: value, Versionstamp: versionstamp, ExpiresAt: expiresAt})
				}
			}
			k, v = boltAdvance(c, reverse)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *boltStore) DeleteExpired(ctx context.Context, now int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltBucketName)
		c := b.Cursor()
		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			_, _, expiresAt, err := decodeBoltValue(v)
			if err != nil {
				return err
			}
			if expiresAt != nil && *expiresAt <= now {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *boltStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx storeTx) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return fn(ctx, &boltTx{bucket: tx.Bucket(boltBucketName)})
	})
}

type boltTx struct {
	bucket *bbolt.Bucket
}

var _ storeTx = (*boltTx)(nil)

func (t *boltTx) Get(ctx context.Context, keyHash string, now int64) (*storedEntry, error) {
	frame := t.bucket.Get([]byte(keyHash))
	if frame == nil {
		return nil, nil
	}
	value, versionstamp, expiresAt, err := decodeBoltValue(frame)
	if err != nil {
		return nil, err
	}
	if expiresAt != nil && *expiresAt <= now {
		return nil, nil
	}
	return &storedEntry{KeyHash: keyHash, Value: value, Versionstamp: versionstamp, ExpiresAt: expiresAt}, nil
}

func (t *boltTx) Put(ctx context.Context, keyHash string, value []byte, versionstamp string, expiresAt *int64) error {
	return t.bucket.Put([]byte(keyHash), encodeBoltValue(value, versionstamp, expiresAt))
}

func (t *boltTx) Delete(ctx context.Context, keyHash string) error {
	return t.bucket.Delete([]byte(keyHash))
}

// Checksum folds every stored frame through xxhash, giving a cheap
// whole-bucket fingerprint for tests and diagnostics that want to notice
// "did anything change" without comparing full dumps.
func (s *boltStore) Checksum(ctx context.Context) (uint64, error) {
	var sum uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(boltBucketName).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			h := xxhash.New()
			h.Write(k)
			h.Write(v)
			sum ^= h.Sum64()
		}
		return nil
	})
	return sum, err
}
