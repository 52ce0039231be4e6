package kv

import (
	"context"
	"errors"
)

const (
	maxChecks              = 100
	maxMutations           = 1000
	maxTotalKeySize        = 81920
	maxTotalMutationSize   = 819200
	counterOperandFraming  = 8 // the accounted size of a sum/min/max operand, regardless of codec
)

type mutationKind int

const (
	mutationSet mutationKind = iota
	mutationDelete
	mutationSum
	mutationMin
	mutationMax
)

type check struct {
	key                 Key
	expectedVersionstamp string // "" means expect absent/expired
}

type mutation struct {
	kind     mutationKind
	key      Key
	value    any
	expireIn int64 // milliseconds; 0 means no expiry
}

// CommitResult is the outcome of AtomicBatch.Commit. Failures found
// before the transaction opens (a closed engine, a builder validation
// error, a quota preflight) are returned as errors. Once the transaction
// runs, the outcome is three-way: Ok true with a Versionstamp on success,
// Ok false with no error on an optimistic-check failure or any other
// failure that rolls the transaction back, or a non-nil error (a type
// error, which is never soft) that always carries Ok == false.
type CommitResult struct {
	Ok           bool
	Versionstamp string
}

// AtomicBatch is a fluent builder for a single all-or-nothing
// transaction. Its methods are chainable; a validation failure sticks in
// the builder and is returned only from Commit, deferring construction
// errors to a terminal call rather than panicking mid-chain.
type AtomicBatch struct {
	engine *Engine
	id     uint64

	checks    []check
	mutations []mutation

	totalKeySize      int
	totalMutationSize int

	err error
}

func newAtomicBatch(e *Engine) *AtomicBatch {
	return &AtomicBatch{engine: e}
}

func (b *AtomicBatch) fail(err error) *AtomicBatch {
	if b.err == nil {
		b.err = err
	}
	return b
}

// Check adds an optimistic-concurrency precondition: key's current
// versionstamp must equal expected (use "" for "absent or expired") at
// commit time, or the whole batch is rejected with Ok == false.
func (b *AtomicBatch) Check(key Key, expected string) *AtomicBatch {
	if b.err != nil {
		return b
	}
	if len(key) == 0 {
		return b.fail(newErr(EmptyKey, "check: key must have at least one part"))
	}
	if expected != "" && !isValidVersionstamp(expected) {
		return b.fail(newErr(InvalidVersionstamp, "check: %q is not a 20-char lowercase hex versionstamp", expected))
	}
	if len(b.checks) >= maxChecks {
		return b.fail(newErr(TooManyChecks, "at most %d checks are allowed per batch", maxChecks))
	}
	b.checks = append(b.checks, check{key: key, expectedVersionstamp: expected})
	return b
}

// Set queues a write. expireIn, if positive, is a relative TTL in
// milliseconds from the batch's commit time.
func (b *AtomicBatch) Set(key Key, value any, expireIn int64) *AtomicBatch {
	return b.addMutation(mutation{kind: mutationSet, key: key, value: value, expireIn: expireIn})
}

// Delete queues an unconditional removal.
func (b *AtomicBatch) Delete(key Key) *AtomicBatch {
	return b.addMutation(mutation{kind: mutationDelete, key: key})
}

// Sum queues a wrapping counter add: (current + value) mod 2^64.
func (b *AtomicBatch) Sum(key Key, value U64) *AtomicBatch {
	return b.addMutation(mutation{kind: mutationSum, key: key, value: value})
}

// Min queues a counter min: min(current, value).
func (b *AtomicBatch) Min(key Key, value U64) *AtomicBatch {
	return b.addMutation(mutation{kind: mutationMin, key: key, value: value})
}

// Max queues a counter max: max(current, value).
func (b *AtomicBatch) Max(key Key, value U64) *AtomicBatch {
	return b.addMutation(mutation{kind: mutationMax, key: key, value: value})
}

func (b *AtomicBatch) addMutation(m mutation) *AtomicBatch {
	if b.err != nil {
		return b
	}
	if len(m.key) == 0 {
		return b.fail(newErr(EmptyKey, "mutation: key must have at least one part"))
	}
	if len(b.mutations) >= maxMutations {
		return b.fail(newErr(TooManyMutations, "at most %d mutations are allowed per batch", maxMutations))
	}

	encodedKey, err := EncodeKey(m.key, ForWrite)
	if err != nil {
		return b.fail(err)
	}
	b.totalKeySize += len(encodedKey)

	switch m.kind {
	case mutationSum, mutationMin, mutationMax:
		b.totalMutationSize += len(encodedKey) + counterOperandFraming
	case mutationSet:
		valueBytes, err := b.engine.codec.Encode(m.value)
		if err != nil {
			return b.fail(err)
		}
		if err := checkValueSize(m.value, valueBytes); err != nil {
			return b.fail(err)
		}
		b.totalMutationSize += len(encodedKey) + len(valueBytes)
	case mutationDelete:
		b.totalMutationSize += len(encodedKey)
	}

	b.mutations = append(b.mutations, m)
	return b
}

// Commit preflights quotas, then executes the state machine: one store
// transaction, one versionstamp, checks in order, mutations in
// insertion order.
func (b *AtomicBatch) Commit(ctx context.Context) (CommitResult, error) {
	defer b.engine.forgetBatch(b.id)

	if err := b.engine.checkOpen(); err != nil {
		return CommitResult{}, err
	}
	if b.err != nil {
		return CommitResult{}, b.err
	}
	if b.totalKeySize > maxTotalKeySize {
		return CommitResult{}, newErr(TotalKeySizeExceeded, "batch key bytes %d exceed the limit of %d", b.totalKeySize, maxTotalKeySize)
	}
	if b.totalMutationSize > maxTotalMutationSize {
		return CommitResult{}, newErr(TotalMutationSizeExceeded, "batch mutation bytes %d exceed the limit of %d", b.totalMutationSize, maxTotalMutationSize)
	}

	versionstamp := b.engine.clock.Next()
	var result CommitResult
	var typeErr error

	txErr := b.engine.store.WithTransaction(ctx, func(ctx context.Context, tx storeTx) error {
		now := b.engine.nowMillis()

		for _, c := range b.checks {
			hash, err := hashKeyWrite(c.key)
			if err != nil {
				return err
			}
			entry, err := tx.Get(ctx, hash, now)
			if err != nil {
				return err
			}
			actual := ""
			if entry != nil {
				actual = entry.Versionstamp
			}
			if actual != c.expectedVersionstamp {
				return errCheckFailed
			}
		}

		for _, m := range b.mutations {
			if err := b.applyMutation(ctx, tx, m, versionstamp, now); err != nil {
				if isTypeError(err) {
					typeErr = err
					return err
				}
				return err
			}
		}
		return nil
	})

	if typeErr != nil {
		b.engine.logf("db: COMMIT id=%d checks=%d mutations=%d => error: %v", b.id, len(b.checks), len(b.mutations), typeErr)
		return CommitResult{Ok: false}, typeErr
	}
	if txErr != nil {
		if errors.Is(txErr, errCheckFailed) {
			b.engine.logf("db: COMMIT id=%d checks=%d mutations=%d => check failed", b.id, len(b.checks), len(b.mutations))
			return CommitResult{Ok: false}, nil
		}
		b.engine.logf("db: COMMIT id=%d checks=%d mutations=%d => error: %v", b.id, len(b.checks), len(b.mutations), txErr)
		return CommitResult{Ok: false}, nil
	}
	result = CommitResult{Ok: true, Versionstamp: versionstamp}
	b.engine.logf("db: COMMIT id=%d checks=%d mutations=%d => %s", b.id, len(b.checks), len(b.mutations), versionstamp)
	return result, nil
}

var errCheckFailed = errors.New("kv: optimistic check failed")

func isTypeError(err error) bool {
	return Is(err, NotACounter) || Is(err, OperandNotCounter)
}

func (b *AtomicBatch) applyMutation(ctx context.Context, tx storeTx, m mutation, versionstamp string, now int64) error {
	hash, err := hashKeyWrite(m.key)
	if err != nil {
		return err
	}

	switch m.kind {
	case mutationSet:
		valueBytes, err := b.engine.codec.Encode(m.value)
		if err != nil {
			return err
		}
		var expiresAt *int64
		if m.expireIn > 0 {
			at := now + m.expireIn
			expiresAt = &at
		}
		return tx.Put(ctx, hash, valueBytes, versionstamp, expiresAt)

	case mutationDelete:
		return tx.Delete(ctx, hash)

	case mutationSum, mutationMin, mutationMax:
		operand, ok := m.value.(U64)
		if !ok {
			return newErr(OperandNotCounter, "the operand for a %s mutation must be a U64 counter", mutationName(m.kind))
		}
		entry, err := tx.Get(ctx, hash, now)
		if err != nil {
			return err
		}
		var result U64
		if entry == nil {
			result = operand
		} else {
			current, derr := b.engine.codec.Decode(entry.Value)
			if derr != nil {
				return derr
			}
			currentU64, ok := current.(U64)
			if !ok {
				return newErr(NotACounter, "cannot perform %s on a non-counter value", mutationName(m.kind))
			}
			result = combineCounter(m.kind, currentU64, operand)
		}
		valueBytes, err := b.engine.codec.Encode(result)
		if err != nil {
			return err
		}
		// sum/min/max never carry over or set an expiry, even if the
		// previous entry had one; only an explicit Set does.
		return tx.Put(ctx, hash, valueBytes, versionstamp, nil)

	default:
		return newErr(ConstructorMisuse, "unknown mutation kind")
	}
}

func combineCounter(kind mutationKind, current, operand U64) U64 {
	switch kind {
	case mutationSum:
		return current + operand // uint64 addition wraps mod 2^64
	case mutationMin:
		if operand < current {
			return operand
		}
		return current
	case mutationMax:
		if operand > current {
			return operand
		}
		return current
	default:
		return current
	}
}

func mutationName(kind mutationKind) string {
	switch kind {
	case mutationSum:
		return "sum"
	case mutationMin:
		return "min"
	case mutationMax:
		return "max"
	default:
		return "mutation"
	}
}
