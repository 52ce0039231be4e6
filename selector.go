package kv

import "encoding/hex"

// Selector names a contiguous range of keys. Exactly one of the four
// shapes below is legal:
//
//	Prefix only:        {Prefix: p}
//	Prefix + Start:      {Prefix: p, Start: s}
//	Prefix + End:        {Prefix: p, End: e}
//	Start + End:         {Start: s, End: e}
//
// Start and End are themselves Keys (not raw bytes); Prefix must be a
// prefix of Start or End, whichever one is given alongside it.
type Selector struct {
	Prefix Key
	Start  Key
	End    Key

	hasPrefix bool
	hasStart  bool
	hasEnd    bool
}

// NewPrefixSelector selects every key sharing the given prefix.
func NewPrefixSelector(prefix Key) Selector {
	return Selector{Prefix: prefix, hasPrefix: true}
}

// NewPrefixStartSelector selects keys sharing prefix, starting at (and
// including) start.
func NewPrefixStartSelector(prefix, start Key) Selector {
	return Selector{Prefix: prefix, Start: start, hasPrefix: true, hasStart: true}
}

// NewPrefixEndSelector selects keys sharing prefix, up to (excluding) end.
func NewPrefixEndSelector(prefix, end Key) Selector {
	return Selector{Prefix: prefix, End: end, hasPrefix: true, hasEnd: true}
}

// NewRangeSelector selects keys in [start, end).
func NewRangeSelector(start, end Key) Selector {
	return Selector{Start: start, End: end, hasStart: true, hasEnd: true}
}

// bounds is the resolved half-open byte range a Selector plans to, in the
// hex-of-encoded-key space that the ordered store operates on.
type bounds struct {
	startHash  string
	endHash    string
	prefixHash string // "" unless the selector carries a Prefix, in which case that row is excluded
}

// hashKey renders k as the hex text of its encoded form, the shared
// coordinate system every orderedStore backend compares key hashes in.
// Range bounds always hash in read mode, since the "+ff"-style sentinel
// bounds it derives need the extra byte of headroom.
func hashKey(k Key) (string, error) {
	return hashKeyMode(k, ForRead)
}

// hashKeyWrite hashes k in write mode, for operations that place a key in
// the store rather than merely bounding a scan: get hashes read-mode,
// set hashes write-mode.
func hashKeyWrite(k Key) (string, error) {
	return hashKeyMode(k, ForWrite)
}

func hashKeyMode(k Key, mode KeySizeMode) (string, error) {
	if len(k) == 0 {
		return "", nil
	}
	encoded, err := EncodeKey(k, mode)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(encoded), nil
}

// planRange resolves a Selector into a bounds, validating the shape and
// the three documented failure modes: InvalidSelector (zero or more than
// one shape satisfied), PrefixBoundsViolation (an explicit Start/End that
// does not extend Prefix), and StartAfterEnd (an explicit Start/End pair
// with start > end; start == end is a legal, empty range).
func planRange(sel Selector) (bounds, error) {
	shapes := 0
	if sel.hasPrefix && !sel.hasStart && !sel.hasEnd {
		shapes++
	}
	if sel.hasPrefix && sel.hasStart && !sel.hasEnd {
		shapes++
	}
	if sel.hasPrefix && sel.hasEnd && !sel.hasStart {
		shapes++
	}
	if sel.hasStart && sel.hasEnd && !sel.hasPrefix {
		shapes++
	}
	if shapes != 1 {
		return bounds{}, newErr(InvalidSelector, "selector must be exactly one of prefix, prefix+start, prefix+end, or start+end")
	}

	switch {
	case sel.hasPrefix && !sel.hasStart && !sel.hasEnd:
		return planPrefixOnly(sel.Prefix)
	case sel.hasPrefix && sel.hasStart && !sel.hasEnd:
		return planPrefixStart(sel.Prefix, sel.Start)
	case sel.hasPrefix && sel.hasEnd && !sel.hasStart:
		return planPrefixEnd(sel.Prefix, sel.End)
	default:
		return planStartEnd(sel.Start, sel.End)
	}
}

func planPrefixOnly(prefix Key) (bounds, error) {
	if len(prefix) == 0 {
		// The full-scan special case uses a literal endHash of "ffff"
		// rather than deriving one from H(prefix), since there is no
		// prefix to hash.
		return bounds{startHash: "", endHash: "ffff", prefixHash: ""}, nil
	}
	h, err := hashKey(prefix)
	if err != nil {
		return bounds{}, err
	}
	return bounds{startHash: h, endHash: h + "ff", prefixHash: h}, nil
}

func planPrefixStart(prefix, start Key) (bounds, error) {
	ph, err := hashKey(prefix)
	if err != nil {
		return bounds{}, err
	}
	sh, err := hashKey(start)
	if err != nil {
		return bounds{}, err
	}
	if !hasHashPrefix(sh, ph) {
		return bounds{}, newErr(PrefixBoundsViolation, "start does not extend prefix")
	}
	return bounds{startHash: sh, endHash: ph + "ff", prefixHash: ph}, nil
}

func planPrefixEnd(prefix, end Key) (bounds, error) {
	ph, err := hashKey(prefix)
	if err != nil {
		return bounds{}, err
	}
	eh, err := hashKey(end)
	if err != nil {
		return bounds{}, err
	}
	if !hasHashPrefix(eh, ph) {
		return bounds{}, newErr(PrefixBoundsViolation, "end does not extend prefix")
	}
	return bounds{startHash: ph, endHash: eh, prefixHash: ph}, nil
}

func planStartEnd(start, end Key) (bounds, error) {
	sh, err := hashKey(start)
	if err != nil {
		return bounds{}, err
	}
	eh, err := hashKey(end)
	if err != nil {
		return bounds{}, err
	}
	if sh > eh {
		return bounds{}, newErr(StartAfterEnd, "start must not sort after end")
	}
	return bounds{startHash: sh, endHash: eh, prefixHash: ""}, nil
}

func hasHashPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// resumeBound computes the (startHash or endHash) to substitute when
// resuming a scan from a cursor: the immediate byte-string successor of
// the last-yielded key hash for ascending scans (so that key is excluded
// going forward), or the key hash itself for descending scans (used as
// the new exclusive upper bound, since Range's endHash is already
// exclusive). A raw NUL byte is a correct "immediate successor" of a hex
// string because SQLite TEXT columns compare byte-for-byte and NUL sorts
// below every hex digit.
func resumeBound(lastHash string, reverse bool) string {
	if reverse {
		return lastHash
	}
	return lastHash + "\x00"
}
