package kv

// U64 is the sentinel 64-bit unsigned counter value type. Every uint64
// value, the zero value 0 included, is a legal counter.
type U64 uint64

// maxValueSize is the per-value serialized size limit, enforced by the
// engine (not the codec) after encoding.
const maxValueSize = 65536

// valueFramingSlack is the small allowance granted to codecs for their
// own framing overhead on top of maxValueSize.
const valueFramingSlack = 40

// Codec is the pluggable value-serialization boundary. The engine never
// inspects the bytes a Codec produces; it only asks the
// value it gets back from Decode whether it is a U64 counter, via a type
// assertion on the returned any.
type Codec interface {
	// Name identifies the codec, e.g. for diagnostics.
	Name() string

	// Encode serializes v. v is either a U64 counter or an arbitrary
	// value understood by the concrete codec.
	Encode(v any) ([]byte, error)

	// Decode is Encode's inverse. It must reconstitute a U64 counter as
	// U64, not as its underlying integer type.
	Decode(data []byte) (any, error)
}

// checkValueSize enforces maxValueSize on v/encoded. A raw []byte is
// checked directly against maxValueSize before framing, since a codec
// (MsgpackCodec's bin32 header, for one) can add only a few bytes of
// overhead to a payload that is already at the limit, which would
// otherwise let an oversized byte slice slip under the combined
// maxValueSize+valueFramingSlack ceiling meant to catch other value
// shapes' framing cost.
func checkValueSize(v any, encoded []byte) error {
	if b, ok := v.([]byte); ok && len(b) > maxValueSize {
		return newErr(ValueTooLarge, "value is %d bytes, limit is %d", len(b), maxValueSize)
	}
	if len(encoded) > maxValueSize+valueFramingSlack {
		return newErr(ValueTooLarge, "encoded value is %d bytes, limit is %d", len(encoded), maxValueSize+valueFramingSlack)
	}
	return nil
}
