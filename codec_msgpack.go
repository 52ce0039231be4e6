package kv

import (
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// u64ExtID is the MessagePack extension type id reserved for the U64
// counter sentinel. Registering it makes counters self-describing inside
// the byte stream instead of relying on a side-channel is_u64 flag.
const u64ExtID = 17

func init() {
	msgpack.RegisterExt(u64ExtID, (*U64)(nil))
}

// MarshalBinary implements encoding.BinaryMarshaler, which msgpack's
// extension-type machinery uses to serialize U64 as 8 big-endian bytes.
func (u U64) MarshalBinary() ([]byte, error) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(u))
	return b[:], nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (u *U64) UnmarshalBinary(data []byte) error {
	if len(data) != 8 {
		return fmt.Errorf("kv: invalid U64 extension payload length %d", len(data))
	}
	*u = U64(binary.BigEndian.Uint64(data))
	return nil
}

// MarshalMsgpack implements msgpack.Marshaler, which RegisterExt requires
// for the extension-type machinery.
func (u U64) MarshalMsgpack() ([]byte, error) {
	return u.MarshalBinary()
}

// UnmarshalMsgpack implements msgpack.Unmarshaler, which RegisterExt
// requires for the extension-type machinery.
func (u *U64) UnmarshalMsgpack(data []byte) error {
	return u.UnmarshalBinary(data)
}

// MsgpackCodec implements Codec using MessagePack, by way of
// github.com/vmihailenco/msgpack/v5. It is the default "tagged binary"
// codec family.
type MsgpackCodec struct{}

var _ Codec = MsgpackCodec{}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Encode(v any) ([]byte, error) {
	if u, ok := v.(U64); ok {
		// The extension is registered on *U64; a bare U64 held in an
		// interface is not addressable, so hand msgpack a pointer.
		v = &u
	}
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, wrapErr(SerializationFailure, err, "msgpack encode of %T", v)
	}
	return data, nil
}

func (MsgpackCodec) Decode(data []byte) (any, error) {
	var v any
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, wrapErr(SerializationFailure, err, "msgpack decode")
	}
	switch u := v.(type) {
	case *U64:
		return *u, nil
	case U64:
		return u, nil
	default:
		return v, nil
	}
}
