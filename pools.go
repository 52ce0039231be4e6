package kv

import "sync"

// keyBytesPool hands out scratch buffers sized for the largest legal
// read key (maxReadKeySize); one round trip through EncodeKey rarely
// allocates once warm.
var keyBytesPool = &sync.Pool{
	New: func() any {
		return make([]byte, 0, maxReadKeySize)
	},
}

func getKeyBytes() []byte {
	return keyBytesPool.Get().([]byte)[:0]
}

func releaseKeyBytes(b []byte) {
	keyBytesPool.Put(b[:0])
}

// valueBytesPool hands out scratch buffers sized for the largest legal
// serialized value.
var valueBytesPool = &sync.Pool{
	New: func() any {
		return make([]byte, 0, maxValueSize)
	},
}

func getValueBytes() []byte {
	return valueBytesPool.Get().([]byte)[:0]
}

func releaseValueBytes(b []byte) {
	valueBytesPool.Put(b[:0])
}
