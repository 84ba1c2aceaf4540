package kv

import (
	"encoding/binary"
	"math"

	"github.com/Ambier/parameter-server/lib/sync"
)

// --------------------------------------------------------------------------
// Value Codec
// --------------------------------------------------------------------------

// The mail payload is an opaque byte string; the facades encode typed values
// into it in big endian so all nodes agree on the layout regardless of
// architecture.

// width returns the encoded size of one value in bytes.
func width[V Value]() int {
	switch any(*new(V)).(type) {
	case float32, int32:
		return 4
	default:
		return 8
	}
}

// EncodeVals encodes vals into a fresh byte slice. The source slice is read
// exactly once and not retained.
func EncodeVals[V Value](vals []V) []byte {
	buf := make([]byte, len(vals)*width[V]())

	switch vs := any(vals).(type) {
	case []float32:
		for i, v := range vs {
			binary.BigEndian.PutUint32(buf[i*4:], math.Float32bits(v))
		}
	case []float64:
		for i, v := range vs {
			binary.BigEndian.PutUint64(buf[i*8:], math.Float64bits(v))
		}
	case []int32:
		for i, v := range vs {
			binary.BigEndian.PutUint32(buf[i*4:], uint32(v))
		}
	case []int64:
		for i, v := range vs {
			binary.BigEndian.PutUint64(buf[i*8:], uint64(v))
		}
	}
	return buf
}

// DecodeVals decodes b into dst. The payload length must match dst exactly.
func DecodeVals[V Value](b []byte, dst []V) error {
	w := width[V]()
	if len(b) != len(dst)*w {
		return sync.NewError(sync.RetCodeInvalidRequest,
			"payload of %d bytes does not hold %d values of width %d", len(b), len(dst), w)
	}

	switch ds := any(dst).(type) {
	case []float32:
		for i := range ds {
			ds[i] = math.Float32frombits(binary.BigEndian.Uint32(b[i*4:]))
		}
	case []float64:
		for i := range ds {
			ds[i] = math.Float64frombits(binary.BigEndian.Uint64(b[i*8:]))
		}
	case []int32:
		for i := range ds {
			ds[i] = int32(binary.BigEndian.Uint32(b[i*4:]))
		}
	case []int64:
		for i := range ds {
			ds[i] = int64(binary.BigEndian.Uint64(b[i*8:]))
		}
	}
	return nil
}

// DecodeAll decodes b into a freshly allocated slice.
func DecodeAll[V Value](b []byte) ([]V, error) {
	w := width[V]()
	if len(b)%w != 0 {
		return nil, sync.NewError(sync.RetCodeInvalidRequest,
			"payload of %d bytes is not a multiple of width %d", len(b), w)
	}

	dst := make([]V, len(b)/w)
	if err := DecodeVals(b, dst); err != nil {
		return nil, err
	}
	return dst, nil
}
