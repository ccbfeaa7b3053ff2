package types

import (
	"encoding/binary"
	"math"
)

// EncodeInt writes a little-endian, width-truncated representation of v
// into a freshly allocated width-byte buffer.
func EncodeInt(v int64, width int) []byte {
	buf := make([]byte, width)
	full := make([]byte, 8)
	binary.LittleEndian.PutUint64(full, uint64(v))
	copy(buf, full[:width])
	return buf
}

func decodeInt(b []byte) int64 {
	full := make([]byte, 8)
	copy(full, b)
	v := int64(binary.LittleEndian.Uint64(full))
	if n := len(b); n > 0 && n < 8 {
		shift := uint(64 - 8*n)
		v = v << shift >> shift
	}
	return v
}

// DecodeInt is the exported counterpart used by callers outside this
// package (executors reading column values back out of a tuple).
func DecodeInt(b []byte) int64 { return decodeInt(b) }

// EncodeFloat writes an 8-byte little-endian IEEE-754 float64.
func EncodeFloat(v float64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
	return buf
}

func decodeFloat(b []byte) float64 {
	full := make([]byte, 8)
	copy(full, b)
	return math.Float64frombits(binary.LittleEndian.Uint64(full))
}

// DecodeFloat is the exported counterpart of decodeFloat.
func DecodeFloat(b []byte) float64 { return decodeFloat(b) }

// EncodeString blank-pads (or truncates) s to exactly width bytes.
func EncodeString(s string, width int) []byte {
	buf := make([]byte, width)
	copy(buf, s)
	for i := len(s); i < width; i++ {
		buf[i] = ' '
	}
	return buf
}

// DecodeString trims the trailing blank padding EncodeString applied.
func DecodeString(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == ' ' {
		end--
	}
	return string(b[:end])
}
