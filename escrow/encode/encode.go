// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package encode

import (
	"crypto/rand"
	"encoding/binary"
)

// IntCoder is the engine-wide integer byte-encoding order. IntCoder must be
// BigEndian so that lexicographic key ordering matches numeric ordering.
var IntCoder = binary.BigEndian

// Uint64Bytes converts the uint64 to a length-8, big-endian encoded byte
// slice.
func Uint64Bytes(i uint64) []byte {
	b := make([]byte, 8)
	IntCoder.PutUint64(b, i)
	return b
}

// BytesToUint64 converts the length-8, big-endian encoded byte slice to a
// uint64.
func BytesToUint64(b []byte) uint64 {
	return IntCoder.Uint64(b[:8])
}

// Int64Bytes converts the int64 to a length-8, big-endian encoded byte slice.
func Int64Bytes(i int64) []byte {
	b := make([]byte, 8)
	IntCoder.PutUint64(b, uint64(i))
	return b
}

// BytesToInt64 converts the length-8, big-endian encoded byte slice to an
// int64.
func BytesToInt64(b []byte) int64 {
	return int64(IntCoder.Uint64(b[:8]))
}

// CopySlice makes a copy of the slice.
func CopySlice(b []byte) []byte {
	newB := make([]byte, len(b))
	copy(newB, b)
	return newB
}

// RandomBytes returns a byte slice with the specified length of random bytes.
func RandomBytes(len int) []byte {
	bytes := make([]byte, len)
	_, err := rand.Read(bytes)
	if err != nil {
		panic("error reading random bytes: " + err.Error())
	}
	return bytes
}
