// Package unsafer views typed Go memory as bytes and back without copying.
// The returned slices alias their input and are only valid while it is.
package unsafer

import (
	"unsafe"
)

// SliceToBytes interprets an arbitrary input slice as a byte slice.
//
// Note that the returned slice points to the same underlying data in memory. It
// does not make a copy. An empty input returns nil.
func SliceToBytes[T any](input []T) []byte {
	if len(input) == 0 {
		return nil
	}
	size := int(unsafe.Sizeof(input[0])) * len(input)
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(input))), size)
}

// StructToBytes returns the memory of the value s points to as a byte slice.
// T must not contain pointers, slices, maps or strings.
func StructToBytes[T any](s *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(s)), unsafe.Sizeof(*s))
}

// SliceBytesToUint32 interprets code as a slice of 32 bit words, the way
// SPIR-V bytecode is handed to the driver. Trailing bytes that do not form a
// whole word are dropped.
func SliceBytesToUint32(code []byte) []uint32 {
	if len(code) < 4 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(unsafe.SliceData(code))), len(code)/4)
}
