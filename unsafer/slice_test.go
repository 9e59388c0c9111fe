package unsafer

import (
	"encoding/binary"
	"testing"

	. "github.com/onsi/gomega"
)

func TestSliceToBytesAliasesInput(t *testing.T) {
	g := NewWithT(t)

	words := []uint32{0x01020304, 0xAABBCCDD}
	b := SliceToBytes(words)
	g.Expect(b).To(HaveLen(8))
	g.Expect(binary.NativeEndian.Uint32(b[4:])).To(Equal(uint32(0xAABBCCDD)))

	b[0], b[1], b[2], b[3] = 0, 0, 0, 0
	g.Expect(words[0]).To(BeZero())

	g.Expect(SliceToBytes([]uint16{})).To(BeNil())
}

func TestStructToBytes(t *testing.T) {
	g := NewWithT(t)

	type pair struct {
		A float32
		B uint32
	}
	p := pair{A: 1, B: 7}
	b := StructToBytes(&p)
	g.Expect(b).To(HaveLen(8))
	g.Expect(binary.NativeEndian.Uint32(b[4:])).To(Equal(uint32(7)))
}

func TestSliceBytesToUint32(t *testing.T) {
	g := NewWithT(t)

	code := make([]byte, 10)
	binary.NativeEndian.PutUint32(code, 0x07230203)
	words := SliceBytesToUint32(code)
	g.Expect(words).To(HaveLen(2))
	g.Expect(words[0]).To(Equal(uint32(0x07230203)))

	g.Expect(SliceBytesToUint32([]byte{1, 2})).To(BeNil())
}
