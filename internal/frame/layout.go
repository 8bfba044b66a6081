// Package frame defines the layout of the native stack frames of compiled methods and owns
// the memory they live in.
//
// Every frame starts with a fixed header stored below its frame pointer (rbp). Offsets are
// measured downward from rbp, so the 8 byte slot at offset k covers [rbp-k, rbp-k+8).
package frame

import "github.com/jvmjit/irvm/internal/ir"

// Header offsets.
const (
	PrevRIPOffset    ir.FramePointerOffset = 8
	PrevRBPOffset    ir.FramePointerOffset = 16
	IRMethodIDOffset ir.FramePointerOffset = 24
	MethodIDOffset   ir.FramePointerOffset = 32
	Magic1Offset     ir.FramePointerOffset = 40
	Magic2Offset     ir.FramePointerOffset = 48
)

const (
	Magic1 uint64 = 0xDEADBEEFDEADBEAF
	Magic2 uint64 = 0xDEADCAFEDEADDEAD
)

// HeaderSize is the size of the frame header, and so the minimum frame size.
const HeaderSize = 48

// OpaqueFrameSize is the size of frames pushed for methods which are not compiled, such as
// native methods called by the runtime.
const OpaqueFrameSize = 1024

// UninitializedSlot is written to the slots of a frame which the method never initialized.
const UninitializedSlot uint64 = 0xeeeeeeeeeeeeeeee

// DataOffset returns the offset of the i-th data slot, which follow the header.
func DataOffset(i int) ir.FramePointerOffset {
	return ir.FramePointerOffset(HeaderSize + 8*(i+1))
}

// Header mirrors the frame header in memory, starting at rbp-HeaderSize.
type Header struct {
	Magic2     uint64
	Magic1     uint64
	MethodID   ir.MethodID
	IRMethodID ir.IRMethodID
	PrevRBP    uint64
	PrevRIP    uint64
}

// Valid returns true if both magic words are intact.
func (h *Header) Valid() bool {
	return h.Magic1 == Magic1 && h.Magic2 == Magic2
}
