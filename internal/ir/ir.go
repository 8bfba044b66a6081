// Package ir defines the register based intermediate representation which sits between
// JVM bytecode and x86-64 machine code, together with the identifiers shared by the
// compiler, the frame layout and the execution engine.
package ir

import (
	"fmt"
	"math"
)

// IRMethodID identifies one logical method. A logical method keeps its IRMethodID across
// recompilations.
type IRMethodID uint64

// NoIRMethodID is stored in the frame header of frames which have no logical method.
const NoIRMethodID IRMethodID = math.MaxUint64

// MethodID is the runtime's method identifier recorded in the frame header. It is opaque
// to this module.
type MethodID uint64

// IRInstructIndex is the zero-based position of an instruction within a method's IR.
type IRInstructIndex int

// RestartPointID names a resumable location established by OperationRestartPoint.
type RestartPointID uint32

// RestartPointGenerator hands out RestartPointIDs which are unique for one method.
type RestartPointGenerator struct {
	next RestartPointID
}

// Next returns a fresh RestartPointID.
func (g *RestartPointGenerator) Next() RestartPointID {
	id := g.next
	g.next++
	return id
}

// LabelName names a branch target within one method.
type LabelName uint32

// FramePointerOffset is a byte offset measured downward from the frame pointer, so that
// the 8-byte slot at offset k covers [rbp-k, rbp-k+8).
type FramePointerOffset int32

// Register is one of the general purpose registers available to IR code.
// Register(0) is rax, which doubles as the VM exit reason register.
type Register uint8

// RegisterCount is the number of general purpose registers available to IR code.
// r15 is not among them as it always holds the execution context.
const RegisterCount = 11

func (r Register) String() string {
	return fmt.Sprintf("r%d", r)
}

// FloatRegister holds a single precision value in one of xmm0..xmm7.
type FloatRegister uint8

func (r FloatRegister) String() string {
	return fmt.Sprintf("f%d", r)
}

// DoubleRegister holds a double precision value in one of xmm0..xmm7.
type DoubleRegister uint8

func (r DoubleRegister) String() string {
	return fmt.Sprintf("d%d", r)
}

// PackedRegister is one of xmm8..xmm15, used as the intermediate for the packed
// integer to floating point conversions.
type PackedRegister uint8

func (r PackedRegister) String() string {
	return fmt.Sprintf("p%d", r)
}

// FloatRegisterCount is the number of float, double and packed registers each.
const FloatRegisterCount = 8

// Size is the width of an integer operand.
type Size byte

const (
	SizeNone  Size = 0
	SizeByte  Size = 1
	SizeShort Size = 2
	SizeInt   Size = 4
	SizeLong  Size = 8
)

func (s Size) String() (ret string) {
	switch s {
	case SizeNone:
		ret = "none"
	case SizeByte:
		ret = "byte"
	case SizeShort:
		ret = "short"
	case SizeInt:
		ret = "int"
	case SizeLong:
		ret = "long"
	default:
		ret = fmt.Sprintf("size(%d)", byte(s))
	}
	return
}

// Width is the operand size and signedness of an integer operation.
type Width struct {
	Size   Size
	Signed bool
}

// OperandWidth returns w.
func (w Width) OperandWidth() Width {
	return w
}

func (w Width) String() string {
	if w.Signed {
		return "s" + w.Size.String()
	}
	return "u" + w.Size.String()
}

// Widthed is implemented by the operations parameterized by operand width.
type Widthed interface {
	OperandWidth() Width
}

// Signed returns the signed Width of size s.
func Signed(s Size) Width {
	return Width{Size: s, Signed: true}
}

// Unsigned returns the unsigned Width of size s.
func Unsigned(s Size) Width {
	return Width{Size: s}
}

// NaNMode decides the result of a floating point comparison involving NaN.
type NaNMode byte

const (
	// NaNIsMinusOne makes comparisons involving NaN produce -1.
	NaNIsMinusOne NaNMode = iota
	// NaNIsOne makes comparisons involving NaN produce 1.
	NaNIsOne
)
