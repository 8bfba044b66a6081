// Package offsetindex maps native code offsets of one compiled method to the IR instructions
// which produced them, and back.
package offsetindex

import (
	"fmt"
	"sort"

	"github.com/jvmjit/irvm/internal/ir"
)

// NativeOffset is a byte offset from the start of a compiled method.
type NativeOffset uint32

// Entry is the first native offset of one IR instruction.
type Entry struct {
	Offset NativeOffset
	Index  ir.IRInstructIndex
}

// Builder collects the native offsets of a method's instructions while it is compiled.
type Builder struct {
	starts   []NativeOffset
	recorded []bool
}

// NewBuilder returns a Builder for a method of n IR instructions.
func NewBuilder(n int) *Builder {
	return &Builder{starts: make([]NativeOffset, n), recorded: make([]bool, n)}
}

// Record notes that the IR instruction i produced native code at off. Only the lowest offset
// recorded for an instruction is kept.
func (b *Builder) Record(i ir.IRInstructIndex, off NativeOffset) error {
	if i < 0 || int(i) >= len(b.starts) {
		return fmt.Errorf("ir index %d out of range [0, %d)", i, len(b.starts))
	}
	if !b.recorded[i] || off < b.starts[i] {
		b.starts[i] = off
		b.recorded[i] = true
	}
	return nil
}

// Build returns the Index of a method of codeLen bytes. Every instruction must have been
// recorded, and the instructions must be laid out in order.
func (b *Builder) Build(codeLen NativeOffset) (*Index, error) {
	for i, ok := range b.recorded {
		if !ok {
			return nil, fmt.Errorf("ir index %d has no native code", i)
		}
	}
	return New(b.starts, codeLen)
}

// Index is the offset index of one compiled method.
type Index struct {
	// starts[i] is the first native offset of the IR instruction i, strictly increasing.
	starts  []NativeOffset
	codeLen NativeOffset
}

// New returns the Index whose instruction i starts at starts[i].
func New(starts []NativeOffset, codeLen NativeOffset) (*Index, error) {
	if len(starts) > 0 && starts[0] != 0 {
		return nil, fmt.Errorf("first instruction starts at %#x, not 0", starts[0])
	}
	for i := 1; i < len(starts); i++ {
		if starts[i] <= starts[i-1] {
			return nil, fmt.Errorf("ir index %d starts at %#x, not after ir index %d at %#x",
				i, starts[i], i-1, starts[i-1])
		}
	}
	if n := len(starts); n > 0 && starts[n-1] >= codeLen {
		return nil, fmt.Errorf("ir index %d starts at %#x, beyond the code length %#x", n-1, starts[n-1], codeLen)
	}
	return &Index{starts: append([]NativeOffset(nil), starts...), codeLen: codeLen}, nil
}

// Len returns the number of IR instructions.
func (x *Index) Len() int {
	return len(x.starts)
}

// CodeLen returns the size of the method's native code in bytes.
func (x *Index) CodeLen() NativeOffset {
	return x.codeLen
}

// Offset returns the first native offset of the IR instruction i.
func (x *Index) Offset(i ir.IRInstructIndex) NativeOffset {
	if i < 0 || int(i) >= len(x.starts) {
		panic(fmt.Sprintf("BUG: ir index %d out of range [0, %d)", i, len(x.starts)))
	}
	return x.starts[i]
}

// Floor returns the IR instruction whose native code contains off, which is the last
// instruction starting at or before off.
func (x *Index) Floor(off NativeOffset) (ir.IRInstructIndex, bool) {
	if off >= x.codeLen {
		return 0, false
	}
	i := sort.Search(len(x.starts), func(i int) bool { return x.starts[i] > off })
	if i == 0 {
		return 0, false
	}
	return ir.IRInstructIndex(i - 1), true
}

// Ceiling returns the first IR instruction starting at or after off. For an offset past the
// start of the last instruction, this is Len(), the position after the last instruction.
func (x *Index) Ceiling(off NativeOffset) ir.IRInstructIndex {
	return ir.IRInstructIndex(sort.Search(len(x.starts), func(i int) bool { return x.starts[i] >= off }))
}

// Entries returns every instruction start in order.
func (x *Index) Entries() []Entry {
	ret := make([]Entry, len(x.starts))
	for i, off := range x.starts {
		ret[i] = Entry{Offset: off, Index: ir.IRInstructIndex(i)}
	}
	return ret
}
