// Package native holds the primitive used to enter generated code: the saved register
// snapshot shared between Go and native code, and the context switch itself.
package native

import (
	"fmt"

	"github.com/jvmjit/irvm/internal/ir"
)

// Slot is the position of one register in SavedRegisters.
type Slot uint8

const (
	// SlotRAX..SlotR14 hold ir.Register(0)..ir.Register(10) in order.
	SlotRAX Slot = iota
	SlotRBX
	SlotRCX
	SlotRDX
	SlotR8
	SlotR9
	SlotR10
	SlotR11
	SlotR12
	SlotR13
	SlotR14
	SlotRBP
	SlotRSP
	SlotRIP
	SlotXMM0
	SlotXMM1
	SlotXMM2
	SlotXMM3
	SlotXMM4
	SlotXMM5
	SlotXMM6
	SlotXMM7

	// SlotCount is the number of slots in SavedRegisters.
	SlotCount
)

var slotNames = [SlotCount]string{
	"rax", "rbx", "rcx", "rdx", "r8", "r9", "r10", "r11", "r12", "r13", "r14",
	"rbp", "rsp", "rip",
	"xmm0", "xmm1", "xmm2", "xmm3", "xmm4", "xmm5", "xmm6", "xmm7",
}

func (s Slot) String() string {
	if s < SlotCount {
		return slotNames[s]
	}
	return fmt.Sprintf("slot(%d)", uint8(s))
}

// SlotOf returns the slot holding the general purpose register r.
func SlotOf(r ir.Register) Slot {
	if r >= ir.RegisterCount {
		panic(fmt.Sprintf("BUG: invalid register %d", r))
	}
	return Slot(r)
}

// XMMSlot returns the slot holding the low 64 bits of xmm<i>.
func XMMSlot(i uint8) Slot {
	if i >= ir.FloatRegisterCount {
		panic(fmt.Sprintf("BUG: invalid xmm register %d", i))
	}
	return SlotXMM0 + Slot(i)
}

// SavedRegisters is the register state of native code as of its last exit, and the state it
// resumes with. The layout is read and written by generated code and by jitcall, so the
// field order must not change.
type SavedRegisters struct {
	slots [SlotCount]uint64
}

// Get returns the value of the slot.
func (s *SavedRegisters) Get(slot Slot) uint64 {
	return s.slots[slot]
}

// Set assigns the value of the slot.
func (s *SavedRegisters) Set(slot Slot, v uint64) {
	s.slots[slot] = v
}

// Register returns the value of the general purpose register r.
func (s *SavedRegisters) Register(r ir.Register) uint64 {
	return s.slots[SlotOf(r)]
}

// RBP returns the saved frame pointer.
func (s *SavedRegisters) RBP() uintptr {
	return uintptr(s.slots[SlotRBP])
}

// RSP returns the saved stack pointer.
func (s *SavedRegisters) RSP() uintptr {
	return uintptr(s.slots[SlotRSP])
}

// RIP returns the saved instruction pointer, which is where native code resumes.
func (s *SavedRegisters) RIP() uintptr {
	return uintptr(s.slots[SlotRIP])
}

func (s *SavedRegisters) String() string {
	return fmt.Sprintf("rax=%#x rbx=%#x rcx=%#x rdx=%#x r8=%#x r9=%#x r10=%#x r11=%#x r12=%#x r13=%#x r14=%#x rbp=%#x rsp=%#x rip=%#x",
		s.slots[SlotRAX], s.slots[SlotRBX], s.slots[SlotRCX], s.slots[SlotRDX], s.slots[SlotR8], s.slots[SlotR9],
		s.slots[SlotR10], s.slots[SlotR11], s.slots[SlotR12], s.slots[SlotR13], s.slots[SlotR14],
		s.slots[SlotRBP], s.slots[SlotRSP], s.slots[SlotRIP])
}

// SavedRegistersDiff is a partial register state written over SavedRegisters before
// resuming native code.
type SavedRegistersDiff struct {
	set    uint32
	values [SlotCount]uint64
}

// Set records that slot must be overwritten with v.
func (d *SavedRegistersDiff) Set(slot Slot, v uint64) {
	d.set |= 1 << slot
	d.values[slot] = v
}

// SetRegister records that the general purpose register r must be overwritten with v.
func (d *SavedRegistersDiff) SetRegister(r ir.Register, v uint64) {
	d.Set(SlotOf(r), v)
}

// Get returns the value recorded for slot, if any.
func (d *SavedRegistersDiff) Get(slot Slot) (uint64, bool) {
	if d.set&(1<<slot) == 0 {
		return 0, false
	}
	return d.values[slot], true
}

// Empty returns true if no slot is recorded.
func (d *SavedRegistersDiff) Empty() bool {
	return d.set == 0
}

// Apply overwrites the recorded slots of s.
func (d *SavedRegistersDiff) Apply(s *SavedRegisters) {
	for slot := Slot(0); slot < SlotCount; slot++ {
		if d.set&(1<<slot) != 0 {
			s.slots[slot] = d.values[slot]
		}
	}
}
