package frame

import (
	"fmt"

	"github.com/jvmjit/irvm/internal/ir"
)

// StackView is the part of a Stack an exit handler may inspect and mutate: the exiting frame
// at rbp, its callers, and everything below the exiting frame's stack pointer.
type StackView struct {
	stack    *Stack
	rbp, rsp uintptr
}

// View returns the StackView of native code which exited with the given frame and stack
// pointers.
func (s *Stack) View(rbp, rsp uintptr) StackView {
	if rsp > rbp {
		panic(fmt.Errorf("BUG: stack pointer %#x above frame pointer %#x", rsp, rbp))
	}
	return StackView{stack: s, rbp: rbp, rsp: rsp}
}

// Stack returns the underlying stack.
func (v StackView) Stack() *Stack {
	return v.stack
}

// Exiting returns the frame which performed the exit.
func (v StackView) Exiting() Cursor {
	return v.stack.Cursor(v.rbp)
}

// RSP returns the stack pointer at the exit.
func (v StackView) RSP() uintptr {
	return v.rsp
}

// Walk walks the exiting frame and its callers.
func (v StackView) Walk(visit func(Cursor) bool) error {
	return v.stack.Walk(v.rbp, visit)
}

// Load reads the 8 bytes at addr, such as a result pointer passed by an exit.
func (v StackView) Load(addr uintptr) uint64 {
	return v.stack.Load(addr)
}

// Store writes the 8 bytes at addr.
func (v StackView) Store(addr uintptr, val uint64) {
	v.stack.Store(addr, val)
}

// PushFrame pushes a frame below the exiting one, as a callee of it. It is used to run
// another method from within an exit handler. Frames pushed before the exit which lie below
// the exiting frame are dropped.
func (v StackView) PushFrame(prevRIP uintptr, irMethodID ir.IRMethodID, methodID ir.MethodID, data []uint64, size int) Frame {
	v.stack.Reset(Mark{sp: v.rsp, current: v.rbp})
	return v.stack.PushFrame(prevRIP, irMethodID, methodID, data, size)
}
