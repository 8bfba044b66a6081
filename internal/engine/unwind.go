package engine

import (
	"fmt"

	"github.com/jvmjit/irvm/internal/frame"
	"github.com/jvmjit/irvm/internal/ir"
	"github.com/jvmjit/irvm/internal/native"
)

// ExceptionTable finds the exception handlers of IR methods.
type ExceptionTable interface {
	// FindHandler returns the first IR instruction of the handler of exception thrown at
	// the instruction index of method, if method catches it there.
	FindHandler(method ir.IRMethodID, index ir.IRInstructIndex, exception uint64) (ir.IRInstructIndex, bool)
}

// UnwindToHandler looks for the innermost frame catching exception, starting from the
// exiting frame of stack, which was executing at ip. If found, the returned action resumes
// at the handler with the frame pointer of the catching frame and its stack pointer reset
// to the bottom of the frame. Frames of methods without code, and frames below the top
// level exit method, are skipped.
//
// The caller is expected to store the exception where the handler reads it, typically a
// slot of the catching frame, before resuming.
func (s *IRVMState) UnwindToHandler(stack frame.StackView, ip uintptr, exception uint64, table ExceptionTable) (RestartWithRegisterState, bool) {
	var (
		ret   RestartWithRegisterState
		found bool
	)
	err := stack.Walk(func(c frame.Cursor) bool {
		id := c.IRMethodID()
		if m, ok := s.methodAt(ip); ok {
			if m.irMethodID != id {
				panic(fmt.Errorf("BUG: frame at %#x of IR method %d executing code of IR method %d", c.RBP(), id, m.irMethodID))
			}
			index, _ := m.index.Floor(m.offset(ip))
			if handler, ok := table.FindHandler(id, index, exception); ok {
				rbp := c.RBP()
				ret.Diff.Set(native.SlotRIP, uint64(m.location(handler)))
				ret.Diff.Set(native.SlotRBP, uint64(rbp))
				ret.Diff.Set(native.SlotRSP, uint64(rbp-uintptr(s.FrameSize(id))))
				found = true
				return false
			}
		}
		ip = c.PrevRIP()

		s.mux.RLock()
		defer s.mux.RUnlock()
		return !s.isTopLevelExit(id)
	})
	if err != nil {
		panic(fmt.Errorf("BUG: unwinding: %w", err))
	}
	return ret, found
}
