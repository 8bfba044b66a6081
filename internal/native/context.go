package native

import (
	"runtime"
)

// Context is shared between Go and native code for one thread of execution. While native
// code runs, r15 holds its address.
type Context struct {
	Registers SavedRegisters
	// hostSP and hostBP are the stack and frame pointers of jitcall, restored when native
	// code exits.
	hostSP uint64
	hostBP uint64
}

// The offsets of the fields of Context, used by jitcall and by generated code.
const (
	ContextRegistersOffset = 0
	ContextHostSPOffset    = 176
	ContextHostBPOffset    = 184
)

// SlotOffset returns the offset of slot within Context.
func SlotOffset(slot Slot) int64 {
	return ContextRegistersOffset + 8*int64(slot)
}

// Launch prepares ctx to enter native code at rip with the frame pointer rbp and the stack
// pointer rsp. Every other register is zeroed.
func (c *Context) Launch(rip, rbp, rsp uintptr) {
	c.Registers = SavedRegisters{}
	c.Registers.Set(SlotRIP, uint64(rip))
	c.Registers.Set(SlotRBP, uint64(rbp))
	c.Registers.Set(SlotRSP, uint64(rsp))
}

// Resume prepares ctx to re-enter native code at rip. diff, if non-nil, is applied after
// the instruction pointer is set so that it may override it.
func (c *Context) Resume(rip uintptr, diff *SavedRegistersDiff) {
	c.Registers.Set(SlotRIP, uint64(rip))
	if diff != nil {
		diff.Apply(&c.Registers)
	}
}

// Run enters native code with the register state of ctx and returns on the next VM exit,
// at which point ctx holds the register state as of the exit.
//
// The caller must hold the OS thread with runtime.LockOSThread.
func Run(ctx *Context) {
	jitcall(ctx)
	runtime.KeepAlive(ctx)
}
