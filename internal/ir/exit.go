package ir

import (
	"fmt"
	"strings"
)

// ExitReason is the raw tag written to the reason register when native code exits to
// the runtime. The reasons themselves are declared by the vmexit package.
type ExitReason uint16

// ExitArgName names one argument of a VM exit.
type ExitArgName uint8

// ExitSourceKind is how the value of one VM exit argument is produced.
type ExitSourceKind byte

const (
	// ExitSourceConst is a constant embedded in the code.
	ExitSourceConst ExitSourceKind = iota
	// ExitSourceFrameValue is the 8-byte value stored at a frame offset.
	ExitSourceFrameValue
	// ExitSourceFrameAddress is the address of a frame slot, rbp minus the offset.
	ExitSourceFrameAddress
	// ExitSourceRegister is the current value of a register.
	ExitSourceRegister
	// ExitSourceRestartIP is the address of the instruction following the exit.
	ExitSourceRestartIP
)

// ExitSource describes how the value of an exit argument is computed.
type ExitSource struct {
	Kind     ExitSourceKind
	Const    uint64
	Offset   FramePointerOffset
	Register Register
}

func (s ExitSource) String() string {
	switch s.Kind {
	case ExitSourceConst:
		return fmt.Sprintf("$%#x", s.Const)
	case ExitSourceFrameValue:
		return fmt.Sprintf("[rbp-%d]", s.Offset)
	case ExitSourceFrameAddress:
		return fmt.Sprintf("&[rbp-%d]", s.Offset)
	case ExitSourceRegister:
		return s.Register.String()
	case ExitSourceRestartIP:
		return "restart_ip"
	}
	return "unknown"
}

// Const returns the ExitSource of the constant v.
func Const(v uint64) ExitSource {
	return ExitSource{Kind: ExitSourceConst, Const: v}
}

// FrameValue returns the ExitSource reading the frame slot at offset.
func FrameValue(offset FramePointerOffset) ExitSource {
	return ExitSource{Kind: ExitSourceFrameValue, Offset: offset}
}

// FrameAddress returns the ExitSource computing the address of the frame slot at offset.
func FrameAddress(offset FramePointerOffset) ExitSource {
	return ExitSource{Kind: ExitSourceFrameAddress, Offset: offset}
}

// FromRegister returns the ExitSource reading the register r.
func FromRegister(r Register) ExitSource {
	return ExitSource{Kind: ExitSourceRegister, Register: r}
}

// RestartIP returns the ExitSource computing the address right after the exit.
func RestartIP() ExitSource {
	return ExitSource{Kind: ExitSourceRestartIP}
}

// ExitArg binds an argument of a VM exit to its source.
type ExitArg struct {
	Name   ExitArgName
	Source ExitSource
}

// VMExit is a fully described VM exit: the reason and the value source of each argument.
// Use the constructors of the vmexit package to build one.
type VMExit struct {
	Reason ExitReason
	Args   []ExitArg
}

func (e VMExit) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "exit(%d", e.Reason)
	for _, a := range e.Args {
		fmt.Fprintf(&sb, ", %d=%s", a.Name, a.Source)
	}
	sb.WriteString(")")
	return sb.String()
}
