package compiler

import (
	"fmt"

	"github.com/jvmjit/irvm/internal/asm"
	"github.com/jvmjit/irvm/internal/asm/amd64"
	"github.com/jvmjit/irvm/internal/ir"
	"github.com/jvmjit/irvm/internal/native"
	"github.com/jvmjit/irvm/internal/vmexit"
)

// compileExit emits the exit e, returning to the Go side of native.Run. The runtime
// resumes execution at the NOP following the exit unless it decides otherwise, and so do
// the given jumps which skip the exit.
//
// Only the registers the exit preserves are saved to the context. Every other general
// purpose register and every SSE register is undefined once the exit resumes.
func (c *amd64Compiler) compileExit(e ir.VMExit, skip ...asm.Node) error {
	if err := vmexit.Validate(e); err != nil {
		return err
	}
	spec := vmexit.Lookup(e.Reason)

	var moves []regMove
	for _, a := range e.Args {
		if a.Source.Kind == ir.ExitSourceRegister {
			as, _ := spec.Arg(a.Name)
			moves = append(moves, regMove{dst: gp(as.Register), src: gp(a.Source.Register)})
		}
	}
	c.parallelMove(moves)

	var restartIPs []asm.Node
	for _, a := range e.Args {
		as, _ := spec.Arg(a.Name)
		dst := gp(as.Register)
		switch src := a.Source; src.Kind {
		case ir.ExitSourceRegister:
		case ir.ExitSourceConst:
			c.assembler.CompileConstToRegister(amd64.MOVQ, imm(src.Const), dst)
		case ir.ExitSourceFrameValue:
			c.assembler.CompileMemoryToRegister(amd64.MOVQ, amd64.REG_BP, frameMem(src.Offset), dst)
		case ir.ExitSourceFrameAddress:
			c.assembler.CompileMemoryToRegister(amd64.LEAQ, amd64.REG_BP, frameMem(src.Offset), dst)
		case ir.ExitSourceRestartIP:
			restartIPs = append(restartIPs, c.assembler.CompileReadInstructionAddress(dst))
		default:
			return fmt.Errorf("%s argument %s has unknown source kind %d", spec.Name, vmexit.ArgName(a.Name), src.Kind)
		}
	}
	c.assembler.CompileConstToRegister(amd64.MOVQ, int64(e.Reason), gp(vmexit.TagRegister))

	for _, r := range spec.Preserved() {
		c.assembler.CompileRegisterToMemory(amd64.MOVQ, gp(r), contextRegister, native.SlotOffset(native.SlotOf(r)))
	}
	c.assembler.CompileRegisterToMemory(amd64.MOVQ, amd64.REG_BP, contextRegister, native.SlotOffset(native.SlotRBP))
	c.assembler.CompileRegisterToMemory(amd64.MOVQ, amd64.REG_SP, contextRegister, native.SlotOffset(native.SlotRSP))
	// The tag is saved already, so rax is free.
	resume := c.assembler.CompileReadInstructionAddress(amd64.REG_AX)
	c.assembler.CompileRegisterToMemory(amd64.MOVQ, amd64.REG_AX, contextRegister, native.SlotOffset(native.SlotRIP))

	c.assembler.CompileMemoryToRegister(amd64.MOVQ, contextRegister, native.ContextHostSPOffset, amd64.REG_SP)
	c.assembler.CompileMemoryToRegister(amd64.MOVQ, contextRegister, native.ContextHostBPOffset, amd64.REG_BP)
	c.assembler.CompileStandAlone(amd64.RET)

	after := c.assembler.CompileStandAlone(amd64.NOP)
	resume.AssignJumpTarget(after)
	for _, n := range restartIPs {
		n.AssignJumpTarget(after)
	}
	for _, n := range skip {
		n.AssignJumpTarget(after)
	}
	c.exits = append(c.exits, pendingExit{index: c.current, reason: e.Reason, after: after})
	return nil
}
