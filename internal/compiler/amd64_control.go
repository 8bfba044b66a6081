package compiler

import (
	"github.com/jvmjit/irvm/internal/asm"
	"github.com/jvmjit/irvm/internal/asm/amd64"
	"github.com/jvmjit/irvm/internal/ir"
)

func init() {
	intOps := widths(intLong)
	register(ir.OperationKindNOP, typed((*amd64Compiler).compileNOP))
	register(ir.OperationKindLabel, typed((*amd64Compiler).compileLabel))
	register(ir.OperationKindRestartPoint, typed((*amd64Compiler).compileRestartPoint))
	register(ir.OperationKindDebuggerBreakpoint, typed((*amd64Compiler).compileDebuggerBreakpoint))
	register(ir.OperationKindLoadLabel, typed((*amd64Compiler).compileLoadLabel))
	register(ir.OperationKindBranchToLabel, typed((*amd64Compiler).compileBranchToLabel))
	register(ir.OperationKindBranchEqual, typed((*amd64Compiler).compileBranchEqual), intOps...)
	register(ir.OperationKindBranchNotEqual, typed((*amd64Compiler).compileBranchNotEqual), intOps...)
	register(ir.OperationKindBranchAGreaterB, typed((*amd64Compiler).compileBranchAGreaterB), intOps...)
	register(ir.OperationKindBranchAGreaterEqualB, typed((*amd64Compiler).compileBranchAGreaterEqualB), intOps...)
	register(ir.OperationKindBranchALessB, typed((*amd64Compiler).compileBranchALessB), intOps...)
	register(ir.OperationKindBranchEqualVal, typed((*amd64Compiler).compileBranchEqualVal), intOps...)
	register(ir.OperationKindBoundsCheck, typed((*amd64Compiler).compileBoundsCheck), intOps...)
	register(ir.OperationKindNPECheck, typed((*amd64Compiler).compileNPECheck))
	register(ir.OperationKindAssertEqual, typed((*amd64Compiler).compileAssertEqual), intOps...)
	register(ir.OperationKindVMExit2, typed((*amd64Compiler).compileVMExit2))
}

func (c *amd64Compiler) compileNOP(*ir.OperationNOP) error {
	c.assembler.CompileStandAlone(amd64.NOP)
	return nil
}

func (c *amd64Compiler) compileLabel(o *ir.OperationLabel) error {
	return c.place(o.Label)
}

// compileRestartPoint emits a NOP so that the marker has native code of its own. Execution
// restarts at the instruction after it.
func (c *amd64Compiler) compileRestartPoint(*ir.OperationRestartPoint) error {
	c.assembler.CompileStandAlone(amd64.NOP)
	return nil
}

func (c *amd64Compiler) compileDebuggerBreakpoint(*ir.OperationDebuggerBreakpoint) error {
	c.assembler.CompileStandAlone(amd64.INT3)
	return nil
}

func (c *amd64Compiler) compileLoadLabel(o *ir.OperationLoadLabel) error {
	c.refer(c.assembler.CompileReadInstructionAddress(gp(o.To)), o.Label)
	return nil
}

func (c *amd64Compiler) compileBranchToLabel(o *ir.OperationBranchToLabel) error {
	c.refer(c.assembler.CompileJump(amd64.JMP), o.Label)
	return nil
}

// compileConditionalBranch compares a to b and jumps to the label on signed or unsigned,
// depending on w.
func (c *amd64Compiler) compileConditionalBranch(w ir.Width, a, b ir.Register, name ir.LabelName, signed, unsigned asm.Instruction) error {
	c.assembler.CompileRegisterToRegister(byWidth(w, amd64.CMPL, amd64.CMPQ), gp(a), gp(b))
	jmp := unsigned
	if w.Signed {
		jmp = signed
	}
	c.refer(c.assembler.CompileJump(jmp), name)
	return nil
}

func (c *amd64Compiler) compileBranchEqual(o *ir.OperationBranchEqual) error {
	return c.compileConditionalBranch(o.Width, o.A, o.B, o.Label, amd64.JEQ, amd64.JEQ)
}

func (c *amd64Compiler) compileBranchNotEqual(o *ir.OperationBranchNotEqual) error {
	return c.compileConditionalBranch(o.Width, o.A, o.B, o.Label, amd64.JNE, amd64.JNE)
}

func (c *amd64Compiler) compileBranchAGreaterB(o *ir.OperationBranchAGreaterB) error {
	return c.compileConditionalBranch(o.Width, o.A, o.B, o.Label, amd64.JGT, amd64.JHI)
}

func (c *amd64Compiler) compileBranchAGreaterEqualB(o *ir.OperationBranchAGreaterEqualB) error {
	return c.compileConditionalBranch(o.Width, o.A, o.B, o.Label, amd64.JGE, amd64.JCC)
}

func (c *amd64Compiler) compileBranchALessB(o *ir.OperationBranchALessB) error {
	return c.compileConditionalBranch(o.Width, o.A, o.B, o.Label, amd64.JLT, amd64.JCS)
}

func (c *amd64Compiler) compileBranchEqualVal(o *ir.OperationBranchEqualVal) error {
	c.assembler.CompileRegisterToConst(byWidth(o.Width, amd64.CMPL, amd64.CMPQ), gp(o.A), int64(o.Const))
	c.refer(c.assembler.CompileJump(amd64.JEQ), o.Label)
	return nil
}

// compileBoundsCheck exits unless index < length. The unsigned comparison also rejects a
// negative index.
func (c *amd64Compiler) compileBoundsCheck(o *ir.OperationBoundsCheck) error {
	c.assembler.CompileRegisterToRegister(byWidth(o.Width, amd64.CMPL, amd64.CMPQ), gp(o.Index), gp(o.Length))
	inBounds := c.assembler.CompileJump(amd64.JCS)
	return c.compileExit(o.Exit, inBounds)
}

func (c *amd64Compiler) compileNPECheck(o *ir.OperationNPECheck) error {
	c.assembler.CompileRegisterToConst(amd64.CMPQ, gp(o.PossiblyNull), 0)
	notNull := c.assembler.CompileJump(amd64.JNE)
	return c.compileExit(o.Exit, notNull)
}

// compileAssertEqual traps unless a equals b.
func (c *amd64Compiler) compileAssertEqual(o *ir.OperationAssertEqual) error {
	c.assembler.CompileRegisterToRegister(byWidth(o.Width, amd64.CMPL, amd64.CMPQ), gp(o.A), gp(o.B))
	equal := c.assembler.CompileJump(amd64.JEQ)
	c.assembler.CompileStandAlone(amd64.INT3)
	c.assembler.SetJumpTargetOnNext(equal)
	c.assembler.CompileStandAlone(amd64.NOP)
	return nil
}

func (c *amd64Compiler) compileVMExit2(o *ir.OperationVMExit2) error {
	return c.compileExit(o.Exit)
}
