package compiler

import (
	"fmt"

	"github.com/jvmjit/irvm/internal/asm"
	"github.com/jvmjit/irvm/internal/asm/amd64"
	"github.com/jvmjit/irvm/internal/frame"
	"github.com/jvmjit/irvm/internal/ir"
)

func init() {
	register(ir.OperationKindIRStart, typed((*amd64Compiler).compileIRStart))
	register(ir.OperationKindLoadFPRelative, typed((*amd64Compiler).compileLoadFPRelative), widths(allSizes)...)
	register(ir.OperationKindStoreFPRelative, typed((*amd64Compiler).compileStoreFPRelative), widths(allSizes)...)
	register(ir.OperationKindLoadFPRelativeFloat, typed((*amd64Compiler).compileLoadFPRelativeFloat))
	register(ir.OperationKindStoreFPRelativeFloat, typed((*amd64Compiler).compileStoreFPRelativeFloat))
	register(ir.OperationKindLoadFPRelativeDouble, typed((*amd64Compiler).compileLoadFPRelativeDouble))
	register(ir.OperationKindStoreFPRelativeDouble, typed((*amd64Compiler).compileStoreFPRelativeDouble))
	register(ir.OperationKindLoadRBP, typed((*amd64Compiler).compileLoadRBP))
	register(ir.OperationKindWriteRBP, typed((*amd64Compiler).compileWriteRBP))
	register(ir.OperationKindLoadSP, typed((*amd64Compiler).compileLoadSP))
	register(ir.OperationKindLoad, typed((*amd64Compiler).compileLoad), widths(allSizes)...)
	register(ir.OperationKindStore, typed((*amd64Compiler).compileStore), widths(allSizes)...)
	register(ir.OperationKindConst16bit, typed((*amd64Compiler).compileConst16bit))
	register(ir.OperationKindConst32bit, typed((*amd64Compiler).compileConst32bit))
	register(ir.OperationKindConst64bit, typed((*amd64Compiler).compileConst64bit))
	register(ir.OperationKindCopyRegister, typed((*amd64Compiler).compileCopyRegister))
	register(ir.OperationKindSignExtend, typed((*amd64Compiler).compileSignExtend))
	register(ir.OperationKindZeroExtend, typed((*amd64Compiler).compileZeroExtend))
	register(ir.OperationKindReturn, typed((*amd64Compiler).compileReturn))
	register(ir.OperationKindIRCall, typed((*amd64Compiler).compileIRCall))
}

// typed adapts a method compiling one concrete operation type to a translator.
func typed[T ir.Operation](fn func(*amd64Compiler, T) error) translator {
	return func(c *amd64Compiler, op ir.Operation) error {
		return fn(c, op.(T))
	}
}

// loadInstruction returns the instruction loading a value of width w into a whole register,
// sign or zero extended per w.
func loadInstruction(w ir.Width) asm.Instruction {
	switch w.Size {
	case ir.SizeByte:
		if w.Signed {
			return amd64.MOVBQSX
		}
		return amd64.MOVBQZX
	case ir.SizeShort:
		if w.Signed {
			return amd64.MOVWQSX
		}
		return amd64.MOVWQZX
	case ir.SizeInt:
		if w.Signed {
			return amd64.MOVLQSX
		}
		return amd64.MOVLQZX
	}
	return amd64.MOVQ
}

func storeInstruction(s ir.Size) asm.Instruction {
	switch s {
	case ir.SizeByte:
		return amd64.MOVB
	case ir.SizeShort:
		return amd64.MOVW
	case ir.SizeInt:
		return amd64.MOVL
	}
	return amd64.MOVQ
}

// compileIRStart emits the prologue. rbp already points to the frame, laid out by the
// caller.
func (c *amd64Compiler) compileIRStart(o *ir.OperationIRStart) error {
	if o.FrameSize < frame.HeaderSize || o.FrameSize%8 != 0 {
		return fmt.Errorf("invalid frame size %d", o.FrameSize)
	}
	if o.NumLocals < 0 || frame.DataOffset(o.NumLocals-1) > ir.FramePointerOffset(o.FrameSize) {
		return fmt.Errorf("%d locals do not fit a frame of %d bytes", o.NumLocals, o.FrameSize)
	}
	temp := gp(o.Temp)

	// Slots nobody wrote yet get a pattern which stands out in a frame dump.
	if first := frame.DataOffset(o.NumLocals); first <= ir.FramePointerOffset(o.FrameSize) {
		c.assembler.CompileConstToRegister(amd64.MOVQ, imm(frame.UninitializedSlot), temp)
		for off := first; off <= ir.FramePointerOffset(o.FrameSize); off += 8 {
			c.assembler.CompileRegisterToMemory(amd64.MOVQ, temp, amd64.REG_BP, frameMem(off))
		}
	}

	c.assembler.CompileConstToRegister(amd64.MOVQ, imm(uint64(o.IRMethodID)), temp)
	c.assembler.CompileRegisterToMemory(amd64.MOVQ, temp, amd64.REG_BP, frameMem(frame.IRMethodIDOffset))
	c.assembler.CompileConstToRegister(amd64.MOVQ, imm(uint64(o.MethodID)), temp)
	c.assembler.CompileRegisterToMemory(amd64.MOVQ, temp, amd64.REG_BP, frameMem(frame.MethodIDOffset))

	c.assembler.CompileMemoryToRegister(amd64.LEAQ, amd64.REG_BP, -int64(o.FrameSize), amd64.REG_SP)

	c.assembler.CompileConstToRegister(amd64.MOVQ, imm(frame.Magic1), temp)
	c.assembler.CompileRegisterToMemory(amd64.MOVQ, temp, amd64.REG_BP, frameMem(frame.Magic1Offset))
	c.assembler.CompileConstToRegister(amd64.MOVQ, imm(frame.Magic2), temp)
	c.assembler.CompileRegisterToMemory(amd64.MOVQ, temp, amd64.REG_BP, frameMem(frame.Magic2Offset))
	return nil
}

func (c *amd64Compiler) compileLoadFPRelative(o *ir.OperationLoadFPRelative) error {
	c.assembler.CompileMemoryToRegister(loadInstruction(o.Width), amd64.REG_BP, frameMem(o.From), gp(o.To))
	return nil
}

func (c *amd64Compiler) compileStoreFPRelative(o *ir.OperationStoreFPRelative) error {
	c.assembler.CompileRegisterToMemory(storeInstruction(o.Size), gp(o.From), amd64.REG_BP, frameMem(o.To))
	return nil
}

func (c *amd64Compiler) compileLoadFPRelativeFloat(o *ir.OperationLoadFPRelativeFloat) error {
	c.assembler.CompileMemoryToRegister(amd64.MOVSS, amd64.REG_BP, frameMem(o.From), float(o.To))
	return nil
}

func (c *amd64Compiler) compileStoreFPRelativeFloat(o *ir.OperationStoreFPRelativeFloat) error {
	c.assembler.CompileRegisterToMemory(amd64.MOVSS, float(o.From), amd64.REG_BP, frameMem(o.To))
	return nil
}

func (c *amd64Compiler) compileLoadFPRelativeDouble(o *ir.OperationLoadFPRelativeDouble) error {
	c.assembler.CompileMemoryToRegister(amd64.MOVSD, amd64.REG_BP, frameMem(o.From), double(o.To))
	return nil
}

func (c *amd64Compiler) compileStoreFPRelativeDouble(o *ir.OperationStoreFPRelativeDouble) error {
	c.assembler.CompileRegisterToMemory(amd64.MOVSD, double(o.From), amd64.REG_BP, frameMem(o.To))
	return nil
}

func (c *amd64Compiler) compileLoadRBP(o *ir.OperationLoadRBP) error {
	c.assembler.CompileRegisterToRegister(amd64.MOVQ, amd64.REG_BP, gp(o.To))
	return nil
}

func (c *amd64Compiler) compileWriteRBP(o *ir.OperationWriteRBP) error {
	c.assembler.CompileRegisterToRegister(amd64.MOVQ, gp(o.From), amd64.REG_BP)
	return nil
}

func (c *amd64Compiler) compileLoadSP(o *ir.OperationLoadSP) error {
	c.assembler.CompileRegisterToRegister(amd64.MOVQ, amd64.REG_SP, gp(o.To))
	return nil
}

func (c *amd64Compiler) compileLoad(o *ir.OperationLoad) error {
	c.assembler.CompileMemoryToRegister(loadInstruction(o.Width), gp(o.FromAddress), 0, gp(o.To))
	return nil
}

func (c *amd64Compiler) compileStore(o *ir.OperationStore) error {
	c.assembler.CompileRegisterToMemory(storeInstruction(o.Size), gp(o.From), gp(o.ToAddress), 0)
	return nil
}

// compileConst16bit zero extends the constant to the whole register.
func (c *amd64Compiler) compileConst16bit(o *ir.OperationConst16bit) error {
	c.assembler.CompileConstToRegister(amd64.MOVL, int64(o.Const), gp(o.To))
	return nil
}

func (c *amd64Compiler) compileConst32bit(o *ir.OperationConst32bit) error {
	c.assembler.CompileConstToRegister(amd64.MOVL, int64(int32(o.Const)), gp(o.To))
	return nil
}

func (c *amd64Compiler) compileConst64bit(o *ir.OperationConst64bit) error {
	c.assembler.CompileConstToRegister(amd64.MOVQ, imm(o.Const), gp(o.To))
	return nil
}

func (c *amd64Compiler) compileCopyRegister(o *ir.OperationCopyRegister) error {
	c.assembler.CompileRegisterToRegister(amd64.MOVQ, gp(o.From), gp(o.To))
	return nil
}

type extension struct {
	from, to ir.Size
}

var signExtensions = map[extension]asm.Instruction{
	{ir.SizeByte, ir.SizeShort}: amd64.MOVBLSX,
	{ir.SizeByte, ir.SizeInt}:   amd64.MOVBLSX,
	{ir.SizeByte, ir.SizeLong}:  amd64.MOVBQSX,
	{ir.SizeShort, ir.SizeInt}:  amd64.MOVWLSX,
	{ir.SizeShort, ir.SizeLong}: amd64.MOVWQSX,
	{ir.SizeInt, ir.SizeLong}:   amd64.MOVLQSX,
}

var zeroExtensions = map[extension]asm.Instruction{
	{ir.SizeByte, ir.SizeShort}: amd64.MOVBLZX,
	{ir.SizeByte, ir.SizeInt}:   amd64.MOVBLZX,
	{ir.SizeByte, ir.SizeLong}:  amd64.MOVBQZX,
	{ir.SizeShort, ir.SizeInt}:  amd64.MOVWLZX,
	{ir.SizeShort, ir.SizeLong}: amd64.MOVWQZX,
	{ir.SizeInt, ir.SizeLong}:   amd64.MOVLQZX,
}

func (c *amd64Compiler) compileSignExtend(o *ir.OperationSignExtend) error {
	inst, ok := signExtensions[extension{o.FromSize, o.ToSize}]
	if !ok {
		return fmt.Errorf("cannot sign extend %s to %s", o.FromSize, o.ToSize)
	}
	c.assembler.CompileRegisterToRegister(inst, gp(o.From), gp(o.To))
	return nil
}

func (c *amd64Compiler) compileZeroExtend(o *ir.OperationZeroExtend) error {
	inst, ok := zeroExtensions[extension{o.FromSize, o.ToSize}]
	if !ok {
		return fmt.Errorf("cannot zero extend %s to %s", o.FromSize, o.ToSize)
	}
	c.assembler.CompileRegisterToRegister(inst, gp(o.From), gp(o.To))
	return nil
}

// compileReturn releases the frame and jumps to the return address in its header. The
// caller's frame pointer is restored from the header as well.
func (c *amd64Compiler) compileReturn(o *ir.OperationReturn) error {
	if o.FrameSize < frame.HeaderSize {
		return fmt.Errorf("invalid frame size %d", o.FrameSize)
	}
	if o.ReturnVal != nil {
		if o.Temp == rax {
			return fmt.Errorf("temp register %s holds the return value", o.Temp)
		}
		if *o.ReturnVal != rax {
			c.assembler.CompileRegisterToRegister(amd64.MOVQ, gp(*o.ReturnVal), amd64.REG_AX)
		}
	}
	temp := gp(o.Temp)
	c.assembler.CompileMemoryToRegister(amd64.MOVQ, amd64.REG_BP, frameMem(frame.PrevRIPOffset), temp)
	c.assembler.CompileMemoryToRegister(amd64.MOVQ, amd64.REG_BP, frameMem(frame.PrevRBPOffset), amd64.REG_BP)
	c.assembler.CompileConstToRegister(amd64.ADDQ, int64(o.FrameSize), amd64.REG_SP)
	c.assembler.CompileJumpToRegister(amd64.JMP, temp)
	return nil
}

// compileIRCall lays out the callee frame right below the current one, the same way
// frame.Stack.PushFrame does, and jumps to the callee. The callee returns to the NOP
// emitted after the jump.
func (c *amd64Compiler) compileIRCall(o *ir.OperationIRCall) error {
	if o.CurrentFrameSize < frame.HeaderSize {
		return fmt.Errorf("invalid frame size %d", o.CurrentFrameSize)
	}
	if err := distinct(o.Temp1, o.Temp2); err != nil {
		return err
	}
	newRBP, temp := gp(o.Temp1), gp(o.Temp2)

	var variable *ir.VariableCallTarget
	switch t := o.Target.(type) {
	case ir.ConstantCallTarget:
		if t.NewFrameSize < frame.HeaderSize {
			return fmt.Errorf("invalid callee frame size %d", t.NewFrameSize)
		}
	case ir.VariableCallTarget:
		for _, r := range []ir.Register{t.Address, t.IRMethodID, t.MethodID, t.NewFrameSize} {
			if r == o.Temp1 || r == o.Temp2 {
				return fmt.Errorf("temp register %s holds the call target", r)
			}
		}
		variable = &t
	default:
		return fmt.Errorf("unknown call target %T", o.Target)
	}

	c.assembler.CompileMemoryToRegister(amd64.LEAQ, amd64.REG_BP, -int64(o.CurrentFrameSize), newRBP)

	c.assembler.CompileConstToRegister(amd64.MOVQ, imm(frame.Magic1), temp)
	c.assembler.CompileRegisterToMemory(amd64.MOVQ, temp, newRBP, frameMem(frame.Magic1Offset))
	c.assembler.CompileConstToRegister(amd64.MOVQ, imm(frame.Magic2), temp)
	c.assembler.CompileRegisterToMemory(amd64.MOVQ, temp, newRBP, frameMem(frame.Magic2Offset))
	c.assembler.CompileRegisterToMemory(amd64.MOVQ, amd64.REG_BP, newRBP, frameMem(frame.PrevRBPOffset))
	returnAddress := c.assembler.CompileReadInstructionAddress(temp)
	c.assembler.CompileRegisterToMemory(amd64.MOVQ, temp, newRBP, frameMem(frame.PrevRIPOffset))

	if variable != nil {
		c.assembler.CompileRegisterToMemory(amd64.MOVQ, gp(variable.IRMethodID), newRBP, frameMem(frame.IRMethodIDOffset))
		c.assembler.CompileRegisterToMemory(amd64.MOVQ, gp(variable.MethodID), newRBP, frameMem(frame.MethodIDOffset))
	} else {
		t := o.Target.(ir.ConstantCallTarget)
		c.assembler.CompileConstToRegister(amd64.MOVQ, imm(uint64(t.IRMethodID)), temp)
		c.assembler.CompileRegisterToMemory(amd64.MOVQ, temp, newRBP, frameMem(frame.IRMethodIDOffset))
		c.assembler.CompileConstToRegister(amd64.MOVQ, imm(uint64(t.MethodID)), temp)
		c.assembler.CompileRegisterToMemory(amd64.MOVQ, temp, newRBP, frameMem(frame.MethodIDOffset))
	}

	for _, a := range o.Args {
		if a.To <= frame.HeaderSize {
			return fmt.Errorf("argument slot %d overlaps the callee frame header", a.To)
		}
		c.assembler.CompileMemoryToRegister(amd64.MOVQ, amd64.REG_BP, frameMem(a.From), temp)
		c.assembler.CompileRegisterToMemory(amd64.MOVQ, temp, newRBP, frameMem(a.To))
	}

	c.assembler.CompileRegisterToRegister(amd64.MOVQ, newRBP, amd64.REG_BP)
	if variable != nil {
		c.assembler.CompileRegisterToRegister(amd64.MOVQ, amd64.REG_BP, amd64.REG_SP)
		c.assembler.CompileRegisterToRegister(amd64.SUBQ, gp(variable.NewFrameSize), amd64.REG_SP)
		c.assembler.CompileJumpToRegister(amd64.JMP, gp(variable.Address))
	} else {
		t := o.Target.(ir.ConstantCallTarget)
		c.assembler.CompileMemoryToRegister(amd64.LEAQ, amd64.REG_BP, -int64(t.NewFrameSize), amd64.REG_SP)
		c.assembler.CompileConstToRegister(amd64.MOVQ, int64(t.Address), temp)
		c.assembler.CompileJumpToRegister(amd64.JMP, temp)
	}

	after := c.assembler.CompileStandAlone(amd64.NOP)
	returnAddress.AssignJumpTarget(after)
	if o.ReturnValue != nil {
		c.assembler.CompileRegisterToMemory(amd64.MOVQ, amd64.REG_AX, amd64.REG_BP, frameMem(*o.ReturnValue))
	}
	return nil
}
