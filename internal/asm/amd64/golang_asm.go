package amd64

import (
	"encoding/binary"
	"fmt"

	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/jvmjit/irvm/internal/asm"
	"github.com/jvmjit/irvm/internal/asm/golang_asm"
)

// assemblerGoAsmImpl implements Assembler for golang-asm library.
type assemblerGoAsmImpl struct {
	*golang_asm.GolangAsmBaseAssembler
}

var _ Assembler = &assemblerGoAsmImpl{}

func newGolangAsmAssembler() (*assemblerGoAsmImpl, error) {
	g, err := golang_asm.NewGolangAsmBaseAssembler("amd64")
	if err != nil {
		return nil, err
	}
	return &assemblerGoAsmImpl{g}, nil
}

func (a *assemblerGoAsmImpl) as(inst asm.Instruction) obj.As {
	as, ok := castAsGolangAsmInstruction[inst]
	if !ok {
		panic(fmt.Sprintf("BUG: unsupported instruction %d", inst))
	}
	return as
}

func (a *assemblerGoAsmImpl) add(p *obj.Prog) *golang_asm.GolangAsmNode {
	n := golang_asm.NewGolangAsmNode(p)
	a.AddInstruction(n)
	return n
}

// CompileStandAlone implements asm.AssemblerBase.CompileStandAlone.
func (a *assemblerGoAsmImpl) CompileStandAlone(inst asm.Instruction) asm.Node {
	p := a.NewProg()
	if raw, ok := rawBytes[inst]; ok {
		p.As = x86.ABYTE
		p.From.Type = obj.TYPE_CONST
		p.From.Offset = raw
	} else {
		p.As = a.as(inst)
	}
	return a.add(p)
}

// CompileRegisterToRegister implements asm.AssemblerBase.CompileRegisterToRegister.
func (a *assemblerGoAsmImpl) CompileRegisterToRegister(inst asm.Instruction, from, to asm.Register) {
	p := a.NewProg()
	p.As = a.as(inst)
	p.To.Type = obj.TYPE_REG
	p.To.Reg = int16(to)
	p.From.Type = obj.TYPE_REG
	p.From.Reg = int16(from)
	a.add(p)
}

// CompileRegisterToMemory implements asm.AssemblerBase.CompileRegisterToMemory.
func (a *assemblerGoAsmImpl) CompileRegisterToMemory(inst asm.Instruction, sourceRegister asm.Register, destinationBaseRegister asm.Register, destinationOffsetConst int64) {
	p := a.NewProg()
	p.As = a.as(inst)
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = int16(destinationBaseRegister)
	p.To.Offset = destinationOffsetConst
	p.From.Type = obj.TYPE_REG
	p.From.Reg = int16(sourceRegister)
	a.add(p)
}

// CompileConstToRegister implements asm.AssemblerBase.CompileConstToRegister.
func (a *assemblerGoAsmImpl) CompileConstToRegister(inst asm.Instruction, constValue int64, destinationRegister asm.Register) asm.Node {
	p := a.NewProg()
	p.As = a.as(inst)
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = constValue
	p.To.Type = obj.TYPE_REG
	p.To.Reg = int16(destinationRegister)
	return a.add(p)
}

// CompileRegisterToNone implements Assembler.CompileRegisterToNone.
func (a *assemblerGoAsmImpl) CompileRegisterToNone(inst asm.Instruction, register asm.Register) {
	p := a.NewProg()
	p.As = a.as(inst)
	p.From.Type = obj.TYPE_REG
	p.From.Reg = int16(register)
	p.To.Type = obj.TYPE_NONE
	a.add(p)
}

// CompileNoneToRegister implements Assembler.CompileNoneToRegister.
func (a *assemblerGoAsmImpl) CompileNoneToRegister(inst asm.Instruction, register asm.Register) {
	p := a.NewProg()
	p.As = a.as(inst)
	p.To.Type = obj.TYPE_REG
	p.To.Reg = int16(register)
	p.From.Type = obj.TYPE_NONE
	a.add(p)
}

// CompileRegisterToConst implements Assembler.CompileRegisterToConst.
func (a *assemblerGoAsmImpl) CompileRegisterToConst(inst asm.Instruction, register asm.Register, value int64) asm.Node {
	p := a.NewProg()
	p.As = a.as(inst)
	p.From.Type = obj.TYPE_REG
	p.From.Reg = int16(register)
	p.To.Type = obj.TYPE_CONST
	p.To.Offset = value
	return a.add(p)
}

// CompileMemoryToRegister implements asm.AssemblerBase.CompileMemoryToRegister.
func (a *assemblerGoAsmImpl) CompileMemoryToRegister(inst asm.Instruction, sourceBaseReg asm.Register, sourceOffsetConst int64, destinationReg asm.Register) {
	p := a.NewProg()
	p.As = a.as(inst)
	p.From.Type = obj.TYPE_MEM
	p.From.Reg = int16(sourceBaseReg)
	p.From.Offset = sourceOffsetConst
	p.To.Type = obj.TYPE_REG
	p.To.Reg = int16(destinationReg)
	a.add(p)
}

// CompileJump implements asm.AssemblerBase.CompileJump.
func (a *assemblerGoAsmImpl) CompileJump(inst asm.Instruction) asm.Node {
	p := a.NewProg()
	p.As = a.as(inst)
	p.To.Type = obj.TYPE_BRANCH
	return a.add(p)
}

// CompileJumpToRegister implements asm.AssemblerBase.CompileJumpToRegister.
func (a *assemblerGoAsmImpl) CompileJumpToRegister(inst asm.Instruction, reg asm.Register) {
	p := a.NewProg()
	p.As = a.as(inst)
	p.To.Type = obj.TYPE_REG
	p.To.Reg = int16(reg)
	a.add(p)
}

// leaRIPInstructionLength is the length of "LEA destination [RIP + offset]" with 32-bit displacement.
const leaRIPInstructionLength = 7

// CompileReadInstructionAddress implements asm.AssemblerBase.CompileReadInstructionAddress.
func (a *assemblerGoAsmImpl) CompileReadInstructionAddress(destinationRegister asm.Register) asm.Node {
	// Emit the instruction in the form of "LEA destination [RIP + offset]".
	p := a.NewProg()
	p.As = x86.ALEAQ
	p.To.Reg = int16(destinationRegister)
	p.To.Type = obj.TYPE_REG
	p.From.Type = obj.TYPE_MEM
	// We use place holder here as we don't yet know at this point the offset of the target.
	// The value must not fit in 8 bits so that the 32-bit displacement form is chosen.
	p.From.Offset = 0xffff
	// Since the assembler cannot directly emit "LEA destination [RIP + offset]", we use the some hack here:
	// We intentionally use x86.REG_BP here so that the resulting instruction sequence becomes
	// exactly the same as "LEA destination [RIP + offset]" except the most significant bit of the third byte.
	// We do the rewrite in the callback which is invoked after the assembler emitted the code.
	p.From.Reg = x86.REG_BP

	n := golang_asm.NewGolangAsmAddressReadNode(p)
	a.AddInstruction(n)

	a.AddOnGenerateCallBack(func(code []byte) error {
		target := n.AddressTarget()
		if target == nil {
			return fmt.Errorf("target instruction not found for read instruction address")
		}
		pc := p.Pc
		if code[pc+1] != 0x8d {
			return fmt.Errorf("unexpected encoding of LEA at %#x: %#x", pc, code[pc:pc+leaRIPInstructionLength])
		}
		// RIP points to the instruction right after LEA. We don't use p.Link.Pc here
		// because the assembler may insert padding before the next instruction.
		offset := int32(target.OffsetInBinary() - (pc + leaRIPInstructionLength))

		// Replace the placeholder bytes by the actual offset.
		binary.LittleEndian.PutUint32(code[pc+3:], uint32(offset))

		// See the comment at p.From.Reg above. Here we drop the most significant bit of the third byte of the LEA instruction.
		code[pc+2] &= 0b01111111
		return nil
	})
	return n
}
