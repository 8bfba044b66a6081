package amd64

import (
	"github.com/jvmjit/irvm/internal/asm"
)

// Assembler is the interface used by amd64 IR compiler.
type Assembler interface {
	asm.AssemblerBase
	// CompileRegisterToNone adds an instruction where source operand is the register `register`,
	// and there's no destination operand.
	CompileRegisterToNone(instruction asm.Instruction, register asm.Register)
	// CompileNoneToRegister adds an instruction where destination operand is the register `register`,
	// and there's no source operand.
	CompileNoneToRegister(instruction asm.Instruction, register asm.Register)
	// CompileRegisterToConst adds an instruction where source operand is the register `register`,
	// and the destination is the constant `value`. This is the operand order of comparisons with an immediate.
	CompileRegisterToConst(instruction asm.Instruction, register asm.Register, value int64) asm.Node
}

// NewAssembler returns the golang-asm backed Assembler.
func NewAssembler() (Assembler, error) {
	return newGolangAsmAssembler()
}
