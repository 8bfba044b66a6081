package asm

import "fmt"

// Register represents architecture-specific registers.
//
// The values are the register numbers of the underlying encoder so that no
// translation is needed when emitting instructions.
type Register int16

// NilRegister is the only architecture-independent register, and
// can be used to indicate that no register is specified.
const NilRegister Register = 0

// Instruction represents architecture-specific instructions.
type Instruction byte

// Node represents a node in the linked list of assembled operations.
type Node interface {
	fmt.Stringer
	// AssignJumpTarget assigns the given target node as the destination of
	// jump instruction for this Node. For nodes which read the address of
	// an instruction, the target is the instruction whose address is read.
	AssignJumpTarget(target Node)
	// OffsetInBinary returns the offset of this node in the assembled binary.
	// Only valid after AssemblerBase.Assemble returns.
	OffsetInBinary() int64
	// Pseudo returns true if this node does not produce any machine code.
	Pseudo() bool
}

// AssemblerBase is the common interface for assemblers among multiple architectures.
//
// Note: some of them can be implemented in a arch-independent way, but not all can be
// implemented as such. However, we intentionally put such arch-dependant methods here
// in order to provide the common documentation interface.
type AssemblerBase interface {
	// Assemble produces the final binary for the assembled operations.
	Assemble() ([]byte, error)
	// SetJumpTargetOnNext instructs the assembler that the next node must be
	// assigned to the given nodes's jump destination.
	SetJumpTargetOnNext(nodes ...Node)
	// Nodes returns all the nodes added so far in emission order.
	Nodes() []Node
	// NodeCount returns the number of nodes added so far.
	NodeCount() int
	// CompileStandAlone adds an instruction to take no arguments.
	CompileStandAlone(instruction Instruction) Node
	// CompileConstToRegister adds an instruction where source operand is `value` as constant and destination is `destinationReg` register.
	CompileConstToRegister(instruction Instruction, value int64, destinationReg Register) Node
	// CompileRegisterToRegister adds an instruction where source and destination operands are registers.
	CompileRegisterToRegister(instruction Instruction, from, to Register)
	// CompileMemoryToRegister adds an instruction where source operands is the memory address specified by `sourceBaseReg+sourceOffsetConst`
	// and the destination is `destinationReg` register.
	CompileMemoryToRegister(instruction Instruction, sourceBaseReg Register, sourceOffsetConst int64, destinationReg Register)
	// CompileRegisterToMemory adds an instruction where source operand is `sourceRegister` register and the destination is the
	// memory address specified by `destinationBaseRegister+destinationOffsetConst`.
	CompileRegisterToMemory(instruction Instruction, sourceRegister Register, destinationBaseRegister Register, destinationOffsetConst int64)
	// CompileJump adds jump-type instruction and returns the corresponding Node in the assembled linked list.
	CompileJump(jmpInstruction Instruction) Node
	// CompileJumpToRegister adds jump-type instruction whose destination is the memory address specified by `reg` register.
	CompileJumpToRegister(jmpInstruction Instruction, reg Register)
	// CompileReadInstructionAddress adds an instruction to set the absolute address of a target
	// instruction into destinationRegister. The target is assigned to the returned Node with
	// Node.AssignJumpTarget or AssemblerBase.SetJumpTargetOnNext.
	CompileReadInstructionAddress(destinationRegister Register) Node
}
