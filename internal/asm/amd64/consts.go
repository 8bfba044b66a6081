package amd64

import (
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/jvmjit/irvm/internal/asm"
)

// AMD64-specific instructions.
//
// Note: This only defines amd64 instructions used by the IR compiler.
// Note: Naming conventions intentionally match the Go assembler: https://go.dev/doc/asm
// See https://www.felixcloutier.com/x86/index.html
const (
	NONE asm.Instruction = iota
	ADDL
	ADDQ
	ADDSD
	ADDSS
	ANDL
	ANDQ
	CDQ
	CMOVLCC
	CMOVLPS
	CMOVQCC
	CMOVQCS
	CMOVQGT
	CMOVQHI
	CMOVQLT
	CMOVQPS
	CMPL
	CMPQ
	CQO
	CVTPL2PD
	CVTPL2PS
	CVTSD2SS
	CVTSQ2SD
	CVTSQ2SS
	CVTSS2SD
	CVTTSD2SL
	CVTTSD2SQ
	CVTTSS2SL
	CVTTSS2SQ
	DIVL
	DIVQ
	DIVSD
	DIVSS
	IDIVL
	IDIVQ
	IMULL
	IMULQ
	INT3
	JCC
	JCS
	JEQ
	JGE
	JGT
	JHI
	JLT
	JMP
	JNE
	LEAQ
	MOVB
	MOVBLSX
	MOVBLZX
	MOVBQSX
	MOVBQZX
	MOVL
	MOVLQSX
	MOVLQZX
	MOVQ
	MOVSD
	MOVSS
	MOVW
	MOVWLSX
	MOVWLZX
	MOVWQSX
	MOVWQZX
	MULSD
	MULSS
	NEGL
	NEGQ
	NOP
	ORL
	ORQ
	RET
	RORL
	RORQ
	SARL
	SARQ
	SHLL
	SHLQ
	SHRL
	SHRQ
	SUBL
	SUBQ
	SUBSD
	SUBSS
	UCOMISD
	UCOMISS
	XCHGQ
	XORL
	XORPD
	XORPS
	XORQ

	// instructionEnd is always placed at the bottom of this iota definition to be used in the test.
	instructionEnd
)

// InstructionName returns the name for an instruction
func InstructionName(instruction asm.Instruction) string {
	if instruction == NOP {
		return "NOP"
	} else if instruction == INT3 {
		return "INT3"
	}
	if as, ok := castAsGolangAsmInstruction[instruction]; ok {
		return as.String()
	}
	return "UNKNOWN"
}

const (
	intRegisterIotaBegin   asm.Register = 2064
	floatRegisterIotaBegin asm.Register = 2108
)

// AMD64-specific registers.
//
// Note: naming convention intentionally matches the Go assembler: https://go.dev/doc/asm
// See https://www.lri.fr/~filliatr/ens/compil/x86-64.pdf
// See https://cs.brown.edu/courses/cs033/docs/guides/x64_cheatsheet.pdf
const (
	REG_AX asm.Register = intRegisterIotaBegin + iota
	REG_CX
	REG_DX
	REG_BX
	REG_SP
	REG_BP
	REG_SI
	REG_DI
	REG_R8
	REG_R9
	REG_R10
	REG_R11
	REG_R12
	REG_R13
	REG_R14
	REG_R15
)

const (
	REG_X0 asm.Register = floatRegisterIotaBegin + iota
	REG_X1
	REG_X2
	REG_X3
	REG_X4
	REG_X5
	REG_X6
	REG_X7
	REG_X8
	REG_X9
	REG_X10
	REG_X11
	REG_X12
	REG_X13
	REG_X14
	REG_X15
)

// IsIntRegister returns true if the given register is a general purpose register.
func IsIntRegister(r asm.Register) bool {
	return REG_AX <= r && r <= REG_R15
}

// IsFloatRegister returns true if the given register is a SSE register.
func IsFloatRegister(r asm.Register) bool {
	return REG_X0 <= r && r <= REG_X15
}

// RegisterName returns the name for a register
func RegisterName(reg asm.Register) string {
	return obj.Rconv(int(reg))
}

// rawBytes holds the stand-alone instructions which are emitted as raw bytes
// since golang-asm either has no mnemonic or treats the mnemonic as a pseudo instruction.
var rawBytes = map[asm.Instruction]int64{
	NOP:  0x90,
	INT3: 0xcc,
}

var castAsGolangAsmInstruction = map[asm.Instruction]obj.As{
	ADDL:      x86.AADDL,
	ADDQ:      x86.AADDQ,
	ADDSD:     x86.AADDSD,
	ADDSS:     x86.AADDSS,
	ANDL:      x86.AANDL,
	ANDQ:      x86.AANDQ,
	CDQ:       x86.ACDQ,
	CMOVLCC:   x86.ACMOVLCC,
	CMOVLPS:   x86.ACMOVLPS,
	CMOVQCC:   x86.ACMOVQCC,
	CMOVQCS:   x86.ACMOVQCS,
	CMOVQGT:   x86.ACMOVQGT,
	CMOVQHI:   x86.ACMOVQHI,
	CMOVQLT:   x86.ACMOVQLT,
	CMOVQPS:   x86.ACMOVQPS,
	CMPL:      x86.ACMPL,
	CMPQ:      x86.ACMPQ,
	CQO:       x86.ACQO,
	CVTPL2PD:  x86.ACVTPL2PD,
	CVTPL2PS:  x86.ACVTPL2PS,
	CVTSD2SS:  x86.ACVTSD2SS,
	CVTSQ2SD:  x86.ACVTSQ2SD,
	CVTSQ2SS:  x86.ACVTSQ2SS,
	CVTSS2SD:  x86.ACVTSS2SD,
	CVTTSD2SL: x86.ACVTTSD2SL,
	CVTTSD2SQ: x86.ACVTTSD2SQ,
	CVTTSS2SL: x86.ACVTTSS2SL,
	CVTTSS2SQ: x86.ACVTTSS2SQ,
	DIVL:      x86.ADIVL,
	DIVQ:      x86.ADIVQ,
	DIVSD:     x86.ADIVSD,
	DIVSS:     x86.ADIVSS,
	IDIVL:     x86.AIDIVL,
	IDIVQ:     x86.AIDIVQ,
	IMULL:     x86.AIMULL,
	IMULQ:     x86.AIMULQ,
	JCC:       x86.AJCC,
	JCS:       x86.AJCS,
	JEQ:       x86.AJEQ,
	JGE:       x86.AJGE,
	JGT:       x86.AJGT,
	JHI:       x86.AJHI,
	JLT:       x86.AJLT,
	JMP:       obj.AJMP,
	JNE:       x86.AJNE,
	LEAQ:      x86.ALEAQ,
	MOVB:      x86.AMOVB,
	MOVBLSX:   x86.AMOVBLSX,
	MOVBLZX:   x86.AMOVBLZX,
	MOVBQSX:   x86.AMOVBQSX,
	MOVBQZX:   x86.AMOVBQZX,
	MOVL:      x86.AMOVL,
	MOVLQSX:   x86.AMOVLQSX,
	MOVLQZX:   x86.AMOVLQZX,
	MOVQ:      x86.AMOVQ,
	MOVSD:     x86.AMOVSD,
	MOVSS:     x86.AMOVSS,
	MOVW:      x86.AMOVW,
	MOVWLSX:   x86.AMOVWLSX,
	MOVWLZX:   x86.AMOVWLZX,
	MOVWQSX:   x86.AMOVWQSX,
	MOVWQZX:   x86.AMOVWQZX,
	MULSD:     x86.AMULSD,
	MULSS:     x86.AMULSS,
	NEGL:      x86.ANEGL,
	NEGQ:      x86.ANEGQ,
	ORL:       x86.AORL,
	ORQ:       x86.AORQ,
	RET:       obj.ARET,
	RORL:      x86.ARORL,
	RORQ:      x86.ARORQ,
	SARL:      x86.ASARL,
	SARQ:      x86.ASARQ,
	SHLL:      x86.ASHLL,
	SHLQ:      x86.ASHLQ,
	SHRL:      x86.ASHRL,
	SHRQ:      x86.ASHRQ,
	SUBL:      x86.ASUBL,
	SUBQ:      x86.ASUBQ,
	SUBSD:     x86.ASUBSD,
	SUBSS:     x86.ASUBSS,
	UCOMISD:   x86.AUCOMISD,
	UCOMISS:   x86.AUCOMISS,
	XCHGQ:     x86.AXCHGQ,
	XORL:      x86.AXORL,
	XORPD:     x86.AXORPD,
	XORPS:     x86.AXORPS,
	XORQ:      x86.AXORQ,
}
