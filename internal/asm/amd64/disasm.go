package amd64

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Disassemble renders the given machine code in Intel syntax, one instruction per line,
// prefixed by the offset relative to base.
func Disassemble(code []byte, base uint64) string {
	var sb strings.Builder
	for offset := 0; offset < len(code); {
		inst, err := x86asm.Decode(code[offset:], 64)
		if err != nil || inst.Len == 0 {
			fmt.Fprintf(&sb, "0x%04x: %-16s db 0x%02x\n", base+uint64(offset), fmt.Sprintf("%02x", code[offset]), code[offset])
			offset++
			continue
		}
		raw := code[offset : offset+inst.Len]
		fmt.Fprintf(&sb, "0x%04x: %-16s %s\n", base+uint64(offset), fmt.Sprintf("%x", raw), x86asm.IntelSyntax(inst, base+uint64(offset), nil))
		offset += inst.Len
	}
	return sb.String()
}

// DecodeAt decodes the single instruction at offset in code.
func DecodeAt(code []byte, offset int) (x86asm.Inst, error) {
	if offset < 0 || offset >= len(code) {
		return x86asm.Inst{}, fmt.Errorf("offset %d out of range [0, %d)", offset, len(code))
	}
	return x86asm.Decode(code[offset:], 64)
}
