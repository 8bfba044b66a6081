package golang_asm

import (
	"fmt"

	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"

	"github.com/jvmjit/irvm/internal/asm"
)

// GolangAsmNode implements Node for golang-asm library.
type GolangAsmNode struct {
	prog *obj.Prog
	// addressTarget is non-nil for the nodes which read the absolute address of another node,
	// and holds the node whose address is read.
	addressTarget *GolangAsmNode
	readsAddress  bool
}

// NewGolangAsmNode wraps the given prog as asm.Node.
func NewGolangAsmNode(p *obj.Prog) *GolangAsmNode {
	return &GolangAsmNode{prog: p}
}

// NewGolangAsmAddressReadNode wraps the given prog as asm.Node whose jump target is the
// instruction whose address is read by p.
func NewGolangAsmAddressReadNode(p *obj.Prog) *GolangAsmNode {
	return &GolangAsmNode{prog: p, readsAddress: true}
}

// Prog returns the underlying golang-asm instruction.
func (n *GolangAsmNode) Prog() *obj.Prog {
	return n.prog
}

// AddressTarget returns the node whose address is read by this node, or nil.
func (n *GolangAsmNode) AddressTarget() *GolangAsmNode {
	return n.addressTarget
}

// String implements fmt.Stringer.
func (n *GolangAsmNode) String() string {
	return n.prog.String()
}

// OffsetInBinary implements Node.OffsetInBinary.
func (n *GolangAsmNode) OffsetInBinary() int64 {
	return n.prog.Pc
}

// Pseudo implements Node.Pseudo.
func (n *GolangAsmNode) Pseudo() bool {
	switch n.prog.As {
	case obj.ANOP, obj.APCDATA, obj.AFUNCDATA:
		return true
	}
	return false
}

// AssignJumpTarget implements Node.AssignJumpTarget.
func (n *GolangAsmNode) AssignJumpTarget(target asm.Node) {
	b := target.(*GolangAsmNode)
	if n.readsAddress {
		n.addressTarget = b
		return
	}
	n.prog.To.SetTarget(b.prog)
}

// GolangAsmBaseAssembler implements *part of* AssemblerBase for golang-asm library.
type GolangAsmBaseAssembler struct {
	b *goasm.Builder
	// nodes holds all the added nodes in emission order.
	nodes []asm.Node
	// setBranchTargetOnNextNodes holds branch kind instructions (BR, conditional BR, etc)
	// where we want to set the next coming instruction as the destination of these BR instructions.
	setBranchTargetOnNextNodes []asm.Node
	// onGenerateCallbacks holds the callbacks which are called after generating native code.
	onGenerateCallbacks []func(code []byte) error
}

// NewGolangAsmBaseAssembler returns the base assembler for the given golang-asm architecture name.
func NewGolangAsmBaseAssembler(arch string) (*GolangAsmBaseAssembler, error) {
	b, err := goasm.NewBuilder(arch, 1024)
	if err != nil {
		return nil, fmt.Errorf("failed to create a new assembly builder: %w", err)
	}
	return &GolangAsmBaseAssembler{b: b}, nil
}

// Assemble implements AssemblerBase.Assemble
func (a *GolangAsmBaseAssembler) Assemble() ([]byte, error) {
	if len(a.setBranchTargetOnNextNodes) > 0 {
		return nil, fmt.Errorf("%d jump(s) waiting for a target instruction which was never added", len(a.setBranchTargetOnNextNodes))
	}
	code := a.b.Assemble()
	for _, cb := range a.onGenerateCallbacks {
		if err := cb(code); err != nil {
			return nil, err
		}
	}
	return code, nil
}

// SetJumpTargetOnNext implements AssemblerBase.SetJumpTargetOnNext
func (a *GolangAsmBaseAssembler) SetJumpTargetOnNext(nodes ...asm.Node) {
	a.setBranchTargetOnNextNodes = append(a.setBranchTargetOnNextNodes, nodes...)
}

// Nodes implements AssemblerBase.Nodes
func (a *GolangAsmBaseAssembler) Nodes() []asm.Node {
	return a.nodes
}

// NodeCount implements AssemblerBase.NodeCount
func (a *GolangAsmBaseAssembler) NodeCount() int {
	return len(a.nodes)
}

// AddOnGenerateCallBack registers a callback invoked on the generated code after Assemble.
func (a *GolangAsmBaseAssembler) AddOnGenerateCallBack(cb func([]byte) error) {
	a.onGenerateCallbacks = append(a.onGenerateCallbacks, cb)
}

// AddInstruction is used in architecture specific assembler implementation for golang-asm.
func (a *GolangAsmBaseAssembler) AddInstruction(next *GolangAsmNode) {
	a.b.AddInstruction(next.prog)
	a.nodes = append(a.nodes, next)
	for _, node := range a.setBranchTargetOnNextNodes {
		node.AssignJumpTarget(next)
	}
	a.setBranchTargetOnNextNodes = nil
}

// NewProg is used in architecture specific assembler implementation for golang-asm.
func (a *GolangAsmBaseAssembler) NewProg() (prog *obj.Prog) {
	prog = a.b.NewProg()
	return
}
