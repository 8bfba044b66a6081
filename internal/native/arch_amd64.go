package native

// jitcall enters the native code at ctx.Registers.RIP after loading every register from
// ctx, with r15 pointing to ctx. It returns once the native code performs a VM exit, which
// restores the stack and frame pointers saved in ctx and executes RET.
//
// Note: this is implemented in arch_amd64.s.
func jitcall(ctx *Context)

// Supported is true if native code can be executed on this architecture.
const Supported = true
