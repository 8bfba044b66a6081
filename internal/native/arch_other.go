//go:build !amd64

package native

func jitcall(ctx *Context) {
	panic("unsupported GOARCH")
}

// Supported is true if native code can be executed on this architecture.
const Supported = false
