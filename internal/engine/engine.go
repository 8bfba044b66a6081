// Package engine owns compiled methods and runs them, handling the VM exits of native code
// until the outermost method returns.
package engine

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jvmjit/irvm/internal/codebuf"
	"github.com/jvmjit/irvm/internal/compiler"
	"github.com/jvmjit/irvm/internal/frame"
	"github.com/jvmjit/irvm/internal/ir"
	"github.com/jvmjit/irvm/internal/offsetindex"
)

// OpaqueID identifies a method known to the runtime which has no compiled code, such as a
// native method, yet needs an IRMethodID for its frames.
type OpaqueID uint64

// Config configures an IRVMState.
type Config struct {
	// CodeRegionSize is the size of the executable region all methods are installed in.
	CodeRegionSize int
	// MaxMethodSize limits the native code size of one method. Zero means no limit.
	MaxMethodSize int
	Logger        logrus.FieldLogger
}

// compiledMethod is one installed implementation of an IR method.
type compiledMethod struct {
	id         codebuf.CompiledMethodID
	irMethodID ir.IRMethodID
	addresses  codebuf.AddressRange
	index      *offsetindex.Index
	// restartPoints maps restart points to the instruction following their marker.
	restartPoints map[ir.RestartPointID]ir.IRInstructIndex
}

// location returns the address of the first native instruction of the IR instruction i.
func (m *compiledMethod) location(i ir.IRInstructIndex) uintptr {
	if int(i) < 0 || int(i) >= m.index.Len() {
		panic(fmt.Errorf("BUG: IR method %d has no instruction %d", m.irMethodID, i))
	}
	return m.addresses.Start + uintptr(m.index.Offset(i))
}

// offset returns the offset of ip within the code of m.
func (m *compiledMethod) offset(ip uintptr) offsetindex.NativeOffset {
	return offsetindex.NativeOffset(ip - m.addresses.Start)
}

// IRVMState is the execution engine. It is safe for concurrent use: methods may be added
// while others run on other goroutines.
type IRVMState struct {
	code          *codebuf.Buffer
	logger        logrus.FieldLogger
	maxMethodSize int

	// mux guards the fields below.
	mux    sync.RWMutex
	nextID ir.IRMethodID
	// topLevelExitID is the method native code returns to when the outermost method returns.
	topLevelExitID  ir.IRMethodID
	topLevelExitSet bool
	// current maps each IR method to the implementation new calls enter.
	current    map[ir.IRMethodID]*compiledMethod
	compiled   map[codebuf.CompiledMethodID]*compiledMethod
	frameSizes map[ir.IRMethodID]int
	handlers   map[ir.IRMethodID]ExitHandler
	opaque     map[OpaqueID]ir.IRMethodID
}

// New returns an IRVMState with an empty code region.
func New(cfg Config) (*IRVMState, error) {
	if cfg.MaxMethodSize < 0 {
		return nil, fmt.Errorf("invalid maximum method size %d", cfg.MaxMethodSize)
	}
	code, err := codebuf.New(cfg.CodeRegionSize)
	if err != nil {
		return nil, fmt.Errorf("creating the code buffer: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = discardLogger()
	}
	return &IRVMState{
		code:          code,
		logger:        logger,
		maxMethodSize: cfg.MaxMethodSize,
		nextID:        1,
		current:       map[ir.IRMethodID]*compiledMethod{},
		compiled:      map[codebuf.CompiledMethodID]*compiledMethod{},
		frameSizes:    map[ir.IRMethodID]int{},
		handlers:      map[ir.IRMethodID]ExitHandler{},
		opaque:        map[OpaqueID]ir.IRMethodID{},
	}, nil
}

// Close releases the code region. No method may run afterwards.
func (s *IRVMState) Close() error {
	return s.code.Close()
}

// CompileFunction compiles and installs a new method whose frames are frameSize bytes, and
// whose VM exits are handled by handler. It returns the IR method and its restart points.
// Nothing is registered when it fails.
func (s *IRVMState) CompileFunction(instructions []ir.Operation, frameSize int, handler ExitHandler) (ir.IRMethodID, map[ir.RestartPointID]ir.IRInstructIndex, error) {
	if frameSize < frame.HeaderSize {
		return 0, nil, fmt.Errorf("frame size %d is smaller than the frame header", frameSize)
	}
	if handler == nil {
		panic(fmt.Errorf("BUG: nil exit handler"))
	}

	s.mux.Lock()
	defer s.mux.Unlock()
	id := s.nextID
	m, err := s.compile(id, instructions)
	if err != nil {
		return 0, nil, err
	}
	s.nextID++
	s.current[id] = m
	s.frameSizes[id] = frameSize
	s.handlers[id] = handler
	return id, m.restartPoints, nil
}

// AddFunction is CompileFunction for methods which are known to compile. It panics on error.
func (s *IRVMState) AddFunction(instructions []ir.Operation, frameSize int, handler ExitHandler) (ir.IRMethodID, map[ir.RestartPointID]ir.IRInstructIndex) {
	id, restartPoints, err := s.CompileFunction(instructions, frameSize, handler)
	if err != nil {
		panic(err)
	}
	return id, restartPoints
}

// CompileFunctionImplementation compiles instructions as the new implementation of the
// method id. Calls made from now on enter the new code, while frames already executing the
// previous code keep running it. The previous code stays current when it fails.
func (s *IRVMState) CompileFunctionImplementation(id ir.IRMethodID, instructions []ir.Operation) (map[ir.RestartPointID]ir.IRInstructIndex, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.current[id]; !ok {
		return nil, fmt.Errorf("IR method %d has no compiled code to replace", id)
	}
	m, err := s.compile(id, instructions)
	if err != nil {
		return nil, err
	}
	s.current[id] = m
	return m.restartPoints, nil
}

// AddFunctionImplementation is CompileFunctionImplementation panicking on error.
func (s *IRVMState) AddFunctionImplementation(id ir.IRMethodID, instructions []ir.Operation) map[ir.RestartPointID]ir.IRInstructIndex {
	restartPoints, err := s.CompileFunctionImplementation(id, instructions)
	if err != nil {
		panic(err)
	}
	return restartPoints
}

// compile compiles and installs one implementation of id. The caller holds the write lock.
func (s *IRVMState) compile(id ir.IRMethodID, instructions []ir.Operation) (*compiledMethod, error) {
	r, err := compiler.Compile(instructions)
	if err != nil {
		return nil, fmt.Errorf("compiling IR method %d: %w", id, err)
	}
	if s.maxMethodSize > 0 && len(r.Code) > s.maxMethodSize {
		return nil, fmt.Errorf("IR method %d compiled to %d bytes, more than the maximum of %d", id, len(r.Code), s.maxMethodSize)
	}
	base, err := s.code.ReserveBaseAddress(len(r.Code))
	if err != nil {
		return nil, fmt.Errorf("installing IR method %d: %w", id, err)
	}
	cid, err := s.code.Install(r.Code, base)
	if err != nil {
		return nil, fmt.Errorf("installing IR method %d: %w", id, err)
	}
	m := &compiledMethod{
		id:            cid,
		irMethodID:    id,
		addresses:     s.code.LookupMethodAddresses(cid),
		index:         r.Index,
		restartPoints: r.RestartPoints,
	}
	s.compiled[cid] = m

	l := s.logger.WithFields(logrus.Fields{
		"ir_method":       id,
		"compiled_method": cid,
		"base":            fmt.Sprintf("%#x", m.addresses.Start),
		"size":            len(r.Code),
	})
	l.Debug("installed method")
	if traceEnabled(s.logger) {
		l.Debug("\n" + r.Disassemble(m.addresses.Start))
	}
	return m, nil
}

// InitTopLevelExitID designates the method native code returns to once the outermost method
// returns. It must be called exactly once.
func (s *IRVMState) InitTopLevelExitID(id ir.IRMethodID) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.topLevelExitSet {
		panic(fmt.Errorf("BUG: top level exit method already set to %d", s.topLevelExitID))
	}
	if _, ok := s.current[id]; !ok {
		panic(fmt.Errorf("BUG: top level exit method %d has no compiled code", id))
	}
	s.topLevelExitID, s.topLevelExitSet = id, true
}

// TopLevelExitID returns the method set with InitTopLevelExitID.
func (s *IRVMState) TopLevelExitID() (ir.IRMethodID, bool) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.topLevelExitID, s.topLevelExitSet
}

// isTopLevelExit is called with the lock held.
func (s *IRVMState) isTopLevelExit(id ir.IRMethodID) bool {
	return s.topLevelExitSet && s.topLevelExitID == id
}

// FrameSize returns the size of the frames of the method id.
func (s *IRVMState) FrameSize(id ir.IRMethodID) int {
	s.mux.RLock()
	defer s.mux.RUnlock()
	size, ok := s.frameSizes[id]
	if !ok {
		panic(fmt.Errorf("BUG: unknown IR method %d", id))
	}
	return size
}

// LookupOpaqueIRMethodID returns the IR method standing for the opaque method, allocating
// it on first use. Its frames are frame.OpaqueFrameSize bytes.
func (s *IRVMState) LookupOpaqueIRMethodID(opaque OpaqueID) ir.IRMethodID {
	s.mux.RLock()
	id, ok := s.opaque[opaque]
	s.mux.RUnlock()
	if ok {
		return id
	}

	s.mux.Lock()
	defer s.mux.Unlock()
	if id, ok = s.opaque[opaque]; ok {
		return id
	}
	id = s.nextID
	s.nextID++
	s.opaque[opaque] = id
	s.frameSizes[id] = frame.OpaqueFrameSize
	return id
}

// currentMethod returns the implementation calls to id enter.
func (s *IRVMState) currentMethod(id ir.IRMethodID) *compiledMethod {
	s.mux.RLock()
	defer s.mux.RUnlock()
	m, ok := s.current[id]
	if !ok {
		panic(fmt.Errorf("BUG: IR method %d has no compiled code", id))
	}
	return m
}

// methodAt returns the implementation whose code contains ip.
func (s *IRVMState) methodAt(ip uintptr) (*compiledMethod, bool) {
	cid, ok := s.code.LookupIP(ip)
	if !ok {
		return nil, false
	}
	s.mux.RLock()
	defer s.mux.RUnlock()
	m, ok := s.compiled[cid]
	return m, ok
}

// LookupIP returns the IR instruction whose native code contains ip.
func (s *IRVMState) LookupIP(ip uintptr) (ir.IRMethodID, ir.IRInstructIndex) {
	m, ok := s.methodAt(ip)
	if !ok {
		panic(fmt.Errorf("BUG: %#x is not in compiled code", ip))
	}
	index, ok := m.index.Floor(m.offset(ip))
	if !ok {
		panic(fmt.Errorf("BUG: %#x precedes the code of IR method %d", ip, m.irMethodID))
	}
	return m.irMethodID, index
}

// LookupIRMethodIDPointer returns the entry address of the current implementation of id.
func (s *IRVMState) LookupIRMethodIDPointer(id ir.IRMethodID) uintptr {
	return s.currentMethod(id).addresses.Start
}

// LookupLocationOfIRInstruct returns the address of the IR instruction index in the current
// implementation of id.
func (s *IRVMState) LookupLocationOfIRInstruct(id ir.IRMethodID, index ir.IRInstructIndex) uintptr {
	return s.currentMethod(id).location(index)
}

// LookupRestartPoint returns the IR instruction execution restarts at for the restart point
// rp of the current implementation of id.
func (s *IRVMState) LookupRestartPoint(id ir.IRMethodID, rp ir.RestartPointID) ir.IRInstructIndex {
	m := s.currentMethod(id)
	index, ok := m.restartPoints[rp]
	if !ok {
		panic(fmt.Errorf("BUG: IR method %d has no restart point %d", id, rp))
	}
	return index
}
