package vmexit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jvmjit/irvm/internal/ir"
	"github.com/jvmjit/irvm/internal/native"
)

func TestSpecs(t *testing.T) {
	all := Specs()
	require.Len(t, all, int(reasonEnd)-1)
	for i, spec := range all {
		spec := spec
		t.Run(spec.Name, func(t *testing.T) {
			require.Equal(t, Reason(i+1), spec.Reason)
			require.Equal(t, spec, Lookup(spec.Reason))

			used := map[ir.Register]Arg{}
			for _, a := range spec.Args {
				require.NotEqual(t, TagRegister, a.Register, ArgName(a.Arg))
				require.Less(t, a.Register, ir.Register(ir.RegisterCount))
				prev, ok := used[a.Register]
				require.False(t, ok, "%s and %s share %s", ArgName(prev), ArgName(a.Arg), a.Register)
				used[a.Register] = a.Arg
			}

			preserved := spec.Preserved()
			require.Contains(t, preserved, TagRegister)
			for _, a := range append(append([]ArgSpec{}, spec.Args...), spec.Results...) {
				require.Contains(t, preserved, a.Register)
			}
		})
	}
}

func TestLookup_unknown(t *testing.T) {
	require.Panics(t, func() { Lookup(0) })
	require.Panics(t, func() { Lookup(reasonEnd) })
	require.Equal(t, "Reason(0)", ReasonName(0))
	require.Equal(t, "Echo", ReasonName(Echo))
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		exit   ir.VMExit
		expErr string
	}{
		{
			name: "ok",
			exit: ir.VMExit{Reason: Echo, Args: []ir.ExitArg{Bind(ArgValue, ir.Const(1)), Bind(ArgRestartIP, ir.RestartIP())}},
		},
		{
			name:   "unknown reason",
			exit:   ir.VMExit{Reason: 1000},
			expErr: "unknown vm exit reason 1000",
		},
		{
			name:   "missing",
			exit:   ir.VMExit{Reason: Echo, Args: []ir.ExitArg{Bind(ArgValue, ir.Const(1))}},
			expErr: "Echo argument RESTART_IP is not bound",
		},
		{
			name: "twice",
			exit: ir.VMExit{Reason: Echo, Args: []ir.ExitArg{
				Bind(ArgValue, ir.Const(1)), Bind(ArgValue, ir.Const(2)), Bind(ArgRestartIP, ir.RestartIP()),
			}},
			expErr: "Echo argument VALUE bound twice",
		},
		{
			name:   "foreign",
			exit:   ir.VMExit{Reason: NPE, Args: []ir.ExitArg{Bind(ArgJavaPC, ir.Const(1)), Bind(ArgValue, ir.Const(1))}},
			expErr: "NPE has no argument VALUE",
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.exit)
			if tc.expErr == "" {
				require.NoError(t, err)
			} else {
				require.EqualError(t, err, tc.expErr)
			}
		})
	}
}

func TestBuilders(t *testing.T) {
	// Every builder must produce a valid exit, which New checks by panicking otherwise.
	exits := []ir.VMExit{
		NewAllocateObjectArray(ir.FromRegister(1), 7, 64, 3),
		NewMultiAllocateObjectArray(64, 7, 2, 72, 3),
		NewAllocateObject(7, 64, 3),
		NewLoadClassAndRecompile(7, 1, 2, 3),
		NewInitClassAndRecompile(7, 1, 2, 3),
		NewRunStaticNative(1, 64, 2, 72, 3),
		NewTopLevelReturn(0),
		NewCompileFunctionAndRecompileCurrent(1, 2, 3, 4),
		NewNPE(3),
		NewPutStatic(1, 64, 3),
		NewGetStatic(1, 7, 64, 3),
		NewLogFramePointerOffsetValue(64, 3),
		NewLogWholeFrame(3),
		NewTraceInstructionBefore(1, 2, 3),
		NewTraceInstructionAfter(1, 2, 3),
		NewNewString(1, 64, 3),
		NewNewClass(7, 64, 3),
		NewInvokeVirtualResolve(64, 1, 72, 2, 3, 4),
		NewInvokeInterfaceResolve(64, 1, 72, 3, 4),
		NewMonitorEnter(1, 3),
		NewMonitorExit(1, 3),
		NewThrow(64, 3),
		NewInstanceOf(64, 72, 7, 3),
		NewCheckCast(64, 7, 3),
		NewRunNativeVirtual(1, 64, 72, 3),
		NewRunNativeSpecial(1, 64, 72, 3),
		NewTodo(),
		NewRunStaticNativeNew(1),
		NewRunSpecialNativeNew(1),
		NewBeforeReturn(128, 3),
		NewArrayOutOfBounds(1, 2, 3),
		NewEcho(ir.Const(1)),
	}
	seen := map[Reason]bool{}
	for _, e := range exits {
		require.NoError(t, Validate(e))
		seen[e.Reason] = true
	}
	require.Len(t, seen, int(reasonEnd)-1)

	require.Panics(t, func() { New(Echo) })
}

// encode writes the constant arguments of e into regs the way the generated exit sequence does.
func encode(t *testing.T, e ir.VMExit, regs *native.SavedRegisters) {
	spec := Lookup(e.Reason)
	regs.Set(native.SlotOf(TagRegister), uint64(e.Reason))
	for _, a := range e.Args {
		s, ok := spec.Arg(a.Name)
		require.True(t, ok)
		var v uint64
		switch a.Source.Kind {
		case ir.ExitSourceConst:
			v = a.Source.Const
		default:
			v = 0x1000 + uint64(a.Name)
		}
		regs.Set(native.SlotOf(s.Register), v)
	}
}

func TestDecode(t *testing.T) {
	for _, tc := range []struct {
		exit ir.VMExit
		exp  Input
	}{
		{
			exit: NewAllocateObjectArray(ir.FromRegister(1), 7, 64, 3),
			exp: AllocateObjectArrayInput{withPC: withPC{3}, Len: int32(0x1000 + uint64(ArgLen)), Type: 7,
				ResPtr: 0x1000 + uintptr(ArgResPtr), RestartIP: 0x1000 + uintptr(ArgRestartIP)},
		},
		{
			exit: NewInitClassAndRecompile(7, 1, 2, 3),
			exp:  RecompileInput{withPC: withPC{3}, reason: InitClassAndRecompile, CPDTypeID: 7, ToRecompile: 1, RestartPoint: 2},
		},
		{
			exit: NewTopLevelReturn(0),
			exp:  TopLevelReturnInput{ReturnValue: 0x1000 + uint64(ArgRes)},
		},
		{
			exit: NewNPE(12),
			exp:  NPEInput{withPC: withPC{12}},
		},
		{
			exit: NewInvokeVirtualResolve(64, 5, 72, 9, 4, 3),
			exp: InvokeVirtualResolveInput{withPC: withPC{3}, ObjectRefPtr: 0x1000 + uintptr(ArgObjectRefPtr),
				RestartIP: 0x1000 + uintptr(ArgRestartIP), MethodNumber: 5, NativeReturnPtr: 0x1000 + uintptr(ArgNativeReturnPtr),
				MethodShapeID: 9, NativeRestartPoint: 4},
		},
		{
			exit: NewMonitorExit(1, 3),
			exp: MonitorInput{withPC: withPC{3}, reason: MonitorExit, ObjAddr: 0x1000 + uintptr(ArgObjAddr),
				RestartIP: 0x1000 + uintptr(ArgRestartIP)},
		},
		{
			exit: NewRunSpecialNativeNew(11),
			exp:  RunNativeNewInput{reason: RunSpecialNativeNew, MethodID: 11, RestartIP: 0x1000 + uintptr(ArgRestartIP)},
		},
		{
			exit: NewTodo(),
			exp:  TodoInput{},
		},
		{
			exit: NewEcho(ir.Const(42)),
			exp:  EchoInput{Value: 42, RestartIP: 0x1000 + uintptr(ArgRestartIP)},
		},
	} {
		tc := tc
		t.Run(ReasonName(tc.exit.Reason), func(t *testing.T) {
			var regs native.SavedRegisters
			encode(t, tc.exit, &regs)
			actual := Decode(&regs)
			require.Equal(t, tc.exp, actual)
			require.Equal(t, tc.exit.Reason, actual.Reason())
		})
	}
}

func TestDecode_ArrayOutOfBounds(t *testing.T) {
	var regs native.SavedRegisters
	regs.Set(native.SlotRAX, uint64(ArrayOutOfBounds))
	regs.Set(native.SlotRCX, uint64(0xffffffff)) // INDEX is rcx, -1 as an int32
	regs.Set(native.SlotRDX, 10)
	regs.Set(native.SlotR8, 77)
	in := Decode(&regs).(ArrayOutOfBoundsInput)
	require.Equal(t, int32(-1), in.Index)
	require.Equal(t, int32(10), in.Length)
	pc, ok := in.PC()
	require.True(t, ok)
	require.Equal(t, ByteCodeOffset(77), pc)
}

func TestDecode_corrupt(t *testing.T) {
	var regs native.SavedRegisters
	regs.Set(native.SlotRAX, 0xdead)
	require.Panics(t, func() { Decode(&regs) })
}

func TestEncodeResolvedTarget(t *testing.T) {
	var diff native.SavedRegistersDiff
	EncodeResolvedTarget(InvokeInterfaceResolve, ResolvedTarget{Address: 0x1000, IRMethodID: 2, MethodID: 3, NewFrameSize: 128}, &diff)
	for _, tc := range []struct {
		slot native.Slot
		exp  uint64
	}{
		{slot: native.SlotR8, exp: 0x1000},
		{slot: native.SlotR9, exp: 2},
		{slot: native.SlotR10, exp: 3},
		{slot: native.SlotR11, exp: 128},
	} {
		v, ok := diff.Get(tc.slot)
		require.True(t, ok, tc.slot.String())
		require.Equal(t, tc.exp, v, tc.slot.String())
	}
	require.Panics(t, func() { EncodeResolvedTarget(Echo, ResolvedTarget{}, &diff) })
}
