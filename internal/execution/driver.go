package execution

import (
	"fmt"

	"github.com/rechain/starknet-sequencer/internal/core"
)

// ExecuteEntryPointCall runs the 11-step algorithm of spec.md §4.1 against
// runner, driven from call and class. It is grounded directly on
// original_source/crates/blockifier/src/execution/entry_point_execution.rs.
//
// A failed = true CallInfo is a successful execution of a failing contract,
// not a Go error; only setup/VM/post-execution problems return an error.
func ExecuteEntryPointCall(runner CairoRunner, call EntryPointCall, class *core.CompiledClass, state StateProxy, ctx *ExecutionContext) (*core.CallInfo, error) {
	// 1. Resolve entry point.
	entryPoint, ok := class.EntryPoints[call.Selector]
	if !ok {
		return nil, fmt.Errorf("%w: selector %q in class %s", ErrEntryPointNotFound, call.Selector, class.ClassHash)
	}

	// 2. Initialize runner with the entry point's declared builtins, in order.
	builtinStacks, err := runner.InitializeFunctionRunner(entryPoint.Builtins)
	if err != nil {
		return nil, err
	}

	// 3. Append program extra data.
	if err := AppendProgramExtraData(runner, ctx.Constants); err != nil {
		return nil, err
	}

	// 4. Prepare call arguments.
	calldataSeg := runner.AddMemorySegment()
	callArgs := CallArgs{
		InitialGas:    call.InitialGas,
		SyscallPtr:    runner.AddMemorySegment(),
		CalldataStart: calldataSeg,
		CalldataEnd:   calldataSeg.Add(call.CalldataLen),
	}
	args, err := PrepareCallArguments(runner, entryPoint.Builtins, builtinStacks, callArgs)
	if err != nil {
		return nil, err
	}

	// 5. Run.
	if err := runner.RunFromEntrypoint(entryPoint.PC, args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCairoRun, err)
	}

	// 6. Fill range_check96 holes.
	allocationPtr := runner.GetAP()
	if err := FillRangeCheck96Holes(runner, allocationPtr, entryPoint.Builtins); err != nil {
		return nil, err
	}

	// 7. Secure-run verification.
	programSegmentSize := runner.ProgramDataLen() + ProgramExtraDataLength
	if err := runner.VerifySecureRun(programSegmentSize); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVirtualMachine, err)
	}

	// 8. Register visited PCs.
	visited := make(map[uint64]struct{})
	for _, entry := range runner.RelocatedTrace(programSegmentSize) {
		if entry.PC.Offset < 1 {
			continue
		}
		realPC := entry.PC.Offset - 1
		if realPC < uint64(len(class.Bytecode)) {
			visited[realPC] = struct{}{}
		}
	}
	state.AddVisitedPcs(class.ClassHash, visited)

	// 9. Mark accessed memory.
	programEnd := Relocatable{Segment: 0, Offset: runner.ProgramDataLen()}
	if err := runner.MarkAddressRangeAsAccessed(programEnd, ProgramExtraDataLength); err != nil {
		return nil, err
	}
	nTotalArgs := uint64(len(args))
	initialFP := callArgs.CalldataEnd // approximation: FP sits just past the argument vector
	if err := runner.MarkAddressRangeAsAccessed(initialFP.Sub(2+nTotalArgs), nTotalArgs); err != nil {
		return nil, err
	}

	// 10. Extract return values.
	retValues, err := runner.GetReturnValues(entryPointReturnValuesSize)
	if err != nil {
		return nil, err
	}
	remainingGas := retValues[0]
	failureFlag := retValues[2]
	retdataStart := retValues[3]
	retdataEnd := retValues[4]
	if failureFlag != 0 && failureFlag != 1 {
		return nil, fmt.Errorf("%w: failure flag %d not 0 or 1", ErrMalformedReturnData, failureFlag)
	}
	if remainingGas > call.InitialGas {
		return nil, fmt.Errorf("%w: remaining gas %d exceeds initial gas %d", ErrMalformedReturnData, remainingGas, call.InitialGas)
	}
	if retdataEnd < retdataStart {
		return nil, fmt.Errorf("%w: retdata end %d before start %d", ErrMalformedReturnData, retdataEnd, retdataStart)
	}
	retdataAddr := Relocatable{Segment: allocationPtr.Segment, Offset: retdataStart}
	retdata, err := runner.ReadRange(retdataAddr, retdataEnd-retdataStart)
	if err != nil {
		return nil, fmt.Errorf("%w: reading retdata [%d,%d): %v", ErrMalformedReturnData, retdataStart, retdataEnd, err)
	}

	// 11. Gas accounting.
	resources := runner.ExecutionResources()
	charged := ComputeChargedResources(ctx.TrackedResources.Current(), resources, ctx.Constants, call.InitialGas, remainingGas)

	return &core.CallInfo{
		Retdata:          retdata,
		Failed:           failureFlag == 1,
		GasConsumed:      charged.GasConsumed,
		ChargedResources: charged,
	}, nil
}
