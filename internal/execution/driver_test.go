package execution_test

import (
	"testing"

	"github.com/rechain/starknet-sequencer/internal/core"
	"github.com/rechain/starknet-sequencer/internal/execution"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClass() *core.CompiledClass {
	return &core.CompiledClass{
		ClassHash: "0xabc",
		Bytecode:  make([]uint64, 32),
		EntryPoints: map[string]execution.EntryPoint{
			"transfer": {PC: 4, Builtins: []string{"range_check96", "pedersen"}},
		},
	}
}

func TestExecuteEntryPointCall_EntryPointNotFound(t *testing.T) {
	runner := execution.NewFakeRunner(make([]uint64, 32))
	ctx := execution.NewExecutionContext(execution.DefaultVersionedConstants())
	state := execution.NewMapStateProxy()

	_, err := execution.ExecuteEntryPointCall(runner, execution.EntryPointCall{Selector: "missing"}, testClass(), state, ctx)
	require.ErrorIs(t, err, execution.ErrEntryPointNotFound)
}

func TestExecuteEntryPointCall_InvalidBuiltin(t *testing.T) {
	runner := execution.NewFakeRunner(make([]uint64, 32))
	ctx := execution.NewExecutionContext(execution.DefaultVersionedConstants())
	state := execution.NewMapStateProxy()
	class := testClass()
	class.EntryPoints["bad"] = execution.EntryPoint{PC: 0, Builtins: []string{"not_a_builtin"}}

	_, err := execution.ExecuteEntryPointCall(runner, execution.EntryPointCall{Selector: "bad"}, class, state, ctx)
	require.ErrorIs(t, err, execution.ErrInvalidBuiltin)
}

func TestExecuteEntryPointCall_Success(t *testing.T) {
	runner := execution.NewFakeRunner(make([]uint64, 32))
	ctx := execution.NewExecutionContext(execution.DefaultVersionedConstants())
	state := execution.NewMapStateProxy()

	call := execution.EntryPointCall{Selector: "transfer", InitialGas: 1000, CalldataLen: 2}
	info, err := execution.ExecuteEntryPointCall(runner, call, testClass(), state, ctx)
	require.NoError(t, err)
	assert.False(t, info.Failed)
	assert.NotNil(t, state.Visited["0xabc"])
}

func TestExecuteEntryPointCall_MalformedFailureFlag(t *testing.T) {
	runner := execution.NewFakeRunner(make([]uint64, 32))
	runner.ReturnValues = []uint64{0, 0, 7, 0, 0}
	ctx := execution.NewExecutionContext(execution.DefaultVersionedConstants())
	state := execution.NewMapStateProxy()

	call := execution.EntryPointCall{Selector: "transfer", InitialGas: 1000, CalldataLen: 2}
	_, err := execution.ExecuteEntryPointCall(runner, call, testClass(), state, ctx)
	require.ErrorIs(t, err, execution.ErrMalformedReturnData)
}

func TestGasConsumedWithoutInnerCalls(t *testing.T) {
	assert.Equal(t, uint64(0), execution.GasConsumedWithoutInnerCalls(execution.CairoSteps, 100, nil))

	inner := []*core.CallInfo{{GasConsumed: 30}, {GasConsumed: 20}}
	assert.Equal(t, uint64(50), execution.GasConsumedWithoutInnerCalls(execution.SierraGas, 100, inner))
}

func TestGasConsumedWithoutInnerCalls_Underflow(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on gas underflow")
		}
	}()
	execution.GasConsumedWithoutInnerCalls(execution.SierraGas, 10, []*core.CallInfo{{GasConsumed: 50}})
}

func TestSummarizeChargedResources(t *testing.T) {
	leaf := &core.CallInfo{ChargedResources: core.ChargedResources{GasConsumed: 5}}
	root := &core.CallInfo{
		ChargedResources: core.ChargedResources{GasConsumed: 10},
		InnerCalls:       []*core.CallInfo{leaf},
	}
	total := core.SummarizeChargedResources(root)
	assert.Equal(t, uint64(15), total.GasConsumed)
}

func TestTrackedResourceStack(t *testing.T) {
	var s execution.TrackedResourceStack
	assert.Equal(t, execution.CairoSteps, s.Current())
	s.Push(execution.SierraGas)
	assert.Equal(t, execution.SierraGas, s.Current())
	s.Pop()
	assert.Equal(t, execution.CairoSteps, s.Current())
}
