package execution

import (
	"fmt"

	"github.com/rechain/starknet-sequencer/internal/core"
)

// SegmentArenaBuiltinSize is the fixed per-cell multiplier applied to the
// segment_arena counter when VersionedConstants.SegmentArenaCells is set.
const SegmentArenaBuiltinSize = 3

// ComputeChargedResources turns a finished run's raw resource counters into
// a ChargedResources value, per spec.md §4.1 step 11. In CairoSteps mode,
// GasConsumed is zero and VM resources are filtered to only the builtins
// actually used, with the segment_arena multiplier and per-syscall charge
// applied once, at this computation point — not retroactively to inner
// calls already summarized (see DESIGN.md's Open Question decision).
func ComputeChargedResources(tracked TrackedResource, resources map[string]uint64, constants VersionedConstants, initialGas, remainingGas uint64) core.ChargedResources {
	if tracked == SierraGas {
		return core.ChargedResources{
			VMResources: map[string]uint64{},
			GasConsumed: initialGas - remainingGas,
		}
	}

	vm := make(map[string]uint64, len(resources))
	for name, count := range resources {
		if count == 0 {
			continue
		}
		if name == "segment_arena" && constants.SegmentArenaCells {
			vm[name] = count * SegmentArenaBuiltinSize
			continue
		}
		vm[name] = count
	}
	for syscall, cost := range constants.SyscallGasCost {
		if _, used := resources[syscall]; used {
			vm["syscall_"+syscall] = cost
		}
	}

	return core.ChargedResources{VMResources: vm, GasConsumed: 0}
}

// GasConsumedWithoutInnerCalls is the spec.md §4.6 external-value function:
// zero under CairoSteps, else the call's own gas net of every inner call's
// gas. Underflow is a fatal invariant violation (panics), matching spec.md
// §7's "internal invariant violations are fatal".
func GasConsumedWithoutInnerCalls(tracked TrackedResource, gasConsumed uint64, innerCalls []*core.CallInfo) uint64 {
	if tracked == CairoSteps {
		return 0
	}

	var innerSum uint64
	for _, c := range innerCalls {
		innerSum += c.GasConsumed
	}
	if innerSum > gasConsumed {
		panic(fmt.Sprintf("execution: gas_consumed underflow: own=%d inner=%d", gasConsumed, innerSum))
	}
	return gasConsumed - innerSum
}
