package execution

import "fmt"

// ProgramExtraDataLength is the fixed number of words appended after the
// loaded program bytecode: the return opcode plus the cost-segment pointer.
const ProgramExtraDataLength = 2

// ReturnOpcode is the 64-bit constant the VM recognizes as "this program is
// done", per spec.md §4.1 step 3.
const ReturnOpcode = 0x208b7fff7fff7ffe

// builtinGasCostOrder is the canonical order of the 6-element builtin
// gas-cost table appended after the program bytecode.
var builtinGasCostOrder = []string{"pedersen", "bitwise", "ec_op", "poseidon", "add_mod", "mul_mod"}

// AppendProgramExtraData writes the builtin gas-cost table and the return
// opcode + cost-segment pointer immediately after the program, per
// spec.md §4.1 step 3.
func AppendProgramExtraData(runner CairoRunner, constants VersionedConstants) error {
	costSegment := runner.AddMemorySegment()
	for i, name := range builtinGasCostOrder {
		cost := constants.SyscallGasCost[name]
		if err := runner.InsertValue(costSegment.Add(uint64(i)), cost); err != nil {
			return fmt.Errorf("execution: writing builtin gas cost table: %w", err)
		}
	}

	programEnd := Relocatable{Segment: 0, Offset: runner.ProgramDataLen()}
	if err := runner.InsertValue(programEnd, ReturnOpcode); err != nil {
		return fmt.Errorf("execution: writing return opcode: %w", err)
	}
	if err := runner.InsertValue(programEnd.Add(1), costSegment.Offset); err != nil {
		return fmt.Errorf("execution: writing cost segment pointer: %w", err)
	}
	return nil
}

// CallArgs is the resolved calldata/gas envelope for one entry-point call.
type CallArgs struct {
	InitialGas   uint64
	SyscallPtr   Relocatable
	CalldataStart Relocatable
	CalldataEnd   Relocatable
}

// PrepareCallArguments builds the argument vector for RunFromEntrypoint, per
// spec.md §4.1 step 4: one pointer per declared builtin (with segment_arena
// getting a fresh triple-initialized segment instead of a bare stack value),
// followed by initial gas, the syscall pointer, and the calldata bounds.
func PrepareCallArguments(runner CairoRunner, builtins []string, builtinStacks []Relocatable, call CallArgs) ([]Relocatable, error) {
	if len(builtins) != len(builtinStacks) {
		return nil, fmt.Errorf("execution: %d builtins but %d initial stacks", len(builtins), len(builtinStacks))
	}

	args := make([]Relocatable, 0, len(builtins)+4)
	for i, name := range builtins {
		if name == "segment_arena" {
			infoSegment := runner.AddMemorySegment()
			if err := runner.InsertValue(infoSegment, infoSegment.Offset); err != nil {
				return nil, fmt.Errorf("execution: segment_arena info base: %w", err)
			}
			if err := runner.InsertValue(infoSegment.Add(1), 0); err != nil {
				return nil, err
			}
			if err := runner.InsertValue(infoSegment.Add(2), 0); err != nil {
				return nil, err
			}
			args = append(args, infoSegment.Add(3))
			continue
		}
		args = append(args, builtinStacks[i])
	}

	args = append(args,
		Relocatable{Segment: -1, Offset: call.InitialGas}, // felt, encoded as a pseudo-segment(-1) immediate
		call.SyscallPtr,
		call.CalldataStart,
		call.CalldataEnd,
	)
	return args, nil
}
