package execution

import "fmt"

// entryPointReturnValuesSize is the fixed number of words the convention
// reserves for a call's return values, ending 5 words below the final AP.
const entryPointReturnValuesSize = 5

// FillRangeCheck96Holes locates the range_check96 builtin's stop pointer by
// walking back from the allocation pointer, per spec.md §4.1 step 6, and
// zero-fills every offset between 0 and the stop offset that the builtin
// itself never wrote (the VM only guarantees cells it actually touched are
// present; the unused tail must be materialized as zeros before relocation).
func FillRangeCheck96Holes(runner CairoRunner, allocationPtr Relocatable, builtins []string) error {
	reverseIndex := -1
	for i, name := range builtins {
		if name == "range_check96" {
			reverseIndex = len(builtins) - 1 - i
			break
		}
	}
	if reverseIndex < 0 {
		return nil // builtin not declared; nothing to fill
	}

	stopPtrAddr := allocationPtr.Sub(uint64(entryPointReturnValuesSize + reverseIndex + 1))
	stopPtrVal, err := runner.ReadRange(stopPtrAddr, 1)
	if err != nil {
		return fmt.Errorf("%w: reading range_check96 stop pointer at %+v: %v", ErrMemory, stopPtrAddr, err)
	}
	stopOffset := stopPtrVal[0]

	var rc96Base Relocatable
	found := false
	for _, b := range runner.BuiltinRunners() {
		if b.Name == "range_check96" {
			rc96Base = b.Base
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: range_check96 declared but not initialized", ErrInvalidBuiltin)
	}

	runner.SetSegmentUsedSize(rc96Base.Segment, stopOffset)
	for off := uint64(0); off < stopOffset; off++ {
		if err := runner.WriteZero(rc96Base.Add(off)); err != nil {
			// "already consistent" writes (a cell the builtin already
			// populated with zero) are expected and ignored.
			continue
		}
	}
	return nil
}
