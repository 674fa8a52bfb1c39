package execution

import "errors"

// Pre-execution errors: bad class, invalid builtin, program-extra-data
// allocation failure. Surfaced immediately, never retried.
var (
	ErrEntryPointNotFound = errors.New("execution: entry point not found for selector")
	ErrInvalidBuiltin     = errors.New("execution: unsupported builtin declared by entry point")
)

// Execution errors: VM failures mid-run.
var (
	ErrCairoRun        = errors.New("execution: cairo run failed")
	ErrMemory          = errors.New("execution: memory error")
	ErrVirtualMachine  = errors.New("execution: virtual machine error")
)

// Post-execution errors: malformed return data, inconsistent gas accounting.
var (
	ErrMalformedReturnData = errors.New("execution: malformed return data")
)
