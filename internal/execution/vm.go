package execution

// Relocatable is a (segment, offset) memory address, the Cairo VM's native
// pointer representation.
type Relocatable struct {
	Segment int
	Offset  uint64
}

// Add returns the address n words past r within the same segment.
func (r Relocatable) Add(n uint64) Relocatable {
	return Relocatable{Segment: r.Segment, Offset: r.Offset + n}
}

// Sub returns the address n words before r within the same segment.
func (r Relocatable) Sub(n uint64) Relocatable {
	return Relocatable{Segment: r.Segment, Offset: r.Offset - n}
}

// TraceEntry is one executed instruction, as recorded by the runner.
type TraceEntry struct {
	PC Relocatable
	AP Relocatable
	FP Relocatable
}

// BuiltinRunner names a declared builtin and its current segment base.
type BuiltinRunner struct {
	Name  string
	Base  Relocatable
}

// CairoRunner is the narrow VM contract C1 depends on (spec.md §6). The
// real Cairo VM is out of scope; FakeRunner (fake_runner.go) is the deterministic
// in-memory stand-in used by the driver and its tests.
type CairoRunner interface {
	// InitializeFunctionRunner loads declared builtins, in order, and
	// returns their initial stack values (one Relocatable pointer per
	// builtin already backed by a runner).
	InitializeFunctionRunner(builtins []string) ([]Relocatable, error)

	// AddMemorySegment allocates a fresh segment and returns its base.
	AddMemorySegment() Relocatable

	// InsertValue writes a felt (represented as uint64 for this in-memory
	// model) at the given address.
	InsertValue(addr Relocatable, value uint64) error

	// RunFromEntrypoint executes starting at pc with the given argument
	// vector, appended to the stack in order.
	RunFromEntrypoint(pc uint64, args []Relocatable) error

	// BuiltinRunners returns the builtins initialized for this run, in
	// declaration order.
	BuiltinRunners() []BuiltinRunner

	// SegmentUsedSize returns the recorded used size of a segment, or
	// false if the segment has no recorded size yet.
	SegmentUsedSize(segment int) (uint64, bool)

	// SetSegmentUsedSize overwrites the recorded used size of a segment.
	SetSegmentUsedSize(segment int, size uint64)

	// WriteZero writes a zero felt at the given address, tolerating (but
	// not erroring on) an address that already holds zero.
	WriteZero(addr Relocatable) error

	// RelocatedTrace returns the execution trace with the program segment
	// relocated to start at address 1 and the execution segment placed
	// immediately after it, per spec.md §4.1 step 8.
	RelocatedTrace(programSegmentSize uint64) []TraceEntry

	// GetReturnValues reads the last n stack values at the final AP.
	GetReturnValues(n int) ([]uint64, error)

	// MarkAddressRangeAsAccessed records addr..addr+n as accessed memory.
	MarkAddressRangeAsAccessed(addr Relocatable, n uint64) error

	// VerifySecureRun performs the VM's post-run integrity check.
	VerifySecureRun(programSegmentSize uint64) error

	// ExecutionResources reports step/builtin usage accumulated by the run.
	ExecutionResources() map[string]uint64

	// ProgramDataLen returns the loaded program's bytecode length.
	ProgramDataLen() uint64

	// ProgramBase returns the base address of the loaded program segment.
	ProgramBase() Relocatable

	// GetAP returns the run's current allocation pointer, per spec.md §6's
	// get_ap() — the address one past the last word this run wrote for its
	// return data, which step 6's "allocation pointer" and step 10's
	// retdata pointers are both expressed relative to.
	GetAP() Relocatable

	// ReadRange returns the n felts stored at addr..addr+n. Used to read
	// real VM-computed output — a call's retdata and a builtin's stop
	// pointer — instead of requiring the caller to fabricate it.
	ReadRange(addr Relocatable, n uint64) ([]uint64, error)
}
