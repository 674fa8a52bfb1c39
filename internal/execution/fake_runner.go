package execution

import "fmt"

// FakeRunner is a deterministic in-memory CairoRunner used by tests and by
// the node binary in place of a real Cairo VM. It models enough of
// the real VM's address space (segments as growable slices of felts) to
// exercise the full C1 algorithm, including hole-filling and trace
// relocation, without depending on an actual Cairo VM.
type FakeRunner struct {
	program    []uint64
	segments   [][]uint64
	builtins   []BuiltinRunner
	usedSizes  map[int]uint64
	accessed   map[Relocatable]struct{}
	trace      []TraceEntry
	lastAP     Relocatable
	resources  map[string]uint64

	// ReturnValues lets a test script the 5 return-value words the runner
	// "computes" for RunFromEntrypoint, since a fake has no real program
	// to execute. Defaults to a successful, empty-retdata return. Indices
	// 3 and 4 (retdata_start/retdata_end) are overwritten by
	// RunFromEntrypoint to the real range Retdata was written at, so a
	// caller only needs to set indices 0-2.
	ReturnValues []uint64

	// Retdata lets a test script the felts the fake call "returns" as
	// retdata; RunFromEntrypoint writes them into the execution segment
	// and points ReturnValues[3]/[4] at the range they occupy, so
	// ExecuteEntryPointCall's ReadRange call reads them back for real
	// instead of a caller fabricating CallInfo.Retdata.
	Retdata []uint64

	// BuiltinStopOffsets lets a test script each declared builtin's final
	// stop offset within its own segment, keyed by builtin name. A
	// builtin absent from this map defaults to stop offset 0 (no cells
	// used). RunFromEntrypoint writes these as the "implicit return
	// values" FillRangeCheck96Holes (spec.md §4.1 step 6) walks back
	// through.
	BuiltinStopOffsets map[string]uint64
}

// NewFakeRunner loads program as segment 0.
func NewFakeRunner(program []uint64) *FakeRunner {
	r := &FakeRunner{
		program:   program,
		segments:  [][]uint64{append([]uint64(nil), program...)},
		usedSizes: make(map[int]uint64),
		accessed:  make(map[Relocatable]struct{}),
		resources: map[string]uint64{"n_steps": 17},
	}
	return r
}

func (r *FakeRunner) InitializeFunctionRunner(builtins []string) ([]Relocatable, error) {
	stacks := make([]Relocatable, 0, len(builtins))
	for _, name := range builtins {
		switch name {
		case "pedersen", "bitwise", "ec_op", "poseidon", "range_check", "range_check96", "add_mod", "mul_mod", "segment_arena", "output":
			base := r.AddMemorySegment()
			r.builtins = append(r.builtins, BuiltinRunner{Name: name, Base: base})
			stacks = append(stacks, base)
		default:
			return nil, fmt.Errorf("%w: %s", ErrInvalidBuiltin, name)
		}
	}
	return stacks, nil
}

func (r *FakeRunner) AddMemorySegment() Relocatable {
	seg := len(r.segments)
	r.segments = append(r.segments, nil)
	return Relocatable{Segment: seg, Offset: 0}
}

func (r *FakeRunner) growSegment(seg int, upTo uint64) {
	for uint64(len(r.segments[seg])) <= upTo {
		r.segments[seg] = append(r.segments[seg], 0)
	}
}

func (r *FakeRunner) InsertValue(addr Relocatable, value uint64) error {
	if addr.Segment >= len(r.segments) {
		return fmt.Errorf("%w: segment %d out of range", ErrMemory, addr.Segment)
	}
	r.growSegment(addr.Segment, addr.Offset)
	r.segments[addr.Segment][addr.Offset] = value
	return nil
}

// RunFromEntrypoint lays out the execution segment the way the real VM's
// calling convention would: the argument vector, then the scripted
// Retdata felts, then each declared builtin's stop offset (in declaration
// order, so the last-declared builtin lands immediately before the fixed
// return-values block — see spec.md §4.1 step 6), then the 5-word
// EntryPointReturnValues block itself.
func (r *FakeRunner) RunFromEntrypoint(pc uint64, args []Relocatable) error {
	execSeg := r.AddMemorySegment()
	for i, a := range args {
		if err := r.InsertValue(execSeg.Add(uint64(i)), uint64(a.Offset)); err != nil {
			return fmt.Errorf("%w: %v", ErrCairoRun, err)
		}
	}
	cursor := uint64(len(args))

	retdataStart := cursor
	for _, v := range r.Retdata {
		if err := r.InsertValue(execSeg.Add(cursor), v); err != nil {
			return fmt.Errorf("%w: %v", ErrCairoRun, err)
		}
		cursor++
	}
	retdataEnd := cursor

	for _, b := range r.builtins {
		if err := r.InsertValue(execSeg.Add(cursor), r.BuiltinStopOffsets[b.Name]); err != nil {
			return fmt.Errorf("%w: %v", ErrCairoRun, err)
		}
		cursor++
	}

	finalAP := execSeg.Add(cursor)
	r.trace = append(r.trace,
		TraceEntry{PC: Relocatable{Segment: 0, Offset: pc}, AP: execSeg, FP: execSeg},
		TraceEntry{PC: Relocatable{Segment: 0, Offset: pc + 1}, AP: finalAP, FP: execSeg},
	)
	if len(r.ReturnValues) == 0 {
		r.ReturnValues = []uint64{0, 0, 0, 0, 0}
	}
	if len(r.ReturnValues) == entryPointReturnValuesSize {
		r.ReturnValues[3] = retdataStart
		r.ReturnValues[4] = retdataEnd
	}
	for i, v := range r.ReturnValues {
		if err := r.InsertValue(finalAP.Add(uint64(i)), v); err != nil {
			return fmt.Errorf("%w: %v", ErrCairoRun, err)
		}
	}
	r.lastAP = finalAP.Add(uint64(len(r.ReturnValues)))
	return nil
}

func (r *FakeRunner) BuiltinRunners() []BuiltinRunner { return r.builtins }

func (r *FakeRunner) SegmentUsedSize(segment int) (uint64, bool) {
	v, ok := r.usedSizes[segment]
	return v, ok
}

func (r *FakeRunner) SetSegmentUsedSize(segment int, size uint64) {
	r.usedSizes[segment] = size
}

func (r *FakeRunner) WriteZero(addr Relocatable) error {
	return r.InsertValue(addr, 0)
}

func (r *FakeRunner) RelocatedTrace(programSegmentSize uint64) []TraceEntry {
	out := make([]TraceEntry, len(r.trace))
	relocate := func(rel Relocatable) Relocatable {
		if rel.Segment == 0 {
			return Relocatable{Segment: 0, Offset: 1 + rel.Offset}
		}
		return Relocatable{Segment: 0, Offset: 1 + programSegmentSize + rel.Offset}
	}
	for i, e := range r.trace {
		out[i] = TraceEntry{PC: relocate(e.PC), AP: relocate(e.AP), FP: relocate(e.FP)}
	}
	return out
}

func (r *FakeRunner) GetReturnValues(n int) ([]uint64, error) {
	seg := r.lastAP.Segment
	if seg >= len(r.segments) {
		return nil, fmt.Errorf("%w: final AP segment missing", ErrMemory)
	}
	data := r.segments[seg]
	if uint64(len(data)) < r.lastAP.Offset || r.lastAP.Offset < uint64(n) {
		return nil, fmt.Errorf("%w: not enough stack for %d return values", ErrMalformedReturnData, n)
	}
	start := r.lastAP.Offset - uint64(n)
	return append([]uint64(nil), data[start:r.lastAP.Offset]...), nil
}

func (r *FakeRunner) MarkAddressRangeAsAccessed(addr Relocatable, n uint64) error {
	for i := uint64(0); i < n; i++ {
		r.accessed[addr.Add(i)] = struct{}{}
	}
	return nil
}

func (r *FakeRunner) VerifySecureRun(programSegmentSize uint64) error {
	if uint64(len(r.segments[0])) != programSegmentSize {
		return fmt.Errorf("%w: program segment size mismatch", ErrVirtualMachine)
	}
	return nil
}

func (r *FakeRunner) ExecutionResources() map[string]uint64 {
	out := make(map[string]uint64, len(r.resources))
	for k, v := range r.resources {
		out[k] = v
	}
	for _, b := range r.builtins {
		out[b.Name] = r.usedSizes[b.Base.Segment]
	}
	return out
}

func (r *FakeRunner) ProgramDataLen() uint64 { return uint64(len(r.program)) }

func (r *FakeRunner) ProgramBase() Relocatable { return Relocatable{Segment: 0, Offset: 0} }

func (r *FakeRunner) GetAP() Relocatable { return r.lastAP }

func (r *FakeRunner) ReadRange(addr Relocatable, n uint64) ([]uint64, error) {
	if n == 0 {
		return []uint64{}, nil
	}
	if addr.Segment < 0 || addr.Segment >= len(r.segments) {
		return nil, fmt.Errorf("%w: segment %d out of range", ErrMemory, addr.Segment)
	}
	data := r.segments[addr.Segment]
	if addr.Offset+n > uint64(len(data)) {
		return nil, fmt.Errorf("%w: read range [%d,%d) exceeds segment %d length %d", ErrMemory, addr.Offset, addr.Offset+n, addr.Segment, len(data))
	}
	return append([]uint64(nil), data[addr.Offset:addr.Offset+n]...), nil
}
