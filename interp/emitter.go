package interp

import "sync"

// CommandEmitter is the append-only sink for command records: field
// ordering and timestamp injection are guaranteed, and a command is
// visible to the host as soon as the emitting evaluator step returns.
type CommandEmitter struct {
	mu        sync.Mutex
	buf       []CommandRecord
	clock     int64
	sealed    bool // true once PROGRAM_END has been appended
}

func newCommandEmitter() *CommandEmitter { return &CommandEmitter{} }

// Emit appends one record, stamping it with the current logical clock.
// Two commands emitted within the same logical step may share a
// timestamp; the clock only advances when AdvanceClock is called by the
// Driver between observable steps.
func (e *CommandEmitter) Emit(t CommandType, fields ...Field) CommandRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := CommandRecord{Type: t, Timestamp: e.clock, Fields: fields}
	if e.sealed {
		// No command may follow PROGRAM_END. This can only be reached by a
		// defect in the Driver's own sequencing, never by host input, so it
		// is an internal invariant violation.
		panic(newError(InternalInvariant, "command emitted after PROGRAM_END: %s", t))
	}
	e.buf = append(e.buf, r)
	if t == CmdProgramEnd {
		e.sealed = true
	}
	return r
}

// AdvanceClock increments the monotonic logical timestamp. Called by the
// Driver between ticks so that distinct top-level steps are
// distinguishable while same-step commands can still share a stamp.
func (e *CommandEmitter) AdvanceClock() {
	e.mu.Lock()
	e.clock++
	e.mu.Unlock()
}

// TakeAll drains and returns every buffered record in emission order.
func (e *CommandEmitter) TakeAll() []CommandRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.buf
	e.buf = nil
	return out
}

// Sealed reports whether PROGRAM_END has already been appended.
func (e *CommandEmitter) Sealed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sealed
}

// Peek returns every buffered record without draining the buffer, used by
// tests that want to inspect the full stream at the end of a run.
func (e *CommandEmitter) Peek() []CommandRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]CommandRecord, len(e.buf))
	copy(out, e.buf)
	return out
}
