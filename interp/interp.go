// Package interp is a tree-walking evaluator for a C-like Arduino
// dialect, executed over a pre-parsed binary AST. It emits an ordered
// stream of observable command records describing every hardware
// interaction and, in Cooperative mode, suspends on hardware reads until
// the host supplies a response.
//
// The package decodes at construction, holds a scope stack of frames,
// and exposes a driving API (New/Start/Tick/Resume/Stop) that walks the
// tree and reports back to the caller rather than running to completion
// on its own.
package interp

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/sfranzyshen/goasti/internal/astbin"
)

// ExecutionState is the Driver's coarse lifecycle state.
type ExecutionState int

const (
	StateIdle ExecutionState = iota
	StateRunning
	StateWaitingForResponse
	StateComplete
	StateError
)

// DefaultMaxLoopIterations is the top-level loop() cap applied when a
// host leaves Options.MaxLoopIterations zero.
const DefaultMaxLoopIterations uint32 = 3

// NoLoopLimit disables the top-level cap entirely. A zero-value Options
// must mean "defaults", so disabling takes a sentinel rather than zero.
const NoLoopLimit uint32 = ^uint32(0)

func (s ExecutionState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateWaitingForResponse:
		return "WAITING_FOR_RESPONSE"
	case StateComplete:
		return "COMPLETE"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// DefaultPinAliases is the 8-bit-AVR analog pin numbering (A0..A7 ->
// 14..21), used when a host does not supply its own map.
func DefaultPinAliases() map[string]int {
	aliases := make(map[string]int, 8)
	for i := 0; i < 8; i++ {
		aliases[fmt.Sprintf("A%d", i)] = 14 + i
	}
	return aliases
}

// Options configures a Driver at construction.
type Options struct {
	// SyncMode selects Inline (true) or Cooperative (false) response
	// delivery.
	SyncMode bool
	// InlineReader is required when SyncMode is true.
	InlineReader InlineReader
	// MaxLoopIterations caps loop() iterations. Zero selects
	// DefaultMaxLoopIterations; NoLoopLimit disables the cap.
	MaxLoopIterations uint32
	// EnforceLoopLimitsOnInternalLoops extends the cap to internal
	// while/for/do-while loops.
	EnforceLoopLimitsOnInternalLoops bool
	// PinAliases maps symbolic analog pin names (e.g. "A0") to numeric
	// pins; defaults to DefaultPinAliases() when nil.
	PinAliases map[string]int
	// VersionString is reported in the VERSION_INFO command's "version"
	// field. New does not validate it; cmd/astihost checks its own flag
	// with golang.org/x/mod/semver before calling New.
	VersionString string
	// Stdout is currently unused by the Evaluator itself (Serial output
	// is observable only via SERIAL_PRINT/SERIAL_PRINTLN commands) but is
	// threaded through for a host that wants the Driver's own diagnostic
	// writes to go somewhere other than glog.
	Stdout io.Writer
	// Verbose additionally emits FUNCTION_CALL records for user-defined
	// calls.
	Verbose bool
	// Debug gates internal state-transition tracing via glog.V(1).
	Debug bool
}

type opt struct {
	Options
}

// Driver is the public facade over the evaluator: New decodes and
// hoists, Start runs setup(), Tick/Resume advance loop() one step at a
// time, Stop ends the run early.
type Driver struct {
	opt opt

	program *Node
	funcs   map[string]*Node
	structs map[string]*Node

	scope    *ScopeStack
	emitter  *CommandEmitter
	broker   *ResponseBroker
	governor *LoopGovernor
	eng      *engine

	stateMu sync.Mutex
	state   ExecutionState

	pendingMu sync.Mutex
	pendingID uint32

	lastErrMu sync.Mutex
	lastErr   error

	stopOnce sync.Once
}

// New decodes astBytes, hoists function/struct/global declarations, and
// emits VERSION_INFO and PROGRAM_START.
func New(astBytes []byte, options Options) (*Driver, error) {
	if options.SyncMode && options.InlineReader == nil {
		return nil, newError(InternalInvariant, "Inline mode requires an InlineReader")
	}
	raw, err := astbin.Decode(astBytes)
	if err != nil {
		return nil, err
	}
	program := fromRaw(raw)
	if program.Kind != NProgram {
		return nil, newError(InternalInvariant, "decoded root is not a program node")
	}

	if options.PinAliases == nil {
		options.PinAliases = DefaultPinAliases()
	}
	maxLoops := options.MaxLoopIterations
	switch maxLoops {
	case 0:
		maxLoops = DefaultMaxLoopIterations
	case NoLoopLimit:
		maxLoops = 0
	}

	mode := modeCooperative
	if options.SyncMode {
		mode = modeInline
	}

	d := &Driver{
		opt:      opt{options},
		program:  program,
		funcs:    map[string]*Node{},
		structs:  map[string]*Node{},
		scope:    newScopeStack(),
		emitter:  newCommandEmitter(),
		broker:   newResponseBroker(mode, options.InlineReader),
		governor: newLoopGovernor(maxLoops, options.EnforceLoopLimitsOnInternalLoops),
		state:    StateIdle,
	}

	if err := d.declareArduinoConstants(); err != nil {
		return nil, err
	}

	var globals []*Node
	for _, top := range program.Children {
		switch top.Kind {
		case NFuncDecl:
			d.funcs[top.Ident] = top
		case NStructDecl:
			d.structs[top.Ident] = top
		case NVarDecl:
			globals = append(globals, top)
		}
	}
	for _, g := range globals {
		if err := d.execVarDecl(g); err != nil {
			return nil, err
		}
	}
	// Declaration-time globals are static initialization, not an
	// observable assignment; discard the VAR_SET records execVarDecl just
	// emitted so the first visible command really is VERSION_INFO.
	d.emitter.TakeAll()

	d.emitter.Emit(CmdVersionInfo,
		f("component", "interpreter"),
		f("version", options.VersionString),
		f("status", "started"))
	d.emitter.Emit(CmdProgramStart)
	d.debugLog("driver constructed: %d functions, %d structs, %d globals", len(d.funcs), len(d.structs), len(globals))
	return d, nil
}

// declareArduinoConstants binds the core Arduino pin/level constants and
// the configured analog pin aliases into the global frame as const
// values, so sketches can name HIGH, OUTPUT, A0 and friends without any
// declaration of their own.
func (d *Driver) declareArduinoConstants() error {
	core := []struct {
		name string
		val  int32
	}{
		{"HIGH", 1}, {"LOW", 0},
		{"INPUT", 0}, {"OUTPUT", 1}, {"INPUT_PULLUP", 2},
		{"LED_BUILTIN", 13},
	}
	for _, c := range core {
		if err := d.scope.Declare(c.name, IntValue(c.val), true, false); err != nil {
			return err
		}
	}
	names := make([]string, 0, len(d.opt.PinAliases))
	for name := range d.opt.PinAliases {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := d.scope.Declare(name, IntValue(int32(d.opt.PinAliases[name])), true, false); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) setState(s ExecutionState) {
	d.stateMu.Lock()
	prev := d.state
	d.state = s
	d.stateMu.Unlock()
	if prev != s {
		d.debugLog("state transition: %s -> %s", prev, s)
	}
}

// State reports the Driver's current lifecycle state.
func (d *Driver) State() ExecutionState {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.state
}

// Start launches setup() and runs until SETUP_END or the first
// suspended hardware read inside setup().
func (d *Driver) Start() error {
	if d.State() != StateIdle {
		return newError(InternalInvariant, "Start called outside IDLE state")
	}
	d.eng = newEngine()
	go d.runEngine()
	d.advance(false)
	return nil
}

// Tick advances loop() by one iteration, stopping at the next
// suspension point, loop boundary, or program end. A no-op once the
// program has finished, faulted, or is already waiting on a response.
func (d *Driver) Tick() {
	switch d.State() {
	case StateComplete, StateError, StateWaitingForResponse, StateIdle:
		return
	}
	d.emitter.AdvanceClock()
	d.advance(true)
}

// Resume delivers a host response to the outstanding request, then runs
// until the next boundary (see engine.go's doc comment for why resume
// folds delivery and continuation into one call).
func (d *Driver) Resume(id uint32, v Value) error {
	if d.State() != StateWaitingForResponse {
		return &ProtocolError{Message: "Resume called with no pending request"}
	}
	if err := d.broker.Resume(id, v); err != nil {
		return err
	}
	d.emitter.AdvanceClock()
	d.advance(false)
	return nil
}

// Stop ends the run, idempotently. If the program has not already
// finished naturally, it emits PROGRAM_END once and marks the Driver
// Complete.
func (d *Driver) Stop() {
	d.stopOnce.Do(func() {
		if d.eng != nil {
			d.eng.cancel()
		}
		if d.State() != StateComplete && d.State() != StateError {
			if !d.emitter.Sealed() {
				d.emitter.Emit(CmdProgramEnd)
			}
			d.setState(StateComplete)
		}
	})
}

// IsWaitingForResponse reports whether the Driver is suspended on a
// Cooperative-mode hardware read.
func (d *Driver) IsWaitingForResponse() bool {
	return d.State() == StateWaitingForResponse
}

// WaitingRequestID returns the id of the outstanding request and true,
// or (0, false) if none.
func (d *Driver) WaitingRequestID() (uint32, bool) {
	if !d.IsWaitingForResponse() {
		return 0, false
	}
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	return d.pendingID, true
}

// LastError returns the RuntimeError (or other error) that ended the
// run, if State() is Error.
func (d *Driver) LastError() error {
	d.lastErrMu.Lock()
	defer d.lastErrMu.Unlock()
	return d.lastErr
}

// TakeCommands drains every buffered command record emitted so far, in
// emission order.
func (d *Driver) TakeCommands() []CommandRecord {
	return d.emitter.TakeAll()
}

// PeekCommands returns the buffered records without draining them.
func (d *Driver) PeekCommands() []CommandRecord {
	return d.emitter.Peek()
}

// FrameDepth exposes the scope stack's live-frame count, used by tests
// checking that only the global frame survives a completed run.
func (d *Driver) FrameDepth() int { return d.scope.Depth() }

// RequestStats reports how many read-requests were issued and how many
// responses were consumed, for the "exactly one response per request"
// invariant.
func (d *Driver) RequestStats() (issued, resolved int) { return d.broker.Stats() }
