package interp

import "sync"

// engine is the goroutine-plus-channel suspend/resume mechanism backing
// Driver.Start/Tick/Resume.
//
// A single goroutine runs setup() then loop() synchronously and
// end-to-end; the Driver's API calls gate its progress with unbuffered
// channels so that exactly one "step" runs between any two host calls.
// Resume additionally delivers the host's value before waiting for the
// next boundary, folding "deliver the response" and "run until the next
// boundary" into one host-visible call.
type engine struct {
	proceedCh  chan struct{}
	boundaryCh chan string
	waitCh     chan uint32
	doneCh     chan struct{}
	cancelCh   chan struct{}
	cancelOnce sync.Once
}

func newEngine() *engine {
	return &engine{
		proceedCh:  make(chan struct{}),
		boundaryCh: make(chan string),
		waitCh:     make(chan uint32),
		doneCh:     make(chan struct{}),
		cancelCh:   make(chan struct{}),
	}
}

func (e *engine) cancel() {
	e.cancelOnce.Do(func() { close(e.cancelCh) })
}

// runEngine is the goroutine body: SETUP_START/END, then loop() once per
// proceed signal, governed by the LoopGovernor, until the cap trips or a
// RuntimeError ends the program.
func (d *Driver) runEngine() {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = newError(InternalInvariant, "panic in evaluator: %v", r)
			}
			d.failWith(err)
		}
	}()

	d.emitter.Emit(CmdSetupStart)
	if err := d.callNamedFunction("setup"); err != nil {
		if t, ok := isTerminated(err); ok {
			d.finishLimited(t)
			return
		}
		d.failWith(err)
		return
	}
	d.emitter.Emit(CmdSetupEnd)
	select {
	case d.eng.boundaryCh <- "setup-done":
	case <-d.eng.cancelCh:
		return
	}

	for {
		select {
		case <-d.eng.proceedCh:
		case <-d.eng.cancelCh:
			return
		}
		if !d.governor.BeginTopLevelIteration() {
			iterations := d.governor.TopLevelIterations()
			d.debugLog("loop governor tripped after %d top-level iteration(s)", iterations)
			d.finishLimited(loopLimitSignal("loop", iterations))
			return
		}
		d.emitter.Emit(CmdLoopStart)
		if err := d.callNamedFunction("loop"); err != nil {
			if t, ok := isTerminated(err); ok {
				d.finishLimited(t)
				return
			}
			d.failWith(err)
			return
		}
		d.emitter.Emit(CmdLoopEnd)
		d.governor.CommitTopLevelIteration()
		select {
		case d.eng.boundaryCh <- "loop-done":
		case <-d.eng.cancelCh:
			return
		}
	}
}

// finishLimited ends the run cleanly after a governor trip: a tripped
// cap is not an error, it emits LOOP_LIMIT_REACHED then PROGRAM_END and
// completes.
func (d *Driver) finishLimited(t *terminatedSignal) {
	d.emitter.Emit(CmdLoopLimitReached,
		f("phase", t.phase),
		f("iterations", t.iterations),
		f("message", t.message))
	d.emitter.Emit(CmdProgramEnd)
	d.setState(StateComplete)
	close(d.eng.doneCh)
}

// failWith ends the run on a genuine RuntimeError: emits ERROR, then
// PROGRAM_END (so the stream still seals), sets state Error.
func (d *Driver) failWith(err error) {
	if !d.emitter.Sealed() {
		if re, ok := err.(*RuntimeError); ok {
			d.emitter.Emit(CmdError, f("kind", re.Kind.String()), f("message", re.Message))
		} else {
			d.emitter.Emit(CmdError, f("kind", InternalInvariant.String()), f("message", err.Error()))
		}
		d.emitter.Emit(CmdProgramEnd)
	}
	d.lastErrMu.Lock()
	d.lastErr = err
	d.lastErrMu.Unlock()
	d.setState(StateError)
	close(d.eng.doneCh)
}

// advance lets the evaluator goroutine run (sending on proceedCh first,
// when sendProceed is true) and blocks until it reaches the next
// observable boundary: a setup/loop completion, a suspended hardware
// read, or program end.
func (d *Driver) advance(sendProceed bool) {
	if sendProceed {
		select {
		case d.eng.proceedCh <- struct{}{}:
		case <-d.eng.doneCh:
			return
		}
	}
	select {
	case <-d.eng.boundaryCh:
		d.setState(StateRunning)
	case id := <-d.eng.waitCh:
		d.setState(StateWaitingForResponse)
		d.pendingMu.Lock()
		d.pendingID = id
		d.pendingMu.Unlock()
	case <-d.eng.doneCh:
		// State was already set by runEngine/failWith before this channel
		// closed; nothing further to do.
	}
}

// doRead issues a hardware-read request: it emits the
// request command with a fresh id prepended to fields, then either
// resolves it synchronously via the Inline reader or suspends the
// evaluator goroutine on waitCh until the Driver delivers a response
// through Resume.
func (d *Driver) doRead(cmdType CommandType, kind string, fields []Field, args []Value) (Value, error) {
	id := d.broker.newRequestID()
	d.broker.issued++
	allFields := append([]Field{f("requestId", id)}, fields...)
	d.emitter.Emit(cmdType, allFields...)

	if d.broker.mode == modeInline {
		v, err := d.broker.inline(kind, args)
		if err != nil {
			return VoidValue(), err
		}
		d.broker.resolved++
		return v, nil
	}

	resumeCh := make(chan Value, 1)
	d.broker.pending = &pendingRequest{id: id, kind: kind, resume: resumeCh}
	select {
	case d.eng.waitCh <- id:
	case <-d.eng.cancelCh:
		return VoidValue(), &ProtocolError{Message: "stopped while awaiting response"}
	}
	select {
	case v := <-resumeCh:
		return v, nil
	case <-d.eng.cancelCh:
		return VoidValue(), &ProtocolError{Message: "stopped while awaiting response"}
	}
}
