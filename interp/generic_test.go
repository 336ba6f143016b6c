package interp_test

import (
	"testing"

	"github.com/sfranzyshen/goasti/interp"
)

// newBlinkProgram builds:
//
//	void setup() { pinMode(13, 1); }
//	void loop() { digitalWrite(13, 1); delay(1000); digitalWrite(13, 0); delay(1000); }
func newBlinkProgram() []byte {
	a := newAB()
	setupBody := a.block(a.exprStmt(a.call("pinMode", a.intLit(13), a.intLit(1))))
	setup := a.funcDecl("setup", "void", nil, setupBody)
	loopBody := a.block(
		a.exprStmt(a.call("digitalWrite", a.intLit(13), a.intLit(1))),
		a.exprStmt(a.call("delay", a.intLit(1000))),
		a.exprStmt(a.call("digitalWrite", a.intLit(13), a.intLit(0))),
		a.exprStmt(a.call("delay", a.intLit(1000))),
	)
	loop := a.funcDecl("loop", "void", nil, loopBody)
	return a.program(setup, loop)
}

func TestBlinkInlineTwoIterations(t *testing.T) {
	prog := newBlinkProgram()
	d, err := interp.New(prog, interp.Options{
		SyncMode:          true,
		InlineReader:      func(string, []interp.Value) (interp.Value, error) { return interp.VoidValue(), nil },
		MaxLoopIterations: 2,
		VersionString:     "1.0.0",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d.Tick()
	d.Tick()
	d.Tick() // governor should refuse a 3rd iteration

	cmds := d.TakeCommands()
	var loopStarts, limitReached, programEnds int
	for _, c := range cmds {
		switch c.Type {
		case interp.CmdLoopStart:
			loopStarts++
		case interp.CmdLoopLimitReached:
			limitReached++
		case interp.CmdProgramEnd:
			programEnds++
		case interp.CmdError:
			t.Fatalf("unexpected ERROR command: %+v", c)
		}
	}
	if loopStarts != 2 {
		t.Errorf("want 2 LOOP_START, got %d", loopStarts)
	}
	if limitReached != 1 {
		t.Errorf("want 1 LOOP_LIMIT_REACHED, got %d", limitReached)
	}
	if programEnds != 1 {
		t.Errorf("want 1 PROGRAM_END, got %d", programEnds)
	}
	if d.State() != interp.StateComplete {
		t.Errorf("want state COMPLETE, got %s", d.State())
	}
	if d.FrameDepth() != 1 {
		t.Errorf("want only the global frame to survive, depth=%d", d.FrameDepth())
	}
}

// newAnalogReadProgram builds:
//
//	void setup() {}
//	void loop() { int v = analogRead(A0); Serial.println(v); }
func newAnalogReadProgram() []byte {
	a := newAB()
	setup := a.funcDecl("setup", "void", nil, a.block())
	loopBody := a.block(
		a.varDecl("v", "int", a.call("analogRead", a.ident("A0"))),
		a.exprStmt(a.call("Serial.println", a.ident("v"))),
	)
	loop := a.funcDecl("loop", "void", nil, loopBody)
	return a.program(setup, loop)
}

func TestCooperativeAnalogReadSuspendsAndResumes(t *testing.T) {
	prog := newAnalogReadProgram()
	d, err := interp.New(prog, interp.Options{MaxLoopIterations: 1, VersionString: "1.0.0"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d.Tick()
	if !d.IsWaitingForResponse() {
		t.Fatalf("want WAITING_FOR_RESPONSE after analogRead, got %s", d.State())
	}
	id, ok := d.WaitingRequestID()
	if !ok {
		t.Fatalf("want a pending request id")
	}
	if err := d.Resume(id, interp.IntValue(975)); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	var gotRequestPin, gotVarSet, gotPrintln bool
	for _, c := range d.TakeCommands() {
		switch c.Type {
		case interp.CmdAnalogReadRequest:
			for _, fld := range c.Fields {
				if fld.Name == "pin" && fld.Value == 14 {
					gotRequestPin = true // A0 resolves via the default AVR alias map
				}
			}
		case interp.CmdVarSet:
			for _, fld := range c.Fields {
				if fld.Name == "variable" && fld.Value == "v" {
					gotVarSet = true
				}
			}
		case interp.CmdSerialPrintln:
			for _, fld := range c.Fields {
				if fld.Name == "data" && fld.Value == "975" {
					gotPrintln = true
				}
			}
		}
	}
	if !gotRequestPin {
		t.Errorf("want ANALOG_READ_REQUEST with pin=14 for A0")
	}
	if !gotVarSet {
		t.Errorf("want a VAR_SET for v reflecting the resumed value")
	}
	if !gotPrintln {
		t.Errorf(`want SERIAL_PRINTLN data="975" after resume`)
	}
	if issued, resolved := d.RequestStats(); issued != resolved {
		t.Errorf("want one response per request, issued=%d resolved=%d", issued, resolved)
	}
}

func TestResumeWithWrongIDIsProtocolError(t *testing.T) {
	prog := newAnalogReadProgram()
	d, err := interp.New(prog, interp.Options{MaxLoopIterations: 1, VersionString: "1.0.0"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d.Tick()
	id, ok := d.WaitingRequestID()
	if !ok {
		t.Fatalf("want a pending request")
	}
	err = d.Resume(id+1, interp.IntValue(1))
	if _, isProtocol := err.(*interp.ProtocolError); !isProtocol {
		t.Fatalf("want a ProtocolError for a mismatched id, got %v", err)
	}
	if !d.IsWaitingForResponse() {
		t.Fatalf("a rejected resume must leave the request pending")
	}
	if err := d.Resume(id, interp.IntValue(1)); err != nil {
		t.Fatalf("Resume with the right id after a rejected one: %v", err)
	}
	for _, c := range d.TakeCommands() {
		if c.Type == interp.CmdError {
			t.Fatalf("protocol errors must not emit ERROR commands, got %+v", c)
		}
	}
}

// newNestedCallProgram builds:
//
//	int add(int a, int b) { return a + b; }
//	int triple(int x) { return add(x, add(x, x)); }
//	void setup() {}
//	void loop() { int r = triple(4); }
func newNestedCallProgram() []byte {
	a := newAB()
	addBody := a.block(a.returnStmt(a.binary("+", a.ident("a"), a.ident("b"))))
	addFn := a.funcDecl("add", "int", []uint32{a.param("a", "int", false), a.param("b", "int", false)}, addBody)
	tripleBody := a.block(a.returnStmt(a.call("add", a.ident("x"), a.call("add", a.ident("x"), a.ident("x")))))
	tripleFn := a.funcDecl("triple", "int", []uint32{a.param("x", "int", false)}, tripleBody)
	setup := a.funcDecl("setup", "void", nil, a.block())
	loop := a.funcDecl("loop", "void", nil, a.block(a.varDecl("r", "int", a.call("triple", a.intLit(4)))))
	return a.program(addFn, tripleFn, setup, loop)
}

func TestNestedFunctionCalls(t *testing.T) {
	prog := newNestedCallProgram()
	d, err := interp.New(prog, interp.Options{SyncMode: true, InlineReader: failInlineReader(t), MaxLoopIterations: 1, VersionString: "1.0.0"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d.Tick()
	want := int32(12) // triple(4) = add(4, add(4,4)) = add(4,8) = 12
	found := false
	for _, c := range d.TakeCommands() {
		if c.Type == interp.CmdVarSet {
			for _, fld := range c.Fields {
				if fld.Name == "value" && fld.Value == want {
					found = true
				}
			}
		}
		if c.Type == interp.CmdError {
			t.Fatalf("unexpected ERROR: %+v", c)
		}
	}
	if !found {
		t.Fatalf("want VAR_SET value=%d somewhere in the stream", want)
	}
	if d.FrameDepth() != 1 {
		t.Errorf("want frame balance restored after nested calls, depth=%d", d.FrameDepth())
	}
}

// newGridProgram builds:
//
//	void setup() {}
//	void loop() {
//	  int pixels[2][2];
//	  pixels[0][0] = 1;
//	  pixels[1][1] = 7;
//	  int thisPixel = pixels[0][0];
//	}
func newGridProgram() []byte {
	a := newAB()
	setup := a.funcDecl("setup", "void", nil, a.block())
	loopBody := a.block(
		a.arrayVarDecl("pixels", "int", []int{2, 2}),
		a.exprStmt(a.assign(a.index2(a.ident("pixels"), a.intLit(0), a.intLit(0)), a.intLit(1))),
		a.exprStmt(a.assign(a.index2(a.ident("pixels"), a.intLit(1), a.intLit(1)), a.intLit(7))),
		a.varDecl("thisPixel", "int", a.index2(a.ident("pixels"), a.intLit(0), a.intLit(0))),
	)
	loop := a.funcDecl("loop", "void", nil, loopBody)
	return a.program(setup, loop)
}

func TestTwoDimensionalArrayAccess(t *testing.T) {
	prog := newGridProgram()
	d, err := interp.New(prog, interp.Options{SyncMode: true, InlineReader: failInlineReader(t), MaxLoopIterations: 1, VersionString: "1.0.0"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d.Tick()
	var varSets int
	for _, c := range d.TakeCommands() {
		if c.Type == interp.CmdVarSet {
			varSets++
			for _, fld := range c.Fields {
				if fld.Name == "variable" && fld.Value != "thisPixel" {
					t.Errorf("index writes must not emit VAR_SET, got variable=%v", fld.Value)
				}
				if fld.Name == "value" && fld.Value != int32(1) {
					t.Errorf("want thisPixel == 1, got %v", fld.Value)
				}
			}
		}
		if c.Type == interp.CmdError {
			t.Fatalf("unexpected ERROR: %+v", c)
		}
	}
	if varSets != 1 {
		t.Errorf("want exactly one VAR_SET (for thisPixel), got %d", varSets)
	}
}

// newSwitchProgram builds a fall-through switch over x=1, with cases 1
// and 2 both appending to out and a default that should not run.
func newSwitchProgram() []byte {
	a := newAB()
	setup := a.funcDecl("setup", "void", nil, a.block())
	loopBody := a.block(
		a.varDecl("x", "int", a.intLit(1)),
		a.varDecl("out", "string", a.strLit("")),
		a.switchStmt(a.ident("x"),
			a.caseSeg(a.intLit(1), a.exprStmt(a.assign(a.ident("out"), a.binary("+", a.ident("out"), a.strLit("a"))))),
			a.caseSeg(a.intLit(2), a.exprStmt(a.assign(a.ident("out"), a.binary("+", a.ident("out"), a.strLit("b")))), a.breakStmt()),
			a.defaultSeg(a.exprStmt(a.assign(a.ident("out"), a.binary("+", a.ident("out"), a.strLit("z"))))),
		),
	)
	loop := a.funcDecl("loop", "void", nil, loopBody)
	return a.program(setup, loop)
}

func TestSwitchFallThrough(t *testing.T) {
	prog := newSwitchProgram()
	d, err := interp.New(prog, interp.Options{SyncMode: true, InlineReader: failInlineReader(t), MaxLoopIterations: 1, VersionString: "1.0.0"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d.Tick()
	var last interp.CommandRecord
	for _, c := range d.TakeCommands() {
		if c.Type == interp.CmdVarSet {
			for _, fld := range c.Fields {
				if fld.Name == "variable" && fld.Value == "out" {
					last = c
				}
			}
		}
	}
	var got string
	for _, fld := range last.Fields {
		if fld.Name == "value" {
			got, _ = fld.Value.(string)
		}
	}
	if got != "ab" {
		t.Fatalf(`want fall-through "ab" (default must not run), got %q`, got)
	}
}

// newForContinueProgram sums 0..4, skipping 2 via continue:
//
//	int total = 0;
//	for (int i = 0; i < 5; i++) { if (i == 2) { continue; } total += i; }
func newForContinueProgram() []byte {
	a := newAB()
	setup := a.funcDecl("setup", "void", nil, a.block())
	forInit := a.varDecl("i", "int", a.intLit(0))
	forCond := a.binary("<", a.ident("i"), a.intLit(5))
	forUpdate := a.exprStmt(a.postIncDec("++", a.ident("i")))
	forBody := a.block(
		a.ifStmt(a.binary("==", a.ident("i"), a.intLit(2)), a.block(a.continueStmt())),
		a.exprStmt(a.compoundAssign("+=", a.ident("total"), a.ident("i"))),
	)
	loopBody := a.block(
		a.varDecl("total", "int", a.intLit(0)),
		a.forStmt(forInit, forCond, forUpdate, forBody),
	)
	loop := a.funcDecl("loop", "void", nil, loopBody)
	return a.program(setup, loop)
}

func TestForLoopWithContinue(t *testing.T) {
	prog := newForContinueProgram()
	d, err := interp.New(prog, interp.Options{SyncMode: true, InlineReader: failInlineReader(t), MaxLoopIterations: 1, VersionString: "1.0.0"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d.Tick()
	var finalTotal int32 = -1
	for _, c := range d.TakeCommands() {
		if c.Type == interp.CmdVarSet {
			var name string
			var val interface{}
			for _, fld := range c.Fields {
				if fld.Name == "variable" {
					name = fld.Value.(string)
				}
				if fld.Name == "value" {
					val = fld.Value
				}
			}
			if name == "total" {
				finalTotal = val.(int32)
			}
		}
	}
	if finalTotal != 0+1+3+4 {
		t.Fatalf("want total==8 (2 skipped via continue), got %d", finalTotal)
	}
}

// newRefParamProgram builds:
//
//	void bump(int &x) { x = x + 1; }
//	void setup() {}
//	void loop() { int n = 5; bump(n); Serial.println(n); }
func newRefParamProgram() []byte {
	a := newAB()
	bumpBody := a.block(a.exprStmt(a.assign(a.ident("x"), a.binary("+", a.ident("x"), a.intLit(1)))))
	bump := a.funcDecl("bump", "void", []uint32{a.param("x", "int", true)}, bumpBody)
	setup := a.funcDecl("setup", "void", nil, a.block())
	loopBody := a.block(
		a.varDecl("n", "int", a.intLit(5)),
		a.exprStmt(a.call("bump", a.ident("n"))),
		a.exprStmt(a.call("Serial.println", a.ident("n"))),
	)
	loop := a.funcDecl("loop", "void", nil, loopBody)
	return a.program(bump, setup, loop)
}

func TestReferenceParameterMutatesCaller(t *testing.T) {
	prog := newRefParamProgram()
	d, err := interp.New(prog, interp.Options{SyncMode: true, InlineReader: failInlineReader(t), MaxLoopIterations: 1, VersionString: "1.0.0"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d.Tick()
	var printed string
	for _, c := range d.TakeCommands() {
		if c.Type == interp.CmdError {
			t.Fatalf("unexpected ERROR: %+v", c)
		}
		if c.Type == interp.CmdSerialPrintln {
			for _, fld := range c.Fields {
				if fld.Name == "data" {
					printed, _ = fld.Value.(string)
				}
			}
		}
	}
	if printed != "6" {
		t.Fatalf("want the caller's n mutated through the reference parameter (printed 6), got %q", printed)
	}
	if d.FrameDepth() != 1 {
		t.Errorf("want frame balance restored, depth=%d", d.FrameDepth())
	}
}

// newConstantsProgram exercises the predeclared Arduino constants:
//
//	void setup() { pinMode(LED_BUILTIN, OUTPUT); }
//	void loop() { digitalWrite(LED_BUILTIN, HIGH); }
func newConstantsProgram() []byte {
	a := newAB()
	setup := a.funcDecl("setup", "void", nil, a.block(
		a.exprStmt(a.call("pinMode", a.ident("LED_BUILTIN"), a.ident("OUTPUT"))),
	))
	loop := a.funcDecl("loop", "void", nil, a.block(
		a.exprStmt(a.call("digitalWrite", a.ident("LED_BUILTIN"), a.ident("HIGH"))),
	))
	return a.program(setup, loop)
}

func TestArduinoConstantsPredeclared(t *testing.T) {
	prog := newConstantsProgram()
	d, err := interp.New(prog, interp.Options{SyncMode: true, InlineReader: failInlineReader(t), MaxLoopIterations: 1, VersionString: "1.0.0"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d.Tick()
	var gotPinMode, gotWrite bool
	for _, c := range d.TakeCommands() {
		switch c.Type {
		case interp.CmdError:
			t.Fatalf("unexpected ERROR: %+v", c)
		case interp.CmdPinMode:
			for _, fld := range c.Fields {
				if fld.Name == "pin" && fld.Value == int32(13) {
					gotPinMode = true
				}
			}
		case interp.CmdDigitalWrite:
			for _, fld := range c.Fields {
				if fld.Name == "value" && fld.Value == int32(1) {
					gotWrite = true
				}
			}
		}
	}
	if !gotPinMode {
		t.Errorf("want PIN_MODE pin=13 via LED_BUILTIN")
	}
	if !gotWrite {
		t.Errorf("want DIGITAL_WRITE value=1 via HIGH")
	}
}

// newDoWhileProgram builds:
//
//	void setup() {}
//	void loop() { int n = 0; do { n++; } while (n < 0); Serial.println(n); }
//
// The condition is false on first test, so the body must still have run
// exactly once.
func newDoWhileProgram() []byte {
	a := newAB()
	setup := a.funcDecl("setup", "void", nil, a.block())
	body := a.block(a.exprStmt(a.postIncDec("++", a.ident("n"))))
	loopBody := a.block(
		a.varDecl("n", "int", a.intLit(0)),
		a.doWhileStmt(body, a.binary("<", a.ident("n"), a.intLit(0))),
		a.exprStmt(a.call("Serial.println", a.ident("n"))),
	)
	loop := a.funcDecl("loop", "void", nil, loopBody)
	return a.program(setup, loop)
}

func TestDoWhileRunsBodyAtLeastOnce(t *testing.T) {
	prog := newDoWhileProgram()
	d, err := interp.New(prog, interp.Options{SyncMode: true, InlineReader: failInlineReader(t), MaxLoopIterations: 1, VersionString: "1.0.0"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d.Tick()
	var printed string
	for _, c := range d.TakeCommands() {
		if c.Type == interp.CmdError {
			t.Fatalf("unexpected ERROR: %+v", c)
		}
		if c.Type == interp.CmdSerialPrintln {
			for _, fld := range c.Fields {
				if fld.Name == "data" {
					printed, _ = fld.Value.(string)
				}
			}
		}
	}
	if printed != "1" {
		t.Fatalf("want the do-while body to run exactly once (printed 1), got %q", printed)
	}
}

// TestInternalLoopCapEnforced runs an unbounded while inside loop() with
// internal enforcement on; the run must end with LOOP_LIMIT_REACHED and
// a clean COMPLETE, never an ERROR.
func TestInternalLoopCapEnforced(t *testing.T) {
	a := newAB()
	setup := a.funcDecl("setup", "void", nil, a.block())
	spin := a.whileStmt(a.boolLit(true), a.block(a.exprStmt(a.call("delay", a.intLit(1)))))
	loop := a.funcDecl("loop", "void", nil, a.block(spin))
	prog := a.program(setup, loop)

	d, err := interp.New(prog, interp.Options{
		SyncMode:                         true,
		InlineReader:                     failInlineReader(t),
		MaxLoopIterations:                2,
		EnforceLoopLimitsOnInternalLoops: true,
		VersionString:                    "1.0.0",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d.Tick()
	var limitReached, programEnds, delays int
	for _, c := range d.TakeCommands() {
		switch c.Type {
		case interp.CmdError:
			t.Fatalf("a tripped cap must not produce ERROR, got %+v", c)
		case interp.CmdLoopLimitReached:
			limitReached++
			for _, fld := range c.Fields {
				if fld.Name == "phase" && fld.Value != "internal" {
					t.Errorf("want phase=internal, got %v", fld.Value)
				}
			}
		case interp.CmdProgramEnd:
			programEnds++
		case interp.CmdDelay:
			delays++
		}
	}
	if limitReached != 1 || programEnds != 1 {
		t.Fatalf("want one LOOP_LIMIT_REACHED and one PROGRAM_END, got %d and %d", limitReached, programEnds)
	}
	if delays != 2 {
		t.Errorf("want the internal loop body to run exactly twice before the trip, got %d", delays)
	}
	if d.State() != interp.StateComplete {
		t.Errorf("want COMPLETE after an internal cap trip, got %s", d.State())
	}
}

// TestDefaultLoopCap checks that a zero-valued MaxLoopIterations applies
// the documented default of three loop() iterations.
func TestDefaultLoopCap(t *testing.T) {
	prog := newBlinkProgram()
	d, err := interp.New(prog, interp.Options{
		SyncMode:      true,
		InlineReader:  failInlineReader(t),
		VersionString: "1.0.0",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 6; i++ {
		d.Tick()
	}
	var loopStarts int
	for _, c := range d.TakeCommands() {
		if c.Type == interp.CmdLoopStart {
			loopStarts++
		}
	}
	if loopStarts != int(interp.DefaultMaxLoopIterations) {
		t.Fatalf("want %d LOOP_START under the default cap, got %d", interp.DefaultMaxLoopIterations, loopStarts)
	}
	if d.State() != interp.StateComplete {
		t.Errorf("want COMPLETE after the cap trips, got %s", d.State())
	}
}

// TestManyIterationsDrainedPerTick runs the blink program 500 loop()
// iterations deep, draining the command buffer every tick the way a
// long-lived host would, and checks the cap fires at exactly 500.
func TestManyIterationsDrainedPerTick(t *testing.T) {
	const iterations = 500
	prog := newBlinkProgram()
	d, err := interp.New(prog, interp.Options{
		SyncMode:          true,
		InlineReader:      failInlineReader(t),
		MaxLoopIterations: iterations,
		VersionString:     "1.0.0",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	var loopStarts int
	for d.State() != interp.StateComplete && d.State() != interp.StateError {
		d.Tick()
		for _, c := range d.TakeCommands() {
			if c.Type == interp.CmdLoopStart {
				loopStarts++
			}
			if c.Type == interp.CmdError {
				t.Fatalf("unexpected ERROR: %+v", c)
			}
		}
	}
	if loopStarts != iterations {
		t.Fatalf("want %d LOOP_START records, got %d", iterations, loopStarts)
	}
	if d.FrameDepth() != 1 {
		t.Errorf("want only the global frame after %d iterations, depth=%d", iterations, d.FrameDepth())
	}
}

func failInlineReader(t *testing.T) interp.InlineReader {
	return func(kind string, args []interp.Value) (interp.Value, error) {
		t.Fatalf("unexpected inline read %q", kind)
		return interp.VoidValue(), nil
	}
}
