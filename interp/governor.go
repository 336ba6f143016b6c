package interp

// LoopGovernor caps loop() iteration counts and, optionally, internal
// loop iteration counts. Counters live on the governor instance, never
// in package-level state, and each loop node owns its own counter so
// nested loops never leak state into one another.
type LoopGovernor struct {
	maxTopLevel       uint32 // 0 disables the cap
	enforceInternal   bool
	topLevelCount     uint32
	internalCounters  map[*Node]uint32
}

func newLoopGovernor(maxTopLevel uint32, enforceInternal bool) *LoopGovernor {
	return &LoopGovernor{
		maxTopLevel:      maxTopLevel,
		enforceInternal:  enforceInternal,
		internalCounters: map[*Node]uint32{},
	}
}

// BeginTopLevelIteration reports whether another loop() iteration may
// start. It does not itself increment the counter; CommitTopLevelIteration
// does that once the iteration actually runs to completion.
func (g *LoopGovernor) BeginTopLevelIteration() bool {
	if g.maxTopLevel == 0 {
		return true
	}
	return g.topLevelCount < g.maxTopLevel
}

// CommitTopLevelIteration records that one loop() iteration completed.
func (g *LoopGovernor) CommitTopLevelIteration() { g.topLevelCount++ }

// TopLevelIterations reports how many loop() iterations have completed.
func (g *LoopGovernor) TopLevelIterations() uint32 { return g.topLevelCount }

// BeginInternalIteration reports whether an internal while/for/do-while
// loop node may run another iteration, when internal enforcement is on.
// Each loop node gets its own counter, reset implicitly the first time
// the node is seen in a given call (callers reset via ResetInternal when
// the loop node is (re)entered).
func (g *LoopGovernor) BeginInternalIteration(n *Node) bool {
	if !g.enforceInternal || g.maxTopLevel == 0 {
		return true
	}
	return g.internalCounters[n] < g.maxTopLevel
}

func (g *LoopGovernor) CommitInternalIteration(n *Node) {
	if !g.enforceInternal {
		return
	}
	g.internalCounters[n]++
}

// ResetInternal clears a loop node's counter, called each time execution
// (re-)enters that loop node from outside (e.g. a new call to the
// enclosing function), so counters never leak across invocations.
func (g *LoopGovernor) ResetInternal(n *Node) {
	delete(g.internalCounters, n)
}
