package interp

import (
	"sync"
	"sync/atomic"
)

// Binding holds one name's storage slot in a Frame.
type Binding struct {
	Name        string
	Value       Value
	IsConst     bool
	IsReference bool
}

// Frame is one level of the scope stack: a name->binding map plus a
// lexical lookup parent. Frames live in an id-indexed arena so that
// Reference values never carry a raw pointer, only a stable,
// generation-checkable id.
type Frame struct {
	id     uint64
	parent *Frame
	vars   map[string]*Binding
	freed  bool
}

// ScopeStack is the LIFO of frames the evaluator resolves names against.
// The global frame is created at construction and is never popped.
type ScopeStack struct {
	mu      sync.Mutex
	nextID  uint64
	arena   map[uint64]*Frame
	global  *Frame
	stack   []*Frame // currently live frames, top is stack[len-1]
}

func newScopeStack() *ScopeStack {
	ss := &ScopeStack{arena: map[uint64]*Frame{}}
	g := ss.newFrame(nil)
	ss.global = g
	ss.stack = []*Frame{g}
	return ss
}

func (ss *ScopeStack) newFrame(parent *Frame) *Frame {
	id := atomic.AddUint64(&ss.nextID, 1)
	f := &Frame{id: id, parent: parent, vars: map[string]*Binding{}}
	ss.mu.Lock()
	ss.arena[id] = f
	ss.mu.Unlock()
	return f
}

// scopeToken identifies a push for matched-LIFO popping.
type scopeToken struct {
	frameID uint64
}

// PushFunctionFrame installs a new top frame whose lexical parent is the
// global frame, regardless of the caller's frame: inside a function only
// globals, parameters, and locals are visible.
func (ss *ScopeStack) PushFunctionFrame() scopeToken {
	f := ss.newFrame(ss.global)
	ss.stack = append(ss.stack, f)
	return scopeToken{frameID: f.id}
}

// PushBlockFrame installs a new top frame parented at the current top,
// used for {} blocks, for-init, and switch blocks.
func (ss *ScopeStack) PushBlockFrame() scopeToken {
	top := ss.top()
	f := ss.newFrame(top)
	ss.stack = append(ss.stack, f)
	return scopeToken{frameID: f.id}
}

func (ss *ScopeStack) top() *Frame {
	return ss.stack[len(ss.stack)-1]
}

// Pop removes the top frame. The token must match the top frame's id, or
// this is a fatal invariant violation.
func (ss *ScopeStack) Pop(tok scopeToken) {
	top := ss.top()
	if top.id != tok.frameID {
		panic(newError(InternalInvariant, "scope pop mismatch: want frame %d, top is %d", tok.frameID, top.id))
	}
	ss.stack = ss.stack[:len(ss.stack)-1]
	top.freed = true
	ss.mu.Lock()
	delete(ss.arena, top.id)
	ss.mu.Unlock()
}

// Depth reports the number of live frames; a balanced run ends with
// exactly the global frame.
func (ss *ScopeStack) Depth() int { return len(ss.stack) }

// Declare binds name in the current top frame. Fails if the name already
// exists in that exact frame.
func (ss *ScopeStack) Declare(name string, v Value, isConst, isReference bool) error {
	top := ss.top()
	if _, ok := top.vars[name]; ok {
		return newError(RedeclaredName, "%q already declared in this scope", name)
	}
	top.vars[name] = &Binding{Name: name, Value: v, IsConst: isConst, IsReference: isReference}
	return nil
}

// Lookup walks the lexical parent chain starting at the current top
// frame and returns the binding, or nil if undefined.
func (ss *ScopeStack) Lookup(name string) *Binding {
	for f := ss.top(); f != nil; f = f.parent {
		if b, ok := f.vars[name]; ok {
			return b
		}
	}
	return nil
}

// LookupFrame is Lookup plus the owning Frame, needed to build a
// Reference (frame id + key) for a reference-parameter argument.
func (ss *ScopeStack) LookupFrame(name string) (*Frame, *Binding) {
	for f := ss.top(); f != nil; f = f.parent {
		if b, ok := f.vars[name]; ok {
			return f, b
		}
	}
	return nil, nil
}

// Assign mutates the nearest binding for name. Fails if none exists.
func (ss *ScopeStack) Assign(name string, v Value) error {
	b := ss.Lookup(name)
	if b == nil {
		return newError(UndefinedName, "assignment to undeclared variable %q", name)
	}
	if b.IsConst {
		return newError(TypeMismatch, "cannot assign to const %q", name)
	}
	b.Value = v
	return nil
}

// frameByID resolves a Reference's frame id to a live Frame, or nil if the
// frame has since been popped (a stale reference).
func (ss *ScopeStack) frameByID(id uint64) *Frame {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	f, ok := ss.arena[id]
	if !ok || f.freed {
		return nil
	}
	return f
}

// resolveReference returns the binding a Reference points to.
func (ss *ScopeStack) resolveReference(r *Reference) (*Binding, error) {
	f := ss.frameByID(r.FrameID)
	if f == nil {
		return nil, newError(InternalInvariant, "reference into freed frame")
	}
	b, ok := f.vars[r.Key]
	if !ok {
		return nil, newError(UndefinedName, "reference to undeclared variable %q", r.Key)
	}
	return b, nil
}

// currentFrameID returns the id of the top frame, used to build
// Reference values for reference-parameter binding.
func (ss *ScopeStack) currentFrameID() uint64 { return ss.top().id }
