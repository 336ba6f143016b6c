package interp

import (
	"fmt"
	"math"
	"strings"
)

// outcomeKind is the statement-outcome sum type, minus termination:
// unwinding all the way to the Driver needs to cross the
// expression-evaluation boundary too (a loop governor can trip inside a
// function called from an expression), so termination travels as a typed
// error instead of an in-band outcome value. Every other control-flow
// case (break/continue/return) is a plain value threaded explicitly
// through the evaluator; termination reuses Go's ordinary error-return
// idiom for the one case that must cross that boundary, without
// resorting to panic/recover.
type outcomeKind int

const (
	outNormal outcomeKind = iota
	outBreak
	outContinue
	outReturn
)

type outcome struct {
	kind  outcomeKind
	value Value
}

var normalOutcome = outcome{kind: outNormal}

// terminatedSignal is raised by the LoopGovernor when an iteration cap is
// exceeded. It is not a RuntimeError: a tripped cap must not produce an
// ERROR command, only LOOP_LIMIT_REACHED then PROGRAM_END.
type terminatedSignal struct {
	phase      string
	iterations uint32
	message    string
}

func (t *terminatedSignal) Error() string { return t.message }

func isTerminated(err error) (*terminatedSignal, bool) {
	t, ok := err.(*terminatedSignal)
	return t, ok
}

// execBlock pushes a fresh block frame, runs stmts, and always pops the
// frame before returning (even on error).
func (d *Driver) execBlock(stmts []*Node) (outcome, error) {
	tok := d.scope.PushBlockFrame()
	defer d.scope.Pop(tok)
	return d.execStmts(stmts)
}

func (d *Driver) execStmts(stmts []*Node) (outcome, error) {
	for _, s := range stmts {
		outc, err := d.execStmt(s)
		if err != nil {
			return outcome{}, err
		}
		if outc.kind != outNormal {
			return outc, nil
		}
	}
	return normalOutcome, nil
}

func (d *Driver) execStmt(n *Node) (outcome, error) {
	switch n.Kind {
	case NBlock:
		return d.execBlock(n.Children)
	case NVarDecl:
		return normalOutcome, d.execVarDecl(n)
	case NAssign:
		return d.execAssign(n)
	case NCompoundAssign:
		return d.execCompoundAssign(n)
	case NIf:
		return d.execIf(n)
	case NWhile:
		return d.execWhile(n)
	case NDoWhile:
		return d.execDoWhile(n)
	case NFor:
		return d.execFor(n)
	case NSwitch:
		return d.execSwitch(n)
	case NBreak:
		return outcome{kind: outBreak}, nil
	case NContinue:
		return outcome{kind: outContinue}, nil
	case NReturn:
		if len(n.Children) == 0 {
			return outcome{kind: outReturn, value: VoidValue()}, nil
		}
		v, err := d.evalExpr(n.child(0))
		if err != nil {
			return outcome{}, err
		}
		return outcome{kind: outReturn, value: v}, nil
	case NExprStmt:
		inner := n.child(0)
		switch inner.Kind {
		case NAssign, NCompoundAssign:
			return d.execStmt(inner)
		default:
			_, err := d.evalExpr(inner)
			return normalOutcome, err
		}
	case NFuncDecl, NStructDecl:
		// Hoisted at program start; encountering one mid-statement is a
		// no-op.
		return normalOutcome, nil
	default:
		return outcome{}, newError(InternalInvariant, "unhandled statement node kind %d", n.Kind)
	}
}

func (d *Driver) execVarDecl(n *Node) error {
	var val Value
	hasInit := len(n.Children) > 0
	if hasInit {
		v, err := d.evalExpr(n.child(0))
		if err != nil {
			return err
		}
		val = d.coerceToDeclType(n, v)
	} else {
		val = d.zeroValueForDecl(n)
	}
	if err := d.scope.Declare(n.Ident, val, n.IsConst, n.IsRef); err != nil {
		return err
	}
	if hasInit {
		d.emitVarSet(n.Ident, val)
	}
	return nil
}

func (d *Driver) execAssign(n *Node) (outcome, error) {
	lhs, rhs := n.child(0), n.child(1)
	rv, err := d.evalExpr(rhs)
	if err != nil {
		return outcome{}, err
	}
	lv, err := d.resolveLValue(lhs)
	if err != nil {
		return outcome{}, err
	}
	if err := lv.set(rv); err != nil {
		return outcome{}, err
	}
	if lv.identName != "" {
		d.emitVarSet(lv.identName, rv)
	}
	return normalOutcome, nil
}

func (d *Driver) applyCompound(op string, a, b Value) (Value, error) {
	switch op {
	case "+=":
		return add(a, b)
	case "-=":
		return sub(a, b)
	case "*=":
		return mul(a, b)
	case "/=":
		return div(a, b)
	case "%=":
		return mod(a, b)
	default:
		return Value{}, newError(InternalInvariant, "unknown compound operator %q", op)
	}
}

func (d *Driver) execCompoundAssign(n *Node) (outcome, error) {
	lhs, rhs := n.child(0), n.child(1)
	lv, err := d.resolveLValue(lhs)
	if err != nil {
		return outcome{}, err
	}
	cur, err := lv.get()
	if err != nil {
		return outcome{}, err
	}
	rv, err := d.evalExpr(rhs)
	if err != nil {
		return outcome{}, err
	}
	nv, err := d.applyCompound(n.Op, cur, rv)
	if err != nil {
		return outcome{}, err
	}
	if err := lv.set(nv); err != nil {
		return outcome{}, err
	}
	if lv.identName != "" {
		d.emitVarSet(lv.identName, nv)
	}
	return normalOutcome, nil
}

func (d *Driver) execIf(n *Node) (outcome, error) {
	condN, thenN, elseN := n.child(0), n.child(1), n.child(2)
	cv, err := d.evalExpr(condN)
	if err != nil {
		return outcome{}, err
	}
	if cv.Truthy() {
		return d.execBlock(thenN.Children)
	}
	if elseN == nil {
		return normalOutcome, nil
	}
	if elseN.Kind == NIf {
		return d.execStmt(elseN)
	}
	return d.execBlock(elseN.Children)
}

func loopLimitSignal(phase string, iterations uint32) *terminatedSignal {
	return &terminatedSignal{
		phase:      phase,
		iterations: iterations,
		message:    fmt.Sprintf("%s loop iteration cap (%d) reached", phase, iterations),
	}
}

func (d *Driver) execWhile(n *Node) (outcome, error) {
	condN, bodyN := n.child(0), n.child(1)
	d.governor.ResetInternal(n)
	for {
		cv, err := d.evalExpr(condN)
		if err != nil {
			return outcome{}, err
		}
		if !cv.Truthy() {
			return normalOutcome, nil
		}
		if !d.governor.BeginInternalIteration(n) {
			return outcome{}, loopLimitSignal("internal", d.governor.internalCounters[n])
		}
		outc, err := d.execBlock(bodyN.Children)
		if err != nil {
			return outcome{}, err
		}
		d.governor.CommitInternalIteration(n)
		if outc.kind == outReturn {
			return outc, nil
		}
		if outc.kind == outBreak {
			return normalOutcome, nil
		}
	}
}

func (d *Driver) execDoWhile(n *Node) (outcome, error) {
	bodyN, condN := n.child(0), n.child(1)
	d.governor.ResetInternal(n)
	for {
		if !d.governor.BeginInternalIteration(n) {
			return outcome{}, loopLimitSignal("internal", d.governor.internalCounters[n])
		}
		outc, err := d.execBlock(bodyN.Children)
		if err != nil {
			return outcome{}, err
		}
		d.governor.CommitInternalIteration(n)
		if outc.kind == outReturn {
			return outc, nil
		}
		if outc.kind == outBreak {
			return normalOutcome, nil
		}
		cv, err := d.evalExpr(condN)
		if err != nil {
			return outcome{}, err
		}
		if !cv.Truthy() {
			return normalOutcome, nil
		}
	}
}

func (d *Driver) execFor(n *Node) (outcome, error) {
	initN, condN, updateN, bodyN := n.child(0), n.child(1), n.child(2), n.child(3)
	tok := d.scope.PushBlockFrame()
	defer d.scope.Pop(tok)
	if initN != nil {
		if _, err := d.execStmt(initN); err != nil {
			return outcome{}, err
		}
	}
	d.governor.ResetInternal(n)
	for {
		if condN != nil {
			cv, err := d.evalExpr(condN)
			if err != nil {
				return outcome{}, err
			}
			if !cv.Truthy() {
				return normalOutcome, nil
			}
		}
		if !d.governor.BeginInternalIteration(n) {
			return outcome{}, loopLimitSignal("internal", d.governor.internalCounters[n])
		}
		outc, err := d.execBlock(bodyN.Children)
		if err != nil {
			return outcome{}, err
		}
		d.governor.CommitInternalIteration(n)
		if outc.kind == outReturn {
			return outc, nil
		}
		brk := outc.kind == outBreak
		if !brk && updateN != nil {
			// continue jumps here: the update still runs before the next
			// condition test.
			if _, err := d.execStmt(updateN); err != nil {
				return outcome{}, err
			}
		}
		if brk {
			return normalOutcome, nil
		}
	}
}

func (d *Driver) execSwitch(n *Node) (outcome, error) {
	discN := n.child(0)
	dv, err := d.evalExpr(discN)
	if err != nil {
		return outcome{}, err
	}
	segs := n.Children[1:]
	startIdx, defaultIdx := -1, -1
	for i, seg := range segs {
		if seg.Kind == NDefault {
			defaultIdx = i
			continue
		}
		cv, err := d.evalExpr(seg.child(0))
		if err != nil {
			return outcome{}, err
		}
		if valuesEqual(dv, cv) {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		if defaultIdx == -1 {
			return normalOutcome, nil
		}
		startIdx = defaultIdx
	}
	tok := d.scope.PushBlockFrame()
	defer d.scope.Pop(tok)
	for i := startIdx; i < len(segs); i++ {
		seg := segs[i]
		var stmts []*Node
		if seg.Kind == NCase {
			stmts = seg.Children[1:]
		} else {
			stmts = seg.Children
		}
		outc, err := d.execStmts(stmts)
		if err != nil {
			return outcome{}, err
		}
		switch outc.kind {
		case outBreak:
			return normalOutcome, nil
		case outReturn, outContinue:
			return outc, nil
		}
	}
	return normalOutcome, nil
}

// evalExpr is the expression visitor. Literals, identifiers and operators
// have no side effects; builtin and user-function calls, assignment
// expressions and ++/-- do.
func (d *Driver) evalExpr(n *Node) (Value, error) {
	switch n.Kind {
	case NIntLit:
		return IntValue(int32(n.IntVal)), nil
	case NFloatLit:
		return FloatValue(n.FloatVal), nil
	case NStringLit:
		return StringValue(n.StrVal), nil
	case NBoolLit:
		return BoolValue(n.BoolVal), nil
	case NIdent:
		return d.evalIdent(n.Ident)
	case NBinaryExpr:
		return d.evalBinary(n)
	case NUnaryExpr:
		return d.evalUnary(n)
	case NTernary:
		cv, err := d.evalExpr(n.child(0))
		if err != nil {
			return Value{}, err
		}
		if cv.Truthy() {
			return d.evalExpr(n.child(1))
		}
		return d.evalExpr(n.child(2))
	case NPreIncDec, NPostIncDec:
		return d.evalIncDec(n)
	case NIndexExpr, NMemberExpr:
		lv, err := d.resolveLValue(n)
		if err != nil {
			return Value{}, err
		}
		return lv.get()
	case NCallExpr:
		return d.evalCall(n)
	case NCastExpr:
		return d.evalCast(n)
	case NArrayLit:
		return d.evalArrayLit(n)
	case NStructLit:
		return d.evalStructLit(n)
	case NAssign:
		if _, err := d.execAssign(n); err != nil {
			return Value{}, err
		}
		lv, err := d.resolveLValue(n.child(0))
		if err != nil {
			return Value{}, err
		}
		return lv.get()
	case NCompoundAssign:
		if _, err := d.execCompoundAssign(n); err != nil {
			return Value{}, err
		}
		lv, err := d.resolveLValue(n.child(0))
		if err != nil {
			return Value{}, err
		}
		return lv.get()
	default:
		return Value{}, newError(InternalInvariant, "unhandled expression node kind %d", n.Kind)
	}
}

func (d *Driver) evalIdent(name string) (Value, error) {
	b := d.scope.Lookup(name)
	if b == nil {
		return Value{}, newError(UndefinedName, "undefined variable %q", name)
	}
	return d.derefValue(b.Value)
}

// derefValue follows a (possibly chained) Reference through to the
// underlying stored value; references are transparent on read.
func (d *Driver) derefValue(v Value) (Value, error) {
	for v.Kind == KindReference {
		rb, err := d.scope.resolveReference(v.Ref)
		if err != nil {
			return Value{}, err
		}
		if len(v.Ref.Indices) == 1 {
			return rb.Value.get1D(v.Ref.Indices[0])
		}
		if len(v.Ref.Indices) == 2 {
			return rb.Value.get2D(v.Ref.Indices[0], v.Ref.Indices[1])
		}
		v = rb.Value
	}
	return v, nil
}

func (d *Driver) evalBinary(n *Node) (Value, error) {
	switch n.Op {
	case "&&":
		lv, err := d.evalExpr(n.child(0))
		if err != nil {
			return Value{}, err
		}
		if !lv.Truthy() {
			return BoolValue(false), nil
		}
		rv, err := d.evalExpr(n.child(1))
		if err != nil {
			return Value{}, err
		}
		return BoolValue(rv.Truthy()), nil
	case "||":
		lv, err := d.evalExpr(n.child(0))
		if err != nil {
			return Value{}, err
		}
		if lv.Truthy() {
			return BoolValue(true), nil
		}
		rv, err := d.evalExpr(n.child(1))
		if err != nil {
			return Value{}, err
		}
		return BoolValue(rv.Truthy()), nil
	}
	lv, err := d.evalExpr(n.child(0))
	if err != nil {
		return Value{}, err
	}
	rv, err := d.evalExpr(n.child(1))
	if err != nil {
		return Value{}, err
	}
	switch n.Op {
	case "+":
		return add(lv, rv)
	case "-":
		return sub(lv, rv)
	case "*":
		return mul(lv, rv)
	case "/":
		return div(lv, rv)
	case "%":
		return mod(lv, rv)
	case "==":
		return BoolValue(valuesEqual(lv, rv)), nil
	case "!=":
		return BoolValue(!valuesEqual(lv, rv)), nil
	case "<":
		return BoolValue(compareValues(lv, rv) < 0), nil
	case "<=":
		return BoolValue(compareValues(lv, rv) <= 0), nil
	case ">":
		return BoolValue(compareValues(lv, rv) > 0), nil
	case ">=":
		return BoolValue(compareValues(lv, rv) >= 0), nil
	case "&":
		return IntValue(lv.AsInt() & rv.AsInt()), nil
	case "|":
		return IntValue(lv.AsInt() | rv.AsInt()), nil
	case "^":
		return IntValue(lv.AsInt() ^ rv.AsInt()), nil
	case "<<":
		return IntValue(lv.AsInt() << uint32(rv.AsInt())), nil
	case ">>":
		return IntValue(lv.AsInt() >> uint32(rv.AsInt())), nil
	default:
		return Value{}, newError(InternalInvariant, "unknown binary operator %q", n.Op)
	}
}

func (d *Driver) evalUnary(n *Node) (Value, error) {
	v, err := d.evalExpr(n.child(0))
	if err != nil {
		return Value{}, err
	}
	switch n.Op {
	case "-":
		if v.isFloaty() {
			return FloatValue(-v.F64), nil
		}
		return IntValue(-v.AsInt()), nil
	case "+":
		return v, nil
	case "!":
		return BoolValue(!v.Truthy()), nil
	case "~":
		return IntValue(^v.AsInt()), nil
	default:
		return Value{}, newError(InternalInvariant, "unknown unary operator %q", n.Op)
	}
}

func (d *Driver) evalIncDec(n *Node) (Value, error) {
	target := n.child(0)
	lv, err := d.resolveLValue(target)
	if err != nil {
		return Value{}, err
	}
	cur, err := lv.get()
	if err != nil {
		return Value{}, err
	}
	delta := int32(1)
	if n.Op == "--" {
		delta = -1
	}
	var nv Value
	if cur.isFloaty() {
		nv = FloatValue(cur.F64 + float64(delta))
	} else {
		nv = IntValue(cur.AsInt() + delta)
	}
	if err := lv.set(nv); err != nil {
		return Value{}, err
	}
	if lv.identName != "" {
		d.emitVarSet(lv.identName, nv)
	}
	if n.Kind == NPreIncDec {
		return nv, nil
	}
	return cur, nil
}

func (d *Driver) evalCast(n *Node) (Value, error) {
	v, err := d.evalExpr(n.child(0))
	if err != nil {
		return Value{}, err
	}
	switch n.TypeName {
	case "int", "char", "byte", "long", "short":
		return IntValue(v.AsInt()), nil
	case "unsigned int", "unsigned long", "byte_u":
		return UintValue(uint32(v.AsInt())), nil
	case "float", "double":
		return FloatValue(v.AsDouble()), nil
	case "bool", "boolean":
		return BoolValue(v.Truthy()), nil
	case "string", "String":
		return StringValue(v.AsString()), nil
	default:
		return Value{}, newError(TypeMismatch, "unsupported cast to %q", n.TypeName)
	}
}

func elemKindForTypeName(t string) ElemKind {
	switch t {
	case "float", "double":
		return ElemFloat64
	case "string", "String":
		return ElemString
	default:
		return ElemInt32
	}
}

func elemKindFromValue(v Value) ElemKind {
	switch v.Kind {
	case KindFloat64:
		return ElemFloat64
	case KindString:
		return ElemString
	default:
		return ElemInt32
	}
}

func (d *Driver) evalArrayLit(n *Node) (Value, error) {
	vals := make([]Value, len(n.Children))
	for i, c := range n.Children {
		v, err := d.evalExpr(c)
		if err != nil {
			return Value{}, err
		}
		vals[i] = v
	}
	elem := elemKindForTypeName(n.TypeName)
	if n.TypeName == "" && len(vals) > 0 {
		elem = elemKindFromValue(vals[0])
	}
	switch elem {
	case ElemFloat64:
		out := make([]float64, len(vals))
		for i, v := range vals {
			out[i] = v.AsDouble()
		}
		return Array1FValue(out), nil
	case ElemString:
		out := make([]string, len(vals))
		for i, v := range vals {
			out[i] = v.AsString()
		}
		return Array1SValue(out), nil
	default:
		out := make([]int32, len(vals))
		for i, v := range vals {
			out[i] = v.AsInt()
		}
		return Array1IValue(out), nil
	}
}

func (d *Driver) evalStructLit(n *Node) (Value, error) {
	decl, ok := d.structs[n.Ident]
	if !ok {
		return Value{}, newError(UndefinedName, "undefined struct type %q", n.Ident)
	}
	sv := newStructValue(n.Ident)
	for i, fieldDecl := range decl.Children {
		var v Value
		if i < len(n.Children) {
			var err error
			v, err = d.evalExpr(n.Children[i])
			if err != nil {
				return Value{}, err
			}
			v = d.coerceToDeclType(fieldDecl, v)
		} else {
			v = d.zeroValueForDecl(fieldDecl)
		}
		sv.set(fieldDecl.Ident, v)
	}
	return StructVal(sv), nil
}

func (d *Driver) zeroValueForDecl(n *Node) Value {
	if len(n.ArrayDims) == 1 {
		elem := elemKindForTypeName(n.TypeName)
		size := n.ArrayDims[0]
		switch elem {
		case ElemFloat64:
			return Array1FValue(make([]float64, size))
		case ElemString:
			return Array1SValue(make([]string, size))
		default:
			return Array1IValue(make([]int32, size))
		}
	}
	if len(n.ArrayDims) == 2 {
		elem := elemKindForTypeName(n.TypeName)
		rows, cols := n.ArrayDims[0], n.ArrayDims[1]
		if elem == ElemFloat64 {
			a := make([][]float64, rows)
			for i := range a {
				a[i] = make([]float64, cols)
			}
			return Array2FValue(a)
		}
		a := make([][]int32, rows)
		for i := range a {
			a[i] = make([]int32, cols)
		}
		return Array2IValue(a)
	}
	if strings.HasPrefix(n.TypeName, "struct:") {
		typeName := strings.TrimPrefix(n.TypeName, "struct:")
		decl, ok := d.structs[typeName]
		if !ok {
			return VoidValue()
		}
		sv := newStructValue(typeName)
		for _, fd := range decl.Children {
			sv.set(fd.Ident, d.zeroValueForDecl(fd))
		}
		return StructVal(sv)
	}
	switch n.TypeName {
	case "bool", "boolean":
		return BoolValue(false)
	case "float", "double":
		return FloatValue(0)
	case "string", "String":
		return StringValue("")
	default:
		return IntValue(0)
	}
}

func (d *Driver) coerceToDeclType(n *Node, v Value) Value {
	if len(n.ArrayDims) > 0 || strings.HasPrefix(n.TypeName, "struct:") {
		return v
	}
	switch n.TypeName {
	case "bool", "boolean":
		return BoolValue(v.Truthy())
	case "float", "double":
		return FloatValue(v.AsDouble())
	case "string", "String":
		return StringValue(v.AsString())
	case "":
		return v
	default:
		return IntValue(v.AsInt())
	}
}

func (d *Driver) emitVarSet(name string, v Value) {
	d.emitter.Emit(CmdVarSet, f("variable", name), f("value", toEmitValue(v)))
}

func (d *Driver) emitFunctionCall(name string, args []Value) {
	emitArgs := make([]interface{}, len(args))
	for i, a := range args {
		emitArgs[i] = toEmitValue(a)
	}
	d.emitter.Emit(CmdFunctionCall, f("function", name), f("arguments", emitArgs))
}

func toEmitValue(v Value) interface{} {
	switch v.Kind {
	case KindVoid:
		return nil
	case KindBool:
		return v.Bool
	case KindInt32:
		return v.I32
	case KindUint32:
		return v.U32
	case KindFloat64:
		return v.F64
	case KindString:
		return v.Str
	case KindArray1D:
		switch v.Elem {
		case ElemFloat64:
			return append([]float64(nil), v.Arr1F...)
		case ElemString:
			return append([]string(nil), v.Arr1S...)
		default:
			return append([]int32(nil), v.Arr1I...)
		}
	case KindArray2D:
		if v.Elem == ElemFloat64 {
			return v.Arr2F
		}
		return v.Arr2I
	case KindStruct:
		m := make(map[string]interface{}, len(v.Struct.Order))
		for _, k := range v.Struct.Order {
			m[k] = toEmitValue(v.Struct.Fields[k])
		}
		return m
	default:
		return v.AsString()
	}
}

func isIntegerIndexValue(v Value) bool {
	switch v.Kind {
	case KindInt32, KindUint32, KindBool:
		return true
	case KindFloat64:
		return v.F64 == math.Trunc(v.F64)
	default:
		return false
	}
}

// lvalue is a generic addressable access path: get/set close over
// whatever storage actually holds the value (a Binding, a nested array
// element, or a struct field), so assignment works uniformly regardless
// of nesting.
type lvalue struct {
	get func() (Value, error)
	set func(Value) error
	// identName is non-empty only when this lvalue denotes a whole plain
	// variable, not an index or member access. VAR_SET fires exactly once
	// per source-level assignment expression on a named variable, never on
	// array/struct element writes.
	identName string
}

func (d *Driver) resolveLValue(n *Node) (*lvalue, error) {
	switch n.Kind {
	case NIdent:
		fr, b := d.scope.LookupFrame(n.Ident)
		if b == nil {
			return nil, newError(UndefinedName, "undefined variable %q", n.Ident)
		}
		if b.Value.Kind == KindReference {
			return d.resolveReferenceLValue(b.Value.Ref, n.Ident)
		}
		_ = fr
		name := n.Ident
		binding := b
		return &lvalue{
			get: func() (Value, error) { return binding.Value, nil },
			set: func(v Value) error {
				if binding.IsConst {
					return newError(TypeMismatch, "cannot assign to const %q", name)
				}
				binding.Value = v
				return nil
			},
			identName: name,
		}, nil
	case NIndexExpr:
		baseLV, err := d.resolveLValue(n.child(0))
		if err != nil {
			return nil, err
		}
		idx1v, err := d.evalExpr(n.child(1))
		if err != nil {
			return nil, err
		}
		if !isIntegerIndexValue(idx1v) {
			return nil, newError(IndexOutOfRange, "non-integer index")
		}
		idx1 := int(idx1v.AsInt())
		if len(n.Children) == 3 {
			idx2v, err := d.evalExpr(n.child(2))
			if err != nil {
				return nil, err
			}
			if !isIntegerIndexValue(idx2v) {
				return nil, newError(IndexOutOfRange, "non-integer index")
			}
			idx2 := int(idx2v.AsInt())
			return &lvalue{
				get: func() (Value, error) {
					bv, err := baseLV.get()
					if err != nil {
						return Value{}, err
					}
					return bv.get2D(idx1, idx2)
				},
				set: func(v Value) error {
					bv, err := baseLV.get()
					if err != nil {
						return err
					}
					if err := bv.set2D(idx1, idx2, v); err != nil {
						return err
					}
					return baseLV.set(bv)
				},
			}, nil
		}
		return &lvalue{
			get: func() (Value, error) {
				bv, err := baseLV.get()
				if err != nil {
					return Value{}, err
				}
				return bv.get1D(idx1)
			},
			set: func(v Value) error {
				bv, err := baseLV.get()
				if err != nil {
					return err
				}
				if err := bv.set1D(idx1, v); err != nil {
					return err
				}
				return baseLV.set(bv)
			},
		}, nil
	case NMemberExpr:
		baseLV, err := d.resolveLValue(n.child(0))
		if err != nil {
			return nil, err
		}
		field := n.Ident
		return &lvalue{
			get: func() (Value, error) {
				bv, err := baseLV.get()
				if err != nil {
					return Value{}, err
				}
				return bv.fieldGet(field)
			},
			set: func(v Value) error {
				bv, err := baseLV.get()
				if err != nil {
					return err
				}
				if err := bv.fieldSet(field, v); err != nil {
					return err
				}
				return baseLV.set(bv)
			},
		}, nil
	default:
		return nil, newError(TypeMismatch, "expression is not assignable")
	}
}

func (d *Driver) resolveReferenceLValue(ref *Reference, name string) (*lvalue, error) {
	b, err := d.scope.resolveReference(ref)
	if err != nil {
		return nil, err
	}
	if len(ref.Indices) == 0 {
		if b.Value.Kind == KindReference {
			return d.resolveReferenceLValue(b.Value.Ref, name)
		}
		binding := b
		return &lvalue{
			get: func() (Value, error) { return binding.Value, nil },
			set: func(v Value) error {
				if binding.IsConst {
					return newError(TypeMismatch, "cannot assign to const %q", name)
				}
				binding.Value = v
				return nil
			},
			identName: name,
		}, nil
	}
	if len(ref.Indices) == 1 {
		idx := ref.Indices[0]
		return &lvalue{
			get: func() (Value, error) { return b.Value.get1D(idx) },
			set: func(v Value) error { return b.Value.set1D(idx, v) },
		}, nil
	}
	idx1, idx2 := ref.Indices[0], ref.Indices[1]
	return &lvalue{
		get: func() (Value, error) { return b.Value.get2D(idx1, idx2) },
		set: func(v Value) error { return b.Value.set2D(idx1, idx2, v) },
	}, nil
}

// bindRefArgument builds the Reference a reference parameter binds to,
// supporting a plain variable or one of its array elements.
func (d *Driver) bindRefArgument(argNode *Node) (*Reference, error) {
	switch argNode.Kind {
	case NIdent:
		fr, b := d.scope.LookupFrame(argNode.Ident)
		if b == nil {
			return nil, newError(UndefinedName, "undefined variable %q", argNode.Ident)
		}
		return &Reference{FrameID: fr.id, Key: argNode.Ident}, nil
	case NIndexExpr:
		base := argNode.child(0)
		if base.Kind != NIdent {
			return nil, newError(TypeMismatch, "reference argument must be a simple array element")
		}
		fr, b := d.scope.LookupFrame(base.Ident)
		if b == nil {
			return nil, newError(UndefinedName, "undefined variable %q", base.Ident)
		}
		idx1v, err := d.evalExpr(argNode.child(1))
		if err != nil {
			return nil, err
		}
		idx1 := int(idx1v.AsInt())
		if len(argNode.Children) == 3 {
			idx2v, err := d.evalExpr(argNode.child(2))
			if err != nil {
				return nil, err
			}
			return &Reference{FrameID: fr.id, Key: base.Ident, Indices: []int{idx1, int(idx2v.AsInt())}}, nil
		}
		return &Reference{FrameID: fr.id, Key: base.Ident, Indices: []int{idx1}}, nil
	default:
		return nil, newError(TypeMismatch, "reference argument must be addressable")
	}
}

// evalCall dispatches a call expression to a user function, a static
// builtin, or (for things like myString.length()) a runtime-receiver
// method, in that precedence order.
func (d *Driver) evalCall(n *Node) (Value, error) {
	name := n.Ident
	if fn, ok := d.funcs[name]; ok {
		return d.callUserFunction(fn, n.Children)
	}
	if bfn, ok := builtinTable[name]; ok {
		args := make([]Value, len(n.Children))
		for i, c := range n.Children {
			v, err := d.evalExpr(c)
			if err != nil {
				return Value{}, err
			}
			args[i] = v
		}
		return bfn(d, args)
	}
	if idx := strings.IndexByte(name, '.'); idx >= 0 {
		recvName, method := name[:idx], name[idx+1:]
		if b := d.scope.Lookup(recvName); b != nil {
			args := make([]Value, len(n.Children))
			for i, c := range n.Children {
				v, err := d.evalExpr(c)
				if err != nil {
					return Value{}, err
				}
				args[i] = v
			}
			recv, err := d.derefValue(b.Value)
			if err != nil {
				return Value{}, err
			}
			return callStringMethod(recv, method, args)
		}
	}
	return Value{}, newError(UndefinedName, "undefined function %q", name)
}

// callUserFunction implements the user-function call protocol: evaluate
// arguments left to right, push a function frame parented at the global
// frame, bind parameters, run the body, pop the frame.
func (d *Driver) callUserFunction(fn *Node, argExprs []*Node) (Value, error) {
	params := fn.Children[:len(fn.Children)-1]
	body := fn.Children[len(fn.Children)-1]
	if len(argExprs) != len(params) {
		return Value{}, newError(WrongArity, "function %q expects %d argument(s), got %d", fn.Ident, len(params), len(argExprs))
	}
	argVals := make([]Value, len(argExprs))
	for i, pn := range params {
		if pn.IsRef {
			ref, err := d.bindRefArgument(argExprs[i])
			if err != nil {
				return Value{}, err
			}
			argVals[i] = RefValue(ref)
		} else {
			v, err := d.evalExpr(argExprs[i])
			if err != nil {
				return Value{}, err
			}
			argVals[i] = v
		}
	}
	if d.opt.Verbose {
		logArgs := make([]Value, len(argVals))
		for i, v := range argVals {
			dv, err := d.derefValue(v)
			if err != nil {
				dv = v
			}
			logArgs[i] = dv
		}
		d.emitFunctionCall(fn.Ident, logArgs)
		d.verboseLog("call %s(%v)", fn.Ident, logArgs)
	}
	tok := d.scope.PushFunctionFrame()
	defer d.scope.Pop(tok)
	for i, pn := range params {
		if err := d.scope.Declare(pn.Ident, argVals[i], false, pn.IsRef); err != nil {
			return Value{}, err
		}
	}
	outc, err := d.execBlock(body.Children)
	if err != nil {
		return Value{}, err
	}
	if outc.kind == outReturn {
		return outc.value, nil
	}
	return VoidValue(), nil
}

// callNamedFunction runs setup()/loop() (always zero-arg, per the
// Arduino dialect) in a fresh function frame.
func (d *Driver) callNamedFunction(name string) error {
	fn, ok := d.funcs[name]
	if !ok {
		return newError(UndefinedName, "missing required function %q", name)
	}
	tok := d.scope.PushFunctionFrame()
	defer d.scope.Pop(tok)
	body := fn.Children[len(fn.Children)-1]
	_, err := d.execBlock(body.Children)
	return err
}
