package interp_test

import (
	"github.com/sfranzyshen/goasti/internal/astbin"
	"github.com/sfranzyshen/goasti/interp"
)

// ab is a small builder DSL for constructing ASTP fixtures in tests,
// mirroring the node shapes interp/eval.go expects (see the field
// comments on ast.go's Node for the conventions each kind relies on).
type ab struct{ b *astbin.Builder }

func newAB() *ab { return &ab{b: astbin.NewBuilder()} }

func (a *ab) node(kind interp.NodeKind, spec astbin.NodeSpec) uint32 {
	spec.Kind = uint8(kind)
	return a.b.Node(spec)
}

func (a *ab) ident(name string) uint32 {
	return a.node(interp.NIdent, astbin.NodeSpec{Ident: name})
}

func (a *ab) intLit(v int64) uint32 {
	return a.node(interp.NIntLit, astbin.NodeSpec{IntVal: v})
}

func (a *ab) floatLit(v float64) uint32 {
	return a.node(interp.NFloatLit, astbin.NodeSpec{FloatVal: v})
}

func (a *ab) strLit(v string) uint32 {
	return a.node(interp.NStringLit, astbin.NodeSpec{StrVal: v})
}

func (a *ab) boolLit(v bool) uint32 {
	return a.node(interp.NBoolLit, astbin.NodeSpec{BoolVal: v})
}

func (a *ab) call(name string, args ...uint32) uint32 {
	return a.node(interp.NCallExpr, astbin.NodeSpec{Ident: name, Children: args})
}

func (a *ab) exprStmt(e uint32) uint32 {
	return a.node(interp.NExprStmt, astbin.NodeSpec{Children: []uint32{e}})
}

func (a *ab) binary(op string, l, r uint32) uint32 {
	return a.node(interp.NBinaryExpr, astbin.NodeSpec{Op: op, Children: []uint32{l, r}})
}

func (a *ab) unary(op string, x uint32) uint32 {
	return a.node(interp.NUnaryExpr, astbin.NodeSpec{Op: op, Children: []uint32{x}})
}

func (a *ab) index(base, idx uint32) uint32 {
	return a.node(interp.NIndexExpr, astbin.NodeSpec{Children: []uint32{base, idx}})
}

func (a *ab) index2(base, idx1, idx2 uint32) uint32 {
	return a.node(interp.NIndexExpr, astbin.NodeSpec{Children: []uint32{base, idx1, idx2}})
}

func (a *ab) assign(lhs, rhs uint32) uint32 {
	return a.node(interp.NAssign, astbin.NodeSpec{Children: []uint32{lhs, rhs}})
}

func (a *ab) compoundAssign(op string, lhs, rhs uint32) uint32 {
	return a.node(interp.NCompoundAssign, astbin.NodeSpec{Op: op, Children: []uint32{lhs, rhs}})
}

func (a *ab) postIncDec(op string, lhs uint32) uint32 {
	return a.node(interp.NPostIncDec, astbin.NodeSpec{Op: op, Children: []uint32{lhs}})
}

func (a *ab) block(stmts ...uint32) uint32 {
	return a.node(interp.NBlock, astbin.NodeSpec{Children: stmts})
}

// varDecl declares name : typeName, optionally with an initializer expr
// (pass 0 children to leave zero-valued).
func (a *ab) varDecl(name, typeName string, init ...uint32) uint32 {
	return a.node(interp.NVarDecl, astbin.NodeSpec{Ident: name, TypeName: typeName, Children: init})
}

func (a *ab) arrayVarDecl(name, elemType string, dims []int, init ...uint32) uint32 {
	return a.node(interp.NVarDecl, astbin.NodeSpec{Ident: name, TypeName: elemType, ArrayDims: dims, Children: init})
}

func (a *ab) param(name, typeName string, isRef bool) uint32 {
	return a.node(interp.NVarDecl, astbin.NodeSpec{Ident: name, TypeName: typeName, IsRef: isRef})
}

func (a *ab) ifStmt(cond, thenBlock uint32, elseBlock ...uint32) uint32 {
	children := []uint32{cond, thenBlock}
	if len(elseBlock) == 1 {
		children = append(children, elseBlock[0])
	}
	return a.node(interp.NIf, astbin.NodeSpec{Children: children})
}

func (a *ab) whileStmt(cond, body uint32) uint32 {
	return a.node(interp.NWhile, astbin.NodeSpec{Children: []uint32{cond, body}})
}

func (a *ab) doWhileStmt(body, cond uint32) uint32 {
	return a.node(interp.NDoWhile, astbin.NodeSpec{Children: []uint32{body, cond}})
}

func (a *ab) forStmt(init, cond, update, body uint32) uint32 {
	return a.node(interp.NFor, astbin.NodeSpec{Children: []uint32{init, cond, update, body}})
}

func (a *ab) breakStmt() uint32    { return a.node(interp.NBreak, astbin.NodeSpec{}) }
func (a *ab) continueStmt() uint32 { return a.node(interp.NContinue, astbin.NodeSpec{}) }

func (a *ab) returnStmt(v ...uint32) uint32 {
	return a.node(interp.NReturn, astbin.NodeSpec{Children: v})
}

func (a *ab) caseSeg(value uint32, stmts ...uint32) uint32 {
	return a.node(interp.NCase, astbin.NodeSpec{Children: append([]uint32{value}, stmts...)})
}

func (a *ab) defaultSeg(stmts ...uint32) uint32 {
	return a.node(interp.NDefault, astbin.NodeSpec{Children: stmts})
}

func (a *ab) switchStmt(disc uint32, segs ...uint32) uint32 {
	return a.node(interp.NSwitch, astbin.NodeSpec{Children: append([]uint32{disc}, segs...)})
}

// funcDecl builds a function with the given params (built via param())
// and body block, returning its node index.
func (a *ab) funcDecl(name, retType string, params []uint32, body uint32) uint32 {
	children := append(append([]uint32{}, params...), body)
	return a.node(interp.NFuncDecl, astbin.NodeSpec{Ident: name, TypeName: retType, Children: children})
}

func (a *ab) program(top ...uint32) []byte {
	a.node(interp.NProgram, astbin.NodeSpec{Children: top})
	return a.b.Encode()
}
