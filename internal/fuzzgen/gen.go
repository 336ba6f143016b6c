// Package fuzzgen generates small, well-typed Arduino-shaped programs as
// encoded ASTP buffers, for property-based determinism tests. It has no
// notion of how those programs are evaluated; it only ever builds valid
// node trees through internal/astbin's Builder, the same way interp's
// own tests construct fixtures by hand.
package fuzzgen

import (
	"math/rand"

	"github.com/sfranzyshen/goasti/internal/astbin"
	"github.com/sfranzyshen/goasti/interp"
)

// Options bounds the shape of a generated program.
type Options struct {
	// MaxStatements caps the number of statements in loop()'s body.
	MaxStatements int
	// MaxDepth caps expression nesting so generated arithmetic terminates.
	MaxDepth int
	// Vars is the number of int-typed locals loop() declares and draws
	// from when building expressions.
	Vars int
}

// DefaultOptions mirrors the scale of the hand-written fixtures in
// interp/generic_test.go: a handful of statements over a handful of
// variables.
func DefaultOptions() Options {
	return Options{MaxStatements: 8, MaxDepth: 3, Vars: 4}
}

// Generator builds random programs from a seeded source, so a failing
// case can be reported and reproduced by its seed alone.
type Generator struct {
	rnd  *rand.Rand
	opt  Options
	vars []string
}

// New returns a Generator seeded deterministically; the same seed and
// Options always produce the same program.
func New(seed int64, opt Options) *Generator {
	if opt.MaxStatements <= 0 {
		opt.MaxStatements = 1
	}
	if opt.MaxDepth <= 0 {
		opt.MaxDepth = 1
	}
	if opt.Vars <= 0 {
		opt.Vars = 1
	}
	g := &Generator{rnd: rand.New(rand.NewSource(seed)), opt: opt}
	for i := 0; i < opt.Vars; i++ {
		g.vars = append(g.vars, string(rune('a'+i)))
	}
	return g
}

var arithOps = []string{"+", "-", "*"}
var cmpOps = []string{"<", "<=", ">", ">=", "==", "!="}

// Generate encodes setup() { pinMode(13, 1); } loop() { <random int
// arithmetic and hardware calls over g.vars> }. loop() always begins by
// declaring every variable with a seeded initial value in 0..9, so the
// program is self-contained and deterministic from run to run.
func (g *Generator) Generate() []byte {
	b := astbin.NewBuilder()
	n := func(kind interp.NodeKind, spec astbin.NodeSpec) uint32 {
		spec.Kind = uint8(kind)
		return b.Node(spec)
	}

	var setupStmts []uint32
	setupStmts = append(setupStmts, n(interp.NExprStmt, astbin.NodeSpec{
		Children: []uint32{n(interp.NCallExpr, astbin.NodeSpec{Ident: "pinMode", Children: []uint32{
			n(interp.NIntLit, astbin.NodeSpec{IntVal: 13}),
			n(interp.NIntLit, astbin.NodeSpec{IntVal: 1}),
		}})},
	}))
	setup := n(interp.NFuncDecl, astbin.NodeSpec{Ident: "setup", TypeName: "void", Children: []uint32{
		n(interp.NBlock, astbin.NodeSpec{Children: setupStmts}),
	}})

	var loopStmts []uint32
	for _, v := range g.vars {
		loopStmts = append(loopStmts, n(interp.NVarDecl, astbin.NodeSpec{
			Ident: v, TypeName: "int",
			Children: []uint32{n(interp.NIntLit, astbin.NodeSpec{IntVal: int64(g.rnd.Intn(10))})},
		}))
	}
	for i := 0; i < g.opt.MaxStatements; i++ {
		loopStmts = append(loopStmts, g.statement(n))
	}
	loop := n(interp.NFuncDecl, astbin.NodeSpec{Ident: "loop", TypeName: "void", Children: []uint32{
		n(interp.NBlock, astbin.NodeSpec{Children: loopStmts}),
	}})

	n(interp.NProgram, astbin.NodeSpec{Children: []uint32{setup, loop}})
	return b.Encode()
}

type nodeFn func(kind interp.NodeKind, spec astbin.NodeSpec) uint32

func (g *Generator) statement(n nodeFn) uint32 {
	v := g.vars[g.rnd.Intn(len(g.vars))]
	switch g.rnd.Intn(4) {
	case 0:
		return n(interp.NExprStmt, astbin.NodeSpec{
			Children: []uint32{n(interp.NAssign, astbin.NodeSpec{
				Children: []uint32{n(interp.NIdent, astbin.NodeSpec{Ident: v}), g.expr(n, g.opt.MaxDepth)},
			})},
		})
	case 1:
		return n(interp.NExprStmt, astbin.NodeSpec{
			Children: []uint32{n(interp.NCallExpr, astbin.NodeSpec{Ident: "digitalWrite", Children: []uint32{
				n(interp.NIntLit, astbin.NodeSpec{IntVal: 13}),
				n(interp.NBinaryExpr, astbin.NodeSpec{Op: "%", Children: []uint32{n(interp.NIdent, astbin.NodeSpec{Ident: v}), n(interp.NIntLit, astbin.NodeSpec{IntVal: 2})}}),
			}})},
		})
	case 2:
		cond := n(interp.NBinaryExpr, astbin.NodeSpec{Op: cmpOps[g.rnd.Intn(len(cmpOps))], Children: []uint32{
			n(interp.NIdent, astbin.NodeSpec{Ident: v}), n(interp.NIntLit, astbin.NodeSpec{IntVal: int64(g.rnd.Intn(10))}),
		}})
		then := n(interp.NBlock, astbin.NodeSpec{Children: []uint32{n(interp.NExprStmt, astbin.NodeSpec{
			Children: []uint32{n(interp.NCompoundAssign, astbin.NodeSpec{Op: "+=", Children: []uint32{
				n(interp.NIdent, astbin.NodeSpec{Ident: v}), n(interp.NIntLit, astbin.NodeSpec{IntVal: 1}),
			}})},
		})}})
		return n(interp.NIf, astbin.NodeSpec{Children: []uint32{cond, then}})
	default:
		return n(interp.NExprStmt, astbin.NodeSpec{
			Children: []uint32{n(interp.NCallExpr, astbin.NodeSpec{Ident: "delay", Children: []uint32{
				n(interp.NIntLit, astbin.NodeSpec{IntVal: int64(g.rnd.Intn(50))}),
			}})},
		})
	}
}

func (g *Generator) expr(n nodeFn, depth int) uint32 {
	if depth <= 0 || g.rnd.Intn(3) == 0 {
		if g.rnd.Intn(2) == 0 {
			return n(interp.NIntLit, astbin.NodeSpec{IntVal: int64(g.rnd.Intn(20))})
		}
		return n(interp.NIdent, astbin.NodeSpec{Ident: g.vars[g.rnd.Intn(len(g.vars))]})
	}
	op := arithOps[g.rnd.Intn(len(arithOps))]
	return n(interp.NBinaryExpr, astbin.NodeSpec{Op: op, Children: []uint32{
		g.expr(n, depth-1), g.expr(n, depth-1),
	}})
}
