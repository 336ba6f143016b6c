package interp

import "github.com/sfranzyshen/goasti/internal/astbin"

// fromRaw converts a decoded astbin.RawNode tree into this package's own
// Node type. astbin stays a pure wire-format codec with no notion of
// node-kind semantics; this is the one place that reinterprets its
// opaque Kind byte as this package's NodeKind enum, whose ordinal values
// (ast.go) are the format's authoritative kind numbering.
func fromRaw(r *astbin.RawNode) *Node {
	if r == nil {
		return nil
	}
	children := make([]*Node, len(r.Children))
	for i, c := range r.Children {
		children[i] = fromRaw(c)
	}
	return &Node{
		Kind:      NodeKind(r.Kind),
		Children:  children,
		Ident:     r.Ident,
		Op:        r.Op,
		TypeName:  r.TypeName,
		IntVal:    r.IntVal,
		FloatVal:  r.FloatVal,
		StrVal:    r.StrVal,
		BoolVal:   r.BoolVal,
		ArrayDims: r.ArrayDims,
		IsRef:     r.IsRef,
		IsConst:   r.IsConst,
	}
}
