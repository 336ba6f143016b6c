package astbin_test

import (
	"testing"

	"github.com/sfranzyshen/goasti/internal/astbin"
)

// TestBuilderDecodeRoundTrip checks that encoding a small node tree with
// Builder and decoding it back with Decode reproduces every payload field,
// including shared-string interning and multi-dimensional array decls.
func TestBuilderDecodeRoundTrip(t *testing.T) {
	b := astbin.NewBuilder()
	lit := b.Node(astbin.NodeSpec{Kind: 1, IntVal: 42})
	dup := b.Node(astbin.NodeSpec{Kind: 1, Ident: "shared"})
	ident := b.Node(astbin.NodeSpec{Kind: 2, Ident: "shared"})
	decl := b.Node(astbin.NodeSpec{
		Kind:      3,
		Children:  []uint32{lit, dup, ident},
		TypeName:  "int",
		ArrayDims: []int{2, 3},
		IsRef:     true,
		IsConst:   true,
		FloatVal:  3.5,
		StrVal:    "hello",
		BoolVal:   true,
	})
	data := b.Encode()

	root, err := astbin.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if root.Kind != 3 {
		t.Fatalf("want root kind 3, got %d", root.Kind)
	}
	if len(root.Children) != 3 {
		t.Fatalf("want 3 children, got %d", len(root.Children))
	}
	if root.Children[0].IntVal != 42 {
		t.Errorf("want first child IntVal=42, got %d", root.Children[0].IntVal)
	}
	if root.Children[1].Ident != "shared" || root.Children[2].Ident != "shared" {
		t.Errorf("want both shared-string idents to decode back to %q", "shared")
	}
	if root.TypeName != "int" {
		t.Errorf("want TypeName=int, got %q", root.TypeName)
	}
	if len(root.ArrayDims) != 2 || root.ArrayDims[0] != 2 || root.ArrayDims[1] != 3 {
		t.Errorf("want ArrayDims=[2 3], got %v", root.ArrayDims)
	}
	if !root.IsRef || !root.IsConst {
		t.Errorf("want IsRef and IsConst both true, got IsRef=%v IsConst=%v", root.IsRef, root.IsConst)
	}
	if root.FloatVal != 3.5 {
		t.Errorf("want FloatVal=3.5, got %v", root.FloatVal)
	}
	if root.StrVal != "hello" {
		t.Errorf("want StrVal=hello, got %q", root.StrVal)
	}
	if !root.BoolVal {
		t.Errorf("want BoolVal=true")
	}
	_ = decl
}

// TestDecodeRejectsBadMagic checks the header check fails closed on
// non-ASTP input rather than misinterpreting arbitrary bytes as nodes.
func TestDecodeRejectsBadMagic(t *testing.T) {
	if _, err := astbin.Decode([]byte("not an astp buffer")); err == nil {
		t.Fatal("want an error for a bad magic header")
	}
}

// TestDecodeRejectsForwardChildReference checks the "node N references
// non-prior child" guard: since the stream is post-order, a child index
// must never point forward or at itself.
func TestDecodeRejectsForwardChildReference(t *testing.T) {
	b := astbin.NewBuilder()
	b.Node(astbin.NodeSpec{Kind: 1, Children: []uint32{5}})
	if _, err := astbin.Decode(b.Encode()); err == nil {
		t.Fatal("want an error for a forward child reference")
	}
}
