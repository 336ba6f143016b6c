package astbin

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Builder assembles an ASTP byte stream in post-order, for golden test
// fixtures and for package internal/fuzzgen, which uses it to turn
// generated programs into Driver input. Node returns the index to use as a Children entry in later
// (necessarily later, since the stream is post-order) Node calls.
type Builder struct {
	strings map[string]uint32
	strList []string
	nodes   []builtNode
}

type builtNode struct {
	kind      uint8
	children  []uint32
	ident     uint32
	op        uint32
	typeName  uint32
	intVal    int64
	floatVal  float64
	strVal    uint32
	boolVal   bool
	arrayDims []int
	isRef     bool
	isConst   bool
}

// NodeSpec mirrors RawNode's payload fields for Builder.Node's input.
type NodeSpec struct {
	Kind      uint8
	Children  []uint32
	Ident     string
	Op        string
	TypeName  string
	IntVal    int64
	FloatVal  float64
	StrVal    string
	BoolVal   bool
	ArrayDims []int
	IsRef     bool
	IsConst   bool
}

func NewBuilder() *Builder {
	return &Builder{strings: map[string]uint32{}}
}

func (b *Builder) intern(s string) uint32 {
	if s == "" {
		return noStringRef
	}
	if idx, ok := b.strings[s]; ok {
		return idx
	}
	idx := uint32(len(b.strList))
	b.strList = append(b.strList, s)
	b.strings[s] = idx
	return idx
}

// Node appends one node to the post-order stream and returns its index.
func (b *Builder) Node(spec NodeSpec) uint32 {
	b.nodes = append(b.nodes, builtNode{
		kind:      spec.Kind,
		children:  spec.Children,
		ident:     b.intern(spec.Ident),
		op:        b.intern(spec.Op),
		typeName:  b.intern(spec.TypeName),
		intVal:    spec.IntVal,
		floatVal:  spec.FloatVal,
		strVal:    b.intern(spec.StrVal),
		boolVal:   spec.BoolVal,
		arrayDims: spec.ArrayDims,
		isRef:     spec.IsRef,
		isConst:   spec.IsConst,
	})
	return uint32(len(b.nodes) - 1)
}

// Encode serializes the accumulated stream. The builder's last Node call
// must be the program root, matching Decode's convention.
func (b *Builder) Encode() []byte {
	var buf bytes.Buffer
	buf.Write(magic[:])
	writeU16(&buf, 1) // version
	writeU16(&buf, 0) // flags
	writeU32(&buf, uint32(len(b.nodes)))
	writeU32(&buf, uint32(len(b.strList)))
	for _, s := range b.strList {
		writeU16(&buf, uint16(len(s)))
		buf.WriteString(s)
	}
	for _, n := range b.nodes {
		buf.WriteByte(n.kind)
		writeU16(&buf, uint16(len(n.children)))
		for _, c := range n.children {
			writeU32(&buf, c)
		}
		writeU32(&buf, n.ident)
		writeU32(&buf, n.op)
		writeU32(&buf, n.typeName)
		writeI64(&buf, n.intVal)
		writeF64(&buf, n.floatVal)
		writeU32(&buf, n.strVal)
		if n.boolVal {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		writeU16(&buf, uint16(len(n.arrayDims)))
		for _, d := range n.arrayDims {
			writeU32(&buf, uint32(d))
		}
		var flags byte
		if n.isRef {
			flags |= 0x1
		}
		if n.isConst {
			flags |= 0x2
		}
		buf.WriteByte(flags)
	}
	return buf.Bytes()
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeI64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func writeF64(buf *bytes.Buffer, v float64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	buf.Write(b[:])
}
