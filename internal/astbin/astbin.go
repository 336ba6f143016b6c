// Package astbin decodes (and, for test fixtures, encodes) the binary
// pre-parsed AST format the Driver consumes: a small header followed by
// a shared string table and a flat, post-order node stream. It knows
// nothing about node-kind semantics — that belongs to interp, which
// converts a RawNode tree into its own Node type — so this package stays
// a pure wire-format codec.
package astbin

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var magic = [4]byte{'A', 'S', 'T', 'P'}

const noStringRef = ^uint32(0)

// RawNode is the wire-level AST node: a kind byte, child indices already
// resolved to pointers, and a fixed, kind-agnostic payload.
type RawNode struct {
	Kind     uint8
	Children []*RawNode

	Ident    string
	Op       string
	TypeName string
	IntVal   int64
	FloatVal float64
	StrVal   string
	BoolVal  bool

	ArrayDims []int
	IsRef     bool
	IsConst   bool
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return errors.New("astbin: truncated input")
	}
	return nil
}

func (r *reader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) i64() (int64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := int64(binary.BigEndian.Uint64(r.buf[r.pos:]))
	r.pos += 8
	return v, nil
}

func (r *reader) f64() (float64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := math.Float64frombits(binary.BigEndian.Uint64(r.buf[r.pos:]))
	r.pos += 8
	return v, nil
}

func (r *reader) byte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Decode parses the ASTP format described above into a flat node slice
// and returns the root, which is the last node in the slice, since the
// stream is post-order.
func Decode(data []byte) (*RawNode, error) {
	r := &reader{buf: data}
	hdr, err := r.bytes(4)
	if err != nil {
		return nil, err
	}
	if string(hdr) != string(magic[:]) {
		return nil, fmt.Errorf("astbin: bad magic %q", hdr)
	}
	if _, err := r.u16(); err != nil { // version, currently unchecked
		return nil, err
	}
	if _, err := r.u16(); err != nil { // flags, currently unused
		return nil, err
	}
	nodeCount, err := r.u32()
	if err != nil {
		return nil, err
	}
	stringCount, err := r.u32()
	if err != nil {
		return nil, err
	}
	strs := make([]string, stringCount)
	for i := range strs {
		n, err := r.u16()
		if err != nil {
			return nil, err
		}
		b, err := r.bytes(int(n))
		if err != nil {
			return nil, err
		}
		strs[i] = string(b)
	}
	str := func(idx uint32) string {
		if idx == noStringRef || int(idx) >= len(strs) {
			return ""
		}
		return strs[idx]
	}

	nodes := make([]*RawNode, nodeCount)
	for i := uint32(0); i < nodeCount; i++ {
		kind, err := r.byte()
		if err != nil {
			return nil, err
		}
		numChildren, err := r.u16()
		if err != nil {
			return nil, err
		}
		children := make([]*RawNode, numChildren)
		for c := range children {
			childIdx, err := r.u32()
			if err != nil {
				return nil, err
			}
			if int(childIdx) >= len(nodes) || int(childIdx) >= int(i) {
				return nil, fmt.Errorf("astbin: node %d references non-prior child %d", i, childIdx)
			}
			children[c] = nodes[childIdx]
		}
		identIdx, err := r.u32()
		if err != nil {
			return nil, err
		}
		opIdx, err := r.u32()
		if err != nil {
			return nil, err
		}
		typeNameIdx, err := r.u32()
		if err != nil {
			return nil, err
		}
		intVal, err := r.i64()
		if err != nil {
			return nil, err
		}
		floatVal, err := r.f64()
		if err != nil {
			return nil, err
		}
		strValIdx, err := r.u32()
		if err != nil {
			return nil, err
		}
		boolByte, err := r.byte()
		if err != nil {
			return nil, err
		}
		dimCount, err := r.u16()
		if err != nil {
			return nil, err
		}
		dims := make([]int, dimCount)
		for d := range dims {
			v, err := r.u32()
			if err != nil {
				return nil, err
			}
			dims[d] = int(v)
		}
		flags, err := r.byte()
		if err != nil {
			return nil, err
		}
		nodes[i] = &RawNode{
			Kind:      kind,
			Children:  children,
			Ident:     str(identIdx),
			Op:        str(opIdx),
			TypeName:  str(typeNameIdx),
			IntVal:    intVal,
			FloatVal:  floatVal,
			StrVal:    str(strValIdx),
			BoolVal:   boolByte != 0,
			ArrayDims: dims,
			IsRef:     flags&0x1 != 0,
			IsConst:   flags&0x2 != 0,
		}
	}
	if nodeCount == 0 {
		return nil, errors.New("astbin: empty node stream")
	}
	return nodes[nodeCount-1], nil
}
