// Copyright 2025 The relayrt Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ir

import (
	"encoding/binary"
	"fmt"
	"hash"
	"hash/fnv"
	"io"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// HashableBuffer is a constant value that can participate in structural
// hashing and equality.
type HashableBuffer interface {
	Buffer
	// Hash is a content hash of the buffer data and shape.
	Hash() uint64
	// EqualData returns true if other holds the same shape and bytes.
	EqualData(other any) bool
}

// StructuralHash returns a content hash of an expression. Two
// structurally equal expressions hash to the same value; free variables
// are numbered by first occurrence so the hash is independent of
// variable names. The compile engine keys its cache on this hash
// (confirmed by StructuralEqual on collision).
func StructuralHash(e Expr) uint64 {
	h := &hasher{h: fnv.New64a(), vars: make(map[*Var]int)}
	h.expr(e)
	return h.h.Sum64()
}

type hasher struct {
	h    hash.Hash64
	vars map[*Var]int
}

func (h *hasher) u64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	h.h.Write(buf[:])
}

func (h *hasher) str(s string) {
	h.u64(uint64(len(s)))
	io.WriteString(h.h, s)
}

func (h *hasher) varIndex(v *Var) int {
	i, ok := h.vars[v]
	if !ok {
		i = len(h.vars)
		h.vars[v] = i
	}
	return i
}

func (h *hasher) typ(t Type) {
	switch x := t.(type) {
	case nil:
		h.str("nil")
	case *TensorType:
		h.str("tensor")
		h.u64(uint64(x.DType()))
		h.u64(uint64(x.lanes()))
		h.u64(uint64(len(x.Dims())))
		for _, d := range x.Dims() {
			h.u64(uint64(d))
		}
	case *TupleType:
		h.str("tuple")
		h.u64(uint64(len(x.Fields)))
		for _, f := range x.Fields {
			h.typ(f)
		}
	case *FuncType:
		h.str("func")
		h.u64(uint64(len(x.Params)))
		for _, p := range x.Params {
			h.typ(p)
		}
		h.typ(x.Ret)
	}
}

func (h *hasher) attrs(a Attrs) {
	keys := maps.Keys(a)
	slices.Sort(keys)
	h.u64(uint64(len(keys)))
	for _, k := range keys {
		h.str(k)
		h.str(fmt.Sprintf("%v", a[k]))
	}
}

func (h *hasher) expr(e Expr) {
	switch x := e.(type) {
	case *Var:
		h.str("var")
		h.u64(uint64(h.varIndex(x)))
		h.typ(x.T)
	case *GlobalVar:
		h.str("global")
		h.str(x.Name)
	case *Op:
		h.str("op")
		h.str(x.Name)
	case *Constant:
		h.str("const")
		if hb, ok := x.Value.(HashableBuffer); ok {
			h.u64(hb.Hash())
		}
		h.typ(x.T)
	case *Tuple:
		h.str("tuple")
		h.u64(uint64(len(x.Fields)))
		for _, f := range x.Fields {
			h.expr(f)
		}
	case *TupleGetItem:
		h.str("item")
		h.u64(uint64(x.Index))
		h.expr(x.Tup)
	case *Call:
		h.str("call")
		h.expr(x.Op)
		h.u64(uint64(len(x.Args)))
		for _, a := range x.Args {
			h.expr(a)
		}
		h.attrs(x.Attrs)
	case *Function:
		h.str("function")
		h.u64(uint64(len(x.Params)))
		for _, p := range x.Params {
			// Bind before hashing the body so parameter order, not
			// name, determines the hash.
			h.u64(uint64(h.varIndex(p)))
			h.typ(p.T)
		}
		h.expr(x.Body)
		h.attrs(x.Attrs)
	case *Let:
		h.str("let")
		h.u64(uint64(h.varIndex(x.Var)))
		h.expr(x.Value)
		h.expr(x.Body)
	case *If:
		h.str("if")
		h.expr(x.Cond)
		h.expr(x.Then)
		h.expr(x.Else)
	}
}

// StructuralEqual returns true if two expressions have the same
// structure, with variables matched by position.
func StructuralEqual(a, b Expr) bool {
	eq := &equaler{l: make(map[*Var]*Var), r: make(map[*Var]*Var)}
	return eq.expr(a, b)
}

type equaler struct {
	l, r map[*Var]*Var
}

func (eq *equaler) vars(a, b *Var) bool {
	la, oka := eq.l[a]
	rb, okb := eq.r[b]
	if !oka && !okb {
		eq.l[a] = b
		eq.r[b] = a
		return true
	}
	return la == b && rb == a
}

func (eq *equaler) typ(a, b Type) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case *TensorType:
		y, ok := b.(*TensorType)
		return ok && x.DType() == y.DType() && x.lanes() == y.lanes() && slices.Equal(x.Dims(), y.Dims())
	case *TupleType:
		y, ok := b.(*TupleType)
		if !ok || len(x.Fields) != len(y.Fields) {
			return false
		}
		for i := range x.Fields {
			if !eq.typ(x.Fields[i], y.Fields[i]) {
				return false
			}
		}
		return true
	case *FuncType:
		y, ok := b.(*FuncType)
		if !ok || len(x.Params) != len(y.Params) {
			return false
		}
		for i := range x.Params {
			if !eq.typ(x.Params[i], y.Params[i]) {
				return false
			}
		}
		return eq.typ(x.Ret, y.Ret)
	}
	return false
}

func (eq *equaler) attrs(a, b Attrs) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || fmt.Sprintf("%v", v) != fmt.Sprintf("%v", w) {
			return false
		}
	}
	return true
}

func (eq *equaler) expr(a, b Expr) bool {
	switch x := a.(type) {
	case *Var:
		y, ok := b.(*Var)
		return ok && eq.typ(x.T, y.T) && eq.vars(x, y)
	case *GlobalVar:
		y, ok := b.(*GlobalVar)
		return ok && x.Name == y.Name
	case *Op:
		y, ok := b.(*Op)
		return ok && x.Name == y.Name
	case *Constant:
		y, ok := b.(*Constant)
		if !ok || !eq.typ(x.T, y.T) {
			return false
		}
		hx, okx := x.Value.(HashableBuffer)
		if !okx {
			return x.Value == y.Value
		}
		return hx.EqualData(y.Value)
	case *Tuple:
		y, ok := b.(*Tuple)
		if !ok || len(x.Fields) != len(y.Fields) {
			return false
		}
		for i := range x.Fields {
			if !eq.expr(x.Fields[i], y.Fields[i]) {
				return false
			}
		}
		return true
	case *TupleGetItem:
		y, ok := b.(*TupleGetItem)
		return ok && x.Index == y.Index && eq.expr(x.Tup, y.Tup)
	case *Call:
		y, ok := b.(*Call)
		if !ok || len(x.Args) != len(y.Args) || !eq.expr(x.Op, y.Op) || !eq.attrs(x.Attrs, y.Attrs) {
			return false
		}
		for i := range x.Args {
			if !eq.expr(x.Args[i], y.Args[i]) {
				return false
			}
		}
		return true
	case *Function:
		y, ok := b.(*Function)
		if !ok || len(x.Params) != len(y.Params) || !eq.attrs(x.Attrs, y.Attrs) {
			return false
		}
		for i := range x.Params {
			if !eq.typ(x.Params[i].T, y.Params[i].T) || !eq.vars(x.Params[i], y.Params[i]) {
				return false
			}
		}
		return eq.expr(x.Body, y.Body)
	case *Let:
		y, ok := b.(*Let)
		return ok && eq.vars(x.Var, y.Var) && eq.expr(x.Value, y.Value) && eq.expr(x.Body, y.Body)
	case *If:
		y, ok := b.(*If)
		return ok && eq.expr(x.Cond, y.Cond) && eq.expr(x.Then, y.Then) && eq.expr(x.Else, y.Else)
	}
	return false
}
