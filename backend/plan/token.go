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

package plan

import (
	"github.com/relayrt/relayrt/base/ordered"
	"github.com/relayrt/relayrt/build/fmterr"
	"github.com/relayrt/relayrt/build/ir"
)

// StorageToken is the planner's record of one memory region. It is not
// the memory itself: the runtime materializes one region per storage
// id after planning.
type StorageToken struct {
	// RefCounter is the number of readers still to come. The region is
	// recyclable when it reaches zero.
	RefCounter int

	// MaxBytes is the high-water-mark byte size of the region. It only
	// grows while the token is live.
	MaxBytes int

	// TType is the tensor type of the value stored in the region. The
	// token borrows the reference from the IR.
	TType *ir.TensorType

	// DeviceType is the virtual device holding the region; zero means
	// unassigned.
	DeviceType int

	// StorageID is the region's index in commit order, assigned exactly
	// once; -1 while unassigned.
	StorageID int
}

// baseAlloca is the traversal shared by the two planner passes. It
// walks the expression DAG once (by node identity), maintains the
// expression to token-list table, and defers token creation and call
// handling to the concrete pass.
type baseAlloca struct {
	// self is the concrete pass; dispatching through it lets the pass
	// override the call handler.
	self ir.Visitor

	// create populates the token table for an expression. canRealloc
	// is true when the expression may reuse recycled memory.
	create func(e ir.Expr, canRealloc bool) error

	tokens  *ordered.Map[ir.Expr, []*StorageToken]
	visited map[ir.Expr]bool
}

func newBaseAlloca() *baseAlloca {
	return &baseAlloca{
		tokens:  ordered.NewMap[ir.Expr, []*StorageToken](),
		visited: make(map[ir.Expr]bool),
	}
}

// run drives the pass over a function: parameters first, then the
// body. Output tokens take an extra reference so they are never
// released.
func (b *baseAlloca) run(fn *ir.Function) error {
	for _, param := range fn.Params {
		if err := b.create(param, false); err != nil {
			return err
		}
	}
	out, err := b.getTokens(fn.Body)
	if err != nil {
		return err
	}
	for _, tok := range out {
		tok.RefCounter++
	}
	return nil
}

// visit dispatches an expression to the pass, once per node.
func (b *baseAlloca) visit(e ir.Expr) error {
	if b.visited[e] {
		return nil
	}
	b.visited[e] = true
	return ir.Visit(b.self, e)
}

// getTokens visits an expression and returns its tokens. An expression
// with no token entry after its visit is a fatal error.
func (b *baseAlloca) getTokens(e ir.Expr) ([]*StorageToken, error) {
	if err := b.visit(e); err != nil {
		return nil, err
	}
	toks, ok := b.tokens.Load(e)
	if !ok {
		return nil, fmterr.ErrorfAt(fmterr.ErrMissingToken, e, "expression was not assigned storage")
	}
	return toks, nil
}

// VisitVar does nothing: variables are populated by the parameter
// pre-pass or by their Let binding.
func (b *baseAlloca) VisitVar(*ir.Var) error { return nil }

// VisitGlobalVar does nothing at this layer.
func (b *baseAlloca) VisitGlobalVar(*ir.GlobalVar) error { return nil }

// VisitOp does nothing at this layer.
func (b *baseAlloca) VisitOp(*ir.Op) error { return nil }

// VisitFunction does not recurse into sub-functions: a fused function
// is a single kernel and its internals own no graph storage.
func (b *baseAlloca) VisitFunction(*ir.Function) error { return nil }

// VisitConstant creates tokens for the embedded literal.
func (b *baseAlloca) VisitConstant(x *ir.Constant) error {
	return b.create(x, false)
}

// VisitTuple concatenates the field tokens, by reference. Every field
// must supply exactly one token: nested tuples are rejected.
func (b *baseAlloca) VisitTuple(x *ir.Tuple) error {
	fields := make([]*StorageToken, 0, len(x.Fields))
	for _, f := range x.Fields {
		toks, err := b.getTokens(f)
		if err != nil {
			return err
		}
		if len(toks) != 1 {
			return fmterr.ErrorfAt(fmterr.ErrUnsupportedVariant, x, "tuple field %s supplies %d tokens, want 1 (nested tuples are not supported)", f.TypeKey(), len(toks))
		}
		fields = append(fields, toks[0])
	}
	b.tokens.Store(x, fields)
	return nil
}

// VisitTupleGetItem reuses the selected token of the tuple.
func (b *baseAlloca) VisitTupleGetItem(x *ir.TupleGetItem) error {
	toks, err := b.getTokens(x.Tup)
	if err != nil {
		return err
	}
	if x.Index < 0 || x.Index >= len(toks) {
		return fmterr.ErrorfAt(fmterr.ErrTupleArityMismatch, x, "index %d out of bounds for tuple with %d fields", x.Index, len(toks))
	}
	b.tokens.Store(x, []*StorageToken{toks[x.Index]})
	return nil
}

// VisitLet aliases the variable to the tokens of the bound value; the
// let itself holds the tokens of its body.
func (b *baseAlloca) VisitLet(x *ir.Let) error {
	value, err := b.getTokens(x.Value)
	if err != nil {
		return err
	}
	b.tokens.Store(x.Var, value)
	body, err := b.getTokens(x.Body)
	if err != nil {
		return err
	}
	b.tokens.Store(x, body)
	return nil
}

// VisitIf rejects control flow.
func (b *baseAlloca) VisitIf(x *ir.If) error {
	return fmterr.ErrorfAt(fmterr.ErrUnsupportedVariant, x, "control flow cannot be planned for the graph runtime")
}
