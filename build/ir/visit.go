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

import "github.com/pkg/errors"

type (
	// Visitor dispatches over expression variants for side effects.
	// Visitors drive their own recursion: Visit dispatches on one node
	// and does not descend into children.
	Visitor interface {
		VisitVar(*Var) error
		VisitGlobalVar(*GlobalVar) error
		VisitOp(*Op) error
		VisitConstant(*Constant) error
		VisitTuple(*Tuple) error
		VisitTupleGetItem(*TupleGetItem) error
		VisitCall(*Call) error
		VisitFunction(*Function) error
		VisitLet(*Let) error
		VisitIf(*If) error
	}

	// Translator produces a value of type R for each expression variant.
	Translator[R any] interface {
		TranslateVar(*Var) (R, error)
		TranslateGlobalVar(*GlobalVar) (R, error)
		TranslateOp(*Op) (R, error)
		TranslateConstant(*Constant) (R, error)
		TranslateTuple(*Tuple) (R, error)
		TranslateTupleGetItem(*TupleGetItem) (R, error)
		TranslateCall(*Call) (R, error)
		TranslateFunction(*Function) (R, error)
		TranslateLet(*Let) (R, error)
		TranslateIf(*If) (R, error)
	}

	// Memo memoizes a translator by expression identity: each node is
	// translated at most once and re-encounters return the cached value.
	// Identity is pointer equality of the node handle, never structural
	// equality: the IR is a DAG and two structurally equal nodes are
	// still two nodes.
	Memo[R any] struct {
		tr   Translator[R]
		memo map[Expr]R
	}
)

// Visit dispatches an expression to the visitor method for its variant.
func Visit(v Visitor, e Expr) error {
	switch x := e.(type) {
	case *Var:
		return v.VisitVar(x)
	case *GlobalVar:
		return v.VisitGlobalVar(x)
	case *Op:
		return v.VisitOp(x)
	case *Constant:
		return v.VisitConstant(x)
	case *Tuple:
		return v.VisitTuple(x)
	case *TupleGetItem:
		return v.VisitTupleGetItem(x)
	case *Call:
		return v.VisitCall(x)
	case *Function:
		return v.VisitFunction(x)
	case *Let:
		return v.VisitLet(x)
	case *If:
		return v.VisitIf(x)
	}
	return errors.Errorf("cannot visit expression: %T not supported", e)
}

// NewMemo returns a memoized dispatcher over a translator.
func NewMemo[R any](tr Translator[R]) *Memo[R] {
	return &Memo[R]{tr: tr, memo: make(map[Expr]R)}
}

// Visit translates an expression, returning the cached result if the
// node has been seen before.
func (m *Memo[R]) Visit(e Expr) (R, error) {
	if r, ok := m.memo[e]; ok {
		return r, nil
	}
	r, err := m.dispatch(e)
	if err != nil {
		var zero R
		return zero, err
	}
	m.memo[e] = r
	return r, nil
}

// Seen returns true if the expression has already been translated.
func (m *Memo[R]) Seen(e Expr) bool {
	_, ok := m.memo[e]
	return ok
}

// Store records a result for an expression without translating it.
// Used to pre-populate entries, e.g. function parameters.
func (m *Memo[R]) Store(e Expr, r R) {
	m.memo[e] = r
}

func (m *Memo[R]) dispatch(e Expr) (R, error) {
	switch x := e.(type) {
	case *Var:
		return m.tr.TranslateVar(x)
	case *GlobalVar:
		return m.tr.TranslateGlobalVar(x)
	case *Op:
		return m.tr.TranslateOp(x)
	case *Constant:
		return m.tr.TranslateConstant(x)
	case *Tuple:
		return m.tr.TranslateTuple(x)
	case *TupleGetItem:
		return m.tr.TranslateTupleGetItem(x)
	case *Call:
		return m.tr.TranslateCall(x)
	case *Function:
		return m.tr.TranslateFunction(x)
	case *Let:
		return m.tr.TranslateLet(x)
	case *If:
		return m.tr.TranslateIf(x)
	}
	var zero R
	return zero, errors.Errorf("cannot translate expression: %T not supported", e)
}
