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
	"github.com/relayrt/relayrt/build/fmterr"
)

// BindParamsByName folds a parameter table into a function: every
// parameter whose name appears in params is replaced by a constant
// holding the buffer, and dropped from the parameter list. Two
// parameters sharing a bound name is an error.
func BindParamsByName(fn *Function, params map[string]Buffer) (*Function, error) {
	named := make(map[string]*Var)
	repeated := make(map[string]bool)
	for _, p := range fn.Params {
		if _, in := named[p.Name]; in {
			repeated[p.Name] = true
			continue
		}
		named[p.Name] = p
	}
	binds := make(map[*Var]Expr)
	for name, value := range params {
		p, in := named[name]
		if !in {
			continue
		}
		if repeated[name] {
			return nil, fmterr.Errorf(fmterr.ErrNameCollision, "multiple parameters in the function have name %q", name)
		}
		binds[p] = &Constant{Value: value, T: p.T}
	}
	return Bind(fn, binds)
}

// Bind replaces variables in the function body according to binds and
// removes the bound variables from the parameter list. Node sharing is
// preserved: a sub-expression read by several parents is rebuilt once.
func Bind(fn *Function, binds map[*Var]Expr) (*Function, error) {
	sub := &substituter{binds: binds}
	sub.memo = NewMemo[Expr](sub)
	body, err := sub.memo.Visit(fn.Body)
	if err != nil {
		return nil, err
	}
	out := &Function{Body: body, Attrs: fn.Attrs}
	for _, p := range fn.Params {
		if _, bound := binds[p]; !bound {
			out.Params = append(out.Params, p)
		}
	}
	return out, nil
}

// substituter rebuilds an expression tree, swapping bound variables for
// their replacement. Sub-functions are left untouched: fused functions
// are closed over their own parameters.
type substituter struct {
	binds map[*Var]Expr
	memo  *Memo[Expr]
}

var _ Translator[Expr] = (*substituter)(nil)

func (s *substituter) TranslateVar(x *Var) (Expr, error) {
	if repl, in := s.binds[x]; in {
		return repl, nil
	}
	return x, nil
}

func (s *substituter) TranslateGlobalVar(x *GlobalVar) (Expr, error) { return x, nil }

func (s *substituter) TranslateOp(x *Op) (Expr, error) { return x, nil }

func (s *substituter) TranslateConstant(x *Constant) (Expr, error) { return x, nil }

func (s *substituter) TranslateFunction(x *Function) (Expr, error) { return x, nil }

func (s *substituter) TranslateTuple(x *Tuple) (Expr, error) {
	fields, changed, err := s.all(x.Fields)
	if err != nil || !changed {
		return x, err
	}
	return &Tuple{Fields: fields, T: x.T}, nil
}

func (s *substituter) TranslateTupleGetItem(x *TupleGetItem) (Expr, error) {
	tup, err := s.one(x.Tup)
	if err != nil || tup == x.Tup {
		return x, err
	}
	return &TupleGetItem{Tup: tup, Index: x.Index, T: x.T}, nil
}

func (s *substituter) TranslateCall(x *Call) (Expr, error) {
	args, changed, err := s.all(x.Args)
	if err != nil || !changed {
		return x, err
	}
	return &Call{Op: x.Op, Args: args, Attrs: x.Attrs, T: x.T}, nil
}

func (s *substituter) TranslateLet(x *Let) (Expr, error) {
	value, err := s.one(x.Value)
	if err != nil {
		return nil, err
	}
	body, err := s.one(x.Body)
	if err != nil {
		return nil, err
	}
	if value == x.Value && body == x.Body {
		return x, nil
	}
	return &Let{Var: x.Var, Value: value, Body: body}, nil
}

func (s *substituter) TranslateIf(x *If) (Expr, error) { return x, nil }

func (s *substituter) one(e Expr) (Expr, error) {
	return s.memo.Visit(e)
}

func (s *substituter) all(es []Expr) ([]Expr, bool, error) {
	out := make([]Expr, len(es))
	changed := false
	for i, e := range es {
		r, err := s.one(e)
		if err != nil {
			return nil, false, err
		}
		out[i] = r
		changed = changed || r != e
	}
	return out, changed, nil
}

// FreeVars returns the variables read by an expression but bound
// neither by an enclosing function parameter list nor by a let,
// in first-read order.
func FreeVars(e Expr) []*Var {
	fv := &freeVars{bound: make(map[*Var]bool), seen: make(map[Expr]bool)}
	fv.walk(e)
	return fv.free
}

type freeVars struct {
	bound map[*Var]bool
	seen  map[Expr]bool
	free  []*Var
}

func (fv *freeVars) walk(e Expr) {
	if e == nil || fv.seen[e] {
		return
	}
	fv.seen[e] = true
	switch x := e.(type) {
	case *Var:
		if !fv.bound[x] {
			fv.bound[x] = true
			fv.free = append(fv.free, x)
		}
	case *Tuple:
		for _, f := range x.Fields {
			fv.walk(f)
		}
	case *TupleGetItem:
		fv.walk(x.Tup)
	case *Call:
		fv.walk(x.Op)
		for _, a := range x.Args {
			fv.walk(a)
		}
	case *Function:
		for _, p := range x.Params {
			fv.bound[p] = true
		}
		fv.walk(x.Body)
	case *Let:
		fv.walk(x.Value)
		fv.bound[x.Var] = true
		fv.walk(x.Body)
	case *If:
		fv.walk(x.Cond)
		fv.walk(x.Then)
		fv.walk(x.Else)
	}
}
