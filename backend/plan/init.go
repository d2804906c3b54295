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
	"github.com/relayrt/relayrt/base/arena"
	"github.com/relayrt/relayrt/base/ordered"
	"github.com/relayrt/relayrt/build/fmterr"
	"github.com/relayrt/relayrt/build/ir"
)

// initPass is the liveness init pass: it creates one prototype token
// per tensor output of every expression and tallies reference counts
// from readers.
type initPass struct {
	*baseAlloca
	arena   *arena.Arena[StorageToken]
	devices map[ir.Expr]int
}

var _ ir.Visitor = (*initPass)(nil)

func newInitPass(ar *arena.Arena[StorageToken], devices map[ir.Expr]int) *initPass {
	p := &initPass{baseAlloca: newBaseAlloca(), arena: ar, devices: devices}
	p.self = p
	p.create = p.createToken
	return p
}

// initTokenMap runs the pass and returns the prototype table.
func (p *initPass) initTokenMap(fn *ir.Function) (*ordered.Map[ir.Expr, []*StorageToken], error) {
	if err := p.run(fn); err != nil {
		return nil, err
	}
	return p.tokens, nil
}

// createToken populates the token table for an expression: one token
// per field for a tuple type, a single token for a tensor type.
func (p *initPass) createToken(e ir.Expr, canRealloc bool) error {
	if p.tokens.Has(e) {
		return fmterr.ErrorfAt(fmterr.ErrDuplicateToken, e, "expression already has storage tokens")
	}
	device := p.devices[e]
	var toks []*StorageToken
	switch t := e.Type().(type) {
	case *ir.TupleType:
		toks = make([]*StorageToken, 0, len(t.Fields))
		for _, f := range t.Fields {
			ttype, ok := f.(*ir.TensorType)
			if !ok {
				return fmterr.ErrorfAt(fmterr.ErrUnsupportedVariant, e, "tuple field has type %s, want a tensor (nested tuples are not supported)", f)
			}
			toks = append(toks, p.newToken(ttype, device))
		}
	case *ir.TensorType:
		toks = []*StorageToken{p.newToken(t, device)}
	default:
		return fmterr.ErrorfAt(fmterr.ErrUnsupportedVariant, e, "cannot assign storage to type %v", e.Type())
	}
	p.tokens.Store(e, toks)
	return nil
}

func (p *initPass) newToken(ttype *ir.TensorType, device int) *StorageToken {
	tok := p.arena.Make()
	tok.TType = ttype
	tok.DeviceType = device
	tok.StorageID = -1
	return tok
}

// VisitCall creates the call's own tokens, then adds one reference to
// every token of every argument.
func (p *initPass) VisitCall(x *ir.Call) error {
	if err := p.createToken(x, true); err != nil {
		return err
	}
	for _, arg := range x.Args {
		toks, err := p.getTokens(arg)
		if err != nil {
			return err
		}
		for _, tok := range toks {
			tok.RefCounter++
		}
	}
	return nil
}
