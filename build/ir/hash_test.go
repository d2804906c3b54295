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

package ir_test

import (
	"testing"

	"github.com/gx-org/backend/dtype"

	"github.com/relayrt/relayrt/build/ir"
)

// fusedFn builds a primitive function of one parameter.
func fusedFn(paramName string, paramType, ret ir.Type) *ir.Function {
	p := &ir.Var{Name: paramName, T: paramType}
	return &ir.Function{
		Params: []*ir.Var{p},
		Body:   &ir.Call{Op: &ir.Op{Name: "relu"}, Args: []ir.Expr{p}, T: ret},
		Attrs:  ir.Attrs{ir.AttrPrimitive: 1},
	}
}

func TestStructuralHashEqual(t *testing.T) {
	tt := ir.TensorOf(dtype.Float32, 1, 3, 4, 4)
	a := fusedFn("x", tt, tt)
	b := fusedFn("y", tt, tt)

	if !ir.StructuralEqual(a, b) {
		t.Errorf("functions differing only by parameter name compare different")
	}
	if ir.StructuralHash(a) != ir.StructuralHash(b) {
		t.Errorf("functions differing only by parameter name hash differently")
	}
}

func TestStructuralHashDistinguishes(t *testing.T) {
	t32 := ir.TensorOf(dtype.Float32, 1, 3, 4, 4)
	t64 := ir.TensorOf(dtype.Float64, 1, 3, 4, 4)
	wide := ir.TensorOf(dtype.Float32, 1, 3, 8, 8)

	base := fusedFn("x", t32, t32)
	tests := []struct {
		name  string
		other *ir.Function
	}{
		{name: "dtype", other: fusedFn("x", t64, t64)},
		{name: "shape", other: fusedFn("x", wide, wide)},
		{
			name: "operator",
			other: func() *ir.Function {
				fn := fusedFn("x", t32, t32)
				fn.Body.(*ir.Call).Op = &ir.Op{Name: "tanh"}
				return fn
			}(),
		},
		{
			name: "attrs",
			other: func() *ir.Function {
				fn := fusedFn("x", t32, t32)
				fn.Attrs = ir.Attrs{ir.AttrPrimitive: 1, ir.AttrCompiler: "myext"}
				return fn
			}(),
		},
	}
	for _, test := range tests {
		if ir.StructuralEqual(base, test.other) {
			t.Errorf("%s: functions compare equal", test.name)
		}
		if ir.StructuralHash(base) == ir.StructuralHash(test.other) {
			t.Errorf("%s: functions share a hash", test.name)
		}
	}
}

// Variable matching is by position: swapping the reads of two
// parameters changes the structure.
func TestStructuralEqualVarPositions(t *testing.T) {
	tt := ir.TensorOf(dtype.Float32, 2)
	mk := func(swap bool) *ir.Function {
		a := &ir.Var{Name: "a", T: tt}
		b := &ir.Var{Name: "b", T: tt}
		args := []ir.Expr{a, b}
		if swap {
			args = []ir.Expr{b, a}
		}
		return &ir.Function{
			Params: []*ir.Var{a, b},
			Body:   &ir.Call{Op: &ir.Op{Name: "sub"}, Args: args, T: tt},
		}
	}
	if !ir.StructuralEqual(mk(false), mk(false)) {
		t.Errorf("identical functions compare different")
	}
	if ir.StructuralEqual(mk(false), mk(true)) {
		t.Errorf("argument order is ignored by structural equality")
	}
}

// Two independently built let functions of the same shape compare
// equal and hash alike: let-bound variables are matched by position,
// like parameters.
func TestStructuralEqualLet(t *testing.T) {
	tt := ir.TensorOf(dtype.Float32, 2)
	mk := func() *ir.Function {
		x := &ir.Var{Name: "x", T: tt}
		y := &ir.Var{Name: "y", T: tt}
		value := &ir.Call{Op: &ir.Op{Name: "exp"}, Args: []ir.Expr{x}, T: tt}
		return &ir.Function{
			Params: []*ir.Var{x},
			Body:   &ir.Let{Var: y, Value: value, Body: y},
		}
	}
	if !ir.StructuralEqual(mk(), mk()) {
		t.Errorf("identical let functions compare different")
	}
	if ir.StructuralHash(mk()) != ir.StructuralHash(mk()) {
		t.Errorf("identical let functions hash differently")
	}
}
