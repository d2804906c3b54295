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

// Package ir is the functional intermediate representation consumed by
// the graph backend.
//
// Expressions form a DAG: a node may be referenced by several readers
// and every analysis in the backend keys its tables on node identity
// (pointer equality), never on structural equality. Nodes are immutable
// once built and every tensor-valued node carries its checked type.
//
// Operator fusion and type inference run upstream: the backend receives
// functions whose calls target fused primitive sub-functions and whose
// types are fully resolved.
package ir

// ----------------------------------------------------------------------------
// Nodes in the expression tree.
type (
	// Node is an element of the IR.
	Node interface {
		// TypeKey names the node variant in diagnostics.
		TypeKey() string

		// node marks a structure as a node structure.
		// It prevents external implementations of the interface.
		node()
	}

	// Expr is an expression node.
	Expr interface {
		Node

		// Type returns the checked type of the expression.
		// Nil for operator and global references, which have no
		// tensor value of their own.
		Type() Type
	}
)

// Attribute names understood by the backend.
const (
	// AttrPrimitive marks a function as a fused primitive: the unit
	// lowered to a single kernel by the compile engine.
	AttrPrimitive = "Primitive"

	// AttrCompiler names the external compiler responsible for a
	// function, when set.
	AttrCompiler = "Compiler"

	// AttrGlobalSymbol is the linker-visible name of an external
	// function.
	AttrGlobalSymbol = "global_symbol"
)

// Attrs is an attribute bag attached to calls and functions.
type Attrs map[string]any

// Nonzero returns true if the attribute is set to a value other than
// nil, zero, false, or the empty string.
func (a Attrs) Nonzero(name string) bool {
	switch v := a[name].(type) {
	case nil:
		return false
	case bool:
		return v
	case int:
		return v != 0
	case string:
		return v != ""
	default:
		return true
	}
}

// Str returns a string attribute.
func (a Attrs) Str(name string) (string, bool) {
	s, ok := a[name].(string)
	return s, ok
}

// ----------------------------------------------------------------------------
// Expression variants.
type (
	// Var is a function parameter or a let-bound variable.
	Var struct {
		Name string
		T    Type
	}

	// Constant is an embedded tensor literal.
	Constant struct {
		Value Buffer
		T     Type
	}

	// Tuple groups expressions into a single multi-valued expression.
	Tuple struct {
		Fields []Expr
		T      Type
	}

	// TupleGetItem selects one field of a tuple-valued expression.
	TupleGetItem struct {
		Tup   Expr
		Index int
		T     Type
	}

	// Call applies an operator to arguments. After fusion the operator
	// is a Function carrying the Primitive attribute; primitive Op and
	// GlobalVar call sites are rejected by the backend.
	Call struct {
		Op    Expr
		Args  []Expr
		Attrs Attrs
		T     Type
	}

	// Function is a (possibly fused) sub-function.
	Function struct {
		Params []*Var
		Body   Expr
		Attrs  Attrs
	}

	// Let binds a variable to a value within a body.
	Let struct {
		Var   *Var
		Value Expr
		Body  Expr
	}

	// GlobalVar references a function by name in an enclosing module.
	GlobalVar struct {
		Name string
	}

	// Op references a primitive operator by name. Ops only appear
	// inside fused functions; a bare Op call site is rejected.
	Op struct {
		Name string
	}

	// If is control flow. The graph backend rejects it; the variant
	// exists so rejection carries a precise diagnostic.
	If struct {
		Cond, Then, Else Expr
		T                Type
	}
)

// Buffer is the host tensor value embedded in a Constant. The concrete
// type lives in runtime/tensor; the IR only needs identity and a
// printable shape.
type Buffer interface {
	String() string
}

func (*Var) node()          {}
func (*Constant) node()     {}
func (*Tuple) node()        {}
func (*TupleGetItem) node() {}
func (*Call) node()         {}
func (*Function) node()     {}
func (*Let) node()          {}
func (*GlobalVar) node()    {}
func (*Op) node()           {}
func (*If) node()           {}

// TypeKey implements Node for diagnostics.
func (*Var) TypeKey() string          { return "Var" }
func (*Constant) TypeKey() string     { return "Constant" }
func (*Tuple) TypeKey() string        { return "Tuple" }
func (*TupleGetItem) TypeKey() string { return "TupleGetItem" }
func (*Call) TypeKey() string         { return "Call" }
func (*Function) TypeKey() string     { return "Function" }
func (*Let) TypeKey() string          { return "Let" }
func (*GlobalVar) TypeKey() string    { return "GlobalVar" }
func (*Op) TypeKey() string           { return "Op" }
func (*If) TypeKey() string           { return "If" }

// Type returns the checked type of the variable.
func (x *Var) Type() Type { return x.T }

// Type returns the checked type of the constant.
func (x *Constant) Type() Type { return x.T }

// Type returns the checked type of the tuple.
func (x *Tuple) Type() Type { return x.T }

// Type returns the checked type of the selected field.
func (x *TupleGetItem) Type() Type { return x.T }

// Type returns the checked type of the call result.
func (x *Call) Type() Type { return x.T }

// Type of a function: its signature.
func (x *Function) Type() Type {
	ft := &FuncType{Ret: x.Body.Type()}
	for _, p := range x.Params {
		ft.Params = append(ft.Params, p.T)
	}
	return ft
}

// Type of a let expression is the type of its body.
func (x *Let) Type() Type { return x.Body.Type() }

// Type returns nil: a global reference carries no tensor value.
func (*GlobalVar) Type() Type { return nil }

// Type returns nil: an operator reference carries no tensor value.
func (*Op) Type() Type { return nil }

// Type returns the checked type of the conditional.
func (x *If) Type() Type { return x.T }
