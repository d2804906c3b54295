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
	"fmt"
	"strings"

	"github.com/gx-org/backend/dtype"
	"github.com/gx-org/backend/shape"
	"github.com/relayrt/relayrt/build/fmterr"
)

// ----------------------------------------------------------------------------
// Checked types.
type (
	// Type of an expression value.
	Type interface {
		Node

		// String representation of the type.
		String() string
	}

	// TensorType is the type of a dense tensor with a static shape.
	// Lanes is the vector width of the storage element; zero means one.
	TensorType struct {
		Sh    *shape.Shape
		Lanes int
	}

	// TupleType is the type of a multi-valued expression.
	TupleType struct {
		Fields []Type
	}

	// FuncType is the signature of a function.
	FuncType struct {
		Params []Type
		Ret    Type
	}
)

func (*TensorType) node() {}
func (*TupleType) node()  {}
func (*FuncType) node()   {}

// TypeKey implements Node for diagnostics.
func (*TensorType) TypeKey() string { return "TensorType" }

// TypeKey implements Node for diagnostics.
func (*TupleType) TypeKey() string { return "TupleType" }

// TypeKey implements Node for diagnostics.
func (*FuncType) TypeKey() string { return "FuncType" }

// TensorOf returns the tensor type with the given element type and axes.
func TensorOf(dt dtype.DataType, dims ...int) *TensorType {
	return &TensorType{Sh: &shape.Shape{DType: dt, AxisLengths: dims}}
}

// DType returns the element type of the tensor.
func (t *TensorType) DType() dtype.DataType {
	return t.Sh.DType
}

// Dims returns the axis lengths of the tensor.
func (t *TensorType) Dims() []int {
	return t.Sh.AxisLengths
}

// lanes returns the vector width, defaulting to one.
func (t *TensorType) lanes() int {
	if t.Lanes == 0 {
		return 1
	}
	return t.Lanes
}

func divRoundUp(size, word int) int {
	return (size + word - 1) / word
}

// ByteSize returns the number of bytes backing one value of the type:
// the product of the axis lengths times the storage element size.
// An axis length below zero is an error; a zero axis is legal and
// yields a zero byte size.
func (t *TensorType) ByteSize() (int, error) {
	size := 1
	for _, dim := range t.Sh.AxisLengths {
		if dim < 0 {
			return 0, fmterr.Errorf(fmterr.ErrNegativeShape, "cannot allocate memory for tensor %s: axis length %d", t, dim)
		}
		size *= dim
	}
	bits := 8 * dtype.Sizeof(t.Sh.DType)
	return size * divRoundUp(bits*t.lanes(), 8), nil
}

// String representation of the type.
func (t *TensorType) String() string {
	return t.Sh.String()
}

// String representation of the type.
func (t *TupleType) String() string {
	ss := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		ss[i] = f.String()
	}
	return "(" + strings.Join(ss, ", ") + ")"
}

// String representation of the signature.
func (t *FuncType) String() string {
	ss := make([]string, len(t.Params))
	for i, p := range t.Params {
		ss[i] = p.String()
	}
	ret := "()"
	if t.Ret != nil {
		ret = t.Ret.String()
	}
	return "func(" + strings.Join(ss, ", ") + ") " + ret
}

// DTypeString serializes an element type the way the graph runtime
// expects it: int{bits}, uint{bits}, float{bits}, bfloat{bits}, bool.
func DTypeString(dt dtype.DataType) (string, error) {
	bits := 8 * dtype.Sizeof(dt)
	switch dt {
	case dtype.Float32, dtype.Float64:
		return fmt.Sprintf("float%d", bits), nil
	case dtype.Bfloat16:
		return "bfloat16", nil
	case dtype.Int32, dtype.Int64:
		return fmt.Sprintf("int%d", bits), nil
	case dtype.Uint32, dtype.Uint64:
		return fmt.Sprintf("uint%d", bits), nil
	case dtype.Bool:
		return "bool", nil
	}
	return "", fmt.Errorf("data type %s not supported by the graph runtime", dt.String())
}

// NumOutputs returns the number of tensor outputs of a type: the field
// count for a tuple, one for a tensor.
func NumOutputs(t Type) int {
	if tup, ok := t.(*TupleType); ok {
		return len(tup.Fields)
	}
	return 1
}
