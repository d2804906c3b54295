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

package plan_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gx-org/backend/dtype"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/relayrt/relayrt/backend/plan"
	"github.com/relayrt/relayrt/build/fmterr"
	"github.com/relayrt/relayrt/build/ir"
)

func tt(dims ...int) *ir.TensorType {
	return ir.TensorOf(dtype.Float32, dims...)
}

func v(name string, t ir.Type) *ir.Var {
	return &ir.Var{Name: name, T: t}
}

// fused builds a primitive function standing for a fused kernel.
func fused(name string, ret ir.Type, params ...ir.Type) *ir.Function {
	fn := &ir.Function{
		Body:  v("out", ret),
		Attrs: ir.Attrs{ir.AttrPrimitive: 1, "Symbol": name},
	}
	for i, p := range params {
		fn.Params = append(fn.Params, v(string(rune('a'+i)), p))
	}
	return fn
}

func call(fn *ir.Function, ret ir.Type, args ...ir.Expr) *ir.Call {
	return &ir.Call{Op: fn, Args: args, Attrs: ir.Attrs{}, T: ret}
}

func ids(p *plan.Plan, t *testing.T, e ir.Expr) []int64 {
	t.Helper()
	as, ok := p.Get(e)
	if !ok {
		t.Fatalf("expression %s has no assignment", e.TypeKey())
	}
	return as.StorageIDs
}

// Single tensor pass-through: one committed region holding the
// parameter, kept alive as the output.
func TestPlanPassThrough(t *testing.T) {
	x := v("x", tt(1, 3, 4, 4))
	fn := &ir.Function{Params: []*ir.Var{x}, Body: x}

	p, err := plan.Memory(fn)
	require.NoError(t, err)
	require.Equal(t, []int64{0}, ids(p, t, x))
	require.Equal(t, 1, p.NumStorage())
	require.Equal(t, 192, p.TotalAllocBytes())
}

// Single fused call: one region per parameter plus one for the result.
func TestPlanSingleCall(t *testing.T) {
	x := v("x", tt(1, 3, 4, 4))
	w := v("w", tt(8, 3, 1, 1))
	conv := call(fused("fused_conv2d", tt(1, 8, 4, 4), x.T, w.T), tt(1, 8, 4, 4), x, w)
	fn := &ir.Function{Params: []*ir.Var{x, w}, Body: conv}

	p, err := plan.Memory(fn)
	require.NoError(t, err)
	require.Equal(t, []int64{0}, ids(p, t, x))
	require.Equal(t, []int64{1}, ids(p, t, w))
	require.Equal(t, []int64{2}, ids(p, t, conv))
	require.Equal(t, 192+96+512, p.TotalAllocBytes())

	as, _ := p.Get(conv)
	require.Equal(t, []int64{0}, as.DeviceTypes)
}

// A chain of same-sized calls recycles the first intermediate region
// once its reader is exhausted: exact size match in the free list.
func TestPlanChainReuse(t *testing.T) {
	x := v("x", tt(1, 3, 4, 4))
	relu := func(arg ir.Expr, name string) *ir.Call {
		return call(fused(name, tt(1, 3, 4, 4), tt(1, 3, 4, 4)), tt(1, 3, 4, 4), arg)
	}
	c1 := relu(x, "fused_relu")
	c2 := relu(c1, "fused_relu_1")
	c3 := relu(c2, "fused_relu_2")
	fn := &ir.Function{Params: []*ir.Var{x}, Body: c3}

	p, err := plan.Memory(fn)
	require.NoError(t, err)
	require.Equal(t, []int64{0}, ids(p, t, x))
	require.Equal(t, []int64{1}, ids(p, t, c1))
	require.Equal(t, []int64{2}, ids(p, t, c2))
	// c1's region is free when c3 requests: same size, same device.
	require.Equal(t, []int64{1}, ids(p, t, c3))
	require.Equal(t, 3, p.NumStorage())
	require.Equal(t, 3*192, p.TotalAllocBytes())
}

// A call whose result is never read is released immediately, yet keeps
// a finalized storage id. The next same-sized request picks it up.
func TestPlanOrphanRelease(t *testing.T) {
	x := v("x", tt(2, 2))
	orphan := call(fused("fused_mul", tt(2, 2), tt(2, 2)), tt(2, 2), x)
	tmp := v("tmp", tt(2, 2))
	c2 := call(fused("fused_add", tt(2, 2), tt(2, 2)), tt(2, 2), x)
	body := &ir.Let{Var: tmp, Value: orphan, Body: c2}
	fn := &ir.Function{Params: []*ir.Var{x}, Body: body}

	p, err := plan.Memory(fn)
	require.NoError(t, err)
	require.Equal(t, []int64{0}, ids(p, t, x))
	require.Equal(t, []int64{1}, ids(p, t, orphan))
	// The orphan region was recycled for the second call.
	require.Equal(t, []int64{1}, ids(p, t, c2))
	require.Equal(t, 2, p.NumStorage())
}

// Tuples concatenate their field tokens by reference: no fresh region.
func TestPlanTupleFlattening(t *testing.T) {
	x := v("x", tt(2))
	tup := &ir.Tuple{
		Fields: []ir.Expr{x, x},
		T:      &ir.TupleType{Fields: []ir.Type{x.T, x.T}},
	}
	fn := &ir.Function{Params: []*ir.Var{x}, Body: tup}

	p, err := plan.Memory(fn)
	require.NoError(t, err)
	require.Equal(t, []int64{0, 0}, ids(p, t, tup))
	require.Equal(t, 1, p.NumStorage())
	require.Equal(t, 8, p.TotalAllocBytes())
}

func TestPlanTupleGetItem(t *testing.T) {
	x := v("x", tt(2))
	y := v("y", tt(2))
	tup := &ir.Tuple{
		Fields: []ir.Expr{x, y},
		T:      &ir.TupleType{Fields: []ir.Type{x.T, y.T}},
	}
	item := &ir.TupleGetItem{Tup: tup, Index: 1, T: y.T}
	fn := &ir.Function{Params: []*ir.Var{x, y}, Body: item}

	p, err := plan.Memory(fn)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, ids(p, t, item))
}

func TestPlanTupleGetItemOutOfBounds(t *testing.T) {
	x := v("x", tt(2))
	tup := &ir.Tuple{Fields: []ir.Expr{x}, T: &ir.TupleType{Fields: []ir.Type{x.T}}}
	item := &ir.TupleGetItem{Tup: tup, Index: 3, T: x.T}
	fn := &ir.Function{Params: []*ir.Var{x}, Body: item}

	_, err := plan.Memory(fn)
	require.ErrorIs(t, err, fmterr.ErrTupleArityMismatch)
}

// A partially annotated function is rejected: devices are all or none.
func TestPlanPartialDeviceAnnotation(t *testing.T) {
	x := v("x", tt(1, 3, 4, 4))
	c := call(fused("fused_relu", x.T, x.T), x.T, x)
	fn := &ir.Function{Params: []*ir.Var{x}, Body: c}

	_, err := plan.Memory(fn, plan.WithDeviceMap(map[ir.Expr]int{c: 2}))
	require.ErrorIs(t, err, fmterr.ErrPartialDeviceAnnotation)
}

// A free region on another device must be skipped by the best-fit
// search even when its size matches.
func TestPlanDeviceMismatchSkipsFreeRegion(t *testing.T) {
	x := v("x", tt(4))
	mk := func(arg ir.Expr, name string) *ir.Call {
		return call(fused(name, tt(4), tt(4)), tt(4), arg)
	}
	c1 := mk(x, "fused_a")
	c2 := mk(c1, "fused_b")
	c3 := mk(c2, "fused_c")
	fn := &ir.Function{Params: []*ir.Var{x}, Body: c3}

	devices := map[ir.Expr]int{x: 1, c1: 1, c2: 2, c3: 2}
	p, err := plan.Memory(fn, plan.WithDeviceMap(devices))
	require.NoError(t, err)
	// c1's region is free when c3 requests, but lives on device 1.
	require.Equal(t, []int64{1}, ids(p, t, c1))
	require.Equal(t, []int64{3}, ids(p, t, c3))
	require.Equal(t, 4, p.NumStorage())

	as, _ := p.Get(c3)
	require.Equal(t, []int64{2}, as.DeviceTypes)
}

// A zero match range disables recycling globally.
func TestPlanMatchRangeZero(t *testing.T) {
	x := v("x", tt(4))
	mk := func(arg ir.Expr, name string) *ir.Call {
		return call(fused(name, tt(4), tt(4)), tt(4), arg)
	}
	c1 := mk(x, "fused_a")
	c2 := mk(c1, "fused_b")
	c3 := mk(c2, "fused_c")
	fn := &ir.Function{Params: []*ir.Var{x}, Body: c3}

	p, err := plan.Memory(fn, plan.WithMatchRange(0))
	require.NoError(t, err)
	require.Equal(t, []int64{3}, ids(p, t, c3))
	require.Equal(t, 4, p.NumStorage())
}

// The similarity window tolerates near-size reuse but refuses wildly
// oversized regions.
func TestPlanSimilarityWindow(t *testing.T) {
	x := v("x", tt(64))
	big := call(fused("fused_a", tt(64), tt(64)), tt(64), x)
	shrink := call(fused("fused_b", tt(16), tt(64)), tt(16), big)
	// big's 256-byte region is free; a 64-byte request is within
	// [64/16, 64*16] so it is recycled, growing no further.
	near := call(fused("fused_c", tt(16), tt(16)), tt(16), shrink)
	fn := &ir.Function{Params: []*ir.Var{x}, Body: near}

	p, err := plan.Memory(fn)
	require.NoError(t, err)
	require.Equal(t, ids(p, t, big), ids(p, t, near))

	// With a window of 1, only exact sizes match: no reuse.
	p, err = plan.Memory(fn, plan.WithMatchRange(1))
	require.NoError(t, err)
	require.NotEqual(t, ids(p, t, big), ids(p, t, near))
}

// A zero-sized tensor is legal, occupies zero bytes, and only recycles
// other zero-sized regions.
func TestPlanZeroSizedTensor(t *testing.T) {
	x := v("x", tt(0))
	c1 := call(fused("fused_a", tt(0), tt(0)), tt(0), x)
	c2 := call(fused("fused_b", tt(0), tt(0)), tt(0), c1)
	c3 := call(fused("fused_c", tt(0), tt(0)), tt(0), c2)
	fn := &ir.Function{Params: []*ir.Var{x}, Body: c3}

	p, err := plan.Memory(fn)
	require.NoError(t, err)
	require.Equal(t, 0, p.TotalAllocBytes())
	require.Equal(t, ids(p, t, c1), ids(p, t, c3))
}

func TestPlanNegativeShape(t *testing.T) {
	x := v("x", tt(2, -3))
	c := call(fused("fused_a", x.T, x.T), x.T, x)
	fn := &ir.Function{Params: []*ir.Var{x}, Body: c}

	_, err := plan.Memory(fn)
	require.ErrorIs(t, err, fmterr.ErrNegativeShape)
}

func TestPlanRejectsIf(t *testing.T) {
	x := v("x", tt(2))
	cond := v("c", ir.TensorOf(dtype.Bool))
	body := &ir.If{Cond: cond, Then: x, Else: x, T: x.T}
	fn := &ir.Function{Params: []*ir.Var{x, cond}, Body: body}

	_, err := plan.Memory(fn)
	require.ErrorIs(t, err, fmterr.ErrUnsupportedVariant)
}

// Every assignment pairs one device type with one storage id per
// tensor output, and no storage id is left unassigned.
func TestPlanAssignmentShape(t *testing.T) {
	x := v("x", tt(2, 2))
	multi := call(
		fused("fused_split", &ir.TupleType{Fields: []ir.Type{tt(2, 2), tt(2, 2)}}, tt(2, 2)),
		&ir.TupleType{Fields: []ir.Type{tt(2, 2), tt(2, 2)}},
		x,
	)
	fn := &ir.Function{Params: []*ir.Var{x}, Body: multi}

	p, err := plan.Memory(fn)
	require.NoError(t, err)
	for e, as := range p.Iter() {
		require.Len(t, as.DeviceTypes, len(as.StorageIDs))
		require.Equal(t, ir.NumOutputs(e.Type()), len(as.StorageIDs), "expression %s", e.TypeKey())
		for _, id := range as.StorageIDs {
			require.GreaterOrEqual(t, id, int64(0))
		}
	}
	require.Equal(t, []int64{1, 2}, ids(p, t, multi))
}

// Planning the same function twice yields identical assignments.
func TestPlanDeterministic(t *testing.T) {
	x := v("x", tt(1, 3, 4, 4))
	w := v("w", tt(8, 3, 1, 1))
	conv := call(fused("fused_conv2d", tt(1, 8, 4, 4), x.T, w.T), tt(1, 8, 4, 4), x, w)
	act := call(fused("fused_relu", tt(1, 8, 4, 4), tt(1, 8, 4, 4)), tt(1, 8, 4, 4), conv)
	fn := &ir.Function{Params: []*ir.Var{x, w}, Body: act}

	snapshot := func(p *plan.Plan) [][]int64 {
		var out [][]int64
		for _, as := range p.Iter() {
			out = append(out, as.StorageIDs, as.DeviceTypes)
		}
		return out
	}
	p1, err := plan.Memory(fn)
	require.NoError(t, err)
	p2, err := plan.Memory(fn)
	require.NoError(t, err)
	if diff := cmp.Diff(snapshot(p1), snapshot(p2)); diff != "" {
		t.Errorf("plans differ (-first +second):\n%s", diff)
	}
}

// Storage is recycled only between live ranges that do not overlap:
// two values read by the same call never share a region.
func TestPlanNoOverlappingShares(t *testing.T) {
	x := v("x", tt(4))
	mk := func(name string, ret ir.Type, args ...ir.Expr) *ir.Call {
		var pts []ir.Type
		for _, a := range args {
			pts = append(pts, a.Type())
		}
		return call(fused(name, ret, pts...), ret, args...)
	}
	c1 := mk("fused_a", tt(4), x)
	c2 := mk("fused_b", tt(4), c1)
	both := mk("fused_c", tt(4), c1, c2)
	fn := &ir.Function{Params: []*ir.Var{x}, Body: both}

	p, err := plan.Memory(fn)
	require.NoError(t, err)
	require.NotEqual(t, ids(p, t, c1), ids(p, t, c2))
	require.NotEqual(t, ids(p, t, c1), ids(p, t, both))
}

func TestPlanUnboundVariable(t *testing.T) {
	x := v("x", tt(2))
	free := v("free", tt(2))
	c := call(fused("fused_add", tt(2), tt(2), tt(2)), tt(2), x, free)
	fn := &ir.Function{Params: []*ir.Var{x}, Body: c}

	_, err := plan.Memory(fn)
	require.ErrorIs(t, err, fmterr.ErrMissingToken)
}

// A tuple field must supply exactly one token: nesting a tuple-valued
// expression inside a tuple is rejected.
func TestPlanNestedTuple(t *testing.T) {
	x := v("x", tt(2))
	y := v("y", tt(2))
	inner := &ir.Tuple{
		Fields: []ir.Expr{x, y},
		T:      &ir.TupleType{Fields: []ir.Type{x.T, y.T}},
	}
	outer := &ir.Tuple{
		Fields: []ir.Expr{inner, x},
		T:      &ir.TupleType{Fields: []ir.Type{inner.T, x.T}},
	}
	fn := &ir.Function{Params: []*ir.Var{x, y}, Body: outer}
	_, err := plan.Memory(fn)
	if !errors.Is(err, fmterr.ErrUnsupportedVariant) {
		t.Errorf("nested tuple: got error %v but want %v", err, fmterr.ErrUnsupportedVariant)
	}
}
