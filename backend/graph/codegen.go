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

// Package graph generates the graph-runtime program for a function: a
// JSON graph description, the table of lowered kernel modules per
// target, and the parameter table.
//
// The translation is memoized by expression identity: each node of the
// input DAG is translated once, in post-order, and the emitted node
// indices follow that order. Storage ids and device indices come from
// the memory planner, reached through its registry hook.
package graph

import (
	"fmt"

	"tlog.app/go/tlog"

	"github.com/relayrt/relayrt/backend/engine"
	"github.com/relayrt/relayrt/backend/plan"
	"github.com/relayrt/relayrt/base/ordered"
	"github.com/relayrt/relayrt/base/uname"
	"github.com/relayrt/relayrt/build/fmterr"
	"github.com/relayrt/relayrt/build/ir"
	"github.com/relayrt/relayrt/runtime"
	"github.com/relayrt/relayrt/runtime/registry"
)

// LoweredOutput is the result of generating one function.
type LoweredOutput struct {
	// GraphJSON is the graph description consumed by the runtime.
	GraphJSON string

	// LoweredFuncs are the lowered kernel modules, per target.
	LoweredFuncs *ordered.Map[string, *engine.IRModule]

	// ExternalMods are the runtime modules produced by external
	// compilers.
	ExternalMods []runtime.Module

	// Params maps parameter names to the constant buffers extracted
	// from the function.
	Params *ordered.Map[string, ir.Buffer]
}

// Codegen translates a planned function into a graph program.
type Codegen struct {
	eng     *engine.Engine
	targets engine.TargetsMap
	devices map[ir.Expr]int

	memo    *ir.Memo[[]NodeRef]
	storage *plan.Plan

	nodes   []*node
	heads   []NodeRef
	params  *ordered.Map[string, ir.Buffer]
	lowered *ordered.Map[string, *engine.IRModule]
	names   *uname.Unique
}

var _ ir.Translator[[]NodeRef] = (*Codegen)(nil)

// NewCodegen returns a code generator lowering through the given
// engine for the given targets.
func NewCodegen(eng *engine.Engine, targets engine.TargetsMap) *Codegen {
	return &Codegen{eng: eng, targets: targets}
}

// SetDeviceMap sets the per-expression device annotations handed to
// the planner for heterogeneous execution.
func (cg *Codegen) SetDeviceMap(devices map[ir.Expr]int) {
	cg.devices = devices
}

// Codegen generates the graph program of a function. The storage plan
// is obtained through the planner's registry hook.
func (cg *Codegen) Codegen(fn *ir.Function) (*LoweredOutput, error) {
	hook, err := registry.MustGet(plan.MemoryHook)
	if err != nil {
		return nil, err
	}
	hookArgs := runtime.Args{fn}
	if cg.devices != nil {
		hookArgs = append(hookArgs, cg.devices)
	}
	planned, err := hook(hookArgs)
	if err != nil {
		return nil, err
	}
	storage, ok := planned.(*plan.Plan)
	if !ok {
		return nil, fmterr.Errorf(fmterr.ErrMissingFunction, "%s returned %T, want *plan.Plan", plan.MemoryHook, planned)
	}
	cg.storage = storage
	cg.memo = ir.NewMemo[[]NodeRef](cg)
	cg.nodes = nil
	cg.heads = nil
	cg.params = ordered.NewMap[string, ir.Buffer]()
	cg.lowered = ordered.NewMap[string, *engine.IRModule]()
	cg.names = uname.New()

	// Parameters become input nodes before the body is walked.
	for _, param := range fn.Params {
		refs, err := cg.addNode(newInputNode(param.Name), param)
		if err != nil {
			return nil, err
		}
		cg.memo.Store(param, refs)
	}
	heads, err := cg.memo.Visit(fn.Body)
	if err != nil {
		return nil, err
	}
	cg.heads = heads
	tlog.V("graph").Printw("codegen done", "nodes", len(cg.nodes), "heads", len(cg.heads), "storage_bytes", storage.TotalAllocBytes())

	graphJSON, err := cg.json()
	if err != nil {
		return nil, err
	}
	external, err := cg.eng.LowerExternalFunctions()
	if err != nil {
		return nil, err
	}
	return &LoweredOutput{
		GraphJSON:    graphJSON,
		LoweredFuncs: cg.lowered,
		ExternalMods: external,
		Params:       cg.params,
	}, nil
}

// addNode appends a node to the graph, stamps it with the storage plan
// and the checked type of its expression, and returns one reference
// per tensor output.
func (cg *Codegen) addNode(n *node, e ir.Expr) ([]NodeRef, error) {
	assign, ok := cg.storage.Get(e)
	if !ok {
		return nil, fmterr.ErrorfAt(fmterr.ErrMissingToken, e, "expression is not in the storage plan")
	}
	n.storageIDs = assign.StorageIDs

	numUnknown := 0
	for _, dev := range assign.DeviceTypes {
		if dev == 0 {
			numUnknown++
		}
	}
	if numUnknown != 0 && numUnknown != len(assign.DeviceTypes) {
		return nil, fmterr.ErrorfAt(fmterr.ErrPartialDeviceAnnotation, e, "%d of %d outputs carry a device for heterogeneous execution; all nodes must be annotated", len(assign.DeviceTypes)-numUnknown, len(assign.DeviceTypes))
	}
	if numUnknown == 0 {
		n.deviceIndex = assign.DeviceTypes
	}

	id := len(cg.nodes)
	cg.nodes = append(cg.nodes, n)

	switch t := e.Type().(type) {
	case *ir.TupleType:
		if n.kind != nodeOp {
			return nil, fmterr.ErrorfAt(fmterr.ErrUnsupportedVariant, e, "only kernel invocations can produce a tuple value")
		}
		refs := make([]NodeRef, 0, len(t.Fields))
		for i, f := range t.Fields {
			ttype, ok := f.(*ir.TensorType)
			if !ok {
				return nil, fmterr.ErrorfAt(fmterr.ErrUnsupportedVariant, e, "tuple field %d has type %s", i, f)
			}
			dt, err := ir.DTypeString(ttype.DType())
			if err != nil {
				return nil, err
			}
			refs = append(refs, NodeRef{Node: id, Output: i})
			n.shape = append(n.shape, dims(ttype))
			n.dtype = append(n.dtype, dt)
		}
		n.numOutputs = len(t.Fields)
		return refs, nil
	case *ir.TensorType:
		dt, err := ir.DTypeString(t.DType())
		if err != nil {
			return nil, err
		}
		n.shape = [][]int{dims(t)}
		n.dtype = []string{dt}
		return []NodeRef{{Node: id}}, nil
	}
	return nil, fmterr.ErrorfAt(fmterr.ErrUnsupportedVariant, e, "type %v not supported by the graph runtime", e.Type())
}

// dims returns the axis lengths of a tensor type, never nil so a
// scalar serializes as an empty list.
func dims(t *ir.TensorType) []int {
	if d := t.Dims(); d != nil {
		return d
	}
	return []int{}
}

// TranslateVar reports an unbound variable. Parameters and let-bound
// variables are pre-populated in the memo, so reaching this method
// means the variable has no binding.
func (cg *Codegen) TranslateVar(x *ir.Var) ([]NodeRef, error) {
	return nil, fmterr.ErrorfAt(fmterr.ErrMissingToken, x, "variable %q is not bound", x.Name)
}

// TranslateConstant turns an embedded literal into a named parameter
// and an input node.
func (cg *Codegen) TranslateConstant(x *ir.Constant) ([]NodeRef, error) {
	name := fmt.Sprintf("p%d", cg.params.Size())
	cg.params.Store(name, x.Value)
	return cg.addNode(newInputNode(name), x)
}

// TranslateTuple concatenates the field references, in order.
func (cg *Codegen) TranslateTuple(x *ir.Tuple) ([]NodeRef, error) {
	var fields []NodeRef
	for _, f := range x.Fields {
		refs, err := cg.memo.Visit(f)
		if err != nil {
			return nil, err
		}
		fields = append(fields, refs...)
	}
	return fields, nil
}

// TranslateTupleGetItem selects the reference of one tuple field.
func (cg *Codegen) TranslateTupleGetItem(x *ir.TupleGetItem) ([]NodeRef, error) {
	refs, err := cg.memo.Visit(x.Tup)
	if err != nil {
		return nil, err
	}
	if x.Index < 0 || x.Index >= len(refs) {
		return nil, fmterr.ErrorfAt(fmterr.ErrTupleArityMismatch, x, "index %d out of bounds for tuple with %d outputs", x.Index, len(refs))
	}
	return []NodeRef{refs[x.Index]}, nil
}

// TranslateLet records the bound variable and proceeds with the body.
func (cg *Codegen) TranslateLet(x *ir.Let) ([]NodeRef, error) {
	if cg.memo.Seen(x.Var) {
		return nil, fmterr.ErrorfAt(fmterr.ErrDuplicateToken, x.Var, "variable %q is bound twice", x.Var.Name)
	}
	value, err := cg.memo.Visit(x.Value)
	if err != nil {
		return nil, err
	}
	cg.memo.Store(x.Var, value)
	return cg.memo.Visit(x.Body)
}

// TranslateCall lowers a fused call and emits its op node.
func (cg *Codegen) TranslateCall(x *ir.Call) ([]NodeRef, error) {
	var fn *ir.Function
	switch op := x.Op.(type) {
	case *ir.Op:
		return nil, fmterr.ErrorfAt(fmterr.ErrUnsupportedVariant, x, "operator %q should be transformed away; apply operator fusion to the expression", op.Name)
	case *ir.GlobalVar:
		return nil, fmterr.ErrorfAt(fmterr.ErrUnsupportedVariant, x, "calls to global %q are not supported by the graph runtime", op.Name)
	case *ir.Function:
		fn = op
	default:
		return nil, fmterr.ErrorfAt(fmterr.ErrUnsupportedVariant, x, "the graph runtime does not support calls to %s", x.Op.TypeKey())
	}
	if !fn.Attrs.Nonzero(ir.AttrPrimitive) {
		return nil, fmterr.ErrorfAt(fmterr.ErrNonPrimitiveFunction, x, "the graph runtime only supports calls to primitive functions")
	}

	// Functions claimed by an external compiler lower to the ext_dev
	// pseudo-target; their embedded constants join the parameter table
	// under the external symbol.
	if compiler, ok := fn.Attrs.Str(ir.AttrCompiler); ok && compiler != "" {
		cached, err := cg.eng.Lower(engine.MakeCacheKey(fn, engine.ExtDev))
		if err != nil {
			return nil, err
		}
		cg.collectConstants(cached.FuncName, fn)
		return cg.addCallNode(x, cached.FuncName, cached.FuncName)
	}

	target, err := cg.callTarget(x)
	if err != nil {
		return nil, err
	}
	cached, err := cg.eng.Lower(engine.MakeCacheKey(fn, target))
	if err != nil {
		return nil, err
	}
	mod, ok := cg.lowered.Load(target.String())
	if !ok {
		mod = engine.NewIRModule()
		cg.lowered.Store(target.String(), mod)
	}
	mod.Update(cached.Funcs)
	return cg.addCallNode(x, cg.names.Name(cached.FuncName), cached.FuncName)
}

// callTarget picks the lowering target of a call: the sole configured
// target, or the one configured for the call's device type.
func (cg *Codegen) callTarget(x *ir.Call) (engine.Target, error) {
	if len(cg.targets) == 1 {
		for _, target := range cg.targets {
			return target, nil
		}
	}
	assign, ok := cg.storage.Get(x)
	if !ok {
		return "", fmterr.ErrorfAt(fmterr.ErrMissingToken, x, "call is not in the storage plan")
	}
	devType := int(assign.DeviceTypes[0])
	devName := "llvm"
	if devType != 0 {
		devName = engine.DeviceName(devType)
	}
	target, ok := cg.targets[devType]
	if !ok {
		return "", fmterr.ErrorfAt(fmterr.ErrMissingTarget, x, "no target is provided for device %s", devName)
	}
	return target, nil
}

// addCallNode emits the op node of a call: its inputs are the
// references of all arguments, flattened in order.
func (cg *Codegen) addCallNode(x *ir.Call, name, funcName string) ([]NodeRef, error) {
	var inputs []NodeRef
	for _, arg := range x.Args {
		refs, err := cg.memo.Visit(arg)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, refs...)
	}
	return cg.addNode(newOpNode(name, funcName, inputs), x)
}

// collectConstants walks a function handled by an external compiler
// and adds its embedded constants to the parameter table.
func (cg *Codegen) collectConstants(symbol string, fn *ir.Function) {
	idx := 0
	seen := make(map[ir.Expr]bool)
	var walk func(e ir.Expr)
	walk = func(e ir.Expr) {
		if e == nil || seen[e] {
			return
		}
		seen[e] = true
		switch x := e.(type) {
		case *ir.Constant:
			cg.params.Store(fmt.Sprintf("%s_const_%d", symbol, idx), x.Value)
			idx++
		case *ir.Tuple:
			for _, f := range x.Fields {
				walk(f)
			}
		case *ir.TupleGetItem:
			walk(x.Tup)
		case *ir.Call:
			walk(x.Op)
			for _, a := range x.Args {
				walk(a)
			}
		case *ir.Function:
			walk(x.Body)
		case *ir.Let:
			walk(x.Value)
			walk(x.Body)
		case *ir.If:
			walk(x.Cond)
			walk(x.Then)
			walk(x.Else)
		}
	}
	walk(fn)
}

// TranslateFunction rejects bare function references: only functions
// claimed by an external compiler may appear outside a call operator.
func (cg *Codegen) TranslateFunction(x *ir.Function) ([]NodeRef, error) {
	if compiler, ok := x.Attrs.Str(ir.AttrCompiler); ok && compiler != "" {
		return nil, nil
	}
	return nil, fmterr.ErrorfAt(fmterr.ErrUnsupportedVariant, x, "only functions supported by custom codegen can appear outside a call")
}

// TranslateOp rejects bare operator references.
func (cg *Codegen) TranslateOp(x *ir.Op) ([]NodeRef, error) {
	return nil, fmterr.ErrorfAt(fmterr.ErrUnsupportedVariant, x, "cannot compile operator %q in non-applied form", x.Name)
}

// TranslateGlobalVar rejects global references.
func (cg *Codegen) TranslateGlobalVar(x *ir.GlobalVar) ([]NodeRef, error) {
	return nil, fmterr.ErrorfAt(fmterr.ErrUnsupportedVariant, x, "global %q is not supported by the graph runtime", x.Name)
}

// TranslateIf rejects control flow.
func (cg *Codegen) TranslateIf(x *ir.If) ([]NodeRef, error) {
	return nil, fmterr.ErrorfAt(fmterr.ErrUnsupportedVariant, x, "control flow is not supported by the graph runtime")
}
