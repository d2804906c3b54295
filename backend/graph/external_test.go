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

package graph_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/relayrt/relayrt/backend/engine"
	"github.com/relayrt/relayrt/backend/graph"
	"github.com/relayrt/relayrt/build/ir"
	"github.com/relayrt/relayrt/runtime"
	"github.com/relayrt/relayrt/runtime/registry"
	"github.com/relayrt/relayrt/runtime/tensor"
)

type extModule struct{ compiler string }

func (m *extModule) TypeKey() string                 { return m.compiler }
func (m *extModule) GetFunction(string) runtime.Func { return nil }

// A function claimed by an external compiler lowers under its global
// symbol, surfaces its embedded constants as named parameters, and is
// harvested as a runtime module.
func TestCodegenExternalFunction(t *testing.T) {
	registry.MustRegister(engine.ExtHookPrefix+"myext", func(args runtime.Args) (any, error) {
		if _, err := runtime.At[*ir.Function](args, 0); err != nil {
			return nil, err
		}
		return runtime.Module(&extModule{compiler: "myext"}), nil
	})
	defer registry.Remove(engine.ExtHookPrefix + "myext")

	w, err := tensor.FromSlice([]float32{5, 6}, tt(2).Sh)
	if err != nil {
		t.Fatalf("building constant: %v", err)
	}
	p := v("a", tt(2))
	ext := &ir.Function{
		Params: []*ir.Var{p},
		Body: &ir.Call{
			Op:   &ir.Op{Name: "add"},
			Args: []ir.Expr{p, &ir.Constant{Value: w, T: tt(2)}},
			T:    tt(2),
		},
		Attrs: ir.Attrs{
			ir.AttrPrimitive:    1,
			ir.AttrCompiler:     "myext",
			ir.AttrGlobalSymbol: "myext_main",
		},
	}
	x := v("x", tt(2))
	c := &ir.Call{Op: ext, Args: []ir.Expr{x}, Attrs: ir.Attrs{}, T: tt(2)}
	fn := &ir.Function{Params: []*ir.Var{x}, Body: c}

	cg := graph.NewCodegen(engine.New(lowerer), engine.TargetsMap{1: "llvm"})
	out, err := cg.Codegen(fn)
	if err != nil {
		t.Fatalf("codegen: %v", err)
	}

	var params []string
	for name := range out.Params.Keys() {
		params = append(params, name)
	}
	if diff := cmp.Diff([]string{"myext_main_const_0"}, params); diff != "" {
		t.Errorf("parameter names mismatch (-want +got):\n%s", diff)
	}

	if len(out.ExternalMods) != 1 || out.ExternalMods[0].TypeKey() != "myext" {
		t.Errorf("external modules are %v but want the myext module", out.ExternalMods)
	}
	if out.LoweredFuncs.Size() != 0 {
		t.Errorf("external lowering leaked into the per-target modules")
	}

	doc := parse(t, out.GraphJSON)
	op := doc["nodes"].([]any)[1].(map[string]any)
	if op["name"] != "myext_main" {
		t.Errorf("op node is named %v but want myext_main", op["name"])
	}
	attrs := op["attrs"].(map[string]any)
	if attrs["func_name"] != "myext_main" {
		t.Errorf("op func_name is %v but want myext_main", attrs["func_name"])
	}
}
