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

package graph

import (
	"github.com/pkg/errors"

	"github.com/relayrt/relayrt/backend/engine"
	"github.com/relayrt/relayrt/build/fmterr"
	"github.com/relayrt/relayrt/build/ir"
	"github.com/relayrt/relayrt/runtime"
	"github.com/relayrt/relayrt/runtime/registry"
)

// CodegenFactory is the registry name returning a fresh codegen
// module.
const CodegenFactory = "relay.build_module._GraphRuntimeCodegen"

// Module exposes the code generator to an embedding host as named
// packed functions.
type Module struct {
	mod     any
	codegen *Codegen
	output  *LoweredOutput
}

var _ runtime.Module = (*Module)(nil)

// CreateGraphCodegenMod returns a fresh codegen module.
func CreateGraphCodegenMod() *Module {
	return &Module{}
}

// TypeKey identifies the module kind.
func (m *Module) TypeKey() string {
	return "RelayGraphRuntimeCodegen"
}

// GetFunction returns the command registered under a name, nil for
// unknown names.
func (m *Module) GetFunction(name string) runtime.Func {
	switch name {
	case "init":
		return m.initFn
	case "codegen":
		return m.codegenFn
	case "get_graph_json":
		return m.getGraphJSON
	case "list_params_name":
		return m.listParamsName
	case "get_param_by_name":
		return m.getParamByName
	case "get_irmodule":
		return m.getIRModule
	case "get_external_modules":
		return m.getExternalModules
	}
	return nil
}

// initFn stores the module handle and the target table. Device keys
// must be integers.
func (m *Module) initFn(args runtime.Args) (any, error) {
	if len(args) != 2 {
		return nil, errors.Errorf("init expects a module handle and a device to target table, got %d arguments", len(args))
	}
	targets, err := targetsOf(args[1])
	if err != nil {
		return nil, err
	}
	m.mod = args[0]
	m.codegen = NewCodegen(engine.Global(), targets)
	return nil, nil
}

// targetsOf validates a host-provided target table.
func targetsOf(arg any) (engine.TargetsMap, error) {
	switch t := arg.(type) {
	case engine.TargetsMap:
		return t, nil
	case map[int]engine.Target:
		return t, nil
	case map[any]any:
		targets := make(engine.TargetsMap, len(t))
		var app fmterr.Appender
		for k, v := range t {
			devType, ok := k.(int)
			if !ok {
				app.Append(errors.Errorf("device type %v is not an integer", k))
				continue
			}
			switch target := v.(type) {
			case engine.Target:
				targets[devType] = target
			case string:
				targets[devType] = engine.Target(target)
			default:
				app.Append(errors.Errorf("target for device %d has type %T, want a target name", devType, v))
			}
		}
		if err := app.Err(); err != nil {
			return nil, err
		}
		return targets, nil
	}
	return nil, errors.Errorf("targets table has type %T, want a device to target map", arg)
}

// codegenFn runs code generation on a function and stores the output.
func (m *Module) codegenFn(args runtime.Args) (any, error) {
	if m.codegen == nil {
		return nil, errors.Errorf("codegen module is not initialized")
	}
	fn, err := runtime.At[*ir.Function](args, 0)
	if err != nil {
		return nil, err
	}
	output, err := m.codegen.Codegen(fn)
	if err != nil {
		return nil, err
	}
	m.output = output
	return nil, nil
}

func (m *Module) ready() error {
	if m.output == nil {
		return errors.Errorf("no function has been generated yet")
	}
	return nil
}

func (m *Module) getGraphJSON(runtime.Args) (any, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.output.GraphJSON, nil
}

func (m *Module) listParamsName(runtime.Args) (any, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	names := make([]string, 0, m.output.Params.Size())
	for name := range m.output.Params.Keys() {
		names = append(names, name)
	}
	return names, nil
}

func (m *Module) getParamByName(args runtime.Args) (any, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	name, err := runtime.At[string](args, 0)
	if err != nil {
		return nil, err
	}
	param, ok := m.output.Params.Load(name)
	if !ok {
		return nil, errors.Errorf("no parameter named %q", name)
	}
	return param, nil
}

func (m *Module) getIRModule(runtime.Args) (any, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	mods := make(map[string]*engine.IRModule, m.output.LoweredFuncs.Size())
	for target, mod := range m.output.LoweredFuncs.Iter() {
		mods[target] = mod
	}
	return mods, nil
}

func (m *Module) getExternalModules(runtime.Args) (any, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.output.ExternalMods, nil
}

func init() {
	registry.MustRegister(CodegenFactory, func(runtime.Args) (any, error) {
		return CreateGraphCodegenMod(), nil
	})
}
