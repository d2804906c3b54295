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

// Package engine fronts the compile engine: the collaborator lowering
// fused sub-functions to target modules.
//
// Lowering itself is injected (per-operator scheduling and kernel
// generation are out of scope); the engine owns the cache. A function
// is lowered at most once per (function, target) key, keyed by
// structural hash and confirmed by structural equality, including when
// Lower is called from several goroutines.
package engine

import (
	"sync"

	"tlog.app/go/tlog"

	"github.com/relayrt/relayrt/base/ordered"
	"github.com/relayrt/relayrt/build/fmterr"
	"github.com/relayrt/relayrt/build/ir"
	"github.com/relayrt/relayrt/runtime"
	"github.com/relayrt/relayrt/runtime/registry"
)

// Registry names bound by this package.
const (
	// LowerHook is looked up by the default lowerer: a packed function
	// taking (function, target string) and returning a *CachedFunc.
	LowerHook = "relay.backend._CompileEngineLower"

	// ExtHookPrefix prefixes the per-compiler external codegen hooks:
	// relay.ext.<compiler> takes a function and returns a
	// runtime.Module.
	ExtHookPrefix = "relay.ext."
)

type (
	// CacheKey identifies one lowering: a fused function on a target.
	CacheKey struct {
		Func   *ir.Function
		Hash   uint64
		Target Target
	}

	// IRModule is a named collection of lowered functions. The lowered
	// functions themselves are opaque to the graph backend.
	IRModule struct {
		funcs *ordered.Map[string, any]
	}

	// CachedFunc is the result of lowering one fused function.
	CachedFunc struct {
		Target   Target
		FuncName string
		Funcs    *IRModule
		FuncType ir.Type
	}

	// Lowerer produces a CachedFunc for a fused function on a target.
	Lowerer func(fn *ir.Function, target Target) (*CachedFunc, error)

	// Engine caches lowering results per cache key.
	Engine struct {
		lowerer Lowerer

		mu      sync.Mutex
		entries map[entryKey][]*cacheEntry
		ext     []*ir.Function
	}

	entryKey struct {
		hash   uint64
		target Target
	}

	cacheEntry struct {
		fn   *ir.Function
		once sync.Once
		cf   *CachedFunc
		err  error
	}
)

// MakeCacheKey returns the cache key of a function on a target.
func MakeCacheKey(fn *ir.Function, target Target) CacheKey {
	return CacheKey{Func: fn, Hash: ir.StructuralHash(fn), Target: target}
}

// NewIRModule returns an empty module.
func NewIRModule() *IRModule {
	return &IRModule{funcs: ordered.NewMap[string, any]()}
}

// Add a lowered function to the module.
func (m *IRModule) Add(name string, fn any) {
	m.funcs.Store(name, fn)
}

// Update merges all functions of other into the module.
func (m *IRModule) Update(other *IRModule) {
	if other == nil {
		return
	}
	for name, fn := range other.funcs.Iter() {
		m.funcs.Store(name, fn)
	}
}

// Names returns the function names in insertion order.
func (m *IRModule) Names() []string {
	names := make([]string, 0, m.funcs.Size())
	for name := range m.funcs.Keys() {
		names = append(names, name)
	}
	return names
}

// Load returns a lowered function by name.
func (m *IRModule) Load(name string) (any, bool) {
	return m.funcs.Load(name)
}

// New returns an engine lowering through the given function.
func New(lowerer Lowerer) *Engine {
	return &Engine{lowerer: lowerer, entries: make(map[entryKey][]*cacheEntry)}
}

var (
	global     *Engine
	globalOnce sync.Once
)

// Global returns the process engine. Its lowerer resolves through the
// LowerHook registry binding, so embedding hosts can install their own
// lowering without linking against this package.
func Global() *Engine {
	globalOnce.Do(func() {
		global = New(registryLowerer)
	})
	return global
}

func registryLowerer(fn *ir.Function, target Target) (*CachedFunc, error) {
	hook, err := registry.MustGet(LowerHook)
	if err != nil {
		return nil, err
	}
	res, err := hook(runtime.Args{fn, target.String()})
	if err != nil {
		return nil, err
	}
	cf, ok := res.(*CachedFunc)
	if !ok {
		return nil, fmterr.Errorf(fmterr.ErrMissingFunction, "%s returned %T, want *CachedFunc", LowerHook, res)
	}
	return cf, nil
}

// Lower returns the lowering of the key's function for the key's
// target, computing it on first request. Concurrent calls with the
// same key block until the single lowering completes.
func (eng *Engine) Lower(key CacheKey) (*CachedFunc, error) {
	entry := eng.entry(key)
	entry.once.Do(func() {
		entry.cf, entry.err = eng.lower(key)
	})
	return entry.cf, entry.err
}

func (eng *Engine) entry(key CacheKey) *cacheEntry {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	ek := entryKey{hash: key.Hash, target: key.Target}
	for _, e := range eng.entries[ek] {
		if e.fn == key.Func || ir.StructuralEqual(e.fn, key.Func) {
			return e
		}
	}
	e := &cacheEntry{fn: key.Func}
	eng.entries[ek] = append(eng.entries[ek], e)
	return e
}

func (eng *Engine) lower(key CacheKey) (*CachedFunc, error) {
	if compiler, ok := key.Func.Attrs.Str(ir.AttrCompiler); ok && compiler != "" {
		return eng.lowerExternal(key)
	}
	tlog.V("engine").Printw("lower", "target", key.Target.String(), "hash", key.Hash)
	return eng.lowerer(key.Func, key.Target)
}

// lowerExternal records the function for LowerExternalFunctions and
// names it after its global symbol.
func (eng *Engine) lowerExternal(key CacheKey) (*CachedFunc, error) {
	symbol, ok := key.Func.Attrs.Str(ir.AttrGlobalSymbol)
	if !ok || symbol == "" {
		return nil, fmterr.ErrorfAt(fmterr.ErrMissingFunction, key.Func, "external function has no %s attribute", ir.AttrGlobalSymbol)
	}
	eng.mu.Lock()
	eng.ext = append(eng.ext, key.Func)
	eng.mu.Unlock()
	return &CachedFunc{
		Target:   key.Target,
		FuncName: symbol,
		Funcs:    NewIRModule(),
		FuncType: key.Func.Type(),
	}, nil
}

// LowerExternalFunctions hands every function carrying a Compiler
// attribute to its relay.ext.<compiler> registry hook and collects the
// resulting runtime modules.
func (eng *Engine) LowerExternalFunctions() ([]runtime.Module, error) {
	eng.mu.Lock()
	ext := append([]*ir.Function{}, eng.ext...)
	eng.mu.Unlock()

	var mods []runtime.Module
	for _, fn := range ext {
		compiler, _ := fn.Attrs.Str(ir.AttrCompiler)
		hook, err := registry.MustGet(ExtHookPrefix + compiler)
		if err != nil {
			return nil, err
		}
		res, err := hook(runtime.Args{fn})
		if err != nil {
			return nil, err
		}
		mod, ok := res.(runtime.Module)
		if !ok {
			return nil, fmterr.Errorf(fmterr.ErrMissingFunction, "%s%s returned %T, want runtime.Module", ExtHookPrefix, compiler, res)
		}
		mods = append(mods, mod)
	}
	return mods, nil
}

// Clear drops all cached lowerings and recorded external functions.
func (eng *Engine) Clear() {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	eng.entries = make(map[entryKey][]*cacheEntry)
	eng.ext = nil
}
