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

// Package registry is the process-wide table of functions callable by
// name, used to bind the backend passes to each other and to an
// embedding host.
//
// The table is created on first access and intentionally never torn
// down: registered functions may hold callbacks into an embedding
// runtime whose state is destroyed in nondeterministic order at process
// exit, so entries are only removed through an explicit Remove.
package registry

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/relayrt/relayrt/build/fmterr"
	"github.com/relayrt/relayrt/runtime"
)

type manager struct {
	mu   sync.Mutex
	fmap map[string]runtime.Func
}

var (
	global     *manager
	globalOnce sync.Once
)

func man() *manager {
	globalOnce.Do(func() {
		global = &manager{fmap: make(map[string]runtime.Func)}
	})
	return global
}

// Register a function under a name. Registering a name twice is an
// error unless override is true.
func Register(name string, fn runtime.Func, override bool) error {
	m := man()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, in := m.fmap[name]; in && !override {
		return fmterr.Errorf(fmterr.ErrNameCollision, "global function %q is already registered", name)
	}
	m.fmap[name] = fn
	return nil
}

// MustRegister registers a function and panics on collision. For use
// from package init functions, where a collision is a programming
// error.
func MustRegister(name string, fn runtime.Func) {
	if err := Register(name, fn, false); err != nil {
		panic(err)
	}
}

// Get returns the function registered under a name, or nil.
func Get(name string) runtime.Func {
	m := man()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fmap[name]
}

// MustGet returns the function registered under a name, or an error
// identifying the missing binding.
func MustGet(name string) (runtime.Func, error) {
	fn := Get(name)
	if fn == nil {
		return nil, fmterr.Errorf(fmterr.ErrMissingFunction, "%q", name)
	}
	return fn, nil
}

// Remove deletes a registration. Returns false if the name was not
// registered.
func Remove(name string) bool {
	m := man()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, in := m.fmap[name]; !in {
		return false
	}
	delete(m.fmap, name)
	return true
}

// ListNames returns the sorted names of all registered functions.
func ListNames() []string {
	m := man()
	m.mu.Lock()
	defer m.mu.Unlock()
	names := maps.Keys(m.fmap)
	slices.Sort(names)
	return names
}
