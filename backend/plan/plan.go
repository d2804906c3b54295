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

// Package plan assigns a storage id to every tensor-valued expression
// of a function, such that values whose live ranges do not overlap
// share backing memory.
//
// Planning runs in two passes over the expression DAG. The first
// creates a prototype token per tensor output and counts the readers
// of every expression. The second replays the traversal in execution
// order and hands out storage ids through a best-fit free list with a
// size-similarity window, recycling a region as soon as its reader
// count reaches zero.
package plan

import (
	"github.com/relayrt/relayrt/base/arena"
	"github.com/relayrt/relayrt/base/ordered"
	"github.com/relayrt/relayrt/build/fmterr"
	"github.com/relayrt/relayrt/build/ir"
	"github.com/relayrt/relayrt/runtime"
	"github.com/relayrt/relayrt/runtime/registry"
)

// MemoryHook is the registry name under which the planner is exposed.
const MemoryHook = "relay.backend.GraphPlanMemory"

// defaultMatchRange is the similarity window of the best-fit search.
const defaultMatchRange = 16

type (
	// Assignment is the planner verdict for one expression: a storage
	// id and a device type per tensor output.
	Assignment struct {
		StorageIDs  []int64
		DeviceTypes []int64
	}

	// Plan maps every expression of a function to its assignment.
	Plan struct {
		assign     *ordered.Map[ir.Expr, *Assignment]
		numStorage int
		totalBytes int
	}

	// Option configures a planning run.
	Option func(*options)

	options struct {
		matchRange int
		devices    map[ir.Expr]int
	}
)

// WithDeviceMap sets the per-expression device annotations. The
// annotation set must be empty or total over the function.
func WithDeviceMap(devices map[ir.Expr]int) Option {
	return func(o *options) { o.devices = devices }
}

// WithMatchRange sets the similarity window of the best-fit search.
// Zero disables recycling entirely.
func WithMatchRange(k int) Option {
	return func(o *options) { o.matchRange = k }
}

// Memory plans the storage of a function.
func Memory(fn *ir.Function, opts ...Option) (*Plan, error) {
	o := &options{matchRange: defaultMatchRange}
	for _, opt := range opts {
		opt(o)
	}
	// The arena owns every token of both passes; dropping it at return
	// releases them all at once.
	ar := arena.New[StorageToken]()
	prototype, err := newInitPass(ar, o.devices).initTokenMap(fn)
	if err != nil {
		return nil, err
	}
	alloca := newAllocator(prototype, o.matchRange)
	if err := alloca.run(fn); err != nil {
		return nil, err
	}
	return seal(alloca)
}

// seal converts the allocator state into the public plan, enforcing
// the all-or-none device annotation rule.
func seal(alloca *allocator) (*Plan, error) {
	p := &Plan{
		assign:     ordered.NewMap[ir.Expr, *Assignment](),
		numStorage: len(alloca.data),
		totalBytes: alloca.totalAllocBytes(),
	}
	numAnnotated, numTokens := 0, 0
	for e, toks := range alloca.tokens.Iter() {
		as := &Assignment{
			StorageIDs:  make([]int64, 0, len(toks)),
			DeviceTypes: make([]int64, 0, len(toks)),
		}
		for _, tok := range toks {
			if tok.DeviceType != 0 {
				numAnnotated++
			}
			numTokens++
			as.StorageIDs = append(as.StorageIDs, int64(tok.StorageID))
			as.DeviceTypes = append(as.DeviceTypes, int64(tok.DeviceType))
		}
		p.assign.Store(e, as)
	}
	if numAnnotated != 0 && numAnnotated != numTokens {
		return nil, fmterr.Errorf(fmterr.ErrPartialDeviceAnnotation, "%d out of %d expression outputs are assigned a virtual device; all or none must be annotated", numAnnotated, numTokens)
	}
	return p, nil
}

// Get returns the assignment of an expression.
func (p *Plan) Get(e ir.Expr) (*Assignment, bool) {
	return p.assign.Load(e)
}

// Iter ranges over all assignments in first-visit order.
func (p *Plan) Iter() func(func(ir.Expr, *Assignment) bool) {
	return p.assign.Iter()
}

// NumStorage returns the number of distinct storage regions.
func (p *Plan) NumStorage() int {
	return p.numStorage
}

// TotalAllocBytes returns the total number of bytes backing all
// storage regions.
func (p *Plan) TotalAllocBytes() int {
	return p.totalBytes
}

func init() {
	registry.MustRegister(MemoryHook, func(args runtime.Args) (any, error) {
		fn, err := runtime.At[*ir.Function](args, 0)
		if err != nil {
			return nil, err
		}
		var opts []Option
		if len(args) > 1 && args[1] != nil {
			devices, err := runtime.At[map[ir.Expr]int](args, 1)
			if err != nil {
				return nil, err
			}
			opts = append(opts, WithDeviceMap(devices))
		}
		return Memory(fn, opts...)
	})
}
