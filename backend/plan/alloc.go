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

package plan

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"tlog.app/go/tlog"

	"github.com/relayrt/relayrt/base/ordered"
	"github.com/relayrt/relayrt/build/fmterr"
	"github.com/relayrt/relayrt/build/ir"
)

// freeEntry is one recyclable token keyed by its byte size.
type freeEntry struct {
	size int
	tok  *StorageToken
}

// freeList is a size-sorted multiset of recyclable tokens. Tokens of
// equal size keep insertion order: the upward search meets the oldest
// region of a size first, the downward search the newest.
type freeList struct {
	entries []freeEntry
}

func cmpEntry(e freeEntry, size int) int {
	switch {
	case e.size < size:
		return -1
	case e.size > size:
		return 1
	}
	return 0
}

// lowerBound returns the index of the first entry with size >= s.
func (f *freeList) lowerBound(s int) int {
	i, _ := slices.BinarySearchFunc(f.entries, s, cmpEntry)
	return i
}

// upperBound returns the index just past the last entry with size <= s.
func (f *freeList) upperBound(s int) int {
	i, _ := slices.BinarySearchFunc(f.entries, s+1, cmpEntry)
	return i
}

func (f *freeList) insert(size int, tok *StorageToken) {
	i := f.upperBound(size)
	f.entries = slices.Insert(f.entries, i, freeEntry{size: size, tok: tok})
}

func (f *freeList) remove(i int) {
	f.entries = slices.Delete(f.entries, i, i+1)
}

// allocator is the second pass: it replays the traversal in execution
// order and finalizes storage ids from the prototype table, recycling
// regions through the free list.
type allocator struct {
	*baseAlloca

	prototype *ordered.Map[ir.Expr, []*StorageToken]

	// matchRange is the similarity window of the best-fit search:
	// a request of size s may reuse a free region sized within
	// [s/matchRange, s*matchRange]. Zero disables recycling.
	matchRange int

	free freeList

	// data holds all committed tokens in id-assignment order; a token's
	// storage id is its index in data.
	data []*StorageToken
}

var _ ir.Visitor = (*allocator)(nil)

func newAllocator(prototype *ordered.Map[ir.Expr, []*StorageToken], matchRange int) *allocator {
	a := &allocator{baseAlloca: newBaseAlloca(), prototype: prototype, matchRange: matchRange}
	a.self = a
	a.create = a.createToken
	return a
}

// totalAllocBytes returns the number of bytes backing all committed
// regions.
func (a *allocator) totalAllocBytes() int {
	total := 0
	for _, tok := range a.data {
		total += tok.MaxBytes
	}
	return total
}

// createToken finalizes the prototype tokens of an expression. A call
// may reuse recycled memory; anything else commits a fresh region and
// holds it forever.
func (a *allocator) createToken(e ir.Expr, canRealloc bool) error {
	if a.tokens.Has(e) {
		return fmterr.ErrorfAt(fmterr.ErrDuplicateToken, e, "expression already has storage tokens")
	}
	protos, ok := a.prototype.Load(e)
	if !ok {
		return fmterr.ErrorfAt(fmterr.ErrMissingToken, e, "expression has no prototype token")
	}
	toks := make([]*StorageToken, 0, len(protos))
	for _, proto := range protos {
		if canRealloc {
			tok, err := a.request(proto)
			if err != nil {
				return err
			}
			toks = append(toks, tok)
			continue
		}
		size, err := memorySize(proto)
		if err != nil {
			return err
		}
		tok := a.alloc(proto, size)
		// Parameters, constants, and pass-through values are owned by
		// the caller: hold an extra reference so the region is never
		// recycled.
		tok.RefCounter++
		toks = append(toks, tok)
	}
	a.tokens.Store(e, toks)
	return nil
}

// VisitCall materializes the argument tokens, finalizes the call's own
// tokens, releases orphaned outputs, then consumes one reference per
// argument token.
func (a *allocator) VisitCall(x *ir.Call) error {
	var args []*StorageToken
	for _, arg := range x.Args {
		toks, err := a.getTokens(arg)
		if err != nil {
			return err
		}
		args = append(args, toks...)
	}
	if err := a.createToken(x, true); err != nil {
		return err
	}
	out, _ := a.tokens.Load(x)
	for _, tok := range out {
		if err := a.checkForRelease(tok); err != nil {
			return err
		}
	}
	for _, tok := range args {
		tok.RefCounter--
		if err := a.checkForRelease(tok); err != nil {
			return err
		}
	}
	return nil
}

// memorySize returns the byte size required by a token.
func memorySize(tok *StorageToken) (int, error) {
	if tok.TType == nil {
		return 0, errors.Errorf("storage token has no tensor type")
	}
	return tok.TType.ByteSize()
}

// request finds a recyclable region for a prototype: best fit within
// the similarity window, searching upward from the requested size
// first, then downward. The region must live on the prototype's
// device. Falls back to a fresh commit.
func (a *allocator) request(proto *StorageToken) (*StorageToken, error) {
	size, err := memorySize(proto)
	if err != nil {
		return nil, err
	}
	if a.matchRange == 0 {
		return a.alloc(proto, size), nil
	}
	begin := a.free.lowerBound(size / a.matchRange)
	mid := a.free.lowerBound(size)
	end := a.free.upperBound(size * a.matchRange)
	// Search for regions at least as large as requested.
	for i := mid; i < end; i++ {
		tok, err := a.take(i, proto, size)
		if err != nil {
			return nil, err
		}
		if tok != nil {
			return tok, nil
		}
	}
	// Then for smaller regions down the window.
	for i := mid - 1; i >= begin; i-- {
		tok, err := a.take(i, proto, size)
		if err != nil {
			return nil, err
		}
		if tok != nil {
			return tok, nil
		}
	}
	return a.alloc(proto, size), nil
}

// take reuses the i-th free entry for a request of the given size, or
// returns nil if the entry lives on another device.
func (a *allocator) take(i int, proto *StorageToken, size int) (*StorageToken, error) {
	tok := a.free.entries[i].tok
	if tok.DeviceType != proto.DeviceType {
		return nil, nil
	}
	if tok.RefCounter != 0 {
		return nil, errors.Errorf("free storage %d still has %d readers", tok.StorageID, tok.RefCounter)
	}
	tok.MaxBytes = max(tok.MaxBytes, size)
	tok.RefCounter = proto.RefCounter
	a.free.remove(i)
	tlog.V("plan").Printw("storage reuse", "storage_id", tok.StorageID, "bytes", size, "max_bytes", tok.MaxBytes)
	return tok, nil
}

// alloc commits the prototype itself as a fresh region: its storage id
// is its index in commit order. The prototype token keeps its identity
// across the two passes.
func (a *allocator) alloc(proto *StorageToken, size int) *StorageToken {
	proto.MaxBytes = size
	proto.StorageID = len(a.data)
	a.data = append(a.data, proto)
	tlog.V("plan").Printw("storage alloc", "storage_id", proto.StorageID, "bytes", size, "device", proto.DeviceType)
	return proto
}

// checkForRelease recycles a committed token once its readers are
// exhausted.
func (a *allocator) checkForRelease(tok *StorageToken) error {
	if tok.StorageID < 0 {
		return errors.Errorf("cannot release a token without a storage id")
	}
	if tok.RefCounter < 0 {
		return errors.Errorf("storage %d has a negative reference count", tok.StorageID)
	}
	if tok.RefCounter == 0 {
		a.free.insert(tok.MaxBytes, tok)
	}
	return nil
}
