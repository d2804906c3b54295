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

// Package uname provides unique names.
package uname

import "strconv"

// Unique generates unique names.
type Unique struct {
	names map[string]int
}

// New name generator.
func New() *Unique {
	return &Unique{names: make(map[string]int)}
}

// Name returns a unique name given a desired base name.
// If the base name has never been requested, it is returned directly.
// Else, the occurrence count is appended and the result re-checked,
// recursing until the name is free. A base already carrying a digit
// suffix may therefore produce names such as foo, foo1, foo11 when
// foo1 was requested first; callers relying on the emitted names must
// not change this scheme.
func (n *Unique) Name(root string) string {
	count, ok := n.names[root]
	if !ok {
		n.names[root] = 1
		return root
	}
	n.names[root] = count + 1
	return n.Name(root + strconv.Itoa(count))
}
