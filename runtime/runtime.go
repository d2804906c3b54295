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

// Package runtime defines the calling convention shared between the
// compiler and its embedding host: untyped packed functions, addressed
// by name, grouped into modules.
package runtime

import "github.com/pkg/errors"

// Args is the untyped argument list of a packed function call.
type Args []any

// At returns the i-th argument converted to T.
func At[T any](args Args, i int) (T, error) {
	var zero T
	if i >= len(args) {
		return zero, errors.Errorf("missing argument %d: got %d arguments", i, len(args))
	}
	v, ok := args[i].(T)
	if !ok {
		return zero, errors.Errorf("argument %d has type %T but want %T", i, args[i], zero)
	}
	return v, nil
}

// Func is a function callable through the registry or a module,
// crossing the host boundary with untyped arguments.
type Func func(args Args) (any, error)

// Module is a named bag of packed functions. GetFunction returns nil
// for names the module does not provide.
type Module interface {
	// TypeKey identifies the module kind.
	TypeKey() string

	// GetFunction returns the packed function exposed under a name.
	GetFunction(name string) Func
}
