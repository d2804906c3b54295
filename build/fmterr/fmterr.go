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

// Package fmterr defines the error kinds raised by the backend and
// helpers to build and accumulate them.
//
// Every kind is a sentinel error; errors built with Errorf wrap their
// kind so callers can test with errors.Is. All kinds are fatal: the
// enclosing compile call aborts and its partial state is discarded.
package fmterr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds.
var (
	// ErrUnsupportedVariant reports an IR variant the backend rejects:
	// if, references, ADT match, a primitive op or global at a call site.
	ErrUnsupportedVariant = errors.New("unsupported expression variant")

	// ErrNonPrimitiveFunction reports a fused call whose target function
	// does not carry the Primitive attribute.
	ErrNonPrimitiveFunction = errors.New("call to non-primitive function")

	// ErrSymbolicShape reports a tensor dimension that is not a concrete
	// integer.
	ErrSymbolicShape = errors.New("symbolic tensor shape")

	// ErrNegativeShape reports a tensor dimension below zero.
	ErrNegativeShape = errors.New("negative tensor shape")

	// ErrMissingToken reports an expression with no storage token entry.
	ErrMissingToken = errors.New("no storage token for expression")

	// ErrDuplicateToken reports a second token creation for the same
	// expression.
	ErrDuplicateToken = errors.New("storage token already created")

	// ErrPartialDeviceAnnotation reports a graph where some but not all
	// nodes carry a device annotation.
	ErrPartialDeviceAnnotation = errors.New("partial device annotation")

	// ErrMissingTarget reports a device type with no configured target.
	ErrMissingTarget = errors.New("no target for device")

	// ErrTupleArityMismatch reports a tuple index out of bounds.
	ErrTupleArityMismatch = errors.New("tuple index out of bounds")

	// ErrNameCollision reports a repeated parameter name when binding.
	ErrNameCollision = errors.New("parameter name collision")

	// ErrMissingFunction reports a registry lookup that found nothing.
	ErrMissingFunction = errors.New("function not registered")
)

// Errorf builds an error of the given kind. The kind is wrapped so that
// errors.Is(err, kind) holds on the result.
func Errorf(kind error, format string, a ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, a...))
}

// Node is implemented by IR nodes able to describe themselves in a
// diagnostic (type-key and name when available).
type Node interface {
	TypeKey() string
}

// ErrorfAt builds an error of the given kind pointing at an offending node.
func ErrorfAt(kind error, node Node, format string, a ...any) error {
	return fmt.Errorf("%w: %s: %s", kind, node.TypeKey(), fmt.Sprintf(format, a...))
}
