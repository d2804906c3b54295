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

package fmterr_test

import (
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/relayrt/relayrt/build/fmterr"
)

type fakeNode struct{}

func (fakeNode) TypeKey() string { return "Call" }

func TestErrorfWrapsKind(t *testing.T) {
	err := fmterr.Errorf(fmterr.ErrMissingToken, "expression %d", 7)
	if !errors.Is(err, fmterr.ErrMissingToken) {
		t.Errorf("error does not match its kind: %v", err)
	}
	if errors.Is(err, fmterr.ErrDuplicateToken) {
		t.Errorf("error matches a foreign kind: %v", err)
	}
	if !strings.Contains(err.Error(), "expression 7") {
		t.Errorf("error drops the context: %v", err)
	}
}

func TestErrorfAtNamesNode(t *testing.T) {
	err := fmterr.ErrorfAt(fmterr.ErrTupleArityMismatch, fakeNode{}, "index %d", 3)
	if !errors.Is(err, fmterr.ErrTupleArityMismatch) {
		t.Errorf("error does not match its kind: %v", err)
	}
	if !strings.Contains(err.Error(), "Call") {
		t.Errorf("error does not name the offending node: %v", err)
	}
}

func TestAppender(t *testing.T) {
	var app fmterr.Appender
	if !app.Empty() {
		t.Errorf("fresh appender is not empty")
	}
	if app.Err() != nil {
		t.Errorf("fresh appender returns an error")
	}
	app.Append(nil)
	if !app.Empty() {
		t.Errorf("appending nil recorded an error")
	}
	app.Appendf(fmterr.ErrNegativeShape, "axis %d", -1)
	app.Appendf(fmterr.ErrSymbolicShape, "axis %q", "n")
	if app.Empty() {
		t.Errorf("appender is empty after two errors")
	}
	err := app.Err()
	if !errors.Is(err, fmterr.ErrNegativeShape) || !errors.Is(err, fmterr.ErrSymbolicShape) {
		t.Errorf("accumulated error drops a kind: %v", err)
	}
}
