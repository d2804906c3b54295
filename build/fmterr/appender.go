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

package fmterr

import "go.uber.org/multierr"

// Appender accumulates errors while a pass runs.
type Appender struct {
	errs error
}

// Append an error to the set. Appending nil is a no-op.
// Always returns false so that visitor methods can
// `return app.Append(err)` to signal a failed check.
func (app *Appender) Append(err error) bool {
	app.errs = multierr.Append(app.errs, err)
	return false
}

// Appendf builds an error of the given kind and appends it.
func (app *Appender) Appendf(kind error, format string, a ...any) bool {
	return app.Append(Errorf(kind, format, a...))
}

// Empty returns true if no error has been appended.
func (app *Appender) Empty() bool {
	return app.errs == nil
}

// Err returns the accumulated errors, or nil if none.
func (app *Appender) Err() error {
	return app.errs
}
