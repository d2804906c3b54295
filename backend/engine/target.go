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

package engine

import "fmt"

// Target names a code generation backend, e.g. "llvm".
type Target string

// ExtDev is the pseudo-target of functions handled by an external
// compiler.
const ExtDev Target = "ext_dev"

// String representation of the target.
func (t Target) String() string {
	return string(t)
}

// TargetsMap maps a device type to the target compiling for it.
type TargetsMap map[int]Target

// deviceNames are the canonical names of the known device types.
var deviceNames = map[int]string{
	1:  "cpu",
	2:  "gpu",
	3:  "cpu_pinned",
	4:  "opencl",
	7:  "vulkan",
	8:  "metal",
	10: "rocm",
	12: "ext_dev",
}

// DeviceName returns the canonical name of a device type, used in
// heterogeneous-plan diagnostics.
func DeviceName(devType int) string {
	if name, in := deviceNames[devType]; in {
		return name
	}
	return fmt.Sprintf("device%d", devType)
}
