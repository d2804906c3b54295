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

// Package tensor provides host tensor buffers: the values embedded in
// constants and exported through parameter tables.
package tensor

import (
	"bytes"
	"encoding/binary"
	"hash/fnv"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/gx-org/backend/dtype"
	"github.com/gx-org/backend/platform"
	"github.com/gx-org/backend/shape"
)

// Buffer is a host tensor managed by the Go runtime.
type Buffer struct {
	mut  sync.Mutex
	sh   *shape.Shape
	data []byte
}

var _ platform.HostBuffer = (*Buffer)(nil)

// Zero returns a zero-filled buffer of the given shape.
func Zero(sh *shape.Shape) (*Buffer, error) {
	for _, dim := range sh.AxisLengths {
		if dim < 0 {
			return nil, errors.Errorf("cannot allocate a buffer for shape %s: negative axis length %d", sh, dim)
		}
	}
	return &Buffer{sh: sh, data: make([]byte, sh.ByteSize())}, nil
}

// FromBytes returns a buffer owning a copy of raw data.
func FromBytes(data []byte, sh *shape.Shape) (*Buffer, error) {
	if len(data) != sh.ByteSize() {
		return nil, errors.Errorf("buffer size is %d but shape %s specifies a buffer size of %d", len(data), sh, sh.ByteSize())
	}
	buf := &Buffer{sh: sh, data: make([]byte, len(data))}
	copy(buf.data, data)
	return buf, nil
}

// FromSlice returns a buffer holding a copy of Go values.
func FromSlice[T dtype.GoDataType](vals []T, sh *shape.Shape) (*Buffer, error) {
	if got := dtype.Generic[T](); got != sh.DType {
		return nil, errors.Errorf("cannot build a %s buffer from %s values", sh.DType.String(), got.String())
	}
	if len(vals) != sh.Size() {
		return nil, errors.Errorf("got %d values but shape %s has %d elements", len(vals), sh, sh.Size())
	}
	if len(vals) == 0 {
		return &Buffer{sh: sh}, nil
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(&vals[0])), len(vals)*dtype.Sizeof(sh.DType))
	return FromBytes(src, sh)
}

// Shape of the buffer.
func (buf *Buffer) Shape() *shape.Shape {
	return buf.sh
}

// Acquire locks the buffer and returns its bytes. The caller may read
// or write them; all other access is locked until Release.
func (buf *Buffer) Acquire() []byte {
	buf.mut.Lock()
	return buf.data
}

// Release the buffer after an Acquire.
func (buf *Buffer) Release() {
	buf.mut.Unlock()
}

// Free the memory occupied by the buffer. The buffer is invalid after
// calling this function.
func (buf *Buffer) Free() {
	buf.data = nil
}

// ToDevice transfers the buffer to a device.
func (buf *Buffer) ToDevice(dev platform.Device) (platform.DeviceHandle, error) {
	data := buf.Acquire()
	defer buf.Release()
	return dev.Send(data, buf.sh)
}

// ToHost copies the buffer content into a host target.
func (buf *Buffer) ToHost(target platform.HostBuffer) error {
	src := buf.Acquire()
	defer buf.Release()

	dst := target.Acquire()
	defer target.Release()

	if len(src) != len(dst) {
		return errors.Errorf("cannot copy source with length %d (shape: %s) to destination of length %d (shape: %s)", len(src), buf.sh, len(dst), target.Shape())
	}
	copy(dst, src)
	return nil
}

// String representation of the buffer: its shape.
func (buf *Buffer) String() string {
	return buf.sh.String()
}

// Hash is a content hash over shape and data.
func (buf *Buffer) Hash() uint64 {
	h := fnv.New64a()
	var word [8]byte
	binary.LittleEndian.PutUint64(word[:], uint64(buf.sh.DType))
	h.Write(word[:])
	for _, dim := range buf.sh.AxisLengths {
		binary.LittleEndian.PutUint64(word[:], uint64(dim))
		h.Write(word[:])
	}
	data := buf.Acquire()
	defer buf.Release()
	h.Write(data)
	return h.Sum64()
}

// EqualData returns true if other is a buffer with the same shape and
// the same bytes.
func (buf *Buffer) EqualData(other any) bool {
	o, ok := other.(*Buffer)
	if !ok {
		return false
	}
	if o == buf {
		return true
	}
	if buf.sh.DType != o.sh.DType || len(buf.sh.AxisLengths) != len(o.sh.AxisLengths) {
		return false
	}
	for i, dim := range buf.sh.AxisLengths {
		if o.sh.AxisLengths[i] != dim {
			return false
		}
	}
	a := buf.Acquire()
	defer buf.Release()
	b := o.Acquire()
	defer o.Release()
	return bytes.Equal(a, b)
}
