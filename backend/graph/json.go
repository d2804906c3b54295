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

package graph

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// graphJSON is the document consumed by the graph runtime. Field order
// is part of the stable format.
type graphJSON struct {
	Nodes      []*node    `json:"nodes"`
	ArgNodes   []int      `json:"arg_nodes"`
	Heads      []NodeRef  `json:"heads"`
	Attrs      graphAttrs `json:"attrs"`
	NodeRowPtr []int      `json:"node_row_ptr"`
}

// graphAttrs are the graph-level attribute arrays: one entry per node
// output, in node order.
type graphAttrs struct {
	shapes      [][]int
	storageIDs  []int64
	deviceTypes []int64
	dltypes     []string
}

// MarshalJSON emits the attribute arrays with their runtime type tags,
// in a fixed key order. The device_index key is present iff the graph
// is annotated.
func (a graphAttrs) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	write := func(key string, tag string, data any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		buf.WriteString(`"` + key + `":`)
		b, err := json.Marshal([]any{tag, data})
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
	if err := write("shape", "list_shape", a.shapes); err != nil {
		return nil, err
	}
	if err := write("storage_id", "list_int", a.storageIDs); err != nil {
		return nil, err
	}
	if len(a.deviceTypes) > 0 {
		if err := write("device_index", "list_int", a.deviceTypes); err != nil {
			return nil, err
		}
	}
	if err := write("dltype", "list_str", a.dltypes); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// json assembles the graph document from the emitted nodes.
func (cg *Codegen) json() (string, error) {
	doc := graphJSON{
		Nodes:      cg.nodes,
		ArgNodes:   []int{},
		Heads:      cg.heads,
		NodeRowPtr: []int{0},
	}
	if doc.Nodes == nil {
		doc.Nodes = []*node{}
	}
	if doc.Heads == nil {
		doc.Heads = []NodeRef{}
	}
	numEntry := 0
	for i, n := range cg.nodes {
		if n.kind == nodeInput {
			doc.ArgNodes = append(doc.ArgNodes, i)
		}
		if len(n.shape) != n.numOutputs {
			return "", errors.Errorf("node %d has %d outputs but %d shapes", i, n.numOutputs, len(n.shape))
		}
		numEntry += n.numOutputs
		doc.Attrs.shapes = append(doc.Attrs.shapes, n.shape...)
		doc.Attrs.dltypes = append(doc.Attrs.dltypes, n.dtype...)
		doc.Attrs.storageIDs = append(doc.Attrs.storageIDs, n.storageIDs...)
		doc.Attrs.deviceTypes = append(doc.Attrs.deviceTypes, n.deviceIndex...)
		doc.NodeRowPtr = append(doc.NodeRowPtr, numEntry)
	}
	if doc.Attrs.shapes == nil {
		doc.Attrs.shapes = [][]int{}
	}
	if doc.Attrs.storageIDs == nil {
		doc.Attrs.storageIDs = []int64{}
	}
	if doc.Attrs.dltypes == nil {
		doc.Attrs.dltypes = []string{}
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
