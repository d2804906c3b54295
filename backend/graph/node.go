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
	"strconv"
)

// NodeRef identifies one output of one graph node.
type NodeRef struct {
	Node    int
	Output  int
	Version int
}

// MarshalJSON serializes the reference as [node, output, version].
func (r NodeRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]int{r.Node, r.Output, r.Version})
}

// nodeKind discriminates the graph node variants.
type nodeKind int

const (
	nodeNop nodeKind = iota
	nodeInput
	nodeOp
)

// node is one record of the flat graph. Input nodes stand for
// parameters and constants; op nodes for fused kernel invocations.
// The storage-plan attributes (shape, dtype, storage id, device index)
// are serialized into the graph-level attribute arrays, not into the
// per-node JSON.
type node struct {
	kind       nodeKind
	name       string
	numOutputs int

	// opName is the lowered kernel symbol; op nodes only.
	opName string
	inputs []NodeRef

	shape       [][]int
	dtype       []string
	storageIDs  []int64
	deviceIndex []int64
}

func newInputNode(name string) *node {
	return &node{kind: nodeInput, name: name, numOutputs: 1}
}

func newOpNode(name, opName string, inputs []NodeRef) *node {
	return &node{kind: nodeOp, name: name, opName: opName, inputs: inputs, numOutputs: 1}
}

// MarshalJSON serializes the node record. Op node attributes carry the
// kernel symbol and the input and output counts, as strings, the way
// the graph runtime reads them.
func (n *node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"op":`)
	switch n.kind {
	case nodeOp:
		buf.WriteString(`"tvm_op"`)
	default:
		buf.WriteString(`"null"`)
	}
	buf.WriteString(`,"name":`)
	name, err := json.Marshal(n.name)
	if err != nil {
		return nil, err
	}
	buf.Write(name)
	if n.kind == nodeOp {
		buf.WriteString(`,"attrs":{"flatten_data":"0","func_name":`)
		opName, err := json.Marshal(n.opName)
		if err != nil {
			return nil, err
		}
		buf.Write(opName)
		buf.WriteString(`,"num_inputs":"` + strconv.Itoa(len(n.inputs)) + `"`)
		buf.WriteString(`,"num_outputs":"` + strconv.Itoa(n.numOutputs) + `"}`)
	}
	buf.WriteString(`,"inputs":`)
	inputs := n.inputs
	if inputs == nil {
		inputs = []NodeRef{}
	}
	ins, err := json.Marshal(inputs)
	if err != nil {
		return nil, err
	}
	buf.Write(ins)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
