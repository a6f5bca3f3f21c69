package lgf

import (
	"fmt"

	"github.com/goccy/go-json"
)

// GraphDef is the JSON payload of the graph-definition section. Node order is
// the topological-order hint: producers precede consumers, and the runtime
// validates that property instead of recomputing an order.
type GraphDef struct {
	Name    string      `json:"name,omitempty"`
	Tensors []TensorDef `json:"tensors"`
	Nodes   []NodeDef   `json:"nodes"`
	Inputs  []string    `json:"inputs"`
	Outputs []string    `json:"outputs"`
}

// TensorDef describes one tensor. Constants reference a range of the
// tensor-data section via DataOffset/DataSize. When authoring a graph by
// hand, small constant payloads may be given inline via Data / DataI32;
// Encode moves them into the binary section.
type TensorDef struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Shape []int  `json:"shape"`

	Const      bool  `json:"const,omitempty"`
	DataOffset int64 `json:"data_offset,omitempty"`
	DataSize   int64 `json:"data_size,omitempty"`

	// Inline payloads, only meaningful in pack-spec files.
	Data    []float32 `json:"data,omitempty"`
	DataI32 []int32   `json:"data_i32,omitempty"`
}

// NodeDef is one operator invocation, referencing tensors by name.
type NodeDef struct {
	Op      string   `json:"op"`
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
}

// GraphDef decodes the graph-definition section.
func (f *File) GraphDef() (*GraphDef, error) {
	sec := f.Section(SectionGraphDef)
	if sec == nil {
		return nil, fmt.Errorf("%w: missing graph-definition section", ErrCorruptFile)
	}
	var def GraphDef
	if err := json.Unmarshal(f.SectionData(sec), &def); err != nil {
		return nil, fmt.Errorf("%w: graph definition: %v", ErrCorruptFile, err)
	}
	return &def, nil
}

// ParseGraphDef decodes a standalone pack-spec JSON document.
func ParseGraphDef(data []byte) (*GraphDef, error) {
	var def GraphDef
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse graph definition: %w", err)
	}
	return &def, nil
}
