package onnx

import (
	"fmt"
	"slices"
	"strings"

	"github.com/born-ml/detectnumber/internal/onnx/operators"
	"github.com/born-ml/detectnumber/internal/tensor"
)

// Load reads and compiles the ONNX file at path.
func Load(path string) (*Runtime, error) {
	m, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	r, err := Compile(m)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Decode parses and compiles an in-memory ONNX model.
func Decode(data []byte) (*Runtime, error) {
	m, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return Compile(m)
}

// Compile prepares m for execution. The graph must have one input and one
// output, and every node must use a supported operator and read only
// values that are fed, stored as initializers or produced by another node.
func Compile(m *ModelProto) (*Runtime, error) {
	g := m.Graph
	if g == nil {
		return nil, ErrNoGraph
	}

	inputs := feeds(g)
	if len(inputs) != 1 || len(g.Outputs) != 1 {
		return nil, fmt.Errorf("%w: graph has %d inputs and %d outputs", ErrGraphSignature, len(inputs), len(g.Outputs))
	}

	r := &Runtime{
		input:    inputs[0].Name,
		output:   g.Outputs[0].Name,
		sample:   sampleShape(inputs[0]),
		opset:    defaultOpset(m),
		metadata: make(map[string]string, len(m.MetadataProps)),
		weights:  make(map[string]*tensor.Tensor, len(g.Initializers)),
	}
	for _, p := range m.MetadataProps {
		r.metadata[p.Key] = p.Value
	}

	defined := map[string]bool{r.input: true}
	for i := range g.Initializers {
		w := &g.Initializers[i]
		t, err := decodeWeight(w)
		if err != nil {
			return nil, fmt.Errorf("initializer %s: %w", w.Name, err)
		}
		r.weights[w.Name] = t
		defined[w.Name] = true
	}

	steps, err := schedule(g.Nodes, defined, operators.NewRegistry())
	if err != nil {
		return nil, err
	}
	if !defined[r.output] {
		return nil, fmt.Errorf("%w: nothing produces output %q", ErrMalformed, r.output)
	}
	r.steps = steps
	return r, nil
}

// feeds returns the graph inputs that are not initializers.
func feeds(g *GraphProto) []*ValueInfoProto {
	stored := make(map[string]bool, len(g.Initializers))
	for i := range g.Initializers {
		stored[g.Initializers[i].Name] = true
	}
	var out []*ValueInfoProto
	for i := range g.Inputs {
		if !stored[g.Inputs[i].Name] {
			out = append(out, &g.Inputs[i])
		}
	}
	return out
}

func defaultOpset(m *ModelProto) int64 {
	for _, o := range m.OpsetImport {
		if o.Domain == "" || o.Domain == "ai.onnx" {
			return o.Version
		}
	}
	return 0
}

// schedule orders nodes so that every value is produced before it is read
// and binds each node to its operator. defined holds the values available
// before the first node runs and is extended as nodes are scheduled.
func schedule(nodes []NodeProto, defined map[string]bool, registry *operators.Registry) ([]step, error) {
	var unsupported []string
	for i := range nodes {
		if _, ok := registry.Get(nodes[i].OpType); !ok && !slices.Contains(unsupported, nodes[i].OpType) {
			unsupported = append(unsupported, nodes[i].OpType)
		}
	}
	if len(unsupported) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperator, strings.Join(unsupported, ", "))
	}

	pending := make([]*NodeProto, len(nodes))
	for i := range nodes {
		pending[i] = &nodes[i]
	}
	steps := make([]step, 0, len(nodes))
	for len(pending) > 0 {
		var blocked []*NodeProto
		for _, n := range pending {
			if !ready(n, defined) {
				blocked = append(blocked, n)
				continue
			}
			run, _ := registry.Get(n.OpType)
			steps = append(steps, step{node: opNode(n), run: run})
			for _, out := range n.Outputs {
				defined[out] = true
			}
		}
		if len(blocked) == len(pending) {
			return nil, unresolved(blocked, defined)
		}
		pending = blocked
	}
	return steps, nil
}

// ready reports whether every non-optional input of n is defined.
func ready(n *NodeProto, defined map[string]bool) bool {
	for _, in := range n.Inputs {
		if in != "" && !defined[in] {
			return false
		}
	}
	return true
}

// unresolved explains why none of the blocked nodes can run: one of them
// reads a value no node produces, or they depend on each other.
func unresolved(blocked []*NodeProto, defined map[string]bool) error {
	produced := make(map[string]bool)
	for _, n := range blocked {
		for _, out := range n.Outputs {
			produced[out] = true
		}
	}
	for _, n := range blocked {
		for _, in := range n.Inputs {
			if in != "" && !defined[in] && !produced[in] {
				return fmt.Errorf("%w: node %q (%s) reads %q, which nothing produces", ErrMalformed, n.Name, n.OpType, in)
			}
		}
	}
	return fmt.Errorf("%w: %d nodes depend on each other, starting at %q", ErrMalformed, len(blocked), blocked[0].Name)
}

// ModelInfo summarizes a parsed model for display.
type ModelInfo struct {
	IRVersion       int64
	OpsetVersion    int64
	ProducerName    string
	ProducerVersion string
	InputNames      []string
	OutputNames     []string
	NodeCount       int
	WeightCount     int
}

// Info summarizes m without compiling it.
func Info(m *ModelProto) *ModelInfo {
	info := &ModelInfo{
		IRVersion:       m.IRVersion,
		OpsetVersion:    defaultOpset(m),
		ProducerName:    m.ProducerName,
		ProducerVersion: m.ProducerVersion,
	}
	g := m.Graph
	if g == nil {
		return info
	}
	for _, in := range feeds(g) {
		info.InputNames = append(info.InputNames, in.Name)
	}
	for i := range g.Outputs {
		info.OutputNames = append(info.OutputNames, g.Outputs[i].Name)
	}
	info.NodeCount = len(g.Nodes)
	info.WeightCount = len(g.Initializers)
	return info
}

// SupportedOps returns the operator types the runtime executes, sorted.
func SupportedOps() []string {
	return operators.NewRegistry().SupportedOps()
}
