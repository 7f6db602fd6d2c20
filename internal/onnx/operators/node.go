package operators

// Node is the part of an ONNX node an operator needs. The onnx package
// copies it out of its NodeProto, which this package cannot import.
type Node struct {
	Name       string
	OpType     string
	Inputs     []string
	Outputs    []string
	Attributes []Attribute
}

// Attribute is a scalar node attribute. Operators here only read FLOAT
// and INT attributes.
type Attribute struct {
	Name string
	F    float32
	I    int64
}

func (n *Node) attr(name string) (Attribute, bool) {
	for _, a := range n.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// GetAttrInt returns the INT attribute name, or def when it is absent.
func GetAttrInt(node *Node, name string, def int64) int64 {
	if a, ok := node.attr(name); ok {
		return a.I
	}
	return def
}

// GetAttrFloat returns the FLOAT attribute name, or def when it is absent.
func GetAttrFloat(node *Node, name string, def float32) float32 {
	if a, ok := node.attr(name); ok {
		return a.F
	}
	return def
}
