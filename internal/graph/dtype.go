package graph

import "fmt"

// DType identifies the element type of a tensor.
type DType uint8

const (
	F32 DType = iota
	I32
)

func (t DType) String() string {
	switch t {
	case F32:
		return "f32"
	case I32:
		return "i32"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(t))
	}
}

// ElemSize returns the byte size of one element of this type.
func (t DType) ElemSize() int {
	switch t {
	case F32, I32:
		return 4
	default:
		return 0
	}
}

// ParseDType converts a serialized type tag ("f32", "i32") to a DType.
func ParseDType(s string) (DType, error) {
	switch s {
	case "f32":
		return F32, nil
	case "i32":
		return I32, nil
	default:
		return 0, fmt.Errorf("unknown dtype %q", s)
	}
}
