// Package lgf implements the Lattice Graph File format.
//
// LGF is a single-file, memory-mappable container for serialized computation
// graphs. It carries structure and constant tensor data only; execution
// semantics live entirely in the runtime that consumes it.
package lgf

// LGF global constants must never change.
const (
	// MagicLGF is the file magic for all LGF containers.
	// It is encoded as "LGF\0".
	MagicLGF = "LGF\x00"

	// CurrentMajor: any change indicates a breaking format change.
	CurrentMajor uint16 = 1

	// CurrentMinor: minor versions may add new optional sections.
	CurrentMinor uint16 = 0

	// FlagTensorDataAligned64: constant tensor payloads start on 64-byte
	// boundaries inside the tensor-data section.
	FlagTensorDataAligned64 uint64 = 1 << 0
)

type SectionType uint32

const (
	SectionGraphDef   SectionType = 0x0001
	SectionTensorData SectionType = 0x0002
)

// Header is the fixed-size file header, encoded little-endian at offset 0.
type Header struct {
	Magic            [4]byte
	Major            uint16
	Minor            uint16
	HeaderSize       uint32
	SectionCount     uint32
	SectionDirOffset uint64
	FileSize         uint64
	Flags            uint64
}

// Section is one entry of the section directory.
type Section struct {
	Type    uint32
	Version uint32
	Offset  uint64
	Size    uint64
}

const (
	lgfHeaderSize  = 40
	lgfSectionSize = 24
	lgfAlign       = 64
)

func (h *Header) Valid() bool {
	if string(h.Magic[:]) != MagicLGF {
		return false
	}
	if h.HeaderSize < lgfHeaderSize {
		return false
	}
	if h.SectionCount == 0 {
		return false
	}
	return true
}

func (h *Header) Compatible() bool {
	return h.Major == CurrentMajor
}

func (s *Section) End() uint64 {
	return s.Offset + s.Size
}
