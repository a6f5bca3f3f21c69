package lgf

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/goccy/go-json"
)

// Encode serializes a graph definition into a complete LGF container image.
//
// Inline constant payloads (TensorDef.Data / DataI32) are packed into the
// tensor-data section, 64-byte aligned per tensor, and replaced by
// offset/size references in the stored definition. The input def is not
// mutated.
func Encode(def *GraphDef) ([]byte, error) {
	if def == nil {
		return nil, fmt.Errorf("lgf: nil graph definition")
	}

	stored := *def
	stored.Tensors = append([]TensorDef(nil), def.Tensors...)

	var tensorData []byte
	for i := range stored.Tensors {
		t := &stored.Tensors[i]
		payload, err := inlinePayload(t)
		if err != nil {
			return nil, err
		}
		if payload == nil {
			if t.Const && t.DataSize == 0 {
				return nil, fmt.Errorf("lgf: constant %q has neither inline nor packed data", t.Name)
			}
			continue
		}
		start := alignUp(uint64(len(tensorData)), lgfAlign)
		for uint64(len(tensorData)) < start {
			tensorData = append(tensorData, 0)
		}
		tensorData = append(tensorData, payload...)

		t.Const = true
		t.DataOffset = int64(start)
		t.DataSize = int64(len(payload))
		t.Data = nil
		t.DataI32 = nil
	}

	graphJSON, err := json.Marshal(&stored)
	if err != nil {
		return nil, fmt.Errorf("lgf: marshal graph definition: %w", err)
	}

	// Layout: header | graphdef | tensordata | section directory.
	var sections []Section

	graphOff := alignUp(lgfHeaderSize, lgfAlign)
	sections = append(sections, Section{
		Type:    uint32(SectionGraphDef),
		Version: 1,
		Offset:  graphOff,
		Size:    uint64(len(graphJSON)),
	})

	cursor := alignUp(graphOff+uint64(len(graphJSON)), lgfAlign)
	if len(tensorData) > 0 {
		sections = append(sections, Section{
			Type:    uint32(SectionTensorData),
			Version: 1,
			Offset:  cursor,
			Size:    uint64(len(tensorData)),
		})
		cursor = alignUp(cursor+uint64(len(tensorData)), lgfAlign)
	}

	dirOff := cursor
	fileSize := dirOff + uint64(len(sections))*lgfSectionSize

	out := make([]byte, fileSize)
	var hdr Header
	copy(hdr.Magic[:], MagicLGF)
	hdr.Major = CurrentMajor
	hdr.Minor = CurrentMinor
	hdr.HeaderSize = lgfHeaderSize
	hdr.SectionCount = uint32(len(sections))
	hdr.SectionDirOffset = dirOff
	hdr.FileSize = fileSize
	hdr.Flags = FlagTensorDataAligned64
	if !encodeHeader(out[:lgfHeaderSize], hdr) {
		return nil, fmt.Errorf("lgf: encode header failed")
	}

	copy(out[graphOff:], graphJSON)
	if len(tensorData) > 0 {
		copy(out[sections[1].Offset:], tensorData)
	}
	for i, s := range sections {
		start := int(dirOff) + i*lgfSectionSize
		if !encodeSection(out[start:start+lgfSectionSize], s) {
			return nil, fmt.Errorf("lgf: encode section failed")
		}
	}

	return out, nil
}

// WriteFile encodes def and writes the container to path.
func WriteFile(path string, def *GraphDef) error {
	data, err := Encode(def)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func inlinePayload(t *TensorDef) ([]byte, error) {
	switch {
	case t.Data != nil && t.DataI32 != nil:
		return nil, fmt.Errorf("lgf: tensor %q carries both f32 and i32 inline data", t.Name)
	case t.Data != nil:
		if t.DType != "f32" {
			return nil, fmt.Errorf("lgf: tensor %q has f32 inline data but dtype %q", t.Name, t.DType)
		}
		out := make([]byte, 4*len(t.Data))
		for i, v := range t.Data {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
		}
		return out, nil
	case t.DataI32 != nil:
		if t.DType != "i32" {
			return nil, fmt.Errorf("lgf: tensor %q has i32 inline data but dtype %q", t.Name, t.DType)
		}
		out := make([]byte, 4*len(t.DataI32))
		for i, v := range t.DataI32 {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
		}
		return out, nil
	default:
		return nil, nil
	}
}
