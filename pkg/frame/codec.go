//go:build !kissml_noflatbuffers

package frame

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"reflect"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/nobletooth/kissml/pkg/frame/internal/fb"
	"github.com/nobletooth/kissml/pkg/registry"
)

// Tag is the type tag frames are stored under.
const Tag = "frame"

// Vtable slots of optional vectors; an absent vector decodes as a nil slice.
const (
	frameColumnsSlot  flatbuffers.VOffsetT = 4
	columnIntsSlot    flatbuffers.VOffsetT = 8
	columnFloatsSlot  flatbuffers.VOffsetT = 10
	columnStringsSlot flatbuffers.VOffsetT = 12
	columnBoolsSlot   flatbuffers.VOffsetT = 14
)

func hasVector(table flatbuffers.Table, slot flatbuffers.VOffsetT) bool {
	return table.Offset(slot) != 0
}

// Capability offers the FlatBuffers frame codec.
func Capability() (registry.Registration, error) {
	return registry.Registration{
		Tag:   Tag,
		Type:  reflect.TypeFor[*Frame](),
		Codec: flatbuffersCodec{},
		Hash: func(v any) ([]byte, error) {
			data, err := flatbuffersCodec{}.Encode(nil, v)
			if err != nil {
				return nil, err
			}
			digest := sha256.Sum256(data)
			return digest[:], nil
		},
	}, nil
}

type flatbuffersCodec struct{}

func (flatbuffersCodec) Encode(_ *registry.Registry, v any) ([]byte, error) {
	frame, ok := v.(*Frame)
	if !ok {
		return nil, fmt.Errorf("expected *frame.Frame, got %T", v)
	}
	if frame == nil {
		return []byte{}, nil
	}
	return Marshal(frame)
}

func (flatbuffersCodec) Decode(_ *registry.Registry, data []byte) (any, error) {
	if len(data) == 0 {
		return (*Frame)(nil), nil
	}
	return Unmarshal(data)
}

// Marshal encodes the frame in its FlatBuffers columnar form. Nil column lists and nil value slices are left out
// of the buffer so they decode as nil again.
func Marshal(frame *Frame) ([]byte, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	builder := flatbuffers.NewBuilder(1024)

	// Build columns in reverse order (FlatBuffers requirement).
	columnOffsets := make([]flatbuffers.UOffsetT, len(frame.Columns))
	for i := len(frame.Columns) - 1; i >= 0; i-- {
		column := frame.Columns[i]
		nameOffset := builder.CreateString(column.Name)

		var kind fb.ColumnKind
		var valuesOffset flatbuffers.UOffsetT
		switch values := column.Values.(type) {
		case []int64:
			kind = fb.ColumnKindInt64
			if values == nil {
				break
			}
			fb.ColumnStartIntsVector(builder, len(values))
			for j := len(values) - 1; j >= 0; j-- {
				builder.PrependInt64(values[j])
			}
			valuesOffset = builder.EndVector(len(values))
		case []float64:
			kind = fb.ColumnKindFloat64
			if values == nil {
				break
			}
			fb.ColumnStartFloatsVector(builder, len(values))
			for j := len(values) - 1; j >= 0; j-- {
				builder.PrependFloat64(values[j])
			}
			valuesOffset = builder.EndVector(len(values))
		case []string:
			kind = fb.ColumnKindString
			if values == nil {
				break
			}
			stringOffsets := make([]flatbuffers.UOffsetT, len(values))
			for j := len(values) - 1; j >= 0; j-- {
				stringOffsets[j] = builder.CreateString(values[j])
			}
			fb.ColumnStartStringsVector(builder, len(values))
			for j := len(values) - 1; j >= 0; j-- {
				builder.PrependUOffsetT(stringOffsets[j])
			}
			valuesOffset = builder.EndVector(len(values))
		case []bool:
			kind = fb.ColumnKindBool
			if values == nil {
				break
			}
			fb.ColumnStartBoolsVector(builder, len(values))
			for j := len(values) - 1; j >= 0; j-- {
				builder.PrependBool(values[j])
			}
			valuesOffset = builder.EndVector(len(values))
		}

		fb.ColumnStart(builder)
		fb.ColumnAddName(builder, nameOffset)
		fb.ColumnAddKind(builder, kind)
		if valuesOffset == 0 { // Nil values.
			columnOffsets[i] = fb.ColumnEnd(builder)
			continue
		}
		switch kind {
		case fb.ColumnKindInt64:
			fb.ColumnAddInts(builder, valuesOffset)
		case fb.ColumnKindFloat64:
			fb.ColumnAddFloats(builder, valuesOffset)
		case fb.ColumnKindString:
			fb.ColumnAddStrings(builder, valuesOffset)
		case fb.ColumnKindBool:
			fb.ColumnAddBools(builder, valuesOffset)
		}
		columnOffsets[i] = fb.ColumnEnd(builder)
	}

	var columnsOffset flatbuffers.UOffsetT
	if frame.Columns != nil {
		fb.FrameStartColumnsVector(builder, len(columnOffsets))
		for i := len(columnOffsets) - 1; i >= 0; i-- {
			builder.PrependUOffsetT(columnOffsets[i])
		}
		columnsOffset = builder.EndVector(len(columnOffsets))
	}

	fb.FrameStart(builder)
	if frame.Columns != nil {
		fb.FrameAddColumns(builder, columnsOffset)
	}
	builder.Finish(fb.FrameEnd(builder))
	return builder.FinishedBytes(), nil
}

// Unmarshal parses a frame written by Marshal. Malformed buffers yield errors rather than panics.
func Unmarshal(data []byte) (frame *Frame, err error) {
	defer func() {
		if r := recover(); r != nil {
			frame = nil
			err = fmt.Errorf("%w: failed to parse frame: %v", ErrInvalidFrame, r)
		}
	}()
	if len(data) < flatbuffers.SizeUOffsetT {
		return nil, errors.New("frame data is too short")
	}

	root := fb.GetRootAsFrame(data, 0)
	var columns []Column
	if hasVector(root.Table(), frameColumnsSlot) {
		columns = make([]Column, root.ColumnsLength())
	}
	var fbColumn fb.Column
	for i := range columns {
		if !root.Columns(&fbColumn, i) {
			return nil, fmt.Errorf("%w: missing column %d", ErrInvalidFrame, i)
		}
		column := Column{Name: string(fbColumn.Name())}
		table := fbColumn.Table()
		switch kind := fbColumn.Kind(); kind {
		case fb.ColumnKindInt64:
			column.Values = []int64(nil)
			if !hasVector(table, columnIntsSlot) {
				break
			}
			values := make([]int64, fbColumn.IntsLength())
			for j := range values {
				values[j] = fbColumn.Ints(j)
			}
			column.Values = values
		case fb.ColumnKindFloat64:
			column.Values = []float64(nil)
			if !hasVector(table, columnFloatsSlot) {
				break
			}
			values := make([]float64, fbColumn.FloatsLength())
			for j := range values {
				values[j] = fbColumn.Floats(j)
			}
			column.Values = values
		case fb.ColumnKindString:
			column.Values = []string(nil)
			if !hasVector(table, columnStringsSlot) {
				break
			}
			values := make([]string, fbColumn.StringsLength())
			for j := range values {
				values[j] = string(fbColumn.Strings(j))
			}
			column.Values = values
		case fb.ColumnKindBool:
			column.Values = []bool(nil)
			if !hasVector(table, columnBoolsSlot) {
				break
			}
			values := make([]bool, fbColumn.BoolsLength())
			for j := range values {
				values[j] = fbColumn.Bools(j)
			}
			column.Values = values
		default:
			return nil, fmt.Errorf("%w: column %q has unknown kind %v", ErrInvalidFrame, column.Name, kind)
		}
		columns[i] = column
	}

	frame = &Frame{Columns: columns}
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	return frame, nil
}
