// Package frame provides a small columnar table value. Frames are cached through a FlatBuffers codec that keeps the
// column order, names and per column element types exactly.
package frame

import (
	"errors"
	"fmt"
	"slices"
)

var ErrInvalidFrame = errors.New("invalid frame")

// Column is a named sequence of values; Values must be one of []int64, []float64, []string or []bool.
type Column struct {
	Name   string
	Values any
}

// Len returns the number of values in the column, or -1 for unsupported value types.
func (c Column) Len() int {
	switch values := c.Values.(type) {
	case []int64:
		return len(values)
	case []float64:
		return len(values)
	case []string:
		return len(values)
	case []bool:
		return len(values)
	default:
		return -1
	}
}

// Frame is an ordered set of equally sized columns.
type Frame struct {
	Columns []Column
}

// New builds a frame after validating that names are unique and columns have supported types and equal lengths.
// Nil value slices are normalized to empty ones.
func New(columns ...Column) (*Frame, error) {
	normalized := make([]Column, len(columns))
	for i, column := range columns {
		normalized[i] = Column{Name: column.Name, Values: normalizeValues(column.Values)}
	}
	frame := &Frame{Columns: normalized}
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	return frame, nil
}

func normalizeValues(values any) any {
	switch typed := values.(type) {
	case []int64:
		return cloneNonNil(typed)
	case []float64:
		return cloneNonNil(typed)
	case []string:
		return cloneNonNil(typed)
	case []bool:
		return cloneNonNil(typed)
	default:
		return values
	}
}

func cloneNonNil[T any](values []T) []T {
	return append(make([]T, 0, len(values)), values...)
}

// Validate checks the frame invariants New enforces, for frames assembled by hand.
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil frame", ErrInvalidFrame)
	}
	rows := -1
	seen := make(map[string]bool, len(f.Columns))
	for _, column := range f.Columns {
		if seen[column.Name] {
			return fmt.Errorf("%w: duplicate column %q", ErrInvalidFrame, column.Name)
		}
		seen[column.Name] = true
		length := column.Len()
		if length < 0 {
			return fmt.Errorf("%w: column %q has unsupported values of type %T", ErrInvalidFrame, column.Name,
				column.Values)
		}
		if rows >= 0 && length != rows {
			return fmt.Errorf("%w: column %q has %d rows, expected %d", ErrInvalidFrame, column.Name, length, rows)
		}
		rows = length
	}
	return nil
}

// Rows returns the number of rows; frames without columns have none.
func (f *Frame) Rows() int {
	if len(f.Columns) == 0 {
		return 0
	}
	return max(f.Columns[0].Len(), 0)
}

// Column returns the column named `name`.
func (f *Frame) Column(name string) (Column, bool) {
	index := slices.IndexFunc(f.Columns, func(column Column) bool { return column.Name == name })
	if index < 0 {
		return Column{}, false
	}
	return f.Columns[index], true
}

// Names returns the column names in order.
func (f *Frame) Names() []string {
	names := make([]string, len(f.Columns))
	for i, column := range f.Columns {
		names[i] = column.Name
	}
	return names
}
