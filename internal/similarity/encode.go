package similarity

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// MarshalBinary encodes the matrix as rows (4), cols (4), then row-major
// float64 cells, little-endian. Used by the SQLite session store.
func (m *Matrix) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, uint32(m.rows)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(m.cols)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, m.data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalMatrix decodes a matrix produced by MarshalBinary.
func UnmarshalMatrix(data []byte) (*Matrix, error) {
	r := bytes.NewReader(data)
	var rows, cols uint32
	if err := binary.Read(r, binary.LittleEndian, &rows); err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &cols); err != nil {
		return nil, fmt.Errorf("read cols: %w", err)
	}
	cells := make([]float64, int(rows)*int(cols))
	if err := binary.Read(r, binary.LittleEndian, cells); err != nil {
		return nil, fmt.Errorf("read cells: %w", err)
	}
	return &Matrix{rows: int(rows), cols: int(cols), data: cells}, nil
}
