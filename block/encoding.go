package block

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var ErrShortBuffer = errors.New("encoded column is truncated")

// AppendEncoded appends the binary form of rows [from, to) of c to buf
func (c Column) AppendEncoded(buf []byte, from, to int) []byte {
	switch d := c.Data.(type) {
	case []int64:
		for _, v := range d[from:to] {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(v))
		}
	case []uint64:
		for _, v := range d[from:to] {
			buf = binary.LittleEndian.AppendUint64(buf, v)
		}
	case []float64:
		for _, v := range d[from:to] {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
	case []string:
		for _, v := range d[from:to] {
			buf = binary.AppendUvarint(buf, uint64(len(v)))
			buf = append(buf, v...)
		}
	case []uint32:
		for _, v := range d[from:to] {
			buf = binary.LittleEndian.AppendUint32(buf, v)
		}
	case []bool:
		for _, v := range d[from:to] {
			if v {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		}
	}
	return buf
}

// AppendEncodedValue appends a single value of type t
func AppendEncodedValue(buf []byte, t DataType, v any) ([]byte, error) {
	c := Column{Type: t}
	switch tv := v.(type) {
	case int64:
		c.Data = []int64{tv}
	case uint64:
		c.Data = []uint64{tv}
	case float64:
		c.Data = []float64{tv}
	case string:
		c.Data = []string{tv}
	case uint32:
		c.Data = []uint32{tv}
	case bool:
		c.Data = []bool{tv}
	}
	// values of another Go type go through the lossy conversion of AppendValue
	if c.Validate() != nil {
		c = NewColumn("", t)
		if err := c.AppendValue(v); err != nil {
			return buf, err
		}
	}
	return c.AppendEncoded(buf, 0, 1), nil
}

// DecodeInto decodes rows values from raw and appends them to c
func (c *Column) DecodeInto(raw []byte, rows int) ([]byte, error) {
	fixed := c.Type.FixedSize()
	if fixed > 0 && len(raw) < fixed*rows {
		return nil, fmt.Errorf("%w: column %s needs %d bytes, have %d", ErrShortBuffer, c.Name, fixed*rows, len(raw))
	}
	switch d := c.Data.(type) {
	case []int64:
		for i := 0; i < rows; i++ {
			d = append(d, int64(binary.LittleEndian.Uint64(raw[i*8:])))
		}
		c.Data = d
	case []uint64:
		for i := 0; i < rows; i++ {
			d = append(d, binary.LittleEndian.Uint64(raw[i*8:]))
		}
		c.Data = d
	case []float64:
		for i := 0; i < rows; i++ {
			d = append(d, math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:])))
		}
		c.Data = d
	case []uint32:
		for i := 0; i < rows; i++ {
			d = append(d, binary.LittleEndian.Uint32(raw[i*4:]))
		}
		c.Data = d
	case []bool:
		for i := 0; i < rows; i++ {
			d = append(d, raw[i] != 0)
		}
		c.Data = d
	case []string:
		for i := 0; i < rows; i++ {
			n, read := binary.Uvarint(raw)
			if read <= 0 || uint64(len(raw)-read) < n {
				return nil, fmt.Errorf("%w: column %s string %d", ErrShortBuffer, c.Name, i)
			}
			d = append(d, string(raw[read:read+int(n)]))
			raw = raw[read+int(n):]
		}
		c.Data = d
		return raw, nil
	default:
		return nil, fmt.Errorf("%w: column %s", ErrTypeMismatch, c.Name)
	}
	return raw[fixed*rows:], nil
}

// DecodeValue decodes one value of type t from the start of raw
func DecodeValue(t DataType, raw []byte) (any, []byte, error) {
	c := NewColumn("", t)
	rest, err := c.DecodeInto(raw, 1)
	if err != nil {
		return nil, nil, err
	}
	return c.ValueAt(0), rest, nil
}
