package block

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type (
	// Column is a named, typed run of values. Data holds one of []int64,
	// []uint64, []float64, []string, []uint32 (DateTime) or []bool.
	Column struct {
		Name string
		Type DataType
		Data any
	}

	Permutation []int
)

var (
	ErrTypeMismatch = errors.New("column data does not match its type")
	ErrBadValue     = errors.New("value cannot be converted to column type")
)

func NewColumn(name string, t DataType) Column {
	c := Column{Name: name, Type: t}
	switch t {
	case Int64:
		c.Data = []int64{}
	case UInt64:
		c.Data = []uint64{}
	case Float64:
		c.Data = []float64{}
	case String:
		c.Data = []string{}
	case DateTime:
		c.Data = []uint32{}
	case Bool:
		c.Data = []bool{}
	}
	return c
}

func (c Column) Len() int {
	switch d := c.Data.(type) {
	case []int64:
		return len(d)
	case []uint64:
		return len(d)
	case []float64:
		return len(d)
	case []string:
		return len(d)
	case []uint32:
		return len(d)
	case []bool:
		return len(d)
	default:
		return 0
	}
}

// Validate checks that Data carries the slice type Type demands
func (c Column) Validate() error {
	ok := false
	switch c.Data.(type) {
	case []int64:
		ok = c.Type == Int64
	case []uint64:
		ok = c.Type == UInt64
	case []float64:
		ok = c.Type == Float64
	case []string:
		ok = c.Type == String
	case []uint32:
		ok = c.Type == DateTime
	case []bool:
		ok = c.Type == Bool
	}
	if !ok {
		return fmt.Errorf("%w: column %s declared %s holds %T", ErrTypeMismatch, c.Name, c.Type, c.Data)
	}
	return nil
}

func (c Column) IsDefaultAt(i int) bool {
	switch d := c.Data.(type) {
	case []int64:
		return d[i] == 0
	case []uint64:
		return d[i] == 0
	case []float64:
		return d[i] == 0
	case []string:
		return d[i] == ""
	case []uint32:
		return d[i] == 0
	case []bool:
		return !d[i]
	}
	return true
}

func (c Column) ValueAt(i int) any {
	switch d := c.Data.(type) {
	case []int64:
		return d[i]
	case []uint64:
		return d[i]
	case []float64:
		return d[i]
	case []string:
		return d[i]
	case []uint32:
		return d[i]
	case []bool:
		return d[i]
	}
	return nil
}

// Float64At returns a numeric view of the value, used by statistics
func (c Column) Float64At(i int) (float64, bool) {
	switch d := c.Data.(type) {
	case []int64:
		return float64(d[i]), true
	case []uint64:
		return float64(d[i]), true
	case []float64:
		return d[i], true
	case []uint32:
		return float64(d[i]), true
	case []bool:
		if d[i] {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func (c Column) Compare(i, j int) int {
	return CompareValues(c.ValueAt(i), c.ValueAt(j))
}

// CompareValues orders two values of the same column type
func CompareValues(a, b any) int {
	switch av := a.(type) {
	case int64:
		return cmpOrdered(av, b.(int64))
	case uint64:
		return cmpOrdered(av, b.(uint64))
	case float64:
		return cmpOrdered(av, b.(float64))
	case string:
		return strings.Compare(av, b.(string))
	case uint32:
		return cmpOrdered(av, b.(uint32))
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	}
	return 0
}

func cmpOrdered[T int64 | uint64 | float64 | uint32](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func permuteSlice[T any](s []T, perm Permutation) []T {
	out := make([]T, len(perm))
	for i, p := range perm {
		out[i] = s[p]
	}
	return out
}

// Permute returns a new column with row i taken from row perm[i]
func (c Column) Permute(perm Permutation) Column {
	out := Column{Name: c.Name, Type: c.Type}
	switch d := c.Data.(type) {
	case []int64:
		out.Data = permuteSlice(d, perm)
	case []uint64:
		out.Data = permuteSlice(d, perm)
	case []float64:
		out.Data = permuteSlice(d, perm)
	case []string:
		out.Data = permuteSlice(d, perm)
	case []uint32:
		out.Data = permuteSlice(d, perm)
	case []bool:
		out.Data = permuteSlice(d, perm)
	}
	return out
}

func (c Column) Slice(from, to int) Column {
	out := Column{Name: c.Name, Type: c.Type}
	switch d := c.Data.(type) {
	case []int64:
		out.Data = d[from:to]
	case []uint64:
		out.Data = d[from:to]
	case []float64:
		out.Data = d[from:to]
	case []string:
		out.Data = d[from:to]
	case []uint32:
		out.Data = d[from:to]
	case []bool:
		out.Data = d[from:to]
	}
	return out
}

// AppendColumn appends all rows of o, which must have the same type
func (c *Column) AppendColumn(o Column) error {
	if o.Type != c.Type {
		return fmt.Errorf("%w: cannot append %s to %s column %s", ErrTypeMismatch, o.Type, c.Type, c.Name)
	}
	switch d := c.Data.(type) {
	case []int64:
		c.Data = append(d, o.Data.([]int64)...)
	case []uint64:
		c.Data = append(d, o.Data.([]uint64)...)
	case []float64:
		c.Data = append(d, o.Data.([]float64)...)
	case []string:
		c.Data = append(d, o.Data.([]string)...)
	case []uint32:
		c.Data = append(d, o.Data.([]uint32)...)
	case []bool:
		c.Data = append(d, o.Data.([]bool)...)
	}
	return nil
}

// AppendValue converts a decoded JSON value (or a native Go value) and appends it.
// A nil value appends the type's default.
func (c *Column) AppendValue(v any) error {
	switch d := c.Data.(type) {
	case []int64:
		n, err := toFloat(v)
		if err != nil {
			return c.badValue(v, err)
		}
		c.Data = append(d, int64(n))
	case []uint64:
		n, err := toFloat(v)
		if err != nil || n < 0 {
			return c.badValue(v, err)
		}
		c.Data = append(d, uint64(n))
	case []float64:
		n, err := toFloat(v)
		if err != nil {
			return c.badValue(v, err)
		}
		c.Data = append(d, n)
	case []string:
		switch sv := v.(type) {
		case nil:
			c.Data = append(d, "")
		case string:
			c.Data = append(d, sv)
		default:
			c.Data = append(d, fmt.Sprint(sv))
		}
	case []uint32:
		ts, err := toUnixSeconds(v)
		if err != nil {
			return c.badValue(v, err)
		}
		c.Data = append(d, ts)
	case []bool:
		switch bv := v.(type) {
		case nil:
			c.Data = append(d, false)
		case bool:
			c.Data = append(d, bv)
		default:
			n, err := toFloat(v)
			if err != nil {
				return c.badValue(v, err)
			}
			c.Data = append(d, n != 0)
		}
	default:
		return fmt.Errorf("%w: column %s", ErrTypeMismatch, c.Name)
	}
	return nil
}

func (c *Column) badValue(v any, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %v for %s column %s: %s", ErrBadValue, v, c.Type, c.Name, err)
	}
	return fmt.Errorf("%w: %v for %s column %s", ErrBadValue, v, c.Type, c.Name)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return 0, fmt.Errorf("unsupported %T", v)
}

func toUnixSeconds(v any) (uint32, error) {
	if s, ok := v.(string); ok {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return 0, err
		}
		return clampSeconds(t.Unix()), nil
	}
	if t, ok := v.(time.Time); ok {
		return clampSeconds(t.Unix()), nil
	}
	n, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	return clampSeconds(int64(n)), nil
}

func clampSeconds(s int64) uint32 {
	if s < 0 {
		return 0
	}
	if s > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(s)
}

func scatterSlice[T any](s []T, rows int, positions []int) []T {
	out := make([]T, rows)
	for i, p := range positions {
		out[p] = s[i]
	}
	return out
}

// Scatter spreads the values of c over a column of rows default values,
// value i landing on row positions[i]
func (c Column) Scatter(rows int, positions []int) (Column, error) {
	if len(positions) != c.Len() {
		return Column{}, fmt.Errorf("%w: %d positions for %d values of column %s", ErrRowCountMismatch, len(positions), c.Len(), c.Name)
	}
	for _, p := range positions {
		if p < 0 || p >= rows {
			return Column{}, fmt.Errorf("%w: position %d outside %d rows of column %s", ErrBadValue, p, rows, c.Name)
		}
	}
	out := Column{Name: c.Name, Type: c.Type}
	switch d := c.Data.(type) {
	case []int64:
		out.Data = scatterSlice(d, rows, positions)
	case []uint64:
		out.Data = scatterSlice(d, rows, positions)
	case []float64:
		out.Data = scatterSlice(d, rows, positions)
	case []string:
		out.Data = scatterSlice(d, rows, positions)
	case []uint32:
		out.Data = scatterSlice(d, rows, positions)
	case []bool:
		out.Data = scatterSlice(d, rows, positions)
	default:
		return Column{}, fmt.Errorf("%w: column %s", ErrTypeMismatch, c.Name)
	}
	return out, nil
}
