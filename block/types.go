package block

import (
	"errors"
	"fmt"
)

type (
	DataType uint8

	NameAndType struct {
		Name string
		Type DataType
	}

	NamesAndTypes []NameAndType
)

const (
	Int64 DataType = iota + 1
	UInt64
	Float64
	String
	// DateTime is stored as unix seconds in a uint32
	DateTime
	Bool
)

var (
	ErrUnknownType = errors.New("unknown data type")

	typeNames = map[DataType]string{
		Int64:    "Int64",
		UInt64:   "UInt64",
		Float64:  "Float64",
		String:   "String",
		DateTime: "DateTime",
		Bool:     "Bool",
	}
)

func (t DataType) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("Unknown(%d)", uint8(t))
}

func ParseDataType(s string) (DataType, error) {
	for t, n := range typeNames {
		if n == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// FixedSize is the encoded width of a value, or 0 for variable width types
func (t DataType) FixedSize() int {
	switch t {
	case Int64, UInt64, Float64:
		return 8
	case DateTime:
		return 4
	case Bool:
		return 1
	default:
		return 0
	}
}

func (nt NamesAndTypes) Names() []string {
	names := make([]string, len(nt))
	for i, c := range nt {
		names[i] = c.Name
	}
	return names
}

func (nt NamesAndTypes) Get(name string) (NameAndType, bool) {
	for _, c := range nt {
		if c.Name == name {
			return c, true
		}
	}
	return NameAndType{}, false
}

func (nt NamesAndTypes) Contains(name string) bool {
	_, ok := nt.Get(name)
	return ok
}

// Filter returns the columns whose names are in keep, in the original order
func (nt NamesAndTypes) Filter(keep func(name string) bool) NamesAndTypes {
	out := make(NamesAndTypes, 0, len(nt))
	for _, c := range nt {
		if keep(c.Name) {
			out = append(out, c)
		}
	}
	return out
}
