package part_writer

import (
	"fmt"

	"github.com/danthegoodman1/icetree/block"
)

const SkipIndexMinMax = "minmax"

type (
	// SkipIndex describes a secondary index materialized per granule
	SkipIndex struct {
		Name   string `json:"name" validate:"required"`
		Column string `json:"column" validate:"required"`
		Type   string `json:"type" validate:"required,oneof=minmax"`
	}

	skipIndexBuilder struct {
		index  SkipIndex
		column block.NameAndType
		// content holds min and max of every granule, in granule order
		content []byte
	}
)

func newSkipIndexBuilder(idx SkipIndex, columns block.NamesAndTypes) (*skipIndexBuilder, error) {
	if idx.Type != SkipIndexMinMax {
		return nil, fmt.Errorf("%w: %s of type %q", ErrUnsupportedIndex, idx.Name, idx.Type)
	}
	col, ok := columns.Get(idx.Column)
	if !ok {
		return nil, fmt.Errorf("%w: index %s on %s", block.ErrColumnNotFound, idx.Name, idx.Column)
	}
	return &skipIndexBuilder{index: idx, column: col}, nil
}

func (sb *skipIndexBuilder) addGranule(granule block.Block) error {
	c, _ := granule.ByName(sb.column.Name)
	lo, hi := c.ValueAt(0), c.ValueAt(0)
	for i := 1; i < c.Len(); i++ {
		v := c.ValueAt(i)
		if block.CompareValues(v, lo) < 0 {
			lo = v
		}
		if block.CompareValues(v, hi) > 0 {
			hi = v
		}
	}
	var err error
	if sb.content, err = block.AppendEncodedValue(sb.content, sb.column.Type, lo); err != nil {
		return fmt.Errorf("error encoding skip index %s: %w", sb.index.Name, err)
	}
	if sb.content, err = block.AppendEncodedValue(sb.content, sb.column.Type, hi); err != nil {
		return fmt.Errorf("error encoding skip index %s: %w", sb.index.Name, err)
	}
	return nil
}

// DecodeMinMaxSkipIndex returns the per granule ranges of a minmax skip index
func DecodeMinMaxSkipIndex(t block.DataType, raw []byte) ([][2]any, error) {
	var ranges [][2]any
	for len(raw) > 0 {
		lo, rest, err := block.DecodeValue(t, raw)
		if err != nil {
			return nil, err
		}
		hi, rest, err := block.DecodeValue(t, rest)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, [2]any{lo, hi})
		raw = rest
	}
	return ranges, nil
}
