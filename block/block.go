package block

import (
	"errors"
	"fmt"
	"sort"
)

type (
	// Block is a contiguous slice of rows stored column by column
	Block struct {
		Columns []Column
	}
)

var (
	ErrRowCountMismatch = errors.New("columns of block have different number of rows")
	ErrColumnNotFound   = errors.New("column not found in block")
	ErrBadPermutation   = errors.New("not a permutation of the block's rows")
)

func (b Block) Rows() int {
	if len(b.Columns) == 0 {
		return 0
	}
	return b.Columns[0].Len()
}

func (b Block) Empty() bool {
	return b.Rows() == 0
}

// CheckNumberOfRows verifies every column has the same length and the declared type
func (b Block) CheckNumberOfRows() error {
	if len(b.Columns) == 0 {
		return nil
	}
	first := b.Columns[0]
	for _, c := range b.Columns {
		if err := c.Validate(); err != nil {
			return err
		}
		if c.Len() != first.Len() {
			return fmt.Errorf("%w: column %s has %d rows, column %s has %d rows", ErrRowCountMismatch, first.Name, first.Len(), c.Name, c.Len())
		}
	}
	return nil
}

func (b Block) ByName(name string) (Column, bool) {
	for _, c := range b.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

func (b Block) Names() []string {
	names := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		names[i] = c.Name
	}
	return names
}

func (b Block) NamesAndTypes() NamesAndTypes {
	nt := make(NamesAndTypes, len(b.Columns))
	for i, c := range b.Columns {
		nt[i] = NameAndType{Name: c.Name, Type: c.Type}
	}
	return nt
}

func (b Block) Permute(perm Permutation) Block {
	out := Block{Columns: make([]Column, len(b.Columns))}
	for i, c := range b.Columns {
		out.Columns[i] = c.Permute(perm)
	}
	return out
}

func (b Block) Slice(from, to int) Block {
	out := Block{Columns: make([]Column, len(b.Columns))}
	for i, c := range b.Columns {
		out.Columns[i] = c.Slice(from, to)
	}
	return out
}

// Project keeps only the named columns, in the order given
func (b Block) Project(names []string) (Block, error) {
	out := Block{Columns: make([]Column, 0, len(names))}
	for _, n := range names {
		c, ok := b.ByName(n)
		if !ok {
			return Block{}, fmt.Errorf("%w: %s", ErrColumnNotFound, n)
		}
		out.Columns = append(out.Columns, c)
	}
	return out, nil
}

// Concat appends the rows of other blocks to an empty block shaped like schema
func Concat(schema NamesAndTypes, blocks ...Block) (Block, error) {
	out := Block{Columns: make([]Column, len(schema))}
	for i, c := range schema {
		out.Columns[i] = NewColumn(c.Name, c.Type)
	}
	for _, b := range blocks {
		for i := range out.Columns {
			src, ok := b.ByName(out.Columns[i].Name)
			if !ok {
				return Block{}, fmt.Errorf("%w: %s", ErrColumnNotFound, out.Columns[i].Name)
			}
			if err := out.Columns[i].AppendColumn(src); err != nil {
				return Block{}, err
			}
		}
	}
	return out, nil
}

// Check verifies that perm holds every row number of a block of rows rows exactly once
func (perm Permutation) Check(rows int) error {
	if len(perm) != rows {
		return fmt.Errorf("%w: %d entries for %d rows", ErrBadPermutation, len(perm), rows)
	}
	seen := make([]bool, rows)
	for i, row := range perm {
		if row < 0 || row >= rows {
			return fmt.Errorf("%w: entry %d is row %d of %d", ErrBadPermutation, i, row, rows)
		}
		if seen[row] {
			return fmt.Errorf("%w: row %d appears twice", ErrBadPermutation, row)
		}
		seen[row] = true
	}
	return nil
}

// DropRows returns the rows of b that are not in rows, which must be ascending
func (b Block) DropRows(rows []int) Block {
	if len(rows) == 0 {
		return b
	}
	live := make(Permutation, 0, b.Rows()-len(rows))
	next := 0
	for i := 0; i < b.Rows(); i++ {
		if next < len(rows) && rows[next] == i {
			next++
			continue
		}
		live = append(live, i)
	}
	return b.Permute(live)
}

// SortPermutation computes the stable order of rows by the key columns without
// moving any data
func SortPermutation(b Block, keys []string) (Permutation, error) {
	keyCols := make([]Column, 0, len(keys))
	for _, k := range keys {
		c, ok := b.ByName(k)
		if !ok {
			return nil, fmt.Errorf("%w: sort key %s", ErrColumnNotFound, k)
		}
		keyCols = append(keyCols, c)
	}
	perm := make(Permutation, b.Rows())
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(i, j int) bool {
		for _, c := range keyCols {
			if r := c.Compare(perm[i], perm[j]); r != 0 {
				return r < 0
			}
		}
		return false
	})
	return perm, nil
}

// FromRows builds a block from flattened rows. Columns absent from a row get
// the type's default value.
func FromRows(rows []map[string]any, schema NamesAndTypes) (Block, error) {
	b := Block{Columns: make([]Column, len(schema))}
	for i, c := range schema {
		b.Columns[i] = NewColumn(c.Name, c.Type)
	}
	for _, row := range rows {
		for i := range b.Columns {
			if err := b.Columns[i].AppendValue(row[b.Columns[i].Name]); err != nil {
				return Block{}, err
			}
		}
	}
	return b, nil
}

// ToRows is the inverse of FromRows
func (b Block) ToRows() []map[string]any {
	rows := make([]map[string]any, b.Rows())
	for i := range rows {
		row := make(map[string]any, len(b.Columns))
		for _, c := range b.Columns {
			row[c.Name] = c.ValueAt(i)
		}
		rows[i] = row
	}
	return rows
}
