package part

import (
	"errors"
	"fmt"
)

var (
	ErrGranularityNotFinal = errors.New("index granularity is not final")
	ErrGranularityFinal    = errors.New("index granularity is final")
	ErrBadGranule          = errors.New("granule does not fit constant granularity")
)

type (
	// IndexGranularity is the number of rows in each granule of a part
	IndexGranularity interface {
		MarksCount() int
		RowsInGranule(i int) int
		// MarkStartingRow is the first row of granule i
		MarkStartingRow(i int) int
		TotalRows() int
		AppendMark(rows int) error
		// Finalize freezes the granularity once the part's row count is known
		Finalize()
		Finalized() bool
		// Optimize returns a smaller equivalent representation, or nil when there is nothing to gain
		Optimize() (IndexGranularity, error)
		Expand() []int
	}

	// AdaptiveGranularity stores every granule's row count
	AdaptiveGranularity struct {
		Rows  []int
		final bool
	}

	// ConstantGranularity stores Count granules of GranuleSize rows, the last of which has LastRows
	ConstantGranularity struct {
		GranuleSize int
		Count       int
		LastRows    int
		final       bool
	}
)

func NewAdaptiveGranularity() *AdaptiveGranularity {
	return &AdaptiveGranularity{}
}

func (g *AdaptiveGranularity) MarksCount() int { return len(g.Rows) }

func (g *AdaptiveGranularity) RowsInGranule(i int) int { return g.Rows[i] }

func (g *AdaptiveGranularity) MarkStartingRow(i int) int {
	start := 0
	for _, r := range g.Rows[:i] {
		start += r
	}
	return start
}

func (g *AdaptiveGranularity) TotalRows() int {
	return g.MarkStartingRow(len(g.Rows))
}

func (g *AdaptiveGranularity) AppendMark(rows int) error {
	if g.final {
		return ErrGranularityFinal
	}
	g.Rows = append(g.Rows, rows)
	return nil
}

func (g *AdaptiveGranularity) Finalize() { g.final = true }

func (g *AdaptiveGranularity) Finalized() bool { return g.final }

func (g *AdaptiveGranularity) Expand() []int {
	return append([]int(nil), g.Rows...)
}

// Optimize collapses granules of equal size into a ConstantGranularity
func (g *AdaptiveGranularity) Optimize() (IndexGranularity, error) {
	if !g.final {
		return nil, fmt.Errorf("%w: cannot optimize adaptive granularity of %d marks", ErrGranularityNotFinal, len(g.Rows))
	}
	if len(g.Rows) == 0 {
		return nil, nil
	}
	size := g.Rows[0]
	for _, r := range g.Rows[:len(g.Rows)-1] {
		if r != size {
			return nil, nil
		}
	}
	last := g.Rows[len(g.Rows)-1]
	if len(g.Rows) == 1 {
		size = last
	}
	if last > size {
		return nil, nil
	}
	return &ConstantGranularity{GranuleSize: size, Count: len(g.Rows), LastRows: last, final: true}, nil
}

func NewConstantGranularity(granuleSize int) *ConstantGranularity {
	return &ConstantGranularity{GranuleSize: granuleSize}
}

func (g *ConstantGranularity) MarksCount() int { return g.Count }

func (g *ConstantGranularity) RowsInGranule(i int) int {
	if i == g.Count-1 {
		return g.LastRows
	}
	return g.GranuleSize
}

func (g *ConstantGranularity) MarkStartingRow(i int) int {
	return i * g.GranuleSize
}

func (g *ConstantGranularity) TotalRows() int {
	if g.Count == 0 {
		return 0
	}
	return (g.Count-1)*g.GranuleSize + g.LastRows
}

// AppendMark only accepts granules that keep every granule but the last full
func (g *ConstantGranularity) AppendMark(rows int) error {
	if g.final {
		return ErrGranularityFinal
	}
	if rows > g.GranuleSize || (g.Count > 0 && g.LastRows != g.GranuleSize) {
		return fmt.Errorf("%w: %d rows after %d granules of %d", ErrBadGranule, rows, g.Count, g.GranuleSize)
	}
	g.Count++
	g.LastRows = rows
	return nil
}

func (g *ConstantGranularity) Finalize() { g.final = true }

func (g *ConstantGranularity) Finalized() bool { return g.final }

func (g *ConstantGranularity) Expand() []int {
	rows := make([]int, g.Count)
	for i := range rows {
		rows[i] = g.RowsInGranule(i)
	}
	return rows
}

// Optimize never finds anything smaller than a constant granularity
func (g *ConstantGranularity) Optimize() (IndexGranularity, error) {
	if !g.final {
		return nil, fmt.Errorf("%w: cannot optimize constant granularity of %d marks", ErrGranularityNotFinal, g.Count)
	}
	return nil, nil
}
