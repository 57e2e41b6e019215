package part

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

const columnsSubstreamsVersion = 1

var ErrSubstreamsConflict = errors.New("conflicting substreams for the same column")

type (
	ColumnSubstreams struct {
		Column     string
		Substreams []string
	}

	// ColumnsSubstreams is the ordered per-column list of streams a part stores
	ColumnsSubstreams struct {
		Columns []ColumnSubstreams
	}
)

func (cs *ColumnsSubstreams) Add(column string, substreams []string) {
	for i := range cs.Columns {
		if cs.Columns[i].Column == column {
			cs.Columns[i].Substreams = append(cs.Columns[i].Substreams, substreams...)
			return
		}
	}
	cs.Columns = append(cs.Columns, ColumnSubstreams{Column: column, Substreams: append([]string(nil), substreams...)})
}

func (cs ColumnsSubstreams) Get(column string) ([]string, bool) {
	for _, c := range cs.Columns {
		if c.Column == column {
			return c.Substreams, true
		}
	}
	return nil, false
}

func (cs ColumnsSubstreams) Empty() bool {
	return len(cs.Columns) == 0
}

// MergeSubstreams combines the local writer's substreams with those of
// cooperating writers, keeping only the columns in names and in that order.
// A column described by both with different streams is an error.
func MergeSubstreams(local, additional ColumnsSubstreams, names []string) (ColumnsSubstreams, error) {
	var out ColumnsSubstreams
	for _, name := range names {
		l, inLocal := local.Get(name)
		a, inAdditional := additional.Get(name)
		switch {
		case inLocal && inAdditional:
			if !equalStrings(l, a) {
				return ColumnsSubstreams{}, fmt.Errorf("%w: %s has %v and %v", ErrSubstreamsConflict, name, l, a)
			}
			out.Add(name, l)
		case inLocal:
			out.Add(name, l)
		case inAdditional:
			out.Add(name, a)
		}
	}
	return out, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (cs ColumnsSubstreams) WriteText(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "columns substreams version: %d\n", columnsSubstreamsVersion)
	fmt.Fprintf(bw, "%d columns:\n", len(cs.Columns))
	for _, c := range cs.Columns {
		fmt.Fprintf(bw, "%d substreams for column %s:\n", len(c.Substreams), backQuote(c.Column))
		for _, s := range c.Substreams {
			fmt.Fprintf(bw, "\t%s\n", s)
		}
	}
	return bw.Flush()
}

func ReadColumnsSubstreams(r io.Reader) (ColumnsSubstreams, error) {
	lr := newLineReader(r)
	var version, count int
	if err := lr.scanf("columns substreams version: %d", &version); err != nil {
		return ColumnsSubstreams{}, err
	}
	if version != columnsSubstreamsVersion {
		return ColumnsSubstreams{}, fmt.Errorf("unsupported columns substreams version %d", version)
	}
	if err := lr.scanf("%d columns:", &count); err != nil {
		return ColumnsSubstreams{}, err
	}
	var cs ColumnsSubstreams
	for i := 0; i < count; i++ {
		l, err := lr.line()
		if err != nil {
			return ColumnsSubstreams{}, err
		}
		var n int
		if _, err := fmt.Sscanf(l, "%d substreams for column ", &n); err != nil {
			return ColumnsSubstreams{}, fmt.Errorf("line %d: error in Sscanf: %w", lr.num, err)
		}
		idx := strings.IndexByte(l, '`')
		if idx < 0 {
			return ColumnsSubstreams{}, fmt.Errorf("line %d: missing column name", lr.num)
		}
		name, _, err := unBackQuote(l[idx:])
		if err != nil {
			return ColumnsSubstreams{}, fmt.Errorf("line %d: %w", lr.num, err)
		}
		streams := make([]string, 0, n)
		for j := 0; j < n; j++ {
			s, err := lr.line()
			if err != nil {
				return ColumnsSubstreams{}, err
			}
			streams = append(streams, strings.TrimPrefix(s, "\t"))
		}
		cs.Columns = append(cs.Columns, ColumnSubstreams{Column: name, Substreams: streams})
	}
	return cs, nil
}
