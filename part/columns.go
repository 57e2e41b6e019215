package part

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/danthegoodman1/icetree/block"
)

const columnsFormatVersion = 1

// WriteColumns writes the column list in the columns.txt text form
func WriteColumns(w io.Writer, columns block.NamesAndTypes) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "columns format version: %d\n", columnsFormatVersion)
	fmt.Fprintf(bw, "%d columns:\n", len(columns))
	for _, c := range columns {
		fmt.Fprintf(bw, "%s %s\n", backQuote(c.Name), c.Type)
	}
	return bw.Flush()
}

func ReadColumns(r io.Reader) (block.NamesAndTypes, error) {
	lr := newLineReader(r)
	var version, count int
	if err := lr.scanf("columns format version: %d", &version); err != nil {
		return nil, err
	}
	if version != columnsFormatVersion {
		return nil, fmt.Errorf("unsupported columns format version %d", version)
	}
	if err := lr.scanf("%d columns:", &count); err != nil {
		return nil, err
	}
	columns := make(block.NamesAndTypes, 0, count)
	for i := 0; i < count; i++ {
		l, err := lr.line()
		if err != nil {
			return nil, err
		}
		name, rest, err := unBackQuote(l)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lr.num, err)
		}
		t, err := block.ParseDataType(strings.TrimPrefix(rest, " "))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lr.num, err)
		}
		columns = append(columns, block.NameAndType{Name: name, Type: t})
	}
	return columns, nil
}

func backQuote(s string) string {
	var sb strings.Builder
	sb.WriteByte('`')
	for _, r := range s {
		switch r {
		case '`', '\\':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		case '\n':
			sb.WriteString(`\n`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('`')
	return sb.String()
}

// unBackQuote reads a back-quoted name from the start of s and returns the remainder
func unBackQuote(s string) (string, string, error) {
	if !strings.HasPrefix(s, "`") {
		return "", "", fmt.Errorf("expected back-quoted name in %q", s)
	}
	var sb strings.Builder
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 >= len(s) {
				return "", "", fmt.Errorf("dangling escape in %q", s)
			}
			i++
			if s[i] == 'n' {
				sb.WriteByte('\n')
			} else {
				sb.WriteByte(s[i])
			}
		case '`':
			return sb.String(), s[i+1:], nil
		default:
			sb.WriteByte(s[i])
		}
	}
	return "", "", fmt.Errorf("unterminated back-quoted name in %q", s)
}
