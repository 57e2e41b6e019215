package ttl

import (
	"fmt"

	"github.com/danthegoodman1/icetree/part"
)

const (
	RowsTTL          Kind = "rows"
	RowsWhereTTL     Kind = "rows_where"
	GroupByTTL       Kind = "group_by"
	ColumnTTL        Kind = "column"
	MoveTTL          Kind = "move"
	RecompressionTTL Kind = "recompression"
)

type (
	Kind string

	// Description is how a table declares a TTL. The expression itself is
	// evaluated upstream into the ResultColumn of every consumed block.
	Description struct {
		Kind         Kind   `json:"kind" validate:"required,oneof=rows rows_where group_by column move recompression"`
		ResultColumn string `json:"result_column" validate:"required"`
		WhereColumn  string `json:"where_column,omitempty"`
		// Column is the column a column TTL resets
		Column string `json:"column,omitempty" validate:"required_if=Kind column"`
	}

	// Rule is one TTL tracked while a part is written
	Rule struct {
		Kind         Kind
		ResultColumn string
		// WhereColumn is an optional Bool column, rows where it is false are ignored
		WhereColumn string
		// Column is the target column of a column TTL
		Column string
		// Previous is the bound already recorded in the part
		Previous part.TTLInfo
	}
)

// filtering rules remove expired rows instead of only tracking them
func (k Kind) filtering() bool {
	return k == RowsTTL || k == RowsWhereTTL
}

// key is the name the rule is recorded under in the part's TTL infos
func (r Rule) key() string {
	if r.Kind == ColumnTTL {
		return r.Column
	}
	return r.ResultColumn
}

func (r Rule) String() string {
	return fmt.Sprintf("%s TTL %s", r.Kind, r.key())
}

// RulesFromTable builds the rules of a table, each seeded with what the part
// already recorded for it
func RulesFromTable(descs []Description, previous part.TTLInfos) ([]Rule, error) {
	rules := make([]Rule, 0, len(descs))
	tableRules := 0
	for _, d := range descs {
		r := Rule{Kind: d.Kind, ResultColumn: d.ResultColumn, WhereColumn: d.WhereColumn, Column: d.Column}
		if r.ResultColumn == "" {
			return nil, fmt.Errorf("%w: %s rule without result column", ErrBadRule, d.Kind)
		}
		switch d.Kind {
		case RowsTTL:
			tableRules++
			if tableRules > 1 {
				return nil, fmt.Errorf("%w: a table has at most one rows TTL", ErrBadRule)
			}
			r.Previous = previous.Table
		case RowsWhereTTL:
			if r.WhereColumn == "" {
				return nil, fmt.Errorf("%w: rows_where TTL %s without where column", ErrBadRule, r.ResultColumn)
			}
			r.Previous = previous.RowsWhere[r.key()]
		case GroupByTTL:
			r.Previous = previous.GroupBy[r.key()]
		case ColumnTTL:
			if r.Column == "" {
				return nil, fmt.Errorf("%w: column TTL %s without target column", ErrBadRule, r.ResultColumn)
			}
			r.Previous = previous.Columns[r.key()]
		case MoveTTL:
			r.Previous = previous.Moves[r.key()]
		case RecompressionTTL:
			r.Previous = previous.Recompression[r.key()]
		default:
			return nil, fmt.Errorf("%w: unknown kind %q", ErrBadRule, d.Kind)
		}
		rules = append(rules, r)
	}
	return rules, nil
}
