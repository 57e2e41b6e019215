package partitioner

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/danthegoodman1/icetree/block"
	"github.com/danthegoodman1/icetree/part"
)

type (
	// PartitionPlan applies Func to the column named by Args[0] (or `now()`),
	// the result becomes the partition value named As
	PartitionPlan struct {
		Func string   `json:"func" validate:"required"`
		Args []string `json:"args" validate:"required,min=1"`
		As   string   `json:"as" validate:"required"`
	}

	PartitionFunc func(c block.Column, row int, args []string) (string, error)

	// Split is the rows of one partition
	Split struct {
		Value part.PartitionValue
		Block block.Block
	}
)

var (
	Functions = make(map[string]PartitionFunc)

	ErrFuncNotFound = errors.New("partition function not found")

	ErrMissingArgs       = errors.New("missing args")
	ErrMissingColumns    = errors.New("missing one or more columns specified in args")
	ErrInvalidColumnType = errors.New("invalid column type")
)

func init() {
	RegisterFunctions()
}

func RegisterFunctions() {
	Functions["toDay"] = timeFunc(func(t time.Time) string { return t.Format("2006-01-02") })
	Functions["toMonth"] = timeFunc(func(t time.Time) string { return t.Format("2006-01") })
	Functions["toYear"] = timeFunc(func(t time.Time) string { return strconv.Itoa(t.Year()) })
	Functions["toYYYYMM"] = timeFunc(func(t time.Time) string { return t.Format("200601") })
	Functions["toYearDay"] = timeFunc(func(t time.Time) string { return strconv.Itoa(t.YearDay()) })
	Functions["toYearWeek"] = timeFunc(func(t time.Time) string {
		y, w := t.ISOWeek()
		return fmt.Sprintf("%d%02d", y, w)
	})
	Functions["toWeekDay"] = timeFunc(func(t time.Time) string { return strconv.Itoa(int(t.Weekday())) })
	Functions["identity"] = func(c block.Column, row int, args []string) (string, error) {
		if c.Name == "" {
			return "", ErrMissingColumns
		}
		return fmt.Sprint(c.ValueAt(row)), nil
	}
}

func timeFunc(format func(t time.Time) string) PartitionFunc {
	return func(c block.Column, row int, args []string) (string, error) {
		t, err := parseTimeFunc(c, row, args)
		if err != nil {
			return "", fmt.Errorf("error in parseTimeFunc: %w", err)
		}
		return format(t), nil
	}
}

// SourceColumns are the block columns the plans read, these feed the part's minmax index
func SourceColumns(plans []PartitionPlan, columns block.NamesAndTypes) (block.NamesAndTypes, error) {
	var out block.NamesAndTypes
	for _, plan := range plans {
		if len(plan.Args) == 0 {
			return nil, fmt.Errorf("%w for %s", ErrMissingArgs, plan.Func)
		}
		if _, ok := Functions[plan.Func]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrFuncNotFound, plan.Func)
		}
		if plan.Args[0] == "now()" || out.Contains(plan.Args[0]) {
			continue
		}
		nt, ok := columns.Get(plan.Args[0])
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumns, plan.Args[0])
		}
		out = append(out, nt)
	}
	return out, nil
}

// GetRowPartition computes the partition value of one row of b
func GetRowPartition(b block.Block, row int, plans []PartitionPlan) (part.PartitionValue, error) {
	var pv part.PartitionValue
	for _, plan := range plans {
		f, ok := Functions[plan.Func]
		if !ok {
			return pv, fmt.Errorf("%w: %s", ErrFuncNotFound, plan.Func)
		}
		if len(plan.Args) == 0 {
			return pv, ErrMissingArgs
		}
		var c block.Column
		if plan.Args[0] != "now()" {
			c, ok = b.ByName(plan.Args[0])
			if !ok {
				return pv, fmt.Errorf("%w: %s", ErrMissingColumns, plan.Args[0])
			}
		}
		s, err := f(c, row, plan.Args)
		if err != nil {
			return pv, fmt.Errorf("error processing partition function %s: %w", plan.Func, err)
		}
		pv.Names = append(pv.Names, plan.As)
		pv.Values = append(pv.Values, s)
	}
	return pv, nil
}

// SplitBlock groups the rows of b by partition, ordered by partition ID.
// Without plans the whole block is one unnamed partition.
func SplitBlock(b block.Block, plans []PartitionPlan) ([]Split, error) {
	if len(plans) == 0 {
		return []Split{{Block: b}}, nil
	}
	values := make(map[string]part.PartitionValue)
	rows := make(map[string]block.Permutation)
	for row := 0; row < b.Rows(); row++ {
		pv, err := GetRowPartition(b, row, plans)
		if err != nil {
			return nil, err
		}
		id := pv.ID()
		if _, exists := values[id]; !exists {
			values[id] = pv
		}
		rows[id] = append(rows[id], row)
	}
	ids := make([]string, 0, len(values))
	for id := range values {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	splits := make([]Split, 0, len(ids))
	for _, id := range ids {
		splits = append(splits, Split{Value: values[id], Block: b.Permute(rows[id])})
	}
	return splits, nil
}

func parseTimeFunc(c block.Column, row int, args []string) (t time.Time, err error) {
	if len(args) == 0 {
		err = ErrMissingArgs
		return
	}
	if args[0] == "now()" {
		return time.Now().UTC(), nil
	}
	if c.Name == "" {
		err = ErrMissingColumns
		return
	}

	switch v := c.ValueAt(row).(type) {
	case uint32:
		t = time.Unix(int64(v), 0)
	case int64:
		// integers are unix milliseconds
		t = time.UnixMilli(v)
	case uint64:
		t = time.UnixMilli(int64(v))
	case float64:
		t = time.UnixMilli(int64(v))
	case string:
		// We have a datetime like YYYY-MM-DDTHH:mm:ss.sssZ
		t, err = time.Parse("2006-01-02T15:04:05.000Z", v)
		if err != nil {
			t, err = time.Parse(time.RFC3339Nano, v)
		}
		if err != nil {
			err = fmt.Errorf("error in time.Parse for string: %w", err)
			return
		}
	default:
		err = ErrInvalidColumnType
		return
	}
	return t.UTC(), nil
}
