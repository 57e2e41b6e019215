package partitioner

import (
	"errors"
	"testing"
	"time"

	"github.com/danthegoodman1/icetree/block"
)

func TestToDay(t *testing.T) {
	f := Functions["toDay"]

	day, err := f(block.Column{}, 0, []string{"now()"})
	if err != nil {
		t.Fatal(err)
	}
	if day != time.Now().UTC().Format("2006-01-02") {
		t.Fatal("mismatched date for now()")
	}

	str := block.Column{Name: "t", Type: block.String, Data: []string{"2022-01-24T00:00:00.000Z"}}
	day, err = f(str, 0, []string{"t"})
	if err != nil {
		t.Fatal(err)
	}
	if day != "2022-01-24" {
		t.Fatal("mismatched date for t string", day)
	}

	millis := block.Column{Name: "t", Type: block.Float64, Data: []float64{1672406408279.0}}
	day, err = f(millis, 0, []string{"t"})
	if err != nil {
		t.Fatal(err)
	}
	if day != "2022-12-30" {
		t.Fatal("mismatched date for t float", day)
	}

	seconds := block.Column{Name: "t", Type: block.DateTime, Data: []uint32{1672406408}}
	day, err = f(seconds, 0, []string{"t"})
	if err != nil {
		t.Fatal(err)
	}
	if day != "2022-12-30" {
		t.Fatal("mismatched date for t DateTime", day)
	}

	flags := block.Column{Name: "t", Type: block.Bool, Data: []bool{true}}
	if _, err = f(flags, 0, []string{"t"}); !errors.Is(err, ErrInvalidColumnType) {
		t.Fatal("did not get invalid col type", err)
	}
}

func TestOtherFunctions(t *testing.T) {
	c := block.Column{Name: "t", Type: block.DateTime, Data: []uint32{1672406408}}
	expected := map[string]string{
		"toYear":    "2022",
		"toMonth":   "2022-12",
		"toYYYYMM":  "202212",
		"toYearDay": "364",
		"toWeekDay": "5",
		"identity":  "1672406408",
	}
	for name, want := range expected {
		got, err := Functions[name](c, 0, []string{"t"})
		if err != nil {
			t.Fatal(name, err)
		}
		if got != want {
			t.Fatalf("%s: got %s want %s", name, got, want)
		}
	}
}

func TestSplitBlock(t *testing.T) {
	b := block.Block{Columns: []block.Column{
		{Name: "ts", Type: block.DateTime, Data: []uint32{1704153600, 1704067200, 1704153601, 1704067201, 1704240000}},
		{Name: "user", Type: block.String, Data: []string{"a", "b", "c", "d", "e"}},
	}}
	plans := []PartitionPlan{{Func: "toDay", Args: []string{"ts"}, As: "day"}}

	splits, err := SplitBlock(b, plans)
	if err != nil {
		t.Fatal(err)
	}
	if len(splits) != 3 {
		t.Fatal("expected 3 partitions, got", len(splits))
	}
	wantIDs := []string{"2024-01-01", "2024-01-02", "2024-01-03"}
	wantUsers := [][]string{{"b", "d"}, {"a", "c"}, {"e"}}
	for i, s := range splits {
		if s.Value.ID() != wantIDs[i] {
			t.Fatalf("split %d: got id %s", i, s.Value.ID())
		}
		if s.Value.Names[0] != "day" {
			t.Fatal("bad partition name", s.Value.Names)
		}
		users, _ := s.Block.ByName("user")
		got := users.Data.([]string)
		if len(got) != len(wantUsers[i]) {
			t.Fatalf("split %d: got users %v", i, got)
		}
		for j := range got {
			if got[j] != wantUsers[i][j] {
				t.Fatalf("split %d: got users %v", i, got)
			}
		}
	}

	cols, err := SourceColumns(plans, b.NamesAndTypes())
	if err != nil {
		t.Fatal(err)
	}
	if len(cols) != 1 || cols[0].Name != "ts" {
		t.Fatal("bad source columns", cols)
	}

	unpartitioned, err := SplitBlock(b, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(unpartitioned) != 1 || unpartitioned[0].Value.ID() != "all" || unpartitioned[0].Block.Rows() != 5 {
		t.Fatal("expected a single unpartitioned split")
	}

	_, err = SplitBlock(b, []PartitionPlan{{Func: "toCentury", Args: []string{"ts"}, As: "c"}})
	if !errors.Is(err, ErrFuncNotFound) {
		t.Fatal("expected ErrFuncNotFound, got", err)
	}
	_, err = SplitBlock(b, []PartitionPlan{{Func: "toDay", Args: []string{"missing"}, As: "d"}})
	if !errors.Is(err, ErrMissingColumns) {
		t.Fatal("expected ErrMissingColumns, got", err)
	}
}
