package metastore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/danthegoodman1/icetree/block"
	"github.com/danthegoodman1/icetree/part_writer"
	"github.com/danthegoodman1/icetree/partitioner"
	"github.com/danthegoodman1/icetree/ttl"
)

func testSchema() TableSchema {
	return TableSchema{
		Name: "events",
		Columns: []ColumnSchema{
			{Name: "ts", Type: "DateTime"},
			{Name: "user", Type: "String"},
			{Name: "clicks", Type: "Int64"},
			{Name: "expires", Type: "DateTime"},
		},
		PartitionBy: []partitioner.PartitionPlan{{Func: "toDay", Args: []string{"ts"}, As: "day"}},
		SortingKey:  []string{"ts"},
		TTL:         []ttl.Description{{Kind: ttl.RowsTTL, ResultColumn: "expires"}},
		SkipIndices: []part_writer.SkipIndex{{Name: "clicks_range", Column: "clicks", Type: part_writer.SkipIndexMinMax}},
		Codec:       "LZ4",
	}
}

func TestSchemaCheck(t *testing.T) {
	ts := testSchema()
	if err := ts.Check(); err != nil {
		t.Fatal(err)
	}
	columns, err := ts.NamesAndTypes()
	if err != nil {
		t.Fatal(err)
	}
	if len(columns) != 4 || columns[0].Type != block.DateTime || columns[2].Type != block.Int64 {
		t.Fatal("bad columns", columns)
	}

	bad := testSchema()
	bad.Columns = append(bad.Columns, ColumnSchema{Name: "user", Type: "String"})
	if err := bad.Check(); !errors.Is(err, ErrBadSchema) {
		t.Fatal("expected ErrBadSchema for a duplicate column, got", err)
	}

	bad = testSchema()
	bad.Columns[1].Type = "Varchar"
	if err := bad.Check(); !errors.Is(err, ErrBadSchema) {
		t.Fatal("expected ErrBadSchema for an unknown type, got", err)
	}

	bad = testSchema()
	bad.SortingKey = []string{"nope"}
	if err := bad.Check(); !errors.Is(err, block.ErrColumnNotFound) {
		t.Fatal("expected ErrColumnNotFound for the sorting key, got", err)
	}

	bad = testSchema()
	bad.PartitionBy[0].Func = "toCentury"
	if err := bad.Check(); !errors.Is(err, partitioner.ErrFuncNotFound) {
		t.Fatal("expected ErrFuncNotFound, got", err)
	}

	bad = testSchema()
	bad.TTL = append(bad.TTL, ttl.Description{Kind: ttl.RowsTTL, ResultColumn: "ts"})
	if err := bad.Check(); !errors.Is(err, ttl.ErrBadRule) {
		t.Fatal("expected ErrBadRule for two rows TTLs, got", err)
	}

	bad = testSchema()
	bad.Codec = "BROTLI"
	if err := bad.Check(); err == nil {
		t.Fatal("expected a codec error")
	}
}

func TestPassFilterOption(t *testing.T) {
	if !PassFilterOption("2024-01-02", FilterOption{Operator: GTE, Val: "2024-01-02"}) {
		t.Fatal("GTE should pass on equal")
	}
	if PassFilterOption("2024-01-02", FilterOption{Operator: GT, Val: "2024-01-02"}) {
		t.Fatal("GT should fail on equal")
	}
	if !PassFilterOption("2024-01-01", FilterOption{Operator: LT, Val: "2024-01-02"}) {
		t.Fatal("LT should pass")
	}
	if !PassFilterOption("b", FilterOption{Operator: IN, Val: []string{"a", "b"}}) {
		t.Fatal("IN should pass")
	}
	if PassFilterOption("b", FilterOption{Operator: IN, Val: "b"}) {
		t.Fatal("IN needs a list")
	}
	if PassFilterOption("b", FilterOption{Operator: "like", Val: "b"}) {
		t.Fatal("unknown operators never pass")
	}

	pr := PartRecord{PartitionID: "2024-01-02"}
	if !passFilters(pr, nil) {
		t.Fatal("no filters should pass")
	}
	if passFilters(pr, []FilterOption{{Operator: GTE, Val: "2024-01-01"}, {Operator: LT, Val: "2024-01-02"}}) {
		t.Fatal("every filter must pass")
	}
}

func TestMemoryMetaStore(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryMetaStore()
	if err := ms.CreateTableSchema(ctx, testSchema()); err != nil {
		t.Fatal(err)
	}
	if err := ms.CreateTableSchema(ctx, testSchema()); !errors.Is(err, ErrTableExists) {
		t.Fatal("expected ErrTableExists, got", err)
	}
	ts, err := ms.GetTableSchema(ctx, "events")
	if err != nil {
		t.Fatal(err)
	}
	if ts.ID == "" || ts.CreatedAt.IsZero() {
		t.Fatal("table id and creation time are not set")
	}
	if _, err := ms.GetTableSchema(ctx, "nope"); !errors.Is(err, ErrTableNotFound) {
		t.Fatal("expected ErrTableNotFound, got", err)
	}

	for want := int64(1); want <= 3; want++ {
		n, err := ms.NextBlockNumber(ctx, "events")
		if err != nil {
			t.Fatal(err)
		}
		if n != want {
			t.Fatalf("block number %d, want %d", n, want)
		}
		rec := PartRecord{Name: fmt.Sprintf("2024-01-01_%d_%d_0", n, n), PartitionID: "2024-01-01", MinBlock: n, MaxBlock: n}
		if err := ms.CreatePart(ctx, "events", rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := ms.CreatePart(ctx, "events", PartRecord{Name: "2024-01-01_1_1_0"}); !errors.Is(err, ErrPartExists) {
		t.Fatal("expected ErrPartExists, got", err)
	}
	if _, err := ms.NextBlockNumber(ctx, "nope"); !errors.Is(err, ErrTableNotFound) {
		t.Fatal("expected ErrTableNotFound, got", err)
	}

	merged := PartRecord{Name: "2024-01-01_1_2_1", PartitionID: "2024-01-01", MinBlock: 1, MaxBlock: 2, Level: 1}
	if err := ms.ReplaceParts(ctx, "events", []string{"2024-01-01_1_1_0", "2024-01-01_9_9_0"}, merged); !errors.Is(err, ErrPartNotFound) {
		t.Fatal("expected ErrPartNotFound, got", err)
	}
	if err := ms.ReplaceParts(ctx, "events", []string{"2024-01-01_1_1_0", "2024-01-01_2_2_0"}, merged); err != nil {
		t.Fatal(err)
	}
	parts, err := ms.ListParts(ctx, "events")
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 2 || parts[0].Name != "2024-01-01_1_2_1" || parts[1].Name != "2024-01-01_3_3_0" {
		t.Fatal("unexpected parts after replace", parts)
	}
	if parts[0].Info().Name() != parts[0].Name {
		t.Fatal("record info does not round trip the name")
	}
	filtered, err := ms.ListParts(ctx, "events", FilterOption{Operator: GT, Val: "2024-01-01"})
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 0 {
		t.Fatal("filter should exclude every part", filtered)
	}
}
