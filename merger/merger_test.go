package merger

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/danthegoodman1/icetree/block"
	"github.com/danthegoodman1/icetree/compression"
	"github.com/danthegoodman1/icetree/datastore"
	"github.com/danthegoodman1/icetree/part"
	"github.com/danthegoodman1/icetree/part_reader"
	"github.com/danthegoodman1/icetree/part_writer"
	"github.com/danthegoodman1/icetree/ttl"
	"github.com/rs/zerolog"
)

var schema = block.NamesAndTypes{
	{Name: "ts", Type: block.DateTime},
	{Name: "name", Type: block.String},
	{Name: "expires", Type: block.DateTime},
	{Name: "sparse", Type: block.Int64},
}

func testSettings() part_writer.Settings {
	s := part_writer.DefaultSettings()
	s.IndexGranularity = 8
	return s
}

func rowsBlock(ts []uint32, expires []uint32) block.Block {
	names := make([]string, len(ts))
	sparse := make([]int64, len(ts))
	for i, v := range ts {
		names[i] = []string{"a", "b", "c", "d"}[v%4]
		if v%25 == 0 {
			sparse[i] = int64(v)
		}
	}
	return block.Block{Columns: []block.Column{
		{Name: "ts", Type: block.DateTime, Data: ts},
		{Name: "name", Type: block.String, Data: names},
		{Name: "expires", Type: block.DateTime, Data: expires},
		{Name: "sparse", Type: block.Int64, Data: sparse},
	}}
}

func insertPart(t *testing.T, ctx context.Context, ds datastore.DataStore, blockNum int64, b block.Block) *part_reader.Reader {
	t.Helper()
	info := part.PartInfo{PartitionID: "all", MinBlock: blockNum, MaxBlock: blockNum}
	p := part.NewPart("events", info, schema, ds.PartStorage("events", info.TmpName()))
	perm, err := block.SortPermutation(b, []string{"ts"})
	if err != nil {
		t.Fatal(err)
	}
	s, err := part_writer.NewOutputStream(ctx, p, part_writer.OutputStreamOptions{
		Codec:      compression.Snappy(),
		Settings:   testSettings(),
		SortingKey: []string{"ts"},
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.WriteWithPermutation(ctx, b, perm); err != nil {
		t.Fatal(err)
	}
	if err := s.FinalizePart(ctx, p, false, part_writer.FinalizeOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := part_writer.CommitPart(ctx, ds, p); err != nil {
		t.Fatal(err)
	}
	r, err := part_reader.Open(ctx, "events", ds.PartStorage("events", info.Name()), part_reader.Options{SortingKey: []string{"ts"}})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func sequence(from, n int, step int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = uint32(from + i*step)
	}
	return out
}

func mergeOptions(mode Mode) Options {
	return Options{
		Mode:              mode,
		SortingKey:        []string{"ts"},
		Codec:             compression.LZ4(),
		Settings:          testSettings(),
		Statistics:        []part_writer.ColumnStatistics{{Column: "sparse", Kinds: []part_writer.StatisticsKind{part_writer.StatisticsMinMax}}},
		SkipIndices:       []part_writer.SkipIndex{{Name: "name_range", Column: "name", Type: part_writer.SkipIndexMinMax}},
		RecordSourceParts: true,
		BlockSize:         5,
		Now:               time.Unix(1_000, 0),
		Logger:            zerolog.Nop(),
	}
}

func TestMergeModesAgree(t *testing.T) {
	ctx := context.Background()
	var results []block.Block
	for _, mode := range []Mode{Horizontal, Vertical} {
		ds, err := datastore.NewDiskDataStore(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		// interleaved timestamps so the merge has to sort
		a := insertPart(t, ctx, ds, 1, rowsBlock(sequence(0, 30, 2), sequence(5_000, 30, 0)))
		b := insertPart(t, ctx, ds, 2, rowsBlock(sequence(1, 29, 2), sequence(5_000, 29, 0)))

		res, err := MergeParts(ctx, ds, "events", []*part_reader.Reader{a, b}, mergeOptions(mode))
		if err != nil {
			t.Fatal(mode, err)
		}
		p := res.Part
		if p.Info.Name() != "all_1_2_1" || p.Storage.PartName() != "all_1_2_1" {
			t.Fatal("bad merged part name", p.Info.Name(), p.Storage.PartName())
		}
		if p.RowsCount != 59 || res.ExpiredRows != 0 {
			t.Fatal(mode, "bad rows", p.RowsCount, res.ExpiredRows)
		}
		if !reflect.DeepEqual(p.SourcePartsSet.Names(), []string{"all_1_1_0", "all_2_2_0"}) {
			t.Fatal("bad source parts", p.SourcePartsSet.Names())
		}

		r, err := part_reader.Open(ctx, "events", ds.PartStorage("events", "all_1_2_1"), part_reader.Options{SortingKey: []string{"ts"}})
		if err != nil {
			t.Fatal(mode, err)
		}
		if err := r.VerifyChecksums(ctx); err != nil {
			t.Fatal(mode, err)
		}
		if r.Part.SerializationInfos.Kind("sparse") != part.SerializationSparse {
			t.Fatal(mode, "sparse column lost its serialization")
		}
		for _, name := range []string{part.StatisticsFileName("sparse"), part.SkipIndexFileName("name_range"), part.SourcePartsSetFileName, part.PrimaryIndexFileName} {
			if _, ok := r.Part.Checksums.Get(name); !ok {
				t.Fatal(mode, "missing", name)
			}
		}
		got, err := r.ReadBlock(ctx)
		if err != nil {
			t.Fatal(mode, err)
		}
		ts := got.Columns[0].Data.([]uint32)
		if !sort.SliceIsSorted(ts, func(i, j int) bool { return ts[i] < ts[j] }) {
			t.Fatal(mode, "merged rows are not sorted")
		}
		if !reflect.DeepEqual(ts, sequence(0, 59, 1)) {
			t.Fatal(mode, "bad merged keys", ts)
		}
		results = append(results, got)
	}
	if !reflect.DeepEqual(results[0], results[1]) {
		t.Fatal("horizontal and vertical merges differ")
	}
}

func TestMergeDropsExpiredRows(t *testing.T) {
	ctx := context.Background()
	for _, mode := range []Mode{Horizontal, Vertical} {
		ds, err := datastore.NewDiskDataStore(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		// the first 10 rows of each part expire before now
		expiresA := append(sequence(100, 10, 0), sequence(2_000, 10, 10)...)
		expiresB := append(sequence(200, 10, 0), sequence(3_000, 10, 10)...)
		a := insertPart(t, ctx, ds, 1, rowsBlock(sequence(0, 20, 1), expiresA))
		b := insertPart(t, ctx, ds, 2, rowsBlock(sequence(20, 20, 1), expiresB))

		opts := mergeOptions(mode)
		opts.TTL = []ttl.Description{{Kind: ttl.RowsTTL, ResultColumn: "expires"}}
		res, err := MergeParts(ctx, ds, "events", []*part_reader.Reader{a, b}, opts)
		if err != nil {
			t.Fatal(mode, err)
		}
		if res.ExpiredRows != 20 || res.Part.RowsCount != 20 {
			t.Fatal(mode, "bad expiry", res.ExpiredRows, res.Part.RowsCount)
		}
		if res.Part.TTLInfos.Table != (part.TTLInfo{Min: 2_000, Max: 3_090}) {
			t.Fatal(mode, "bad table TTL", res.Part.TTLInfos.Table)
		}

		storage := ds.PartStorage("events", "all_1_2_1")
		count, err := storage.ReadFile(ctx, part.CountFileName)
		if err != nil {
			t.Fatal(mode, err)
		}
		if string(count) != "20" {
			t.Fatal(mode, "bad count.txt", string(count))
		}
		r, err := part_reader.Open(ctx, "events", storage, part_reader.Options{})
		if err != nil {
			t.Fatal(mode, err)
		}
		if err := r.VerifyChecksums(ctx); err != nil {
			t.Fatal(mode, err)
		}
		if r.Part.TTLInfos.Table != res.Part.TTLInfos.Table {
			t.Fatal(mode, "ttl.txt does not match", r.Part.TTLInfos.Table)
		}
		got, err := r.ReadColumns(ctx, []string{"ts"})
		if err != nil {
			t.Fatal(mode, err)
		}
		want := append(sequence(10, 10, 1), sequence(30, 10, 1)...)
		if !reflect.DeepEqual(got.Columns[0].Data, want) {
			t.Fatal(mode, "bad surviving rows", got.Columns[0].Data)
		}
	}
}

func TestMergeRejectsBadSources(t *testing.T) {
	ctx := context.Background()
	ds, err := datastore.NewDiskDataStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	a := insertPart(t, ctx, ds, 1, rowsBlock(sequence(0, 5, 1), sequence(5_000, 5, 0)))
	if _, err := MergeParts(ctx, ds, "events", nil, mergeOptions(Horizontal)); !errors.Is(err, ErrNoSources) {
		t.Fatal("expected ErrNoSources, got", err)
	}
	if _, err := MergeParts(ctx, ds, "events", []*part_reader.Reader{a, a}, mergeOptions(Horizontal)); !errors.Is(err, ErrOverlappingSources) {
		t.Fatal("expected ErrOverlappingSources, got", err)
	}
}

func TestMergeCancelled(t *testing.T) {
	ds, err := datastore.NewDiskDataStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	a := insertPart(t, context.Background(), ds, 1, rowsBlock(sequence(0, 5, 1), sequence(5_000, 5, 0)))
	b := insertPart(t, context.Background(), ds, 2, rowsBlock(sequence(5, 5, 1), sequence(5_000, 5, 0)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := MergeParts(ctx, ds, "events", []*part_reader.Reader{a, b}, mergeOptions(Vertical)); !errors.Is(err, context.Canceled) {
		t.Fatal("expected context.Canceled, got", err)
	}
	parts, err := ds.ListParts(context.Background(), "events")
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range parts {
		if name == "all_1_2_1" {
			t.Fatal("cancelled merge committed a part")
		}
	}
}

func TestMergePrunesDefaultColumns(t *testing.T) {
	ctx := context.Background()
	for _, mode := range []Mode{Horizontal, Vertical} {
		ds, err := datastore.NewDiskDataStore(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		// no timestamp is a multiple of 25, so sparse only holds zeros
		a := insertPart(t, ctx, ds, 1, rowsBlock(sequence(1, 12, 1), sequence(5_000, 12, 0)))
		b := insertPart(t, ctx, ds, 2, rowsBlock(sequence(13, 12, 1), sequence(5_000, 12, 0)))

		opts := mergeOptions(mode)
		opts.Settings.PruneDefaultColumns = true
		res, err := MergeParts(ctx, ds, "events", []*part_reader.Reader{a, b}, opts)
		if err != nil {
			t.Fatal(mode, err)
		}
		if res.Part.RowsCount != 24 {
			t.Fatal(mode, "bad rows", res.Part.RowsCount)
		}
		if !reflect.DeepEqual(res.Part.Columns.Names(), []string{"ts", "name", "expires"}) {
			t.Fatal(mode, "sparse column was not pruned", res.Part.Columns.Names())
		}

		r, err := part_reader.Open(ctx, "events", ds.PartStorage("events", "all_1_2_1"), part_reader.Options{SortingKey: []string{"ts"}})
		if err != nil {
			t.Fatal(mode, err)
		}
		if err := r.VerifyChecksums(ctx); err != nil {
			t.Fatal(mode, err)
		}
		if r.Part.Columns.Contains("sparse") {
			t.Fatal(mode, "columns.txt still lists sparse")
		}
		for _, name := range part.ColumnFiles("sparse") {
			if _, ok := r.Part.Checksums.Get(name); ok {
				t.Fatal(mode, "pruned column file still listed", name)
			}
		}
		// name is gathered in vertical mode and must keep its counts
		if info, ok := res.Part.SerializationInfos.Get("name"); !ok || info.NumRows != 24 {
			t.Fatal(mode, "bad name counts", info, ok)
		}
		got, err := r.ReadColumns(ctx, []string{"ts"})
		if err != nil {
			t.Fatal(mode, err)
		}
		if !reflect.DeepEqual(got.Columns[0].Data, sequence(1, 24, 1)) {
			t.Fatal(mode, "bad merged keys", got.Columns[0].Data)
		}
	}
}
