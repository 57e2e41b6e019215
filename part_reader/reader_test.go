package part_reader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/danthegoodman1/icetree/block"
	"github.com/danthegoodman1/icetree/compression"
	"github.com/danthegoodman1/icetree/datastore"
	"github.com/danthegoodman1/icetree/part"
	"github.com/danthegoodman1/icetree/part_writer"
	"github.com/rs/zerolog"
)

var schema = block.NamesAndTypes{
	{Name: "day", Type: block.String},
	{Name: "ts", Type: block.DateTime},
	{Name: "score", Type: block.Float64},
	{Name: "flag", Type: block.Bool},
	{Name: "hits", Type: block.UInt64},
}

func sampleBlock(rows int) block.Block {
	days := make([]string, rows)
	ts := make([]uint32, rows)
	scores := make([]float64, rows)
	flags := make([]bool, rows)
	hits := make([]uint64, rows)
	for i := 0; i < rows; i++ {
		days[i] = "2024-01-02"
		ts[i] = uint32(1704153600 + i)
		scores[i] = float64(i) / 4
		flags[i] = i%7 == 0
		if i%20 == 5 {
			hits[i] = uint64(i) << 40
		}
	}
	return block.Block{Columns: []block.Column{
		{Name: "day", Type: block.String, Data: days},
		{Name: "ts", Type: block.DateTime, Data: ts},
		{Name: "score", Type: block.Float64, Data: scores},
		{Name: "flag", Type: block.Bool, Data: flags},
		{Name: "hits", Type: block.UInt64, Data: hits},
	}}
}

func writePart(t *testing.T, ctx context.Context, b block.Block) (*datastore.DiskDataStore, *part.Part) {
	t.Helper()
	ds, err := datastore.NewDiskDataStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	info := part.PartInfo{PartitionID: "2024-01-02", MinBlock: 3, MaxBlock: 3}
	p := part.NewPart("visits", info, schema, ds.PartStorage("visits", info.TmpName()))
	p.Partition = part.PartitionValue{Names: []string{"day"}, Values: []string{"2024-01-02"}}
	p.MinMax = part.NewMinMaxIndex(block.NamesAndTypes{schema[1]})
	if err := p.MinMax.Update(b); err != nil {
		t.Fatal(err)
	}
	p.SerializationInfos = part.NewSerializationInfos(schema)
	p.SerializationInfos.Add(b)
	p.SerializationInfos.ChooseKinds(0.9)
	p.TTLInfos.Table = part.TTLInfo{Min: 1704153600, Max: 1704153700}
	p.TTLInfos.UpdatePartMinMax(p.TTLInfos.Table)

	settings := part_writer.DefaultSettings()
	settings.IndexGranularity = 32
	s, err := part_writer.NewOutputStream(ctx, p, part_writer.OutputStreamOptions{
		Codec:      compression.LZ4(),
		Settings:   settings,
		SortingKey: []string{"ts"},
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Write(ctx, b); err != nil {
		t.Fatal(err)
	}
	if err := s.FinalizePart(ctx, p, false, part_writer.FinalizeOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := part_writer.CommitPart(ctx, ds, p); err != nil {
		t.Fatal(err)
	}
	return ds, p
}

func TestOpenAndReadBack(t *testing.T) {
	ctx := context.Background()
	b := sampleBlock(100)
	ds, written := writePart(t, ctx, b)
	if written.SerializationInfos.Kind("hits") != part.SerializationSparse {
		t.Fatal("hits should be sparse")
	}

	r, err := Open(ctx, "visits", ds.PartStorage("visits", "2024-01-02_3_3_0"), Options{
		PartitionKey:  []string{"day"},
		SortingKey:    []string{"ts"},
		MinMaxColumns: []string{"ts"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.VerifyChecksums(ctx); err != nil {
		t.Fatal(err)
	}
	p := r.Part
	if p.RowsCount != 100 || p.UUID != written.UUID || p.Info.MinBlock != 3 {
		t.Fatal("bad part metadata", p)
	}
	if p.DefaultCodec.Description() != "CODEC(LZ4)" {
		t.Fatal("bad codec", p.DefaultCodec.Description())
	}
	if !p.Partition.Equal(written.Partition) || p.Partition.ID() != "2024-01-02" {
		t.Fatal("bad partition", p.Partition)
	}
	if !p.MinMax.Initialized || p.MinMax.Min[0] != uint32(1704153600) || p.MinMax.Max[0] != uint32(1704153699) {
		t.Fatal("bad minmax", p.MinMax)
	}
	if p.TTLInfos.Table != written.TTLInfos.Table || p.TTLInfos.PartMax != 1704153700 {
		t.Fatal("bad ttl infos", p.TTLInfos)
	}
	if !reflect.DeepEqual(p.IndexGranularity.Expand(), []int{32, 32, 32, 4}) {
		t.Fatal("bad granularity", p.IndexGranularity.Expand())
	}
	if len(p.PrimaryIndex) != 1 || p.PrimaryIndex[0].ValueAt(3) != uint32(1704153600+96) {
		t.Fatal("bad primary index", p.PrimaryIndex)
	}
	if p.BytesOnDisk != written.BytesOnDisk {
		t.Fatal("bytes on disk differ", p.BytesOnDisk, written.BytesOnDisk)
	}

	got, err := r.ReadBlock(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, b) {
		t.Fatal("read back block differs from written block")
	}

	partial, err := r.ReadColumns(ctx, []string{"hits", "day"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(partial.Names(), []string{"hits", "day"}) || partial.Rows() != 100 {
		t.Fatal("bad partial read", partial.Names(), partial.Rows())
	}
	if _, err := r.ReadColumns(ctx, []string{"nope"}); !errors.Is(err, block.ErrColumnNotFound) {
		t.Fatal("expected ErrColumnNotFound, got", err)
	}
}

func TestVerifyDetectsDamage(t *testing.T) {
	ctx := context.Background()
	ds, _ := writePart(t, ctx, sampleBlock(50))
	storage := ds.PartStorage("visits", "2024-01-02_3_3_0")
	r, err := Open(ctx, "visits", storage, Options{})
	if err != nil {
		t.Fatal(err)
	}

	// overwrite a column file and add a stray one
	for name, content := range map[string]string{
		part.DataFileName("score"): "garbage",
		"stray.txt":                "hello",
	} {
		wb, err := storage.WriteFile(ctx, name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := wb.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
		if err := wb.Finalize(); err != nil {
			t.Fatal(err)
		}
	}
	if err := storage.CommitTransaction(ctx); err != nil {
		t.Fatal(err)
	}

	err = r.VerifyChecksums(ctx)
	if !errors.Is(err, ErrChecksumMismatch) || !errors.Is(err, ErrUnexpectedFile) {
		t.Fatal("expected a mismatch and an unexpected file, got", err)
	}
}

func TestOpenMissingPart(t *testing.T) {
	ctx := context.Background()
	ds, err := datastore.NewDiskDataStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Open(ctx, "visits", ds.PartStorage("visits", "all_1_1_0"), Options{}); !errors.Is(err, datastore.ErrFileNotFound) {
		t.Fatal("expected ErrFileNotFound, got", err)
	}
}

func TestVerifyProjection(t *testing.T) {
	ctx := context.Background()
	ds, err := datastore.NewDiskDataStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	b := sampleBlock(40)
	info := part.PartInfo{PartitionID: "all", MinBlock: 1, MaxBlock: 1}
	p := part.NewPart("visits", info, schema, ds.PartStorage("visits", info.TmpName()))
	projColumns := block.NamesAndTypes{schema[2], schema[4]}
	proj := p.NewProjection("by_score", projColumns, ds.PartStorage("visits", part_writer.ProjectionStorageName(info.TmpName(), "by_score")))

	opts := part_writer.OutputStreamOptions{
		Codec:      compression.LZ4(),
		Settings:   part_writer.DefaultSettings(),
		SortingKey: []string{"score"},
		Logger:     zerolog.Nop(),
	}
	for _, target := range []struct {
		p *part.Part
		b block.Block
	}{
		{proj, block.Block{Columns: []block.Column{b.Columns[2], b.Columns[4]}}},
		{p, b},
	} {
		s, err := part_writer.NewOutputStream(ctx, target.p, opts)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Write(ctx, target.b); err != nil {
			t.Fatal(err)
		}
		if err := s.FinalizePart(ctx, target.p, false, part_writer.FinalizeOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	if err := part_writer.CommitPart(ctx, ds, p); err != nil {
		t.Fatal(err)
	}

	r, err := Open(ctx, "visits", ds.PartStorage("visits", "all_1_1_0"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.VerifyChecksums(ctx); err != nil {
		t.Fatal(err)
	}

	projStorage := ds.PartStorage("visits", part_writer.ProjectionStorageName("all_1_1_0", "by_score"))
	wb, err := projStorage.WriteFile(ctx, part.DataFileName("hits"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wb.Write([]byte("garbage")); err != nil {
		t.Fatal(err)
	}
	if err := wb.Finalize(); err != nil {
		t.Fatal(err)
	}
	if err := projStorage.CommitTransaction(ctx); err != nil {
		t.Fatal(err)
	}
	err = r.VerifyChecksums(ctx)
	if !errors.Is(err, ErrChecksumMismatch) || !strings.Contains(err.Error(), "by_score.proj/hits.bin") {
		t.Fatal("expected a mismatch inside the projection, got", err)
	}

	if err := os.Remove(filepath.Join(ds.DiskPartStorage("visits", "all_1_1_0").FullPath(), "by_score.proj", part.ChecksumsFileName)); err != nil {
		t.Fatal(err)
	}
	if err := r.VerifyChecksums(ctx); !errors.Is(err, ErrMissingFile) {
		t.Fatal("expected the projection checksums to be missing, got", err)
	}
}
