package part_writer

import (
	"bytes"
	"context"
	"testing"

	"github.com/danthegoodman1/icetree/block"
	"github.com/danthegoodman1/icetree/part"
)

func withColumn(b block.Block, c block.Column) block.Block {
	b.Columns = append(b.Columns, c)
	return b
}

func TestPruneDefaultColumns(t *testing.T) {
	ctx := context.Background()
	ds, p := newTestPart(t)
	p.Columns = append(append(block.NamesAndTypes{}, testColumns...), block.NameAndType{Name: "note", Type: block.String})
	opts := testOptions(t)
	opts.ResetColumns = true

	s, err := NewOutputStream(ctx, p, opts)
	if err != nil {
		t.Fatal(err)
	}
	for i, rows := range []int{30, 10} {
		b := withColumn(testBlock(rows, i*100), block.Column{Name: "note", Type: block.String, Data: make([]string, rows)})
		if err := s.Write(ctx, b); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.FinalizePart(ctx, p, false, FinalizeOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := CommitPart(ctx, ds, p); err != nil {
		t.Fatal(err)
	}

	checksums := checkPartFiles(t, ctx, p.Storage)
	for _, name := range part.ColumnFiles("note") {
		if _, ok := checksums.Get(name); ok {
			t.Fatal("pruned column file still listed", name)
		}
	}
	if p.Columns.Contains("note") || len(p.Columns) != 3 {
		t.Fatal("pruned column still in part", p.Columns)
	}
	raw, err := p.Storage.ReadFile(ctx, part.ColumnsFileName)
	if err != nil {
		t.Fatal(err)
	}
	cols, err := part.ReadColumns(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	if cols.Contains("note") {
		t.Fatal("columns.txt still lists pruned column")
	}
	raw, err = p.Storage.ReadFile(ctx, part.ColumnsSubstreamsFileName)
	if err != nil {
		t.Fatal(err)
	}
	substreams, err := part.ReadColumnsSubstreams(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := substreams.Get("note"); ok {
		t.Fatal("substreams still list pruned column")
	}
	if _, ok := p.ColumnSizes["note"]; ok {
		t.Fatal("pruned column has a size")
	}
}

func TestSparseColumn(t *testing.T) {
	ctx := context.Background()
	ds, p := newTestPart(t)
	b := testBlock(64, 0)
	clicks := b.Columns[2].Data.([]int64)
	for i := range clicks {
		if i%10 != 3 {
			clicks[i] = 0
		}
	}
	p.SerializationInfos = part.NewSerializationInfos(p.Columns)
	p.SerializationInfos.Add(b)
	p.SerializationInfos.ChooseKinds(0.5)
	if p.SerializationInfos.Kind("clicks") != part.SerializationSparse || p.SerializationInfos.Kind("user") != part.SerializationDefault {
		t.Fatal("unexpected kinds")
	}

	s, err := NewOutputStream(ctx, p, testOptions(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Write(ctx, b); err != nil {
		t.Fatal(err)
	}
	if err := s.FinalizePart(ctx, p, false, FinalizeOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := CommitPart(ctx, ds, p); err != nil {
		t.Fatal(err)
	}
	checksums := checkPartFiles(t, ctx, p.Storage)
	for _, name := range []string{part.SerializationFileName, part.SparseOffsetsFileName("clicks")} {
		if _, ok := checksums.Get(name); !ok {
			t.Fatal("missing", name)
		}
	}
	if _, ok := checksums.Get(part.SparseOffsetsFileName("user")); ok {
		t.Fatal("dense column has sparse offsets")
	}
	streams, ok := p.Substreams.Get("clicks")
	if !ok || len(streams) != 2 || streams[1] != "clicks.sparse.idx" {
		t.Fatal("bad substreams for sparse column", streams)
	}

	raw, err := p.Storage.ReadFile(ctx, part.MarksFileName("clicks"))
	if err != nil {
		t.Fatal(err)
	}
	marks, err := part.DecodeMarks(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(marks) != 4 || marks[0].SubOffset != 0 || marks[1].SubOffset == 0 {
		t.Fatal("bad sparse marks", marks)
	}
}

func TestColumnOnlyStreamsLineUp(t *testing.T) {
	ctx := context.Background()
	ds, p := newTestPart(t)
	opts := testOptions(t)
	const rows = 40
	granules := GranulesFor(rows, opts.Settings.IndexGranularity)
	if len(granules) != 3 || granules[2] != 8 {
		t.Fatal("bad granules", granules)
	}
	full := testBlock(rows, 0)

	mainOpts := opts
	mainOpts.Columns = block.NamesAndTypes{testColumns[0]}
	mainOpts.Granules = granules
	s, err := NewOutputStream(ctx, p, mainOpts)
	if err != nil {
		t.Fatal(err)
	}
	keys, _ := full.Project([]string{"ts"})
	if err := s.Write(ctx, keys); err != nil {
		t.Fatal(err)
	}

	gathered := block.NamesAndTypes{testColumns[1], testColumns[2]}
	cs, err := NewColumnOnlyOutputStream(ctx, p, gathered, granules, opts)
	if err != nil {
		t.Fatal(err)
	}
	rest, _ := full.Project(gathered.Names())
	for _, r := range [][2]int{{0, 25}, {25, 40}} {
		if err := cs.Write(ctx, rest.Slice(r[0], r[1])); err != nil {
			t.Fatal(err)
		}
	}
	if cs.RowsCount() != rows {
		t.Fatal("bad column rows", cs.RowsCount())
	}
	additional, substreams, err := cs.FillChecksums(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := cs.Finish(false); err != nil {
		t.Fatal(err)
	}

	if err := s.FinalizePart(ctx, p, false, FinalizeOptions{
		AdditionalChecksums:  additional,
		AdditionalSubstreams: &substreams,
	}); err != nil {
		t.Fatal(err)
	}
	if err := CommitPart(ctx, ds, p); err != nil {
		t.Fatal(err)
	}
	checkPartFiles(t, ctx, p.Storage)
	for _, c := range testColumns {
		raw, err := p.Storage.ReadFile(ctx, part.MarksFileName(c.Name))
		if err != nil {
			t.Fatal(err)
		}
		marks, err := part.DecodeMarks(raw)
		if err != nil {
			t.Fatal(err)
		}
		if len(marks) != len(granules) {
			t.Fatal("column", c.Name, "has", len(marks), "marks")
		}
		for i, m := range marks {
			if int(m.Rows) != granules[i] {
				t.Fatal("column", c.Name, "granule", i, "has", m.Rows, "rows")
			}
		}
	}
	for _, c := range testColumns {
		if _, ok := p.Substreams.Get(c.Name); !ok {
			t.Fatal("substreams miss", c.Name)
		}
	}
}

func TestColumnOnlyTrailingRowsMismatch(t *testing.T) {
	ctx := context.Background()
	_, p := newTestPart(t)
	opts := testOptions(t)
	cs, err := NewColumnOnlyOutputStream(ctx, p, block.NamesAndTypes{testColumns[2]}, []int{16, 4}, opts)
	if err != nil {
		t.Fatal(err)
	}
	defer cs.Cancel()
	b, _ := testBlock(19, 0).Project([]string{"clicks"})
	if err := cs.Write(ctx, b); err != nil {
		t.Fatal(err)
	}
	if _, _, err := cs.FillChecksums(ctx); err == nil {
		t.Fatal("expected an error for misaligned granules")
	}
}

func TestProjectionChecksums(t *testing.T) {
	ctx := context.Background()
	ds, p := newTestPart(t)
	p.MinMax = part.NewMinMaxIndex(block.NamesAndTypes{{Name: "ts", Type: block.DateTime}})
	p.Partition = part.PartitionValue{Names: []string{"day"}, Values: []string{"2023-11-14"}}
	p.SourcePartsSet.Add("all_0_0_0")
	b := testBlock(40, 0)
	if err := p.MinMax.Update(b); err != nil {
		t.Fatal(err)
	}

	projColumns := block.NamesAndTypes{{Name: "user", Type: block.String}, {Name: "clicks", Type: block.Int64}}
	proj := p.NewProjection("by_user", projColumns, ds.PartStorage("events", ProjectionStorageName(p.Storage.PartName(), "by_user")))
	// part level metadata is skipped for projections even when set
	proj.MinMax = part.NewMinMaxIndex(block.NamesAndTypes{{Name: "clicks", Type: block.Int64}})
	proj.Partition = p.Partition
	proj.SourcePartsSet = p.SourcePartsSet

	projOpts := testOptions(t)
	projOpts.SortingKey = []string{"user"}
	ps, err := NewOutputStream(ctx, proj, projOpts)
	if err != nil {
		t.Fatal(err)
	}
	pb := block.Block{Columns: b.Columns[1:]}
	perm, err := block.SortPermutation(pb, projOpts.SortingKey)
	if err != nil {
		t.Fatal(err)
	}
	if err := ps.WriteWithPermutation(ctx, pb, perm); err != nil {
		t.Fatal(err)
	}
	if err := ps.FinalizePart(ctx, proj, false, FinalizeOptions{}); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{part.UUIDFileName, part.PartitionFileName, part.MinMaxFileName("clicks"), part.SourcePartsSetFileName} {
		if _, ok := proj.Checksums.Get(name); ok {
			t.Fatal("projection wrote part level file", name)
		}
	}
	if _, ok := proj.Checksums.Get(part.CountFileName); !ok {
		t.Fatal("projection is missing", part.CountFileName)
	}

	s, err := NewOutputStream(ctx, p, testOptions(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Write(ctx, b); err != nil {
		t.Fatal(err)
	}
	if err := s.FinalizePart(ctx, p, false, FinalizeOptions{}); err != nil {
		t.Fatal(err)
	}
	sum, ok := p.Checksums.Get(part.ProjectionFileName("by_user"))
	if !ok || sum.FileSize != proj.Checksums.TotalSizeOnDisk() || sum.FileHash != proj.Checksums.TotalChecksum() {
		t.Fatal("bad projection entry", sum, ok)
	}
	for _, name := range []string{part.UUIDFileName, part.PartitionFileName, part.MinMaxFileName("ts"), part.SourcePartsSetFileName} {
		if _, ok := p.Checksums.Get(name); !ok {
			t.Fatal("part is missing", name)
		}
	}

	if err := CommitPart(ctx, ds, p); err != nil {
		t.Fatal(err)
	}
	if proj.Storage.PartName() != "all_1_1_0/by_user.proj" {
		t.Fatal("projection storage was not moved", proj.Storage.PartName())
	}
	checkPartFiles(t, ctx, p.Storage)
	projChecksums := checkPartFiles(t, ctx, proj.Storage)
	if projChecksums.TotalChecksum() != sum.FileHash {
		t.Fatal("committed projection checksums differ from the part entry")
	}
}
