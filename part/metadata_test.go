package part

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/danthegoodman1/icetree/block"
	"github.com/danthegoodman1/icetree/datastore"
)

func TestColumnsText(t *testing.T) {
	cols := block.NamesAndTypes{
		{Name: "ts", Type: block.DateTime},
		{Name: "weird `name`", Type: block.String},
	}
	var buf bytes.Buffer
	if err := WriteColumns(&buf, cols); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "columns format version: 1\n2 columns:\n`ts` DateTime\n") {
		t.Fatal("unexpected columns.txt", buf.String())
	}
	read, err := ReadColumns(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(read) != 2 || read[1].Name != "weird `name`" || read[1].Type != block.String {
		t.Fatal("bad columns", read)
	}
}

func TestTTLInfosText(t *testing.T) {
	infos := NewTTLInfos()
	if !infos.Empty() {
		t.Fatal("new infos should be empty")
	}
	infos.Table.Update(100)
	infos.Table.Update(50)
	infos.Moves["to_cold"] = TTLInfo{Min: 10, Max: 20}
	infos.UpdatePartMinMax(infos.Table)

	var buf bytes.Buffer
	if err := infos.Write(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "ttl format version: 1\n") {
		t.Fatal("missing header", buf.String())
	}
	read, err := ReadTTLInfos(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if read.Table != (TTLInfo{Min: 50, Max: 100}) {
		t.Fatal("bad table ttl", read.Table)
	}
	if read.Moves["to_cold"] != (TTLInfo{Min: 10, Max: 20}) {
		t.Fatal("bad move ttl", read.Moves)
	}
	if read.PartMin != 50 || read.PartMax != 100 {
		t.Fatal("moves must not affect part bounds", read.PartMin, read.PartMax)
	}
}

func TestMergeSubstreams(t *testing.T) {
	var local, additional ColumnsSubstreams
	local.Add("a", []string{"a"})
	local.Add("pruned", []string{"pruned"})
	additional.Add("b", []string{"b", "b.sparse.idx"})

	merged, err := MergeSubstreams(local, additional, []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := merged.Get("pruned"); ok {
		t.Fatal("columns not in the part must be dropped")
	}
	if s, _ := merged.Get("b"); len(s) != 2 {
		t.Fatal("bad substreams for b", s)
	}

	var buf bytes.Buffer
	if err := merged.WriteText(&buf); err != nil {
		t.Fatal(err)
	}
	read, err := ReadColumnsSubstreams(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(read.Columns) != 2 || read.Columns[1].Substreams[1] != "b.sparse.idx" {
		t.Fatal("bad read substreams", read)
	}

	var conflicting ColumnsSubstreams
	conflicting.Add("a", []string{"a", "a.null"})
	if _, err := MergeSubstreams(local, conflicting, []string{"a"}); !errors.Is(err, ErrSubstreamsConflict) {
		t.Fatal("expected conflict, got", err)
	}
}

func TestSerializationKinds(t *testing.T) {
	infos := NewSerializationInfos(block.NamesAndTypes{{Name: "dense", Type: block.Int64}, {Name: "sparse", Type: block.Int64}})
	dense := make([]int64, 100)
	sparse := make([]int64, 100)
	for i := range dense {
		dense[i] = int64(i + 1)
	}
	sparse[3] = 1
	infos.Add(block.Block{Columns: []block.Column{
		{Name: "dense", Type: block.Int64, Data: dense},
		{Name: "sparse", Type: block.Int64, Data: sparse},
	}})
	infos.ChooseKinds(0.9375)
	if infos.Kind("dense") != SerializationDefault || infos.Kind("sparse") != SerializationSparse {
		t.Fatal("bad kinds", infos.Kind("dense"), infos.Kind("sparse"))
	}
	if !infos.NeedsFile() {
		t.Fatal("a sparse column needs serialization.json")
	}
	infos.ChooseKinds(1)
	if infos.NeedsFile() {
		t.Fatal("ratio 1 disables sparse serialization")
	}
}

func TestSourcePartsSet(t *testing.T) {
	var s SourcePartsSet
	s.Add("b_1_1_0", "a_1_1_0", "b_1_1_0")
	var buf bytes.Buffer
	if err := s.WriteBinary(&buf); err != nil {
		t.Fatal(err)
	}
	read, err := ReadSourcePartsSet(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	names := read.Names()
	if len(names) != 2 || names[0] != "a_1_1_0" {
		t.Fatal("bad names", names)
	}
}

func TestPartName(t *testing.T) {
	info := PartInfo{PartitionID: "202401", MinBlock: 3, MaxBlock: 7, Level: 1}
	if info.TmpName() != "tmp_202401_3_7_1" {
		t.Fatal("bad tmp name", info.TmpName())
	}
	parsed, err := ParsePartName(info.TmpName())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != info {
		t.Fatal("bad parsed info", parsed)
	}
	if _, err := ParsePartName("garbage"); !errors.Is(err, ErrBadPartName) {
		t.Fatal("expected ErrBadPartName, got", err)
	}
}

func TestMinMaxAndPartitionStore(t *testing.T) {
	ctx := context.Background()
	dds, err := datastore.NewDiskDataStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	storage := dds.PartStorage("events", "tmp_all_1_1_0")
	if err := storage.CreateDirectories(ctx); err != nil {
		t.Fatal(err)
	}

	idx := NewMinMaxIndex(block.NamesAndTypes{{Name: "ts", Type: block.DateTime}})
	if err := idx.Update(block.Block{Columns: []block.Column{{Name: "ts", Type: block.DateTime, Data: []uint32{30, 10, 20}}}}); err != nil {
		t.Fatal(err)
	}
	checksums := NewChecksums()
	buffers, err := idx.Store(ctx, storage, checksums)
	if err != nil {
		t.Fatal(err)
	}
	pv := PartitionValue{Names: []string{"toYYYYMM(ts)"}, Values: []string{"197001"}}
	wb, err := pv.Store(ctx, storage, checksums)
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range append(buffers, wb) {
		if err := b.Finalize(); err != nil {
			t.Fatal(err)
		}
	}
	if err := storage.CommitTransaction(ctx); err != nil {
		t.Fatal(err)
	}
	if checksums.Len() != 2 {
		t.Fatal("expected checksums for both files", checksums.Names())
	}

	loaded, err := LoadMinMaxIndex(ctx, storage, idx.Columns)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Min[0] != uint32(10) || loaded.Max[0] != uint32(30) {
		t.Fatal("bad loaded minmax", loaded.Min, loaded.Max)
	}
	raw, err := storage.ReadFile(ctx, PartitionFileName)
	if err != nil {
		t.Fatal(err)
	}
	if HashBytes(raw) != checksums.Files[PartitionFileName] {
		t.Fatal("partition.dat checksum does not match its content")
	}
	decoded, err := DecodePartitionValue(raw, pv.Names)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.ID() != "197001" {
		t.Fatal("bad partition id", decoded.ID())
	}
	if (PartitionValue{}).ID() != "all" {
		t.Fatal("unpartitioned id must be all")
	}
}
