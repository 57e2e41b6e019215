package part_writer

import (
	"bytes"
	"context"
	"sort"
	"testing"

	"github.com/danthegoodman1/icetree/block"
	"github.com/danthegoodman1/icetree/compression"
	"github.com/danthegoodman1/icetree/datastore"
	"github.com/danthegoodman1/icetree/gologger"
	"github.com/danthegoodman1/icetree/part"
)

var testColumns = block.NamesAndTypes{
	{Name: "ts", Type: block.DateTime},
	{Name: "user", Type: block.String},
	{Name: "clicks", Type: block.Int64},
}

func newTestPart(t *testing.T) (*datastore.DiskDataStore, *part.Part) {
	t.Helper()
	ds, err := datastore.NewDiskDataStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	info := part.PartInfo{PartitionID: "all", MinBlock: 1, MaxBlock: 1}
	p := part.NewPart("events", info, testColumns, ds.PartStorage("events", info.TmpName()))
	if err := p.Storage.CreateDirectories(context.Background()); err != nil {
		t.Fatal(err)
	}
	return ds, p
}

func testOptions(t *testing.T) OutputStreamOptions {
	t.Helper()
	codec, err := compression.ParseCodec("ZSTD(1)")
	if err != nil {
		t.Fatal(err)
	}
	settings := DefaultSettings()
	settings.IndexGranularity = 16
	return OutputStreamOptions{
		Codec:      codec,
		Settings:   settings,
		SortingKey: []string{"ts"},
		Logger:     gologger.PartLogger(gologger.NewLogger(), "events", "test"),
	}
}

func testBlock(rows, offset int) block.Block {
	ts := make([]uint32, rows)
	users := make([]string, rows)
	clicks := make([]int64, rows)
	for i := 0; i < rows; i++ {
		ts[i] = uint32(1700000000 + offset + i)
		users[i] = []string{"ann", "bob", "cy"}[(offset+i)%3]
		clicks[i] = int64(offset + i)
	}
	return block.Block{Columns: []block.Column{
		{Name: "ts", Type: block.DateTime, Data: ts},
		{Name: "user", Type: block.String, Data: users},
		{Name: "clicks", Type: block.Int64, Data: clicks},
	}}
}

// checkPartFiles asserts that the committed files of the part are exactly the
// ones listed in checksums.txt, each with the recorded size and hash.
// Projection directories are left to a check of their own storage.
func checkPartFiles(t *testing.T, ctx context.Context, storage datastore.PartStorage) *part.Checksums {
	t.Helper()
	raw, err := storage.ReadFile(ctx, part.ChecksumsFileName)
	if err != nil {
		t.Fatal(err)
	}
	checksums, err := part.ReadChecksums(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	var expected []string
	for _, name := range checksums.Names() {
		if part.IsProjectionDir(name) {
			continue
		}
		expected = append(expected, name)
		content, err := storage.ReadFile(ctx, name)
		if err != nil {
			t.Fatal("file in checksums is missing:", name, err)
		}
		got := part.HashBytes(content)
		want := checksums.Files[name]
		if got.FileSize != want.FileSize || got.FileHash != want.FileHash {
			t.Fatalf("checksum mismatch for %s: got %+v want %+v", name, got, want)
		}
	}
	files, err := storage.ListFiles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(files)
	expected = append(expected, part.ChecksumsFileName)
	sort.Strings(expected)
	if len(files) != len(expected) {
		t.Fatalf("part holds %v, checksums list %v", files, expected)
	}
	for i := range files {
		if files[i] != expected[i] {
			t.Fatalf("part holds %v, checksums list %v", files, expected)
		}
	}
	return checksums
}

func listFiles(t *testing.T, ctx context.Context, storage datastore.PartStorage) []string {
	t.Helper()
	files, err := storage.ListFiles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return files
}

// countingWriter records how it was driven by an output stream
type countingWriter struct {
	writes      int
	rows        []int
	filled      bool
	finished    bool
	cancels     int
	granularity *part.AdaptiveGranularity
}

func newCountingWriter() *countingWriter {
	return &countingWriter{granularity: part.NewAdaptiveGranularity()}
}

func (w *countingWriter) Write(_ context.Context, b block.Block, _ block.Permutation) error {
	w.writes++
	w.rows = append(w.rows, b.Rows())
	return w.granularity.AppendMark(b.Rows())
}

func (w *countingWriter) FillChecksums(_ context.Context, _ *part.Checksums, _ map[string]struct{}) error {
	w.filled = true
	return nil
}

func (w *countingWriter) Finish(bool) error {
	w.finished = true
	return nil
}

func (w *countingWriter) Cancel() { w.cancels++ }

func (w *countingWriter) IndexGranularity() part.IndexGranularity { return w.granularity }

func (w *countingWriter) ColumnsSubstreams() part.ColumnsSubstreams { return part.ColumnsSubstreams{} }

func (w *countingWriter) ReleaseIndexColumns() []block.Column { return nil }
