package part_writer

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/danthegoodman1/icetree/block"
	"github.com/danthegoodman1/icetree/compression"
	"github.com/danthegoodman1/icetree/datastore"
	"github.com/danthegoodman1/icetree/part"
	"github.com/rs/zerolog"
)

type (
	// DataPartWriter serializes the columns of one part
	DataPartWriter interface {
		Write(ctx context.Context, b block.Block, perm block.Permutation) error
		// FillChecksums flushes every column and adds the checksum of each file the
		// writer produced. Names in toRemove must be dropped from the part checksums.
		FillChecksums(ctx context.Context, checksums *part.Checksums, toRemove map[string]struct{}) error
		Finish(sync bool) error
		Cancel()
		IndexGranularity() part.IndexGranularity
		ColumnsSubstreams() part.ColumnsSubstreams
		// ReleaseIndexColumns hands the primary index over to the caller
		ReleaseIndexColumns() []block.Column
	}

	WriterOptions struct {
		Codec    compression.Codec
		Settings Settings
		// SortingKey columns form the primary index, no primary.idx is written when empty
		SortingKey  []string
		SkipIndices []SkipIndex
		Statistics  []ColumnStatistics
		// Serializations picks dense or sparse layout per column, nil means all dense
		Serializations *part.SerializationInfos
		// Granules fixes the row count of every granule, so columns written by
		// separate writers line up
		Granules          []int
		BlocksAreGranules bool
		Logger            zerolog.Logger
	}

	// WideWriter stores every column in its own data and marks files
	WideWriter struct {
		storage datastore.PartStorage
		columns block.NamesAndTypes
		opts    WriterOptions
		codec   compression.Codec
		logger  zerolog.Logger

		streams     []*columnStream
		skipIndices []*skipIndexBuilder
		stats       []*statisticsCollector

		pending     block.Block
		granularity *part.AdaptiveGranularity
		primary     []block.Column
		primaryKey  block.NamesAndTypes

		// aux holds primary.idx, skip index and statistics files once filled
		aux       []datastore.WriteBuffer
		filled    bool
		cancelled bool
	}

	columnStream struct {
		column  block.NameAndType
		kind    part.SerializationKind
		data    *hashedStream
		offsets *hashedStream
		marks   *hashedStream
	}

	// hashedStream is one file of a column. Compressed streams also hash the raw bytes.
	hashedStream struct {
		name       string
		wb         datastore.WriteBuffer
		hw         *part.HashingWriter
		compressed bool
		rawHash    *xxhash.Digest
		rawSize    uint64
	}
)

func openStream(ctx context.Context, storage datastore.PartStorage, name string, compressed bool) (*hashedStream, error) {
	wb, err := storage.WriteFile(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("error in WriteFile for %s: %w", name, err)
	}
	return &hashedStream{
		name:       name,
		wb:         wb,
		hw:         part.NewHashingWriter(wb),
		compressed: compressed,
		rawHash:    xxhash.New(),
	}, nil
}

func (hs *hashedStream) offset() uint64 {
	return hs.hw.Count()
}

func (hs *hashedStream) writeBlock(codec compression.Codec, raw []byte) error {
	_, _ = hs.rawHash.Write(raw)
	hs.rawSize += uint64(len(raw))
	framed, err := compression.AppendBlock(nil, codec, raw)
	if err != nil {
		return fmt.Errorf("error compressing block of %s: %w", hs.name, err)
	}
	if _, err := hs.hw.Write(framed); err != nil {
		return fmt.Errorf("error writing %s: %w", hs.name, err)
	}
	return nil
}

func (hs *hashedStream) writePlain(raw []byte) error {
	if _, err := hs.hw.Write(raw); err != nil {
		return fmt.Errorf("error writing %s: %w", hs.name, err)
	}
	return nil
}

func (hs *hashedStream) checksum() part.Checksum {
	sum := hs.hw.Checksum()
	if hs.compressed {
		sum.IsCompressed = true
		sum.UncompressedSize = hs.rawSize
		sum.UncompressedHash = hs.rawHash.Sum64()
	}
	return sum
}

func NewWideWriter(ctx context.Context, storage datastore.PartStorage, columns block.NamesAndTypes, opts WriterOptions) (*WideWriter, error) {
	codec := opts.Codec
	if codec == nil {
		codec = compression.None()
	}
	if opts.Settings.IndexGranularity <= 0 {
		opts.Settings.IndexGranularity = DefaultSettings().IndexGranularity
	}
	w := &WideWriter{
		storage:     storage,
		columns:     columns,
		opts:        opts,
		codec:       codec,
		logger:      opts.Logger,
		granularity: part.NewAdaptiveGranularity(),
	}

	for _, key := range opts.SortingKey {
		nt, ok := columns.Get(key)
		if !ok {
			return nil, fmt.Errorf("%w: sorting key %s", block.ErrColumnNotFound, key)
		}
		w.primaryKey = append(w.primaryKey, nt)
		w.primary = append(w.primary, block.NewColumn(nt.Name, nt.Type))
	}
	for _, idx := range opts.SkipIndices {
		sb, err := newSkipIndexBuilder(idx, columns)
		if err != nil {
			return nil, err
		}
		w.skipIndices = append(w.skipIndices, sb)
	}
	for _, st := range opts.Statistics {
		nt, ok := columns.Get(st.Column)
		if !ok {
			return nil, fmt.Errorf("%w: statistics on %s", block.ErrColumnNotFound, st.Column)
		}
		sc, err := newStatisticsCollector(nt, st.Kinds)
		if err != nil {
			return nil, err
		}
		w.stats = append(w.stats, sc)
	}

	for _, c := range columns {
		cs, err := w.openColumn(ctx, c)
		if err != nil {
			w.Cancel()
			return nil, err
		}
		w.streams = append(w.streams, cs)
	}
	return w, nil
}

func (w *WideWriter) openColumn(ctx context.Context, c block.NameAndType) (*columnStream, error) {
	cs := &columnStream{column: c, kind: w.opts.Serializations.Kind(c.Name)}
	var err error
	if cs.data, err = openStream(ctx, w.storage, part.DataFileName(c.Name), true); err != nil {
		return nil, err
	}
	if cs.kind == part.SerializationSparse {
		if cs.offsets, err = openStream(ctx, w.storage, part.SparseOffsetsFileName(c.Name), true); err != nil {
			cs.cancel()
			return nil, err
		}
	}
	if cs.marks, err = openStream(ctx, w.storage, part.MarksFileName(c.Name), false); err != nil {
		cs.cancel()
		return nil, err
	}
	return cs, nil
}

func (cs *columnStream) files() []*hashedStream {
	var files []*hashedStream
	for _, hs := range []*hashedStream{cs.data, cs.offsets, cs.marks} {
		if hs != nil {
			files = append(files, hs)
		}
	}
	return files
}

func (cs *columnStream) cancel() {
	for _, hs := range cs.files() {
		hs.wb.Cancel()
	}
}

// writeGranule writes one compressed block per granule. For sparse columns the
// mark's SubOffset locates the granule's block in the offsets file.
func (cs *columnStream) writeGranule(codec compression.Codec, c block.Column) error {
	rows := c.Len()
	mark := part.Mark{DataOffset: cs.data.offset(), Rows: uint64(rows)}
	var values []byte
	if cs.kind == part.SerializationSparse {
		var offsets []byte
		for i := 0; i < rows; i++ {
			if c.IsDefaultAt(i) {
				continue
			}
			offsets = binary.AppendUvarint(offsets, uint64(i))
			values = c.AppendEncoded(values, i, i+1)
		}
		mark.SubOffset = cs.offsets.offset()
		if err := cs.offsets.writeBlock(codec, offsets); err != nil {
			return err
		}
	} else {
		values = c.AppendEncoded(nil, 0, rows)
	}
	if err := cs.data.writeBlock(codec, values); err != nil {
		return err
	}
	return cs.marks.writePlain(mark.Append(nil))
}

// Write serializes b in the order given by perm, a nil perm keeps the order of
// b. Only one granule of rows is ever permuted at a time.
func (w *WideWriter) Write(ctx context.Context, b block.Block, perm block.Permutation) error {
	if w.cancelled {
		return ErrWriterCancelled
	}
	if w.filled {
		return fmt.Errorf("%w: write after checksums were filled", ErrLogical)
	}
	if perm != nil {
		if err := perm.Check(b.Rows()); err != nil {
			return fmt.Errorf("%w: %w", ErrLogical, err)
		}
	}
	b, err := b.Project(w.columns.Names())
	if err != nil {
		return err
	}
	rows := func(from, to int) block.Block {
		if perm == nil {
			return b.Slice(from, to)
		}
		return b.Permute(perm[from:to])
	}
	if w.opts.BlocksAreGranules {
		return w.writeGranule(rows(0, b.Rows()))
	}

	total := b.Rows()
	pos := 0
	for {
		size := w.nextGranuleSize()
		pending := w.pending.Rows()
		if size <= 0 || pending+total-pos < size {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		g := rows(pos, pos+size-pending)
		pos += size - pending
		if pending > 0 {
			if g, err = block.Concat(w.columns, w.pending, g); err != nil {
				return err
			}
			w.pending = block.Block{}
		}
		if err := w.writeGranule(g); err != nil {
			return err
		}
	}
	rest := rows(pos, total)
	if w.pending.Rows() > 0 {
		if rest, err = block.Concat(w.columns, w.pending, rest); err != nil {
			return err
		}
	}
	w.pending = rest
	return nil
}

func (w *WideWriter) nextGranuleSize() int {
	if w.opts.Granules == nil {
		return w.opts.Settings.IndexGranularity
	}
	i := w.granularity.MarksCount()
	if i >= len(w.opts.Granules) {
		return 0
	}
	return w.opts.Granules[i]
}

func (w *WideWriter) writeGranule(g block.Block) error {
	rows := g.Rows()
	if rows == 0 {
		return nil
	}
	for i, cs := range w.streams {
		if err := cs.writeGranule(w.codec, g.Columns[i]); err != nil {
			return err
		}
	}
	for i, nt := range w.primaryKey {
		c, _ := g.ByName(nt.Name)
		if err := w.primary[i].AppendColumn(c.Slice(0, 1)); err != nil {
			return err
		}
	}
	for _, sb := range w.skipIndices {
		if err := sb.addGranule(g); err != nil {
			return err
		}
	}
	for _, sc := range w.stats {
		c, _ := g.ByName(sc.column.Name)
		sc.update(c)
	}
	return w.granularity.AppendMark(rows)
}

func (w *WideWriter) FillChecksums(ctx context.Context, checksums *part.Checksums, _ map[string]struct{}) error {
	if w.cancelled {
		return ErrWriterCancelled
	}
	if w.filled {
		return fmt.Errorf("%w: checksums filled twice", ErrLogical)
	}
	if w.pending.Rows() > 0 {
		if w.opts.Granules != nil && w.nextGranuleSize() != w.pending.Rows() {
			return fmt.Errorf("%w: %d trailing rows do not match the expected granule of %d rows", ErrLogical, w.pending.Rows(), w.nextGranuleSize())
		}
		if err := w.writeGranule(w.pending); err != nil {
			return err
		}
		w.pending = block.Block{}
	}
	w.filled = true

	for _, cs := range w.streams {
		for _, hs := range cs.files() {
			if err := hs.wb.PreFinalize(); err != nil {
				return fmt.Errorf("error in PreFinalize for %s: %w", hs.name, err)
			}
			checksums.Add(hs.name, hs.checksum())
		}
	}

	if len(w.primaryKey) > 0 {
		var content []byte
		for g := 0; g < w.granularity.MarksCount(); g++ {
			for _, c := range w.primary {
				content = c.AppendEncoded(content, g, g+1)
			}
		}
		if err := w.writeAux(ctx, part.PrimaryIndexFileName, content, checksums); err != nil {
			return err
		}
	}
	for _, sb := range w.skipIndices {
		if err := w.writeAux(ctx, part.SkipIndexFileName(sb.index.Name), sb.content, checksums); err != nil {
			return err
		}
	}
	for _, sc := range w.stats {
		content, err := sc.encode()
		if err != nil {
			return err
		}
		if err := w.writeAux(ctx, part.StatisticsFileName(sc.column.Name), content, checksums); err != nil {
			return err
		}
	}
	w.logger.Trace().Int("marks", w.granularity.MarksCount()).Int("files", checksums.Len()).Msg("filled column checksums")
	return nil
}

func (w *WideWriter) writeAux(ctx context.Context, name string, content []byte, checksums *part.Checksums) error {
	wb, err := part.WriteHashedFile(ctx, w.storage, name, checksums, func(out io.Writer) error {
		_, err := out.Write(content)
		return err
	})
	if err != nil {
		return err
	}
	w.aux = append(w.aux, wb)
	return nil
}

// Finish makes every file of the writer part of the storage transaction
func (w *WideWriter) Finish(sync bool) error {
	if w.cancelled {
		return ErrWriterCancelled
	}
	if !w.filled {
		return fmt.Errorf("%w: finish before checksums were filled", ErrLogical)
	}
	for _, wb := range w.buffers() {
		if err := wb.Finalize(); err != nil {
			return fmt.Errorf("error finalizing %s: %w", wb.Name(), err)
		}
		if sync {
			if err := wb.Sync(); err != nil {
				return fmt.Errorf("error syncing %s: %w", wb.Name(), err)
			}
		}
	}
	return nil
}

func (w *WideWriter) buffers() []datastore.WriteBuffer {
	var out []datastore.WriteBuffer
	for _, cs := range w.streams {
		for _, hs := range cs.files() {
			out = append(out, hs.wb)
		}
	}
	return append(out, w.aux...)
}

func (w *WideWriter) Cancel() {
	if w.cancelled {
		return
	}
	w.cancelled = true
	for _, wb := range w.buffers() {
		wb.Cancel()
	}
}

func (w *WideWriter) IndexGranularity() part.IndexGranularity {
	return w.granularity
}

func (w *WideWriter) ColumnsSubstreams() part.ColumnsSubstreams {
	var cs part.ColumnsSubstreams
	for _, s := range w.streams {
		streams := []string{s.column.Name}
		if s.kind == part.SerializationSparse {
			streams = append(streams, s.column.Name+".sparse.idx")
		}
		cs.Add(s.column.Name, streams)
	}
	return cs
}

func (w *WideWriter) ReleaseIndexColumns() []block.Column {
	idx := w.primary
	w.primary = nil
	return idx
}

// sortedNames is used for deterministic iteration over name sets
func sortedNames(set map[string]struct{}) []string {
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
