package part_reader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/danthegoodman1/icetree/block"
	"github.com/danthegoodman1/icetree/compression"
	"github.com/danthegoodman1/icetree/datastore"
	"github.com/danthegoodman1/icetree/part"
	"github.com/google/uuid"
)

var (
	ErrBadCountFile  = errors.New("malformed count.txt")
	ErrMarksMismatch = errors.New("marks do not match the part")
)

type (
	Options struct {
		// PartitionKey names the values of partition.dat
		PartitionKey []string
		// MinMaxColumns are the columns of the minmax index, PartitionKey when nil
		MinMaxColumns []string
		// SortingKey names the columns stored in primary.idx
		SortingKey []string
	}

	// Reader gives access to a committed part
	Reader struct {
		Part    *part.Part
		storage datastore.PartStorage
		marks   map[string][]part.Mark
	}
)

// Open loads the metadata of a committed part and the marks of every column
func Open(ctx context.Context, table string, storage datastore.PartStorage, opts Options) (*Reader, error) {
	info, err := part.ParsePartName(storage.PartName())
	if err != nil {
		return nil, err
	}
	raw, err := storage.ReadFile(ctx, part.ColumnsFileName)
	if err != nil {
		return nil, fmt.Errorf("error reading columns: %w", err)
	}
	columns, err := part.ReadColumns(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("error in ReadColumns: %w", err)
	}
	p := part.NewPart(table, info, columns, storage)

	if raw, err = storage.ReadFile(ctx, part.CountFileName); err != nil {
		return nil, fmt.Errorf("error reading count: %w", err)
	}
	if p.RowsCount, err = strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadCountFile, err)
	}

	if raw, err = storage.ReadFile(ctx, part.ChecksumsFileName); err != nil {
		return nil, fmt.Errorf("error reading checksums: %w", err)
	}
	if p.Checksums, err = part.ReadChecksums(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("error in ReadChecksums: %w", err)
	}
	p.SetBytesFromChecksums()
	p.CalculateColumnSizes()

	if raw, err = storage.ReadFile(ctx, part.DefaultCompressionCodecFileName); err != nil {
		return nil, fmt.Errorf("error reading default codec: %w", err)
	}
	if p.DefaultCodec, err = compression.ParseCodec(strings.TrimSpace(string(raw))); err != nil {
		return nil, err
	}

	if err := loadOptional(ctx, storage, p); err != nil {
		return nil, err
	}
	minmax := opts.MinMaxColumns
	if minmax == nil {
		minmax = opts.PartitionKey
	}
	if err := loadPartitionKey(ctx, storage, p, opts.PartitionKey, minmax); err != nil {
		return nil, err
	}

	r := &Reader{Part: p, storage: storage, marks: map[string][]part.Mark{}}
	if err := r.loadMarks(ctx); err != nil {
		return nil, err
	}
	if len(opts.SortingKey) > 0 {
		if err := r.loadPrimaryIndex(ctx, opts.SortingKey); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// readOptional returns nil content for a file the part does not have
func readOptional(ctx context.Context, storage datastore.PartStorage, name string) ([]byte, error) {
	raw, err := storage.ReadFile(ctx, name)
	if errors.Is(err, datastore.ErrFileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", name, err)
	}
	return raw, nil
}

func loadOptional(ctx context.Context, storage datastore.PartStorage, p *part.Part) error {
	raw, err := readOptional(ctx, storage, part.UUIDFileName)
	if err != nil {
		return err
	}
	p.UUID = uuid.Nil
	if raw != nil {
		if p.UUID, err = uuid.ParseBytes(bytes.TrimSpace(raw)); err != nil {
			return fmt.Errorf("error in uuid.ParseBytes: %w", err)
		}
	}

	if raw, err = readOptional(ctx, storage, part.SerializationFileName); err != nil {
		return err
	}
	if raw != nil {
		if p.SerializationInfos, err = part.ReadSerializationInfos(bytes.NewReader(raw)); err != nil {
			return err
		}
	}

	if raw, err = readOptional(ctx, storage, part.ColumnsSubstreamsFileName); err != nil {
		return err
	}
	if raw != nil {
		if p.Substreams, err = part.ReadColumnsSubstreams(bytes.NewReader(raw)); err != nil {
			return err
		}
	}

	if raw, err = readOptional(ctx, storage, part.TTLFileName); err != nil {
		return err
	}
	if raw != nil {
		if p.TTLInfos, err = part.ReadTTLInfos(bytes.NewReader(raw)); err != nil {
			return err
		}
	}

	if raw, err = readOptional(ctx, storage, part.MetadataVersionFileName); err != nil {
		return err
	}
	if raw != nil {
		if p.MetadataVersion, err = strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64); err != nil {
			return fmt.Errorf("error parsing metadata version: %w", err)
		}
	}

	if raw, err = readOptional(ctx, storage, part.SourcePartsSetFileName); err != nil {
		return err
	}
	if raw != nil {
		if p.SourcePartsSet, err = part.ReadSourcePartsSet(raw); err != nil {
			return err
		}
	}
	return nil
}

func loadPartitionKey(ctx context.Context, storage datastore.PartStorage, p *part.Part, key, minmaxColumns []string) error {
	if len(key) == 0 {
		return nil
	}
	keyColumns := make(block.NamesAndTypes, 0, len(minmaxColumns))
	for _, name := range minmaxColumns {
		nt, ok := p.Columns.Get(name)
		if !ok {
			return fmt.Errorf("%w: partition key %s", block.ErrColumnNotFound, name)
		}
		keyColumns = append(keyColumns, nt)
	}
	minmax, err := part.LoadMinMaxIndex(ctx, storage, keyColumns)
	if err != nil {
		return fmt.Errorf("error in LoadMinMaxIndex: %w", err)
	}
	p.MinMax = minmax

	raw, err := readOptional(ctx, storage, part.PartitionFileName)
	if err != nil {
		return err
	}
	if raw != nil {
		if p.Partition, err = part.DecodePartitionValue(raw, key); err != nil {
			return err
		}
	}
	return nil
}

// loadMarks reads the marks of every column, they must all describe the same granules
func (r *Reader) loadMarks(ctx context.Context) error {
	var granules []int
	for i, c := range r.Part.Columns {
		raw, err := r.storage.ReadFile(ctx, part.MarksFileName(c.Name))
		if err != nil {
			return fmt.Errorf("error reading marks of %s: %w", c.Name, err)
		}
		marks, err := part.DecodeMarks(raw)
		if err != nil {
			return err
		}
		r.marks[c.Name] = marks
		if i == 0 {
			for _, m := range marks {
				granules = append(granules, int(m.Rows))
			}
			continue
		}
		if len(marks) != len(granules) {
			return fmt.Errorf("%w: column %s has %d marks, expected %d", ErrMarksMismatch, c.Name, len(marks), len(granules))
		}
		for g, m := range marks {
			if int(m.Rows) != granules[g] {
				return fmt.Errorf("%w: granule %d of %s has %d rows, expected %d", ErrMarksMismatch, g, c.Name, m.Rows, granules[g])
			}
		}
	}

	granularity := part.NewAdaptiveGranularity()
	total := uint64(0)
	for _, rows := range granules {
		if err := granularity.AppendMark(rows); err != nil {
			return err
		}
		total += uint64(rows)
	}
	if len(r.Part.Columns) > 0 && total != r.Part.RowsCount {
		return fmt.Errorf("%w: marks cover %d rows, count.txt says %d", ErrMarksMismatch, total, r.Part.RowsCount)
	}
	granularity.Finalize()
	r.Part.IndexGranularity = granularity
	if optimized, err := granularity.Optimize(); err == nil && optimized != nil {
		r.Part.IndexGranularity = optimized
	}
	return nil
}

func (r *Reader) loadPrimaryIndex(ctx context.Context, key []string) error {
	raw, err := r.storage.ReadFile(ctx, part.PrimaryIndexFileName)
	if err != nil {
		return fmt.Errorf("error reading primary index: %w", err)
	}
	index := make([]block.Column, 0, len(key))
	for _, name := range key {
		nt, ok := r.Part.Columns.Get(name)
		if !ok {
			return fmt.Errorf("%w: sorting key %s", block.ErrColumnNotFound, name)
		}
		index = append(index, block.NewColumn(nt.Name, nt.Type))
	}
	// values are interleaved per granule
	for g := 0; g < r.Part.IndexGranularity.MarksCount(); g++ {
		for i := range index {
			if raw, err = index[i].DecodeInto(raw, 1); err != nil {
				return fmt.Errorf("error decoding primary index: %w", err)
			}
		}
	}
	r.Part.PrimaryIndex = index
	return nil
}

// Marks returns the marks of a column
func (r *Reader) Marks(column string) []part.Mark {
	return r.marks[column]
}

// ReadBlock decodes every column of the part
func (r *Reader) ReadBlock(ctx context.Context) (block.Block, error) {
	return r.ReadColumns(ctx, r.Part.Columns.Names())
}

// ReadColumns decodes the named columns, in the order given
func (r *Reader) ReadColumns(ctx context.Context, names []string) (block.Block, error) {
	b := block.Block{Columns: make([]block.Column, 0, len(names))}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return block.Block{}, err
		}
		c, err := r.readColumn(ctx, name)
		if err != nil {
			return block.Block{}, fmt.Errorf("error reading column %s: %w", name, err)
		}
		b.Columns = append(b.Columns, c)
	}
	return b, nil
}

func (r *Reader) readColumn(ctx context.Context, name string) (block.Column, error) {
	nt, ok := r.Part.Columns.Get(name)
	if !ok {
		return block.Column{}, fmt.Errorf("%w: %s", block.ErrColumnNotFound, name)
	}
	data, err := r.storage.ReadFile(ctx, part.DataFileName(name))
	if err != nil {
		return block.Column{}, err
	}
	sparse := r.Part.SerializationInfos.Kind(name) == part.SerializationSparse
	var offsets []byte
	if sparse {
		if offsets, err = r.storage.ReadFile(ctx, part.SparseOffsetsFileName(name)); err != nil {
			return block.Column{}, err
		}
	}

	out := block.NewColumn(nt.Name, nt.Type)
	for g, m := range r.marks[name] {
		if m.DataOffset > uint64(len(data)) {
			return block.Column{}, fmt.Errorf("%w: granule %d starts past the end of %s", ErrMarksMismatch, g, part.DataFileName(name))
		}
		raw, _, err := compression.DecodeBlock(data[m.DataOffset:])
		if err != nil {
			return block.Column{}, fmt.Errorf("error decoding granule %d: %w", g, err)
		}
		granule := block.NewColumn(nt.Name, nt.Type)
		if !sparse {
			if _, err := granule.DecodeInto(raw, int(m.Rows)); err != nil {
				return block.Column{}, err
			}
		} else {
			if granule, err = decodeSparseGranule(nt, raw, offsets, m); err != nil {
				return block.Column{}, fmt.Errorf("error decoding sparse granule %d: %w", g, err)
			}
		}
		if err := out.AppendColumn(granule); err != nil {
			return block.Column{}, err
		}
	}
	return out, nil
}

// decodeSparseGranule expands the non default values of a granule using the
// row numbers stored in the offsets file
func decodeSparseGranule(nt block.NameAndType, values, offsetsFile []byte, m part.Mark) (block.Column, error) {
	if m.SubOffset > uint64(len(offsetsFile)) {
		return block.Column{}, fmt.Errorf("%w: offsets block starts past the end of file", ErrMarksMismatch)
	}
	raw, _, err := compression.DecodeBlock(offsetsFile[m.SubOffset:])
	if err != nil {
		return block.Column{}, err
	}
	var positions []int
	for len(raw) > 0 {
		pos, n, err := readUvarint(raw)
		if err != nil {
			return block.Column{}, err
		}
		positions = append(positions, int(pos))
		raw = raw[n:]
	}
	present := block.NewColumn(nt.Name, nt.Type)
	if _, err := present.DecodeInto(values, len(positions)); err != nil {
		return block.Column{}, err
	}
	return present.Scatter(int(m.Rows), positions)
}
