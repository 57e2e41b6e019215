package part_writer

import (
	"context"
	"fmt"

	"github.com/danthegoodman1/icetree/block"
	"github.com/danthegoodman1/icetree/part"
)

// ColumnOnlyOutputStream writes some columns of a part that another stream
// finalizes. Its checksums and substreams are handed to that stream's
// FinalizePartAsync.
type ColumnOnlyOutputStream struct {
	writer    DataPartWriter
	rowsCount uint64
	// serializationInfos counts defaults when the part prunes empty columns
	serializationInfos *part.SerializationInfos
}

// NewColumnOnlyOutputStream writes columns into the storage of the in-construction part p.
// granules must match the layout of the stream that writes the rest of the part.
func NewColumnOnlyOutputStream(ctx context.Context, p *part.Part, columns block.NamesAndTypes, granules []int, opts OutputStreamOptions) (*ColumnOnlyOutputStream, error) {
	if err := p.Storage.CreateDirectories(ctx); err != nil {
		return nil, fmt.Errorf("error in CreateDirectories: %w", err)
	}
	writer, err := NewWideWriter(ctx, p.Storage, columns, WriterOptions{
		Codec:          opts.Codec,
		Settings:       opts.Settings,
		SkipIndices:    opts.SkipIndices,
		Statistics:     opts.Statistics,
		Serializations: p.SerializationInfos,
		Granules:       granules,
		Logger:         opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("error in NewWideWriter: %w", err)
	}
	s := &ColumnOnlyOutputStream{writer: writer}
	if opts.ResetColumns {
		s.serializationInfos = part.NewSerializationInfos(columns)
	}
	return s, nil
}

func (s *ColumnOnlyOutputStream) Write(ctx context.Context, b block.Block) error {
	if err := b.CheckNumberOfRows(); err != nil {
		return fmt.Errorf("%w: %w", ErrLogical, err)
	}
	if b.Rows() == 0 {
		return nil
	}
	if err := s.writer.Write(ctx, b, nil); err != nil {
		return err
	}
	if s.serializationInfos != nil {
		s.serializationInfos.Add(b)
	}
	s.rowsCount += uint64(b.Rows())
	return nil
}

// FillChecksums flushes the columns and returns the checksums and substreams of their files
func (s *ColumnOnlyOutputStream) FillChecksums(ctx context.Context) (*part.Checksums, part.ColumnsSubstreams, error) {
	checksums := part.NewChecksums()
	toRemove := map[string]struct{}{}
	if err := s.writer.FillChecksums(ctx, checksums, toRemove); err != nil {
		return nil, part.ColumnsSubstreams{}, err
	}
	for name := range toRemove {
		checksums.Remove(name)
	}
	return checksums, s.writer.ColumnsSubstreams(), nil
}

// SerializationInfos are the default counts of the written columns, nil
// unless the stream was created with ResetColumns
func (s *ColumnOnlyOutputStream) SerializationInfos() *part.SerializationInfos {
	return s.serializationInfos
}

// Finish stages the column files in the part's storage transaction
func (s *ColumnOnlyOutputStream) Finish(sync bool) error {
	return s.writer.Finish(sync)
}

func (s *ColumnOnlyOutputStream) Cancel() {
	s.writer.Cancel()
}

func (s *ColumnOnlyOutputStream) RowsCount() uint64 {
	return s.rowsCount
}
