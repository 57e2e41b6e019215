package part_writer

import (
	"context"
	"fmt"

	"github.com/danthegoodman1/icetree/block"
	"github.com/danthegoodman1/icetree/compression"
	"github.com/danthegoodman1/icetree/part"
	"github.com/rs/zerolog"
)

type (
	OutputStreamOptions struct {
		// Codec is the part's default compression codec. Finalizing without one is a logical error.
		Codec       compression.Codec
		Settings    Settings
		SortingKey  []string
		SkipIndices []SkipIndex
		Statistics  []ColumnStatistics
		// Columns written by this stream, the part's columns when nil
		Columns block.NamesAndTypes
		// ResetColumns enables dropping columns that only hold default values
		ResetColumns      bool
		BlocksAreGranules bool
		// Granules fixes the granule sizes, see GranulesFor
		Granules []int
		Logger   zerolog.Logger
	}

	// MergedBlockOutputStream writes ordered blocks into one in-construction part
	MergedBlockOutputStream struct {
		part     *part.Part
		columns  block.NamesAndTypes
		writer   DataPartWriter
		codec    compression.Codec
		settings Settings
		logger   zerolog.Logger

		resetColumns          bool
		newSerializationInfos *part.SerializationInfos
		rowsCount             uint64
		cancelled             bool
	}
)

// NewOutputStream creates the part directory and a wide writer for the part's columns
func NewOutputStream(ctx context.Context, p *part.Part, opts OutputStreamOptions) (*MergedBlockOutputStream, error) {
	if err := p.Storage.CreateDirectories(ctx); err != nil {
		return nil, fmt.Errorf("error in CreateDirectories: %w", err)
	}
	columns := opts.Columns
	if columns == nil {
		columns = p.Columns
	}
	writer, err := NewWideWriter(ctx, p.Storage, columns, WriterOptions{
		Codec:             opts.Codec,
		Settings:          opts.Settings,
		SortingKey:        opts.SortingKey,
		SkipIndices:       opts.SkipIndices,
		Statistics:        opts.Statistics,
		Serializations:    p.SerializationInfos,
		BlocksAreGranules: opts.BlocksAreGranules,
		Granules:          opts.Granules,
		Logger:            opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("error in NewWideWriter: %w", err)
	}
	return NewOutputStreamWithWriter(p, writer, opts), nil
}

// NewOutputStreamWithWriter drives an already constructed column writer
func NewOutputStreamWithWriter(p *part.Part, writer DataPartWriter, opts OutputStreamOptions) *MergedBlockOutputStream {
	s := &MergedBlockOutputStream{
		part:         p,
		columns:      p.Columns,
		writer:       writer,
		codec:        opts.Codec,
		settings:     opts.Settings,
		logger:       opts.Logger,
		resetColumns: opts.ResetColumns,
	}
	if s.resetColumns {
		s.newSerializationInfos = part.NewSerializationInfos(p.Columns)
	}
	return s
}

// Write appends a block whose rows are already in their final order
func (s *MergedBlockOutputStream) Write(ctx context.Context, b block.Block) error {
	return s.writeImpl(ctx, b, nil)
}

// WriteWithPermutation writes row perm[i] of b as the i-th row
func (s *MergedBlockOutputStream) WriteWithPermutation(ctx context.Context, b block.Block, perm block.Permutation) error {
	return s.writeImpl(ctx, b, perm)
}

func (s *MergedBlockOutputStream) writeImpl(ctx context.Context, b block.Block, perm block.Permutation) error {
	if err := b.CheckNumberOfRows(); err != nil {
		return fmt.Errorf("%w: %w", ErrLogical, err)
	}
	rows := b.Rows()
	if rows == 0 {
		return nil
	}
	if err := s.writer.Write(ctx, b, perm); err != nil {
		return err
	}
	if s.resetColumns {
		s.newSerializationInfos.Add(b)
	}
	s.rowsCount += uint64(rows)
	return nil
}

func (s *MergedBlockOutputStream) RowsCount() uint64 {
	return s.rowsCount
}

// Cancel aborts the column writer. Calling it again does nothing.
func (s *MergedBlockOutputStream) Cancel() {
	if s.cancelled {
		return
	}
	s.cancelled = true
	if s.writer != nil {
		s.writer.Cancel()
	}
}

// GranulesFor is the granule layout a writer produces for rows rows written
// in any number of blocks, which lets separately written columns line up
func GranulesFor(rows, granularity int) []int {
	if granularity <= 0 {
		granularity = DefaultSettings().IndexGranularity
	}
	granules := make([]int, 0, rows/granularity+1)
	for rows > 0 {
		n := granularity
		if rows < n {
			n = rows
		}
		granules = append(granules, n)
		rows -= n
	}
	return granules
}
