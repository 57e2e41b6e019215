package merger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danthegoodman1/icetree/block"
	"github.com/danthegoodman1/icetree/compression"
	"github.com/danthegoodman1/icetree/datastore"
	"github.com/danthegoodman1/icetree/gologger"
	"github.com/danthegoodman1/icetree/part"
	"github.com/danthegoodman1/icetree/part_reader"
	"github.com/danthegoodman1/icetree/part_writer"
	"github.com/danthegoodman1/icetree/ttl"
	"github.com/rs/zerolog"
)

const (
	// Horizontal writes every column through one stream
	Horizontal Mode = iota
	// Vertical writes the sorting key through the main stream and every other
	// column through its own column only stream
	Vertical
)

var (
	ErrNoSources          = errors.New("no parts to merge")
	ErrPartitionMismatch  = errors.New("merged parts belong to different partitions")
	ErrSchemaMismatch     = errors.New("merged parts have different columns")
	ErrOverlappingSources = errors.New("merged parts overlap")
)

type (
	Mode int

	Options struct {
		Mode        Mode
		SortingKey  []string
		TTL         []ttl.Description
		Codec       compression.Codec
		Settings    part_writer.Settings
		SkipIndices []part_writer.SkipIndex
		Statistics  []part_writer.ColumnStatistics
		// RecordSourceParts writes source_parts_set with the names of the merged parts
		RecordSourceParts bool
		// BlockSize is how many rows each write to a column only stream carries
		BlockSize int
		Now       time.Time
		Logger    zerolog.Logger
	}

	Result struct {
		Part        *part.Part
		ExpiredRows int
	}
)

func (m Mode) String() string {
	if m == Vertical {
		return "vertical"
	}
	return "horizontal"
}

// resultInfo covers the block range of every source, one level above the highest
func resultInfo(sources []*part_reader.Reader) (part.PartInfo, error) {
	info := sources[0].Part.Info
	for _, src := range sources[1:] {
		si := src.Part.Info
		if si.PartitionID != info.PartitionID {
			return part.PartInfo{}, fmt.Errorf("%w: %s and %s", ErrPartitionMismatch, info.PartitionID, si.PartitionID)
		}
		if si.MinBlock < info.MinBlock {
			info.MinBlock = si.MinBlock
		}
		if si.MaxBlock > info.MaxBlock {
			info.MaxBlock = si.MaxBlock
		}
		if si.Level > info.Level {
			info.Level = si.Level
		}
	}
	for i, a := range sources {
		for _, b := range sources[i+1:] {
			ai, bi := a.Part.Info, b.Part.Info
			if ai.MinBlock <= bi.MaxBlock && bi.MinBlock <= ai.MaxBlock {
				return part.PartInfo{}, fmt.Errorf("%w: %s and %s", ErrOverlappingSources, ai.Name(), bi.Name())
			}
		}
	}
	info.Level++
	return info, nil
}

func sameColumns(a, b block.NamesAndTypes) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// MergeParts writes one part holding the sorted rows of every source, minus
// the rows expired by the table's rows TTLs. The new part is committed under
// its final name; the caller swaps it for the sources in the catalog.
func MergeParts(ctx context.Context, ds datastore.DataStore, table string, sources []*part_reader.Reader, opts Options) (*Result, error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}
	info, err := resultInfo(sources)
	if err != nil {
		return nil, err
	}
	columns := sources[0].Part.Columns
	blocks := make([]block.Block, 0, len(sources))
	previousTTL := part.NewTTLInfos()
	for _, src := range sources {
		if !sameColumns(columns, src.Part.Columns) {
			return nil, fmt.Errorf("%w: %s", ErrSchemaMismatch, src.Part.Name())
		}
		b, err := src.ReadBlock(ctx)
		if err != nil {
			return nil, fmt.Errorf("error reading %s: %w", src.Part.Name(), err)
		}
		blocks = append(blocks, b)
		previousTTL.Merge(src.Part.TTLInfos)
	}
	merged, err := block.Concat(columns, blocks...)
	if err != nil {
		return nil, fmt.Errorf("error in block.Concat: %w", err)
	}

	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	logger := gologger.PartLogger(opts.Logger, table, info.TmpName())
	p := part.NewPart(table, info, columns, ds.PartStorage(table, info.TmpName()))
	p.Partition = sources[0].Part.Partition
	if opts.RecordSourceParts {
		for _, src := range sources {
			p.SourcePartsSet.Add(src.Part.Info.Name())
		}
	}

	// merges always recompute TTL bounds from the rows that survive
	rules, err := ttl.RulesFromTable(opts.TTL, previousTTL)
	if err != nil {
		return nil, err
	}
	calc := ttl.NewCalculator(p, rules, opts.Now, true, logger)
	res, err := calc.Consume(ctx, merged)
	if err != nil {
		return nil, fmt.Errorf("error in TTL Consume: %w", err)
	}
	if err := calc.Finalize(p); err != nil {
		return nil, err
	}
	kept := merged.DropRows(res.Expired)
	perm, err := block.SortPermutation(kept, opts.SortingKey)
	if err != nil {
		return nil, err
	}

	p.MinMax = part.NewMinMaxIndex(sources[0].Part.MinMax.Columns)
	if p.MinMax.Enabled() {
		if err := p.MinMax.Update(kept); err != nil {
			return nil, err
		}
	}
	p.SerializationInfos = part.NewSerializationInfos(columns)
	p.SerializationInfos.Add(kept)
	p.SerializationInfos.ChooseKinds(opts.Settings.RatioOfDefaultsForSparse)

	logger.Debug().Int("sources", len(sources)).Int("rows", kept.Rows()).Int("expired", len(res.Expired)).Str("mode", opts.Mode.String()).Msg("merging parts")
	if opts.Mode == Vertical {
		err = writeVertical(ctx, p, kept.Permute(perm), opts, logger)
	} else {
		err = writeHorizontal(ctx, p, kept, perm, opts, logger)
	}
	if err != nil {
		return nil, err
	}
	if err := part_writer.CommitPart(ctx, ds, p); err != nil {
		return nil, err
	}
	logger.Info().Str("final_part", p.Info.Name()).Uint64("rows", p.RowsCount).Msg("merged parts")
	return &Result{Part: p, ExpiredRows: len(res.Expired)}, nil
}

func streamOptions(opts Options, logger zerolog.Logger) part_writer.OutputStreamOptions {
	return part_writer.OutputStreamOptions{
		Codec:        opts.Codec,
		Settings:     opts.Settings,
		SortingKey:   opts.SortingKey,
		SkipIndices:  opts.SkipIndices,
		Statistics:   opts.Statistics,
		ResetColumns: opts.Settings.PruneDefaultColumns,
		Logger:       logger,
	}
}

func finalize(ctx context.Context, s *part_writer.MergedBlockOutputStream, p *part.Part, opts Options, fo part_writer.FinalizeOptions) error {
	f, err := s.FinalizePartAsync(ctx, p, opts.Settings.FsyncAfterInsert, fo)
	if err != nil {
		return fmt.Errorf("error in FinalizePartAsync: %w", err)
	}
	defer f.Cancel()
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.Finish(ctx)
}

func writeHorizontal(ctx context.Context, p *part.Part, kept block.Block, perm block.Permutation, opts Options, logger zerolog.Logger) error {
	s, err := part_writer.NewOutputStream(ctx, p, streamOptions(opts, logger))
	if err != nil {
		return err
	}
	if err := s.WriteWithPermutation(ctx, kept, perm); err != nil {
		s.Cancel()
		return err
	}
	return finalize(ctx, s, p, opts, part_writer.FinalizeOptions{})
}

func writeVertical(ctx context.Context, p *part.Part, kept block.Block, opts Options, logger zerolog.Logger) error {
	granules := part_writer.GranulesFor(kept.Rows(), opts.Settings.IndexGranularity)
	keyColumns := p.Columns.Filter(func(name string) bool {
		for _, k := range opts.SortingKey {
			if k == name {
				return true
			}
		}
		return false
	})
	if len(keyColumns) == 0 {
		// the main stream counts the rows, so it needs at least one column
		keyColumns = p.Columns[:1]
	}
	gathered := p.Columns.Filter(func(name string) bool { return !keyColumns.Contains(name) })
	blockSize := opts.BlockSize
	if blockSize <= 0 {
		blockSize = opts.Settings.IndexGranularity
	}

	var streams []*part_writer.ColumnOnlyOutputStream
	cancelAll := func() {
		for _, cs := range streams {
			cs.Cancel()
		}
	}
	additional := part.NewChecksums()
	var substreams part.ColumnsSubstreams
	gatheredInfos := part.NewSerializationInfos(gathered)
	mainOpts := streamOptions(opts, logger)
	for _, c := range gathered {
		only := block.NamesAndTypes{c}
		columnOpts := mainOpts
		columnOpts.SkipIndices = filterSkipIndices(opts.SkipIndices, only)
		columnOpts.Statistics = filterStatistics(opts.Statistics, only)
		cs, err := part_writer.NewColumnOnlyOutputStream(ctx, p, only, granules, columnOpts)
		if err != nil {
			cancelAll()
			return err
		}
		streams = append(streams, cs)
		col, err := kept.Project([]string{c.Name})
		if err != nil {
			cancelAll()
			return err
		}
		for from := 0; from < col.Rows(); from += blockSize {
			to := from + blockSize
			if to > col.Rows() {
				to = col.Rows()
			}
			if err := cs.Write(ctx, col.Slice(from, to)); err != nil {
				cancelAll()
				return err
			}
		}
		sums, css, err := cs.FillChecksums(ctx)
		if err != nil {
			cancelAll()
			return err
		}
		if err := additional.Merge(sums); err != nil {
			cancelAll()
			return err
		}
		for _, cc := range css.Columns {
			substreams.Add(cc.Column, cc.Substreams)
		}
		gatheredInfos.AddCounts(cs.SerializationInfos())
	}
	for _, cs := range streams {
		if err := cs.Finish(opts.Settings.FsyncAfterInsert); err != nil {
			cancelAll()
			return err
		}
	}

	mainOpts.Columns = keyColumns
	mainOpts.Granules = granules
	mainOpts.SkipIndices = filterSkipIndices(opts.SkipIndices, keyColumns)
	mainOpts.Statistics = filterStatistics(opts.Statistics, keyColumns)
	s, err := part_writer.NewOutputStream(ctx, p, mainOpts)
	if err != nil {
		cancelAll()
		return err
	}
	keys, err := kept.Project(keyColumns.Names())
	if err != nil {
		s.Cancel()
		cancelAll()
		return err
	}
	if err := s.Write(ctx, keys); err != nil {
		s.Cancel()
		cancelAll()
		return err
	}
	if err := finalize(ctx, s, p, opts, part_writer.FinalizeOptions{
		TotalColumns:                 p.Columns,
		AdditionalChecksums:          additional,
		AdditionalSubstreams:         &substreams,
		AdditionalSerializationInfos: gatheredInfos,
	}); err != nil {
		cancelAll()
		return err
	}
	return nil
}

func filterSkipIndices(indices []part_writer.SkipIndex, columns block.NamesAndTypes) []part_writer.SkipIndex {
	var out []part_writer.SkipIndex
	for _, idx := range indices {
		if columns.Contains(idx.Column) {
			out = append(out, idx)
		}
	}
	return out
}

func filterStatistics(stats []part_writer.ColumnStatistics, columns block.NamesAndTypes) []part_writer.ColumnStatistics {
	var out []part_writer.ColumnStatistics
	for _, st := range stats {
		if columns.Contains(st.Column) {
			out = append(out, st)
		}
	}
	return out
}
