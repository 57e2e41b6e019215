package part_writer

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/danthegoodman1/icetree/block"
	"github.com/danthegoodman1/icetree/datastore"
	"github.com/danthegoodman1/icetree/part"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type (
	FinalizeOptions struct {
		// TotalColumns is the column list of the whole part when this stream only wrote some of them
		TotalColumns block.NamesAndTypes
		// AdditionalChecksums and AdditionalSubstreams come from cooperating writers of the same part
		AdditionalChecksums  *part.Checksums
		AdditionalSubstreams *part.ColumnsSubstreams
		// AdditionalSerializationInfos are the default counts of columns written by
		// those writers, pruning needs them to judge columns this stream never saw
		AdditionalSerializationInfos *part.SerializationInfos
	}

	// Finalizer owns the files of a finalized part until the caller decides to
	// Finish or Cancel. It is single use, callers should defer Cancel right
	// after obtaining it.
	Finalizer struct {
		impl *finalizerImpl
	}

	finalizerImpl struct {
		writer        DataPartWriter
		part          *part.Part
		filesToRemove []string
		writtenFiles  []datastore.WriteBuffer
		sync          bool
		logger        zerolog.Logger
	}
)

// Finish makes every written file durable, then removes the files of pruned
// columns in a second storage transaction. Any failure cancels what is left.
func (f *Finalizer) Finish(ctx context.Context) error {
	impl := f.impl
	f.impl = nil
	if impl == nil {
		return ErrFinalizerConsumed
	}
	if err := impl.finish(ctx); err != nil {
		impl.cancel()
		return err
	}
	return nil
}

// Cancel discards every file written for the part. It does nothing once the
// finalizer was consumed.
func (f *Finalizer) Cancel() {
	impl := f.impl
	f.impl = nil
	if impl != nil {
		impl.cancel()
	}
}

func (fi *finalizerImpl) finish(ctx context.Context) error {
	if err := fi.writer.Finish(fi.sync); err != nil {
		return fmt.Errorf("error in writer Finish: %w", err)
	}
	for _, file := range fi.writtenFiles {
		if err := file.Finalize(); err != nil {
			return fmt.Errorf("error finalizing %s: %w", file.Name(), err)
		}
		if fi.sync {
			if err := file.Sync(); err != nil {
				return fmt.Errorf("error syncing %s: %w", file.Name(), err)
			}
		}
	}

	if len(fi.filesToRemove) == 0 {
		return nil
	}
	// a storage transaction cannot see its own writes, so the files of pruned
	// columns only become removable after the writes commit
	storage := fi.part.Storage
	if err := storage.CommitTransaction(ctx); err != nil {
		return fmt.Errorf("error committing written files: %w", err)
	}
	if err := storage.BeginTransaction(ctx); err != nil {
		return fmt.Errorf("error in BeginTransaction: %w", err)
	}
	for _, name := range fi.filesToRemove {
		if err := storage.RemoveFile(ctx, name); err != nil {
			return fmt.Errorf("error removing %s: %w", name, err)
		}
	}
	fi.logger.Debug().Strs("files", fi.filesToRemove).Msg("removed files of empty columns")
	return nil
}

func (fi *finalizerImpl) cancel() {
	fi.writer.Cancel()
	for _, file := range fi.writtenFiles {
		file.Cancel()
	}
}

// FinalizePart finalizes and immediately finishes the part
func (s *MergedBlockOutputStream) FinalizePart(ctx context.Context, p *part.Part, sync bool, opts FinalizeOptions) error {
	f, err := s.FinalizePartAsync(ctx, p, sync, opts)
	if err != nil {
		return err
	}
	defer f.Cancel()
	return f.Finish(ctx)
}

// FinalizePartAsync computes the checksums of the part, writes every metadata
// file and returns the Finalizer that decides whether they become visible.
func (s *MergedBlockOutputStream) FinalizePartAsync(ctx context.Context, p *part.Part, sync bool, opts FinalizeOptions) (*Finalizer, error) {
	f, err := s.finalizePartAsync(ctx, p, sync, opts)
	if err != nil {
		s.Cancel()
		return nil, err
	}
	return f, nil
}

func (s *MergedBlockOutputStream) finalizePartAsync(ctx context.Context, p *part.Part, sync bool, opts FinalizeOptions) (*Finalizer, error) {
	if s.cancelled {
		return nil, ErrWriterCancelled
	}
	checksums := part.NewChecksums()
	if err := checksums.Merge(opts.AdditionalChecksums); err != nil {
		return nil, err
	}

	local := part.NewChecksums()
	toRemove := map[string]struct{}{}
	if err := s.writer.FillChecksums(ctx, local, toRemove); err != nil {
		return nil, fmt.Errorf("error in FillChecksums: %w", err)
	}
	if err := checksums.Merge(local); err != nil {
		return nil, err
	}
	for name := range toRemove {
		checksums.Remove(name)
	}
	s.logger.Trace().Int("files", checksums.Len()).Msg("filled checksums")

	projections := make([]string, 0, len(p.Projections))
	for name := range p.Projections {
		projections = append(projections, name)
	}
	sort.Strings(projections)
	for _, name := range projections {
		proj := p.Projections[name]
		checksums.AddFile(part.ProjectionFileName(name), proj.Checksums.TotalSizeOnDisk(), proj.Checksums.TotalChecksum())
	}

	var filesToRemove []string
	if s.resetColumns {
		partColumns := s.columns
		if opts.TotalColumns != nil {
			partColumns = opts.TotalColumns
		}
		infos := p.SerializationInfos
		if infos == nil {
			infos = part.NewSerializationInfos(partColumns)
		}
		s.newSerializationInfos.AddCounts(opts.AdditionalSerializationInfos)
		infos.ReplaceData(s.newSerializationInfos)
		partColumns, filesToRemove = s.removeEmptyColumns(partColumns, infos, checksums)
		p.Columns = partColumns
		p.SerializationInfos = infos
		p.MetadataVersion = s.settings.MetadataVersion
	}

	writtenFiles, err := s.finalizePartOnDisk(ctx, p, checksums, opts.AdditionalSubstreams)
	if err != nil {
		return nil, err
	}

	p.RowsCount = s.rowsCount
	p.ModificationTime = time.Now()
	p.Checksums = checksums
	p.SetBytesFromChecksums()
	granularity := s.writer.IndexGranularity()
	granularity.Finalize()
	p.IndexGranularity = granularity
	p.CalculateColumnSizes()

	if s.settings.EnableIndexGranularityCompression {
		optimized, err := p.IndexGranularity.Optimize()
		if err != nil {
			for _, file := range writtenFiles {
				file.Cancel()
			}
			return nil, fmt.Errorf("%w: %w", ErrLogical, err)
		}
		if optimized != nil {
			p.IndexGranularity = optimized
		}
	}

	// the primary index is only meaningful together with the final granularity
	if idx := s.writer.ReleaseIndexColumns(); idx != nil {
		p.PrimaryIndex = idx
	}

	if p.ExistingRowsCount == nil {
		rows := s.rowsCount
		p.ExistingRowsCount = &rows
	}
	p.DefaultCodec = s.codec

	return &Finalizer{impl: &finalizerImpl{
		writer:        s.writer,
		part:          p,
		filesToRemove: filesToRemove,
		writtenFiles:  writtenFiles,
		sync:          sync,
		logger:        s.logger,
	}}, nil
}

// removeEmptyColumns drops columns holding only default values. Their files
// leave the checksums now and the part directory once the finalizer finishes.
func (s *MergedBlockOutputStream) removeEmptyColumns(columns block.NamesAndTypes, infos *part.SerializationInfos, checksums *part.Checksums) (block.NamesAndTypes, []string) {
	if s.rowsCount == 0 {
		return columns, nil
	}
	removed := map[string]struct{}{}
	kept := columns.Filter(func(name string) bool {
		if !infos.AllDefaults(name) {
			return true
		}
		removed[name] = struct{}{}
		return false
	})
	var files []string
	for _, name := range sortedNames(removed) {
		infos.Remove(name)
		for _, file := range part.ColumnFiles(name) {
			if _, ok := checksums.Get(file); ok {
				checksums.Remove(file)
				files = append(files, file)
			}
		}
	}
	if len(removed) > 0 {
		s.logger.Debug().Strs("columns", sortedNames(removed)).Msg("removing columns with only default values")
	}
	return kept, files
}

func (s *MergedBlockOutputStream) finalizePartOnDisk(ctx context.Context, p *part.Part, checksums *part.Checksums, additionalSubstreams *part.ColumnsSubstreams) ([]datastore.WriteBuffer, error) {
	var written []datastore.WriteBuffer
	success := false
	defer func() {
		if !success {
			for _, file := range written {
				file.Cancel()
			}
		}
	}()

	writeHashed := func(name string, fill func(w io.Writer) error) error {
		wb, err := part.WriteHashedFile(ctx, p.Storage, name, checksums, fill)
		if err != nil {
			return err
		}
		written = append(written, wb)
		return nil
	}
	writeString := func(name, content string) error {
		return writeHashed(name, func(w io.Writer) error {
			_, err := io.WriteString(w, content)
			return err
		})
	}

	if !p.IsProjection {
		if p.UUID != uuid.Nil {
			if err := writeString(part.UUIDFileName, p.UUID.String()); err != nil {
				return nil, err
			}
		}

		wb, err := p.Partition.Store(ctx, p.Storage, checksums)
		if err != nil {
			return nil, fmt.Errorf("error storing partition: %w", err)
		}
		if wb != nil {
			written = append(written, wb)
		}

		if p.MinMax.Enabled() {
			if !p.MinMax.Initialized {
				return nil, fmt.Errorf("%w: minmax index was not initialized for new part %s with %d rows", ErrLogical, p.Name(), s.rowsCount)
			}
			files, err := p.MinMax.Store(ctx, p.Storage, checksums)
			if err != nil {
				return nil, fmt.Errorf("error storing minmax index: %w", err)
			}
			written = append(written, files...)
		}

		if !p.SourcePartsSet.Empty() {
			if err := writeHashed(part.SourcePartsSetFileName, p.SourcePartsSet.WriteBinary); err != nil {
				return nil, err
			}
		}
	}

	if err := writeString(part.CountFileName, strconv.FormatUint(s.rowsCount, 10)); err != nil {
		return nil, err
	}

	if !p.TTLInfos.Empty() {
		if err := writeHashed(part.TTLFileName, p.TTLInfos.Write); err != nil {
			return nil, err
		}
	}

	if p.SerializationInfos.NeedsFile() {
		if err := writeHashed(part.SerializationFileName, p.SerializationInfos.WriteJSON); err != nil {
			return nil, err
		}
	}

	if err := writeHashed(part.ColumnsFileName, func(w io.Writer) error {
		return part.WriteColumns(w, p.Columns)
	}); err != nil {
		return nil, err
	}

	// merged even without additional substreams, so columns dropped from the
	// part also leave the descriptor
	var additional part.ColumnsSubstreams
	if additionalSubstreams != nil {
		additional = *additionalSubstreams
	}
	substreams, err := part.MergeSubstreams(s.writer.ColumnsSubstreams(), additional, p.Columns.Names())
	if err != nil {
		return nil, err
	}
	if !substreams.Empty() {
		if err := writeHashed(part.ColumnsSubstreamsFileName, substreams.WriteText); err != nil {
			return nil, err
		}
		p.Substreams = substreams
	}

	if err := writeString(part.MetadataVersionFileName, strconv.FormatInt(p.MetadataVersion, 10)); err != nil {
		return nil, err
	}

	if s.codec == nil {
		return nil, fmt.Errorf("%w: compression codec has to be specified for part on disk, empty for %s", ErrLogical, p.Name())
	}
	if err := writeString(part.DefaultCompressionCodecFileName, s.codec.Description()); err != nil {
		return nil, err
	}

	// checksums.txt describes every other file and is not listed in itself
	wb, err := part.WriteHashedFile(ctx, p.Storage, part.ChecksumsFileName, nil, checksums.Write)
	if err != nil {
		return nil, err
	}
	written = append(written, wb)

	success = true
	return written, nil
}
