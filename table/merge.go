package table

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/danthegoodman1/icetree/merger"
	"github.com/danthegoodman1/icetree/metastore"
	"github.com/danthegoodman1/icetree/part_reader"
	"github.com/danthegoodman1/icetree/utils"
	"github.com/rs/zerolog"
)

const DefaultMaxMergeParts = 4

var ErrNothingToMerge = errors.New("no partition has more than one part")

type (
	MergeRequest struct {
		// Partition restricts the merge to one partition ID
		Partition *string
		// MaxParts is the most parts merged at once, DefaultMaxMergeParts when 0
		MaxParts int
		Mode     merger.Mode
		// RecordSourceParts writes source_parts_set into the merged part
		RecordSourceParts bool
	}

	MergeStats struct {
		PartsMerged []string
		Result      string
		Rows        uint64
		ExpiredRows int
		BytesOnDisk uint64
		TimeMS      int64
	}
)

// pickMergeCandidates returns the lowest blocks of the first partition that has
// at least two active parts
func pickMergeCandidates(records []metastore.PartRecord, maxParts int) []metastore.PartRecord {
	byPartition := make(map[string][]metastore.PartRecord)
	for _, r := range records {
		byPartition[r.PartitionID] = append(byPartition[r.PartitionID], r)
	}
	ids := make([]string, 0, len(byPartition))
	for id := range byPartition {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		group := byPartition[id]
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].MinBlock < group[j].MinBlock })
		if len(group) > maxParts {
			group = group[:maxParts]
		}
		return group
	}
	return nil
}

// Merge merges the parts of one partition and swaps them for the result in
// the catalog. Source directories are removed only after the swap.
func (s *Service) Merge(ctx context.Context, tableName string, req MergeRequest) (MergeStats, error) {
	start := time.Now()
	mergeLogger := zerolog.Ctx(ctx).With().Str("table", tableName).Str("merge_id", utils.GenRandomShortID()).Logger()
	logger := &mergeLogger
	ctx = mergeLogger.WithContext(ctx)
	var stats MergeStats

	t, err := s.GetTable(ctx, tableName)
	if err != nil {
		return stats, err
	}
	var filters []metastore.FilterOption
	if req.Partition != nil {
		filters = append(filters, metastore.FilterOption{Operator: metastore.IN, Val: []string{*req.Partition}})
	}
	records, err := s.MetaStore.ListParts(ctx, tableName, filters...)
	if err != nil {
		return stats, fmt.Errorf("error in MetaStore.ListParts: %w", err)
	}
	maxParts := req.MaxParts
	if maxParts < 2 {
		maxParts = DefaultMaxMergeParts
	}
	candidates := pickMergeCandidates(records, maxParts)
	if len(candidates) == 0 {
		return stats, ErrNothingToMerge
	}

	readers := make([]*part_reader.Reader, 0, len(candidates))
	names := make([]string, 0, len(candidates))
	for _, rec := range candidates {
		r, err := part_reader.Open(ctx, tableName, s.DataStore.PartStorage(tableName, rec.Name), t.ReaderOptions())
		if err != nil {
			return stats, fmt.Errorf("error opening part %s: %w", rec.Name, err)
		}
		readers = append(readers, r)
		names = append(names, rec.Name)
	}

	res, err := merger.MergeParts(ctx, s.DataStore, tableName, readers, merger.Options{
		Mode:              req.Mode,
		SortingKey:        t.Schema.SortingKey,
		TTL:               t.Schema.TTL,
		Codec:             t.Codec,
		Settings:          s.Settings,
		SkipIndices:       t.Schema.SkipIndices,
		Statistics:        t.Schema.Statistics,
		RecordSourceParts: req.RecordSourceParts,
		Logger:            *logger,
	})
	if err != nil {
		return stats, fmt.Errorf("error in MergeParts: %w", err)
	}
	merged := res.Part.Info.Name()

	if err := s.MetaStore.ReplaceParts(ctx, tableName, names, metastore.RecordFromPart(res.Part)); err != nil {
		if rerr := s.DataStore.RemovePart(ctx, tableName, merged); rerr != nil {
			logger.Error().Err(rerr).Str("part", merged).Msg("error removing unswapped merged part")
		}
		return stats, fmt.Errorf("error in MetaStore.ReplaceParts: %w", err)
	}

	for _, name := range names {
		if err := s.DataStore.RemovePart(ctx, tableName, name); err != nil {
			// readers no longer see the part, a leftover directory only wastes space
			logger.Warn().Err(err).Str("part", name).Msg("error removing merged source part")
		}
	}

	stats = MergeStats{
		PartsMerged: utils.ArrayOrEmpty(names),
		Result:      merged,
		Rows:        res.Part.RowsCount,
		ExpiredRows: res.ExpiredRows,
		BytesOnDisk: res.Part.BytesOnDisk,
		TimeMS:      time.Since(start).Milliseconds(),
	}
	logger.Info().Strs("sources", names).Str("result", merged).Msg("merged parts")
	return stats, nil
}
