package table

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danthegoodman1/icetree/block"
	"github.com/danthegoodman1/icetree/gologger"
	"github.com/danthegoodman1/icetree/metastore"
	"github.com/danthegoodman1/icetree/part"
	"github.com/danthegoodman1/icetree/part_writer"
	"github.com/danthegoodman1/icetree/partitioner"
	"github.com/danthegoodman1/icetree/ttl"
	"github.com/rs/zerolog"
)

var ErrNoRows = errors.New("no rows to insert")

type (
	InsertStats struct {
		NumRows      int64
		NumParts     int64
		BytesWritten uint64
		Parts        []string
		TimeMS       int64
	}
)

// Insert converts flattened rows to the table's columns and writes them
func (s *Service) Insert(ctx context.Context, tableName string, rows []map[string]any) (InsertStats, error) {
	t, err := s.GetTable(ctx, tableName)
	if err != nil {
		return InsertStats{}, err
	}
	b, err := block.FromRows(rows, t.Columns)
	if err != nil {
		return InsertStats{}, fmt.Errorf("error in block.FromRows: %w", err)
	}
	return s.InsertBlock(ctx, t, b)
}

// InsertBlock writes one part per partition of b, each with its own block number
func (s *Service) InsertBlock(ctx context.Context, t *Table, b block.Block) (InsertStats, error) {
	start := time.Now()
	var stats InsertStats
	if b.Empty() {
		return stats, ErrNoRows
	}
	if err := b.CheckNumberOfRows(); err != nil {
		return stats, err
	}

	splits, err := partitioner.SplitBlock(b, t.Schema.PartitionBy)
	if err != nil {
		return stats, fmt.Errorf("error in SplitBlock: %w", err)
	}
	for _, split := range splits {
		n, err := s.MetaStore.NextBlockNumber(ctx, t.Schema.Name)
		if err != nil {
			return stats, fmt.Errorf("error in NextBlockNumber: %w", err)
		}
		p, err := s.writePart(ctx, t, split, n)
		if err != nil {
			return stats, err
		}
		if err := s.MetaStore.CreatePart(ctx, t.Schema.Name, metastore.RecordFromPart(p)); err != nil {
			// the part is committed but invisible without its catalog entry
			if rerr := s.DataStore.RemovePart(ctx, t.Schema.Name, p.Info.Name()); rerr != nil {
				zerolog.Ctx(ctx).Error().Err(rerr).Str("part", p.Info.Name()).Msg("error removing uncataloged part")
			}
			return stats, fmt.Errorf("error in MetaStore.CreatePart: %w", err)
		}
		stats.NumRows += int64(p.RowsCount)
		stats.NumParts++
		stats.BytesWritten += p.BytesOnDisk
		stats.Parts = append(stats.Parts, p.Info.Name())
	}
	stats.TimeMS = time.Since(start).Milliseconds()
	return stats, nil
}

// writePart commits the rows of one partition as a level 0 part, sorted by
// the sorting key as they are written
func (s *Service) writePart(ctx context.Context, t *Table, split partitioner.Split, blockNumber int64) (*part.Part, error) {
	name := t.Schema.Name
	info := part.PartInfo{PartitionID: split.Value.ID(), MinBlock: blockNumber, MaxBlock: blockNumber}
	partLogger := gologger.PartLogger(*zerolog.Ctx(ctx), name, info.TmpName())

	perm, err := block.SortPermutation(split.Block, t.Schema.SortingKey)
	if err != nil {
		return nil, err
	}
	rows := split.Block

	p := part.NewPart(name, info, t.Columns, s.DataStore.PartStorage(name, info.TmpName()))
	p.Partition = split.Value
	p.MinMax = part.NewMinMaxIndex(t.MinMaxColumns)
	if p.MinMax.Enabled() {
		if err := p.MinMax.Update(rows); err != nil {
			return nil, err
		}
	}
	p.SerializationInfos = part.NewSerializationInfos(t.Columns)
	p.SerializationInfos.Add(rows)
	p.SerializationInfos.ChooseKinds(s.Settings.RatioOfDefaultsForSparse)

	rules, err := ttl.RulesFromTable(t.Schema.TTL, part.NewTTLInfos())
	if err != nil {
		return nil, err
	}
	calc := ttl.NewInsertCalculator(p, rules, time.Now(), partLogger)
	res, err := calc.Consume(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("error in TTL Consume: %w", err)
	}
	if len(res.Expired) > 0 {
		partLogger.Debug().Int("expired", len(res.Expired)).Msg("inserted rows already past their TTL")
	}
	if err := calc.Finalize(p); err != nil {
		return nil, err
	}

	stream, err := part_writer.NewOutputStream(ctx, p, t.streamOptions(s.Settings, partLogger))
	if err != nil {
		return nil, err
	}
	if err := stream.WriteWithPermutation(ctx, rows, perm); err != nil {
		stream.Cancel()
		return nil, err
	}
	f, err := stream.FinalizePartAsync(ctx, p, s.Settings.FsyncAfterInsert, part_writer.FinalizeOptions{})
	if err != nil {
		return nil, fmt.Errorf("error in FinalizePartAsync: %w", err)
	}
	defer f.Cancel()
	if err := f.Finish(ctx); err != nil {
		return nil, err
	}
	if err := part_writer.CommitPart(ctx, s.DataStore, p); err != nil {
		return nil, err
	}
	partLogger.Debug().Uint64("rows", p.RowsCount).Str("final_part", p.Info.Name()).Msg("inserted part")
	return p, nil
}
