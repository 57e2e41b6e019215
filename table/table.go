package table

import (
	"context"
	"fmt"

	"github.com/danthegoodman1/icetree/block"
	"github.com/danthegoodman1/icetree/compression"
	"github.com/danthegoodman1/icetree/datastore"
	"github.com/danthegoodman1/icetree/gologger"
	"github.com/danthegoodman1/icetree/metastore"
	"github.com/danthegoodman1/icetree/part_reader"
	"github.com/danthegoodman1/icetree/part_writer"
	"github.com/danthegoodman1/icetree/partitioner"
	"github.com/rs/zerolog"
)

var logger = gologger.NewLogger()

type (
	// Service ties the catalog to the part files: inserts become parts, merges
	// swap parts, and reads go through the committed part directories
	Service struct {
		MetaStore metastore.MetaStore
		DataStore datastore.DataStore
		Settings  part_writer.Settings
	}

	// Table is a schema resolved for writing and reading parts
	Table struct {
		Schema        metastore.TableSchema
		Columns       block.NamesAndTypes
		MinMaxColumns block.NamesAndTypes
		Codec         compression.Codec
	}
)

func NewService(ms metastore.MetaStore, ds datastore.DataStore, settings part_writer.Settings) *Service {
	return &Service{
		MetaStore: ms,
		DataStore: ds,
		Settings:  settings,
	}
}

// CreateTable checks the schema and registers it in the catalog
func (s *Service) CreateTable(ctx context.Context, ts metastore.TableSchema) error {
	if err := ts.Check(); err != nil {
		return fmt.Errorf("%w: %s", metastore.ErrBadSchema, err)
	}
	err := s.MetaStore.CreateTableSchema(ctx, ts)
	if err != nil {
		return fmt.Errorf("error in MetaStore.CreateTableSchema: %w", err)
	}
	return nil
}

// GetTable loads and resolves the schema of a table
func (s *Service) GetTable(ctx context.Context, name string) (*Table, error) {
	ts, err := s.MetaStore.GetTableSchema(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("error in MetaStore.GetTableSchema: %w", err)
	}
	columns, err := ts.NamesAndTypes()
	if err != nil {
		return nil, err
	}
	minmax, err := partitioner.SourceColumns(ts.PartitionBy, columns)
	if err != nil {
		return nil, err
	}
	codecDesc := ts.Codec
	if codecDesc == "" {
		codecDesc = s.Settings.DefaultCodec
	}
	codec, err := compression.ParseCodec(codecDesc)
	if err != nil {
		return nil, err
	}
	return &Table{
		Schema:        ts,
		Columns:       columns,
		MinMaxColumns: minmax,
		Codec:         codec,
	}, nil
}

// ReaderOptions are the keys a reader needs to load the table's parts
func (t *Table) ReaderOptions() part_reader.Options {
	opts := part_reader.Options{
		SortingKey:    t.Schema.SortingKey,
		MinMaxColumns: t.MinMaxColumns.Names(),
	}
	for _, plan := range t.Schema.PartitionBy {
		opts.PartitionKey = append(opts.PartitionKey, plan.As)
	}
	return opts
}

func (t *Table) streamOptions(settings part_writer.Settings, logger zerolog.Logger) part_writer.OutputStreamOptions {
	return part_writer.OutputStreamOptions{
		Codec:        t.Codec,
		Settings:     settings,
		SortingKey:   t.Schema.SortingKey,
		SkipIndices:  t.Schema.SkipIndices,
		Statistics:   t.Schema.Statistics,
		ResetColumns: settings.PruneDefaultColumns,
		Logger:       logger,
	}
}
