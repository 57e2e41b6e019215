package table

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/danthegoodman1/icetree/datastore"
	"github.com/danthegoodman1/icetree/metastore"
	"github.com/danthegoodman1/icetree/parquet_accumulator"
	"github.com/danthegoodman1/icetree/part_reader"
)

func (s *Service) ListParts(ctx context.Context, tableName string, filters ...metastore.FilterOption) ([]metastore.PartRecord, error) {
	if _, err := s.MetaStore.GetTableSchema(ctx, tableName); err != nil {
		return nil, err
	}
	return s.MetaStore.ListParts(ctx, tableName, filters...)
}

// OpenPart opens an active part of a table
func (s *Service) OpenPart(ctx context.Context, tableName, partName string) (*part_reader.Reader, error) {
	t, err := s.GetTable(ctx, tableName)
	if err != nil {
		return nil, err
	}
	records, err := s.MetaStore.ListParts(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("error in MetaStore.ListParts: %w", err)
	}
	found := false
	for _, r := range records {
		if r.Name == partName {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", metastore.ErrPartNotFound, partName)
	}
	r, err := part_reader.Open(ctx, tableName, s.DataStore.PartStorage(tableName, partName), t.ReaderOptions())
	if errors.Is(err, datastore.ErrFileNotFound) {
		return nil, fmt.Errorf("%w: %s: %s", metastore.ErrPartNotFound, partName, err)
	}
	return r, err
}

// VerifyPart checks every file of a part against its checksums
func (s *Service) VerifyPart(ctx context.Context, tableName, partName string) error {
	r, err := s.OpenPart(ctx, tableName, partName)
	if err != nil {
		return err
	}
	return r.VerifyChecksums(ctx)
}

// ExportParquet writes the rows of a part to w as a parquet file
func (s *Service) ExportParquet(ctx context.Context, tableName, partName string, w io.Writer) error {
	r, err := s.OpenPart(ctx, tableName, partName)
	if err != nil {
		return err
	}
	b, err := r.ReadBlock(ctx)
	if err != nil {
		return fmt.Errorf("error in ReadBlock: %w", err)
	}
	if _, err := parquet_accumulator.WriteBlock(w, b); err != nil {
		return fmt.Errorf("error in WriteBlock: %w", err)
	}
	return nil
}
