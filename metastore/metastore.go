package metastore

import (
	"context"
	"fmt"
	"time"

	"github.com/danthegoodman1/icetree/block"
	"github.com/danthegoodman1/icetree/compression"
	"github.com/danthegoodman1/icetree/gologger"
	"github.com/danthegoodman1/icetree/part"
	"github.com/danthegoodman1/icetree/part_writer"
	"github.com/danthegoodman1/icetree/partitioner"
	"github.com/danthegoodman1/icetree/ttl"
	"github.com/danthegoodman1/icetree/utils"
)

const (
	ErrTableExists   = utils.PermError("table already exists")
	ErrTableNotFound = utils.PermError("table not found")
	ErrPartExists    = utils.PermError("part already exists")
	ErrPartNotFound  = utils.PermError("part not found")
	ErrBadSchema     = utils.PermError("bad table schema")
)

const (
	GT  Operator = "gt"
	GTE Operator = "gte"
	IN  Operator = "in"
	LT  Operator = "lt"
	LTE Operator = "lte"
)

var (
	logger = gologger.NewLogger()
)

type (
	// MetaStore is the catalog of tables and their active parts. Part files
	// live in a datastore.DataStore, the catalog only decides which parts are visible.
	MetaStore interface {
		CreateTableSchema(ctx context.Context, ts TableSchema) error
		// GetTableSchema fetches the table schema for a given table
		GetTableSchema(ctx context.Context, table string) (TableSchema, error)
		// NextBlockNumber allocates the block number of a new insert
		NextBlockNumber(ctx context.Context, table string) (int64, error)

		// CreatePart registers a committed part
		CreatePart(ctx context.Context, table string, p PartRecord) error
		// ListParts lists the active parts of a table, filtered by partition ID
		ListParts(ctx context.Context, table string, filters ...FilterOption) ([]PartRecord, error)
		// ReplaceParts atomically swaps merged source parts for their result
		ReplaceParts(ctx context.Context, table string, removed []string, added PartRecord) error

		Shutdown(ctx context.Context) error
	}

	TableSchema struct {
		ID   string `json:"id"`
		Name string `json:"name" validate:"required,excludesall=/\\"`

		Columns     []ColumnSchema                 `json:"columns" validate:"required,min=1,dive"`
		PartitionBy []partitioner.PartitionPlan    `json:"partition_by" validate:"dive"`
		SortingKey  []string                       `json:"sorting_key"`
		TTL         []ttl.Description              `json:"ttl" validate:"dive"`
		SkipIndices []part_writer.SkipIndex        `json:"skip_indices" validate:"dive"`
		Statistics  []part_writer.ColumnStatistics `json:"statistics" validate:"dive"`
		// Codec is the default compression codec of new parts, DEFAULT_CODEC when empty
		Codec string `json:"codec"`

		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
	}

	ColumnSchema struct {
		Name string `json:"name" validate:"required"`
		Type string `json:"type" validate:"required"`
	}

	// PartRecord is the catalog entry of a committed part
	PartRecord struct {
		Name        string    `json:"name"`
		PartitionID string    `json:"partition_id"`
		MinBlock    int64     `json:"min_block"`
		MaxBlock    int64     `json:"max_block"`
		Level       int       `json:"level"`
		Rows        uint64    `json:"rows"`
		BytesOnDisk uint64    `json:"bytes_on_disk"`
		Columns     []string  `json:"columns"`
		CreatedAt   time.Time `json:"created_at"`
	}

	Operator string

	// FilterOption compares the partition ID of a part against Val, a string
	// or a []string for IN
	FilterOption struct {
		Operator Operator
		Val      any
	}
)

// NamesAndTypes resolves the declared columns to block types
func (ts TableSchema) NamesAndTypes() (block.NamesAndTypes, error) {
	out := make(block.NamesAndTypes, 0, len(ts.Columns))
	for _, c := range ts.Columns {
		t, err := block.ParseDataType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: column %s: %s", ErrBadSchema, c.Name, err)
		}
		if out.Contains(c.Name) {
			return nil, fmt.Errorf("%w: column %s declared twice", ErrBadSchema, c.Name)
		}
		out = append(out, block.NameAndType{Name: c.Name, Type: t})
	}
	return out, nil
}

// Check verifies that every key, index and rule refers to a declared column
// and that the codec parses
func (ts TableSchema) Check() error {
	columns, err := ts.NamesAndTypes()
	if err != nil {
		return err
	}
	if _, err := partitioner.SourceColumns(ts.PartitionBy, columns); err != nil {
		return fmt.Errorf("error in partition_by: %w", err)
	}
	for _, k := range ts.SortingKey {
		if !columns.Contains(k) {
			return fmt.Errorf("sorting key: %w: %s", block.ErrColumnNotFound, k)
		}
	}
	for _, idx := range ts.SkipIndices {
		if !columns.Contains(idx.Column) {
			return fmt.Errorf("skip index %s: %w: %s", idx.Name, block.ErrColumnNotFound, idx.Column)
		}
	}
	for _, st := range ts.Statistics {
		if !columns.Contains(st.Column) {
			return fmt.Errorf("statistics: %w: %s", block.ErrColumnNotFound, st.Column)
		}
	}
	for _, d := range ts.TTL {
		for _, c := range []string{d.ResultColumn, d.WhereColumn, d.Column} {
			if c != "" && !columns.Contains(c) {
				return fmt.Errorf("ttl %s: %w: %s", d.Kind, block.ErrColumnNotFound, c)
			}
		}
	}
	if _, err := ttl.RulesFromTable(ts.TTL, part.NewTTLInfos()); err != nil {
		return err
	}
	if ts.Codec != "" {
		if _, err := compression.ParseCodec(ts.Codec); err != nil {
			return err
		}
	}
	return nil
}

// RecordFromPart builds the catalog entry of a committed part
func RecordFromPart(p *part.Part) PartRecord {
	return PartRecord{
		Name:        p.Info.Name(),
		PartitionID: p.Info.PartitionID,
		MinBlock:    p.Info.MinBlock,
		MaxBlock:    p.Info.MaxBlock,
		Level:       p.Info.Level,
		Rows:        p.RowsCount,
		BytesOnDisk: p.BytesOnDisk,
		Columns:     p.Columns.Names(),
		CreatedAt:   time.Now(),
	}
}

func (pr PartRecord) Info() part.PartInfo {
	return part.PartInfo{PartitionID: pr.PartitionID, MinBlock: pr.MinBlock, MaxBlock: pr.MaxBlock, Level: pr.Level}
}

// PassFilterOption reports whether val satisfies filter
func PassFilterOption(val string, filter FilterOption) bool {
	switch filter.Operator {
	case IN:
		vals, ok := filter.Val.([]string)
		return ok && utils.ContainsString(vals, val)
	}
	s, ok := filter.Val.(string)
	if !ok {
		return false
	}
	switch filter.Operator {
	case GT:
		return val > s
	case GTE:
		return val >= s
	case LT:
		return val < s
	case LTE:
		return val <= s
	default:
		return false
	}
}

func passFilters(pr PartRecord, filters []FilterOption) bool {
	for _, filter := range filters {
		if !PassFilterOption(pr.PartitionID, filter) {
			return false
		}
	}
	return true
}
