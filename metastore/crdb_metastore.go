package metastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/danthegoodman1/icetree/utils"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
)

const crdbTryTimeout = time.Second * 10

type (
	// CRDBMetaStore keeps the catalog in the tables and parts tables created by
	// the migrations package
	CRDBMetaStore struct {
		pool *pgxpool.Pool
	}
)

func NewCRDBMetaStore(pool *pgxpool.Pool) *CRDBMetaStore {
	return &CRDBMetaStore{pool: pool}
}

func (cms *CRDBMetaStore) CreateTableSchema(ctx context.Context, ts TableSchema) error {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Str("table", ts.Name).Msg("creating table schema")
	ts.ID = utils.GenKSortedID("tbl_")
	ts.CreatedAt = time.Now()
	ts.UpdatedAt = ts.CreatedAt

	jsonBytes, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("error in json.Marshal: %w", err)
	}

	return utils.ReliableExec(ctx, cms.pool, crdbTryTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		tag, err := conn.Exec(ctx, `
			INSERT INTO tables (name, id, schema, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (name) DO NOTHING
		`, ts.Name, ts.ID, jsonBytes, ts.CreatedAt)
		if err != nil {
			return fmt.Errorf("error inserting table: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrTableExists, ts.Name)
		}
		return nil
	})
}

func (cms *CRDBMetaStore) GetTableSchema(ctx context.Context, table string) (TableSchema, error) {
	var ts TableSchema
	var raw []byte
	err := utils.ReliableExec(ctx, cms.pool, crdbTryTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		return conn.QueryRow(ctx, `SELECT schema FROM tables WHERE name = $1`, table).Scan(&raw)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return ts, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if err != nil {
		return ts, fmt.Errorf("error selecting table: %w", err)
	}
	if err := json.Unmarshal(raw, &ts); err != nil {
		return ts, fmt.Errorf("error in json.Unmarshal: %w", err)
	}
	return ts, nil
}

func (cms *CRDBMetaStore) NextBlockNumber(ctx context.Context, table string) (int64, error) {
	var n int64
	err := utils.ReliableExec(ctx, cms.pool, crdbTryTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		return conn.QueryRow(ctx, `
			UPDATE tables SET next_block = next_block + 1, updated_at = now()
			WHERE name = $1
			RETURNING next_block
		`, table).Scan(&n)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if err != nil {
		return 0, fmt.Errorf("error allocating block number: %w", err)
	}
	return n, nil
}

func insertPart(ctx context.Context, tx pgx.Tx, table string, p PartRecord) error {
	tag, err := tx.Exec(ctx, `
		INSERT INTO parts (table_name, name, partition_id, min_block, max_block, level, rows, bytes_on_disk, columns, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (table_name, name) DO NOTHING
	`, table, p.Name, p.PartitionID, p.MinBlock, p.MaxBlock, p.Level, int64(p.Rows), int64(p.BytesOnDisk), p.Columns, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("error inserting part: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrPartExists, p.Name)
	}
	return nil
}

func (cms *CRDBMetaStore) CreatePart(ctx context.Context, table string, p PartRecord) error {
	return utils.ReliableExecInTx(ctx, cms.pool, crdbTryTimeout, func(ctx context.Context, tx pgx.Tx) error {
		return insertPart(ctx, tx, table, p)
	})
}

func (cms *CRDBMetaStore) ListParts(ctx context.Context, table string, filters ...FilterOption) ([]PartRecord, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Msgf("listing parts with filter options %+v", filters)

	var parts []PartRecord
	err := utils.ReliableExec(ctx, cms.pool, crdbTryTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		parts = parts[:0]
		rows, err := conn.Query(ctx, `
			SELECT name, partition_id, min_block, max_block, level, rows, bytes_on_disk, columns, created_at
			FROM parts
			WHERE table_name = $1
			ORDER BY partition_id, min_block
		`, table)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var pr PartRecord
			var level, numRows, bytesOnDisk int64
			if err := rows.Scan(&pr.Name, &pr.PartitionID, &pr.MinBlock, &pr.MaxBlock, &level, &numRows, &bytesOnDisk, &pr.Columns, &pr.CreatedAt); err != nil {
				return err
			}
			pr.Level = int(level)
			pr.Rows = uint64(numRows)
			pr.BytesOnDisk = uint64(bytesOnDisk)
			if passFilters(pr, filters) {
				parts = append(parts, pr)
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("error listing parts: %w", err)
	}
	return utils.ArrayOrEmpty(parts), nil
}

func (cms *CRDBMetaStore) ReplaceParts(ctx context.Context, table string, removed []string, added PartRecord) error {
	return utils.ReliableExecInTx(ctx, cms.pool, crdbTryTimeout, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM parts WHERE table_name = $1 AND name = ANY($2)`, table, removed)
		if err != nil {
			return fmt.Errorf("error deleting parts: %w", err)
		}
		if int(tag.RowsAffected()) != len(removed) {
			return fmt.Errorf("%w: removed %d of %d merged parts", ErrPartNotFound, tag.RowsAffected(), len(removed))
		}
		return insertPart(ctx, tx, table, added)
	})
}

func (cms *CRDBMetaStore) Shutdown(_ context.Context) error {
	cms.pool.Close()
	return nil
}
