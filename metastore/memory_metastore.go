package metastore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danthegoodman1/icetree/utils"
)

// MemoryMetaStore is an in-process catalog for a single node, its content
// does not survive a restart
type MemoryMetaStore struct {
	mu     sync.Mutex
	tables map[string]TableSchema
	blocks map[string]int64
	parts  map[string]map[string]PartRecord
}

func NewMemoryMetaStore() *MemoryMetaStore {
	return &MemoryMetaStore{
		tables: map[string]TableSchema{},
		blocks: map[string]int64{},
		parts:  map[string]map[string]PartRecord{},
	}
}

func (m *MemoryMetaStore) CreateTableSchema(_ context.Context, ts TableSchema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[ts.Name]; ok {
		return fmt.Errorf("%w: %s", ErrTableExists, ts.Name)
	}
	ts.ID = utils.GenKSortedID("tbl_")
	ts.CreatedAt = time.Now()
	ts.UpdatedAt = ts.CreatedAt
	m.tables[ts.Name] = ts
	m.parts[ts.Name] = map[string]PartRecord{}
	return nil
}

func (m *MemoryMetaStore) GetTableSchema(_ context.Context, table string) (TableSchema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.tables[table]
	if !ok {
		return ts, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return ts, nil
}

func (m *MemoryMetaStore) NextBlockNumber(_ context.Context, table string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[table]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	m.blocks[table]++
	return m.blocks[table], nil
}

func (m *MemoryMetaStore) CreatePart(_ context.Context, table string, p PartRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[table]; !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if _, ok := m.parts[table][p.Name]; ok {
		return fmt.Errorf("%w: %s", ErrPartExists, p.Name)
	}
	m.parts[table][p.Name] = p
	return nil
}

func (m *MemoryMetaStore) ListParts(_ context.Context, table string, filters ...FilterOption) ([]PartRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PartRecord, 0)
	for _, p := range m.parts[table] {
		if passFilters(p, filters) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryMetaStore) ReplaceParts(_ context.Context, table string, removed []string, added PartRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[table]; !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	for _, name := range removed {
		if _, ok := m.parts[table][name]; !ok {
			return fmt.Errorf("%w: %s", ErrPartNotFound, name)
		}
	}
	for _, name := range removed {
		delete(m.parts[table], name)
	}
	m.parts[table][added.Name] = added
	return nil
}

func (m *MemoryMetaStore) Shutdown(context.Context) error { return nil }
