package datastore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const tmpFilePrefix = ".tmp_"

type (
	DiskDataStore struct {
		rootPath string
	}

	DiskPartStorage struct {
		table    string
		partName string
		dir      string
		tx       *diskTx
	}

	diskTx struct {
		// staged maps a file name to the temp file holding its finalized bytes
		staged   map[string]string
		removals []string
	}

	diskWriteBuffer struct {
		storage *DiskPartStorage
		name    string
		tmpPath string
		f       *os.File
		w       *countingBufWriter
		state   bufferState
	}

	bufferState int
)

const (
	bufferOpen bufferState = iota
	bufferFinalized
	bufferCancelled
)

func NewDiskDataStore(rootPath string) (*DiskDataStore, error) {
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("error in os.MkdirAll: %w", err)
	}
	dds := &DiskDataStore{
		rootPath: rootPath,
	}

	return dds, nil
}

func (dds *DiskDataStore) PartStorage(table, partName string) PartStorage {
	return dds.DiskPartStorage(table, partName)
}

func (dds *DiskDataStore) DiskPartStorage(table, partName string) *DiskPartStorage {
	return &DiskPartStorage{
		table:    table,
		partName: partName,
		dir:      filepath.Join(dds.rootPath, table, partName),
		tx:       newDiskTx(),
	}
}

func (dds *DiskDataStore) ListParts(_ context.Context, table string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(dds.rootPath, table))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error in os.ReadDir: %w", err)
	}
	var parts []string
	for _, e := range entries {
		if e.IsDir() {
			parts = append(parts, e.Name())
		}
	}
	return parts, nil
}

func (dds *DiskDataStore) RenamePart(_ context.Context, table, from, to string) error {
	dst := filepath.Join(dds.rootPath, table, to)
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("%w: %s/%s", ErrPartAlreadyExists, table, to)
	}
	if err := os.Rename(filepath.Join(dds.rootPath, table, from), dst); err != nil {
		return fmt.Errorf("error in os.Rename: %w", err)
	}
	return nil
}

func (dds *DiskDataStore) RemovePart(_ context.Context, table, partName string) error {
	if err := os.RemoveAll(filepath.Join(dds.rootPath, table, partName)); err != nil {
		return fmt.Errorf("error in os.RemoveAll: %w", err)
	}
	return nil
}

func (dds *DiskDataStore) Shutdown(_ context.Context) error {
	return nil
}

func newDiskTx() *diskTx {
	return &diskTx{staged: map[string]string{}}
}

func (s *DiskPartStorage) PartName() string { return s.partName }

func (s *DiskPartStorage) FullPath() string { return s.dir }

func (s *DiskPartStorage) CreateDirectories(_ context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("error in os.MkdirAll: %w", err)
	}
	return nil
}

func (s *DiskPartStorage) WriteFile(_ context.Context, name string) (WriteBuffer, error) {
	f, err := os.CreateTemp(s.dir, tmpFilePrefix+name+"_*")
	if err != nil {
		return nil, fmt.Errorf("error in os.CreateTemp: %w", err)
	}
	return &diskWriteBuffer{
		storage: s,
		name:    name,
		tmpPath: f.Name(),
		f:       f,
		w:       newCountingBufWriter(f),
	}, nil
}

// RemoveFile queues the removal of a committed file. Files staged in the
// current transaction are not visible here.
func (s *DiskPartStorage) RemoveFile(_ context.Context, name string) error {
	if s.tx == nil {
		return ErrNoTransaction
	}
	if _, err := os.Stat(filepath.Join(s.dir, name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s in %s", ErrFileNotFound, name, s.partName)
		}
		return fmt.Errorf("error in os.Stat: %w", err)
	}
	s.tx.removals = append(s.tx.removals, name)
	return nil
}

func (s *DiskPartStorage) BeginTransaction(_ context.Context) error {
	if s.tx != nil {
		return ErrTransactionOpen
	}
	s.tx = newDiskTx()
	return nil
}

// CommitTransaction moves every staged file into place, then applies removals
func (s *DiskPartStorage) CommitTransaction(_ context.Context) error {
	if s.tx == nil {
		return ErrNoTransaction
	}
	tx := s.tx
	s.tx = nil

	names := make([]string, 0, len(tx.staged))
	for name := range tx.staged {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := os.Rename(tx.staged[name], filepath.Join(s.dir, name)); err != nil {
			return fmt.Errorf("error in os.Rename for %s: %w", name, err)
		}
	}
	for _, name := range tx.removals {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error in os.Remove for %s: %w", name, err)
		}
	}
	logger.Debug().Str("part", s.partName).Int("written", len(names)).Int("removed", len(tx.removals)).Msg("committed part storage transaction")
	return nil
}

func (s *DiskPartStorage) RollbackTransaction(_ context.Context) error {
	if s.tx == nil {
		return ErrNoTransaction
	}
	for _, tmp := range s.tx.staged {
		_ = os.Remove(tmp)
	}
	s.tx = nil
	return nil
}

func (s *DiskPartStorage) ReadFile(_ context.Context, name string) ([]byte, error) {
	b, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s in %s", ErrFileNotFound, name, s.partName)
	}
	if err != nil {
		return nil, fmt.Errorf("error in os.ReadFile: %w", err)
	}
	return b, nil
}

// ListFiles lists every regular file in the part directory, temp files included
func (s *DiskPartStorage) ListFiles(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error in os.ReadDir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, e.Name())
		}
	}
	return files, nil
}

func (s *DiskPartStorage) Exists(_ context.Context, name string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error in os.Stat: %w", err)
	}
	return true, nil
}

// IsTempFile reports whether a listed file is an uncommitted write
func IsTempFile(name string) bool {
	return strings.HasPrefix(name, tmpFilePrefix)
}

func (b *diskWriteBuffer) Name() string { return b.name }

func (b *diskWriteBuffer) Count() int64 { return b.w.count }

func (b *diskWriteBuffer) Write(p []byte) (int, error) {
	if b.state != bufferOpen {
		return 0, ErrBufferClosed
	}
	return b.w.Write(p)
}

func (b *diskWriteBuffer) PreFinalize() error {
	if b.state != bufferOpen {
		return ErrBufferClosed
	}
	return b.w.Flush()
}

func (b *diskWriteBuffer) Finalize() error {
	if b.state != bufferOpen {
		return ErrBufferClosed
	}
	if err := b.w.Flush(); err != nil {
		return fmt.Errorf("error flushing %s: %w", b.name, err)
	}
	if err := b.f.Close(); err != nil {
		return fmt.Errorf("error closing %s: %w", b.name, err)
	}
	tx := b.storage.tx
	if tx == nil {
		return ErrNoTransaction
	}
	if prev, ok := tx.staged[b.name]; ok {
		_ = os.Remove(prev)
	}
	tx.staged[b.name] = b.tmpPath
	b.state = bufferFinalized
	return nil
}

func (b *diskWriteBuffer) Sync() error {
	if b.state != bufferFinalized {
		return nil
	}
	f, err := os.Open(b.tmpPath)
	if err != nil {
		return fmt.Errorf("error in os.Open for sync: %w", err)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return fmt.Errorf("error in fsync of %s: %w", b.name, err)
	}
	return nil
}

// Cancel removes the temp file. A finalized file is unstaged if its
// transaction has not committed yet.
func (b *diskWriteBuffer) Cancel() {
	switch b.state {
	case bufferOpen:
		_ = b.f.Close()
		_ = os.Remove(b.tmpPath)
	case bufferFinalized:
		if tx := b.storage.tx; tx != nil && tx.staged[b.name] == b.tmpPath {
			delete(tx.staged, b.name)
			_ = os.Remove(b.tmpPath)
		}
	}
	b.state = bufferCancelled
}
