package datastore

import (
	"context"
	"errors"
	"io"

	"github.com/danthegoodman1/icetree/gologger"
)

var (
	logger = gologger.NewLogger()

	ErrFileNotFound      = errors.New("file not found")
	ErrNoTransaction     = errors.New("no open transaction")
	ErrTransactionOpen   = errors.New("transaction already open")
	ErrBufferClosed      = errors.New("write buffer already finalized or cancelled")
	ErrPartAlreadyExists = errors.New("part already exists")
)

type (
	// WriteBuffer is one new file of a part. Bytes written to it are never
	// visible to readers until it is finalized and its transaction commits.
	WriteBuffer interface {
		io.Writer
		Name() string
		// Count is the number of bytes written so far
		Count() int64
		// PreFinalize flushes buffered bytes without changing visibility
		PreFinalize() error
		// Finalize closes the file and stages it in the open transaction
		Finalize() error
		// Sync forces a finalized file to physical storage
		Sync() error
		// Cancel discards the file. It is safe to call at any time and more than once.
		Cancel()
	}

	// PartStorage is the transactional view of a single part directory.
	// A transaction does not observe its own writes: RemoveFile only sees
	// files committed by an earlier transaction.
	PartStorage interface {
		// PartName is the directory name of the part
		PartName() string
		FullPath() string
		CreateDirectories(ctx context.Context) error
		WriteFile(ctx context.Context, name string) (WriteBuffer, error)
		RemoveFile(ctx context.Context, name string) error
		BeginTransaction(ctx context.Context) error
		CommitTransaction(ctx context.Context) error
		// RollbackTransaction drops staged files and queued removals
		RollbackTransaction(ctx context.Context) error
		ReadFile(ctx context.Context, name string) ([]byte, error)
		ListFiles(ctx context.Context) ([]string, error)
		Exists(ctx context.Context, name string) (bool, error)
	}

	// DataStore owns the part directories of every table
	DataStore interface {
		PartStorage(table, partName string) PartStorage
		ListParts(ctx context.Context, table string) ([]string, error)
		// RenamePart moves a committed part directory, e.g. from its tmp_ name to its final name
		RenamePart(ctx context.Context, table, from, to string) error
		RemovePart(ctx context.Context, table, partName string) error
		Shutdown(ctx context.Context) error
	}
)
