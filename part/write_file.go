package part

import (
	"context"
	"fmt"
	"io"

	"github.com/danthegoodman1/icetree/datastore"
)

// WriteHashedFile creates name in storage, lets fill write its content and
// records the checksum of exactly the written bytes. The returned buffer is
// flushed but not finalized, its owner decides whether it becomes visible.
func WriteHashedFile(ctx context.Context, storage datastore.PartStorage, name string, checksums *Checksums, fill func(w io.Writer) error) (datastore.WriteBuffer, error) {
	wb, err := storage.WriteFile(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("error in WriteFile for %s: %w", name, err)
	}
	hw := NewHashingWriter(wb)
	if err := fill(hw); err != nil {
		wb.Cancel()
		return nil, fmt.Errorf("error writing %s: %w", name, err)
	}
	if err := wb.PreFinalize(); err != nil {
		wb.Cancel()
		return nil, fmt.Errorf("error in PreFinalize for %s: %w", name, err)
	}
	if checksums != nil {
		checksums.Add(name, hw.Checksum())
	}
	return wb, nil
}
