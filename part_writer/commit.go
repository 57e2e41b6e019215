package part_writer

import (
	"context"
	"fmt"
	"sort"

	"github.com/danthegoodman1/icetree/datastore"
	"github.com/danthegoodman1/icetree/part"
)

// CommitPart commits a finished part's storage transaction and moves it from
// its temporary name to its final one, making it visible to readers.
// Projections are committed first, they move along with the part directory.
func CommitPart(ctx context.Context, ds datastore.DataStore, p *part.Part) error {
	projections := make([]string, 0, len(p.Projections))
	for name := range p.Projections {
		projections = append(projections, name)
	}
	sort.Strings(projections)
	for _, name := range projections {
		if err := p.Projections[name].Storage.CommitTransaction(ctx); err != nil {
			return fmt.Errorf("error in CommitTransaction for projection %s: %w", name, err)
		}
	}
	if err := p.Storage.CommitTransaction(ctx); err != nil {
		return fmt.Errorf("error in CommitTransaction: %w", err)
	}
	final := p.Info.Name()
	if p.Storage.PartName() == final {
		return nil
	}
	if err := ds.RenamePart(ctx, p.Table, p.Storage.PartName(), final); err != nil {
		return fmt.Errorf("error in RenamePart: %w", err)
	}
	p.Storage = ds.PartStorage(p.Table, final)
	for _, name := range projections {
		p.Projections[name].Storage = ds.PartStorage(p.Table, ProjectionStorageName(final, name))
	}
	return nil
}

// ProjectionStorageName is the storage name of projection inside the part named partName
func ProjectionStorageName(partName, projection string) string {
	return partName + "/" + part.ProjectionFileName(projection)
}
