package part_reader

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/danthegoodman1/icetree/compression"
	"github.com/danthegoodman1/icetree/datastore"
	"github.com/danthegoodman1/icetree/part"
)

var (
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrMissingFile      = errors.New("file listed in checksums is missing")
	ErrUnexpectedFile   = errors.New("file is not listed in checksums")
	ErrBadVarint        = errors.New("malformed varint")
)

func readUvarint(raw []byte) (uint64, int, error) {
	v, n := binary.Uvarint(raw)
	if n <= 0 {
		return 0, 0, ErrBadVarint
	}
	return v, n, nil
}

// VerifyChecksums recomputes the size and hash of every file of the part.
// Compressed files also have their decompressed content checked. A projection
// is listed as one entry for its directory, it is checked against the
// checksums.txt inside that directory. Every problem found is reported,
// joined into one error.
func (r *Reader) VerifyChecksums(ctx context.Context) error {
	checksums := r.Part.Checksums
	errs, err := verifyFiles(ctx, r.storage, "", checksums)
	if err != nil {
		return err
	}

	files, err := r.storage.ListFiles(ctx)
	if err != nil {
		return err
	}
	for _, name := range files {
		if name == part.ChecksumsFileName || datastore.IsTempFile(name) {
			continue
		}
		// object stores list the files of projections too
		if dir, _, nested := strings.Cut(name, "/"); nested && part.IsProjectionDir(dir) {
			if _, ok := checksums.Get(dir); ok {
				continue
			}
		}
		if _, ok := checksums.Get(name); !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnexpectedFile, name))
		}
	}
	return errors.Join(errs...)
}

// verifyFiles checks the files listed in checksums, names are relative to dir
func verifyFiles(ctx context.Context, storage datastore.PartStorage, dir string, checksums *part.Checksums) ([]error, error) {
	var errs []error
	for _, name := range checksums.Names() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		want := checksums.Files[name]
		if part.IsProjectionDir(name) && dir == "" {
			projErrs, err := verifyProjection(ctx, storage, name, want)
			if err != nil {
				return nil, err
			}
			errs = append(errs, projErrs...)
			continue
		}
		raw, err := storage.ReadFile(ctx, dir+name)
		if errors.Is(err, datastore.ErrFileNotFound) {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingFile, dir+name))
			continue
		}
		if err != nil {
			return nil, err
		}
		got := part.HashBytes(raw)
		if got.FileSize != want.FileSize || got.FileHash != want.FileHash {
			errs = append(errs, fmt.Errorf("%w: %s has size %d hash %016x, expected size %d hash %016x", ErrChecksumMismatch, dir+name, got.FileSize, got.FileHash, want.FileSize, want.FileHash))
			continue
		}
		if want.IsCompressed {
			size, hash, err := uncompressedChecksum(raw)
			if err != nil {
				errs = append(errs, fmt.Errorf("error decompressing %s: %w", dir+name, err))
				continue
			}
			if size != want.UncompressedSize || hash != want.UncompressedHash {
				errs = append(errs, fmt.Errorf("%w: uncompressed %s has size %d hash %016x, expected size %d hash %016x", ErrChecksumMismatch, dir+name, size, hash, want.UncompressedSize, want.UncompressedHash))
			}
		}
	}
	return errs, nil
}

// verifyProjection matches the totals of the projection's own checksums.txt
// against the entry of the parent, then checks the projection's files
func verifyProjection(ctx context.Context, storage datastore.PartStorage, name string, want part.Checksum) ([]error, error) {
	dir := name + "/"
	raw, err := storage.ReadFile(ctx, dir+part.ChecksumsFileName)
	if errors.Is(err, datastore.ErrFileNotFound) {
		return []error{fmt.Errorf("%w: %s", ErrMissingFile, dir+part.ChecksumsFileName)}, nil
	}
	if err != nil {
		return nil, err
	}
	checksums, err := part.ReadChecksums(bytes.NewReader(raw))
	if err != nil {
		return []error{fmt.Errorf("error reading checksums of projection %s: %w", name, err)}, nil
	}
	size, hash := checksums.TotalSizeOnDisk(), checksums.TotalChecksum()
	if size != want.FileSize || hash != want.FileHash {
		return []error{fmt.Errorf("%w: projection %s has size %d hash %016x, expected size %d hash %016x", ErrChecksumMismatch, name, size, hash, want.FileSize, want.FileHash)}, nil
	}
	return verifyFiles(ctx, storage, dir, checksums)
}

func uncompressedChecksum(raw []byte) (uint64, uint64, error) {
	d := xxhash.New()
	var size uint64
	for len(raw) > 0 {
		block, rest, err := compression.DecodeBlock(raw)
		if err != nil {
			return 0, 0, err
		}
		_, _ = d.Write(block)
		size += uint64(len(block))
		raw = rest
	}
	return size, d.Sum64(), nil
}
