package part

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const checksumsFormatVersion = 2

var (
	ErrChecksumConflict = errors.New("conflicting checksums for the same file")
	ErrBadChecksumsFile = errors.New("malformed checksums file")
)

type (
	Checksum struct {
		FileSize uint64
		FileHash uint64

		IsCompressed     bool
		UncompressedSize uint64
		UncompressedHash uint64
	}

	// Checksums maps a file name relative to the part directory to its checksum
	Checksums struct {
		Files map[string]Checksum
	}

	// HashingWriter counts and hashes exactly the bytes written through it
	HashingWriter struct {
		w      io.Writer
		digest *xxhash.Digest
		count  uint64
	}
)

func NewChecksums() *Checksums {
	return &Checksums{Files: map[string]Checksum{}}
}

func (c *Checksums) AddFile(name string, size, hash uint64) {
	c.Files[name] = Checksum{FileSize: size, FileHash: hash}
}

func (c *Checksums) Add(name string, sum Checksum) {
	c.Files[name] = sum
}

func (c *Checksums) Get(name string) (Checksum, bool) {
	sum, ok := c.Files[name]
	return sum, ok
}

func (c *Checksums) Remove(name string) {
	delete(c.Files, name)
}

func (c *Checksums) Len() int {
	return len(c.Files)
}

// Names returns the file names in sorted order
func (c *Checksums) Names() []string {
	names := make([]string, 0, len(c.Files))
	for name := range c.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge adds every entry of other. An entry for a file already present is
// accepted only if it is identical, anything else is ErrChecksumConflict.
func (c *Checksums) Merge(other *Checksums) error {
	if other == nil {
		return nil
	}
	for _, name := range other.Names() {
		sum := other.Files[name]
		if existing, ok := c.Files[name]; ok && existing != sum {
			return fmt.Errorf("%w: %s (size %d hash %x vs size %d hash %x)", ErrChecksumConflict, name, existing.FileSize, existing.FileHash, sum.FileSize, sum.FileHash)
		}
		c.Files[name] = sum
	}
	return nil
}

func (c *Checksums) TotalSizeOnDisk() uint64 {
	var total uint64
	for _, sum := range c.Files {
		total += sum.FileSize
	}
	return total
}

func (c *Checksums) TotalSizeUncompressed() uint64 {
	var total uint64
	for _, sum := range c.Files {
		if sum.IsCompressed {
			total += sum.UncompressedSize
		} else {
			total += sum.FileSize
		}
	}
	return total
}

// TotalChecksum hashes every entry in name order, so it only depends on the content
func (c *Checksums) TotalChecksum() uint64 {
	d := xxhash.New()
	var buf [8]byte
	for _, name := range c.Names() {
		sum := c.Files[name]
		_, _ = d.WriteString(name)
		for _, v := range []uint64{sum.FileSize, sum.FileHash, sum.UncompressedSize, sum.UncompressedHash} {
			putUint64(buf[:], v)
			_, _ = d.Write(buf[:])
		}
	}
	return d.Sum64()
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func (c *Checksums) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "checksums format version: %d\n", checksumsFormatVersion)
	fmt.Fprintf(bw, "%d files:\n", len(c.Files))
	for _, name := range c.Names() {
		sum := c.Files[name]
		fmt.Fprintf(bw, "%s\n\tsize: %d\n\thash: %016x\n\tcompressed: %d\n", name, sum.FileSize, sum.FileHash, boolToInt(sum.IsCompressed))
		if sum.IsCompressed {
			fmt.Fprintf(bw, "\tuncompressed size: %d\n\tuncompressed hash: %016x\n", sum.UncompressedSize, sum.UncompressedHash)
		}
	}
	return bw.Flush()
}

func ReadChecksums(r io.Reader) (*Checksums, error) {
	lr := newLineReader(r)
	var version int
	if err := lr.scanf("checksums format version: %d", &version); err != nil {
		return nil, err
	}
	if version != checksumsFormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadChecksumsFile, version)
	}
	var count int
	if err := lr.scanf("%d files:", &count); err != nil {
		return nil, err
	}
	c := NewChecksums()
	for i := 0; i < count; i++ {
		name, err := lr.line()
		if err != nil {
			return nil, err
		}
		var sum Checksum
		var compressed int
		if err := lr.scanf("\tsize: %d", &sum.FileSize); err != nil {
			return nil, err
		}
		if err := lr.scanHex("\thash: ", &sum.FileHash); err != nil {
			return nil, err
		}
		if err := lr.scanf("\tcompressed: %d", &compressed); err != nil {
			return nil, err
		}
		if compressed == 1 {
			sum.IsCompressed = true
			if err := lr.scanf("\tuncompressed size: %d", &sum.UncompressedSize); err != nil {
				return nil, err
			}
			if err := lr.scanHex("\tuncompressed hash: ", &sum.UncompressedHash); err != nil {
				return nil, err
			}
		}
		c.Files[name] = sum
	}
	return c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func NewHashingWriter(w io.Writer) *HashingWriter {
	return &HashingWriter{w: w, digest: xxhash.New()}
}

func (hw *HashingWriter) Write(p []byte) (int, error) {
	n, err := hw.w.Write(p)
	_, _ = hw.digest.Write(p[:n])
	hw.count += uint64(n)
	return n, err
}

func (hw *HashingWriter) Count() uint64 { return hw.count }

func (hw *HashingWriter) Hash() uint64 { return hw.digest.Sum64() }

func (hw *HashingWriter) Checksum() Checksum {
	return Checksum{FileSize: hw.count, FileHash: hw.Hash()}
}

// HashBytes is the checksum of an in-memory file
func HashBytes(b []byte) Checksum {
	return Checksum{FileSize: uint64(len(b)), FileHash: xxhash.Sum64(b)}
}

type lineReader struct {
	s   *bufio.Scanner
	num int
}

func newLineReader(r io.Reader) *lineReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &lineReader{s: s}
}

func (lr *lineReader) line() (string, error) {
	if !lr.s.Scan() {
		if err := lr.s.Err(); err != nil {
			return "", fmt.Errorf("error in Scan: %w", err)
		}
		return "", fmt.Errorf("%w: unexpected end of file after line %d", io.ErrUnexpectedEOF, lr.num)
	}
	lr.num++
	return lr.s.Text(), nil
}

func (lr *lineReader) scanf(format string, args ...any) error {
	l, err := lr.line()
	if err != nil {
		return err
	}
	if _, err := fmt.Sscanf(l, format, args...); err != nil {
		return fmt.Errorf("line %d %q: error in Sscanf: %w", lr.num, l, err)
	}
	return nil
}

func (lr *lineReader) scanHex(prefix string, v *uint64) error {
	l, err := lr.line()
	if err != nil {
		return err
	}
	if !strings.HasPrefix(l, prefix) {
		return fmt.Errorf("line %d %q: expected prefix %q", lr.num, l, prefix)
	}
	parsed, err := strconv.ParseUint(l[len(prefix):], 16, 64)
	if err != nil {
		return fmt.Errorf("line %d: error in ParseUint: %w", lr.num, err)
	}
	*v = parsed
	return nil
}
