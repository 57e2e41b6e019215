package part

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/danthegoodman1/icetree/block"
	"github.com/danthegoodman1/icetree/datastore"
)

var ErrBadPartitionFile = errors.New("malformed partition file")

type (
	// MinMaxIndex holds the range of every partition key source column
	MinMaxIndex struct {
		Columns     block.NamesAndTypes
		Min         []any
		Max         []any
		Initialized bool
	}

	// PartitionValue is the ordered partition key of a part
	PartitionValue struct {
		Names  []string
		Values []string
	}
)

func NewMinMaxIndex(columns block.NamesAndTypes) *MinMaxIndex {
	return &MinMaxIndex{Columns: columns}
}

// Enabled reports whether the table has any partition key column to index
func (m *MinMaxIndex) Enabled() bool {
	return m != nil && len(m.Columns) > 0
}

// HasValues is false for an index that was initialized from zero rows
func (m *MinMaxIndex) HasValues() bool {
	return m.Initialized && m.Min != nil
}

// Update widens the index with the rows of b and marks it initialized
func (m *MinMaxIndex) Update(b block.Block) error {
	cols := make([]block.Column, len(m.Columns))
	for i, nt := range m.Columns {
		c, ok := b.ByName(nt.Name)
		if !ok {
			return fmt.Errorf("%w: minmax column %s", block.ErrColumnNotFound, nt.Name)
		}
		cols[i] = c
	}
	m.Initialized = true
	if b.Rows() == 0 {
		return nil
	}
	if m.Min == nil {
		m.Min = make([]any, len(cols))
		m.Max = make([]any, len(cols))
		for i, c := range cols {
			m.Min[i] = c.ValueAt(0)
			m.Max[i] = c.ValueAt(0)
		}
	}
	for i, c := range cols {
		for row := 0; row < c.Len(); row++ {
			v := c.ValueAt(row)
			if block.CompareValues(v, m.Min[i]) < 0 {
				m.Min[i] = v
			}
			if block.CompareValues(v, m.Max[i]) > 0 {
				m.Max[i] = v
			}
		}
	}
	return nil
}

// Merge widens the index with another part's index
func (m *MinMaxIndex) Merge(other *MinMaxIndex) {
	if other == nil || !other.Initialized {
		return
	}
	m.Initialized = true
	if !other.HasValues() {
		return
	}
	if m.Min == nil {
		m.Min = append([]any(nil), other.Min...)
		m.Max = append([]any(nil), other.Max...)
		return
	}
	for i := range m.Min {
		if block.CompareValues(other.Min[i], m.Min[i]) < 0 {
			m.Min[i] = other.Min[i]
		}
		if block.CompareValues(other.Max[i], m.Max[i]) > 0 {
			m.Max[i] = other.Max[i]
		}
	}
}

// Store writes one minmax_<col>.idx per column. An index built from zero rows
// writes empty files.
func (m *MinMaxIndex) Store(ctx context.Context, storage datastore.PartStorage, checksums *Checksums) ([]datastore.WriteBuffer, error) {
	var written []datastore.WriteBuffer
	for i, nt := range m.Columns {
		var content []byte
		if m.HasValues() {
			var err error
			if content, err = block.AppendEncodedValue(content, nt.Type, m.Min[i]); err == nil {
				content, err = block.AppendEncodedValue(content, nt.Type, m.Max[i])
			}
			if err != nil {
				for _, prev := range written {
					prev.Cancel()
				}
				return nil, fmt.Errorf("error encoding minmax of %s: %w", nt.Name, err)
			}
		}
		wb, err := WriteHashedFile(ctx, storage, MinMaxFileName(nt.Name), checksums, func(w io.Writer) error {
			_, err := w.Write(content)
			return err
		})
		if err != nil {
			for _, prev := range written {
				prev.Cancel()
			}
			return nil, err
		}
		written = append(written, wb)
	}
	return written, nil
}

func LoadMinMaxIndex(ctx context.Context, storage datastore.PartStorage, columns block.NamesAndTypes) (*MinMaxIndex, error) {
	m := NewMinMaxIndex(columns)
	for i, nt := range columns {
		raw, err := storage.ReadFile(ctx, MinMaxFileName(nt.Name))
		if errors.Is(err, datastore.ErrFileNotFound) {
			return m, nil
		}
		if err != nil {
			return nil, err
		}
		m.Initialized = true
		if len(raw) == 0 {
			continue
		}
		if m.Min == nil {
			m.Min = make([]any, len(columns))
			m.Max = make([]any, len(columns))
		}
		if m.Min[i], raw, err = block.DecodeValue(nt.Type, raw); err != nil {
			return nil, fmt.Errorf("error decoding min of %s: %w", nt.Name, err)
		}
		if m.Max[i], _, err = block.DecodeValue(nt.Type, raw); err != nil {
			return nil, fmt.Errorf("error decoding max of %s: %w", nt.Name, err)
		}
	}
	return m, nil
}

func (p PartitionValue) Empty() bool {
	return len(p.Names) == 0
}

// ID is the partition part of a part name
func (p PartitionValue) ID() string {
	if len(p.Values) == 0 {
		return "all"
	}
	joined := strings.Join(p.Values, "-")
	for _, r := range joined {
		if !(r == '-' || r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return fmt.Sprintf("%016x", xxhash.Sum64String(joined))
		}
	}
	return joined
}

func (p PartitionValue) Equal(o PartitionValue) bool {
	return equalStrings(p.Values, o.Values)
}

func (p PartitionValue) encode() []byte {
	buf := binary.AppendUvarint(nil, uint64(len(p.Values)))
	for _, v := range p.Values {
		buf = binary.AppendUvarint(buf, uint64(len(v)))
		buf = append(buf, v...)
	}
	return buf
}

// Store writes partition.dat, nothing is written for an unpartitioned table
func (p PartitionValue) Store(ctx context.Context, storage datastore.PartStorage, checksums *Checksums) (datastore.WriteBuffer, error) {
	if p.Empty() {
		return nil, nil
	}
	content := p.encode()
	return WriteHashedFile(ctx, storage, PartitionFileName, checksums, func(w io.Writer) error {
		_, err := w.Write(content)
		return err
	})
}

func DecodePartitionValue(raw []byte, names []string) (PartitionValue, error) {
	n, read := binary.Uvarint(raw)
	if read <= 0 {
		return PartitionValue{}, ErrBadPartitionFile
	}
	raw = raw[read:]
	if int(n) != len(names) {
		return PartitionValue{}, fmt.Errorf("%w: %d values for %d partition columns", ErrBadPartitionFile, n, len(names))
	}
	p := PartitionValue{Names: names, Values: make([]string, 0, n)}
	for i := uint64(0); i < n; i++ {
		l, read := binary.Uvarint(raw)
		if read <= 0 || uint64(len(raw)-read) < l {
			return PartitionValue{}, fmt.Errorf("%w: value %d", ErrBadPartitionFile, i)
		}
		p.Values = append(p.Values, string(raw[read:read+int(l)]))
		raw = raw[read+int(l):]
	}
	return p, nil
}
