package part

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/danthegoodman1/icetree/block"
	"github.com/danthegoodman1/icetree/compression"
	"github.com/danthegoodman1/icetree/datastore"
	"github.com/google/uuid"
)

const MarkSize = 24

var (
	ErrBadPartName = errors.New("malformed part name")
	ErrBadMarks    = errors.New("malformed marks file")
)

type (
	// PartInfo identifies a part as partition_minBlock_maxBlock_level
	PartInfo struct {
		PartitionID string
		MinBlock    int64
		MaxBlock    int64
		Level       int
	}

	Part struct {
		Info  PartInfo
		Table string
		UUID  uuid.UUID

		Columns block.NamesAndTypes
		// SortingKey are the columns the rows are ordered by, they form the primary index
		SortingKey []string

		RowsCount uint64
		// ExistingRowsCount excludes rows that are masked as deleted, nil means all rows exist
		ExistingRowsCount *uint64

		BytesOnDisk       uint64
		BytesUncompressed uint64
		ColumnSizes       map[string]ColumnSize

		TTLInfos           TTLInfos
		Partition          PartitionValue
		MinMax             *MinMaxIndex
		SerializationInfos *SerializationInfos
		Substreams         ColumnsSubstreams
		Checksums          *Checksums
		IndexGranularity   IndexGranularity
		// PrimaryIndex holds the sorting key values at the first row of every granule
		PrimaryIndex []block.Column

		DefaultCodec    compression.Codec
		MetadataVersion int64
		SourcePartsSet  SourcePartsSet

		Projections  map[string]*Part
		IsProjection bool

		ModificationTime time.Time
		Storage          datastore.PartStorage
	}

	ColumnSize struct {
		DataCompressed   uint64
		DataUncompressed uint64
		Marks            uint64
	}

	// Mark locates the start of a granule inside a column's data file
	Mark struct {
		// DataOffset is the offset of the compressed block in the data file
		DataOffset uint64
		// SubOffset is the offset inside the decompressed block
		SubOffset uint64
		Rows      uint64
	}
)

func (pi PartInfo) Name() string {
	return fmt.Sprintf("%s_%d_%d_%d", pi.PartitionID, pi.MinBlock, pi.MaxBlock, pi.Level)
}

func (pi PartInfo) TmpName() string {
	return TmpPartPrefix + pi.Name()
}

// Contains is true when pi covers the whole block range of other at a higher level
func (pi PartInfo) Contains(other PartInfo) bool {
	return pi.PartitionID == other.PartitionID &&
		pi.MinBlock <= other.MinBlock &&
		pi.MaxBlock >= other.MaxBlock &&
		pi.Level > other.Level
}

func ParsePartName(name string) (PartInfo, error) {
	name = strings.TrimPrefix(name, TmpPartPrefix)
	fields := strings.Split(name, "_")
	if len(fields) < 4 {
		return PartInfo{}, fmt.Errorf("%w: %q", ErrBadPartName, name)
	}
	n := len(fields)
	minBlock, err := strconv.ParseInt(fields[n-3], 10, 64)
	if err != nil {
		return PartInfo{}, fmt.Errorf("%w: %q: %s", ErrBadPartName, name, err)
	}
	maxBlock, err := strconv.ParseInt(fields[n-2], 10, 64)
	if err != nil {
		return PartInfo{}, fmt.Errorf("%w: %q: %s", ErrBadPartName, name, err)
	}
	level, err := strconv.Atoi(fields[n-1])
	if err != nil {
		return PartInfo{}, fmt.Errorf("%w: %q: %s", ErrBadPartName, name, err)
	}
	return PartInfo{
		PartitionID: strings.Join(fields[:n-3], "_"),
		MinBlock:    minBlock,
		MaxBlock:    maxBlock,
		Level:       level,
	}, nil
}

// NewPart starts an in-construction part. It has a fresh UUID and an adaptive granularity.
func NewPart(table string, info PartInfo, columns block.NamesAndTypes, storage datastore.PartStorage) *Part {
	return &Part{
		Info:             info,
		Table:            table,
		UUID:             uuid.New(),
		Columns:          columns,
		TTLInfos:         NewTTLInfos(),
		MinMax:           NewMinMaxIndex(nil),
		Checksums:        NewChecksums(),
		IndexGranularity: NewAdaptiveGranularity(),
		Projections:      map[string]*Part{},
		Storage:          storage,
	}
}

// NewProjection starts the part of projection name and registers it with p.
// The projection lives in its own directory inside p, storage points there.
func (p *Part) NewProjection(name string, columns block.NamesAndTypes, storage datastore.PartStorage) *Part {
	proj := NewPart(p.Table, p.Info, columns, storage)
	proj.UUID = uuid.Nil
	proj.IsProjection = true
	p.Projections[name] = proj
	return proj
}

func (p *Part) Name() string {
	if p.Storage != nil {
		return p.Storage.PartName()
	}
	return p.Info.Name()
}

// ExistingRows falls back to the row count when no rows are masked
func (p *Part) ExistingRows() uint64 {
	if p.ExistingRowsCount == nil {
		return p.RowsCount
	}
	return *p.ExistingRowsCount
}

// SetBytesFromChecksums derives the on-disk sizes from the final checksums
func (p *Part) SetBytesFromChecksums() {
	p.BytesOnDisk = p.Checksums.TotalSizeOnDisk()
	p.BytesUncompressed = p.Checksums.TotalSizeUncompressed()
}

// CalculateColumnSizes sums the files of each column as listed in the checksums
func (p *Part) CalculateColumnSizes() {
	p.ColumnSizes = make(map[string]ColumnSize, len(p.Columns))
	for _, c := range p.Columns {
		var size ColumnSize
		for _, name := range []string{DataFileName(c.Name), SparseOffsetsFileName(c.Name)} {
			if sum, ok := p.Checksums.Get(name); ok {
				size.DataCompressed += sum.FileSize
				if sum.IsCompressed {
					size.DataUncompressed += sum.UncompressedSize
				} else {
					size.DataUncompressed += sum.FileSize
				}
			}
		}
		if sum, ok := p.Checksums.Get(MarksFileName(c.Name)); ok {
			size.Marks = sum.FileSize
		}
		p.ColumnSizes[c.Name] = size
	}
}

func (m Mark) Append(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, m.DataOffset)
	buf = binary.LittleEndian.AppendUint64(buf, m.SubOffset)
	return binary.LittleEndian.AppendUint64(buf, m.Rows)
}

func DecodeMarks(raw []byte) ([]Mark, error) {
	if len(raw)%MarkSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrBadMarks, len(raw), MarkSize)
	}
	marks := make([]Mark, 0, len(raw)/MarkSize)
	for off := 0; off < len(raw); off += MarkSize {
		marks = append(marks, Mark{
			DataOffset: binary.LittleEndian.Uint64(raw[off:]),
			SubOffset:  binary.LittleEndian.Uint64(raw[off+8:]),
			Rows:       binary.LittleEndian.Uint64(raw[off+16:]),
		})
	}
	return marks, nil
}

func (p *Part) String() string {
	return fmt.Sprintf("Part{%s, rows=%d, bytes=%d}", p.Name(), p.RowsCount, p.BytesOnDisk)
}
