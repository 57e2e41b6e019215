package part

import "strings"

const (
	UUIDFileName                    = "uuid.txt"
	PartitionFileName               = "partition.dat"
	SourcePartsSetFileName          = "source_parts_set"
	CountFileName                   = "count.txt"
	TTLFileName                     = "ttl.txt"
	SerializationFileName           = "serialization.json"
	ColumnsFileName                 = "columns.txt"
	ColumnsSubstreamsFileName       = "columns_substreams.txt"
	MetadataVersionFileName         = "metadata_version.txt"
	DefaultCompressionCodecFileName = "default_compression_codec.txt"
	ChecksumsFileName               = "checksums.txt"
	PrimaryIndexFileName            = "primary.idx"

	DataFileExtension       = ".bin"
	MarksFileExtension      = ".mrk"
	SparseOffsetsFileSuffix = ".sparse.idx.bin"
	ProjectionDirExtension  = ".proj"

	minMaxFilePrefix     = "minmax_"
	skipIndexFilePrefix  = "skp_idx_"
	statisticsFilePrefix = "statistics_"
	// TmpPartPrefix marks a part that is still under construction
	TmpPartPrefix = "tmp_"
)

func MinMaxFileName(column string) string {
	return minMaxFilePrefix + escapeFileName(column) + ".idx"
}

func DataFileName(column string) string {
	return escapeFileName(column) + DataFileExtension
}

func MarksFileName(column string) string {
	return escapeFileName(column) + MarksFileExtension
}

func SparseOffsetsFileName(column string) string {
	return escapeFileName(column) + SparseOffsetsFileSuffix
}

func SkipIndexFileName(index string) string {
	return skipIndexFilePrefix + escapeFileName(index) + ".idx"
}

func StatisticsFileName(column string) string {
	return statisticsFilePrefix + escapeFileName(column) + ".stats"
}

func ProjectionFileName(projection string) string {
	return escapeFileName(projection) + ProjectionDirExtension
}

// IsProjectionDir reports whether a checksums entry names a projection directory
func IsProjectionDir(name string) bool {
	return strings.HasSuffix(name, ProjectionDirExtension)
}

// ColumnFiles lists every file a column may own in a wide part
func ColumnFiles(column string) []string {
	return []string{DataFileName(column), MarksFileName(column), SparseOffsetsFileName(column), StatisticsFileName(column)}
}

// escapeFileName percent-encodes bytes that are unsafe in a file name
func escapeFileName(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte("0123456789ABCDEF"[c>>4])
		sb.WriteByte("0123456789ABCDEF"[c&15])
	}
	return sb.String()
}
