package part_writer

import (
	"github.com/danthegoodman1/icetree/utils"
)

type Settings struct {
	// IndexGranularity is the number of rows in a full granule
	IndexGranularity int
	// RatioOfDefaultsForSparse is the share of default values from which a column is stored sparse
	RatioOfDefaultsForSparse          float64
	EnableIndexGranularityCompression bool
	FsyncAfterInsert                  bool
	DefaultCodec                      string
	// PruneDefaultColumns drops columns that only hold default values from a finished part
	PruneDefaultColumns bool
	MetadataVersion     int64
}

func DefaultSettings() Settings {
	return Settings{
		IndexGranularity:                  8192,
		RatioOfDefaultsForSparse:          0.9375,
		EnableIndexGranularityCompression: true,
		FsyncAfterInsert:                  false,
		DefaultCodec:                      "ZSTD(1)",
		PruneDefaultColumns:               false,
		MetadataVersion:                   0,
	}
}

func SettingsFromEnv() Settings {
	d := DefaultSettings()
	return Settings{
		IndexGranularity:                  int(utils.GetEnvOrDefaultInt("INDEX_GRANULARITY", int64(d.IndexGranularity))),
		RatioOfDefaultsForSparse:          utils.GetEnvOrDefaultFloat("RATIO_OF_DEFAULTS_FOR_SPARSE", d.RatioOfDefaultsForSparse),
		EnableIndexGranularityCompression: utils.GetEnvOrDefaultBool("ENABLE_INDEX_GRANULARITY_COMPRESSION", d.EnableIndexGranularityCompression),
		FsyncAfterInsert:                  utils.GetEnvOrDefaultBool("FSYNC_AFTER_INSERT", d.FsyncAfterInsert),
		DefaultCodec:                      utils.GetEnvOrDefault("DEFAULT_CODEC", d.DefaultCodec),
		PruneDefaultColumns:               utils.GetEnvOrDefaultBool("PRUNE_DEFAULT_COLUMNS", d.PruneDefaultColumns),
		MetadataVersion:                   utils.GetEnvOrDefaultInt("METADATA_VERSION", d.MetadataVersion),
	}
}
