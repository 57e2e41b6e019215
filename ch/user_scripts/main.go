// Executable ClickHouse UDF: reads `table\tfrom_partition\tto_partition` on
// stdin and prints an S3 glob of the active parts in that partition range.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"sort"
	"strings"

	"github.com/danthegoodman1/icetree/crdb"
	"github.com/danthegoodman1/icetree/metastore"
	"github.com/danthegoodman1/icetree/utils"
	"github.com/rs/zerolog"
)

var (
	// stdout is the UDF result, so logs go to a file
	LOG_FILE    = utils.GetEnvOrDefault("UDF_LOG_FILE", "/tmp/icetree_udf.log")
	PARTS_URL   = utils.GetEnvOrDefault("UDF_PARTS_URL", "http://minio:9000/testbucket")
	COLUMN_GLOB = utils.GetEnvOrDefault("UDF_COLUMN_GLOB", "*.bin")
)

func main() {
	logout, err := os.OpenFile(LOG_FILE, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error opening log file:", err)
		os.Exit(1)
	}
	defer logout.Close()
	logger := zerolog.New(logout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	defer func() {
		if err := recover(); err != nil {
			logger.Error().Interface("panic", err).Str("stack", string(debug.Stack())).Msg("panic occurred")
			os.Exit(1)
		}
	}()

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		logger.Fatal().Err(err).Msg("error reading stdin")
	}
	table, from, to, err := parseArgs(line)
	if err != nil {
		logger.Fatal().Err(err).Msg("bad input")
	}
	logger.Debug().Str("table", table).Str("from", from).Str("to", to).Msg("got partition range")

	if err := crdb.ConnectToDB(ctx, utils.CRDB_DSN); err != nil {
		logger.Fatal().Err(err).Msg("error connecting to CRDB")
	}
	ms := metastore.NewCRDBMetaStore(crdb.PGPool)
	defer ms.Shutdown(ctx)

	out, err := partsGlob(ctx, ms, PARTS_URL, table, from, to)
	if err != nil {
		logger.Fatal().Err(err).Msg("error listing parts")
	}
	logger.Debug().Str("out", out).Msg("writing out")
	fmt.Print(out)
}

func parseArgs(line string) (table, from, to string, err error) {
	args := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	if len(args) != 3 {
		return "", "", "", fmt.Errorf("expected 3 tab separated args, got %d", len(args))
	}
	return args[0], args[1], args[2], nil
}

// partsGlob lists the active parts with from <= partition ID <= to and formats
// them as a ClickHouse url() glob over their column files
func partsGlob(ctx context.Context, ms metastore.MetaStore, baseURL, table, from, to string) (string, error) {
	parts, err := ms.ListParts(ctx, table,
		metastore.FilterOption{Operator: metastore.GTE, Val: from},
		metastore.FilterOption{Operator: metastore.LTE, Val: to},
	)
	if err != nil {
		return "", fmt.Errorf("error in ListParts: %w", err)
	}
	if len(parts) == 0 {
		return "", nil
	}
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return fmt.Sprintf("%s/%s/{%s}/%s", strings.TrimRight(baseURL, "/"), table, strings.Join(names, ","), COLUMN_GLOB), nil
}
