package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danthegoodman1/icetree/crdb"
	"github.com/danthegoodman1/icetree/datastore"
	"github.com/danthegoodman1/icetree/gologger"
	"github.com/danthegoodman1/icetree/http_server"
	"github.com/danthegoodman1/icetree/metastore"
	"github.com/danthegoodman1/icetree/migrations"
	"github.com/danthegoodman1/icetree/part_writer"
	"github.com/danthegoodman1/icetree/table"
	"github.com/danthegoodman1/icetree/utils"
)

var logger = gologger.NewLogger()

func newDataStore() (datastore.DataStore, error) {
	switch utils.STORAGE_BACKEND {
	case "disk":
		return datastore.NewDiskDataStore(utils.DATA_DIR)
	case "s3":
		return datastore.NewS3DataStoreFromEnv()
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", utils.STORAGE_BACKEND)
	}
}

func newMetaStore(ctx context.Context) (metastore.MetaStore, error) {
	switch utils.METASTORE {
	case "crdb":
		if err := crdb.ConnectToDB(ctx, utils.CRDB_DSN); err != nil {
			return nil, fmt.Errorf("error connecting to CRDB: %w", err)
		}
		if utils.GetEnvOrDefaultBool("AUTO_MIGRATE", false) {
			if _, err := migrations.RunMigrations(utils.CRDB_DSN); err != nil {
				return nil, fmt.Errorf("error running migrations: %w", err)
			}
		}
		if err := migrations.CheckMigrations(utils.CRDB_DSN); err != nil {
			return nil, fmt.Errorf("error checking migrations: %w", err)
		}
		return metastore.NewCRDBMetaStore(crdb.PGPool), nil
	case "redis":
		return metastore.NewRedisMetaStore(ctx)
	case "memory":
		logger.Warn().Msg("using the in memory metastore, the catalog is lost on restart")
		return metastore.NewMemoryMetaStore(), nil
	default:
		return nil, fmt.Errorf("unknown METASTORE %q", utils.METASTORE)
	}
}

func main() {
	logger.Debug().Msg("starting icetree")
	ctx := logger.WithContext(context.Background())

	ds, err := newDataStore()
	if err != nil {
		logger.Error().Err(err).Msg("error creating datastore")
		os.Exit(1)
	}

	ms, err := newMetaStore(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("error creating metastore")
		os.Exit(1)
	}

	svc := table.NewService(ms, ds, part_writer.SettingsFromEnv())
	httpServer := http_server.StartHTTPServer(svc)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	logger.Warn().Msg("received shutdown signal!")

	// For AWS ALB needing some time to de-register pod
	// Convert the time to seconds
	sleepTime := utils.GetEnvOrDefaultInt("SHUTDOWN_SLEEP_SEC", 0)
	logger.Info().Msg(fmt.Sprintf("sleeping for %ds before exiting", sleepTime))

	time.Sleep(time.Second * time.Duration(sleepTime))
	logger.Info().Msg(fmt.Sprintf("slept for %ds, exiting", sleepTime))

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown HTTP server")
	} else {
		logger.Info().Msg("successfully shutdown HTTP server")
	}
	if err := ms.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown metastore")
	}
	if err := ds.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown datastore")
	}
}
