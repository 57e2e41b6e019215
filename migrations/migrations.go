package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/danthegoodman1/icetree/gologger"
	// ensure "pgx" driver is loaded
	_ "github.com/jackc/pgx/v4/stdlib"
	migrate "github.com/rubenv/sql-migrate"
)

var (
	//go:embed *.sql
	migrations embed.FS

	ErrMigrationsNotRun = errors.New("not all migrations applied")

	logger = gologger.NewLogger()
)

var (
	source = migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrations,
		Root:       ".",
	}
	migrationSet = migrate.MigrationSet{
		TableName: "icetree_migrations",
	}
)

func openDB(crdbDsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", crdbDsn)
	if err != nil {
		return nil, fmt.Errorf("error in sql.Open: %w", err)
	}
	return db, nil
}

// RunMigrations applies every pending migration of the catalog schema
func RunMigrations(crdbDsn string) (int, error) {
	db, err := openDB(crdbDsn)
	if err != nil {
		return 0, err
	}
	defer db.Close()
	n, err := migrationSet.Exec(db, "postgres", source, migrate.Up)
	if err != nil {
		return n, fmt.Errorf("error in migrate Exec: %w", err)
	}
	logger.Info().Int("applied", n).Msg("ran migrations")
	return n, nil
}

// CheckMigrations returns ErrMigrationsNotRun if the catalog schema is behind
func CheckMigrations(crdbDsn string) error {
	db, err := openDB(crdbDsn)
	if err != nil {
		return err
	}
	defer db.Close()
	planned, _, err := migrationSet.PlanMigration(db, "postgres", source, migrate.Up, 0)
	if err != nil {
		return fmt.Errorf("error in PlanMigration: %w", err)
	}
	for _, mig := range planned {
		logger.Warn().Str("migrationID", mig.Id).Msg("missing migration")
	}
	if len(planned) > 0 {
		return ErrMigrationsNotRun
	}
	return nil
}
