package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/pkg/errors"
)

var migrationFilePattern = regexp.MustCompile(`^(\d+)_.*\.up\.sql$`)

// migrationLogger adapts ectologger to migrate.Logger.
type migrationLogger struct {
	ectologger.Logger
}

func (l migrationLogger) Verbose() bool {
	return false
}

func (l migrationLogger) Printf(format string, v ...any) {
	l.Infof(format, v...)
}

type MigrationConfig struct {
	MigrationFolderPath string
	Version             uint
	Force               int
	// AutoRollback forces a dirty database back to the version it had before the failed run.
	AutoRollback bool
}

type MigrationService struct {
	config MigrationConfig
	logger ectologger.Logger
}

func NewMigrationService(logger ectologger.Logger, config MigrationConfig) *MigrationService {
	return &MigrationService{
		config: config,
		logger: logger,
	}
}

func (ms *MigrationService) folder() (string, error) {
	folder := ms.config.MigrationFolderPath
	if !filepath.IsAbs(folder) {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		folder = filepath.Join(wd, folder)
	}
	if _, err := os.Stat(folder); err != nil {
		return "", errors.Wrapf(err, "migration folder %s does not exist", folder)
	}
	return folder, nil
}

// MigratePostgres applies the migration folder to db.
func (ms *MigrationService) MigratePostgres(db *sql.DB, databaseName string) error {
	folder, err := ms.folder()
	if err != nil {
		return err
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{DatabaseName: databaseName})
	if err != nil {
		return errors.Wrap(err, "failed to create postgres migration driver")
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+folder, databaseName, driver)
	if err != nil {
		ms.logger.WithError(err).Error("Failed to create migrate instance")
		return err
	}
	m.Log = migrationLogger{Logger: ms.logger}

	return ms.run(m, folder)
}

func (ms *MigrationService) run(m *migrate.Migrate, folder string) error {
	if ms.config.Force != 0 {
		if err := m.Force(ms.config.Force); err != nil {
			ms.logger.WithError(err).Errorf("Failed to force database to version %d", ms.config.Force)
			return err
		}
	}

	previous, _, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		ms.logger.WithError(err).Warn("Failed to read current migration version")
	}

	if latest, lerr := LatestVersion(folder); lerr == nil {
		ms.logger.Infof("Database is at version %d, latest migration is %d", previous, latest)
	}

	start := time.Now()
	if ms.config.Version != 0 {
		err = m.Migrate(ms.config.Version)
	} else {
		err = m.Up()
	}
	ms.logger.Infof("Database migrations finished in %v", time.Since(start))

	switch {
	case err == nil:
		ms.logger.Info("Successfully applied migrations")
		return nil
	case err == migrate.ErrNoChange:
		ms.logger.Info("No new migrations to apply")
		return nil
	}

	ms.logger.WithError(err).Error("Migration failed")

	version, dirty, verr := m.Version()
	if verr != nil || !dirty || !ms.config.AutoRollback {
		return err
	}

	target := int(previous)
	if target == 0 && version > 0 {
		target = int(version) - 1
	}
	ms.logger.Warnf("Database is dirty at version %d, forcing back to %d", version, target)
	if ferr := m.Force(target); ferr != nil {
		ms.logger.WithError(ferr).Errorf("Failed to force database to version %d", target)
	}

	// the original error still stops startup
	return err
}

// LatestVersion returns the highest migration version in folder.
func LatestVersion(folder string) (int, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return 0, err
	}

	var versions []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := migrationFilePattern.FindStringSubmatch(entry.Name())
		if len(matches) < 2 {
			continue
		}
		v, err := strconv.Atoi(matches[1])
		if err != nil {
			return 0, err
		}
		versions = append(versions, v)
	}

	if len(versions) == 0 {
		return 0, fmt.Errorf("no migration files found in %s", folder)
	}

	sort.Ints(versions)
	return versions[len(versions)-1], nil
}
