package app

import (
	"context"
	nativeerrors "errors"
	"fmt"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/lefinal/royale-server/embedded"
	"github.com/lefinal/royale-server/errors"
	"go.uber.org/zap"
)

// defaultMaxDBConnections is the maximum number of database connections that
// is used when no other one is provided in the Config.
const defaultMaxDBConnections = 16

// keyValTable is the table for internal key-value pairs.
const keyValTable = "royale"

// dbVersionKey is the key for the database version in keyValTable.
const dbVersionKey = "db-version"

// pgErrUndefinedTable is the Postgres error code for relations that do not
// exist.
const pgErrUndefinedTable = "42P01"

// dbVersion is used for determining the current database version. If the
// version does not exist, the database needs to be initialized. If it is and
// the latest version is greater, migrations are performed.
type dbVersion string

// dbVersionZero is used when no database version could be found.
const dbVersionZero dbVersion = "0"

// dbMigration is a migration to the given version.
type dbMigration struct {
	version dbVersion
	up      string
}

// dbMigrations are the sql migrations in an ordered list.
var dbMigrations = []dbMigration{
	{
		version: "1.0",
		up:      embedded.DBMigration1x0,
	},
	{
		version: "1.1",
		up:      embedded.DBMigration1x1,
	},
}

var dialect = goqu.Dialect("postgres")

// connectDB connects to the database with the given connection string, tests
// the connection and performs migrations.
func connectDB(ctx context.Context, logger *zap.Logger, connectionStr string, maxDBConnections int32) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(connectionStr)
	if err != nil {
		return nil, errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindDB,
			Err:     err,
			Message: "parse db connection string",
		}
	}
	poolConfig.MaxConns = maxDBConnections
	pool, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindDB,
			Err:     err,
			Message: "connect to database",
		}
	}
	err = testDBConnection(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "test db connection", nil)
	}
	err = performDBMigrations(ctx, logger, pool)
	if err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "perform db migrations", nil)
	}
	return pool, nil
}

// testDBConnection tests the database connection by simply querying 1.
func testDBConnection(ctx context.Context, db *pgxpool.Pool) error {
	q, _, err := dialect.Select(goqu.V(1)).ToSQL()
	if err != nil {
		return errors.NewQueryToSQLError(err, nil)
	}
	var got int
	err = db.QueryRow(ctx, q).Scan(&got)
	if err != nil {
		return errors.NewScanDBRowError(err, "test query failed", q)
	}
	if got != 1 {
		return errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindDB,
			Message: fmt.Sprintf("test db connection: expected 1 as result but got %d", got),
			Details: errors.Details{"got": got},
		}
	}
	return nil
}

// performDBMigrations performs all needed database migrations according to the
// (un)set database version. Migrations and the version update happen in a
// single transaction.
func performDBMigrations(ctx context.Context, logger *zap.Logger, db *pgxpool.Pool) error {
	currentVersion, err := retrieveCurrentDBVersion(ctx, db)
	if err != nil {
		return errors.Wrap(err, "retrieve current db version", nil)
	}
	logger.Info("current database version", zap.String("version", string(currentVersion)))
	migrationsToDo, err := getDBMigrationsToDo(currentVersion)
	if err != nil {
		return errors.Wrap(err, "get db migrations to do", nil)
	}
	if len(migrationsToDo) == 0 {
		return nil
	}
	tx, err := db.Begin(ctx)
	if err != nil {
		return errors.NewDBTxBeginError(err)
	}
	var newVersion dbVersion
	for i, migration := range migrationsToDo {
		logger.Info(fmt.Sprintf("performing database migration %d/%d...", i+1, len(migrationsToDo)),
			zap.String("target_version", string(migration.version)))
		_, err = tx.Exec(ctx, migration.up)
		if err != nil {
			rollbackTx(ctx, logger, tx, "database migration failed")
			return errors.NewExecQueryError(err, fmt.Sprintf("migrate to version %s", migration.version), migration.up)
		}
		newVersion = migration.version
	}
	q, err := updateDBVersionQuery(currentVersion, newVersion)
	if err != nil {
		rollbackTx(ctx, logger, tx, "update database version query to sql failed")
		return errors.Wrap(err, "update db version query", nil)
	}
	_, err = tx.Exec(ctx, q)
	if err != nil {
		rollbackTx(ctx, logger, tx, "update database version failed")
		return errors.NewExecQueryError(err, "update db version", q)
	}
	err = tx.Commit(ctx)
	if err != nil {
		return errors.NewDBTxCommitError(err)
	}
	logger.Info("database migrated", zap.String("version", string(newVersion)))
	return nil
}

// updateDBVersionQuery builds the query for setting the new database version.
func updateDBVersionQuery(currentVersion dbVersion, newVersion dbVersion) (string, error) {
	var q string
	var err error
	if currentVersion == dbVersionZero {
		q, _, err = dialect.Insert(goqu.T(keyValTable)).Rows(goqu.Record{
			"key":   dbVersionKey,
			"value": string(newVersion),
		}).ToSQL()
	} else {
		q, _, err = dialect.Update(goqu.T(keyValTable)).
			Set(goqu.Record{"value": string(newVersion)}).
			Where(goqu.C("key").Eq(dbVersionKey)).ToSQL()
	}
	if err != nil {
		return "", errors.NewQueryToSQLError(err, errors.Details{"new_version": newVersion})
	}
	return q, nil
}

// getDBMigrationsToDo retrieves all database migrations that need to be
// performed. If the version is dbVersionZero, it will return all migrations.
// If the version is unknown, an error will be returned.
func getDBMigrationsToDo(currentVersion dbVersion) ([]dbMigration, error) {
	if currentVersion == dbVersionZero {
		return dbMigrations, nil
	}
	found := false
	migrationsToDo := make([]dbMigration, 0)
	for _, migration := range dbMigrations {
		if migration.version == currentVersion {
			if found {
				return nil, errors.Error{
					Code:    errors.ErrInternal,
					Kind:    errors.KindUnexpected,
					Message: fmt.Sprintf("duplicate database version %v in available migrations", currentVersion),
					Details: errors.Details{"version": currentVersion},
				}
			}
			found = true
			continue
		}
		if found {
			migrationsToDo = append(migrationsToDo, migration)
		}
	}
	if !found {
		return nil, errors.NewResourceNotFoundError(fmt.Sprintf("no database version found matching %v", currentVersion),
			errors.Details{"version": currentVersion})
	}
	return migrationsToDo, nil
}

// retrieveCurrentDBVersion retrieves the current dbVersion from the given
// database. If no version could be found, dbVersionZero will be returned.
func retrieveCurrentDBVersion(ctx context.Context, db *pgxpool.Pool) (dbVersion, error) {
	q, _, err := dialect.From(goqu.T(keyValTable)).
		Select(goqu.C("value")).
		Where(goqu.C("key").Eq(dbVersionKey)).ToSQL()
	if err != nil {
		return "", errors.NewQueryToSQLError(err, nil)
	}
	var version string
	err = db.QueryRow(ctx, q).Scan(&version)
	if err != nil {
		var pgErr *pgconn.PgError
		if nativeerrors.Is(err, pgx.ErrNoRows) ||
			(nativeerrors.As(err, &pgErr) && pgErr.Code == pgErrUndefinedTable) {
			return dbVersionZero, nil
		}
		return "", errors.NewScanDBRowError(err, "retrieve db version", q)
	}
	return dbVersion(version), nil
}

// rollbackTx rolls back the given pgx.Tx and logs failures along with the
// reason for the rollback.
func rollbackTx(ctx context.Context, logger *zap.Logger, tx pgx.Tx, reason string) {
	err := tx.Rollback(ctx)
	if err != nil && !nativeerrors.Is(err, pgx.ErrTxClosed) {
		errors.Log(logger, errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindDBRollback,
			Err:     err,
			Message: "rollback tx",
			Details: errors.Details{"rollback_reason": reason},
		})
	}
}
