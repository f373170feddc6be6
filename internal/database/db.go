package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // pure Go SQLite driver, registered as "sqlite"

	"github.com/vaidashi/storefront-orders/internal/config"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Database represents a database connection
type Database struct {
	DB     *sqlx.DB
	logger logger.Logger
}

// New creates a new database connection from the service configuration
func New(cfg *config.Config, logger logger.Logger) (*Database, error) {
	db, err := Open(cfg.DB.Driver, cfg.GetDBConnString(), logger)
	if err != nil {
		return nil, err
	}

	logger.Info("Connected to database", "driver", cfg.DB.Driver, "host", cfg.DB.Host, "database", cfg.DB.Name)
	return db, nil
}

// Open connects with an explicit driver and DSN
func Open(driver, dsn string, logger logger.Logger) (*Database, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		// one writer at a time; a tx never shares the handle with plain queries
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	return &Database{
		DB:     db,
		logger: logger,
	}, nil
}

// DriverName returns the driver the connection was opened with
func (d *Database) DriverName() string {
	return d.DB.DriverName()
}

// Rebind converts a query written with ? placeholders to the driver's bindvar style
func (d *Database) Rebind(query string) string {
	return d.DB.Rebind(query)
}

// BeginTx starts a transaction
func (d *Database) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := d.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// WithTx runs fn inside a transaction, committing when fn returns nil
func (d *Database) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.BeginTx(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			d.logger.Error("Failed to roll back transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping checks the database connection
func (d *Database) Ping(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.DB.Close()
}

// RunMigrations creates the schema for the connected dialect. Statements are idempotent.
func (d *Database) RunMigrations() error {
	schema := postgresSchema
	if d.DriverName() == DriverSQLite {
		schema = sqliteSchema
	}

	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.logger.Info("Database migrations completed successfully", "driver", d.DriverName())
	return nil
}
