package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rental-portal/internal/pubsub"

	"github.com/jmoiron/sqlx"
)

type SQLProvider struct {
	db     *sqlx.DB
	broker pubsub.Broker
	logger *slog.Logger
}

func NewSQLProvider(driverName string, dataSource string, broker pubsub.Broker) (*SQLProvider, error) {
	db, err := sqlx.Open(driverName, dataSource)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driverName, err)
	}

	return &SQLProvider{
		db:     db,
		broker: broker,
		logger: slog.With("component", "storage", "driver", driverName),
	}, nil
}

func (p *SQLProvider) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// Timestamps are stored in UTC so that their text form sorts chronologically.
func now() time.Time {
	return time.Now().UTC()
}

func (p *SQLProvider) GetSchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := p.db.GetContext(ctx, &version, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func (p *SQLProvider) runMigrations(ctx context.Context, driver string) error {
	_, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at DATETIME NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	runner := NewMigrationRunner(driver)
	latest, err := runner.GetLatestMigrationVersion()
	if err != nil {
		return err
	}
	current, err := p.GetSchemaVersion(ctx)
	if err != nil {
		return err
	}
	if current > latest {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, latest)
	}
	return p.migrateTo(ctx, runner, current, latest)
}

func (p *SQLProvider) migrateTo(ctx context.Context, runner *MigrationRunner, current, target int) error {
	migrations, err := runner.LoadMigrations(current, target)
	if errors.Is(err, ErrMigrateCurrentVersionSameAsTarget) {
		p.logger.Debug("Schema is up to date", "version", current)
		return nil
	} else if err != nil {
		return err
	}

	for _, migration := range migrations {
		if err := p.applyMigration(ctx, migration); err != nil {
			return fmt.Errorf("migration %04d_%s failed: %w", migration.Version, migration.Name, err)
		}
		p.logger.Info("Applied migration", "version", migration.Version, "name", migration.Name, "up", migration.Up)
	}
	return nil
}

func (p *SQLProvider) applyMigration(ctx context.Context, migration SchemaMigration) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return err
	}
	if migration.Up {
		_, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			migration.Version, migration.Name, now())
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = ?`, migration.Version)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (p *SQLProvider) CreateNonce(ctx context.Context, nonce string, expiresAt time.Time) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO nonces (nonce, expires_at) VALUES (?, ?)`, nonce, expiresAt.UTC())
	return err
}

func (p *SQLProvider) ExistsNonce(ctx context.Context, nonce string) (bool, error) {
	var exists bool
	err := p.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM nonces WHERE nonce = ? AND expires_at > ?)`, nonce, now())
	return exists, err
}

func (p *SQLProvider) ConsumeNonce(ctx context.Context, nonce string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM nonces WHERE nonce = ? AND expires_at > ?`, nonce, now())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (p *SQLProvider) ExpireNonces(ctx context.Context, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM nonces WHERE expires_at <= ?`, at.UTC())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		p.logger.Debug("Pruned expired nonces", "count", n)
	}
	return nil
}

// notify tells live queries on topic to re-read.
func (p *SQLProvider) notify(ctx context.Context, topic string) {
	if p.broker == nil {
		return
	}
	if err := p.broker.Publish(ctx, topic, []byte(topic)); err != nil {
		p.logger.Warn("Failed to publish change", "topic", topic, "error", err)
	}
}

// getOne maps sql.ErrNoRows to ErrNotFound.
func getOne[T any](ctx context.Context, db *sqlx.DB, query string, args ...any) (*T, error) {
	var out T
	if err := db.GetContext(ctx, &out, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

// expectRows returns ErrNotFound when a write touched no rows.
func expectRows(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
