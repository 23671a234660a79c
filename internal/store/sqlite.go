package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oicur0t/loglwatch/pkg/models"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps state in a SQLite database. Each save replaces its table
// inside one transaction.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) the database at path and migrates it
func NewSQLiteStore(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, persistErr("create database directory", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, persistErr("open database", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, persistErr("ping database", err)
	}

	s := &SQLiteStore{db: db, path: path, logger: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite state store ready", zap.String("path", path))
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations := []string{
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE IF NOT EXISTS restart_history (
			service TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ts REAL NOT NULL,
			PRIMARY KEY (service, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS health_snapshots (
			service TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			last_checked TEXT NOT NULL,
			error TEXT,
			restarted INTEGER NOT NULL,
			logs TEXT NOT NULL,
			plugin TEXT NOT NULL DEFAULT '',
			restarts_in_window INTEGER NOT NULL DEFAULT 0,
			pass_id TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return persistErr("migrate", err)
		}
	}
	return nil
}

// LoadHistory returns every service's restart times in insertion order
func (s *SQLiteStore) LoadHistory(ctx context.Context) (models.RestartHistory, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT service, ts FROM restart_history ORDER BY service, seq`)
	if err != nil {
		return nil, persistErr("query restart history", err)
	}
	defer rows.Close()

	history := make(models.RestartHistory)
	for rows.Next() {
		var service string
		var ts float64
		if err := rows.Scan(&service, &ts); err != nil {
			return nil, persistErr("scan restart history", err)
		}
		history[service] = append(history[service], ts)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate restart history", err)
	}
	return history, nil
}

// SaveHistory replaces the restart history
func (s *SQLiteStore) SaveHistory(ctx context.Context, history models.RestartHistory) error {
	return s.replace(ctx, "restart history", `DELETE FROM restart_history`, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO restart_history (service, seq, ts) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for service, stamps := range history {
			for i, ts := range stamps {
				if _, err := stmt.ExecContext(ctx, service, i, ts); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// LoadSnapshots returns the latest snapshot of every service
func (s *SQLiteStore) LoadSnapshots(ctx context.Context) (models.Snapshots, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT service, status, last_checked, error, restarted, logs,
		plugin, restarts_in_window, pass_id FROM health_snapshots`)
	if err != nil {
		return nil, persistErr("query snapshots", err)
	}
	defer rows.Close()

	snapshots := make(models.Snapshots)
	for rows.Next() {
		var (
			service   string
			snap      models.HealthSnapshot
			errText   sql.NullString
			restarted int
		)
		if err := rows.Scan(&service, &snap.Status, &snap.LastChecked, &errText, &restarted,
			&snap.Logs, &snap.Plugin, &snap.RestartsInWindow, &snap.PassID); err != nil {
			return nil, persistErr("scan snapshot", err)
		}
		if errText.Valid {
			msg := errText.String
			snap.Error = &msg
		}
		snap.Restarted = restarted != 0
		snapshots[service] = snap
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate snapshots", err)
	}
	return snapshots, nil
}

// SaveSnapshots replaces all snapshots
func (s *SQLiteStore) SaveSnapshots(ctx context.Context, snapshots models.Snapshots) error {
	return s.replace(ctx, "snapshots", `DELETE FROM health_snapshots`, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO health_snapshots
			(service, status, last_checked, error, restarted, logs, plugin, restarts_in_window, pass_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for service, snap := range snapshots {
			var errText sql.NullString
			if snap.Error != nil {
				errText = sql.NullString{String: *snap.Error, Valid: true}
			}
			restarted := 0
			if snap.Restarted {
				restarted = 1
			}
			if _, err := stmt.ExecContext(ctx, service, snap.Status, snap.LastChecked, errText,
				restarted, snap.Logs, snap.Plugin, snap.RestartsInWindow, snap.PassID); err != nil {
				return err
			}
		}
		return nil
	})
}

// replace runs clear and fill in one transaction
func (s *SQLiteStore) replace(ctx context.Context, what, clearSQL string, fill func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin "+what, err)
	}
	if _, err := tx.ExecContext(ctx, clearSQL); err != nil {
		tx.Rollback()
		return persistErr("clear "+what, err)
	}
	if err := fill(tx); err != nil {
		tx.Rollback()
		return persistErr("write "+what, err)
	}
	if err := tx.Commit(); err != nil {
		return persistErr("commit "+what, err)
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close(context.Context) error {
	return s.db.Close()
}
