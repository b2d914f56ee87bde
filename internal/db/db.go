// Package db opens the switchboard SQLite store. All state for a workspace
// lives in one file under its .switchboard directory.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const (
	stateDir = ".switchboard"
	dbName   = "switchboard.db"
)

// Connection options. The immediate transaction lock and busy timeout make
// concurrent writers queue on the write lock instead of surfacing
// SQLITE_BUSY; the engine's one-transaction-per-mutation discipline relies
// on that.
var dsnOptions = []string{
	"_txlock=immediate",
	"_pragma=foreign_keys(1)",
	"_pragma=journal_mode(WAL)",
	"_pragma=busy_timeout(5000)",
}

type Config struct {
	Workspace string
}

// EnsureWorkspace creates the workspace state directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	dir := filepath.Join(workspace, stateDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace %s: %w", dir, err)
	}
	return dir, nil
}

// Open opens the workspace store, creating the state directory as needed.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?%s", Path(cfg.Workspace), strings.Join(dsnOptions, "&"))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return conn, nil
}

// Path returns the store location for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, stateDir, dbName)
}
