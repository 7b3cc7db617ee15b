package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func openSQLite(path string) (*sql.DB, error) {
	path = expandHome(path)
	if path == "" {
		return nil, fmt.Errorf("store path is required for sqlite device store")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open whatsmeow database: %w", err)
	}
	// One connection avoids SQLITE_BUSY between the client and the store upgrade.
	db.SetMaxOpenConns(1)
	return db, nil
}

// expandHome expands a leading ~ in path.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && (path[1] == '/' || path[1] == '\\') {
		return home + path[1:]
	}
	return home
}
