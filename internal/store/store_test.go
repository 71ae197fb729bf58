package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func tempDB(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New(%q): %v", path, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew_creates_database(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNew_invalid_path(t *testing.T) {
	if _, err := New("/nonexistent/path/to/db"); err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestPragmas(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	var mode string
	if err := s.DB().QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	// 2 = FULL
	var sync int
	if err := s.DB().QueryRowContext(ctx, "PRAGMA synchronous").Scan(&sync); err != nil {
		t.Fatalf("PRAGMA synchronous: %v", err)
	}
	if sync != 2 {
		t.Errorf("synchronous = %d, want 2 (FULL)", sync)
	}
}

func TestTx_commit_and_rollback(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	if _, err := s.DB().ExecContext(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY, mac TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	err := s.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO t (id, mac) VALUES (1, 'aa:bb:cc:dd:ee:ff')")
		return err
	})
	if err != nil {
		t.Fatalf("Tx commit: %v", err)
	}

	errBoom := errors.New("boom")
	err = s.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO t (id, mac) VALUES (2, '11:22:33:44:55:66')"); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("Tx rollback error = %v, want %v", err, errBoom)
	}

	var count int
	if err := s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1 (second insert rolled back)", count)
	}
}

func TestMigrate_applies_once(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	calls := 0
	migrations := []Migration{
		{Version: 1, Description: "create table", Up: func(tx *sql.Tx) error {
			calls++
			_, err := tx.Exec("CREATE TABLE m1 (id INTEGER)")
			return err
		}},
		{Version: 2, Description: "add column", Up: func(tx *sql.Tx) error {
			calls++
			_, err := tx.Exec("ALTER TABLE m1 ADD COLUMN mac TEXT")
			return err
		}},
	}

	for i := 0; i < 2; i++ {
		if err := s.Migrate(ctx, "test", migrations); err != nil {
			t.Fatalf("Migrate #%d: %v", i+1, err)
		}
	}
	if calls != 2 {
		t.Errorf("Up called %d times, want 2", calls)
	}

	var count int
	err := s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM _migrations WHERE component = 'test'").Scan(&count)
	if err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 2 {
		t.Errorf("migration records = %d, want 2", count)
	}
}

func TestMigrate_partial_failure_preserves_earlier(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	migrations := []Migration{
		{Version: 1, Description: "ok", Up: func(tx *sql.Tx) error {
			_, err := tx.Exec("CREATE TABLE partial_test (id INTEGER)")
			return err
		}},
		{Version: 2, Description: "bad", Up: func(tx *sql.Tx) error {
			_, err := tx.Exec("INVALID SQL")
			return err
		}},
	}

	if err := s.Migrate(ctx, "partial", migrations); err == nil {
		t.Fatal("expected error from partial migration")
	}

	var count int
	err := s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM _migrations WHERE component = 'partial'").Scan(&count)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("committed migrations = %d, want 1", count)
	}
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		name    string
		steps   []string
		wantErr error
	}{
		{"first run", []string{"0.1.0"}, nil},
		{"same version", []string{"0.1.0", "0.1.0"}, nil},
		{"upgrade", []string{"0.1.0", "0.2.0"}, nil},
		{"downgrade rejected", []string{"0.2.0", "0.1.0"}, ErrNewerSchema},
		{"dev always passes", []string{"0.2.0", "dev", "0.1.0"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tempDB(t)
			ctx := context.Background()

			var err error
			for _, v := range tt.steps {
				if err = s.CheckVersion(ctx, v); err != nil {
					break
				}
			}
			if tt.wantErr == nil && err != nil {
				t.Fatalf("CheckVersion: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("CheckVersion error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestClose(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "close.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Ping(context.Background()); err == nil {
		t.Error("expected error after Close, got nil")
	}
}
