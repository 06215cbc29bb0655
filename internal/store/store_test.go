package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/queryir"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"documents", "subscriptions", "sweeps", "clock"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestOpen_ResumesClock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if _, err := s1.Execute(ctx, queryir.Insert{Collection: "tasks", ID: id, Fields: ir.IRObject{}}, nil); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	if got := s2.Seq(); got != 3 {
		t.Errorf("Seq() after reopen = %d, want 3", got)
	}
}

func TestOpen_ResumesClockAfterEviction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if _, err := s1.Execute(ctx, queryir.Insert{Collection: "tasks", ID: id, Fields: ir.IRObject{}}, nil); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	if _, err := s1.Execute(ctx, queryir.Evict{Collection: "tasks", Where: queryir.ByID("b")}, nil); err != nil {
		t.Fatalf("evict b: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	if got := s2.Seq(); got != 3 {
		t.Errorf("Seq() after reopen = %d, want 3", got)
	}
	res, err := s2.Execute(ctx, queryir.Insert{Collection: "tasks", ID: "c", Fields: ir.IRObject{}}, nil)
	if err != nil {
		t.Fatalf("insert c: %v", err)
	}
	if res.Seq != 4 {
		t.Errorf("insert after reopen got seq %d, want 4", res.Seq)
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestClose_MultipleCalls(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("first Close() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}

func TestClosedStoreRejectsWork(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	s.Close()

	ctx := context.Background()
	_, err = s.Execute(ctx, queryir.Select{Collection: "tasks"}, nil)
	if !IsStoreError(err) {
		t.Errorf("Execute after Close: want StoreError, got %v", err)
	}

	_, err = s.RegisterObserver(ctx, queryir.Filter{Collection: "tasks"}, func(Observation) {})
	if !IsRegistrationError(err) {
		t.Errorf("RegisterObserver after Close: want RegistrationError, got %v", err)
	}

	if err := s.Flush(ctx); err != ErrClosed {
		t.Errorf("Flush after Close = %v, want ErrClosed", err)
	}
}

func TestDB_ReturnsUnderlyingConnection(t *testing.T) {
	s := createTestStore(t)

	db := s.DB()
	if db == nil {
		t.Fatal("DB() returned nil")
	}
	if err := db.Ping(); err != nil {
		t.Errorf("DB() connection not usable: %v", err)
	}
}

// Pragma tests

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name string
		want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.verifyPragma(tt.name, tt.want); err != nil {
				t.Error(err)
			}
		})
	}
}

// Schema tests

func TestSchema_DocumentsPrimaryKey(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`INSERT INTO documents (collection, id, body, seq) VALUES ('tasks', 'a', '{}', 1)`)
	if err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	_, err = s.db.Exec(`INSERT INTO documents (collection, id, body, seq) VALUES ('tasks', 'a', '{}', 2)`)
	if err == nil {
		t.Error("duplicate (collection, id) should violate the primary key")
	}
	_, err = s.db.Exec(`INSERT INTO documents (collection, id, body, seq) VALUES ('notes', 'a', '{}', 3)`)
	if err != nil {
		t.Errorf("same id in another collection should be allowed: %v", err)
	}
}

func TestSchema_Indexes(t *testing.T) {
	s := createTestStore(t)

	if !contains(getTableIndexes(t, s.db, "documents"), "idx_documents_seq") {
		t.Error("documents missing idx_documents_seq")
	}
	if !contains(getTableIndexes(t, s.db, "subscriptions"), "idx_subscriptions_filter") {
		t.Error("subscriptions missing idx_subscriptions_filter")
	}
}

// Migration tests

func TestMigration_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Apply schema but not migrations.
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatalf("failed to set user_version: %v", err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d after migration", version, currentSchemaVersion)
	}

	var name string
	err = s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='sweeps'").Scan(&name)
	if err != nil {
		t.Errorf("sweeps table missing after migration: %v", err)
	}

	err = s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='clock'").Scan(&name)
	if err != nil {
		t.Errorf("clock table missing after migration: %v", err)
	}
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to query indexes: %v", err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
