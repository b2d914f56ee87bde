package migrate

import (
	"testing"

	"switchboard/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if err := Migrate(conn); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := Migrate(conn); err != nil {
		t.Fatalf("rerun on a current store: %v", err)
	}

	var version int
	if err := conn.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil {
		t.Fatalf("read schema_version: %v", err)
	}
	if version < 1 {
		t.Fatalf("recorded version = %d, want at least 1", version)
	}

	// The partial unique index is part of the schema contract; the guarded
	// insert in the repo depends on it.
	var name string
	err = conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='index' AND name='assignments_active_resource'`).Scan(&name)
	if err != nil {
		t.Fatalf("active-assignment index missing: %v", err)
	}
}

func TestEmbeddedMigrationsOrdered(t *testing.T) {
	ms, err := embedded()
	if err != nil {
		t.Fatalf("load embedded migrations: %v", err)
	}
	if len(ms) == 0 {
		t.Fatal("no embedded migrations")
	}
	for i := 1; i < len(ms); i++ {
		if ms[i].version <= ms[i-1].version {
			t.Fatalf("migrations out of order: %s before %s", ms[i-1].name, ms[i].name)
		}
	}
}
