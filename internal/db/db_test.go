package db

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenCreatesWorkspaceStore(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Exec(`CREATE TABLE scratch(id INTEGER)`); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(Path(dir)); err != nil {
		t.Fatalf("store file not at %s: %v", Path(dir), err)
	}
	if got, want := Path(dir), filepath.Join(dir, ".switchboard", "switchboard.db"); got != want {
		t.Fatalf("Path = %s, want %s", got, want)
	}
}
