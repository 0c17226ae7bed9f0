package db

import (
	"path/filepath"
	"testing"
)

func TestRebind(t *testing.T) {
	q := `UPDATE image_queries SET answer=?, note='what?' WHERE id=? AND answer IS NULL`
	if got := Rebind(DriverSQLite, q); got != q {
		t.Fatalf("sqlite query rewritten: %s", got)
	}
	want := `UPDATE image_queries SET answer=$1, note='what?' WHERE id=$2 AND answer IS NULL`
	if got := Rebind("postgresql", q); got != want {
		t.Fatalf("unexpected postgres query: %s", got)
	}
}

func TestOpenSQLiteWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := conn.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if want := filepath.Join(dir, ".visionline", "visionline.db"); Path(dir) != want {
		t.Fatalf("path = %s, want %s", Path(dir), want)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "oracle"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "postgres"}); err == nil {
		t.Fatalf("expected error for postgres without dsn")
	}
}
