package testutils

import (
	"path/filepath"
	"testing"

	"github.com/mailstash/mailstash/framework/config"
	"github.com/mailstash/mailstash/internal/storage"
)

// Storage opens a migrated sqlite database in a temporary directory.
func Storage(t *testing.T) *storage.Storage {
	t.Helper()

	mod, err := storage.New("storage", "test_storage", nil,
		[]string{"sqlite3", filepath.Join(t.TempDir(), "mailstash.db")})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	db := mod.(*storage.Storage)
	db.Log = Logger(t, "storage")

	if err := db.Init(config.NewMap(nil, config.Node{})); err != nil {
		t.Fatalf("storage.Init: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}
