package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/mailstash/mailstash/framework/module"
)

// TestStore runs the BlobStore contract tests against stores produced by
// newStore, calling cleanStore after each subtest.
func TestStore(t *testing.T, newStore func() module.BlobStore, cleanStore func(module.BlobStore)) {
	run := func(name string, fn func(t *testing.T, store module.BlobStore)) {
		t.Run(name, func(t *testing.T) {
			store := newStore()
			defer cleanStore(store)
			fn(t, store)
		})
	}

	write := func(t *testing.T, store module.BlobStore, key string, data []byte, size int64) {
		blob, err := store.Create(context.Background(), key, size)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if _, err := blob.Write(data); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := blob.Sync(); err != nil {
			t.Fatalf("Sync: %v", err)
		}
		if err := blob.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	readBack := func(t *testing.T, store module.BlobStore, key string) []byte {
		r, err := store.Open(context.Background(), key)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer r.Close()
		data, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		return data
	}

	run("create and open", func(t *testing.T, store module.BlobStore) {
		data := []byte("From: <test@example.org>\r\n\r\nbody\r\n")
		write(t, store, "1/5_msgid.eml", data, int64(len(data)))

		if got := readBack(t, store, "1/5_msgid.eml"); !bytes.Equal(got, data) {
			t.Fatalf("wrong content read back: %q", got)
		}
	})

	run("unknown size", func(t *testing.T, store module.BlobStore) {
		data := bytes.Repeat([]byte("abcd"), 1024)
		write(t, store, "2/7/1_file.bin", data, module.UnknownBlobSize)

		if got := readBack(t, store, "2/7/1_file.bin"); !bytes.Equal(got, data) {
			t.Fatalf("wrong content read back, %d bytes", len(got))
		}
	})

	run("overwrite", func(t *testing.T, store module.BlobStore) {
		write(t, store, "3/1_a.eml", []byte("first"), 5)
		write(t, store, "3/1_a.eml", []byte("second"), 6)

		if got := readBack(t, store, "3/1_a.eml"); string(got) != "second" {
			t.Fatalf("wrong content read back: %q", got)
		}
	})

	run("open missing", func(t *testing.T, store module.BlobStore) {
		_, err := store.Open(context.Background(), "nonexistent")
		if !errors.Is(err, module.ErrNoSuchBlob) {
			t.Fatalf("expected ErrNoSuchBlob, got %v", err)
		}
	})

	run("delete", func(t *testing.T, store module.BlobStore) {
		write(t, store, "4/2_b.eml", []byte("gone"), 4)

		if err := store.Delete(context.Background(), []string{"4/2_b.eml", "nonexistent"}); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := store.Open(context.Background(), "4/2_b.eml"); !errors.Is(err, module.ErrNoSuchBlob) {
			t.Fatalf("expected ErrNoSuchBlob after delete, got %v", err)
		}
	})
}
