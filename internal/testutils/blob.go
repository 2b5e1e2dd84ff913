package testutils

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/mailstash/mailstash/framework/module"
)

// BlobStore is an in-memory module.BlobStore. Content becomes visible
// under its key only after Sync, matching the durability contract.
type BlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: map[string][]byte{}}
}

type memBlob struct {
	key   string
	buf   bytes.Buffer
	store *BlobStore
}

func (b *memBlob) Write(p []byte) (int, error) {
	return b.buf.Write(p)
}

func (b *memBlob) Sync() error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	b.store.blobs[b.key] = append([]byte(nil), b.buf.Bytes()...)
	return nil
}

func (b *memBlob) Close() error {
	return nil
}

func (s *BlobStore) Create(_ context.Context, key string, _ int64) (module.Blob, error) {
	return &memBlob{key: key, store: s}, nil
}

func (s *BlobStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, module.ErrNoSuchBlob
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *BlobStore) Delete(_ context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.blobs, k)
	}
	return nil
}

// Get returns the synced content of key, nil if there is none.
func (s *BlobStore) Get(key string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blobs[key]
}

// Keys returns the synced keys in no particular order.
func (s *BlobStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.blobs))
	for k := range s.blobs {
		keys = append(keys, k)
	}
	return keys
}
