package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DurableStore persists the whole queue. Save replaces what was stored.
type DurableStore interface {
	Load(ctx context.Context) ([]Item, error)
	Save(ctx context.Context, items []Item) error
}

// MemoryStore keeps items in process, for dev and tests.
type MemoryStore struct {
	mu    sync.Mutex
	items []Item
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneItems(s.items), nil
}

func (s *MemoryStore) Save(_ context.Context, items []Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = cloneItems(items)
	return nil
}

// FileStore keeps the queue as a JSON array in a single file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore stores the queue at path, creating the directory on save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load returns no items when the file does not exist yet.
func (s *FileStore) Load(_ context.Context) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read outbox: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode outbox %s: %w", s.path, err)
	}
	return items, nil
}

// Save writes to a temp file and renames it over the old one.
func (s *FileStore) Save(_ context.Context, items []Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if items == nil {
		items = []Item{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode outbox: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".outbox-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write outbox: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync outbox: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close outbox: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace outbox: %w", err)
	}
	return nil
}

func cloneItems(items []Item) []Item {
	if len(items) == 0 {
		return nil
	}
	out := make([]Item, len(items))
	copy(out, items)
	return out
}
