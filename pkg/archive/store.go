package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store is content-addressed storage for sealed bundles. Put is
// idempotent: storing the same bytes twice returns the same address
// without rewriting.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, address string) ([]byte, error)
	Exists(ctx context.Context, address string) (bool, error)
}

// Address returns the content address of data.
func Address(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// rawHash validates an address and strips its sha256 prefix.
func rawHash(address string) (string, error) {
	raw, ok := strings.CutPrefix(address, "sha256:")
	if !ok {
		return "", fmt.Errorf("invalid bundle address: %s", address)
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("invalid bundle address hex: %w", err)
	}
	return raw, nil
}

// FileStore keeps bundles as <hash>.json files under one directory. The
// default backend; lite deployments need nothing else.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create bundle dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Put(_ context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := Address(data)
	raw, err := rawHash(addr)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, raw+".json")
	if _, err := os.Stat(path); err == nil {
		return addr, nil
	}

	// Write to temp then rename so a reader never sees a torn bundle.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("write bundle: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("commit bundle: %w", err)
	}
	return addr, nil
}

func (s *FileStore) Get(_ context.Context, address string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := rawHash(address)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, raw+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("bundle not found: %s", address)
		}
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	return data, nil
}

func (s *FileStore) Exists(_ context.Context, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := rawHash(address)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(s.dir, raw+".json"))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat bundle: %w", err)
}
