package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/lzjever/remote-workspace/internal/core"
)

// FileRegistry keeps the registry in a single JSON file that is replaced
// atomically on every mutation.
type FileRegistry struct {
	path string
	mu   sync.Mutex
}

type registryFile struct {
	Workspaces []core.WorkspaceMetadata `json:"workspaces"`
}

func NewFileRegistry(path string) (*FileRegistry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir registry dir: %w", err)
	}
	return &FileRegistry{path: path}, nil
}

func (r *FileRegistry) List(ctx context.Context) ([]core.WorkspaceMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

func (r *FileRegistry) Push(ctx context.Context, ws core.WorkspaceMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries, err := r.load()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.ID == ws.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateID, ws.ID)
		}
	}
	return r.save(append(entries, ws))
}

func (r *FileRegistry) Pull(ctx context.Context, pred Predicate) ([]core.WorkspaceMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries, err := r.load()
	if err != nil {
		return nil, err
	}
	var kept, removed []core.WorkspaceMetadata
	for _, e := range entries {
		if pred(e) {
			removed = append(removed, e)
		} else {
			kept = append(kept, e)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}
	if err := r.save(kept); err != nil {
		return nil, err
	}
	return removed, nil
}

func (r *FileRegistry) Replace(ctx context.Context, ws core.WorkspaceMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries, err := r.load()
	if err != nil {
		return err
	}
	kept := make([]core.WorkspaceMetadata, 0, len(entries)+1)
	for _, e := range entries {
		if e.ID != ws.ID {
			kept = append(kept, e)
		}
	}
	return r.save(append(kept, ws))
}

func (r *FileRegistry) load() ([]core.WorkspaceMetadata, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	var f registryFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode registry %s: %w", r.path, err)
	}
	return f.Workspaces, nil
}

func (r *FileRegistry) save(entries []core.WorkspaceMetadata) error {
	if entries == nil {
		entries = []core.WorkspaceMetadata{}
	}
	data, err := json.MarshalIndent(registryFile{Workspaces: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write registry tmp: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename registry: %w", err)
	}
	return nil
}
