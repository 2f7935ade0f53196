// Package store persists the workspace registry: an ordered list of
// WorkspaceMetadata keyed by id.
package store

import (
	"context"
	"errors"

	"github.com/lzjever/remote-workspace/internal/core"
)

var ErrDuplicateID = errors.New("store: workspace id already registered")

// Predicate selects registry entries to pull.
type Predicate func(core.WorkspaceMetadata) bool

// ByID matches the entry with the given id.
func ByID(id string) Predicate {
	return func(ws core.WorkspaceMetadata) bool { return ws.ID == id }
}

type Registry interface {
	// List returns all entries in insertion order.
	List(ctx context.Context) ([]core.WorkspaceMetadata, error)
	// Push appends an entry. An id that is already present is rejected
	// with ErrDuplicateID.
	Push(ctx context.Context, ws core.WorkspaceMetadata) error
	// Pull removes every entry matching pred and returns them.
	Pull(ctx context.Context, pred Predicate) ([]core.WorkspaceMetadata, error)
	// Replace atomically removes the entry with ws.ID, if any, and
	// appends ws. On error the registry is unchanged.
	Replace(ctx context.Context, ws core.WorkspaceMetadata) error
}
