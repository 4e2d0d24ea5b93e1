// Package mediaserver defines how the pipeline pokes and inspects a media server.
package mediaserver

import (
	"context"
	"errors"
	"strings"

	"github.com/jon4hz/jellyfetch/internal/parser"
)

// ErrUnavailable wraps failures to reach the media server. It is always transient.
var ErrUnavailable = errors.New("media server unavailable")

// Server is a media server library.
type Server interface {
	Name() string
	// UpdateItem asks the server to scan path.
	UpdateItem(ctx context.Context, path string) error
	// RemoveItem tells the server that path is gone.
	RemoveItem(ctx context.Context, path string) error
	// ListRecent returns the file paths of recently added items.
	ListRecent(ctx context.Context) ([]string, error)
	// ListAll returns the file paths of every item. Expensive.
	ListAll(ctx context.Context) ([]string, error)
}

// Index answers case-insensitive stem lookups over a library listing.
type Index map[string]struct{}

// NewIndex builds an Index from file paths.
func NewIndex(paths []string) Index {
	idx := make(Index, len(paths))
	for _, p := range paths {
		idx[stemKey(p)] = struct{}{}
	}
	return idx
}

// Contains reports whether a file with the same stem as path is indexed.
func (i Index) Contains(path string) bool {
	_, ok := i[stemKey(path)]
	return ok
}

func stemKey(p string) string {
	return parser.Stem(strings.ReplaceAll(p, "\\", "/"))
}
