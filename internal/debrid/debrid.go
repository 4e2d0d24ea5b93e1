// Package debrid wraps a debrid provider with the cache check and commit protocols.
package debrid

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned by providers for unknown torrent ids.
	ErrNotFound = errors.New("torrent not found on provider")
	// ErrTorrentFailed is returned when the provider reports a terminal error for a torrent.
	ErrTorrentFailed = errors.New("torrent failed on provider")
)

// State is the provider side state of a torrent.
type State string

const (
	// StateDownloaded means every file is visible on the mount.
	StateDownloaded State = "downloaded"
	// StateDownloading means the provider is fetching the torrent.
	StateDownloading State = "downloading"
	// StateQueued means the provider accepted the torrent but has not started it.
	StateQueued State = "queued"
	// StateError is terminal.
	StateError State = "error"
)

// Capabilities are the optional features of a provider.
type Capabilities struct {
	// DirectCacheCheck means IsCached can be answered without adding the torrent.
	DirectCacheCheck bool
	// BulkCacheCheck means IsCached accepts several hashes per call.
	BulkCacheCheck bool
}

// File is one file of a torrent. Path is relative to the mount root.
type File struct {
	ID   int
	Path string
	Size int64
}

// Torrent is the provider's view of one torrent.
type Torrent struct {
	ID       string
	Hash     string
	Name     string
	State    State
	Progress float64
	Files    []File
}

// Provider is a debrid service.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	// IsCached reports the cache status of hashes. Only valid with DirectCacheCheck.
	IsCached(ctx context.Context, hashes []string) (map[string]bool, error)
	AddMagnet(ctx context.Context, magnet string) (string, error)
	Status(ctx context.Context, id string) (*Torrent, error)
	// Remove deletes a torrent. Unknown ids yield ErrNotFound.
	Remove(ctx context.Context, id string) error
	List(ctx context.Context) ([]Torrent, error)
}

// NormalizeHash lowercases and trims an info hash for map lookups.
func NormalizeHash(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}
