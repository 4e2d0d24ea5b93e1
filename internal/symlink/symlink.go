// Package symlink materializes collected files as a library tree of symlinks.
package symlink

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/mediaserver"
)

const removeTimeout = 15 * time.Second

// ErrDestinationExists is returned when the destination is a regular file or directory.
var ErrDestinationExists = errors.New("destination exists and is not a symlink")

// TorrentRemover removes a torrent from the debrid provider. Not-found counts as success.
type TorrentRemover interface {
	Remove(ctx context.Context, id string) error
}

// Manager creates and replaces symlinks and feeds the verification queues.
type Manager struct {
	builder        *Builder
	fileManagement config.FileManagement
	originalRoot   string
	db             database.VerificationDB
	remover        TorrentRemover
	server         mediaserver.Server
	renamer        *AnimeRenamer
}

// Option configures a Manager.
type Option func(*Manager)

// WithAnimeRenamer enables anime renaming.
func WithAnimeRenamer(r *AnimeRenamer) Option {
	return func(m *Manager) { m.renamer = r }
}

// WithMediaServer sets the media server that is asked to drop replaced files.
func WithMediaServer(s mediaserver.Server) Option {
	return func(m *Manager) { m.server = s }
}

// New creates a Manager.
func New(cfg *config.Config, db database.VerificationDB, remover TorrentRemover, opts ...Option) *Manager {
	m := &Manager{
		builder:        NewBuilder(cfg),
		fileManagement: cfg.FileManagement,
		originalRoot:   cfg.Paths.OriginalFilesPath,
		db:             db,
		remover:        remover,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Builder returns the path builder.
func (m *Manager) Builder() *Builder {
	return m.builder
}

// Destination returns the symlink path of item for the source file.
func (m *Manager) Destination(ctx context.Context, item *database.MediaItem, source string) (string, error) {
	name := filepath.Base(source)
	v := m.builder.ValuesFor(item, name)
	if m.renamer != nil {
		renamed, err := m.renamer.Rename(ctx, item, v)
		if err != nil {
			log.Warn("anime renaming failed, using item values", "item", item.String(), "error", err)
		} else {
			v = renamed
		}
	}
	return m.builder.Path(item, name, v)
}

// Create links dest to source. Recreating an identical link is a no-op and a
// link to another target is replaced. Unless skipVerification is set, a
// symlink verification row is enqueued for the item.
func (m *Manager) Create(ctx context.Context, itemID uint, source, dest string, skipVerification bool) error {
	fi, err := os.Lstat(dest)
	switch {
	case err == nil && fi.Mode()&fs.ModeSymlink != 0:
		target, err := os.Readlink(dest)
		if err != nil {
			return fmt.Errorf("failed to read symlink %s: %w", dest, err)
		}
		if target == source {
			log.Debug("symlink already in place", "dest", dest)
			return m.enqueue(ctx, itemID, dest, skipVerification)
		}
		if err := os.Remove(dest); err != nil {
			return fmt.Errorf("failed to replace symlink %s: %w", dest, err)
		}
		log.Info("replacing symlink", "dest", dest, "old_target", target, "new_target", source)
	case err == nil:
		return fmt.Errorf("%w: %s", ErrDestinationExists, dest)
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("failed to stat %s: %w", dest, err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dest, err)
	}
	if err := os.Symlink(source, dest); err != nil {
		return fmt.Errorf("failed to create symlink %s: %w", dest, err)
	}
	if err := m.enqueue(ctx, itemID, dest, skipVerification); err != nil {
		_ = os.Remove(dest)
		return err
	}
	log.Info("created symlink", "dest", dest, "source", source)
	return nil
}

func (m *Manager) enqueue(ctx context.Context, itemID uint, dest string, skip bool) error {
	if skip {
		return nil
	}
	if err := m.db.AddSymlinkVerification(ctx, itemID, dest); err != nil {
		return fmt.Errorf("failed to enqueue verification for %s: %w", dest, err)
	}
	return nil
}

// Link materializes source for item and returns the library path.
// With plex file management no symlink is created and the source itself is verified.
func (m *Manager) Link(ctx context.Context, item *database.MediaItem, source string) (string, error) {
	if m.fileManagement == config.FileManagementPlex {
		return source, m.enqueue(ctx, item.ID, source, false)
	}
	dest, err := m.Destination(ctx, item, source)
	if err != nil {
		return "", err
	}
	if err := m.Create(ctx, item.ID, source, dest, false); err != nil {
		return "", err
	}
	return dest, nil
}

// Unlink undoes Link for a path no item will reference. The symlink is
// removed together with its open verification row. With plex file management
// path is the source file and only the row is dropped.
func (m *Manager) Unlink(ctx context.Context, itemID uint, path string) error {
	if m.fileManagement != config.FileManagementPlex {
		fi, err := os.Lstat(path)
		switch {
		case err == nil && fi.Mode()&fs.ModeSymlink != 0:
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("failed to unlink %s: %w", path, err)
			}
			removeEmptyParents(filepath.Dir(path), m.builder.root)
			log.Info("removed symlink", "path", path)
		case err == nil:
			return fmt.Errorf("%w: %s", ErrDestinationExists, path)
		case !errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}
	if err := m.db.DeleteOpenSymlinkVerification(ctx, itemID, path); err != nil {
		return fmt.Errorf("failed to drop verification of %s: %w", path, err)
	}
	return nil
}

// Swap replaces the previous file of an upgrading item with source.
// The old torrent is removed first, falling back to deleting the old file on the
// mount. Only when that succeeds is the old link dropped and the new one created.
func (m *Manager) Swap(ctx context.Context, item *database.MediaItem, source string) (string, error) {
	if err := m.removeOld(ctx, item); err != nil {
		return "", err
	}

	oldPath := item.LocationOnDisk
	if oldPath == "" && item.UpgradingFrom != "" && m.fileManagement != config.FileManagementPlex {
		old := *item
		old.Version = item.UpgradingFromVersion
		if old.Version == "" {
			old.Version = item.Version
		}
		p, err := m.Destination(ctx, &old, item.UpgradingFrom)
		if err != nil {
			log.Warn("failed to compute old symlink path", "item", item.String(), "error", err)
		}
		oldPath = p
	}

	if oldPath != "" {
		if m.fileManagement != config.FileManagementPlex {
			if err := os.Remove(oldPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return "", fmt.Errorf("failed to unlink old symlink %s: %w", oldPath, err)
			}
			removeEmptyParents(filepath.Dir(oldPath), m.builder.root)
		}
		if err := m.db.DeleteSymlinkVerificationsForItem(ctx, item.ID); err != nil {
			return "", fmt.Errorf("failed to drop old verification of %s: %w", item.String(), err)
		}
		if err := m.db.AddRemovalVerification(ctx, oldPath, item.SeriesTitle(), item.EpisodeTitle); err != nil {
			return "", fmt.Errorf("failed to enqueue removal verification of %s: %w", oldPath, err)
		}
		if m.server != nil {
			go func(p string) {
				ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), removeTimeout)
				defer cancel()
				if err := m.server.RemoveItem(ctx, p); err != nil {
					log.Warn("failed to notify media server about removal", "path", p, "error", err)
				}
			}(oldPath)
		}
	}

	return m.Link(ctx, item, source)
}

func (m *Manager) removeOld(ctx context.Context, item *database.MediaItem) error {
	if item.UpgradingFromTorrentID != "" {
		if err := m.remover.Remove(ctx, item.UpgradingFromTorrentID); err != nil {
			return fmt.Errorf("failed to remove old torrent %s: %w", item.UpgradingFromTorrentID, err)
		}
		return nil
	}
	old := item.OriginalPathForSymlink
	if old == "" || !m.underOriginalRoot(old) {
		return fmt.Errorf("no torrent id and no removable original file for %s", item.String())
	}
	if err := os.Remove(old); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete old file %s: %w", old, err)
	}
	log.Info("deleted old file from mount", "path", old)
	return nil
}

func (m *Manager) underOriginalRoot(p string) bool {
	rel, err := filepath.Rel(m.originalRoot, p)
	if err != nil || rel == "." || rel == ".." {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// removeEmptyParents deletes empty directories from dir up to, but excluding, root.
func removeEmptyParents(dir, root string) {
	root = filepath.Clean(root)
	for dir = filepath.Clean(dir); dir != root && strings.HasPrefix(dir, root); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}
