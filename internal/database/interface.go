package database

import (
	"context"
	"time"
)

// DB is the item store used by the pipeline.
type DB interface {
	MediaItemDB
	VerificationDB

	Ping(ctx context.Context) error
	Close() error
}

// MediaItemDB persists media items and their state transitions.
type MediaItemDB interface {
	InsertMediaItem(ctx context.Context, item *MediaItem) error
	InsertMediaItemIfAbsent(ctx context.Context, item *MediaItem) (bool, error)
	UpdateMediaItem(ctx context.Context, id uint, fields Fields) error
	UpdateState(ctx context.Context, id uint, state State, fields Fields) error
	BatchUpdateState(ctx context.Context, ids []uint, state State, fields Fields) error
	ApplyTransitions(ctx context.Context, transitions []Transition) error
	DeleteMediaItem(ctx context.Context, id uint) error

	GetByState(ctx context.Context, state State, limit, offset int) ([]MediaItem, error)
	GetByID(ctx context.Context, id uint) (*MediaItem, error)
	GetByExternalID(ctx context.Context, kind ExternalIDKind, value string, mediaType MediaType) ([]MediaItem, error)
	GetQueuedEpisodes(ctx context.Context, imdbID, showTitle, version string, states ...State) ([]MediaItem, error)
	CountSeasonItems(ctx context.Context, imdbID string, season int, version string) (int64, error)
	CountByState(ctx context.Context) (map[State]int64, error)
	GetUpgradeCandidates(ctx context.Context, since time.Time, checkedBefore time.Time, limit int) ([]MediaItem, error)
	GetReferencedTorrentIDs(ctx context.Context) (map[string]bool, error)
	GetReferencedMagnets(ctx context.Context) ([]string, error)
	SearchByTitle(ctx context.Context, fragment string, limit int) ([]MediaItem, error)
}

// VerificationDB persists the symlink and removal verification queues.
type VerificationDB interface {
	AddSymlinkVerification(ctx context.Context, mediaItemID uint, fullPath string) error
	GetPendingSymlinkVerifications(ctx context.Context, limit int) ([]SymlinkVerification, error)
	MarkSymlinkVerified(ctx context.Context, id uint) error
	IncrementSymlinkAttempts(ctx context.Context, id uint) (int, error)
	MarkSymlinkPermanentlyFailed(ctx context.Context, id uint, reason string) (*FailedSymlink, error)
	DeleteOpenSymlinkVerification(ctx context.Context, mediaItemID uint, fullPath string) error
	DeleteSymlinkVerificationsForItem(ctx context.Context, mediaItemID uint) error
	GetFailedSymlinkVerifications(ctx context.Context, limit int) ([]SymlinkVerification, error)
	GetSymlinkVerificationsForItem(ctx context.Context, mediaItemID uint) ([]SymlinkVerification, error)

	AddRemovalVerification(ctx context.Context, itemPath, itemTitle, episodeTitle string) error
	GetPendingRemovalVerifications(ctx context.Context, limit int) ([]RemovalVerification, error)
	MarkRemovalVerified(ctx context.Context, id uint) error
	MarkRemovalFailed(ctx context.Context, id uint, reason string) error
	IncrementRemovalAttempts(ctx context.Context, id uint) (int, error)
	GetRemovalVerificationByPath(ctx context.Context, itemPath string) (*RemovalVerification, error)
	GetFailedRemovalVerifications(ctx context.Context, limit int) ([]RemovalVerification, error)

	GarbageCollectVerifications(ctx context.Context, cutoff time.Time) (int64, error)
	GetVerificationCounts(ctx context.Context) (*VerificationCounts, error)
}
