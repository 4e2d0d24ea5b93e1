// Package models holds the API views.
package models

import (
	"time"

	"github.com/jon4hz/jellyfetch/internal/database"
)

// Item is the API view of a media item.
type Item struct {
	ID                 uint       `json:"id"`
	Title              string     `json:"title"`
	Label              string     `json:"label"`
	Year               int        `json:"year,omitempty"`
	Type               string     `json:"type"`
	State              string     `json:"state"`
	Version            string     `json:"version"`
	ImdbID             string     `json:"imdb_id,omitempty"`
	TmdbID             int32      `json:"tmdb_id,omitempty"`
	Season             int        `json:"season,omitempty"`
	Episode            int        `json:"episode,omitempty"`
	EpisodeTitle       string     `json:"episode_title,omitempty"`
	ReleaseDate        string     `json:"release_date,omitempty"`
	FilledBy           string     `json:"filled_by,omitempty"`
	Resolution         string     `json:"resolution,omitempty"`
	Location           string     `json:"location,omitempty"`
	WakeCount          int        `json:"wake_count"`
	Source             string     `json:"source,omitempty"`
	BlacklistReason    string     `json:"blacklist_reason,omitempty"`
	VerificationFailed bool       `json:"verification_failed,omitempty"`
	LastUpdated        time.Time  `json:"last_updated"`
	LastUpdatedAgo     string     `json:"last_updated_ago,omitempty"`
	CollectedAt        *time.Time `json:"collected_at,omitempty"`
	CollectedAgo       string     `json:"collected_ago,omitempty"`
	SleepUntil         *time.Time `json:"sleep_until,omitempty"`
}

// VerificationKind is the queue a failed verification came from.
type VerificationKind string

const (
	VerificationSymlink VerificationKind = "symlink"
	VerificationRemoval VerificationKind = "removal"
)

// FailedVerification is a permanently failed verification row.
type FailedVerification struct {
	Kind        VerificationKind `json:"kind"`
	MediaItemID uint             `json:"media_item_id,omitempty"`
	Title       string           `json:"title,omitempty"`
	Path        string           `json:"path"`
	Attempts    int              `json:"attempts"`
	Reason      string           `json:"reason,omitempty"`
	AddedAt     time.Time        `json:"added_at"`
}

// Queues is the size of every queue.
type Queues struct {
	States        map[string]int64             `json:"states"`
	Total         int64                        `json:"total"`
	Verifications *database.VerificationCounts `json:"verifications"`
}
