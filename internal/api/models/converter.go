package models

import (
	"time"

	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/mergestat/timediff"
)

// ToItem converts a database.MediaItem to its API view.
func ToItem(m database.MediaItem) Item {
	item := Item{
		ID:                 m.ID,
		Title:              m.Title,
		Label:              m.String(),
		Year:               m.Year,
		Type:               string(m.Type),
		State:              string(m.State),
		Version:            m.Version,
		ImdbID:             m.ImdbID,
		TmdbID:             m.TmdbID,
		ReleaseDate:        m.ReleaseDate,
		FilledBy:           m.FilledByTitle,
		Resolution:         m.Resolution,
		Location:           m.LocationOnDisk,
		WakeCount:          m.WakeCount,
		Source:             m.Source,
		BlacklistReason:    m.BlacklistReason,
		VerificationFailed: m.VerificationFailed,
		LastUpdated:        m.LastUpdated,
		LastUpdatedAgo:     ago(m.LastUpdated),
		CollectedAt:        m.CollectedAt,
		SleepUntil:         m.SleepUntil,
	}
	if m.Type == database.MediaTypeEpisode {
		item.Season = m.SeasonNumber
		item.Episode = m.EpisodeNumber
		item.EpisodeTitle = m.EpisodeTitle
	}
	if m.CollectedAt != nil {
		item.CollectedAgo = ago(*m.CollectedAt)
	}
	return item
}

// ToItems converts a slice of database.MediaItem.
func ToItems(items []database.MediaItem) []Item {
	result := make([]Item, len(items))
	for i, item := range items {
		result[i] = ToItem(item)
	}
	return result
}

// ToFailedVerifications merges both failed verification queues.
func ToFailedVerifications(symlinks []database.SymlinkVerification, removals []database.RemovalVerification) []FailedVerification {
	result := make([]FailedVerification, 0, len(symlinks)+len(removals))
	for _, s := range symlinks {
		result = append(result, FailedVerification{
			Kind:        VerificationSymlink,
			MediaItemID: s.MediaItemID,
			Path:        s.FullPath,
			Attempts:    s.Attempts,
			Reason:      s.FailureReason,
			AddedAt:     s.AddedAt,
		})
	}
	for _, r := range removals {
		result = append(result, FailedVerification{
			Kind:     VerificationRemoval,
			Title:    r.ItemTitle,
			Path:     r.ItemPath,
			Attempts: r.Attempts,
			Reason:   r.FailureReason,
			AddedAt:  r.AddedAt,
		})
	}
	return result
}

func ago(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return timediff.TimeDiff(t)
}
