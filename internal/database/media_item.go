package database

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"
)

// State is the pipeline state of a media item.
type State string

const (
	StateWanted          State = "Wanted"
	StateScraping        State = "Scraping"
	StateAdding          State = "Adding"
	StateChecking        State = "Checking"
	StateCollected       State = "Collected"
	StateUpgrading       State = "Upgrading"
	StateUpgraded        State = "Upgraded"
	StateBlacklisted     State = "Blacklisted"
	StatePendingUncached State = "Pending Uncached"
	StateSleeping        State = "Sleeping"
)

// States lists every state in pipeline order.
var States = []State{
	StateWanted,
	StateScraping,
	StateAdding,
	StateChecking,
	StatePendingUncached,
	StateCollected,
	StateUpgrading,
	StateUpgraded,
	StateSleeping,
	StateBlacklisted,
}

// HasLocation reports whether items in this state carry location_on_disk.
func (s State) HasLocation() bool {
	return s == StateCollected || s == StateUpgrading || s == StateUpgraded
}

// HasTorrent reports whether items in this state carry filled_by_torrent_id.
func (s State) HasTorrent() bool {
	switch s {
	case StateChecking, StateCollected, StateUpgrading, StateUpgraded, StatePendingUncached:
		return true
	}
	return false
}

// MediaType is the kind of media item.
type MediaType string

const (
	MediaTypeMovie   MediaType = "movie"
	MediaTypeEpisode MediaType = "episode"
)

// ExternalIDKind selects the external id column.
type ExternalIDKind string

const (
	ExternalIDImdb ExternalIDKind = "imdb"
	ExternalIDTmdb ExternalIDKind = "tmdb"
)

// Content sources.
const (
	SourceJellyseerr     = "Jellyseerr"
	SourceMagnetAssigner = "Magnet_Assigner"
	SourceManual         = "Manual"
)

// ReleaseDateUnknown marks an item without a known release date.
const ReleaseDateUnknown = "Unknown"

// ScrapeResult is a ranked scraper result cached on the item.
type ScrapeResult struct {
	Title      string  `json:"title"`
	InfoHash   string  `json:"info_hash"`
	Magnet     string  `json:"magnet"`
	SizeGB     float64 `json:"size_gb"`
	Seeders    int     `json:"seeders"`
	Source     string  `json:"source"`
	Score      float64 `json:"score"`
	Cached     *bool   `json:"cached,omitempty"`
	Resolution string  `json:"resolution,omitempty"`
}

// ScrapeResults is stored as a JSON column.
type ScrapeResults []ScrapeResult

// Value implements driver.Valuer.
func (r ScrapeResults) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	b, err := json.Marshal(r)
	return string(b), err
}

// GormDataType stores the list as text.
func (ScrapeResults) GormDataType() string { return "text" }

// Scan implements sql.Scanner.
func (r *ScrapeResults) Scan(src any) error {
	return scanJSON(src, r)
}

// StringList is stored as a JSON column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	return string(b), err
}

// GormDataType stores the list as text.
func (StringList) GormDataType() string { return "text" }

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	return scanJSON(src, l)
}

func scanJSON(src, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
}

// MediaItem is one wanted movie or episode and its pipeline state.
type MediaItem struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time

	ImdbID  string `gorm:"index"`
	TmdbID  int32  `gorm:"index"`
	Title   string `gorm:"not null"`
	Year    int
	Type    MediaType `gorm:"not null;index"`
	State   State     `gorm:"not null;index"`
	Version string    `gorm:"not null"`

	LastUpdated    time.Time `gorm:"index"`
	StateEnteredAt time.Time

	SeasonNumber  int `gorm:"index"`
	EpisodeNumber int
	EpisodeTitle  string
	ShowTitle     string `gorm:"index"`
	ShowYear      int
	Airtime       string

	ReleaseDate           string
	PhysicalReleaseDate   string
	TheatricalReleaseDate string
	EarlyRelease          bool
	NoEarlyRelease        bool

	FilledByTitle     string
	FilledByFile      string
	FilledByMagnet    string
	FilledByTorrentID string `gorm:"index"`
	ScrapeResults     ScrapeResults
	Resolution        string

	LocationOnDisk         string
	OriginalPathForSymlink string
	CollectedAt            *time.Time
	OriginalCollectedAt    *time.Time

	UpgradingFrom          string
	UpgradingFromTorrentID string
	UpgradingFromVersion   string
	UpgradeCheckedAt       *time.Time

	WakeCount   int
	WantedTicks int
	SleepUntil  *time.Time
	Genres      StringList

	Source    string
	SourceRef string

	BlacklistReason    string
	VerificationFailed bool
	PlexVerified       bool
}

// IsAnime reports whether the item carries an anime genre.
func (m *MediaItem) IsAnime() bool {
	for _, g := range m.Genres {
		if strings.EqualFold(g, "anime") {
			return true
		}
	}
	return false
}

// SeriesTitle returns the show title for episodes and the title otherwise.
func (m *MediaItem) SeriesTitle() string {
	if m.Type == MediaTypeEpisode && m.ShowTitle != "" {
		return m.ShowTitle
	}
	return m.Title
}

// String returns a short human readable label.
func (m *MediaItem) String() string {
	if m.Type == MediaTypeEpisode {
		return fmt.Sprintf("%s S%02dE%02d", m.SeriesTitle(), m.SeasonNumber, m.EpisodeNumber)
	}
	return fmt.Sprintf("%s (%d)", m.Title, m.Year)
}

// Fields is a set of column updates.
type Fields map[string]any

// Transition is a state update of one item, used by batch commits.
// A non-empty From makes the update conditional on the current state.
type Transition struct {
	ID     uint
	From   State
	State  State
	Fields Fields
}

func stateFields(state State, fields Fields, now time.Time) Fields {
	out := make(Fields, len(fields)+3)
	for k, v := range fields {
		out[k] = v
	}
	out["state"] = state
	out["last_updated"] = now
	out["state_entered_at"] = now
	return out
}

// InsertMediaItem inserts a new item. The item starts in Wanted unless a state is set.
func (c *Client) InsertMediaItem(ctx context.Context, item *MediaItem) error {
	if item.State == "" {
		item.State = StateWanted
	}
	now := time.Now()
	item.LastUpdated = now
	item.StateEnteredAt = now
	return c.write(ctx, func(tx *gorm.DB) error {
		return tx.Create(item).Error
	})
}

// InsertMediaItemIfAbsent inserts the item unless one with the same natural key and version exists.
func (c *Client) InsertMediaItemIfAbsent(ctx context.Context, item *MediaItem) (bool, error) {
	if item.State == "" {
		item.State = StateWanted
	}
	now := time.Now()
	item.LastUpdated = now
	item.StateEnteredAt = now

	inserted := false
	err := c.write(ctx, func(tx *gorm.DB) error {
		q := tx.Model(&MediaItem{}).
			Where("type = ? AND version = ? AND season_number = ? AND episode_number = ?",
				item.Type, item.Version, item.SeasonNumber, item.EpisodeNumber)
		switch {
		case item.ImdbID != "":
			q = q.Where("imdb_id = ?", item.ImdbID)
		case item.TmdbID != 0:
			q = q.Where("tmdb_id = ?", item.TmdbID)
		default:
			inserted = true
			return tx.Create(item).Error
		}

		var count int64
		if err := q.Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		inserted = true
		return tx.Create(item).Error
	})
	return inserted, err
}

// UpdateMediaItem updates fields without changing the state.
func (c *Client) UpdateMediaItem(ctx context.Context, id uint, fields Fields) error {
	out := make(Fields, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["last_updated"] = time.Now()
	return c.write(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&MediaItem{}).Where("id = ?", id).Updates(map[string]any(out))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// UpdateState moves an item to a new state and writes fields in one commit.
func (c *Client) UpdateState(ctx context.Context, id uint, state State, fields Fields) error {
	return c.ApplyTransitions(ctx, []Transition{{ID: id, State: state, Fields: fields}})
}

// BatchUpdateState moves several items to the same state with the same fields.
func (c *Client) BatchUpdateState(ctx context.Context, ids []uint, state State, fields Fields) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now()
	return c.write(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&MediaItem{}).Where("id IN ?", ids).Updates(map[string]any(stateFields(state, fields, now)))
		if res.Error != nil {
			return res.Error
		}
		if int(res.RowsAffected) != len(ids) {
			return fmt.Errorf("batch update touched %d of %d items: %w", res.RowsAffected, len(ids), ErrNotFound)
		}
		return nil
	})
}

// ApplyTransitions commits several per-item transitions in one transaction.
func (c *Client) ApplyTransitions(ctx context.Context, transitions []Transition) error {
	if len(transitions) == 0 {
		return nil
	}
	now := time.Now()
	return c.write(ctx, func(tx *gorm.DB) error {
		for _, t := range transitions {
			q := tx.Model(&MediaItem{}).Where("id = ?", t.ID)
			if t.From != "" {
				q = q.Where("state = ?", t.From)
			}
			res := q.Updates(map[string]any(stateFields(t.State, t.Fields, now)))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				if t.From != "" {
					return fmt.Errorf("item %d left %s: %w", t.ID, t.From, ErrStale)
				}
				return fmt.Errorf("item %d: %w", t.ID, ErrNotFound)
			}
		}
		return nil
	})
}

// DeleteMediaItem deletes an item and its verification rows.
func (c *Client) DeleteMediaItem(ctx context.Context, id uint) error {
	return c.write(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("media_item_id = ?", id).Delete(&SymlinkVerification{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&MediaItem{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// GetByState returns a page of the queue for state, oldest update first.
func (c *Client) GetByState(ctx context.Context, state State, limit, offset int) ([]MediaItem, error) {
	var items []MediaItem
	q := c.db.WithContext(ctx).Where("state = ?", state).Order("last_updated ASC, id ASC").Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&items).Error; err != nil {
		log.Error("failed to get media items by state", "state", state, "error", err)
		return nil, err
	}
	return items, nil
}

// GetByID returns one item.
func (c *Client) GetByID(ctx context.Context, id uint) (*MediaItem, error) {
	var item MediaItem
	if err := c.db.WithContext(ctx).First(&item, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

// GetByExternalID returns all items matching an imdb or tmdb id and type.
func (c *Client) GetByExternalID(ctx context.Context, kind ExternalIDKind, value string, mediaType MediaType) ([]MediaItem, error) {
	q := c.db.WithContext(ctx).Where("type = ?", mediaType)
	switch kind {
	case ExternalIDImdb:
		q = q.Where("imdb_id = ?", value)
	case ExternalIDTmdb:
		q = q.Where("CAST(tmdb_id AS TEXT) = ?", value)
	default:
		return nil, fmt.Errorf("unknown external id kind %q", kind)
	}
	var items []MediaItem
	if err := q.Order("season_number, episode_number").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// GetQueuedEpisodes returns episodes of a show in the given states sharing a version.
func (c *Client) GetQueuedEpisodes(ctx context.Context, imdbID, showTitle, version string, states ...State) ([]MediaItem, error) {
	q := c.db.WithContext(ctx).
		Where("type = ? AND version = ? AND state IN ?", MediaTypeEpisode, version, states)
	if imdbID != "" {
		q = q.Where("imdb_id = ?", imdbID)
	} else {
		q = q.Where("LOWER(show_title) = ?", strings.ToLower(showTitle))
	}
	var items []MediaItem
	if err := q.Order("season_number, episode_number").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// CountSeasonItems counts episodes of one season that still wait for a torrent.
func (c *Client) CountSeasonItems(ctx context.Context, imdbID string, season int, version string) (int64, error) {
	var count int64
	err := c.db.WithContext(ctx).Model(&MediaItem{}).
		Where("type = ? AND imdb_id = ? AND season_number = ? AND version = ? AND state IN ?",
			MediaTypeEpisode, imdbID, season, version, []State{StateWanted, StateScraping, StateAdding, StateSleeping}).
		Count(&count).Error
	return count, err
}

// CountByState returns the size of every queue.
func (c *Client) CountByState(ctx context.Context) (map[State]int64, error) {
	type row struct {
		State State
		Count int64
	}
	var rows []row
	if err := c.db.WithContext(ctx).Model(&MediaItem{}).
		Select("state, COUNT(*) AS count").Group("state").Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[State]int64, len(States))
	for _, s := range States {
		counts[s] = 0
	}
	for _, r := range rows {
		counts[r.State] = r.Count
	}
	return counts, nil
}

// GetUpgradeCandidates returns collected items released after since that were not checked after checkedBefore.
func (c *Client) GetUpgradeCandidates(ctx context.Context, since time.Time, checkedBefore time.Time, limit int) ([]MediaItem, error) {
	var items []MediaItem
	err := c.db.WithContext(ctx).
		Where("state = ? AND source <> ?", StateCollected, SourceMagnetAssigner).
		Where("release_date <> ? AND release_date >= ?", ReleaseDateUnknown, since.Format(time.DateOnly)).
		Where("upgrade_checked_at IS NULL OR upgrade_checked_at < ?", checkedBefore).
		Order("upgrade_checked_at ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// GetReferencedTorrentIDs returns every torrent id held by a non-terminal item.
func (c *Client) GetReferencedTorrentIDs(ctx context.Context) (map[string]bool, error) {
	var rows []MediaItem
	if err := c.db.WithContext(ctx).
		Select("filled_by_torrent_id", "upgrading_from_torrent_id").
		Where("state <> ?", StateBlacklisted).
		Where("filled_by_torrent_id <> '' OR upgrading_from_torrent_id <> ''").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(rows))
	for _, r := range rows {
		if r.FilledByTorrentID != "" {
			ids[r.FilledByTorrentID] = true
		}
		if r.UpgradingFromTorrentID != "" {
			ids[r.UpgradingFromTorrentID] = true
		}
	}
	return ids, nil
}

// GetReferencedMagnets returns the magnets held by non-terminal items.
func (c *Client) GetReferencedMagnets(ctx context.Context) ([]string, error) {
	var magnets []string
	if err := c.db.WithContext(ctx).Model(&MediaItem{}).
		Where("state <> ? AND filled_by_magnet <> ''", StateBlacklisted).
		Pluck("filled_by_magnet", &magnets).Error; err != nil {
		return nil, err
	}
	return magnets, nil
}

// SearchByTitle finds items by a case-insensitive title fragment.
func (c *Client) SearchByTitle(ctx context.Context, fragment string, limit int) ([]MediaItem, error) {
	var items []MediaItem
	like := "%" + strings.ToLower(fragment) + "%"
	err := c.db.WithContext(ctx).
		Where("LOWER(title) LIKE ? OR LOWER(show_title) LIKE ?", like, like).
		Limit(limit).
		Find(&items).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return items, nil
}
