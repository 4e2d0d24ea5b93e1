package database

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SymlinkVerification tracks a created symlink until the media server has indexed it.
type SymlinkVerification struct {
	ID                uint   `gorm:"primaryKey"`
	MediaItemID       uint   `gorm:"not null;index"`
	FullPath          string `gorm:"not null"`
	AddedAt           time.Time
	Attempts          int
	LastAttempt       *time.Time
	Verified          bool `gorm:"index"`
	VerifiedAt        *time.Time
	PermanentlyFailed bool `gorm:"index"`
	FailureReason     string
}

// RemovalStatus is the status of a removal verification.
type RemovalStatus string

const (
	RemovalStatusPending  RemovalStatus = "Pending"
	RemovalStatusVerified RemovalStatus = "Verified"
	RemovalStatusFailed   RemovalStatus = "Failed"
)

// RemovalVerification tracks a path that must disappear from the media server.
type RemovalVerification struct {
	ID            uint          `gorm:"primaryKey"`
	ItemPath      string        `gorm:"not null;uniqueIndex"`
	ItemTitle     string
	EpisodeTitle  string
	Status        RemovalStatus `gorm:"not null;index"`
	Attempts      int
	AddedAt       time.Time
	LastCheckedAt *time.Time
	FailureReason string
}

// AddSymlinkVerification enqueues a verification for a symlink.
// An open row for the same item and path is kept as is.
func (c *Client) AddSymlinkVerification(ctx context.Context, mediaItemID uint, fullPath string) error {
	return c.write(ctx, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&SymlinkVerification{}).
			Where("media_item_id = ? AND full_path = ? AND verified = ? AND permanently_failed = ?", mediaItemID, fullPath, false, false).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		return tx.Create(&SymlinkVerification{
			MediaItemID: mediaItemID,
			FullPath:    fullPath,
			AddedAt:     time.Now(),
		}).Error
	})
}

// GetPendingSymlinkVerifications returns up to limit open rows, least attempted and oldest first.
func (c *Client) GetPendingSymlinkVerifications(ctx context.Context, limit int) ([]SymlinkVerification, error) {
	var rows []SymlinkVerification
	err := c.db.WithContext(ctx).
		Where("verified = ? AND permanently_failed = ?", false, false).
		Order("attempts ASC, added_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// MarkSymlinkVerified marks a row verified and flags its item as indexed.
func (c *Client) MarkSymlinkVerified(ctx context.Context, id uint) error {
	now := time.Now()
	return c.write(ctx, func(tx *gorm.DB) error {
		var row SymlinkVerification
		if err := tx.First(&row, id).Error; err != nil {
			return notFound(err)
		}
		if row.Verified || row.PermanentlyFailed {
			return nil
		}
		if err := tx.Model(&row).Updates(map[string]any{
			"verified":     true,
			"verified_at":  now,
			"last_attempt": now,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&MediaItem{}).Where("id = ?", row.MediaItemID).
			Updates(map[string]any{"plex_verified": true, "last_updated": now}).Error
	})
}

// IncrementSymlinkAttempts records a miss and returns the new attempt count.
func (c *Client) IncrementSymlinkAttempts(ctx context.Context, id uint) (int, error) {
	var attempts int
	err := c.write(ctx, func(tx *gorm.DB) error {
		if err := tx.Model(&SymlinkVerification{}).
			Where("id = ? AND verified = ? AND permanently_failed = ?", id, false, false).
			Updates(map[string]any{
				"attempts":     gorm.Expr("attempts + 1"),
				"last_attempt": time.Now(),
			}).Error; err != nil {
			return err
		}
		var row SymlinkVerification
		if err := tx.First(&row, id).Error; err != nil {
			return notFound(err)
		}
		attempts = row.Attempts
		return nil
	})
	return attempts, err
}

// FailedSymlink is a permanently failed verification row.
type FailedSymlink struct {
	SymlinkVerification
	// Requeued is the item as it was before it went back to Wanted. It is nil
	// when the row no longer described the current file of its item.
	Requeued *MediaItem
}

// requeueStates are the states in which a failed verification requeues the item.
var requeueStates = []State{StateCollected, StateUpgraded, StateUpgrading}

// MarkSymlinkPermanentlyFailed closes a row as failed. When the row points at the
// current location of a collected item, the item goes back to Wanted without its
// location and torrent id. Removing that torrent is left to the caller.
func (c *Client) MarkSymlinkPermanentlyFailed(ctx context.Context, id uint, reason string) (*FailedSymlink, error) {
	now := time.Now()
	var out FailedSymlink
	err := c.write(ctx, func(tx *gorm.DB) error {
		out = FailedSymlink{}
		row := &out.SymlinkVerification
		if err := tx.First(row, id).Error; err != nil {
			return notFound(err)
		}
		if row.Verified || row.PermanentlyFailed {
			return nil
		}
		if err := tx.Model(&SymlinkVerification{}).Where("id = ?", row.ID).Updates(map[string]any{
			"permanently_failed": true,
			"failure_reason":     reason,
			"last_attempt":       now,
		}).Error; err != nil {
			return err
		}

		var item MediaItem
		err := tx.Where("id = ? AND state IN ? AND location_on_disk = ?", row.MediaItemID, requeueStates, row.FullPath).
			Take(&item).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Model(&MediaItem{}).Where("id = ? AND state = ?", item.ID, item.State).
			Updates(map[string]any(stateFields(StateWanted, Fields{
				"verification_failed":       true,
				"location_on_disk":          "",
				"filled_by_torrent_id":      "",
				"upgrading_from":            "",
				"upgrading_from_torrent_id": "",
				"upgrading_from_version":    "",
			}, now))).Error; err != nil {
			return err
		}
		out.Requeued = &item
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.PermanentlyFailed = true
	out.FailureReason = reason
	return &out, nil
}

// DeleteOpenSymlinkVerification removes the open row of an item for path.
// Verified and failed rows are kept.
func (c *Client) DeleteOpenSymlinkVerification(ctx context.Context, mediaItemID uint, fullPath string) error {
	return c.write(ctx, func(tx *gorm.DB) error {
		return tx.Where("media_item_id = ? AND full_path = ? AND verified = ? AND permanently_failed = ?", mediaItemID, fullPath, false, false).
			Delete(&SymlinkVerification{}).Error
	})
}

// DeleteSymlinkVerificationsForItem removes every row of an item.
func (c *Client) DeleteSymlinkVerificationsForItem(ctx context.Context, mediaItemID uint) error {
	return c.write(ctx, func(tx *gorm.DB) error {
		return tx.Where("media_item_id = ?", mediaItemID).Delete(&SymlinkVerification{}).Error
	})
}

// GetFailedSymlinkVerifications returns permanently failed rows, newest first.
func (c *Client) GetFailedSymlinkVerifications(ctx context.Context, limit int) ([]SymlinkVerification, error) {
	var rows []SymlinkVerification
	err := c.db.WithContext(ctx).
		Where("permanently_failed = ?", true).
		Order("last_attempt DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// GetSymlinkVerificationsForItem returns all rows of an item.
func (c *Client) GetSymlinkVerificationsForItem(ctx context.Context, mediaItemID uint) ([]SymlinkVerification, error) {
	var rows []SymlinkVerification
	err := c.db.WithContext(ctx).Where("media_item_id = ?", mediaItemID).Order("id").Find(&rows).Error
	return rows, err
}

// AddRemovalVerification enqueues a path for removal verification.
// Re-adding an existing path resets it to Pending with zero attempts.
func (c *Client) AddRemovalVerification(ctx context.Context, itemPath, itemTitle, episodeTitle string) error {
	row := RemovalVerification{
		ItemPath:     itemPath,
		ItemTitle:    itemTitle,
		EpisodeTitle: episodeTitle,
		Status:       RemovalStatusPending,
		AddedAt:      time.Now(),
	}
	return c.write(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "item_path"}},
			DoUpdates: clause.Assignments(map[string]any{
				"item_title":      itemTitle,
				"episode_title":   episodeTitle,
				"status":          RemovalStatusPending,
				"attempts":        0,
				"added_at":        row.AddedAt,
				"last_checked_at": nil,
				"failure_reason":  "",
			}),
		}).Create(&row).Error
	})
}

// GetPendingRemovalVerifications returns up to limit Pending rows, least attempted first.
func (c *Client) GetPendingRemovalVerifications(ctx context.Context, limit int) ([]RemovalVerification, error) {
	var rows []RemovalVerification
	err := c.db.WithContext(ctx).
		Where("status = ?", RemovalStatusPending).
		Order("attempts ASC, added_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// MarkRemovalVerified marks a row verified.
func (c *Client) MarkRemovalVerified(ctx context.Context, id uint) error {
	return c.setRemovalStatus(ctx, id, RemovalStatusVerified, "")
}

// MarkRemovalFailed marks a row failed.
func (c *Client) MarkRemovalFailed(ctx context.Context, id uint, reason string) error {
	return c.setRemovalStatus(ctx, id, RemovalStatusFailed, reason)
}

func (c *Client) setRemovalStatus(ctx context.Context, id uint, status RemovalStatus, reason string) error {
	return c.write(ctx, func(tx *gorm.DB) error {
		return tx.Model(&RemovalVerification{}).
			Where("id = ? AND status = ?", id, RemovalStatusPending).
			Updates(map[string]any{
				"status":          status,
				"failure_reason":  reason,
				"last_checked_at": time.Now(),
			}).Error
	})
}

// IncrementRemovalAttempts records a check that still found the path and returns the attempt count.
func (c *Client) IncrementRemovalAttempts(ctx context.Context, id uint) (int, error) {
	var attempts int
	err := c.write(ctx, func(tx *gorm.DB) error {
		if err := tx.Model(&RemovalVerification{}).
			Where("id = ? AND status = ?", id, RemovalStatusPending).
			Updates(map[string]any{
				"attempts":        gorm.Expr("attempts + 1"),
				"last_checked_at": time.Now(),
			}).Error; err != nil {
			return err
		}
		var row RemovalVerification
		if err := tx.First(&row, id).Error; err != nil {
			return notFound(err)
		}
		attempts = row.Attempts
		return nil
	})
	return attempts, err
}

// GetRemovalVerificationByPath returns the row for a path.
func (c *Client) GetRemovalVerificationByPath(ctx context.Context, itemPath string) (*RemovalVerification, error) {
	var row RemovalVerification
	if err := c.db.WithContext(ctx).Where("item_path = ?", itemPath).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return &row, nil
}

// GetFailedRemovalVerifications returns failed removal rows, newest first.
func (c *Client) GetFailedRemovalVerifications(ctx context.Context, limit int) ([]RemovalVerification, error) {
	var rows []RemovalVerification
	err := c.db.WithContext(ctx).
		Where("status = ?", RemovalStatusFailed).
		Order("last_checked_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// GarbageCollectVerifications deletes finished rows older than cutoff.
func (c *Client) GarbageCollectVerifications(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := c.write(ctx, func(tx *gorm.DB) error {
		res := tx.Where("(verified = ? AND verified_at < ?) OR (permanently_failed = ? AND last_attempt < ?)",
			true, cutoff, true, cutoff).Delete(&SymlinkVerification{})
		if res.Error != nil {
			return res.Error
		}
		deleted += res.RowsAffected

		res = tx.Where("status IN ? AND last_checked_at < ?",
			[]RemovalStatus{RemovalStatusVerified, RemovalStatusFailed}, cutoff).Delete(&RemovalVerification{})
		if res.Error != nil {
			return res.Error
		}
		deleted += res.RowsAffected
		return nil
	})
	return deleted, err
}

// VerificationCounts summarizes both queues.
type VerificationCounts struct {
	SymlinkPending  int64 `json:"symlinkPending"`
	SymlinkVerified int64 `json:"symlinkVerified"`
	SymlinkFailed   int64 `json:"symlinkFailed"`
	RemovalPending  int64 `json:"removalPending"`
	RemovalVerified int64 `json:"removalVerified"`
	RemovalFailed   int64 `json:"removalFailed"`
}

// GetVerificationCounts returns the size of both verification queues.
func (c *Client) GetVerificationCounts(ctx context.Context) (*VerificationCounts, error) {
	var vc VerificationCounts
	db := c.db.WithContext(ctx)
	queries := []struct {
		dst   *int64
		model any
		where string
		args  []any
	}{
		{&vc.SymlinkPending, &SymlinkVerification{}, "verified = ? AND permanently_failed = ?", []any{false, false}},
		{&vc.SymlinkVerified, &SymlinkVerification{}, "verified = ?", []any{true}},
		{&vc.SymlinkFailed, &SymlinkVerification{}, "permanently_failed = ?", []any{true}},
		{&vc.RemovalPending, &RemovalVerification{}, "status = ?", []any{RemovalStatusPending}},
		{&vc.RemovalVerified, &RemovalVerification{}, "status = ?", []any{RemovalStatusVerified}},
		{&vc.RemovalFailed, &RemovalVerification{}, "status = ?", []any{RemovalStatusFailed}},
	}
	for _, q := range queries {
		if err := db.Model(q.model).Where(q.where, q.args...).Count(q.dst).Error; err != nil {
			return nil, err
		}
	}
	return &vc, nil
}
