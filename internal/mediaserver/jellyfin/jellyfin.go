// Package jellyfin implements the media server contract for Jellyfin.
package jellyfin

import (
	"context"
	"fmt"

	"github.com/ccoveille/go-safecast"
	"github.com/charmbracelet/log"
	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/mediaserver"
	jellyfin "github.com/sj14/jellyfin-go/api"
)

const (
	updateTypeCreated = "Created"
	updateTypeDeleted = "Deleted"

	recentLimit = 500
	pageSize    = 1000
)

// Client provides the media server contract on top of the Jellyfin API.
type Client struct {
	jellyfin *jellyfin.APIClient
}

var _ mediaserver.Server = (*Client)(nil)

// New creates a new Jellyfin client.
func New(cfg *config.JellyfinConfig) *Client {
	return &Client{
		jellyfin: newJellyfinClient(cfg),
	}
}

// newJellyfinClient creates a new low-level Jellyfin API client.
func newJellyfinClient(cfg *config.JellyfinConfig) *jellyfin.APIClient {
	clientConfig := jellyfin.NewConfiguration()
	clientConfig.Servers = jellyfin.ServerConfigurations{
		{
			URL:         cfg.URL,
			Description: "Jellyfin server",
		},
	}
	clientConfig.DefaultHeader = map[string]string{"Authorization": fmt.Sprintf(`MediaBrowser Token="%s"`, cfg.APIKey)}
	clientConfig.UserAgent = "Jellyfetch"
	return jellyfin.NewAPIClient(clientConfig)
}

// Name returns the server name.
func (c *Client) Name() string { return "jellyfin" }

func (c *Client) postUpdate(ctx context.Context, path, updateType string) error {
	_, err := c.jellyfin.LibraryAPI.PostUpdatedMedia(ctx).
		MediaUpdateInfoDto(jellyfin.MediaUpdateInfoDto{
			Updates: []jellyfin.MediaUpdateInfoPathDto{{
				Path:       *jellyfin.NewNullableString(jellyfin.PtrString(path)),
				UpdateType: *jellyfin.NewNullableString(jellyfin.PtrString(updateType)),
			}},
		}).
		Execute()
	if err != nil {
		return fmt.Errorf("%w: failed to post %s update for %s: %v", mediaserver.ErrUnavailable, updateType, path, err)
	}
	log.Debug("notified jellyfin", "path", path, "update", updateType)
	return nil
}

// UpdateItem reports a new file to Jellyfin.
func (c *Client) UpdateItem(ctx context.Context, path string) error {
	return c.postUpdate(ctx, path, updateTypeCreated)
}

// RemoveItem reports a deleted file to Jellyfin.
func (c *Client) RemoveItem(ctx context.Context, path string) error {
	return c.postUpdate(ctx, path, updateTypeDeleted)
}

// ListRecent returns the paths of the most recently added movies and episodes.
func (c *Client) ListRecent(ctx context.Context) ([]string, error) {
	resp, _, err := c.itemsRequest(ctx).
		SortBy([]jellyfin.ItemSortBy{jellyfin.ITEMSORTBY_DATE_CREATED}).
		SortOrder([]jellyfin.SortOrder{jellyfin.SORTORDER_DESCENDING}).
		Limit(recentLimit).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get recent items: %v", mediaserver.ErrUnavailable, err)
	}
	return paths(resp.GetItems()), nil
}

// ListAll pages through every movie and episode.
func (c *Client) ListAll(ctx context.Context) ([]string, error) {
	var all []string
	startIndex := int32(0)
	for {
		resp, _, err := c.itemsRequest(ctx).
			StartIndex(startIndex).
			Limit(pageSize).
			Execute()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to get items: %v", mediaserver.ErrUnavailable, err)
		}

		items := resp.GetItems()
		if len(items) == 0 {
			break
		}
		all = append(all, paths(items)...)

		itemsLen, err := safecast.Convert[int32](len(items))
		if err != nil {
			return nil, fmt.Errorf("failed to cast items length: %w", err)
		}
		startIndex += itemsLen
		if startIndex >= resp.GetTotalRecordCount() {
			break
		}
	}
	log.Debug("listed jellyfin items", "count", len(all))
	return all, nil
}

func (c *Client) itemsRequest(ctx context.Context) jellyfin.ApiGetItemsRequest {
	return c.jellyfin.ItemsAPI.GetItems(ctx).
		Recursive(true).
		Fields([]jellyfin.ItemFields{jellyfin.ITEMFIELDS_PATH}).
		IncludeItemTypes([]jellyfin.BaseItemKind{
			jellyfin.BASEITEMKIND_MOVIE,
			jellyfin.BASEITEMKIND_EPISODE,
		})
}

func paths(items []jellyfin.BaseItemDto) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if p := item.GetPath(); p != "" {
			out = append(out, p)
		}
	}
	return out
}
