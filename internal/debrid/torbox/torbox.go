// Package torbox implements the debrid provider contract for TorBox.
package torbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/debrid"
	"github.com/jon4hz/jellyfetch/internal/ratelimit"
)

const defaultURL = "https://api.torbox.app/v1/api"

// Response is the envelope of every TorBox response.
type Response[T any] struct {
	Success bool    `json:"success"`
	Error   *string `json:"error"`
	Detail  string  `json:"detail"`
	Data    T       `json:"data"`
}

// CreateTorrentData is returned when a torrent is added.
type CreateTorrentData struct {
	TorrentID int    `json:"torrent_id"`
	Hash      string `json:"hash"`
	AuthID    string `json:"auth_id"`
}

// TorrentFile is a file of a TorBox torrent.
type TorrentFile struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	ShortName string `json:"short_name"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimetype"`
}

// Torrent is a TorBox torrent.
type Torrent struct {
	ID               int           `json:"id"`
	Hash             string        `json:"hash"`
	Name             string        `json:"name"`
	DownloadState    string        `json:"download_state"`
	Progress         float64       `json:"progress"`
	Size             int64         `json:"size"`
	Active           bool          `json:"active"`
	DownloadPresent  bool          `json:"download_present"`
	DownloadFinished bool          `json:"download_finished"`
	Files            []TorrentFile `json:"files"`
}

// CachedEntry is one entry of a cache check.
type CachedEntry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Hash string `json:"hash"`
}

// Provider talks to the TorBox API.
type Provider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ debrid.Provider = (*Provider)(nil)

// New creates a TorBox provider.
func New(cfg *config.TorBoxConfig, client *http.Client) (*Provider, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, fmt.Errorf("TorBox API key is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	base := strings.TrimSuffix(cfg.URL, "/")
	if base == "" {
		base = defaultURL
	}
	return &Provider{baseURL: base, apiKey: cfg.APIKey, client: client}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string { return "torbox" }

// Capabilities reports direct bulk cache checks.
func (p *Provider) Capabilities() debrid.Capabilities {
	return debrid.Capabilities{DirectCacheCheck: true, BulkCacheCheck: true}
}

func (p *Provider) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if err := ratelimit.CheckResponse(resp); err != nil {
		var se *ratelimit.StatusError
		if errors.As(err, &se) && se.NotFound() {
			return fmt.Errorf("%w: %s", debrid.ErrNotFound, se.Body)
		}
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func apiError[T any](r *Response[T]) error {
	if r.Success {
		return nil
	}
	msg := r.Detail
	if r.Error != nil && *r.Error != "" {
		msg = *r.Error + ": " + msg
	}
	if strings.Contains(strings.ToLower(msg), "not found") {
		return fmt.Errorf("%w: %s", debrid.ErrNotFound, msg)
	}
	return fmt.Errorf("torbox request failed: %s", msg)
}

// IsCached checks which hashes are cached.
func (p *Provider) IsCached(ctx context.Context, hashes []string) (map[string]bool, error) {
	q := url.Values{}
	q.Set("hash", strings.Join(hashes, ","))
	q.Set("format", "object")
	q.Set("list_files", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/torrents/checkcached?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var resp Response[map[string]CachedEntry]
	if err := p.do(req, &resp); err != nil {
		return nil, err
	}
	if err := apiError(&resp); err != nil {
		return nil, err
	}

	out := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		out[h] = false
	}
	for h := range resp.Data {
		out[debrid.NormalizeHash(h)] = true
	}
	return out, nil
}

// AddMagnet adds a magnet and returns the torrent id.
func (p *Provider) AddMagnet(ctx context.Context, magnet string) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("magnet", magnet); err != nil {
		return "", fmt.Errorf("failed to add magnet field: %w", err)
	}
	if err := writer.WriteField("allow_zip", "false"); err != nil {
		return "", fmt.Errorf("failed to add allow_zip field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/torrents/createtorrent", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var resp Response[CreateTorrentData]
	if err := p.do(req, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", apiError(&resp)
	}
	id := strconv.Itoa(resp.Data.TorrentID)
	log.Debug("created torbox torrent", "torrent_id", id, "detail", resp.Detail)
	return id, nil
}

// Status returns one torrent.
func (p *Provider) Status(ctx context.Context, id string) (*debrid.Torrent, error) {
	q := url.Values{}
	q.Set("id", id)
	q.Set("bypass_cache", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/torrents/mylist?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var resp Response[*Torrent]
	if err := p.do(req, &resp); err != nil {
		return nil, err
	}
	if err := apiError(&resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("%w: %s", debrid.ErrNotFound, id)
	}
	t := convert(*resp.Data)
	return &t, nil
}

// Remove deletes a torrent.
func (p *Provider) Remove(ctx context.Context, id string) error {
	torrentID, err := strconv.Atoi(id)
	if err != nil {
		return fmt.Errorf("invalid torrent id %q: %w", id, err)
	}
	body, err := json.Marshal(map[string]any{
		"torrent_id": torrentID,
		"operation":  "delete",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/torrents/controltorrent", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp Response[json.RawMessage]
	if err := p.do(req, &resp); err != nil {
		return err
	}
	return apiError(&resp)
}

// List returns every torrent of the account.
func (p *Provider) List(ctx context.Context) ([]debrid.Torrent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/torrents/mylist?bypass_cache=true", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var resp Response[[]Torrent]
	if err := p.do(req, &resp); err != nil {
		return nil, err
	}
	if err := apiError(&resp); err != nil {
		return nil, err
	}
	out := make([]debrid.Torrent, 0, len(resp.Data))
	for _, t := range resp.Data {
		out = append(out, convert(t))
	}
	return out, nil
}

func convert(t Torrent) debrid.Torrent {
	out := debrid.Torrent{
		ID:       strconv.Itoa(t.ID),
		Hash:     debrid.NormalizeHash(t.Hash),
		Name:     t.Name,
		State:    mapState(t),
		Progress: t.Progress,
	}
	for _, f := range t.Files {
		out.Files = append(out.Files, debrid.File{ID: f.ID, Path: f.Name, Size: f.Size})
	}
	return out
}

// mapState folds TorBox download states into the provider states.
func mapState(t Torrent) debrid.State {
	state := strings.ToLower(t.DownloadState)
	switch {
	case t.DownloadPresent && t.DownloadFinished:
		return debrid.StateDownloaded
	case strings.Contains(state, "error"), strings.Contains(state, "failed"):
		return debrid.StateError
	case state == "", state == "queued", state == "metadl", strings.HasPrefix(state, "checking"), strings.HasPrefix(state, "stalled"), state == "paused":
		return debrid.StateQueued
	default:
		return debrid.StateDownloading
	}
}
