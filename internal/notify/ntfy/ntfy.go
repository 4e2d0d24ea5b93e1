// Package ntfy publishes pipeline events to a ntfy topic.
package ntfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/engine"
)

// Client represents a ntfy notification client.
type Client struct {
	serverURL  string
	topic      string
	username   string
	password   string
	token      string
	httpClient *http.Client
}

// Message represents a ntfy message.
type Message struct {
	Topic    string            `json:"topic"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Priority int               `json:"priority,omitempty"`
	Tags     []string          `json:"tags,omitempty"`
	Extras   map[string]string `json:"extras,omitempty"`
}

// NewClient creates a new ntfy client.
func NewClient(cfg *config.NtfyConfig) *Client {
	if cfg.ServerURL != "" {
		if _, err := url.Parse(cfg.ServerURL); err != nil {
			log.Errorf("Invalid ntfy server URL: %v", err)
		}
	}

	return &Client{
		serverURL: cfg.ServerURL,
		topic:     cfg.Topic,
		username:  cfg.Username,
		password:  cfg.Password,
		token:     cfg.Token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SendMessage sends a message to ntfy.
func (c *Client) SendMessage(ctx context.Context, msg Message) error {
	if c.topic != "" {
		msg.Topic = c.topic
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Markdown", "yes")

	// token takes precedence over username/password
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		if len(body) > 0 {
			return fmt.Errorf("ntfy server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return fmt.Errorf("ntfy server returned status %d", resp.StatusCode)
	}

	log.Debug("Sent ntfy notification", "topic", msg.Topic, "title", msg.Title)
	return nil
}

// Notify publishes collected and upgraded items and every failure.
// Other transitions are ignored.
func (c *Client) Notify(ctx context.Context, ev engine.Event) error {
	msg, ok := messageFor(ev)
	if !ok {
		return nil
	}
	return c.SendMessage(ctx, msg)
}

func messageFor(ev engine.Event) (Message, bool) {
	var b strings.Builder
	fmt.Fprintf(&b, "🎯 **Title:** %s\n", ev.Title)
	if ev.Reason != "" {
		fmt.Fprintf(&b, "📋 **Reason:** %s\n", ev.Reason)
	}
	if ev.Path != "" {
		fmt.Fprintf(&b, "📁 **Path:** `%s`\n", ev.Path)
	}

	msg := Message{
		Message: b.String(),
		Extras: map[string]string{
			"event_id": ev.ID,
			"from":     string(ev.From),
			"to":       string(ev.To),
		},
	}
	switch {
	case ev.Failure && ev.To == database.StateBlacklisted:
		msg.Title = "⛔ Blacklisted"
		msg.Priority = 4
		msg.Tags = []string{"warning", "jellyfetch", "blacklisted"}
	case ev.Failure:
		msg.Title = "⚠️ Verification Failed"
		msg.Priority = 4
		msg.Tags = []string{"warning", "jellyfetch", "verification"}
	case ev.To == database.StateCollected && ev.From != database.StateUpgraded:
		msg.Title = "🎬 Collected"
		msg.Priority = 3
		msg.Tags = []string{"success", "jellyfetch", "collected"}
	case ev.To == database.StateUpgraded:
		msg.Title = "⬆️ Upgraded"
		msg.Priority = 3
		msg.Tags = []string{"success", "jellyfetch", "upgraded"}
	default:
		return Message{}, false
	}
	return msg, true
}
