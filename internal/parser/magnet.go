package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
)

// ErrNoInfoHash is returned when a magnet carries no btih hash.
var ErrNoInfoHash = errors.New("magnet has no info hash")

// InfoHashFromMagnet returns the lowercase hex info hash of a magnet URI.
func InfoHashFromMagnet(magnet string) (string, error) {
	m, err := metainfo.ParseMagnetUri(magnet)
	if err != nil {
		return "", fmt.Errorf("failed to parse magnet: %w", err)
	}
	if m.InfoHash == (metainfo.Hash{}) {
		return "", ErrNoInfoHash
	}
	return strings.ToLower(m.InfoHash.HexString()), nil
}

// MagnetFromInfoHash builds a magnet URI for a hex info hash.
func MagnetFromInfoHash(hash, name string) (string, error) {
	var h metainfo.Hash
	if err := h.FromHexString(strings.ToLower(hash)); err != nil {
		return "", fmt.Errorf("invalid info hash %q: %w", hash, err)
	}
	m := metainfo.Magnet{InfoHash: h, DisplayName: name}
	return m.String(), nil
}

// NormalizeInfoHash lowercases a hash and validates its hex form.
// An empty string is returned for invalid input.
func NormalizeInfoHash(hash string) string {
	hash = strings.ToLower(strings.TrimSpace(hash))
	var h metainfo.Hash
	if len(hash) != 40 || h.FromHexString(hash) != nil {
		return ""
	}
	return hash
}
