// Package matcher picks the file inside a torrent that satisfies a media item.
package matcher

import (
	"errors"
	"path"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/parser"
	"github.com/samber/lo"
)

// ErrNoMatch is returned when no file of a torrent satisfies the item.
var ErrNoMatch = errors.New("no matching file in torrent")

// File is one file of a torrent listing. Path is relative to the torrent root.
type File struct {
	Path string
	Size int64
}

// Name returns the base name of the file.
func (f File) Name() string {
	return path.Base(strings.ReplaceAll(f.Path, "\\", "/"))
}

// Sibling is a queued item satisfied by another file of the same torrent.
type Sibling struct {
	Item database.MediaItem
	File File
}

// Matcher selects files for items.
type Matcher struct {
	fileManagement config.FileManagement
}

// New creates a Matcher.
func New(fm config.FileManagement) *Matcher {
	return &Matcher{fileManagement: fm}
}

// relaxed reports whether anime matching rules apply to item.
func (m *Matcher) relaxed(item *database.MediaItem) bool {
	return m.fileManagement == config.FileManagementPlex && item.IsAnime()
}

// SelectFile returns the file of files that satisfies item.
// Movies get the largest non-sample video. Episodes get the first video matching season and episode.
func (m *Matcher) SelectFile(item *database.MediaItem, files []File) (*File, error) {
	videos := lo.Filter(files, func(f File, _ int) bool {
		return parser.IsVideo(f.Path) && !parser.IsSample(f.Path)
	})
	if len(videos) == 0 {
		return nil, ErrNoMatch
	}

	if item.Type != database.MediaTypeEpisode {
		largest := lo.MaxBy(videos, func(a, b File) bool { return a.Size > b.Size })
		return &largest, nil
	}

	for i := range videos {
		if m.Matches(item, videos[i]) {
			return &videos[i], nil
		}
	}
	return nil, ErrNoMatch
}

// Matches reports whether file satisfies an episode item.
func (m *Matcher) Matches(item *database.MediaItem, file File) bool {
	if item.Type != database.MediaTypeEpisode {
		return parser.IsVideo(file.Path) && !parser.IsSample(file.Path)
	}
	if !parser.IsVideo(file.Path) || parser.IsSample(file.Path) {
		return false
	}

	p := parser.Parse(file.Name())
	seasons := p.Seasons
	if len(seasons) == 0 {
		seasons = folderSeasons(file.Path)
	}
	episodes := p.Episodes
	if len(episodes) == 0 {
		episodes = parser.FallbackEpisodes(file.Name())
	}

	relaxed := m.relaxed(item)
	if relaxed && !p.AirDate.IsZero() && item.ReleaseDate == p.AirDate.Format("2006-01-02") {
		return true
	}

	seasonOK := lo.Contains(seasons, item.SeasonNumber)
	if relaxed && (len(seasons) == 0 || lo.Contains(seasons, 0)) {
		seasonOK = true
	}
	// a single season folder without season markers, e.g. "Show/05.mkv"
	if !seasonOK && len(seasons) == 0 && item.SeasonNumber == 1 && p.Year == 0 {
		seasonOK = true
	}
	return seasonOK && lo.Contains(episodes, item.EpisodeNumber)
}

// folderSeasons parses parent directory names for a season.
func folderSeasons(p string) []int {
	dir := path.Dir(strings.ReplaceAll(p, "\\", "/"))
	for dir != "." && dir != "/" && dir != "" {
		if r := parser.Parse(path.Base(dir)); len(r.Seasons) > 0 {
			return r.Seasons
		}
		dir = path.Dir(dir)
	}
	return nil
}

// FindSiblings returns queued items other than original that a file of this torrent satisfies.
// Siblings share version and series title with the original.
func (m *Matcher) FindSiblings(original *database.MediaItem, chosen *File, files []File, queued []database.MediaItem) []Sibling {
	if original.Type != database.MediaTypeEpisode {
		return nil
	}
	series := parser.NormalizeTitle(original.SeriesTitle())
	used := map[string]bool{}
	if chosen != nil {
		used[chosen.Path] = true
	}

	var siblings []Sibling
	seen := map[uint]bool{original.ID: true}
	for i := range queued {
		q := &queued[i]
		if seen[q.ID] || q.Type != database.MediaTypeEpisode || q.Version != original.Version {
			continue
		}
		if parser.NormalizeTitle(q.SeriesTitle()) != series {
			continue
		}
		if original.ImdbID != "" && q.ImdbID != "" && original.ImdbID != q.ImdbID {
			continue
		}
		for _, f := range files {
			if used[f.Path] || !m.Matches(q, f) {
				continue
			}
			used[f.Path] = true
			seen[q.ID] = true
			siblings = append(siblings, Sibling{Item: *q, File: f})
			break
		}
	}
	if len(siblings) > 0 {
		log.Debug("found sibling items in torrent", "item", original.String(), "siblings", len(siblings))
	}
	return siblings
}
