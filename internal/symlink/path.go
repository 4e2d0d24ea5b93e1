package symlink

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/samber/lo"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxPathLength is the longest destination path that is created.
const MaxPathLength = 255

// ErrPathTooLong is returned when the directory part alone does not fit MaxPathLength.
var ErrPathTooLong = errors.New("destination directory exceeds path limit")

// Type folders.
const (
	FolderMovies      = "Movies"
	FolderShows       = "TV Shows"
	FolderAnimeMovies = "Anime Movies"
	FolderAnimeShows  = "Anime TV Shows"
)

var (
	placeholderRe = regexp.MustCompile(`\{([a-z_]+)(?::0?(\d+)d)?\}`)
	spaceRe       = regexp.MustCompile(`\s+`)
	forbidden     = strings.NewReplacer(
		"<", "", ">", "", "|", "", "?", "", "*", "",
		":", "", `"`, "", "'", "", "&", "", "/", "", `\`, "",
	)
	asciiFold = transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Remove(runes.Predicate(func(r rune) bool { return r > unicode.MaxASCII || unicode.IsControl(r) })),
		norm.NFC,
	)
)

// Sanitize folds s to ASCII, drops characters that are unsafe in file names and trims it.
func Sanitize(s string) string {
	folded, _, err := transform.String(asciiFold, s)
	if err != nil {
		folded = s
	}
	folded = forbidden.Replace(folded)
	folded = spaceRe.ReplaceAllString(folded, " ")
	return strings.Trim(folded, " .")
}

// Values are the placeholder values of a template.
type Values struct {
	Title            string
	Year             int
	SeasonNumber     int
	EpisodeNumber    int
	EpisodeTitle     string
	ImdbID           string
	Version          string
	OriginalFilename string
	Resolution       string
}

func (v Values) lookup(name string) (any, bool) {
	switch name {
	case "title":
		return v.Title, true
	case "year":
		return v.Year, true
	case "season_number":
		return v.SeasonNumber, true
	case "episode_number":
		return v.EpisodeNumber, true
	case "episode_title":
		return v.EpisodeTitle, true
	case "imdb_id":
		return v.ImdbID, true
	case "version":
		return v.Version, true
	case "original_filename":
		return v.OriginalFilename, true
	case "resolution":
		return v.Resolution, true
	}
	return nil, false
}

// Expand fills the placeholders of one template segment. Unknown placeholders are kept verbatim.
func Expand(segment string, v Values) string {
	return placeholderRe.ReplaceAllStringFunc(segment, func(m string) string {
		sub := placeholderRe.FindStringSubmatch(m)
		val, ok := v.lookup(sub[1])
		if !ok {
			return m
		}
		n, isInt := val.(int)
		if !isInt {
			return fmt.Sprint(val)
		}
		if sub[2] == "" {
			if n == 0 && sub[1] == "year" {
				return ""
			}
			return strconv.Itoa(n)
		}
		width, _ := strconv.Atoi(sub[2])
		return fmt.Sprintf("%0*d", width, n)
	})
}

// Builder turns items into destination paths below the symlink root.
type Builder struct {
	root            string
	folderOrder     []config.FolderComponent
	separateAnime   bool
	movieTemplate   string
	episodeTemplate string
	versions        func(string) *config.VersionProfile
}

// NewBuilder creates a Builder from the configuration.
func NewBuilder(cfg *config.Config) *Builder {
	return &Builder{
		root:            cfg.Paths.SymlinkedFilesPath,
		folderOrder:     cfg.FolderOrder,
		separateAnime:   cfg.SeparateAnimeFolders,
		movieTemplate:   cfg.Templates.Movie,
		episodeTemplate: cfg.Templates.Episode,
		versions:        cfg.GetVersion,
	}
}

// TypeFolder returns the library folder of item.
func (b *Builder) TypeFolder(item *database.MediaItem) string {
	anime := b.separateAnime && item.IsAnime()
	switch {
	case item.Type == database.MediaTypeEpisode && anime:
		return FolderAnimeShows
	case item.Type == database.MediaTypeEpisode:
		return FolderShows
	case anime:
		return FolderAnimeMovies
	default:
		return FolderMovies
	}
}

func (b *Builder) profileResolution(version string) string {
	p := b.versions(version)
	if p == nil {
		p = b.versions(strings.TrimRight(version, "*"))
	}
	if p == nil {
		return ""
	}
	return p.MaxResolution
}

// ValuesFor returns the template values of item for a source file name.
func (b *Builder) ValuesFor(item *database.MediaItem, sourceName string) Values {
	v := Values{
		Title:            item.Title,
		Year:             item.Year,
		ImdbID:           item.ImdbID,
		Version:          strings.ReplaceAll(item.Version, "*", ""),
		OriginalFilename: strings.TrimSuffix(sourceName, path.Ext(sourceName)),
		Resolution:       lo.CoalesceOrEmpty(item.Resolution, b.profileResolution(item.Version)),
	}
	if item.Type == database.MediaTypeEpisode {
		v.Title = item.SeriesTitle()
		v.Year = lo.CoalesceOrEmpty(item.ShowYear, item.Year)
		v.SeasonNumber = item.SeasonNumber
		v.EpisodeNumber = item.EpisodeNumber
		v.EpisodeTitle = item.EpisodeTitle
	}
	return v
}

// Path returns the absolute destination of item for sourceName with the given values.
// The prefix follows the folder order, every template segment is sanitized and the
// file name is shortened when the whole path exceeds MaxPathLength.
func (b *Builder) Path(item *database.MediaItem, sourceName string, v Values) (string, error) {
	parts := []string{b.root}
	for _, fc := range b.folderOrder {
		var part string
		switch fc {
		case config.FolderComponentType:
			part = b.TypeFolder(item)
		case config.FolderComponentVersion:
			part = Sanitize(strings.ReplaceAll(item.Version, "*", ""))
		case config.FolderComponentResolution:
			part = Sanitize(b.profileResolution(item.Version))
		}
		if part != "" {
			parts = append(parts, part)
		}
	}

	tmpl := b.movieTemplate
	if item.Type == database.MediaTypeEpisode {
		tmpl = b.episodeTemplate
	}
	segments := strings.Split(tmpl, "/")
	for _, seg := range segments {
		if s := Sanitize(Expand(seg, v)); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) < 2 {
		return "", fmt.Errorf("template for %s expanded to an empty path", item.Type)
	}

	dir := filepath.Join(parts[:len(parts)-1]...)
	return fit(dir, parts[len(parts)-1], path.Ext(sourceName))
}

// fit joins dir, name and ext, shortening only name to stay within MaxPathLength.
func fit(dir, name, ext string) (string, error) {
	full := filepath.Join(dir, name+ext)
	if len(full) <= MaxPathLength {
		return full, nil
	}
	room := MaxPathLength - len(dir) - len(string(filepath.Separator)) - len(ext)
	if room < 1 {
		return "", fmt.Errorf("%w: %s", ErrPathTooLong, dir)
	}
	name = strings.TrimRight(name[:room], " .")
	if name == "" {
		return "", fmt.Errorf("%w: %s", ErrPathTooLong, dir)
	}
	return filepath.Join(dir, name+ext), nil
}
