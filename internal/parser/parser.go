// Package parser turns torrent and file names into structured release data.
package parser

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/moistari/rls"
	"github.com/samber/lo"
)

// Release is the structured form of a release or file name.
type Release struct {
	Raw        string
	Title      string
	Year       int
	Seasons    []int
	Episodes   []int
	Resolution string
	HDR        []string
	Codec      []string
	Source     string
	Tags       []string
	Group      string
	Ext        string
	AirDate    time.Time
	Complete   bool
}

// HasSeason reports whether the release covers season.
func (r *Release) HasSeason(season int) bool {
	return lo.Contains(r.Seasons, season)
}

// HasEpisode reports whether the release covers episode.
func (r *Release) HasEpisode(episode int) bool {
	return lo.Contains(r.Episodes, episode)
}

// IsSeasonPack reports a release with seasons but no episode numbers.
func (r *Release) IsSeasonPack() bool {
	return (len(r.Seasons) > 0 || r.Complete) && len(r.Episodes) == 0
}

// IsHDR reports whether any HDR format was detected.
func (r *Release) IsHDR() bool {
	return len(r.HDR) > 0
}

var (
	seasonRangeRe  = regexp.MustCompile(`(?i)\bS(\d{1,2})\s*-\s*S?(\d{1,2})\b`)
	seasonWordRe   = regexp.MustCompile(`(?i)\bseasons?[\s._]*(\d{1,2})(?:\s*(?:-|to|&)\s*(\d{1,2}))?\b`)
	seasonOnlyRe   = regexp.MustCompile(`(?i)(?:^|[\s._\[(-])S(\d{1,2})(?:[\s._\])-]|$)`)
	episodeRangeRe = regexp.MustCompile(`(?i)\bS(\d{1,2})E(\d{1,4})(?:\s*-\s*E?(\d{1,4}))\b`)
	multiEpisodeRe = regexp.MustCompile(`(?i)\bS(\d{1,2})((?:E\d{1,4}){2,})\b`)
	completeRe     = regexp.MustCompile(`(?i)\b(complete|full[\s._]series|integrale)\b`)

	fallbackEpisodeRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bE(\d{1,4})\b`),
		regexp.MustCompile(`(?i)\bep(?:isode)?[\s._]*(\d{1,4})\b`),
		regexp.MustCompile(`(?:^|[\s._\-\[(])(\d{1,4})(?:v\d)?(?:[\s._\-\])]|$)`),
	}
)

// Parse parses a release title or file name.
func Parse(name string) *Release {
	base := filepath.Base(name)
	r := rls.ParseString(base)

	rel := &Release{
		Raw:        name,
		Title:      r.Title,
		Year:       r.Year,
		Resolution: NormalizeResolution(r.Resolution),
		HDR:        r.HDR,
		Codec:      r.Codec,
		Source:     r.Source,
		Group:      r.Group,
		Complete:   completeRe.MatchString(base),
	}
	if IsVideo(base) {
		rel.Ext = strings.ToLower(strings.TrimPrefix(filepath.Ext(base), "."))
	}
	rel.Tags = append(rel.Tags, r.Other...)
	if r.Source != "" {
		rel.Tags = append(rel.Tags, r.Source)
	}

	if r.Series > 0 {
		rel.Seasons = []int{r.Series}
	}
	if r.Episode > 0 {
		rel.Episodes = []int{r.Episode}
	}
	if r.Year > 0 && r.Month > 0 && r.Day > 0 {
		rel.AirDate = time.Date(r.Year, time.Month(r.Month), r.Day, 0, 0, 0, 0, time.UTC)
	}

	parseRanges(base, rel)

	if rel.Resolution == "" {
		rel.Resolution = resolutionFromText(base)
	}
	return rel
}

// parseRanges adds season and episode ranges the release parser reports as single values.
func parseRanges(name string, rel *Release) {
	if m := seasonRangeRe.FindStringSubmatch(name); m != nil {
		rel.Seasons = expand(atoi(m[1]), atoi(m[2]))
	} else if m := seasonWordRe.FindStringSubmatch(name); m != nil {
		if m[2] != "" {
			rel.Seasons = expand(atoi(m[1]), atoi(m[2]))
		} else if len(rel.Seasons) == 0 {
			rel.Seasons = []int{atoi(m[1])}
		}
	} else if len(rel.Seasons) == 0 {
		if m := seasonOnlyRe.FindStringSubmatch(name); m != nil {
			rel.Seasons = []int{atoi(m[1])}
		}
	}

	if m := episodeRangeRe.FindStringSubmatch(name); m != nil {
		rel.Seasons = []int{atoi(m[1])}
		rel.Episodes = expand(atoi(m[2]), atoi(m[3]))
	} else if m := multiEpisodeRe.FindStringSubmatch(name); m != nil {
		rel.Seasons = []int{atoi(m[1])}
		var eps []int
		for _, part := range strings.Split(strings.ToUpper(m[2]), "E") {
			if part != "" {
				eps = append(eps, atoi(part))
			}
		}
		rel.Episodes = eps
	}
}

// FallbackEpisodes extracts episode numbers with looser patterns.
// It is used when the structured parse yields no episode list.
func FallbackEpisodes(name string) []int {
	base := filepath.Base(name)
	if IsVideo(base) {
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	for i, re := range fallbackEpisodeRes {
		matches := re.FindAllStringSubmatch(base, -1)
		// bare numbers: the episode usually follows the title
		if i == len(fallbackEpisodeRes)-1 {
			matches = lo.Reverse(matches)
		}
		for _, m := range matches {
			n := atoi(m[1])
			if n <= 0 || isLikelyYear(n) || isResolutionNumber(m[1]) {
				continue
			}
			return []int{n}
		}
	}
	return nil
}

func isLikelyYear(n int) bool {
	return n >= 1900 && n <= 2100
}

func isResolutionNumber(s string) bool {
	switch s {
	case "480", "576", "720", "1080", "2160":
		return true
	}
	return false
}

func expand(from, to int) []int {
	if to < from {
		from, to = to, from
	}
	if to-from > 200 {
		return []int{from}
	}
	return lo.RangeFrom(from, to-from+1)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// Resolutions ordered from best to worst.
var Resolutions = []string{"2160p", "1440p", "1080p", "720p", "576p", "480p"}

var resolutionRanks = map[string]int{
	"2160p": 6,
	"1440p": 5,
	"1080p": 4,
	"720p":  3,
	"576p":  2,
	"480p":  1,
}

// ResolutionRank returns a comparable rank. Unknown resolutions rank 0.
func ResolutionRank(res string) int {
	return resolutionRanks[NormalizeResolution(res)]
}

// MaxResolutionRank is the rank of the best known resolution.
func MaxResolutionRank() int {
	return resolutionRanks[Resolutions[0]]
}

// NormalizeResolution maps aliases onto the canonical resolution names.
func NormalizeResolution(res string) string {
	switch strings.ToLower(strings.TrimSpace(res)) {
	case "2160p", "2160i", "4k", "uhd":
		return "2160p"
	case "1440p":
		return "1440p"
	case "1080p", "1080i", "fhd":
		return "1080p"
	case "720p", "720i", "hd":
		return "720p"
	case "576p", "576i":
		return "576p"
	case "480p", "480i", "sd":
		return "480p"
	}
	return ""
}

var resolutionTextRe = regexp.MustCompile(`(?i)\b(2160p|4k|uhd|1440p|1080[pi]|720p|576[pi]|480p)\b`)

func resolutionFromText(name string) string {
	if m := resolutionTextRe.FindStringSubmatch(name); m != nil {
		return NormalizeResolution(m[1])
	}
	return ""
}

var videoExtensions = []string{"mkv", "mp4", "avi", "m4v", "ts", "mov"}

// IsVideo reports whether path has a video extension.
func IsVideo(path string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	return lo.Contains(videoExtensions, ext)
}

var sampleRe = regexp.MustCompile(`(?i)(^|[\s._\-/\[(])sample([\s._\-/\])]|$)`)

// IsSample reports whether path looks like a sample file or lives in a sample folder.
func IsSample(path string) bool {
	return sampleRe.MatchString(filepath.ToSlash(path))
}

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeTitle lowercases and collapses punctuation into single spaces.
func NormalizeTitle(s string) string {
	s = strings.ToLower(strings.ReplaceAll(s, "&", " and "))
	return strings.TrimSpace(nonAlnumRe.ReplaceAllString(s, " "))
}

// Stem returns the lowercased file name without directory and extension.
func Stem(path string) string {
	base := filepath.Base(filepath.ToSlash(path))
	return strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
}
