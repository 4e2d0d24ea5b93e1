package scraper

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/charmbracelet/log"
	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/parser"
	"github.com/samber/lo"
)

// MinSimilarity is the minimum token sort ratio for a title match.
const MinSimilarity = 85.0

// Filterer defines the interface for result filters.
type Filterer interface {
	fmt.Stringer
	// Apply returns the kept results and the rejected ones with a reason.
	Apply(ctx context.Context, req *Request, results []Result) ([]Result, []Rejection, error)
}

// Filter applies all provided filters sequentially to scrape results.
type Filter struct {
	filters []Filterer
}

// NewFilter creates a new Filter instance with the given filters.
func NewFilter(filters ...Filterer) *Filter {
	return &Filter{filters: filters}
}

// DefaultFilter is the version profile filter chain.
func DefaultFilter(profile *config.VersionProfile) *Filter {
	return NewFilter(
		&titleFilter{},
		&yearFilter{},
		&episodeFilter{},
		&resolutionFilter{profile: profile},
		&hdrFilter{profile: profile},
		&termsFilter{profile: profile},
		&sizeFilter{profile: profile},
	)
}

// ApplyAll applies all filters sequentially. Rejections of every filter are collected.
func (f *Filter) ApplyAll(ctx context.Context, req *Request, results []Result) ([]Result, []Rejection, error) {
	kept := results
	var rejected []Rejection

	for _, filter := range f.filters {
		if len(kept) == 0 {
			break
		}
		pre := len(kept)
		var out []Rejection
		var err error
		kept, out, err = filter.Apply(ctx, req, kept)
		if err != nil {
			log.Error("Failed to apply filter.", "filter", filter.String(), "error", err)
			return nil, nil, err
		}
		rejected = append(rejected, out...)
		log.Debug("Filter applied.", "filter", filter.String(), "remaining", len(kept), "filtered_out", pre-len(kept))
	}
	return kept, rejected, nil
}

func reject(filter fmt.Stringer, r Result, format string, args ...any) Rejection {
	return Rejection{Result: r, Filter: filter.String(), Reason: fmt.Sprintf(format, args...)}
}

func partition(ctx context.Context, f fmt.Stringer, results []Result, check func(r *Result) string) ([]Result, []Rejection, error) {
	kept := make([]Result, 0, len(results))
	var rejected []Rejection
	for i := range results {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if reason := check(&results[i]); reason != "" {
			rejected = append(rejected, reject(f, results[i], "%s", reason))
			continue
		}
		kept = append(kept, results[i])
	}
	return kept, rejected, nil
}

type titleFilter struct{}

func (f *titleFilter) String() string { return "Title Filter" }

func (f *titleFilter) Apply(ctx context.Context, req *Request, results []Result) ([]Result, []Rejection, error) {
	want := req.Item.SeriesTitle()
	return partition(ctx, f, results, func(r *Result) string {
		candidate := r.Title
		if r.Parsed != nil && r.Parsed.Title != "" {
			candidate = r.Parsed.Title
		}
		r.Similarity = TokenSortRatio(want, candidate)
		if r.Similarity < MinSimilarity {
			return fmt.Sprintf("title similarity %.0f below %.0f", r.Similarity, MinSimilarity)
		}
		return ""
	})
}

type yearFilter struct{}

func (f *yearFilter) String() string { return "Year Filter" }

func (f *yearFilter) Apply(ctx context.Context, req *Request, results []Result) ([]Result, []Rejection, error) {
	want := req.Item.Year
	if req.Item.Type == database.MediaTypeEpisode {
		want = req.Item.ShowYear
	}
	if want == 0 {
		return results, nil, nil
	}
	return partition(ctx, f, results, func(r *Result) string {
		if r.Parsed == nil || r.Parsed.Year == 0 {
			return ""
		}
		// episode releases often carry the air year of the season
		if req.Item.Type == database.MediaTypeEpisode && r.Parsed.Year >= want {
			if limit := airYear(req.Item) + 1; limit > want && r.Parsed.Year <= limit {
				return ""
			}
		}
		if diff := r.Parsed.Year - want; diff > 1 || diff < -1 {
			return fmt.Sprintf("year %d not within one year of %d", r.Parsed.Year, want)
		}
		return ""
	})
}

// airYear returns the year of the item's release date, or 0 when unknown.
func airYear(item *database.MediaItem) int {
	if len(item.ReleaseDate) < 4 {
		return 0
	}
	y, err := strconv.Atoi(item.ReleaseDate[:4])
	if err != nil {
		return 0
	}
	return y
}

type episodeFilter struct{}

func (f *episodeFilter) String() string { return "Episode Filter" }

func (f *episodeFilter) Apply(ctx context.Context, req *Request, results []Result) ([]Result, []Rejection, error) {
	item := req.Item
	if item.Type != database.MediaTypeEpisode {
		return partition(ctx, f, results, func(r *Result) string {
			if r.Parsed != nil && (len(r.Parsed.Episodes) > 0 || len(r.Parsed.Seasons) > 0) {
				return "episodic release for a movie"
			}
			return ""
		})
	}

	return partition(ctx, f, results, func(r *Result) string {
		p := r.Parsed
		if p == nil {
			return "unparsed"
		}
		seasonOK := p.HasSeason(item.SeasonNumber) || (len(p.Seasons) == 0 && p.Complete)
		if item.IsAnime() && len(p.Seasons) == 0 {
			seasonOK = true
		}
		if !seasonOK {
			return fmt.Sprintf("season %d not in %v", item.SeasonNumber, p.Seasons)
		}
		if p.HasEpisode(item.EpisodeNumber) {
			return ""
		}
		if req.MultiPack && len(p.Episodes) == 0 {
			return ""
		}
		if len(p.Episodes) == 0 && lo.Contains(parser.FallbackEpisodes(r.Title), item.EpisodeNumber) {
			return ""
		}
		return fmt.Sprintf("episode %d not in %v", item.EpisodeNumber, p.Episodes)
	})
}

type resolutionFilter struct {
	profile *config.VersionProfile
}

func (f *resolutionFilter) String() string { return "Resolution Filter" }

func (f *resolutionFilter) Apply(ctx context.Context, _ *Request, results []Result) ([]Result, []Rejection, error) {
	return partition(ctx, f, results, func(r *Result) string {
		res := ""
		if r.Parsed != nil {
			res = r.Parsed.Resolution
		}
		if !ResolutionSatisfies(res, f.profile.MaxResolution, f.profile.ResolutionWanted) {
			return fmt.Sprintf("resolution %q does not satisfy %s %s", res, f.profile.ResolutionWanted, f.profile.MaxResolution)
		}
		return ""
	})
}

// ResolutionSatisfies compares a release resolution with a profile bound.
// Unknown resolutions only satisfy an upper bound.
func ResolutionSatisfies(res, bound string, cmp config.ResolutionComparison) bool {
	have := parser.ResolutionRank(res)
	want := parser.ResolutionRank(bound)
	switch cmp {
	case config.ResolutionExactly:
		return have == want
	case config.ResolutionAtLeast:
		return have != 0 && have >= want
	default:
		return have <= want
	}
}

type hdrFilter struct {
	profile *config.VersionProfile
}

func (f *hdrFilter) String() string { return "HDR Filter" }

func (f *hdrFilter) Apply(ctx context.Context, _ *Request, results []Result) ([]Result, []Rejection, error) {
	if f.profile.EnableHDR {
		return results, nil, nil
	}
	return partition(ctx, f, results, func(r *Result) string {
		if r.Parsed != nil && r.Parsed.IsHDR() {
			return fmt.Sprintf("HDR %v not enabled", r.Parsed.HDR)
		}
		return ""
	})
}

type termsFilter struct {
	profile *config.VersionProfile
}

func (f *termsFilter) String() string { return "Terms Filter" }

func (f *termsFilter) Apply(ctx context.Context, _ *Request, results []Result) ([]Result, []Rejection, error) {
	if len(f.profile.FilterIn) == 0 && len(f.profile.FilterOut) == 0 {
		return results, nil, nil
	}
	return partition(ctx, f, results, func(r *Result) string {
		title := strings.ToLower(r.Title)
		for _, term := range f.profile.FilterOut {
			if term != "" && strings.Contains(title, strings.ToLower(term)) {
				return fmt.Sprintf("contains filtered out term %q", term)
			}
		}
		for _, term := range f.profile.FilterIn {
			if term != "" && !strings.Contains(title, strings.ToLower(term)) {
				return fmt.Sprintf("missing required term %q", term)
			}
		}
		return ""
	})
}

type sizeFilter struct {
	profile *config.VersionProfile
}

func (f *sizeFilter) String() string { return "Size Filter" }

// Apply keeps results inside [min, max]. Season packs are only checked against the minimum.
// When nothing passes and a soft maximum is set, the smallest rejected result is admitted.
func (f *sizeFilter) Apply(ctx context.Context, _ *Request, results []Result) ([]Result, []Rejection, error) {
	minSize, maxSize := f.profile.MinSizeGB, f.profile.MaxSizeGB
	if minSize <= 0 && maxSize <= 0 {
		return results, nil, nil
	}

	kept, rejected, err := partition(ctx, f, results, func(r *Result) string {
		size := r.SizeGB
		if minSize > 0 && size < minSize {
			return fmt.Sprintf("size %.2f GB below %.2f GB", size, minSize)
		}
		if maxSize > 0 && size > maxSize && !(r.Parsed != nil && r.Parsed.IsSeasonPack()) {
			return fmt.Sprintf("size %.2f GB above %.2f GB", size, maxSize)
		}
		return ""
	})
	if err != nil || len(kept) > 0 || f.profile.SoftMaxSizeGB <= 0 {
		return kept, rejected, err
	}

	idx := -1
	for i, rj := range rejected {
		if idx == -1 || rj.Result.SizeGB < rejected[idx].Result.SizeGB {
			idx = i
		}
	}
	if idx == -1 {
		return kept, rejected, nil
	}
	log.Debug("no result within size limits, admitting smallest", "title", rejected[idx].Result.Title, "size_gb", rejected[idx].Result.SizeGB)
	kept = append(kept, rejected[idx].Result)
	rejected = append(rejected[:idx], rejected[idx+1:]...)
	return kept, rejected, nil
}

// TokenSortRatio returns a 0 to 100 similarity of two titles after sorting their tokens.
func TokenSortRatio(a, b string) float64 {
	ta := sortedTokens(a)
	tb := sortedTokens(b)
	if ta == "" && tb == "" {
		return 100
	}
	return ratio(ta, tb)
}

func sortedTokens(s string) string {
	tokens := strings.Fields(parser.NormalizeTitle(s))
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

func ratio(a, b string) float64 {
	longest := max(len(a), len(b))
	if longest == 0 {
		return 100
	}
	dist := levenshtein.ComputeDistance(a, b)
	return math.Round((1-float64(dist)/float64(longest))*10000) / 100
}
