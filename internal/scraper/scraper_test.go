package scraper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	name    string
	results []Result
	err     error
	delay   time.Duration
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Scrape(ctx context.Context, _ Query) ([]Result, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := make([]Result, len(f.results))
	copy(out, f.results)
	return out, f.err
}

type fakeCache map[string]bool

func (f fakeCache) CheckCached(_ context.Context, hashes []string) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, h := range hashes {
		if v, ok := f[h]; ok {
			out[h] = v
		}
	}
	return out, nil
}

const (
	hashA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	hashB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	hashC = "cccccccccccccccccccccccccccccccccccccccc"
)

func testConfig() *config.Config {
	return &config.Config{
		Scrapers: &config.ScrapersConfig{Timeout: 50 * time.Millisecond},
		Pipeline: &config.PipelineConfig{
			UncachedContentHandling: config.UncachedHandlingNone,
			UltimateSortOrder:       config.SortOrderLargeToSmall,
		},
	}
}

func profile1080() *config.VersionProfile {
	return &config.VersionProfile{
		MaxResolution:    "1080p",
		ResolutionWanted: config.ResolutionAtMost,
		MaxSizeGB:        30,
	}
}

func akira() *database.MediaItem {
	return &database.MediaItem{
		ID:      1,
		ImdbID:  "tt0094625",
		Title:   "Akira",
		Year:    1988,
		Type:    database.MediaTypeMovie,
		Version: "1080p",
	}
}

func TestPool_ScrapeRanksAndDedups(t *testing.T) {
	a := &fakeAdapter{name: "torznab", results: []Result{
		{Title: "Akira.1988.720p.BluRay.x264-GRP", InfoHash: hashA, SizeGB: 6, Seeders: 10},
		{Title: "Akira.1988.1080p.BluRay.x264-GRP", InfoHash: hashB, SizeGB: 12, Seeders: 50},
	}}
	b := &fakeAdapter{name: "torrentio", results: []Result{
		{Title: "Akira.1988.1080p.BluRay.x264-GRP", InfoHash: "BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB", SizeGB: 12},
		{Title: "Akira.1988.2160p.UHD.BluRay.x265-GRP", InfoHash: hashC, SizeGB: 40},
	}}

	pool := NewPool(testConfig(), a, b)
	out, err := pool.Scrape(context.Background(), Request{Item: akira(), Profile: profile1080()})
	require.NoError(t, err)

	require.Len(t, out.Results, 2)
	assert.Equal(t, hashB, out.Results[0].InfoHash)
	assert.Equal(t, hashA, out.Results[1].InfoHash)
	assert.NotEmpty(t, out.Results[0].Magnet)

	rejected := lo.Map(out.Filtered, func(r Rejection, _ int) string { return r.Result.InfoHash })
	assert.Contains(t, rejected, hashC)
}

func TestPool_FailingAndSlowAdaptersContributeNothing(t *testing.T) {
	good := &fakeAdapter{name: "good", results: []Result{
		{Title: "Akira.1988.1080p.BluRay.x264-GRP", InfoHash: hashA, SizeGB: 10},
	}}
	broken := &fakeAdapter{name: "broken", err: errors.New("boom")}
	slow := &fakeAdapter{name: "slow", delay: time.Second, results: []Result{
		{Title: "Akira.1988.1080p.WEB-DL-GRP", InfoHash: hashB, SizeGB: 8},
	}}

	pool := NewPool(testConfig(), good, broken, slow)
	out, err := pool.Scrape(context.Background(), Request{Item: akira(), Profile: profile1080()})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, hashA, out.Results[0].InfoHash)
}

func TestPool_NoResults(t *testing.T) {
	pool := NewPool(testConfig(), &fakeAdapter{name: "empty"})
	out, err := pool.Scrape(context.Background(), Request{Item: akira(), Profile: profile1080()})
	assert.ErrorIs(t, err, ErrNoResults)
	require.NotNil(t, out)
	assert.Empty(t, out.Results)
}

func TestPool_DeterministicRanking(t *testing.T) {
	results := []Result{
		{Title: "Akira.1988.1080p.BluRay-A", InfoHash: hashA, SizeGB: 10, Seeders: 5},
		{Title: "Akira.1988.1080p.BluRay-B", InfoHash: hashB, SizeGB: 10, Seeders: 5},
	}
	pool := NewPool(testConfig(), &fakeAdapter{name: "x", results: results})

	first, err := pool.Scrape(context.Background(), Request{Item: akira(), Profile: profile1080()})
	require.NoError(t, err)
	second, err := pool.Scrape(context.Background(), Request{Item: akira(), Profile: profile1080()})
	require.NoError(t, err)
	assert.Equal(t, Records(first.Results), Records(second.Results))
}

func TestPool_UncachedDemoted(t *testing.T) {
	results := []Result{
		{Title: "Akira.1988.1080p.BluRay-A", InfoHash: hashA, SizeGB: 20, Seeders: 100},
		{Title: "Akira.1988.720p.BluRay-B", InfoHash: hashB, SizeGB: 5, Seeders: 1},
	}

	tests := []struct {
		name     string
		handling config.UncachedHandling
		want     string
	}{
		{name: "none demotes", handling: config.UncachedHandlingNone, want: hashB},
		{name: "hybrid demotes", handling: config.UncachedHandlingHybrid, want: hashB},
		{name: "full keeps score order", handling: config.UncachedHandlingFull, want: hashA},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Pipeline.UncachedContentHandling = tt.handling
			pool := NewPool(cfg, &fakeAdapter{name: "x", results: results})
			pool.SetCacheChecker(fakeCache{hashA: false, hashB: true})

			out, err := pool.Scrape(context.Background(), Request{Item: akira(), Profile: profile1080()})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Results[0].InfoHash)
		})
	}
}

func TestFilters(t *testing.T) {
	episode := &database.MediaItem{
		Title:         "Breaking Bad",
		ShowTitle:     "Breaking Bad",
		ShowYear:      2008,
		Type:          database.MediaTypeEpisode,
		SeasonNumber:  1,
		EpisodeNumber: 3,
		Version:       "1080p",
	}
	aired := *episode
	aired.ReleaseDate = "2010-03-21"

	tests := []struct {
		name      string
		item      *database.MediaItem
		profile   *config.VersionProfile
		multiPack bool
		title     string
		sizeGB    float64
		keep      bool
	}{
		{name: "movie match", item: akira(), profile: profile1080(), title: "Akira 1988 1080p BluRay", sizeGB: 10, keep: true},
		{name: "wrong title", item: akira(), profile: profile1080(), title: "Arrival 2016 1080p BluRay", sizeGB: 10},
		{name: "year off by two", item: akira(), profile: profile1080(), title: "Akira 1990 1080p BluRay", sizeGB: 10},
		{name: "year off by one", item: akira(), profile: profile1080(), title: "Akira 1989 1080p BluRay", sizeGB: 10, keep: true},
		{name: "resolution above max", item: akira(), profile: profile1080(), title: "Akira 1988 2160p BluRay", sizeGB: 10},
		{name: "too large", item: akira(), profile: profile1080(), title: "Akira 1988 1080p BluRay", sizeGB: 31},
		{
			name:    "filter out term",
			item:    akira(),
			profile: &config.VersionProfile{MaxResolution: "1080p", ResolutionWanted: "<=", FilterOut: []string{"CAM"}},
			title:   "Akira 1988 1080p CAM",
			sizeGB:  2,
		},
		{
			name:    "filter in term missing",
			item:    akira(),
			profile: &config.VersionProfile{MaxResolution: "1080p", ResolutionWanted: "<=", FilterIn: []string{"bluray"}},
			title:   "Akira 1988 1080p WEB-DL",
			sizeGB:  2,
		},
		{
			name:    "exact resolution",
			item:    akira(),
			profile: &config.VersionProfile{MaxResolution: "1080p", ResolutionWanted: "=="},
			title:   "Akira 1988 720p BluRay",
			sizeGB:  2,
		},
		{
			name:    "hdr disabled",
			item:    akira(),
			profile: &config.VersionProfile{MaxResolution: "2160p", ResolutionWanted: "<="},
			title:   "Akira 1988 2160p UHD BluRay HDR10 x265",
			sizeGB:  30,
		},
		{name: "episode match", item: episode, profile: profile1080(), title: "Breaking.Bad.S01E03.1080p.BluRay", sizeGB: 2, keep: true},
		{name: "other episode", item: episode, profile: profile1080(), title: "Breaking.Bad.S01E04.1080p.BluRay", sizeGB: 2},
		{name: "season pack single mode", item: episode, profile: profile1080(), title: "Breaking.Bad.S01.1080p.BluRay", sizeGB: 20},
		{name: "season pack multi mode", item: episode, profile: profile1080(), multiPack: true, title: "Breaking.Bad.S01.1080p.BluRay", sizeGB: 40, keep: true},
		{name: "episode year after air year", item: &aired, profile: profile1080(), title: "Breaking Bad 2011 S01E03 1080p BluRay", sizeGB: 2, keep: true},
		{name: "episode year past air year", item: &aired, profile: profile1080(), title: "Breaking Bad 2013 S01E03 1080p BluRay", sizeGB: 2},
		{name: "episode year unknown air date", item: episode, profile: profile1080(), title: "Breaking Bad 2012 S01E03 1080p BluRay", sizeGB: 2},
		{name: "other season pack", item: episode, profile: profile1080(), multiPack: true, title: "Breaking.Bad.S02.1080p.BluRay", sizeGB: 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := dedup([]Result{{Title: tt.title, InfoHash: hashA, SizeGB: tt.sizeGB}})
			require.Len(t, results, 1)

			req := &Request{Item: tt.item, Profile: tt.profile, MultiPack: tt.multiPack}
			kept, rejected, err := DefaultFilter(tt.profile).ApplyAll(context.Background(), req, results)
			require.NoError(t, err)
			if tt.keep {
				assert.Len(t, kept, 1, "rejections: %v", rejected)
				return
			}
			assert.Empty(t, kept)
			require.Len(t, rejected, 1)
			assert.NotEmpty(t, rejected[0].Reason)
		})
	}
}

func TestSizeFilter_SoftMax(t *testing.T) {
	profile := &config.VersionProfile{MaxResolution: "1080p", ResolutionWanted: "<=", MaxSizeGB: 5, SoftMaxSizeGB: 15}
	f := &sizeFilter{profile: profile}

	results := []Result{
		{Title: "a", InfoHash: hashA, SizeGB: 12},
		{Title: "b", InfoHash: hashB, SizeGB: 8},
		{Title: "c", InfoHash: hashC, SizeGB: 20},
	}
	kept, rejected, err := f.Apply(context.Background(), &Request{Item: akira()}, results)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, hashB, kept[0].InfoHash)
	assert.Len(t, rejected, 2)

	// soft max never applies when something passes
	results = append(results, Result{Title: "d", SizeGB: 4})
	kept, _, err = f.Apply(context.Background(), &Request{Item: akira()}, results)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, "d", kept[0].Title)
}

func TestSizeFilter_SoftMaxAdmitsSmallestAboveSoftLimit(t *testing.T) {
	profile := &config.VersionProfile{MaxResolution: "1080p", ResolutionWanted: "<=", MaxSizeGB: 5, SoftMaxSizeGB: 6}
	f := &sizeFilter{profile: profile}

	results := []Result{
		{Title: "a", InfoHash: hashA, SizeGB: 9},
		{Title: "b", InfoHash: hashB, SizeGB: 8},
	}
	kept, rejected, err := f.Apply(context.Background(), &Request{Item: akira()}, results)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, hashB, kept[0].InfoHash)
	require.Len(t, rejected, 1)
	assert.Equal(t, hashA, rejected[0].Result.InfoHash)

	// without a soft max nothing is admitted
	f = &sizeFilter{profile: &config.VersionProfile{MaxSizeGB: 5}}
	kept, rejected, err = f.Apply(context.Background(), &Request{Item: akira()}, results)
	require.NoError(t, err)
	assert.Empty(t, kept)
	assert.Len(t, rejected, 2)
}

func TestTokenSortRatio(t *testing.T) {
	assert.Equal(t, 100.0, TokenSortRatio("The Matrix", "Matrix The"))
	assert.GreaterOrEqual(t, TokenSortRatio("Spider-Man: No Way Home", "Spider Man No Way Home"), MinSimilarity)
	assert.Less(t, TokenSortRatio("Akira", "Arrival"), MinSimilarity)
}

func TestRank_TieBreaks(t *testing.T) {
	profile := &config.VersionProfile{MaxResolution: "1080p", Weights: config.Weights{Resolution: 1}}
	base := Result{Title: "x", Similarity: 100}

	a, b := base, base
	a.InfoHash, a.SizeGB, a.Seeders = hashA, 10, 5
	b.InfoHash, b.SizeGB, b.Seeders = hashB, 5, 5

	ranked := Rank([]Result{a, b}, profile, config.UncachedHandlingNone, config.SortOrderLargeToSmall)
	assert.Equal(t, hashA, ranked[0].InfoHash)

	ranked = Rank([]Result{a, b}, profile, config.UncachedHandlingNone, config.SortOrderSmallToLarge)
	assert.Equal(t, hashB, ranked[0].InfoHash)

	b.Seeders = 50
	ranked = Rank([]Result{a, b}, profile, config.UncachedHandlingNone, config.SortOrderLargeToSmall)
	assert.Equal(t, hashB, ranked[0].InfoHash)
}
