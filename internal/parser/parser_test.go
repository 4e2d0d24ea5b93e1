package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantSeasons  []int
		wantEpisodes []int
		wantRes      string
		wantYear     int
		seasonPack   bool
	}{
		{
			name:         "single episode",
			input:        "Breaking.Bad.S01E05.1080p.BluRay.x264-GROUP",
			wantSeasons:  []int{1},
			wantEpisodes: []int{5},
			wantRes:      "1080p",
		},
		{
			name:        "season pack",
			input:       "Breaking.Bad.S02.720p.WEB-DL.x264-GROUP",
			wantSeasons: []int{2},
			wantRes:     "720p",
			seasonPack:  true,
		},
		{
			name:        "season range",
			input:       "Breaking Bad S01-S03 1080p BluRay",
			wantSeasons: []int{1, 2, 3},
			wantRes:     "1080p",
			seasonPack:  true,
		},
		{
			name:         "episode range",
			input:        "Show.S01E01-E03.1080p.WEB",
			wantSeasons:  []int{1},
			wantEpisodes: []int{1, 2, 3},
			wantRes:      "1080p",
		},
		{
			name:         "multi episode",
			input:        "Show.S01E01E02.720p.HDTV",
			wantSeasons:  []int{1},
			wantEpisodes: []int{1, 2},
			wantRes:      "720p",
		},
		{
			name:     "movie",
			input:    "Akira.1988.2160p.UHD.BluRay.REMUX.HDR.HEVC-GROUP",
			wantRes:  "2160p",
			wantYear: 1988,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.input)
			assert.Equal(t, tt.wantSeasons, got.Seasons)
			assert.Equal(t, tt.wantEpisodes, got.Episodes)
			assert.Equal(t, tt.wantRes, got.Resolution)
			if tt.wantYear != 0 {
				assert.Equal(t, tt.wantYear, got.Year)
			}
			assert.Equal(t, tt.seasonPack, got.IsSeasonPack())
		})
	}
}

func TestFallbackEpisodes(t *testing.T) {
	tests := []struct {
		input string
		want  []int
	}{
		{"[SubGroup] Cowboy Bebop - 05 [1080p].mkv", []int{5}},
		{"Cowboy Bebop ep 12.mkv", []int{12}},
		{"Cowboy.Bebop.E07.mkv", []int{7}},
		{"Cowboy Bebop 1998 1080.mkv", nil},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, FallbackEpisodes(tt.input))
		})
	}
}

func TestResolutionRank(t *testing.T) {
	assert.Greater(t, ResolutionRank("2160p"), ResolutionRank("1080p"))
	assert.Greater(t, ResolutionRank("1080p"), ResolutionRank("720p"))
	assert.Equal(t, ResolutionRank("4K"), ResolutionRank("2160p"))
	assert.Zero(t, ResolutionRank("potato"))
	assert.Equal(t, ResolutionRank("2160p"), MaxResolutionRank())
}

func TestIsVideoAndSample(t *testing.T) {
	assert.True(t, IsVideo("Movie/Movie.2020.mkv"))
	assert.True(t, IsVideo("a.MP4"))
	assert.False(t, IsVideo("a.nfo"))

	assert.True(t, IsSample("Movie/Sample/movie.mkv"))
	assert.True(t, IsSample("movie-sample.mkv"))
	assert.False(t, IsSample("Samples of Life 2020.mkv"))
}

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, "fast and furious 6", NormalizeTitle("Fast & Furious: 6"))
	assert.Equal(t, "spider man no way home", NormalizeTitle("Spider-Man.No.Way.Home"))
}

func TestMagnetRoundTrip(t *testing.T) {
	const hash = "c12fe1c06bba254a9dc9f519b335aa7c1367a88a"
	magnet, err := MagnetFromInfoHash("C12FE1C06BBA254A9DC9F519B335AA7C1367A88A", "Akira")
	require.NoError(t, err)
	assert.Contains(t, magnet, "urn:btih:")

	got, err := InfoHashFromMagnet(magnet)
	require.NoError(t, err)
	assert.Equal(t, hash, got)

	assert.Equal(t, hash, NormalizeInfoHash(" "+hash+" "))
	assert.Empty(t, NormalizeInfoHash("xyz"))

	_, err = InfoHashFromMagnet("http://example.com")
	assert.Error(t, err)
}
