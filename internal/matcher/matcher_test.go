package matcher

import (
	"fmt"
	"testing"

	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func episode(id uint, season, ep int) database.MediaItem {
	return database.MediaItem{
		ID:            id,
		ImdbID:        "tt0903747",
		Title:         "Breaking Bad",
		ShowTitle:     "Breaking Bad",
		Type:          database.MediaTypeEpisode,
		Version:       "1080p",
		SeasonNumber:  season,
		EpisodeNumber: ep,
	}
}

func seasonPack(n int) []File {
	files := []File{
		{Path: "Breaking.Bad.S01.1080p/Sample/sample.mkv", Size: 10},
		{Path: "Breaking.Bad.S01.1080p/info.nfo", Size: 1},
	}
	for i := 1; i <= n; i++ {
		files = append(files, File{
			Path: fmt.Sprintf("Breaking.Bad.S01.1080p/Breaking.Bad.S01E%02d.1080p.BluRay.mkv", i),
			Size: 1 << 30,
		})
	}
	return files
}

func TestSelectFile_Movie(t *testing.T) {
	m := New(config.FileManagementSymlink)
	item := &database.MediaItem{Title: "Akira", Type: database.MediaTypeMovie}

	files := []File{
		{Path: "Akira.1988/Akira.1988.sample.mkv", Size: 900},
		{Path: "Akira.1988/Akira.1988.1080p.mkv", Size: 800},
		{Path: "Akira.1988/extras/featurette.mp4", Size: 100},
		{Path: "Akira.1988/Akira.1988.srt", Size: 1000},
	}
	f, err := m.SelectFile(item, files)
	require.NoError(t, err)
	assert.Equal(t, "Akira.1988/Akira.1988.1080p.mkv", f.Path)

	_, err = m.SelectFile(item, []File{{Path: "a.nfo"}})
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestSelectFile_Episode(t *testing.T) {
	m := New(config.FileManagementSymlink)
	item := episode(1, 1, 3)

	f, err := m.SelectFile(&item, seasonPack(5))
	require.NoError(t, err)
	assert.Equal(t, "Breaking.Bad.S01E03.1080p.BluRay.mkv", f.Name())

	missing := episode(2, 1, 9)
	_, err = m.SelectFile(&missing, seasonPack(5))
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestMatches(t *testing.T) {
	anime := episode(1, 1, 5)
	anime.Genres = database.StringList{"Animation", "Anime"}
	anime.ReleaseDate = "2024-03-02"

	tests := []struct {
		name string
		fm   config.FileManagement
		item database.MediaItem
		file string
		want bool
	}{
		{name: "structured", fm: config.FileManagementSymlink, item: episode(1, 2, 4), file: "Show/Breaking.Bad.S02E04.mkv", want: true},
		{name: "wrong season", fm: config.FileManagementSymlink, item: episode(1, 2, 4), file: "Show/Breaking.Bad.S01E04.mkv"},
		{name: "season from folder", fm: config.FileManagementSymlink, item: episode(1, 2, 4), file: "Breaking Bad Season 2/Episode 04.mkv", want: true},
		{name: "fallback regex", fm: config.FileManagementSymlink, item: episode(1, 1, 7), file: "Breaking Bad S01/Breaking Bad - 07.mkv", want: true},
		{name: "not a video", fm: config.FileManagementSymlink, item: episode(1, 2, 4), file: "Breaking.Bad.S02E04.srt"},
		{name: "anime episode only relaxed", fm: config.FileManagementPlex, item: anime, file: "[Grp] Frieren - 05 [1080p].mkv", want: true},
		{name: "anime air date", fm: config.FileManagementPlex, item: anime, file: "Frieren.2024.03.02.1080p.mkv", want: true},
		{name: "anime strict without plex", fm: config.FileManagementSymlink, item: func() database.MediaItem { a := anime; a.SeasonNumber = 2; return a }(), file: "[Grp] Frieren - 05 [1080p].mkv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(tt.fm)
			assert.Equal(t, tt.want, m.Matches(&tt.item, File{Path: tt.file}))
		})
	}
}

func TestFindSiblings(t *testing.T) {
	m := New(config.FileManagementSymlink)
	original := episode(1, 1, 1)
	files := seasonPack(10)
	chosen, err := m.SelectFile(&original, files)
	require.NoError(t, err)

	var queued []database.MediaItem
	for i := 1; i <= 10; i++ {
		queued = append(queued, episode(uint(i), 1, i))
	}
	otherVersion := episode(20, 1, 2)
	otherVersion.Version = "2160p"
	otherShow := episode(21, 1, 3)
	otherShow.ShowTitle = "Better Call Saul"
	otherShow.ImdbID = "tt3032476"
	queued = append(queued, otherVersion, otherShow)

	siblings := m.FindSiblings(&original, chosen, files, queued)
	require.Len(t, siblings, 9)

	ids := lo.Map(siblings, func(s Sibling, _ int) uint { return s.Item.ID })
	assert.NotContains(t, ids, uint(1))
	assert.NotContains(t, ids, uint(20))
	assert.NotContains(t, ids, uint(21))

	paths := lo.Map(siblings, func(s Sibling, _ int) string { return s.File.Path })
	assert.Len(t, lo.Uniq(paths), 9)
	assert.NotContains(t, paths, chosen.Path)
}

func TestFindSiblings_Movie(t *testing.T) {
	m := New(config.FileManagementSymlink)
	movie := &database.MediaItem{ID: 1, Title: "Akira", Type: database.MediaTypeMovie}
	assert.Nil(t, m.FindSiblings(movie, nil, nil, []database.MediaItem{*movie}))
}
