package engine

import (
	"testing"
	"time"

	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/stretchr/testify/assert"
)

func TestReleaseGate(t *testing.T) {
	gate := NewReleaseGate(&config.Config{
		Timezone: "UTC",
		Pipeline: &config.PipelineConfig{
			MovieAirtimeOffsetHours:   6,
			EpisodeAirtimeOffsetHours: 1.5,
			DefaultShowAirtime:        "20:00",
		},
	})
	at := func(s string) time.Time {
		t, err := time.Parse("2006-01-02 15:04", s)
		if err != nil {
			panic(err)
		}
		return t
	}

	movie := &database.MediaItem{Type: database.MediaTypeMovie, ReleaseDate: "2024-05-10"}
	episode := &database.MediaItem{Type: database.MediaTypeEpisode, ReleaseDate: "2024-05-10", Airtime: "21:00"}
	noAirtime := &database.MediaItem{Type: database.MediaTypeEpisode, ReleaseDate: "2024-05-10"}

	tests := []struct {
		name string
		item *database.MediaItem
		now  time.Time
		want bool
	}{
		{"movie before offset", movie, at("2024-05-10 05:59"), false},
		{"movie at offset", movie, at("2024-05-10 06:00"), true},
		{"episode before airtime plus offset", episode, at("2024-05-10 22:29"), false},
		{"episode at airtime plus offset", episode, at("2024-05-10 22:30"), true},
		{"episode falls back to default airtime", noAirtime, at("2024-05-10 21:29"), false},
		{"episode after default airtime", noAirtime, at("2024-05-10 21:30"), true},
		{"unknown date", &database.MediaItem{Type: database.MediaTypeMovie, ReleaseDate: database.ReleaseDateUnknown}, at("1999-01-01 00:00"), true},
		{"unparseable date", &database.MediaItem{Type: database.MediaTypeMovie, ReleaseDate: "soon"}, at("1999-01-01 00:00"), true},
		{"early release", &database.MediaItem{Type: database.MediaTypeMovie, ReleaseDate: "2030-01-01", EarlyRelease: true}, at("2024-05-10 00:00"), true},
		{"early release inhibited", &database.MediaItem{Type: database.MediaTypeMovie, ReleaseDate: "2030-01-01", EarlyRelease: true, NoEarlyRelease: true}, at("2024-05-10 00:00"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, gate.Released(tt.item, tt.now))
		})
	}
}

func TestReleaseGate_Defaults(t *testing.T) {
	gate := NewReleaseGate(&config.Config{Timezone: "UTC"})
	item := &database.MediaItem{Type: database.MediaTypeEpisode, ReleaseDate: "2024-05-10", Airtime: "not a time"}

	got, ok := gate.EffectiveRelease(item)
	assert.True(t, ok)
	assert.Equal(t, time.Date(2024, 5, 10, 19, 0, 0, 0, time.UTC), got)

	_, ok = gate.EffectiveRelease(&database.MediaItem{ReleaseDate: ""})
	assert.False(t, ok)
}
