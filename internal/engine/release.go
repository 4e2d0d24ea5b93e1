package engine

import (
	"strings"
	"time"

	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/database"
)

const defaultShowAirtime = "19:00"

// ReleaseGate computes when items may leave Wanted.
type ReleaseGate struct {
	loc                *time.Location
	movieOffset        time.Duration
	episodeOffset      time.Duration
	defaultShowAirtime string
}

// NewReleaseGate creates a ReleaseGate from the pipeline settings.
func NewReleaseGate(cfg *config.Config) *ReleaseGate {
	g := &ReleaseGate{
		loc:                cfg.Location(),
		defaultShowAirtime: defaultShowAirtime,
	}
	if p := cfg.Pipeline; p != nil {
		g.movieOffset = hours(p.MovieAirtimeOffsetHours)
		g.episodeOffset = hours(p.EpisodeAirtimeOffsetHours)
		if p.DefaultShowAirtime != "" {
			g.defaultShowAirtime = p.DefaultShowAirtime
		}
	}
	return g
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

// EffectiveRelease returns the moment item is considered released. ok is false
// when the release date is unknown or unparseable.
func (g *ReleaseGate) EffectiveRelease(item *database.MediaItem) (t time.Time, ok bool) {
	date := strings.TrimSpace(item.ReleaseDate)
	if date == "" || strings.EqualFold(date, database.ReleaseDateUnknown) {
		return time.Time{}, false
	}
	day, err := time.ParseInLocation(time.DateOnly, date, g.loc)
	if err != nil {
		return time.Time{}, false
	}

	if item.Type != database.MediaTypeEpisode {
		return day.Add(g.movieOffset), true
	}
	return day.Add(g.airtime(item.Airtime)).Add(g.episodeOffset), true
}

// airtime returns the offset from midnight of an HH:MM airtime.
func (g *ReleaseGate) airtime(s string) time.Duration {
	for _, candidate := range []string{s, g.defaultShowAirtime, defaultShowAirtime} {
		if t, err := time.Parse("15:04", strings.TrimSpace(candidate)); err == nil {
			return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
		}
	}
	return 19 * time.Hour
}

// Released reports whether item may be scraped at now. Unknown dates count as
// released and early releases open the gate unless inhibited.
func (g *ReleaseGate) Released(item *database.MediaItem, now time.Time) bool {
	if item.EarlyRelease && !item.NoEarlyRelease {
		return true
	}
	t, ok := g.EffectiveRelease(item)
	if !ok {
		return true
	}
	return !now.Before(t)
}
