package database

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type DatabaseTestSuite struct {
	suite.Suite
	db  *Client
	ctx context.Context
}

func (s *DatabaseTestSuite) SetupTest() {
	db, err := New(filepath.Join(s.T().TempDir(), "test.db"))
	s.Require().NoError(err)
	db.SetRetryPolicy(RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxAttempts: 3})
	s.db = db
	s.ctx = context.Background()
}

func (s *DatabaseTestSuite) TearDownTest() {
	_ = s.db.Close()
}

func TestDatabaseSuite(t *testing.T) {
	suite.Run(t, new(DatabaseTestSuite))
}

func (s *DatabaseTestSuite) movie(title, imdb string) *MediaItem {
	return &MediaItem{
		ImdbID:      imdb,
		Title:       title,
		Year:        2020,
		Type:        MediaTypeMovie,
		Version:     "1080p",
		ReleaseDate: "2020-01-01",
		Source:      SourceJellyseerr,
	}
}

func (s *DatabaseTestSuite) episode(show string, season, ep int) *MediaItem {
	return &MediaItem{
		ImdbID:        "tt0903747",
		Title:         show,
		ShowTitle:     show,
		Type:          MediaTypeEpisode,
		Version:       "1080p",
		SeasonNumber:  season,
		EpisodeNumber: ep,
		ReleaseDate:   "2010-01-01",
	}
}

func (s *DatabaseTestSuite) TestInsertDefaultsToWanted() {
	item := s.movie("Heat", "tt0113277")
	s.Require().NoError(s.db.InsertMediaItem(s.ctx, item))
	s.NotZero(item.ID)

	got, err := s.db.GetByID(s.ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(StateWanted, got.State)
	s.False(got.LastUpdated.IsZero())
}

func (s *DatabaseTestSuite) TestInsertIfAbsent() {
	inserted, err := s.db.InsertMediaItemIfAbsent(s.ctx, s.movie("Heat", "tt0113277"))
	s.Require().NoError(err)
	s.True(inserted)

	inserted, err = s.db.InsertMediaItemIfAbsent(s.ctx, s.movie("Heat", "tt0113277"))
	s.Require().NoError(err)
	s.False(inserted)

	other := s.movie("Heat", "tt0113277")
	other.Version = "2160p"
	inserted, err = s.db.InsertMediaItemIfAbsent(s.ctx, other)
	s.Require().NoError(err)
	s.True(inserted)
}

func (s *DatabaseTestSuite) TestGetByIDNotFound() {
	_, err := s.db.GetByID(s.ctx, 4242)
	s.ErrorIs(err, ErrNotFound)
}

func (s *DatabaseTestSuite) TestUpdateStateWritesFieldsAtomically() {
	item := s.movie("Heat", "tt0113277")
	s.Require().NoError(s.db.InsertMediaItem(s.ctx, item))

	s.Require().NoError(s.db.UpdateState(s.ctx, item.ID, StateChecking, Fields{
		"filled_by_magnet":     "magnet:?xt=urn:btih:abc",
		"filled_by_torrent_id": "42",
	}))

	got, err := s.db.GetByID(s.ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(StateChecking, got.State)
	s.Equal("42", got.FilledByTorrentID)
	s.Equal("magnet:?xt=urn:btih:abc", got.FilledByMagnet)
}

func (s *DatabaseTestSuite) TestApplyTransitionsRollsBackOnMissingItem() {
	item := s.movie("Heat", "tt0113277")
	s.Require().NoError(s.db.InsertMediaItem(s.ctx, item))

	err := s.db.ApplyTransitions(s.ctx, []Transition{
		{ID: item.ID, State: StateScraping},
		{ID: 9999, State: StateScraping},
	})
	s.ErrorIs(err, ErrNotFound)

	got, err := s.db.GetByID(s.ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(StateWanted, got.State)
}

func (s *DatabaseTestSuite) TestConditionalTransition() {
	item := s.movie("Ran", "tt0089881")
	s.Require().NoError(s.db.InsertMediaItem(s.ctx, item))

	s.Require().NoError(s.db.ApplyTransitions(s.ctx, []Transition{{ID: item.ID, From: StateWanted, State: StateScraping}}))
	err := s.db.ApplyTransitions(s.ctx, []Transition{{ID: item.ID, From: StateWanted, State: StateBlacklisted}})
	s.ErrorIs(err, ErrStale)

	got, err := s.db.GetByID(s.ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(StateScraping, got.State)
}

func (s *DatabaseTestSuite) TestBatchUpdateState() {
	a, b := s.movie("A", "tt1"), s.movie("B", "tt2")
	s.Require().NoError(s.db.InsertMediaItem(s.ctx, a))
	s.Require().NoError(s.db.InsertMediaItem(s.ctx, b))

	s.Require().NoError(s.db.BatchUpdateState(s.ctx, []uint{a.ID, b.ID}, StateScraping, nil))

	items, err := s.db.GetByState(s.ctx, StateScraping, 0, 0)
	s.Require().NoError(err)
	s.Len(items, 2)
}

func (s *DatabaseTestSuite) TestScrapeResultsRoundTrip() {
	item := s.movie("Heat", "tt0113277")
	s.Require().NoError(s.db.InsertMediaItem(s.ctx, item))

	cached := true
	results := ScrapeResults{{Title: "Heat.1995.1080p", InfoHash: "abc", SizeGB: 9.5, Cached: &cached}}
	s.Require().NoError(s.db.UpdateState(s.ctx, item.ID, StateAdding, Fields{"scrape_results": results}))

	got, err := s.db.GetByID(s.ctx, item.ID)
	s.Require().NoError(err)
	s.Require().Len(got.ScrapeResults, 1)
	s.Equal("abc", got.ScrapeResults[0].InfoHash)
	s.Require().NotNil(got.ScrapeResults[0].Cached)
	s.True(*got.ScrapeResults[0].Cached)
}

func (s *DatabaseTestSuite) TestCountByStateIncludesEmptyQueues() {
	s.Require().NoError(s.db.InsertMediaItem(s.ctx, s.movie("Heat", "tt0113277")))

	counts, err := s.db.CountByState(s.ctx)
	s.Require().NoError(err)
	s.Len(counts, len(States))
	s.EqualValues(1, counts[StateWanted])
	s.EqualValues(0, counts[StateBlacklisted])
}

func (s *DatabaseTestSuite) TestQueuedEpisodesAndSeasonCount() {
	for ep := 1; ep <= 3; ep++ {
		s.Require().NoError(s.db.InsertMediaItem(s.ctx, s.episode("Breaking Bad", 1, ep)))
	}
	s.Require().NoError(s.db.InsertMediaItem(s.ctx, s.episode("Breaking Bad", 2, 1)))

	eps, err := s.db.GetQueuedEpisodes(s.ctx, "tt0903747", "", "1080p", StateWanted)
	s.Require().NoError(err)
	s.Len(eps, 4)
	s.Equal(1, eps[0].EpisodeNumber)

	count, err := s.db.CountSeasonItems(s.ctx, "tt0903747", 1, "1080p")
	s.Require().NoError(err)
	s.EqualValues(3, count)
}

func (s *DatabaseTestSuite) TestUpgradeCandidatesSkipAssignedAndUnknown() {
	recent := time.Now().AddDate(0, 0, -2).Format(time.DateOnly)

	ok := s.movie("Fresh", "tt1")
	ok.State = StateCollected
	ok.ReleaseDate = recent

	assigned := s.movie("Assigned", "tt2")
	assigned.State = StateCollected
	assigned.ReleaseDate = recent
	assigned.Source = SourceMagnetAssigner

	unknown := s.movie("Unknown", "tt3")
	unknown.State = StateCollected
	unknown.ReleaseDate = ReleaseDateUnknown

	for _, it := range []*MediaItem{ok, assigned, unknown} {
		s.Require().NoError(s.db.InsertMediaItem(s.ctx, it))
	}

	items, err := s.db.GetUpgradeCandidates(s.ctx, time.Now().AddDate(0, 0, -7), time.Now(), 10)
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Equal("Fresh", items[0].Title)
}

func (s *DatabaseTestSuite) TestReferencedTorrentIDs() {
	a := s.movie("A", "tt1")
	a.State = StateCollected
	a.FilledByTorrentID = "10"
	a.UpgradingFromTorrentID = "9"
	b := s.movie("B", "tt2")
	b.State = StateBlacklisted
	b.FilledByTorrentID = "11"
	s.Require().NoError(s.db.InsertMediaItem(s.ctx, a))
	s.Require().NoError(s.db.InsertMediaItem(s.ctx, b))

	ids, err := s.db.GetReferencedTorrentIDs(s.ctx)
	s.Require().NoError(err)
	s.Equal(map[string]bool{"10": true, "9": true}, ids)
}

func (s *DatabaseTestSuite) TestSymlinkVerificationLifecycle() {
	item := s.movie("Heat", "tt0113277")
	item.State = StateCollected
	item.LocationOnDisk = "/media/movies/Heat (1995)/Heat (1995).mkv"
	s.Require().NoError(s.db.InsertMediaItem(s.ctx, item))

	s.Require().NoError(s.db.AddSymlinkVerification(s.ctx, item.ID, item.LocationOnDisk))
	s.Require().NoError(s.db.AddSymlinkVerification(s.ctx, item.ID, item.LocationOnDisk))

	pending, err := s.db.GetPendingSymlinkVerifications(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)

	attempts, err := s.db.IncrementSymlinkAttempts(s.ctx, pending[0].ID)
	s.Require().NoError(err)
	s.Equal(1, attempts)

	s.Require().NoError(s.db.MarkSymlinkVerified(s.ctx, pending[0].ID))
	got, err := s.db.GetByID(s.ctx, item.ID)
	s.Require().NoError(err)
	s.True(got.PlexVerified)

	pending, err = s.db.GetPendingSymlinkVerifications(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(pending)
}

func (s *DatabaseTestSuite) TestSymlinkPermanentFailureRequeuesItem() {
	item := s.movie("Heat", "tt0113277")
	item.State = StateCollected
	item.LocationOnDisk = "/media/movies/Heat.mkv"
	item.FilledByTorrentID = "7"
	s.Require().NoError(s.db.InsertMediaItem(s.ctx, item))
	s.Require().NoError(s.db.AddSymlinkVerification(s.ctx, item.ID, item.LocationOnDisk))

	pending, err := s.db.GetPendingSymlinkVerifications(s.ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)

	row, err := s.db.MarkSymlinkPermanentlyFailed(s.ctx, pending[0].ID, "not indexed")
	s.Require().NoError(err)
	s.True(row.PermanentlyFailed)
	s.Require().NotNil(row.Requeued)
	s.Equal(StateCollected, row.Requeued.State)
	s.Equal("7", row.Requeued.FilledByTorrentID)

	got, err := s.db.GetByID(s.ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(StateWanted, got.State)
	s.True(got.VerificationFailed)
	s.Empty(got.LocationOnDisk)
	s.Empty(got.FilledByTorrentID)

	failed, err := s.db.GetFailedSymlinkVerifications(s.ctx, 10)
	s.Require().NoError(err)
	s.Len(failed, 1)
}

func (s *DatabaseTestSuite) TestSymlinkPermanentFailureOfStaleRowKeepsItem() {
	item := s.movie("Heat", "tt0113277")
	item.State = StateChecking
	item.FilledByTorrentID = "7"
	s.Require().NoError(s.db.InsertMediaItem(s.ctx, item))
	s.Require().NoError(s.db.AddSymlinkVerification(s.ctx, item.ID, "/media/movies/Heat.mkv"))

	pending, err := s.db.GetPendingSymlinkVerifications(s.ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)

	row, err := s.db.MarkSymlinkPermanentlyFailed(s.ctx, pending[0].ID, "symlink does not exist on disk")
	s.Require().NoError(err)
	s.True(row.PermanentlyFailed)
	s.Nil(row.Requeued)

	got, err := s.db.GetByID(s.ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(StateChecking, got.State)
	s.Equal("7", got.FilledByTorrentID)
	s.False(got.VerificationFailed)

	// a collected item whose location moved on is not requeued either
	s.Require().NoError(s.db.UpdateState(s.ctx, item.ID, StateCollected, Fields{"location_on_disk": "/media/movies/Heat (1995).mkv"}))
	s.Require().NoError(s.db.AddSymlinkVerification(s.ctx, item.ID, "/media/movies/Heat.mkv"))
	pending, err = s.db.GetPendingSymlinkVerifications(s.ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	row, err = s.db.MarkSymlinkPermanentlyFailed(s.ctx, pending[0].ID, "not indexed")
	s.Require().NoError(err)
	s.Nil(row.Requeued)
	got, err = s.db.GetByID(s.ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(StateCollected, got.State)
}

func (s *DatabaseTestSuite) TestDeleteOpenSymlinkVerification() {
	item := s.movie("Heat", "tt0113277")
	s.Require().NoError(s.db.InsertMediaItem(s.ctx, item))
	s.Require().NoError(s.db.AddSymlinkVerification(s.ctx, item.ID, "/media/a.mkv"))
	s.Require().NoError(s.db.AddSymlinkVerification(s.ctx, item.ID, "/media/b.mkv"))

	pending, err := s.db.GetPendingSymlinkVerifications(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 2)
	_, err = s.db.MarkSymlinkPermanentlyFailed(s.ctx, pending[1].ID, "not indexed")
	s.Require().NoError(err)

	s.Require().NoError(s.db.DeleteOpenSymlinkVerification(s.ctx, item.ID, "/media/a.mkv"))
	s.Require().NoError(s.db.DeleteOpenSymlinkVerification(s.ctx, item.ID, "/media/b.mkv"))

	rows, err := s.db.GetSymlinkVerificationsForItem(s.ctx, item.ID)
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal("/media/b.mkv", rows[0].FullPath)
	s.True(rows[0].PermanentlyFailed)
}

func (s *DatabaseTestSuite) TestRemovalVerificationUpsertResets() {
	s.Require().NoError(s.db.AddRemovalVerification(s.ctx, "/media/a.mkv", "A", ""))
	row, err := s.db.GetRemovalVerificationByPath(s.ctx, "/media/a.mkv")
	s.Require().NoError(err)

	_, err = s.db.IncrementRemovalAttempts(s.ctx, row.ID)
	s.Require().NoError(err)
	s.Require().NoError(s.db.MarkRemovalFailed(s.ctx, row.ID, "still present"))

	s.Require().NoError(s.db.AddRemovalVerification(s.ctx, "/media/a.mkv", "A", ""))
	row, err = s.db.GetRemovalVerificationByPath(s.ctx, "/media/a.mkv")
	s.Require().NoError(err)
	s.Equal(RemovalStatusPending, row.Status)
	s.Zero(row.Attempts)
}

func (s *DatabaseTestSuite) TestGarbageCollectVerifications() {
	s.Require().NoError(s.db.AddRemovalVerification(s.ctx, "/media/a.mkv", "A", ""))
	row, err := s.db.GetRemovalVerificationByPath(s.ctx, "/media/a.mkv")
	s.Require().NoError(err)
	s.Require().NoError(s.db.MarkRemovalVerified(s.ctx, row.ID))

	deleted, err := s.db.GarbageCollectVerifications(s.ctx, time.Now().Add(time.Hour))
	s.Require().NoError(err)
	s.EqualValues(1, deleted)

	counts, err := s.db.GetVerificationCounts(s.ctx)
	s.Require().NoError(err)
	s.Zero(counts.RemovalVerified)
}

func (s *DatabaseTestSuite) TestConcurrentWritersSerialize() {
	s.db.SetRetryPolicy(RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: 10 * time.Millisecond, MaxAttempts: 200})

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := s.movie("Movie", "")
			m.TmdbID = int32(i + 1)
			errs <- s.db.InsertMediaItem(s.ctx, m)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.NoError(err)
	}

	counts, err := s.db.CountByState(s.ctx)
	s.Require().NoError(err)
	s.EqualValues(20, counts[StateWanted])
}

func (s *DatabaseTestSuite) TestWriteGivesUpWhenLockHeld() {
	s.db.writeMu.Lock()
	defer s.db.writeMu.Unlock()

	err := s.db.InsertMediaItem(s.ctx, s.movie("Heat", "tt0113277"))
	s.True(errors.Is(err, ErrLocked))
}
