package scraper

import (
	"sort"
	"strings"

	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/parser"
)

// preferredBonus is added per preferred_in match and subtracted per preferred_out match.
const preferredBonus = 1.0

// Rank scores results under the profile weights and returns them best first.
// Known uncached results are moved behind cached ones unless handling is full.
func Rank(results []Result, profile *config.VersionProfile, handling config.UncachedHandling, order config.SortOrder) []Result {
	if len(results) == 0 {
		return nil
	}
	ranked := make([]Result, len(results))
	copy(ranked, results)

	Score(ranked, profile)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := &ranked[i], &ranked[j]
		if handling != config.UncachedHandlingFull && a.IsUncached() != b.IsUncached() {
			return !a.IsUncached()
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Seeders != b.Seeders {
			return a.Seeders > b.Seeders
		}
		if a.SizeGB != b.SizeGB {
			if order == config.SortOrderSmallToLarge {
				return a.SizeGB < b.SizeGB
			}
			return a.SizeGB > b.SizeGB
		}
		if a.InfoHash != b.InfoHash {
			return a.InfoHash < b.InfoHash
		}
		return a.Title < b.Title
	})
	return ranked
}

// Score sets the weighted score of every result. Components are normalized to [0, 1]
// across the given results so scores are only comparable within one call.
func Score(results []Result, profile *config.VersionProfile) {
	w := profile.EffectiveWeights()

	var maxSize, maxRate float64
	for i := range results {
		maxSize = max(maxSize, results[i].SizeGB)
		maxRate = max(maxRate, perUnitSize(&results[i]))
	}
	maxRank := float64(parser.ResolutionRank(profile.MaxResolution))
	if maxRank == 0 {
		maxRank = float64(parser.MaxResolutionRank())
	}

	for i := range results {
		r := &results[i]
		var resolution, hdr float64
		if r.Parsed != nil {
			resolution = min(float64(parser.ResolutionRank(r.Parsed.Resolution))/maxRank, 1)
			if profile.EnableHDR && r.Parsed.IsHDR() {
				hdr = 1
			}
		}
		similarity := r.Similarity / 100
		var size, rate float64
		if maxSize > 0 {
			size = r.SizeGB / maxSize
		}
		if maxRate > 0 {
			rate = perUnitSize(r) / maxRate
		}

		r.Score = w.Resolution*resolution +
			w.HDR*hdr +
			w.Similarity*similarity +
			w.Size*size +
			w.Bitrate*rate +
			preferredScore(r.Title, profile)
	}
}

// perUnitSize approximates bitrate as size per contained episode.
func perUnitSize(r *Result) float64 {
	if r.Parsed != nil && len(r.Parsed.Episodes) > 1 {
		return r.SizeGB / float64(len(r.Parsed.Episodes))
	}
	return r.SizeGB
}

func preferredScore(title string, profile *config.VersionProfile) float64 {
	title = strings.ToLower(title)
	var score float64
	for _, term := range profile.PreferredIn {
		if term != "" && strings.Contains(title, strings.ToLower(term)) {
			score += preferredBonus
		}
	}
	for _, term := range profile.PreferredOut {
		if term != "" && strings.Contains(title, strings.ToLower(term)) {
			score -= preferredBonus
		}
	}
	return score
}

// Better reports whether candidate strictly outscores current under the same weights.
// Both are scored together so their normalization matches.
func Better(candidate, current Result, profile *config.VersionProfile) bool {
	pair := []Result{candidate, current}
	Score(pair, profile)
	return pair[0].Score > pair[1].Score
}
