// Package ranking produces recommendation, trending and similarity
// orderings. Every function here is pure: it reads only the supplied
// corpus, profile and interaction snapshots, and identical inputs always
// produce identical output.
package ranking

import (
	"sort"
	"strings"
	"time"

	"content_radar/internal/model"
)

// ScoredItem pairs a corpus item with its ranking score.
type ScoredItem struct {
	Item  model.CorpusItem `json:"item"`
	Score float64          `json:"score"`
}

// RecommendOptions tunes a personalized recommendation query.
type RecommendOptions struct {
	Limit         int
	Categories    []string
	ExcludeViewed bool
}

const (
	baseScore = 0.5

	preferredCategoryBonus = 0.2
	interestMatchWeight    = 0.1
	interactionWeight      = 0.05

	weekRecencyBonus  = 0.1
	monthRecencyBonus = 0.05

	trendingRecent3d  = 0.3
	trendingRecent7d  = 0.2
	trendingRecent30d = 0.1
	trendingEngageCap = 0.3

	sameCategoryBonus = 0.3
	tagOverlapWeight  = 0.1
)

// Recommendations scores the corpus against a user profile and interaction
// history. Missing profiles should be replaced with model.DefaultProfile by
// the caller before ranking.
func Recommendations(items []model.CorpusItem, profile *model.UserProfile,
	interactions []model.UserInteraction, now time.Time, opts RecommendOptions) []ScoredItem {

	prefs := stringSet(profile.Preferences)
	viewed := make(map[string]bool)
	userInteractions := make(map[string]int)
	for _, in := range interactions {
		if in.UserID != profile.UserID {
			continue
		}
		userInteractions[in.ContentID]++
		if in.Type == model.InteractionView {
			viewed[in.ContentID] = true
		}
	}

	categories := stringSet(opts.Categories)

	scored := make([]ScoredItem, 0, len(items))
	for _, item := range items {
		if len(categories) > 0 && !categories[strings.ToLower(item.Category)] {
			continue
		}
		if opts.ExcludeViewed && viewed[item.ID] {
			continue
		}

		score := baseScore
		if prefs[strings.ToLower(item.Category)] {
			score += preferredCategoryBonus
		}
		score += interestMatchWeight * float64(matchedInterests(item, profile.Interests))
		score += ageBonus(item.CreatedAt, now)
		score += interactionWeight * float64(userInteractions[item.ID])
		if score > 1 {
			score = 1
		}

		scored = append(scored, ScoredItem{Item: item, Score: score})
	}

	sortScored(scored)
	return limitScored(scored, opts.Limit)
}

// Trending ranks the corpus by recency and interaction velocity over the
// last seven days.
func Trending(items []model.CorpusItem, interactions []model.UserInteraction,
	now time.Time, limit int) []ScoredItem {

	weekAgo := now.Add(-7 * 24 * time.Hour)
	recent := make(map[string]int)
	for _, in := range interactions {
		if !in.Timestamp.Before(weekAgo) {
			recent[in.ContentID]++
		}
	}

	scored := make([]ScoredItem, 0, len(items))
	for _, item := range items {
		score := baseScore + trendingAgeBonus(item.CreatedAt, now)

		engagement := interactionWeight * float64(recent[item.ID])
		if engagement > trendingEngageCap {
			engagement = trendingEngageCap
		}
		score += engagement
		if score > 1 {
			score = 1
		}

		scored = append(scored, ScoredItem{Item: item, Score: score})
	}

	sortScored(scored)
	return limitScored(scored, limit)
}

// Similar ranks the corpus by category and tag affinity to a reference item.
// The reference itself is excluded.
func Similar(items []model.CorpusItem, ref model.CorpusItem, limit int) []ScoredItem {
	refTags := stringSet(ref.Tags)

	scored := make([]ScoredItem, 0, len(items))
	for _, item := range items {
		if item.ID == ref.ID {
			continue
		}

		score := baseScore
		if item.Category == ref.Category {
			score += sameCategoryBonus
		}
		overlap := 0
		for _, tag := range item.Tags {
			if refTags[strings.ToLower(tag)] {
				overlap++
			}
		}
		score += tagOverlapWeight * float64(overlap)
		if score > 1 {
			score = 1
		}

		scored = append(scored, ScoredItem{Item: item, Score: score})
	}

	sortScored(scored)
	return limitScored(scored, limit)
}

// matchedInterests counts profile interest keywords appearing in the item's
// title, description or tags.
func matchedInterests(item model.CorpusItem, interests []string) int {
	haystack := strings.ToLower(item.Title + " " + item.Description + " " + strings.Join(item.Tags, " "))
	count := 0
	for _, interest := range interests {
		interest = strings.ToLower(strings.TrimSpace(interest))
		if interest != "" && strings.Contains(haystack, interest) {
			count++
		}
	}
	return count
}

func ageBonus(createdAt, now time.Time) float64 {
	age := now.Sub(createdAt)
	switch {
	case age < 7*24*time.Hour:
		return weekRecencyBonus
	case age < 30*24*time.Hour:
		return monthRecencyBonus
	default:
		return 0
	}
}

func trendingAgeBonus(createdAt, now time.Time) float64 {
	age := now.Sub(createdAt)
	switch {
	case age < 3*24*time.Hour:
		return trendingRecent3d
	case age < 7*24*time.Hour:
		return trendingRecent7d
	case age < 30*24*time.Hour:
		return trendingRecent30d
	default:
		return 0
	}
}

// sortScored orders by score descending, ties broken by newest CreatedAt,
// then by ID for full determinism.
func sortScored(scored []ScoredItem) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if !scored[i].Item.CreatedAt.Equal(scored[j].Item.CreatedAt) {
			return scored[i].Item.CreatedAt.After(scored[j].Item.CreatedAt)
		}
		return scored[i].Item.ID < scored[j].Item.ID
	})
}

func limitScored(scored []ScoredItem, limit int) []ScoredItem {
	if limit > 0 && len(scored) > limit {
		return scored[:limit]
	}
	return scored
}

func stringSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = true
	}
	return set
}
