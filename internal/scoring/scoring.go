// Package scoring implements the deterministic quality score for candidate
// items. Score is a pure function of its inputs: no I/O, no clock reads.
package scoring

import (
	"time"

	"content_radar/internal/model"
)

// Weight layout of the final score. Base depends on source tier, the rest
// are additive bonuses; the sum is clipped to [0,1].
const (
	engagementWeight = 0.3
	recencyWeight    = 0.2

	recencyWindow = 30 * 24 * time.Hour

	authorBonus      = 0.07
	descriptionBonus = 0.07
	contextBonus     = 0.06

	minDescriptionLen = 80
)

// tierBase maps source tiers to their starting score. Curated and academic
// sources start higher than open social sources.
var tierBase = map[model.SourceTier]float64{
	model.TierAcademic:  0.50,
	model.TierCurated:   0.45,
	model.TierCommunity: 0.35,
	model.TierSocial:    0.30,
}

// Score computes the quality score for item in [0,1]. now is passed in so
// repeated calls with the same inputs produce the same output.
func Score(item model.CandidateItem, tier model.SourceTier, now time.Time) float64 {
	score := tierBase[tier]
	if score == 0 {
		score = tierBase[model.TierSocial]
	}

	score += engagementWeight * clamp01(item.Engagement())
	score += recencyWeight * recencyFactor(item.DiscoveredAt, now)
	score += completenessBonus(item)

	return clamp01(score)
}

// recencyFactor decays linearly from 1 at age zero to 0 at the window edge.
func recencyFactor(discoveredAt, now time.Time) float64 {
	if discoveredAt.IsZero() || discoveredAt.After(now) {
		return 0
	}
	age := now.Sub(discoveredAt)
	if age >= recencyWindow {
		return 0
	}
	return 1 - float64(age)/float64(recencyWindow)
}

func completenessBonus(item model.CandidateItem) float64 {
	var bonus float64
	if item.Author != "" {
		bonus += authorBonus
	}
	if len(item.Description) >= minDescriptionLen {
		bonus += descriptionBonus
	}
	if hasContext(item) {
		bonus += contextBonus
	}
	return bonus
}

// hasContext reports whether the adapter supplied an institution or
// publication context field.
func hasContext(item model.CandidateItem) bool {
	for _, key := range []string{"institution", "feedTitle", "publication"} {
		if v, ok := item.RawMetadata[key].(string); ok && v != "" {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
