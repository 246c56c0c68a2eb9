package elective

import (
	"math"
	"sort"
)

func toSet(tags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	return set
}

// CosineSimilarity compares two tag sets as binary vectors over their union.
// With binary vectors the dot product is the size of the intersection and each norm is the square
// root of the set size. Empty sets have no direction: the similarity is 0.
func CosineSimilarity(interests, categories []string) float64 {
	a, b := toSet(interests), toSet(categories)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	var dot float64
	for tag := range a {
		if _, ok := b[tag]; ok {
			dot++
		}
	}
	sim := dot / (math.Sqrt(float64(len(a))) * math.Sqrt(float64(len(b))))
	return math.Min(sim, 1)
}

type scoredOffering struct {
	offering Offering
	score    float64
}

func score(profile Profile, offerings []Offering) []scoredOffering {
	scored := make([]scoredOffering, 0, len(offerings))
	for _, o := range offerings {
		scored = append(scored, scoredOffering{offering: o, score: CosineSimilarity(profile.Interests, o.Categories)})
	}
	// equal scores keep their input order
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	return scored
}

// RankByInterest sorts offerings by descending similarity between the profile interests and
// the offering categories.
func RankByInterest(profile Profile, offerings []Offering) []Offering {
	ranked := make([]Offering, 0, len(offerings))
	for _, so := range score(profile, offerings) {
		ranked = append(ranked, so.offering)
	}
	return ranked
}

// Recommend ranks offerings like RankByInterest, drops the ones sharing nothing with the profile
// and keeps at most `limit` (no limit when limit <= 0).
func Recommend(profile Profile, offerings []Offering, limit int) []Offering {
	recs := make([]Offering, 0)
	for _, so := range score(profile, offerings) {
		if so.score <= 0 {
			break
		}
		if limit > 0 && len(recs) == limit {
			break
		}
		recs = append(recs, so.offering)
	}
	return recs
}
