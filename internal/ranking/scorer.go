package ranking

import (
	"fmt"
	"math"
	"sort"

	"chirpfeed/internal/storage"
)

// CandidateScore is the blended relevance of one candidate for one viewer.
type CandidateScore struct {
	PostID    int64           `json:"post_id"`
	Score     float64         `json:"score"`
	Reasons   []string        `json:"reasons"`
	Breakdown SignalBreakdown `json:"breakdown"`
}

// SignalBreakdown holds each signal's weighted contribution before clamping.
type SignalBreakdown struct {
	Content   float64 `json:"content"`
	Author    float64 `json:"author"`
	Following float64 `json:"following"`
	Recency   float64 `json:"recency"`
	Reaction  float64 `json:"reaction"`
}

func (b SignalBreakdown) sum() float64 {
	return b.Content + b.Author + b.Following + b.Recency + b.Reaction
}

// Signals are the per-candidate facts looked up in bulk before scoring.
type Signals struct {
	FollowsAuthor bool
	// Reactions counts the reactions the candidate received, by emoji.
	Reactions map[string]int
}

type Scorer struct {
	weights Weights
	now     Clock
}

func NewScorer(weights Weights, now Clock) *Scorer {
	return &Scorer{weights: weights, now: now}
}

func (s *Scorer) Weights() Weights {
	return s.weights
}

// Score blends the signals that fire for post into a value in [0, 1].
func (s *Scorer) Score(post storage.Post, profile *EngagementProfile, sig Signals) CandidateScore {
	var b SignalBreakdown
	reasons := []string{}

	contentKeywords := ExtractKeywords([]string{post.Content}, MaxKeywords)
	if overlap := keywordOverlap(profile.Keywords, contentKeywords); overlap > 0 {
		b.Content = overlap * s.weights.Content
		reasons = append(reasons, fmt.Sprintf("Content similarity (%d%%)", int(math.Round(overlap*100))))
	}

	if containsString(profile.Authors, post.AuthorID) {
		b.Author = s.weights.Author
		reasons = append(reasons, "Author you engage with")
	}

	if sig.FollowsAuthor {
		b.Following = s.weights.Following
		reasons = append(reasons, "Following author")
	}

	recency := recencyFactor(s.now().Sub(post.CreatedAt).Hours())
	b.Recency = recency * s.weights.Recency
	if recency > recentReasonThreshold {
		reasons = append(reasons, "Recent post")
	}

	for _, emoji := range profile.Emojis {
		if sig.Reactions[emoji] > 0 {
			b.Reaction = s.weights.Reaction * s.weights.ReactionMatchFactor
			reasons = append(reasons, fmt.Sprintf("Popular with %s reactions", emoji))
			break
		}
	}

	return CandidateScore{
		PostID:    post.ID,
		Score:     clamp01(b.sum()),
		Reasons:   reasons,
		Breakdown: b,
	}
}

// recencyFactor decays linearly from 1 to 0 over RecencyHorizon.
func recencyFactor(hoursOld float64) float64 {
	return clamp01(1 - hoursOld/RecencyHorizon.Hours())
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func containsString(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}

// ScoredPost keeps a post and its score together through ranking and
// enrichment.
type ScoredPost struct {
	Post   storage.Post
	Score  CandidateScore
	Source Source
}

// rankScored orders by score, highest first, keeping pool order among equal
// scores, and truncates to limit.
func rankScored(scored []ScoredPost, limit int) []ScoredPost {
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score.Score > scored[j].Score.Score
	})
	if limit >= 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
