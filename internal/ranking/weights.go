package ranking

import "time"

// Weights are the per-signal contributions blended into a candidate score.
type Weights struct {
	Content   float64 `json:"content"`
	Author    float64 `json:"author"`
	Following float64 `json:"following"`
	Recency   float64 `json:"recency"`
	Reaction  float64 `json:"reaction"`
	// ReactionMatchFactor scales Reaction when a candidate carries one of
	// the viewer's favourite emoji.
	ReactionMatchFactor float64 `json:"reaction_match_factor"`
}

func DefaultWeights() Weights {
	return Weights{
		Content:             0.30,
		Author:              0.25,
		Following:           0.10,
		Recency:             0.15,
		Reaction:            0.20,
		ReactionMatchFactor: 0.5,
	}
}

const (
	ProfileWindow    = 30 * 24 * time.Hour
	ProfilePostLimit = 50
	MaxKeywords      = 20
	MaxEmojis        = 10
	MaxAuthors       = 20

	CandidateWindow   = 7 * 24 * time.Hour
	CandidatePoolSize = 200

	TrendingWindow = 7 * 24 * time.Hour

	// RecencyHorizon is the age at which the recency signal reaches zero.
	RecencyHorizon = 168 * time.Hour
	// recentReasonThreshold is the recency factor above which a post is
	// labelled "Recent post".
	recentReasonThreshold = 0.7
)

// Clock returns the current time. Tests pin it for reproducible scores.
type Clock func() time.Time
