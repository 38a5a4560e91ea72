package domain

import "time"

// PriorityLevel is a coarse urgency bucket derived from a numeric priority score.
type PriorityLevel string

const (
	LevelLow      PriorityLevel = "low"
	LevelMedium   PriorityLevel = "medium"
	LevelHigh     PriorityLevel = "high"
	LevelCritical PriorityLevel = "critical"
)

// Level thresholds. This is the only level table in the system.
const (
	CriticalThreshold = 70
	HighThreshold     = 40
	MediumThreshold   = 20
)

// LevelForScore maps a cumulative priority score to its level.
func LevelForScore(score int) PriorityLevel {
	switch {
	case score >= CriticalThreshold:
		return LevelCritical
	case score >= HighThreshold:
		return LevelHigh
	case score >= MediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// PriorityRecord is a recipient's urgency score. Score is always Baseline + EventScore
// and Level is always LevelForScore(Score); use Normalize after changing either component.
type PriorityRecord struct {
	RecipientID string        `json:"recipient_id"`
	Baseline    int           `json:"baseline"`
	EventScore  int           `json:"event_score"`
	Score       int           `json:"score"`
	Level       PriorityLevel `json:"level"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// NewPriorityRecord returns the lazily created zero record for a recipient.
func NewPriorityRecord(recipientID string, now time.Time) *PriorityRecord {
	r := &PriorityRecord{RecipientID: recipientID, UpdatedAt: now}
	r.Normalize()
	return r
}

// Normalize re-derives Score and Level from the two components, flooring both at zero.
func (r *PriorityRecord) Normalize() {
	if r.Baseline < 0 {
		r.Baseline = 0
	}
	if r.EventScore < 0 {
		r.EventScore = 0
	}
	r.Score = r.Baseline + r.EventScore
	r.Level = LevelForScore(r.Score)
}
