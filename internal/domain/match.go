package domain

import "time"

// LifecycleState is the confirmation status of a donor/recipient pairing.
type LifecycleState string

const (
	StatePending   LifecycleState = "pending"
	StateConfirmed LifecycleState = "confirmed"
	StateCancelled LifecycleState = "cancelled"
)

// IsValid reports whether the state is one of the three lifecycle states.
func (s LifecycleState) IsValid() bool {
	switch s {
	case StatePending, StateConfirmed, StateCancelled:
		return true
	default:
		return false
	}
}

// IsFinal reports whether the state is excluded from batch recomputation by default.
func (s LifecycleState) IsFinal() bool {
	return s == StateConfirmed || s == StateCancelled
}

// CompatibilityResult is the categorical output of the compatibility scorer.
type CompatibilityResult string

const (
	ResultExcellent    CompatibilityResult = "excellent"
	ResultGood         CompatibilityResult = "good"
	ResultFair         CompatibilityResult = "fair"
	ResultPoor         CompatibilityResult = "poor"
	ResultIncompatible CompatibilityResult = "incompatible"
)

// HLAMismatches counts antigen mismatches per locus.
type HLAMismatches struct {
	A  int `json:"a"`
	B  int `json:"b"`
	DR int `json:"dr"`
}

// Total returns the mismatch count across all six slots.
func (m HLAMismatches) Total() int { return m.A + m.B + m.DR }

// Compatibility is the scorer's output for one donor/recipient pair.
type Compatibility struct {
	MatchScore    int                 `json:"match_score"`
	Result        CompatibilityResult `json:"compatibility_result"`
	ABOCompatible bool                `json:"abo_compatible"`
	HLAMismatches HLAMismatches       `json:"hla_mismatches"`
	CMVMismatch   bool                `json:"cmv_mismatch"`
	EBVMismatch   bool                `json:"ebv_mismatch"`
	Flags         []string            `json:"flags,omitempty"`
}

// MatchCandidate is one scored (recipient, donor, organ) pairing with its lifecycle state.
type MatchCandidate struct {
	ID                  string              `json:"id"`
	RecipientID         string              `json:"recipient_id"`
	DonorID             string              `json:"donor_id"`
	OrganType           OrganType           `json:"organ_type"`
	MatchScore          int                 `json:"match_score"`
	CompatibilityResult CompatibilityResult `json:"compatibility_result"`
	HLAMismatches       HLAMismatches       `json:"hla_mismatches"`
	CMVMismatch         bool                `json:"cmv_mismatch"`
	EBVMismatch         bool                `json:"ebv_mismatch"`
	State               LifecycleState      `json:"state"`
	Revision            int64               `json:"revision"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// ApplyCompatibility copies the scorer output onto the candidate and reports whether any
// scored field changed.
func (m *MatchCandidate) ApplyCompatibility(c Compatibility) bool {
	changed := m.MatchScore != c.MatchScore ||
		m.CompatibilityResult != c.Result ||
		m.HLAMismatches != c.HLAMismatches ||
		m.CMVMismatch != c.CMVMismatch ||
		m.EBVMismatch != c.EBVMismatch
	m.MatchScore = c.MatchScore
	m.CompatibilityResult = c.Result
	m.HLAMismatches = c.HLAMismatches
	m.CMVMismatch = c.CMVMismatch
	m.EBVMismatch = c.EBVMismatch
	return changed
}

// MatchSummary is the batch-run view of a candidate.
type MatchSummary struct {
	MatchID             string              `json:"match_id"`
	RecipientID         string              `json:"recipient_id"`
	DonorID             string              `json:"donor_id"`
	OrganType           OrganType           `json:"organ_type"`
	MatchScore          int                 `json:"match_score"`
	CompatibilityResult CompatibilityResult `json:"compatibility_result"`
	State               LifecycleState      `json:"state"`
	Created             bool                `json:"created"`
	Changed             bool                `json:"changed"`
}

// Summary returns the batch-run view of the candidate.
func (m *MatchCandidate) Summary(created, changed bool) MatchSummary {
	return MatchSummary{
		MatchID:             m.ID,
		RecipientID:         m.RecipientID,
		DonorID:             m.DonorID,
		OrganType:           m.OrganType,
		MatchScore:          m.MatchScore,
		CompatibilityResult: m.CompatibilityResult,
		State:               m.State,
		Created:             created,
		Changed:             changed,
	}
}

// AutoMatchRequest selects the recipients and donors of a batch run.
type AutoMatchRequest struct {
	RecipientIDs     []string `json:"recipient_ids"`
	DonorIDs         []string `json:"donor_ids"`
	IncludeFinalized bool     `json:"include_finalized,omitempty"`
}

// PairSkip records a pair the batch run deliberately did not score.
type PairSkip struct {
	RecipientID string `json:"recipient_id"`
	DonorID     string `json:"donor_id"`
	Reason      string `json:"reason"`
}

// PairFailure records a pair whose transaction failed.
type PairFailure struct {
	RecipientID string `json:"recipient_id"`
	DonorID     string `json:"donor_id"`
	Error       string `json:"error"`
}

// AutoMatchReport is the outcome of a batch run.
type AutoMatchReport struct {
	Matches   []MatchSummary `json:"matches"`
	Skipped   []PairSkip     `json:"skipped,omitempty"`
	Failures  []PairFailure  `json:"failures,omitempty"`
	Cancelled bool           `json:"cancelled,omitempty"`
}
