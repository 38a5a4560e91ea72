package service

import (
	"fmt"
	"strings"

	"github.com/organ-match-server/internal/domain"
)

// Per-mismatch HLA weights. DR mismatches cost the most.
const (
	hlaWeightA  = 5
	hlaWeightB  = 8
	hlaWeightDR = 12
)

// Sensitisation and serostatus penalties.
const (
	praSensitizedThreshold = 20.0
	praHighlySensitized    = 80.0
	praSensitizedPenalty   = 8
	praHighPenalty         = 15
	cmvMismatchPenalty     = 5
	ebvMismatchPenalty     = 3
	incompatibleCeiling    = 20
)

// Score bands for the categorical result.
const (
	excellentFloor = 90
	goodFloor      = 75
	fairFloor      = 60
)

// CompatibilityScorer rates a donor/recipient pairing. It holds no state and every call is
// deterministic, so batch runs can upsert its output idempotently.
type CompatibilityScorer struct{}

// NewCompatibilityScorer creates a new compatibility scorer
func NewCompatibilityScorer() *CompatibilityScorer {
	return &CompatibilityScorer{}
}

// Score computes the match score and result for the donor giving organ to the recipient.
//
// ABO compatibility is a hard gate: an incompatible pairing is reported as incompatible with
// its score capped at 20 whatever the HLA typing. Otherwise the score starts at 100 and loses
// a fixed weight per HLA mismatch, a sensitisation penalty for high PRA, and smaller penalties
// for CMV or EBV donor-positive/recipient-negative pairings.
func (s *CompatibilityScorer) Score(recipient *domain.RecipientProfile, donor *domain.DonorProfile, organ domain.OrganType) (domain.Compatibility, error) {
	if err := recipient.Validate(); err != nil {
		return domain.Compatibility{}, fmt.Errorf("recipient %s: %w", recipient.Person, err)
	}
	if err := donor.Validate(); err != nil {
		return domain.Compatibility{}, fmt.Errorf("donor %s: %w", donor.Person, err)
	}
	if !organ.IsValid() || donor.OrganAvailable != organ {
		return domain.Compatibility{}, domain.NewValidationError("organ_type",
			fmt.Sprintf("donor %s does not offer organ %s", donor.Person, organ), organ)
	}

	result := domain.Compatibility{
		ABOCompatible: donor.BloodType.Group().CanDonateTo(recipient.BloodType.Group()),
		HLAMismatches: CountHLAMismatches(recipient.HLA, donor.HLA),
	}

	score := 100
	score -= result.HLAMismatches.A*hlaWeightA +
		result.HLAMismatches.B*hlaWeightB +
		result.HLAMismatches.DR*hlaWeightDR
	if n := result.HLAMismatches.Total(); n > 0 {
		result.Flags = append(result.Flags, fmt.Sprintf("HLA mismatches: %d (A %d, B %d, DR %d)",
			n, result.HLAMismatches.A, result.HLAMismatches.B, result.HLAMismatches.DR))
	}

	switch pra := recipient.PRAPercent; {
	case pra >= praHighlySensitized:
		score -= praHighPenalty
		result.Flags = append(result.Flags, fmt.Sprintf("highly sensitized recipient (PRA %.0f%%)", pra))
	case pra > praSensitizedThreshold:
		score -= praSensitizedPenalty
		result.Flags = append(result.Flags, fmt.Sprintf("sensitized recipient (PRA %.0f%%)", pra))
	}

	if donor.CMV == domain.SeroPositive && recipient.CMV == domain.SeroNegative {
		score -= cmvMismatchPenalty
		result.CMVMismatch = true
		result.Flags = append(result.Flags, "CMV mismatch (D+/R-)")
	}
	if donor.EBV == domain.SeroPositive && recipient.EBV == domain.SeroNegative {
		score -= ebvMismatchPenalty
		result.EBVMismatch = true
		result.Flags = append(result.Flags, "EBV mismatch (D+/R-)")
	}

	score = clamp(score, 0, 100)
	if !result.ABOCompatible {
		result.MatchScore = min(score, incompatibleCeiling)
		result.Result = domain.ResultIncompatible
		result.Flags = append([]string{fmt.Sprintf("ABO incompatible (donor %s, recipient %s)",
			donor.BloodType.Group(), recipient.BloodType.Group())}, result.Flags...)
		return result, nil
	}

	result.MatchScore = score
	result.Result = bandForScore(score)
	return result, nil
}

// CountHLAMismatches counts, per locus, the recipient antigens the donor does not share.
// Comparison ignores slot order and letter case.
func CountHLAMismatches(recipient, donor domain.HLATyping) domain.HLAMismatches {
	return domain.HLAMismatches{
		A:  locusMismatches(recipient.A, donor.A),
		B:  locusMismatches(recipient.B, donor.B),
		DR: locusMismatches(recipient.DR, donor.DR),
	}
}

func locusMismatches(recipient, donor [2]string) int {
	available := make(map[string]int, 2)
	for _, antigen := range donor {
		available[normalizeAntigen(antigen)]++
	}
	shared := 0
	for _, antigen := range recipient {
		key := normalizeAntigen(antigen)
		if available[key] > 0 {
			available[key]--
			shared++
		}
	}
	return 2 - shared
}

func normalizeAntigen(a string) string {
	return strings.ToUpper(strings.TrimSpace(a))
}

func bandForScore(score int) domain.CompatibilityResult {
	switch {
	case score >= excellentFloor:
		return domain.ResultExcellent
	case score >= goodFloor:
		return domain.ResultGood
	case score >= fairFloor:
		return domain.ResultFair
	default:
		return domain.ResultPoor
	}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
