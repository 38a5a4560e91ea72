package service

import (
	"github.com/organ-match-server/internal/domain"
)

// Vital-sign thresholds and the priority delta each breach carries.
const (
	minOxygenSaturation = 92.0
	feverTemperatureC   = 38.0
	maxHeartRate        = 120
	maxSystolicBP       = 160

	lowOxygenDelta    = 15
	feverDelta        = 10
	tachycardiaDelta  = 10
	hypertensiveDelta = 10
)

// Finding names reported by the evaluator.
const (
	FindingLowOxygen    = "low oxygen saturation"
	FindingFever        = "fever"
	FindingTachycardia  = "tachycardia"
	FindingHypertensive = "hypertensive"
)

// VitalThresholdEvaluator checks a vital reading against fixed thresholds.
type VitalThresholdEvaluator struct{}

// NewVitalThresholdEvaluator creates a new evaluator
func NewVitalThresholdEvaluator() *VitalThresholdEvaluator {
	return &VitalThresholdEvaluator{}
}

// Evaluate returns every finding the reading triggers, in a fixed order. Measurements that
// were not taken are skipped.
func (e *VitalThresholdEvaluator) Evaluate(r domain.VitalReading) []domain.VitalFinding {
	var findings []domain.VitalFinding
	if r.OxygenSaturation != nil && *r.OxygenSaturation < minOxygenSaturation {
		findings = append(findings, domain.VitalFinding{Finding: FindingLowOxygen, Critical: true, SeverityDelta: lowOxygenDelta})
	}
	if r.TemperatureC != nil && *r.TemperatureC >= feverTemperatureC {
		findings = append(findings, domain.VitalFinding{Finding: FindingFever, SeverityDelta: feverDelta})
	}
	if r.HeartRate != nil && *r.HeartRate > maxHeartRate {
		findings = append(findings, domain.VitalFinding{Finding: FindingTachycardia, SeverityDelta: tachycardiaDelta})
	}
	if r.SystolicBP != nil && *r.SystolicBP > maxSystolicBP {
		findings = append(findings, domain.VitalFinding{Finding: FindingHypertensive, SeverityDelta: hypertensiveDelta})
	}
	return findings
}

// TotalDelta sums the priority deltas of the findings.
func TotalDelta(findings []domain.VitalFinding) int {
	total := 0
	for _, f := range findings {
		total += f.SeverityDelta
	}
	return total
}

// AnyCritical reports whether any finding is critical.
func AnyCritical(findings []domain.VitalFinding) bool {
	for _, f := range findings {
		if f.Critical {
			return true
		}
	}
	return false
}
