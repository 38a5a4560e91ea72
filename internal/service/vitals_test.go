package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/organ-match-server/internal/domain"
)

func findingNames(findings []domain.VitalFinding) []string {
	names := make([]string, 0, len(findings))
	for _, f := range findings {
		names = append(names, f.Finding)
	}
	return names
}

func TestVitalThresholdEvaluator_Evaluate(t *testing.T) {
	evaluator := NewVitalThresholdEvaluator()

	tests := []struct {
		name     string
		reading  domain.VitalReading
		expected []string
		delta    int
		critical bool
	}{
		{
			name:     "no measurements",
			reading:  domain.VitalReading{},
			expected: []string{},
		},
		{
			name: "all values at their limits",
			reading: domain.VitalReading{
				OxygenSaturation: ptrFloat(92),
				TemperatureC:     ptrFloat(37.9),
				HeartRate:        ptrInt(120),
				SystolicBP:       ptrInt(160),
			},
			expected: []string{},
		},
		{
			name:     "low oxygen is critical",
			reading:  domain.VitalReading{OxygenSaturation: ptrFloat(91.9)},
			expected: []string{FindingLowOxygen},
			delta:    15,
			critical: true,
		},
		{
			name:     "fever starts at 38",
			reading:  domain.VitalReading{TemperatureC: ptrFloat(38)},
			expected: []string{FindingFever},
			delta:    10,
		},
		{
			name:     "hypertensive above 160",
			reading:  domain.VitalReading{SystolicBP: ptrInt(161)},
			expected: []string{FindingHypertensive},
			delta:    10,
		},
		{
			name: "oxygen and heart rate",
			reading: domain.VitalReading{
				OxygenSaturation: ptrFloat(88),
				HeartRate:        ptrInt(130),
			},
			expected: []string{FindingLowOxygen, FindingTachycardia},
			delta:    25,
			critical: true,
		},
		{
			name: "every check fires in order",
			reading: domain.VitalReading{
				OxygenSaturation: ptrFloat(85),
				TemperatureC:     ptrFloat(39.2),
				HeartRate:        ptrInt(140),
				SystolicBP:       ptrInt(175),
			},
			expected: []string{FindingLowOxygen, FindingFever, FindingTachycardia, FindingHypertensive},
			delta:    45,
			critical: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := evaluator.Evaluate(tt.reading)
			assert.Equal(t, tt.expected, findingNames(findings))
			assert.Equal(t, tt.delta, TotalDelta(findings))
			assert.Equal(t, tt.critical, AnyCritical(findings))
		})
	}
}
