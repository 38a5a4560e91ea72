package domain

import "time"

// VitalReading is a post-operative vital-sign measurement. Nil fields were not measured.
type VitalReading struct {
	EventID          string    `json:"event_id,omitempty"`
	RecordedAt       time.Time `json:"recorded_at"`
	OxygenSaturation *float64  `json:"oxygen_saturation,omitempty"`
	TemperatureC     *float64  `json:"temperature_c,omitempty"`
	HeartRate        *int      `json:"heart_rate,omitempty"`
	SystolicBP       *int      `json:"systolic_bp,omitempty"`
	RespiratoryRate  *int      `json:"respiratory_rate,omitempty"`
}

// VitalFinding is one threshold breach found in a reading.
type VitalFinding struct {
	Finding       string `json:"finding"`
	Critical      bool   `json:"critical"`
	SeverityDelta int    `json:"severity_delta"`
}

// SurgicalReport is the post-operative report submitted for a surgery.
type SurgicalReport struct {
	ID            string `json:"id,omitempty"`
	ResultSummary string `json:"result_summary"`
	Complications string `json:"complications,omitempty"`
	DoctorNotes   string `json:"doctor_notes,omitempty"`
}

// Validate checks that the report carries a result summary.
func (r *SurgicalReport) Validate() error {
	if r.ResultSummary == "" {
		return NewValidationError("result_summary", "result summary is required", r.ResultSummary)
	}
	return nil
}

// TransitionRequest asks for a match to move to a lifecycle state. A request for the
// current state amends the match without changing it.
type TransitionRequest struct {
	MatchID  string         `json:"match_id"`
	NewState LifecycleState `json:"new_state"`
	EventID  string         `json:"event_id,omitempty"`
	Note     string         `json:"note,omitempty"`
}

// VitalOutcome is the result of recording a vital reading.
type VitalOutcome struct {
	Findings        []VitalFinding  `json:"findings"`
	UpdatedPriority *PriorityRecord `json:"updated_priority,omitempty"`
	Duplicate       bool            `json:"duplicate,omitempty"`
}

// ReportOutcome is the result of recording a surgical report.
type ReportOutcome struct {
	NotificationsSent int             `json:"notifications_sent"`
	UpdatedPriority   *PriorityRecord `json:"updated_priority,omitempty"`
	Duplicate         bool            `json:"duplicate,omitempty"`
}

// TransitionOutcome is the result of a match transition.
type TransitionOutcome struct {
	Match             *MatchCandidate `json:"match"`
	Kind              string          `json:"kind"`
	NotificationsSent int             `json:"notifications_sent"`
	Duplicate         bool            `json:"duplicate,omitempty"`
}
