package domain

import "time"

// TargetKind is the kind of party a notification is addressed to.
type TargetKind string

const (
	TargetRecipient TargetKind = "recipient"
	TargetDonor     TargetKind = "donor"
	TargetHospital  TargetKind = "hospital"
)

// IsValid reports whether the target kind is known.
func (k TargetKind) IsValid() bool {
	return k == TargetRecipient || k == TargetDonor || k == TargetHospital
}

// Target addresses exactly one recipient, donor or hospital.
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
}

// String returns "kind:id".
func (t Target) String() string { return string(t.Kind) + ":" + t.ID }

// Severity categorises a notification.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityMedical  Severity = "medical"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Notification is a persisted message to one party. Only the Read flag ever changes after creation.
type Notification struct {
	ID        string    `json:"id"`
	Target    Target    `json:"target"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Read      bool      `json:"read"`
	DedupeKey string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Delivery is one (target, message, severity) tuple handed to the fan-out.
type Delivery struct {
	Target   Target
	Message  string
	Severity Severity
}

// SkippedDelivery is a delivery the fan-out dropped because its target does not exist.
type SkippedDelivery struct {
	Target Target `json:"target"`
	Reason string `json:"reason"`
}

// FanoutResult reports what a fan-out created and what it skipped.
type FanoutResult struct {
	Created    []*Notification
	Duplicates int
	Skipped    []SkippedDelivery
}

// Sent returns the number of notifications created or already present from a previous delivery.
func (r *FanoutResult) Sent() int {
	if r == nil {
		return 0
	}
	return len(r.Created) + r.Duplicates
}
