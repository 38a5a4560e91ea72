// Package domain contains the core entities and value types for organ donor/recipient matching,
// recipient urgency scoring and clinical event propagation.
//
// A person takes part either as a recipient (needs an organ) or as a donor (offers one). The
// two roles are modelled as distinct profile variants sharing a ClinicalFacts core, so the
// scoring and orchestration code never branches on a role string.
package domain

import (
	"strings"
	"time"
)

// BloodType is an ABO group with an optional Rh suffix, e.g. "A+", "O-", "AB".
type BloodType string

// ABOGroup is the ABO part of a blood type.
type ABOGroup string

const (
	GroupO  ABOGroup = "O"
	GroupA  ABOGroup = "A"
	GroupB  ABOGroup = "B"
	GroupAB ABOGroup = "AB"
)

// Group returns the ABO group of the blood type, ignoring the Rh suffix.
// It returns an empty group when the value is not a recognised blood type.
func (b BloodType) Group() ABOGroup {
	v := strings.ToUpper(strings.TrimSpace(string(b)))
	v = strings.TrimSuffix(strings.TrimSuffix(v, "+"), "-")
	v = strings.TrimSuffix(strings.TrimSuffix(v, "POS"), "NEG")
	switch ABOGroup(v) {
	case GroupO, GroupA, GroupB, GroupAB:
		return ABOGroup(v)
	default:
		return ""
	}
}

// IsValid reports whether the blood type carries a recognised ABO group.
func (b BloodType) IsValid() bool {
	return b.Group() != ""
}

// CanDonateTo reports whether a donor of group g can give a solid organ to a recipient of group r.
func (g ABOGroup) CanDonateTo(r ABOGroup) bool {
	switch g {
	case GroupO:
		return r != ""
	case GroupA:
		return r == GroupA || r == GroupAB
	case GroupB:
		return r == GroupB || r == GroupAB
	case GroupAB:
		return r == GroupAB
	default:
		return false
	}
}

// OrganType names a transplantable organ.
type OrganType string

const (
	OrganKidney     OrganType = "kidney"
	OrganLiver      OrganType = "liver"
	OrganHeart      OrganType = "heart"
	OrganLung       OrganType = "lung"
	OrganPancreas   OrganType = "pancreas"
	OrganIntestine  OrganType = "intestine"
	OrganCornea     OrganType = "cornea"
	OrganBoneMarrow OrganType = "bone_marrow"
)

// IsValid reports whether the organ type is one the matcher knows about.
func (o OrganType) IsValid() bool {
	switch o {
	case OrganKidney, OrganLiver, OrganHeart, OrganLung, OrganPancreas,
		OrganIntestine, OrganCornea, OrganBoneMarrow:
		return true
	default:
		return false
	}
}

// Serostatus is a CMV or EBV antibody status.
type Serostatus string

const (
	SeroPositive Serostatus = "positive"
	SeroNegative Serostatus = "negative"
	SeroUnknown  Serostatus = "unknown"
)

// IsValid reports whether the serostatus is one of the recognised values. Empty means unknown.
func (s Serostatus) IsValid() bool {
	switch s {
	case SeroPositive, SeroNegative, SeroUnknown, "":
		return true
	default:
		return false
	}
}

// ConditionSeverity grades a chronic condition.
type ConditionSeverity string

const (
	SeverityMild     ConditionSeverity = "mild"
	SeverityModerate ConditionSeverity = "moderate"
	SeveritySevere   ConditionSeverity = "severe"
)

// ProfileStatus is the allocation status carried on a clinical profile.
type ProfileStatus string

const (
	StatusAwaiting  ProfileStatus = "awaiting"
	StatusConfirmed ProfileStatus = "confirmed"
	StatusReserved  ProfileStatus = "reserved"
)

// IsValid reports whether the status is a known profile status.
func (s ProfileStatus) IsValid() bool {
	switch s {
	case StatusAwaiting, StatusConfirmed, StatusReserved:
		return true
	default:
		return false
	}
}

// Role tells which profile variant a person holds.
type Role string

const (
	RoleRecipient Role = "recipient"
	RoleDonor     Role = "donor"
)

// Hospital is a care facility that can receive notifications.
type Hospital struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Person is a recipient or donor identity record, independent of any clinical profile.
type Person struct {
	ID         string     `json:"id"`
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	HospitalID string     `json:"hospital_id,omitempty"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// FullName returns "First Last", trimmed.
func (p *Person) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// SurgicalContext links post-operative events to the match they concern.
type SurgicalContext struct {
	ID            string `json:"id"`
	SurgeryNumber string `json:"surgery_number"`
	MatchID       string `json:"match_id"`
	HospitalID    string `json:"hospital_id,omitempty"`
}
