package domain

import (
	"fmt"
	"strings"
	"time"
)

// HLALocus identifies one of the three typed HLA loci.
type HLALocus string

const (
	LocusA  HLALocus = "A"
	LocusB  HLALocus = "B"
	LocusDR HLALocus = "DR"
)

// HLATyping holds the two antigens typed at each of the A, B and DR loci.
type HLATyping struct {
	A  [2]string `json:"a"`
	B  [2]string `json:"b"`
	DR [2]string `json:"dr"`
}

// Locus returns the antigen pair typed at the given locus.
func (h HLATyping) Locus(l HLALocus) [2]string {
	switch l {
	case LocusA:
		return h.A
	case LocusB:
		return h.B
	default:
		return h.DR
	}
}

// Slots returns the six antigen values in A1, A2, B1, B2, DR1, DR2 order.
func (h HLATyping) Slots() [6]string {
	return [6]string{h.A[0], h.A[1], h.B[0], h.B[1], h.DR[0], h.DR[1]}
}

// ChronicCondition is a long-term diagnosis with its severity grade.
type ChronicCondition struct {
	Name     string            `json:"name"`
	Severity ConditionSeverity `json:"severity"`
}

// ClinicalFacts is the clinical core shared by recipient and donor profiles.
type ClinicalFacts struct {
	BloodType         BloodType          `json:"blood_type"`
	HLA               HLATyping          `json:"hla"`
	PRAPercent        float64            `json:"pra_percent"`
	CMV               Serostatus         `json:"cmv"`
	EBV               Serostatus         `json:"ebv"`
	ChronicConditions []ChronicCondition `json:"chronic_conditions,omitempty"`
	Status            ProfileStatus      `json:"status"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// Validate checks the facts needed by the compatibility scorer.
func (f *ClinicalFacts) Validate() error {
	if strings.TrimSpace(string(f.BloodType)) == "" {
		return NewValidationError("blood_type", "blood type is required", f.BloodType)
	}
	if !f.BloodType.IsValid() {
		return NewValidationError("blood_type", "unrecognised blood type", f.BloodType)
	}
	for i, antigen := range f.HLA.Slots() {
		if strings.TrimSpace(antigen) == "" {
			return NewValidationError(hlaSlotNames[i], "HLA antigen is required", antigen)
		}
	}
	if f.PRAPercent < 0 || f.PRAPercent > 100 {
		return NewValidationError("pra_percent", "PRA must be between 0 and 100", f.PRAPercent)
	}
	if !f.CMV.IsValid() {
		return NewValidationError("cmv", "unrecognised serostatus", f.CMV)
	}
	if !f.EBV.IsValid() {
		return NewValidationError("ebv", "unrecognised serostatus", f.EBV)
	}
	if f.Status != "" && !f.Status.IsValid() {
		return NewValidationError("status", "unrecognised profile status", f.Status)
	}
	for _, c := range f.ChronicConditions {
		if strings.TrimSpace(c.Name) == "" {
			return NewValidationError("chronic_conditions", "condition name is required", c)
		}
	}
	return nil
}

var hlaSlotNames = [6]string{"hla.a1", "hla.a2", "hla.b1", "hla.b2", "hla.dr1", "hla.dr2"}

// ClinicalProfile is the capability surface shared by RecipientProfile and DonorProfile.
type ClinicalProfile interface {
	PersonID() string
	Role() Role
	Facts() *ClinicalFacts
	Validate() error
}

// RecipientProfile is the clinical profile of a person waiting for an organ.
type RecipientProfile struct {
	Person      string    `json:"person_id"`
	OrganNeeded OrganType `json:"organ_needed,omitempty"`
	ClinicalFacts
}

// PersonID implements ClinicalProfile.
func (p *RecipientProfile) PersonID() string { return p.Person }

// Role implements ClinicalProfile.
func (p *RecipientProfile) Role() Role { return RoleRecipient }

// Facts implements ClinicalProfile.
func (p *RecipientProfile) Facts() *ClinicalFacts { return &p.ClinicalFacts }

// HasActiveNeed reports whether the recipient is currently waiting for an organ.
func (p *RecipientProfile) HasActiveNeed() bool { return p.OrganNeeded != "" }

// Validate implements ClinicalProfile.
func (p *RecipientProfile) Validate() error {
	if p.Person == "" {
		return NewValidationError("person_id", "person id is required", p.Person)
	}
	if p.OrganNeeded != "" && !p.OrganNeeded.IsValid() {
		return NewValidationError("organ_needed", "unrecognised organ type", p.OrganNeeded)
	}
	return p.ClinicalFacts.Validate()
}

// DonorProfile is the clinical profile of a person offering an organ.
type DonorProfile struct {
	Person         string    `json:"person_id"`
	OrganAvailable OrganType `json:"organ_available"`
	ClinicalFacts
}

// PersonID implements ClinicalProfile.
func (p *DonorProfile) PersonID() string { return p.Person }

// Role implements ClinicalProfile.
func (p *DonorProfile) Role() Role { return RoleDonor }

// Facts implements ClinicalProfile.
func (p *DonorProfile) Facts() *ClinicalFacts { return &p.ClinicalFacts }

// Validate implements ClinicalProfile.
func (p *DonorProfile) Validate() error {
	if p.Person == "" {
		return NewValidationError("person_id", "person id is required", p.Person)
	}
	if !p.OrganAvailable.IsValid() {
		return NewValidationError("organ_available", "unrecognised organ type", p.OrganAvailable)
	}
	return p.ClinicalFacts.Validate()
}

// AsRecipient returns the profile as a recipient, or a validation error naming the role it holds.
func AsRecipient(p ClinicalProfile) (*RecipientProfile, error) {
	r, ok := p.(*RecipientProfile)
	if !ok {
		return nil, NewValidationError("role", fmt.Sprintf("person %s is not a recipient", p.PersonID()), p.Role())
	}
	return r, nil
}

// AsDonor returns the profile as a donor, or a validation error naming the role it holds.
func AsDonor(p ClinicalProfile) (*DonorProfile, error) {
	d, ok := p.(*DonorProfile)
	if !ok {
		return nil, NewValidationError("role", fmt.Sprintf("person %s is not a donor", p.PersonID()), p.Role())
	}
	return d, nil
}
