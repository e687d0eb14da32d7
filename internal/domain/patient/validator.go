package patient

import (
	"strings"
	"time"
)

var validGenders = map[string]bool{
	"M": true, "F": true, "O": true, "U": true,
}

// Validate applies the local domain rules to a patient built from form
// input. It runs before reconciliation, so a failure here guarantees no
// mutation and no network call has happened.
func Validate(p *Patient, now time.Time) error {
	ve := &ValidationError{}

	if p.Gender == "" {
		ve.add("gender", "gender is required")
	} else if !validGenders[p.Gender] {
		ve.add("gender", "gender must be one of M, F, O, U")
	}

	name := p.PreferredName()
	if name == nil || name.Full() == "" {
		ve.add("name", "at least one non-blank name is required")
	}

	if p.BirthDate != nil && p.BirthDate.After(now) {
		ve.add("birth_date", "birth date cannot be in the future")
	}

	if p.DeathDate != nil {
		if !p.Deceased {
			ve.add("death_date", "death date requires the deceased flag")
		} else if p.DeathDate.After(now) {
			ve.add("death_date", "death date cannot be in the future")
		}
	}
	if p.Deceased && p.BirthDate != nil && p.DeathDate != nil && p.DeathDate.Before(*p.BirthDate) {
		ve.add("death_date", "death date cannot precede birth date")
	}

	for _, id := range p.Identifiers {
		if !id.Voided && strings.TrimSpace(id.Value) == "" {
			ve.add("identifiers", "identifier value cannot be blank")
		}
	}

	if ve.hasErrors() {
		return ve
	}
	return nil
}

// ValidateIdentifierFormat applies basic format rules to an identifier
// value. Inbound translation logs failures as warnings and attaches the
// identifier anyway; local saves treat them as validation errors.
func ValidateIdentifierFormat(value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return &ValidationError{Fields: map[string]string{"identifier": "value is blank"}}
	}
	if trimmed != value {
		return &ValidationError{Fields: map[string]string{"identifier": "value has leading or trailing whitespace"}}
	}
	for _, r := range value {
		if r == '\n' || r == '\t' {
			return &ValidationError{Fields: map[string]string{"identifier": "value contains control characters"}}
		}
	}
	return nil
}
