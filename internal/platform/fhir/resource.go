// Package fhir holds the subset of FHIR R4 datatypes and resources the
// reconciler exchanges with the client registry. The wire format itself is
// externally defined; these types only need to serialize and parse it
// faithfully for the fields we use.
package fhir

import (
	"strings"
	"time"
)

type Meta struct {
	VersionID   string    `json:"versionId,omitempty"`
	LastUpdated time.Time `json:"lastUpdated,omitempty"`
	Profile     []string  `json:"profile,omitempty"`
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Type      string `json:"type,omitempty"`
	Display   string `json:"display,omitempty"`
}

type Identifier struct {
	Use    string           `json:"use,omitempty"`
	Type   *CodeableConcept `json:"type,omitempty"`
	System string           `json:"system,omitempty"`
	Value  string           `json:"value,omitempty"`
	Period *Period          `json:"period,omitempty"`
}

type HumanName struct {
	Use    string   `json:"use,omitempty"`
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
	Prefix []string `json:"prefix,omitempty"`
	Suffix []string `json:"suffix,omitempty"`
}

type Address struct {
	Use        string   `json:"use,omitempty"`
	Type       string   `json:"type,omitempty"`
	Line       []string `json:"line,omitempty"`
	City       string   `json:"city,omitempty"`
	District   string   `json:"district,omitempty"`
	State      string   `json:"state,omitempty"`
	PostalCode string   `json:"postalCode,omitempty"`
	Country    string   `json:"country,omitempty"`
}

type ContactPoint struct {
	ID     string `json:"id,omitempty"`
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
	Use    string `json:"use,omitempty"`
	Rank   int    `json:"rank,omitempty"`
}

type Period struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// PatientLink relates a Patient resource to another patient or related
// person record held by the registry.
type PatientLink struct {
	Other Reference `json:"other"`
	Type  string    `json:"type,omitempty"`
}

// Patient is the FHIR R4 Patient resource, restricted to the elements the
// reconciler reads and writes when exchanging records with the registry.
type Patient struct {
	ResourceType string         `json:"resourceType"`
	ID           string         `json:"id,omitempty"`
	Meta         *Meta          `json:"meta,omitempty"`
	Identifier   []Identifier   `json:"identifier,omitempty"`
	Active       *bool          `json:"active,omitempty"`
	Name         []HumanName    `json:"name,omitempty"`
	Telecom      []ContactPoint `json:"telecom,omitempty"`
	Gender       string         `json:"gender,omitempty"`
	BirthDate    Date           `json:"birthDate,omitempty"`
	Deceased     *bool          `json:"deceasedBoolean,omitempty"`
	DeceasedAt   *time.Time     `json:"deceasedDateTime,omitempty"`
	Address      []Address      `json:"address,omitempty"`
	Link         []PatientLink  `json:"link,omitempty"`
}

// NewPatient returns a Patient with the resourceType discriminator set.
func NewPatient() *Patient {
	return &Patient{ResourceType: "Patient"}
}

// NameFirstRep returns the first name repetition, or nil when absent.
func (p *Patient) NameFirstRep() *HumanName {
	if len(p.Name) == 0 {
		return nil
	}
	return &p.Name[0]
}

// TelecomFirstRep returns the first telecom repetition, or nil when absent.
func (p *Patient) TelecomFirstRep() *ContactPoint {
	if len(p.Telecom) == 0 {
		return nil
	}
	return &p.Telecom[0]
}

// DatePrecision classifies how much of a FHIR date was supplied.
type DatePrecision int

const (
	PrecisionNone DatePrecision = iota
	PrecisionYear
	PrecisionMonth
	PrecisionDay
)

// Date is a FHIR date: "2006", "2006-01" or "2006-01-02". The precision the
// sender used is preserved, which matters when deciding whether a birth date
// is estimated.
type Date string

// Precision reports how precise the date value is, based on its length.
func (d Date) Precision() DatePrecision {
	switch strings.Count(string(d), "-") {
	case 0:
		if len(d) == 4 {
			return PrecisionYear
		}
	case 1:
		return PrecisionMonth
	case 2:
		return PrecisionDay
	}
	return PrecisionNone
}

// Time parses the date at whatever precision was supplied. Missing month and
// day components default to January 1st.
func (d Date) Time() (time.Time, error) {
	layouts := map[DatePrecision]string{
		PrecisionYear:  "2006",
		PrecisionMonth: "2006-01",
		PrecisionDay:   "2006-01-02",
	}
	layout, ok := layouts[d.Precision()]
	if !ok {
		return time.Time{}, &time.ParseError{Layout: "2006-01-02", Value: string(d)}
	}
	return time.Parse(layout, string(d))
}

// DateOf renders a time as a day-precision FHIR date.
func DateOf(t time.Time) Date {
	return Date(t.Format("2006-01-02"))
}
