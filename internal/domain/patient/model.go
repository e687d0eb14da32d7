// Package patient implements demographic editing for a patient record with
// append-only audit semantics: names, addresses and attributes are never
// overwritten once persisted. An edit voids the old entry and attaches a new
// one carrying the change.
package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Patient is the demographic record under edit. It exclusively owns its
// name, address, attribute and identifier collections for the duration of
// the edit transaction.
type Patient struct {
	ID     uuid.UUID `db:"id" json:"id"`
	FHIRID string    `db:"fhir_id" json:"fhir_id"`

	Gender             string     `db:"gender" json:"gender"`
	BirthDate          *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	BirthdateEstimated bool       `db:"birthdate_estimated" json:"birthdate_estimated"`

	Deceased     bool       `db:"deceased" json:"deceased"`
	DeathDate    *time.Time `db:"death_date" json:"death_date,omitempty"`
	CauseOfDeath *uuid.UUID `db:"cause_of_death" json:"cause_of_death,omitempty"`

	Names       []*Name       `json:"names,omitempty"`
	Addresses   []*Address    `json:"addresses,omitempty"`
	Attributes  []*Attribute  `json:"attributes,omitempty"`
	Identifiers []*Identifier `json:"identifiers,omitempty"`

	Voided    bool      `db:"voided" json:"voided"`
	Creator   string    `db:"creator" json:"creator,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	ChangedBy string    `db:"changed_by" json:"changed_by,omitempty"`
	ChangedAt *time.Time `db:"changed_at" json:"changed_at,omitempty"`
}

// Name is a versioned person name. A voided name is frozen history; edits
// flow into a new entry instead.
type Name struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	Given      string     `db:"given" json:"given"`
	Middle     string     `db:"middle" json:"middle,omitempty"`
	Family     string     `db:"family" json:"family"`
	Preferred  bool       `db:"preferred" json:"preferred"`
	Voided     bool       `db:"voided" json:"voided"`
	VoidReason string     `db:"void_reason" json:"void_reason,omitempty"`
	Creator    string     `db:"creator" json:"creator,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	ChangedBy  string     `db:"changed_by" json:"changed_by,omitempty"`
	ChangedAt  *time.Time `db:"changed_at" json:"changed_at,omitempty"`
}

// Persisted reports whether the name has been assigned a durable identity.
func (n *Name) Persisted() bool { return n.ID != uuid.Nil }

// Full renders the name as its non-blank given, middle and family parts
// joined by spaces. Used both for display and for change detection.
func (n *Name) Full() string {
	var parts []string
	for _, p := range []string{n.Given, n.Middle, n.Family} {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// Clone returns a copy of the name.
func (n *Name) Clone() *Name {
	c := *n
	return &c
}

// Address is a versioned person address with the same void-and-replace
// semantics as Name.
type Address struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	Line1          string     `db:"line1" json:"line1,omitempty"`
	Line2          string     `db:"line2" json:"line2,omitempty"`
	Line3          string     `db:"line3" json:"line3,omitempty"`
	CityVillage    string     `db:"city_village" json:"city_village,omitempty"`
	CountyDistrict string     `db:"county_district" json:"county_district,omitempty"`
	StateProvince  string     `db:"state_province" json:"state_province,omitempty"`
	PostalCode     string     `db:"postal_code" json:"postal_code,omitempty"`
	Country        string     `db:"country" json:"country,omitempty"`
	Latitude       string     `db:"latitude" json:"latitude,omitempty"`
	Longitude      string     `db:"longitude" json:"longitude,omitempty"`
	Preferred      bool       `db:"preferred" json:"preferred"`
	Voided         bool       `db:"voided" json:"voided"`
	VoidReason     string     `db:"void_reason" json:"void_reason,omitempty"`
	Creator        string     `db:"creator" json:"creator,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	ChangedBy      string     `db:"changed_by" json:"changed_by,omitempty"`
	ChangedAt      *time.Time `db:"changed_at" json:"changed_at,omitempty"`
}

func (a *Address) Persisted() bool { return a.ID != uuid.Nil }

func (a *Address) contentFields() []string {
	return []string{
		a.Line1, a.Line2, a.Line3,
		a.CityVillage, a.CountyDistrict, a.StateProvince,
		a.PostalCode, a.Country, a.Latitude, a.Longitude,
	}
}

// Blank reports whether every content field is empty or whitespace.
func (a *Address) Blank() bool {
	for _, f := range a.contentFields() {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// EqualContent compares the content fields of two addresses, ignoring
// audit and flag fields.
func (a *Address) EqualContent(other *Address) bool {
	fa, fb := a.contentFields(), other.contentFields()
	for i := range fa {
		if fa[i] != fb[i] {
			return false
		}
	}
	return true
}

// String renders the non-blank content fields joined by commas.
func (a *Address) String() string {
	var parts []string
	for _, f := range a.contentFields() {
		if s := strings.TrimSpace(f); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// Clone returns a copy of the address.
func (a *Address) Clone() *Address {
	c := *a
	return &c
}

// Attribute is a string-valued person attribute keyed by type. At most one
// attribute per type is active at a time; attaching a replacement voids the
// prior holder of the type.
type Attribute struct {
	ID         uuid.UUID `db:"id" json:"id"`
	TypeID     uuid.UUID `db:"type_id" json:"type_id"`
	Value      string    `db:"value" json:"value"`
	Voided     bool      `db:"voided" json:"voided"`
	VoidReason string    `db:"void_reason" json:"void_reason,omitempty"`
	Creator    string    `db:"creator" json:"creator,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

func (a *Attribute) Persisted() bool { return a.ID != uuid.Nil }

// Identifier binds an external identifier value of a given type to the
// patient, optionally scoped to a location.
type Identifier struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	Value      string     `db:"value" json:"value"`
	TypeID     uuid.UUID  `db:"type_id" json:"type_id"`
	LocationID *uuid.UUID `db:"location_id" json:"location_id,omitempty"`
	Preferred  bool       `db:"preferred" json:"preferred"`
	Voided     bool       `db:"voided" json:"voided"`
	Creator    string     `db:"creator" json:"creator,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

func (i *Identifier) Persisted() bool { return i.ID != uuid.Nil }

// PreferredName returns the active preferred name, falling back to the
// first active name.
func (p *Patient) PreferredName() *Name {
	var first *Name
	for _, n := range p.Names {
		if n.Voided {
			continue
		}
		if n.Preferred {
			return n
		}
		if first == nil {
			first = n
		}
	}
	return first
}

// PreferredAddress returns the active preferred address, falling back to
// the first active address.
func (p *Patient) PreferredAddress() *Address {
	var first *Address
	for _, a := range p.Addresses {
		if a.Voided {
			continue
		}
		if a.Preferred {
			return a
		}
		if first == nil {
			first = a
		}
	}
	return first
}

// ActiveAddresses returns the non-voided addresses in attachment order.
func (p *Patient) ActiveAddresses() []*Address {
	var out []*Address
	for _, a := range p.Addresses {
		if !a.Voided {
			out = append(out, a)
		}
	}
	return out
}

// ActiveAttributes returns the non-voided attributes in attachment order.
func (p *Patient) ActiveAttributes() []*Attribute {
	var out []*Attribute
	for _, a := range p.Attributes {
		if !a.Voided {
			out = append(out, a)
		}
	}
	return out
}

// AttributeOfType returns the active attribute for the given type, or nil.
func (p *Patient) AttributeOfType(typeID uuid.UUID) *Attribute {
	for _, a := range p.Attributes {
		if !a.Voided && a.TypeID == typeID {
			return a
		}
	}
	return nil
}

// AddName attaches a name. When the new name is preferred, the preferred
// flag is cleared on all other active names so at most one holds it.
func (p *Patient) AddName(n *Name) {
	if n.Preferred {
		for _, existing := range p.Names {
			if !existing.Voided {
				existing.Preferred = false
			}
		}
	}
	p.Names = append(p.Names, n)
}

// AddAddress attaches an address, clearing the preferred flag on other
// active addresses when the new one is preferred.
func (p *Patient) AddAddress(a *Address) {
	if a.Preferred {
		for _, existing := range p.Addresses {
			if !existing.Voided {
				existing.Preferred = false
			}
		}
	}
	p.Addresses = append(p.Addresses, a)
}

// AddAttribute attaches an attribute, enforcing type-level uniqueness: a
// prior active attribute of the same type is voided as the new one is
// attached, preserving it as history. Re-adding an attribute that is
// already active, or one whose value matches the active holder of the
// type, is a no-op. A blank value voids the active holder without
// attaching anything.
func (p *Patient) AddAttribute(a *Attribute) {
	for _, existing := range p.Attributes {
		if existing.Voided {
			continue
		}
		if existing == a || (a.Persisted() && existing.ID == a.ID) {
			return
		}
		if existing.TypeID == a.TypeID {
			if existing.Value == a.Value {
				return
			}
			existing.Voided = true
			existing.VoidReason = "superseded by a new value"
		}
	}
	if strings.TrimSpace(a.Value) == "" {
		return
	}
	p.Attributes = append(p.Attributes, a)
}

// AddIdentifier attaches an identifier. When the new identifier is
// preferred it takes over the preferred flag.
func (p *Patient) AddIdentifier(id *Identifier) {
	if id.Preferred {
		for _, existing := range p.Identifiers {
			if !existing.Voided {
				existing.Preferred = false
			}
		}
	}
	p.Identifiers = append(p.Identifiers, id)
}
