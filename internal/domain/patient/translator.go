package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/reconciler/internal/platform/fhir"
)

// Translator converts between the local patient record and the FHIR R4
// Patient resource exchanged with the client registry. All mappings are
// pure; collaborator lookups are resolved at construction time from
// configuration.
type Translator struct {
	contactPointTypeID uuid.UUID
	registryAttrTypeID uuid.UUID
	identifierSystems  map[string]uuid.UUID
	defaultLocationID  *uuid.UUID
	log                zerolog.Logger
}

// TranslatorConfig carries the configuration-derived mappings the
// translator needs.
type TranslatorConfig struct {
	ContactPointAttributeType uuid.UUID
	RegistryIDAttributeType   uuid.UUID
	IdentifierSystems         map[string]uuid.UUID
	DefaultLocationID         *uuid.UUID
}

func NewTranslator(cfg TranslatorConfig, log zerolog.Logger) *Translator {
	return &Translator{
		contactPointTypeID: cfg.ContactPointAttributeType,
		registryAttrTypeID: cfg.RegistryIDAttributeType,
		identifierSystems:  cfg.IdentifierSystems,
		defaultLocationID:  cfg.DefaultLocationID,
		log:                log,
	}
}

// ToResource builds the outbound FHIR Patient resource for registry
// matching, and the telecom contact points set on it (always one).
func (t *Translator) ToResource(p *Patient) (*fhir.Patient, []fhir.ContactPoint) {
	res := fhir.NewPatient()
	res.ID = p.FHIRID
	res.Gender = genderToFHIR(p.Gender)
	if p.BirthDate != nil {
		res.BirthDate = fhir.DateOf(*p.BirthDate)
	}
	if p.Deceased {
		if p.DeathDate != nil {
			res.DeceasedAt = p.DeathDate
		} else {
			deceased := true
			res.Deceased = &deceased
		}
	}

	if name := p.PreferredName(); name != nil {
		hn := fhir.HumanName{Use: "official", Family: name.Family}
		for _, g := range []string{name.Given, name.Middle} {
			if strings.TrimSpace(g) != "" {
				hn.Given = append(hn.Given, g)
			}
		}
		res.Name = []fhir.HumanName{hn}
	}

	for _, a := range p.ActiveAddresses() {
		res.Address = append(res.Address, addressToFHIR(a))
	}

	// A single contact point is synthesized from whichever active attribute
	// matches the configured contact-point type; when several match, the
	// last one wins. The medium is fixed to a mobile phone no matter what
	// the attribute actually holds.
	// TODO: emit one contact point per matching attribute and derive the
	// system from the attribute type instead of hardcoding phone/mobile.
	cp := fhir.ContactPoint{System: "phone", Use: "mobile"}
	for _, attr := range p.ActiveAttributes() {
		if attr.TypeID == t.contactPointTypeID {
			cp.ID = attr.ID.String()
			cp.Value = attr.Value
		}
	}
	telecom := []fhir.ContactPoint{cp}
	res.Telecom = telecom

	for _, id := range p.Identifiers {
		if id.Voided {
			continue
		}
		system := t.systemForType(id.TypeID)
		use := ""
		if id.Preferred {
			use = "official"
		}
		res.Identifier = append(res.Identifier, fhir.Identifier{
			Use:    use,
			System: system,
			Value:  id.Value,
		})
	}

	return res, telecom
}

// FromResource builds a local draft patient from a registry-held FHIR
// Patient resource. The draft keeps the registry's stable identifier as its
// external id and is not yet persisted.
func (t *Translator) FromResource(res *fhir.Patient, actor string, now time.Time) *Patient {
	p := &Patient{
		FHIRID:    res.ID,
		Creator:   actor,
		CreatedAt: now,
		ChangedBy: actor,
		ChangedAt: &now,
	}

	// The registry's telecom value is carried as a dedicated attribute so
	// the local record keeps a trace of how the registry knows the patient.
	var telecom string
	if first := res.TelecomFirstRep(); first != nil {
		telecom = first.Value
	}
	if t.registryAttrTypeID != uuid.Nil {
		p.AddAttribute(&Attribute{
			TypeID:    t.registryAttrTypeID,
			Value:     telecom,
			Creator:   actor,
			CreatedAt: now,
		})
	}

	name := &Name{Creator: actor, CreatedAt: now, ChangedBy: actor, ChangedAt: &now, Preferred: true}
	if rep := res.NameFirstRep(); rep != nil {
		name.Family = rep.Family
		if len(rep.Given) > 0 {
			name.Given = rep.Given[0]
			// Any further given-name repetitions fold into the middle name.
			name.Middle = strings.Join(rep.Given[1:], " ")
		}
	}
	p.AddName(name)

	if res.BirthDate != "" {
		if bd, err := res.BirthDate.Time(); err == nil {
			p.BirthDate = &bd
			p.BirthdateEstimated = res.BirthDate.Precision() != fhir.PrecisionDay
		} else {
			t.log.Warn().Str("birth_date", string(res.BirthDate)).Msg("unparseable birth date on registry resource")
		}
	}

	p.Gender = genderFromFHIR(res.Gender)

	for _, ident := range res.Identifier {
		typeID, ok := t.identifierSystems[ident.System]
		if !ok {
			// Identifiers from systems we have no local type for are
			// dropped without comment.
			continue
		}
		local := &Identifier{
			Value:      ident.Value,
			TypeID:     typeID,
			LocationID: t.defaultLocationID,
			Preferred:  ident.Use == "official",
			Creator:    actor,
			CreatedAt:  now,
		}
		if err := ValidateIdentifierFormat(local.Value); err != nil {
			t.log.Warn().
				Str("system", ident.System).
				Str("value", ident.Value).
				Err(err).
				Msg("registry identifier failed format validation")
		}
		p.AddIdentifier(local)
	}

	return p
}

func (t *Translator) systemForType(typeID uuid.UUID) string {
	for system, id := range t.identifierSystems {
		if id == typeID {
			return system
		}
	}
	return ""
}

func addressToFHIR(a *Address) fhir.Address {
	out := fhir.Address{
		City:       a.CityVillage,
		District:   a.CountyDistrict,
		State:      a.StateProvince,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
	for _, line := range []string{a.Line1, a.Line2, a.Line3} {
		if strings.TrimSpace(line) != "" {
			out.Line = append(out.Line, line)
		}
	}
	if a.Preferred {
		out.Use = "home"
	}
	return out
}

var genderToCode = map[string]string{
	"male": "M", "female": "F", "other": "O", "unknown": "U",
}

var codeToGender = map[string]string{
	"M": "male", "F": "female", "O": "other", "U": "unknown",
}

func genderFromFHIR(g string) string {
	return genderToCode[g]
}

func genderToFHIR(code string) string {
	return codeToGender[code]
}
