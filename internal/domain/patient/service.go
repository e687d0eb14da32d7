package patient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/reconciler/internal/domain/observation"
	"github.com/ehr/reconciler/internal/domain/relationship"
	"github.com/ehr/reconciler/internal/platform/fhir"
)

const defaultVoidReason = "removed on patient edit"

// RegistryMatcher submits a translated patient resource for matching.
// Implementations never fail the save: a nil result means no matches.
type RegistryMatcher interface {
	FindMatches(ctx context.Context, resource *fhir.Patient) json.RawMessage
}

// RegistryReader fetches a single patient resource held by the registry.
type RegistryReader interface {
	FetchPatient(ctx context.Context, id string) (*fhir.Patient, error)
}

// Service orchestrates one save transaction: form intake, void-and-replace
// reconciliation, registry matching, persistence, death-observation sync
// and relationship saves.
type Service struct {
	repo       Repository
	versioner  *Versioner
	translator *Translator
	registry   RegistryMatcher
	reader     RegistryReader
	death      *observation.DeathSynchronizer
	resolver   *relationship.Resolver
	relRepo    relationship.Repository

	relationshipCodes string
	showRelationships bool

	log zerolog.Logger
}

func NewService(
	repo Repository,
	translator *Translator,
	registry RegistryMatcher,
	reader RegistryReader,
	death *observation.DeathSynchronizer,
	resolver *relationship.Resolver,
	relRepo relationship.Repository,
	relationshipCodes string,
	showRelationships bool,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:              repo,
		versioner:         NewVersioner(log),
		translator:        translator,
		registry:          registry,
		reader:            reader,
		death:             death,
		resolver:          resolver,
		relRepo:           relRepo,
		relationshipCodes: relationshipCodes,
		showRelationships: showRelationships,
		log:               log,
	}
}

// EditSession is the model handed to the edit form: the patient, the
// snapshots later used for change detection, the free-text cause of death
// shown when the coded cause is the "other" sentinel, and the relationship
// slots.
type EditSession struct {
	Patient           *Patient              `json:"patient"`
	NameCache         *Name                 `json:"name_cache"`
	AddressCache      *Address              `json:"address_cache"`
	CauseOfDeathOther string                `json:"cause_of_death_other"`
	Relationships     *relationship.SlotMap `json:"-"`
}

// BeginEdit loads a patient and snapshots its preferred name and address so
// the save can tell whether they were edited.
func (s *Service) BeginEdit(ctx context.Context, id uuid.UUID) (*EditSession, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading patient %s: %w", id, err)
	}

	session := &EditSession{Patient: p, NameCache: &Name{}, AddressCache: &Address{}}
	if n := p.PreferredName(); n != nil && n.Persisted() {
		session.NameCache = n.Clone()
	}
	if a := p.PreferredAddress(); a != nil && a.Persisted() {
		session.AddressCache = a.Clone()
	}

	other, err := s.death.OtherText(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	session.CauseOfDeathOther = other

	slots, err := s.resolver.Resolve(ctx, p.ID, s.relationshipCodes, s.showRelationships, nil)
	if err != nil {
		return nil, err
	}
	session.Relationships = slots

	return session, nil
}

// SaveInput is one save transaction's worth of form data plus the
// edit-session snapshots.
type SaveInput struct {
	Patient     *Patient
	Name        *Name
	Address     *Address
	Identifiers []*Identifier
	Attributes  []*Attribute

	NameCache    *Name
	AddressCache *Address

	CauseOfDeathOtherText string
	// RelationshipChoices maps compact codes to chosen counterpart ids.
	RelationshipChoices map[string]string

	Actor string
}

// SaveResult reports the outcome of a save. Changed tells the caller
// whether void-and-replace already created new history, in which case a
// failed save must not be retried by re-submitting the same form.
type SaveResult struct {
	Patient          *Patient        `json:"patient"`
	Changed          bool            `json:"changed"`
	PotentialMatches json.RawMessage `json:"potential_matches,omitempty"`
}

// Save runs the full reconciliation pipeline. Validation failures abort
// before any mutation or network call. Registry failures are invisible
// here beyond an empty PotentialMatches. A persistence failure after
// reconciliation surfaces as a PersistenceError carrying the Changed flag.
func (s *Service) Save(ctx context.Context, in SaveInput) (*SaveResult, error) {
	now := time.Now()
	p := in.Patient

	s.applyFormData(p, in, now)

	if err := Validate(p, now); err != nil {
		return nil, err
	}

	// Relationship resolution is read-only; a bad counterpart submission
	// aborts while resubmission is still safe.
	slots, err := s.resolver.Resolve(ctx, p.ID, s.relationshipCodes, s.showRelationships, in.RelationshipChoices)
	if err != nil {
		return nil, &ValidationError{Fields: map[string]string{"relationships": err.Error()}}
	}

	changed := s.versioner.Reconcile(p, in.NameCache, in.AddressCache, in.Actor, now)

	resource, _ := s.translator.ToResource(p)
	matches := s.registry.FindMatches(ctx, resource)

	result := &SaveResult{Patient: p, Changed: changed, PotentialMatches: matches}

	if err := s.repo.Save(ctx, p); err != nil {
		s.log.Error().Err(err).Str("patient_id", p.ID.String()).Msg("saving patient failed")
		return result, &PersistenceError{Err: err, Mutated: changed}
	}

	if err := s.death.Sync(ctx, observation.Subject{
		PatientID:    p.ID,
		Deceased:     p.Deceased,
		DeathDate:    p.DeathDate,
		CauseOfDeath: p.CauseOfDeath,
	}, in.CauseOfDeathOtherText, now); err != nil {
		s.log.Error().Err(err).Str("patient_id", p.ID.String()).Msg("syncing cause-of-death observation failed")
		return result, &PersistenceError{Err: err, Mutated: changed}
	}

	if !p.Voided {
		for _, code := range slots.Keys() {
			rel := slots.Get(code)
			if !rel.Complete() {
				continue
			}
			if rel.Creator == "" {
				rel.Creator = in.Actor
			}
			if err := s.relRepo.Save(ctx, rel); err != nil {
				s.log.Error().Err(err).Str("code", code).Msg("saving relationship failed")
				return result, &PersistenceError{Err: err, Mutated: changed}
			}
		}
	}

	return result, nil
}

// applyFormData folds the submitted collections into the patient record,
// applying the intake edge cases: a brand-new voided address or identifier
// is an add-then-remove no-op and never attaches; a voided address missing
// a reason gets the default one.
func (s *Service) applyFormData(p *Patient, in SaveInput, now time.Time) {
	if in.Name != nil {
		in.Name.Preferred = true
		p.AddName(in.Name)
	}

	if addr := in.Address; addr != nil {
		if addr.Voided && strings.TrimSpace(addr.VoidReason) == "" {
			addr.VoidReason = defaultVoidReason
		}
		if !(addr.Voided && !addr.Persisted()) {
			addr.Preferred = true
			p.AddAddress(addr)
		}
	}

	for _, id := range in.Identifiers {
		if !id.Persisted() && id.Voided {
			continue
		}
		p.AddIdentifier(id)
	}

	ReconcileAttributes(p, in.Attributes, in.Actor, now)
}

// Import builds a local draft patient from a record the registry holds.
// The draft is returned unsaved so the operator can review it on the edit
// form before committing.
func (s *Service) Import(ctx context.Context, registryID string, actor string) (*Patient, error) {
	resource, err := s.reader.FetchPatient(ctx, registryID)
	if err != nil {
		return nil, fmt.Errorf("fetching registry record %s: %w", registryID, err)
	}
	return s.translator.FromResource(resource, actor, time.Now()), nil
}

// NewDraft returns an empty patient for the create flow.
func (s *Service) NewDraft() *Patient {
	return &Patient{}
}

// Load fetches a patient by surrogate id.
func (s *Service) Load(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}
