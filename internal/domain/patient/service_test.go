package patient

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/reconciler/internal/domain/observation"
	"github.com/ehr/reconciler/internal/domain/relationship"
	"github.com/ehr/reconciler/internal/platform/fhir"
)

// -- Mock Repository --

type mockRepo struct {
	patients  map[uuid.UUID]*Patient
	saveErr   error
	saveCalls int
}

func newMockRepo() *mockRepo {
	return &mockRepo{patients: make(map[uuid.UUID]*Patient)}
}

func (m *mockRepo) Create(_ context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.patients[p.ID] = p
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return p, nil
}

func (m *mockRepo) GetByFHIRID(_ context.Context, fhirID string) (*Patient, error) {
	for _, p := range m.patients {
		if p.FHIRID == fhirID {
			return p, nil
		}
	}
	return nil, fmt.Errorf("not found")
}

func (m *mockRepo) Save(_ context.Context, p *Patient) error {
	m.saveCalls++
	if m.saveErr != nil {
		return m.saveErr
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.patients[p.ID] = p
	return nil
}

func (m *mockRepo) PersonExists(_ context.Context, id uuid.UUID) (bool, error) {
	_, ok := m.patients[id]
	return ok, nil
}

// -- Mock Registry --

type mockMatcher struct {
	matches json.RawMessage
	calls   int
}

func (m *mockMatcher) FindMatches(_ context.Context, _ *fhir.Patient) json.RawMessage {
	m.calls++
	return m.matches
}

type mockReader struct {
	resource *fhir.Patient
	err      error
}

func (m *mockReader) FetchPatient(_ context.Context, _ string) (*fhir.Patient, error) {
	return m.resource, m.err
}

// -- Mock observation collaborators --

type mockObsRepo struct {
	observations []*observation.Observation
	saved        []*observation.Observation
}

func (m *mockObsRepo) ListByPatientAndConcept(_ context.Context, patientID, conceptID uuid.UUID) ([]*observation.Observation, error) {
	var out []*observation.Observation
	for _, o := range m.observations {
		if o.PatientID == patientID && o.ConceptID == conceptID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockObsRepo) Save(_ context.Context, o *observation.Observation, _ string) error {
	m.saved = append(m.saved, o)
	return nil
}

type mockConcepts struct {
	concepts map[string]*observation.Concept
}

func (m *mockConcepts) GetConcept(_ context.Context, ref string) (*observation.Concept, error) {
	return m.concepts[ref], nil
}

// -- Mock relationship repository --

type mockRelRepo struct {
	relationships []*relationship.Relationship
	saved         []*relationship.Relationship
}

func (m *mockRelRepo) ListBySide(_ context.Context, personID uuid.UUID, side string, typeID int) ([]*relationship.Relationship, error) {
	var out []*relationship.Relationship
	for _, r := range m.relationships {
		if r.Voided || r.TypeID != typeID {
			continue
		}
		if side == "a" && r.PersonA != nil && *r.PersonA == personID {
			out = append(out, r)
		}
		if side == "b" && r.PersonB != nil && *r.PersonB == personID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRelRepo) Save(_ context.Context, r *relationship.Relationship) error {
	m.saved = append(m.saved, r)
	return nil
}

// -- Fixture --

type serviceFixture struct {
	svc      *Service
	repo     *mockRepo
	matcher  *mockMatcher
	reader   *mockReader
	obsRepo  *mockObsRepo
	concepts *mockConcepts
	relRepo  *mockRelRepo
}

func newServiceFixture(relationshipCodes string, showRelationships bool) *serviceFixture {
	f := &serviceFixture{
		repo:    newMockRepo(),
		matcher: &mockMatcher{},
		reader:  &mockReader{},
		obsRepo: &mockObsRepo{},
		concepts: &mockConcepts{concepts: map[string]*observation.Concept{
			"cause-of-death": {ID: uuid.New(), Name: "CAUSE OF DEATH"},
			"none":           {ID: uuid.New(), Name: "NONE"},
			"other":          {ID: uuid.New(), Name: "OTHER NON-CODED"},
		}},
		relRepo: &mockRelRepo{},
	}

	death := observation.NewDeathSynchronizer(f.obsRepo, f.concepts, observation.SyncConfig{
		CauseOfDeathConcept:  "cause-of-death",
		NoneConcept:          "none",
		OtherNonCodedConcept: "other",
	}, zerolog.Nop())

	resolver := relationship.NewResolver(f.relRepo, f.repo, zerolog.Nop())

	f.svc = NewService(
		f.repo,
		NewTranslator(TranslatorConfig{}, zerolog.Nop()),
		f.matcher,
		f.reader,
		death,
		resolver,
		f.relRepo,
		relationshipCodes,
		showRelationships,
		zerolog.Nop(),
	)
	return f
}

func (f *serviceFixture) existingPatient() *Patient {
	p := &Patient{
		ID:     uuid.New(),
		Gender: "F",
		Names:  []*Name{{ID: uuid.New(), Given: "Jane", Family: "Doe", Preferred: true}},
	}
	f.repo.patients[p.ID] = p
	return p
}

func saveInputFor(p *Patient) SaveInput {
	name := p.PreferredName()
	return SaveInput{
		Patient:   p,
		NameCache: name.Clone(),
		Actor:     "alice",
	}
}

// -- Tests --

func TestSave_ValidationAbortsBeforeAnySideEffect(t *testing.T) {
	f := newServiceFixture("", false)
	p := f.existingPatient()
	p.Gender = ""

	_, err := f.svc.Save(context.Background(), saveInputFor(p))

	if _, ok := AsValidationError(err); !ok {
		t.Fatalf("expected a validation error, got %v", err)
	}
	if f.matcher.calls != 0 {
		t.Error("expected no registry call on validation failure")
	}
	if f.repo.saveCalls != 0 {
		t.Error("expected no persistence on validation failure")
	}
}

func TestSave_RegistryFailureIsInvisible(t *testing.T) {
	f := newServiceFixture("", false)
	p := f.existingPatient()
	f.matcher.matches = nil // the client swallows failures and returns nil

	result, err := f.svc.Save(context.Background(), saveInputFor(p))

	if err != nil {
		t.Fatalf("expected the save to succeed, got %v", err)
	}
	if f.matcher.calls != 1 {
		t.Errorf("expected one matching attempt, got %d", f.matcher.calls)
	}
	if result.PotentialMatches != nil {
		t.Error("expected empty potential matches")
	}
}

func TestSave_PotentialMatchesReturned(t *testing.T) {
	f := newServiceFixture("", false)
	p := f.existingPatient()
	f.matcher.matches = json.RawMessage(`{"total":2}`)

	result, err := f.svc.Save(context.Background(), saveInputFor(p))

	if err != nil {
		t.Fatalf("expected the save to succeed, got %v", err)
	}
	if string(result.PotentialMatches) != `{"total":2}` {
		t.Errorf("expected matches passed through, got %s", result.PotentialMatches)
	}
}

func TestSave_PersistenceFailureAfterMutation(t *testing.T) {
	f := newServiceFixture("", false)
	p := f.existingPatient()
	f.repo.saveErr = fmt.Errorf("connection reset")

	in := saveInputFor(p)
	p.PreferredName().Given = "Janet" // edit that triggers void-and-replace

	result, err := f.svc.Save(context.Background(), in)

	pe, ok := AsPersistenceError(err)
	if !ok {
		t.Fatalf("expected a persistence error, got %v", err)
	}
	if !pe.Mutated {
		t.Error("expected the error to flag that history was already rewritten")
	}
	if result == nil || !result.Changed {
		t.Error("expected the result to carry the changed flag")
	}
}

func TestSave_PersistenceFailureWithoutMutation(t *testing.T) {
	f := newServiceFixture("", false)
	p := f.existingPatient()
	f.repo.saveErr = fmt.Errorf("connection reset")

	_, err := f.svc.Save(context.Background(), saveInputFor(p))

	pe, ok := AsPersistenceError(err)
	if !ok {
		t.Fatalf("expected a persistence error, got %v", err)
	}
	if pe.Mutated {
		t.Error("expected an unedited save to be safe to redisplay")
	}
}

func TestSave_EditedNameProducesVoidedHistory(t *testing.T) {
	f := newServiceFixture("", false)
	p := f.existingPatient()
	original := p.PreferredName()
	originalID := original.ID

	in := saveInputFor(p)
	original.Given = "Janet"

	result, err := f.svc.Save(context.Background(), in)
	if err != nil {
		t.Fatalf("expected the save to succeed, got %v", err)
	}
	if !result.Changed {
		t.Error("expected the edit to be reported")
	}

	var voided, active *Name
	for _, n := range p.Names {
		if n.ID == originalID {
			voided = n
		} else if !n.Voided {
			active = n
		}
	}
	if voided == nil || !voided.Voided {
		t.Fatal("expected the original name voided")
	}
	if voided.Given != "Jane" {
		t.Errorf("expected the voided entry restored to its snapshot, got %q", voided.Given)
	}
	if active == nil || active.Given != "Janet" || !active.Preferred {
		t.Errorf("expected an active replacement carrying the edit, got %+v", active)
	}
}

func TestSave_NewVoidedAddressNeverAttaches(t *testing.T) {
	f := newServiceFixture("", false)
	p := f.existingPatient()

	in := saveInputFor(p)
	in.Address = &Address{Line1: "1 Main St", Voided: true}

	if _, err := f.svc.Save(context.Background(), in); err != nil {
		t.Fatalf("expected the save to succeed, got %v", err)
	}
	if len(p.Addresses) != 0 {
		t.Errorf("expected the add-then-remove address dropped, got %d", len(p.Addresses))
	}
}

func TestSave_VoidedAddressGetsDefaultReason(t *testing.T) {
	f := newServiceFixture("", false)
	p := f.existingPatient()
	addr := &Address{ID: uuid.New(), Line1: "1 Main St"}
	p.Addresses = []*Address{addr}

	in := saveInputFor(p)
	removed := addr.Clone()
	removed.Voided = true
	in.Address = removed
	in.AddressCache = addr.Clone()

	if _, err := f.svc.Save(context.Background(), in); err != nil {
		t.Fatalf("expected the save to succeed, got %v", err)
	}
	if removed.VoidReason != defaultVoidReason {
		t.Errorf("expected the default void reason, got %q", removed.VoidReason)
	}
}

func TestSave_DeceasedPatientGetsCauseObservation(t *testing.T) {
	f := newServiceFixture("", false)
	p := f.existingPatient()
	p.Deceased = true
	death := time.Now().Add(-24 * time.Hour)
	p.DeathDate = &death

	if _, err := f.svc.Save(context.Background(), saveInputFor(p)); err != nil {
		t.Fatalf("expected the save to succeed, got %v", err)
	}

	if len(f.obsRepo.saved) != 1 {
		t.Fatalf("expected one observation saved, got %d", len(f.obsRepo.saved))
	}
	obs := f.obsRepo.saved[0]
	none := f.concepts.concepts["none"]
	if obs.ValueCoded == nil || *obs.ValueCoded != none.ID {
		t.Error("expected the none sentinel as the coded cause")
	}
	if !obs.EffectiveAt.Equal(death) {
		t.Errorf("expected the death date as the effective time, got %v", obs.EffectiveAt)
	}
}

func TestSave_CompleteRelationshipsPersisted(t *testing.T) {
	f := newServiceFixture("3a", true)
	p := f.existingPatient()
	other := f.existingPatient()

	in := saveInputFor(p)
	in.RelationshipChoices = map[string]string{"3a": other.ID.String()}

	if _, err := f.svc.Save(context.Background(), in); err != nil {
		t.Fatalf("expected the save to succeed, got %v", err)
	}

	if len(f.relRepo.saved) != 1 {
		t.Fatalf("expected one relationship saved, got %d", len(f.relRepo.saved))
	}
	rel := f.relRepo.saved[0]
	if rel.PersonA == nil || *rel.PersonA != p.ID {
		t.Error("expected the subject on the A side for code 3a")
	}
	if rel.PersonB == nil || *rel.PersonB != other.ID {
		t.Error("expected the chosen counterpart on the B side")
	}
	if rel.Creator != "alice" {
		t.Errorf("expected the acting user as creator, got %q", rel.Creator)
	}
}

func TestSave_IncompleteRelationshipSlotSkipped(t *testing.T) {
	f := newServiceFixture("3a", true)
	p := f.existingPatient()

	if _, err := f.svc.Save(context.Background(), saveInputFor(p)); err != nil {
		t.Fatalf("expected the save to succeed, got %v", err)
	}
	if len(f.relRepo.saved) != 0 {
		t.Errorf("expected no half-filled relationship persisted, got %d", len(f.relRepo.saved))
	}
}

func TestSave_UnknownCounterpartFailsBeforeMutation(t *testing.T) {
	f := newServiceFixture("3a", true)
	p := f.existingPatient()

	in := saveInputFor(p)
	in.RelationshipChoices = map[string]string{"3a": uuid.New().String()}

	_, err := f.svc.Save(context.Background(), in)

	if _, ok := AsValidationError(err); !ok {
		t.Fatalf("expected a validation error, got %v", err)
	}
	if f.repo.saveCalls != 0 {
		t.Error("expected no persistence after a bad counterpart")
	}
}

func TestBeginEdit_SnapshotsPreferredEntries(t *testing.T) {
	f := newServiceFixture("", false)
	p := f.existingPatient()
	addr := &Address{ID: uuid.New(), Line1: "1 Main St", Preferred: true}
	p.Addresses = []*Address{addr}

	session, err := f.svc.BeginEdit(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("expected the edit to begin, got %v", err)
	}

	if session.NameCache.Full() != "Jane Doe" {
		t.Errorf("expected the preferred name snapshotted, got %q", session.NameCache.Full())
	}
	if session.AddressCache.Line1 != "1 Main St" {
		t.Errorf("expected the preferred address snapshotted, got %q", session.AddressCache.Line1)
	}

	// The snapshots are copies; editing the live entries must not touch them.
	p.PreferredName().Given = "Janet"
	if session.NameCache.Given != "Jane" {
		t.Error("expected the snapshot to be independent of the live name")
	}
}

func TestBeginEdit_OtherTextFromExistingObservation(t *testing.T) {
	f := newServiceFixture("", false)
	p := f.existingPatient()
	cause := f.concepts.concepts["cause-of-death"]
	f.obsRepo.observations = []*observation.Observation{{
		ID:        uuid.New(),
		PatientID: p.ID,
		ConceptID: cause.ID,
		ValueText: "accident",
	}}

	session, err := f.svc.BeginEdit(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("expected the edit to begin, got %v", err)
	}
	if session.CauseOfDeathOther != "accident" {
		t.Errorf("expected the stored free text, got %q", session.CauseOfDeathOther)
	}
}

func TestImport_BuildsUnsavedDraft(t *testing.T) {
	f := newServiceFixture("", false)
	f.reader.resource = &fhir.Patient{
		ID:     "reg-7",
		Gender: "female",
		Name:   []fhir.HumanName{{Family: "Doe", Given: []string{"Jane"}}},
	}

	draft, err := f.svc.Import(context.Background(), "reg-7", "alice")
	if err != nil {
		t.Fatalf("expected the import to succeed, got %v", err)
	}
	if draft.ID != uuid.Nil {
		t.Error("expected the draft to be unsaved")
	}
	if draft.FHIRID != "reg-7" {
		t.Errorf("expected the registry id retained, got %q", draft.FHIRID)
	}
	if f.repo.saveCalls != 0 {
		t.Error("expected no persistence during import")
	}
}

func TestImport_FetchFailurePropagates(t *testing.T) {
	f := newServiceFixture("", false)
	f.reader.err = fmt.Errorf("registry unreachable")

	if _, err := f.svc.Import(context.Background(), "reg-7", "alice"); err == nil {
		t.Fatal("expected the fetch failure to surface")
	}
}
