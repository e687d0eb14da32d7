package relationship

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// -- Mock Repository --

type mockRepo struct {
	relationships []*Relationship
}

func (m *mockRepo) ListBySide(_ context.Context, personID uuid.UUID, side string, typeID int) ([]*Relationship, error) {
	var out []*Relationship
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

func (m *mockRepo) Save(_ context.Context, r *Relationship) error {
	m.relationships = append(m.relationships, r)
	return nil
}

type mockPersons struct {
	existing map[uuid.UUID]bool
}

func (m *mockPersons) PersonExists(_ context.Context, id uuid.UUID) (bool, error) {
	return m.existing[id], nil
}

func testResolver(repo *mockRepo, persons *mockPersons) *Resolver {
	if persons == nil {
		persons = &mockPersons{existing: map[uuid.UUID]bool{}}
	}
	return NewResolver(repo, persons, zerolog.Nop())
}

// -- Tests --

func TestResolve_EmptyWhenHiddenOrUnidentified(t *testing.T) {
	r := testResolver(&mockRepo{}, nil)
	subject := uuid.New()

	slots, err := r.Resolve(context.Background(), subject, "3a", false, nil)
	if err != nil || slots.Len() != 0 {
		t.Errorf("expected an empty map when hidden, got %d slots, err %v", slots.Len(), err)
	}

	slots, err = r.Resolve(context.Background(), uuid.Nil, "3a", true, nil)
	if err != nil || slots.Len() != 0 {
		t.Errorf("expected an empty map for a subject without identity, got %d slots, err %v", slots.Len(), err)
	}

	slots, err = r.Resolve(context.Background(), subject, " ", true, nil)
	if err != nil || slots.Len() != 0 {
		t.Errorf("expected an empty map for blank codes, got %d slots, err %v", slots.Len(), err)
	}
}

func TestResolve_StubBindsSubjectToNamedSide(t *testing.T) {
	r := testResolver(&mockRepo{}, nil)
	subject := uuid.New()

	slots, err := r.Resolve(context.Background(), subject, "3a,7b", true, nil)
	if err != nil {
		t.Fatalf("expected resolution to succeed, got %v", err)
	}
	if got := slots.Keys(); len(got) != 2 || got[0] != "3a" || got[1] != "7b" {
		t.Fatalf("expected configuration order preserved, got %v", got)
	}

	relA := slots.Get("3a")
	if relA.TypeID != 3 {
		t.Errorf("expected type 3, got %d", relA.TypeID)
	}
	if relA.PersonA == nil || *relA.PersonA != subject || relA.PersonB != nil {
		t.Errorf("expected the subject on the A side only, got %+v", relA)
	}

	relB := slots.Get("7b")
	if relB.TypeID != 7 {
		t.Errorf("expected type 7, got %d", relB.TypeID)
	}
	if relB.PersonB == nil || *relB.PersonB != subject || relB.PersonA != nil {
		t.Errorf("expected the subject on the B side only, got %+v", relB)
	}
}

func TestResolve_LookupDirectionIsInverted(t *testing.T) {
	subject := uuid.New()
	other := uuid.New()
	// The subject is stored on the B side; an "a"-suffixed slot surfaces
	// exactly this relationship.
	stored := &Relationship{ID: uuid.New(), TypeID: 3, PersonA: &other, PersonB: &subject}
	r := testResolver(&mockRepo{relationships: []*Relationship{stored}}, nil)

	slots, err := r.Resolve(context.Background(), subject, "3a", true, nil)
	if err != nil {
		t.Fatalf("expected resolution to succeed, got %v", err)
	}
	if got := slots.Get("3a"); got != stored {
		t.Errorf("expected the stored relationship surfaced, got %+v", got)
	}

	// The same relationship is invisible to the "b"-suffixed slot, which
	// looks for the subject stored as A.
	slots, err = r.Resolve(context.Background(), subject, "3b", true, nil)
	if err != nil {
		t.Fatalf("expected resolution to succeed, got %v", err)
	}
	if got := slots.Get("3b"); got == stored {
		t.Error("expected a fresh stub, not the stored relationship")
	}
}

func TestResolve_FirstExistingMatchWins(t *testing.T) {
	subject := uuid.New()
	first := &Relationship{ID: uuid.New(), TypeID: 3, PersonB: &subject}
	second := &Relationship{ID: uuid.New(), TypeID: 3, PersonB: &subject}
	r := testResolver(&mockRepo{relationships: []*Relationship{first, second}}, nil)

	slots, err := r.Resolve(context.Background(), subject, "3a", true, nil)
	if err != nil {
		t.Fatalf("expected resolution to succeed, got %v", err)
	}
	if slots.Get("3a") != first {
		t.Error("expected the first match to fill the slot")
	}
}

func TestResolve_SubmittedCounterpartFillsOpenSide(t *testing.T) {
	subject := uuid.New()
	counterpart := uuid.New()
	persons := &mockPersons{existing: map[uuid.UUID]bool{counterpart: true}}
	r := testResolver(&mockRepo{}, persons)

	slots, err := r.Resolve(context.Background(), subject, "7b", true, map[string]string{
		"7b": counterpart.String(),
	})
	if err != nil {
		t.Fatalf("expected resolution to succeed, got %v", err)
	}

	rel := slots.Get("7b")
	if rel.PersonB == nil || *rel.PersonB != subject {
		t.Error("expected the subject kept on the B side")
	}
	if rel.PersonA == nil || *rel.PersonA != counterpart {
		t.Error("expected the counterpart bound to the A side")
	}
	if !rel.Complete() {
		t.Error("expected a complete relationship")
	}
}

func TestResolve_SubmittedCounterpartOverridesExisting(t *testing.T) {
	subject := uuid.New()
	oldCounterpart := uuid.New()
	newCounterpart := uuid.New()
	stored := &Relationship{ID: uuid.New(), TypeID: 3, PersonA: &oldCounterpart, PersonB: &subject}
	persons := &mockPersons{existing: map[uuid.UUID]bool{newCounterpart: true}}
	r := testResolver(&mockRepo{relationships: []*Relationship{stored}}, persons)

	slots, err := r.Resolve(context.Background(), subject, "3a", true, map[string]string{
		"3a": newCounterpart.String(),
	})
	if err != nil {
		t.Fatalf("expected resolution to succeed, got %v", err)
	}

	rel := slots.Get("3a")
	if rel.PersonA == nil || *rel.PersonA != newCounterpart {
		t.Error("expected the submitted counterpart to replace the stored one")
	}
	if rel.PersonB == nil || *rel.PersonB != subject {
		t.Error("expected the subject side untouched")
	}
}

func TestResolve_InvalidInputs(t *testing.T) {
	subject := uuid.New()
	r := testResolver(&mockRepo{}, nil)

	if _, err := r.Resolve(context.Background(), subject, "xa", true, nil); err == nil {
		t.Error("expected a malformed code to fail")
	}

	if _, err := r.Resolve(context.Background(), subject, "3a", true, map[string]string{
		"3a": "not-a-uuid",
	}); err == nil {
		t.Error("expected an unparseable counterpart to fail")
	}

	if _, err := r.Resolve(context.Background(), subject, "3a", true, map[string]string{
		"3a": uuid.New().String(),
	}); err == nil {
		t.Error("expected an unknown counterpart to fail")
	}
}

func TestSlotMap_PreservesInsertionOrder(t *testing.T) {
	m := NewSlotMap()
	m.Put("7b", &Relationship{TypeID: 7})
	m.Put("3a", &Relationship{TypeID: 3})
	m.Put("1a", &Relationship{TypeID: 1})

	keys := m.Keys()
	if len(keys) != 3 || keys[0] != "7b" || keys[1] != "3a" || keys[2] != "1a" {
		t.Errorf("expected insertion order, got %v", keys)
	}
}
