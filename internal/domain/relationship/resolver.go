package relationship

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Resolver maps the configured compact relationship codes onto concrete or
// stub relationships for a subject patient. A code like "3a" names
// relationship type 3 with the subject on the A side; "3b" puts the subject
// on the B side. The lookup direction is inverted relative to the suffix:
// a subject on the A side is surfaced through relationships where it is
// recorded as B, so the counterpart shows up on the open side.
type Resolver struct {
	repo    Repository
	persons PersonLookup
	log     zerolog.Logger
}

func NewResolver(repo Repository, persons PersonLookup, log zerolog.Logger) *Resolver {
	return &Resolver{repo: repo, persons: persons, log: log}
}

// Resolve builds the ordered slot map for the subject. codes is the
// comma-separated configuration string; show gates the whole feature;
// submitted carries counterpart person ids chosen on the form, keyed by
// compact code. A subject without an identity yields an empty map.
func (r *Resolver) Resolve(ctx context.Context, subjectID uuid.UUID, codes string, show bool, submitted map[string]string) (*SlotMap, error) {
	slots := NewSlotMap()
	if subjectID == uuid.Nil || !show {
		return slots, nil
	}

	codes = strings.TrimSpace(codes)
	if codes == "" {
		return slots, nil
	}

	for _, raw := range strings.Split(codes, ",") {
		code := strings.TrimSpace(raw)
		if code == "" {
			continue
		}

		subjectIsA := !strings.HasSuffix(code, "b")
		typeID, err := strconv.Atoi(strings.TrimRight(code, "ab"))
		if err != nil {
			return nil, fmt.Errorf("relationship code %q: %w", code, err)
		}

		rel, err := r.findExisting(ctx, subjectID, subjectIsA, typeID)
		if err != nil {
			return nil, err
		}
		if rel == nil {
			rel = r.stub(subjectID, subjectIsA, typeID)
		}
		slots.Put(code, rel)

		// A submitted counterpart overrides the other side of whichever
		// relationship occupies the slot.
		if chosen := submitted[code]; chosen != "" {
			if err := r.bindCounterpart(ctx, rel, subjectID, chosen); err != nil {
				return nil, err
			}
		}
	}

	return slots, nil
}

func (r *Resolver) findExisting(ctx context.Context, subjectID uuid.UUID, subjectIsA bool, typeID int) (*Relationship, error) {
	side := "b"
	if !subjectIsA {
		side = "a"
	}
	existing, err := r.repo.ListBySide(ctx, subjectID, side, typeID)
	if err != nil {
		return nil, fmt.Errorf("looking up relationships of type %d: %w", typeID, err)
	}
	if len(existing) == 0 {
		return nil, nil
	}
	// First match wins; the lookup may legitimately return several.
	return existing[0], nil
}

// stub builds a relationship with only the subject's side populated; the
// suffix names that side directly.
func (r *Resolver) stub(subjectID uuid.UUID, subjectIsA bool, typeID int) *Relationship {
	rel := &Relationship{TypeID: typeID}
	id := subjectID
	if subjectIsA {
		rel.PersonA = &id
	} else {
		rel.PersonB = &id
	}
	return rel
}

// bindCounterpart fills the side of the relationship not held by the
// subject with the submitted person, overwriting any previous counterpart.
func (r *Resolver) bindCounterpart(ctx context.Context, rel *Relationship, subjectID uuid.UUID, chosen string) error {
	personID, err := uuid.Parse(chosen)
	if err != nil {
		return fmt.Errorf("submitted counterpart %q: %w", chosen, err)
	}
	exists, err := r.persons.PersonExists(ctx, personID)
	if err != nil {
		return fmt.Errorf("looking up counterpart %s: %w", personID, err)
	}
	if !exists {
		return fmt.Errorf("counterpart person %s does not exist", personID)
	}
	if rel.PersonA != nil && *rel.PersonA == subjectID {
		rel.PersonB = &personID
	} else {
		rel.PersonA = &personID
	}
	return nil
}
