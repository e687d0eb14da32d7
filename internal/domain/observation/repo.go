package observation

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence seam for observations.
type Repository interface {
	ListByPatientAndConcept(ctx context.Context, patientID, conceptID uuid.UUID) ([]*Observation, error)
	// Save persists the observation with an audit reason for the change.
	Save(ctx context.Context, o *Observation, reason string) error
}

// ConceptLookup resolves a configured concept reference (a UUID or a code)
// to a concept. A nil result with nil error means the reference does not
// resolve, which callers treat as a configuration gap.
type ConceptLookup interface {
	GetConcept(ctx context.Context, ref string) (*Concept, error)
}
