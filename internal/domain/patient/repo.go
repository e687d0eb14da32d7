package patient

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence seam for the patient graph. Save must make
// the void-and-replace of names, addresses and attributes atomic with
// respect to concurrent edits of the same patient.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByFHIRID(ctx context.Context, fhirID string) (*Patient, error)
	// Save persists the patient and its owned collections in one
	// transaction.
	Save(ctx context.Context, p *Patient) error
	PersonExists(ctx context.Context, id uuid.UUID) (bool, error)
}
