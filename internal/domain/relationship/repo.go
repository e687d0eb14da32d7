package relationship

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence seam for relationships.
type Repository interface {
	// ListBySide returns active relationships of the given type where the
	// person occupies the named side ("a" or "b").
	ListBySide(ctx context.Context, personID uuid.UUID, side string, typeID int) ([]*Relationship, error)
	Save(ctx context.Context, r *Relationship) error
}

// PersonLookup verifies that a person submitted as a relationship
// counterpart actually exists.
type PersonLookup interface {
	PersonExists(ctx context.Context, id uuid.UUID) (bool, error)
}
