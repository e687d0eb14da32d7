// Package observation keeps the cause-of-death observation consistent with
// a patient's death state.
package observation

import (
	"time"

	"github.com/google/uuid"
)

// Observation is a coded clinical observation about a patient. For the
// cause-of-death concept at most one is expected per patient.
type Observation struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	PatientID      uuid.UUID  `db:"patient_id" json:"patient_id"`
	ConceptID      uuid.UUID  `db:"concept_id" json:"concept_id"`
	ValueCoded     *uuid.UUID `db:"value_coded" json:"value_coded,omitempty"`
	ValueCodedName string     `db:"value_coded_name" json:"value_coded_name,omitempty"`
	ValueText      string     `db:"value_text" json:"value_text,omitempty"`
	EffectiveAt    time.Time  `db:"effective_at" json:"effective_at"`
	ChangeReason   string     `db:"change_reason" json:"change_reason,omitempty"`
	Creator        string     `db:"creator" json:"creator,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// Concept is a coded vocabulary entry resolved through a ConceptLookup.
type Concept struct {
	ID   uuid.UUID `db:"id" json:"id"`
	Name string    `db:"name" json:"name"`
}
