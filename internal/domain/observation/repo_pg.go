package observation

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type observationRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &observationRepoPG{pool: pool}
}

func (r *observationRepoPG) ListByPatientAndConcept(ctx context.Context, patientID, conceptID uuid.UUID) ([]*Observation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, patient_id, concept_id, value_coded, value_coded_name, value_text,
			effective_at, change_reason, creator, created_at
		FROM observation
		WHERE patient_id = $1 AND concept_id = $2
		ORDER BY created_at`, patientID, conceptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Observation
	for rows.Next() {
		var o Observation
		if err := rows.Scan(&o.ID, &o.PatientID, &o.ConceptID, &o.ValueCoded, &o.ValueCodedName, &o.ValueText,
			&o.EffectiveAt, &o.ChangeReason, &o.Creator, &o.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &o)
	}
	return items, rows.Err()
}

func (r *observationRepoPG) Save(ctx context.Context, o *Observation, reason string) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
		_, err := r.pool.Exec(ctx, `
			INSERT INTO observation (id, patient_id, concept_id, value_coded, value_coded_name,
				value_text, effective_at, change_reason, creator)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			o.ID, o.PatientID, o.ConceptID, o.ValueCoded, o.ValueCodedName,
			o.ValueText, o.EffectiveAt, reason, o.Creator)
		return err
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE observation SET value_coded=$2, value_coded_name=$3, value_text=$4,
			effective_at=$5, change_reason=$6
		WHERE id = $1`,
		o.ID, o.ValueCoded, o.ValueCodedName, o.ValueText, o.EffectiveAt, reason)
	return err
}

// ConceptRepoPG resolves concepts from the concept table by UUID or by
// short code.
type ConceptRepoPG struct{ pool *pgxpool.Pool }

func NewConceptRepoPG(pool *pgxpool.Pool) *ConceptRepoPG {
	return &ConceptRepoPG{pool: pool}
}

func (r *ConceptRepoPG) GetConcept(ctx context.Context, ref string) (*Concept, error) {
	if ref == "" {
		return nil, nil
	}
	var c Concept
	var err error
	if id, parseErr := uuid.Parse(ref); parseErr == nil {
		err = r.pool.QueryRow(ctx, `SELECT id, name FROM concept WHERE id = $1`, id).Scan(&c.ID, &c.Name)
	} else {
		err = r.pool.QueryRow(ctx, `SELECT id, name FROM concept WHERE code = $1`, ref).Scan(&c.ID, &c.Name)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
