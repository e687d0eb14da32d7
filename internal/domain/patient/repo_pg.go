package patient

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &patientRepoPG{pool: pool}
}

const patientCols = `id, fhir_id, gender, birth_date, birthdate_estimated,
	deceased, death_date, cause_of_death, voided, creator, created_at, changed_by, changed_at`

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.FHIRID == "" {
		p.FHIRID = p.ID.String()
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO patient (id, fhir_id, gender, birth_date, birthdate_estimated,
				deceased, death_date, cause_of_death, voided, creator)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			p.ID, p.FHIRID, p.Gender, p.BirthDate, p.BirthdateEstimated,
			p.Deceased, p.DeathDate, p.CauseOfDeath, p.Voided, p.Creator)
		if err != nil {
			return err
		}
		return r.saveCollections(ctx, tx, p)
	})
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.load(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id)
}

func (r *patientRepoPG) GetByFHIRID(ctx context.Context, fhirID string) (*Patient, error) {
	return r.load(ctx, `SELECT `+patientCols+` FROM patient WHERE fhir_id = $1`, fhirID)
}

func (r *patientRepoPG) load(ctx context.Context, query string, arg interface{}) (*Patient, error) {
	var p Patient
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&p.ID, &p.FHIRID, &p.Gender, &p.BirthDate, &p.BirthdateEstimated,
		&p.Deceased, &p.DeathDate, &p.CauseOfDeath, &p.Voided,
		&p.Creator, &p.CreatedAt, &p.ChangedBy, &p.ChangedAt)
	if err != nil {
		return nil, err
	}
	if err := r.loadCollections(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *patientRepoPG) loadCollections(ctx context.Context, p *Patient) error {
	rows, err := r.pool.Query(ctx, `
		SELECT id, given, middle, family, preferred, voided, void_reason,
			creator, created_at, changed_by, changed_at
		FROM person_name WHERE patient_id = $1 ORDER BY created_at`, p.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var n Name
		if err := rows.Scan(&n.ID, &n.Given, &n.Middle, &n.Family, &n.Preferred, &n.Voided, &n.VoidReason,
			&n.Creator, &n.CreatedAt, &n.ChangedBy, &n.ChangedAt); err != nil {
			rows.Close()
			return err
		}
		p.Names = append(p.Names, &n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = r.pool.Query(ctx, `
		SELECT id, line1, line2, line3, city_village, county_district, state_province,
			postal_code, country, latitude, longitude, preferred, voided, void_reason,
			creator, created_at, changed_by, changed_at
		FROM person_address WHERE patient_id = $1 ORDER BY created_at`, p.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var a Address
		if err := rows.Scan(&a.ID, &a.Line1, &a.Line2, &a.Line3, &a.CityVillage, &a.CountyDistrict,
			&a.StateProvince, &a.PostalCode, &a.Country, &a.Latitude, &a.Longitude,
			&a.Preferred, &a.Voided, &a.VoidReason,
			&a.Creator, &a.CreatedAt, &a.ChangedBy, &a.ChangedAt); err != nil {
			rows.Close()
			return err
		}
		p.Addresses = append(p.Addresses, &a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = r.pool.Query(ctx, `
		SELECT id, type_id, value, voided, void_reason, creator, created_at
		FROM person_attribute WHERE patient_id = $1 ORDER BY created_at`, p.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var a Attribute
		if err := rows.Scan(&a.ID, &a.TypeID, &a.Value, &a.Voided, &a.VoidReason, &a.Creator, &a.CreatedAt); err != nil {
			rows.Close()
			return err
		}
		p.Attributes = append(p.Attributes, &a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = r.pool.Query(ctx, `
		SELECT id, value, type_id, location_id, preferred, voided, creator, created_at
		FROM patient_identifier WHERE patient_id = $1 ORDER BY created_at`, p.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var i Identifier
		if err := rows.Scan(&i.ID, &i.Value, &i.TypeID, &i.LocationID, &i.Preferred, &i.Voided, &i.Creator, &i.CreatedAt); err != nil {
			rows.Close()
			return err
		}
		p.Identifiers = append(p.Identifiers, &i)
	}
	rows.Close()
	return rows.Err()
}

// Save writes the whole patient graph in one transaction so void-and-replace
// is atomic with respect to concurrent edits of the same patient.
func (r *patientRepoPG) Save(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		return r.Create(ctx, p)
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE patient SET gender=$2, birth_date=$3, birthdate_estimated=$4,
				deceased=$5, death_date=$6, cause_of_death=$7, voided=$8,
				changed_by=$9, changed_at=NOW()
			WHERE id = $1`,
			p.ID, p.Gender, p.BirthDate, p.BirthdateEstimated,
			p.Deceased, p.DeathDate, p.CauseOfDeath, p.Voided, p.ChangedBy)
		if err != nil {
			return err
		}
		return r.saveCollections(ctx, tx, p)
	})
}

func (r *patientRepoPG) saveCollections(ctx context.Context, tx pgx.Tx, p *Patient) error {
	for _, n := range p.Names {
		if err := upsertName(ctx, tx, p.ID, n); err != nil {
			return fmt.Errorf("saving name: %w", err)
		}
	}
	for _, a := range p.Addresses {
		if err := upsertAddress(ctx, tx, p.ID, a); err != nil {
			return fmt.Errorf("saving address: %w", err)
		}
	}
	for _, a := range p.Attributes {
		if err := upsertAttribute(ctx, tx, p.ID, a); err != nil {
			return fmt.Errorf("saving attribute: %w", err)
		}
	}
	for _, i := range p.Identifiers {
		if err := upsertIdentifier(ctx, tx, p.ID, i); err != nil {
			return fmt.Errorf("saving identifier: %w", err)
		}
	}
	return nil
}

func upsertName(ctx context.Context, tx pgx.Tx, patientID uuid.UUID, n *Name) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO person_name (id, patient_id, given, middle, family, preferred,
				voided, void_reason, creator)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			n.ID, patientID, n.Given, n.Middle, n.Family, n.Preferred,
			n.Voided, n.VoidReason, n.Creator)
		return err
	}
	// Only flags and the void reason change on a persisted name; content
	// edits were redirected into a replacement entry upstream.
	_, err := tx.Exec(ctx, `
		UPDATE person_name SET given=$2, middle=$3, family=$4, preferred=$5,
			voided=$6, void_reason=$7, changed_by=$8, changed_at=NOW()
		WHERE id = $1`,
		n.ID, n.Given, n.Middle, n.Family, n.Preferred, n.Voided, n.VoidReason, n.ChangedBy)
	return err
}

func upsertAddress(ctx context.Context, tx pgx.Tx, patientID uuid.UUID, a *Address) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO person_address (id, patient_id, line1, line2, line3, city_village,
				county_district, state_province, postal_code, country, latitude, longitude,
				preferred, voided, void_reason, creator)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			a.ID, patientID, a.Line1, a.Line2, a.Line3, a.CityVillage,
			a.CountyDistrict, a.StateProvince, a.PostalCode, a.Country, a.Latitude, a.Longitude,
			a.Preferred, a.Voided, a.VoidReason, a.Creator)
		return err
	}
	_, err := tx.Exec(ctx, `
		UPDATE person_address SET line1=$2, line2=$3, line3=$4, city_village=$5,
			county_district=$6, state_province=$7, postal_code=$8, country=$9,
			latitude=$10, longitude=$11, preferred=$12, voided=$13, void_reason=$14,
			changed_by=$15, changed_at=NOW()
		WHERE id = $1`,
		a.ID, a.Line1, a.Line2, a.Line3, a.CityVillage,
		a.CountyDistrict, a.StateProvince, a.PostalCode, a.Country,
		a.Latitude, a.Longitude, a.Preferred, a.Voided, a.VoidReason, a.ChangedBy)
	return err
}

func upsertAttribute(ctx context.Context, tx pgx.Tx, patientID uuid.UUID, a *Attribute) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO person_attribute (id, patient_id, type_id, value, voided, void_reason, creator)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			a.ID, patientID, a.TypeID, a.Value, a.Voided, a.VoidReason, a.Creator)
		return err
	}
	_, err := tx.Exec(ctx, `
		UPDATE person_attribute SET voided=$2, void_reason=$3 WHERE id = $1`,
		a.ID, a.Voided, a.VoidReason)
	return err
}

func upsertIdentifier(ctx context.Context, tx pgx.Tx, patientID uuid.UUID, i *Identifier) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO patient_identifier (id, patient_id, value, type_id, location_id,
				preferred, voided, creator)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			i.ID, patientID, i.Value, i.TypeID, i.LocationID, i.Preferred, i.Voided, i.Creator)
		return err
	}
	_, err := tx.Exec(ctx, `
		UPDATE patient_identifier SET value=$2, type_id=$3, location_id=$4, preferred=$5, voided=$6
		WHERE id = $1`,
		i.ID, i.Value, i.TypeID, i.LocationID, i.Preferred, i.Voided)
	return err
}

func (r *patientRepoPG) PersonExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patient WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}
