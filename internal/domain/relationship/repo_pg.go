package relationship

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type relationshipRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &relationshipRepoPG{pool: pool}
}

func (r *relationshipRepoPG) ListBySide(ctx context.Context, personID uuid.UUID, side string, typeID int) ([]*Relationship, error) {
	col := "person_b"
	if side == "a" {
		col = "person_a"
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, type_id, person_a, person_b, voided, creator, created_at
		FROM relationship
		WHERE `+col+` = $1 AND type_id = $2 AND NOT voided
		ORDER BY created_at`, personID, typeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Relationship
	for rows.Next() {
		var rel Relationship
		if err := rows.Scan(&rel.ID, &rel.TypeID, &rel.PersonA, &rel.PersonB, &rel.Voided, &rel.Creator, &rel.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &rel)
	}
	return items, rows.Err()
}

func (r *relationshipRepoPG) Save(ctx context.Context, rel *Relationship) error {
	if rel.ID == uuid.Nil {
		rel.ID = uuid.New()
		_, err := r.pool.Exec(ctx, `
			INSERT INTO relationship (id, type_id, person_a, person_b, voided, creator)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			rel.ID, rel.TypeID, rel.PersonA, rel.PersonB, rel.Voided, rel.Creator)
		return err
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE relationship SET type_id=$2, person_a=$3, person_b=$4, voided=$5
		WHERE id = $1`,
		rel.ID, rel.TypeID, rel.PersonA, rel.PersonB, rel.Voided)
	return err
}
