// Package relationship resolves the compact relationship codes shown on
// the patient edit form ("3a", "7b") into concrete or stub relationship
// records.
package relationship

import (
	"time"

	"github.com/google/uuid"
)

// Relationship links two persons through a typed, directional association.
// A stub relationship has only one side bound, pending the other side being
// supplied by the user.
type Relationship struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	TypeID    int        `db:"type_id" json:"type_id"`
	PersonA   *uuid.UUID `db:"person_a" json:"person_a,omitempty"`
	PersonB   *uuid.UUID `db:"person_b" json:"person_b,omitempty"`
	Voided    bool       `db:"voided" json:"voided"`
	Creator   string     `db:"creator" json:"creator,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// Complete reports whether both sides of the relationship are bound.
func (r *Relationship) Complete() bool {
	return r.PersonA != nil && r.PersonB != nil
}

// SlotMap is an insertion-ordered mapping from compact code to relationship,
// so form redisplay iterates slots in the order configuration listed them.
type SlotMap struct {
	keys  []string
	slots map[string]*Relationship
}

func NewSlotMap() *SlotMap {
	return &SlotMap{slots: make(map[string]*Relationship)}
}

// Put binds code to rel, appending the code on first insertion.
func (m *SlotMap) Put(code string, rel *Relationship) {
	if _, ok := m.slots[code]; !ok {
		m.keys = append(m.keys, code)
	}
	m.slots[code] = rel
}

// Get returns the relationship bound to code, or nil.
func (m *SlotMap) Get(code string) *Relationship {
	return m.slots[code]
}

// Keys returns the codes in insertion order.
func (m *SlotMap) Keys() []string {
	return append([]string(nil), m.keys...)
}

// Len returns the number of slots.
func (m *SlotMap) Len() int {
	return len(m.keys)
}
