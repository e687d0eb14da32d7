package patient

import (
	"strings"
	"time"
)

// ReconcileAttributes folds the submitted attribute instances into the
// patient. Per attribute:
//
//   - a brand-new attribute with a blank value is dropped (the field was
//     left empty on the form),
//   - an existing attribute whose value changed is replaced by a fresh
//     unsaved attribute carrying the new value, so the persisted one keeps
//     its history and gets voided by the type-uniqueness rule,
//   - anything else is attached as-is.
//
// A persisted attribute is never mutated in place.
func ReconcileAttributes(p *Patient, submitted []*Attribute, actor string, now time.Time) {
	for _, attr := range submitted {
		if !attr.Persisted() && strings.TrimSpace(attr.Value) == "" {
			continue
		}

		if attr.Persisted() {
			if active := p.AttributeOfType(attr.TypeID); active != nil && active.Value != attr.Value {
				attr = &Attribute{
					TypeID:    attr.TypeID,
					Value:     attr.Value,
					Creator:   actor,
					CreatedAt: now,
				}
			}
		}

		p.AddAttribute(attr)
	}
}
