package patient

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Versioner detects whether the preferred name or address was edited during
// the session and, when it was, freezes the old entry as voided history and
// carries the edit forward into a brand-new entry. The comparison runs
// against a snapshot taken when the edit session began.
type Versioner struct {
	log zerolog.Logger
}

func NewVersioner(log zerolog.Logger) *Versioner {
	return &Versioner{log: log}
}

// Reconcile applies void-and-replace to the patient's preferred name and
// address against their session snapshots. It returns true when either was
// edited, meaning new entities were created and the old ones voided; the
// orchestrator uses this to decide whether a later persistence failure is
// safe to retry by redisplaying the form.
func (v *Versioner) Reconcile(p *Patient, nameCache *Name, addrCache *Address, actor string, now time.Time) bool {
	changed := v.reconcileName(p, nameCache, actor, now)
	if v.reconcileAddress(p, addrCache, actor, now) {
		changed = true
	}
	return changed
}

func (v *Versioner) reconcileName(p *Patient, cached *Name, actor string, now time.Time) bool {
	current := p.PreferredName()
	if current == nil || cached == nil || !cached.Persisted() {
		return false
	}
	if strings.EqualFold(current.Full(), cached.Full()) {
		return false
	}

	v.log.Debug().
		Str("name_id", current.ID.String()).
		Str("new_name", current.Full()).
		Msg("voiding edited name and replacing it")

	// Clone the edited entry as the replacement, with a fresh identity and
	// clean audit-of-change fields.
	replacement := current.Clone()
	replacement.ID = uuid.Nil
	replacement.ChangedBy = ""
	replacement.ChangedAt = nil
	replacement.Creator = actor
	replacement.CreatedAt = now

	// Restore the snapshot onto the current entry so the voided record
	// preserves the values it held before the edit, then freeze it.
	current.Given = cached.Given
	current.Middle = cached.Middle
	current.Family = cached.Family
	current.Preferred = false
	current.Voided = true
	current.VoidReason = fmt.Sprintf("voided because it was edited to: %s", replacement.Full())

	replacement.Preferred = true
	p.AddName(replacement)
	return true
}

func (v *Versioner) reconcileAddress(p *Patient, cached *Address, actor string, now time.Time) bool {
	current := p.PreferredAddress()
	if current == nil || cached == nil || !cached.Persisted() {
		return false
	}
	// An entirely blank side means there is nothing to compare.
	if current.Blank() || cached.Blank() {
		return false
	}
	if current.EqualContent(cached) {
		return false
	}

	v.log.Debug().
		Str("address_id", current.ID.String()).
		Str("new_address", current.String()).
		Msg("voiding edited address and replacing it")

	replacement := current.Clone()
	replacement.ID = uuid.Nil
	replacement.ChangedBy = ""
	replacement.ChangedAt = nil
	replacement.Creator = actor
	replacement.CreatedAt = now

	current.Line1 = cached.Line1
	current.Line2 = cached.Line2
	current.Line3 = cached.Line3
	current.CityVillage = cached.CityVillage
	current.CountyDistrict = cached.CountyDistrict
	current.StateProvince = cached.StateProvince
	current.PostalCode = cached.PostalCode
	current.Country = cached.Country
	current.Latitude = cached.Latitude
	current.Longitude = cached.Longitude
	current.Preferred = false
	current.Voided = true
	current.VoidReason = fmt.Sprintf("voided because it was edited to: %s", replacement.String())

	replacement.Preferred = true
	p.AddAddress(replacement)
	return true
}
