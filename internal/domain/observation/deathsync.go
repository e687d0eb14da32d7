package observation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultChangeReason = "updated while saving patient demographics"

// Subject carries the death state of the patient being synchronized,
// decoupled from the full patient record.
type Subject struct {
	PatientID    uuid.UUID
	Deceased     bool
	DeathDate    *time.Time
	CauseOfDeath *uuid.UUID
}

// DeathSynchronizer keeps a single cause-of-death observation consistent
// with the patient's death state. Missing concept configuration degrades to
// a logged no-op rather than failing the save.
type DeathSynchronizer struct {
	repo     Repository
	concepts ConceptLookup

	causeOfDeathRef string
	noneRef         string
	otherRef        string

	log zerolog.Logger
}

// SyncConfig names the concept references the synchronizer works with.
type SyncConfig struct {
	CauseOfDeathConcept  string
	NoneConcept          string
	OtherNonCodedConcept string
}

func NewDeathSynchronizer(repo Repository, concepts ConceptLookup, cfg SyncConfig, log zerolog.Logger) *DeathSynchronizer {
	return &DeathSynchronizer{
		repo:            repo,
		concepts:        concepts,
		causeOfDeathRef: cfg.CauseOfDeathConcept,
		noneRef:         cfg.NoneConcept,
		otherRef:        cfg.OtherNonCodedConcept,
		log:             log,
	}
}

// Sync creates or updates the subject's cause-of-death observation.
// otherText is the free-text payload used when the cause resolves to the
// configured "other, non-coded" sentinel concept. A living subject is left
// untouched.
func (s *DeathSynchronizer) Sync(ctx context.Context, sub Subject, otherText string, now time.Time) error {
	if !sub.Deceased {
		return nil
	}

	causeConcept, err := s.concepts.GetConcept(ctx, s.causeOfDeathRef)
	if err != nil {
		return fmt.Errorf("resolving cause-of-death concept: %w", err)
	}
	if causeConcept == nil {
		s.log.Warn().Str("concept", s.causeOfDeathRef).Msg("cause-of-death concept not configured, skipping observation sync")
		return nil
	}

	existing, err := s.repo.ListByPatientAndConcept(ctx, sub.PatientID, causeConcept.ID)
	if err != nil {
		return fmt.Errorf("loading cause-of-death observations: %w", err)
	}
	if len(existing) > 1 {
		// More than one should not occur under correct operation; leave
		// the data alone and flag it.
		s.log.Warn().
			Str("patient_id", sub.PatientID.String()).
			Int("count", len(existing)).
			Msg("multiple cause-of-death observations found")
		return nil
	}

	var obs *Observation
	if len(existing) == 1 {
		obs = existing[0]
	} else {
		obs = &Observation{
			PatientID: sub.PatientID,
			ConceptID: causeConcept.ID,
			CreatedAt: now,
		}
	}

	currentCause, err := s.resolveCurrentCause(ctx, sub)
	if err != nil {
		return err
	}
	if currentCause == nil {
		s.log.Debug().Str("patient_id", sub.PatientID.String()).Msg("no cause of death resolves, skipping observation")
		return nil
	}

	causeID := currentCause.ID
	obs.ValueCoded = &causeID
	obs.ValueCodedName = currentCause.Name

	if sub.DeathDate != nil {
		obs.EffectiveAt = *sub.DeathDate
	} else {
		obs.EffectiveAt = now
	}

	if err := s.applyOtherText(ctx, obs, currentCause, otherText); err != nil {
		return err
	}

	if obs.ChangeReason == "" {
		obs.ChangeReason = defaultChangeReason
	}

	if err := s.repo.Save(ctx, obs, obs.ChangeReason); err != nil {
		return fmt.Errorf("saving cause-of-death observation: %w", err)
	}
	return nil
}

// OtherText returns the free-text payload of the patient's existing
// cause-of-death observation, for redisplaying the "other" field on the
// edit form. Zero or multiple observations, or missing concept
// configuration, yield an empty string.
func (s *DeathSynchronizer) OtherText(ctx context.Context, patientID uuid.UUID) (string, error) {
	causeConcept, err := s.concepts.GetConcept(ctx, s.causeOfDeathRef)
	if err != nil {
		return "", fmt.Errorf("resolving cause-of-death concept: %w", err)
	}
	if causeConcept == nil {
		s.log.Debug().Str("concept", s.causeOfDeathRef).Msg("no cause-of-death concept configured")
		return "", nil
	}
	existing, err := s.repo.ListByPatientAndConcept(ctx, patientID, causeConcept.ID)
	if err != nil {
		return "", fmt.Errorf("loading cause-of-death observations: %w", err)
	}
	if len(existing) != 1 {
		return "", nil
	}
	return existing[0].ValueText, nil
}

// resolveCurrentCause returns the subject's explicit cause of death or, if
// unset, the configured "none" sentinel concept.
func (s *DeathSynchronizer) resolveCurrentCause(ctx context.Context, sub Subject) (*Concept, error) {
	if sub.CauseOfDeath != nil {
		c, err := s.concepts.GetConcept(ctx, sub.CauseOfDeath.String())
		if err != nil {
			return nil, fmt.Errorf("resolving cause of death: %w", err)
		}
		return c, nil
	}
	c, err := s.concepts.GetConcept(ctx, s.noneRef)
	if err != nil {
		return nil, fmt.Errorf("resolving none concept: %w", err)
	}
	return c, nil
}

// applyOtherText sets the free-text payload when the cause is the
// "other, non-coded" sentinel, and clears it otherwise.
func (s *DeathSynchronizer) applyOtherText(ctx context.Context, obs *Observation, cause *Concept, otherText string) error {
	other, err := s.concepts.GetConcept(ctx, s.otherRef)
	if err != nil {
		return fmt.Errorf("resolving other-non-coded concept: %w", err)
	}
	if other != nil && other.ID == cause.ID {
		obs.ValueText = otherText
	} else {
		obs.ValueText = ""
	}
	return nil
}
