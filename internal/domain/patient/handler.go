package patient

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/reconciler/internal/domain/relationship"
	"github.com/ehr/reconciler/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/:id/edit", h.BeginEdit)
	api.POST("/patients/:id/save", h.Save)
	api.POST("/patients/save", h.SaveNew)
	api.GET("/patients/import", h.Import)
	api.GET("/patients/:id", h.Get)
}

// relationshipSlot is the wire form of one ordered relationship slot.
type relationshipSlot struct {
	Code         string                     `json:"code"`
	Relationship *relationship.Relationship `json:"relationship"`
}

func slotsToWire(m *relationship.SlotMap) []relationshipSlot {
	out := make([]relationshipSlot, 0, m.Len())
	for _, code := range m.Keys() {
		out = append(out, relationshipSlot{Code: code, Relationship: m.Get(code)})
	}
	return out
}

// BeginEdit handles GET /patients/:id/edit.
func (h *Handler) BeginEdit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	session, err := h.svc.BeginEdit(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"patient":              session.Patient,
		"name_cache":           session.NameCache,
		"address_cache":        session.AddressCache,
		"cause_of_death_other": session.CauseOfDeathOther,
		"relationships":        slotsToWire(session.Relationships),
	})
}

// Get handles GET /patients/:id.
func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.Load(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	return c.JSON(http.StatusOK, p)
}

// saveRequest is the JSON body of a save submission: the form fields plus
// the edit-session snapshots the client carried through.
type saveRequest struct {
	Gender             string        `json:"gender"`
	BirthDate          *time.Time    `json:"birth_date"`
	BirthdateEstimated bool          `json:"birthdate_estimated"`
	Deceased           bool          `json:"deceased"`
	DeathDate          *time.Time    `json:"death_date"`
	CauseOfDeath       *uuid.UUID    `json:"cause_of_death"`
	Name               *Name         `json:"name"`
	Address            *Address      `json:"address"`
	Identifiers        []*Identifier `json:"identifiers"`
	Attributes         []*Attribute  `json:"attributes"`

	NameCache    *Name    `json:"name_cache"`
	AddressCache *Address `json:"address_cache"`

	CauseOfDeathOther string            `json:"cause_of_death_other"`
	Relationships     map[string]string `json:"relationships"`
}

// Save handles POST /patients/:id/save for an existing patient.
func (h *Handler) Save(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.Load(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	return h.save(c, p)
}

// SaveNew handles POST /patients/save for a patient that does not exist
// locally yet.
func (h *Handler) SaveNew(c echo.Context) error {
	return h.save(c, h.svc.NewDraft())
}

func (h *Handler) save(c echo.Context, p *Patient) error {
	var req saveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	p.Gender = req.Gender
	p.BirthDate = req.BirthDate
	p.BirthdateEstimated = req.BirthdateEstimated
	p.Deceased = req.Deceased
	p.DeathDate = req.DeathDate
	p.CauseOfDeath = req.CauseOfDeath

	actor := auth.UserIDFromContext(c.Request().Context())
	p.ChangedBy = actor

	result, err := h.svc.Save(c.Request().Context(), SaveInput{
		Patient:               p,
		Name:                  req.Name,
		Address:               req.Address,
		Identifiers:           req.Identifiers,
		Attributes:            req.Attributes,
		NameCache:             req.NameCache,
		AddressCache:          req.AddressCache,
		CauseOfDeathOtherText: req.CauseOfDeathOther,
		RelationshipChoices:   req.Relationships,
		Actor:                 actor,
	})

	if err != nil {
		if ve, ok := AsValidationError(err); ok {
			// Safe to redisplay the form and resubmit.
			return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
				"errors":    ve.Fields,
				"redisplay": true,
			})
		}
		if pe, ok := AsPersistenceError(err); ok {
			// Redisplay only when no void-and-replace happened yet;
			// resubmitting after one would duplicate voided history.
			return c.JSON(http.StatusInternalServerError, map[string]interface{}{
				"error":     "saving patient failed",
				"redisplay": !pe.Mutated,
			})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, result)
}

// Import handles GET /patients/import?registry-id=<id>: it fetches the
// registry's record and returns an unsaved local draft built from it.
func (h *Handler) Import(c echo.Context) error {
	registryID := c.QueryParam("registry-id")
	if registryID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "registry-id is required")
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	draft, err := h.svc.Import(c.Request().Context(), registryID, actor)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, draft)
}
