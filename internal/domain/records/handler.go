package records

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/masa/masa/internal/domain/scoring"
	"github.com/masa/masa/internal/platform/hipaa"
)

type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients", h.ListPatients)
	api.POST("/patients", h.CreatePatient)
	api.GET("/patients/:id", h.GetPatient)
	api.PUT("/patients/:id", h.UpdatePatient)
	api.DELETE("/patients/:id", h.DeletePatient)
	api.GET("/patients/:id/assessments", h.GetPatientAssessments)
	api.GET("/patients/:id/trend", h.GetPatientTrend)

	api.GET("/assessments", h.ListAssessments)
	api.POST("/assessments", h.CreateAssessment)
	api.GET("/assessments/:id", h.GetAssessment)
	api.PUT("/assessments/:id", h.UpdateAssessment)
	api.DELETE("/assessments/:id", h.DeleteAssessment)
	api.GET("/assessments/:id/score", h.GetAssessmentScore)

	api.GET("/reports/patients", h.ListPatientsWithAssessments)
}

// httpError maps the domain error taxonomy to status codes. Backend errors
// reach the caller typed, never silently retried against the other backend.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "record not found")
	case errors.Is(err, ErrBackendUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "storage backend unavailable")
	case errors.Is(err, hipaa.ErrDecryptionFailed):
		return echo.NewHTTPError(http.StatusInternalServerError, "record could not be decrypted")
	case errors.Is(err, hipaa.ErrEncryptionUnavailable):
		return echo.NewHTTPError(http.StatusInternalServerError, "encryption not configured")
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Patients --

func (h *Handler) ListPatients(c echo.Context) error {
	patients, err := h.repo.ListPatients(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if patients == nil {
		patients = []*Patient{}
	}
	return c.JSON(http.StatusOK, patients)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.repo.GetPatient(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.repo.CreatePatient(c.Request().Context(), &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var delta PatientUpdate
	if err := c.Bind(&delta); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.repo.UpdatePatient(c.Request().Context(), id, delta)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.repo.DeletePatient(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetPatientAssessments(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	assessments, err := h.repo.GetAssessmentsFor(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if assessments == nil {
		assessments = []*Assessment{}
	}
	return c.JSON(http.StatusOK, assessments)
}

func (h *Handler) GetPatientTrend(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	trend, series, err := h.repo.PatientTrend(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"trend":  trend,
		"series": series,
	})
}

// -- Assessments --

func (h *Handler) ListAssessments(c echo.Context) error {
	assessments, err := h.repo.ListAssessments(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if assessments == nil {
		assessments = []*Assessment{}
	}
	return c.JSON(http.StatusOK, assessments)
}

func (h *Handler) GetAssessment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.repo.GetAssessment(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CreateAssessment(c echo.Context) error {
	var a Assessment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.repo.CreateAssessment(c.Request().Context(), &a); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) UpdateAssessment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var delta AssessmentUpdate
	if err := c.Bind(&delta); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.repo.UpdateAssessment(c.Request().Context(), id, delta)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAssessment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.repo.DeleteAssessment(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetAssessmentScore(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.repo.GetAssessment(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	total := a.TotalScore()
	return c.JSON(http.StatusOK, map[string]any{
		"total":      total,
		"severity":   scoring.ClassifySeverity(total),
		"completed":  scoring.CompletionCount(a.Grades),
		"area_count": scoring.AreaCount,
	})
}

// -- Reports --

func (h *Handler) ListPatientsWithAssessments(c echo.Context) error {
	summaries, err := h.repo.ListPatientsWithAssessments(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if summaries == nil {
		summaries = []*PatientSummary{}
	}
	return c.JSON(http.StatusOK, summaries)
}
