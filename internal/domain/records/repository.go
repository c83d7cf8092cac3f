package records

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/masa/masa/internal/domain/scoring"
)

// BackendKind identifies which store the Repository selected at startup.
type BackendKind string

const (
	BackendLocal  BackendKind = "local"
	BackendRemote BackendKind = "remote"
)

// Repository is the single persistence facade the rest of the application
// talks to. It selects a backend once at startup and holds it for its
// lifetime: selection never flips mid-session, even if remote connectivity
// changes, to avoid split-brain writes. Errors from the selected backend
// surface to the caller unmodified — there is no silent fallback.
type Repository struct {
	// mu admits normal operations shared, the migration batch exclusive. A
	// write landing only in the destination backend mid-migration would be
	// lost when the local store is cleared.
	mu      sync.RWMutex
	store   Store
	kind    BackendKind
	state   StateStore
	timeout time.Duration
	log     zerolog.Logger
}

// Options configures Open. Remote is nil when no remote backend is
// configured.
type Options struct {
	Local   *LocalStore
	Remote  *RemoteStore
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Open probes the remote backend and builds the Repository. With a
// reachable remote the local data is migrated (once) before any write is
// served; an unreachable or unconfigured remote selects the local store. A
// failed migration also falls back to the local store, leaving the user
// working against their data exactly as before.
func Open(ctx context.Context, opts Options) (*Repository, error) {
	if opts.Local == nil {
		return nil, fmt.Errorf("open repository: local store is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	r := &Repository{
		store:   opts.Local,
		kind:    BackendLocal,
		state:   opts.Local,
		timeout: opts.Timeout,
		log:     opts.Logger,
	}

	if opts.Remote == nil {
		r.log.Info().Msg("remote backend not configured, using local store")
		return r, nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := opts.Remote.Ping(probeCtx); err != nil {
		r.log.Warn().Err(err).Msg("remote backend unreachable, using local store")
		return r, nil
	}

	orch := NewOrchestrator(opts.Local, opts.Remote, opts.Logger)
	r.mu.Lock()
	err := orch.Run(ctx)
	r.mu.Unlock()
	if err != nil {
		r.log.Error().Err(err).Msg("data migration failed, staying on local store")
		return r, nil
	}

	r.store = opts.Remote
	r.kind = BackendRemote
	r.log.Info().Msg("remote backend selected")
	return r, nil
}

// New builds a Repository directly on a store, bypassing probing and
// migration. Used by tests and by callers that have already decided.
func New(store Store, kind BackendKind, state StateStore, timeout time.Duration, log zerolog.Logger) *Repository {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Repository{store: store, kind: kind, state: state, timeout: timeout, log: log}
}

// Backend reports which store was selected at startup.
func (r *Repository) Backend() BackendKind {
	return r.kind
}

// MigrationStatus reads the persisted migration state.
func (r *Repository) MigrationStatus(ctx context.Context) (MigrationState, error) {
	if r.state == nil {
		return MigrationNotStarted, nil
	}
	return r.state.MigrationState(ctx)
}

// opCtx bounds every backend call so a hung remote call cannot block the
// repository indefinitely.
func (r *Repository) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// -- Patients --

// PatientUpdate is a partial patient change; nil fields are left untouched.
type PatientUpdate struct {
	Name         *string `json:"name,omitempty"`
	DateOfBirth  *string `json:"date_of_birth,omitempty"`
	RecordNumber *string `json:"record_number,omitempty"`
}

func (r *Repository) ListPatients(ctx context.Context) ([]*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	return r.store.ListPatients(ctx)
}

func (r *Repository) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	return r.store.GetPatient(ctx, id)
}

func (r *Repository) CreatePatient(ctx context.Context, p *Patient) error {
	// The natural-key fields are stored canonical: the remote store matches
	// them with SQL equality, so normalization cannot be left to lookups.
	p.Name = strings.TrimSpace(p.Name)
	p.DateOfBirth = strings.TrimSpace(p.DateOfBirth)
	if p.Name == "" {
		return fmt.Errorf("patient name is required")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	return r.store.CreatePatient(ctx, p)
}

func (r *Repository) UpdatePatient(ctx context.Context, id uuid.UUID, delta PatientUpdate) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	p, err := r.store.GetPatient(ctx, id)
	if err != nil {
		return nil, err
	}

	if delta.Name != nil {
		name := strings.TrimSpace(*delta.Name)
		if name == "" {
			return nil, fmt.Errorf("patient name is required")
		}
		p.Name = name
	}
	if delta.DateOfBirth != nil {
		p.DateOfBirth = strings.TrimSpace(*delta.DateOfBirth)
	}
	if delta.RecordNumber != nil {
		p.RecordNumber = *delta.RecordNumber
	}

	if err := r.store.UpdatePatient(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeletePatient cascades to the patient's assessments; the store removes
// both atomically.
func (r *Repository) DeletePatient(ctx context.Context, id uuid.UUID) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	return r.store.DeletePatient(ctx, id)
}

// -- Assessments --

// AssessmentUpdate is a partial assessment change; nil fields are left
// untouched.
type AssessmentUpdate struct {
	PatientName    *string        `json:"patient_name,omitempty"`
	DateOfBirth    *string        `json:"date_of_birth,omitempty"`
	RecordNumber   *string        `json:"record_number,omitempty"`
	AssessmentDate *string        `json:"assessment_date,omitempty"`
	Examiner       *string        `json:"examiner,omitempty"`
	Grades         scoring.Grades `json:"grades,omitempty"`
	Notes          *string        `json:"notes,omitempty"`
}

func (r *Repository) ListAssessments(ctx context.Context) ([]*Assessment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	return r.store.ListAssessments(ctx)
}

func (r *Repository) GetAssessmentsFor(ctx context.Context, patientID uuid.UUID) ([]*Assessment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	return r.store.ListAssessmentsByPatient(ctx, patientID)
}

func (r *Repository) GetAssessment(ctx context.Context, id uuid.UUID) (*Assessment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	return r.store.GetAssessment(ctx, id)
}

// CreateAssessment validates the grades against the closed area domain and
// resolves legacy records: an assessment arriving without a patient
// reference is linked to an existing patient matching the (name, date of
// birth) natural key, or to a patient synthesized from the assessment's
// snapshot fields. The canonical linked form is all that ever reaches a
// backend through this path.
func (r *Repository) CreateAssessment(ctx context.Context, a *Assessment) error {
	if err := scoring.ValidateGrades(a.Grades); err != nil {
		return fmt.Errorf("create assessment: %w", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	if a.Legacy() {
		// Normalize the key fields before the lookup so both backends see the
		// same canonical values; LocalStore trims on comparison but the remote
		// query is a raw equality against stored columns.
		a.PatientName = strings.TrimSpace(a.PatientName)
		a.DateOfBirth = strings.TrimSpace(a.DateOfBirth)
		if a.PatientName == "" {
			return fmt.Errorf("create assessment: patient reference or patient name is required")
		}
		p, err := r.store.FindPatientByNaturalKey(ctx, a.PatientName, a.DateOfBirth)
		if err != nil {
			if !isNotFound(err) {
				return err
			}
			p = &Patient{
				Name:         a.PatientName,
				DateOfBirth:  a.DateOfBirth,
				RecordNumber: a.RecordNumber,
			}
			if err := r.store.CreatePatient(ctx, p); err != nil {
				return err
			}
		}
		pid := p.ID
		a.PatientID = &pid
	}

	return r.store.CreateAssessment(ctx, a)
}

func (r *Repository) UpdateAssessment(ctx context.Context, id uuid.UUID, delta AssessmentUpdate) (*Assessment, error) {
	if delta.Grades != nil {
		if err := scoring.ValidateGrades(delta.Grades); err != nil {
			return nil, fmt.Errorf("update assessment: %w", err)
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	a, err := r.store.GetAssessment(ctx, id)
	if err != nil {
		return nil, err
	}

	if delta.PatientName != nil {
		a.PatientName = *delta.PatientName
	}
	if delta.DateOfBirth != nil {
		a.DateOfBirth = *delta.DateOfBirth
	}
	if delta.RecordNumber != nil {
		a.RecordNumber = *delta.RecordNumber
	}
	if delta.AssessmentDate != nil {
		a.AssessmentDate = *delta.AssessmentDate
	}
	if delta.Examiner != nil {
		a.Examiner = *delta.Examiner
	}
	if delta.Grades != nil {
		a.Grades = delta.Grades
	}
	if delta.Notes != nil {
		a.Notes = *delta.Notes
	}

	if err := r.store.UpdateAssessment(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *Repository) DeleteAssessment(ctx context.Context, id uuid.UUID) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	return r.store.DeleteAssessment(ctx, id)
}

// -- Aggregates --

// PatientSummary is one row of the patients-with-assessments report.
type PatientSummary struct {
	Patient          *Patient      `json:"patient"`
	Assessments      []*Assessment `json:"assessments"`
	TotalAssessments int           `json:"total_assessments"`
	MostRecent       *Assessment   `json:"most_recent,omitempty"`
	// AverageScore is the mean of the assessments' total scores rounded to
	// the nearest integer, absent when the patient has no assessments.
	AverageScore *int `json:"average_score,omitempty"`
}

// ListPatientsWithAssessments joins every patient with their assessments and
// derives the aggregate fields. Patients keep their updatedAt-descending
// order; each patient's assessments keep their savedAt-descending order, so
// MostRecent is the first element.
func (r *Repository) ListPatientsWithAssessments(ctx context.Context) ([]*PatientSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	patients, err := r.store.ListPatients(ctx)
	if err != nil {
		return nil, err
	}
	assessments, err := r.store.ListAssessments(ctx)
	if err != nil {
		return nil, err
	}

	byPatient := make(map[uuid.UUID][]*Assessment)
	for _, a := range assessments {
		if a.PatientID == nil {
			continue
		}
		byPatient[*a.PatientID] = append(byPatient[*a.PatientID], a)
	}

	summaries := make([]*PatientSummary, 0, len(patients))
	for _, p := range patients {
		list := byPatient[p.ID]
		summary := &PatientSummary{
			Patient:          p,
			Assessments:      list,
			TotalAssessments: len(list),
		}
		if len(list) > 0 {
			summary.MostRecent = list[0]
			sum := 0
			for _, a := range list {
				sum += a.TotalScore()
			}
			avg := int(math.Round(float64(sum) / float64(len(list))))
			summary.AverageScore = &avg
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// PatientTrend builds the patient's score series ordered by date ascending
// and classifies its direction. The series is derived on demand, never
// stored.
func (r *Repository) PatientTrend(ctx context.Context, patientID uuid.UUID) (scoring.Trend, []scoring.ScorePoint, error) {
	assessments, err := r.GetAssessmentsFor(ctx, patientID)
	if err != nil {
		return "", nil, err
	}

	// Listings come back savedAt-descending; the trend wants oldest first.
	points := make([]scoring.ScorePoint, 0, len(assessments))
	totals := make([]int, 0, len(assessments))
	for i := len(assessments) - 1; i >= 0; i-- {
		a := assessments[i]
		total := a.TotalScore()
		points = append(points, scoring.ScorePoint{
			Date:     a.SavedAt,
			Total:    total,
			Severity: scoring.ClassifySeverity(total),
		})
		totals = append(totals, total)
	}

	return scoring.ClassifyTrend(totals), points, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
