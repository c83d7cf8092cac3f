package records

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNotFound means the requested record does not exist in the active
	// backend.
	ErrNotFound = errors.New("record not found")

	// ErrBackendUnavailable means the backend could not be reached at all. At
	// startup it selects the local store; mid-session it surfaces to the
	// caller — the Repository never falls back silently after initialization.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrMigrationFailed means the one-time data migration's batch commit
	// failed. Local data is untouched and the migration state has reverted,
	// so a later run can retry.
	ErrMigrationFailed = errors.New("migration failed")
)

// Store is the CRUD surface both backends implement. The Repository holds
// exactly one Store for its lifetime, chosen at startup.
//
// Contracts shared by both implementations: creates assign a fresh
// identifier with createdAt == updatedAt; every write bumps the update
// timestamp; ListPatients orders by updatedAt descending and assessment
// listings by savedAt descending; DeletePatient removes the patient's
// assessments in the same atomic operation; list operations skip (and log)
// individually unreadable records instead of failing wholesale.
type Store interface {
	ListPatients(ctx context.Context) ([]*Patient, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	CreatePatient(ctx context.Context, p *Patient) error
	UpdatePatient(ctx context.Context, p *Patient) error
	DeletePatient(ctx context.Context, id uuid.UUID) error
	FindPatientByNaturalKey(ctx context.Context, name, dateOfBirth string) (*Patient, error)

	ListAssessments(ctx context.Context) ([]*Assessment, error)
	ListAssessmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]*Assessment, error)
	GetAssessment(ctx context.Context, id uuid.UUID) (*Assessment, error)
	CreateAssessment(ctx context.Context, a *Assessment) error
	UpdateAssessment(ctx context.Context, a *Assessment) error
	DeleteAssessment(ctx context.Context, id uuid.UUID) error

	Ping(ctx context.Context) error
}

// StateStore persists the migration state machine. Only the local store
// implements it: the flag must survive without remote connectivity.
type StateStore interface {
	MigrationState(ctx context.Context) (MigrationState, error)
	SetMigrationState(ctx context.Context, state MigrationState) error
}

// Importer receives the migration batch. Implemented by RemoteStore as a
// single transaction over the whole record set.
type Importer interface {
	ImportBatch(ctx context.Context, patients []*Patient, assessments []*Assessment) error
}
