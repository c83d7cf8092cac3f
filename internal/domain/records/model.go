// Package records is the persistence layer for patients and swallowing
// assessments. It offers one CRUD surface (Repository) over two
// substitutable backends — a device-local bbolt store and a remote
// PostgreSQL store — and performs the one-time data migration between them.
package records

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/masa/masa/internal/domain/scoring"
)

// Patient is one person under assessment. The identifier is immutable once
// assigned; name and date of birth together form the natural key used to
// deduplicate legacy records that lack an explicit patient reference.
type Patient struct {
	ID           uuid.UUID `json:"id"`
	Org          string    `json:"org"`
	Name         string    `json:"name"`
	DateOfBirth  string    `json:"date_of_birth"` // YYYY-MM-DD
	RecordNumber string    `json:"record_number"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Assessment is a single administration of the 24-area instrument. It keeps
// a snapshot of the patient's display fields as they were at assessment
// time; PatientID is nil only for legacy records created before patients and
// assessments were split into separate entities.
type Assessment struct {
	ID             uuid.UUID      `json:"id"`
	Org            string         `json:"org"`
	PatientID      *uuid.UUID     `json:"patient_id,omitempty"`
	PatientName    string         `json:"patient_name"`
	DateOfBirth    string         `json:"date_of_birth"`
	RecordNumber   string         `json:"record_number"`
	AssessmentDate string         `json:"assessment_date"`
	Examiner       string         `json:"examiner"`
	Grades         scoring.Grades `json:"grades"`
	Notes          string         `json:"notes"`
	SavedAt        time.Time      `json:"saved_at"`
}

// Legacy reports whether this assessment predates the patient/assessment
// split and still needs its patient reference resolved.
func (a *Assessment) Legacy() bool {
	return a.PatientID == nil
}

// TotalScore is the assessment's aggregate score.
func (a *Assessment) TotalScore() int {
	return scoring.TotalScore(a.Grades)
}

// Severity is the severity bucket of the assessment's total score.
func (a *Assessment) Severity() scoring.Severity {
	return scoring.ClassifySeverity(a.TotalScore())
}

// naturalKey normalizes the (name, date of birth) pair used for
// deduplication of legacy records.
type naturalKey struct {
	name string
	dob  string
}

func naturalKeyOf(name, dob string) naturalKey {
	return naturalKey{name: strings.TrimSpace(name), dob: strings.TrimSpace(dob)}
}
