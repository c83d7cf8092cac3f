package records

import (
	"time"

	"github.com/google/uuid"

	"github.com/masa/masa/internal/domain/scoring"
	"github.com/masa/masa/internal/platform/hipaa"
)

// assessmentPII is the sensitive portion of an assessment, encrypted as one
// blob at rest in both backends. Grades and the patient reference stay in
// the clear: grades carry no identity and the reference is needed for
// queries and cascade deletes.
type assessmentPII struct {
	PatientName    string `json:"patient_name"`
	DateOfBirth    string `json:"date_of_birth"`
	RecordNumber   string `json:"record_number"`
	AssessmentDate string `json:"assessment_date"`
	Examiner       string `json:"examiner"`
	Notes          string `json:"notes"`
}

// storedAssessment is the at-rest shape shared by both backends: the PII
// snapshot sealed by the codec, everything else as written.
type storedAssessment struct {
	ID        uuid.UUID      `json:"id"`
	Org       string         `json:"org"`
	PatientID *uuid.UUID     `json:"patient_id,omitempty"`
	Grades    scoring.Grades `json:"grades"`
	PII       string         `json:"pii"`
	SavedAt   time.Time      `json:"saved_at"`
}

func sealAssessment(codec *hipaa.Codec, a *Assessment) (*storedAssessment, error) {
	pii, err := codec.Encrypt(assessmentPII{
		PatientName:    a.PatientName,
		DateOfBirth:    a.DateOfBirth,
		RecordNumber:   a.RecordNumber,
		AssessmentDate: a.AssessmentDate,
		Examiner:       a.Examiner,
		Notes:          a.Notes,
	})
	if err != nil {
		return nil, err
	}

	return &storedAssessment{
		ID:        a.ID,
		Org:       a.Org,
		PatientID: a.PatientID,
		Grades:    a.Grades,
		PII:       pii,
		SavedAt:   a.SavedAt,
	}, nil
}

func openAssessment(codec *hipaa.Codec, sa *storedAssessment) (*Assessment, error) {
	var pii assessmentPII
	if err := codec.Decrypt(sa.PII, &pii); err != nil {
		return nil, err
	}

	return &Assessment{
		ID:             sa.ID,
		Org:            sa.Org,
		PatientID:      sa.PatientID,
		PatientName:    pii.PatientName,
		DateOfBirth:    pii.DateOfBirth,
		RecordNumber:   pii.RecordNumber,
		AssessmentDate: pii.AssessmentDate,
		Examiner:       pii.Examiner,
		Grades:         sa.Grades,
		Notes:          pii.Notes,
		SavedAt:        sa.SavedAt,
	}, nil
}
