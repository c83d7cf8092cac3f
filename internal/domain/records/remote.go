package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/masa/masa/internal/domain/scoring"
	"github.com/masa/masa/internal/platform/auth"
	"github.com/masa/masa/internal/platform/db"
	"github.com/masa/masa/internal/platform/hipaa"
)

// querier is satisfied by the pool and by a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RemoteStore mirrors the local store's surface against PostgreSQL. Queries
// are scoped to the caller's organization; assessment PII is sealed by the
// codec before it reaches a row.
type RemoteStore struct {
	pool       *pgxpool.Pool
	codec      *hipaa.Codec
	defaultOrg string
	log        zerolog.Logger
}

func NewRemoteStore(pool *pgxpool.Pool, codec *hipaa.Codec, defaultOrg string, log zerolog.Logger) *RemoteStore {
	return &RemoteStore{pool: pool, codec: codec, defaultOrg: defaultOrg, log: log}
}

func (s *RemoteStore) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

func (s *RemoteStore) org(ctx context.Context) string {
	if org := auth.OrgFromContext(ctx); org != "" {
		return org
	}
	return s.defaultOrg
}

// wrap classifies a backend error. A response from the server (including
// constraint violations) is not a reachability problem; anything else —
// refused connections, timeouts, a closed pool — is ErrBackendUnavailable.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrBackendUnavailable, err)
}

func (s *RemoteStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping remote store: %w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// -- Patients --

const patientCols = `id, org, name, date_of_birth, record_number, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Org, &p.Name, &p.DateOfBirth, &p.RecordNumber, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *RemoteStore) ListPatients(ctx context.Context) ([]*Patient, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT `+patientCols+` FROM patients
		WHERE org = $1
		ORDER BY updated_at DESC`, s.org(ctx))
	if err != nil {
		return nil, wrap("list patients", err)
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, wrap("list patients: scan", err)
		}
		patients = append(patients, p)
	}
	return patients, wrap("list patients", rows.Err())
}

func (s *RemoteStore) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(s.conn(ctx).QueryRow(ctx, `
		SELECT `+patientCols+` FROM patients
		WHERE id = $1 AND org = $2`, id, s.org(ctx)))
	if err != nil {
		return nil, wrap(fmt.Sprintf("get patient %s", id), err)
	}
	return p, nil
}

func (s *RemoteStore) CreatePatient(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	p.Org = s.org(ctx)
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO patients (id, org, name, date_of_birth, record_number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Org, p.Name, p.DateOfBirth, p.RecordNumber, p.CreatedAt, p.UpdatedAt)
	return wrap("create patient", err)
}

func (s *RemoteStore) UpdatePatient(ctx context.Context, p *Patient) error {
	p.UpdatedAt = time.Now().UTC()

	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE patients
		SET name = $1, date_of_birth = $2, record_number = $3, updated_at = $4
		WHERE id = $5 AND org = $6`,
		p.Name, p.DateOfBirth, p.RecordNumber, p.UpdatedAt, p.ID, s.org(ctx))
	if err != nil {
		return wrap("update patient", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update patient %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

// DeletePatient removes the patient row and all of that patient's
// assessment rows in a single transaction. A partial delete — patient gone,
// orphaned assessments left behind — must not be observable.
func (s *RemoteStore) DeletePatient(ctx context.Context, id uuid.UUID) error {
	org := s.org(ctx)

	run := func(ctx context.Context, q querier) error {
		if _, err := q.Exec(ctx, `
			DELETE FROM assessments WHERE patient_id = $1 AND org = $2`, id, org); err != nil {
			return err
		}
		tag, err := q.Exec(ctx, `
			DELETE FROM patients WHERE id = $1 AND org = $2`, id, org)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	}

	if tx := db.TxFromContext(ctx); tx != nil {
		if err := run(ctx, tx); err != nil {
			return wrap(fmt.Sprintf("delete patient %s", id), err)
		}
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrap(fmt.Sprintf("delete patient %s", id), err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := run(ctx, tx); err != nil {
		return wrap(fmt.Sprintf("delete patient %s", id), err)
	}
	return wrap(fmt.Sprintf("delete patient %s", id), tx.Commit(ctx))
}

func (s *RemoteStore) FindPatientByNaturalKey(ctx context.Context, name, dateOfBirth string) (*Patient, error) {
	// Stored rows carry canonical key fields; the query arguments are
	// normalized the same way so equality behaves like the local scan.
	key := naturalKeyOf(name, dateOfBirth)
	p, err := scanPatient(s.conn(ctx).QueryRow(ctx, `
		SELECT `+patientCols+` FROM patients
		WHERE org = $1 AND name = $2 AND date_of_birth = $3
		ORDER BY created_at
		LIMIT 1`, s.org(ctx), key.name, key.dob))
	if err != nil {
		return nil, wrap("find patient by name and birth date", err)
	}
	return p, nil
}

// -- Assessments --

const assessmentCols = `id, org, patient_id, grades, pii, saved_at`

func scanStoredAssessment(row pgx.Row) (*storedAssessment, error) {
	var sa storedAssessment
	var grades []byte
	err := row.Scan(&sa.ID, &sa.Org, &sa.PatientID, &grades, &sa.PII, &sa.SavedAt)
	if err != nil {
		return nil, err
	}
	if len(grades) > 0 {
		if err := json.Unmarshal(grades, &sa.Grades); err != nil {
			return nil, fmt.Errorf("decode grades: %w", err)
		}
	}
	if sa.Grades == nil {
		sa.Grades = scoring.Grades{}
	}
	return &sa, nil
}

func (s *RemoteStore) listAssessments(ctx context.Context, op string, query string, args ...any) ([]*Assessment, error) {
	rows, err := s.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	var assessments []*Assessment
	for rows.Next() {
		sa, err := scanStoredAssessment(rows)
		if err != nil {
			return nil, wrap(op+": scan", err)
		}
		a, err := openAssessment(s.codec, sa)
		if err != nil {
			// An undecryptable row is skipped like a corrupt local entry;
			// it must not take the whole listing down.
			s.log.Warn().Str("assessment_id", sa.ID.String()).Err(err).Msg("skipping unreadable assessment row")
			continue
		}
		assessments = append(assessments, a)
	}
	return assessments, wrap(op, rows.Err())
}

func (s *RemoteStore) ListAssessments(ctx context.Context) ([]*Assessment, error) {
	return s.listAssessments(ctx, "list assessments", `
		SELECT `+assessmentCols+` FROM assessments
		WHERE org = $1
		ORDER BY saved_at DESC`, s.org(ctx))
}

func (s *RemoteStore) ListAssessmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]*Assessment, error) {
	return s.listAssessments(ctx, "list assessments by patient", `
		SELECT `+assessmentCols+` FROM assessments
		WHERE patient_id = $1 AND org = $2
		ORDER BY saved_at DESC`, patientID, s.org(ctx))
}

func (s *RemoteStore) GetAssessment(ctx context.Context, id uuid.UUID) (*Assessment, error) {
	sa, err := scanStoredAssessment(s.conn(ctx).QueryRow(ctx, `
		SELECT `+assessmentCols+` FROM assessments
		WHERE id = $1 AND org = $2`, id, s.org(ctx)))
	if err != nil {
		return nil, wrap(fmt.Sprintf("get assessment %s", id), err)
	}

	a, err := openAssessment(s.codec, sa)
	if err != nil {
		return nil, fmt.Errorf("get assessment %s: %w", id, err)
	}
	return a, nil
}

func (s *RemoteStore) CreateAssessment(ctx context.Context, a *Assessment) error {
	a.ID = uuid.New()
	a.Org = s.org(ctx)
	a.SavedAt = time.Now().UTC()

	return s.insertAssessment(ctx, a, "create assessment")
}

func (s *RemoteStore) insertAssessment(ctx context.Context, a *Assessment, op string) error {
	sa, err := sealAssessment(s.codec, a)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	grades, err := json.Marshal(sa.Grades)
	if err != nil {
		return fmt.Errorf("%s: encode grades: %w", op, err)
	}

	_, err = s.conn(ctx).Exec(ctx, `
		INSERT INTO assessments (id, org, patient_id, grades, pii, saved_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sa.ID, sa.Org, sa.PatientID, grades, sa.PII, sa.SavedAt)
	return wrap(op, err)
}

func (s *RemoteStore) UpdateAssessment(ctx context.Context, a *Assessment) error {
	a.SavedAt = time.Now().UTC()

	sa, err := sealAssessment(s.codec, a)
	if err != nil {
		return fmt.Errorf("update assessment: %w", err)
	}
	grades, err := json.Marshal(sa.Grades)
	if err != nil {
		return fmt.Errorf("update assessment: encode grades: %w", err)
	}

	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE assessments
		SET patient_id = $1, grades = $2, pii = $3, saved_at = $4
		WHERE id = $5 AND org = $6`,
		sa.PatientID, grades, sa.PII, sa.SavedAt, sa.ID, s.org(ctx))
	if err != nil {
		return wrap("update assessment", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update assessment %s: %w", a.ID, ErrNotFound)
	}
	return nil
}

func (s *RemoteStore) DeleteAssessment(ctx context.Context, id uuid.UUID) error {
	tag, err := s.conn(ctx).Exec(ctx, `
		DELETE FROM assessments WHERE id = $1 AND org = $2`, id, s.org(ctx))
	if err != nil {
		return wrap("delete assessment", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete assessment %s: %w", id, ErrNotFound)
	}
	return nil
}

// ImportBatch writes the whole migration record set in one transaction.
// Incoming identifiers are placeholders linking assessments to patients
// within the batch; the store assigns fresh identifiers on insert. Either
// every record commits or none do — a partially committed batch cannot be
// observed, so a retried migration cannot duplicate records.
func (s *RemoteStore) ImportBatch(ctx context.Context, patients []*Patient, assessments []*Assessment) error {
	org := s.org(ctx)
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrap("import batch", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	idMap := importIDMap(patients)
	for _, p := range patients {
		newID := idMap[p.ID]

		createdAt := p.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO patients (id, org, name, date_of_birth, record_number, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			newID, org, p.Name, p.DateOfBirth, p.RecordNumber, createdAt, now); err != nil {
			return wrap("import batch: patient", err)
		}
	}

	for _, a := range assessments {
		imported := *a
		imported.ID = uuid.New()
		imported.Org = org
		ref, err := resolveImportRef(a, idMap)
		if err != nil {
			return fmt.Errorf("import batch: %w", err)
		}
		imported.PatientID = ref
		if imported.SavedAt.IsZero() {
			imported.SavedAt = now
		}

		sa, err := sealAssessment(s.codec, &imported)
		if err != nil {
			return fmt.Errorf("import batch: %w", err)
		}
		grades, err := json.Marshal(sa.Grades)
		if err != nil {
			return fmt.Errorf("import batch: encode grades: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO assessments (id, org, patient_id, grades, pii, saved_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			sa.ID, sa.Org, sa.PatientID, grades, sa.PII, sa.SavedAt); err != nil {
			return wrap("import batch: assessment", err)
		}
	}

	return wrap("import batch: commit", tx.Commit(ctx))
}

// importIDMap assigns a fresh identifier for every patient placeholder in the
// batch. Local identifiers never survive the migration.
func importIDMap(patients []*Patient) map[uuid.UUID]uuid.UUID {
	m := make(map[uuid.UUID]uuid.UUID, len(patients))
	for _, p := range patients {
		m[p.ID] = uuid.New()
	}
	return m
}

// resolveImportRef maps an assessment's placeholder patient reference to the
// freshly assigned identifier. The batch is the entire record set, so a
// reference to a patient outside it means the caller built the batch wrong.
func resolveImportRef(a *Assessment, idMap map[uuid.UUID]uuid.UUID) (*uuid.UUID, error) {
	if a.PatientID == nil {
		return nil, nil
	}
	newID, ok := idMap[*a.PatientID]
	if !ok {
		return nil, fmt.Errorf("assessment %s references patient %s outside the batch", a.ID, *a.PatientID)
	}
	return &newID, nil
}
