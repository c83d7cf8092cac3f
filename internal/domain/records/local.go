package records

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/masa/masa/internal/platform/hipaa"
)

const (
	patientKeyPrefix    = "masa-patient-"
	assessmentKeyPrefix = "masa-assessment-"
	migrationStateKey   = "masa-migration-state"
)

var (
	recordsBucket = []byte("records")
	metaBucket    = []byte("meta")
)

// LocalStore holds patients and assessments in a device-local bbolt file,
// keyed by prefixed identifiers with JSON values. It also persists the
// migration state, which must be readable without remote connectivity.
type LocalStore struct {
	db    *bolt.DB
	codec *hipaa.Codec
	log   zerolog.Logger
}

// OpenLocal opens (creating if needed) the bbolt file at path.
func OpenLocal(path string, codec *hipaa.Codec, log zerolog.Logger) (*LocalStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(recordsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open local store: create buckets: %w", err)
	}

	return &LocalStore{db: db, codec: codec, log: log}, nil
}

func (s *LocalStore) Close() error {
	return s.db.Close()
}

// Ping always succeeds: the local file is open or the store would not exist.
func (s *LocalStore) Ping(ctx context.Context) error {
	return nil
}

func patientKey(id uuid.UUID) []byte {
	return []byte(patientKeyPrefix + id.String())
}

func assessmentKey(id uuid.UUID) []byte {
	return []byte(assessmentKeyPrefix + id.String())
}

// -- Patients --

func (s *LocalStore) ListPatients(ctx context.Context) ([]*Patient, error) {
	var patients []*Patient

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(recordsBucket).Cursor()
		prefix := []byte(patientKeyPrefix)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var p Patient
			if err := json.Unmarshal(v, &p); err != nil {
				// One corrupt record must not fail the whole listing.
				s.log.Warn().Str("key", string(k)).Err(err).Msg("skipping unparseable patient record")
				continue
			}
			patients = append(patients, &p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}

	sort.Slice(patients, func(i, j int) bool {
		return patients[i].UpdatedAt.After(patients[j].UpdatedAt)
	})
	return patients, nil
}

func (s *LocalStore) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(recordsBucket).Get(patientKey(id))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &p)
	})
	if err != nil {
		return nil, fmt.Errorf("get patient %s: %w", id, err)
	}
	return &p, nil
}

func (s *LocalStore) CreatePatient(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	return s.putPatient(p, "create patient")
}

func (s *LocalStore) UpdatePatient(ctx context.Context, p *Patient) error {
	existing, err := s.GetPatient(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	return s.putPatient(p, "update patient")
}

func (s *LocalStore) putPatient(p *Patient, op string) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).Put(patientKey(p.ID), data)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeletePatient removes the patient entry and every assessment referencing
// it inside one bolt transaction. Deletes are immediate and non-recoverable.
func (s *LocalStore) DeletePatient(ctx context.Context, id uuid.UUID) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		if b.Get(patientKey(id)) == nil {
			return ErrNotFound
		}
		if err := b.Delete(patientKey(id)); err != nil {
			return err
		}

		c := b.Cursor()
		prefix := []byte(assessmentKeyPrefix)
		var cascade [][]byte
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var sa storedAssessment
			if err := json.Unmarshal(v, &sa); err != nil {
				continue
			}
			if sa.PatientID != nil && *sa.PatientID == id {
				cascade = append(cascade, append([]byte(nil), k...))
			}
		}
		for _, k := range cascade {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete patient %s: %w", id, err)
	}
	return nil
}

func (s *LocalStore) FindPatientByNaturalKey(ctx context.Context, name, dateOfBirth string) (*Patient, error) {
	patients, err := s.ListPatients(ctx)
	if err != nil {
		return nil, err
	}

	want := naturalKeyOf(name, dateOfBirth)
	for _, p := range patients {
		if naturalKeyOf(p.Name, p.DateOfBirth) == want {
			return p, nil
		}
	}
	return nil, fmt.Errorf("find patient by name and birth date: %w", ErrNotFound)
}

// -- Assessments --

func (s *LocalStore) ListAssessments(ctx context.Context) ([]*Assessment, error) {
	var assessments []*Assessment

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(recordsBucket).Cursor()
		prefix := []byte(assessmentKeyPrefix)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			a, err := s.decodeAssessment(k, v)
			if err != nil {
				s.log.Warn().Str("key", string(k)).Err(err).Msg("skipping unreadable assessment record")
				continue
			}
			assessments = append(assessments, a)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}

	sort.Slice(assessments, func(i, j int) bool {
		return assessments[i].SavedAt.After(assessments[j].SavedAt)
	})
	return assessments, nil
}

func (s *LocalStore) ListAssessmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]*Assessment, error) {
	all, err := s.ListAssessments(ctx)
	if err != nil {
		return nil, err
	}

	var out []*Assessment
	for _, a := range all {
		if a.PatientID != nil && *a.PatientID == patientID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *LocalStore) GetAssessment(ctx context.Context, id uuid.UUID) (*Assessment, error) {
	var a *Assessment
	err := s.db.View(func(tx *bolt.Tx) error {
		k := assessmentKey(id)
		v := tx.Bucket(recordsBucket).Get(k)
		if v == nil {
			return ErrNotFound
		}
		var err error
		a, err = s.decodeAssessment(k, v)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get assessment %s: %w", id, err)
	}
	return a, nil
}

func (s *LocalStore) CreateAssessment(ctx context.Context, a *Assessment) error {
	a.ID = uuid.New()
	a.SavedAt = time.Now().UTC()

	return s.putAssessment(a, "create assessment")
}

func (s *LocalStore) UpdateAssessment(ctx context.Context, a *Assessment) error {
	if _, err := s.GetAssessment(ctx, a.ID); err != nil {
		return fmt.Errorf("update assessment: %w", err)
	}
	a.SavedAt = time.Now().UTC()

	return s.putAssessment(a, "update assessment")
}

func (s *LocalStore) putAssessment(a *Assessment, op string) error {
	sa, err := sealAssessment(s.codec, a)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	data, err := json.Marshal(sa)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).Put(assessmentKey(a.ID), data)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *LocalStore) DeleteAssessment(ctx context.Context, id uuid.UUID) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		if b.Get(assessmentKey(id)) == nil {
			return ErrNotFound
		}
		return b.Delete(assessmentKey(id))
	})
	if err != nil {
		return fmt.Errorf("delete assessment %s: %w", id, err)
	}
	return nil
}

func (s *LocalStore) decodeAssessment(k, v []byte) (*Assessment, error) {
	var sa storedAssessment
	if err := json.Unmarshal(v, &sa); err != nil {
		return nil, err
	}
	return openAssessment(s.codec, &sa)
}

// -- Migration state --

func (s *LocalStore) MigrationState(ctx context.Context) (MigrationState, error) {
	state := MigrationNotStarted
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(metaBucket).Get([]byte(migrationStateKey)); v != nil {
			state = MigrationState(v)
		}
		return nil
	})
	if err != nil {
		return state, fmt.Errorf("read migration state: %w", err)
	}
	return state, nil
}

func (s *LocalStore) SetMigrationState(ctx context.Context, state MigrationState) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Put([]byte(migrationStateKey), []byte(state))
	})
	if err != nil {
		return fmt.Errorf("persist migration state: %w", err)
	}
	return nil
}

// ClearRecords removes every patient and assessment entry. Called by the
// migration orchestrator after the remote batch has committed.
func (s *LocalStore) ClearRecords(ctx context.Context) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		c := b.Cursor()
		var keys [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear local records: %w", err)
	}
	return nil
}
