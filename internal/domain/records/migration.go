package records

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MigrationState is the lifecycle of the one-time local-to-remote data
// migration. It is persisted in the local store so a completed migration is
// never re-run, and reverts to not-started on failure so a retry is possible.
type MigrationState string

const (
	MigrationNotStarted MigrationState = "not-started"
	MigrationInProgress MigrationState = "in-progress"
	MigrationCompleted  MigrationState = "completed"
)

// Orchestrator moves every patient and assessment from the local store to
// the remote backend exactly once. The remote write is a single transaction
// over the whole record set; local identifiers are stripped (the remote
// assigns its own) and legacy assessments without a patient reference are
// resolved against the (name, date of birth) natural key first.
type Orchestrator struct {
	local  migrationSource
	target Importer
	log    zerolog.Logger
}

// migrationSource is the store being drained: its record set plus the
// persisted state machine. Satisfied by LocalStore.
type migrationSource interface {
	ListPatients(ctx context.Context) ([]*Patient, error)
	ListAssessments(ctx context.Context) ([]*Assessment, error)
	ClearRecords(ctx context.Context) error
	StateStore
}

func NewOrchestrator(local migrationSource, target Importer, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{local: local, target: target, log: log}
}

// Run executes the migration. Invoked while the state is already completed
// it is a no-op: running twice to completion would duplicate every record.
// On any failure the state reverts to not-started and the local data is left
// untouched.
func (o *Orchestrator) Run(ctx context.Context) error {
	state, err := o.local.MigrationState(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}
	if state == MigrationCompleted {
		o.log.Debug().Msg("data migration already completed, skipping")
		return nil
	}

	if err := o.local.SetMigrationState(ctx, MigrationInProgress); err != nil {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}

	if err := o.run(ctx); err != nil {
		if revertErr := o.local.SetMigrationState(ctx, MigrationNotStarted); revertErr != nil {
			o.log.Error().Err(revertErr).Msg("failed to revert migration state")
		}
		return err
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context) error {
	patients, err := o.local.ListPatients(ctx)
	if err != nil {
		return fmt.Errorf("%w: read local patients: %v", ErrMigrationFailed, err)
	}
	assessments, err := o.local.ListAssessments(ctx)
	if err != nil {
		return fmt.Errorf("%w: read local assessments: %v", ErrMigrationFailed, err)
	}

	patients, assessments = resolveLegacy(patients, assessments)

	o.log.Info().
		Int("patients", len(patients)).
		Int("assessments", len(assessments)).
		Msg("migrating local records to remote backend")

	if err := o.target.ImportBatch(ctx, patients, assessments); err != nil {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}

	// The batch has committed. From here on the migration must not report
	// failure in a way that triggers a re-run: that would duplicate every
	// record. A failed local cleanup is logged and the state still advances.
	cleared := true
	if err := o.local.ClearRecords(ctx); err != nil {
		cleared = false
		o.log.Error().Err(err).Msg("local records not cleared after successful migration; clear them manually")
	}
	if err := o.local.SetMigrationState(ctx, MigrationCompleted); err != nil {
		o.log.Error().Err(err).Msg("migration state not persisted after successful batch commit")
		// The persisted state machine must not rest in in-progress. With the
		// local records cleared a re-run imports an empty set, so not-started
		// is safe; with records still present a revert would re-import them,
		// and the in-progress marker plus the log line above is the lesser
		// evil.
		if cleared {
			if revertErr := o.local.SetMigrationState(ctx, MigrationNotStarted); revertErr != nil {
				o.log.Error().Err(revertErr).Msg("failed to revert migration state")
			}
		}
	}

	o.log.Info().Msg("data migration completed")
	return nil
}

// resolveLegacy links every legacy assessment (no patient reference) to a
// patient by the (name, date of birth) natural key: an existing patient in
// the migrated set if one matches, else a patient synthesized from the
// assessment's snapshot fields. Two legacy assessments with the same natural
// key end up referencing the same patient.
func resolveLegacy(patients []*Patient, assessments []*Assessment) ([]*Patient, []*Assessment) {
	byKey := make(map[naturalKey]uuid.UUID, len(patients))
	for _, p := range patients {
		key := naturalKeyOf(p.Name, p.DateOfBirth)
		if _, ok := byKey[key]; !ok {
			byKey[key] = p.ID
		}
	}

	for _, a := range assessments {
		if !a.Legacy() {
			continue
		}

		key := naturalKeyOf(a.PatientName, a.DateOfBirth)
		id, ok := byKey[key]
		if !ok {
			// The synthesized patient carries the canonical key fields; the
			// remote store matches them with SQL equality later.
			synthesized := &Patient{
				ID:           uuid.New(),
				Name:         strings.TrimSpace(a.PatientName),
				DateOfBirth:  strings.TrimSpace(a.DateOfBirth),
				RecordNumber: a.RecordNumber,
			}
			patients = append(patients, synthesized)
			byKey[key] = synthesized.ID
			id = synthesized.ID
		}

		pid := id
		a.PatientID = &pid
	}

	return patients, assessments
}
