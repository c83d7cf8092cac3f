package records

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// flakyStateSource fails the first attempt to persist the completed state.
type flakyStateSource struct {
	*LocalStore
	failedOnce bool
}

func (f *flakyStateSource) SetMigrationState(ctx context.Context, state MigrationState) error {
	if state == MigrationCompleted && !f.failedOnce {
		f.failedOnce = true
		return errors.New("disk full")
	}
	return f.LocalStore.SetMigrationState(ctx, state)
}

// mockImporter stands in for the remote batch write.
type mockImporter struct {
	calls       int
	patients    []*Patient
	assessments []*Assessment
	err         error
}

func (m *mockImporter) ImportBatch(ctx context.Context, patients []*Patient, assessments []*Assessment) error {
	m.calls++
	if m.err != nil {
		return m.err
	}
	m.patients = patients
	m.assessments = assessments
	return nil
}

func seedLocal(t *testing.T, store *LocalStore, patients int, perPatient int) []*Patient {
	t.Helper()
	ctx := context.Background()

	var created []*Patient
	for i := 0; i < patients; i++ {
		p := &Patient{Name: "Patient " + string(rune('A'+i)), DateOfBirth: "1970-01-01"}
		if err := store.CreatePatient(ctx, p); err != nil {
			t.Fatal(err)
		}
		created = append(created, p)

		for j := 0; j < perPatient; j++ {
			id := p.ID
			if err := store.CreateAssessment(ctx, &Assessment{PatientID: &id, PatientName: p.Name}); err != nil {
				t.Fatal(err)
			}
		}
	}
	return created
}

func TestMigrationMovesEverything(t *testing.T) {
	ctx := context.Background()
	local := openTestLocal(t)
	seedLocal(t, local, 2, 0)

	// Third assessment hangs off the first patient.
	patients, _ := local.ListPatients(ctx)
	for i := 0; i < 3; i++ {
		id := patients[0].ID
		if err := local.CreateAssessment(ctx, &Assessment{PatientID: &id}); err != nil {
			t.Fatal(err)
		}
	}

	target := &mockImporter{}
	orch := NewOrchestrator(local, target, zerolog.Nop())

	if err := orch.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(target.patients) != 2 || len(target.assessments) != 3 {
		t.Fatalf("imported %d patients / %d assessments, want 2 / 3",
			len(target.patients), len(target.assessments))
	}

	// Local store emptied, state completed.
	remaining, err := local.ListPatients(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 0 {
		t.Fatalf("local patients not cleared: %d left", len(remaining))
	}
	state, err := local.MigrationState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if state != MigrationCompleted {
		t.Fatalf("state = %s, want %s", state, MigrationCompleted)
	}
}

func TestMigrationIsIdempotentAfterCompletion(t *testing.T) {
	ctx := context.Background()
	local := openTestLocal(t)
	seedLocal(t, local, 1, 1)

	target := &mockImporter{}
	orch := NewOrchestrator(local, target, zerolog.Nop())

	if err := orch.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if err := orch.Run(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if target.calls != 1 {
		t.Fatalf("importer called %d times, want exactly once", target.calls)
	}
}

func TestMigrationFailureRevertsState(t *testing.T) {
	ctx := context.Background()
	local := openTestLocal(t)
	seedLocal(t, local, 1, 2)

	target := &mockImporter{err: errors.New("connection reset")}
	orch := NewOrchestrator(local, target, zerolog.Nop())

	err := orch.Run(ctx)
	if !errors.Is(err, ErrMigrationFailed) {
		t.Fatalf("expected ErrMigrationFailed, got %v", err)
	}

	// State reverted so a retry is possible; local data untouched.
	state, stateErr := local.MigrationState(ctx)
	if stateErr != nil {
		t.Fatal(stateErr)
	}
	if state != MigrationNotStarted {
		t.Fatalf("state = %s, want %s", state, MigrationNotStarted)
	}

	patients, _ := local.ListPatients(ctx)
	assessments, _ := local.ListAssessments(ctx)
	if len(patients) != 1 || len(assessments) != 2 {
		t.Fatalf("local data changed after failed migration: %d patients, %d assessments",
			len(patients), len(assessments))
	}

	// A retry against a working target succeeds.
	target.err = nil
	if err := orch.Run(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	state, _ = local.MigrationState(ctx)
	if state != MigrationCompleted {
		t.Fatalf("state after retry = %s, want %s", state, MigrationCompleted)
	}
}

// The persisted state may not rest in in-progress: if the completed write
// fails after the batch committed and the local store was drained, the state
// falls back to not-started, where a re-run is a harmless import of nothing.
func TestMigrationStateNeverRestsInProgress(t *testing.T) {
	ctx := context.Background()
	local := openTestLocal(t)
	seedLocal(t, local, 1, 1)

	src := &flakyStateSource{LocalStore: local}
	orch := NewOrchestrator(src, &mockImporter{}, zerolog.Nop())

	// The batch committed, so the run itself reports success.
	if err := orch.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	state, err := local.MigrationState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if state == MigrationInProgress {
		t.Fatal("state parked in in-progress after failed completed write")
	}
	if state != MigrationNotStarted {
		t.Fatalf("state = %s, want %s", state, MigrationNotStarted)
	}

	// The next run drains the already-empty store and completes cleanly.
	if err := orch.Run(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	state, err = local.MigrationState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if state != MigrationCompleted {
		t.Fatalf("state after second run = %s, want %s", state, MigrationCompleted)
	}
}

func TestMigrationResolvesLegacyAssessments(t *testing.T) {
	ctx := context.Background()
	local := openTestLocal(t)

	// Two legacy assessments for the same person, no patient reference.
	for i := 0; i < 2; i++ {
		err := local.CreateAssessment(ctx, &Assessment{
			PatientName: "Jane Doe",
			DateOfBirth: "1980-01-01",
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	// And one for somebody else.
	if err := local.CreateAssessment(ctx, &Assessment{PatientName: "John Roe", DateOfBirth: "1975-06-15"}); err != nil {
		t.Fatal(err)
	}

	target := &mockImporter{}
	orch := NewOrchestrator(local, target, zerolog.Nop())
	if err := orch.Run(ctx); err != nil {
		t.Fatal(err)
	}

	if len(target.patients) != 2 {
		t.Fatalf("deduplication synthesized %d patients, want 2", len(target.patients))
	}

	var janeID uuid.UUID
	for _, p := range target.patients {
		if p.Name == "Jane Doe" {
			janeID = p.ID
		}
	}
	if janeID == uuid.Nil {
		t.Fatal("no synthesized patient for Jane Doe")
	}

	janeCount := 0
	for _, a := range target.assessments {
		if a.PatientID == nil {
			t.Fatalf("legacy assessment left unresolved: %+v", a)
		}
		if *a.PatientID == janeID {
			janeCount++
		}
	}
	if janeCount != 2 {
		t.Fatalf("%d assessments reference Jane Doe, want 2", janeCount)
	}
}

// Padded natural-key fields must not split one person into two patients, and
// synthesized patients must carry canonical fields so the remote equality
// matches them later.
func TestMigrationNormalizesLegacyKeys(t *testing.T) {
	ctx := context.Background()
	local := openTestLocal(t)

	jane := &Patient{Name: "Jane Doe", DateOfBirth: "1980-01-01"}
	if err := local.CreatePatient(ctx, jane); err != nil {
		t.Fatal(err)
	}
	if err := local.CreateAssessment(ctx, &Assessment{PatientName: "  Jane Doe ", DateOfBirth: " 1980-01-01 "}); err != nil {
		t.Fatal(err)
	}
	if err := local.CreateAssessment(ctx, &Assessment{PatientName: " John Roe ", DateOfBirth: "1975-06-15"}); err != nil {
		t.Fatal(err)
	}

	target := &mockImporter{}
	orch := NewOrchestrator(local, target, zerolog.Nop())
	if err := orch.Run(ctx); err != nil {
		t.Fatal(err)
	}

	if len(target.patients) != 2 {
		t.Fatalf("padded key split into %d patients, want 2", len(target.patients))
	}
	for _, p := range target.patients {
		switch p.Name {
		case "Jane Doe":
			if p.ID != jane.ID {
				t.Fatalf("padded key did not match the existing patient: %s", p.ID)
			}
		case "John Roe":
			if p.DateOfBirth != "1975-06-15" {
				t.Fatalf("synthesized patient fields not canonical: %+v", p)
			}
		default:
			t.Fatalf("synthesized patient with untrimmed name %q", p.Name)
		}
	}
}

func TestMigrationPrefersExistingPatient(t *testing.T) {
	ctx := context.Background()
	local := openTestLocal(t)

	jane := &Patient{Name: "Jane Doe", DateOfBirth: "1980-01-01"}
	if err := local.CreatePatient(ctx, jane); err != nil {
		t.Fatal(err)
	}
	if err := local.CreateAssessment(ctx, &Assessment{PatientName: "Jane Doe", DateOfBirth: "1980-01-01"}); err != nil {
		t.Fatal(err)
	}

	target := &mockImporter{}
	orch := NewOrchestrator(local, target, zerolog.Nop())
	if err := orch.Run(ctx); err != nil {
		t.Fatal(err)
	}

	if len(target.patients) != 1 {
		t.Fatalf("expected the existing patient to be reused, got %d patients", len(target.patients))
	}
	if got := target.assessments[0].PatientID; got == nil || *got != jane.ID {
		t.Fatalf("assessment not linked to the existing patient: %v", got)
	}
}
