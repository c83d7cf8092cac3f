package records

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestWrapErrorTaxonomy(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		if err := wrap("op", nil); err != nil {
			t.Fatalf("wrap(nil) = %v", err)
		}
	})

	t.Run("no rows is not-found", func(t *testing.T) {
		err := wrap("get patient", pgx.ErrNoRows)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if errors.Is(err, ErrBackendUnavailable) {
			t.Fatalf("missing record classified as unreachable backend: %v", err)
		}
	})

	t.Run("server error is not a reachability failure", func(t *testing.T) {
		pgErr := &pgconn.PgError{Code: "23505", Message: "duplicate key value"}
		err := wrap("create patient", pgErr)
		if errors.Is(err, ErrBackendUnavailable) {
			t.Fatalf("server response classified as unreachable backend: %v", err)
		}
		if errors.Is(err, ErrNotFound) {
			t.Fatalf("server error classified as not-found: %v", err)
		}
		var back *pgconn.PgError
		if !errors.As(err, &back) || back.Code != "23505" {
			t.Fatalf("server error not preserved in chain: %v", err)
		}
	})

	t.Run("transport error is backend-unavailable", func(t *testing.T) {
		err := wrap("list patients", errors.New("connection refused"))
		if !errors.Is(err, ErrBackendUnavailable) {
			t.Fatalf("expected ErrBackendUnavailable, got %v", err)
		}
	})
}

func TestImportIDMap(t *testing.T) {
	patients := []*Patient{
		{ID: uuid.New(), Name: "Jane Doe"},
		{ID: uuid.New(), Name: "John Roe"},
	}

	idMap := importIDMap(patients)
	if len(idMap) != 2 {
		t.Fatalf("idMap has %d entries, want 2", len(idMap))
	}
	seen := map[uuid.UUID]bool{}
	for _, p := range patients {
		fresh, ok := idMap[p.ID]
		if !ok {
			t.Fatalf("no fresh identifier for %s", p.ID)
		}
		if fresh == p.ID {
			t.Fatalf("placeholder identifier %s survived", p.ID)
		}
		if seen[fresh] {
			t.Fatalf("fresh identifier %s assigned twice", fresh)
		}
		seen[fresh] = true
	}
}

func TestResolveImportRef(t *testing.T) {
	placeholder := uuid.New()
	fresh := uuid.New()
	idMap := map[uuid.UUID]uuid.UUID{placeholder: fresh}

	t.Run("in-batch reference is remapped", func(t *testing.T) {
		ref, err := resolveImportRef(&Assessment{PatientID: &placeholder}, idMap)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if ref == nil || *ref != fresh {
			t.Fatalf("ref = %v, want %s", ref, fresh)
		}
	})

	t.Run("nil reference stays nil", func(t *testing.T) {
		ref, err := resolveImportRef(&Assessment{}, idMap)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if ref != nil {
			t.Fatalf("ref = %v, want nil", ref)
		}
	})

	t.Run("outside-batch reference is rejected", func(t *testing.T) {
		outside := uuid.New()
		if _, err := resolveImportRef(&Assessment{ID: uuid.New(), PatientID: &outside}, idMap); err == nil {
			t.Fatal("expected error for reference outside the batch")
		}
	})
}
