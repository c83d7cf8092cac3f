package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func okHandler(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func TestRequestID(t *testing.T) {
	t.Run("assigned when absent", func(t *testing.T) {
		e := echo.New()
		e.Use(RequestID())
		e.GET("/", okHandler)

		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		rid := rec.Header().Get("X-Request-ID")
		if rid == "" {
			t.Fatal("no request id assigned")
		}
		if _, err := uuid.Parse(rid); err != nil {
			t.Fatalf("request id %q is not a uuid: %v", rid, err)
		}
	})

	t.Run("caller's id is kept", func(t *testing.T) {
		e := echo.New()
		e.Use(RequestID())
		e.GET("/", okHandler)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "caller-chosen")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		if got := rec.Header().Get("X-Request-ID"); got != "caller-chosen" {
			t.Fatalf("request id = %q, want caller-chosen", got)
		}
	})
}

func TestLoggerRecordsRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := echo.New()
	e.Use(RequestID(), Logger(logger))
	e.GET("/patients", okHandler)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/patients", nil))

	out := buf.String()
	for _, want := range []string{`"method":"GET"`, `"path":"/patients"`, `"status":200`} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %s: %s", want, out)
		}
	}
}

func TestLoggerPassesErrorThrough(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	boom := errors.New("boom")

	e := echo.New()
	called := false
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		called = true
		if !errors.Is(err, boom) {
			t.Errorf("error handler got %v, want boom", err)
		}
		_ = c.NoContent(http.StatusInternalServerError)
	}
	e.Use(Logger(logger))
	e.GET("/", func(c echo.Context) error { return boom })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if !called {
		t.Fatal("handler error swallowed by the logger")
	}
}

func TestRecoveryContainsPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := echo.New()
	e.Use(Recovery(logger))
	e.GET("/", func(c echo.Context) error { panic("corrupt record") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	out := buf.String()
	if !strings.Contains(out, "panic recovered") || !strings.Contains(out, "corrupt record") {
		t.Fatalf("panic not logged: %s", out)
	}
}
