package errors

import (
	"database/sql"
	"fmt"
	"net/http"
	"testing"
)

func TestAppError_WrapsCause(t *testing.T) {
	err := DatabaseError("failed to upsert quarterly record", sql.ErrConnDone).WithOperation("UpsertQuarter")

	if err.Operation != "UpsertQuarter" {
		t.Errorf("expected operation UpsertQuarter, got %s", err.Operation)
	}
	if err.Unwrap() != sql.ErrConnDone {
		t.Error("expected Unwrap to return the cause")
	}
	if err.Line == 0 || err.File == "" {
		t.Error("expected caller file and line to be recorded")
	}
}

func TestIs(t *testing.T) {
	wrapped := fmt.Errorf("run: %w", PipelineBusy("pipeline already running", nil))

	if !Is(wrapped, ErrCodePipelineBusy) {
		t.Error("expected wrapped error to match PIPELINE_BUSY")
	}
	if Is(wrapped, ErrCodeNotFound) {
		t.Error("did not expect NOT_FOUND match")
	}
	if Is(fmt.Errorf("plain"), ErrCodeNotFound) {
		t.Error("plain errors never match a code")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NotFound("entity", nil), http.StatusNotFound},
		{"validation", ValidationError("weights", nil), http.StatusBadRequest},
		{"busy", PipelineBusy("busy", nil), http.StatusConflict},
		{"provider", ProviderError("fmp", nil), http.StatusBadGateway},
		{"unauthorized", Unauthorized("token", nil), http.StatusUnauthorized},
		{"plain", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}
