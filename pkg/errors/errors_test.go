package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized},
		{code: CodeNotFound, status: http.StatusNotFound},
		{code: CodeConflict, status: http.StatusConflict},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, detailsOK: true},
		{code: CodeInternal, status: http.StatusInternalServerError, retryable: true},
		{code: CodeDependency, status: http.StatusInternalServerError, retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
		if meta.PublicMessage == "" {
			t.Fatalf("code %s missing public message", tt.code)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeDependency, cause, "create subscription")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if !strings.Contains(wrapped.Error(), "boom") {
		t.Fatalf("expected cause in message, got %q", wrapped.Error())
	}
	if Wrap(CodeInternal, nil, "x").Unwrap() != nil {
		t.Fatalf("wrapping nil should not set a cause")
	}
}

func TestHasCodeThroughFmtWrapping(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", New(CodeNotFound, "order missing"))
	if !HasCode(err, CodeNotFound) {
		t.Fatalf("expected HasCode to see through fmt wrapping")
	}
	if HasCode(err, CodeConflict) {
		t.Fatalf("unexpected conflict code")
	}
	if HasCode(nil, CodeNotFound) {
		t.Fatalf("nil error has no code")
	}
}

func TestWithDetails(t *testing.T) {
	err := Newf(CodeValidation, "missing %s", "planId").WithDetails(map[string]any{"field": "planId"})
	if err.Message() != "missing planId" {
		t.Fatalf("unexpected message %q", err.Message())
	}
	if err.Details() == nil {
		t.Fatalf("details should be preserved")
	}
}

func TestDumpExtractsPgDetails(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_payment_events_reference", TableName: "payment_events"}
	err := Wrap(CodeConflict, fmt.Errorf("insert: %w", pgErr), "ledger insert")

	d := Dump(err)
	if d.Code != CodeConflict {
		t.Fatalf("expected conflict code, got %s", d.Code)
	}
	if d.PGCode != "23505" || d.PGConstraint != "ux_payment_events_reference" {
		t.Fatalf("unexpected pg fields %+v", d)
	}
	if len(d.Chain) < 3 {
		t.Fatalf("expected full chain, got %v", d.Chain)
	}
}

type upstreamErr struct{ status int }

func (e upstreamErr) Error() string   { return "upstream failed" }
func (e upstreamErr) HTTPStatus() int { return e.status }

func TestDumpReportsProviderStatus(t *testing.T) {
	err := Wrap(CodeDependency, upstreamErr{status: 502}, "create paystack subscription")

	d := Dump(err)
	if d.ProviderStatus != 502 {
		t.Fatalf("expected provider status 502, got %d", d.ProviderStatus)
	}
	fields := d.Fields()
	if fields["provider_status"] != 502 {
		t.Fatalf("expected provider_status field, got %v", fields)
	}
	if _, ok := fields["pg_code"]; ok {
		t.Fatalf("empty pg fields should be omitted: %v", fields)
	}
	if fields["retryable"] != true {
		t.Fatalf("dependency errors should be retryable: %v", fields)
	}
}
