package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := Wrap(CodeMirrorSubscriptionFailed, "roster listener closed", stderrors.New("boom"))
	wrapped := fmt.Errorf("engine: %w", err)

	if !stderrors.Is(wrapped, New(CodeMirrorSubscriptionFailed, "")) {
		t.Fatal("expected wrapped error to match by code")
	}
	if stderrors.Is(wrapped, New(CodeRecordSubscriptionFailed, "")) {
		t.Fatal("expected different code not to match")
	}
}

func TestErrorUnwrapReturnsCause(t *testing.T) {
	cause := stderrors.New("disk gone")
	err := Wrap(CodeUnknown, "read roster", cause)

	if !stderrors.Is(err, cause) {
		t.Fatal("expected errors.Is to reach the cause")
	}
}

func TestErrorMessageFallsBackToCause(t *testing.T) {
	err := Wrap(CodeUnknown, "", stderrors.New("disk gone"))
	if err.Error() != "disk gone" {
		t.Fatalf("error = %q, want %q", err.Error(), "disk gone")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(fmt.Errorf("x: %w", New(CodeConfigurationInvalidMode, "bad"))); got != CodeConfigurationInvalidMode {
		t.Fatalf("code = %q, want %q", got, CodeConfigurationInvalidMode)
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("code = %q, want %q", got, CodeUnknown)
	}
}

func TestCodeHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeConfigurationInvalidMode, http.StatusBadRequest},
		{CodeConfigurationInvalidDate, http.StatusBadRequest},
		{CodeConfigurationEmptySection, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeMirrorSubscriptionFailed, http.StatusServiceUnavailable},
		{CodeUnknown, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := tc.code.HTTPStatus(); got != tc.want {
			t.Fatalf("%s status = %d, want %d", tc.code, got, tc.want)
		}
	}
}
