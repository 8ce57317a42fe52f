package app

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	apperrors "github.com/louisbranch/rollcall/internal/platform/errors"
	"github.com/louisbranch/rollcall/internal/services/attendance/domain"
	"github.com/louisbranch/rollcall/internal/services/attendance/engine"
)

func doRequest(t *testing.T, method, url, body string, header http.Header) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func TestUpReturnsOK(t *testing.T) {
	srv := newTestServer(t, startBoard(t, seededStore(t)))

	resp := doRequest(t, http.MethodGet, srv.URL+"/up", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "OK" {
		t.Fatalf("body = %q, want OK", body)
	}
}

func TestStateReturnsBoardWithLabels(t *testing.T) {
	srv := newTestServer(t, startBoard(t, seededStore(t)))

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/state?lang=pt-BR", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	state := decodeBody[stateResponse](t, resp)
	if state.View.Counts[domain.CategoryLate] != 1 || state.View.Counts[domain.CategoryAbsent] != 1 {
		t.Fatalf("counts = %v", state.View.Counts)
	}
	if state.Labels.Language != "pt-BR" {
		t.Fatalf("language = %q, want pt-BR", state.Labels.Language)
	}
	if state.Labels.Categories[domain.CategoryLate] != "Atrasado" {
		t.Fatalf("late label = %q", state.Labels.Categories[domain.CategoryLate])
	}
	if state.Selection.Section != "Zara" {
		t.Fatalf("selection section = %q", state.Selection.Section)
	}
}

func TestSectionsListsMirrorOrder(t *testing.T) {
	srv := newTestServer(t, startBoard(t, seededStore(t)))

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/sections", "", nil)
	got := decodeBody[map[string][]string](t, resp)["sections"]
	if len(got) != 2 || got[0] != "Zara" || got[1] != "Rizal" {
		t.Fatalf("sections = %v, want [Zara Rizal]", got)
	}
}

func TestPutSelectionAppliesPatch(t *testing.T) {
	board := startBoard(t, seededStore(t))
	srv := newTestServer(t, board)

	resp := doRequest(t, http.MethodPut, srv.URL+"/api/selection", `{"section":"Rizal","mode":"time_out"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decodeBody[map[string]domain.Selection](t, resp)["selection"]
	if got.Section != "Rizal" || got.Mode != domain.ModeTimeOut || got.Date != friday {
		t.Fatalf("selection = %+v", got)
	}

	waitForState(t, board, "rizal board", func(s engine.State) bool {
		return s.View.Section == "Rizal" && s.View.Mode == domain.ModeTimeOut && !s.Loading &&
			s.View.Counts[domain.CategoryPresent] == 1
	})
}

func TestPutSelectionRejectsConfigurationErrors(t *testing.T) {
	board := startBoard(t, seededStore(t))
	srv := newTestServer(t, board)

	tests := []struct {
		name string
		body string
		code apperrors.Code
	}{
		{name: "mode", body: `{"mode":"lunch"}`, code: apperrors.CodeConfigurationInvalidMode},
		{name: "date", body: `{"date":"2026-13-40"}`, code: apperrors.CodeConfigurationInvalidDate},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodPut, srv.URL+"/api/selection", tc.body, nil)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			got := decodeBody[errorEnvelope](t, resp)
			if got.Error.Code != string(tc.code) {
				t.Fatalf("code = %q, want %q", got.Error.Code, tc.code)
			}
		})
	}
	if got := board.Selection(); got.Mode != domain.ModeTimeIn || got.Date != friday {
		t.Fatalf("selection changed to %+v", got)
	}
}

func TestPutSelectionRejectsMalformedBody(t *testing.T) {
	srv := newTestServer(t, startBoard(t, seededStore(t)))

	resp := doRequest(t, http.MethodPut, srv.URL+"/api/selection", `{"section":`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if got := decodeBody[errorEnvelope](t, resp); got.Error.Code != "INVALID_ARGUMENT" {
		t.Fatalf("code = %q, want INVALID_ARGUMENT", got.Error.Code)
	}
}

func TestRetryRecoversRosterFailure(t *testing.T) {
	store := seededStore(t)
	board := startBoard(t, store)
	srv := newTestServer(t, board)

	store.FailRoster(errorString("roster unavailable"))
	waitForState(t, board, "roster error", func(s engine.State) bool { return !s.Healthy() })

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/state", "", nil)
	state := decodeBody[stateResponse](t, resp)
	if state.Error != "roster unavailable" {
		t.Fatalf("error = %q", state.Error)
	}

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/retry", "", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	waitForState(t, board, "recovered board", func(s engine.State) bool { return s.Healthy() && !s.Loading })
}

func TestWrongMethodIsRejected(t *testing.T) {
	srv := newTestServer(t, startBoard(t, seededStore(t)))

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/state", "", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); !strings.Contains(allow, http.MethodGet) {
		t.Fatalf("allow = %q", allow)
	}
}

type errorString string

func (e errorString) Error() string { return string(e) }
