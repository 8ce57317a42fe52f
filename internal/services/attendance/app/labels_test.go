package app

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/louisbranch/rollcall/internal/services/attendance/domain"
	"golang.org/x/text/language"
)

func TestResolveTag(t *testing.T) {
	tests := []struct {
		name   string
		target string
		accept string
		want   string
	}{
		{name: "default", target: "/api/state", want: "en-US"},
		{name: "query", target: "/api/state?lang=pt-BR", want: "pt-BR"},
		{name: "query base language", target: "/api/state?lang=pt", want: "pt-BR"},
		{name: "accept language", target: "/api/state", accept: "pt-BR,pt;q=0.9", want: "pt-BR"},
		{name: "query wins", target: "/api/state?lang=en-US", accept: "pt-BR", want: "en-US"},
		{name: "unsupported", target: "/api/state?lang=ja", want: "en-US"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.target, nil)
			if tc.accept != "" {
				req.Header.Set("Accept-Language", tc.accept)
			}
			if got := ResolveTag(req).String(); got != tc.want {
				t.Fatalf("ResolveTag() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestLabelsForCoversEveryCategory(t *testing.T) {
	for _, tag := range supportedTags {
		labels := LabelsFor(tag)
		for _, category := range []domain.Category{
			domain.CategoryOnTime, domain.CategoryLate, domain.CategoryAbsent,
			domain.CategoryPresent, domain.CategoryDeparted, domain.CategoryUnknown,
		} {
			label := labels.Categories[category]
			if label == "" || strings.HasPrefix(label, "attendance.") {
				t.Fatalf("%s: missing label for %s", tag, category)
			}
		}
		if labels.NoAttendance == "" {
			t.Fatalf("%s: missing no attendance notice", tag)
		}
	}
}

func TestLabelsForPortuguese(t *testing.T) {
	labels := LabelsFor(language.BrazilianPortuguese)
	if labels.Categories[domain.CategoryAbsent] != "Ausente" {
		t.Fatalf("absent = %q, want Ausente", labels.Categories[domain.CategoryAbsent])
	}
	if labels.Language != "pt-BR" {
		t.Fatalf("language = %q", labels.Language)
	}
}
