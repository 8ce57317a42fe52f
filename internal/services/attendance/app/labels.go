package app

import (
	"net/http"
	"strings"

	"github.com/louisbranch/rollcall/internal/services/attendance/domain"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// LangParam is the query parameter used to select a language.
const LangParam = "lang"

const (
	keyOnTime       = "attendance.bucket.on_time"
	keyLate         = "attendance.bucket.late"
	keyAbsent       = "attendance.bucket.absent"
	keyPresent      = "attendance.bucket.present"
	keyDeparted     = "attendance.bucket.departed"
	keyUnknown      = "attendance.bucket.unknown"
	keyNoAttendance = "attendance.notice.no_attendance"
)

var supportedTags = []language.Tag{
	language.AmericanEnglish,
	language.BrazilianPortuguese,
}

var tagMatcher = language.NewMatcher(supportedTags)

var labelCatalog = map[language.Tag]map[string]string{
	language.AmericanEnglish: {
		keyOnTime:       "On Time",
		keyLate:         "Late",
		keyAbsent:       "Absent",
		keyPresent:      "Present",
		keyDeparted:     "Departed",
		keyUnknown:      "Unknown",
		keyNoAttendance: "No attendance on weekends",
	},
	language.BrazilianPortuguese: {
		keyOnTime:       "No horário",
		keyLate:         "Atrasado",
		keyAbsent:       "Ausente",
		keyPresent:      "Presente",
		keyDeparted:     "Saiu",
		keyUnknown:      "Desconhecido",
		keyNoAttendance: "Sem aula nos fins de semana",
	},
}

func init() {
	for tag, messages := range labelCatalog {
		for key, value := range messages {
			if err := message.SetString(tag, key, value); err != nil {
				panic(err)
			}
		}
	}
}

// DefaultTag is the language used when nothing else matches.
func DefaultTag() language.Tag {
	return language.AmericanEnglish
}

// ResolveTag picks the label language from ?lang= and then Accept-Language.
func ResolveTag(r *http.Request) language.Tag {
	if r == nil {
		return DefaultTag()
	}
	if value := strings.TrimSpace(r.URL.Query().Get(LangParam)); value != "" {
		if tag, err := language.Parse(value); err == nil {
			return matchTag(tag)
		}
	}
	if accept := strings.TrimSpace(r.Header.Get("Accept-Language")); accept != "" {
		if tags, _, err := language.ParseAcceptLanguage(accept); err == nil && len(tags) > 0 {
			return matchTag(tags...)
		}
	}
	return DefaultTag()
}

func matchTag(tags ...language.Tag) language.Tag {
	_, index, confidence := tagMatcher.Match(tags...)
	if confidence == language.No {
		return DefaultTag()
	}
	return supportedTags[index]
}

// Labels holds display strings for one language.
type Labels struct {
	Language     string                     `json:"language"`
	Categories   map[domain.Category]string `json:"categories"`
	NoAttendance string                     `json:"no_attendance"`
}

// LabelsFor renders every category label for tag.
func LabelsFor(tag language.Tag) Labels {
	tag = matchTag(tag)
	printer := message.NewPrinter(tag)
	categories := []domain.Category{
		domain.CategoryOnTime,
		domain.CategoryLate,
		domain.CategoryAbsent,
		domain.CategoryPresent,
		domain.CategoryDeparted,
		domain.CategoryUnknown,
	}
	labels := Labels{
		Language:     tag.String(),
		Categories:   make(map[domain.Category]string, len(categories)),
		NoAttendance: printer.Sprintf(keyNoAttendance),
	}
	for _, category := range categories {
		labels.Categories[category] = categoryLabel(printer, category)
	}
	return labels
}

func categoryLabel(printer *message.Printer, category domain.Category) string {
	switch category {
	case domain.CategoryOnTime:
		return printer.Sprintf(keyOnTime)
	case domain.CategoryLate:
		return printer.Sprintf(keyLate)
	case domain.CategoryAbsent:
		return printer.Sprintf(keyAbsent)
	case domain.CategoryPresent:
		return printer.Sprintf(keyPresent)
	case domain.CategoryDeparted:
		return printer.Sprintf(keyDeparted)
	case domain.CategoryUnknown:
		return printer.Sprintf(keyUnknown)
	default:
		return string(category)
	}
}
