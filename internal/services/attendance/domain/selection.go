package domain

import (
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/rollcall/internal/platform/errors"
)

// Mode selects which pair of categories the board shows.
type Mode string

const (
	// ModeTimeIn splits students into on time, late and absent.
	ModeTimeIn Mode = "time_in"
	// ModeTimeOut splits students into present and departed.
	ModeTimeOut Mode = "time_out"
)

// ParseMode validates a mode token coming from the presentation boundary.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "time_in", "timein", "time-in", "in":
		return ModeTimeIn, nil
	case "time_out", "timeout", "time-out", "out":
		return ModeTimeOut, nil
	default:
		return "", apperrors.WithMetadata(
			apperrors.CodeConfigurationInvalidMode,
			fmt.Sprintf("unknown display mode %q", raw),
			map[string]string{"Mode": raw},
		)
	}
}

// Selection is the control input owned by the presentation boundary.
type Selection struct {
	Section string `json:"section"`
	Date    Date   `json:"date"`
	Mode    Mode   `json:"mode"`
}

// Validate rejects selections the engine cannot act on.
func (s Selection) Validate() error {
	if strings.TrimSpace(s.Section) == "" {
		return apperrors.New(apperrors.CodeConfigurationEmptySection, "section is required")
	}
	if s.Date.IsZero() {
		return apperrors.New(apperrors.CodeConfigurationInvalidDate, "date is required")
	}
	if _, err := ParseMode(string(s.Mode)); err != nil {
		return err
	}
	return nil
}

// SelectionPatch carries a partial update; empty fields keep current values.
type SelectionPatch struct {
	Section string `json:"section,omitempty"`
	Date    string `json:"date,omitempty"`
	Mode    string `json:"mode,omitempty"`
}

// Apply merges the patch into current and validates the result.
func (p SelectionPatch) Apply(current Selection) (Selection, error) {
	next := current
	if section := strings.TrimSpace(p.Section); section != "" {
		next.Section = section
	}
	if strings.TrimSpace(p.Date) != "" {
		date, err := ParseDate(p.Date)
		if err != nil {
			return current, err
		}
		next.Date = date
	}
	if strings.TrimSpace(p.Mode) != "" {
		mode, err := ParseMode(p.Mode)
		if err != nil {
			return current, err
		}
		next.Mode = mode
	}
	if err := next.Validate(); err != nil {
		return current, err
	}
	return next, nil
}
