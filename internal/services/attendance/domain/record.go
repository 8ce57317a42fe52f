package domain

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/rollcall/internal/platform/errors"
)

// Status is the recorded arrival outcome for one student on one day.
type Status string

// Status values use the labels the check-in kiosk writes.
const (
	StatusOnTime Status = "On Time"
	StatusLate   Status = "Late"
	StatusAbsent Status = "absent"
)

// ParseStatus normalizes a stored or user-supplied status token.
//
// Matching ignores case and separators, so "on_time", "ON TIME" and "On Time"
// are the same status. An empty token is treated as absent.
func ParseStatus(raw string) (Status, error) {
	token := strings.ToLower(strings.TrimSpace(raw))
	token = strings.NewReplacer("_", "", "-", "", " ", "").Replace(token)
	switch token {
	case "ontime":
		return StatusOnTime, nil
	case "late":
		return StatusLate, nil
	case "", "absent":
		return StatusAbsent, nil
	default:
		return "", apperrors.WithMetadata(
			apperrors.CodeConfigurationInvalidStatus,
			fmt.Sprintf("unknown attendance status %q", raw),
			map[string]string{"Status": raw},
		)
	}
}

// DailyRecord is the attendance document stored for (student, date).
type DailyRecord struct {
	Status  Status     `json:"status"`
	TimeIn  *time.Time `json:"time_in,omitempty"`
	TimeOut *time.Time `json:"time_out,omitempty"`
}

// Departed reports whether a time-out has been recorded.
func (r DailyRecord) Departed() bool {
	return r.TimeOut != nil
}

// RecordSnapshot is one delivery from a record subscription.
type RecordSnapshot struct {
	Exists bool
	Record DailyRecord
}

// RecordState is the latest knowledge about one student's record.
//
// The zero value means the document does not exist, which classifies exactly
// like an explicit absent record.
type RecordState struct {
	Record *DailyRecord
	Err    error
}

// StateFromSnapshot converts a delivered snapshot into a record state.
func StateFromSnapshot(snapshot RecordSnapshot) RecordState {
	if !snapshot.Exists {
		return RecordState{}
	}
	record := snapshot.Record
	return RecordState{Record: &record}
}

// UnknownState marks a record whose subscription failed.
func UnknownState(err error) RecordState {
	if err == nil {
		err = apperrors.New(apperrors.CodeRecordSubscriptionFailed, "record subscription failed")
	}
	return RecordState{Err: err}
}

// Unknown reports whether the record could not be observed.
func (s RecordState) Unknown() bool {
	return s.Err != nil
}

// status returns the effective status; a missing record is absent.
func (s RecordState) status() Status {
	if s.Record == nil {
		return StatusAbsent
	}
	if s.Record.Status == "" {
		return StatusAbsent
	}
	return s.Record.Status
}

// departed returns whether the student left; a missing record has not.
func (s RecordState) departed() bool {
	return s.Record != nil && s.Record.Departed()
}
