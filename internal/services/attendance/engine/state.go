package engine

import (
	"github.com/louisbranch/rollcall/internal/services/attendance/domain"
)

// State is the engine output consumed by the presentation boundary.
type State struct {
	// Loading is set until the roster has been mirrored and every live record
	// subscription has delivered once.
	Loading bool `json:"loading"`
	// Error carries the fatal roster subscription error verbatim.
	Error     string           `json:"error,omitempty"`
	ErrorCode string           `json:"error_code,omitempty"`
	Selection domain.Selection `json:"selection"`
	View      domain.View      `json:"view"`
	Sections  []string         `json:"sections"`
	// PartialFailures counts students whose record could not be observed.
	PartialFailures   int    `json:"partial_failures"`
	LiveSubscriptions int    `json:"live_subscriptions"`
	Generation        uint64 `json:"generation"`
	Version           uint64 `json:"version"`
}

// Healthy reports whether the roster subscription is alive.
func (s State) Healthy() bool {
	return s.Error == ""
}

func cloneState(s State) State {
	cp := s
	cp.Sections = append([]string(nil), s.Sections...)
	cp.View.Buckets = make([]domain.Bucket, len(s.View.Buckets))
	for i, bucket := range s.View.Buckets {
		cp.View.Buckets[i] = domain.Bucket{
			Category: bucket.Category,
			Students: append([]domain.Student{}, bucket.Students...),
		}
	}
	cp.View.Counts = make(map[domain.Category]int, len(s.View.Counts))
	for category, count := range s.View.Counts {
		cp.View.Counts[category] = count
	}
	return cp
}
