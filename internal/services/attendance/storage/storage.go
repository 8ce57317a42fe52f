// Package storage defines the remote store contracts the attendance engine
// subscribes to.
//
// Implementations deliver complete snapshots, never deltas. Deliveries for one
// subscription arrive in emission order; deliveries across subscriptions have
// no relative order. After a CancelFunc returns, the implementation must not
// invoke that subscription's callbacks again. Callbacks must not block: the
// engine only enqueues work from them.
package storage

import (
	"context"

	"github.com/louisbranch/rollcall/internal/services/attendance/domain"
)

// CancelFunc tears down one subscription. It is safe to call more than once.
type CancelFunc func()

// RosterSubscriber opens the standing roster subscription.
type RosterSubscriber interface {
	// SubscribeRoster delivers the full roster on every change. After onError
	// fires the subscription is dead and delivers nothing else.
	SubscribeRoster(onSnapshot func([]domain.Student), onError func(error)) CancelFunc
}

// RecordSubscriber opens per-student, per-date record subscriptions.
type RecordSubscriber interface {
	// SubscribeRecord delivers existence plus fields of the record for
	// (studentID, date) on every change. After onError fires the
	// subscription is dead and delivers nothing else.
	SubscribeRecord(studentID string, date domain.Date, onSnapshot func(domain.RecordSnapshot), onError func(error)) CancelFunc
}

// Store is the remote store collaborator of the engine.
type Store interface {
	RosterSubscriber
	RecordSubscriber
}

// RosterWriter mutates the roster. The engine never writes; the seed command
// and tests do.
type RosterWriter interface {
	PutStudent(ctx context.Context, student domain.Student) error
	DeleteStudent(ctx context.Context, studentID string) error
}

// RecordWriter mutates daily records.
type RecordWriter interface {
	PutRecord(ctx context.Context, studentID string, date domain.Date, record domain.DailyRecord) error
	DeleteRecord(ctx context.Context, studentID string, date domain.Date) error
}
