package engine

import (
	"context"
	"fmt"
	"log"

	apperrors "github.com/louisbranch/rollcall/internal/platform/errors"
	"github.com/louisbranch/rollcall/internal/services/attendance/domain"
	"github.com/louisbranch/rollcall/internal/services/attendance/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/louisbranch/rollcall/internal/services/attendance/engine"

// Cascade keeps exactly one record subscription per active student for the
// selected date.
//
// Reconcile cancels every live handle before opening the next generation.
// Deliveries are tagged with the generation that opened them and dropped once
// that generation is superseded, so a late callback from a cancelled handle
// can never overwrite fresher state. All methods run on the owner's loop.
type Cascade struct {
	store    storage.RecordSubscriber
	dispatch func(func())
	onChange func()
	tracer   trace.Tracer

	generation uint64
	date       domain.Date
	handles    map[string]storage.CancelFunc
	records    map[string]domain.RecordState
	pending    map[string]struct{}
	failures   int
	discarded  uint64
}

// NewCascade builds a cascade. onChange runs on the dispatch loop after every
// accepted delivery.
func NewCascade(store storage.RecordSubscriber, dispatch func(func()), onChange func()) *Cascade {
	return &Cascade{
		store:    store,
		dispatch: dispatch,
		onChange: onChange,
		tracer:   otel.Tracer(tracerName),
		handles:  map[string]storage.CancelFunc{},
		records:  map[string]domain.RecordState{},
		pending:  map[string]struct{}{},
	}
}

// Reconcile replaces the live handle set with {(s.ID, date) : s in active}.
//
// Known records for students that stay active on the same date are carried
// into the new generation until their new handle delivers; everything else is
// forgotten.
func (c *Cascade) Reconcile(ctx context.Context, active []domain.Student, date domain.Date) {
	if ctx == nil {
		ctx = context.Background()
	}
	_, span := c.tracer.Start(ctx, "attendance.reconcile")
	defer span.End()

	c.cancelAll()
	c.generation++
	generation := c.generation
	sameDate := c.date == date
	c.date = date

	previous := c.records
	c.records = make(map[string]domain.RecordState, len(active))
	c.pending = make(map[string]struct{}, len(active))
	c.failures = 0

	for _, student := range active {
		studentID := student.ID
		if _, open := c.handles[studentID]; open {
			continue
		}
		if state, ok := previous[studentID]; ok && sameDate && !state.Unknown() {
			c.records[studentID] = state
		}
		c.pending[studentID] = struct{}{}
		c.handles[studentID] = c.store.SubscribeRecord(studentID, date,
			func(snapshot domain.RecordSnapshot) {
				c.dispatch(func() { c.apply(generation, studentID, domain.StateFromSnapshot(snapshot)) })
			},
			func(err error) {
				c.dispatch(func() { c.fail(generation, studentID, err) })
			},
		)
	}

	span.SetAttributes(
		attribute.String("attendance.date", date.String()),
		attribute.Int64("attendance.generation", int64(generation)),
		attribute.Int("attendance.handles", len(c.handles)),
	)
}

// Close cancels every handle; deliveries still in flight are dropped.
func (c *Cascade) Close() {
	c.cancelAll()
	c.generation++
	c.records = map[string]domain.RecordState{}
	c.pending = map[string]struct{}{}
	c.failures = 0
}

// LiveHandles is the number of open record subscriptions.
func (c *Cascade) LiveHandles() int {
	return len(c.handles)
}

// Live reports whether a handle for studentID is open.
func (c *Cascade) Live(studentID string) bool {
	_, ok := c.handles[studentID]
	return ok
}

// Generation is the tag of the current handle cohort.
func (c *Cascade) Generation() uint64 {
	return c.generation
}

// Date is the date of the current handle cohort.
func (c *Cascade) Date() domain.Date {
	return c.date
}

// Records returns the latest known state per student. Callers must not
// modify the map.
func (c *Cascade) Records() map[string]domain.RecordState {
	return c.records
}

// Pending is the number of live handles that have not delivered yet.
func (c *Cascade) Pending() int {
	return len(c.pending)
}

// Failures is the number of live handles whose subscription failed.
func (c *Cascade) Failures() int {
	return c.failures
}

// Discarded counts deliveries dropped because their generation was stale.
func (c *Cascade) Discarded() uint64 {
	return c.discarded
}

func (c *Cascade) accept(generation uint64, studentID string) bool {
	if generation != c.generation {
		c.discarded++
		return false
	}
	if _, open := c.handles[studentID]; !open {
		c.discarded++
		return false
	}
	return true
}

func (c *Cascade) apply(generation uint64, studentID string, state domain.RecordState) {
	if !c.accept(generation, studentID) {
		return
	}
	if previous, ok := c.records[studentID]; ok && previous.Unknown() {
		// A failed subscription delivers nothing else.
		return
	}
	c.records[studentID] = state
	delete(c.pending, studentID)
	if c.onChange != nil {
		c.onChange()
	}
}

func (c *Cascade) fail(generation uint64, studentID string, err error) {
	if !c.accept(generation, studentID) {
		return
	}
	if previous, ok := c.records[studentID]; ok && previous.Unknown() {
		return
	}
	log.Printf("attendance cascade: record subscription for %s on %s failed: %v", studentID, c.date, err)
	c.records[studentID] = domain.UnknownState(apperrors.WrapWithMetadata(
		apperrors.CodeRecordSubscriptionFailed,
		fmt.Sprintf("record subscription for %s failed", studentID),
		map[string]string{"StudentID": studentID, "Date": c.date.String()},
		err,
	))
	c.failures++
	delete(c.pending, studentID)
	if c.onChange != nil {
		c.onChange()
	}
}

func (c *Cascade) cancelAll() {
	for studentID, cancel := range c.handles {
		cancel()
		delete(c.handles, studentID)
	}
}
