// Package memory provides an in-process remote store with synchronous
// snapshot delivery.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/louisbranch/rollcall/internal/services/attendance/domain"
	"github.com/louisbranch/rollcall/internal/services/attendance/storage"
)

type recordKey struct {
	studentID string
	date      domain.Date
}

// subscription serializes deliveries against cancellation so no callback runs
// after cancel returns.
type subscription struct {
	mu     sync.Mutex
	closed bool
}

func (s *subscription) deliver(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	fn()
}

func (s *subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

type rosterSubscription struct {
	subscription
	onSnapshot func([]domain.Student)
	onError    func(error)
}

type recordSubscription struct {
	subscription
	onSnapshot func(domain.RecordSnapshot)
	onError    func(error)
}

// Store keeps the roster and daily records in memory and notifies subscribers
// on every write.
type Store struct {
	mu         sync.Mutex
	nextSubID  uint64
	roster     []domain.Student
	records    map[recordKey]domain.DailyRecord
	rosterSubs map[uint64]*rosterSubscription
	recordSubs map[recordKey]map[uint64]*recordSubscription
}

// New creates an empty store.
func New() *Store {
	return &Store{
		records:    make(map[recordKey]domain.DailyRecord),
		rosterSubs: make(map[uint64]*rosterSubscription),
		recordSubs: make(map[recordKey]map[uint64]*recordSubscription),
	}
}

// SubscribeRoster delivers the current roster immediately and on every change.
func (s *Store) SubscribeRoster(onSnapshot func([]domain.Student), onError func(error)) storage.CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSubID++
	id := s.nextSubID
	sub := &rosterSubscription{onSnapshot: onSnapshot, onError: onError}
	s.rosterSubs[id] = sub
	snapshot := domain.CloneStudents(s.roster)
	sub.deliver(func() { sub.onSnapshot(snapshot) })

	return func() {
		sub.close()
		s.mu.Lock()
		delete(s.rosterSubs, id)
		s.mu.Unlock()
	}
}

// SubscribeRecord delivers the current record state immediately and on every
// change to (studentID, date).
func (s *Store) SubscribeRecord(studentID string, date domain.Date, onSnapshot func(domain.RecordSnapshot), onError func(error)) storage.CancelFunc {
	key := recordKey{studentID: studentID, date: date}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSubID++
	id := s.nextSubID
	sub := &recordSubscription{onSnapshot: onSnapshot, onError: onError}
	subs, ok := s.recordSubs[key]
	if !ok {
		subs = make(map[uint64]*recordSubscription)
		s.recordSubs[key] = subs
	}
	subs[id] = sub
	snapshot := s.recordSnapshotLocked(key)
	sub.deliver(func() { sub.onSnapshot(snapshot) })

	return func() {
		sub.close()
		s.mu.Lock()
		s.removeRecordSubLocked(key, id)
		s.mu.Unlock()
	}
}

// PutStudent inserts or replaces a student, keeping first-insert order.
func (s *Store) PutStudent(ctx context.Context, student domain.Student) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	student.ID = strings.TrimSpace(student.ID)
	if student.ID == "" {
		return fmt.Errorf("student id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	for i := range s.roster {
		if s.roster[i].ID == student.ID {
			s.roster[i] = student
			replaced = true
			break
		}
	}
	if !replaced {
		s.roster = append(s.roster, student)
	}
	s.notifyRosterLocked()
	return nil
}

// DeleteStudent removes a student from the roster. Records are kept.
func (s *Store) DeleteStudent(ctx context.Context, studentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.roster {
		if s.roster[i].ID == studentID {
			s.roster = append(s.roster[:i], s.roster[i+1:]...)
			s.notifyRosterLocked()
			return nil
		}
	}
	return nil
}

// PutRecord writes the record for (studentID, date).
func (s *Store) PutRecord(ctx context.Context, studentID string, date domain.Date, record domain.DailyRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(studentID) == "" {
		return fmt.Errorf("student id is required")
	}
	if date.IsZero() {
		return fmt.Errorf("date is required")
	}
	key := recordKey{studentID: studentID, date: date}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[key] = cloneRecord(record)
	s.notifyRecordLocked(key)
	return nil
}

// DeleteRecord removes the record for (studentID, date).
func (s *Store) DeleteRecord(ctx context.Context, studentID string, date domain.Date) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := recordKey{studentID: studentID, date: date}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[key]; !ok {
		return nil
	}
	delete(s.records, key)
	s.notifyRecordLocked(key)
	return nil
}

// FailRoster terminates every roster subscription with err.
func (s *Store) FailRoster(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sub := range s.rosterSubs {
		sub.deliver(func() { sub.onError(err) })
		sub.close()
		delete(s.rosterSubs, id)
	}
}

// FailRecord terminates every subscription on (studentID, date) with err.
func (s *Store) FailRecord(studentID string, date domain.Date, err error) {
	key := recordKey{studentID: studentID, date: date}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sub := range s.recordSubs[key] {
		sub.deliver(func() { sub.onError(err) })
		sub.close()
		s.removeRecordSubLocked(key, id)
	}
}

// RosterSubscriptions reports how many roster subscriptions are open.
func (s *Store) RosterSubscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rosterSubs)
}

// RecordSubscriptions reports how many record subscriptions are open.
func (s *Store) RecordSubscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, subs := range s.recordSubs {
		total += len(subs)
	}
	return total
}

// RecordSubscriptionsFor reports open subscriptions for one date.
func (s *Store) RecordSubscriptionsFor(date domain.Date) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for key, subs := range s.recordSubs {
		if key.date == date {
			total += len(subs)
		}
	}
	return total
}

func (s *Store) notifyRosterLocked() {
	for _, sub := range s.rosterSubs {
		snapshot := domain.CloneStudents(s.roster)
		sub.deliver(func() { sub.onSnapshot(snapshot) })
	}
}

func (s *Store) notifyRecordLocked(key recordKey) {
	for _, sub := range s.recordSubs[key] {
		snapshot := s.recordSnapshotLocked(key)
		sub.deliver(func() { sub.onSnapshot(snapshot) })
	}
}

func (s *Store) recordSnapshotLocked(key recordKey) domain.RecordSnapshot {
	record, ok := s.records[key]
	if !ok {
		return domain.RecordSnapshot{}
	}
	return domain.RecordSnapshot{Exists: true, Record: cloneRecord(record)}
}

func (s *Store) removeRecordSubLocked(key recordKey, id uint64) {
	subs, ok := s.recordSubs[key]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(s.recordSubs, key)
	}
}

func cloneRecord(r domain.DailyRecord) domain.DailyRecord {
	cp := r
	if r.TimeIn != nil {
		in := *r.TimeIn
		cp.TimeIn = &in
	}
	if r.TimeOut != nil {
		out := *r.TimeOut
		cp.TimeOut = &out
	}
	return cp
}

var (
	_ storage.Store        = (*Store)(nil)
	_ storage.RosterWriter = (*Store)(nil)
	_ storage.RecordWriter = (*Store)(nil)
)
