package engine

import (
	"log"

	apperrors "github.com/louisbranch/rollcall/internal/platform/errors"
	"github.com/louisbranch/rollcall/internal/services/attendance/domain"
	"github.com/louisbranch/rollcall/internal/services/attendance/storage"
)

// Mirror holds the local copy of the roster behind one standing subscription.
//
// All methods run on the owner's loop; store callbacks only reach the mirror
// through dispatch. Each Subscribe starts a new generation and deliveries from
// older generations are dropped.
type Mirror struct {
	store    storage.RosterSubscriber
	dispatch func(func())
	onUpdate func([]domain.Student)
	onError  func(error)

	generation uint64
	cancel     storage.CancelFunc
	students   []domain.Student
	loaded     bool
	err        error
}

// NewMirror builds a mirror. onUpdate and onError run on the dispatch loop.
func NewMirror(store storage.RosterSubscriber, dispatch func(func()), onUpdate func([]domain.Student), onError func(error)) *Mirror {
	return &Mirror{
		store:    store,
		dispatch: dispatch,
		onUpdate: onUpdate,
		onError:  onError,
	}
}

// Subscribe opens the roster subscription, replacing any previous one. The
// last mirrored roster is kept until the first new snapshot arrives.
func (m *Mirror) Subscribe() {
	m.teardown()
	m.generation++
	m.err = nil
	generation := m.generation
	m.cancel = m.store.SubscribeRoster(
		func(students []domain.Student) {
			m.dispatch(func() { m.apply(generation, students) })
		},
		func(err error) {
			m.dispatch(func() { m.fail(generation, err) })
		},
	)
}

// Close tears the subscription down; later deliveries are dropped.
func (m *Mirror) Close() {
	m.teardown()
	m.generation++
}

// Students returns the mirrored roster. Callers must not modify it.
func (m *Mirror) Students() []domain.Student {
	return m.students
}

// Loaded reports whether at least one snapshot has been mirrored.
func (m *Mirror) Loaded() bool {
	return m.loaded
}

// Err returns the terminal subscription error, if any.
func (m *Mirror) Err() error {
	return m.err
}

// Live reports whether a subscription is currently open.
func (m *Mirror) Live() bool {
	return m.cancel != nil
}

func (m *Mirror) apply(generation uint64, students []domain.Student) {
	if generation != m.generation || m.err != nil {
		return
	}
	m.students = domain.CloneStudents(students)
	m.loaded = true
	if m.onUpdate != nil {
		m.onUpdate(m.students)
	}
}

func (m *Mirror) fail(generation uint64, err error) {
	if generation != m.generation || m.err != nil {
		return
	}
	if err == nil {
		err = apperrors.New(apperrors.CodeMirrorSubscriptionFailed, "roster subscription closed")
	}
	log.Printf("attendance mirror: roster subscription failed: %v", err)
	m.err = apperrors.Wrap(apperrors.CodeMirrorSubscriptionFailed, err.Error(), err)
	m.teardown()
	if m.onError != nil {
		m.onError(m.err)
	}
}

func (m *Mirror) teardown() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}
