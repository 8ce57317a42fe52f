// Package engine keeps a derived attendance board in sync with a remote store.
//
// An Engine mirrors the roster, filters it by the selected section, holds one
// record subscription per active student for the selected date, and publishes
// a recomputed State after every batch of deliveries. Store callbacks may fire
// on any goroutine; they only enqueue work, and all engine state is owned by
// the goroutine running Run.
package engine

import (
	"context"
	"errors"
	"log"
	"sync"

	apperrors "github.com/louisbranch/rollcall/internal/platform/errors"
	"github.com/louisbranch/rollcall/internal/services/attendance/domain"
	"github.com/louisbranch/rollcall/internal/services/attendance/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrClosed is returned by control operations after Run has returned.
var ErrClosed = errors.New("attendance engine is closed")

// ErrRunning is returned when Run is called twice.
var ErrRunning = errors.New("attendance engine is already running")

// Option customizes an Engine.
type Option func(*Engine)

// WithWeekendSubscriptions keeps record subscriptions open on weekend dates.
// By default no record subscription is opened for a non-attendance day.
func WithWeekendSubscriptions() Option {
	return func(e *Engine) {
		e.subscribeOnWeekends = true
	}
}

// WithTracer overrides the tracer used for engine spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// Engine is the real-time derived-view synchronization engine.
type Engine struct {
	store               storage.Store
	loop                *loop
	tracer              trace.Tracer
	subscribeOnWeekends bool

	// Owned by the loop goroutine.
	ctx        context.Context
	mirror     *Mirror
	cascade    *Cascade
	selection  domain.Selection
	active     []domain.Student
	liveKeys   map[string]struct{}
	reconciled bool
	dirty      bool

	// requested is the authoritative selection written by the boundary.
	selMu     sync.Mutex
	requested domain.Selection

	mu       sync.Mutex
	state    State
	version  uint64
	watchers map[chan State]struct{}
	watchWG  sync.WaitGroup
	stopped  chan struct{}
	running  bool
	closed   bool
}

// New builds an engine for the initial selection.
func New(store storage.Store, selection domain.Selection, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if err := selection.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		store:     store,
		loop:      newLoop(),
		tracer:    otel.Tracer(tracerName),
		selection: selection,
		requested: selection,
		watchers:  map[chan State]struct{}{},
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.mirror = NewMirror(store, e.loop.post, e.onRoster, e.onRosterError)
	e.cascade = NewCascade(store, e.loop.post, e.markDirty)
	e.cascade.tracer = e.tracer
	e.state = State{Loading: true, Selection: selection}
	return e, nil
}

// Run subscribes to the roster and processes deliveries until ctx ends. Every
// subscription is cancelled and every Watch channel closed before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.running {
		e.mu.Unlock()
		return ErrRunning
	}
	e.running = true
	e.mu.Unlock()

	e.ctx = ctx
	e.loop.post(func() {
		e.mirror.Subscribe()
		e.reconcile(false)
		e.dirty = true
	})
	e.loop.run(ctx, e.flush)

	e.mirror.Close()
	e.cascade.Close()
	e.shutdown()
	e.watchWG.Wait()
	return nil
}

// Select applies a selection patch. Invalid input is rejected here and never
// reaches the loop.
func (e *Engine) Select(patch domain.SelectionPatch) (domain.Selection, error) {
	if e.isClosed() {
		return domain.Selection{}, ErrClosed
	}
	e.selMu.Lock()
	next, err := patch.Apply(e.requested)
	if err != nil {
		e.selMu.Unlock()
		return domain.Selection{}, err
	}
	e.requested = next
	// Posting under selMu keeps loop order equal to acceptance order.
	e.loop.post(func() { e.applySelection(next) })
	e.selMu.Unlock()
	return next, nil
}

// Selection returns the most recently accepted selection.
func (e *Engine) Selection() domain.Selection {
	e.selMu.Lock()
	defer e.selMu.Unlock()
	return e.requested
}

// Retry re-subscribes the roster when it has failed and reopens every record
// subscription, clearing partial failures.
func (e *Engine) Retry() error {
	if e.isClosed() {
		return ErrClosed
	}
	e.loop.post(func() {
		if e.mirror.Err() != nil || !e.mirror.Live() {
			log.Printf("attendance engine: re-subscribing roster")
			e.mirror.Subscribe()
		}
		e.reconcile(true)
		e.dirty = true
	})
	return nil
}

// State returns the latest published state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneState(e.state)
}

// Sections lists the distinct sections in the mirrored roster, in roster
// order.
func (e *Engine) Sections() []string {
	return e.State().Sections
}

// Watch streams published states. The current state is delivered first; a
// slow reader only ever sees the newest state. The channel closes when ctx
// ends or the engine stops.
func (e *Engine) Watch(ctx context.Context) <-chan State {
	ch := make(chan State, 1)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		close(ch)
		return ch
	}
	ch <- cloneState(e.state)
	e.watchers[ch] = struct{}{}
	e.watchWG.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.watchWG.Done()
		select {
		case <-ctx.Done():
		case <-e.stopped:
			return
		}
		e.mu.Lock()
		if _, ok := e.watchers[ch]; ok {
			delete(e.watchers, ch)
			close(ch)
		}
		e.mu.Unlock()
	}()
	return ch
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) onRoster(students []domain.Student) {
	_, span := e.tracer.Start(e.ctx, "attendance.mirror.snapshot")
	span.SetAttributes(attribute.Int("attendance.roster_size", len(students)))
	defer span.End()

	e.reconcile(false)
	e.dirty = true
}

func (e *Engine) onRosterError(error) {
	e.dirty = true
}

func (e *Engine) applySelection(next domain.Selection) {
	e.selection = next
	e.reconcile(false)
	e.dirty = true
}

func (e *Engine) markDirty() {
	e.dirty = true
}

// reconcile re-derives the active subset and replaces the handle set when the
// desired keys or the date changed.
func (e *Engine) reconcile(force bool) {
	e.active = domain.FilterSection(e.mirror.Students(), e.selection.Section)
	date := e.selection.Date

	subscribed := e.active
	if date.IsWeekend() && !e.subscribeOnWeekends {
		subscribed = nil
	}
	keys := studentKeys(subscribed)
	if !force && e.reconciled && e.cascade.Date() == date && sameKeys(keys, e.liveKeys) {
		return
	}

	e.cascade.Reconcile(e.ctx, subscribed, date)
	e.liveKeys = keys
	e.reconciled = true
	log.Printf("attendance engine: reconciled section=%q date=%s generation=%d handles=%d",
		e.selection.Section, date, e.cascade.Generation(), e.cascade.LiveHandles())
}

// flush publishes a new state when anything changed during the batch.
func (e *Engine) flush() {
	if !e.dirty {
		return
	}
	e.dirty = false

	next := State{
		Loading:           e.loading(),
		Selection:         e.selection,
		View:              domain.Compute(e.active, e.cascade.Records(), e.selection),
		Sections:          domain.Sections(e.mirror.Students()),
		PartialFailures:   e.cascade.Failures(),
		LiveSubscriptions: e.cascade.LiveHandles(),
		Generation:        e.cascade.Generation(),
	}
	if err := e.mirror.Err(); err != nil {
		next.Error = errorMessage(err)
		next.ErrorCode = string(apperrors.CodeOf(err))
	}
	e.publish(next)
}

func (e *Engine) loading() bool {
	if e.mirror.Err() != nil {
		return false
	}
	if !e.mirror.Loaded() {
		return true
	}
	return e.cascade.Pending() > 0
}

func (e *Engine) publish(next State) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.version++
	next.Version = e.version
	e.state = next
	for ch := range e.watchers {
		offerLatest(ch, cloneState(next))
	}
}

func (e *Engine) shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	close(e.stopped)
	for ch := range e.watchers {
		delete(e.watchers, ch)
		close(ch)
	}
}

// offerLatest replaces any unread state in ch with s. The engine is the only
// sender, so the slot is free after the drain.
func offerLatest(ch chan State, s State) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

// errorMessage returns the store's own message for a wrapped mirror error.
func errorMessage(err error) string {
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) && domainErr.Cause != nil {
		return domainErr.Cause.Error()
	}
	return err.Error()
}

func studentKeys(students []domain.Student) map[string]struct{} {
	keys := make(map[string]struct{}, len(students))
	for _, student := range students {
		keys[student.ID] = struct{}{}
	}
	return keys
}

func sameKeys(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for key := range a {
		if _, ok := b[key]; !ok {
			return false
		}
	}
	return true
}
