// Package store keeps one tab's mirror of the remote expense collection.
//
// Mutations go to the backend first and are applied locally only when the
// backend confirms them. Edits and removals of the same id are serialized,
// loads are serialized among themselves, and everything else may overlap.
// A load whose answer arrives after a newer load started, or after a
// mutation was applied, is discarded.
package store

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"familybudget/internal/aggregate"
	"familybudget/internal/client"
	"familybudget/internal/core"
	"familybudget/internal/log"
)

var (
	// ErrStaleLoad is returned by a load that was superseded.
	ErrStaleLoad = errors.New("load superseded by newer state")
	// ErrClosed is returned once the store has been torn down.
	ErrClosed = errors.New("store closed")
	// ErrUnknownID is returned when an edit session targets an id that is
	// not in the collection.
	ErrUnknownID = errors.New("expense not in collection")
)

// Backend is the remote side of the store. *client.Client implements it.
type Backend interface {
	Me(ctx context.Context) (client.User, error)
	List(ctx context.Context, limit int, sort string) ([]core.Expense, error)
	Create(ctx context.Context, d core.Draft) (core.Expense, error)
	Update(ctx context.Context, id core.ID, d core.Draft) (core.Expense, error)
	Delete(ctx context.Context, id core.ID) error
}

// NeedsLogin reports whether err should send the user to the login screen.
// Use errors.Is with client.ErrUnavailable to tell an outage apart.
func NeedsLogin(err error) bool {
	return errors.Is(err, client.ErrUnauthenticated) || errors.Is(err, client.ErrUnavailable)
}

// Snapshot is a copy of the store state at one version.
type Snapshot struct {
	Items   []core.Expense
	Summary aggregate.Summary
	Version uint64
	Loaded  bool
}

// Store is safe for concurrent use.
type Store struct {
	backend   Backend
	logger    *log.Logger
	listLimit int
	listSort  string

	life   context.Context
	cancel context.CancelFunc
	loads  *semaphore.Weighted

	mu         sync.Mutex
	items      []core.Expense
	summary    aggregate.Summary
	version    uint64
	mutations  uint64
	generation uint64
	loaded     bool
	closed     bool
	locks      map[core.ID]*idLock
	subs       map[int]func(Snapshot)
	nextSub    int
	editing    *EditSession

	notifyMu     sync.Mutex
	lastNotified uint64
}

type idLock struct {
	sem  *semaphore.Weighted
	refs int
}

// Option configures a Store.
type Option func(*Store)

// WithListQuery sets the page size and sort order of loads.
func WithListQuery(limit int, sort string) Option {
	return func(s *Store) {
		s.listLimit = limit
		s.listSort = sort
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l.WithComponent(log.ComponentStore) }
}

// New creates an empty store. Call Close when the tab goes away.
func New(backend Backend, opts ...Option) *Store {
	life, cancel := context.WithCancel(context.Background())
	s := &Store{
		backend:   backend,
		logger:    log.Discard().WithComponent(log.ComponentStore),
		listLimit: 100,
		listSort:  "-createdAt",
		life:      life,
		cancel:    cancel,
		loads:     semaphore.NewWeighted(1),
		summary:   aggregate.Summarize(nil),
		locks:     make(map[core.ID]*idLock),
		subs:      make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// callContext derives a context that also ends when the store is closed.
func (s *Store) callContext(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.life, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// settle maps errors of calls cut short by Close onto ErrClosed.
func (s *Store) settle(err error) error {
	if s.life.Err() != nil {
		return ErrClosed
	}
	return err
}

// Load checks the session and replaces the collection with the backend's.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	ctx, done := s.callContext(ctx)
	defer done()

	if err := s.loads.Acquire(ctx, 1); err != nil {
		return s.settle(err)
	}
	defer s.loads.Release(1)

	s.mu.Lock()
	startMutations := s.mutations
	superseded := gen != s.generation
	s.mu.Unlock()
	if superseded {
		return ErrStaleLoad
	}

	if _, err := s.backend.Me(ctx); err != nil {
		return s.settle(err)
	}
	items, err := s.backend.List(ctx, s.listLimit, s.listSort)
	if err != nil {
		return s.settle(err)
	}

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case gen != s.generation || s.mutations != startMutations:
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "Discarding stale load", log.FieldGeneration, gen)
		return ErrStaleLoad
	}
	s.items = slices.Clone(items)
	s.loaded = true
	snap := s.commitLocked()
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Expenses loaded", log.FieldCount, len(items), log.FieldGeneration, gen)
	s.notify(snap)
	return nil
}

// Add creates an expense. Nothing is sent when the draft is invalid, and
// nothing changes locally unless the backend accepts it.
func (s *Store) Add(ctx context.Context, d core.Draft) (core.Expense, error) {
	if err := d.Validate(); err != nil {
		return core.Expense{}, err
	}
	if s.isClosed() {
		return core.Expense{}, ErrClosed
	}

	ctx, done := s.callContext(ctx)
	defer done()

	created, err := s.backend.Create(ctx, d.Clean())
	if err != nil {
		return core.Expense{}, s.settle(err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return core.Expense{}, ErrClosed
	}
	s.items = slices.Insert(s.items, 0, created)
	s.mutations++
	snap := s.commitLocked()
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Expense added",
		log.NewFields().WithOperation(log.OpCreate).WithExpense(created.ID.String(), created.Amount.String(), created.Category.String()).ToSlice()...)
	s.notify(snap)
	return created, nil
}

// Edit updates title, amount and category of id in place. The record keeps
// its position, id and creation time.
func (s *Store) Edit(ctx context.Context, id core.ID, d core.Draft) (core.Expense, error) {
	if err := d.Validate(); err != nil {
		return core.Expense{}, err
	}

	ctx, done := s.callContext(ctx)
	defer done()

	release, err := s.lockID(ctx, id)
	if err != nil {
		return core.Expense{}, err
	}
	defer release()

	updated, err := s.backend.Update(ctx, id, d.Clean())
	if err != nil {
		return core.Expense{}, s.settle(err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return core.Expense{}, ErrClosed
	}
	var result core.Expense
	var snap Snapshot
	changed := false
	if i := s.indexLocked(id); i >= 0 {
		e := s.items[i]
		e.Title, e.Amount, e.Category = updated.Title, updated.Amount, updated.Category
		s.items[i] = e
		result = e
		s.mutations++
		snap = s.commitLocked()
		changed = true
	} else {
		result = updated
	}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Expense updated",
		log.NewFields().WithOperation(log.OpUpdate).WithExpense(id.String(), result.Amount.String(), result.Category.String()).ToSlice()...)
	if changed {
		s.notify(snap)
	}
	return result, nil
}

// Remove deletes id. The local record is dropped only after the backend
// confirms; a not-found answer leaves the collection as it is.
func (s *Store) Remove(ctx context.Context, id core.ID) error {
	ctx, done := s.callContext(ctx)
	defer done()

	release, err := s.lockID(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	if err := s.backend.Delete(ctx, id); err != nil {
		return s.settle(err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	var snap Snapshot
	changed := false
	if i := s.indexLocked(id); i >= 0 {
		s.items = slices.Delete(s.items, i, i+1)
		s.mutations++
		snap = s.commitLocked()
		changed = true
	}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Expense removed", log.FieldOperation, log.OpDelete, log.FieldExpenseID, id.String())
	if changed {
		s.notify(snap)
	}
	return nil
}

// Close tears the store down. In-flight calls are cancelled and their late
// results are ignored. Close is idempotent.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.subs = make(map[int]func(Snapshot))
	s.editing = nil
	s.mu.Unlock()

	s.cancel()
	s.logger.Debug("Store closed", log.FieldOperation, log.OpShutdown)
}

// Subscribe registers fn to receive every new snapshot. Snapshots arrive in
// version order; a version overtaken before delivery is skipped. fn runs on
// the mutating goroutine and must not call back into mutating methods.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Visible returns the expenses matching sel.
func (s *Store) Visible(sel Selection) []core.Expense {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Filter(s.items, sel)
}

// Get returns the expense with the given id.
func (s *Store) Get(id core.ID) (core.Expense, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.items[i], true
	}
	return core.Expense{}, false
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) indexLocked(id core.ID) int {
	return slices.IndexFunc(s.items, func(e core.Expense) bool { return e.ID == id })
}

// commitLocked recomputes derived state after a change.
func (s *Store) commitLocked() Snapshot {
	s.summary = aggregate.Summarize(s.items)
	s.version++
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	byCat := make(map[core.Category]decimal.Decimal, len(s.summary.ByCategory))
	for k, v := range s.summary.ByCategory {
		byCat[k] = v
	}
	sum := s.summary
	sum.ByCategory = byCat
	return Snapshot{
		Items:   slices.Clone(s.items),
		Summary: sum,
		Version: s.version,
		Loaded:  s.loaded,
	}
}

func (s *Store) notify(snap Snapshot) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if snap.Version <= s.lastNotified {
		return
	}
	s.lastNotified = snap.Version

	s.mu.Lock()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// lockID waits until no other edit or removal of id is in flight.
func (s *Store) lockID(ctx context.Context, id core.ID) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	l, ok := s.locks[id]
	if !ok {
		l = &idLock{sem: semaphore.NewWeighted(1)}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	unref := func() {
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}

	if err := l.sem.Acquire(ctx, 1); err != nil {
		unref()
		return nil, s.settle(err)
	}
	return func() {
		l.sem.Release(1)
		unref()
	}, nil
}
