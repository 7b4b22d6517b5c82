package store

import (
	"context"
	"errors"
	"sync"

	"familybudget/internal/core"
)

// ErrEditClosed is returned when saving a session that was already saved,
// cancelled or replaced.
var ErrEditClosed = errors.New("edit session closed")

// EditSession holds an editable copy of one expense. At most one session is
// open per store; starting another closes the previous one.
type EditSession struct {
	store *Store
	id    core.ID

	mu     sync.Mutex
	draft  core.Draft
	closed bool
}

// StartEdit opens an edit session on id, pre-filled with its current values.
func (s *Store) StartEdit(id core.ID) (*EditSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	i := s.indexLocked(id)
	if i < 0 {
		return nil, ErrUnknownID
	}
	if s.editing != nil {
		s.editing.close()
	}
	es := &EditSession{store: s, id: id, draft: s.items[i].Draft()}
	s.editing = es
	return es, nil
}

// Editing returns the id under edit, if any.
func (s *Store) Editing() (core.ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editing == nil {
		return "", false
	}
	return s.editing.id, true
}

// ID is the expense being edited.
func (es *EditSession) ID() core.ID { return es.id }

// Draft returns the pending values.
func (es *EditSession) Draft() core.Draft {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.draft
}

// Set replaces the pending values. Nothing is sent until Save.
func (es *EditSession) Set(d core.Draft) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.draft = d
}

// Save sends the pending values. The session stays open when validation or
// the backend call fails so the user can retry.
func (es *EditSession) Save(ctx context.Context) (core.Expense, error) {
	es.mu.Lock()
	if es.closed {
		es.mu.Unlock()
		return core.Expense{}, ErrEditClosed
	}
	d := es.draft
	es.mu.Unlock()

	updated, err := es.store.Edit(ctx, es.id, d)
	if err != nil {
		return core.Expense{}, err
	}
	es.store.endEdit(es)
	return updated, nil
}

// Cancel discards the pending values. The collection is not touched.
func (es *EditSession) Cancel() {
	es.store.endEdit(es)
}

func (es *EditSession) close() {
	es.mu.Lock()
	es.closed = true
	es.mu.Unlock()
}

func (s *Store) endEdit(es *EditSession) {
	s.mu.Lock()
	if s.editing == es {
		s.editing = nil
	}
	s.mu.Unlock()
	es.close()
}
