package store

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"familybudget/internal/client"
	"familybudget/internal/core"
)

// fakeBackend records calls and can hold any operation at a gate until the
// test releases it.
type fakeBackend struct {
	mu sync.Mutex

	meErr     error
	list      []core.Expense
	listErr   error
	createErr error
	updateErr error
	deleteErr error
	nextID    int

	calls     map[string]int
	gates     map[string]chan struct{}
	ignoreCtx bool
	entered   chan string

	inflight    map[core.ID]int
	maxInflight map[core.ID]int
}

func newFakeBackend(items ...core.Expense) *fakeBackend {
	return &fakeBackend{
		list:        items,
		nextID:      100,
		calls:       make(map[string]int),
		gates:       make(map[string]chan struct{}),
		entered:     make(chan string, 256),
		inflight:    make(map[core.ID]int),
		maxInflight: make(map[core.ID]int),
	}
}

// hold makes every call to op wait for a release. Calls recorded before the
// hold are discarded so waitEntered only sees calls made after it.
func (b *fakeBackend) hold(op string) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	g := make(chan struct{})
	b.gates[op] = g
	b.drainEntered()
	return g
}

func (b *fakeBackend) drainEntered() {
	for {
		select {
		case <-b.entered:
		default:
			return
		}
	}
}

func (b *fakeBackend) callCount(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

func (b *fakeBackend) enter(ctx context.Context, op string, id core.ID) error {
	b.mu.Lock()
	b.calls[op]++
	g := b.gates[op]
	ignore := b.ignoreCtx
	if id != "" {
		b.inflight[id]++
		if b.inflight[id] > b.maxInflight[id] {
			b.maxInflight[id] = b.inflight[id]
		}
	}
	b.mu.Unlock()

	select {
	case b.entered <- op:
	default:
	}

	if g == nil {
		return nil
	}
	if ignore {
		<-g
		return nil
	}
	select {
	case <-g:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *fakeBackend) leave(id core.ID) {
	if id == "" {
		return
	}
	b.mu.Lock()
	b.inflight[id]--
	b.mu.Unlock()
}

func (b *fakeBackend) Me(ctx context.Context) (client.User, error) {
	if err := b.enter(ctx, "me", ""); err != nil {
		return client.User{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.meErr != nil {
		return client.User{}, b.meErr
	}
	return client.User{ID: "u1", Email: "a@b.c"}, nil
}

func (b *fakeBackend) List(ctx context.Context, limit int, sort string) ([]core.Expense, error) {
	if err := b.enter(ctx, "list", ""); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	out := make([]core.Expense, len(b.list))
	copy(out, b.list)
	return out, nil
}

func (b *fakeBackend) Create(ctx context.Context, d core.Draft) (core.Expense, error) {
	if err := b.enter(ctx, "create", ""); err != nil {
		return core.Expense{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return core.Expense{}, b.createErr
	}
	b.nextID++
	e := core.Expense{
		ID:        core.ID(strconv.Itoa(b.nextID)),
		Title:     d.Title,
		Amount:    d.Amount,
		Category:  d.Category,
		CreatedAt: "2024-05-02T09:00:00.000Z",
	}
	b.list = append([]core.Expense{e}, b.list...)
	return e, nil
}

func (b *fakeBackend) Update(ctx context.Context, id core.ID, d core.Draft) (core.Expense, error) {
	defer b.leave(id)
	if err := b.enter(ctx, "update", id); err != nil {
		return core.Expense{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.updateErr != nil {
		return core.Expense{}, b.updateErr
	}
	return core.Expense{ID: id, Title: d.Title, Amount: d.Amount, Category: d.Category, CreatedAt: "ignored"}, nil
}

func (b *fakeBackend) Delete(ctx context.Context, id core.ID) error {
	defer b.leave(id)
	if err := b.enter(ctx, "delete", id); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deleteErr
}

// waitEntered blocks until op has been entered, failing the test otherwise.
func waitEntered(t *testing.T, b *fakeBackend, op string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-b.entered:
			if got == op {
				return
			}
		case <-deadline:
			t.Fatalf("backend %s was never called", op)
		}
	}
}

// assertNotEntered checks that op is not called within a short window.
func assertNotEntered(t *testing.T, b *fakeBackend, op string) {
	t.Helper()
	deadline := time.After(50 * time.Millisecond)
	for {
		select {
		case got := <-b.entered:
			if got == op {
				t.Fatalf("backend %s called too early", op)
			}
		case <-deadline:
			return
		}
	}
}

func expense(id, title, amount string, cat core.Category) core.Expense {
	return core.Expense{
		ID:        core.ID(id),
		Title:     title,
		Amount:    core.MustAmount(amount),
		Category:  cat,
		CreatedAt: "2024-05-01T10:00:00.000Z",
	}
}

func draft(title, amount string, cat core.Category) core.Draft {
	return core.Draft{Title: title, Amount: core.MustAmount(amount), Category: cat}
}
