package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/taskstake/backend/internal/ledger"
	"github.com/taskstake/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory mocks for the generator's dependencies.
// ---------------------------------------------------------------------------

type mockTemplateStore struct {
	mu        sync.Mutex
	templates []*models.Template
	instances map[uuid.UUID]*models.Task
}

func newMockTemplateStore(tpls ...*models.Template) *mockTemplateStore {
	return &mockTemplateStore{templates: tpls, instances: make(map[uuid.UUID]*models.Task)}
}

func (m *mockTemplateStore) ListTemplates(_ context.Context, userID uuid.UUID) ([]*models.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Template
	for _, t := range m.templates {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockTemplateStore) CountInstancesForTemplate(_ context.Context, templateID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.instances {
		if t.ParentTemplateID != nil && *t.ParentTemplateID == templateID {
			n++
		}
	}
	return n, nil
}

func (m *mockTemplateStore) InsertInstanceIfAbsent(_ context.Context, t *models.Task) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.instances {
		if existing.UserID == t.UserID && existing.ParentTemplateID != nil && t.ParentTemplateID != nil &&
			*existing.ParentTemplateID == *t.ParentTemplateID && existing.Deadline.Equal(t.Deadline) {
			return false, nil
		}
	}
	cp := *t
	m.instances[t.ID] = &cp
	return true, nil
}

func (m *mockTemplateStore) DeleteInstance(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances, id)
	return nil
}

func (m *mockTemplateStore) all() []*models.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Task, 0, len(m.instances))
	for _, t := range m.instances {
		out = append(out, t)
	}
	return out
}

type mockUsers struct {
	users map[uuid.UUID]*models.User
}

func (m *mockUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s not found", id)
	}
	return u, nil
}

type mockLocker struct {
	mu       sync.Mutex
	locks    []decimal.Decimal
	brokeOff bool // when true, every lock fails with insufficient funds
}

func (m *mockLocker) LockStake(_ context.Context, _ pgx.Tx, _, _ uuid.UUID, amount decimal.Decimal, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.brokeOff {
		return &ledger.InsufficientFundsError{Available: decimal.Zero, Required: amount}
	}
	m.locks = append(m.locks, amount)
	return nil
}

func (m *mockLocker) lockCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func testUser(tz string) *models.User {
	return &models.User{ID: uuid.New(), Email: "u@example.com", Username: "u", Timezone: tz}
}

func dailyTemplate(userID uuid.UUID, startTime string, bet int64) *models.Template {
	return &models.Template{
		ID:          uuid.New(),
		UserID:      userID,
		JudgeUserID: uuid.New(),
		Title:       "morning run",
		Category:    models.DefaultCategory,
		BetAmount:   decimal.NewFromInt(bet),
		Recurrence:  models.Recurrence{Frequency: models.FrequencyDaily, StartTime: startTime},
	}
}

func newTestGenerator(store *mockTemplateStore, user *models.User, locker *mockLocker, now time.Time) *Generator {
	g := NewGenerator(&mockDB{}, store, &mockUsers{users: map[uuid.UUID]*models.User{user.ID: user}}, locker, nil)
	g.now = func() time.Time { return now }
	return g
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestEnsureTodayDaily(t *testing.T) {
	user := testUser("America/Toronto")
	tpl := dailyTemplate(user.ID, "23:00", 50)
	store := newMockTemplateStore(tpl)
	locker := &mockLocker{}

	loc, _ := time.LoadLocation("America/Toronto")
	now := time.Date(2026, 3, 5, 8, 0, 0, 0, loc)
	g := newTestGenerator(store, user, locker, now)

	if err := g.EnsureToday(context.Background(), user.ID); err != nil {
		t.Fatalf("EnsureToday: %v", err)
	}

	instances := store.all()
	if len(instances) != 1 {
		t.Fatalf("instances: got %d, want 1", len(instances))
	}
	got := instances[0]
	want := time.Date(2026, 3, 5, 23, 0, 0, 0, loc)
	if !got.Deadline.Equal(want) {
		t.Errorf("deadline: got %v, want %v", got.Deadline, want)
	}
	if got.Status != models.TaskStatusInProgress {
		t.Errorf("status: got %q, want %q", got.Status, models.TaskStatusInProgress)
	}
	if got.ParentTemplateID == nil || *got.ParentTemplateID != tpl.ID {
		t.Error("instance should reference its template")
	}
	if locker.lockCount() != 1 {
		t.Errorf("stake locks: got %d, want 1", locker.lockCount())
	}

	// A second read must not generate or fund a duplicate.
	if err := g.EnsureToday(context.Background(), user.ID); err != nil {
		t.Fatalf("EnsureToday again: %v", err)
	}
	if n := len(store.all()); n != 1 {
		t.Errorf("instances after repeat: got %d, want 1", n)
	}
	if locker.lockCount() != 1 {
		t.Errorf("stake locks after repeat: got %d, want 1", locker.lockCount())
	}
}

func TestEnsureTodayUsesUserCalendarDay(t *testing.T) {
	// 03:00 UTC on Monday March 2 is still 22:00 Sunday March 1 in Bogotá
	// (UTC-5, no DST). A weekly Sunday template must fire for the user's
	// Sunday, not the server's Monday.
	user := testUser("America/Bogota")
	tpl := dailyTemplate(user.ID, "23:30", 10)
	tpl.Recurrence = models.Recurrence{
		Frequency:  models.FrequencyWeekly,
		DaysOfWeek: []int{0},
		StartTime:  "23:30",
	}
	store := newMockTemplateStore(tpl)
	locker := &mockLocker{}

	now := time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)
	g := newTestGenerator(store, user, locker, now)

	if err := g.EnsureToday(context.Background(), user.ID); err != nil {
		t.Fatalf("EnsureToday: %v", err)
	}

	instances := store.all()
	if len(instances) != 1 {
		t.Fatalf("instances: got %d, want 1", len(instances))
	}
	bogota, _ := time.LoadLocation("America/Bogota")
	want := time.Date(2026, 3, 1, 23, 30, 0, 0, bogota)
	if !instances[0].Deadline.Equal(want) {
		t.Errorf("deadline: got %v, want %v", instances[0].Deadline, want)
	}
}

func TestEnsureTodaySkipsPassedStartTime(t *testing.T) {
	user := testUser("UTC")
	tpl := dailyTemplate(user.ID, "08:00", 10)
	store := newMockTemplateStore(tpl)
	locker := &mockLocker{}

	now := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	g := newTestGenerator(store, user, locker, now)

	if err := g.EnsureToday(context.Background(), user.ID); err != nil {
		t.Fatalf("EnsureToday: %v", err)
	}
	if n := len(store.all()); n != 0 {
		t.Errorf("instances: got %d, want 0 (deadline already passed)", n)
	}
	if locker.lockCount() != 0 {
		t.Errorf("stake locks: got %d, want 0", locker.lockCount())
	}
}

func TestEnsureRangeClampsPastAndHonorsCaps(t *testing.T) {
	user := testUser("UTC")

	occurrences := 2
	capped := dailyTemplate(user.ID, "22:00", 10)
	capped.Recurrence.Occurrences = &occurrences

	endDate := time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)
	ending := dailyTemplate(user.ID, "22:00", 20)
	ending.Recurrence.EndDate = &endDate

	store := newMockTemplateStore(capped, ending)
	locker := &mockLocker{}

	now := time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC)
	g := newTestGenerator(store, user, locker, now)

	// Range starts before today and runs a week out; past days are clamped.
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	if err := g.EnsureRange(context.Background(), user.ID, from, to); err != nil {
		t.Fatalf("EnsureRange: %v", err)
	}

	var cappedCount, endingCount int
	for _, inst := range store.all() {
		if inst.Deadline.Before(now) {
			t.Errorf("generated instance in the past: %v", inst.Deadline)
		}
		switch *inst.ParentTemplateID {
		case capped.ID:
			cappedCount++
		case ending.ID:
			endingCount++
		}
	}
	if cappedCount != occurrences {
		t.Errorf("capped template instances: got %d, want %d", cappedCount, occurrences)
	}
	// End date March 6 allows March 5 and March 6 only.
	if endingCount != 2 {
		t.Errorf("ending template instances: got %d, want 2", endingCount)
	}
}

// racingTemplateStore simulates a concurrent generation of the same
// template: every time this generator lands an insert, a rival has landed
// two more that only the next count will see.
type racingTemplateStore struct {
	*mockTemplateStore
	rivalMu sync.Mutex
	rival   int
}

func (r *racingTemplateStore) CountInstancesForTemplate(ctx context.Context, templateID uuid.UUID) (int, error) {
	n, err := r.mockTemplateStore.CountInstancesForTemplate(ctx, templateID)
	r.rivalMu.Lock()
	defer r.rivalMu.Unlock()
	return n + r.rival, err
}

func (r *racingTemplateStore) InsertInstanceIfAbsent(ctx context.Context, t *models.Task) (bool, error) {
	created, err := r.mockTemplateStore.InsertInstanceIfAbsent(ctx, t)
	if created {
		r.rivalMu.Lock()
		r.rival += 2
		r.rivalMu.Unlock()
	}
	return created, err
}

func TestOccurrenceCapHoldsAgainstConcurrentGeneration(t *testing.T) {
	user := testUser("UTC")
	occurrences := 3
	tpl := dailyTemplate(user.ID, "22:00", 10)
	tpl.Recurrence.Occurrences = &occurrences

	store := &racingTemplateStore{mockTemplateStore: newMockTemplateStore(tpl)}
	locker := &mockLocker{}

	now := time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC)
	g := NewGenerator(&mockDB{}, store, &mockUsers{users: map[uuid.UUID]*models.User{user.ID: user}}, locker, nil)
	g.now = func() time.Time { return now }

	from := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	if err := g.EnsureRange(context.Background(), user.ID, from, to); err != nil {
		t.Fatalf("EnsureRange: %v", err)
	}

	// The first insert lands against a count of 0. The recount then sees one
	// of ours plus two rival instances, meeting the cap of 3, so the range
	// stops there instead of filling all five days.
	if n := len(store.all()); n != 1 {
		t.Errorf("instances by this generator: got %d, want 1", n)
	}
	if locker.lockCount() != 1 {
		t.Errorf("stake locks: got %d, want 1", locker.lockCount())
	}
}

func TestUnfundedInstanceRolledBack(t *testing.T) {
	user := testUser("UTC")
	tpl := dailyTemplate(user.ID, "23:00", 500)
	store := newMockTemplateStore(tpl)
	locker := &mockLocker{brokeOff: true}

	now := time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC)
	g := newTestGenerator(store, user, locker, now)

	if err := g.EnsureToday(context.Background(), user.ID); err != nil {
		t.Fatalf("EnsureToday: %v", err)
	}
	if n := len(store.all()); n != 0 {
		t.Fatalf("unfunded instance should be rolled back, found %d", n)
	}

	// After a top-up the next read generates and funds it.
	locker.brokeOff = false
	if err := g.EnsureToday(context.Background(), user.ID); err != nil {
		t.Fatalf("EnsureToday after top-up: %v", err)
	}
	if n := len(store.all()); n != 1 {
		t.Errorf("instances after top-up: got %d, want 1", n)
	}
	if locker.lockCount() != 1 {
		t.Errorf("stake locks after top-up: got %d, want 1", locker.lockCount())
	}
}
