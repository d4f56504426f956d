package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/taskstake/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory mocks for the judgment service.
// ---------------------------------------------------------------------------

type mockJudgedStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*models.Task
}

func newMockJudgedStore(tasks ...*models.Task) *mockJudgedStore {
	m := &mockJudgedStore{tasks: make(map[uuid.UUID]*models.Task)}
	for _, t := range tasks {
		cp := *t
		m.tasks[t.ID] = &cp
	}
	return m
}

func (m *mockJudgedStore) GetInstance(_ context.Context, id uuid.UUID) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s not found", id)
	}
	cp := *t
	return &cp, nil
}

func (m *mockJudgedStore) MarkJudged(_ context.Context, _ pgx.Tx, id uuid.UUID, status, judgeStatus, comment string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return false, nil
	}
	if t.Status != models.TaskStatusSubmitted || t.JudgeStatus != models.JudgeStatusPending {
		return false, nil
	}
	t.Status = status
	t.JudgeStatus = judgeStatus
	t.JudgeComment = comment
	t.JudgedAt = &now
	return true, nil
}

func (m *mockJudgedStore) ListToJudge(_ context.Context, judgeID uuid.UUID) ([]*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Task
	for _, t := range m.tasks {
		if t.JudgeUserID == judgeID && !t.Terminal() {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

type mockSettler struct {
	mu       sync.Mutex
	refunds  []decimal.Decimal
	forfeits []decimal.Decimal
	timedOut []bool
}

func (m *mockSettler) RefundStake(_ context.Context, _ pgx.Tx, _, _ uuid.UUID, amount decimal.Decimal, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds = append(m.refunds, amount)
	return nil
}

func (m *mockSettler) ForfeitStake(_ context.Context, _ pgx.Tx, _, _ uuid.UUID, amount decimal.Decimal, timedOut bool, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forfeits = append(m.forfeits, amount)
	m.timedOut = append(m.timedOut, timedOut)
	return nil
}

func (m *mockSettler) movements() (refunds, forfeits int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refunds), len(m.forfeits)
}

func submittedTask(owner, judge uuid.UUID, bet int64) *models.Task {
	submitted := time.Now().Add(-time.Hour)
	return &models.Task{
		ID:          uuid.New(),
		UserID:      owner,
		JudgeUserID: judge,
		Title:       "read 30 pages",
		Category:    models.DefaultCategory,
		BetAmount:   decimal.NewFromInt(bet),
		Deadline:    time.Now().Add(time.Hour),
		Status:      models.TaskStatusSubmitted,
		JudgeStatus: models.JudgeStatusPending,
		SubmittedAt: &submitted,
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestJudgeApproveRefundsStake(t *testing.T) {
	owner, judge := uuid.New(), uuid.New()
	task := submittedTask(owner, judge, 200)
	store := newMockJudgedStore(task)
	settler := &mockSettler{}
	svc := NewJudgment(&mockDB{}, store, settler, nil)

	got, err := svc.Judge(context.Background(), judge, task.ID, models.JudgeStatusApproved, "well done")
	if err != nil {
		t.Fatalf("Judge: %v", err)
	}
	if got.Status != models.TaskStatusCompleted {
		t.Errorf("status: got %q, want %q", got.Status, models.TaskStatusCompleted)
	}
	if got.JudgeStatus != models.JudgeStatusApproved {
		t.Errorf("judge_status: got %q, want %q", got.JudgeStatus, models.JudgeStatusApproved)
	}
	refunds, forfeits := settler.movements()
	if refunds != 1 || forfeits != 0 {
		t.Errorf("movements: got %d refunds %d forfeits, want 1/0", refunds, forfeits)
	}
	if !settler.refunds[0].Equal(decimal.NewFromInt(200)) {
		t.Errorf("refund amount: got %s, want 200", settler.refunds[0])
	}
}

func TestJudgeRejectForfeitsStake(t *testing.T) {
	owner, judge := uuid.New(), uuid.New()
	task := submittedTask(owner, judge, 75)
	store := newMockJudgedStore(task)
	settler := &mockSettler{}
	svc := NewJudgment(&mockDB{}, store, settler, nil)

	got, err := svc.Judge(context.Background(), judge, task.ID, models.JudgeStatusRejected, "photo is from last week")
	if err != nil {
		t.Fatalf("Judge: %v", err)
	}
	if got.Status != models.TaskStatusFailed {
		t.Errorf("status: got %q, want %q", got.Status, models.TaskStatusFailed)
	}
	if got.JudgeComment != "photo is from last week" {
		t.Errorf("comment not recorded: %q", got.JudgeComment)
	}
	refunds, forfeits := settler.movements()
	if refunds != 0 || forfeits != 1 {
		t.Errorf("movements: got %d refunds %d forfeits, want 0/1", refunds, forfeits)
	}
	if settler.timedOut[0] {
		t.Error("a rejection is not a timeout forfeit")
	}
}

func TestJudgeRejectRequiresComment(t *testing.T) {
	owner, judge := uuid.New(), uuid.New()
	task := submittedTask(owner, judge, 75)
	store := newMockJudgedStore(task)
	settler := &mockSettler{}
	svc := NewJudgment(&mockDB{}, store, settler, nil)

	if _, err := svc.Judge(context.Background(), judge, task.ID, models.JudgeStatusRejected, ""); !errors.Is(err, ErrCommentRequired) {
		t.Errorf("expected ErrCommentRequired, got %v", err)
	}
	if _, forfeits := settler.movements(); forfeits != 0 {
		t.Error("no stake should move when the verdict is invalid")
	}
}

func TestJudgeRejectsWrongJudge(t *testing.T) {
	owner, judge := uuid.New(), uuid.New()
	task := submittedTask(owner, judge, 75)
	store := newMockJudgedStore(task)
	settler := &mockSettler{}
	svc := NewJudgment(&mockDB{}, store, settler, nil)

	// Neither the owner nor a stranger may rule.
	for _, caller := range []uuid.UUID{owner, uuid.New()} {
		if _, err := svc.Judge(context.Background(), caller, task.ID, models.JudgeStatusApproved, ""); !errors.Is(err, ErrNotAuthorized) {
			t.Errorf("caller %s: expected ErrNotAuthorized, got %v", caller, err)
		}
	}
	refunds, forfeits := settler.movements()
	if refunds+forfeits != 0 {
		t.Error("no stake should move for unauthorized verdicts")
	}
}

func TestJudgeExactlyOnce(t *testing.T) {
	owner, judge := uuid.New(), uuid.New()
	task := submittedTask(owner, judge, 120)
	store := newMockJudgedStore(task)
	settler := &mockSettler{}
	svc := NewJudgment(&mockDB{}, store, settler, nil)

	if _, err := svc.Judge(context.Background(), judge, task.ID, models.JudgeStatusApproved, ""); err != nil {
		t.Fatalf("first verdict: %v", err)
	}
	if _, err := svc.Judge(context.Background(), judge, task.ID, models.JudgeStatusRejected, "changed my mind"); !errors.Is(err, ErrAlreadyJudged) {
		t.Errorf("second verdict: expected ErrAlreadyJudged, got %v", err)
	}

	// The stake moved exactly once, in the first verdict's direction.
	refunds, forfeits := settler.movements()
	if refunds != 1 || forfeits != 0 {
		t.Errorf("movements after double verdict: got %d refunds %d forfeits, want 1/0", refunds, forfeits)
	}
}

func TestJudgeUnsubmittedTask(t *testing.T) {
	owner, judge := uuid.New(), uuid.New()
	task := submittedTask(owner, judge, 120)
	task.Status = models.TaskStatusInProgress
	store := newMockJudgedStore(task)
	settler := &mockSettler{}
	svc := NewJudgment(&mockDB{}, store, settler, nil)

	_, err := svc.Judge(context.Background(), judge, task.ID, models.JudgeStatusApproved, "")
	var wse *WrongStateError
	if !errors.As(err, &wse) {
		t.Fatalf("expected WrongStateError, got %v", err)
	}
	if wse.Current != models.TaskStatusInProgress {
		t.Errorf("error reports state %q, want %q", wse.Current, models.TaskStatusInProgress)
	}
}
