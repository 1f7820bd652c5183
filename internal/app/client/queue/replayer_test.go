package queue

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"edudesk/internal/app/client/storage"
	"edudesk/internal/domain/action"
	"edudesk/internal/domain/envelope"
)

// MockSender - мок сетевого пути шлюза
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, a *action.PendingAction) envelope.Result {
	args := m.Called(ctx, a)
	return args.Get(0).(envelope.Result)
}

// recordingSender запоминает порядок вызовов и отвечает по пути
type recordingSender struct {
	mu      sync.Mutex
	calls   []string
	replies map[string]envelope.Result
	gate    chan struct{}
	entered chan struct{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{replies: make(map[string]envelope.Result)}
}

func (s *recordingSender) Send(_ context.Context, a *action.PendingAction) envelope.Result {
	s.mu.Lock()
	s.calls = append(s.calls, a.Path)
	reply, ok := s.replies[a.Path]
	gate, entered := s.gate, s.entered
	s.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}
	if !ok {
		return envelope.Result{Success: true, Status: http.StatusOK}
	}
	return reply
}

func (s *recordingSender) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func networkError() envelope.Result {
	return envelope.Fail(envelope.CodeNetwork, "dial tcp: connection refused")
}

func httpFailure(status int, code string) envelope.Result {
	res := envelope.Fail(code, http.StatusText(status))
	res.Status = status
	return res
}

func setup(t *testing.T, sender Sender, policy Policy, paths ...string) (*Queue, *Replayer, *clock) {
	t.Helper()

	clk := &clock{t: time.UnixMilli(1700000000000)}
	q := New(storage.NewMemoryStorage(), slog.Default(), WithClock(clk.Now))
	for _, p := range paths {
		_, err := q.Enqueue(context.Background(), action.MethodPost, p, json.RawMessage(`{}`), true)
		require.NoError(t, err)
	}
	policy.Rate = 0
	r := NewReplayer(q, sender, policy, slog.Default(), WithReplayClock(clk.Now))
	return q, r, clk
}

func pendingPaths(t *testing.T, q *Queue) []string {
	t.Helper()
	pending, err := q.ListPending(context.Background())
	require.NoError(t, err)
	paths := make([]string, 0, len(pending))
	for _, a := range pending {
		paths = append(paths, a.Path)
	}
	return paths
}

func TestReplayFIFOAndDrain(t *testing.T) {
	sender := newRecordingSender()
	q, r, _ := setup(t, sender, DefaultPolicy(), "A", "B", "C")

	var events []EventType
	r.OnEvent(func(e Event) { events = append(events, e.Type) })

	report := r.ReplayAll(context.Background())

	assert.Equal(t, []string{"A", "B", "C"}, sender.Calls())
	assert.Empty(t, pendingPaths(t, q))
	assert.Equal(t, 3, report.Replayed)
	assert.Zero(t, report.Remaining)
	assert.False(t, report.Halted)
	assert.Equal(t, StateIdle, r.State())
	assert.Equal(t, []EventType{
		EventActionReplayed, EventActionReplayed, EventActionReplayed, EventQueueDrained,
	}, events)
}

// Подписчики вызываются вне блокировки: из обработчика можно читать
// состояние и подписывать новых
func TestEventListenersRunOutsideLock(t *testing.T) {
	sender := newRecordingSender()
	_, r, _ := setup(t, sender, DefaultPolicy(), "A", "B")

	var (
		states []State
		late   []EventType
	)
	r.OnEvent(func(e Event) {
		states = append(states, r.State())
		if e.Type == EventQueueDrained {
			r.OnEvent(func(e Event) { late = append(late, e.Type) })
		}
	})

	done := make(chan Report)
	go func() { done <- r.ReplayAll(context.Background()) }()

	select {
	case report := <-done:
		assert.Equal(t, 2, report.Replayed)
	case <-time.After(2 * time.Second):
		t.Fatal("replay deadlocked in event listener")
	}
	assert.Equal(t, []State{StateIdle, StateIdle, StateIdle}, states)
	assert.Empty(t, late)

	// новый подписчик получает события следующих проходов
	_, err := r.queue.Enqueue(context.Background(), action.MethodPost, "C", json.RawMessage(`{}`), true)
	require.NoError(t, err)
	r.ReplayAll(context.Background())
	assert.Equal(t, []EventType{EventActionReplayed, EventQueueDrained}, late)
}

func TestOnEventDuringReplay(t *testing.T) {
	sender := newRecordingSender()
	sender.gate = make(chan struct{})
	sender.entered = make(chan struct{}, 1)
	_, r, _ := setup(t, sender, DefaultPolicy(), "A")

	done := make(chan struct{})
	go func() {
		r.ReplayAll(context.Background())
		close(done)
	}()
	<-sender.entered

	var mu sync.Mutex
	var got []EventType
	r.OnEvent(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Type)
	})
	close(sender.gate)
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{EventActionReplayed, EventQueueDrained}, got)
}

func TestReplayWithMockSender(t *testing.T) {
	sender := new(MockSender)
	sender.On("Send", mock.Anything, mock.MatchedBy(func(a *action.PendingAction) bool {
		return a.Path == "messages" && a.Method == action.MethodPost
	})).Return(envelope.OK(json.RawMessage(`{"id":"m1"}`))).Once()

	q, r, _ := setup(t, sender, DefaultPolicy(), "messages")

	report := r.ReplayAll(context.Background())

	assert.Equal(t, 1, report.Replayed)
	assert.Empty(t, pendingPaths(t, q))
	sender.AssertExpectations(t)
}

// Строгий FIFO: первая временная ошибка останавливает проход,
// следующие действия остаются нетронутыми
func TestReplayPartialFailureHaltsStrictFIFO(t *testing.T) {
	sender := newRecordingSender()
	sender.replies["A"] = networkError()
	q, r, clk := setup(t, sender, DefaultPolicy(), "A", "B")

	report := r.ReplayAll(context.Background())

	assert.Equal(t, []string{"A"}, sender.Calls())
	assert.Equal(t, []string{"A", "B"}, pendingPaths(t, q))
	assert.True(t, report.Halted)
	assert.Equal(t, 2, report.Remaining)
	assert.Equal(t, StateIdleWithBacklog, r.State())

	pending, err := q.ListPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, clk.Now().Add(DefaultPolicy().Backoff(1)), pending[0].NextAttemptAt)
	assert.Contains(t, pending[0].LastError, envelope.CodeNetwork)
	assert.Zero(t, pending[1].Attempts)
}

func TestReplayRespectsBackoff(t *testing.T) {
	sender := newRecordingSender()
	sender.replies["A"] = networkError()
	q, r, clk := setup(t, sender, DefaultPolicy(), "A", "B")

	r.ReplayAll(context.Background())
	require.Len(t, sender.Calls(), 1)

	// Сразу после ошибки автоматический проход не трогает сеть
	report := r.ReplayAll(context.Background())
	assert.True(t, report.Halted)
	assert.Len(t, sender.Calls(), 1)

	// После backoff действие отправляется снова
	delete(sender.replies, "A")
	clk.Advance(DefaultPolicy().Backoff(1))
	report = r.ReplayAll(context.Background())
	assert.Equal(t, []string{"A", "A", "B"}, sender.Calls())
	assert.Zero(t, report.Remaining)
	assert.Empty(t, pendingPaths(t, q))
}

func TestReplayNowIgnoresBackoff(t *testing.T) {
	sender := newRecordingSender()
	sender.replies["A"] = networkError()
	_, r, _ := setup(t, sender, DefaultPolicy(), "A")

	r.ReplayAll(context.Background())
	r.ReplayNow(context.Background())

	assert.Equal(t, []string{"A", "A"}, sender.Calls())
}

func TestReplayDeadLettersAfterMaxAttempts(t *testing.T) {
	sender := newRecordingSender()
	sender.replies["A"] = httpFailure(http.StatusServiceUnavailable, envelope.CodeServer)
	policy := DefaultPolicy()
	policy.MaxAttempts = 3
	q, r, _ := setup(t, sender, policy, "A", "B")

	var failed []Event
	r.OnEvent(func(e Event) {
		if e.Type == EventActionFailed {
			failed = append(failed, e)
		}
	})

	r.ReplayNow(context.Background())
	r.ReplayNow(context.Background())
	assert.Equal(t, []string{"A", "B"}, pendingPaths(t, q))

	report := r.ReplayNow(context.Background())

	// Третья попытка исчерпала лимит, A снято, B воспроизведено
	assert.Equal(t, []string{"A", "A", "A", "B"}, sender.Calls())
	assert.Empty(t, pendingPaths(t, q))
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Replayed)

	require.Len(t, failed, 1)
	assert.Equal(t, "MAX_ATTEMPTS", failed[0].Reason)
	assert.Equal(t, 3, failed[0].Action.Attempts)

	dead, err := q.ListFailed(context.Background())
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "A", dead[0].Path)
}

func TestReplayOrphanedActionIsDeadLettered(t *testing.T) {
	sender := newRecordingSender()
	sender.replies["courses/removed"] = httpFailure(http.StatusNotFound, envelope.CodeNotFound)
	q, r, _ := setup(t, sender, DefaultPolicy(), "courses/removed", "messages")

	var failed []Event
	r.OnEvent(func(e Event) {
		if e.Type == EventActionFailed {
			failed = append(failed, e)
		}
	})

	report := r.ReplayAll(context.Background())

	assert.Equal(t, []string{"courses/removed", "messages"}, sender.Calls())
	assert.Empty(t, pendingPaths(t, q))
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Replayed)
	require.Len(t, failed, 1)
	assert.Equal(t, envelope.CodeNotFound, failed[0].Reason)
	assert.Equal(t, StateIdle, r.State())
}

func TestReplayValidationRejectIsNotRetried(t *testing.T) {
	sender := newRecordingSender()
	sender.replies["A"] = httpFailure(http.StatusUnprocessableEntity, envelope.CodeValidation)
	q, r, _ := setup(t, sender, DefaultPolicy(), "A")

	r.ReplayAll(context.Background())
	r.ReplayAll(context.Background())

	assert.Equal(t, []string{"A"}, sender.Calls())
	assert.Empty(t, pendingPaths(t, q))
}

func TestConcurrentReplayIsCoalesced(t *testing.T) {
	sender := newRecordingSender()
	sender.gate = make(chan struct{})
	sender.entered = make(chan struct{}, 1)
	q, r, _ := setup(t, sender, DefaultPolicy(), "A", "B", "C")

	done := make(chan Report, 1)
	go func() { done <- r.ReplayAll(context.Background()) }()

	// Первый проход внутри Send для A
	<-sender.entered
	assert.Equal(t, StateReplaying, r.State())

	second := r.ReplayAll(context.Background())
	assert.True(t, second.Coalesced)

	close(sender.gate)
	first := <-done

	// Ровно один обход очереди: по одному вызову на действие
	assert.Equal(t, []string{"A", "B", "C"}, sender.Calls())
	assert.Equal(t, 3, first.Replayed)
	assert.Empty(t, pendingPaths(t, q))
	assert.Equal(t, 1, r.Stats().TotalCoalesced)
}

func TestCoalescedTriggerPicksUpNewActions(t *testing.T) {
	sender := newRecordingSender()
	sender.gate = make(chan struct{})
	sender.entered = make(chan struct{}, 1)
	q, r, _ := setup(t, sender, DefaultPolicy(), "A")

	done := make(chan Report, 1)
	go func() { done <- r.ReplayAll(context.Background()) }()
	<-sender.entered

	// Новое действие пришло во время прохода: в текущий снимок не попадает
	_, err := q.Enqueue(context.Background(), action.MethodPost, "B", nil, true)
	require.NoError(t, err)
	assert.True(t, r.ReplayAll(context.Background()).Coalesced)

	close(sender.gate)
	report := <-done

	assert.Equal(t, []string{"A", "B"}, sender.Calls())
	assert.Equal(t, 2, report.Passes)
	assert.Equal(t, 2, report.Replayed)
	assert.Empty(t, pendingPaths(t, q))
}

func TestReplayEmptyQueue(t *testing.T) {
	sender := new(MockSender)
	_, r, _ := setup(t, sender, DefaultPolicy())

	report := r.ReplayAll(context.Background())

	assert.Zero(t, report.Replayed)
	assert.Equal(t, StateIdle, r.State())
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestReplayStopsOnCancelledContext(t *testing.T) {
	sender := newRecordingSender()
	q, r, _ := setup(t, sender, DefaultPolicy(), "A", "B")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := r.ReplayAll(ctx)

	assert.Empty(t, sender.Calls())
	assert.True(t, report.Halted)
	assert.Equal(t, []string{"A", "B"}, pendingPaths(t, q))
	assert.Equal(t, StateIdleWithBacklog, r.State())
}

func TestOnConnectivityTriggersReplay(t *testing.T) {
	sender := newRecordingSender()
	q, r, _ := setup(t, sender, DefaultPolicy(), "A")

	listener := r.OnConnectivity(context.Background())
	listener(false)
	assert.Empty(t, sender.Calls())

	listener(true)
	assert.Eventually(t, func() bool {
		return len(pendingPaths(t, q)) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestRefreshState(t *testing.T) {
	sender := newRecordingSender()
	_, r, _ := setup(t, sender, DefaultPolicy(), "A")

	assert.Equal(t, StateIdleWithBacklog, r.Refresh(context.Background()))
	r.ReplayAll(context.Background())
	assert.Equal(t, StateIdle, r.Refresh(context.Background()))
}

func TestClassify(t *testing.T) {
	unknown := envelope.Fail(envelope.CodeUnknown, "bad json")
	unknown.Status = http.StatusOK
	rejected := envelope.Fail("DUPLICATE", "exists")
	rejected.Status = http.StatusOK

	tests := []struct {
		name string
		res  envelope.Result
		want outcome
	}{
		{name: "success", res: envelope.Result{Success: true, Status: http.StatusCreated}, want: outcomeApplied},
		{name: "transport", res: networkError(), want: outcomeRetry},
		{name: "unparseable 2xx", res: unknown, want: outcomeApplied},
		{name: "envelope rejection on 2xx", res: rejected, want: outcomeRejected},
		{name: "timeout", res: httpFailure(http.StatusRequestTimeout, envelope.CodeServer), want: outcomeRetry},
		{name: "rate limited", res: httpFailure(http.StatusTooManyRequests, envelope.CodeServer), want: outcomeRetry},
		{name: "server error", res: httpFailure(http.StatusInternalServerError, envelope.CodeServer), want: outcomeRetry},
		{name: "gone", res: httpFailure(http.StatusGone, envelope.CodeNotFound), want: outcomeRejected},
		{name: "unauthorized", res: httpFailure(http.StatusUnauthorized, envelope.CodeUnauthorized), want: outcomeRejected},
		{name: "conflict", res: httpFailure(http.StatusConflict, envelope.CodeServer), want: outcomeRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.res))
		})
	}
}

func TestPolicyBackoff(t *testing.T) {
	p := Policy{BaseBackoff: time.Second, MaxBackoff: 10 * time.Second}

	assert.Equal(t, time.Duration(0), p.Backoff(0))
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 8*time.Second, p.Backoff(4))
	assert.Equal(t, 10*time.Second, p.Backoff(5))
	assert.Equal(t, 10*time.Second, p.Backoff(50))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "replaying", StateReplaying.String())
	assert.Equal(t, "idle-with-backlog", StateIdleWithBacklog.String())
}
