package queue

import (
	"context"
	"math"
	"net/http"
	"sync"
	"time"

	"golang.org/x/exp/slog"
	"golang.org/x/time/rate"

	"edudesk/internal/domain/action"
	"edudesk/internal/domain/envelope"
)

// Sender отправляет действие в сеть напрямую, минуя очередь
type Sender interface {
	Send(ctx context.Context, a *action.PendingAction) envelope.Result
}

// State - состояние очереди как целого
type State int

const (
	StateIdle State = iota
	StateReplaying
	StateIdleWithBacklog
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReplaying:
		return "replaying"
	case StateIdleWithBacklog:
		return "idle-with-backlog"
	}
	return "unknown"
}

// Policy - правила воспроизведения.
// Очередь строго FIFO: первая временная ошибка останавливает проход.
type Policy struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseBackoff time.Duration `json:"base_backoff"`
	MaxBackoff  time.Duration `json:"max_backoff"`
	Rate        float64       `json:"rate"` // действий в секунду, 0 - без ограничения
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseBackoff: 2 * time.Second,
		MaxBackoff:  5 * time.Minute,
		Rate:        10,
	}
}

// Backoff возвращает задержку перед попыткой номер attempts+1
func (p Policy) Backoff(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	delay := float64(p.BaseBackoff) * math.Pow(2, float64(attempts-1))
	if delay > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(delay)
}

// EventType - вид события воспроизведения
type EventType string

const (
	EventActionReplayed EventType = "action_replayed"
	EventActionFailed   EventType = "action_failed"
	EventReplayHalted   EventType = "replay_halted"
	EventQueueDrained   EventType = "queue_drained"
)

// Event сообщает вызывающему коду о результате воспроизведения.
// По ActionFailed интерфейс с оптимистичным состоянием должен перечитать данные.
type Event struct {
	Type   EventType
	Action *action.PendingAction
	Result envelope.Result
	Reason string
}

// Report - итог вызова ReplayAll
type Report struct {
	Coalesced bool          `json:"coalesced"`
	Passes    int           `json:"passes"`
	Replayed  int           `json:"replayed"`
	Failed    int           `json:"failed"`
	Halted    bool          `json:"halted"`
	HaltedOn  string        `json:"halted_on,omitempty"`
	Remaining int           `json:"remaining"`
	Duration  time.Duration `json:"duration"`
	Err       error         `json:"-"`
}

// Stats - накопленная статистика воспроизведения
type Stats struct {
	TotalPasses    int       `json:"total_passes"`
	TotalReplayed  int       `json:"total_replayed"`
	TotalFailed    int       `json:"total_failed"`
	TotalHalts     int       `json:"total_halts"`
	LastPassAt     time.Time `json:"last_pass_at"`
	LastDrainedAt  time.Time `json:"last_drained_at"`
	TotalCoalesced int       `json:"total_coalesced"`
}

// Replayer воспроизводит очередь после восстановления связи.
// Одновременно идет не больше одного прохода.
type Replayer struct {
	queue   *Queue
	sender  Sender
	policy  Policy
	limiter *rate.Limiter
	now     func() time.Time
	log     *slog.Logger

	mu        sync.Mutex
	state     State
	rerun     bool
	stats     Stats
	listeners []func(Event)
}

type ReplayerOption func(*Replayer)

// WithReplayClock подменяет источник времени (для тестов)
func WithReplayClock(now func() time.Time) ReplayerOption {
	return func(r *Replayer) {
		r.now = now
	}
}

func NewReplayer(q *Queue, sender Sender, policy Policy, log *slog.Logger, opts ...ReplayerOption) *Replayer {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultPolicy().MaxAttempts
	}
	if policy.BaseBackoff <= 0 {
		policy.BaseBackoff = DefaultPolicy().BaseBackoff
	}
	if policy.MaxBackoff < policy.BaseBackoff {
		policy.MaxBackoff = policy.BaseBackoff
	}

	limit := rate.Inf
	if policy.Rate > 0 {
		limit = rate.Limit(policy.Rate)
	}

	r := &Replayer{
		queue:   q,
		sender:  sender,
		policy:  policy,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
		log:     log.With("component", "replayer"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnEvent подписывает обработчик на события воспроизведения
func (r *Replayer) OnEvent(fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// State возвращает текущее состояние очереди
func (r *Replayer) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Stats возвращает копию статистики
func (r *Replayer) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Refresh пересчитывает состояние по содержимому очереди, если проход не идет
func (r *Replayer) Refresh(ctx context.Context) State {
	n, err := r.queue.Len(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateReplaying || err != nil {
		return r.state
	}
	if n > 0 {
		r.state = StateIdleWithBacklog
	} else {
		r.state = StateIdle
	}
	return r.state
}

// OnConnectivity возвращает подписчика для connectivity.Monitor:
// переход в online запускает воспроизведение
func (r *Replayer) OnConnectivity(ctx context.Context) func(online bool) {
	return func(online bool) {
		if !online {
			return
		}
		go r.ReplayAll(ctx)
	}
}

// ReplayAll воспроизводит очередь с учетом backoff отдельных действий
func (r *Replayer) ReplayAll(ctx context.Context) Report {
	return r.replay(ctx, false)
}

// ReplayNow воспроизводит очередь, не дожидаясь backoff (ручной запуск)
func (r *Replayer) ReplayNow(ctx context.Context) Report {
	return r.replay(ctx, true)
}

func (r *Replayer) replay(ctx context.Context, force bool) Report {
	r.mu.Lock()
	if r.state == StateReplaying {
		// Проход уже идет: второй не запускаем, а просим повторить после него
		r.rerun = true
		r.stats.TotalCoalesced++
		r.mu.Unlock()
		r.log.Debug("Воспроизведение уже идет, запрос объединен")
		return Report{Coalesced: true}
	}
	r.state = StateReplaying
	r.mu.Unlock()

	start := r.now()
	var total Report
	var events []Event

	for {
		report, passEvents := r.pass(ctx, force)
		events = append(events, passEvents...)

		total.Passes++
		total.Replayed += report.Replayed
		total.Failed += report.Failed
		total.Halted = report.Halted
		total.HaltedOn = report.HaltedOn
		total.Remaining = report.Remaining
		total.Err = report.Err

		r.mu.Lock()
		again := r.rerun && !report.Halted && report.Err == nil && ctx.Err() == nil
		r.rerun = false
		if again {
			r.mu.Unlock()
			continue
		}

		if total.Remaining > 0 || total.Err != nil {
			r.state = StateIdleWithBacklog
		} else {
			r.state = StateIdle
		}
		r.stats.TotalPasses += total.Passes
		r.stats.TotalReplayed += total.Replayed
		r.stats.TotalFailed += total.Failed
		r.stats.LastPassAt = r.now()
		if total.Halted {
			r.stats.TotalHalts++
		}
		if total.Remaining == 0 && total.Err == nil {
			r.stats.LastDrainedAt = r.now()
		}
		listeners := append(make([]func(Event), 0, len(r.listeners)), r.listeners...)
		r.mu.Unlock()

		total.Duration = r.now().Sub(start)
		for _, ev := range events {
			for _, fn := range listeners {
				fn(ev)
			}
		}

		if total.Passes > 0 && (total.Replayed > 0 || total.Failed > 0 || total.Halted) {
			r.log.Info("Воспроизведение очереди завершено",
				"replayed", total.Replayed,
				"failed", total.Failed,
				"remaining", total.Remaining,
				"halted", total.Halted,
				"duration", total.Duration,
			)
		}
		return total
	}
}

// pass - один проход по снимку очереди
func (r *Replayer) pass(ctx context.Context, force bool) (Report, []Event) {
	var report Report
	var events []Event

	actions, err := r.queue.ListPending(ctx)
	if err != nil {
		r.log.Error("Не удалось прочитать очередь", "error", err)
		report.Err = err
		return report, events
	}

	for _, a := range actions {
		if err := ctx.Err(); err != nil {
			report.Halted = true
			report.HaltedOn = a.ID
			break
		}

		if !force && !a.NextAttemptAt.IsZero() && a.NextAttemptAt.After(r.now()) {
			// Голова очереди еще ждет backoff - проход не крутится вхолостую
			report.Halted = true
			report.HaltedOn = a.ID
			events = append(events, Event{Type: EventReplayHalted, Action: a, Reason: "backoff"})
			break
		}

		if err := r.limiter.Wait(ctx); err != nil {
			report.Halted = true
			report.HaltedOn = a.ID
			break
		}

		res := r.sender.Send(ctx, a)

		switch classify(res) {
		case outcomeApplied:
			if err := r.queue.Remove(ctx, a.ID); err != nil {
				// Без удаления действие будет отправлено повторно, дальше не идем
				r.log.Error("Не удалось удалить воспроизведенное действие", "action_id", a.ID, "error", err)
				report.Err = err
				report.Halted = true
				report.HaltedOn = a.ID
				return r.finish(ctx, report), events
			}
			report.Replayed++
			events = append(events, Event{Type: EventActionReplayed, Action: a, Result: res})
			r.log.Debug("Действие воспроизведено", "action_id", a.ID, "path", a.Path)
			continue

		case outcomeRejected:
			reason := res.Code()
			if reason == "" {
				reason = envelope.CodeServer
			}
			if _, err := r.queue.DeadLetter(ctx, withError(a, res), reason); err != nil {
				report.Err = err
				report.Halted = true
				report.HaltedOn = a.ID
				return r.finish(ctx, report), events
			}
			report.Failed++
			events = append(events, Event{Type: EventActionFailed, Action: a, Result: res, Reason: reason})
			continue
		}

		// Временная ошибка
		a = withError(a, res)
		a.Attempts++
		if a.Attempts >= r.policy.MaxAttempts {
			if _, err := r.queue.DeadLetter(ctx, a, "MAX_ATTEMPTS"); err != nil {
				report.Err = err
				report.Halted = true
				report.HaltedOn = a.ID
				return r.finish(ctx, report), events
			}
			report.Failed++
			events = append(events, Event{Type: EventActionFailed, Action: a, Result: res, Reason: "MAX_ATTEMPTS"})
			continue
		}

		a.NextAttemptAt = r.now().Add(r.policy.Backoff(a.Attempts))
		if err := r.queue.MarkRetry(ctx, a); err != nil {
			r.log.Error("Не удалось сохранить счетчик попыток", "action_id", a.ID, "error", err)
			report.Err = err
		}

		r.log.Warn("Воспроизведение остановлено на действии",
			"action_id", a.ID,
			"attempts", a.Attempts,
			"next_attempt_at", a.NextAttemptAt,
			"error", a.LastError,
		)
		report.Halted = true
		report.HaltedOn = a.ID
		events = append(events, Event{Type: EventReplayHalted, Action: a, Result: res, Reason: res.Code()})
		break
	}

	report = r.finish(ctx, report)
	if report.Remaining == 0 && report.Err == nil {
		events = append(events, Event{Type: EventQueueDrained})
	}
	return report, events
}

func (r *Replayer) finish(ctx context.Context, report Report) Report {
	n, err := r.queue.Len(ctx)
	if err != nil {
		if report.Err == nil {
			report.Err = err
		}
		return report
	}
	report.Remaining = n
	return report
}

type outcome int

const (
	outcomeApplied outcome = iota
	outcomeRejected
	outcomeRetry
)

// classify решает судьбу действия по ответу сервера.
// 404/410 означают, что ресурс удален на сервере: такое действие
// не воспроизводится повторно, как и другие отказы 4xx.
func classify(res envelope.Result) outcome {
	if res.Success {
		return outcomeApplied
	}

	switch {
	case res.Status == 0:
		return outcomeRetry
	case res.Status >= 200 && res.Status < 300:
		if res.Code() == envelope.CodeUnknown {
			// Сервер принял запрос, но ответ не разобрать: повтор создал бы дубль
			return outcomeApplied
		}
		return outcomeRejected
	case res.Status == http.StatusRequestTimeout || res.Status == http.StatusTooManyRequests:
		return outcomeRetry
	case res.Status >= 500:
		return outcomeRetry
	case res.Status >= 400:
		return outcomeRejected
	}
	return outcomeRetry
}

func withError(a *action.PendingAction, res envelope.Result) *action.PendingAction {
	c := a.Clone()
	if res.Error != nil {
		c.LastError = res.Error.Code + ": " + res.Error.Message
	}
	return c
}
