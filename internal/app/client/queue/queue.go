package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"edudesk/internal/app/client/storage"
	"edudesk/internal/domain/action"
)

// Queue - упорядоченный журнал изменений, отложенных из-за отсутствия сети
type Queue struct {
	store storage.Storage
	now   func() time.Time
	log   *slog.Logger
	mu    sync.Mutex
}

type Option func(*Queue)

// WithClock подменяет источник времени (для тестов)
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

func New(store storage.Storage, log *slog.Logger, opts ...Option) *Queue {
	q := &Queue{
		store: store,
		now:   time.Now,
		log:   log.With("component", "queue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// EnqueueOption дополняет действие при постановке в очередь
type EnqueueOption func(*action.PendingAction)

// InvalidateOnReplay запоминает ключ кэша, который нужно сбросить
// после успешного воспроизведения действия
func InvalidateOnReplay(key string) EnqueueOption {
	return func(a *action.PendingAction) {
		a.CacheKey = key
	}
}

// Enqueue добавляет действие в конец очереди и сразу возвращает его
func (q *Queue) Enqueue(ctx context.Context, method action.Method, path string, body json.RawMessage, requiresAuth bool, opts ...EnqueueOption) (*action.PendingAction, error) {
	a, err := action.New(method, path, body, requiresAuth, q.now())
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(a)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.AppendAction(ctx, a); err != nil {
		return nil, fmt.Errorf("ошибка постановки действия в очередь: %w", err)
	}

	q.log.Info("Действие отложено до появления сети",
		"action_id", a.ID,
		"method", a.Method,
		"path", a.Path,
	)
	return a.Clone(), nil
}

// ListPending возвращает снимок очереди в порядке постановки.
// Действия, добавленные после вызова, в снимок не попадают.
func (q *Queue) ListPending(ctx context.Context) ([]*action.PendingAction, error) {
	actions, err := q.store.ListActions(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения очереди: %w", err)
	}
	return actions, nil
}

// Len возвращает число ожидающих действий
func (q *Queue) Len(ctx context.Context) (int, error) {
	actions, err := q.ListPending(ctx)
	if err != nil {
		return 0, err
	}
	return len(actions), nil
}

// Remove удаляет действие после подтвержденного воспроизведения
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.DeleteAction(ctx, id); err != nil {
		return fmt.Errorf("ошибка удаления действия %s: %w", id, err)
	}
	return nil
}

// MarkRetry сохраняет счетчик попыток и время следующей попытки
func (q *Queue) MarkRetry(ctx context.Context, a *action.PendingAction) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.UpdateAction(ctx, a); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", action.ErrNotFound, a.ID)
		}
		return fmt.Errorf("ошибка обновления действия %s: %w", a.ID, err)
	}
	return nil
}

// DeadLetter снимает действие с очереди и переносит в список неудачных
func (q *Queue) DeadLetter(ctx context.Context, a *action.PendingAction, reason string) (*action.FailedAction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	failed := &action.FailedAction{
		PendingAction: *a.Clone(),
		Reason:        reason,
		FailedAt:      q.now(),
	}
	if err := q.store.MoveToFailed(ctx, failed); err != nil {
		return nil, fmt.Errorf("ошибка переноса действия %s: %w", a.ID, err)
	}

	q.log.Warn("Действие снято с очереди",
		"action_id", a.ID,
		"method", a.Method,
		"path", a.Path,
		"reason", reason,
		"attempts", a.Attempts,
	)
	return failed, nil
}

// ListFailed возвращает действия, от которых очередь отказалась
func (q *Queue) ListFailed(ctx context.Context) ([]*action.FailedAction, error) {
	failed, err := q.store.ListFailedActions(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения неудачных действий: %w", err)
	}
	return failed, nil
}
