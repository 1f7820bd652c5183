package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/exp/slog"

	"edudesk/internal/app/client/cache"
	"edudesk/internal/app/client/connectivity"
	"edudesk/internal/app/client/queue"
	"edudesk/internal/domain/action"
	"edudesk/internal/domain/envelope"
)

const staleMessage = "нет связи с сервером, показаны сохраненные данные"

// Doer - сетевой путь без кэша и очереди
type Doer interface {
	Do(ctx context.Context, method, path string, body []byte, withToken bool) envelope.Result
}

// Gateway - единственная точка входа для обращений к API.
// Ожидаемые сбои (нет сети, ошибка сервера, запрос в очереди)
// всегда возвращаются как envelope.Result, а не как error.
type Gateway struct {
	doer    Doer
	cache   *cache.Cache
	queue   *queue.Queue
	monitor *connectivity.Monitor
	log     *slog.Logger
}

func New(doer Doer, c *cache.Cache, q *queue.Queue, monitor *connectivity.Monitor, log *slog.Logger) *Gateway {
	return &Gateway{
		doer:    doer,
		cache:   c,
		queue:   q,
		monitor: monitor,
		log:     log.With("component", "gateway"),
	}
}

type options struct {
	withToken bool
	cacheKey  string
	useCache  *bool
}

type Option func(*options)

// WithToken включает или отключает заголовок Authorization
func WithToken(enabled bool) Option {
	return func(o *options) {
		o.withToken = enabled
	}
}

// WithCacheKey задает слот кэша, связанный с запросом
func WithCacheKey(key string) Option {
	return func(o *options) {
		o.cacheKey = key
	}
}

// WithCache включает или отключает работу с кэшем
func WithCache(enabled bool) Option {
	return func(o *options) {
		o.useCache = &enabled
	}
}

// Online сообщает текущее состояние связи
func (g *Gateway) Online() bool {
	return g.monitor.Online()
}

// Request выполняет обращение к API с учетом состояния связи.
// Чтение вне сети отдается из кэша, изменение вне сети ставится в очередь.
func (g *Gateway) Request(ctx context.Context, method, path string, body any, opts ...Option) (res envelope.Result) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("Непредвиденная ошибка при выполнении запроса",
				"method", method,
				"path", path,
				"panic", r,
			)
			res = envelope.Fail(envelope.CodeUnknown, fmt.Sprintf("непредвиденная ошибка: %v", r))
		}
	}()

	o := options{withToken: true}
	for _, opt := range opts {
		opt(&o)
	}

	if strings.EqualFold(method, http.MethodGet) {
		useCache := true
		if o.useCache != nil {
			useCache = *o.useCache
		}
		return g.read(ctx, path, o.withToken, useCache && o.cacheKey != "", o.cacheKey)
	}

	m, ok := action.ParseMethod(method)
	if !ok {
		return envelope.Fail(envelope.CodeValidation, fmt.Sprintf("неподдерживаемый метод: %s", method))
	}

	payload, err := marshalBody(body)
	if err != nil {
		g.log.Error("Не удалось сериализовать тело запроса", "method", method, "path", path, "error", err)
		return envelope.Fail(envelope.CodeUnknown, err.Error())
	}

	invalidate := o.cacheKey != "" && (o.useCache == nil || *o.useCache)
	return g.mutate(ctx, m, path, payload, o.withToken, invalidate, o.cacheKey)
}

// Send отправляет отложенное действие напрямую в сеть.
// Используется при воспроизведении очереди и никогда не ставит действие обратно.
func (g *Gateway) Send(ctx context.Context, a *action.PendingAction) (res envelope.Result) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("Непредвиденная ошибка при воспроизведении", "action_id", a.ID, "panic", r)
			res = envelope.Fail(envelope.CodeUnknown, fmt.Sprintf("непредвиденная ошибка: %v", r))
		}
	}()

	return g.doer.Do(ctx, a.Method.HTTP(), a.Path, a.Body, a.RequiresAuth)
}

// HealthCheck проверяет доступность сервера, если транспорт это умеет
func (g *Gateway) HealthCheck(ctx context.Context) error {
	checker, ok := g.doer.(connectivity.Checker)
	if !ok {
		return fmt.Errorf("транспорт не поддерживает проверку доступности")
	}
	return checker.HealthCheck(ctx)
}

func (g *Gateway) read(ctx context.Context, path string, withToken, useCache bool, key string) envelope.Result {
	if !g.monitor.Online() {
		if useCache {
			payload, ok, err := g.cache.Get(ctx, key)
			if err != nil {
				g.log.Warn("Ошибка чтения кэша", "key", key, "error", err)
			}
			if ok {
				res := envelope.OK(payload)
				res.FromCache = true
				return res
			}
		}
		return envelope.Fail(envelope.CodeOffline, "нет связи с сервером и нет сохраненных данных")
	}

	res := g.doer.Do(ctx, http.MethodGet, path, nil, withToken)

	if res.Success {
		if useCache {
			if err := g.cache.Put(ctx, key, res.Data); err != nil {
				g.log.Warn("Не удалось обновить кэш", "key", key, "error", err)
			}
		}
		return res
	}

	if res.Code() == envelope.CodeNetwork && useCache {
		entry, ok, err := g.cache.Peek(ctx, key)
		if err != nil {
			g.log.Warn("Ошибка чтения кэша", "key", key, "error", err)
		}
		if ok {
			g.log.Info("Сеть недоступна, ответ взят из кэша", "key", key, "written_at", entry.WrittenAt)
			stale := envelope.OK(entry.Payload)
			stale.FromCache = true
			stale.Stale = true
			stale.Message = staleMessage
			return stale
		}
	}

	return res
}

func (g *Gateway) mutate(ctx context.Context, m action.Method, path string, body []byte, withToken, invalidate bool, key string) envelope.Result {
	if !g.monitor.Online() {
		var opts []queue.EnqueueOption
		if invalidate {
			opts = append(opts, queue.InvalidateOnReplay(key))
		}
		a, err := g.queue.Enqueue(ctx, m, path, body, withToken, opts...)
		if err != nil {
			g.log.Error("Не удалось поставить действие в очередь", "method", m, "path", path, "error", err)
			return envelope.Fail(envelope.CodeUnknown, err.Error())
		}
		return envelope.Result{
			Success:  true,
			Queued:   true,
			ActionID: a.ID,
			Message:  "действие сохранено и будет отправлено при появлении связи",
		}
	}

	res := g.doer.Do(ctx, m.HTTP(), path, body, withToken)
	if res.Success && invalidate {
		if err := g.cache.Invalidate(ctx, key); err != nil {
			g.log.Warn("Не удалось инвалидировать кэш", "key", key, "error", err)
		}
	}
	return res
}

func marshalBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return b, nil
	case []byte:
		return b, nil
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ошибка маршалинга тела запроса: %w", err)
	}
	return data, nil
}
