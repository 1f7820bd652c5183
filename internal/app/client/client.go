package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"

	"edudesk/internal/app/client/cache"
	"edudesk/internal/app/client/config"
	"edudesk/internal/app/client/connectivity"
	"edudesk/internal/app/client/crypto"
	"edudesk/internal/app/client/gateway"
	"edudesk/internal/app/client/queue"
	"edudesk/internal/app/client/storage"
	"edudesk/internal/domain/action"
	"edudesk/internal/domain/envelope"
)

// ErrNoToken - токен не сохранен
var ErrNoToken = errors.New("токен не найден. Выполните: edudesk auth token")

type App struct {
	config      *config.Config
	log         *slog.Logger
	storage     storage.Storage
	transport   *gateway.Transport
	cache       *cache.Cache
	queue       *queue.Queue
	replayer    *queue.Replayer
	monitor     *connectivity.Monitor
	prober      *connectivity.Prober
	gateway     *gateway.Gateway
	unsubscribe func()
	cancel      context.CancelFunc
	token       string
	mu          sync.RWMutex
}

type Option func(*options)

type options struct {
	storage storage.Storage
	now     func() time.Time
}

// WithStorage подставляет готовое хранилище вместо SQLite
func WithStorage(s storage.Storage) Option {
	return func(o *options) {
		o.storage = s
	}
}

// WithClock подменяет источник времени кэша и очереди (для тестов)
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func New(cfg *config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	store := o.storage
	if store == nil {
		var err error
		store, err = openStorage(cfg, log)
		if err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		config:  cfg,
		log:     log,
		storage: store,
		monitor: connectivity.NewMonitor(!cfg.StartOffline),
		cancel:  cancel,
	}

	app.transport = gateway.NewTransport(cfg.BaseURL(), cfg.RequestTimeout, app, log)
	app.cache = cache.New(store, cfg.CacheTTL, log, cache.WithClock(o.now))
	app.queue = queue.New(store, log, queue.WithClock(o.now))
	app.gateway = gateway.New(app.transport, app.cache, app.queue, app.monitor, log)
	app.replayer = queue.NewReplayer(app.queue, app.gateway, queue.Policy{
		MaxAttempts: cfg.Replay.MaxAttempts,
		BaseBackoff: cfg.Replay.Backoff,
		MaxBackoff:  cfg.Replay.MaxBackoff,
		Rate:        cfg.Replay.Rate,
	}, log, queue.WithReplayClock(o.now))
	app.prober = connectivity.NewProber(app.transport, app.monitor, cfg.ProbeInterval, cfg.RequestTimeout, log)

	app.unsubscribe = app.monitor.Subscribe(app.replayer.OnConnectivity(ctx))
	app.replayer.OnEvent(app.reconcile)
	app.replayer.Refresh(ctx)

	// Загружаем токен если он есть
	if token, err := app.GetToken(); err == nil {
		app.mu.Lock()
		app.token = token
		app.mu.Unlock()
		log.Debug("Токен загружен из файла")
	}

	return app, nil
}

// openStorage открывает SQLite, а при неудаче переходит на память
func openStorage(cfg *config.Config, log *slog.Logger) (storage.Storage, error) {
	if err := cfg.EnsureDir(); err != nil {
		log.Warn("Не удалось создать директорию данных", "error", err)
	}

	var sqliteOpts []storage.Option
	if cfg.StoreSecret != "" {
		sealer, err := crypto.NewSealer(cfg.StoreSecret, cfg.SaltPath)
		if err != nil {
			return nil, fmt.Errorf("ошибка инициализации шифрования хранилища: %w", err)
		}
		sqliteOpts = append(sqliteOpts, storage.WithSealer(sealer))
	}

	sqliteStorage, err := storage.NewSQLiteStorage(cfg.DataPath, sqliteOpts...)
	if err != nil {
		log.Warn("Не удалось инициализировать SQLite, используем память", "error", err)
		return storage.NewMemoryStorage(), nil
	}
	return sqliteStorage, nil
}

// Run запускает опрос сервера и периодическое воспроизведение очереди
// до сигнала завершения или отмены ctx
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.mu.Lock()
	parent := a.cancel
	a.cancel = func() {
		cancel()
		parent()
	}
	a.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.prober.Run(ctx)
	})
	g.Go(func() error {
		a.replayLoop(ctx)
		return nil
	})
	g.Go(func() error {
		a.handleSignals(ctx, cancel)
		return nil
	})

	a.log.Info("Клиент запущен",
		"server", a.config.BaseURL(),
		"env", a.config.Env,
		"online", a.monitor.Online(),
	)

	return g.Wait()
}

func (a *App) replayLoop(ctx context.Context) {
	ticker := time.NewTicker(a.config.ReplayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.log.Info("Воспроизведение очереди остановлено")
			return
		case <-ticker.C:
			if !a.monitor.Online() {
				continue
			}
			if a.replayer.Refresh(ctx) == queue.StateIdleWithBacklog {
				report := a.replayer.ReplayAll(ctx)
				if report.Err != nil {
					a.log.Error("Ошибка воспроизведения очереди", "error", report.Err)
				}
			}
		}
	}
}

func (a *App) handleSignals(ctx context.Context, cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
	case sig := <-sigChan:
		a.log.Info("Получен сигнал завершения", "signal", sig.String())
		cancel()
	}
}

// Shutdown останавливает фоновые задачи и закрывает хранилище
func (a *App) Shutdown() {
	a.log.Info("Завершение работы клиента...")

	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	cancel()

	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	if err := a.storage.Close(); err != nil {
		a.log.Error("Ошибка закрытия хранилища", "error", err)
	}

	a.log.Info("Клиент завершил работу")
}

// Probe один раз проверяет связь и обновляет состояние
func (a *App) Probe(ctx context.Context) bool {
	return a.prober.Probe(ctx)
}

// SetOnline принудительно задает состояние связи
func (a *App) SetOnline(online bool) {
	a.monitor.Set(online)
}

// Online сообщает текущее состояние связи
func (a *App) Online() bool {
	return a.monitor.Online()
}

// Request выполняет обращение к API через шлюз
func (a *App) Request(ctx context.Context, method, path string, body any, opts ...gateway.Option) envelope.Result {
	return a.gateway.Request(ctx, method, path, body, opts...)
}

// OnReplayEvent подписывает обработчик на события воспроизведения очереди
func (a *App) OnReplayEvent(fn func(queue.Event)) {
	a.replayer.OnEvent(fn)
}

// ReplayAll воспроизводит очередь с учетом backoff
func (a *App) ReplayAll(ctx context.Context) queue.Report {
	return a.replayer.ReplayAll(ctx)
}

// ReplayNow воспроизводит очередь немедленно, не дожидаясь backoff
func (a *App) ReplayNow(ctx context.Context) queue.Report {
	return a.replayer.ReplayNow(ctx)
}

// Pending возвращает снимок очереди
func (a *App) Pending(ctx context.Context) ([]*action.PendingAction, error) {
	return a.queue.ListPending(ctx)
}

// Failed возвращает действия, снятые с очереди
func (a *App) Failed(ctx context.Context) ([]*action.FailedAction, error) {
	return a.queue.ListFailed(ctx)
}

// InvalidateCache удаляет запись кэша
func (a *App) InvalidateCache(ctx context.Context, key string) error {
	return a.cache.Invalidate(ctx, key)
}

// PurgeCache удаляет просроченные записи кэша
func (a *App) PurgeCache(ctx context.Context) (int, error) {
	return a.cache.Purge(ctx)
}

// CacheEntries возвращает все записи кэша
func (a *App) CacheEntries(ctx context.Context) ([]*cache.Entry, error) {
	return a.cache.Entries(ctx)
}

// CacheValid сообщает, годна ли запись
func (a *App) CacheValid(e *cache.Entry) bool {
	return a.cache.Valid(e)
}

// Status - сводка состояния клиента
type Status struct {
	Server       string      `json:"server"`
	Online       bool        `json:"online"`
	State        string      `json:"state"`
	Pending      int         `json:"pending"`
	Failed       int         `json:"failed"`
	CacheEntries int         `json:"cache_entries"`
	CacheTTL     string      `json:"cache_ttl"`
	Token        bool        `json:"token"`
	Replay       queue.Stats `json:"replay"`
}

func (a *App) Status(ctx context.Context) (*Status, error) {
	pending, err := a.queue.Len(ctx)
	if err != nil {
		return nil, err
	}
	failed, err := a.queue.ListFailed(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := a.cache.Entries(ctx)
	if err != nil {
		return nil, err
	}
	_, hasToken := a.Token()

	return &Status{
		Server:       a.config.BaseURL(),
		Online:       a.monitor.Online(),
		State:        a.replayer.Refresh(ctx).String(),
		Pending:      pending,
		Failed:       len(failed),
		CacheEntries: len(entries),
		CacheTTL:     a.cache.TTL().String(),
		Token:        hasToken,
		Replay:       a.replayer.Stats(),
	}, nil
}

// Token отдает токен транспорту
func (a *App) Token() (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token, a.token != ""
}

// GetToken возвращает сохраненный токен
func (a *App) GetToken() (string, error) {
	tokenBytes, err := os.ReadFile(a.config.TokenPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("ошибка чтения токена: %w", err)
	}

	token := strings.TrimSpace(string(tokenBytes))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// SaveToken сохраняет токен аутентификации
func (a *App) SaveToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrNoToken
	}

	if err := a.config.EnsureDir(); err != nil {
		return err
	}
	if err := os.WriteFile(a.config.TokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("ошибка сохранения токена: %w", err)
	}

	a.mu.Lock()
	a.token = token
	a.mu.Unlock()

	return nil
}

// ClearToken удаляет токен
func (a *App) ClearToken() error {
	a.mu.Lock()
	a.token = ""
	a.mu.Unlock()

	if err := os.Remove(a.config.TokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления токена: %w", err)
	}
	return nil
}

// reconcile сбрасывает списки в кэше после того, как отложенное
// изменение дошло до сервера или было отвергнуто
func (a *App) reconcile(ev queue.Event) {
	if ev.Action == nil {
		return
	}
	if ev.Type != queue.EventActionReplayed && ev.Type != queue.EventActionFailed {
		return
	}

	keys := cacheKeysForPath(ev.Action.Path)
	if ev.Action.CacheKey != "" {
		keys = append(keys, ev.Action.CacheKey)
	}
	for _, key := range keys {
		if err := a.cache.Invalidate(context.Background(), key); err != nil {
			a.log.Warn("Не удалось сбросить кэш после воспроизведения", "key", key, "error", err)
		}
	}
}
