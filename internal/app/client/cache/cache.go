package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/slog"

	"edudesk/internal/app/client/storage"
)

// DefaultTTL - срок годности записи, если в конфигурации не задан другой
const DefaultTTL = 10 * time.Minute

// Entry - запись кэша вместе со временем записи
type Entry struct {
	Key       string
	Payload   json.RawMessage
	WrittenAt time.Time
}

// Cache - локальный кэш ответов с единым TTL.
// Записи не удаляются сами: годность проверяется при чтении,
// просроченная запись удаляется тем чтением, которое ее обнаружило.
type Cache struct {
	store storage.Storage
	ttl   time.Duration
	now   func() time.Time
	log   *slog.Logger
}

type Option func(*Cache)

// WithClock подменяет источник времени (для тестов)
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

func New(store storage.Storage, ttl time.Duration, log *slog.Logger, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		store: store,
		ttl:   ttl,
		now:   time.Now,
		log:   log.With("component", "cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL возвращает срок годности записей
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Put безусловно перезаписывает запись по ключу
func (c *Cache) Put(ctx context.Context, key string, payload json.RawMessage) error {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	err := c.store.PutEntry(ctx, &storage.Entry{
		Key:       key,
		Payload:   payload,
		WrittenAt: c.now(),
	})
	if err != nil {
		return fmt.Errorf("ошибка записи в кэш %s: %w", key, err)
	}

	c.log.Debug("Запись сохранена в кэш", "key", key)
	return nil
}

// Get возвращает payload, если запись есть и еще годна.
// Просроченная запись удаляется.
func (c *Cache) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	e, err := c.store.GetEntry(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка чтения кэша %s: %w", key, err)
	}

	if !c.valid(e.WrittenAt) {
		if err := c.store.DeleteEntry(ctx, key); err != nil {
			return nil, false, fmt.Errorf("ошибка удаления просроченной записи %s: %w", key, err)
		}
		c.log.Debug("Просроченная запись удалена из кэша", "key", key, "written_at", e.WrittenAt)
		return nil, false, nil
	}

	return json.RawMessage(e.Payload), true, nil
}

// Peek возвращает запись без проверки годности и без удаления
func (c *Cache) Peek(ctx context.Context, key string) (*Entry, bool, error) {
	e, err := c.store.GetEntry(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка чтения кэша %s: %w", key, err)
	}

	return &Entry{Key: e.Key, Payload: e.Payload, WrittenAt: e.WrittenAt}, true, nil
}

// Invalidate явно удаляет запись
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if err := c.store.DeleteEntry(ctx, key); err != nil {
		return fmt.Errorf("ошибка инвалидации %s: %w", key, err)
	}

	c.log.Debug("Запись кэша инвалидирована", "key", key)
	return nil
}

// Purge удаляет все просроченные записи и возвращает их число
func (c *Cache) Purge(ctx context.Context) (int, error) {
	entries, err := c.store.ListEntries(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения записей кэша: %w", err)
	}

	purged := 0
	for _, e := range entries {
		if c.valid(e.WrittenAt) {
			continue
		}
		if err := c.store.DeleteEntry(ctx, e.Key); err != nil {
			return purged, fmt.Errorf("ошибка удаления %s: %w", e.Key, err)
		}
		purged++
	}

	if purged > 0 {
		c.log.Info("Очищены просроченные записи кэша", "count", purged)
	}
	return purged, nil
}

// Entries возвращает все записи, годные и просроченные
func (c *Cache) Entries(ctx context.Context) ([]*Entry, error) {
	stored, err := c.store.ListEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения записей кэша: %w", err)
	}

	entries := make([]*Entry, 0, len(stored))
	for _, e := range stored {
		entries = append(entries, &Entry{Key: e.Key, Payload: e.Payload, WrittenAt: e.WrittenAt})
	}
	return entries, nil
}

// Valid сообщает, годна ли запись с таким временем записи
func (c *Cache) Valid(e *Entry) bool {
	return c.valid(e.WrittenAt)
}

func (c *Cache) valid(writtenAt time.Time) bool {
	return c.now().Sub(writtenAt) < c.ttl
}
