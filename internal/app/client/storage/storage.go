package storage

import (
	"context"
	"errors"
	"time"

	"edudesk/internal/domain/action"
)

var ErrNotFound = errors.New("запись не найдена")

// Entry - запись кэша в том виде, в каком она лежит на диске
type Entry struct {
	Key       string
	Payload   []byte
	WrittenAt time.Time
}

// Storage - долговременное хранилище клиента: записи кэша и очередь
// отложенных действий. Снаружи его меняют только cache и queue.
type Storage interface {
	GetEntry(ctx context.Context, key string) (*Entry, error)
	PutEntry(ctx context.Context, e *Entry) error
	DeleteEntry(ctx context.Context, key string) error
	ListEntries(ctx context.Context) ([]*Entry, error)

	AppendAction(ctx context.Context, a *action.PendingAction) error
	ListActions(ctx context.Context) ([]*action.PendingAction, error)
	UpdateAction(ctx context.Context, a *action.PendingAction) error
	DeleteAction(ctx context.Context, id string) error
	MoveToFailed(ctx context.Context, f *action.FailedAction) error
	ListFailedActions(ctx context.Context) ([]*action.FailedAction, error)

	Close() error
}

// Sealer шифрует полезную нагрузку перед записью на диск
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}
