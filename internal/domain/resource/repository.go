package resource

import (
	"context"
)

// Repository хранит документы по коллекциям
type Repository interface {
	// List возвращает документы коллекции в порядке создания
	List(ctx context.Context, collection string) ([]Document, error)
	Get(ctx context.Context, collection, id string) (*Document, error)
	// Create сохраняет новый документ, ErrConflict если id занят
	Create(ctx context.Context, doc *Document) error
	// Update заменяет данные документа и увеличивает версию
	Update(ctx context.Context, doc *Document) error
	Delete(ctx context.Context, collection, id string) error
}
