package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"edudesk/internal/domain/lms"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

// Servicer - операции над коллекциями, которые обслуживает API
type Servicer interface {
	List(ctx context.Context, collection string) ([]json.RawMessage, error)
	Find(ctx context.Context, collection, id string) (json.RawMessage, error)
	Create(ctx context.Context, collection string, body []byte) (json.RawMessage, error)
	Replace(ctx context.Context, collection, id string, body []byte) (json.RawMessage, error)
	Patch(ctx context.Context, collection, id string, body []byte) (json.RawMessage, error)
	Delete(ctx context.Context, collection, id string) error
}

type Service struct {
	repo  Repository
	log   *slog.Logger
	now   func() time.Time
	newID func() string
}

type Option func(*Service)

// WithClock подменяет источник времени
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithIDGenerator подменяет генератор идентификаторов
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		s.newID = newID
	}
}

func NewService(repo Repository, log *slog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:  repo,
		log:   log.With("component", "resource_service"),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// object - документ как набор полей верхнего уровня
type object map[string]json.RawMessage

func (s *Service) List(ctx context.Context, collection string) ([]json.RawMessage, error) {
	if !lms.IsCollection(collection) {
		return nil, ErrUnknownCollection
	}

	docs, err := s.repo.List(ctx, collection)
	if err != nil {
		s.log.Error("failed to list documents", "collection", collection, "error", err)
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}

	out := make([]json.RawMessage, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data)
	}
	return out, nil
}

func (s *Service) Find(ctx context.Context, collection, id string) (json.RawMessage, error) {
	doc, err := s.get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	return doc.Data, nil
}

// Create сохраняет документ; без id в теле идентификатор назначается сервером
func (s *Service) Create(ctx context.Context, collection string, body []byte) (json.RawMessage, error) {
	if !lms.IsCollection(collection) {
		return nil, ErrUnknownCollection
	}

	obj, err := decodeObject(body)
	if err != nil {
		return nil, err
	}
	id, err := obj.id()
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = s.newID()
	}

	now := s.now().UTC()
	s.stamp(collection, obj, now)
	if err := validateObject(collection, obj); err != nil {
		return nil, err
	}

	data, err := obj.encode(id)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Collection: collection,
		ID:         id,
		Data:       data,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, doc); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrConflict
		}
		s.log.Error("failed to create document", "collection", collection, "id", id, "error", err)
		return nil, fmt.Errorf("create %s: %w", collection, err)
	}

	s.log.Info("document created", "collection", collection, "id", id)

	if collection == lms.Submissions {
		s.markSubmitted(ctx, obj)
	}

	return doc.Data, nil
}

// Replace полностью заменяет документ
func (s *Service) Replace(ctx context.Context, collection, id string, body []byte) (json.RawMessage, error) {
	doc, err := s.get(ctx, collection, id)
	if err != nil {
		return nil, err
	}

	obj, err := decodeObject(body)
	if err != nil {
		return nil, err
	}
	return s.save(ctx, doc, obj)
}

// Patch переписывает только переданные поля верхнего уровня
func (s *Service) Patch(ctx context.Context, collection, id string, body []byte) (json.RawMessage, error) {
	doc, err := s.get(ctx, collection, id)
	if err != nil {
		return nil, err
	}

	patch, err := decodeObject(body)
	if err != nil {
		return nil, err
	}

	obj, err := decodeObject(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("stored %s/%s: %w", collection, id, err)
	}
	for k, v := range patch {
		obj[k] = v
	}
	return s.save(ctx, doc, obj)
}

func (s *Service) Delete(ctx context.Context, collection, id string) error {
	if !lms.IsCollection(collection) {
		return ErrUnknownCollection
	}

	if err := s.repo.Delete(ctx, collection, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		s.log.Error("failed to delete document", "collection", collection, "id", id, "error", err)
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}

	s.log.Info("document deleted", "collection", collection, "id", id)
	return nil
}

// Seed загружает начальные данные; уже существующие документы пропускаются
func (s *Service) Seed(ctx context.Context, data map[string][]json.RawMessage) (int, error) {
	collections := make([]string, 0, len(data))
	for c := range data {
		collections = append(collections, c)
	}
	sort.Strings(collections)

	created := 0
	for _, c := range collections {
		for _, body := range data[c] {
			_, err := s.Create(ctx, c, body)
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrConflict):
			default:
				return created, fmt.Errorf("seed %s: %w", c, err)
			}
		}
	}
	return created, nil
}

func (s *Service) get(ctx context.Context, collection, id string) (*Document, error) {
	if !lms.IsCollection(collection) {
		return nil, ErrUnknownCollection
	}

	doc, err := s.repo.Get(ctx, collection, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		s.log.Error("failed to find document", "collection", collection, "id", id, "error", err)
		return nil, fmt.Errorf("find %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

func (s *Service) save(ctx context.Context, doc *Document, obj object) (json.RawMessage, error) {
	bodyID, err := obj.id()
	if err != nil {
		return nil, err
	}
	if bodyID != "" && bodyID != doc.ID {
		return nil, fmt.Errorf("%w: id %q does not match %q", ErrInvalidData, bodyID, doc.ID)
	}
	if err := validateObject(doc.Collection, obj); err != nil {
		return nil, err
	}

	data, err := obj.encode(doc.ID)
	if err != nil {
		return nil, err
	}

	updated := *doc
	updated.Data = data
	updated.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, &updated); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		s.log.Error("failed to update document", "collection", doc.Collection, "id", doc.ID, "error", err)
		return nil, fmt.Errorf("update %s/%s: %w", doc.Collection, doc.ID, err)
	}

	s.log.Info("document updated", "collection", doc.Collection, "id", doc.ID)
	return data, nil
}

// stamp проставляет серверные поля, которых нет в теле
func (s *Service) stamp(collection string, obj object, now time.Time) {
	var field string
	switch collection {
	case lms.Messages:
		field = "sent_at"
	case lms.Submissions:
		field = "submitted_at"
	default:
		return
	}
	if _, ok := obj[field]; !ok {
		ts, _ := json.Marshal(now)
		obj[field] = ts
	}
}

// markSubmitted переводит задание в статус submitted после сдачи
func (s *Service) markSubmitted(ctx context.Context, submission object) {
	var req lms.SubmissionRequest
	if err := submission.decode(&req); err != nil || req.AssignmentID == "" {
		return
	}

	_, err := s.Patch(ctx, lms.Assignments, req.AssignmentID, []byte(`{"status":"submitted"}`))
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.log.Warn("failed to mark assignment submitted", "assignment_id", req.AssignmentID, "error", err)
	}
}

func validateObject(collection string, obj object) error {
	var err error
	switch collection {
	case lms.Messages:
		var req lms.SendMessageRequest
		if err = obj.decode(&req); err == nil {
			err = req.Validate()
		}
	case lms.Submissions:
		var req lms.SubmissionRequest
		if err = obj.decode(&req); err == nil {
			err = req.Validate()
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return nil
}

func decodeObject(body []byte) (object, error) {
	var obj object
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: expected JSON object", ErrInvalidData)
	}
	return obj, nil
}

func (o object) id() (string, error) {
	raw, ok := o["id"]
	if !ok || string(raw) == "null" {
		return "", nil
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", fmt.Errorf("%w: id must be a string", ErrInvalidData)
	}
	return id, nil
}

func (o object) encode(id string) (json.RawMessage, error) {
	rawID, err := json.Marshal(id)
	if err != nil {
		return nil, err
	}
	o["id"] = rawID
	return json.Marshal(o)
}

func (o object) decode(dst any) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
