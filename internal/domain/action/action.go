package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	ErrInvalidAction = errors.New("некорректное отложенное действие")
	ErrNotFound      = errors.New("действие не найдено")
)

// Method - вид изменяющей операции
type Method string

const (
	MethodPost   Method = "post"
	MethodPatch  Method = "patch"
	MethodPut    Method = "put"
	MethodDelete Method = "delete"
)

// ParseMethod принимает HTTP метод в любом регистре
func ParseMethod(s string) (Method, bool) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case MethodPost, MethodPatch, MethodPut, MethodDelete:
		return m, true
	}
	return "", false
}

// HTTP возвращает метод в виде для net/http
func (m Method) HTTP() string {
	switch m {
	case MethodPost:
		return http.MethodPost
	case MethodPatch:
		return http.MethodPatch
	case MethodPut:
		return http.MethodPut
	case MethodDelete:
		return http.MethodDelete
	}
	return strings.ToUpper(string(m))
}

// PendingAction - изменение, отложенное из-за отсутствия сети.
// Поля самого действия после постановки в очередь не меняются,
// меняются только Attempts, NextAttemptAt и LastError.
type PendingAction struct {
	ID           string          `json:"id" validate:"required"`
	Method       Method          `json:"method" validate:"required,oneof=post patch put delete"`
	Path         string          `json:"path" validate:"required"`
	Body         json.RawMessage `json:"body,omitempty"`
	RequiresAuth bool            `json:"requiresAuth"`
	EnqueuedAt   time.Time       `json:"enqueuedAt" validate:"required"`

	Attempts      int       `json:"attempts" validate:"gte=0"`
	NextAttemptAt time.Time `json:"nextAttemptAt,omitempty"`
	LastError     string    `json:"lastError,omitempty"`

	// CacheKey - ключ кэша, указанный вызывающим; сбрасывается после успешной отправки
	CacheKey string `json:"cacheKey,omitempty"`
}

// FailedAction - действие, снятое с очереди после окончательной ошибки
type FailedAction struct {
	PendingAction
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failedAt"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// New собирает действие и присваивает ему идентификатор
func New(method Method, path string, body json.RawMessage, requiresAuth bool, now time.Time) (*PendingAction, error) {
	a := &PendingAction{
		ID:           NewID(now),
		Method:       method,
		Path:         path,
		Body:         body,
		RequiresAuth: requiresAuth,
		EnqueuedAt:   now,
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Validate проверяет обязательные поля действия
func (a *PendingAction) Validate() error {
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	return nil
}

// NewID - метка времени в миллисекундах плюс случайный суффикс,
// чтобы два действия в одну миллисекунду не совпали
func NewID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d-%s", now.UnixMilli(), suffix)
}

// Clone возвращает копию, безопасную для изменения вызывающим
func (a *PendingAction) Clone() *PendingAction {
	c := *a
	if a.Body != nil {
		c.Body = append(json.RawMessage(nil), a.Body...)
	}
	return &c
}
