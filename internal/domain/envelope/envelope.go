package envelope

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// Коды ошибок, которые видит вызывающий код
const (
	CodeOffline      = "OFFLINE"
	CodeNetwork      = "NETWORK_ERROR"
	CodeServer       = "SERVER_ERROR"
	CodeValidation   = "VALIDATION_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeUnknown      = "UNKNOWN_ERROR"
)

// Error описывает ошибку в едином формате ответа
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Result - канонический результат любого вызова шлюза.
// Ожидаемые сбои (офлайн, сеть, ошибка сервера) никогда не приходят
// через error или panic, только через Success=false.
type Result struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *Error          `json:"error,omitempty"`
	FromCache bool            `json:"fromCache,omitempty"`
	Stale     bool            `json:"stale,omitempty"`
	Queued    bool            `json:"queued,omitempty"`
	ActionID  string          `json:"actionId,omitempty"`
	Message   string          `json:"message,omitempty"`
	Status    int             `json:"-"`
}

// OK собирает успешный результат
func OK(data json.RawMessage) Result {
	return Result{Success: true, Data: data}
}

// Fail собирает неуспешный результат
func Fail(code, message string) Result {
	return Result{
		Success: false,
		Error:   &Error{Code: code, Message: message},
	}
}

// Code возвращает код ошибки или пустую строку для успешного результата
func (r Result) Code() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Code
}

// Decode разбирает Data в dst
func (r Result) Decode(dst any) error {
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, dst)
}

// wire - форма конверта, которую отдает бэкенд
type wire struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Normalize приводит ответ транспорта к каноническому Result.
// Конверт {success, data, error} разбирается как есть, голое тело
// оборачивается по HTTP статусу.
func Normalize(status int, body []byte) Result {
	body = bytes.TrimSpace(body)

	if len(body) == 0 {
		if status >= http.StatusBadRequest {
			res := Fail(CodeFromStatus(status), http.StatusText(status))
			res.Status = status
			return res
		}
		return Result{Success: true, Status: status}
	}

	if !json.Valid(body) {
		if status >= http.StatusBadRequest {
			res := Fail(CodeFromStatus(status), string(body))
			res.Status = status
			return res
		}
		res := Fail(CodeUnknown, "некорректный JSON в ответе сервера")
		res.Status = status
		return res
	}

	var w wire
	if body[0] == '{' && json.Unmarshal(body, &w) == nil && w.Success != nil {
		res := Result{
			Success: *w.Success && status < http.StatusBadRequest,
			Data:    w.Data,
			Message: w.Message,
			Status:  status,
		}
		if !res.Success {
			res.Error = decodeError(w.Error, status)
		}
		return res
	}

	if status >= http.StatusBadRequest {
		res := Result{Success: false, Error: decodeError(body, status), Status: status}
		return res
	}

	return Result{Success: true, Data: json.RawMessage(body), Status: status}
}

// decodeError понимает как {code, message}, так и строку, как это делает
// обработчик ошибок бэкенда
func decodeError(raw json.RawMessage, status int) *Error {
	fallback := &Error{Code: CodeFromStatus(status), Message: http.StatusText(status)}
	if len(raw) == 0 {
		return fallback
	}

	var e Error
	if err := json.Unmarshal(raw, &e); err == nil && (e.Code != "" || e.Message != "") {
		if e.Code == "" {
			e.Code = fallback.Code
		}
		return &e
	}

	var wrapped struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Error) > 0 {
		return decodeError(wrapped.Error, status)
	}
	if wrapped.Message != "" {
		fallback.Message = wrapped.Message
		return fallback
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		fallback.Message = s
	}
	return fallback
}

// CodeFromStatus выводит код ошибки из HTTP статуса
func CodeFromStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CodeUnauthorized
	case status == http.StatusNotFound || status == http.StatusGone:
		return CodeNotFound
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return CodeValidation
	default:
		return CodeServer
	}
}
