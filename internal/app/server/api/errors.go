package api

import (
	"strings"

	"edudesk/internal/domain/envelope"

	"github.com/danielgtaylor/huma/v2"
)

func init() {
	huma.NewError = NewError
}

// Failure - ошибка huma в форме конверта {success, error}
type Failure struct {
	Status  int             `json:"-"`
	Success bool            `json:"success"`
	Detail  *envelope.Error `json:"error"`
}

func (f *Failure) Error() string {
	return f.Detail.Error()
}

func (f *Failure) GetStatus() int {
	return f.Status
}

// NewError заменяет формат ошибок huma (валидация, разбор тела, параметры)
// на конверт с кодом, выведенным из статуса
func NewError(status int, msg string, errs ...error) huma.StatusError {
	details := make([]string, 0, len(errs)+1)
	if msg != "" {
		details = append(details, msg)
	}
	for _, err := range errs {
		if err != nil {
			details = append(details, err.Error())
		}
	}

	return &Failure{
		Status: status,
		Detail: &envelope.Error{
			Code:    envelope.CodeFromStatus(status),
			Message: strings.Join(details, ": "),
		},
	}
}
