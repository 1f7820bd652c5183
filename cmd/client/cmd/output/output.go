package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"edudesk/internal/domain/envelope"
)

// ErrReported - ошибка уже показана пользователю, повторно печатать не нужно
var ErrReported = errors.New("ошибка уже выведена")

var (
	// JSON включает машиночитаемый вывод
	JSON bool

	Out io.Writer = os.Stdout
	Err io.Writer = os.Stderr
)

var (
	okColor    = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	failColor  = color.New(color.FgRed, color.Bold)
	infoColor  = color.New(color.FgCyan)
	labelColor = color.New(color.Faint)
)

func Success(format string, args ...any) {
	okColor.Fprintf(Out, "✓ "+format+"\n", args...)
}

func Warn(format string, args ...any) {
	warnColor.Fprintf(Err, "⚠ "+format+"\n", args...)
}

func Info(format string, args ...any) {
	infoColor.Fprintf(Out, format+"\n", args...)
}

func Label(format string, args ...any) string {
	return labelColor.Sprintf(format, args...)
}

// PrintJSON печатает значение с отступами
func PrintJSON(v any) error {
	enc := json.NewEncoder(Out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// Result печатает результат шлюза и возвращает ErrReported для неуспеха,
// чтобы команда завершилась с ненулевым кодом
func Result(res envelope.Result) error {
	if JSON {
		if err := PrintJSON(res); err != nil {
			return err
		}
		if !res.Success {
			return ErrReported
		}
		return nil
	}

	if err := Meta(res); err != nil {
		return err
	}

	if len(res.Data) > 0 {
		var buf bytes.Buffer
		if err := json.Indent(&buf, res.Data, "", "  "); err != nil {
			fmt.Fprintln(Out, string(res.Data))
		} else {
			fmt.Fprintln(Out, buf.String())
		}
	}
	return nil
}

// Meta печатает признаки результата: очередь, кэш, ошибку.
// Для неуспешного результата возвращает ErrReported.
func Meta(res envelope.Result) error {
	switch {
	case !res.Success:
		code, msg := envelope.CodeUnknown, ""
		if res.Error != nil {
			code, msg = res.Error.Code, res.Error.Message
		}
		failColor.Fprintf(Err, "✗ %s: %s\n", code, msg)
		if code == envelope.CodeOffline {
			fmt.Fprintln(Err, Label("  Нет связи с сервером и нет сохраненных данных для этого запроса"))
		}
		return ErrReported
	case res.Queued:
		warnColor.Fprintf(Err, "⏳ Сохранено локально и будет отправлено при появлении связи (id: %s)\n", res.ActionID)
	case res.Stale:
		warnColor.Fprintf(Err, "⚠ %s\n", res.Message)
	case res.FromCache:
		infoColor.Fprintln(Err, "Данные из локального кэша (нет связи с сервером)")
	}
	return nil
}
