package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/exp/slog"

	"edudesk/internal/domain/envelope"
)

// DefaultTimeout - таймаут сетевого вызова, после которого запрос
// считается неудачным и чтение уходит на кэш
const DefaultTimeout = 15 * time.Second

const userAgent = "EduDesk-Client/1.0"

// TokenSource отдает токен активной сессии, если он есть
type TokenSource interface {
	Token() (string, bool)
}

// Transport выполняет HTTP-вызовы к API и нормализует ответы в envelope.Result
type Transport struct {
	client    *http.Client
	log       *slog.Logger
	baseURL   string
	tokens    TokenSource
	userAgent string
}

func NewTransport(baseURL string, timeout time.Duration, tokens TokenSource, log *slog.Logger) *Transport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConnsPerHost: 10,
		},
	}

	return &Transport{
		client:    client,
		log:       log.With("component", "transport"),
		baseURL:   strings.TrimRight(baseURL, "/"),
		tokens:    tokens,
		userAgent: userAgent,
	}
}

// BaseURL возвращает адрес API без завершающего слеша
func (t *Transport) BaseURL() string {
	return t.baseURL
}

// HealthCheck проверяет доступность сервера
func (t *Transport) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("ошибка создания запроса: %w", err)
	}

	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("сервер недоступен: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("сервер вернул статус: %d", resp.StatusCode)
	}

	return nil
}

// Do выполняет запрос. Ошибка транспорта возвращается как NETWORK_ERROR
// с нулевым статусом, любой полученный ответ проходит через envelope.Normalize.
func (t *Transport) Do(ctx context.Context, method, path string, body []byte, withToken bool) envelope.Result {
	var reqBody io.Reader
	if len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.resolve(path), reqBody)
	if err != nil {
		return envelope.Fail(envelope.CodeUnknown, fmt.Sprintf("ошибка создания запроса: %v", err))
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", t.userAgent)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	// токен уходит только на хост API, абсолютный адрес чужого хоста его не получает
	if withToken && t.tokens != nil && t.sameHost(req.URL) {
		if token, ok := t.tokens.Token(); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	t.log.Debug("Отправка запроса",
		"method", method,
		"url", req.URL.String(),
	)

	resp, err := t.client.Do(req)
	if err != nil {
		return envelope.Fail(envelope.CodeNetwork, fmt.Sprintf("ошибка выполнения запроса: %v", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return envelope.Fail(envelope.CodeNetwork, fmt.Sprintf("ошибка чтения ответа: %v", err))
	}

	t.log.Debug("Получен ответ",
		"method", method,
		"url", req.URL.String(),
		"status", resp.StatusCode,
		"size", len(raw),
	)

	res := envelope.Normalize(resp.StatusCode, raw)
	if res.Code() == envelope.CodeUnknown {
		t.log.Error("Некорректный ответ сервера",
			"method", method,
			"url", req.URL.String(),
			"status", resp.StatusCode,
		)
	}
	return res
}

func (t *Transport) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return t.baseURL + "/" + strings.TrimLeft(path, "/")
}

func (t *Transport) sameHost(u *url.URL) bool {
	base, err := url.Parse(t.baseURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(base.Scheme, u.Scheme) && strings.EqualFold(base.Host, u.Host)
}
