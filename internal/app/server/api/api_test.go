package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"edudesk/internal/domain/envelope"
	"edudesk/internal/domain/resource"
	"edudesk/internal/infrastructure/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

const testToken = "secret"

func newServer(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if deps.Service == nil {
		deps.Service = resource.NewService(memory.NewResourceRepository(), log)
	}
	srv := httptest.NewServer(New(deps, log))
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, token, body string) (int, envelope.Result) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, envelope.Normalize(resp.StatusCode, raw)
}

func TestHealthIsPublic(t *testing.T) {
	srv := newServer(t, Deps{AuthToken: testToken})

	resp, err := srv.Client().Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(bytes.TrimSpace(body)))
}

func TestHealthReportsStorageFailure(t *testing.T) {
	srv := newServer(t, Deps{Ping: func(context.Context) error { return errors.New("db down") }})

	resp, err := srv.Client().Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAuth(t *testing.T) {
	srv := newServer(t, Deps{AuthToken: testToken})

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"wrong token", "guess", http.StatusUnauthorized},
		{"valid token", testToken, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, res := call(t, srv, http.MethodGet, "/api/v1/courses", tt.token, "")

			assert.Equal(t, tt.wantStatus, status)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.False(t, res.Success)
				assert.Equal(t, envelope.CodeUnauthorized, res.Code())
			} else {
				assert.True(t, res.Success)
			}
		})
	}
}

func TestAuthDisabledWithoutToken(t *testing.T) {
	srv := newServer(t, Deps{})

	status, res := call(t, srv, http.MethodGet, "/api/v1/events", "", "")

	assert.Equal(t, http.StatusOK, status)
	assert.True(t, res.Success)
	assert.JSONEq(t, `[]`, string(res.Data))
}

func TestDocumentLifecycle(t *testing.T) {
	srv := newServer(t, Deps{AuthToken: testToken})

	status, res := call(t, srv, http.MethodPost, "/api/v1/courses", testToken, `{"id":"c1","title":"Go","teacher":"Иванов"}`)
	require.Equal(t, http.StatusCreated, status)
	require.True(t, res.Success)
	assert.JSONEq(t, `{"id":"c1","title":"Go","teacher":"Иванов"}`, string(res.Data))

	status, res = call(t, srv, http.MethodGet, "/api/v1/courses", testToken, "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[{"id":"c1","title":"Go","teacher":"Иванов"}]`, string(res.Data))

	status, res = call(t, srv, http.MethodPatch, "/api/v1/courses/c1", testToken, `{"title":"Go 2"}`)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"id":"c1","title":"Go 2","teacher":"Иванов"}`, string(res.Data))

	status, res = call(t, srv, http.MethodPut, "/api/v1/courses/c1", testToken, `{"title":"Rust"}`)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"id":"c1","title":"Rust"}`, string(res.Data))

	status, res = call(t, srv, http.MethodGet, "/api/v1/courses/c1", testToken, "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"id":"c1","title":"Rust"}`, string(res.Data))

	status, res = call(t, srv, http.MethodDelete, "/api/v1/courses/c1", testToken, "")
	require.Equal(t, http.StatusOK, status)
	assert.True(t, res.Success)

	status, res = call(t, srv, http.MethodGet, "/api/v1/courses/c1", testToken, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, envelope.CodeNotFound, res.Code())
}

func TestErrorEnvelopes(t *testing.T) {
	srv := newServer(t, Deps{AuthToken: testToken})

	_, res := call(t, srv, http.MethodPost, "/api/v1/courses", testToken, `{"id":"c1"}`)
	require.True(t, res.Success)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"unknown collection", http.MethodGet, "/api/v1/grades", "", http.StatusNotFound, envelope.CodeNotFound},
		{"missing document", http.MethodGet, "/api/v1/courses/nope", "", http.StatusNotFound, envelope.CodeNotFound},
		{"invalid message", http.MethodPost, "/api/v1/messages", `{"content":"hi"}`, http.StatusUnprocessableEntity, envelope.CodeValidation},
		{"malformed json", http.MethodPost, "/api/v1/courses", `{"id":`, http.StatusUnprocessableEntity, envelope.CodeValidation},
		{"duplicate id", http.MethodPost, "/api/v1/courses", `{"id":"c1"}`, http.StatusConflict, "CONFLICT"},
		{"delete missing", http.MethodDelete, "/api/v1/messages/nope", "", http.StatusNotFound, envelope.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, res := call(t, srv, tt.method, tt.path, testToken, tt.body)

			assert.Equal(t, tt.wantStatus, status)
			assert.False(t, res.Success)
			assert.Equal(t, tt.wantCode, res.Code())
		})
	}
}

func TestServerAssignsIDs(t *testing.T) {
	srv := newServer(t, Deps{})

	status, res := call(t, srv, http.MethodPost, "/api/v1/messages", "", `{"to":"u2","content":"hi"}`)
	require.Equal(t, http.StatusCreated, status)

	var msg struct {
		ID     string `json:"id"`
		SentAt string `json:"sent_at"`
	}
	require.NoError(t, res.Decode(&msg))
	assert.NotEmpty(t, msg.ID)
	assert.NotEmpty(t, msg.SentAt)
}

// rawCall возвращает тело ответа без нормализации, чтобы проверить его форму
func rawCall(t *testing.T, srv *httptest.Server, method, path, body string) (int, map[string]json.RawMessage) {
	t.Helper()

	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var fields map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fields))
	return resp.StatusCode, fields
}

func TestWritesAcceptJSONObjects(t *testing.T) {
	srv := newServer(t, Deps{})

	for _, tt := range []struct {
		method, path, body string
		wantStatus         int
	}{
		{http.MethodPost, "/api/v1/courses", `{"id":"c1","title":"Go"}`, http.StatusCreated},
		{http.MethodPut, "/api/v1/courses/c1", `{"title":"Rust"}`, http.StatusOK},
		{http.MethodPatch, "/api/v1/courses/c1", `{"teacher":"Иванов"}`, http.StatusOK},
	} {
		status, fields := rawCall(t, srv, tt.method, tt.path, tt.body)

		assert.Equal(t, tt.wantStatus, status, tt.method)
		assert.JSONEq(t, `true`, string(fields["success"]), tt.method)
	}

	_, res := call(t, srv, http.MethodGet, "/api/v1/courses/c1", "", "")
	assert.JSONEq(t, `{"id":"c1","title":"Rust","teacher":"Иванов"}`, string(res.Data))
}

func TestMalformedBodyIsEnvelope(t *testing.T) {
	srv := newServer(t, Deps{})

	status, fields := rawCall(t, srv, http.MethodPost, "/api/v1/courses", `{"id":`)

	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.JSONEq(t, `false`, string(fields["success"]))
	assert.NotContains(t, fields, "title")

	var e envelope.Error
	require.NoError(t, json.Unmarshal(fields["error"], &e))
	assert.Equal(t, envelope.CodeValidation, e.Code)
}

func TestFrameworkErrorsUseEnvelope(t *testing.T) {
	srv := newServer(t, Deps{})

	// тело больше лимита huma отвергается до обработчика
	big := `{"content":"` + strings.Repeat("x", 2<<20) + `"}`
	status, fields := rawCall(t, srv, http.MethodPost, "/api/v1/messages", big)

	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
	assert.JSONEq(t, `false`, string(fields["success"]))
	assert.NotContains(t, fields, "title")
	assert.Contains(t, fields, "error")
}

func TestNewError(t *testing.T) {
	err := NewError(http.StatusUnprocessableEntity, "validation failed", errors.New("expected object"))

	assert.Equal(t, http.StatusUnprocessableEntity, err.GetStatus())

	body, mErr := json.Marshal(err)
	require.NoError(t, mErr)
	assert.JSONEq(t, `{"success":false,"error":{"code":"VALIDATION_ERROR","message":"validation failed: expected object"}}`, string(body))

	res := envelope.Normalize(http.StatusUnauthorized, mustJSON(t, NewError(http.StatusUnauthorized, "")))
	assert.Equal(t, envelope.CodeUnauthorized, res.Code())
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
