package envelope

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantSuccess bool
		wantData    string
		wantCode    string
		wantMessage string
	}{
		{
			name:        "envelope success",
			status:      http.StatusOK,
			body:        `{"success":true,"data":{"id":"c1"}}`,
			wantSuccess: true,
			wantData:    `{"id":"c1"}`,
		},
		{
			name:        "envelope error object passes through",
			status:      http.StatusConflict,
			body:        `{"success":false,"error":{"code":"DUPLICATE","message":"already exists"}}`,
			wantCode:    "DUPLICATE",
			wantMessage: "already exists",
		},
		{
			name:        "envelope error string",
			status:      http.StatusBadRequest,
			body:        `{"success":false,"error":"title is required"}`,
			wantCode:    CodeValidation,
			wantMessage: "title is required",
		},
		{
			name:     "envelope error without code on 200",
			status:   http.StatusOK,
			body:     `{"success":false}`,
			wantCode: CodeServer,
		},
		{
			name:        "bare payload is wrapped",
			status:      http.StatusOK,
			body:        `[{"id":"a1"},{"id":"a2"}]`,
			wantSuccess: true,
			wantData:    `[{"id":"a1"},{"id":"a2"}]`,
		},
		{
			name:        "bare object without success key",
			status:      http.StatusCreated,
			body:        `{"id":"m1","content":"hi"}`,
			wantSuccess: true,
			wantData:    `{"id":"m1","content":"hi"}`,
		},
		{
			name:        "bare error body from auth middleware",
			status:      http.StatusUnauthorized,
			body:        `{"error":"Unauthorized"}`,
			wantCode:    CodeUnauthorized,
			wantMessage: "Unauthorized",
		},
		{
			name:     "not found without body",
			status:   http.StatusNotFound,
			body:     "",
			wantCode: CodeNotFound,
		},
		{
			name:        "no content",
			status:      http.StatusNoContent,
			body:        "",
			wantSuccess: true,
		},
		{
			name:     "malformed json on success status",
			status:   http.StatusOK,
			body:     `{"success":tru`,
			wantCode: CodeUnknown,
		},
		{
			name:        "plain text error from proxy",
			status:      http.StatusBadGateway,
			body:        "bad gateway",
			wantCode:    CodeServer,
			wantMessage: "bad gateway",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Normalize(tt.status, []byte(tt.body))

			assert.Equal(t, tt.wantSuccess, res.Success)
			assert.Equal(t, tt.status, res.Status)
			if tt.wantData != "" {
				assert.JSONEq(t, tt.wantData, string(res.Data))
			}
			if tt.wantSuccess {
				assert.Nil(t, res.Error)
				return
			}
			require.NotNil(t, res.Error)
			assert.Equal(t, tt.wantCode, res.Error.Code)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, res.Error.Message)
			}
		})
	}
}

func TestResultDecode(t *testing.T) {
	res := OK([]byte(`{"title":"Algebra"}`))

	var course struct {
		Title string `json:"title"`
	}
	require.NoError(t, res.Decode(&course))
	assert.Equal(t, "Algebra", course.Title)
	assert.Equal(t, "", res.Code())

	failed := Fail(CodeOffline, "нет сети")
	assert.Equal(t, CodeOffline, failed.Code())
	assert.NoError(t, failed.Decode(&course))
}
