package health

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"
)

const (
	StatusOK          = "ok"
	StatusUnavailable = "unavailable"
)

// Pinger проверяет доступность хранилища
type Pinger func(ctx context.Context) error

type Handler struct {
	log        *slog.Logger
	middleware huma.Middlewares
	ping       Pinger
}

func NewHandler(log *slog.Logger, middleware huma.Middlewares, ping Pinger) *Handler {
	return &Handler{
		log:        log,
		middleware: middleware,
		ping:       ping,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.healthCheckOp(), h.healthCheck)
}

func (h *Handler) healthCheck(ctx context.Context, _ *Input) (*Output, error) {
	h.log.Debug("health check request received")

	if h.ping != nil {
		if err := h.ping(ctx); err != nil {
			h.log.Error("storage is unavailable", "error", err)
			return &Output{
				Status: http.StatusServiceUnavailable,
				Body:   Response{Status: StatusUnavailable, Error: err.Error()},
			}, nil
		}
	}

	return &Output{
		Status: http.StatusOK,
		Body:   Response{Status: StatusOK},
	}, nil
}
