package resource

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"edudesk/internal/domain/envelope"
	"edudesk/internal/domain/resource"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"
)

// CodeConflict - документ с таким id уже есть
const CodeConflict = "CONFLICT"

type Handler struct {
	service    resource.Servicer
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(service resource.Servicer, log *slog.Logger, mws huma.Middlewares) *Handler {
	return &Handler{
		service:    service,
		log:        log.With("component", "resource_handler"),
		middleware: mws,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.listOp(), h.list)
	huma.Register(api, h.createOp(), h.create)
	huma.Register(api, h.findOp(), h.find)
	huma.Register(api, h.replaceOp(), h.replace)
	huma.Register(api, h.patchOp(), h.patch)
	huma.Register(api, h.deleteOp(), h.delete)
}

func (h *Handler) list(ctx context.Context, input *collectionInput) (*output, error) {
	items, err := h.service.List(ctx, input.Collection)
	if err != nil {
		return h.fail(err), nil
	}

	data, err := json.Marshal(items)
	if err != nil {
		return h.fail(err), nil
	}
	return ok(http.StatusOK, data), nil
}

func (h *Handler) find(ctx context.Context, input *documentInput) (*output, error) {
	data, err := h.service.Find(ctx, input.Collection, input.ID)
	if err != nil {
		return h.fail(err), nil
	}
	return ok(http.StatusOK, data), nil
}

func (h *Handler) create(ctx context.Context, input *createInput) (*output, error) {
	data, err := h.service.Create(ctx, input.Collection, input.RawBody)
	if err != nil {
		return h.fail(err), nil
	}
	return ok(http.StatusCreated, data), nil
}

func (h *Handler) replace(ctx context.Context, input *updateInput) (*output, error) {
	data, err := h.service.Replace(ctx, input.Collection, input.ID, input.RawBody)
	if err != nil {
		return h.fail(err), nil
	}
	return ok(http.StatusOK, data), nil
}

func (h *Handler) patch(ctx context.Context, input *updateInput) (*output, error) {
	data, err := h.service.Patch(ctx, input.Collection, input.ID, input.RawBody)
	if err != nil {
		return h.fail(err), nil
	}
	return ok(http.StatusOK, data), nil
}

func (h *Handler) delete(ctx context.Context, input *documentInput) (*output, error) {
	if err := h.service.Delete(ctx, input.Collection, input.ID); err != nil {
		return h.fail(err), nil
	}

	data, err := json.Marshal(map[string]string{"id": input.ID})
	if err != nil {
		return h.fail(err), nil
	}
	return ok(http.StatusOK, data), nil
}

func ok(status int, data json.RawMessage) *output {
	return &output{
		Status: status,
		Body:   envelope.OK(data),
	}
}

// fail переводит ошибку сервиса в конверт с кодом и HTTP-статусом
func (h *Handler) fail(err error) *output {
	var (
		status int
		res    envelope.Result
	)
	switch {
	case errors.Is(err, resource.ErrUnknownCollection):
		status, res = http.StatusNotFound, envelope.Fail(envelope.CodeNotFound, "unknown collection")
	case errors.Is(err, resource.ErrNotFound):
		status, res = http.StatusNotFound, envelope.Fail(envelope.CodeNotFound, "document not found")
	case errors.Is(err, resource.ErrInvalidData):
		status, res = http.StatusUnprocessableEntity, envelope.Fail(envelope.CodeValidation, err.Error())
	case errors.Is(err, resource.ErrConflict):
		status, res = http.StatusConflict, envelope.Fail(CodeConflict, "document already exists")
	default:
		h.log.Error("request failed", "error", err)
		status, res = http.StatusInternalServerError, envelope.Fail(envelope.CodeServer, "internal server error")
	}
	return &output{Status: status, Body: res}
}
