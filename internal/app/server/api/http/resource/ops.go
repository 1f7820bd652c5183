package resource

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

const (
	collectionPath = "/api/v1/{collection}"
	documentPath   = "/api/v1/{collection}/{id}"
)

func (h *Handler) operation(id, method, path, summary string) huma.Operation {
	return huma.Operation{
		OperationID: id,
		Method:      method,
		Path:        path,
		Summary:     summary,
		Tags:        []string{"resources"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) listOp() huma.Operation {
	return h.operation("documents-list", http.MethodGet, collectionPath, "Список документов коллекции")
}

func (h *Handler) createOp() huma.Operation {
	op := h.operation("documents-create", http.MethodPost, collectionPath, "Создать документ")
	op.Description = "Без id в теле идентификатор назначается сервером. Сообщения и сдачи заданий проверяются."
	op.DefaultStatus = http.StatusCreated
	op.SkipValidateBody = true
	return op
}

func (h *Handler) findOp() huma.Operation {
	return h.operation("documents-find", http.MethodGet, documentPath, "Получить документ")
}

func (h *Handler) replaceOp() huma.Operation {
	op := h.operation("documents-replace", http.MethodPut, documentPath, "Заменить документ")
	op.SkipValidateBody = true
	return op
}

func (h *Handler) patchOp() huma.Operation {
	op := h.operation("documents-patch", http.MethodPatch, documentPath, "Изменить поля документа")
	op.Description = "Переписывает только переданные поля верхнего уровня."
	op.SkipValidateBody = true
	return op
}

func (h *Handler) deleteOp() huma.Operation {
	return h.operation("documents-delete", http.MethodDelete, documentPath, "Удалить документ")
}
