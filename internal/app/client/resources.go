package client

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"edudesk/internal/app/client/gateway"
	"edudesk/internal/domain/envelope"
	"edudesk/internal/domain/lms"
)

// CacheKey возвращает ключ кэша ресурса: <resource>:<id> или <resource>:list
func CacheKey(resource, id string) string {
	if id == "" {
		return resource + ":list"
	}
	return resource + ":" + id
}

// cacheKeysForPath выводит ключи кэша, которые устаревают после изменения по пути
func cacheKeysForPath(path string) []string {
	path, _, _ = strings.Cut(path, "?")
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return nil
	}

	keys := []string{CacheKey(segments[0], "")}
	if len(segments) > 1 && segments[1] != "" {
		id, err := url.PathUnescape(segments[1])
		if err != nil {
			id = segments[1]
		}
		keys = append(keys, CacheKey(segments[0], id))
	}
	return keys
}

func resourcePath(resource, id string) string {
	return resource + "/" + url.PathEscape(id)
}

// decode разбирает данные успешного результата; ошибка разбора
// превращается в UNKNOWN_ERROR с сохранением признаков источника
func decode[T any](res envelope.Result) (T, envelope.Result) {
	var out T
	if !res.Success {
		return out, res
	}
	if err := res.Decode(&out); err != nil {
		failed := envelope.Fail(envelope.CodeUnknown, "ошибка разбора ответа: "+err.Error())
		failed.Status = res.Status
		failed.FromCache = res.FromCache
		return out, failed
	}
	return out, res
}

func (a *App) ListCourses(ctx context.Context) ([]lms.Course, envelope.Result) {
	res := a.gateway.Request(ctx, http.MethodGet, lms.Courses, nil,
		gateway.WithCacheKey(CacheKey(lms.Courses, "")))
	return decode[[]lms.Course](res)
}

func (a *App) GetCourse(ctx context.Context, id string) (*lms.Course, envelope.Result) {
	if id == "" {
		return nil, envelope.Fail(envelope.CodeValidation, "не задан идентификатор курса")
	}

	res := a.gateway.Request(ctx, http.MethodGet, resourcePath(lms.Courses, id), nil,
		gateway.WithCacheKey(CacheKey(lms.Courses, id)))
	course, res := decode[lms.Course](res)
	if !res.Success {
		return nil, res
	}
	return &course, res
}

// ListAssignments возвращает задания; непустой courseID оставляет задания одного курса.
// Фильтр применяется локально, поэтому кэш общий для всех курсов.
func (a *App) ListAssignments(ctx context.Context, courseID string) ([]lms.Assignment, envelope.Result) {
	res := a.gateway.Request(ctx, http.MethodGet, lms.Assignments, nil,
		gateway.WithCacheKey(CacheKey(lms.Assignments, "")))
	assignments, res := decode[[]lms.Assignment](res)
	if !res.Success || courseID == "" {
		return assignments, res
	}

	filtered := assignments[:0]
	for _, as := range assignments {
		if as.CourseID == courseID {
			filtered = append(filtered, as)
		}
	}
	return filtered, res
}

// SubmitAssignment сдает задание; вне сети сдача ставится в очередь
func (a *App) SubmitAssignment(ctx context.Context, assignmentID, content string) envelope.Result {
	req := lms.SubmissionRequest{AssignmentID: assignmentID, Content: content}
	if err := req.Validate(); err != nil {
		return envelope.Fail(envelope.CodeValidation, err.Error())
	}

	return a.gateway.Request(ctx, http.MethodPost, lms.Submissions, req,
		gateway.WithCacheKey(CacheKey(lms.Assignments, "")))
}

// ListEvents возвращает календарь: события и сроки заданий в порядке начала
func (a *App) ListEvents(ctx context.Context, from, to time.Time) ([]lms.CalendarItem, envelope.Result) {
	evRes := a.gateway.Request(ctx, http.MethodGet, lms.Events, nil,
		gateway.WithCacheKey(CacheKey(lms.Events, "")))
	events, evRes := decode[[]lms.Event](evRes)
	if !evRes.Success {
		return nil, evRes
	}

	assignments, asRes := a.ListAssignments(ctx, "")
	if !asRes.Success {
		return nil, asRes
	}

	res := envelope.Result{
		Success:   true,
		FromCache: evRes.FromCache || asRes.FromCache,
		Stale:     evRes.Stale || asRes.Stale,
		Status:    evRes.Status,
	}
	if res.Stale {
		res.Message = evRes.Message
		if res.Message == "" {
			res.Message = asRes.Message
		}
	}
	return lms.Calendar(events, assignments, from, to), res
}

func (a *App) ListMessages(ctx context.Context) ([]lms.Message, envelope.Result) {
	res := a.gateway.Request(ctx, http.MethodGet, lms.Messages, nil,
		gateway.WithCacheKey(CacheKey(lms.Messages, "")))
	return decode[[]lms.Message](res)
}

// SendMessage отправляет сообщение; вне сети оно ставится в очередь
func (a *App) SendMessage(ctx context.Context, to, content string) envelope.Result {
	req := lms.SendMessageRequest{To: to, Content: content}
	if err := req.Validate(); err != nil {
		return envelope.Fail(envelope.CodeValidation, err.Error())
	}

	return a.gateway.Request(ctx, http.MethodPost, lms.Messages, req,
		gateway.WithCacheKey(CacheKey(lms.Messages, "")))
}

func (a *App) DeleteMessage(ctx context.Context, id string) envelope.Result {
	if id == "" {
		return envelope.Fail(envelope.CodeValidation, "не задан идентификатор сообщения")
	}

	res := a.gateway.Request(ctx, http.MethodDelete, resourcePath(lms.Messages, id), nil,
		gateway.WithCacheKey(CacheKey(lms.Messages, "")))
	if res.Success && !res.Queued {
		if err := a.cache.Invalidate(ctx, CacheKey(lms.Messages, id)); err != nil {
			a.log.Warn("Не удалось инвалидировать кэш", "key", CacheKey(lms.Messages, id), "error", err)
		}
	}
	return res
}
