package lms

import (
	"sort"
	"time"
)

// Виды элементов календаря
const (
	KindEvent    = "event"
	KindDeadline = "deadline"
)

// CalendarItem - событие или срок сдачи задания на общей шкале
type CalendarItem struct {
	Kind     string    `json:"kind"`
	ID       string    `json:"id"`
	CourseID string    `json:"course_id,omitempty"`
	Title    string    `json:"title"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end,omitempty"`
}

// Calendar сводит события и сроки заданий в один список по времени начала.
// Нулевые from и to не ограничивают окно.
func Calendar(events []Event, assignments []Assignment, from, to time.Time) []CalendarItem {
	items := make([]CalendarItem, 0, len(events)+len(assignments))

	for _, e := range events {
		items = append(items, CalendarItem{
			Kind:     KindEvent,
			ID:       e.ID,
			CourseID: e.CourseID,
			Title:    e.Title,
			Start:    e.StartsAt,
			End:      e.EndsAt,
		})
	}
	for _, a := range assignments {
		if a.DueAt.IsZero() {
			continue
		}
		items = append(items, CalendarItem{
			Kind:     KindDeadline,
			ID:       a.ID,
			CourseID: a.CourseID,
			Title:    a.Title,
			Start:    a.DueAt,
		})
	}

	filtered := items[:0]
	for _, it := range items {
		if !from.IsZero() && it.Start.Before(from) {
			continue
		}
		if !to.IsZero() && !it.Start.Before(to) {
			continue
		}
		filtered = append(filtered, it)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Start.Equal(filtered[j].Start) {
			return filtered[i].Kind < filtered[j].Kind
		}
		return filtered[i].Start.Before(filtered[j].Start)
	})
	return filtered
}
