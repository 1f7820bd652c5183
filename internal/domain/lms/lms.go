package lms

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Коллекции API
const (
	Courses     = "courses"
	Assignments = "assignments"
	Events      = "events"
	Messages    = "messages"
	Submissions = "submissions"
)

// Collections - коллекции, которые обслуживает сервер
var Collections = []string{Courses, Assignments, Events, Messages, Submissions}

// IsCollection сообщает, известна ли коллекция
func IsCollection(name string) bool {
	for _, c := range Collections {
		if c == name {
			return true
		}
	}
	return false
}

type Course struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Teacher     string    `json:"teacher,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

type Assignment struct {
	ID          string    `json:"id"`
	CourseID    string    `json:"course_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	DueAt       time.Time `json:"due_at"`
	Status      string    `json:"status,omitempty"`
}

type Event struct {
	ID       string    `json:"id"`
	CourseID string    `json:"course_id,omitempty"`
	Title    string    `json:"title"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at,omitempty"`
	Location string    `json:"location,omitempty"`
}

type Message struct {
	ID      string    `json:"id"`
	From    string    `json:"from,omitempty"`
	To      string    `json:"to"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sent_at,omitempty"`
}

// SendMessageRequest - тело POST /messages
type SendMessageRequest struct {
	To      string `json:"to" validate:"required"`
	Content string `json:"content" validate:"required,max=10000"`
}

// SubmissionRequest - тело POST /submissions
type SubmissionRequest struct {
	AssignmentID string `json:"assignment_id" validate:"required"`
	Content      string `json:"content" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (r SendMessageRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("некорректное сообщение: %w", err)
	}
	return nil
}

func (r SubmissionRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("некорректная сдача задания: %w", err)
	}
	return nil
}
