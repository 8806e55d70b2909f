package domain

import "time"

// TaskStatus is the lane a task sits in on the board.
type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusReview     TaskStatus = "review"
	StatusDone       TaskStatus = "done"
)

// StatusOrder is the left-to-right lane order of the board.
var StatusOrder = []TaskStatus{StatusTodo, StatusInProgress, StatusReview, StatusDone}

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusReview, StatusDone:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var PriorityOrder = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// TaskRef is the embedded project summary on a task.
type TaskRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Assignee is the embedded user summary on a task.
type Assignee struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Task represents a single board item owned by the server.
type Task struct {
	ID          int        `json:"id"`
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	Priority    Priority   `json:"priority"`
	DueDate     *string    `json:"dueDate,omitempty"`
	ProjectID   int        `json:"projectId"`
	AssigneeID  int        `json:"assigneeId,omitempty"`
	Project     *TaskRef   `json:"project,omitempty"`
	Assignee    *Assignee  `json:"assignee,omitempty"`
}

type CreateTaskPayload struct {
	Title       string     `json:"title" validate:"required"`
	Description *string    `json:"description,omitempty"`
	Status      TaskStatus `json:"status" validate:"required,oneof=todo in_progress review done"`
	Priority    Priority   `json:"priority" validate:"required,oneof=low medium high critical"`
	DueDate     *string    `json:"dueDate,omitempty"`
	ProjectID   int        `json:"projectId" validate:"required,gt=0"`
	AssigneeID  int        `json:"assigneeId" validate:"required,gt=0"`
}

// UpdateTaskPayload carries partial updates; nil fields are left untouched.
type UpdateTaskPayload struct {
	Title       *string     `json:"title,omitempty" validate:"omitempty,min=1"`
	Description *string     `json:"description,omitempty"`
	Status      *TaskStatus `json:"status,omitempty" validate:"omitempty,oneof=todo in_progress review done"`
	Priority    *Priority   `json:"priority,omitempty" validate:"omitempty,oneof=low medium high critical"`
	DueDate     *string     `json:"dueDate,omitempty"`
	ProjectID   *int        `json:"projectId,omitempty" validate:"omitempty,gt=0"`
	AssigneeID  *int        `json:"assigneeId,omitempty" validate:"omitempty,gt=0"`
}

// Comment is a note attached to a task.
type Comment struct {
	ID        int        `json:"id"`
	TaskID    int        `json:"taskId"`
	Content   string     `json:"content"`
	AuthorID  int        `json:"authorId,omitempty"`
	Author    *Assignee  `json:"author,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// WithStatus returns a copy of tasks where only the task with the given id has
// its status replaced. Tasks that do not match are returned untouched.
func WithStatus(tasks []Task, id int, status TaskStatus) []Task {
	out := make([]Task, len(tasks))
	copy(out, tasks)
	for i := range out {
		if out[i].ID == id {
			out[i].Status = status
		}
	}
	return out
}

// WithoutTask returns a copy of tasks without the task with the given id.
func WithoutTask(tasks []Task, id int) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

// FindTask returns the task with the given id.
func FindTask(tasks []Task, id int) (Task, bool) {
	for _, t := range tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// CreateCommentPayload is the body of POST /tasks/:id/comments.
type CreateCommentPayload struct {
	Content string `json:"content" validate:"required"`
}
