package domain

import (
	"fmt"
	"net/url"
	"strconv"
)

// TaskFilter narrows GET /tasks. Zero values are omitted.
type TaskFilter struct {
	ProjectID   int
	Status      TaskStatus
	AssigneeID  int
	Title       string
	Priority    Priority
	DueDateFrom string
	DueDateTo   string
}

// Values returns the filter as query parameters.
func (f TaskFilter) Values() url.Values {
	q := url.Values{}
	if f.ProjectID > 0 {
		q.Set("projectId", strconv.Itoa(f.ProjectID))
	}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.AssigneeID > 0 {
		q.Set("assigneeId", strconv.Itoa(f.AssigneeID))
	}
	if f.Title != "" {
		q.Set("title", f.Title)
	}
	if f.Priority != "" {
		q.Set("priority", string(f.Priority))
	}
	if f.DueDateFrom != "" {
		q.Set("dueDateFrom", f.DueDateFrom)
	}
	if f.DueDateTo != "" {
		q.Set("dueDateTo", f.DueDateTo)
	}
	return q
}

// Encode is the canonical (key-sorted) query string, empty when no filter is set.
func (f TaskFilter) Encode() string { return f.Values().Encode() }

// ParseTaskFilter reads a filter from query parameters using the same names
// Values writes.
func ParseTaskFilter(q url.Values) (TaskFilter, error) {
	var f TaskFilter
	var err error
	if f.ProjectID, err = positiveParam(q, "projectId"); err != nil {
		return TaskFilter{}, err
	}
	if f.AssigneeID, err = positiveParam(q, "assigneeId"); err != nil {
		return TaskFilter{}, err
	}
	if s := q.Get("status"); s != "" {
		f.Status = TaskStatus(s)
		if !f.Status.Valid() {
			return TaskFilter{}, fmt.Errorf("unknown status %q", s)
		}
	}
	if p := q.Get("priority"); p != "" {
		f.Priority = Priority(p)
		if !f.Priority.Valid() {
			return TaskFilter{}, fmt.Errorf("unknown priority %q", p)
		}
	}
	f.Title = q.Get("title")
	f.DueDateFrom = q.Get("dueDateFrom")
	f.DueDateTo = q.Get("dueDateTo")
	return f, nil
}

func positiveParam(q url.Values, name string) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, raw)
	}
	return n, nil
}

// Matches reports whether t would be returned by a server applying f.
// Date bounds are compared on the YYYY-MM-DD prefix.
func (f TaskFilter) Matches(t Task) bool {
	if f.ProjectID > 0 && t.ProjectID != f.ProjectID {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.AssigneeID > 0 && t.AssigneeID != f.AssigneeID {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.DueDateFrom != "" || f.DueDateTo != "" {
		if t.DueDate == nil || len(*t.DueDate) < 10 {
			return false
		}
		day := (*t.DueDate)[:10]
		if f.DueDateFrom != "" && day < f.DueDateFrom {
			return false
		}
		if f.DueDateTo != "" && day > f.DueDateTo {
			return false
		}
	}
	return true
}

// UserFilter narrows GET /users.
type UserFilter struct {
	Role  Role
	Name  string
	Email string
}

func (f UserFilter) Values() url.Values {
	q := url.Values{}
	if f.Role != "" {
		q.Set("role", string(f.Role))
	}
	if f.Name != "" {
		q.Set("name", f.Name)
	}
	if f.Email != "" {
		q.Set("email", f.Email)
	}
	return q
}

func (f UserFilter) Encode() string { return f.Values().Encode() }

// ParseUserFilter reads a user filter from query parameters.
func ParseUserFilter(q url.Values) (UserFilter, error) {
	f := UserFilter{Name: q.Get("name"), Email: q.Get("email")}
	if r := q.Get("role"); r != "" {
		role, err := ParseRole(r)
		if err != nil {
			return UserFilter{}, err
		}
		f.Role = role
	}
	return f, nil
}
