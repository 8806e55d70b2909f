package restclient

import (
	"context"
	"net/http"

	"prism-dashboard/domain"
)

// Login exchanges credentials for a token and identity.
func (c *Client) Login(ctx context.Context, in domain.LoginRequest) (domain.LoginResponse, error) {
	return one[domain.LoginResponse](ctx, c, request{
		op: "auth.login", method: http.MethodPost, path: "/auth/login",
		body: in, fallback: "failed to log in", anonymous: true,
	})
}

func (c *Client) Users(ctx context.Context, f domain.UserFilter) ([]domain.User, error) {
	return list[domain.User](ctx, c, request{
		op: "users.list", path: "/users", query: f.Values(), fallback: "failed to fetch users",
	})
}

func (c *Client) User(ctx context.Context, id int) (domain.User, error) {
	return one[domain.User](ctx, c, request{
		op: "users.get", method: http.MethodGet, path: idPath("users", id), fallback: "failed to fetch user",
	})
}

func (c *Client) CreateUser(ctx context.Context, p domain.CreateUserPayload) (domain.User, error) {
	return one[domain.User](ctx, c, request{
		op: "users.create", method: http.MethodPost, path: "/users", body: p, fallback: "failed to create user",
	})
}

func (c *Client) UpdateUser(ctx context.Context, id int, p domain.UpdateUserPayload) (domain.User, error) {
	return one[domain.User](ctx, c, request{
		op: "users.update", method: http.MethodPut, path: idPath("users", id), body: p, fallback: "failed to update user",
	})
}

func (c *Client) DeleteUser(ctx context.Context, id int) error {
	return c.do(ctx, request{
		op: "users.delete", method: http.MethodDelete, path: idPath("users", id), fallback: "failed to delete user",
	}, nil)
}

func (c *Client) Projects(ctx context.Context) ([]domain.Project, error) {
	return list[domain.Project](ctx, c, request{
		op: "projects.list", path: "/projects", fallback: "failed to fetch projects",
	})
}

func (c *Client) Project(ctx context.Context, id int) (domain.Project, error) {
	return one[domain.Project](ctx, c, request{
		op: "projects.get", method: http.MethodGet, path: idPath("projects", id), fallback: "failed to fetch project",
	})
}

func (c *Client) CreateProject(ctx context.Context, p domain.CreateProjectPayload) (domain.Project, error) {
	return one[domain.Project](ctx, c, request{
		op: "projects.create", method: http.MethodPost, path: "/projects", body: p, fallback: "failed to create project",
	})
}

func (c *Client) UpdateProject(ctx context.Context, id int, p domain.UpdateProjectPayload) (domain.Project, error) {
	return one[domain.Project](ctx, c, request{
		op: "projects.update", method: http.MethodPut, path: idPath("projects", id), body: p, fallback: "failed to update project",
	})
}

func (c *Client) DeleteProject(ctx context.Context, id int) error {
	return c.do(ctx, request{
		op: "projects.delete", method: http.MethodDelete, path: idPath("projects", id), fallback: "failed to delete project",
	}, nil)
}

func (c *Client) Tasks(ctx context.Context, f domain.TaskFilter) ([]domain.Task, error) {
	return list[domain.Task](ctx, c, request{
		op: "tasks.list", path: "/tasks", query: f.Values(), fallback: "failed to fetch tasks",
	})
}

func (c *Client) Task(ctx context.Context, id int) (domain.Task, error) {
	return one[domain.Task](ctx, c, request{
		op: "tasks.get", method: http.MethodGet, path: idPath("tasks", id), fallback: "failed to fetch task",
	})
}

func (c *Client) CreateTask(ctx context.Context, p domain.CreateTaskPayload) (domain.Task, error) {
	return one[domain.Task](ctx, c, request{
		op: "tasks.create", method: http.MethodPost, path: "/tasks", body: p, fallback: "failed to create task",
	})
}

func (c *Client) UpdateTask(ctx context.Context, id int, p domain.UpdateTaskPayload) (domain.Task, error) {
	return one[domain.Task](ctx, c, request{
		op: "tasks.update", method: http.MethodPut, path: idPath("tasks", id), body: p, fallback: "failed to update task",
	})
}

// UpdateTaskStatus is the partial update issued by a board drop.
func (c *Client) UpdateTaskStatus(ctx context.Context, id int, status domain.TaskStatus) (domain.Task, error) {
	return c.UpdateTask(ctx, id, domain.UpdateTaskPayload{Status: &status})
}

func (c *Client) DeleteTask(ctx context.Context, id int) error {
	return c.do(ctx, request{
		op: "tasks.delete", method: http.MethodDelete, path: idPath("tasks", id), fallback: "failed to delete task",
	}, nil)
}

func (c *Client) Comments(ctx context.Context, taskID int) ([]domain.Comment, error) {
	return list[domain.Comment](ctx, c, request{
		op: "comments.list", path: idPath("tasks", taskID) + "/comments", fallback: "failed to fetch comments",
	})
}

func (c *Client) AddComment(ctx context.Context, taskID int, content string) (domain.Comment, error) {
	return one[domain.Comment](ctx, c, request{
		op: "comments.create", method: http.MethodPost, path: idPath("tasks", taskID) + "/comments",
		body: domain.CreateCommentPayload{Content: content}, fallback: "failed to create comment",
	})
}
