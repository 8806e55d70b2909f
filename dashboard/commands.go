package dashboard

import (
	"context"
	"io"

	"prism-dashboard/domain"
	"prism-dashboard/mutation"
)

func mutate[T any](ctx context.Context, coord *mutation.Coordinator, a mutation.Action) (T, error) {
	var zero T
	res, err := coord.Mutate(ctx, a)
	if err != nil {
		return zero, err
	}
	v, ok := res.(T)
	if !ok {
		return zero, nil
	}
	return v, nil
}

func (d *Dashboard) CreateUser(ctx context.Context, p domain.CreateUserPayload) (domain.User, error) {
	return mutate[domain.User](ctx, d.coord, mutation.Action{
		Name:    "create_user",
		Payload: p,
		Call: func(ctx context.Context) (any, error) {
			return d.api.CreateUser(ctx, p)
		},
		Invalidates: mutation.CreateUserEffects(),
	})
}

func (d *Dashboard) UpdateUser(ctx context.Context, id int, p domain.UpdateUserPayload) (domain.User, error) {
	return mutate[domain.User](ctx, d.coord, mutation.Action{
		Name:    "update_user",
		Payload: p,
		Call: func(ctx context.Context) (any, error) {
			return d.api.UpdateUser(ctx, id, p)
		},
		Invalidates: mutation.UpdateUserEffects(id),
	})
}

func (d *Dashboard) DeleteUser(ctx context.Context, id int) error {
	_, err := d.coord.Mutate(ctx, mutation.Action{
		Name: "delete_user",
		Call: func(ctx context.Context) (any, error) {
			return nil, d.api.DeleteUser(ctx, id)
		},
		Invalidates: mutation.DeleteUserEffects(id),
	})
	return err
}

func (d *Dashboard) CreateProject(ctx context.Context, p domain.CreateProjectPayload) (domain.Project, error) {
	return mutate[domain.Project](ctx, d.coord, mutation.Action{
		Name:    "create_project",
		Payload: p,
		Call: func(ctx context.Context) (any, error) {
			return d.api.CreateProject(ctx, p)
		},
		Invalidates: mutation.CreateProjectEffects(),
	})
}

func (d *Dashboard) UpdateProject(ctx context.Context, id int, p domain.UpdateProjectPayload) (domain.Project, error) {
	return mutate[domain.Project](ctx, d.coord, mutation.Action{
		Name:    "update_project",
		Payload: p,
		Call: func(ctx context.Context) (any, error) {
			return d.api.UpdateProject(ctx, id, p)
		},
		Invalidates: mutation.UpdateProjectEffects(id),
	})
}

func (d *Dashboard) DeleteProject(ctx context.Context, id int) error {
	_, err := d.coord.Mutate(ctx, mutation.Action{
		Name: "delete_project",
		Call: func(ctx context.Context) (any, error) {
			return nil, d.api.DeleteProject(ctx, id)
		},
		Invalidates: mutation.DeleteProjectEffects(id),
	})
	return err
}

func (d *Dashboard) CreateTask(ctx context.Context, p domain.CreateTaskPayload) (domain.Task, error) {
	return mutate[domain.Task](ctx, d.coord, mutation.Action{
		Name:    "create_task",
		Payload: p,
		Call: func(ctx context.Context) (any, error) {
			return d.api.CreateTask(ctx, p)
		},
		Invalidates: mutation.CreateTaskEffects(),
	})
}

func (d *Dashboard) UpdateTask(ctx context.Context, id int, p domain.UpdateTaskPayload) (domain.Task, error) {
	return mutate[domain.Task](ctx, d.coord, mutation.Action{
		Name:    "update_task",
		Payload: p,
		Call: func(ctx context.Context) (any, error) {
			return d.api.UpdateTask(ctx, id, p)
		},
		Invalidates: mutation.UpdateTaskEffects(id),
	})
}

func (d *Dashboard) DeleteTask(ctx context.Context, id int) error {
	_, err := d.coord.Mutate(ctx, mutation.Action{
		Name: "delete_task",
		Call: func(ctx context.Context) (any, error) {
			return nil, d.api.DeleteTask(ctx, id)
		},
		Invalidates: mutation.DeleteTaskEffects(id),
	})
	return err
}

func (d *Dashboard) AddComment(ctx context.Context, taskID int, content string) (domain.Comment, error) {
	return mutate[domain.Comment](ctx, d.coord, mutation.Action{
		Name:    "create_comment",
		Payload: domain.CreateCommentPayload{Content: content},
		Call: func(ctx context.Context) (any, error) {
			return d.api.AddComment(ctx, taskID, content)
		},
		Invalidates: mutation.CommentEffects(taskID),
	})
}

func (d *Dashboard) UploadAttachment(ctx context.Context, owner domain.AttachmentOwner, filename string, content io.Reader) (domain.Attachment, error) {
	return mutate[domain.Attachment](ctx, d.coord, mutation.Action{
		Name: "upload_attachment",
		Call: func(ctx context.Context) (any, error) {
			return d.api.UploadAttachment(ctx, owner, filename, content)
		},
		Invalidates: mutation.AttachmentEffects(owner),
	})
}

func (d *Dashboard) DeleteAttachment(ctx context.Context, owner domain.AttachmentOwner, id int) error {
	_, err := d.coord.Mutate(ctx, mutation.Action{
		Name: "delete_attachment",
		Call: func(ctx context.Context) (any, error) {
			return nil, d.api.DeleteAttachment(ctx, owner, id)
		},
		Invalidates: mutation.AttachmentEffects(owner),
	})
	return err
}
