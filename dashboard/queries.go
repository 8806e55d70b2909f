package dashboard

import (
	"context"

	"prism-dashboard/domain"
	"prism-dashboard/querycache"
)

func (d *Dashboard) Users(ctx context.Context, f domain.UserFilter) ([]domain.User, error) {
	return querycache.Get(ctx, d.cache, querycache.UsersKey(f), func(ctx context.Context) ([]domain.User, error) {
		return d.api.Users(ctx, f)
	}, querycache.Options{})
}

func (d *Dashboard) User(ctx context.Context, id int) (domain.User, error) {
	return querycache.Get(ctx, d.cache, querycache.UserKey(id), func(ctx context.Context) (domain.User, error) {
		return d.api.User(ctx, id)
	}, querycache.Options{})
}

func (d *Dashboard) Projects(ctx context.Context) ([]domain.Project, error) {
	return querycache.Get(ctx, d.cache, querycache.ProjectsKey(), d.api.Projects, querycache.Options{})
}

func (d *Dashboard) Project(ctx context.Context, id int) (domain.Project, error) {
	return querycache.Get(ctx, d.cache, querycache.ProjectKey(id), func(ctx context.Context) (domain.Project, error) {
		return d.api.Project(ctx, id)
	}, querycache.Options{})
}

func (d *Dashboard) Tasks(ctx context.Context, f domain.TaskFilter) ([]domain.Task, error) {
	return querycache.Get(ctx, d.cache, querycache.TasksKey(f), func(ctx context.Context) ([]domain.Task, error) {
		return d.api.Tasks(ctx, f)
	}, querycache.Options{})
}

func (d *Dashboard) Task(ctx context.Context, id int) (domain.Task, error) {
	return querycache.Get(ctx, d.cache, querycache.TaskKey(id), func(ctx context.Context) (domain.Task, error) {
		return d.api.Task(ctx, id)
	}, querycache.Options{})
}

func (d *Dashboard) Comments(ctx context.Context, taskID int) ([]domain.Comment, error) {
	return querycache.Get(ctx, d.cache, querycache.CommentsKey(taskID), func(ctx context.Context) ([]domain.Comment, error) {
		return d.api.Comments(ctx, taskID)
	}, querycache.Options{})
}

// Attachments lists the files of a project, a task or a task comment.
func (d *Dashboard) Attachments(ctx context.Context, owner domain.AttachmentOwner) ([]domain.Attachment, error) {
	return querycache.Get(ctx, d.cache, querycache.AttachmentsKey(owner), func(ctx context.Context) ([]domain.Attachment, error) {
		return d.api.Attachments(ctx, owner)
	}, querycache.Options{})
}

// WatchTasks subscribes to the task list for f. The subscription refetches
// in the background whenever the list is invalidated; callers must Close it.
func (d *Dashboard) WatchTasks(f domain.TaskFilter) *querycache.Subscription {
	return d.cache.Subscribe(querycache.TasksKey(f), func(ctx context.Context) (any, error) {
		return d.api.Tasks(ctx, f)
	}, querycache.Options{})
}
