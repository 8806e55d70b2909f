package mutation

import (
	"prism-dashboard/domain"
	"prism-dashboard/querycache"
)

// Effects lists the key patterns a settled mutation invalidates. Tasks embed
// project and assignee summaries, so changes to those also touch tasks.

func CreateUserEffects() []querycache.Key {
	return []querycache.Key{querycache.Family(querycache.FamilyUsers)}
}

func UpdateUserEffects(id int) []querycache.Key {
	return []querycache.Key{
		querycache.Family(querycache.FamilyUsers),
		querycache.UserKey(id),
		querycache.Family(querycache.FamilyTasks),
	}
}

func DeleteUserEffects(id int) []querycache.Key {
	return []querycache.Key{
		querycache.Family(querycache.FamilyUsers),
		querycache.UserKey(id),
		querycache.Family(querycache.FamilyProjects),
		querycache.Family(querycache.FamilyTasks),
	}
}

func CreateProjectEffects() []querycache.Key {
	return []querycache.Key{querycache.Family(querycache.FamilyProjects)}
}

func UpdateProjectEffects(id int) []querycache.Key {
	return []querycache.Key{
		querycache.Family(querycache.FamilyProjects),
		querycache.ProjectKey(id),
		querycache.Family(querycache.FamilyTasks),
	}
}

func DeleteProjectEffects(id int) []querycache.Key {
	return UpdateProjectEffects(id)
}

func CreateTaskEffects() []querycache.Key {
	return []querycache.Key{querycache.Family(querycache.FamilyTasks)}
}

// UpdateTaskEffects covers every filtered tasks view, so moving a task to
// another project refreshes both the old and the new project's lists.
func UpdateTaskEffects(id int) []querycache.Key {
	return []querycache.Key{
		querycache.Family(querycache.FamilyTasks),
		querycache.TaskKey(id),
	}
}

func DeleteTaskEffects(id int) []querycache.Key {
	return UpdateTaskEffects(id)
}

func CommentEffects(taskID int) []querycache.Key {
	return []querycache.Key{querycache.CommentsKey(taskID)}
}

func AttachmentEffects(owner domain.AttachmentOwner) []querycache.Key {
	return []querycache.Key{querycache.AttachmentsKey(owner)}
}
