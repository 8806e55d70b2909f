package querycache

import (
	"net/url"

	"prism-dashboard/domain"
)

// Key families of the dashboard.
const (
	FamilyUsers    = "users"
	FamilyUser     = "user"
	FamilyProjects = "projects"
	FamilyProject  = "project"
	FamilyTasks    = "tasks"
	FamilyTask     = "task"
)

// Family is the pattern matching every key of family.
func Family(family string) Key { return Key{family} }

func UsersKey(f domain.UserFilter) Key { return NewKey(FamilyUsers, f.Encode()) }

func UserKey(id int) Key { return NewKey(FamilyUser, id) }

func ProjectsKey() Key { return NewKey(FamilyProjects) }

func ProjectKey(id int) Key { return NewKey(FamilyProject, id) }

// TasksKey is the list key for a filter; the zero filter is the bare family.
func TasksKey(f domain.TaskFilter) Key { return NewKey(FamilyTasks, f.Encode()) }

// TaskFilterOf recovers the filter of a tasks list key. It reports false for
// keys of other families and for filters that do not parse.
func TaskFilterOf(k Key) (domain.TaskFilter, bool) {
	if len(k) == 0 || k[0] != FamilyTasks || len(k) > 2 {
		return domain.TaskFilter{}, false
	}
	if len(k) == 1 {
		return domain.TaskFilter{}, true
	}
	q, err := url.ParseQuery(k[1])
	if err != nil {
		return domain.TaskFilter{}, false
	}
	f, err := domain.ParseTaskFilter(q)
	if err != nil {
		return domain.TaskFilter{}, false
	}
	return f, true
}

func TaskKey(id int) Key { return NewKey(FamilyTask, id) }

func CommentsKey(taskID int) Key { return NewKey(FamilyTask, taskID, "comments") }

// AttachmentsKey nests attachment lists under their owner's key.
func AttachmentsKey(o domain.AttachmentOwner) Key {
	switch {
	case o.ProjectID > 0:
		return NewKey(FamilyProject, o.ProjectID, "attachments")
	case o.CommentID > 0:
		return NewKey(FamilyTask, o.TaskID, "comments", o.CommentID, "attachments")
	default:
		return NewKey(FamilyTask, o.TaskID, "attachments")
	}
}
