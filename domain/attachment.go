package domain

import "strconv"

// Attachment is file metadata returned by the upload endpoints.
type Attachment struct {
	ID        int    `json:"id"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mimeType"`
	Size      int64  `json:"size"`
	URL       string `json:"url"`
	CreatedAt string `json:"createdAt"`
}

// AttachmentOwner identifies the record an attachment hangs off: a project,
// a task, or a comment on a task.
type AttachmentOwner struct {
	ProjectID int
	TaskID    int
	CommentID int
}

func ProjectOwner(id int) AttachmentOwner { return AttachmentOwner{ProjectID: id} }

func TaskOwner(id int) AttachmentOwner { return AttachmentOwner{TaskID: id} }

func CommentOwner(taskID, commentID int) AttachmentOwner {
	return AttachmentOwner{TaskID: taskID, CommentID: commentID}
}

// Path is the REST collection path for the owner's attachments.
func (o AttachmentOwner) Path() string {
	switch {
	case o.ProjectID > 0:
		return "/projects/" + strconv.Itoa(o.ProjectID) + "/attachments"
	case o.CommentID > 0:
		return "/tasks/" + strconv.Itoa(o.TaskID) + "/comments/" + strconv.Itoa(o.CommentID) + "/attachments"
	default:
		return "/tasks/" + strconv.Itoa(o.TaskID) + "/attachments"
	}
}

func (o AttachmentOwner) Valid() bool {
	if o.ProjectID > 0 {
		return o.TaskID == 0 && o.CommentID == 0
	}
	return o.TaskID > 0 && o.CommentID >= 0
}
