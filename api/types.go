package api

import (
	"prism-dashboard/access"
	"prism-dashboard/domain"
	"prism-dashboard/kanban"
	"prism-dashboard/session"
)

type errorBody struct {
	Error string `json:"error"`
}

type decisionView struct {
	Decision string `json:"decision"`
	Path     string `json:"path,omitempty"`
}

type sessionView struct {
	Authenticated bool             `json:"authenticated"`
	Loading       bool             `json:"loading"`
	User          *domain.Identity `json:"user,omitempty"`
	// Next is where the caller should go after a successful login.
	Next string `json:"next,omitempty"`
}

func viewOf(s session.Session) sessionView {
	return sessionView{Authenticated: s.Authenticated(), Loading: s.Loading(), User: s.Identity}
}

type navResponse struct {
	Items       []access.NavItem       `json:"items"`
	Affordances access.ListAffordances `json:"affordances"`
	User        *domain.Identity       `json:"user,omitempty"`
}

type usersResponse struct {
	Users       []domain.User          `json:"users"`
	Affordances access.ListAffordances `json:"affordances"`
}

type projectsResponse struct {
	Projects    []domain.Project       `json:"projects"`
	Affordances access.ListAffordances `json:"affordances"`
}

type tasksResponse struct {
	Tasks       []domain.Task          `json:"tasks"`
	Affordances access.ListAffordances `json:"affordances"`
}

type kanbanResponse struct {
	Lanes    []kanban.Lane     `json:"lanes"`
	InFlight []int             `json:"inFlight"`
	Dragging int               `json:"dragging,omitempty"`
	Over     domain.TaskStatus `json:"over,omitempty"`
}

// moveRequest is a drop: payload is the raw drag payload carrying the task id.
type moveRequest struct {
	Payload string            `json:"payload" validate:"required"`
	Status  domain.TaskStatus `json:"status" validate:"required"`
}

type moveResponse struct {
	Outcome string            `json:"outcome"`
	TaskID  int               `json:"taskId,omitempty"`
	From    domain.TaskStatus `json:"from,omitempty"`
	To      domain.TaskStatus `json:"to,omitempty"`
	Settled bool              `json:"settled"`
	Error   string            `json:"error,omitempty"`
}

func moveView(r kanban.Result) moveResponse {
	return moveResponse{Outcome: r.Outcome.String(), TaskID: r.TaskID, From: r.From, To: r.To, Settled: r.Pending == nil}
}
