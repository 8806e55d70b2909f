package access

import (
	"prism-dashboard/domain"
	"prism-dashboard/session"
)

const (
	LoginPath     = "/login"
	HomePath      = "/"
	DashboardPath = "/dashboard"
)

// Kind is the outcome of an authorization decision.
type Kind int

const (
	// Defer means the session is still loading; render nothing and ask again.
	Defer Kind = iota
	Allow
	Redirect
)

func (k Kind) String() string {
	switch k {
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	default:
		return "defer"
	}
}

// Decision is what the gate tells a view. Path is set only for Redirect.
type Decision struct {
	Kind Kind
	Path string
}

func allow() Decision { return Decision{Kind: Allow} }

func redirect(path string) Decision { return Decision{Kind: Redirect, Path: path} }

func deferred() Decision { return Decision{Kind: Defer} }

func (d Decision) Allowed() bool { return d.Kind == Allow }

// Viewer is the part of the session the gate looks at.
type Viewer struct {
	Loading       bool
	Authenticated bool
	Role          domain.Role
}

// ViewerOf projects a session onto a Viewer.
func ViewerOf(s session.Session) Viewer {
	v := Viewer{Loading: s.Loading(), Authenticated: s.Authenticated()}
	if s.Identity != nil {
		v.Role = s.Identity.Role
	}
	return v
}

// Fallback is the landing page for a role that was denied a route.
func Fallback(r domain.Role) string {
	switch r {
	case domain.RoleAdmin:
		return "/dashboard/users"
	case domain.RoleManager:
		return "/dashboard/projects"
	default:
		return "/dashboard/tasks"
	}
}

// Decide is the authorization gate. It has no side effects.
func Decide(v Viewer, required RoleSet) Decision {
	switch {
	case v.Loading:
		return deferred()
	case !v.Authenticated:
		return redirect(LoginPath)
	case required.Empty():
		return allow()
	case required.Allows(v.Role):
		return allow()
	default:
		return redirect(Fallback(v.Role))
	}
}
