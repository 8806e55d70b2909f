package access

import (
	"strings"

	"prism-dashboard/domain"
)

// Route describes one path of the dashboard. A route with empty Roles is
// reachable by any authenticated viewer unless Public is set.
type Route struct {
	Path     string
	View     string
	Roles    RoleSet
	Public   bool
	Children []Route
}

var (
	adminOnly      = Of(domain.RoleAdmin)
	adminOrManager = Of(domain.RoleAdmin, domain.RoleManager)
)

// DefaultRoutes is the static route tree of the dashboard.
var DefaultRoutes = []Route{
	{Path: HomePath, View: "home-redirect", Public: true},
	{Path: LoginPath, View: "login", Public: true},
	{
		Path: DashboardPath,
		View: "dashboard-layout",
		Children: []Route{
			{Path: "/dashboard/users", View: "users", Roles: adminOnly},
			{Path: "/dashboard/users/form", View: "user-form", Roles: adminOnly},
			{Path: "/dashboard/users/form/:id", View: "user-form", Roles: adminOnly},
			{Path: "/dashboard/projects", View: "projects", Roles: adminOrManager},
			{Path: "/dashboard/projects/form", View: "project-form", Roles: adminOrManager},
			{Path: "/dashboard/projects/form/:id", View: "project-form", Roles: adminOrManager},
			{Path: "/dashboard/kanban", View: "kanban", Roles: AllRoles},
			{Path: "/dashboard/tasks", View: "tasks"},
			{Path: "/dashboard/tasks/form", View: "task-form", Roles: adminOrManager},
			{Path: "/dashboard/tasks/form/:id", View: "task-form", Roles: adminOrManager},
			{Path: "/dashboard/charts", View: "charts", Roles: adminOrManager},
		},
	},
}

// Match is a resolved route together with its path parameters.
type Match struct {
	Route  Route
	Params map[string]string
}

// Resolve finds the most specific route for path. Children are searched
// before their parent, so the layout route only matches its own path.
func Resolve(routes []Route, path string) (Match, bool) {
	path = normalize(path)
	for _, r := range routes {
		if m, ok := Resolve(r.Children, path); ok {
			return m, true
		}
		if params, ok := matchPattern(r.Path, path); ok {
			return Match{Route: r, Params: params}, true
		}
	}
	return Match{}, false
}

// Walk calls fn for every route in the tree, parents first.
func Walk(routes []Route, fn func(Route)) {
	for _, r := range routes {
		fn(r)
		Walk(r.Children, fn)
	}
}

func normalize(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return HomePath
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}

func matchPattern(pattern, path string) (map[string]string, bool) {
	if pattern == path {
		return nil, true
	}
	want := strings.Split(strings.Trim(pattern, "/"), "/")
	got := strings.Split(strings.Trim(path, "/"), "/")
	if len(want) != len(got) {
		return nil, false
	}
	var params map[string]string
	for i, seg := range want {
		if strings.HasPrefix(seg, ":") {
			if got[i] == "" {
				return nil, false
			}
			if params == nil {
				params = map[string]string{}
			}
			params[seg[1:]] = got[i]
			continue
		}
		if seg != got[i] {
			return nil, false
		}
	}
	return params, true
}

// DecideRoute resolves path against routes and runs the gate on it.
//
// The home path redirects to the dashboard or the login page. The bare
// dashboard path redirects to the viewer's role landing page. Unknown paths
// are treated as authenticated routes without a role requirement.
func DecideRoute(routes []Route, v Viewer, path string) Decision {
	path = normalize(path)
	switch path {
	case HomePath:
		switch {
		case v.Loading:
			return deferred()
		case v.Authenticated:
			return redirect(DashboardPath)
		default:
			return redirect(LoginPath)
		}
	case DashboardPath:
		d := Decide(v, 0)
		if d.Allowed() {
			return redirect(Fallback(v.Role))
		}
		return d
	}

	m, ok := Resolve(routes, path)
	if ok && m.Route.Public {
		return allow()
	}
	var required RoleSet
	if ok {
		required = m.Route.Roles
	}
	return Decide(v, required)
}
