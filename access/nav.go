package access

import (
	"fmt"

	"prism-dashboard/domain"
)

// NavItem is one link of the dashboard side menu.
type NavItem struct {
	Label string  `json:"label"`
	Path  string  `json:"path"`
	Roles RoleSet `json:"-"`
}

// DefaultNavigation mirrors the side menu of the dashboard layout.
var DefaultNavigation = []NavItem{
	{Label: "Users", Path: "/dashboard/users", Roles: adminOnly},
	{Label: "Projects", Path: "/dashboard/projects", Roles: adminOrManager},
	{Label: "Tasks", Path: "/dashboard/tasks"},
	{Label: "Kanban", Path: "/dashboard/kanban", Roles: AllRoles},
	{Label: "Charts", Path: "/dashboard/charts", Roles: adminOrManager},
}

// Visible returns the items v may follow. An item is shown only when its own
// role set and the gate for its route both allow the viewer, so a visible
// link never lands on a redirect.
func Visible(routes []Route, nav []NavItem, v Viewer) []NavItem {
	if v.Loading || !v.Authenticated {
		return nil
	}
	out := make([]NavItem, 0, len(nav))
	for _, item := range nav {
		if !item.Roles.Empty() && !item.Roles.Allows(v.Role) {
			continue
		}
		if !DecideRoute(routes, v, item.Path).Allowed() {
			continue
		}
		out = append(out, item)
	}
	return out
}

// ValidateNavigation checks that every nav item points at a route whose role
// set is equal to or stricter than the item's.
func ValidateNavigation(routes []Route, nav []NavItem) error {
	for _, item := range nav {
		m, ok := Resolve(routes, item.Path)
		if !ok || m.Route.Path != item.Path {
			return fmt.Errorf("nav item %q: no route for %s", item.Label, item.Path)
		}
		if !m.Route.Roles.SubsetOf(item.Roles) {
			return fmt.Errorf("nav item %q: route roles %s are looser than nav roles %s",
				item.Label, m.Route.Roles, item.Roles)
		}
	}
	return nil
}

// ListAffordances says which row and toolbar actions a list view shows.
type ListAffordances struct {
	Create bool `json:"create"`
	Edit   bool `json:"edit"`
	Delete bool `json:"delete"`
}

// Affordances returns the list actions for role. Developers only read.
func Affordances(role domain.Role) ListAffordances {
	switch role {
	case domain.RoleAdmin, domain.RoleManager:
		return ListAffordances{Create: true, Edit: true, Delete: true}
	default:
		return ListAffordances{}
	}
}
