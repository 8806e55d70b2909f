package dashboard

import (
	"context"
	"sort"
	"time"

	"prism-dashboard/domain"
)

// UnassignedLabel groups tasks without an assignee.
const UnassignedLabel = "Unassigned"

const dateLayout = "2006-01-02"

// StatsFilter narrows the charts screen. Empty dates default to the
// current month.
type StatsFilter struct {
	ProjectID int
	From      string
	To        string
}

type Count struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Stats is what the charts screen plots.
type Stats struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	ProjectID  int     `json:"projectId,omitempty"`
	Total      int     `json:"total"`
	ByStatus   []Count `json:"byStatus"`
	ByPriority []Count `json:"byPriority"`
	ByAssignee []Count `json:"byAssignee"`
}

// MonthRange returns the first and last day of the month containing now.
func MonthRange(now time.Time) (string, string) {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	last := first.AddDate(0, 1, -1)
	return first.Format(dateLayout), last.Format(dateLayout)
}

// TaskFilter is the list filter the stats are computed over. Dates that do
// not parse are dropped.
func (f StatsFilter) TaskFilter(now time.Time) domain.TaskFilter {
	from, to := f.From, f.To
	if from == "" && to == "" {
		from, to = MonthRange(now)
	}
	return domain.TaskFilter{
		ProjectID:   f.ProjectID,
		DueDateFrom: validDate(from),
		DueDateTo:   validDate(to),
	}
}

func validDate(s string) string {
	if s == "" {
		return ""
	}
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	if _, err := time.Parse(dateLayout, s); err != nil {
		return ""
	}
	return s
}

// Stats loads the filtered task list through the cache and counts it.
func (d *Dashboard) Stats(ctx context.Context, f StatsFilter) (Stats, error) {
	tf := f.TaskFilter(time.Now())
	tasks, err := d.Tasks(ctx, tf)
	if err != nil {
		return Stats{}, err
	}
	s := ComputeStats(tasks)
	s.From, s.To, s.ProjectID = tf.DueDateFrom, tf.DueDateTo, tf.ProjectID
	return s, nil
}

// ComputeStats counts tasks per status and priority in board order, and per
// assignee with the unassigned bucket first and names sorted after it.
func ComputeStats(tasks []domain.Task) Stats {
	status := make(map[domain.TaskStatus]int, len(domain.StatusOrder))
	priority := make(map[domain.Priority]int, len(domain.PriorityOrder))
	assignee := make(map[string]int)
	for _, t := range tasks {
		status[t.Status]++
		priority[t.Priority]++
		name := UnassignedLabel
		if t.Assignee != nil && t.Assignee.Name != "" {
			name = t.Assignee.Name
		}
		assignee[name]++
	}

	s := Stats{
		Total:      len(tasks),
		ByStatus:   make([]Count, 0, len(domain.StatusOrder)),
		ByPriority: make([]Count, 0, len(domain.PriorityOrder)),
		ByAssignee: make([]Count, 0, len(assignee)),
	}
	for _, st := range domain.StatusOrder {
		s.ByStatus = append(s.ByStatus, Count{Label: string(st), Count: status[st]})
	}
	for _, p := range domain.PriorityOrder {
		s.ByPriority = append(s.ByPriority, Count{Label: string(p), Count: priority[p]})
	}
	for name, n := range assignee {
		s.ByAssignee = append(s.ByAssignee, Count{Label: name, Count: n})
	}
	sort.Slice(s.ByAssignee, func(i, j int) bool {
		a, b := s.ByAssignee[i].Label, s.ByAssignee[j].Label
		if a == UnassignedLabel || b == UnassignedLabel {
			return a == UnassignedLabel && b != UnassignedLabel
		}
		return a < b
	})
	return s
}
