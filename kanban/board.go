// Package kanban implements the drag-and-drop status transitions of the task
// board on top of the optimistic mutation path.
package kanban

import (
	"context"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"prism-dashboard/domain"
	"prism-dashboard/mutation"
	"prism-dashboard/querycache"
)

// Outcome is how a drag gesture ended.
type Outcome int

const (
	Cancelled Outcome = iota
	DroppedOnSame
	DroppedOnTarget
)

func (o Outcome) String() string {
	switch o {
	case DroppedOnSame:
		return "dropped_on_same"
	case DroppedOnTarget:
		return "dropped_on_target"
	default:
		return "cancelled"
	}
}

// Result describes a finished gesture. Pending is set only for
// DroppedOnTarget.
type Result struct {
	Outcome Outcome
	TaskID  int
	From    domain.TaskStatus
	To      domain.TaskStatus
	Pending *mutation.Pending
}

// State is the transient drag state of a board.
type State struct {
	Dragging int
	Over     domain.TaskStatus
}

func (s State) Idle() bool { return s.Dragging == 0 }

// Lane is one status column.
type Lane struct {
	Status domain.TaskStatus `json:"status"`
	Tasks  []domain.Task     `json:"tasks"`
}

// ListFunc loads the board's tasks from the API.
type ListFunc func(ctx context.Context, f domain.TaskFilter) ([]domain.Task, error)

// UpdateStatusFunc sends a status change to the API.
type UpdateStatusFunc func(ctx context.Context, id int, status domain.TaskStatus) (domain.Task, error)

// Board tracks one drag gesture at a time and the in-flight transitions of
// every task on it.
type Board struct {
	cache  *querycache.Cache
	coord  *mutation.Coordinator
	filter domain.TaskFilter
	list   ListFunc
	update UpdateStatusFunc
	logger *log.Logger

	mu       sync.Mutex
	state    State
	inflight map[int]int
	// tail is closed when the latest transition per task settles; the next
	// transition of that task waits for it before calling the API.
	tail    map[int]chan struct{}
	targets map[int]target
	seq     uint64
}

type target struct {
	status domain.TaskStatus
	seq    uint64
}

func NewBoard(cache *querycache.Cache, coord *mutation.Coordinator, filter domain.TaskFilter, list ListFunc, update UpdateStatusFunc, logger *log.Logger) *Board {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Board{
		cache:    cache,
		coord:    coord,
		filter:   filter,
		list:     list,
		update:   update,
		logger:   logger,
		inflight: make(map[int]int),
		tail:     make(map[int]chan struct{}),
		targets:  make(map[int]target),
	}
}

func (b *Board) Key() querycache.Key { return querycache.TasksKey(b.filter) }

// Tasks reads the board's list through the cache. Tasks with a transition in
// flight show their latest optimistic target even if a refetch landed first.
func (b *Board) Tasks(ctx context.Context) ([]domain.Task, error) {
	tasks, err := querycache.Get(ctx, b.cache, b.Key(), func(ctx context.Context) ([]domain.Task, error) {
		return b.list(ctx, b.filter)
	}, querycache.Options{})
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, t := range b.targets {
		if cur, ok := domain.FindTask(tasks, id); ok && cur.Status != t.status {
			tasks = domain.WithStatus(tasks, id, t.status)
		}
	}
	return tasks, nil
}

// Lanes groups tasks by status in board order.
func Lanes(tasks []domain.Task) []Lane {
	lanes := make([]Lane, len(domain.StatusOrder))
	index := make(map[domain.TaskStatus]int, len(domain.StatusOrder))
	for i, s := range domain.StatusOrder {
		lanes[i] = Lane{Status: s, Tasks: []domain.Task{}}
		index[s] = i
	}
	for _, t := range tasks {
		if i, ok := index[t.Status]; ok {
			lanes[i].Tasks = append(lanes[i].Tasks, t)
		}
	}
	return lanes
}

// BeginDrag starts tracking a gesture for task id, replacing any other.
func (b *Board) BeginDrag(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id <= 0 {
		b.state = State{}
		return
	}
	b.state = State{Dragging: id}
}

// DragOver highlights the lane under the pointer.
func (b *Board) DragOver(status domain.TaskStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.Dragging != 0 && status.Valid() {
		b.state.Over = status
	}
}

// DragLeave clears the highlight if it is on status.
func (b *Board) DragLeave(status domain.TaskStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.Over == status {
		b.state.Over = ""
	}
}

// Cancel ends the gesture without a mutation.
func (b *Board) Cancel() {
	b.mu.Lock()
	b.state = State{}
	b.mu.Unlock()
}

func (b *Board) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// InFlight reports whether task id has a transition that has not settled.
func (b *Board) InFlight(id int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inflight[id] > 0
}

// DropPayload ends a gesture whose task id arrives as a raw drag payload.
// A payload that is not a positive integer cancels the gesture.
func (b *Board) DropPayload(ctx context.Context, status domain.TaskStatus, payload string) Result {
	id, err := strconv.Atoi(strings.TrimSpace(payload))
	if err != nil || id <= 0 {
		b.Cancel()
		return Result{Outcome: Cancelled}
	}
	b.BeginDrag(id)
	return b.Drop(ctx, status)
}

// Drop ends the current gesture over the lane for status.
func (b *Board) Drop(ctx context.Context, status domain.TaskStatus) Result {
	b.mu.Lock()
	id := b.state.Dragging
	b.state = State{}
	b.mu.Unlock()

	if id == 0 || !status.Valid() {
		return Result{Outcome: Cancelled, TaskID: id}
	}
	current, ok := b.current(id)
	if !ok {
		b.logger.WithField("task", id).Debug("kanban: dropped task is not on the board")
		return Result{Outcome: Cancelled, TaskID: id}
	}
	if current.Status == status {
		return Result{Outcome: DroppedOnSame, TaskID: id, From: status, To: status}
	}
	return Result{
		Outcome: DroppedOnTarget,
		TaskID:  id,
		From:    current.Status,
		To:      status,
		Pending: b.transition(ctx, id, current.Status, status),
	}
}

// current is the task as the board displays it right now.
func (b *Board) current(id int) (domain.Task, bool) {
	e, ok := b.cache.Peek(b.Key())
	if !ok || !e.HasData {
		return domain.Task{}, false
	}
	tasks, _ := e.Data.([]domain.Task)
	task, ok := domain.FindTask(tasks, id)
	if !ok {
		return domain.Task{}, false
	}
	b.mu.Lock()
	if t, ok := b.targets[id]; ok {
		task.Status = t.status
	}
	b.mu.Unlock()
	return task, true
}

func (b *Board) transition(ctx context.Context, id int, from, to domain.TaskStatus) *mutation.Pending {
	b.mu.Lock()
	b.seq++
	seq := b.seq
	prev := b.tail[id]
	done := make(chan struct{})
	b.tail[id] = done
	b.targets[id] = target{status: to, seq: seq}
	b.inflight[id]++
	b.mu.Unlock()

	payload := domain.UpdateTaskPayload{Status: &to}
	action := mutation.Action{
		Name:    "update_task_status",
		Payload: payload,
		Call: func(ctx context.Context) (any, error) {
			if prev != nil {
				<-prev
			}
			return b.update(ctx, id, to)
		},
		Invalidates: mutation.UpdateTaskEffects(id),
	}
	b.logger.WithFields(log.Fields{"task": id, "from": from, "to": to}).Debug("kanban: transition started")
	return b.coord.MutateOptimistic(ctx, action, mutation.Optimistic{
		Targets: []querycache.Key{querycache.Family(querycache.FamilyTasks)},
		Update:  moveTo(id, to),
		Revert:  revertMove(id, from, to),
		Settled: func(error) { b.settle(id, seq, done) },
	})
}

// settle drops the overlay of one transition. It runs before the transition's
// Pending handle reports, so a read after Wait sees the reconciled cache.
func (b *Board) settle(id int, seq uint64, done chan struct{}) {
	b.mu.Lock()
	if b.inflight[id]--; b.inflight[id] <= 0 {
		delete(b.inflight, id)
	}
	if b.tail[id] == done {
		delete(b.tail, id)
	}
	if t, ok := b.targets[id]; ok && t.seq == seq {
		delete(b.targets, id)
	}
	b.mu.Unlock()
	close(done)
}

// moveTo changes only the status of task id in a cached list. A filtered
// list the move takes the task out of drops it instead.
func moveTo(id int, to domain.TaskStatus) func(querycache.Key, any) (any, bool) {
	return func(key querycache.Key, prev any) (any, bool) {
		tasks, ok := prev.([]domain.Task)
		if !ok {
			return nil, false
		}
		task, found := domain.FindTask(tasks, id)
		if !found {
			return nil, false
		}
		moved := task
		moved.Status = to
		if f, ok := querycache.TaskFilterOf(key); ok && f.Matches(task) && !f.Matches(moved) {
			return domain.WithoutTask(tasks, id), true
		}
		return domain.WithStatus(tasks, id, to), true
	}
}

// revertMove puts task id back to from, but only while it still shows this
// transition's target; a newer drop of the same task is left alone.
func revertMove(id int, from, to domain.TaskStatus) func(querycache.Key, any) any {
	return func(_ querycache.Key, current any) any {
		tasks, ok := current.([]domain.Task)
		if !ok {
			return current
		}
		if t, found := domain.FindTask(tasks, id); found && t.Status == to {
			return domain.WithStatus(tasks, id, from)
		}
		return tasks
	}
}
