// Package model defines the ticket data model exchanged with the change
// automation service: tickets composed of ordered steps, steps of tasks,
// tasks of typed fields. Snapshots are read-only views of remote state;
// the service remains the source of truth, and every mutating operation
// invalidates the local snapshot until it is re-fetched.
package model

import (
	"fmt"
	"time"
)

// Ticket status values as reported by the service.
const (
	TicketStatusInProgress = "In Progress"
	TicketStatusCancelled  = "Ticket Cancelled"
	TicketStatusClosed     = "Ticket Closed"
	TicketStatusRejected   = "Ticket Rejected"
	TicketStatusResolved   = "Ticket Resolved"
)

// Ticket is a snapshot of a single workflow instance. Steps are in
// progression order, never reordered, and a well-formed ticket carries
// at least one step.
type Ticket struct {
	ID           int        `json:"id"`
	Subject      string     `json:"subject"`
	Requester    string     `json:"requester"`
	RequesterID  int        `json:"requester_id"`
	Status       string     `json:"status"`
	WorkflowName string     `json:"workflow_name"`
	Priority     string     `json:"priority,omitempty"`
	Expiration   *time.Time `json:"expiration_date,omitempty"`
	Steps        []*Step    `json:"steps"`

	stale bool
}

// Step is one workflow-defined stage of a ticket, owning its tasks in
// order.
type Step struct {
	ID    int     `json:"id"`
	Name  string  `json:"name"`
	Tasks []*Task `json:"tasks"`

	ticket *Ticket
}

// Task is a unit of work within a step. The assignee may be empty when
// the task has not been claimed yet.
type Task struct {
	ID         int      `json:"id"`
	Assignee   string   `json:"assignee,omitempty"`
	AssigneeID int      `json:"assignee_id,omitempty"`
	Done       bool     `json:"done"`
	Fields     []*Field `json:"fields"`

	step *Step
}

// Relink wires the unexported parent pointers from ticket to steps,
// tasks, and fields. It must be called once after decoding a snapshot;
// the ticket service does this on every fetch.
func (t *Ticket) Relink() {
	for _, s := range t.Steps {
		s.ticket = t
		for _, task := range s.Tasks {
			task.step = s
			for _, f := range task.Fields {
				f.task = task
			}
		}
	}
}

// MarkStale invalidates the snapshot. Navigation and typed lookups fail
// with STALE_SNAPSHOT afterwards; callers must re-fetch the ticket.
func (t *Ticket) MarkStale() { t.stale = true }

// Stale reports whether the snapshot has been invalidated by a
// successful mutating operation.
func (t *Ticket) Stale() bool { return t.stale }

// guard returns a STALE_SNAPSHOT error when the snapshot has been
// invalidated, and nil otherwise.
func (t *Ticket) guard() error {
	if t.stale {
		return NewStaleSnapshotError(
			fmt.Sprintf("ticket %d snapshot is stale, re-fetch before reading", t.ID),
		)
	}
	return nil
}

// CurrentTask returns the first not-yet-done task in step-then-task
// progression order. It fails with NOT_FOUND when every task is done,
// which callers must treat as "no actionable task" rather than a hard
// error.
func (t *Ticket) CurrentTask() (*Task, error) {
	if err := t.guard(); err != nil {
		return nil, err
	}
	for _, s := range t.Steps {
		for _, task := range s.Tasks {
			if !task.Done {
				return task, nil
			}
		}
	}
	return nil, NewNotFoundError(
		fmt.Sprintf("ticket %d has no remaining task", t.ID),
	)
}

// CurrentStep returns the step containing the current task.
func (t *Ticket) CurrentStep() (*Step, error) {
	task, err := t.CurrentTask()
	if err != nil {
		return nil, err
	}
	return task.step, nil
}

// LastStep returns the highest-index step in progression order.
func (t *Ticket) LastStep() (*Step, error) {
	if err := t.guard(); err != nil {
		return nil, err
	}
	if len(t.Steps) == 0 {
		return nil, NewNotFoundError(fmt.Sprintf("ticket %d has no steps", t.ID))
	}
	return t.Steps[len(t.Steps)-1], nil
}

// LastTask returns the highest-index task of the last step.
func (t *Ticket) LastTask() (*Task, error) {
	step, err := t.LastStep()
	if err != nil {
		return nil, err
	}
	if len(step.Tasks) == 0 {
		return nil, NewNotFoundError(
			fmt.Sprintf("step %d of ticket %d has no tasks", step.ID, t.ID),
		)
	}
	return step.Tasks[len(step.Tasks)-1], nil
}

// PreviousStep returns the step immediately preceding the current
// task's step. It fails with OUT_OF_RANGE when the current task belongs
// to the first step; the documented recovery is to mark the current
// task done, re-fetch, and retry.
func (t *Ticket) PreviousStep() (*Step, error) {
	task, err := t.CurrentTask()
	if err != nil {
		return nil, err
	}
	idx := t.StepIndex(task.step.ID)
	if idx <= 0 {
		return nil, NewOutOfRangeError(
			fmt.Sprintf("ticket %d: current task %d is in the first step", t.ID, task.ID),
		)
	}
	return t.Steps[idx-1], nil
}

// StepIndex returns the progression-order index of the step with the
// given id, or -1 when the ticket has no such step.
func (t *Ticket) StepIndex(stepID int) int {
	for i, s := range t.Steps {
		if s.ID == stepID {
			return i
		}
	}
	return -1
}

// Ticket returns the owning ticket, or nil for a detached step.
func (s *Step) Ticket() *Ticket { return s.ticket }

// Step returns the owning step, or nil for a detached task.
func (tk *Task) Step() *Step { return tk.step }

// Ticket returns the owning ticket, or nil for a detached task.
func (tk *Task) Ticket() *Ticket {
	if tk.step == nil {
		return nil
	}
	return tk.step.ticket
}

// MarkDone sets the completion flag locally. The change takes effect on
// the service only once the task is submitted.
func (tk *Task) MarkDone() { tk.Done = true }

// FieldsByType returns the task's fields of the given type, in order.
func (tk *Task) FieldsByType(ft FieldType) []*Field {
	var out []*Field
	for _, f := range tk.Fields {
		if f.Type == ft {
			out = append(out, f)
		}
	}
	return out
}

// FieldByName returns the first field with the given name, with
// NOT_FOUND when the task has no such field.
func (tk *Task) FieldByName(name string) (*Field, error) {
	for _, f := range tk.Fields {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, NewNotFoundError(
		fmt.Sprintf("task %d has no field named %q", tk.ID, name),
	)
}

// TicketHistory is the activity trail of one ticket.
type TicketHistory struct {
	TicketID   int               `json:"ticket_id"`
	Activities []HistoryActivity `json:"activities"`
}

// HistoryActivity records one audited action on a ticket.
type HistoryActivity struct {
	StepName    string    `json:"step_name,omitempty"`
	Description string    `json:"description"`
	Performer   string    `json:"performed_by"`
	Timestamp   time.Time `json:"timestamp"`
}
