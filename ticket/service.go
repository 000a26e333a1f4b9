// Package ticket drives state changes on remote tickets: creation from
// templates, workflow redo, task and field submission, reassignment,
// cancellation, and requester changes. The remote service is the sole
// source of truth; every successful mutating call marks the originating
// snapshot stale, and the caller must re-fetch before depending on
// post-mutation state.
package ticket

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/pitabwire/changeflow/model"
	"github.com/pitabwire/changeflow/template"
)

// Transport is the request/response boundary the service operates over.
// *transport.Client implements it.
type Transport interface {
	Get(ctx context.Context, operation, path string, query url.Values, out any) error
	Post(ctx context.Context, operation, path string, body, out any) error
	Put(ctx context.Context, operation, path string, body, out any) error
	WebURL() string
}

// Service validates transitions against fetched state, submits them,
// and invalidates snapshots on success. Client-side precondition checks
// only cover what the snapshot can prove; legality is always re-decided
// by the service.
type Service struct {
	tr     Transport
	logger *zap.Logger
}

// NewService creates a ticket service over the given transport.
func NewService(tr Transport, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{tr: tr, logger: logger}
}

// PostTicket creates a new ticket from a template and returns its id.
// Malformed templates fail with VALIDATION_ERROR before any request is
// sent.
func (s *Service) PostTicket(ctx context.Context, tpl *model.TicketTemplate) (int, error) {
	if err := template.Validate(tpl); err != nil {
		return 0, err
	}

	var created struct {
		ID int `json:"id"`
	}
	if err := s.tr.Post(ctx, "post_ticket", "/tickets", tpl, &created); err != nil {
		return 0, err
	}

	s.logger.Info("ticket created",
		zap.Int("ticket_id", created.ID),
		zap.String("workflow", tpl.WorkflowName),
	)
	return created.ID, nil
}

// GetTicket fetches a ticket snapshot by id, with parent links resolved
// so navigation works. NOT_FOUND for an unknown id.
func (s *Service) GetTicket(ctx context.Context, id int) (*model.Ticket, error) {
	var t model.Ticket
	if err := s.tr.Get(ctx, "get_ticket", fmt.Sprintf("/tickets/%d", id), nil, &t); err != nil {
		return nil, err
	}
	t.Relink()
	return &t, nil
}

// GetTicketHistory fetches the activity trail of a ticket.
func (s *Service) GetTicketHistory(ctx context.Context, id int) (*model.TicketHistory, error) {
	var h model.TicketHistory
	if err := s.tr.Get(ctx, "get_ticket_history", fmt.Sprintf("/tickets/%d/history", id), nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// RedoStep moves the workflow position from fromTask's step back to the
// step with toStepID. The target must be an already-visited step
// strictly earlier in progression order; anything else fails with
// INVALID_TRANSITION before the request is sent, and the service
// re-validates on its own authority.
func (s *Service) RedoStep(ctx context.Context, fromTask *model.Task, toStepID int, comment string) error {
	tk, err := attachedTicket(fromTask)
	if err != nil {
		return err
	}

	fromIdx := tk.StepIndex(fromTask.Step().ID)
	toIdx := tk.StepIndex(toStepID)
	if toIdx < 0 {
		return model.NewNotFoundError(
			fmt.Sprintf("ticket %d has no step %d", tk.ID, toStepID),
		)
	}
	if toIdx >= fromIdx {
		return model.NewInvalidTransitionError(
			fmt.Sprintf("step %d does not precede the step of task %d", toStepID, fromTask.ID),
		)
	}

	body := map[string]any{
		"to_step_id": toStepID,
		"comment":    comment,
	}
	path := fmt.Sprintf("/tickets/%d/steps/%d/tasks/%d/redo", tk.ID, fromTask.Step().ID, fromTask.ID)
	if err := s.tr.Put(ctx, "redo_step", path, body, nil); err != nil {
		return err
	}

	tk.MarkStale()
	s.logger.Info("step redone",
		zap.Int("ticket_id", tk.ID),
		zap.Int("from_task_id", fromTask.ID),
		zap.Int("to_step_id", toStepID),
	)
	return nil
}

// PutTask submits a task's field mutations and completion flag. The
// service resolves stale or unknown task references with NOT_FOUND; the
// client only rejects detached references.
func (s *Service) PutTask(ctx context.Context, task *model.Task) error {
	tk, err := attachedTicket(task)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/tickets/%d/steps/%d/tasks/%d", tk.ID, task.Step().ID, task.ID)
	if err := s.tr.Put(ctx, "put_task", path, taskPayload(task), nil); err != nil {
		return err
	}

	for _, f := range task.Fields {
		f.MarkSubmitted()
	}
	tk.MarkStale()
	s.logger.Info("task submitted",
		zap.Int("ticket_id", tk.ID),
		zap.Int("task_id", task.ID),
		zap.Bool("done", task.Done),
	)
	return nil
}

// MarkDone marks the task done locally and submits it.
func (s *Service) MarkDone(ctx context.Context, task *model.Task) error {
	if task == nil {
		return model.NewValidationError("task is nil", nil)
	}
	task.MarkDone()
	return s.PutTask(ctx, task)
}

// PutField submits a single field's value in isolation. The returned
// bool reports acknowledgement by the service.
func (s *Service) PutField(ctx context.Context, field *model.Field) (bool, error) {
	if field == nil || field.Task() == nil {
		return false, model.NewValidationError("field is nil or not attached to a task", nil)
	}
	task := field.Task()
	tk, err := attachedTicket(task)
	if err != nil {
		return false, err
	}

	body := map[string]any{
		"name":  field.Name,
		"type":  field.Type,
		"value": field.Value,
	}
	path := fmt.Sprintf("/tickets/%d/steps/%d/tasks/%d/fields/%d",
		tk.ID, task.Step().ID, task.ID, field.ID)
	if err := s.tr.Put(ctx, "put_field", path, body, nil); err != nil {
		return false, err
	}

	field.MarkSubmitted()
	tk.MarkStale()
	return true, nil
}

// ReassignTask changes a task's assignee by username. NOT_FOUND when
// the username does not resolve to a known identity.
func (s *Service) ReassignTask(ctx context.Context, task *model.Task, username, comment string) error {
	tk, err := attachedTicket(task)
	if err != nil {
		return err
	}

	body := map[string]any{
		"assignee": username,
		"comment":  comment,
	}
	path := fmt.Sprintf("/tickets/%d/steps/%d/tasks/%d/reassign", tk.ID, task.Step().ID, task.ID)
	if err := s.tr.Put(ctx, "reassign_task", path, body, nil); err != nil {
		return err
	}

	tk.MarkStale()
	s.logger.Info("task reassigned",
		zap.Int("ticket_id", tk.ID),
		zap.Int("task_id", task.ID),
		zap.String("assignee", username),
	)
	return nil
}

// CancelTicket transitions the ticket to the cancelled status. When
// requesterID is omitted the service uses the ticket's own requester as
// the acting identity. A second cancel on an already-cancelled ticket
// fails; cancellation is never silently idempotent.
func (s *Service) CancelTicket(ctx context.Context, id int, requesterID ...int) error {
	body := map[string]any{}
	if len(requesterID) > 0 {
		body["requester_id"] = requesterID[0]
	}
	if err := s.tr.Put(ctx, "cancel_ticket", fmt.Sprintf("/tickets/%d/cancel", id), body, nil); err != nil {
		return err
	}

	s.logger.Info("ticket cancelled", zap.Int("ticket_id", id))
	return nil
}

// ChangeRequester reassigns the ticket's requester. NOT_FOUND for an
// unknown user id.
func (s *Service) ChangeRequester(ctx context.Context, id, userID int, comment string) error {
	body := map[string]any{
		"requester_id": userID,
		"comment":      comment,
	}
	if err := s.tr.Put(ctx, "change_requester", fmt.Sprintf("/tickets/%d/requester", id), body, nil); err != nil {
		return err
	}

	s.logger.Info("requester changed",
		zap.Int("ticket_id", id),
		zap.Int("requester_id", userID),
	)
	return nil
}

// TicketLink returns the browser deep link for a ticket, optionally
// narrowed to one task.
func (s *Service) TicketLink(id int, taskID ...int) string {
	link := fmt.Sprintf("%s/pages/requests/view?ticketId=%d", s.tr.WebURL(), id)
	if len(taskID) > 0 {
		link += fmt.Sprintf("&taskId=%d", taskID[0])
	}
	return link
}

// attachedTicket resolves the owning ticket of a task, rejecting nil or
// detached references before they reach the wire.
func attachedTicket(task *model.Task) (*model.Ticket, error) {
	if task == nil {
		return nil, model.NewValidationError("task is nil", nil)
	}
	tk := task.Ticket()
	if tk == nil {
		return nil, model.NewValidationError(
			fmt.Sprintf("task %d is not attached to a ticket snapshot", task.ID), nil,
		)
	}
	return tk, nil
}

// taskPayload is the update body for a task submission. Field values
// travel by id so the service can match them independent of ordering.
func taskPayload(task *model.Task) map[string]any {
	fields := make([]map[string]any, 0, len(task.Fields))
	for _, f := range task.Fields {
		fields = append(fields, map[string]any{
			"id":    f.ID,
			"name":  f.Name,
			"type":  f.Type,
			"value": f.Value,
		})
	}
	return map[string]any{
		"id":     task.ID,
		"done":   task.Done,
		"fields": fields,
	}
}
