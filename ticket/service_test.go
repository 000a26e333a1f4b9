package ticket

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"

	"github.com/pitabwire/changeflow/model"
)

// fakeTransport records requests and answers from canned JSON keyed by
// "METHOD path".
type fakeTransport struct {
	t         *testing.T
	calls     []recordedCall
	responses map[string]string
	errs      map[string]error
	webURL    string
}

type recordedCall struct {
	method    string
	operation string
	path      string
	query     url.Values
	body      any
}

func newFakeTransport(t *testing.T) *fakeTransport {
	return &fakeTransport{
		t:         t,
		responses: make(map[string]string),
		errs:      make(map[string]error),
		webURL:    "https://change.example.com",
	}
}

func (f *fakeTransport) respond(method, path, body string) {
	f.responses[method+" "+path] = body
}

func (f *fakeTransport) fail(method, path string, err error) {
	f.errs[method+" "+path] = err
}

func (f *fakeTransport) answer(method, operation, path string, query url.Values, body, out any) error {
	f.calls = append(f.calls, recordedCall{method, operation, path, query, body})
	key := method + " " + path
	if err, ok := f.errs[key]; ok {
		return err
	}
	if resp, ok := f.responses[key]; ok && out != nil {
		if err := json.Unmarshal([]byte(resp), out); err != nil {
			f.t.Fatalf("canned response for %s: %v", key, err)
		}
	}
	return nil
}

func (f *fakeTransport) Get(ctx context.Context, operation, path string, query url.Values, out any) error {
	return f.answer("GET", operation, path, query, nil, out)
}

func (f *fakeTransport) Post(ctx context.Context, operation, path string, body, out any) error {
	return f.answer("POST", operation, path, nil, body, out)
}

func (f *fakeTransport) Put(ctx context.Context, operation, path string, body, out any) error {
	return f.answer("PUT", operation, path, nil, body, out)
}

func (f *fakeTransport) WebURL() string { return f.webURL }

func (f *fakeTransport) lastCall() recordedCall {
	if len(f.calls) == 0 {
		f.t.Fatal("no transport calls recorded")
	}
	return f.calls[len(f.calls)-1]
}

// snapshot builds a relinked two-step ticket: step 10 holds done task
// 100, step 20 holds open task 200 with one text field.
func snapshot() *model.Ticket {
	tk := &model.Ticket{
		ID:           7,
		Requester:    "a",
		RequesterID:  3,
		Status:       model.TicketStatusInProgress,
		WorkflowName: "Firewall Change",
		Steps: []*model.Step{
			{ID: 10, Name: "Request", Tasks: []*model.Task{
				{ID: 100, Done: true},
			}},
			{ID: 20, Name: "Approve", Tasks: []*model.Task{
				{ID: 200, Fields: []*model.Field{
					{ID: 1, Name: "justification", Type: model.FieldTypeTextArea},
				}},
			}},
		},
	}
	tk.Relink()
	return tk
}

const ticketJSON = `{
	"id": 7,
	"subject": "open port",
	"requester": "a",
	"requester_id": 3,
	"status": "In Progress",
	"workflow_name": "Firewall Change",
	"steps": [
		{"id": 10, "name": "Request", "tasks": [{"id": 100, "done": true, "fields": []}]},
		{"id": 20, "name": "Approve", "tasks": [{"id": 200, "done": false, "fields": [
			{"id": 1, "name": "justification", "type": "text_area", "value": ""}
		]}]}
	]
}`

func TestPostTicket_rejectsInvalidTemplateLocally(t *testing.T) {
	tr := newFakeTransport(t)
	svc := NewService(tr, nil)

	_, err := svc.PostTicket(context.Background(), &model.TicketTemplate{Subject: "no workflow"})
	if !model.IsValidation(err) {
		t.Fatalf("PostTicket() = %v, want VALIDATION_ERROR", err)
	}
	if len(tr.calls) != 0 {
		t.Errorf("transport saw %d calls, want 0", len(tr.calls))
	}
}

func TestPostTicket_returnsCreatedID(t *testing.T) {
	tr := newFakeTransport(t)
	tr.respond("POST", "/tickets", `{"id": 42}`)
	svc := NewService(tr, nil)

	tpl := &model.TicketTemplate{
		WorkflowName: "Firewall Change",
		Subject:      "open port",
		Requester:    "a",
	}
	id, err := svc.PostTicket(context.Background(), tpl)
	if err != nil {
		t.Fatalf("PostTicket() error = %v", err)
	}
	if id != 42 {
		t.Errorf("PostTicket() = %d, want 42", id)
	}
	call := tr.lastCall()
	if call.method != "POST" || call.path != "/tickets" {
		t.Errorf("call = %s %s, want POST /tickets", call.method, call.path)
	}
	if call.body != tpl {
		t.Error("request body is not the template")
	}
}

func TestGetTicket_relinksSnapshot(t *testing.T) {
	tr := newFakeTransport(t)
	tr.respond("GET", "/tickets/7", ticketJSON)
	svc := NewService(tr, nil)

	tk, err := svc.GetTicket(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetTicket() error = %v", err)
	}
	if tk.ID != 7 || tk.Requester != "a" {
		t.Errorf("ticket = id %d requester %q", tk.ID, tk.Requester)
	}

	cur, err := tk.CurrentTask()
	if err != nil {
		t.Fatalf("CurrentTask() error = %v", err)
	}
	if cur.ID != 200 {
		t.Errorf("CurrentTask().ID = %d, want 200", cur.ID)
	}
	if cur.Ticket() != tk {
		t.Error("task not relinked to ticket")
	}
}

func TestGetTicket_notFoundPassesThrough(t *testing.T) {
	tr := newFakeTransport(t)
	tr.fail("GET", "/tickets/99", model.NewNotFoundError("ticket 99 does not exist"))
	svc := NewService(tr, nil)

	_, err := svc.GetTicket(context.Background(), 99)
	if !model.IsNotFound(err) {
		t.Errorf("GetTicket() = %v, want NOT_FOUND", err)
	}
}

func TestGetTicketHistory(t *testing.T) {
	tr := newFakeTransport(t)
	tr.respond("GET", "/tickets/7/history", `{
		"ticket_id": 7,
		"activities": [{"description": "ticket created", "performed_by": "a", "timestamp": "2026-01-05T09:30:00Z"}]
	}`)
	svc := NewService(tr, nil)

	h, err := svc.GetTicketHistory(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetTicketHistory() error = %v", err)
	}
	if h.TicketID != 7 || len(h.Activities) != 1 {
		t.Errorf("history = %+v, want one activity for ticket 7", h)
	}
	if h.Activities[0].Performer != "a" {
		t.Errorf("Performer = %q, want a", h.Activities[0].Performer)
	}
}

func TestRedoStep_toEarlierStep(t *testing.T) {
	tr := newFakeTransport(t)
	svc := NewService(tr, nil)
	tk := snapshot()
	task := tk.Steps[1].Tasks[0]

	if err := svc.RedoStep(context.Background(), task, 10, "re-check the request"); err != nil {
		t.Fatalf("RedoStep() error = %v", err)
	}

	call := tr.lastCall()
	wantPath := "/tickets/7/steps/20/tasks/200/redo"
	if call.method != "PUT" || call.path != wantPath {
		t.Errorf("call = %s %s, want PUT %s", call.method, call.path, wantPath)
	}
	body := call.body.(map[string]any)
	if body["to_step_id"] != 10 || body["comment"] != "re-check the request" {
		t.Errorf("body = %v", body)
	}
	if !tk.Stale() {
		t.Error("ticket not marked stale after redo")
	}
}

func TestRedoStep_unknownStepIsNotFound(t *testing.T) {
	tr := newFakeTransport(t)
	svc := NewService(tr, nil)
	task := snapshot().Steps[1].Tasks[0]

	err := svc.RedoStep(context.Background(), task, 999, "")
	if !model.IsNotFound(err) {
		t.Fatalf("RedoStep(999) = %v, want NOT_FOUND", err)
	}
	if len(tr.calls) != 0 {
		t.Error("illegal redo reached the transport")
	}
}

func TestRedoStep_forwardOrSameStepIsInvalidTransition(t *testing.T) {
	tr := newFakeTransport(t)
	svc := NewService(tr, nil)
	tk := snapshot()
	firstTask := tk.Steps[0].Tasks[0]

	// Same step.
	if err := svc.RedoStep(context.Background(), tk.Steps[1].Tasks[0], 20, ""); !model.IsInvalidTransition(err) {
		t.Errorf("RedoStep(same step) = %v, want INVALID_TRANSITION", err)
	}
	// Forward step.
	if err := svc.RedoStep(context.Background(), firstTask, 20, ""); !model.IsInvalidTransition(err) {
		t.Errorf("RedoStep(forward) = %v, want INVALID_TRANSITION", err)
	}
	if len(tr.calls) != 0 {
		t.Error("illegal redo reached the transport")
	}
	if tk.Stale() {
		t.Error("failed redo marked the snapshot stale")
	}
}

func TestRedoStep_detachedTaskIsValidationError(t *testing.T) {
	svc := NewService(newFakeTransport(t), nil)

	err := svc.RedoStep(context.Background(), &model.Task{ID: 5}, 10, "")
	if !model.IsValidation(err) {
		t.Errorf("RedoStep(detached) = %v, want VALIDATION_ERROR", err)
	}
}

func TestPutTask_submitsFieldsAndInvalidates(t *testing.T) {
	tr := newFakeTransport(t)
	svc := NewService(tr, nil)
	tk := snapshot()
	task := tk.Steps[1].Tasks[0]
	field := task.Fields[0]
	field.SetValue("business need")

	if err := svc.PutTask(context.Background(), task); err != nil {
		t.Fatalf("PutTask() error = %v", err)
	}

	call := tr.lastCall()
	if call.path != "/tickets/7/steps/20/tasks/200" {
		t.Errorf("path = %s", call.path)
	}
	body := call.body.(map[string]any)
	if body["id"] != 200 {
		t.Errorf("body id = %v, want 200", body["id"])
	}
	fields := body["fields"].([]map[string]any)
	if len(fields) != 1 || fields[0]["value"] != "business need" {
		t.Errorf("fields payload = %v", fields)
	}
	if field.Dirty() {
		t.Error("field still dirty after submission")
	}
	if !tk.Stale() {
		t.Error("ticket not marked stale after task submission")
	}
}

func TestPutTask_transportFailureKeepsFieldsDirty(t *testing.T) {
	tr := newFakeTransport(t)
	tr.fail("PUT", "/tickets/7/steps/20/tasks/200", model.NewNotFoundError("task 200 is gone"))
	svc := NewService(tr, nil)
	tk := snapshot()
	task := tk.Steps[1].Tasks[0]
	task.Fields[0].SetValue("v")

	if err := svc.PutTask(context.Background(), task); !model.IsNotFound(err) {
		t.Fatalf("PutTask() = %v, want NOT_FOUND", err)
	}
	if !task.Fields[0].Dirty() {
		t.Error("field marked submitted despite failure")
	}
	if tk.Stale() {
		t.Error("failed submission marked the snapshot stale")
	}
}

func TestMarkDone(t *testing.T) {
	tr := newFakeTransport(t)
	svc := NewService(tr, nil)
	tk := snapshot()
	task := tk.Steps[1].Tasks[0]

	if err := svc.MarkDone(context.Background(), task); err != nil {
		t.Fatalf("MarkDone() error = %v", err)
	}
	if !task.Done {
		t.Error("task not marked done")
	}
	body := tr.lastCall().body.(map[string]any)
	if body["done"] != true {
		t.Errorf("submitted done = %v, want true", body["done"])
	}

	if err := svc.MarkDone(context.Background(), nil); !model.IsValidation(err) {
		t.Errorf("MarkDone(nil) = %v, want VALIDATION_ERROR", err)
	}
}

func TestPutField_acknowledges(t *testing.T) {
	tr := newFakeTransport(t)
	svc := NewService(tr, nil)
	tk := snapshot()
	field := tk.Steps[1].Tasks[0].Fields[0]
	field.SetValue("updated")

	ok, err := svc.PutField(context.Background(), field)
	if err != nil {
		t.Fatalf("PutField() error = %v", err)
	}
	if !ok {
		t.Error("PutField() = false, want acknowledgement")
	}

	call := tr.lastCall()
	if call.path != "/tickets/7/steps/20/tasks/200/fields/1" {
		t.Errorf("path = %s", call.path)
	}
	if field.Dirty() {
		t.Error("field still dirty after acknowledged submission")
	}
	if !tk.Stale() {
		t.Error("ticket not marked stale after field submission")
	}
}

func TestPutField_failure(t *testing.T) {
	tr := newFakeTransport(t)
	tr.fail("PUT", "/tickets/7/steps/20/tasks/200/fields/1",
		model.NewValidationError("value rejected", nil))
	svc := NewService(tr, nil)
	field := snapshot().Steps[1].Tasks[0].Fields[0]

	ok, err := svc.PutField(context.Background(), field)
	if ok {
		t.Error("PutField() = true despite rejection")
	}
	if !model.IsValidation(err) {
		t.Errorf("PutField() = %v, want VALIDATION_ERROR", err)
	}
}

func TestPutField_detached(t *testing.T) {
	svc := NewService(newFakeTransport(t), nil)

	if _, err := svc.PutField(context.Background(), &model.Field{ID: 1}); !model.IsValidation(err) {
		t.Errorf("PutField(detached) = %v, want VALIDATION_ERROR", err)
	}
	if _, err := svc.PutField(context.Background(), nil); !model.IsValidation(err) {
		t.Errorf("PutField(nil) = %v, want VALIDATION_ERROR", err)
	}
}

func TestReassignTask(t *testing.T) {
	tr := newFakeTransport(t)
	svc := NewService(tr, nil)
	tk := snapshot()
	task := tk.Steps[1].Tasks[0]

	if err := svc.ReassignTask(context.Background(), task, "b", "taking over"); err != nil {
		t.Fatalf("ReassignTask() error = %v", err)
	}

	call := tr.lastCall()
	if call.path != "/tickets/7/steps/20/tasks/200/reassign" {
		t.Errorf("path = %s", call.path)
	}
	body := call.body.(map[string]any)
	if body["assignee"] != "b" || body["comment"] != "taking over" {
		t.Errorf("body = %v", body)
	}
	if !tk.Stale() {
		t.Error("ticket not marked stale after reassignment")
	}
}

func TestCancelTicket(t *testing.T) {
	tr := newFakeTransport(t)
	svc := NewService(tr, nil)

	if err := svc.CancelTicket(context.Background(), 7); err != nil {
		t.Fatalf("CancelTicket() error = %v", err)
	}
	call := tr.lastCall()
	if call.method != "PUT" || call.path != "/tickets/7/cancel" {
		t.Errorf("call = %s %s, want PUT /tickets/7/cancel", call.method, call.path)
	}
	if body := call.body.(map[string]any); len(body) != 0 {
		t.Errorf("body = %v, want empty", body)
	}

	if err := svc.CancelTicket(context.Background(), 7, 3); err != nil {
		t.Fatalf("CancelTicket(requester) error = %v", err)
	}
	if body := tr.lastCall().body.(map[string]any); body["requester_id"] != 3 {
		t.Errorf("body = %v, want requester_id 3", body)
	}
}

func TestCancelTicket_alreadyCancelled(t *testing.T) {
	tr := newFakeTransport(t)
	tr.fail("PUT", "/tickets/7/cancel",
		model.NewInvalidTransitionError("ticket 7 is already cancelled"))
	svc := NewService(tr, nil)

	if err := svc.CancelTicket(context.Background(), 7); !model.IsInvalidTransition(err) {
		t.Errorf("CancelTicket() = %v, want INVALID_TRANSITION", err)
	}
}

func TestChangeRequester(t *testing.T) {
	tr := newFakeTransport(t)
	svc := NewService(tr, nil)

	if err := svc.ChangeRequester(context.Background(), 7, 11, "handover"); err != nil {
		t.Fatalf("ChangeRequester() error = %v", err)
	}
	call := tr.lastCall()
	if call.path != "/tickets/7/requester" {
		t.Errorf("path = %s", call.path)
	}
	body := call.body.(map[string]any)
	if body["requester_id"] != 11 || body["comment"] != "handover" {
		t.Errorf("body = %v", body)
	}
}

func TestTicketLink(t *testing.T) {
	svc := NewService(newFakeTransport(t), nil)

	want := "https://change.example.com/pages/requests/view?ticketId=7"
	if got := svc.TicketLink(7); got != want {
		t.Errorf("TicketLink(7) = %q, want %q", got, want)
	}
	if got := svc.TicketLink(7, 200); got != want+"&taskId=200" {
		t.Errorf("TicketLink(7, 200) = %q", got)
	}
}

// Creation followed by a fetch reflects the submitted requester and
// yields an actionable current task.
func TestCreateThenFetch_roundTrip(t *testing.T) {
	tr := newFakeTransport(t)
	tr.respond("POST", "/tickets", `{"id": 7}`)
	tr.respond("GET", "/tickets/7", ticketJSON)
	svc := NewService(tr, nil)

	id, err := svc.PostTicket(context.Background(), &model.TicketTemplate{
		WorkflowName: "Firewall Change",
		Subject:      "open port",
		Requester:    "a",
	})
	if err != nil {
		t.Fatalf("PostTicket() error = %v", err)
	}

	tk, err := svc.GetTicket(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTicket() error = %v", err)
	}
	if tk.Requester != "a" {
		t.Errorf("Requester = %q, want a", tk.Requester)
	}
	if _, err := tk.CurrentTask(); err != nil {
		t.Errorf("CurrentTask() after creation = %v, want an actionable task", err)
	}
}
