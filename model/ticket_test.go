package model

import "testing"

// buildTicket assembles a relinked three-step ticket:
// step 10 (task 100 done), step 20 (task 200 open, task 201 open),
// step 30 (task 300 open).
func buildTicket() *Ticket {
	t := &Ticket{
		ID:           7,
		Requester:    "a",
		RequesterID:  3,
		Status:       TicketStatusInProgress,
		WorkflowName: "Firewall Change",
		Steps: []*Step{
			{ID: 10, Name: "Request", Tasks: []*Task{
				{ID: 100, Done: true},
			}},
			{ID: 20, Name: "Approve", Tasks: []*Task{
				{ID: 200},
				{ID: 201},
			}},
			{ID: 30, Name: "Implement", Tasks: []*Task{
				{ID: 300},
			}},
		},
	}
	t.Relink()
	return t
}

func TestCurrentTask_firstIncompleteInProgressionOrder(t *testing.T) {
	tk := buildTicket()

	task, err := tk.CurrentTask()
	if err != nil {
		t.Fatalf("CurrentTask() error = %v", err)
	}
	if task.ID != 200 {
		t.Errorf("CurrentTask().ID = %d, want 200", task.ID)
	}
	if task.Done {
		t.Error("CurrentTask() returned a done task")
	}
}

func TestCurrentTask_allDoneIsNotFound(t *testing.T) {
	tk := buildTicket()
	for _, s := range tk.Steps {
		for _, task := range s.Tasks {
			task.MarkDone()
		}
	}

	_, err := tk.CurrentTask()
	if !IsNotFound(err) {
		t.Errorf("CurrentTask() on resolved ticket = %v, want NOT_FOUND", err)
	}
}

func TestLastStepAndLastTask(t *testing.T) {
	tk := buildTicket()

	step, err := tk.LastStep()
	if err != nil {
		t.Fatalf("LastStep() error = %v", err)
	}
	if step.ID != 30 {
		t.Errorf("LastStep().ID = %d, want 30", step.ID)
	}

	task, err := tk.LastTask()
	if err != nil {
		t.Fatalf("LastTask() error = %v", err)
	}
	if task.ID != 300 {
		t.Errorf("LastTask().ID = %d, want 300", task.ID)
	}
}

func TestPreviousStep_precedesCurrent(t *testing.T) {
	tk := buildTicket()

	step, err := tk.PreviousStep()
	if err != nil {
		t.Fatalf("PreviousStep() error = %v", err)
	}
	// Current task 200 is in step 20; the previous step is 10.
	if step.ID != 10 {
		t.Errorf("PreviousStep().ID = %d, want 10", step.ID)
	}
}

func TestPreviousStep_firstStepIsOutOfRange(t *testing.T) {
	tk := buildTicket()
	tk.Steps[0].Tasks[0].Done = false // current task back in the first step

	_, err := tk.PreviousStep()
	if !IsOutOfRange(err) {
		t.Errorf("PreviousStep() with current task in first step = %v, want OUT_OF_RANGE", err)
	}
}

func TestPreviousStep_recoveryAfterMarkDone(t *testing.T) {
	tk := buildTicket()
	tk.Steps[0].Tasks[0].Done = false

	if _, err := tk.PreviousStep(); !IsOutOfRange(err) {
		t.Fatalf("PreviousStep() = %v, want OUT_OF_RANGE", err)
	}

	// Documented recovery: mark the current task done and retry on a
	// fresh snapshot.
	cur, err := tk.CurrentTask()
	if err != nil {
		t.Fatalf("CurrentTask() error = %v", err)
	}
	cur.MarkDone()

	step, err := tk.PreviousStep()
	if err != nil {
		t.Fatalf("PreviousStep() after recovery error = %v", err)
	}
	if step.ID != 10 {
		t.Errorf("PreviousStep().ID = %d, want 10", step.ID)
	}
}

func TestStaleSnapshot_blocksNavigation(t *testing.T) {
	tk := buildTicket()
	tk.MarkStale()

	if !tk.Stale() {
		t.Fatal("Stale() = false after MarkStale")
	}
	if _, err := tk.CurrentTask(); !IsStaleSnapshot(err) {
		t.Errorf("CurrentTask() on stale ticket = %v, want STALE_SNAPSHOT", err)
	}
	if _, err := tk.LastStep(); !IsStaleSnapshot(err) {
		t.Errorf("LastStep() on stale ticket = %v, want STALE_SNAPSHOT", err)
	}
	if _, err := tk.PreviousStep(); !IsStaleSnapshot(err) {
		t.Errorf("PreviousStep() on stale ticket = %v, want STALE_SNAPSHOT", err)
	}
}

func TestStepIndex(t *testing.T) {
	tk := buildTicket()

	if got := tk.StepIndex(20); got != 1 {
		t.Errorf("StepIndex(20) = %d, want 1", got)
	}
	if got := tk.StepIndex(999); got != -1 {
		t.Errorf("StepIndex(999) = %d, want -1", got)
	}
}

func TestRelink_parentPointers(t *testing.T) {
	tk := buildTicket()

	task := tk.Steps[1].Tasks[0]
	if task.Step() == nil || task.Step().ID != 20 {
		t.Fatal("task.Step() not wired to owning step")
	}
	if task.Ticket() != tk {
		t.Error("task.Ticket() not wired to owning ticket")
	}
	if tk.Steps[1].Ticket() != tk {
		t.Error("step.Ticket() not wired to owning ticket")
	}
}

func TestFieldLookupOnTask(t *testing.T) {
	task := &Task{ID: 1, Fields: []*Field{
		{ID: 1, Name: "change window", Type: FieldTypeTime, Value: "12:00"},
		{ID: 2, Name: "justification", Type: FieldTypeTextArea},
		{ID: 3, Name: "cutover", Type: FieldTypeTime, Value: "15:15"},
	}}

	times := task.FieldsByType(FieldTypeTime)
	if len(times) != 2 || times[0].ID != 1 || times[1].ID != 3 {
		t.Errorf("FieldsByType(time) = %v, want fields 1 and 3", times)
	}

	f, err := task.FieldByName("justification")
	if err != nil {
		t.Fatalf("FieldByName() error = %v", err)
	}
	if f.ID != 2 {
		t.Errorf("FieldByName().ID = %d, want 2", f.ID)
	}

	if _, err := task.FieldByName("missing"); !IsNotFound(err) {
		t.Errorf("FieldByName(missing) = %v, want NOT_FOUND", err)
	}
}
