package model

import "fmt"

// FieldType enumerates the typed value slots a task can carry.
type FieldType string

// Field types understood by the client. The service may report further
// types; they round-trip untouched as text.
const (
	FieldTypeTime               FieldType = "time"
	FieldTypeDate               FieldType = "date"
	FieldTypeText               FieldType = "text"
	FieldTypeTextArea           FieldType = "text_area"
	FieldTypeCheckbox           FieldType = "checkbox"
	FieldTypeDropDown           FieldType = "drop_down_list"
	FieldTypeMultiAccessRequest FieldType = "multi_access_request"
)

// Field is a typed key/value slot owned by exactly one task. Scalar
// types carry Value; multi-access-request fields carry AccessRequests
// instead. Value mutation is local until the field or its task is
// submitted.
type Field struct {
	ID             int              `json:"id"`
	Name           string           `json:"name"`
	Type           FieldType        `json:"type"`
	Value          string           `json:"value,omitempty"`
	AccessRequests []*AccessRequest `json:"access_requests,omitempty"`

	task  *Task
	dirty bool
}

// Task returns the owning task, or nil for a detached field.
func (f *Field) Task() *Task { return f.task }

// SetValue replaces the field value locally and marks the field as
// pending submission.
func (f *Field) SetValue(v string) {
	f.Value = v
	f.dirty = true
}

// Dirty reports whether the field holds a local mutation that has not
// been submitted yet.
func (f *Field) Dirty() bool { return f.dirty }

// MarkSubmitted clears the pending-mutation marker. The ticket service
// calls this after a successful submit.
func (f *Field) MarkSubmitted() { f.dirty = false }

// AccessRequest is one network-access request entry inside a
// multi-access-request field, subject to independent verification.
type AccessRequest struct {
	ID          int             `json:"id"`
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	Service     string          `json:"service"`
	Action      string          `json:"action,omitempty"`
	Verifier    VerifierSummary `json:"verifier_result"`
}

// Verification outcome values. Exactly one predicate of a summary is
// true for any reported outcome.
const (
	VerifierImplemented    = "implemented"
	VerifierNotImplemented = "not implemented"
	VerifierNotAvailable   = "not available"
)

// VerifierSummary is the per-item verification outcome carried inline
// with an access request.
type VerifierSummary struct {
	Status string `json:"status"`
}

// IsImplemented reports whether the requested access is already
// implemented in the network.
func (v VerifierSummary) IsImplemented() bool { return v.Status == VerifierImplemented }

// IsNotImplemented reports whether the requested access is known to be
// missing from the network.
func (v VerifierSummary) IsNotImplemented() bool { return v.Status == VerifierNotImplemented }

// IsNotAvailable reports whether verification has no computable answer
// for the item, e.g. its network paths are not yet resolvable.
func (v VerifierSummary) IsNotAvailable() bool { return v.Status == VerifierNotAvailable }

// VerifierResult is the detailed verification outcome for one access
// request, fetched on demand from the verification engine.
type VerifierResult struct {
	TicketID        int               `json:"ticket_id"`
	AccessRequestID int               `json:"access_request_id"`
	Status          string            `json:"status"`
	Bindings        []VerifierBinding `json:"bindings,omitempty"`
}

// VerifierBinding is the per-device portion of a detailed verification
// result.
type VerifierBinding struct {
	DeviceID       int    `json:"device_id"`
	DeviceName     string `json:"device_name"`
	PercentCovered int    `json:"percent_covered"`
	Violation      bool   `json:"violation"`
}

// Summary reduces the detailed result to its outcome predicates.
func (r *VerifierResult) Summary() VerifierSummary {
	return VerifierSummary{Status: r.Status}
}

// String implements fmt.Stringer for log output.
func (r *VerifierResult) String() string {
	return fmt.Sprintf("access request %d: %s", r.AccessRequestID, r.Status)
}
