package model

// TicketTemplate is the renderable payload posted to create a new
// ticket. Templates are loaded from YAML or JSON files by the template
// package; the requester is usually overridden by the caller before
// posting.
type TicketTemplate struct {
	WorkflowName string          `json:"workflow_name" yaml:"workflow_name"`
	Subject      string          `json:"subject"       yaml:"subject"`
	Requester    string          `json:"requester"     yaml:"requester"`
	Priority     string          `json:"priority,omitempty" yaml:"priority"`
	Fields       []TemplateField `json:"fields,omitempty"   yaml:"fields"`
}

// TemplateField seeds one field value of the ticket's first step.
type TemplateField struct {
	Name  string    `json:"name"  yaml:"name"`
	Type  FieldType `json:"type"  yaml:"type"`
	Value string    `json:"value" yaml:"value"`
}
