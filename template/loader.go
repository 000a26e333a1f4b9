// Package template loads ticket templates from YAML or JSON files and
// validates them client-side before they are posted. Validation here is
// a fail-fast convenience; the service re-validates authoritatively.
package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"

	"github.com/pitabwire/changeflow/model"
)

// ticketSchema mirrors the create-ticket request schema of the service
// API.
var ticketSchema = buildTicketSchema()

func buildTicketSchema() *openapi3.Schema {
	fieldSchema := openapi3.NewObjectSchema().
		WithProperty("name", openapi3.NewStringSchema().WithMinLength(1)).
		WithProperty("type", openapi3.NewStringSchema().WithMinLength(1)).
		WithProperty("value", openapi3.NewStringSchema())
	fieldSchema.Required = []string{"name", "type"}

	s := openapi3.NewObjectSchema().
		WithProperty("workflow_name", openapi3.NewStringSchema().WithMinLength(1)).
		WithProperty("subject", openapi3.NewStringSchema().WithMinLength(1)).
		WithProperty("requester", openapi3.NewStringSchema()).
		WithProperty("priority", openapi3.NewStringSchema()).
		WithProperty("fields", openapi3.NewArraySchema().WithItems(fieldSchema))
	s.Required = []string{"workflow_name", "subject"}
	return s
}

// Load reads a ticket template from a YAML or JSON file. The caller
// usually overrides the requester before posting.
func Load(path string) (*model.TicketTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("template: reading %s: %w", path, err)
	}

	var tpl model.TicketTemplate
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &tpl)
	default:
		err = yaml.Unmarshal(data, &tpl)
	}
	if err != nil {
		return nil, model.NewValidationError(fmt.Sprintf("template %s: %v", path, err), nil)
	}
	return &tpl, nil
}

// Validate checks a template against the create-ticket schema and
// returns a VALIDATION_ERROR naming the offending fields on failure.
func Validate(tpl *model.TicketTemplate) error {
	if tpl == nil {
		return model.NewValidationError("ticket template is nil", nil)
	}

	// Round-trip through JSON into the generic form the schema
	// validator understands.
	raw, err := json.Marshal(tpl)
	if err != nil {
		return model.NewValidationError(fmt.Sprintf("encode template: %v", err), nil)
	}
	var value map[string]any
	if err := json.Unmarshal(raw, &value); err != nil {
		return model.NewValidationError(fmt.Sprintf("decode template: %v", err), nil)
	}

	if err := ticketSchema.VisitJSON(value); err != nil {
		return toValidationError(err)
	}
	return nil
}

// toValidationError converts a schema violation into the taxonomy,
// preserving the JSON pointer of the failing field.
func toValidationError(err error) *model.Error {
	var details []model.FieldError
	var schemaErr *openapi3.SchemaError
	if errors.As(err, &schemaErr) {
		details = append(details, model.FieldError{
			Field:   strings.Join(schemaErr.JSONPointer(), "."),
			Code:    "SCHEMA",
			Message: schemaErr.Reason,
		})
	}
	return model.NewValidationError("ticket template failed validation", details)
}
