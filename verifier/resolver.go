// Package verifier resolves verification outcomes for access-request
// fields: whether each requested network access is already implemented,
// known to be missing, or not yet checkable.
package verifier

import (
	"context"
	"fmt"
	"net/url"

	"github.com/pitabwire/changeflow/model"
)

// Transport is the read-only request boundary the resolver operates
// over. *transport.Client implements it.
type Transport interface {
	Get(ctx context.Context, operation, path string, query url.Values, out any) error
}

// Resolver reads verification outcomes for multi-access-request fields.
type Resolver struct {
	tr Transport
}

// NewResolver creates a verification resolver over the given transport.
func NewResolver(tr Transport) *Resolver {
	return &Resolver{tr: tr}
}

// Summary pairs one access request with its verification outcome.
type Summary struct {
	AccessRequestID int
	Outcome         model.VerifierSummary
}

// Summaries returns the per-item verification outcome for every access
// request of the field, in field order. Exactly one outcome predicate
// is true per item. VALIDATION_ERROR when the field is not a
// multi-access-request field.
func (r *Resolver) Summaries(field *model.Field) ([]Summary, error) {
	if field == nil {
		return nil, model.NewValidationError("field is nil", nil)
	}
	if field.Type != model.FieldTypeMultiAccessRequest {
		return nil, model.NewValidationError(
			fmt.Sprintf("field %q has type %q, not %q",
				field.Name, field.Type, model.FieldTypeMultiAccessRequest), nil,
		)
	}

	summaries := make([]Summary, 0, len(field.AccessRequests))
	for _, ar := range field.AccessRequests {
		summaries = append(summaries, Summary{
			AccessRequestID: ar.ID,
			Outcome:         ar.Verifier,
		})
	}
	return summaries, nil
}

// Result fetches the detailed verification result for one access
// request. NOT_AVAILABLE when the verification engine has no result for
// the item yet — an expected outcome for unresolvable paths, not a
// defect.
func (r *Resolver) Result(ctx context.Context, ticketID, stepID, taskID, accessRequestID int) (*model.VerifierResult, error) {
	path := fmt.Sprintf("/tickets/%d/steps/%d/tasks/%d/access_requests/%d/verifier",
		ticketID, stepID, taskID, accessRequestID)

	var res model.VerifierResult
	if err := r.tr.Get(ctx, "get_verifier_result", path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
