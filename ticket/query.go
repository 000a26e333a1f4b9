package ticket

import (
	"context"
	"net/url"
	"strconv"

	"github.com/pitabwire/changeflow/model"
)

// defaultPageSize is the page length used by lazy listing queries when
// the service is constructed without an explicit one.
const defaultPageSize = 100

// FindByWorkflow returns the ids of tickets whose workflow name matches
// exactly. An unmatched name yields an empty slice, not an error.
func (s *Service) FindByWorkflow(ctx context.Context, name string) ([]int, error) {
	query := url.Values{"workflow": {name}}
	var out struct {
		TicketIDs []int `json:"ticket_ids"`
	}
	if err := s.tr.Get(ctx, "find_by_workflow", "/tickets/ids", query, &out); err != nil {
		return nil, err
	}
	return out.TicketIDs, nil
}

// FindByStatus returns full ticket snapshots matching a status filter
// expression. An expression the service cannot parse fails with
// MALFORMED_QUERY.
func (s *Service) FindByStatus(ctx context.Context, statusExpr string) ([]*model.Ticket, error) {
	query := url.Values{"status": {statusExpr}}
	var out struct {
		Tickets []*model.Ticket `json:"tickets"`
	}
	if err := s.tr.Get(ctx, "find_by_status", "/tickets", query, &out); err != nil {
		return nil, err
	}
	for _, t := range out.Tickets {
		t.Relink()
	}
	return out.Tickets, nil
}

// FindWithExpiration returns a lazy, forward-only iterator over the ids
// of tickets carrying an expiration date. Pages are fetched on demand;
// stopping early fetches no more. The iterator is not restartable and
// not safe for concurrent use.
func (s *Service) FindWithExpiration(ctx context.Context, pageSize ...int) *ExpirationIter {
	size := defaultPageSize
	if len(pageSize) > 0 && pageSize[0] > 0 {
		size = pageSize[0]
	}
	return &ExpirationIter{
		ctx:      ctx,
		tr:       s.tr,
		pageSize: size,
	}
}

// ExpirationIter iterates ticket ids page by page in the style of
// bufio.Scanner: Next advances, ID reads, Err reports the terminal
// failure if any. Exhaustion is explicit; once Next returns false the
// iterator never yields again.
type ExpirationIter struct {
	ctx      context.Context
	tr       Transport
	pageSize int

	page      []int
	idx       int
	offset    int
	exhausted bool
	err       error
}

// Next advances to the next ticket id, fetching the next page when the
// current one is consumed. It returns false when the sequence is
// exhausted, closed, or failed; check Err afterwards.
func (it *ExpirationIter) Next() bool {
	if it.exhausted || it.err != nil {
		return false
	}
	if it.idx < len(it.page) {
		it.idx++
		return true
	}
	return it.fetch()
}

// fetch loads the next page and positions the cursor on its first id.
func (it *ExpirationIter) fetch() bool {
	query := url.Values{
		"offset": {strconv.Itoa(it.offset)},
		"limit":  {strconv.Itoa(it.pageSize)},
	}
	var out struct {
		TicketIDs []int `json:"ticket_ids"`
	}
	if err := it.tr.Get(it.ctx, "find_with_expiration", "/tickets/expiring", query, &out); err != nil {
		it.err = err
		it.exhausted = true
		return false
	}

	if len(out.TicketIDs) == 0 {
		it.exhausted = true
		return false
	}

	it.page = out.TicketIDs
	it.idx = 1
	it.offset += len(out.TicketIDs)
	return true
}

// ID returns the ticket id at the current position. Valid only after a
// Next call that returned true.
func (it *ExpirationIter) ID() int {
	if it.idx == 0 || it.idx > len(it.page) {
		return 0
	}
	return it.page[it.idx-1]
}

// Err returns the error that terminated iteration, if any.
func (it *ExpirationIter) Err() error { return it.err }

// Close releases the iterator. Subsequent Next calls return false.
// Close is optional when the sequence was consumed to exhaustion.
func (it *ExpirationIter) Close() {
	it.exhausted = true
	it.page = nil
	it.idx = 0
}
