package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"propdesk/api/internal/counterproposal"
)

// CreateCounterProposal associates a new counter-proposal with its
// proposal. The backend assigns ID, status "pendente" and timestamps.
func (c *Client) CreateCounterProposal(ctx context.Context, cp counterproposal.CounterProposal, role, subject, idempotencyKey string) (counterproposal.CounterProposal, error) {
	u := fmt.Sprintf("%s/proposals/%s/counterproposals?%s",
		c.counterURL, url.PathEscape(cp.ProposalID), scopeQuery(role, subject).Encode())
	headers := map[string]string{"Idempotency-Key": idempotencyKey}

	var created counterproposal.CounterProposal
	if err := c.doJSON(ctx, "create counterproposal", http.MethodPost, u, headers, cp, &created); err != nil {
		return counterproposal.CounterProposal{}, err
	}
	return created, nil
}

// ListCounterProposals returns one newest-first page.
func (c *Client) ListCounterProposals(ctx context.Context, proposalID, role, subject string, page, pageSize int) (counterproposal.Page, error) {
	q := scopeQuery(role, subject)
	q.Set("page", fmt.Sprintf("%d", page))
	q.Set("pageSize", fmt.Sprintf("%d", pageSize))
	u := fmt.Sprintf("%s/proposals/%s/counterproposals?%s", c.counterURL, url.PathEscape(proposalID), q.Encode())

	var result counterproposal.Page
	if err := c.doJSON(ctx, "list counterproposals", http.MethodGet, u, nil, nil, &result); err != nil {
		return counterproposal.Page{}, err
	}
	return result, nil
}

// UpdateCounterProposalStatus applies the single-use pending → approved or
// pending → rejected transition. The server is authoritative about whether
// the transition is still available.
func (c *Client) UpdateCounterProposalStatus(ctx context.Context, id, status, role, subject string) error {
	u := fmt.Sprintf("%s/counterproposals/%s/status?%s", c.counterURL, url.PathEscape(id), scopeQuery(role, subject).Encode())
	body := map[string]string{"status": status}
	return c.doJSON(ctx, "update counterproposal status", http.MethodPut, u, nil, body, nil)
}

// DeleteCounterProposal removes a counter-proposal. A refusal (for
// instance when signatures already exist) surfaces as *RefusalError with
// the server-reported reason.
func (c *Client) DeleteCounterProposal(ctx context.Context, id, role, subject string) error {
	u := fmt.Sprintf("%s/counterproposals/%s?%s", c.counterURL, url.PathEscape(id), scopeQuery(role, subject).Encode())
	return c.doJSON(ctx, "delete counterproposal", http.MethodDelete, u, nil, nil, nil)
}

// CounterProposalPDFURL builds the collaborator's PDF endpoint for a
// counter-proposal. Rendering and download happen outside this service.
func (c *Client) CounterProposalPDFURL(id, role string) string {
	q := url.Values{}
	if role != "" {
		q.Set("perfil", role)
	}
	return fmt.Sprintf("%s/counterproposals/%s/pdf?%s", c.counterURL, url.PathEscape(id), q.Encode())
}
