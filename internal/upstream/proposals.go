package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"propdesk/api/internal/proposal"
)

// ProposalFilter narrows the paginated proposal listing.
type ProposalFilter struct {
	Status   string
	DateFrom string
	DateTo   string
	Search   string
	Page     int
	PageSize int
}

type ProposalPage struct {
	Items     []proposal.Proposal `json:"items"`
	Page      int                 `json:"page"`
	PageCount int                 `json:"pageCount"`
	Total     int                 `json:"total"`
}

// CreateProposal submits the full stage-1 payload. The backend assigns the
// ID and sequence number and reports the resulting status.
func (c *Client) CreateProposal(ctx context.Context, p proposal.Proposal, role, subject, idempotencyKey string) (proposal.Proposal, error) {
	u := c.proposalURL + "/proposals?" + scopeQuery(role, subject).Encode()
	headers := map[string]string{"Idempotency-Key": idempotencyKey}

	var created proposal.Proposal
	if err := c.doJSON(ctx, "create proposal", http.MethodPost, u, headers, p, &created); err != nil {
		return proposal.Proposal{}, err
	}
	return created, nil
}

// GetProposalByIdentity resolves a proposal scoped to the session's role.
// The backend answers 400 as well as 403 for unlinked callers; both map to
// ErrAccessDenied so the caller can fall back to the link path.
func (c *Client) GetProposalByIdentity(ctx context.Context, id, role, subject string) (proposal.Patch, error) {
	u := fmt.Sprintf("%s/proposals/%s?%s", c.proposalURL, url.PathEscape(id), scopeQuery(role, subject).Encode())

	var patch proposal.Patch
	if err := c.doJSONClassify(ctx, "get proposal", http.MethodGet, u, nil, nil, &patch, classifyLookup); err != nil {
		return proposal.Patch{}, err
	}
	return patch, nil
}

// GetProposalByLink resolves a proposal through a shareable-link
// identifier, with no session required.
func (c *Client) GetProposalByLink(ctx context.Context, id, link string) (proposal.Patch, error) {
	q := url.Values{}
	q.Set("link", link)
	u := fmt.Sprintf("%s/proposals/%s/shared?%s", c.proposalURL, url.PathEscape(id), q.Encode())

	var patch proposal.Patch
	if err := c.doJSONClassify(ctx, "get proposal by link", http.MethodGet, u, nil, nil, &patch, classifyLookup); err != nil {
		return proposal.Patch{}, err
	}
	return patch, nil
}

// UpdateProposalStage sends a partial payload tagged with its target stage.
func (c *Client) UpdateProposalStage(ctx context.Context, id string, stage int, patch proposal.Patch, role, subject string) error {
	q := scopeQuery(role, subject)
	q.Set("etapa", fmt.Sprintf("%d", stage))
	u := fmt.Sprintf("%s/proposals/%s?%s", c.proposalURL, url.PathEscape(id), q.Encode())

	return c.doJSON(ctx, "update proposal stage", http.MethodPut, u, nil, patch, nil)
}

// ProposalStatus fetches only the stage and status fields, used by the
// focus/refetch path so in-progress edits stay untouched.
func (c *Client) ProposalStatus(ctx context.Context, id, role, subject string) (int, string, error) {
	u := fmt.Sprintf("%s/proposals/%s/status?%s", c.proposalURL, url.PathEscape(id), scopeQuery(role, subject).Encode())

	var body struct {
		Stage  int    `json:"etapa"`
		Status string `json:"status"`
	}
	if err := c.doJSONClassify(ctx, "proposal status", http.MethodGet, u, nil, nil, &body, classifyLookup); err != nil {
		return 0, "", err
	}
	return body.Stage, body.Status, nil
}

// ListProposals returns one page of proposals for the console's listing.
func (c *Client) ListProposals(ctx context.Context, filter ProposalFilter, role, subject string) (ProposalPage, error) {
	q := scopeQuery(role, subject)
	if filter.Status != "" {
		q.Set("status", filter.Status)
	}
	if filter.DateFrom != "" {
		q.Set("from", filter.DateFrom)
	}
	if filter.DateTo != "" {
		q.Set("to", filter.DateTo)
	}
	if filter.Search != "" {
		q.Set("q", filter.Search)
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 10
	}
	q.Set("page", fmt.Sprintf("%d", page))
	q.Set("pageSize", fmt.Sprintf("%d", pageSize))

	u := c.proposalURL + "/proposals?" + q.Encode()

	var result ProposalPage
	if err := c.doJSON(ctx, "list proposals", http.MethodGet, u, nil, nil, &result); err != nil {
		return ProposalPage{}, err
	}
	return result, nil
}
