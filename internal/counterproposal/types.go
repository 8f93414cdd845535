// Package counterproposal implements the counter-proposal sub-flow:
// creation, paginated listing, single-use status transitions and deletion,
// all tied to an existing proposal.
package counterproposal

import "time"

// Status values as the workflow backend reports them.
const (
	StatusPending  = "pendente"
	StatusApproved = "aprovada"
	StatusRejected = "recusada"
)

const PageSize = 5

type CounterProposal struct {
	ID             string     `json:"id,omitempty"`
	ProposalID     string     `json:"proposalId"`
	SellerName     string     `json:"sellerName"`
	AgentName      string     `json:"agentName"`
	AgentTaxID     string     `json:"agentTaxId,omitempty"`
	ProposedPrice  float64    `json:"proposedPrice"`
	DownPayment    *float64   `json:"downPayment,omitempty"`
	PaymentTerms   string     `json:"paymentTerms,omitempty"`
	CreatorRole    string     `json:"creatorRole"`
	RecipientEmail string     `json:"recipientEmail,omitempty"`
	Status         string     `json:"status"`
	RespondedAt    *time.Time `json:"respondedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Page is one newest-first page of counter-proposals.
type Page struct {
	Items     []CounterProposal `json:"items"`
	Page      int               `json:"page"`
	PageCount int               `json:"pageCount"`
	Total     int               `json:"total"`
}

// EmptyPage is the safe default a listing resets to after any failure, so
// the console never shows a stale page count.
func EmptyPage() Page {
	return Page{Items: []CounterProposal{}, Page: 1, PageCount: 1, Total: 0}
}
