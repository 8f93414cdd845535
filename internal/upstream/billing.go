package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Charge is one collection item of a proposal shown in the billing
// reminder console.
type Charge struct {
	ID         string     `json:"id"`
	ProposalID string     `json:"proposalId"`
	Amount     float64    `json:"amount"`
	DueDate    string     `json:"dueDate"`
	Status     string     `json:"status"`
	RemindedAt *time.Time `json:"remindedAt,omitempty"`
}

// ListCharges returns the collection charges attached to a proposal.
func (c *Client) ListCharges(ctx context.Context, proposalID, role, subject string) ([]Charge, error) {
	u := fmt.Sprintf("%s/proposals/%s/charges?%s", c.billingURL, url.PathEscape(proposalID), scopeQuery(role, subject).Encode())

	var body struct {
		Charges []Charge `json:"charges"`
	}
	if err := c.doJSON(ctx, "list charges", http.MethodGet, u, nil, nil, &body); err != nil {
		return nil, err
	}
	return body.Charges, nil
}

// SendReminder asks the billing collaborator to issue a payment reminder
// for one charge.
func (c *Client) SendReminder(ctx context.Context, chargeID string) error {
	u := fmt.Sprintf("%s/charges/%s/remind", c.billingURL, url.PathEscape(chargeID))
	return c.doJSON(ctx, "send reminder", http.MethodPost, u, nil, nil, nil)
}
