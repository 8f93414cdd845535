package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"propdesk/api/internal/signature"
)

// Signature scopes: signer lists exist for proposals and counter-proposals.
const (
	ScopeProposal        = "proposals"
	ScopeCounterProposal = "counterproposals"
)

// SignerRequest is one entry of a send-for-signature call. Name or email
// must be present; the provider resolves the rest.
type SignerRequest struct {
	Name   string           `json:"name,omitempty"`
	Email  string           `json:"email,omitempty"`
	Action signature.Action `json:"action"`
	Stage  int              `json:"etapa,omitempty"`
}

// ListSigners fetches the signer list for a document. A stage of zero
// means all stages.
func (c *Client) ListSigners(ctx context.Context, scope, id string, stage int) ([]signature.Signer, error) {
	q := url.Values{}
	if stage > 0 {
		q.Set("etapa", fmt.Sprintf("%d", stage))
	}
	u := fmt.Sprintf("%s/%s/%s/signers?%s", c.signatureURL, scope, url.PathEscape(id), q.Encode())

	var body struct {
		Signers []signature.Signer `json:"signers"`
	}
	if err := c.doJSON(ctx, "list signers", http.MethodGet, u, nil, nil, &body); err != nil {
		return nil, err
	}
	return body.Signers, nil
}

// SendForSignature requests signatures from the given signers.
func (c *Client) SendForSignature(ctx context.Context, scope, id string, signers []SignerRequest) error {
	u := fmt.Sprintf("%s/%s/%s/signers", c.signatureURL, scope, url.PathEscape(id))
	body := map[string]any{"signers": signers}
	return c.doJSON(ctx, "send for signature", http.MethodPost, u, nil, body, nil)
}

// ListProposalSigners fetches every signer attached to a proposal, all
// stages included.
func (c *Client) ListProposalSigners(ctx context.Context, proposalID string) ([]signature.Signer, error) {
	return c.ListSigners(ctx, ScopeProposal, proposalID, 0)
}

// SigningLink fetches a single-use signing link for one signer.
func (c *Client) SigningLink(ctx context.Context, signerID string) (string, error) {
	u := fmt.Sprintf("%s/signers/%s/link", c.signatureURL, url.PathEscape(signerID))

	var body struct {
		URL string `json:"url"`
	}
	if err := c.doJSON(ctx, "signing link", http.MethodGet, u, nil, nil, &body); err != nil {
		return "", err
	}
	return body.URL, nil
}
