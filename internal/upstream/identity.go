package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"propdesk/api/internal/session"
)

// Resolution is what the identity collaborator knows about a tax ID.
type Resolution struct {
	Role     string           `json:"role"`
	Identity session.Identity `json:"identity"`
}

// ResolveIdentity looks up the role and identity record for a normalized
// tax ID. An unregistered ID comes back as ErrNotFound.
func (c *Client) ResolveIdentity(ctx context.Context, taxID string) (Resolution, error) {
	u := fmt.Sprintf("%s/identities/%s", c.identityURL, url.PathEscape(taxID))

	var resolved Resolution
	if err := c.doJSON(ctx, "resolve identity", http.MethodGet, u, nil, nil, &resolved); err != nil {
		return Resolution{}, err
	}
	if resolved.Role == "" {
		return Resolution{}, fmt.Errorf("resolve identity: no role for subject: %w", ErrNotFound)
	}
	return resolved, nil
}
