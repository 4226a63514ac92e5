package remote

import (
	"context"
	"net/http"
	"net/url"

	"github.com/splax/agentdeploy/internal/domain"
)

// PolicyClient manages access grants on resource URLs.
type PolicyClient struct {
	t *transport
}

// NewPolicyClient constructs a PolicyClient.
func NewPolicyClient(baseURL string, opts ...Option) (*PolicyClient, error) {
	t, err := newTransport("policy", baseURL, opts...)
	if err != nil {
		return nil, err
	}
	return &PolicyClient{t: t}, nil
}

type grant struct {
	ResourceURL string `json:"resource_url"`
	MemberID    string `json:"member_id,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
	Public      bool   `json:"public,omitempty"`
	Kind        string `json:"kind,omitempty"`
}

// Grant gives grantee access to resourceURL.
func (c *PolicyClient) Grant(ctx context.Context, resourceURL string, grantee domain.Grantee) error {
	body := grant{
		ResourceURL: resourceURL,
		MemberID:    grantee.MemberID,
		ProjectID:   grantee.ProjectID,
		Public:      grantee.Public,
	}
	return c.t.do(ctx, http.MethodPost, "/v1/policies/grants", body, nil)
}

// ListGrants returns every grant on resourceURL, role-derived ones included.
func (c *PolicyClient) ListGrants(ctx context.Context, resourceURL string) ([]domain.PolicyGrant, error) {
	var resp []grant
	path := "/v1/policies/grants?resource_url=" + url.QueryEscape(resourceURL)
	if err := c.t.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	grants := make([]domain.PolicyGrant, 0, len(resp))
	for _, g := range resp {
		kind := domain.GrantKind(g.Kind)
		if kind == "" {
			kind = domain.GrantDirect
		}
		grants = append(grants, domain.PolicyGrant{
			ResourceURL: g.ResourceURL,
			Grantee:     domain.Grantee{MemberID: g.MemberID, ProjectID: g.ProjectID, Public: g.Public},
			Kind:        kind,
		})
	}
	return grants, nil
}
