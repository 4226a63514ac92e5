package policy

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/splax/agentdeploy/internal/domain"
)

// Backend is the remote policy service.
type Backend interface {
	Grant(ctx context.Context, resourceURL string, grantee domain.Grantee) error
	ListGrants(ctx context.Context, resourceURL string) ([]domain.PolicyGrant, error)
}

// ErrDuplicateGrant is returned when the backend already holds the grant.
var ErrDuplicateGrant = errors.New("grant already exists")

// Service resolves owning contexts and propagates grants.
type Service struct {
	backend       Backend
	publicGrantee string
	logger        *slog.Logger
}

// New constructs a Service. publicGrantee names the project used for the
// public default grant.
func New(backend Backend, publicGrantee string, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{backend: backend, publicGrantee: strings.TrimSpace(publicGrantee), logger: logger.With("component", "policy")}
}

// Resolve picks the grantee for owner. An explicit member+project pair wins,
// then an explicit project, then the session project when owner asks for it,
// then the public default.
func (s Service) Resolve(owner domain.OwnerContext, session *domain.Session) domain.Grantee {
	member := strings.TrimSpace(owner.MemberID)
	project := strings.TrimSpace(owner.ProjectID)
	switch {
	case member != "" && project != "":
		return domain.Grantee{MemberID: member, ProjectID: project, Source: domain.GranteeExplicitMember}
	case project != "":
		return domain.Grantee{ProjectID: project, Source: domain.GranteeExplicitProject}
	case owner.UseSession && session != nil && strings.TrimSpace(session.ProjectID) != "":
		return domain.Grantee{ProjectID: strings.TrimSpace(session.ProjectID), Source: domain.GranteeSession}
	default:
		return domain.Grantee{ProjectID: s.publicGrantee, Public: true, Source: domain.GranteePublic}
	}
}

// Grant resolves owner against the call's session and grants access on
// resourceURL. A grant the backend already holds is reported as ErrDuplicateGrant.
func (s Service) Grant(ctx context.Context, resourceURL string, owner domain.OwnerContext) (domain.Grantee, error) {
	if strings.TrimSpace(resourceURL) == "" {
		return domain.Grantee{}, domain.Invalid("resource url is required")
	}
	grantee := s.Resolve(owner, domain.SessionFrom(ctx))
	if err := s.backend.Grant(ctx, resourceURL, grantee); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return grantee, errors.Join(ErrDuplicateGrant, err)
		}
		return grantee, err
	}
	s.logger.Info("policy granted", "resource_url", resourceURL, "grantee_source", grantee.Source, "project_id", grantee.ProjectID)
	return grantee, nil
}

// ListGrants returns the direct grants on resourceURL. Role-derived grants
// are never returned.
func (s Service) ListGrants(ctx context.Context, resourceURL string) ([]domain.PolicyGrant, error) {
	if strings.TrimSpace(resourceURL) == "" {
		return nil, domain.Invalid("resource url is required")
	}
	grants, err := s.backend.ListGrants(ctx, resourceURL)
	if err != nil {
		return nil, err
	}
	direct := make([]domain.PolicyGrant, 0, len(grants))
	for _, g := range grants {
		if g.Kind == domain.GrantRole {
			continue
		}
		direct = append(direct, g)
	}
	return direct, nil
}
