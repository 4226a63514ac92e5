package policy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/splax/agentdeploy/internal/domain"
)

type fakeBackend struct {
	grants   []domain.Grantee
	grantErr error
	listed   []domain.PolicyGrant
	listErr  error
}

func (f *fakeBackend) Grant(_ context.Context, _ string, grantee domain.Grantee) error {
	f.grants = append(f.grants, grantee)
	return f.grantErr
}

func (f *fakeBackend) ListGrants(context.Context, string) ([]domain.PolicyGrant, error) {
	return f.listed, f.listErr
}

func newTestService(backend Backend) Service {
	return New(backend, "public", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestResolvePrecedence(t *testing.T) {
	svc := newTestService(&fakeBackend{})
	session := &domain.Session{UserID: "u1", ProjectID: "session-proj"}

	tests := []struct {
		name    string
		owner   domain.OwnerContext
		session *domain.Session
		want    domain.Grantee
	}{
		{
			name:    "explicit pair beats session",
			owner:   domain.OwnerContext{MemberID: "m1", ProjectID: "p1"},
			session: session,
			want:    domain.Grantee{MemberID: "m1", ProjectID: "p1", Source: domain.GranteeExplicitMember},
		},
		{
			name:    "explicit project beats session",
			owner:   domain.OwnerContext{ProjectID: "p2", UseSession: true},
			session: session,
			want:    domain.Grantee{ProjectID: "p2", Source: domain.GranteeExplicitProject},
		},
		{
			name:    "member without project falls through to session",
			owner:   domain.OwnerContext{MemberID: "m1", UseSession: true},
			session: session,
			want:    domain.Grantee{ProjectID: "session-proj", Source: domain.GranteeSession},
		},
		{
			name:    "session only",
			owner:   domain.OwnerContext{UseSession: true},
			session: session,
			want:    domain.Grantee{ProjectID: "session-proj", Source: domain.GranteeSession},
		},
		{
			name:  "nothing falls back to public",
			owner: domain.OwnerContext{UseSession: true},
			want:  domain.Grantee{ProjectID: "public", Public: true, Source: domain.GranteePublic},
		},
		{
			name:    "session without project falls back to public",
			owner:   domain.OwnerContext{UseSession: true},
			session: &domain.Session{UserID: "u1"},
			want:    domain.Grantee{ProjectID: "public", Public: true, Source: domain.GranteePublic},
		},
		{
			name:    "session ignored when not requested",
			owner:   domain.OwnerContext{UseSession: false},
			session: session,
			want:    domain.Grantee{ProjectID: "public", Public: true, Source: domain.GranteePublic},
		},
		{
			name:    "member without project and no session use",
			owner:   domain.OwnerContext{MemberID: "m1"},
			session: session,
			want:    domain.Grantee{ProjectID: "public", Public: true, Source: domain.GranteePublic},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := svc.Resolve(tt.owner, tt.session); got != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestGrantUsesSessionFromCall(t *testing.T) {
	backend := &fakeBackend{}
	svc := newTestService(backend)
	ctx := domain.WithCall(context.Background(), domain.NewCall(&domain.Session{ProjectID: "p9"}))

	grantee, err := svc.Grant(ctx, "agents://a1", domain.OwnerContext{UseSession: true})
	if err != nil {
		t.Fatalf("Grant returned error: %v", err)
	}
	if grantee.ProjectID != "p9" || len(backend.grants) != 1 || backend.grants[0].Source != domain.GranteeSession {
		t.Fatalf("expected session grant, got %+v (%+v)", grantee, backend.grants)
	}
}

func TestGrantReportsDuplicates(t *testing.T) {
	backend := &fakeBackend{grantErr: domain.ErrAlreadyExists}
	svc := newTestService(backend)

	_, err := svc.Grant(context.Background(), "agents://a1", domain.OwnerContext{ProjectID: "p1"})
	if !errors.Is(err, ErrDuplicateGrant) {
		t.Fatalf("expected ErrDuplicateGrant, got %v", err)
	}
}

func TestGrantRequiresResourceURL(t *testing.T) {
	backend := &fakeBackend{}
	svc := newTestService(backend)
	if _, err := svc.Grant(context.Background(), " ", domain.OwnerContext{}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if len(backend.grants) != 0 {
		t.Fatal("expected no remote call on validation failure")
	}
}

func TestListGrantsFiltersRoleDerived(t *testing.T) {
	backend := &fakeBackend{listed: []domain.PolicyGrant{
		{ResourceURL: "agents://a1", Grantee: domain.Grantee{ProjectID: "p1"}, Kind: domain.GrantDirect},
		{ResourceURL: "agents://a1", Grantee: domain.Grantee{MemberID: "admin"}, Kind: domain.GrantRole},
		{ResourceURL: "agents://a1", Grantee: domain.Grantee{ProjectID: "p2"}, Kind: domain.GrantDirect},
	}}
	svc := newTestService(backend)

	grants, err := svc.ListGrants(context.Background(), "agents://a1")
	if err != nil {
		t.Fatalf("ListGrants returned error: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("expected 2 direct grants, got %d", len(grants))
	}
	for _, g := range grants {
		if g.Kind == domain.GrantRole {
			t.Fatalf("role-derived grant leaked: %+v", g)
		}
	}
}

func TestGrantWithoutSessionUseGoesPublic(t *testing.T) {
	backend := &fakeBackend{}
	svc := newTestService(backend)
	ctx := domain.WithCall(context.Background(), domain.NewCall(&domain.Session{ProjectID: "p9"}))

	grantee, err := svc.Grant(ctx, "agents://a1", domain.OwnerContext{})
	if err != nil {
		t.Fatalf("Grant returned error: %v", err)
	}
	if !grantee.Public || grantee.Source != domain.GranteePublic || grantee.ProjectID != "public" {
		t.Fatalf("expected public grant, got %+v", grantee)
	}
}
