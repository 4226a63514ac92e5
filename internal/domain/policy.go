package domain

// OwnerContext names who should be granted access to a new resource. The
// explicit fields win over the caller's session, see policy.Resolve.
type OwnerContext struct {
	MemberID   string
	ProjectID  string
	UseSession bool
}

// Session is the caller identity extracted from its access token.
type Session struct {
	UserID    string
	ProjectID string
}

// GranteeSource records which rule produced a Grantee.
type GranteeSource string

const (
	GranteeExplicitMember  GranteeSource = "explicit_member"
	GranteeExplicitProject GranteeSource = "explicit_project"
	GranteeSession         GranteeSource = "session"
	GranteePublic          GranteeSource = "public"
)

// Grantee is the resolved owning context of a grant.
type Grantee struct {
	MemberID  string
	ProjectID string
	Public    bool
	Source    GranteeSource
}

// GrantKind distinguishes direct grants from grants inherited through a role.
type GrantKind string

const (
	GrantDirect GrantKind = "direct"
	GrantRole   GrantKind = "role"
)

// PolicyGrant is a single access grant on a resource URL.
type PolicyGrant struct {
	ResourceURL string
	Grantee     Grantee
	Kind        GrantKind
}
