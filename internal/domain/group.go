package domain

// GroupSpec describes the parent entity of a grouped resource.
type GroupSpec struct {
	Name        string
	Description string
	ProjectID   string
}

// GroupMember is one entry of the child collection.
type GroupMember struct {
	ID    string
	Name  string
	Value string
}

// MemberSpec describes the child collection attached to a parent.
type MemberSpec struct {
	Members []GroupMember
}

// GroupedResource exists wholly or not at all.
type GroupedResource struct {
	ParentID string
	Members  []GroupMember
}

// GetID implements HasIdentifier.
func (g GroupedResource) GetID() (string, bool) {
	return g.ParentID, g.ParentID != ""
}
