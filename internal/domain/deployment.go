package domain

// Target references the definition a deployment is built from, e.g. a graph.
type Target struct {
	ID   string
	Type string
}

// GetID implements HasIdentifier.
func (t Target) GetID() (string, bool) {
	return t.ID, t.ID != ""
}

// ResourceLimits bounds the runtime entity created by the registry.
type ResourceLimits struct {
	CPUMin      float64
	CPUMax      float64
	MemoryMinMB int
	MemoryMaxMB int
	ReplicasMin int
	ReplicasMax int
}

// Attachment is an optional binary payload shipped with a deployment request.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// DeploymentRequest describes a deployable agent to create.
type DeploymentRequest struct {
	Name        string
	Description string
	Target      Target
	Limits      ResourceLimits
	Attachment  *Attachment
	Owner       OwnerContext
}

// DeploymentStatus is the coarse status reported for a deployment.
type DeploymentStatus string

const (
	DeploymentCreated DeploymentStatus = "created"
	DeploymentUpdated DeploymentStatus = "updated"
	DeploymentDeleted DeploymentStatus = "deleted"
)

// DeploymentResult is returned once the primary resource exists.
type DeploymentResult struct {
	ResourceID   string
	ServingID    string
	DeploymentID string
	Status       DeploymentStatus
}

// GetID implements HasIdentifier.
func (r DeploymentResult) GetID() (string, bool) {
	return r.ResourceID, r.ResourceID != ""
}

// DeploymentPatch carries mutable fields for an existing deployment.
// Nil fields are left untouched.
type DeploymentPatch struct {
	Description *string
	Limits      *ResourceLimits
}

// Empty reports whether the patch changes nothing.
func (p DeploymentPatch) Empty() bool {
	return p.Description == nil && p.Limits == nil
}

// RegistryResult is what the resource registry returns on create.
type RegistryResult struct {
	ResourceID   string
	ServingID    string
	DeploymentID string
}

// GetID implements HasIdentifier.
func (r RegistryResult) GetID() (string, bool) {
	return r.ResourceID, r.ResourceID != ""
}
