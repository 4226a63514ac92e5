package domain

import "time"

// TaskStatus is the last known state of an asynchronous gateway job.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskProcessing TaskStatus = "PROCESSING"
	TaskSuccess    TaskStatus = "SUCCESS"
	TaskFailed     TaskStatus = "FAILED"
)

// ProvisioningTask maps a resource to the external gateway job registering it.
type ProvisioningTask struct {
	ResourceID      string
	ExternalTaskID  string
	LastKnownStatus TaskStatus
	UpdatedAt       time.Time
}

// ProvisioningStatus is the reconciled answer to a status check.
type ProvisioningStatus struct {
	ResourceID     string
	ExternalTaskID string
	Status         TaskStatus
	// Reconciled is set when the route lookup overrode the status feed.
	Reconciled bool
	// Ambiguous is set when neither the feed nor the route lookup gave an answer.
	Ambiguous bool
}

// RouteRegistration is the input for registering a gateway route.
type RouteRegistration struct {
	ResourceType string
	ResourceID   string
	Name         string
	Description  string
	ProjectID    string
}

// GatewayJob is the acknowledgement returned by the gateway on registration.
type GatewayJob struct {
	WorkStatus  string
	WorkMessage string
	JobHandle   string
}

// GetID implements HasIdentifier.
func (j GatewayJob) GetID() (string, bool) {
	return j.JobHandle, j.JobHandle != ""
}

// Route is what the gateway route lookup returns.
type Route struct {
	APIID string
	Path  string
}

// GetID implements HasIdentifier.
func (r Route) GetID() (string, bool) {
	return r.APIID, r.APIID != ""
}

// LineageEdge is a directed relationship recorded in the lineage service.
type LineageEdge struct {
	SourceID   string
	SourceType string
	TargetID   string
	TargetType string
	Action     string
}
