package docker

import (
	"context"
	"encoding/base64"
	"errors"
	"path"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/google/uuid"

	"github.com/splax/agentdeploy/internal/domain"
)

const (
	labelManaged     = "agentdeploy.managed"
	labelName        = "agentdeploy.name"
	labelDescription = "agentdeploy.description"
	labelTargetID    = "agentdeploy.target.id"
	labelTargetType  = "agentdeploy.target.type"
	labelDeployment  = "agentdeploy.deployment"
	labelReplicasMin = "agentdeploy.replicas.min"
	labelReplicasMax = "agentdeploy.replicas.max"

	mb = 1024 * 1024
)

// Registry creates the runtime entity of a deployment as a local container.
// The container id is the resource id.
type Registry struct {
	client *Client
	image  string
}

// NewRegistry returns a Registry running image for every deployment.
func NewRegistry(c *Client, image string) (*Registry, error) {
	if c == nil || c.inner == nil {
		return nil, errors.New("docker client not initialized")
	}
	image = strings.TrimSpace(image)
	if image == "" {
		return nil, errors.New("runtime image is required")
	}
	return &Registry{client: c, image: image}, nil
}

// Create creates and starts a container for req. The attachment, if any, is
// passed to the container through its environment.
func (r *Registry) Create(ctx context.Context, req domain.DeploymentRequest) (domain.RegistryResult, error) {
	if strings.TrimSpace(req.Name) == "" {
		return domain.RegistryResult{}, domain.Invalid("deployment name is required")
	}
	deploymentID := uuid.NewString()
	name := containerName(req.Name, deploymentID)

	env, err := envFor(req)
	if err != nil {
		return domain.RegistryResult{}, err
	}
	config := &container.Config{
		Image:  r.image,
		Labels: labelsFor(req, deploymentID),
		Env:    env,
	}
	hostCfg := &container.HostConfig{
		Resources: resourcesFor(req.Limits),
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyUnlessStopped,
		},
	}

	created, err := r.client.inner.ContainerCreate(ctx, config, hostCfg, nil, nil, name)
	if err != nil {
		return domain.RegistryResult{}, mapError("container create", err)
	}
	if err := r.client.inner.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		r.cleanup(ctx, created.ID)
		return domain.RegistryResult{}, mapError("container start", err)
	}
	return domain.RegistryResult{ResourceID: created.ID, ServingID: name, DeploymentID: deploymentID}, nil
}

// Update applies new resource bounds to a running container. Descriptions are
// fixed at creation because container labels are immutable.
func (r *Registry) Update(ctx context.Context, resourceID string, patch domain.DeploymentPatch) error {
	if strings.TrimSpace(resourceID) == "" {
		return domain.Invalid("resource id is required")
	}
	if patch.Limits == nil {
		if patch.Description != nil {
			return domain.Invalid("description cannot be changed on a container runtime")
		}
		return nil
	}
	if _, err := r.client.inner.ContainerUpdate(ctx, resourceID, container.UpdateConfig{Resources: resourcesFor(*patch.Limits)}); err != nil {
		return mapError("container update", err)
	}
	return nil
}

// Delete force-removes the container.
func (r *Registry) Delete(ctx context.Context, resourceID string) error {
	if strings.TrimSpace(resourceID) == "" {
		return domain.Invalid("resource id is required")
	}
	if err := r.client.inner.ContainerRemove(ctx, resourceID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		return mapError("container remove", err)
	}
	return nil
}

func (r *Registry) cleanup(ctx context.Context, id string) {
	_ = r.client.inner.ContainerRemove(context.WithoutCancel(ctx), id, container.RemoveOptions{Force: true})
}

func containerName(name, deploymentID string) string {
	var b strings.Builder
	for _, ch := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9', ch == '-', ch == '_', ch == '.':
			b.WriteRune(ch)
		default:
			b.WriteRune('-')
		}
	}
	slug := strings.Trim(b.String(), "-.")
	if slug == "" {
		slug = "agent"
	}
	if len(slug) > 40 {
		slug = slug[:40]
	}
	return "agent-" + slug + "-" + deploymentID[:8]
}

func labelsFor(req domain.DeploymentRequest, deploymentID string) map[string]string {
	labels := map[string]string{
		labelManaged:    "true",
		labelName:       req.Name,
		labelTargetID:   req.Target.ID,
		labelTargetType: req.Target.Type,
		labelDeployment: deploymentID,
	}
	if req.Description != "" {
		labels[labelDescription] = req.Description
	}
	if req.Limits.ReplicasMin > 0 {
		labels[labelReplicasMin] = strconv.Itoa(req.Limits.ReplicasMin)
	}
	if req.Limits.ReplicasMax > 0 {
		labels[labelReplicasMax] = strconv.Itoa(req.Limits.ReplicasMax)
	}
	return labels
}

// resourcesFor maps deployment bounds onto container limits. Upper bounds
// become hard limits and the memory lower bound becomes a reservation.
func resourcesFor(l domain.ResourceLimits) container.Resources {
	var res container.Resources
	if l.CPUMax > 0 {
		res.NanoCPUs = int64(l.CPUMax * 1e9)
	}
	if l.CPUMin > 0 {
		res.CPUShares = int64(l.CPUMin * 1024)
	}
	if l.MemoryMaxMB > 0 {
		res.Memory = int64(l.MemoryMaxMB) * mb
	}
	if l.MemoryMinMB > 0 {
		res.MemoryReservation = int64(l.MemoryMinMB) * mb
	}
	return res
}

func envFor(req domain.DeploymentRequest) ([]string, error) {
	env := []string{
		"AGENT_NAME=" + req.Name,
		"AGENT_TARGET_ID=" + req.Target.ID,
		"AGENT_TARGET_TYPE=" + req.Target.Type,
	}
	if req.Attachment == nil {
		return env, nil
	}
	name := path.Base(strings.TrimSpace(req.Attachment.Name))
	if name == "" || name == "." || name == "/" {
		return nil, domain.Invalid("attachment name is required")
	}
	env = append(env,
		"AGENT_ATTACHMENT_NAME="+name,
		"AGENT_ATTACHMENT_TYPE="+req.Attachment.ContentType,
		"AGENT_ATTACHMENT="+base64.StdEncoding.EncodeToString(req.Attachment.Data),
	)
	return env, nil
}
