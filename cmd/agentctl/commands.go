package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/splax/agentdeploy/internal/domain"
)

type ownerFlags struct {
	member     *string
	project    *string
	useSession *bool
}

func bindOwner(fs *flag.FlagSet) ownerFlags {
	return ownerFlags{
		member:     fs.String("member", "", "Owning member identifier (requires --project)"),
		project:    fs.String("project", "", "Owning project identifier"),
		useSession: fs.Bool("session", true, "Fall back to the logged-in session project"),
	}
}

func (o ownerFlags) context() domain.OwnerContext {
	return domain.OwnerContext{
		MemberID:   strings.TrimSpace(*o.member),
		ProjectID:  strings.TrimSpace(*o.project),
		UseSession: *o.useSession,
	}
}

type limitFlags struct {
	cpuMin, cpuMax           *float64
	memMin, memMax           *int
	replicasMin, replicasMax *int
}

func bindLimits(fs *flag.FlagSet) limitFlags {
	return limitFlags{
		cpuMin:      fs.Float64("cpu-min", 0, "Minimum CPU cores"),
		cpuMax:      fs.Float64("cpu-max", 0, "Maximum CPU cores"),
		memMin:      fs.Int("mem-min", 0, "Minimum memory in MB"),
		memMax:      fs.Int("mem-max", 0, "Maximum memory in MB"),
		replicasMin: fs.Int("replicas-min", 0, "Minimum replicas"),
		replicasMax: fs.Int("replicas-max", 0, "Maximum replicas"),
	}
}

func (l limitFlags) limits() (domain.ResourceLimits, error) {
	limits := domain.ResourceLimits{
		CPUMin:      *l.cpuMin,
		CPUMax:      *l.cpuMax,
		MemoryMinMB: *l.memMin,
		MemoryMaxMB: *l.memMax,
		ReplicasMin: *l.replicasMin,
		ReplicasMax: *l.replicasMax,
	}
	switch {
	case limits.CPUMin < 0 || limits.CPUMax < 0 || limits.MemoryMinMB < 0 || limits.MemoryMaxMB < 0:
		return limits, errors.New("resource bounds must not be negative")
	case limits.CPUMax > 0 && limits.CPUMin > limits.CPUMax:
		return limits, errors.New("--cpu-min exceeds --cpu-max")
	case limits.MemoryMaxMB > 0 && limits.MemoryMinMB > limits.MemoryMaxMB:
		return limits, errors.New("--mem-min exceeds --mem-max")
	case limits.ReplicasMax > 0 && limits.ReplicasMin > limits.ReplicasMax:
		return limits, errors.New("--replicas-min exceeds --replicas-max")
	}
	return limits, nil
}

func requireID(fs *flag.FlagSet, args []string) (string, error) {
	id := fs.String("id", "", "Resource identifier")
	fs.Parse(args)
	if strings.TrimSpace(*id) == "" {
		return "", errors.New("--id is required")
	}
	return strings.TrimSpace(*id), nil
}

func deploymentCreate(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	name := fs.String("name", "", "Deployment name")
	description := fs.String("description", "", "Deployment description")
	targetID := fs.String("target-id", "", "Identifier of the graph or assistant to deploy")
	targetType := fs.String("target-type", "graph", "Target type")
	attachment := fs.String("attachment", "", "Optional file shipped with the deployment")
	limits := bindLimits(fs)
	owner := bindOwner(fs)
	fs.Parse(args)

	if strings.TrimSpace(*name) == "" {
		return errors.New("--name is required")
	}
	if strings.TrimSpace(*targetID) == "" {
		return errors.New("--target-id is required")
	}
	bounds, err := limits.limits()
	if err != nil {
		return err
	}
	req := domain.DeploymentRequest{
		Name:        *name,
		Description: *description,
		Target:      domain.Target{ID: strings.TrimSpace(*targetID), Type: strings.TrimSpace(*targetType)},
		Limits:      bounds,
		Owner:       owner.context(),
	}
	if path := strings.TrimSpace(*attachment); path != "" {
		att, err := readAttachment(path)
		if err != nil {
			return err
		}
		req.Attachment = &att
	}

	result, err := a.orch.CreateDeployment(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("deployment created: %s", result.ResourceID)
	if result.ServingID != "" {
		fmt.Printf(" serving=%s", result.ServingID)
	}
	if result.DeploymentID != "" {
		fmt.Printf(" deployment=%s", result.DeploymentID)
	}
	fmt.Printf(" status=%s\n", result.Status)
	return nil
}

func readAttachment(path string) (domain.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("read attachment: %w", err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return domain.Attachment{Name: filepath.Base(path), ContentType: contentType, Data: data}, nil
}

func deploymentDelete(ctx context.Context, a *app, args []string) error {
	id, err := requireID(flag.NewFlagSet("delete", flag.ExitOnError), args)
	if err != nil {
		return err
	}
	result, err := a.orch.DeleteDeployment(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("deployment deleted: %s\n", result.ResourceID)
	return nil
}

func deploymentUpdate(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	id := fs.String("id", "", "Resource identifier")
	description := fs.String("description", "", "New description")
	limits := bindLimits(fs)
	fs.Parse(args)

	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}
	patch, err := buildPatch(fs, *description, limits)
	if err != nil {
		return err
	}
	result, err := a.orch.UpdateDeployment(ctx, strings.TrimSpace(*id), patch)
	if err != nil {
		return err
	}
	fmt.Printf("deployment updated: %s\n", result.ResourceID)
	return nil
}

// buildPatch includes only the fields whose flags were set explicitly.
func buildPatch(fs *flag.FlagSet, description string, limits limitFlags) (domain.DeploymentPatch, error) {
	var patch domain.DeploymentPatch
	var limitsSet bool
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "description":
			patch.Description = &description
		case "cpu-min", "cpu-max", "mem-min", "mem-max", "replicas-min", "replicas-max":
			limitsSet = true
		}
	})
	if limitsSet {
		bounds, err := limits.limits()
		if err != nil {
			return patch, err
		}
		patch.Limits = &bounds
	}
	return patch, nil
}

func provisioningStatus(ctx context.Context, a *app, args []string) error {
	id, err := requireID(flag.NewFlagSet("status", flag.ExitOnError), args)
	if err != nil {
		return err
	}
	status, err := a.orch.CheckStatus(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\ttask=%s", status.ResourceID, status.Status, status.ExternalTaskID)
	switch {
	case status.Reconciled:
		fmt.Print("\t(route found)")
	case status.Ambiguous:
		fmt.Print("\t(status unknown)")
	}
	fmt.Println()
	return nil
}

func provisioningRetry(ctx context.Context, a *app, args []string) error {
	id, err := requireID(flag.NewFlagSet("retry", flag.ExitOnError), args)
	if err != nil {
		return err
	}
	task, err := a.orch.RetryProvisioning(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("provisioning resubmitted: %s task=%s\n", task.ResourceID, task.ExternalTaskID)
	return nil
}

func policyGrant(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("grant", flag.ExitOnError)
	id := fs.String("id", "", "Resource identifier")
	owner := bindOwner(fs)
	fs.Parse(args)
	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}

	grantee, err := a.orch.SetPolicy(ctx, strings.TrimSpace(*id), owner.context())
	if err != nil {
		return err
	}
	fmt.Printf("granted %s to %s\n", a.orch.ResourceURL(strings.TrimSpace(*id)), describeGrantee(grantee))
	return nil
}

func policyList(ctx context.Context, a *app, args []string) error {
	id, err := requireID(flag.NewFlagSet("grants", flag.ExitOnError), args)
	if err != nil {
		return err
	}
	grants, err := a.orch.ListGrants(ctx, id)
	if err != nil {
		return err
	}
	for _, g := range grants {
		fmt.Printf("%s\t%s\t%s\n", g.ResourceURL, g.Kind, describeGrantee(g.Grantee))
	}
	return nil
}

func describeGrantee(g domain.Grantee) string {
	switch {
	case g.Public:
		return "public"
	case g.MemberID != "":
		return fmt.Sprintf("member %s in project %s", g.MemberID, g.ProjectID)
	default:
		return "project " + g.ProjectID
	}
}

// memberFlag collects repeated --member key=value pairs.
type memberFlag []domain.GroupMember

func (m *memberFlag) String() string {
	parts := make([]string, 0, len(*m))
	for _, member := range *m {
		parts = append(parts, member.Name+"="+member.Value)
	}
	return strings.Join(parts, ",")
}

func (m *memberFlag) Set(v string) error {
	name, value, ok := strings.Cut(v, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("member %q must be key=value", v)
	}
	*m = append(*m, domain.GroupMember{Name: name, Value: value})
	return nil
}

func groupCreate(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("group create", flag.ExitOnError)
	name := fs.String("name", "", "Group name")
	description := fs.String("description", "", "Group description")
	project := fs.String("project", "", "Owning project identifier")
	var members memberFlag
	fs.Var(&members, "member", "Group member as key=value (repeatable)")
	fs.Parse(args)

	if strings.TrimSpace(*name) == "" {
		return errors.New("--name is required")
	}
	if len(members) == 0 {
		return errors.New("at least one --member is required")
	}
	group, err := a.orch.CreateGroup(ctx,
		domain.GroupSpec{Name: *name, Description: *description, ProjectID: strings.TrimSpace(*project)},
		domain.MemberSpec{Members: members},
	)
	if err != nil {
		return err
	}
	fmt.Printf("group created: %s (%d members)\n", group.ParentID, len(group.Members))
	return nil
}

func groupDelete(ctx context.Context, a *app, args []string) error {
	id, err := requireID(flag.NewFlagSet("group delete", flag.ExitOnError), args)
	if err != nil {
		return err
	}
	if err := a.orch.DeleteGroup(ctx, id); err != nil {
		return err
	}
	fmt.Println("group deleted")
	return nil
}

func groupDeleteMany(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("group delete-many", flag.ExitOnError)
	fs.Parse(args)
	ids := fs.Args()
	if len(ids) == 0 {
		return errors.New("at least one group id is required")
	}
	out, err := a.orch.DeleteGroups(ctx, ids)
	fmt.Printf("attempted=%d succeeded=%d failed=%d\n", out.Attempted, out.Succeeded, out.Failed)
	return err
}
