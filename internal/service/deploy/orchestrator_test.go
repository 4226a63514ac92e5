package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/splax/agentdeploy/internal/domain"
	"github.com/splax/agentdeploy/internal/metrics"
	"github.com/splax/agentdeploy/internal/repository/sqlite"
	"github.com/splax/agentdeploy/internal/service/bulk"
	"github.com/splax/agentdeploy/internal/service/gateway"
	"github.com/splax/agentdeploy/internal/service/group"
	"github.com/splax/agentdeploy/internal/service/policy"
)

// calls records collaborator invocations from concurrent advisory steps.
type calls struct {
	mu  sync.Mutex
	log []string
}

func (c *calls) add(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, name)
}

func (c *calls) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, entry := range c.log {
		if entry == name {
			n++
		}
	}
	return n
}

type fakeRegistry struct {
	calls     *calls
	result    domain.RegistryResult
	createErr error
	deleteErr error
	updateErr error
}

func (f *fakeRegistry) Create(context.Context, domain.DeploymentRequest) (domain.RegistryResult, error) {
	f.calls.add("registry.create")
	return f.result, f.createErr
}

func (f *fakeRegistry) Update(context.Context, string, domain.DeploymentPatch) error {
	f.calls.add("registry.update")
	return f.updateErr
}

func (f *fakeRegistry) Delete(context.Context, string) error {
	f.calls.add("registry.delete")
	return f.deleteErr
}

type fakeLineage struct {
	calls *calls
	err   error

	mu    sync.Mutex
	edges []domain.LineageEdge
}

func (f *fakeLineage) Record(_ context.Context, edge domain.LineageEdge) error {
	f.calls.add("lineage.record")
	f.mu.Lock()
	f.edges = append(f.edges, edge)
	f.mu.Unlock()
	return f.err
}

func (f *fakeLineage) Delete(context.Context, string) error {
	f.calls.add("lineage.delete")
	return f.err
}

type fakeGateway struct {
	calls       *calls
	handle      string
	registerErr error

	mu   sync.Mutex
	regs []domain.RouteRegistration
}

func (f *fakeGateway) Register(_ context.Context, reg domain.RouteRegistration) (domain.GatewayJob, error) {
	f.calls.add("gateway.register")
	f.mu.Lock()
	f.regs = append(f.regs, reg)
	f.mu.Unlock()
	if f.registerErr != nil {
		return domain.GatewayJob{}, f.registerErr
	}
	return domain.GatewayJob{JobHandle: f.handle}, nil
}

func (f *fakeGateway) GetTaskStatus(context.Context, string) (int, error) {
	f.calls.add("gateway.status")
	return gateway.CodeProcessing, nil
}

func (f *fakeGateway) FindRoute(context.Context, string) (domain.Route, bool, error) {
	f.calls.add("gateway.find")
	return domain.Route{}, false, nil
}

func (f *fakeGateway) Retry(context.Context, string) (string, error) {
	f.calls.add("gateway.retry")
	return f.handle + "-retry", nil
}

func (f *fakeGateway) DeleteRoute(context.Context, string) error {
	f.calls.add("gateway.delete")
	return nil
}

type fakePolicy struct {
	calls *calls
	err   error

	mu       sync.Mutex
	grantees []domain.Grantee
	urls     []string
}

func (f *fakePolicy) Grant(_ context.Context, url string, grantee domain.Grantee) error {
	f.calls.add("policy.grant")
	f.mu.Lock()
	f.grantees = append(f.grantees, grantee)
	f.urls = append(f.urls, url)
	f.mu.Unlock()
	return f.err
}

func (f *fakePolicy) ListGrants(context.Context, string) ([]domain.PolicyGrant, error) {
	f.calls.add("policy.list")
	return []domain.PolicyGrant{
		{ResourceURL: "agents://a1", Kind: domain.GrantDirect},
		{ResourceURL: "agents://a1", Kind: domain.GrantRole},
	}, nil
}

type fakeGroups struct {
	calls *calls
}

func (f *fakeGroups) CreateGroup(_ context.Context, spec domain.GroupSpec) (string, error) {
	f.calls.add("group.create")
	return spec.Name, nil
}

func (f *fakeGroups) AddMembers(_ context.Context, _ string, spec domain.MemberSpec) ([]domain.GroupMember, error) {
	f.calls.add("group.members")
	return spec.Members, nil
}

func (f *fakeGroups) DeleteGroup(_ context.Context, id string) error {
	f.calls.add("group.delete")
	if id == "" || id == "missing" {
		return domain.ErrNotFound
	}
	return nil
}

type harness struct {
	calls    *calls
	registry *fakeRegistry
	lineage  *fakeLineage
	gateway  *fakeGateway
	policy   *fakePolicy
	tasks    *sqlite.TaskRepo
	reg      *prometheus.Registry
	orch     *Orchestrator
}

type harnessOption func(*harness)

func withLineageErr(err error) harnessOption {
	return func(h *harness) { h.lineage.err = err }
}

func withGatewayErr(err error) harnessOption {
	return func(h *harness) { h.gateway.registerErr = err }
}

func withPolicyErr(err error) harnessOption {
	return func(h *harness) { h.policy.err = err }
}

func withRegistryCreateErr(err error) harnessOption {
	return func(h *harness) { h.registry.createErr = err }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	c := &calls{}
	h := &harness{
		calls:    c,
		registry: &fakeRegistry{calls: c, result: domain.RegistryResult{ResourceID: "a1", ServingID: "s1"}},
		lineage:  &fakeLineage{calls: c},
		gateway:  &fakeGateway{calls: c, handle: "t1"},
		policy:   &fakePolicy{calls: c},
		tasks:    &sqlite.TaskRepo{DB: sqlite.OpenTestDB(t)},
		reg:      prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(h)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := metrics.New(h.reg)
	gw := gateway.New(h.gateway, h.tasks, logger, rec)
	pol := policy.New(h.policy, "public", logger)
	grp := group.New(&fakeGroups{calls: c}, bulk.New(2, logger, rec), logger, rec)
	h.orch = New(h.registry, h.lineage, gw, pol, grp,
		WithLogger(logger),
		WithMetrics(rec),
		WithResourceURLPrefix("agents://"),
	)
	return h
}

func demoRequest() domain.DeploymentRequest {
	return domain.DeploymentRequest{
		Name:   "demo",
		Target: domain.Target{ID: "g1", Type: "graph"},
	}
}

func TestCreateDeploymentExampleScenario(t *testing.T) {
	h := newHarness(t, withLineageErr(fmt.Errorf("lineage: %w", context.DeadlineExceeded)))
	ctx := domain.WithCall(context.Background(), domain.NewCall(nil))

	result, err := h.orch.CreateDeployment(ctx, demoRequest())
	if err != nil {
		t.Fatalf("CreateDeployment: %v", err)
	}
	if result.ResourceID != "a1" || result.Status != domain.DeploymentCreated {
		t.Fatalf("unexpected result: %+v", result)
	}
	task, err := h.tasks.GetTask(ctx, "a1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.ExternalTaskID != "t1" {
		t.Fatalf("stored handle = %q, want t1", task.ExternalTaskID)
	}
	if h.calls.count("policy.grant") != 1 {
		t.Fatal("policy grant not attempted")
	}
	if got := testutil.ToFloat64(advisoryCounter(t, h.reg, StepLineage)); got != 1 {
		t.Fatalf("lineage advisory failures = %v, want 1", got)
	}
}

func advisoryCounter(t *testing.T, reg *prometheus.Registry, step string) prometheus.Collector {
	t.Helper()
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentdeploy",
		Subsystem: "orchestrator",
		Name:      "advisory_failures_total",
		Help:      "Advisory steps that failed and were discarded",
	}, []string{"step"})
	if err := reg.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			t.Fatalf("lookup counter: %v", err)
		}
		vec = already.ExistingCollector.(*prometheus.CounterVec)
	}
	return vec.WithLabelValues(step)
}

func TestCreateDeploymentRegistryFailureShortCircuits(t *testing.T) {
	cause := errors.New("registry rejected spec")
	h := newHarness(t, withRegistryCreateErr(cause))

	_, err := h.orch.CreateDeployment(context.Background(), demoRequest())
	if !errors.Is(err, cause) {
		t.Fatalf("expected registry error, got %v", err)
	}
	var primary *domain.PrimaryError
	if !errors.As(err, &primary) {
		t.Fatalf("expected PrimaryError, got %T", err)
	}
	for _, name := range []string{"lineage.record", "gateway.register", "policy.grant"} {
		if n := h.calls.count(name); n != 0 {
			t.Fatalf("%s called %d times after registry failure", name, n)
		}
	}
}

func TestCreateDeploymentAdvisoryIsolation(t *testing.T) {
	boom := errors.New("boom")
	baseline := newHarness(t)
	want, err := baseline.orch.CreateDeployment(context.Background(), demoRequest())
	if err != nil {
		t.Fatalf("baseline CreateDeployment: %v", err)
	}

	for mask := 1; mask < 8; mask++ {
		var opts []harnessOption
		if mask&1 != 0 {
			opts = append(opts, withLineageErr(boom))
		}
		if mask&2 != 0 {
			opts = append(opts, withGatewayErr(boom))
		}
		if mask&4 != 0 {
			opts = append(opts, withPolicyErr(boom))
		}
		t.Run(fmt.Sprintf("mask=%03b", mask), func(t *testing.T) {
			h := newHarness(t, opts...)
			got, err := h.orch.CreateDeployment(context.Background(), demoRequest())
			if err != nil {
				t.Fatalf("CreateDeployment: %v", err)
			}
			if got != want {
				t.Fatalf("result = %+v, want %+v", got, want)
			}
			for _, name := range []string{"lineage.record", "gateway.register", "policy.grant"} {
				if h.calls.count(name) != 1 {
					t.Fatalf("%s not attempted exactly once", name)
				}
			}
		})
	}
}

func TestCreateDeploymentDuplicateGrantIsNotAFailure(t *testing.T) {
	h := newHarness(t, withPolicyErr(domain.ErrAlreadyExists))

	if _, err := h.orch.CreateDeployment(context.Background(), demoRequest()); err != nil {
		t.Fatalf("CreateDeployment: %v", err)
	}
	if got := testutil.ToFloat64(advisoryCounter(t, h.reg, StepPolicy)); got != 0 {
		t.Fatalf("duplicate grant counted as failure: %v", got)
	}
}

func TestCreateDeploymentUsesResolvedGrantee(t *testing.T) {
	h := newHarness(t)
	ctx := domain.WithCall(context.Background(), domain.NewCall(&domain.Session{UserID: "u1", ProjectID: "session-proj"}))
	req := demoRequest()
	req.Owner = domain.OwnerContext{MemberID: "m1", ProjectID: "p1", UseSession: true}

	if _, err := h.orch.CreateDeployment(ctx, req); err != nil {
		t.Fatalf("CreateDeployment: %v", err)
	}
	if len(h.policy.grantees) != 1 || h.policy.grantees[0].MemberID != "m1" || h.policy.grantees[0].ProjectID != "p1" {
		t.Fatalf("unexpected grantees: %+v", h.policy.grantees)
	}
	if h.policy.urls[0] != "agents://a1" {
		t.Fatalf("resource url = %q", h.policy.urls[0])
	}
	if len(h.gateway.regs) != 1 || h.gateway.regs[0].ProjectID != "p1" || h.gateway.regs[0].ResourceType != ResourceType {
		t.Fatalf("unexpected registration: %+v", h.gateway.regs)
	}
	if len(h.lineage.edges) != 1 || h.lineage.edges[0].SourceID != "g1" || h.lineage.edges[0].TargetID != "a1" {
		t.Fatalf("unexpected lineage: %+v", h.lineage.edges)
	}
}

func TestCreateDeploymentValidation(t *testing.T) {
	tests := map[string]domain.DeploymentRequest{
		"missing name":   {Target: domain.Target{ID: "g1"}},
		"blank name":     {Name: "  ", Target: domain.Target{ID: "g1"}},
		"missing target": {Name: "demo"},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			if _, err := h.orch.CreateDeployment(context.Background(), req); !errors.Is(err, domain.ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
			if n := len(h.calls.log); n != 0 {
				t.Fatalf("remote calls made before validation: %v", h.calls.log)
			}
		})
	}
}

func TestCreateDeploymentRegistryWithoutID(t *testing.T) {
	h := newHarness(t)
	h.registry.result = domain.RegistryResult{}

	_, err := h.orch.CreateDeployment(context.Background(), demoRequest())
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected missing id error, got %v", err)
	}
	if h.calls.count("gateway.register") != 0 {
		t.Fatal("advisory steps ran without a resource id")
	}
}

func TestDeleteDeployment(t *testing.T) {
	h := newHarness(t, withLineageErr(errors.New("lineage down")))
	ctx := context.Background()
	if _, err := h.orch.CreateDeployment(ctx, demoRequest()); err != nil {
		t.Fatalf("CreateDeployment: %v", err)
	}

	result, err := h.orch.DeleteDeployment(ctx, "a1")
	if err != nil {
		t.Fatalf("DeleteDeployment: %v", err)
	}
	if result.Status != domain.DeploymentDeleted {
		t.Fatalf("status = %s", result.Status)
	}
	if h.calls.count("gateway.delete") != 1 || h.calls.count("lineage.delete") != 1 {
		t.Fatalf("cleanup steps not attempted: %v", h.calls.log)
	}
	if _, err := h.tasks.GetTask(ctx, "a1"); err == nil {
		t.Fatal("provisioning task survived delete")
	}
}

func TestDeleteDeploymentRegistryFailure(t *testing.T) {
	h := newHarness(t)
	h.registry.deleteErr = domain.ErrNotFound

	_, err := h.orch.DeleteDeployment(context.Background(), "a1")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if h.calls.count("lineage.delete") != 0 || h.calls.count("gateway.delete") != 0 {
		t.Fatalf("cleanup ran after registry failure: %v", h.calls.log)
	}
}

func TestUpdateDeployment(t *testing.T) {
	h := newHarness(t)
	desc := "new"

	if _, err := h.orch.UpdateDeployment(context.Background(), "a1", domain.DeploymentPatch{}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected empty patch rejection, got %v", err)
	}
	result, err := h.orch.UpdateDeployment(context.Background(), "a1", domain.DeploymentPatch{Description: &desc})
	if err != nil {
		t.Fatalf("UpdateDeployment: %v", err)
	}
	if result.Status != domain.DeploymentUpdated {
		t.Fatalf("status = %s", result.Status)
	}

	h.registry.updateErr = errors.New("conflict")
	var primary *domain.PrimaryError
	if _, err := h.orch.UpdateDeployment(context.Background(), "a1", domain.DeploymentPatch{Description: &desc}); !errors.As(err, &primary) {
		t.Fatalf("expected PrimaryError, got %v", err)
	}
}

func TestSetPolicy(t *testing.T) {
	h := newHarness(t, withPolicyErr(domain.ErrAlreadyExists))
	if _, err := h.orch.SetPolicy(context.Background(), "a1", domain.OwnerContext{ProjectID: "p1"}); err != nil {
		t.Fatalf("duplicate grant should succeed, got %v", err)
	}

	cause := errors.New("policy service down")
	h.policy.err = cause
	if _, err := h.orch.SetPolicy(context.Background(), "a1", domain.OwnerContext{ProjectID: "p1"}); !errors.Is(err, cause) {
		t.Fatalf("expected policy error, got %v", err)
	}
}

func TestListGrantsFiltersRoles(t *testing.T) {
	h := newHarness(t)
	grants, err := h.orch.ListGrants(context.Background(), "a1")
	if err != nil {
		t.Fatalf("ListGrants: %v", err)
	}
	if len(grants) != 1 || grants[0].Kind != domain.GrantDirect {
		t.Fatalf("unexpected grants: %+v", grants)
	}
}

func TestCheckStatusAndRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.orch.CreateDeployment(ctx, demoRequest()); err != nil {
		t.Fatalf("CreateDeployment: %v", err)
	}

	status, err := h.orch.CheckStatus(ctx, "a1")
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if status.Status != domain.TaskProcessing || h.calls.count("gateway.find") != 0 {
		t.Fatalf("unexpected status %+v", status)
	}

	task, err := h.orch.RetryProvisioning(ctx, "a1")
	if err != nil {
		t.Fatalf("RetryProvisioning: %v", err)
	}
	if task.ExternalTaskID != "t1-retry" {
		t.Fatalf("handle = %q", task.ExternalTaskID)
	}
}

func TestGroupDelegation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	g, err := h.orch.CreateGroup(ctx, domain.GroupSpec{Name: "g1"}, domain.MemberSpec{Members: []domain.GroupMember{{Name: "k"}}})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if g.ParentID != "g1" || len(g.Members) != 1 {
		t.Fatalf("unexpected group: %+v", g)
	}
	if err := h.orch.DeleteGroup(ctx, "g1"); err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}
	out, err := h.orch.DeleteGroups(ctx, []string{"g1", "missing"})
	if err != nil {
		t.Fatalf("DeleteGroups: %v", err)
	}
	if out.Succeeded != 1 || out.Failed != 1 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}
