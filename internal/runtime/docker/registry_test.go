package docker

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/splax/agentdeploy/internal/domain"
)

func TestResourcesFor(t *testing.T) {
	res := resourcesFor(domain.ResourceLimits{CPUMin: 0.5, CPUMax: 2, MemoryMinMB: 128, MemoryMaxMB: 512})
	if res.NanoCPUs != 2_000_000_000 {
		t.Fatalf("NanoCPUs = %d", res.NanoCPUs)
	}
	if res.CPUShares != 512 {
		t.Fatalf("CPUShares = %d", res.CPUShares)
	}
	if res.Memory != 512*mb || res.MemoryReservation != 128*mb {
		t.Fatalf("memory = %d / %d", res.Memory, res.MemoryReservation)
	}

	empty := resourcesFor(domain.ResourceLimits{})
	if empty.NanoCPUs != 0 || empty.Memory != 0 {
		t.Fatalf("expected unbounded resources, got %+v", empty)
	}
}

func TestLabelsFor(t *testing.T) {
	req := domain.DeploymentRequest{
		Name:        "demo",
		Description: "agent",
		Target:      domain.Target{ID: "g1", Type: "graph"},
		Limits:      domain.ResourceLimits{ReplicasMin: 1, ReplicasMax: 3},
	}
	labels := labelsFor(req, "dep-1")
	want := map[string]string{
		labelManaged:     "true",
		labelName:        "demo",
		labelDescription: "agent",
		labelTargetID:    "g1",
		labelTargetType:  "graph",
		labelDeployment:  "dep-1",
		labelReplicasMin: "1",
		labelReplicasMax: "3",
	}
	for k, v := range want {
		if labels[k] != v {
			t.Fatalf("label %s = %q, want %q", k, labels[k], v)
		}
	}
}

func TestContainerName(t *testing.T) {
	id := "0123456789abcdef"
	tests := map[string]string{
		"Demo Agent": "agent-demo-agent-01234567",
		"  ":         "agent-agent-01234567",
		"a/b":        "agent-a-b-01234567",
	}
	for in, want := range tests {
		if got := containerName(in, id); got != want {
			t.Errorf("containerName(%q) = %q, want %q", in, got, want)
		}
	}
	long := containerName(strings.Repeat("x", 100), id)
	if len(long) != len("agent-")+40+len("-01234567") {
		t.Fatalf("long name not truncated: %q", long)
	}
}

func TestEnvForAttachment(t *testing.T) {
	req := domain.DeploymentRequest{
		Name:       "demo",
		Target:     domain.Target{ID: "g1", Type: "graph"},
		Attachment: &domain.Attachment{Name: "../etc/agent.yaml", ContentType: "text/yaml", Data: []byte("kind: agent")},
	}
	env, err := envFor(req)
	if err != nil {
		t.Fatalf("envFor: %v", err)
	}
	values := map[string]string{}
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		values[k] = v
	}
	if values["AGENT_ATTACHMENT_NAME"] != "agent.yaml" {
		t.Fatalf("attachment name = %q", values["AGENT_ATTACHMENT_NAME"])
	}
	data, err := base64.StdEncoding.DecodeString(values["AGENT_ATTACHMENT"])
	if err != nil || string(data) != "kind: agent" {
		t.Fatalf("attachment data = %q (%v)", data, err)
	}
	if values["AGENT_TARGET_ID"] != "g1" {
		t.Fatalf("target id = %q", values["AGENT_TARGET_ID"])
	}

	req.Attachment = &domain.Attachment{}
	if _, err := envFor(req); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestNewRegistryValidation(t *testing.T) {
	if _, err := NewRegistry(nil, "img"); err == nil {
		t.Fatal("expected error for nil client")
	}
	c, err := New("tcp://127.0.0.1:2375")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	if _, err := NewRegistry(c, " "); err == nil {
		t.Fatal("expected error for empty image")
	}
	if _, err := NewRegistry(c, "agent-runtime:latest"); err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
}

func TestMapError(t *testing.T) {
	err := mapError("container remove", errors.New("daemon unavailable"))
	if errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("generic error mapped to not found: %v", err)
	}
	if !strings.Contains(err.Error(), "container remove") {
		t.Fatalf("op missing: %v", err)
	}
}
