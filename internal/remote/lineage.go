package remote

import (
	"context"
	"net/http"

	"github.com/splax/agentdeploy/internal/domain"
)

// LineageClient records relationships between resources.
type LineageClient struct {
	t *transport
}

// NewLineageClient constructs a LineageClient.
func NewLineageClient(baseURL string, opts ...Option) (*LineageClient, error) {
	t, err := newTransport("lineage", baseURL, opts...)
	if err != nil {
		return nil, err
	}
	return &LineageClient{t: t}, nil
}

type lineageEdge struct {
	SourceID   string `json:"source_id"`
	SourceType string `json:"source_type"`
	TargetID   string `json:"target_id"`
	TargetType string `json:"target_type"`
	Action     string `json:"action"`
}

// Record stores a directed edge.
func (c *LineageClient) Record(ctx context.Context, edge domain.LineageEdge) error {
	body := lineageEdge{
		SourceID:   edge.SourceID,
		SourceType: edge.SourceType,
		TargetID:   edge.TargetID,
		TargetType: edge.TargetType,
		Action:     edge.Action,
	}
	return c.t.do(ctx, http.MethodPost, "/v1/lineage/edges", body, nil)
}

// Delete removes every edge touching resourceID.
func (c *LineageClient) Delete(ctx context.Context, resourceID string) error {
	return c.t.do(ctx, http.MethodDelete, "/v1/lineage/resources/"+escape(resourceID), nil, nil)
}
