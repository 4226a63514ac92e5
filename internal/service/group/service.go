package group

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/splax/agentdeploy/internal/domain"
	"github.com/splax/agentdeploy/internal/metrics"
	"github.com/splax/agentdeploy/internal/service/bulk"
)

// Backend owns parent entities and their member collections.
type Backend interface {
	CreateGroup(ctx context.Context, spec domain.GroupSpec) (string, error)
	AddMembers(ctx context.Context, parentID string, spec domain.MemberSpec) ([]domain.GroupMember, error)
	DeleteGroup(ctx context.Context, parentID string) error
}

// ErrMemberConflict is returned by CreateGroup when a member name collides
// with an existing one. It wraps domain.ErrAlreadyExists.
var ErrMemberConflict = errors.New("group member conflict")

// Service creates grouped resources as a unit and deletes them.
type Service struct {
	backend Backend
	bulk    bulk.Runner
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// New constructs a group Service.
func New(backend Backend, runner bulk.Runner, logger *slog.Logger, rec *metrics.Recorder) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{backend: backend, bulk: runner, logger: logger.With("component", "group"), metrics: rec}
}

// CreateGroup creates the parent and then its members. If the members cannot
// be added the parent is deleted again and the member error is returned.
func (s Service) CreateGroup(ctx context.Context, parent domain.GroupSpec, members domain.MemberSpec) (domain.GroupedResource, error) {
	if strings.TrimSpace(parent.Name) == "" {
		return domain.GroupedResource{}, domain.Invalid("group name is required")
	}

	parentID, err := s.backend.CreateGroup(ctx, parent)
	if err != nil {
		return domain.GroupedResource{}, &domain.PrimaryError{Op: "create group", Err: err}
	}
	group := domain.GroupedResource{ParentID: parentID}
	if _, err := domain.IdentifierOf(group); err != nil {
		return domain.GroupedResource{}, &domain.PrimaryError{Op: "create group", Err: err}
	}

	created, err := s.backend.AddMembers(ctx, parentID, members)
	if err != nil {
		s.compensate(ctx, parentID, err)
		return domain.GroupedResource{}, translate(err)
	}
	group.Members = created
	s.logger.Info("group created", "parent_id", parentID, "members", len(created))
	return group, nil
}

// compensate removes a parent whose members could not be created. It runs
// even when ctx is already cancelled.
func (s Service) compensate(ctx context.Context, parentID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := s.backend.DeleteGroup(ctx, parentID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.metrics.Compensation("failed")
		s.logger.Error("group compensation failed",
			"parent_id", parentID,
			"manual_cleanup", true,
			"cause", cause,
			"error", &domain.CompensationError{ParentID: parentID, Err: err},
		)
		return
	}
	s.metrics.Compensation("ok")
	s.logger.Warn("group parent removed after member failure", "parent_id", parentID, "cause", cause)
}

// translate reports a member naming collision as ErrMemberConflict. Backends
// signal collisions with domain.ErrAlreadyExists.
func translate(err error) error {
	if errors.Is(err, domain.ErrAlreadyExists) {
		return fmt.Errorf("%w: %w", ErrMemberConflict, err)
	}
	return err
}

// DeleteGroup deletes the parent. Members are removed by the owning service.
func (s Service) DeleteGroup(ctx context.Context, parentID string) error {
	if strings.TrimSpace(parentID) == "" {
		return domain.Invalid("group id is required")
	}
	if err := s.backend.DeleteGroup(ctx, parentID); err != nil {
		return &domain.PrimaryError{Op: "delete group", Err: err}
	}
	return nil
}

// DeleteGroups deletes every group in ids, continuing past failures.
func (s Service) DeleteGroups(ctx context.Context, ids []string) (bulk.Outcome, error) {
	return bulk.Run(ctx, s.bulk, ids, s.DeleteGroup)
}
