package repository

import (
	"fmt"

	"github.com/splax/agentdeploy/internal/domain"
)

// ErrNotFound indicates an entity was not located.
var ErrNotFound = fmt.Errorf("repository: %w", domain.ErrNotFound)
