package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/metal-toolbox/vmconsole/internal/model"
)

// Repository holds snapshots of authoritative resources.
//
// Implementations return copies, a caller may modify a returned resource without
// affecting the stored snapshot.
type Repository interface {
	// ResourceByID returns the resource identified by id, model.ErrResourceNotFound is returned when absent.
	ResourceByID(ctx context.Context, id uuid.UUID) (*model.Resource, error)

	// Resources returns the resources of the given kind sorted by name, an empty kind returns all resources.
	Resources(ctx context.Context, kind model.ResourceKind) ([]*model.Resource, error)

	// Put adds or replaces a resource.
	Put(ctx context.Context, res *model.Resource) error

	// Remove deletes the resource, removing an absent resource is not an error.
	Remove(ctx context.Context, id uuid.UUID) error
}
