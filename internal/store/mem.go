package store

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/metal-toolbox/vmconsole/internal/model"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

var (
	ErrResourcePut    = errors.New("error in resource put")
	ErrResourceLookup = errors.New("error in resource lookup")
)

type MemStore struct {
	mu *sync.RWMutex

	// resources is a map of resource IDs to resource snapshots
	resources map[uuid.UUID]*model.Resource
}

func NewMemStore(resources ...*model.Resource) (*MemStore, error) {
	s := &MemStore{resources: map[uuid.UUID]*model.Resource{}, mu: &sync.RWMutex{}}

	for _, res := range resources {
		if err := s.Put(context.Background(), res); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *MemStore) ResourceByID(_ context.Context, id uuid.UUID) (*model.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, exists := s.resources[id]
	if !exists {
		return nil, errors.Wrap(model.ErrResourceNotFound, id.String())
	}

	return res.Clone()
}

func (s *MemStore) Resources(_ context.Context, kind model.ResourceKind) ([]*model.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := []*model.Resource{}

	for _, res := range s.resources {
		if kind != "" && res.Kind != kind {
			continue
		}

		clone, err := res.Clone()
		if err != nil {
			return nil, err
		}

		found = append(found, clone)
	}

	slices.SortFunc(found, func(a, b *model.Resource) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}

		return strings.Compare(a.ID.String(), b.ID.String())
	})

	return found, nil
}

func (s *MemStore) Put(_ context.Context, res *model.Resource) error {
	if res == nil || res.ID == uuid.Nil {
		return errors.Wrap(ErrResourcePut, "resource ID required")
	}

	clone, err := res.Clone()
	if err != nil {
		return errors.Wrap(ErrResourcePut, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.resources[res.ID] = clone

	return nil
}

func (s *MemStore) Remove(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.resources, id)

	return nil
}

// Lookup returns the resource of the given kind identified by an ID or a name.
func Lookup(ctx context.Context, repo Repository, kind model.ResourceKind, idOrName string) (*model.Resource, error) {
	if id, err := uuid.Parse(idOrName); err == nil {
		res, err := repo.ResourceByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if kind != "" && res.Kind != kind {
			return nil, errors.Wrap(model.ErrResourceNotFound, string(kind)+" "+idOrName)
		}

		return res, nil
	}

	resources, err := repo.Resources(ctx, kind)
	if err != nil {
		return nil, errors.Wrap(ErrResourceLookup, err.Error())
	}

	var found *model.Resource

	for _, res := range resources {
		if res.Name != idOrName {
			continue
		}

		if found != nil {
			return nil, errors.Wrap(ErrResourceLookup, "multiple resources named "+idOrName+", use the resource ID")
		}

		found = res
	}

	if found == nil {
		return nil, errors.Wrap(model.ErrResourceNotFound, string(kind)+" "+idOrName)
	}

	return found, nil
}
