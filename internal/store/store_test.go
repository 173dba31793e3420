package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/metal-toolbox/vmconsole/internal/fixtures"
	"github.com/metal-toolbox/vmconsole/internal/model"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore(t *testing.T) {
	ctx := context.Background()

	s, err := NewMemStore(fixtures.Resources()...)
	require.Nil(t, err)

	vms, err := s.Resources(ctx, model.ResourceKindVM)
	require.Nil(t, err)
	require.Len(t, vms, 2)
	// sorted by name
	assert.Equal(t, "db", vms[0].Name)
	assert.Equal(t, "fedora-web", vms[1].Name)

	all, err := s.Resources(ctx, "")
	require.Nil(t, err)
	assert.Len(t, all, 4)

	// returned resources are copies
	vm, err := s.ResourceByID(ctx, fixtures.VM1ID)
	require.Nil(t, err)
	vm.Name = "changed"
	vm.InactiveConfig.Devices[0].Disk.Readonly = false

	got, err := s.ResourceByID(ctx, fixtures.VM1ID)
	require.Nil(t, err)
	assert.Equal(t, "fedora-web", got.Name)
	assert.True(t, got.InactiveConfig.Devices[0].Disk.Readonly)

	// put replaces
	require.Nil(t, s.Put(ctx, vm))
	got, err = s.ResourceByID(ctx, fixtures.VM1ID)
	require.Nil(t, err)
	assert.Equal(t, "changed", got.Name)

	require.Nil(t, s.Remove(ctx, fixtures.VM1ID))
	_, err = s.ResourceByID(ctx, fixtures.VM1ID)
	assert.True(t, errors.Is(err, model.ErrResourceNotFound))

	// removing an absent resource is not an error
	assert.Nil(t, s.Remove(ctx, fixtures.VM1ID))
}

func TestMemStorePutRequiresID(t *testing.T) {
	s, err := NewMemStore()
	require.Nil(t, err)

	err = s.Put(context.Background(), &model.Resource{Name: "noid"})
	assert.True(t, errors.Is(err, ErrResourcePut))
}

func TestLookup(t *testing.T) {
	ctx := context.Background()

	dup := fixtures.ActiveNetwork()
	dup.ID = uuid.New()
	dup.ConnectionName = "session"

	s, err := NewMemStore(append(fixtures.Resources(), dup)...)
	require.Nil(t, err)

	tests := []struct {
		name     string
		kind     model.ResourceKind
		idOrName string
		wantID   uuid.UUID
		wantErr  error
	}{
		{"by name", model.ResourceKindVM, "db", fixtures.VM2ID, nil},
		{"by id", model.ResourceKindVM, fixtures.VM1ID.String(), fixtures.VM1ID, nil},
		{"id of another kind", model.ResourceKindNetwork, fixtures.VM1ID.String(), uuid.Nil, model.ErrResourceNotFound},
		{"unknown name", model.ResourceKindVM, "nope", uuid.Nil, model.ErrResourceNotFound},
		{"ambiguous name", model.ResourceKindNetwork, "default", uuid.Nil, ErrResourceLookup},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Lookup(ctx, s, tc.kind, tc.idOrName)
			if tc.wantErr != nil {
				assert.True(t, errors.Is(err, tc.wantErr), err)
				return
			}

			require.Nil(t, err)
			assert.Equal(t, tc.wantID, got.ID)
		})
	}
}

func TestLoadYAML(t *testing.T) {
	resources, err := LoadYAML("testdata/inventory.yaml")
	require.Nil(t, err)
	require.Len(t, resources, 2)

	vm := resources[0]
	assert.Equal(t, fixtures.VM1ID, vm.ID)
	assert.Equal(t, model.ResourceKindVM, vm.Kind)
	assert.True(t, vm.Running())
	require.Len(t, vm.InactiveConfig.Devices, 2)
	assert.True(t, vm.InactiveConfig.Devices[0].Disk.Readonly)
	assert.False(t, vm.Config.Devices[0].Disk.Readonly)
	assert.Equal(t, 1, *vm.InactiveConfig.Devices[0].BootOrder)
	assert.Nil(t, vm.InactiveConfig.Devices[1].BootOrder)
	assert.Equal(t, "interface/52:54:00:8c:4a:01", vm.InactiveConfig.Devices[1].Ref().String())

	network := resources[1]
	assert.Equal(t, "192.168.122.1", network.Config.FirstIP(model.IPFamilyV4).Address)

	s, err := NewYamlInventory("testdata/inventory.yaml")
	require.Nil(t, err)

	_, err = s.ResourceByID(context.Background(), fixtures.Network1ID)
	assert.Nil(t, err)
}

func TestParseYAMLInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed", "resources: [\n"},
		{"missing id", "resources:\n  - name: a\n    kind: vm\n    connection: system\n"},
		{"invalid kind", "resources:\n  - id: 8a1b5c0e-3a43-4d57-9f6b-6d7d0b3f2c11\n    kind: pool\n    connection: system\n"},
		{"missing connection", "resources:\n  - id: 8a1b5c0e-3a43-4d57-9f6b-6d7d0b3f2c11\n    kind: vm\n"},
		{
			"duplicate id",
			"resources:\n  - id: 8a1b5c0e-3a43-4d57-9f6b-6d7d0b3f2c11\n    kind: vm\n    connection: system\n" +
				"  - id: 8a1b5c0e-3a43-4d57-9f6b-6d7d0b3f2c11\n    kind: vm\n    connection: system\n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseYAML([]byte(tc.data))
			assert.True(t, errors.Is(err, ErrYamlSource), err)
		})
	}
}
