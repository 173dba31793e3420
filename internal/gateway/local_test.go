package gateway

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/metal-toolbox/vmconsole/internal/fixtures"
	"github.com/metal-toolbox/vmconsole/internal/model"
	"github.com/metal-toolbox/vmconsole/internal/store"
	"github.com/metal-toolbox/vmconsole/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func newTestLocal(t *testing.T) (*Local, *store.MemStore) {
	t.Helper()

	repo, err := store.NewMemStore(fixtures.Resources()...)
	require.Nil(t, err)

	return NewLocal(repo, logrus.New()), repo
}

func TestLocalMutateDisk(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name         string
		resource     *model.Resource
		payload      *types.DiskPayload
		wantErr      string
		wantInactive bool
		wantLive     bool
	}{
		{
			"running VM, inactive config only",
			fixtures.RunningVM(),
			&types.DiskPayload{Target: "sda", Readonly: boolPtr(false)},
			"",
			false,
			false,
		},
		{
			"shut off VM, both configs",
			fixtures.ShutOffVM(),
			&types.DiskPayload{Target: "vda", Readonly: boolPtr(true)},
			"",
			true,
			true,
		},
		{
			"unknown disk",
			fixtures.ShutOffVM(),
			&types.DiskPayload{Target: "vdz", Readonly: boolPtr(true)},
			"disk not found: vdz",
			false,
			false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l, repo := newTestLocal(t)

			err := l.Mutate(ctx, tc.resource.Ref(), tc.payload)
			if tc.wantErr != "" {
				var merr *MutationError
				require.True(t, errors.As(err, &merr))
				assert.Equal(t, tc.wantErr, merr.Message)
				assert.Equal(t, types.PayloadKindDisk, merr.Kind)

				return
			}

			require.Nil(t, err)

			got, err := repo.ResourceByID(ctx, tc.resource.ID)
			require.Nil(t, err)

			assert.Equal(t, tc.wantInactive, got.InactiveConfig.DiskByTarget(tc.payload.Target).Readonly)
			assert.Equal(t, tc.wantLive, got.Config.DiskByTarget(tc.payload.Target).Readonly)
		})
	}
}

func TestLocalMutateShareableOnly(t *testing.T) {
	ctx := context.Background()
	l, repo := newTestLocal(t)

	vm := fixtures.RunningVM()
	require.Nil(t, l.Mutate(ctx, vm.Ref(), &types.DiskPayload{Target: "sdb", Shareable: boolPtr(true)}))

	got, err := repo.ResourceByID(ctx, vm.ID)
	require.Nil(t, err)

	disk := got.InactiveConfig.DiskByTarget("sdb")
	assert.True(t, disk.Shareable)
	// readonly was not part of the payload
	assert.True(t, disk.Readonly)
}

func TestLocalMutateDelete(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		resource *model.Resource
		payload  *types.DeletePayload
		wantErr  string
	}{
		{
			"running VM without destroy",
			fixtures.RunningVM(),
			&types.DeletePayload{},
			"VM is running, it must be forced off before deletion",
		},
		{
			"running VM with destroy",
			fixtures.RunningVM(),
			&types.DeletePayload{Destroy: true, Storage: []string{"/var/lib/libvirt/images/fedora-web.qcow2"}},
			"",
		},
		{
			"unattached storage",
			fixtures.ShutOffVM(),
			&types.DeletePayload{Storage: []string{"/etc/passwd"}},
			"storage volume is not attached to the VM: /etc/passwd",
		},
		{
			"network",
			fixtures.ActiveNetwork(),
			&types.DeletePayload{},
			"resource is not a VM",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l, repo := newTestLocal(t)

			err := l.Mutate(ctx, tc.resource.Ref(), tc.payload)

			_, lookupErr := repo.ResourceByID(ctx, tc.resource.ID)

			if tc.wantErr != "" {
				assert.Equal(t, tc.wantErr, Message(err))
				assert.Nil(t, lookupErr)

				return
			}

			require.Nil(t, err)
			assert.True(t, errors.Is(lookupErr, model.ErrResourceNotFound))
		})
	}
}

func TestLocalMutateNetwork(t *testing.T) {
	ctx := context.Background()
	l, repo := newTestLocal(t)

	network := fixtures.ActiveNetwork()
	payload := &types.NetworkPayload{IPv4Address: "10.10.0.1", IPv4Netmask: "255.255.0.0"}

	require.Nil(t, l.Mutate(ctx, network.Ref(), payload))

	got, err := repo.ResourceByID(ctx, network.ID)
	require.Nil(t, err)

	v4 := got.InactiveConfig.FirstIP(model.IPFamilyV4)
	require.NotNil(t, v4)
	assert.Equal(t, "10.10.0.1", v4.Address)
	assert.Equal(t, "255.255.0.0", v4.Netmask)

	// an empty ipv6 address removes the entry
	assert.Nil(t, got.InactiveConfig.FirstIP(model.IPFamilyV6))

	// the network is active, the live config is untouched
	assert.Equal(t, "192.168.122.1", got.Config.FirstIP(model.IPFamilyV4).Address)

	err = l.Mutate(ctx, fixtures.RunningVM().Ref(), payload)
	assert.Equal(t, "resource is not a network", Message(err))
}

func TestLocalMutateBootOrder(t *testing.T) {
	ctx := context.Background()
	l, repo := newTestLocal(t)

	vm := fixtures.ShutOffVM()
	hostdev := model.DeviceRef{Type: model.DeviceTypeHostDev, Key: "usb:0x0951:0x1666"}
	vdb := model.DeviceRef{Type: model.DeviceTypeDisk, Key: "vdb"}

	payload := &types.BootOrderPayload{
		Devices: []types.BootOrderDevice{{Ref: hostdev, Order: 1}, {Ref: vdb, Order: 2}},
	}

	require.Nil(t, l.Mutate(ctx, vm.Ref(), payload))

	got, err := repo.ResourceByID(ctx, vm.ID)
	require.Nil(t, err)

	for _, cfg := range []model.Configuration{got.InactiveConfig, got.Config} {
		assert.Nil(t, cfg.Devices.ByRef(model.DeviceRef{Type: model.DeviceTypeDisk, Key: "vda"}).BootOrder)
		assert.Equal(t, 1, *cfg.Devices.ByRef(hostdev).BootOrder)
		assert.Equal(t, 2, *cfg.Devices.ByRef(vdb).BootOrder)
	}

	tests := []struct {
		name    string
		devices []types.BootOrderDevice
		wantErr string
	}{
		{
			"unknown device",
			[]types.BootOrderDevice{{Ref: model.DeviceRef{Type: model.DeviceTypeDisk, Key: "sdz"}, Order: 1}},
			"device not found: disk/sdz",
		},
		{
			"duplicate device",
			[]types.BootOrderDevice{{Ref: vdb, Order: 1}, {Ref: vdb, Order: 2}},
			"device listed twice: disk/vdb",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := l.Mutate(ctx, vm.Ref(), &types.BootOrderPayload{Devices: tc.devices})
			assert.Equal(t, tc.wantErr, Message(err))
		})
	}
}

func TestLocalResource(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLocal(t)

	vm := fixtures.RunningVM()

	got, err := l.Resource(ctx, vm.Ref())
	require.Nil(t, err)
	assert.Equal(t, vm.Name, got.Name)

	// wrong connection
	_, err = l.Resource(ctx, model.ResourceRef{ConnectionName: "session", ID: vm.ID})
	assert.True(t, errors.Is(err, model.ErrResourceNotFound))

	_, err = l.Resource(ctx, model.ResourceRef{ConnectionName: "system", ID: uuid.New()})
	assert.True(t, errors.Is(err, model.ErrResourceNotFound))

	err = l.Mutate(ctx, model.ResourceRef{ConnectionName: "system", ID: uuid.New()}, &types.DeletePayload{})
	var merr *MutationError
	assert.True(t, errors.As(err, &merr))
}
