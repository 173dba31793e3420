package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int { return &i }

func TestResourceClone(t *testing.T) {
	res := &Resource{
		ID:             uuid.New(),
		Name:           "vm1",
		Kind:           ResourceKindVM,
		ConnectionName: "system",
		State:          StateRunning,
		Config: Configuration{
			Devices: Devices{
				{Type: DeviceTypeDisk, Disk: &Disk{Target: "vda", Readonly: true}, BootOrder: intPtr(1)},
			},
		},
		InactiveConfig: Configuration{
			Devices: Devices{
				{Type: DeviceTypeDisk, Disk: &Disk{Target: "vda"}, BootOrder: intPtr(1)},
			},
			IPs: []IPConfig{{Family: IPFamilyV4, Address: "10.0.0.1"}},
		},
	}

	got, err := res.Clone()
	require.Nil(t, err)
	assert.Equal(t, res.ID, got.ID)
	assert.Equal(t, res.Name, got.Name)
	assert.Equal(t, res.State, got.State)
	require.Len(t, got.Config.Devices, 1)
	assert.Equal(t, "vda", got.Config.Devices[0].Disk.Target)
	assert.Equal(t, 1, *got.InactiveConfig.Devices[0].BootOrder)

	// mutating the clone must not reach the original
	got.Config.Devices[0].Disk.Readonly = false
	*got.InactiveConfig.Devices[0].BootOrder = 5
	got.InactiveConfig.IPs[0].Address = "10.0.0.2"

	assert.True(t, res.Config.Devices[0].Disk.Readonly)
	assert.Equal(t, 1, *res.InactiveConfig.Devices[0].BootOrder)
	assert.Equal(t, "10.0.0.1", res.InactiveConfig.IPs[0].Address)
}

func TestResourceRunning(t *testing.T) {
	tests := []struct {
		state LifecycleState
		want  bool
	}{
		{StateRunning, true},
		{StatePaused, true},
		{StateActive, true},
		{StateShutOff, false},
		{StateInactive, false},
		{StateCrashed, false},
	}

	for _, tc := range tests {
		t.Run(string(tc.state), func(t *testing.T) {
			r := &Resource{State: tc.state}
			assert.Equal(t, tc.want, r.Running())
		})
	}
}

func TestConfigurationFirstIP(t *testing.T) {
	c := &Configuration{
		IPs: []IPConfig{
			{Family: IPFamilyV6, Address: "fd00::1", Prefix: "64"},
			{Family: IPFamilyV4, Address: "192.168.122.1", Netmask: "255.255.255.0"},
			{Family: IPFamilyV4, Address: "192.168.123.1", Netmask: "255.255.255.0"},
		},
	}

	v4 := c.FirstIP(IPFamilyV4)
	require.NotNil(t, v4)
	assert.Equal(t, "192.168.122.1", v4.Address)

	v6 := c.FirstIP(IPFamilyV6)
	require.NotNil(t, v6)
	assert.Equal(t, "64", v6.Prefix)

	empty := &Configuration{}
	assert.Nil(t, empty.FirstIP(IPFamilyV4))
}

func TestDeviceRef(t *testing.T) {
	tests := []struct {
		name   string
		device Device
		want   DeviceRef
	}{
		{
			"disk",
			Device{Type: DeviceTypeDisk, Disk: &Disk{Target: "sda"}},
			DeviceRef{Type: DeviceTypeDisk, Key: "sda"},
		},
		{
			"interface mac is lower cased",
			Device{Type: DeviceTypeInterface, Interface: &Interface{MAC: "52:54:00:AB:CD:EF"}},
			DeviceRef{Type: DeviceTypeInterface, Key: "52:54:00:ab:cd:ef"},
		},
		{
			"redirdev",
			Device{Type: DeviceTypeRedirDev, RedirDev: &RedirDev{Bus: "usb", Port: "1"}},
			DeviceRef{Type: DeviceTypeRedirDev, Key: "usb:1"},
		},
		{
			"usb hostdev",
			Device{Type: DeviceTypeHostDev, HostDev: &HostDev{Type: "usb", Vendor: "0x1234", Product: "0xbeef"}},
			DeviceRef{Type: DeviceTypeHostDev, Key: "usb:0x1234:0xbeef"},
		},
		{
			"pci hostdev",
			Device{Type: DeviceTypeHostDev, HostDev: &HostDev{Type: "pci", Address: "0000:00:1f.2"}},
			DeviceRef{Type: DeviceTypeHostDev, Key: "pci:0000:00:1f.2"},
		},
		{
			"descriptor missing",
			Device{Type: DeviceTypeDisk},
			DeviceRef{Type: DeviceTypeDisk},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.device.Ref()
			assert.Equal(t, tc.want, got)

			if got.Key == "" {
				return
			}

			parsed, ok := ParseDeviceRef(got.String())
			assert.True(t, ok)
			assert.Equal(t, got, parsed)
		})
	}
}

func TestParseDeviceRefInvalid(t *testing.T) {
	for _, s := range []string{"", "disk", "disk/", "/vda"} {
		_, ok := ParseDeviceRef(s)
		assert.False(t, ok, s)
	}
}

func TestDialogError(t *testing.T) {
	e := &DialogError{Summary: "Disk settings failed to be saved", Detail: "disk busy"}
	assert.Equal(t, "Disk settings failed to be saved: disk busy", e.Error())

	e.Detail = ""
	assert.Equal(t, "Disk settings failed to be saved", e.Error())
}
