package fixtures

import (
	"github.com/google/uuid"
	"github.com/metal-toolbox/vmconsole/internal/model"
)

var (
	VM1ID      = uuid.MustParse("8a1b5c0e-3a43-4d57-9f6b-6d7d0b3f2c11")
	VM2ID      = uuid.MustParse("1f0e8a4d-5b2c-4e61-8d3a-2c9b7e6f5a22")
	Network1ID = uuid.MustParse("c3d2e1f0-7a6b-4c5d-9e8f-0a1b2c3d4e33")
	Network2ID = uuid.MustParse("0d9c8b7a-6f5e-4d3c-8b2a-1f0e9d8c7b44")

	MAC1 = "52:54:00:8c:4a:01"
)

func intPtr(i int) *int { return &i }

// RunningVM is a running VM whose sda disk is read only in the inactive configuration
// but writable in the live configuration.
func RunningVM() *model.Resource {
	return &model.Resource{
		ID:             VM1ID,
		Name:           "fedora-web",
		Kind:           model.ResourceKindVM,
		ConnectionName: "system",
		State:          model.StateRunning,
		Config: model.Configuration{
			Devices: model.Devices{
				{
					Type:      model.DeviceTypeDisk,
					Disk:      &model.Disk{Target: "sda", Device: "disk", Type: "file", Bus: "sata", Source: model.DiskSource{File: "/var/lib/libvirt/images/fedora-web.qcow2"}, Capacity: 21474836480},
					BootOrder: intPtr(1),
				},
				{
					Type: model.DeviceTypeDisk,
					Disk: &model.Disk{Target: "sdb", Device: "cdrom", Type: "file", Bus: "sata", Source: model.DiskSource{File: "/var/lib/libvirt/images/Fedora-39.iso"}, Readonly: true, Capacity: 2147483648},
				},
				{
					Type:      model.DeviceTypeInterface,
					Interface: &model.Interface{MAC: MAC1, Type: "network", Source: "default", Model: "virtio"},
				},
				{Type: model.DeviceTypeGraphics},
			},
		},
		InactiveConfig: model.Configuration{
			Devices: model.Devices{
				{
					Type:      model.DeviceTypeDisk,
					Disk:      &model.Disk{Target: "sda", Device: "disk", Type: "file", Bus: "sata", Source: model.DiskSource{File: "/var/lib/libvirt/images/fedora-web.qcow2"}, Readonly: true, Capacity: 21474836480},
					BootOrder: intPtr(1),
				},
				{
					Type: model.DeviceTypeDisk,
					Disk: &model.Disk{Target: "sdb", Device: "cdrom", Type: "file", Bus: "sata", Source: model.DiskSource{File: "/var/lib/libvirt/images/Fedora-39.iso"}, Readonly: true, Capacity: 2147483648},
				},
				{
					Type:      model.DeviceTypeInterface,
					Interface: &model.Interface{MAC: MAC1, Type: "network", Source: "default", Model: "virtio"},
				},
				{Type: model.DeviceTypeGraphics},
			},
		},
	}
}

// ShutOffVM is a VM with matching live and inactive configuration.
func ShutOffVM() *model.Resource {
	cfg := model.Configuration{
		Devices: model.Devices{
			{
				Type:      model.DeviceTypeDisk,
				Disk:      &model.Disk{Target: "vda", Device: "disk", Type: "file", Bus: "virtio", Source: model.DiskSource{File: "/var/lib/libvirt/images/db.qcow2"}, Capacity: 10737418240},
				BootOrder: intPtr(1),
			},
			{
				Type: model.DeviceTypeDisk,
				Disk: &model.Disk{Target: "vdb", Device: "disk", Type: "network", Bus: "virtio", Source: model.DiskSource{Protocol: "rbd", Volume: "pool/db-data", Host: model.DiskHost{Name: "ceph-mon1", Port: "6789"}}},
			},
			{
				Type:    model.DeviceTypeHostDev,
				HostDev: &model.HostDev{Type: "usb", Vendor: "0x0951", Product: "0x1666"},
			},
		},
	}

	return &model.Resource{
		ID:             VM2ID,
		Name:           "db",
		Kind:           model.ResourceKindVM,
		ConnectionName: "session",
		State:          model.StateShutOff,
		Config:         cfg,
		InactiveConfig: *copyConfig(cfg),
	}
}

// ActiveNetwork is the default NAT network.
func ActiveNetwork() *model.Resource {
	cfg := model.Configuration{
		Forward:    "nat",
		Bridge:     "virbr0",
		Persistent: true,
		Autostart:  true,
		IPs: []model.IPConfig{
			{Family: model.IPFamilyV4, Address: "192.168.122.1", Netmask: "255.255.255.0"},
			{Family: model.IPFamilyV6, Address: "fd00:122::1", Prefix: "64"},
		},
	}

	return &model.Resource{
		ID:             Network1ID,
		Name:           "default",
		Kind:           model.ResourceKindNetwork,
		ConnectionName: "system",
		State:          model.StateActive,
		Config:         cfg,
		InactiveConfig: *copyConfig(cfg),
	}
}

// IsolatedNetwork is an inactive network without addresses.
func IsolatedNetwork() *model.Resource {
	return &model.Resource{
		ID:             Network2ID,
		Name:           "isolated",
		Kind:           model.ResourceKindNetwork,
		ConnectionName: "system",
		State:          model.StateInactive,
		Config:         model.Configuration{Bridge: "virbr1"},
		InactiveConfig: model.Configuration{Bridge: "virbr1"},
	}
}

// Resources returns fresh copies of all fixture resources.
func Resources() []*model.Resource {
	return []*model.Resource{RunningVM(), ShutOffVM(), ActiveNetwork(), IsolatedNetwork()}
}

func copyConfig(cfg model.Configuration) *model.Configuration {
	res := &model.Resource{Config: cfg}
	return &res.MustClone().Config
}
