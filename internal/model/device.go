package model

import (
	"strings"
)

// DeviceType is the type tag of a device declared in a resource configuration.
type DeviceType string

const (
	DeviceTypeDisk       DeviceType = "disk"
	DeviceTypeInterface  DeviceType = "interface"
	DeviceTypeRedirDev   DeviceType = "redirdev"
	DeviceTypeHostDev    DeviceType = "hostdev"
	DeviceTypeGraphics   DeviceType = "graphics"
	DeviceTypeController DeviceType = "controller"
	DeviceTypeVideo      DeviceType = "video"
)

// BootEligible returns true for device types that may carry a boot order.
func (t DeviceType) BootEligible() bool {
	switch t {
	case DeviceTypeDisk, DeviceTypeInterface, DeviceTypeRedirDev, DeviceTypeHostDev:
		return true
	default:
		return false
	}
}

// DeviceRef is the structural identity of a device, devices carry no identifier of their own.
type DeviceRef struct {
	Type DeviceType `json:"type" yaml:"type"`
	Key  string     `json:"key" yaml:"key"`
}

func (r DeviceRef) String() string {
	return string(r.Type) + "/" + r.Key
}

// ParseDeviceRef parses the type/key form returned by DeviceRef.String.
func ParseDeviceRef(s string) (DeviceRef, bool) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return DeviceRef{}, false
	}

	return DeviceRef{Type: DeviceType(parts[0]), Key: parts[1]}, true
}

// Device is a sub-entity of a resource configuration.
//
// Exactly one of the descriptors is set based on the Type.
//
// nolint:govet // fieldalignment struct is easier to read in the current format
type Device struct {
	Type DeviceType `json:"type" yaml:"type"`

	Disk      *Disk      `json:"disk,omitempty" yaml:"disk,omitempty"`
	Interface *Interface `json:"interface,omitempty" yaml:"interface,omitempty"`
	RedirDev  *RedirDev  `json:"redirdev,omitempty" yaml:"redirdev,omitempty"`
	HostDev   *HostDev   `json:"hostdev,omitempty" yaml:"hostdev,omitempty"`

	// BootOrder is nil when the device is not part of the boot sequence.
	BootOrder *int `json:"boot_order,omitempty" yaml:"boot_order,omitempty"`
}

// Ref returns the structural identity of the device.
func (d *Device) Ref() DeviceRef {
	ref := DeviceRef{Type: d.Type}

	switch d.Type {
	case DeviceTypeDisk:
		if d.Disk != nil {
			ref.Key = d.Disk.Target
		}
	case DeviceTypeInterface:
		if d.Interface != nil {
			ref.Key = strings.ToLower(d.Interface.MAC)
		}
	case DeviceTypeRedirDev:
		if d.RedirDev != nil {
			ref.Key = d.RedirDev.Bus + ":" + d.RedirDev.Port
		}
	case DeviceTypeHostDev:
		if d.HostDev != nil {
			ref.Key = d.HostDev.Type + ":" + d.HostDev.key()
		}
	}

	return ref
}

// Devices is the ordered list of devices in a configuration.
type Devices []Device

// ByRef returns the device identified by ref.
func (ds Devices) ByRef(ref DeviceRef) *Device {
	for idx := range ds {
		if ds[idx].Ref() == ref {
			return &ds[idx]
		}
	}

	return nil
}

// Disk is a disk device descriptor.
//
// nolint:govet // fieldalignment struct is easier to read in the current format
type Disk struct {
	Target    string     `json:"target" yaml:"target"`
	Device    string     `json:"device,omitempty" yaml:"device,omitempty"` // disk, cdrom, floppy
	Type      string     `json:"type,omitempty" yaml:"type,omitempty"`     // file, block, network, volume
	Bus       string     `json:"bus,omitempty" yaml:"bus,omitempty"`
	Source    DiskSource `json:"source" yaml:"source"`
	Capacity  uint64     `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	Readonly  bool       `json:"readonly,omitempty" yaml:"readonly,omitempty"`
	Shareable bool       `json:"shareable,omitempty" yaml:"shareable,omitempty"`
}

// DiskSource is where the disk data is read from.
type DiskSource struct {
	File     string   `json:"file,omitempty" yaml:"file,omitempty"`
	Dev      string   `json:"dev,omitempty" yaml:"dev,omitempty"`
	Protocol string   `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Pool     string   `json:"pool,omitempty" yaml:"pool,omitempty"`
	Volume   string   `json:"volume,omitempty" yaml:"volume,omitempty"`
	Host     DiskHost `json:"host,omitempty" yaml:"host,omitempty"`
}

type DiskHost struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	Port string `json:"port,omitempty" yaml:"port,omitempty"`
}

// Interface is a network interface device descriptor.
type Interface struct {
	MAC    string `json:"mac" yaml:"mac"`
	Type   string `json:"type,omitempty" yaml:"type,omitempty"` // network, bridge, direct
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
	Model  string `json:"model,omitempty" yaml:"model,omitempty"`
}

// RedirDev is a redirected (usually USB) device descriptor.
type RedirDev struct {
	Type string `json:"type,omitempty" yaml:"type,omitempty"` // spicevmc, tcp
	Bus  string `json:"bus" yaml:"bus"`
	Port string `json:"port" yaml:"port"`
}

// HostDev is a host device passed through to the VM.
//
// nolint:govet // fieldalignment struct is easier to read in the current format
type HostDev struct {
	Type string `json:"type" yaml:"type"` // usb, pci, scsi, scsi_host, mdev

	// usb
	Vendor  string `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	Product string `json:"product,omitempty" yaml:"product,omitempty"`

	// pci, scsi, mdev
	Address string `json:"address,omitempty" yaml:"address,omitempty"`

	// scsi_host
	WWPN     string `json:"wwpn,omitempty" yaml:"wwpn,omitempty"`
	Protocol string `json:"protocol,omitempty" yaml:"protocol,omitempty"`
}

func (h *HostDev) key() string {
	switch h.Type {
	case "usb":
		return h.Vendor + ":" + h.Product
	case "scsi_host":
		return h.WWPN
	default:
		return h.Address
	}
}
