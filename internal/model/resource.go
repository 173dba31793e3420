package model

import (
	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
)

// ResourceKind identifies the kind of a backend managed entity.
type ResourceKind string

// LifecycleState is the backend reported state of a resource.
type LifecycleState string

const (
	ResourceKindVM      ResourceKind = "vm"
	ResourceKindNetwork ResourceKind = "network"

	// VM lifecycle states
	StateRunning  LifecycleState = "running"
	StatePaused   LifecycleState = "paused"
	StateShutOff  LifecycleState = "shut off"
	StateCrashed  LifecycleState = "crashed"
	StateShutdown LifecycleState = "shutdown"

	// network lifecycle states
	StateActive   LifecycleState = "active"
	StateInactive LifecycleState = "inactive"

	IPFamilyV4 = "ipv4"
	IPFamilyV6 = "ipv6"
)

var (
	ErrResourceNotFound = errors.New("resource not found")
	ErrResourceCopy     = errors.New("error copying resource")
)

// ResourceRef addresses a resource on a backend connection.
type ResourceRef struct {
	ConnectionName string    `json:"connection" yaml:"connection"`
	ID             uuid.UUID `json:"id" yaml:"id"`
}

func (r ResourceRef) String() string {
	return r.ConnectionName + "/" + r.ID.String()
}

// Resource is the authoritative, backend owned representation of a VM or a virtual network.
//
// The console only ever holds snapshots of a Resource, the backend is the single writer.
//
// nolint:govet // fieldalignment struct is easier to read in the current format
type Resource struct {
	ID             uuid.UUID      `json:"id" yaml:"id"`
	Name           string         `json:"name" yaml:"name"`
	Kind           ResourceKind   `json:"kind" yaml:"kind"`
	ConnectionName string         `json:"connection" yaml:"connection"`
	State          LifecycleState `json:"state" yaml:"state"`

	// Config is the live configuration, while the resource is not running
	// this is expected to match the InactiveConfig.
	Config Configuration `json:"config" yaml:"config"`

	// InactiveConfig is the persisted configuration applied on the next (re)start.
	InactiveConfig Configuration `json:"inactive_config" yaml:"inactive_config"`
}

// Ref returns the address of the resource.
func (r *Resource) Ref() ResourceRef {
	return ResourceRef{ConnectionName: r.ConnectionName, ID: r.ID}
}

// Running returns true when the live and inactive configuration may diverge.
func (r *Resource) Running() bool {
	switch r.State {
	case StateRunning, StatePaused, StateActive:
		return true
	default:
		return false
	}
}

// Clone returns a deep copy of the resource, the copy shares no memory with the original.
func (r *Resource) Clone() (*Resource, error) {
	dst := &Resource{}

	if err := copier.CopyWithOption(dst, r, copier.Option{DeepCopy: true}); err != nil {
		return nil, errors.Wrap(ErrResourceCopy, err.Error())
	}

	return dst, nil
}

// MustClone is Clone for callers holding a resource known to be copyable.
func (r *Resource) MustClone() *Resource {
	dst, err := r.Clone()
	if err != nil {
		panic(err)
	}

	return dst
}

// Configuration holds a resource configuration, the Devices are kept in their declared order.
//
// nolint:govet // fieldalignment struct is easier to read in the current format
type Configuration struct {
	Devices Devices `json:"devices,omitempty" yaml:"devices,omitempty"`

	// network resource attributes
	IPs        []IPConfig `json:"ips,omitempty" yaml:"ips,omitempty"`
	Forward    string     `json:"forward,omitempty" yaml:"forward,omitempty"`
	Bridge     string     `json:"bridge,omitempty" yaml:"bridge,omitempty"`
	Persistent bool       `json:"persistent,omitempty" yaml:"persistent,omitempty"`
	Autostart  bool       `json:"autostart,omitempty" yaml:"autostart,omitempty"`
}

// IPConfig is an address assigned to a virtual network.
type IPConfig struct {
	Family  string `json:"family" yaml:"family"`
	Address string `json:"address,omitempty" yaml:"address,omitempty"`
	Netmask string `json:"netmask,omitempty" yaml:"netmask,omitempty"`
	Prefix  string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

// FirstIP returns the first address configured for the given family.
//
// Multiple addresses per family are allowed on a network, the console only edits the first one.
func (c *Configuration) FirstIP(family string) *IPConfig {
	for idx := range c.IPs {
		if c.IPs[idx].Family == family {
			return &c.IPs[idx]
		}
	}

	return nil
}

// DiskByTarget returns the disk descriptor attached at the given target.
func (c *Configuration) DiskByTarget(target string) *Disk {
	for _, d := range c.Devices {
		if d.Type == DeviceTypeDisk && d.Disk != nil && d.Disk.Target == target {
			return d.Disk
		}
	}

	return nil
}
