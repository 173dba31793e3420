// Package listing builds the rows of the resource lists displayed by the console.
package listing

import (
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"github.com/metal-toolbox/vmconsole/internal/model"
	"golang.org/x/exp/slices"
)

const (
	maxColWidth = 60

	// forwarding mode displayed for networks without a forward element
	forwardIsolated = "isolated"
)

// NetworkRow is a row of the virtual networks list.
type NetworkRow struct {
	ID         string
	Name       string
	Device     string
	Connection string
	Forwarding string
	State      string
}

// NetworksReady returns false while any network has not been named yet.
//
// The backend publishes a network before its name is known, the list is only
// rendered once every entry can be sorted.
func NetworksReady(networks []*model.Resource) bool {
	return !slices.ContainsFunc(networks, func(n *model.Resource) bool { return n.Name == "" })
}

// NetworkRows returns the network rows sorted by name.
func NetworkRows(networks []*model.Resource) []NetworkRow {
	rows := make([]NetworkRow, 0, len(networks))

	for _, n := range networks {
		if n.Kind != model.ResourceKindNetwork {
			continue
		}

		forward := n.Config.Forward
		if forward == "" {
			forward = forwardIsolated
		}

		rows = append(rows, NetworkRow{
			ID:         n.ID.String(),
			Name:       n.Name,
			Device:     n.Config.Bridge,
			Connection: n.ConnectionName,
			Forwarding: forward,
			State:      string(n.State),
		})
	}

	slices.SortFunc(rows, func(a, b NetworkRow) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}

		return strings.Compare(a.Connection, b.Connection)
	})

	return rows
}

// NetworkTable renders the network rows.
func NetworkTable(rows []NetworkRow) *uitable.Table {
	table := uitable.New()
	table.MaxColWidth = maxColWidth

	table.AddRow("NAME", "DEVICE", "CONNECTION", "FORWARDING MODE", "STATE")

	for _, r := range rows {
		table.AddRow(r.Name, r.Device, r.Connection, r.Forwarding, r.State)
	}

	return table
}

// DiskRow is a row of the VM disks list.
type DiskRow struct {
	Target   string
	Bus      string
	Device   string
	Source   string
	Size     string
	Readonly bool
}

// DiskRows returns the disks of the VM in declaration order.
//
// The live configuration is listed, it matches the inactive one while the VM is not running.
func DiskRows(vm *model.Resource) []DiskRow {
	rows := []DiskRow{}

	for _, d := range vm.Config.Devices {
		if d.Type != model.DeviceTypeDisk || d.Disk == nil {
			continue
		}

		size := "-"
		if d.Disk.Capacity > 0 {
			size = humanize.IBytes(d.Disk.Capacity)
		}

		rows = append(rows, DiskRow{
			Target:   d.Disk.Target,
			Bus:      d.Disk.Bus,
			Device:   d.Disk.Device,
			Source:   DiskSource(&d.Disk.Source),
			Size:     size,
			Readonly: d.Disk.Readonly,
		})
	}

	return rows
}

// DiskSource returns a display form of the disk source.
func DiskSource(s *model.DiskSource) string {
	switch {
	case s.File != "":
		return s.File
	case s.Dev != "":
		return s.Dev
	case s.Pool != "" && s.Volume != "":
		return s.Pool + "/" + s.Volume
	case s.Protocol != "":
		host := s.Host.Name
		if s.Host.Port != "" {
			host += ":" + s.Host.Port
		}

		return s.Protocol + "://" + host + "/" + s.Volume
	default:
		return "-"
	}
}

// DiskTable renders the disk rows.
func DiskTable(rows []DiskRow) *uitable.Table {
	table := uitable.New()
	table.MaxColWidth = maxColWidth
	table.Wrap = true

	table.AddRow("TARGET", "BUS", "DEVICE", "SOURCE", "SIZE", "READONLY")

	for _, r := range rows {
		table.AddRow(r.Target, r.Bus, r.Device, r.Source, r.Size, strconv.FormatBool(r.Readonly))
	}

	return table
}
