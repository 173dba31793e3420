// Package bootorder models the ordered, checkable list of boot eligible devices
// edited by the boot order dialog.
package bootorder

import (
	"github.com/metal-toolbox/vmconsole/internal/model"
	"github.com/metal-toolbox/vmconsole/types"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

var (
	ErrUnknownDevice  = errors.New("unknown device")
	ErrNotPermutation = errors.New("sequence is not a permutation of the current entries")
)

// Entry is a boot eligible device as displayed in the dialog.
type Entry struct {
	Device model.Device
	// Checked devices are part of the boot sequence once saved.
	Checked bool
	// InitialOrder is the boot order at derivation, nil when the device did not boot.
	InitialOrder *int
}

// Ref returns the identity of the entry device.
func (e *Entry) Ref() model.DeviceRef {
	return e.Device.Ref()
}

// Model holds the boot entries in display order.
type Model struct {
	entries []Entry
}

// New derives the model from the inactive configuration of a resource.
//
// Entries keep the declaration order of the configuration, a later device with
// the same identity as an earlier one is skipped.
func New(config *model.Configuration) *Model {
	m := &Model{}
	seen := map[model.DeviceRef]bool{}

	for _, d := range config.Devices {
		if !d.Type.BootEligible() {
			continue
		}

		ref := d.Ref()
		if seen[ref] {
			continue
		}

		seen[ref] = true

		entry := Entry{Device: d, Checked: d.BootOrder != nil}
		if d.BootOrder != nil {
			order := *d.BootOrder
			entry.InitialOrder = &order
		}

		m.entries = append(m.entries, entry)
	}

	return m
}

// Entries returns a copy of the entries in display order.
func (m *Model) Entries() []Entry {
	return slices.Clone(m.entries)
}

// Len returns the number of entries.
func (m *Model) Len() int {
	return len(m.entries)
}

func (m *Model) index(ref model.DeviceRef) int {
	return slices.IndexFunc(m.entries, func(e Entry) bool { return e.Ref() == ref })
}

// Toggle flips the checked flag of the device in place, positions are not renumbered.
func (m *Model) Toggle(ref model.DeviceRef) error {
	idx := m.index(ref)
	if idx < 0 {
		return errors.Wrap(ErrUnknownDevice, ref.String())
	}

	m.entries[idx].Checked = !m.entries[idx].Checked

	return nil
}

// Reorder replaces the display sequence.
//
// The sequence must hold each current entry exactly once, otherwise the
// current order is kept and ErrNotPermutation is returned.
func (m *Model) Reorder(seq []model.DeviceRef) error {
	if len(seq) != len(m.entries) {
		return errors.Wrapf(ErrNotPermutation, "expected %d devices, got %d", len(m.entries), len(seq))
	}

	reordered := make([]Entry, 0, len(seq))
	used := make([]bool, len(m.entries))

	for _, ref := range seq {
		idx := m.index(ref)
		if idx < 0 {
			return errors.Wrap(ErrNotPermutation, "unknown device "+ref.String())
		}

		if used[idx] {
			return errors.Wrap(ErrNotPermutation, "duplicate device "+ref.String())
		}

		used[idx] = true
		reordered = append(reordered, m.entries[idx])
	}

	m.entries = reordered

	return nil
}

// MoveUp swaps the device with its predecessor, the first entry stays in place.
func (m *Model) MoveUp(ref model.DeviceRef) error {
	idx := m.index(ref)
	if idx < 0 {
		return errors.Wrap(ErrUnknownDevice, ref.String())
	}

	if idx > 0 {
		m.entries[idx-1], m.entries[idx] = m.entries[idx], m.entries[idx-1]
	}

	return nil
}

// MoveDown swaps the device with its successor, the last entry stays in place.
func (m *Model) MoveDown(ref model.DeviceRef) error {
	idx := m.index(ref)
	if idx < 0 {
		return errors.Wrap(ErrUnknownDevice, ref.String())
	}

	if idx < len(m.entries)-1 {
		m.entries[idx+1], m.entries[idx] = m.entries[idx], m.entries[idx+1]
	}

	return nil
}

// HasChanged returns true when the entry at displayIndex differs from its initial boot state.
func HasChanged(entry *Entry, displayIndex int) bool {
	switch {
	case entry.Checked && entry.InitialOrder == nil:
		return true
	case !entry.Checked && entry.InitialOrder != nil:
		return true
	case entry.InitialOrder != nil && *entry.InitialOrder != displayIndex+1:
		return true
	default:
		return false
	}
}

// AnyChanged returns true when any entry differs from its initial boot state.
func (m *Model) AnyChanged() bool {
	for idx := range m.entries {
		if HasChanged(&m.entries[idx], idx) {
			return true
		}
	}

	return false
}

// Payload returns the checked devices in display order with contiguous 1 based positions.
func (m *Model) Payload() *types.BootOrderPayload {
	payload := &types.BootOrderPayload{Devices: []types.BootOrderDevice{}}

	for idx := range m.entries {
		if !m.entries[idx].Checked {
			continue
		}

		payload.Devices = append(payload.Devices, types.BootOrderDevice{
			Ref:   m.entries[idx].Ref(),
			Order: len(payload.Devices) + 1,
		})
	}

	return payload
}
