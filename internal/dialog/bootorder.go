package dialog

import (
	"github.com/hashicorp/go-multierror"
	"github.com/metal-toolbox/vmconsole/internal/bootorder"
	"github.com/metal-toolbox/vmconsole/internal/model"
	"github.com/metal-toolbox/vmconsole/types"
)

// FieldBootSequence is the SetField key replacing the boot display sequence with a []model.DeviceRef.
const FieldBootSequence = "sequence"

// BootOrderDialog edits which devices a VM boots from, and in what order.
//
// Besides FieldBootSequence, SetField accepts a device ref string as key with a
// bool value setting the checked flag of the device. Edits SetField cannot apply
// are reported by the next Submit.
type BootOrderDialog struct {
	*Controller
	d *bootOrderDomain
}

// NewBootOrderDialog returns a closed dialog for the VM.
func NewBootOrderDialog(ref model.ResourceRef, deps Deps) *BootOrderDialog {
	d := &bootOrderDomain{}

	return &BootOrderDialog{Controller: newController(ref, d, deps), d: d}
}

// Toggle flips the checked flag of a device.
func (bd *BootOrderDialog) Toggle(ref model.DeviceRef) error {
	return bd.edit(func() error { return bd.d.model.Toggle(ref) })
}

// Reorder replaces the display sequence, the sequence must be a permutation of the entries.
func (bd *BootOrderDialog) Reorder(seq []model.DeviceRef) error {
	return bd.edit(func() error { return bd.d.model.Reorder(seq) })
}

// MoveUp moves a device one position up.
func (bd *BootOrderDialog) MoveUp(ref model.DeviceRef) error {
	return bd.edit(func() error { return bd.d.model.MoveUp(ref) })
}

// MoveDown moves a device one position down.
func (bd *BootOrderDialog) MoveDown(ref model.DeviceRef) error {
	return bd.edit(func() error { return bd.d.model.MoveDown(ref) })
}

// Entries returns the boot entries in display order.
func (bd *BootOrderDialog) Entries() (entries []bootorder.Entry) {
	bd.read(func() { entries = bd.d.model.Entries() })
	return entries
}

type bootOrderDomain struct {
	model *bootorder.Model

	// SetField edits that could not be applied
	rejected *multierror.Error
}

func (d *bootOrderDomain) kind() Kind                       { return KindBootOrder }
func (d *bootOrderDomain) resourceKind() model.ResourceKind { return model.ResourceKindVM }
func (d *bootOrderDomain) summary() string                  { return SummaryBootOrder }

func (d *bootOrderDomain) seed(res *model.Resource) error {
	d.model = bootorder.New(&res.InactiveConfig)
	d.rejected = nil

	return nil
}

func (d *bootOrderDomain) setField(key string, value any) error {
	if err := d.apply(key, value); err != nil {
		d.rejected = multierror.Append(d.rejected, err)
	}

	return nil
}

func (d *bootOrderDomain) apply(key string, value any) error {
	if key == FieldBootSequence {
		seq, ok := value.([]model.DeviceRef)
		if !ok {
			return &ValidationError{Field: key, Reason: "expected a device sequence"}
		}

		if err := d.model.Reorder(seq); err != nil {
			return &ValidationError{Field: key, Reason: err.Error()}
		}

		return nil
	}

	ref, ok := model.ParseDeviceRef(key)
	if !ok {
		return &ValidationError{Field: key, Reason: ErrUnknownField.Error()}
	}

	checked, ok := value.(bool)
	if !ok {
		return &ValidationError{Field: key, Reason: "expected a boolean value"}
	}

	for _, e := range d.model.Entries() {
		if e.Ref() != ref {
			continue
		}

		if e.Checked == checked {
			return nil
		}

		return d.model.Toggle(ref)
	}

	return &ValidationError{Field: key, Reason: ErrUnknownDevice.Error()}
}

func (d *bootOrderDomain) payload() (types.Payload, error) {
	// rejected edits are reported once, the model never held them
	if d.rejected != nil {
		merr := d.rejected
		d.rejected = nil
		merr.ErrorFormat = joinErrors

		return nil, merr.ErrorOrNil()
	}

	return d.model.Payload(), nil
}

func (d *bootOrderDomain) notices(res *model.Resource) []model.Notice {
	if res == nil || !res.Running() {
		return nil
	}

	if d.model.AnyChanged() {
		return []model.Notice{model.RestartRequiredNotice()}
	}

	return nil
}

func (d *bootOrderDomain) discard() {
	d.model = nil
	d.rejected = nil
}
