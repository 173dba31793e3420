package dialog

import (
	"github.com/metal-toolbox/vmconsole/internal/fieldset"
	"github.com/metal-toolbox/vmconsole/internal/model"
	"github.com/metal-toolbox/vmconsole/types"
	"github.com/pkg/errors"
)

const (
	FieldReadonly  = "readonly"
	FieldShareable = "shareable"
)

// DiskEditDialog edits the readonly and shareable flags of a VM disk.
//
// Only the changed flags are submitted.
type DiskEditDialog struct {
	*Controller
	d *diskDomain
}

// NewDiskEditDialog returns a closed dialog for the disk attached at target.
func NewDiskEditDialog(ref model.ResourceRef, target string, deps Deps) *DiskEditDialog {
	d := &diskDomain{target: target}

	return &DiskEditDialog{Controller: newController(ref, d, deps), d: d}
}

// Target returns the disk target the dialog edits.
func (dd *DiskEditDialog) Target() string {
	return dd.d.target
}

// SetReadonly sets the pending readonly flag.
func (dd *DiskEditDialog) SetReadonly(readonly bool) error {
	return dd.SetField(FieldReadonly, readonly)
}

// SetShareable sets the pending shareable flag.
func (dd *DiskEditDialog) SetShareable(shareable bool) error {
	return dd.SetField(FieldShareable, shareable)
}

// Readonly returns the pending readonly flag.
func (dd *DiskEditDialog) Readonly() (v bool) {
	dd.read(func() { v = dd.d.fields.Bool(FieldReadonly) })
	return v
}

// Shareable returns the pending shareable flag.
func (dd *DiskEditDialog) Shareable() (v bool) {
	dd.read(func() { v = dd.d.fields.Bool(FieldShareable) })
	return v
}

// Changed returns the names of the flags that differ from the snapshot.
func (dd *DiskEditDialog) Changed() (keys []string) {
	dd.read(func() { keys = dd.d.fields.Changed() })
	return keys
}

type diskDomain struct {
	target string
	fields *fieldset.Set
}

func (d *diskDomain) kind() Kind                       { return KindDiskEdit }
func (d *diskDomain) resourceKind() model.ResourceKind { return model.ResourceKindVM }
func (d *diskDomain) summary() string                  { return SummaryDiskEdit }

func (d *diskDomain) seed(res *model.Resource) error {
	disk := res.InactiveConfig.DiskByTarget(d.target)
	if disk == nil {
		return errors.Wrapf(ErrUnknownDevice, "disk %s on %s", d.target, res.Name)
	}

	d.fields = fieldset.New(fieldset.Changed, map[string]any{
		FieldReadonly:  disk.Readonly,
		FieldShareable: disk.Shareable,
	})

	return nil
}

func (d *diskDomain) setField(key string, value any) error {
	d.fields.Set(key, value)
	return nil
}

func (d *diskDomain) payload() (types.Payload, error) {
	changed := d.fields.Payload()
	if len(changed) == 0 {
		return nil, nil
	}

	payload := &types.DiskPayload{Target: d.target}

	for key, value := range changed {
		b, ok := value.(bool)
		if !ok {
			return nil, &ValidationError{Field: key, Reason: "expected a boolean value"}
		}

		switch key {
		case FieldReadonly:
			payload.Readonly = &b
		case FieldShareable:
			payload.Shareable = &b
		default:
			return nil, &ValidationError{Field: key, Reason: ErrUnknownField.Error()}
		}
	}

	return payload, nil
}

func (d *diskDomain) notices(res *model.Resource) []model.Notice {
	if res == nil || !res.Running() {
		return nil
	}

	live := res.Config.DiskByTarget(d.target)
	inactive := res.InactiveConfig.DiskByTarget(d.target)

	if live == nil || inactive == nil {
		return nil
	}

	if live.Readonly != inactive.Readonly || live.Shareable != inactive.Shareable {
		return []model.Notice{model.RestartRequiredNotice()}
	}

	return nil
}

func (d *diskDomain) discard() {
	d.fields = nil
}
