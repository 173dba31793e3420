package dialog

import (
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/metal-toolbox/vmconsole/internal/fieldset"
	"github.com/metal-toolbox/vmconsole/internal/model"
	"github.com/metal-toolbox/vmconsole/types"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	FieldDestroy = "destroy"

	// storage fields are keyed by the source path
	fieldStoragePrefix = "storage:"
)

// StorageField returns the field key of the delete dialog storage checkbox for path.
func StorageField(path string) string {
	return fieldStoragePrefix + path
}

// StorageEntry is a file backed disk offered for removal along with the VM.
type StorageEntry struct {
	Target  string
	Path    string
	Checked bool
}

// DeleteDialog confirms the deletion of a VM and selects the storage removed with it.
type DeleteDialog struct {
	*Controller
	d *deleteDomain
}

// NewDeleteDialog returns a closed dialog for the VM.
func NewDeleteDialog(ref model.ResourceRef, deps Deps) *DeleteDialog {
	d := &deleteDomain{}

	return &DeleteDialog{Controller: newController(ref, d, deps), d: d}
}

// SetDestroy sets whether a running VM is forced off before deletion.
func (dd *DeleteDialog) SetDestroy(destroy bool) error {
	return dd.SetField(FieldDestroy, destroy)
}

// SetStorageChecked selects the storage at path for removal.
func (dd *DeleteDialog) SetStorageChecked(path string, checked bool) error {
	return dd.SetField(StorageField(path), checked)
}

// Destroy returns the pending destroy flag.
func (dd *DeleteDialog) Destroy() (v bool) {
	dd.read(func() { v = dd.d.fields.Bool(FieldDestroy) })
	return v
}

// Storage returns the storage entries sorted by disk target.
func (dd *DeleteDialog) Storage() (entries []StorageEntry) {
	dd.read(func() { entries = dd.d.entries() })
	return entries
}

type deleteDomain struct {
	storage []StorageEntry
	fields  *fieldset.Set
}

func (d *deleteDomain) kind() Kind                       { return KindDelete }
func (d *deleteDomain) resourceKind() model.ResourceKind { return model.ResourceKindVM }
func (d *deleteDomain) summary() string                  { return SummaryDelete }

func (d *deleteDomain) seed(res *model.Resource) error {
	storage := []StorageEntry{}

	for _, dev := range res.Config.Devices {
		if dev.Type != model.DeviceTypeDisk || dev.Disk == nil {
			continue
		}

		if dev.Disk.Type != "file" || dev.Disk.Source.File == "" {
			continue
		}

		storage = append(storage, StorageEntry{
			Target:  dev.Disk.Target,
			Path:    dev.Disk.Source.File,
			Checked: !dev.Disk.Readonly,
		})
	}

	slices.SortStableFunc(storage, func(a, b StorageEntry) int {
		return strings.Compare(a.Target, b.Target)
	})

	snapshot := map[string]any{FieldDestroy: res.Running()}
	for _, s := range storage {
		snapshot[StorageField(s.Path)] = s.Checked
	}

	d.storage = storage
	d.fields = fieldset.New(fieldset.Full, snapshot)

	return nil
}

func (d *deleteDomain) setField(key string, value any) error {
	d.fields.Set(key, value)
	return nil
}

func (d *deleteDomain) entries() []StorageEntry {
	entries := slices.Clone(d.storage)
	for idx := range entries {
		entries[idx].Checked = d.fields.Bool(StorageField(entries[idx].Path))
	}

	return entries
}

func (d *deleteDomain) payload() (types.Payload, error) {
	var merr *multierror.Error

	edits := d.fields.Payload()
	keys := maps.Keys(edits)
	slices.Sort(keys)

	for _, key := range keys {
		if _, ok := d.fields.Initial(key); !ok {
			merr = multierror.Append(merr, &ValidationError{Field: key, Reason: ErrUnknownField.Error()})
			continue
		}

		if _, ok := edits[key].(bool); !ok {
			merr = multierror.Append(merr, &ValidationError{Field: key, Reason: "expected a boolean value"})
		}
	}

	if merr != nil {
		merr.ErrorFormat = joinErrors
		return nil, merr.ErrorOrNil()
	}

	payload := &types.DeletePayload{
		Destroy: d.fields.Bool(FieldDestroy),
		Storage: []string{},
	}

	for _, s := range d.entries() {
		if s.Checked {
			payload.Storage = append(payload.Storage, s.Path)
		}
	}

	return payload, nil
}

func (d *deleteDomain) notices(_ *model.Resource) []model.Notice {
	if d.fields.Bool(FieldDestroy) {
		return []model.Notice{model.ForceOffNotice()}
	}

	return nil
}

func (d *deleteDomain) discard() {
	d.storage = nil
	d.fields = nil
}
