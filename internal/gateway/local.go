package gateway

import (
	"context"
	"sync"

	"github.com/metal-toolbox/vmconsole/internal/model"
	"github.com/metal-toolbox/vmconsole/internal/store"
	"github.com/metal-toolbox/vmconsole/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"golang.org/x/exp/slices"
)

// Local is an in process backend that applies mutations to a resource repository.
//
// Mutations are applied to the inactive configuration, the live configuration is
// updated as well while the resource is not running.
type Local struct {
	mu     sync.Mutex
	repo   store.Repository
	logger *logrus.Logger
}

// NewLocal returns a backend over the given repository.
func NewLocal(repo store.Repository, logger *logrus.Logger) *Local {
	return &Local{repo: repo, logger: logger}
}

func (l *Local) Close() error {
	return nil
}

// Resource returns the resource from the repository.
func (l *Local) Resource(ctx context.Context, ref model.ResourceRef) (*model.Resource, error) {
	ctx, span := otel.Tracer(pkgName).Start(ctx, "Local.Resource")
	defer span.End()

	res, err := l.repo.ResourceByID(ctx, ref.ID)
	if err != nil {
		return nil, err
	}

	if res.ConnectionName != ref.ConnectionName {
		return nil, errors.Wrap(model.ErrResourceNotFound, ref.String())
	}

	return res, nil
}

// Mutate applies the payload to the resource.
//
// A rejected mutation returns a *MutationError and leaves the resource unchanged.
func (l *Local) Mutate(ctx context.Context, ref model.ResourceRef, payload types.Payload) error {
	ctx, span := otel.Tracer(pkgName).Start(ctx, "Local.Mutate")
	defer span.End()

	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.Resource(ctx, ref)
	if err != nil {
		if errors.Is(err, model.ErrResourceNotFound) {
			return l.reject(ref, payload, "resource not found: "+ref.String())
		}

		return err
	}

	switch p := payload.(type) {
	case *types.DeletePayload:
		return l.delete(ctx, res, p)
	case *types.DiskPayload:
		err = applyDisk(res, p)
	case *types.NetworkPayload:
		err = applyNetwork(res, p)
	case *types.BootOrderPayload:
		err = applyBootOrder(res, p)
	default:
		return l.reject(ref, payload, "unsupported mutation")
	}

	if err != nil {
		return l.reject(ref, payload, err.Error())
	}

	l.logger.WithFields(logrus.Fields{
		"resourceID": ref.ID.String(),
		"connection": ref.ConnectionName,
		"kind":       payload.Kind(),
	}).Debug("mutation applied")

	return l.repo.Put(ctx, res)
}

func (l *Local) reject(ref model.ResourceRef, payload types.Payload, msg string) error {
	var kind types.PayloadKind
	if payload != nil {
		kind = payload.Kind()
	}

	l.logger.WithFields(logrus.Fields{
		"resourceID": ref.ID.String(),
		"connection": ref.ConnectionName,
		"kind":       kind,
	}).Debug("mutation rejected: " + msg)

	return &MutationError{Kind: kind, Ref: ref, Message: msg}
}

func (l *Local) delete(ctx context.Context, res *model.Resource, p *types.DeletePayload) error {
	if res.Kind != model.ResourceKindVM {
		return l.reject(res.Ref(), p, "resource is not a VM")
	}

	if res.Running() && !p.Destroy {
		return l.reject(res.Ref(), p, "VM is running, it must be forced off before deletion")
	}

	for _, path := range p.Storage {
		if !hasDiskSourceFile(&res.Config, path) && !hasDiskSourceFile(&res.InactiveConfig, path) {
			return l.reject(res.Ref(), p, "storage volume is not attached to the VM: "+path)
		}
	}

	l.logger.WithFields(logrus.Fields{
		"resourceID": res.ID.String(),
		"connection": res.ConnectionName,
		"destroy":    p.Destroy,
		"storage":    p.Storage,
	}).Info("VM deleted")

	return l.repo.Remove(ctx, res.ID)
}

func hasDiskSourceFile(cfg *model.Configuration, path string) bool {
	return slices.ContainsFunc(cfg.Devices, func(d model.Device) bool {
		return d.Type == model.DeviceTypeDisk && d.Disk != nil && d.Disk.Source.File == path
	})
}

// configs returns the configurations a mutation is applied to.
func configs(res *model.Resource) []*model.Configuration {
	if res.Running() {
		return []*model.Configuration{&res.InactiveConfig}
	}

	return []*model.Configuration{&res.InactiveConfig, &res.Config}
}

func applyDisk(res *model.Resource, p *types.DiskPayload) error {
	if res.InactiveConfig.DiskByTarget(p.Target) == nil {
		return errors.New("disk not found: " + p.Target)
	}

	for _, cfg := range configs(res) {
		disk := cfg.DiskByTarget(p.Target)
		if disk == nil {
			continue
		}

		if p.Readonly != nil {
			disk.Readonly = *p.Readonly
		}

		if p.Shareable != nil {
			disk.Shareable = *p.Shareable
		}
	}

	return nil
}

func applyNetwork(res *model.Resource, p *types.NetworkPayload) error {
	if res.Kind != model.ResourceKindNetwork {
		return errors.New("resource is not a network")
	}

	for _, cfg := range configs(res) {
		setFirstIP(cfg, model.IPConfig{Family: model.IPFamilyV4, Address: p.IPv4Address, Netmask: p.IPv4Netmask})
		setFirstIP(cfg, model.IPConfig{Family: model.IPFamilyV6, Address: p.IPv6Address, Prefix: p.IPv6Prefix})
	}

	return nil
}

// setFirstIP replaces the first address of the family, an empty address removes it.
func setFirstIP(cfg *model.Configuration, ip model.IPConfig) {
	idx := slices.IndexFunc(cfg.IPs, func(c model.IPConfig) bool { return c.Family == ip.Family })

	switch {
	case idx < 0 && ip.Address == "":
	case idx < 0:
		cfg.IPs = append(cfg.IPs, ip)
	case ip.Address == "":
		cfg.IPs = slices.Delete(cfg.IPs, idx, idx+1)
	default:
		cfg.IPs[idx] = ip
	}
}

func applyBootOrder(res *model.Resource, p *types.BootOrderPayload) error {
	orders := make(map[model.DeviceRef]int, len(p.Devices))

	for _, d := range p.Devices {
		if res.InactiveConfig.Devices.ByRef(d.Ref) == nil {
			return errors.New("device not found: " + d.Ref.String())
		}

		if !d.Ref.Type.BootEligible() {
			return errors.New("device is not bootable: " + d.Ref.String())
		}

		if _, dup := orders[d.Ref]; dup {
			return errors.New("device listed twice: " + d.Ref.String())
		}

		orders[d.Ref] = d.Order
	}

	for _, cfg := range configs(res) {
		for idx := range cfg.Devices {
			dev := &cfg.Devices[idx]
			if !dev.Type.BootEligible() {
				continue
			}

			dev.BootOrder = nil

			if order, ok := orders[dev.Ref()]; ok {
				o := order
				dev.BootOrder = &o
			}
		}
	}

	return nil
}
