package dialog

import (
	"net/netip"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/metal-toolbox/vmconsole/internal/fieldset"
	"github.com/metal-toolbox/vmconsole/internal/model"
	"github.com/metal-toolbox/vmconsole/types"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	FieldIPv4Address = "ipv4Address"
	FieldIPv4Netmask = "ipv4Netmask"
	FieldIPv6Address = "ipv6Address"
	FieldIPv6Prefix  = "ipv6Prefix"
)

var networkFields = []string{FieldIPv4Address, FieldIPv4Netmask, FieldIPv6Address, FieldIPv6Prefix}

// NetworkEditDialog edits the first IPv4 and the first IPv6 address of a virtual network.
//
// All fields are submitted, an empty address removes the entry.
type NetworkEditDialog struct {
	*Controller
	d *networkDomain
}

// NewNetworkEditDialog returns a closed dialog for the network.
func NewNetworkEditDialog(ref model.ResourceRef, deps Deps) *NetworkEditDialog {
	d := &networkDomain{}

	return &NetworkEditDialog{Controller: newController(ref, d, deps), d: d}
}

// Field returns the pending value of a network field.
func (nd *NetworkEditDialog) Field(key string) (v string) {
	nd.read(func() { v = nd.d.fields.String(key) })
	return v
}

type networkDomain struct {
	fields *fieldset.Set
}

func (d *networkDomain) kind() Kind                       { return KindNetworkEdit }
func (d *networkDomain) resourceKind() model.ResourceKind { return model.ResourceKindNetwork }
func (d *networkDomain) summary() string                  { return SummaryNetwork }

func networkSnapshot(cfg *model.Configuration) map[string]any {
	snapshot := map[string]any{}
	for _, key := range networkFields {
		snapshot[key] = ""
	}

	if ip := cfg.FirstIP(model.IPFamilyV4); ip != nil {
		snapshot[FieldIPv4Address] = ip.Address
		snapshot[FieldIPv4Netmask] = ip.Netmask
	}

	if ip := cfg.FirstIP(model.IPFamilyV6); ip != nil {
		snapshot[FieldIPv6Address] = ip.Address
		snapshot[FieldIPv6Prefix] = ip.Prefix
	}

	return snapshot
}

func (d *networkDomain) seed(res *model.Resource) error {
	d.fields = fieldset.New(fieldset.Full, networkSnapshot(&res.InactiveConfig))
	return nil
}

func (d *networkDomain) setField(key string, value any) error {
	d.fields.Set(key, value)
	return nil
}

func (d *networkDomain) payload() (types.Payload, error) {
	values := map[string]string{}

	var merr *multierror.Error

	edits := d.fields.Payload()
	keys := maps.Keys(edits)
	slices.Sort(keys)

	for _, key := range keys {
		value := edits[key]

		if !slices.Contains(networkFields, key) {
			merr = multierror.Append(merr, &ValidationError{Field: key, Reason: ErrUnknownField.Error()})
			continue
		}

		s, ok := value.(string)
		if !ok {
			merr = multierror.Append(merr, &ValidationError{Field: key, Reason: "expected a text value"})
			continue
		}

		values[key] = strings.TrimSpace(s)
	}

	for _, err := range validateNetwork(values) {
		merr = multierror.Append(merr, err)
	}

	if merr != nil {
		merr.ErrorFormat = joinErrors
		return nil, merr.ErrorOrNil()
	}

	return &types.NetworkPayload{
		IPv4Address: values[FieldIPv4Address],
		IPv4Netmask: values[FieldIPv4Netmask],
		IPv6Address: values[FieldIPv6Address],
		IPv6Prefix:  values[FieldIPv6Prefix],
	}, nil
}

// validateNetwork returns the syntax errors in the field values, in field order.
func validateNetwork(values map[string]string) []error {
	errs := []error{}

	if v4 := values[FieldIPv4Address]; v4 != "" {
		if addr, err := netip.ParseAddr(v4); err != nil || !addr.Is4() {
			errs = append(errs, &ValidationError{Field: FieldIPv4Address, Reason: "invalid IPv4 address " + strconv.Quote(v4)})
		}

		if err := validateNetmask(values[FieldIPv4Netmask]); err != nil {
			errs = append(errs, err)
		}
	} else if values[FieldIPv4Netmask] != "" {
		errs = append(errs, &ValidationError{Field: FieldIPv4Netmask, Reason: "netmask set without an address"})
	}

	if v6 := values[FieldIPv6Address]; v6 != "" {
		if addr, err := netip.ParseAddr(v6); err != nil || !addr.Is6() || addr.Is4In6() || addr.Zone() != "" {
			errs = append(errs, &ValidationError{Field: FieldIPv6Address, Reason: "invalid IPv6 address " + strconv.Quote(v6)})
		}

		if err := validatePrefix(values[FieldIPv6Prefix]); err != nil {
			errs = append(errs, err)
		}
	} else if values[FieldIPv6Prefix] != "" {
		errs = append(errs, &ValidationError{Field: FieldIPv6Prefix, Reason: "prefix set without an address"})
	}

	return errs
}

func validateNetmask(mask string) error {
	if mask == "" {
		return &ValidationError{Field: FieldIPv4Netmask, Reason: "netmask is required"}
	}

	addr, err := netip.ParseAddr(mask)
	if err != nil || !addr.Is4() {
		return &ValidationError{Field: FieldIPv4Netmask, Reason: "invalid netmask " + strconv.Quote(mask)}
	}

	b := addr.As4()
	bits := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])

	// the set bits must be contiguous from the left
	if inverted := ^bits; inverted&(inverted+1) != 0 {
		return &ValidationError{Field: FieldIPv4Netmask, Reason: "non contiguous netmask " + strconv.Quote(mask)}
	}

	return nil
}

func validatePrefix(prefix string) error {
	if prefix == "" {
		return &ValidationError{Field: FieldIPv6Prefix, Reason: "prefix is required"}
	}

	n, err := strconv.Atoi(prefix)
	if err != nil || n < 0 || n > 128 {
		return &ValidationError{Field: FieldIPv6Prefix, Reason: "invalid prefix " + strconv.Quote(prefix)}
	}

	return nil
}

func joinErrors(errs []error) string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}

	return strings.Join(msgs, "; ")
}

func (d *networkDomain) notices(res *model.Resource) []model.Notice {
	if res == nil || !res.Running() {
		return nil
	}

	live := networkSnapshot(&res.Config)
	inactive := networkSnapshot(&res.InactiveConfig)

	for _, key := range networkFields {
		if live[key] != inactive[key] {
			return []model.Notice{model.RestartRequiredNotice()}
		}
	}

	return nil
}

func (d *networkDomain) discard() {
	d.fields = nil
}
