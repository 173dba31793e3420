package cmd

import (
	"context"
	"log"

	"github.com/metal-toolbox/vmconsole/internal/dialog"
	"github.com/metal-toolbox/vmconsole/internal/model"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slices"
)

var (
	ErrDeviceRef = errors.New("invalid device reference")
)

var cmdEdit = &cobra.Command{
	Use:   "edit",
	Short: "edit resource settings [disk|network|boot-order]",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// command edit disk
type editDiskFlags struct {
	resourceFlags
	target    string
	readonly  bool
	shareable bool
}

var (
	editDiskFlagSet = &editDiskFlags{}
)

var cmdEditDisk = &cobra.Command{
	Use:   "disk --resource <vm> --target <sda> [--readonly] [--shareable]",
	Short: "Edit the readonly and shareable flags of a VM disk",
	Run: func(cmd *cobra.Command, args []string) {
		editDisk(cmd.Context(), cmd)
	},
}

func editDisk(ctx context.Context, cmd *cobra.Command) {
	s := newSession(ctx)
	defer s.shutdown()

	vm, err := s.resolve(model.ResourceKindVM, editDiskFlagSet.connection, editDiskFlagSet.resource)
	if err != nil {
		s.app.Logger.Fatal(err)
	}

	d := dialog.NewDiskEditDialog(vm.Ref(), editDiskFlagSet.target, s.deps())
	if err := d.Open(s.ctx); err != nil {
		s.app.Logger.Fatal(err)
	}

	if cmd.Flags().Changed("readonly") {
		if err := d.SetReadonly(editDiskFlagSet.readonly); err != nil {
			s.app.Logger.Fatal(err)
		}
	}

	if cmd.Flags().Changed("shareable") {
		if err := d.SetShareable(editDiskFlagSet.shareable); err != nil {
			s.app.Logger.Fatal(err)
		}
	}

	s.submit(d.Controller)
}

// command edit network
type editNetworkFlags struct {
	resourceFlags
	fields map[string]*string
}

var (
	editNetworkFlagSet = &editNetworkFlags{
		fields: map[string]*string{
			dialog.FieldIPv4Address: new(string),
			dialog.FieldIPv4Netmask: new(string),
			dialog.FieldIPv6Address: new(string),
			dialog.FieldIPv6Prefix:  new(string),
		},
	}

	networkFieldFlags = map[string]string{
		dialog.FieldIPv4Address: "ipv4-address",
		dialog.FieldIPv4Netmask: "ipv4-netmask",
		dialog.FieldIPv6Address: "ipv6-address",
		dialog.FieldIPv6Prefix:  "ipv6-prefix",
	}
)

var cmdEditNetwork = &cobra.Command{
	Use:   "network --resource <network> [--ipv4-address ..] [--ipv4-netmask ..] [--ipv6-address ..] [--ipv6-prefix ..]",
	Short: "Edit the first IPv4 and IPv6 addresses of a virtual network, an empty address removes it",
	Run: func(cmd *cobra.Command, args []string) {
		editNetwork(cmd.Context(), cmd)
	},
}

func editNetwork(ctx context.Context, cmd *cobra.Command) {
	s := newSession(ctx)
	defer s.shutdown()

	network, err := s.resolve(model.ResourceKindNetwork, editNetworkFlagSet.connection, editNetworkFlagSet.resource)
	if err != nil {
		s.app.Logger.Fatal(err)
	}

	d := dialog.NewNetworkEditDialog(network.Ref(), s.deps())
	if err := d.Open(s.ctx); err != nil {
		s.app.Logger.Fatal(err)
	}

	for field, flag := range networkFieldFlags {
		if !cmd.Flags().Changed(flag) {
			continue
		}

		if err := d.SetField(field, *editNetworkFlagSet.fields[field]); err != nil {
			s.app.Logger.Fatal(err)
		}
	}

	s.submit(d.Controller)
}

// command edit boot-order
type editBootOrderFlags struct {
	resourceFlags
	devices []string
}

var (
	editBootOrderFlagSet = &editBootOrderFlags{}
)

var cmdEditBootOrder = &cobra.Command{
	Use:   "boot-order --resource <vm> --devices disk/sdb,disk/sda",
	Short: "Set the devices a VM boots from in the given order, devices not listed do not boot",
	Run: func(cmd *cobra.Command, args []string) {
		editBootOrder(cmd.Context())
	},
}

// bootSequence returns the listed devices followed by the remaining entries in their current order.
func bootSequence(entries []model.DeviceRef, listed []string) ([]model.DeviceRef, map[model.DeviceRef]bool, error) {
	seq := []model.DeviceRef{}
	checked := map[model.DeviceRef]bool{}

	for _, s := range listed {
		ref, ok := model.ParseDeviceRef(s)
		if !ok {
			return nil, nil, errors.Wrap(ErrDeviceRef, s)
		}

		if checked[ref] {
			return nil, nil, errors.Wrap(ErrDeviceRef, "listed twice: "+s)
		}

		if !slices.Contains(entries, ref) {
			return nil, nil, errors.Wrap(ErrDeviceRef, "not a device of the VM: "+s)
		}

		checked[ref] = true
		seq = append(seq, ref)
	}

	for _, ref := range entries {
		if !checked[ref] {
			seq = append(seq, ref)
		}
	}

	return seq, checked, nil
}

func editBootOrder(ctx context.Context) {
	s := newSession(ctx)
	defer s.shutdown()

	vm, err := s.resolve(model.ResourceKindVM, editBootOrderFlagSet.connection, editBootOrderFlagSet.resource)
	if err != nil {
		s.app.Logger.Fatal(err)
	}

	d := dialog.NewBootOrderDialog(vm.Ref(), s.deps())
	if err := d.Open(s.ctx); err != nil {
		s.app.Logger.Fatal(err)
	}

	refs := []model.DeviceRef{}
	for _, e := range d.Entries() {
		refs = append(refs, e.Ref())
	}

	seq, checked, err := bootSequence(refs, editBootOrderFlagSet.devices)
	if err != nil {
		s.app.Logger.Fatal(err)
	}

	if err := d.Reorder(seq); err != nil {
		s.app.Logger.Fatal(err)
	}

	for _, ref := range seq {
		if err := d.SetField(ref.String(), checked[ref]); err != nil {
			s.app.Logger.Fatal(err)
		}
	}

	s.submit(d.Controller)
}

func init() {
	editDiskFlagSet.register(cmdEditDisk, "VM")
	cmdEditDisk.PersistentFlags().StringVar(&editDiskFlagSet.target, "target", "", "disk target, sda, vda..")
	cmdEditDisk.PersistentFlags().BoolVar(&editDiskFlagSet.readonly, "readonly", false, "set the disk readonly")
	cmdEditDisk.PersistentFlags().BoolVar(&editDiskFlagSet.shareable, "shareable", false, "set the disk shareable")

	if err := cmdEditDisk.MarkPersistentFlagRequired("target"); err != nil {
		log.Fatal(err)
	}

	editNetworkFlagSet.register(cmdEditNetwork, "network")

	for field, flag := range networkFieldFlags {
		cmdEditNetwork.PersistentFlags().StringVar(editNetworkFlagSet.fields[field], flag, "", field)
	}

	editBootOrderFlagSet.register(cmdEditBootOrder, "VM")
	cmdEditBootOrder.PersistentFlags().StringSliceVar(&editBootOrderFlagSet.devices, "devices", nil, "boot devices in order, as type/key - disk/sda, interface/52:54:00:8c:4a:01, hostdev/usb:0x0951:0x1666")

	cmdEdit.AddCommand(cmdEditDisk)
	cmdEdit.AddCommand(cmdEditNetwork)
	cmdEdit.AddCommand(cmdEditBootOrder)

	rootCmd.AddCommand(cmdEdit)
}
