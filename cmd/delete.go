package cmd

import (
	"context"

	"github.com/metal-toolbox/vmconsole/internal/dialog"
	"github.com/metal-toolbox/vmconsole/internal/model"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slices"
)

var cmdDelete = &cobra.Command{
	Use:   "delete",
	Short: "delete resources [vm]",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// command delete vm
type deleteVMFlags struct {
	resourceFlags
	destroy bool
	storage []string
}

var (
	deleteVMFlagSet = &deleteVMFlags{}
)

var cmdDeleteVM = &cobra.Command{
	Use:   "vm --resource <vm> [--destroy] [--storage path,..]",
	Short: "Delete a VM along with the selected storage",
	Long: "Delete a VM. Writable file backed disks are removed with the VM unless --storage lists the paths to remove. " +
		"A running VM is forced off first, --destroy=false refuses to delete it.",
	Run: func(cmd *cobra.Command, args []string) {
		deleteVM(cmd.Context(), cmd)
	},
}

func deleteVM(ctx context.Context, cmd *cobra.Command) {
	s := newSession(ctx)
	defer s.shutdown()

	vm, err := s.resolve(model.ResourceKindVM, deleteVMFlagSet.connection, deleteVMFlagSet.resource)
	if err != nil {
		s.app.Logger.Fatal(err)
	}

	d := dialog.NewDeleteDialog(vm.Ref(), s.deps())
	if err := d.Open(s.ctx); err != nil {
		s.app.Logger.Fatal(err)
	}

	if cmd.Flags().Changed("destroy") {
		if err := d.SetDestroy(deleteVMFlagSet.destroy); err != nil {
			s.app.Logger.Fatal(err)
		}
	}

	if cmd.Flags().Changed("storage") {
		for _, e := range d.Storage() {
			if err := d.SetStorageChecked(e.Path, slices.Contains(deleteVMFlagSet.storage, e.Path)); err != nil {
				s.app.Logger.Fatal(err)
			}
		}

		for _, path := range deleteVMFlagSet.storage {
			if !slices.ContainsFunc(d.Storage(), func(e dialog.StorageEntry) bool { return e.Path == path }) {
				s.app.Logger.Fatal("not a file backed disk of the VM: " + path)
			}
		}
	}

	for _, e := range d.Storage() {
		if e.Checked {
			s.app.Logger.WithField("target", e.Target).Info("storage to be removed: " + e.Path)
		}
	}

	s.submit(d.Controller)
}

func init() {
	deleteVMFlagSet.register(cmdDeleteVM, "VM")
	cmdDeleteVM.PersistentFlags().BoolVar(&deleteVMFlagSet.destroy, "destroy", true, "force off a running VM before deletion")
	cmdDeleteVM.PersistentFlags().StringSliceVar(&deleteVMFlagSet.storage, "storage", nil, "storage paths to remove with the VM")

	cmdDelete.AddCommand(cmdDeleteVM)

	rootCmd.AddCommand(cmdDelete)
}
