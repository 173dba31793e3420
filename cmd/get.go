package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/davecgh/go-spew/spew"
	"github.com/metal-toolbox/vmconsole/internal/listing"
	"github.com/metal-toolbox/vmconsole/internal/model"
	"github.com/spf13/cobra"
)

var cmdGet = &cobra.Command{
	Use:   "get",
	Short: "get resources [vm|disks|networks]",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// resource addressing flags shared by the commands acting on a single resource
type resourceFlags struct {
	connection string
	resource   string
}

func (f *resourceFlags) register(cmd *cobra.Command, what string) {
	cmd.PersistentFlags().StringVar(&f.connection, "connection", "", "backend connection the "+what+" is defined on")
	cmd.PersistentFlags().StringVar(&f.resource, "resource", "", what+" ID or name")

	if err := cmd.MarkPersistentFlagRequired("resource"); err != nil {
		log.Fatal(err)
	}
}

var (
	getVMFlagSet    = &resourceFlags{}
	getDisksFlagSet = &resourceFlags{}
)

var cmdGetVM = &cobra.Command{
	Use:   "vm",
	Short: "Dump the VM attributes",
	Run: func(cmd *cobra.Command, args []string) {
		getVM(cmd.Context())
	},
}

func getVM(ctx context.Context) {
	s := newSession(ctx)
	defer s.shutdown()

	vm, err := s.resolve(model.ResourceKindVM, getVMFlagSet.connection, getVMFlagSet.resource)
	if err != nil {
		s.app.Logger.Fatal(err)
	}

	spew.Dump(vm)
}

var cmdGetDisks = &cobra.Command{
	Use:   "disks",
	Short: "List the disks attached to a VM",
	Run: func(cmd *cobra.Command, args []string) {
		getDisks(cmd.Context())
	},
}

func getDisks(ctx context.Context) {
	s := newSession(ctx)
	defer s.shutdown()

	vm, err := s.resolve(model.ResourceKindVM, getDisksFlagSet.connection, getDisksFlagSet.resource)
	if err != nil {
		s.app.Logger.Fatal(err)
	}

	fmt.Println(listing.DiskTable(listing.DiskRows(vm)))
}

var cmdGetNetworks = &cobra.Command{
	Use:   "networks",
	Short: "List the virtual networks in the inventory",
	Run: func(cmd *cobra.Command, args []string) {
		getNetworks(cmd.Context())
	},
}

func getNetworks(ctx context.Context) {
	s := newSession(ctx)
	defer s.shutdown()

	networks, err := s.repo.Resources(s.ctx, model.ResourceKindNetwork)
	if err != nil {
		s.app.Logger.Fatal(err)
	}

	if !listing.NetworksReady(networks) {
		s.app.Logger.Warn("some networks are not named yet, try again")
		return
	}

	fmt.Println(listing.NetworkTable(listing.NetworkRows(networks)))
}

func init() {
	getVMFlagSet.register(cmdGetVM, "VM")
	getDisksFlagSet.register(cmdGetDisks, "VM")

	cmdGet.AddCommand(cmdGetVM)
	cmdGet.AddCommand(cmdGetDisks)
	cmdGet.AddCommand(cmdGetNetworks)

	rootCmd.AddCommand(cmdGet)
}
