package cmd

import (
	"context"
	"log"

	"github.com/equinix-labs/otel-init-go/otelinit"
	"github.com/metal-toolbox/vmconsole/internal/app"
	"github.com/metal-toolbox/vmconsole/internal/gateway"
	"github.com/metal-toolbox/vmconsole/internal/metrics"
	"github.com/metal-toolbox/vmconsole/internal/model"
	"github.com/metal-toolbox/vmconsole/internal/store"
	"github.com/metal-toolbox/vmconsole/internal/version"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

var cmdBackend = &cobra.Command{
	Use:   "backend",
	Short: "Serve an inventory as the management backend over NATS",
	Run: func(cmd *cobra.Command, _ []string) {
		runBackend(cmd.Context())
	},
}

func runBackend(ctx context.Context) {
	vmconsole, termCh, err := app.New(model.AppKindBackend, model.GatewayKindNats, cfgFile, logLevel())
	if err != nil {
		log.Fatal(err)
	}

	// serve metrics endpoint
	metrics.ListenAndServe(vmconsole.Config.Metrics.ListenAddress)
	version.ExportBuildInfoMetric()

	ctx, otelShutdown := otelinit.InitOpenTelemetry(ctx, model.AppName+"-backend")
	defer otelShutdown(ctx)

	repo, err := store.NewYamlInventory(vmconsole.Config.Inventory.File)
	if err != nil {
		vmconsole.Logger.Fatal(err)
	}

	opts := []nats.Option{
		nats.Name(model.AppName + "-backend"),
		nats.Timeout(vmconsole.Config.NatsOptions.ConnectTimeout),
	}

	if vmconsole.Config.NatsOptions.CredsFile != "" {
		opts = append(opts, nats.UserCredentials(vmconsole.Config.NatsOptions.CredsFile))
	}

	conn, err := nats.Connect(vmconsole.Config.NatsOptions.URL, opts...)
	if err != nil {
		vmconsole.Logger.Fatal(err)
	}

	defer conn.Close()

	srv, err := gateway.Serve(
		conn,
		vmconsole.Config.NatsOptions.SubjectPrefix,
		gateway.NewLocal(repo, vmconsole.Logger),
		vmconsole.Logger,
	)
	if err != nil {
		vmconsole.Logger.Fatal(err)
	}

	vmconsole.Logger.WithField("inventory", vmconsole.Config.Inventory.File).Info("backend serving")

	select {
	case <-termCh:
		vmconsole.Logger.Info("got TERM signal, exiting...")
	case <-ctx.Done():
	}

	if err := srv.Stop(); err != nil {
		vmconsole.Logger.WithError(err).Warn("backend stop")
	}
}

func init() {
	rootCmd.AddCommand(cmdBackend)
}
