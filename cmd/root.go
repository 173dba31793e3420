package cmd

import (
	"context"
	"log"

	"github.com/equinix-labs/otel-init-go/otelinit"
	"github.com/google/uuid"
	"github.com/metal-toolbox/vmconsole/internal/app"
	"github.com/metal-toolbox/vmconsole/internal/dialog"
	"github.com/metal-toolbox/vmconsole/internal/gateway"
	"github.com/metal-toolbox/vmconsole/internal/model"
	"github.com/metal-toolbox/vmconsole/internal/refresh"
	"github.com/metal-toolbox/vmconsole/internal/store"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	cfgFile     string
	gatewayKind string
	debug       bool
	trace       bool
)

var (
	ErrResolve = errors.New("error resolving resource")
)

var rootCmd = &cobra.Command{
	Use:   model.AppName,
	Short: "vmconsole edits virtual machines and networks through the management backend",
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func logLevel() int {
	switch {
	case trace:
		return model.LogLevelTrace
	case debug:
		return model.LogLevelDebug
	default:
		return model.LogLevelInfo
	}
}

// session holds the client side collaborators of a command invocation.
type session struct {
	app       *app.App
	repo      *store.MemStore
	client    gateway.Client
	refresher *refresh.Refresher
	ctx       context.Context
	shutdown  func()
}

// newSession loads the configuration, connects the gateway and starts the refresher.
func newSession(ctx context.Context) *session {
	vmconsole, termCh, err := app.New(model.AppKindClient, model.GatewayKind(gatewayKind), cfgFile, logLevel())
	if err != nil {
		log.Fatal(err)
	}

	ctx, otelShutdown := otelinit.InitOpenTelemetry(ctx, model.AppName)

	ctx, cancelFunc := context.WithCancel(ctx)

	// routine listens for termination signal and cancels the context
	go func() {
		<-termCh
		vmconsole.Logger.Info("got TERM signal, exiting...")
		cancelFunc()
	}()

	// snapshots are read from the inventory when one is configured,
	// resources fetched from a remote backend are added on resolve.
	repo, err := store.NewMemStore()
	if err != nil {
		vmconsole.Logger.Fatal(err)
	}

	if vmconsole.Config.Inventory.File != "" {
		repo, err = store.NewYamlInventory(vmconsole.Config.Inventory.File)
		if err != nil {
			vmconsole.Logger.Fatal(err)
		}
	}

	client, err := gateway.New(ctx, vmconsole.Config, repo, vmconsole.Logger)
	if err != nil {
		vmconsole.Logger.Fatal(err)
	}

	refresher := refresh.New(
		client,
		repo,
		refresh.Options{
			Concurrency: vmconsole.Config.Refresh.Concurrency,
			MaxAttempts: vmconsole.Config.Refresh.MaxAttempts,
		},
		vmconsole.Logger,
	)

	refresher.Start(ctx)

	return &session{
		app:       vmconsole,
		repo:      repo,
		client:    client,
		refresher: refresher,
		ctx:       ctx,
		shutdown: func() {
			refresher.StopWait()

			if err := client.Close(); err != nil {
				vmconsole.Logger.WithError(err).Warn("gateway close")
			}

			otelShutdown(ctx)
			cancelFunc()
		},
	}
}

// resolve returns the resource by ID or name, a resource unknown to the
// store is fetched from the backend by its ID.
func (s *session) resolve(kind model.ResourceKind, connection, idOrName string) (*model.Resource, error) {
	res, err := store.Lookup(s.ctx, s.repo, kind, idOrName)
	if err == nil {
		if connection != "" && res.ConnectionName != connection {
			return nil, errors.Wrapf(ErrResolve, "%s is on connection %s", idOrName, res.ConnectionName)
		}

		return res, nil
	}

	if !errors.Is(err, model.ErrResourceNotFound) {
		return nil, err
	}

	id, perr := uuid.Parse(idOrName)
	if perr != nil || connection == "" {
		return nil, errors.Wrap(ErrResolve, "resources not in the inventory are addressed by --connection and ID: "+idOrName)
	}

	res, err = s.client.Resource(s.ctx, model.ResourceRef{ConnectionName: connection, ID: id})
	if err != nil {
		return nil, errors.Wrap(ErrResolve, err.Error())
	}

	if res.Kind != kind {
		return nil, errors.Wrapf(ErrResolve, "%s is a %s", idOrName, res.Kind)
	}

	if err := s.repo.Put(s.ctx, res); err != nil {
		return nil, err
	}

	return res, nil
}

func (s *session) deps() dialog.Deps {
	return dialog.Deps{
		Repository: s.repo,
		Gateway:    s.client,
		Refresher:  s.refresher,
		Logger:     s.app.Logger,
	}
}

// submit submits the dialog and waits for the refresh it triggered.
func (s *session) submit(c *dialog.Controller) {
	le := s.app.Logger.WithField("dialog", string(c.Kind()))

	for _, n := range c.Notices() {
		le.WithField("notice", string(n.Kind)).Warn(n.Message)
	}

	outcome := c.Submit(s.ctx)

	switch outcome {
	case dialog.OutcomeSaved:
		if err := s.refresher.Wait(s.ctx); err != nil {
			le.WithError(err).Warn("refresh wait")
		}

		le.Info("saved")
	case dialog.OutcomeUnchanged:
		le.Info("nothing to save")
	default:
		derr := c.Error()
		if derr == nil {
			le.Fatal("submission " + string(outcome))
		}

		le.WithField("outcome", string(outcome)).Fatal(derr.Error())
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file")
	rootCmd.PersistentFlags().StringVar(&gatewayKind, "gateway", "", "mutation gateway - 'nats', 'http' or 'local'")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "", false, "set debug level logging")
	rootCmd.PersistentFlags().BoolVarP(&trace, "trace", "", false, "set trace level logging")
}
